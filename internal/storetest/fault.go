package storetest

import (
	"context"
	"sync"

	"github.com/jacentio/docrel/backend"
	"github.com/jacentio/docrel/rows"
)

// FaultConn wraps a backend.Conn and fails operations on chosen tables.
type FaultConn struct {
	backend.Conn

	mu         sync.Mutex
	failInsert map[string]error
	failSelect map[string]error
}

// NewFaultConn wraps conn without any injected failure.
func NewFaultConn(conn backend.Conn) *FaultConn {
	return &FaultConn{
		Conn:       conn,
		failInsert: map[string]error{},
		failSelect: map[string]error{},
	}
}

// FailInsert makes every insert into table return err.
func (c *FaultConn) FailInsert(table string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failInsert[table] = err
}

// FailSelect makes every select from table return err.
func (c *FaultConn) FailSelect(table string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failSelect[table] = err
}

// Reset removes every injected failure.
func (c *FaultConn) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failInsert = map[string]error{}
	c.failSelect = map[string]error{}
}

func (c *FaultConn) insertErr(table string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failInsert[table]
}

func (c *FaultConn) selectErr(table string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failSelect[table]
}

// Begin starts a transaction on the wrapped Conn.
func (c *FaultConn) Begin(ctx context.Context) (backend.Tx, error) {
	tx, err := c.Conn.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &faultTx{Tx: tx, conn: c}, nil
}

type faultTx struct {
	backend.Tx
	conn *FaultConn
}

func (t *faultTx) Insert(ctx context.Context, table string, rs []rows.Row) ([]rows.Row, error) {
	if err := t.conn.insertErr(table); err != nil {
		return nil, err
	}
	return t.Tx.Insert(ctx, table, rs)
}

func (t *faultTx) Select(ctx context.Context, table string, where []backend.Filter, order ...backend.Order) ([]rows.Row, error) {
	if err := t.conn.selectErr(table); err != nil {
		return nil, err
	}
	return t.Tx.Select(ctx, table, where, order...)
}
