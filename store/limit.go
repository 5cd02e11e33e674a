package store

import (
	"context"

	"golang.org/x/sync/semaphore"

	"github.com/jacentio/docrel/backend"
	"github.com/jacentio/docrel/rows"
)

// limitedTx bounds the backend calls in flight across every task of one
// upsert, nested array writes included. The semaphore is held only for the
// duration of a single call.
type limitedTx struct {
	backend.Tx
	sem *semaphore.Weighted
}

func newLimitedTx(tx backend.Tx, n int) *limitedTx {
	return &limitedTx{Tx: tx, sem: semaphore.NewWeighted(int64(n))}
}

func (t *limitedTx) Insert(ctx context.Context, table string, rs []rows.Row) ([]rows.Row, error) {
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer t.sem.Release(1)
	return t.Tx.Insert(ctx, table, rs)
}

func (t *limitedTx) Upsert(ctx context.Context, table string, row rows.Row, target []string, where []backend.Filter) (rows.Row, bool, error) {
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return nil, false, err
	}
	defer t.sem.Release(1)
	return t.Tx.Upsert(ctx, table, row, target, where)
}

func (t *limitedTx) Delete(ctx context.Context, table string, where ...backend.Filter) (int64, error) {
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return 0, err
	}
	defer t.sem.Release(1)
	return t.Tx.Delete(ctx, table, where...)
}

func (t *limitedTx) Select(ctx context.Context, table string, where []backend.Filter, order ...backend.Order) ([]rows.Row, error) {
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer t.sem.Release(1)
	return t.Tx.Select(ctx, table, where, order...)
}
