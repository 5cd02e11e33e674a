// Package memory provides a transactional in-memory backend. Transactions are
// serialised: Begin blocks until the previous transaction finishes. Deletes
// cascade along the registry's ownership edges.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/jacentio/docrel/backend"
	"github.com/jacentio/docrel/rows"
	"github.com/jacentio/docrel/schema"
)

// DB is an in-memory store for the tables of a registry.
type DB struct {
	registry *schema.Registry

	// sem holds a token for the lifetime of a transaction.
	sem chan struct{}

	mu     sync.Mutex
	tables map[string][]rows.Row
}

// New creates an empty store for the tables of registry.
func New(registry *schema.Registry) *DB {
	tables := make(map[string][]rows.Row)
	for _, t := range registry.Tables() {
		tables[t.Name] = nil
	}
	return &DB{registry: registry, tables: tables, sem: make(chan struct{}, 1)}
}

// Begin starts a transaction, waiting for any running transaction to finish.
func (db *DB) Begin(ctx context.Context) (backend.Tx, error) {
	select {
	case db.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	db.mu.Lock()
	snapshot := make(map[string][]rows.Row, len(db.tables))
	for name, rs := range db.tables {
		snapshot[name] = rs
	}
	db.mu.Unlock()

	return &tx{db: db, tables: snapshot, owned: map[string]bool{}}, nil
}

// Rows returns a copy of every committed row of table. Intended for tests and
// debugging.
func (db *DB) Rows(table string) []rows.Row {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]rows.Row, len(db.tables[table]))
	for i, r := range db.tables[table] {
		out[i] = r.Clone()
	}
	return out
}

type tx struct {
	db *DB

	mu     sync.Mutex
	done   bool
	tables map[string][]rows.Row

	// owned marks tables whose slice was copied by this transaction.
	owned map[string]bool
}

func (t *tx) check(table string) (*schema.Table, error) {
	if t.done {
		return nil, backend.ErrTxDone
	}
	def, err := t.db.registry.Table(table)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", backend.ErrUnknownTable, table)
	}
	return def, nil
}

// writable returns the transaction's private copy of table.
func (t *tx) writable(table string) []rows.Row {
	if !t.owned[table] {
		src := t.tables[table]
		cp := make([]rows.Row, len(src))
		copy(cp, src)
		t.tables[table] = cp
		t.owned[table] = true
	}
	return t.tables[table]
}

func (t *tx) Insert(_ context.Context, table string, rs []rows.Row) ([]rows.Row, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	def, err := t.check(table)
	if err != nil {
		return nil, err
	}
	out := make([]rows.Row, 0, len(rs))
	for _, r := range rs {
		stored, err := t.insertOne(def, r)
		if err != nil {
			return nil, err
		}
		out = append(out, stored.Clone())
	}
	return out, nil
}

func (t *tx) insertOne(def *schema.Table, r rows.Row) (rows.Row, error) {
	stored := r.Clone()
	if stored.ID() == "" {
		stored[rows.ColID] = uuid.NewString()
	}
	if err := t.validate(def, stored, nil); err != nil {
		return nil, err
	}
	t.tables[def.Name] = append(t.writable(def.Name), stored)
	return stored, nil
}

// validate checks columns and unique constraints of candidate. self is the
// row being overwritten, if any.
func (t *tx) validate(def *schema.Table, candidate rows.Row, self rows.Row) error {
	for col := range candidate {
		if !def.HasColumn(col) {
			return fmt.Errorf("%w: %s.%s", backend.ErrUnknownColumn, def.Name, col)
		}
	}
	for _, col := range def.Columns {
		if col.Name != rows.ColID && !col.Unique {
			continue
		}
		v, ok := candidate[col.Name]
		if !ok || v == nil {
			continue
		}
		for _, existing := range t.tables[def.Name] {
			if self != nil && existing.ID() == self.ID() {
				continue
			}
			if backend.Match(existing, []backend.Filter{backend.Eq(col.Name, v)}) {
				return fmt.Errorf("%w: %s.%s", backend.ErrUniqueViolation, def.Name, col.Name)
			}
		}
	}
	return nil
}

func (t *tx) Upsert(_ context.Context, table string, row rows.Row, target []string, where []backend.Filter) (rows.Row, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	def, err := t.check(table)
	if err != nil {
		return nil, false, err
	}
	if len(target) == 0 {
		target = []string{rows.ColID}
	}

	conflict := make([]backend.Filter, 0, len(target))
	for _, col := range target {
		v, ok := row[col]
		if !ok || v == nil {
			conflict = nil
			break
		}
		conflict = append(conflict, backend.Eq(col, v))
	}

	if conflict != nil {
		current := t.writable(table)
		for i, existing := range current {
			if !backend.Match(existing, conflict) {
				continue
			}
			if !backend.Match(existing, where) {
				return nil, false, nil
			}
			updated := existing.Clone()
			for k, v := range row {
				if k == rows.ColID && existing.ID() != "" {
					continue
				}
				updated[k] = v
			}
			if err := t.validate(def, updated, existing); err != nil {
				return nil, false, err
			}
			current[i] = updated
			return updated.Clone(), true, nil
		}
	}

	stored, err := t.insertOne(def, row)
	if err != nil {
		return nil, false, err
	}
	return stored.Clone(), true, nil
}

func (t *tx) Delete(_ context.Context, table string, where ...backend.Filter) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.check(table); err != nil {
		return 0, err
	}
	return t.deleteWhere(table, where), nil
}

// deleteWhere removes matching rows and cascades to dependent tables.
func (t *tx) deleteWhere(table string, where []backend.Filter) int64 {
	current := t.tables[table]
	var kept []rows.Row
	var removed []string
	for _, r := range current {
		if backend.Match(r, where) {
			removed = append(removed, r.ID())
			continue
		}
		kept = append(kept, r)
	}
	if len(removed) == 0 {
		return 0
	}
	t.tables[table] = kept
	t.owned[table] = true

	for _, rel := range t.db.registry.ChildrenOf(table) {
		t.deleteWhere(rel.ChildTable, []backend.Filter{backend.In(rel.ParentColumn, removed)})
	}
	return int64(len(removed))
}

func (t *tx) Select(_ context.Context, table string, where []backend.Filter, order ...backend.Order) ([]rows.Row, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.check(table); err != nil {
		return nil, err
	}
	var out []rows.Row
	for _, r := range t.tables[table] {
		if backend.Match(r, where) {
			out = append(out, r.Clone())
		}
	}
	backend.Sort(out, order)
	return out, nil
}

func (t *tx) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return backend.ErrTxDone
	}
	t.done = true

	t.db.mu.Lock()
	for name := range t.owned {
		t.db.tables[name] = t.tables[name]
	}
	t.db.mu.Unlock()

	<-t.db.sem
	return nil
}

func (t *tx) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return backend.ErrTxDone
	}
	t.done = true
	<-t.db.sem
	return nil
}
