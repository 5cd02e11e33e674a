package store

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/jacentio/docrel/rows"
	"github.com/jacentio/docrel/schema"
)

// insertArrays inserts the array rows owned by each parent: parents[i] owns
// collections[i]. Each table's rows are inserted in order, then their locale
// rows and nested arrays, so a parent row always exists before its children.
// Independent parents and tables are written concurrently. A failure is
// reported as a TaskError naming the array table that failed.
func (u *upsert) insertArrays(ctx context.Context, parents []string, collections []map[string][]*rows.ArrayRowToInsert) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(u.store.config.MaxConcurrency)
	for i, arrays := range collections {
		parentID := parents[i]
		for _, table := range sortedKeys(arrays) {
			els := arrays[table]
			if len(els) == 0 {
				continue
			}
			g.Go(func() error {
				err := u.insertArrayTable(ctx, parentID, table, els)
				var taskErr *TaskError
				if err == nil || errors.As(err, &taskErr) {
					return err
				}
				return &TaskError{Task: "arrays", Table: table, Err: err}
			})
		}
	}
	return g.Wait()
}

func (u *upsert) insertArrayTable(ctx context.Context, parentID, table string, els []*rows.ArrayRowToInsert) error {
	rs := make([]rows.Row, len(els))
	for i, el := range els {
		el.Row[rows.ColParentID] = parentID
		rs[i] = el.Row
	}
	stored, err := u.tx.Insert(ctx, table, rs)
	if err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	if err := checkReturned(table, len(stored), len(els)); err != nil {
		return err
	}

	ids := make([]string, len(els))
	nested := make([]map[string][]*rows.ArrayRowToInsert, len(els))
	var locales []rows.Row
	for i, el := range els {
		ids[i] = stored[i].ID()
		el.Row[rows.ColID] = ids[i]
		nested[i] = el.Arrays
		locales = append(locales, localeRows(el.Locales, ids[i])...)
	}
	if len(locales) > 0 {
		localesTable := schema.LocalesTableName(table)
		if _, err := u.tx.Insert(ctx, localesTable, locales); err != nil {
			return fmt.Errorf("insert %s: %w", localesTable, err)
		}
	}
	return u.insertArrays(ctx, ids, nested)
}

func checkReturned(table string, got, want int) error {
	if got != want {
		return fmt.Errorf("insert %s returned %d rows, want %d", table, got, want)
	}
	return nil
}
