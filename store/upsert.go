package store

import (
	"context"
	"errors"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/jacentio/docrel/backend"
	"github.com/jacentio/docrel/rows"
	"github.com/jacentio/docrel/schema"
)

// upsert holds the state of one write after the base row is resolved. Tasks
// share it read-only, apart from the disjoint row sets each one owns.
type upsert struct {
	store  *Store
	tx     backend.Tx
	layout *schema.Layout
	rti    *rows.RowToInsert
	id     string
	update bool
}

// Columns of relationship, number and select rows.
var hoistedColumns = pathColumns{parent: rows.ColParent, path: rows.ColRelPath, locale: rows.ColRelLocale}

// Columns of block rows.
var blockColumns = pathColumns{parent: rows.ColParentID, path: rows.ColPath, locale: rows.ColLocale}

// run attaches the base id to every hoisted row, then writes each dependent
// table as a concurrent task. The first failure cancels the others.
func (u *upsert) run(ctx context.Context) error {
	setColumn(u.rti.Relationships, rows.ColParent, u.id)
	setColumn(u.rti.Numbers, rows.ColParent, u.id)
	for _, rs := range u.rti.Selects {
		setColumn(rs, rows.ColParent, u.id)
	}
	for _, els := range u.rti.Blocks {
		for _, el := range els {
			el.Row[rows.ColParentID] = u.id
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(u.store.config.MaxConcurrency)

	if t := u.layout.Locales; t != nil {
		u.spawn(ctx, g, "locales", t.Name, u.locales)
	}
	if t := u.layout.Relationships; t != nil {
		u.spawn(ctx, g, "relationships", t.Name, func(ctx context.Context, table string) error {
			return u.hoisted(ctx, table, u.rti.Relationships, u.rti.RelationshipsToDelete)
		})
	}
	if t := u.layout.Numbers; t != nil {
		u.spawn(ctx, g, "numbers", t.Name, func(ctx context.Context, table string) error {
			return u.hoisted(ctx, table, u.rti.Numbers, u.rti.NumbersToDelete)
		})
	}
	for _, t := range u.layout.BlockTables() {
		if !u.update && len(u.rti.Blocks[t.Name]) == 0 {
			continue
		}
		u.spawn(ctx, g, "blocks", t.Name, u.blocks)
	}
	if len(u.rti.Arrays) > 0 {
		u.spawn(ctx, g, "arrays", u.layout.Base.Name, u.arrays)
	}
	for _, table := range sortedKeys(u.rti.Selects) {
		if !u.update && len(u.rti.Selects[table]) == 0 {
			continue
		}
		u.spawn(ctx, g, "selects", table, u.selects)
	}
	return g.Wait()
}

// spawn runs fn as a task of g, traced and wrapped in a TaskError unless fn
// already names the failing table.
func (u *upsert) spawn(ctx context.Context, g *errgroup.Group, task, table string, fn func(context.Context, string) error) {
	g.Go(func() error {
		ctx, span := tracer.Start(ctx, "docrel.task."+task, trace.WithAttributes(attribute.String("table", table)))
		defer span.End()

		u.store.logger.Debug("docrel: task", "task", task, "table", table, "id", u.id)
		if err := fn(ctx, table); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			u.store.config.Metrics.taskFailed(task)
			var taskErr *TaskError
			if errors.As(err, &taskErr) {
				return err
			}
			return &TaskError{Task: task, Table: table, Err: err}
		}
		return nil
	})
}

func (u *upsert) locales(ctx context.Context, table string) error {
	if u.update {
		if _, err := u.tx.Delete(ctx, table, backend.Eq(rows.ColParentID, u.id)); err != nil {
			return err
		}
	}
	rs := localeRows(u.rti.Locales, u.id)
	if len(rs) == 0 {
		return nil
	}
	_, err := u.tx.Insert(ctx, table, rs)
	return err
}

// hoisted writes relationship or number rows: on update the paths of the new
// rows, the deletion markers and the replaced subtrees are pruned first.
func (u *upsert) hoisted(ctx context.Context, table string, rs, markers []rows.Row) error {
	if u.update {
		scope := append(append([]rows.Row(nil), rs...), markers...)
		if err := pruneByPath(ctx, u.tx, table, hoistedColumns, u.id, scope, u.rti.PrunePrefixes); err != nil {
			return err
		}
	}
	if len(rs) == 0 {
		return nil
	}
	_, err := u.tx.Insert(ctx, table, rs)
	return err
}

func (u *upsert) blocks(ctx context.Context, table string) error {
	els := u.rti.Blocks[table]
	if u.update {
		scope := append([]rows.Row(nil), u.rti.BlocksToDelete[table]...)
		for _, el := range els {
			scope = append(scope, el.Row)
		}
		if err := pruneByPath(ctx, u.tx, table, blockColumns, u.id, scope, u.rti.PrunePrefixes); err != nil {
			return err
		}
	}
	if len(els) == 0 {
		return nil
	}

	rs := make([]rows.Row, len(els))
	for i, el := range els {
		rs[i] = el.Row
	}
	stored, err := u.tx.Insert(ctx, table, rs)
	if err != nil {
		return err
	}
	if err := checkReturned(table, len(stored), len(els)); err != nil {
		return err
	}

	ids := make([]string, len(els))
	arrays := make([]map[string][]*rows.ArrayRowToInsert, len(els))
	var locales []rows.Row
	for i, el := range els {
		ids[i] = stored[i].ID()
		el.Row[rows.ColID] = ids[i]
		arrays[i] = el.Arrays
		locales = append(locales, localeRows(el.Locales, ids[i])...)
	}
	if len(locales) > 0 {
		if _, err := u.tx.Insert(ctx, schema.LocalesTableName(table), locales); err != nil {
			return err
		}
	}
	return u.insertArrays(ctx, ids, arrays)
}

// arrays clears every root-level array table for the document, then inserts
// the new rows.
func (u *upsert) arrays(ctx context.Context, _ string) error {
	if u.update {
		for _, table := range sortedKeys(u.rti.Arrays) {
			if _, err := u.tx.Delete(ctx, table, backend.Eq(rows.ColParentID, u.id)); err != nil {
				return &TaskError{Task: "arrays", Table: table, Err: err}
			}
		}
	}
	return u.insertArrays(ctx, []string{u.id}, []map[string][]*rows.ArrayRowToInsert{u.rti.Arrays})
}

func (u *upsert) selects(ctx context.Context, table string) error {
	if u.update {
		if _, err := u.tx.Delete(ctx, table, backend.Eq(rows.ColParent, u.id)); err != nil {
			return err
		}
	}
	rs := u.rti.Selects[table]
	if len(rs) == 0 {
		return nil
	}
	_, err := u.tx.Insert(ctx, table, rs)
	return err
}

func setColumn(rs []rows.Row, col string, v any) {
	for _, r := range rs {
		r[col] = v
	}
}

// localeRows returns the non-empty locale rows in locale order, owned by
// parentID.
func localeRows(locales map[string]rows.Row, parentID string) []rows.Row {
	nonEmpty := rows.NonEmptyLocales(locales)
	out := make([]rows.Row, 0, len(nonEmpty))
	for _, code := range sortedKeys(nonEmpty) {
		r := nonEmpty[code]
		r[rows.ColParentID] = parentID
		out = append(out, r)
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
