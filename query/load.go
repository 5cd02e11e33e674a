package query

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/jacentio/docrel/backend"
	"github.com/jacentio/docrel/rows"
)

// Load reads the rows of d.Table matching where, then every dependent table
// one level at a time, batching each level's parents into a single select.
// Independent dependent tables are read concurrently.
func Load(ctx context.Context, tx backend.Tx, d *Descriptor, where ...backend.Filter) ([]*Result, error) {
	rs, err := tx.Select(ctx, d.Table, where)
	if err != nil {
		return nil, err
	}
	results := wrap(d.Table, rs)
	if err := loadWith(ctx, tx, d, results); err != nil {
		return nil, err
	}
	if err := populate(ctx, tx, d, results); err != nil {
		return nil, err
	}
	return results, nil
}

func wrap(table string, rs []rows.Row) []*Result {
	out := make([]*Result, len(rs))
	for i, r := range rs {
		out[i] = &Result{Table: table, Row: r, With: map[string][]*Result{}}
	}
	return out
}

func loadWith(ctx context.Context, tx backend.Tx, d *Descriptor, parents []*Result) error {
	if len(parents) == 0 || len(d.With) == 0 {
		return nil
	}
	ids := make([]string, 0, len(parents))
	byID := make(map[string]*Result, len(parents))
	for _, p := range parents {
		ids = append(ids, p.ID())
		byID[p.ID()] = p
	}

	// Each relation fills its own slot; results are attached after the join
	// so parents' maps are only written by one goroutine.
	loaded := make([][]*Result, len(d.With))
	g, ctx := errgroup.WithContext(ctx)
	for i, rel := range d.With {
		g.Go(func() error {
			var order []backend.Order
			if rel.Order != "" {
				order = append(order, backend.Asc(rel.Order))
			}
			rs, err := tx.Select(ctx, rel.Table, []backend.Filter{backend.In(rel.Column, ids)}, order...)
			if err != nil {
				return err
			}
			children := wrap(rel.Table, rs)
			if err := loadWith(ctx, tx, rel.Descriptor, children); err != nil {
				return err
			}
			if err := populate(ctx, tx, rel.Descriptor, children); err != nil {
				return err
			}
			loaded[i] = children
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, rel := range d.With {
		for _, child := range loaded[i] {
			parent, ok := byID[child.Row.String(rel.Column)]
			if !ok {
				continue
			}
			parent.With[rel.Table] = append(parent.With[rel.Table], child)
		}
	}
	return nil
}

// populate attaches referenced documents to relationship rows.
func populate(ctx context.Context, tx backend.Tx, d *Descriptor, refs []*Result) error {
	for _, target := range sortedTargets(d.Populate) {
		col := rows.TargetColumn(target)
		var ids []string
		for _, r := range refs {
			if id := r.Row.String(col); id != "" {
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			continue
		}
		docs, err := Load(ctx, tx, d.Populate[target], backend.In(rows.ColID, ids))
		if err != nil {
			return err
		}
		byID := make(map[string]*Result, len(docs))
		for _, doc := range docs {
			byID[doc.ID()] = doc
		}
		for _, r := range refs {
			if doc, ok := byID[r.Row.String(col)]; ok {
				r.With[target] = []*Result{doc}
			}
		}
	}
	return nil
}

func sortedTargets(m map[string]*Descriptor) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
