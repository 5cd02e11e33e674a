// Package query builds and executes read descriptors: the set of dependent
// tables to fetch when reconstructing a document.
package query

import (
	"fmt"

	"github.com/jacentio/docrel/rows"
	"github.com/jacentio/docrel/schema"
)

// Descriptor describes how to read the rows of one table and everything that
// depends on them.
type Descriptor struct {
	// Table is the table read at this level.
	Table string

	// With lists the dependent tables, in registry order.
	With []*Relation

	// Populate maps a relationship target collection to the descriptor its
	// referenced documents are read with. Only set on relationship tables,
	// and only when the requested depth is positive.
	Populate map[string]*Descriptor
}

// Relation is a dependent table joined on its parent column.
type Relation struct {
	// Column is the column of the dependent table holding the parent id.
	Column string

	// Order is the column rows are sorted by, or "" for unordered tables.
	Order string

	*Descriptor
}

// Build returns the read descriptor of a collection. When depth is positive,
// relationship targets are populated with descriptors built at depth-1.
func Build(reg *schema.Registry, collection string, depth int) (*Descriptor, error) {
	layout, err := reg.Layout(collection)
	if err != nil {
		return nil, err
	}
	d := describe(reg, layout.Base.Name)
	if depth <= 0 || layout.Relationships == nil {
		return d, nil
	}

	rel := d.relation(layout.Relationships.Name)
	if rel == nil {
		return nil, fmt.Errorf("%w: %s", schema.ErrUnknownTable, layout.Relationships.Name)
	}
	rel.Populate = make(map[string]*Descriptor)
	for _, target := range reg.Collections() {
		if !layout.Relationships.HasColumn(rows.TargetColumn(target)) {
			continue
		}
		td, err := Build(reg, target, depth-1)
		if err != nil {
			return nil, err
		}
		rel.Populate[target] = td
	}
	return d, nil
}

func describe(reg *schema.Registry, table string) *Descriptor {
	d := &Descriptor{Table: table}
	for _, edge := range reg.ChildrenOf(table) {
		child, err := reg.Table(edge.ChildTable)
		if err != nil {
			continue
		}
		d.With = append(d.With, &Relation{
			Column:     edge.ParentColumn,
			Order:      child.OrderColumn(),
			Descriptor: describe(reg, edge.ChildTable),
		})
	}
	return d
}

func (d *Descriptor) relation(table string) *Relation {
	for _, r := range d.With {
		if r.Table == table {
			return r
		}
	}
	return nil
}

// Tables returns every table the descriptor reads, including populated
// targets, depth first.
func (d *Descriptor) Tables() []string {
	var out []string
	var walk func(d *Descriptor)
	walk = func(d *Descriptor) {
		out = append(out, d.Table)
		for _, r := range d.With {
			walk(r.Descriptor)
		}
		for _, target := range sortedTargets(d.Populate) {
			walk(d.Populate[target])
		}
	}
	walk(d)
	return out
}

// Result is one row read by Load together with its dependent rows.
type Result struct {
	Table string
	Row   rows.Row

	// With maps a dependent table to the rows owned by Row, in order. On
	// relationship rows with populated targets, it also maps the target
	// collection to the referenced document.
	With map[string][]*Result
}

// Children returns the rows of table owned by r.
func (r *Result) Children(table string) []*Result {
	if r == nil {
		return nil
	}
	return r.With[table]
}

// ID returns the row's identity.
func (r *Result) ID() rows.ID {
	return r.Row.ID()
}
