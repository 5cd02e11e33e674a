// Package backend defines the relational execution layer docrel writes
// through. Implementations live in sub-packages.
package backend

import (
	"context"

	"github.com/jacentio/docrel/rows"
)

// Conn opens transactions against a store.
type Conn interface {
	Begin(ctx context.Context) (Tx, error)
}

// Tx is a transaction. Implementations must allow concurrent calls from
// several goroutines; docrel fans independent table writes out in parallel.
type Tx interface {
	// Insert adds rows to table and returns them as stored. Rows without an id
	// are assigned one.
	Insert(ctx context.Context, table string, rs []rows.Row) ([]rows.Row, error)

	// Upsert inserts row, or, when a row with equal values in the target
	// columns exists and matches every where filter, overwrites that row's
	// columns with row's. It returns the stored row, or ok=false when a
	// conflicting row exists but was not overwritten.
	Upsert(ctx context.Context, table string, row rows.Row, target []string, where []Filter) (stored rows.Row, ok bool, err error)

	// Delete removes rows matching every filter, together with the rows that
	// depend on them. It returns the number of rows removed from table.
	Delete(ctx context.Context, table string, where ...Filter) (int64, error)

	// Select returns rows matching every filter, ordered by order.
	Select(ctx context.Context, table string, where []Filter, order ...Order) ([]rows.Row, error)

	Commit() error
	Rollback() error
}

// Op is a filter operator.
type Op int

const (
	// OpEq matches a column equal to Value.
	OpEq Op = iota
	// OpIn matches a column equal to any element of Values.
	OpIn
	// OpPrefix matches a string column starting with Value.
	OpPrefix
	// OpNull matches a column that is absent or nil.
	OpNull
)

// Filter is a predicate over one column.
// It is a sealed value type constructed via Eq, In, Prefix and IsNull.
type Filter struct {
	column string
	op     Op
	value  any
	values []any
}

func (f Filter) Column() string { return f.column }
func (f Filter) Op() Op         { return f.op }
func (f Filter) Value() any     { return f.value }
func (f Filter) Values() []any  { return f.values }

// Eq creates a filter checking equality.
func Eq(column string, value any) Filter {
	return Filter{column: column, op: OpEq, value: value}
}

// In creates a filter checking membership.
func In[T any](column string, values []T) Filter {
	vs := make([]any, len(values))
	for i, v := range values {
		vs[i] = v
	}
	return Filter{column: column, op: OpIn, values: vs}
}

// Prefix creates a filter checking a string prefix.
func Prefix(column, prefix string) Filter {
	return Filter{column: column, op: OpPrefix, value: prefix}
}

// IsNull creates a filter matching absent or nil values.
func IsNull(column string) Filter {
	return Filter{column: column, op: OpNull}
}

// Order is a sort order for Select.
type Order struct {
	Column string
	Desc   bool
}

// Asc orders by column ascending.
func Asc(column string) Order { return Order{Column: column} }
