// Package rows defines the flat row shapes docrel writes to and reads from the
// relational store.
package rows

// ID is the identity of a stored row. Backends generate one when a row is
// inserted without an id.
type ID = string

// Row is a flat column name to scalar value mapping for one table.
type Row map[string]any

// Reserved column names. These must match existing stores exactly.
const (
	ColID = "id"

	// Array, block and locale rows.
	ColParentID = "_parentID"
	ColOrder    = "_order"
	ColLocale   = "_locale"
	ColPath     = "_path"

	// ColBlockName is an optional label stored on block rows.
	ColBlockName = "blockName"

	// Relationship, number and select rows.
	ColParent    = "parent"
	ColRelPath   = "path"
	ColRelOrder  = "order"
	ColRelLocale = "locale"
	ColNumber    = "number"
	ColValue     = "value"
)

// TargetColumn returns the relationship column holding a reference to rows of
// targetTable.
func TargetColumn(targetTable string) string {
	return targetTable + "ID"
}

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// ID returns the row's identity, or "" when unset or not a string.
func (r Row) ID() ID {
	if id, ok := r[ColID].(string); ok {
		return id
	}
	return ""
}

// String returns the string stored in column, or "".
func (r Row) String(column string) string {
	if s, ok := r[column].(string); ok {
		return s
	}
	return ""
}
