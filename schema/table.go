package schema

import "github.com/jacentio/docrel/rows"

// TableKind classifies a derived table.
type TableKind int

const (
	TableBase TableKind = iota
	TableLocales
	TableRelationships
	TableNumbers
	TableSelect
	TableBlock
	TableArray
)

func (k TableKind) String() string {
	switch k {
	case TableBase:
		return "base"
	case TableLocales:
		return "locales"
	case TableRelationships:
		return "relationships"
	case TableNumbers:
		return "numbers"
	case TableSelect:
		return "select"
	case TableBlock:
		return "block"
	case TableArray:
		return "array"
	}
	return "unknown"
}

// TableID is the structured identity of a table: the collection it belongs to,
// its kind, and its derived name.
type TableID struct {
	Base string
	Kind TableKind
	Name string
}

// ColumnType is the storage type of a column.
type ColumnType int

const (
	ColumnText ColumnType = iota
	ColumnNumeric
	ColumnBool
	ColumnJSON
)

func (t ColumnType) String() string {
	switch t {
	case ColumnText:
		return "text"
	case ColumnNumeric:
		return "numeric"
	case ColumnBool:
		return "bool"
	case ColumnJSON:
		return "json"
	}
	return "unknown"
}

// Column describes one column of a table.
type Column struct {
	Name    string
	Type    ColumnType
	Unique  bool
	NotNull bool
}

// Table is a relational table derived from a collection.
type Table struct {
	ID      TableID
	Name    string
	Columns []Column

	// ParentTable and ParentColumn name the owning table and the column
	// holding the owner's id. Empty for base tables.
	ParentTable  string
	ParentColumn string

	// Localized array tables carry a locale column on every row.
	Localized bool

	columnIndex map[string]int
}

func newTable(id TableID, parent, parentColumn string) *Table {
	t := &Table{
		ID:           id,
		Name:         id.Name,
		ParentTable:  parent,
		ParentColumn: parentColumn,
		columnIndex:  map[string]int{},
	}
	t.addColumn(Column{Name: rows.ColID, Type: ColumnText, NotNull: true})
	if parentColumn != "" {
		t.addColumn(Column{Name: parentColumn, Type: ColumnText, NotNull: true})
	}
	return t
}

// addColumn adds c unless a column with the same name exists. It reports
// whether the column was added.
func (t *Table) addColumn(c Column) bool {
	if _, ok := t.columnIndex[c.Name]; ok {
		return false
	}
	t.columnIndex[c.Name] = len(t.Columns)
	t.Columns = append(t.Columns, c)
	return true
}

// Column returns the column with the given name.
func (t *Table) Column(name string) (Column, bool) {
	i, ok := t.columnIndex[name]
	if !ok {
		return Column{}, false
	}
	return t.Columns[i], true
}

// HasColumn reports whether the table has a column named name.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.columnIndex[name]
	return ok
}

// OrderColumn returns the column sequence positions are stored in, or "" for
// tables without ordering.
func (t *Table) OrderColumn() string {
	switch t.ID.Kind {
	case TableArray, TableBlock:
		return rows.ColOrder
	case TableRelationships, TableNumbers, TableSelect:
		return rows.ColRelOrder
	}
	return ""
}
