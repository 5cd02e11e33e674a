package schema

import (
	"fmt"
	"reflect"
	"regexp"

	"github.com/jacentio/docrel/rows"
)

// Relationship is an ownership edge between a table and a dependent table.
type Relationship struct {
	// ParentTable is the owning table (e.g., "pages").
	ParentTable string

	// ChildTable is the dependent table (e.g., "pages_locales").
	ChildTable string

	// ParentColumn is the column in the child holding the parent's id
	// (e.g., "_parentID").
	ParentColumn string
}

// BlockVariant is one member of the block sum type of a collection.
type BlockVariant struct {
	Slug   string
	Table  *Table
	Fields []Field
}

// Layout is the set of tables derived from one collection.
type Layout struct {
	Collection Collection
	Base       *Table

	// Locales, Relationships and Numbers are nil when no field needs them.
	Locales       *Table
	Relationships *Table
	Numbers       *Table

	// Blocks maps a block slug to its variant.
	Blocks map[string]*BlockVariant

	// Arrays lists the root-level array tables.
	Arrays []*Table

	// Selects lists every hasMany select table, at any depth.
	Selects []*Table
}

// BlockTables returns the block tables of the collection in slug order of
// first appearance.
func (l *Layout) BlockTables() []*Table {
	out := make([]*Table, 0, len(l.Blocks))
	for _, slug := range l.blockOrder() {
		out = append(out, l.Blocks[slug].Table)
	}
	return out
}

func (l *Layout) blockOrder() []string {
	var order []string
	seen := map[string]bool{}
	var walk func(fields []Field)
	walk = func(fields []Field) {
		for _, f := range fields {
			switch f.Kind {
			case KindGroup, KindArray:
				walk(f.Fields)
			case KindBlocks:
				for _, b := range f.Blocks {
					if !seen[b.Slug] {
						seen[b.Slug] = true
						order = append(order, b.Slug)
					}
					walk(b.Fields)
				}
			}
		}
	}
	walk(l.Collection.Fields)
	return order
}

// Registry holds every table derived from a set of collections. It is built
// once and is read-only afterwards, so it is safe for concurrent use.
type Registry struct {
	config        Config
	layouts       map[string]*Layout
	order         []string
	tables        map[string]*Table
	byID          map[TableID]*Table
	tableOrder    []*Table
	relationships []Relationship
	byParent      map[string][]Relationship
}

var identRE = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// reserved field names are keys the composed document uses itself.
var reserved = map[string]bool{
	rows.ColID:        true,
	"blockType":       true,
	rows.ColBlockName: true,
}

// NewRegistry builds and validates the table layout of the given collections.
// Configuration problems are reported here rather than at write time.
func NewRegistry(config Config, collections ...Collection) (*Registry, error) {
	config.validate()
	r := &Registry{
		config:   config,
		layouts:  make(map[string]*Layout),
		tables:   make(map[string]*Table),
		byID:     make(map[TableID]*Table),
		byParent: make(map[string][]Relationship),
	}

	// Base tables first so every parent precedes its children.
	for _, c := range collections {
		if !identRE.MatchString(c.Slug) {
			return nil, fmt.Errorf("%w: collection slug %q", ErrInvalidSchema, c.Slug)
		}
		if _, ok := r.layouts[c.Slug]; ok {
			return nil, fmt.Errorf("%w: duplicate collection %q", ErrInvalidSchema, c.Slug)
		}
		base, err := r.addTable(TableID{Base: c.Slug, Kind: TableBase, Name: c.Slug}, "", "")
		if err != nil {
			return nil, err
		}
		r.layouts[c.Slug] = &Layout{Collection: c, Base: base, Blocks: map[string]*BlockVariant{}}
		r.order = append(r.order, c.Slug)
	}

	for _, slug := range r.order {
		l := r.layouts[slug]
		b := &builder{reg: r, layout: l}
		if err := b.fields(l.Collection.Fields, level{table: l.Base}, "", 0); err != nil {
			return nil, err
		}
	}

	// Relationship targets must be registered collections.
	for _, slug := range r.order {
		if err := r.checkTargets(slug, r.layouts[slug].Collection.Fields); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// MustRegistry is like NewRegistry but panics on error. Intended for
// package-level schema definitions and tests.
func MustRegistry(config Config, collections ...Collection) *Registry {
	r, err := NewRegistry(config, collections...)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Registry) checkTargets(slug string, fields []Field) error {
	for _, f := range fields {
		switch f.Kind {
		case KindRelationship:
			for _, target := range f.RelationTo {
				if _, ok := r.layouts[target]; !ok {
					return fmt.Errorf("%w: %s.%s: relationship target %q is not a collection", ErrInvalidSchema, slug, f.Name, target)
				}
			}
		case KindGroup, KindArray:
			if err := r.checkTargets(slug, f.Fields); err != nil {
				return err
			}
		case KindBlocks:
			for _, b := range f.Blocks {
				if err := r.checkTargets(slug, b.Fields); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (r *Registry) addTable(id TableID, parent, parentColumn string) (*Table, error) {
	if _, exists := r.tables[id.Name]; exists {
		return nil, fmt.Errorf("%w: table name %q is derived twice", ErrInvalidSchema, id.Name)
	}
	t := newTable(id, parent, parentColumn)
	r.tables[id.Name] = t
	r.byID[id] = t
	r.tableOrder = append(r.tableOrder, t)
	if parent != "" {
		r.register(Relationship{ParentTable: parent, ChildTable: id.Name, ParentColumn: parentColumn})
	}
	return t, nil
}

// register adds an ownership edge.
func (r *Registry) register(rel Relationship) {
	r.relationships = append(r.relationships, rel)
	r.byParent[rel.ParentTable] = append(r.byParent[rel.ParentTable], rel)
}

// Config returns the configuration the registry was built with.
func (r *Registry) Config() Config {
	return r.config
}

// Layout returns the table layout of a collection.
func (r *Registry) Layout(collection string) (*Layout, error) {
	l, ok := r.layouts[collection]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCollection, collection)
	}
	return l, nil
}

// Collections returns the registered collection slugs in registration order.
func (r *Registry) Collections() []string {
	return append([]string(nil), r.order...)
}

// Table returns the table with the given name.
func (r *Registry) Table(name string) (*Table, error) {
	t, ok := r.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, name)
	}
	return t, nil
}

// Lookup returns the table with the given structured id.
func (r *Registry) Lookup(id TableID) (*Table, error) {
	t, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s of %s", ErrUnknownTable, id.Kind, id.Name, id.Base)
	}
	return t, nil
}

// Tables returns every table, parents before children.
func (r *Registry) Tables() []*Table {
	return append([]*Table(nil), r.tableOrder...)
}

// ChildrenOf returns the ownership edges whose parent is table.
func (r *Registry) ChildrenOf(table string) []Relationship {
	return r.byParent[table]
}

// AllRelationships returns every ownership edge.
func (r *Registry) AllRelationships() []Relationship {
	return r.relationships
}

// HasChildren reports whether table owns any dependent table.
func (r *Registry) HasChildren(table string) bool {
	return len(r.byParent[table]) > 0
}

// level is the table a set of fields is stored in while building.
type level struct {
	table *Table

	// localized is set inside localized arrays and blocks.
	localized bool
}

type builder struct {
	reg    *Registry
	layout *Layout
}

func (b *builder) errorf(path, format string, args ...any) error {
	return fmt.Errorf("%w: %s.%s: %s", ErrInvalidSchema, b.layout.Collection.Slug, path, fmt.Sprintf(format, args...))
}

func (b *builder) fields(fields []Field, lv level, prefix string, depth int) error {
	if depth > b.reg.config.MaxNestingDepth {
		return b.errorf(prefix, "nesting exceeds %d levels", b.reg.config.MaxNestingDepth)
	}
	seen := map[string]bool{}
	for _, f := range fields {
		path := prefix + f.Name
		if !identRE.MatchString(f.Name) {
			return b.errorf(path, "invalid field name")
		}
		if seen[f.Name] || reserved[f.Name] {
			return b.errorf(path, "duplicate or reserved field name")
		}
		seen[f.Name] = true
		if f.Localized && lv.localized {
			return b.errorf(path, "localized field inside a localized container")
		}
		if err := b.field(f, lv, prefix, depth); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) field(f Field, lv level, prefix string, depth int) error {
	path := prefix + f.Name
	root := b.layout.Collection.Slug
	switch f.Kind {
	case KindText, KindNumber, KindCheckbox, KindDate, KindJSON, KindSelect:
		if f.Kind == KindSelect && len(f.Options) == 0 {
			return b.errorf(path, "select without options")
		}
		if f.HasMany && f.Kind != KindNumber && f.Kind != KindSelect {
			return b.errorf(path, "hasMany is only valid on number, select and relationship fields")
		}
		if f.Unique && (lv.table != b.layout.Base || f.Localized || f.HasMany) {
			return b.errorf(path, "unique is only valid on root-level single-valued scalars")
		}
		if f.StoredInColumn() {
			t := lv.table
			if f.Localized {
				var err error
				if t, err = b.locales(lv.table); err != nil {
					return err
				}
			}
			if !t.addColumn(Column{Name: prefix + f.Name, Type: f.ColumnType(), Unique: f.Unique}) {
				return b.errorf(path, "column %q of %s is derived twice", prefix+f.Name, t.Name)
			}
			return nil
		}
		if f.Kind == KindNumber {
			t, err := b.shared(TableNumbers, NumbersTableName(root))
			if err != nil {
				return err
			}
			t.addColumn(Column{Name: rows.ColNumber, Type: ColumnNumeric})
			b.layout.Numbers = t
			return nil
		}
		t, err := b.reg.addTable(TableID{Base: root, Kind: TableSelect, Name: SelectTableName(lv.table.Name, prefix, f.Name)}, root, rows.ColParent)
		if err != nil {
			return err
		}
		addSharedColumns(t)
		t.addColumn(Column{Name: rows.ColValue, Type: ColumnText})
		b.layout.Selects = append(b.layout.Selects, t)
		return nil

	case KindRelationship:
		if len(f.RelationTo) == 0 {
			return b.errorf(path, "relationship without targets")
		}
		t, err := b.shared(TableRelationships, RelationshipsTableName(root))
		if err != nil {
			return err
		}
		for _, target := range f.RelationTo {
			t.addColumn(Column{Name: rows.TargetColumn(target), Type: ColumnText})
		}
		b.layout.Relationships = t
		return nil

	case KindGroup:
		if f.Localized {
			return b.errorf(path, "groups cannot be localized; localize their fields instead")
		}
		return b.fields(f.Fields, lv, GroupPrefix(prefix, f.Name), depth+1)

	case KindArray:
		if len(f.Fields) == 0 {
			return b.errorf(path, "array without fields")
		}
		name := ArrayTableName(lv.table.Name, prefix, f.Name)
		t, err := b.reg.addTable(TableID{Base: root, Kind: TableArray, Name: name}, lv.table.Name, rows.ColParentID)
		if err != nil {
			return err
		}
		t.addColumn(Column{Name: rows.ColOrder, Type: ColumnNumeric, NotNull: true})
		if f.Localized {
			t.Localized = true
			t.addColumn(Column{Name: rows.ColLocale, Type: ColumnText})
		}
		if lv.table == b.layout.Base {
			b.layout.Arrays = append(b.layout.Arrays, t)
		}
		return b.fields(f.Fields, level{table: t, localized: f.Localized || lv.localized}, "", depth+1)

	case KindBlocks:
		if len(f.Blocks) == 0 {
			return b.errorf(path, "blocks field without block types")
		}
		for _, blk := range f.Blocks {
			if !identRE.MatchString(blk.Slug) {
				return b.errorf(path, "invalid block slug %q", blk.Slug)
			}
			if existing, ok := b.layout.Blocks[blk.Slug]; ok {
				if !reflect.DeepEqual(existing.Fields, blk.Fields) {
					return b.errorf(path, "block %q is declared twice with different fields", blk.Slug)
				}
				continue
			}
			t, err := b.reg.addTable(TableID{Base: root, Kind: TableBlock, Name: BlockTableName(root, blk.Slug)}, root, rows.ColParentID)
			if err != nil {
				return err
			}
			t.addColumn(Column{Name: rows.ColPath, Type: ColumnText, NotNull: true})
			t.addColumn(Column{Name: rows.ColOrder, Type: ColumnNumeric, NotNull: true})
			t.addColumn(Column{Name: rows.ColLocale, Type: ColumnText})
			t.addColumn(Column{Name: rows.ColBlockName, Type: ColumnText})
			b.layout.Blocks[blk.Slug] = &BlockVariant{Slug: blk.Slug, Table: t, Fields: blk.Fields}
			if err := b.fields(blk.Fields, level{table: t, localized: f.Localized || lv.localized}, "", depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	return b.errorf(path, "unknown field type %q", f.Kind)
}

// locales returns the locale table of a level table, creating it on first use.
func (b *builder) locales(parent *Table) (*Table, error) {
	name := LocalesTableName(parent.Name)
	if t, ok := b.reg.tables[name]; ok {
		return t, nil
	}
	t, err := b.reg.addTable(TableID{Base: b.layout.Collection.Slug, Kind: TableLocales, Name: name}, parent.Name, rows.ColParentID)
	if err != nil {
		return nil, err
	}
	t.addColumn(Column{Name: rows.ColLocale, Type: ColumnText, NotNull: true})
	if parent == b.layout.Base {
		b.layout.Locales = t
	}
	return t, nil
}

// shared returns a root-owned table shared by several fields, creating it on
// first use.
func (b *builder) shared(kind TableKind, name string) (*Table, error) {
	if t, ok := b.reg.tables[name]; ok && t.ID.Kind == kind {
		return t, nil
	}
	root := b.layout.Collection.Slug
	t, err := b.reg.addTable(TableID{Base: root, Kind: kind, Name: name}, root, rows.ColParent)
	if err != nil {
		return nil, err
	}
	addSharedColumns(t)
	return t, nil
}

func addSharedColumns(t *Table) {
	t.addColumn(Column{Name: rows.ColRelPath, Type: ColumnText, NotNull: true})
	t.addColumn(Column{Name: rows.ColRelOrder, Type: ColumnNumeric})
	t.addColumn(Column{Name: rows.ColRelLocale, Type: ColumnText})
}
