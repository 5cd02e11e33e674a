package transform

import (
	"sort"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cast"

	"github.com/jacentio/docrel/rows"
	"github.com/jacentio/docrel/schema"
)

// Decompose splits doc into the row sets of table, the base table of a
// collection with the given fields. It performs no I/O and is deterministic.
//
// Identities of nested array and block elements are taken from their "id" key
// when present; the base row identity is left to the caller.
func Decompose(doc Document, fields []schema.Field, table string, opts Options) (*rows.RowToInsert, error) {
	d := &decomposer{opts: opts, root: table, out: rows.NewRowToInsert()}
	d.tables(fields, table, "", true, map[string]bool{})

	lv := &level{
		table:   table,
		row:     d.out.Row,
		locales: d.out.Locales,
		arrays:  d.out.Arrays,
	}
	if err := d.fields(fields, doc, lv, "", opts.Path, KeyID); err != nil {
		return nil, err
	}
	return d.out, nil
}

type decomposer struct {
	opts Options
	root string
	out  *rows.RowToInsert
}

// level is the row a set of fields is written to.
type level struct {
	table   string
	row     rows.Row
	locales map[string]rows.Row
	arrays  map[string][]*rows.ArrayRowToInsert

	// locale is set inside a localized array or blocks field.
	locale string

	// repeated is set inside array and block elements, whose paths carry an
	// index.
	repeated bool
}

func (lv *level) localeRow(code string) rows.Row {
	r, ok := lv.locales[code]
	if !ok {
		r = rows.Row{rows.ColLocale: code}
		lv.locales[code] = r
	}
	return r
}

// tables registers the root-level array tables and every select table, so the
// caller can clear them even when the document holds no rows for them.
func (d *decomposer) tables(fields []schema.Field, levelTable, prefix string, root bool, seen map[string]bool) {
	for _, f := range fields {
		switch f.Kind {
		case schema.KindGroup:
			d.tables(f.Fields, levelTable, schema.GroupPrefix(prefix, f.Name), root, seen)
		case schema.KindArray:
			name := schema.ArrayTableName(levelTable, prefix, f.Name)
			if _, ok := d.out.Arrays[name]; root && !ok {
				d.out.Arrays[name] = nil
			}
			d.tables(f.Fields, name, "", false, seen)
		case schema.KindBlocks:
			for _, b := range f.Blocks {
				name := schema.BlockTableName(d.root, b.Slug)
				if seen[name] {
					continue
				}
				seen[name] = true
				d.tables(b.Fields, name, "", false, seen)
			}
		case schema.KindSelect:
			if !f.HasMany {
				continue
			}
			name := schema.SelectTableName(levelTable, prefix, f.Name)
			if _, ok := d.out.Selects[name]; !ok {
				d.out.Selects[name] = nil
			}
		}
	}
}

func (d *decomposer) fields(fields []schema.Field, data Document, lv *level, colPrefix, pathPrefix string, extra ...string) error {
	if d.opts.Strict {
		if err := checkKeys(fields, data, pathPrefix, extra); err != nil {
			return err
		}
	}
	for _, f := range fields {
		v, present := data[f.Name]
		if err := d.field(f, v, present, lv, colPrefix, pathPrefix); err != nil {
			return err
		}
	}
	return nil
}

func checkKeys(fields []schema.Field, data Document, pathPrefix string, extra []string) error {
	known := make(map[string]bool, len(fields)+len(extra))
	for _, f := range fields {
		known[f.Name] = true
	}
	for _, k := range extra {
		known[k] = true
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		if !known[k] {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	sort.Strings(keys)
	return mismatch(pathPrefix+keys[0], "no such field")
}

func (d *decomposer) field(f schema.Field, v any, present bool, lv *level, colPrefix, pathPrefix string) error {
	path := pathPrefix + f.Name
	switch {
	case f.Kind == schema.KindGroup:
		var sub Document
		if present && v != nil {
			var ok bool
			if sub, ok = toDocument(v); !ok {
				return mismatch(path, "group value must be an object, got %T", v)
			}
		}
		return d.fields(f.Fields, sub, lv, schema.GroupPrefix(colPrefix, f.Name), path+".")
	case f.StoredInColumn():
		return d.column(f, v, present, lv, colPrefix+f.Name, path)
	case f.Kind == schema.KindRelationship:
		return d.relationship(f, v, lv, path)
	case f.Kind == schema.KindNumber:
		return d.numbers(f, v, lv, path)
	case f.Kind == schema.KindSelect:
		return d.selects(f, v, lv, schema.SelectTableName(lv.table, colPrefix, f.Name), path)
	case f.Kind == schema.KindArray:
		return d.array(f, v, lv, schema.ArrayTableName(lv.table, colPrefix, f.Name), path)
	case f.Kind == schema.KindBlocks:
		return d.blocks(f, v, lv, path)
	}
	return mismatch(path, "unsupported field type %q", f.Kind)
}

// eachLocale calls fn for every entry of a localized value, in locale order.
func (d *decomposer) eachLocale(path string, v any, fn func(code string, v any) error) error {
	if v == nil {
		return nil
	}
	m, ok := toDocument(v)
	if !ok {
		return mismatch(path, "localized value must map locale codes to values, got %T", v)
	}
	for _, code := range sortedKeys(m) {
		if !d.opts.allowsLocale(code) {
			return mismatch(path, "unknown locale %q", code)
		}
		if err := fn(code, m[code]); err != nil {
			return err
		}
	}
	return nil
}

func (d *decomposer) column(f schema.Field, v any, present bool, lv *level, col, path string) error {
	if !present {
		return nil
	}
	if f.Localized {
		return d.eachLocale(path, v, func(code string, v any) error {
			if v == nil {
				return nil
			}
			cv, err := convert(f, path, v)
			if err != nil {
				return err
			}
			lv.localeRow(code)[col] = cv
			return nil
		})
	}
	cv, err := convert(f, path, v)
	if err != nil {
		return err
	}
	lv.row[col] = cv
	return nil
}

// convert validates a column value and returns its stored form.
func convert(f schema.Field, path string, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch f.Kind {
	case schema.KindText:
		s, ok := v.(string)
		if !ok {
			return nil, mismatch(path, "expected a string, got %T", v)
		}
		return s, nil
	case schema.KindNumber:
		return toNumber(path, v)
	case schema.KindCheckbox:
		b, ok := v.(bool)
		if !ok {
			return nil, mismatch(path, "expected a boolean, got %T", v)
		}
		return b, nil
	case schema.KindDate:
		switch t := v.(type) {
		case time.Time:
			return t.UTC().Format(time.RFC3339Nano), nil
		case string:
			if _, err := time.Parse(time.RFC3339, t); err != nil {
				return nil, mismatch(path, "invalid date %q", t)
			}
			return t, nil
		}
		return nil, mismatch(path, "expected a date, got %T", v)
	case schema.KindJSON:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, mismatch(path, "value is not JSON encodable: %v", err)
		}
		return string(b), nil
	case schema.KindSelect:
		s, ok := v.(string)
		if !ok {
			return nil, mismatch(path, "expected a string, got %T", v)
		}
		if !f.AllowsOption(s) {
			return nil, mismatch(path, "%q is not an option", s)
		}
		return s, nil
	}
	return nil, mismatch(path, "field type %q has no column", f.Kind)
}

func toNumber(path string, v any) (float64, error) {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return cast.ToFloat64E(v)
	}
	return 0, mismatch(path, "expected a number, got %T", v)
}

// values returns the elements of a hasMany value, or v alone.
func values(f schema.Field, path string, v any) ([]any, error) {
	if v == nil {
		return nil, nil
	}
	if !f.HasMany {
		return []any{v}, nil
	}
	l, ok := toList(v)
	if !ok {
		return nil, mismatch(path, "expected a list, got %T", v)
	}
	return l, nil
}

// hoisted fills the columns shared by relationship, number and select rows.
func hoisted(row rows.Row, f schema.Field, path, locale string, i int) rows.Row {
	row[rows.ColRelPath] = path
	if f.HasMany {
		row[rows.ColRelOrder] = i + 1
	}
	if locale != "" {
		row[rows.ColRelLocale] = locale
	}
	return row
}

func (d *decomposer) relationship(f schema.Field, v any, lv *level, path string) error {
	if f.Localized {
		d.out.RelationshipsToDelete = append(d.out.RelationshipsToDelete, rows.Row{rows.ColRelPath: path})
		return d.eachLocale(path, v, func(code string, v any) error {
			_, err := d.relationshipRows(f, v, path, code)
			return err
		})
	}
	n, err := d.relationshipRows(f, v, path, lv.locale)
	if err != nil {
		return err
	}
	if n == 0 && !lv.repeated {
		d.out.RelationshipsToDelete = append(d.out.RelationshipsToDelete, rows.Row{rows.ColRelPath: path})
	}
	return nil
}

func (d *decomposer) relationshipRows(f schema.Field, v any, path, locale string) (int, error) {
	items, err := values(f, path, v)
	if err != nil {
		return 0, err
	}
	for i, item := range items {
		target, id, err := reference(f, path, item)
		if err != nil {
			return 0, err
		}
		row := hoisted(rows.Row{rows.TargetColumn(target): id}, f, path, locale, i)
		d.out.Relationships = append(d.out.Relationships, row)
	}
	return len(items), nil
}

// reference resolves a relationship value to its target collection and id.
// Values are ids, populated documents, or for polymorphic fields
// {relationTo, value} pairs.
func reference(f schema.Field, path string, v any) (string, string, error) {
	target := f.RelationTo[0]
	if f.IsPolymorphic() {
		m, ok := toDocument(v)
		if !ok {
			return "", "", mismatch(path, "polymorphic value must be {relationTo, value}, got %T", v)
		}
		target, _ = m[KeyRelationTo].(string)
		v = m[KeyValue]
	}
	if !f.AllowsTarget(target) {
		return "", "", mismatch(path, "%q is not a relationship target", target)
	}
	switch ref := v.(type) {
	case string:
		if ref != "" {
			return target, ref, nil
		}
	default:
		if m, ok := toDocument(v); ok {
			if id, _ := m[KeyID].(string); id != "" {
				return target, id, nil
			}
		}
	}
	return "", "", mismatch(path, "invalid reference %v", v)
}

func (d *decomposer) numbers(f schema.Field, v any, lv *level, path string) error {
	emit := func(v any, locale string) (int, error) {
		items, err := values(f, path, v)
		if err != nil {
			return 0, err
		}
		for i, item := range items {
			n, err := toNumber(path, item)
			if err != nil {
				return 0, err
			}
			d.out.Numbers = append(d.out.Numbers, hoisted(rows.Row{rows.ColNumber: n}, f, path, locale, i))
		}
		return len(items), nil
	}
	if f.Localized {
		d.out.NumbersToDelete = append(d.out.NumbersToDelete, rows.Row{rows.ColRelPath: path})
		return d.eachLocale(path, v, func(code string, v any) error {
			_, err := emit(v, code)
			return err
		})
	}
	n, err := emit(v, lv.locale)
	if err != nil {
		return err
	}
	if n == 0 && !lv.repeated {
		d.out.NumbersToDelete = append(d.out.NumbersToDelete, rows.Row{rows.ColRelPath: path})
	}
	return nil
}

func (d *decomposer) selects(f schema.Field, v any, lv *level, table, path string) error {
	emit := func(v any, locale string) error {
		items, err := values(f, path, v)
		if err != nil {
			return err
		}
		for i, item := range items {
			s, err := convert(f, path, item)
			if err != nil {
				return err
			}
			if s == nil {
				return mismatch(path, "nil select value")
			}
			d.out.Selects[table] = append(d.out.Selects[table], hoisted(rows.Row{rows.ColValue: s}, f, path, locale, i))
		}
		return nil
	}
	if f.Localized {
		return d.eachLocale(path, v, func(code string, v any) error {
			return emit(v, code)
		})
	}
	return emit(v, lv.locale)
}

func (d *decomposer) array(f schema.Field, v any, lv *level, table, path string) error {
	if !lv.repeated {
		d.out.PrunePrefixes = append(d.out.PrunePrefixes, path+".")
	}
	if f.Localized {
		return d.eachLocale(path, v, func(code string, v any) error {
			return d.arrayRows(f, v, lv, table, path, code, true)
		})
	}
	return d.arrayRows(f, v, lv, table, path, lv.locale, false)
}

func (d *decomposer) arrayRows(f schema.Field, v any, lv *level, table, path, locale string, tag bool) error {
	if v == nil {
		return nil
	}
	items, ok := toList(v)
	if !ok {
		return mismatch(path, "expected a list, got %T", v)
	}
	for i, item := range items {
		doc, ok := toDocument(item)
		if !ok {
			return mismatch(path, "element %d must be an object, got %T", i, item)
		}
		el := &rows.ArrayRowToInsert{
			Row:     rows.Row{rows.ColOrder: i + 1},
			Locales: map[string]rows.Row{},
			Arrays:  map[string][]*rows.ArrayRowToInsert{},
		}
		if tag {
			el.Row[rows.ColLocale] = locale
		}
		if id, _ := doc[KeyID].(string); id != "" {
			el.Row[rows.ColID] = id
		}
		child := &level{table: table, row: el.Row, locales: el.Locales, arrays: el.Arrays, locale: locale, repeated: true}
		if err := d.fields(f.Fields, doc, child, "", indexPath(path, i), KeyID); err != nil {
			return err
		}
		lv.arrays[table] = append(lv.arrays[table], el)
	}
	return nil
}

func (d *decomposer) blocks(f schema.Field, v any, lv *level, path string) error {
	if !lv.repeated {
		d.out.PrunePrefixes = append(d.out.PrunePrefixes, path+".")
		for _, b := range f.Blocks {
			table := schema.BlockTableName(d.root, b.Slug)
			d.out.BlocksToDelete[table] = append(d.out.BlocksToDelete[table], rows.Row{rows.ColPath: path})
		}
	}
	if f.Localized {
		return d.eachLocale(path, v, func(code string, v any) error {
			return d.blockRows(f, v, path, code)
		})
	}
	return d.blockRows(f, v, path, lv.locale)
}

func (d *decomposer) blockRows(f schema.Field, v any, path, locale string) error {
	if v == nil {
		return nil
	}
	items, ok := toList(v)
	if !ok {
		return mismatch(path, "expected a list, got %T", v)
	}
	for i, item := range items {
		doc, ok := toDocument(item)
		if !ok {
			return mismatch(path, "element %d must be an object, got %T", i, item)
		}
		slug, _ := doc[KeyBlockType].(string)
		blk, ok := f.Block(slug)
		if !ok {
			return mismatch(path, "unknown block type %q", slug)
		}
		table := schema.BlockTableName(d.root, slug)
		el := &rows.BlockRowToInsert{
			Row:     rows.Row{rows.ColPath: path, rows.ColOrder: i + 1},
			Locales: map[string]rows.Row{},
			Arrays:  map[string][]*rows.ArrayRowToInsert{},
		}
		if locale != "" {
			el.Row[rows.ColLocale] = locale
		}
		if id, _ := doc[KeyID].(string); id != "" {
			el.Row[rows.ColID] = id
		}
		if name, _ := doc[KeyBlockName].(string); name != "" {
			el.Row[rows.ColBlockName] = name
		}
		child := &level{table: table, row: el.Row, locales: el.Locales, arrays: el.Arrays, locale: locale, repeated: true}
		if err := d.fields(blk.Fields, doc, child, "", indexPath(path, i), KeyID, KeyBlockType, KeyBlockName); err != nil {
			return err
		}
		d.out.Blocks[table] = append(d.out.Blocks[table], el)
	}
	return nil
}
