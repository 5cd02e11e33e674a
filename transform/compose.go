package transform

import (
	"fmt"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cast"

	"github.com/jacentio/docrel/query"
	"github.com/jacentio/docrel/rows"
	"github.com/jacentio/docrel/schema"
)

// Compose rebuilds the document of a collection from a result tree read with
// a descriptor from query.Build. It is the inverse of Decompose: nil columns
// and empty sequences are omitted, and every array and block element carries
// its "id".
func Compose(reg *schema.Registry, collection string, res *query.Result) (Document, error) {
	layout, err := reg.Layout(collection)
	if err != nil {
		return nil, err
	}
	c := newComposer(reg, layout, res)
	doc := Document{KeyID: res.ID()}
	if err := c.fields(layout.Collection.Fields, clevel{res: res, table: layout.Base.Name}, "", "", doc); err != nil {
		return nil, err
	}
	return doc, nil
}

type composer struct {
	reg    *schema.Registry
	layout *schema.Layout

	// Hoisted rows of the root, by path.
	relationships map[string][]*query.Result
	numbers       map[string][]*query.Result
	selects       map[string]map[string][]*query.Result
	blocks        map[string][]*query.Result

	// variants maps a block table to its block slug.
	variants map[string]*schema.BlockVariant
}

type clevel struct {
	res    *query.Result
	table  string
	locale string
}

func newComposer(reg *schema.Registry, layout *schema.Layout, root *query.Result) *composer {
	c := &composer{
		reg:      reg,
		layout:   layout,
		selects:  map[string]map[string][]*query.Result{},
		blocks:   map[string][]*query.Result{},
		variants: map[string]*schema.BlockVariant{},
	}
	if layout.Relationships != nil {
		c.relationships = byPath(root.Children(layout.Relationships.Name), rows.ColRelPath)
	}
	if layout.Numbers != nil {
		c.numbers = byPath(root.Children(layout.Numbers.Name), rows.ColRelPath)
	}
	for _, t := range layout.Selects {
		c.selects[t.Name] = byPath(root.Children(t.Name), rows.ColRelPath)
	}
	for _, v := range layout.Blocks {
		c.variants[v.Table.Name] = v
		for _, r := range root.Children(v.Table.Name) {
			path := r.Row.String(rows.ColPath)
			c.blocks[path] = append(c.blocks[path], r)
		}
	}
	for _, rs := range c.blocks {
		sort.SliceStable(rs, func(i, j int) bool {
			return cast.ToInt(rs[i].Row[rows.ColOrder]) < cast.ToInt(rs[j].Row[rows.ColOrder])
		})
	}
	return c
}

func byPath(rs []*query.Result, col string) map[string][]*query.Result {
	out := make(map[string][]*query.Result)
	for _, r := range rs {
		path := r.Row.String(col)
		out[path] = append(out[path], r)
	}
	return out
}

// inLocale returns the rows whose locale column equals locale; "" selects
// rows without a locale.
func inLocale(rs []*query.Result, col, locale string) []*query.Result {
	var out []*query.Result
	for _, r := range rs {
		if r.Row.String(col) == locale {
			out = append(out, r)
		}
	}
	return out
}

// byLocale groups rows by their locale column, keeping order.
func byLocale(rs []*query.Result, col string) map[string][]*query.Result {
	out := make(map[string][]*query.Result)
	for _, r := range rs {
		code := r.Row.String(col)
		if code == "" {
			continue
		}
		out[code] = append(out[code], r)
	}
	return out
}

// each composes rs for the level's locale, or per locale for localized
// fields. It stores the result in out when non-empty.
func each(f schema.Field, lv clevel, rs []*query.Result, col string, out Document, fn func([]*query.Result) (any, error)) error {
	if !f.Localized {
		v, err := fn(inLocale(rs, col, lv.locale))
		if err != nil || v == nil {
			return err
		}
		out[f.Name] = v
		return nil
	}
	m := Document{}
	for code, group := range byLocale(rs, col) {
		v, err := fn(group)
		if err != nil {
			return err
		}
		if v != nil {
			m[code] = v
		}
	}
	if len(m) > 0 {
		out[f.Name] = m
	}
	return nil
}

// collect returns the converted values as a list for hasMany fields, or the
// first value otherwise. It returns nil when there are none.
func collect(f schema.Field, rs []*query.Result, conv func(*query.Result) (any, error)) (any, error) {
	if len(rs) == 0 {
		return nil, nil
	}
	if !f.HasMany {
		return conv(rs[0])
	}
	list := make([]any, 0, len(rs))
	for _, r := range rs {
		v, err := conv(r)
		if err != nil {
			return nil, err
		}
		list = append(list, v)
	}
	return list, nil
}

func (c *composer) fields(fields []schema.Field, lv clevel, colPrefix, pathPrefix string, out Document) error {
	for _, f := range fields {
		if err := c.field(f, lv, colPrefix, pathPrefix, out); err != nil {
			return err
		}
	}
	return nil
}

func (c *composer) field(f schema.Field, lv clevel, colPrefix, pathPrefix string, out Document) error {
	path := pathPrefix + f.Name
	switch {
	case f.Kind == schema.KindGroup:
		sub := Document{}
		if err := c.fields(f.Fields, lv, schema.GroupPrefix(colPrefix, f.Name), path+".", sub); err != nil {
			return err
		}
		if len(sub) > 0 {
			out[f.Name] = sub
		}
		return nil

	case f.StoredInColumn():
		return c.column(f, lv, colPrefix+f.Name, path, out)

	case f.Kind == schema.KindRelationship:
		return each(f, lv, c.relationships[path], rows.ColRelLocale, out, func(rs []*query.Result) (any, error) {
			return collect(f, rs, func(r *query.Result) (any, error) {
				return c.reference(f, path, r)
			})
		})

	case f.Kind == schema.KindNumber:
		return each(f, lv, c.numbers[path], rows.ColRelLocale, out, func(rs []*query.Result) (any, error) {
			return collect(f, rs, func(r *query.Result) (any, error) {
				return coerce(f, path, r.Row[rows.ColNumber])
			})
		})

	case f.Kind == schema.KindSelect:
		table := schema.SelectTableName(lv.table, colPrefix, f.Name)
		return each(f, lv, c.selects[table][path], rows.ColRelLocale, out, func(rs []*query.Result) (any, error) {
			return collect(f, rs, func(r *query.Result) (any, error) {
				return coerce(f, path, r.Row[rows.ColValue])
			})
		})

	case f.Kind == schema.KindArray:
		table := schema.ArrayTableName(lv.table, colPrefix, f.Name)
		rs := lv.res.Children(table)
		if !f.Localized {
			return c.elements(out, f.Name, rs, func(i int, r *query.Result) (Document, error) {
				return c.element(f.Fields, clevel{res: r, table: table, locale: lv.locale}, indexPath(path, i), Document{KeyID: r.ID()})
			})
		}
		m := Document{}
		for code, group := range byLocale(rs, rows.ColLocale) {
			if err := c.elements(m, code, group, func(i int, r *query.Result) (Document, error) {
				return c.element(f.Fields, clevel{res: r, table: table, locale: code}, indexPath(path, i), Document{KeyID: r.ID()})
			}); err != nil {
				return err
			}
		}
		if len(m) > 0 {
			out[f.Name] = m
		}
		return nil

	case f.Kind == schema.KindBlocks:
		return each(f, lv, c.blocks[path], rows.ColLocale, out, func(rs []*query.Result) (any, error) {
			var list []any
			for i, r := range rs {
				v, ok := c.variants[r.Table]
				if !ok {
					return nil, fmt.Errorf("docrel: compose %s: no block type stored in %s", path, r.Table)
				}
				doc := Document{KeyID: r.ID(), KeyBlockType: v.Slug}
				if name := r.Row.String(rows.ColBlockName); name != "" {
					doc[KeyBlockName] = name
				}
				locale := r.Row.String(rows.ColLocale)
				doc, err := c.element(v.Fields, clevel{res: r, table: r.Table, locale: locale}, indexPath(path, i), doc)
				if err != nil {
					return nil, err
				}
				list = append(list, doc)
			}
			if len(list) == 0 {
				return nil, nil
			}
			return list, nil
		})
	}
	return fmt.Errorf("docrel: compose %s: unsupported field type %q", path, f.Kind)
}

func (c *composer) elements(out Document, key string, rs []*query.Result, fn func(int, *query.Result) (Document, error)) error {
	if len(rs) == 0 {
		return nil
	}
	list := make([]any, 0, len(rs))
	for i, r := range rs {
		doc, err := fn(i, r)
		if err != nil {
			return err
		}
		list = append(list, doc)
	}
	out[key] = list
	return nil
}

func (c *composer) element(fields []schema.Field, lv clevel, pathPrefix string, doc Document) (Document, error) {
	if err := c.fields(fields, lv, "", pathPrefix, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (c *composer) column(f schema.Field, lv clevel, col, path string, out Document) error {
	if !f.Localized {
		v := lv.res.Row[col]
		if v == nil {
			return nil
		}
		cv, err := coerce(f, path, v)
		if err != nil {
			return err
		}
		out[f.Name] = cv
		return nil
	}
	m := Document{}
	for _, r := range lv.res.Children(schema.LocalesTableName(lv.table)) {
		v := r.Row[col]
		if v == nil {
			continue
		}
		cv, err := coerce(f, path, v)
		if err != nil {
			return err
		}
		m[r.Row.String(rows.ColLocale)] = cv
	}
	if len(m) > 0 {
		out[f.Name] = m
	}
	return nil
}

func (c *composer) reference(f schema.Field, path string, r *query.Result) (any, error) {
	for _, target := range f.RelationTo {
		id := cast.ToString(r.Row[rows.TargetColumn(target)])
		if id == "" {
			continue
		}
		var value any = id
		if docs := r.Children(target); len(docs) > 0 {
			populated, err := Compose(c.reg, target, docs[0])
			if err != nil {
				return nil, err
			}
			value = populated
		}
		if f.IsPolymorphic() {
			return Document{KeyRelationTo: target, KeyValue: value}, nil
		}
		return value, nil
	}
	return nil, fmt.Errorf("docrel: compose %s: relationship row %s has no target", path, r.ID())
}

// coerce converts a stored column value back to the field's Go type.
func coerce(f schema.Field, path string, v any) (any, error) {
	var (
		out any
		err error
	)
	switch f.Kind {
	case schema.KindText, schema.KindSelect:
		out, err = cast.ToStringE(v)
	case schema.KindNumber:
		out, err = cast.ToFloat64E(v)
	case schema.KindCheckbox:
		out, err = cast.ToBoolE(v)
	case schema.KindDate:
		if t, ok := v.(time.Time); ok {
			return t.UTC().Format(time.RFC3339Nano), nil
		}
		out, err = cast.ToStringE(v)
	case schema.KindJSON:
		var raw []byte
		switch b := v.(type) {
		case string:
			raw = []byte(b)
		case []byte:
			raw = b
		default:
			return v, nil
		}
		err = json.Unmarshal(raw, &out)
	default:
		return v, nil
	}
	if err != nil {
		return nil, fmt.Errorf("docrel: compose %s: %w", path, err)
	}
	return out, nil
}
