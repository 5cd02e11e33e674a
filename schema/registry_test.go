package schema_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/docrel/internal/testschema"
	"github.com/jacentio/docrel/rows"
	"github.com/jacentio/docrel/schema"
)

func TestDefaultConfig(t *testing.T) {
	cfg := schema.DefaultConfig()
	assert.Equal(t, 16, cfg.MaxNestingDepth)
}

func TestNewRegistry_DerivesTableNames(t *testing.T) {
	reg := testschema.Registry()

	expected := []string{
		"users", "media", "pages",
		"pages_locales",
		"pages_tags",
		"pages_numbers",
		"pages_relationships",
		"pages_hero_links",
		"pages_items",
		"pages_items_locales",
		"pages_items_kinds",
		"pages_items_sub",
		"pages_quote",
		"pages_quote_locales",
		"pages_quote_sources",
		"pages_video",
		"pages_translations",
	}
	var names []string
	for _, tbl := range reg.Tables() {
		names = append(names, tbl.Name)
	}
	assert.Equal(t, expected, names)
}

func TestNewRegistry_Layout(t *testing.T) {
	reg := testschema.Registry()
	l, err := reg.Layout("pages")
	require.NoError(t, err)

	assert.Equal(t, "pages", l.Base.Name)
	require.NotNil(t, l.Locales)
	assert.Equal(t, "pages_locales", l.Locales.Name)
	require.NotNil(t, l.Relationships)
	assert.True(t, l.Relationships.HasColumn("usersID"))
	assert.True(t, l.Relationships.HasColumn("pagesID"))
	assert.True(t, l.Relationships.HasColumn("mediaID"))
	require.NotNil(t, l.Numbers)

	var arrays []string
	for _, a := range l.Arrays {
		arrays = append(arrays, a.Name)
	}
	assert.Equal(t, []string{"pages_hero_links", "pages_items", "pages_translations"}, arrays)

	var selects []string
	for _, s := range l.Selects {
		selects = append(selects, s.Name)
	}
	assert.Equal(t, []string{"pages_tags", "pages_items_kinds"}, selects)

	var blocks []string
	for _, b := range l.BlockTables() {
		blocks = append(blocks, b.Name)
	}
	assert.Equal(t, []string{"pages_quote", "pages_video"}, blocks)
	assert.Equal(t, "quote", l.Blocks["quote"].Slug)

	users, err := reg.Layout("users")
	require.NoError(t, err)
	assert.Nil(t, users.Locales)
	assert.Nil(t, users.Relationships)
	assert.Nil(t, users.Numbers)
}

func TestNewRegistry_Columns(t *testing.T) {
	reg := testschema.Registry()

	base, err := reg.Table("pages")
	require.NoError(t, err)
	for _, col := range []string{"id", "slug", "views", "published", "publishedAt", "meta", "status", "hero_heading"} {
		assert.True(t, base.HasColumn(col), "pages.%s", col)
	}
	assert.False(t, base.HasColumn("title"), "localized column must live in the locale table")

	slug, ok := base.Column("slug")
	require.True(t, ok)
	assert.True(t, slug.Unique)

	locales, err := reg.Table("pages_locales")
	require.NoError(t, err)
	assert.True(t, locales.HasColumn("title"))
	assert.True(t, locales.HasColumn("hero_subheading"))
	assert.Equal(t, "pages", locales.ParentTable)
	assert.Equal(t, rows.ColParentID, locales.ParentColumn)

	tr, err := reg.Table("pages_translations")
	require.NoError(t, err)
	assert.True(t, tr.Localized)
	assert.True(t, tr.HasColumn(rows.ColLocale))
	assert.Equal(t, rows.ColOrder, tr.OrderColumn())

	kinds, err := reg.Table("pages_items_kinds")
	require.NoError(t, err)
	assert.Equal(t, "pages", kinds.ParentTable, "select rows are owned by the root row")
	assert.Equal(t, rows.ColParent, kinds.ParentColumn)
	assert.Equal(t, rows.ColRelOrder, kinds.OrderColumn())
}

func TestRegistry_ChildrenOf(t *testing.T) {
	reg := testschema.Registry()

	children := map[string]string{}
	for _, rel := range reg.ChildrenOf("pages") {
		children[rel.ChildTable] = rel.ParentColumn
	}
	assert.Equal(t, map[string]string{
		"pages_locales":       rows.ColParentID,
		"pages_tags":          rows.ColParent,
		"pages_numbers":       rows.ColParent,
		"pages_relationships": rows.ColParent,
		"pages_hero_links":    rows.ColParentID,
		"pages_items":         rows.ColParentID,
		"pages_items_kinds":   rows.ColParent,
		"pages_quote":         rows.ColParentID,
		"pages_video":         rows.ColParentID,
		"pages_translations":  rows.ColParentID,
	}, children)

	var itemChildren []string
	for _, rel := range reg.ChildrenOf("pages_items") {
		itemChildren = append(itemChildren, rel.ChildTable)
	}
	assert.Equal(t, []string{"pages_items_locales", "pages_items_sub"}, itemChildren)

	assert.True(t, reg.HasChildren("pages_quote"))
	assert.False(t, reg.HasChildren("pages_video"))
	assert.False(t, reg.HasChildren("users"))
}

func TestRegistry_Lookup(t *testing.T) {
	reg := testschema.Registry()

	tbl, err := reg.Lookup(schema.TableID{Base: "pages", Kind: schema.TableBlock, Name: "pages_quote"})
	require.NoError(t, err)
	assert.Equal(t, "pages_quote", tbl.Name)

	_, err = reg.Lookup(schema.TableID{Base: "pages", Kind: schema.TableArray, Name: "pages_quote"})
	assert.ErrorIs(t, err, schema.ErrUnknownTable)

	_, err = reg.Table("nope")
	assert.ErrorIs(t, err, schema.ErrUnknownTable)

	_, err = reg.Layout("nope")
	assert.ErrorIs(t, err, schema.ErrUnknownCollection)
}

func TestNewRegistry_Invalid(t *testing.T) {
	text := func(name string) schema.Field { return schema.Field{Name: name, Kind: schema.KindText} }

	tests := []struct {
		name        string
		collections []schema.Collection
		contains    string
	}{
		{
			name:        "duplicate field",
			collections: []schema.Collection{{Slug: "a", Fields: []schema.Field{text("x"), text("x")}}},
			contains:    "duplicate or reserved",
		},
		{
			name:        "reserved field",
			collections: []schema.Collection{{Slug: "a", Fields: []schema.Field{text("id")}}},
			contains:    "duplicate or reserved",
		},
		{
			name:        "dotted name",
			collections: []schema.Collection{{Slug: "a", Fields: []schema.Field{text("x.y")}}},
			contains:    "invalid field name",
		},
		{
			name:        "unknown kind",
			collections: []schema.Collection{{Slug: "a", Fields: []schema.Field{{Name: "x", Kind: "point"}}}},
			contains:    "unknown field type",
		},
		{
			name: "unknown relationship target",
			collections: []schema.Collection{{Slug: "a", Fields: []schema.Field{
				{Name: "r", Kind: schema.KindRelationship, RelationTo: []string{"b"}},
			}}},
			contains: "not a collection",
		},
		{
			name: "relationship without target",
			collections: []schema.Collection{{Slug: "a", Fields: []schema.Field{
				{Name: "r", Kind: schema.KindRelationship},
			}}},
			contains: "without targets",
		},
		{
			name: "select without options",
			collections: []schema.Collection{{Slug: "a", Fields: []schema.Field{
				{Name: "s", Kind: schema.KindSelect},
			}}},
			contains: "without options",
		},
		{
			name: "localized group",
			collections: []schema.Collection{{Slug: "a", Fields: []schema.Field{
				{Name: "g", Kind: schema.KindGroup, Localized: true, Fields: []schema.Field{text("x")}},
			}}},
			contains: "cannot be localized",
		},
		{
			name: "localized inside localized array",
			collections: []schema.Collection{{Slug: "a", Fields: []schema.Field{
				{Name: "arr", Kind: schema.KindArray, Localized: true, Fields: []schema.Field{
					{Name: "x", Kind: schema.KindText, Localized: true},
				}},
			}}},
			contains: "localized container",
		},
		{
			name: "group column collides with field",
			collections: []schema.Collection{{Slug: "a", Fields: []schema.Field{
				text("g_x"),
				{Name: "g", Kind: schema.KindGroup, Fields: []schema.Field{text("x")}},
			}}},
			contains: "derived twice",
		},
		{
			name: "array table collides with block table",
			collections: []schema.Collection{{Slug: "a", Fields: []schema.Field{
				{Name: "quote", Kind: schema.KindArray, Fields: []schema.Field{text("x")}},
				{Name: "layout", Kind: schema.KindBlocks, Blocks: []schema.Block{{Slug: "quote", Fields: []schema.Field{text("y")}}}},
			}}},
			contains: "derived twice",
		},
		{
			name: "block redeclared with other fields",
			collections: []schema.Collection{{Slug: "a", Fields: []schema.Field{
				{Name: "l1", Kind: schema.KindBlocks, Blocks: []schema.Block{{Slug: "b", Fields: []schema.Field{text("x")}}}},
				{Name: "l2", Kind: schema.KindBlocks, Blocks: []schema.Block{{Slug: "b", Fields: []schema.Field{text("y")}}}},
			}}},
			contains: "declared twice",
		},
		{
			name:        "duplicate collection",
			collections: []schema.Collection{{Slug: "a"}, {Slug: "a"}},
			contains:    "duplicate collection",
		},
		{
			name: "unique inside array",
			collections: []schema.Collection{{Slug: "a", Fields: []schema.Field{
				{Name: "arr", Kind: schema.KindArray, Fields: []schema.Field{
					{Name: "x", Kind: schema.KindText, Unique: true},
				}},
			}}},
			contains: "unique",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := schema.NewRegistry(schema.DefaultConfig(), tt.collections...)
			require.Error(t, err)
			assert.ErrorIs(t, err, schema.ErrInvalidSchema)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestNewRegistry_BlockReuse(t *testing.T) {
	shared := schema.Block{Slug: "cta", Fields: []schema.Field{{Name: "label", Kind: schema.KindText}}}
	reg, err := schema.NewRegistry(schema.DefaultConfig(), schema.Collection{
		Slug: "posts",
		Fields: []schema.Field{
			{Name: "top", Kind: schema.KindBlocks, Blocks: []schema.Block{shared}},
			{Name: "bottom", Kind: schema.KindBlocks, Blocks: []schema.Block{shared}},
		},
	})
	require.NoError(t, err)

	l, err := reg.Layout("posts")
	require.NoError(t, err)
	assert.Len(t, l.Blocks, 1)
	assert.Equal(t, "posts_cta", l.Blocks["cta"].Table.Name)
}

func TestNewRegistry_MaxNestingDepth(t *testing.T) {
	field := schema.Field{Name: "leaf", Kind: schema.KindText}
	for i := 0; i < 5; i++ {
		field = schema.Field{Name: "n", Kind: schema.KindArray, Fields: []schema.Field{field}}
	}
	c := schema.Collection{Slug: "deep", Fields: []schema.Field{field}}

	_, err := schema.NewRegistry(schema.Config{MaxNestingDepth: 3}, c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nesting exceeds 3")

	_, err = schema.NewRegistry(schema.Config{MaxNestingDepth: 5}, c)
	assert.NoError(t, err)
}

func TestLoadYAML(t *testing.T) {
	doc := `
collections:
  - slug: authors
    fields:
      - name: name
        type: text
  - slug: posts
    fields:
      - name: title
        type: text
        localized: true
      - name: author
        type: relationship
        relationTo: [authors]
      - name: sections
        type: array
        fields:
          - name: heading
            type: text
`
	reg, err := schema.LoadYAML(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, []string{"authors", "posts"}, reg.Collections())

	_, err = reg.Table("posts_sections")
	assert.NoError(t, err)
	_, err = reg.Table("posts_locales")
	assert.NoError(t, err)
}

func TestLoadYAML_UnknownKey(t *testing.T) {
	_, err := schema.LoadYAML(strings.NewReader("collections:\n  - slug: a\n    colour: red\n"))
	assert.ErrorIs(t, err, schema.ErrInvalidSchema)
}
