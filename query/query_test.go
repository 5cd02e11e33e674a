package query_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/docrel/internal/testschema"
	"github.com/jacentio/docrel/query"
	"github.com/jacentio/docrel/schema"
)

func relation(t *testing.T, d *query.Descriptor, table string) *query.Relation {
	t.Helper()
	for _, r := range d.With {
		if r.Table == table {
			return r
		}
	}
	t.Fatalf("no relation %s under %s", table, d.Table)
	return nil
}

func TestBuild_Tables(t *testing.T) {
	d, err := query.Build(testschema.Registry(), "pages", 0)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"pages",
		"pages_locales",
		"pages_tags",
		"pages_numbers",
		"pages_relationships",
		"pages_hero_links",
		"pages_items",
		"pages_items_locales",
		"pages_items_sub",
		"pages_items_kinds",
		"pages_quote",
		"pages_quote_locales",
		"pages_quote_sources",
		"pages_video",
		"pages_translations",
	}, d.Tables())
}

func TestBuild_RelationColumns(t *testing.T) {
	d, err := query.Build(testschema.Registry(), "pages", 0)
	require.NoError(t, err)

	tests := []struct {
		table  string
		column string
		order  string
	}{
		{"pages_locales", "_parentID", ""},
		{"pages_relationships", "parent", "order"},
		{"pages_numbers", "parent", "order"},
		{"pages_tags", "parent", "order"},
		{"pages_items", "_parentID", "_order"},
		{"pages_quote", "_parentID", "_order"},
	}
	for _, tt := range tests {
		t.Run(tt.table, func(t *testing.T) {
			r := relation(t, d, tt.table)
			assert.Equal(t, tt.column, r.Column)
			assert.Equal(t, tt.order, r.Order)
		})
	}

	items := relation(t, d, "pages_items")
	sub := relation(t, items.Descriptor, "pages_items_sub")
	assert.Equal(t, "_parentID", sub.Column)
	assert.Equal(t, "_order", sub.Order)
}

func TestBuild_DepthZeroDoesNotPopulate(t *testing.T) {
	d, err := query.Build(testschema.Registry(), "pages", 0)
	require.NoError(t, err)

	assert.Nil(t, relation(t, d, "pages_relationships").Populate)
}

func TestBuild_DepthPopulatesTargets(t *testing.T) {
	d, err := query.Build(testschema.Registry(), "pages", 2)
	require.NoError(t, err)

	rel := relation(t, d, "pages_relationships")
	require.Len(t, rel.Populate, 3)
	assert.Equal(t, "users", rel.Populate["users"].Table)
	assert.Equal(t, "media", rel.Populate["media"].Table)

	// Self references are bounded by depth.
	pages := rel.Populate["pages"]
	inner := relation(t, pages, "pages_relationships")
	require.Len(t, inner.Populate, 3)
	assert.Nil(t, relation(t, inner.Populate["pages"], "pages_relationships").Populate)
}

func TestBuild_CollectionWithoutRelationships(t *testing.T) {
	d, err := query.Build(testschema.Registry(), "users", 3)
	require.NoError(t, err)

	assert.Equal(t, []string{"users"}, d.Tables())
}

func TestBuild_UnknownCollection(t *testing.T) {
	_, err := query.Build(testschema.Registry(), "nope", 0)
	assert.ErrorIs(t, err, schema.ErrUnknownCollection)
}
