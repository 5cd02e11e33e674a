// Package storetest runs the document store properties against any backend.
package storetest

import (
	"context"
	"errors"
	"testing"

	"github.com/spf13/cast"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/docrel/backend"
	"github.com/jacentio/docrel/internal/testschema"
	"github.com/jacentio/docrel/rows"
	"github.com/jacentio/docrel/schema"
	"github.com/jacentio/docrel/store"
	"github.com/jacentio/docrel/transform"
)

// Opener returns an empty backend holding the tables of reg.
type Opener func(t *testing.T, reg *schema.Registry) backend.Conn

type harness struct {
	t     *testing.T
	ctx   context.Context
	reg   *schema.Registry
	conn  *FaultConn
	store *store.Store
}

func newHarness(t *testing.T, open Opener) *harness {
	reg := testschema.Registry()
	conn := NewFaultConn(open(t, reg))
	return &harness{
		t:     t,
		ctx:   context.Background(),
		reg:   reg,
		conn:  conn,
		store: store.New(conn, reg, store.DefaultConfig()),
	}
}

func (h *harness) create(collection string, data map[string]any) transform.Document {
	h.t.Helper()
	doc, err := h.store.Upsert(h.ctx, store.UpsertInput{Operation: store.OpCreate, Collection: collection, Data: data})
	require.NoError(h.t, err)
	return doc
}

func (h *harness) update(id string, data map[string]any) transform.Document {
	h.t.Helper()
	doc, err := h.store.Upsert(h.ctx, store.UpsertInput{ID: id, Operation: store.OpUpdate, Collection: "pages", Data: data})
	require.NoError(h.t, err)
	return doc
}

func (h *harness) find(id string) transform.Document {
	h.t.Helper()
	doc, err := h.store.Find(h.ctx, "pages", id, 0)
	require.NoError(h.t, err)
	return doc
}

// rows returns the rows of table matching where, outside any write.
func (h *harness) rows(table string, where ...backend.Filter) []rows.Row {
	h.t.Helper()
	tx, err := h.conn.Begin(h.ctx)
	require.NoError(h.t, err)
	defer func() { _ = tx.Rollback() }()
	rs, err := tx.Select(h.ctx, table, where)
	require.NoError(h.t, err)
	return rs
}

func (h *harness) paths(table, parent, id string) []string {
	h.t.Helper()
	var out []string
	for _, r := range h.rows(table, backend.Eq(parent, id)) {
		out = append(out, r.String(rows.ColRelPath))
	}
	return out
}

func id(doc transform.Document) string {
	return doc[transform.KeyID].(string)
}

// Run exercises a Store on backends returned by open.
func Run(t *testing.T, open Opener) {
	tests := []struct {
		name string
		fn   func(t *testing.T, h *harness)
	}{
		{"RoundTrip", testRoundTrip},
		{"ReplaceNotMerge", testReplaceNotMerge},
		{"OrderPreservation", testOrderPreservation},
		{"LocaleSparsity", testLocaleSparsity},
		{"BlockTagging", testBlockTagging},
		{"AtomicFailure", testAtomicFailure},
		{"PathIsolation", testPathIsolation},
		{"Delete", testDelete},
		{"UpsertTarget", testUpsertTarget},
		{"ConflictNotUpdated", testConflictNotUpdated},
		{"UniqueViolation", testUniqueViolation},
		{"Populate", testPopulate},
		{"ReconstructError", testReconstructError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newHarness(t, open))
		})
	}
}

func testRoundTrip(t *testing.T, h *harness) {
	doc := h.create("pages", testschema.PageDocument())

	assert.NotEmpty(t, id(doc))
	assert.Equal(t, testschema.PageDocument(), testschema.StripIDs(doc))
	assert.Equal(t, doc, h.find(id(doc)))
}

func testReplaceNotMerge(t *testing.T, h *harness) {
	created := h.create("pages", testschema.PageDocument())
	pid := id(created)

	next := testschema.PageDocument()
	delete(next, "reviewers")
	delete(next, "layout")
	delete(next, "translations")
	delete(next["hero"].(map[string]any), "links")
	next["items"] = []any{
		map[string]any{"label": "one", "caption": map[string]any{"en": "c1"}, "owner": "u1"},
	}

	doc := h.update(pid, next)
	assert.Equal(t, next, testschema.StripIDs(doc))

	// No row of the removed subtrees survives.
	for _, table := range []string{"pages_quote", "pages_video", "pages_translations"} {
		assert.Empty(t, h.rows(table, backend.Eq(rows.ColParentID, pid)), table)
	}
	for _, table := range []string{"pages_quote_locales", "pages_quote_sources", "pages_items_sub", "pages_hero_links"} {
		assert.Empty(t, h.rows(table), table)
	}
	assert.Empty(t, h.rows("pages_items_kinds", backend.Eq(rows.ColParent, pid)))
	assert.ElementsMatch(t, []string{"author", "related", "related", "hero.image", "items.0.owner"},
		h.paths("pages_relationships", rows.ColParent, pid))
	assert.ElementsMatch(t, []string{"scores", "scores", "scores"}, h.paths("pages_numbers", rows.ColParent, pid))
	assert.Len(t, h.rows("pages_items", backend.Eq(rows.ColParentID, pid)), 1)
}

func testOrderPreservation(t *testing.T, h *harness) {
	doc := h.create("pages", map[string]any{
		"tags":      []any{"news", "tech", "sport"},
		"scores":    []any{1.0, 2.0, 3.0},
		"reviewers": []any{"a", "b", "c"},
		"items":     []any{map[string]any{"label": "a"}, map[string]any{"label": "b"}},
	})
	assert.Equal(t, []any{"news", "tech", "sport"}, doc["tags"])
	assert.Equal(t, []any{1.0, 2.0, 3.0}, doc["scores"])
	assert.Equal(t, []any{"a", "b", "c"}, doc["reviewers"])

	doc = h.update(id(doc), map[string]any{
		"tags":      []any{"sport", "news", "tech"},
		"scores":    []any{3.0, 1.0, 2.0},
		"reviewers": []any{"c", "a", "b"},
		"items":     []any{map[string]any{"label": "b"}, map[string]any{"label": "a"}},
	})
	assert.Equal(t, []any{"sport", "news", "tech"}, doc["tags"])
	assert.Equal(t, []any{3.0, 1.0, 2.0}, doc["scores"])
	assert.Equal(t, []any{"c", "a", "b"}, doc["reviewers"])
	assert.Equal(t, []any{map[string]any{"label": "b"}, map[string]any{"label": "a"}}, testschema.StripIDs(doc["items"]))
}

func testLocaleSparsity(t *testing.T, h *harness) {
	doc := h.create("pages", map[string]any{
		"title": map[string]any{"en": "only english"},
	})

	locales := h.rows("pages_locales", backend.Eq(rows.ColParentID, id(doc)))
	require.Len(t, locales, 1)
	assert.Equal(t, "en", locales[0].String(rows.ColLocale))
	assert.Equal(t, map[string]any{"en": "only english"}, doc["title"])
}

func testBlockTagging(t *testing.T, h *harness) {
	doc := h.create("pages", map[string]any{
		"layout": []any{
			map[string]any{"blockType": "quote", "text": "first"},
			map[string]any{"blockType": "video", "url": "/v"},
			map[string]any{"blockType": "quote", "text": "second"},
		},
	})
	pid := id(doc)

	quotes := h.rows("pages_quote", backend.Eq(rows.ColParentID, pid))
	videos := h.rows("pages_video", backend.Eq(rows.ColParentID, pid))
	require.Len(t, quotes, 2)
	require.Len(t, videos, 1)

	orders := map[string]int{}
	for _, r := range append(quotes, videos...) {
		orders[r.String("text")+r.String("url")] = cast.ToInt(r[rows.ColOrder])
		assert.Equal(t, "layout", r.String(rows.ColPath))
	}
	assert.Equal(t, map[string]int{"first": 1, "/v": 2, "second": 3}, orders)

	var types []string
	for _, el := range doc["layout"].([]any) {
		types = append(types, el.(map[string]any)["blockType"].(string))
	}
	assert.Equal(t, []string{"quote", "video", "quote"}, types)
}

func testAtomicFailure(t *testing.T, h *harness) {
	before := h.create("pages", testschema.PageDocument())
	pid := id(before)

	injected := errors.New("injected failure")
	h.conn.FailInsert("pages_numbers", injected)

	next := testschema.PageDocument()
	next["views"] = 99.0
	next["title"] = map[string]any{"en": "changed"}
	next["scores"] = []any{9.0}
	_, err := h.store.Upsert(h.ctx, store.UpsertInput{ID: pid, Operation: store.OpUpdate, Collection: "pages", Data: next})

	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrWrite)
	assert.ErrorIs(t, err, injected)
	var taskErr *store.TaskError
	require.ErrorAs(t, err, &taskErr)
	assert.Equal(t, "numbers", taskErr.Task)
	assert.Equal(t, "pages_numbers", taskErr.Table)

	h.conn.Reset()
	assert.Equal(t, before, h.find(pid))
}

func testPathIsolation(t *testing.T, h *harness) {
	doc := h.create("pages", map[string]any{
		"author":    "u1",
		"reviewers": []any{"u2"},
	})
	pid := id(doc)

	doc = h.update(pid, map[string]any{
		"author":    "u1",
		"reviewers": []any{"u3", "u1"},
	})
	assert.Equal(t, "u1", doc["author"])
	assert.Equal(t, []any{"u3", "u1"}, doc["reviewers"])

	authors := h.rows("pages_relationships", backend.Eq(rows.ColParent, pid), backend.Eq(rows.ColRelPath, "author"))
	require.Len(t, authors, 1)
	assert.Equal(t, "u1", authors[0].String(rows.TargetColumn("users")))
}

func testDelete(t *testing.T, h *harness) {
	doc := h.create("pages", testschema.PageDocument())
	pid := id(doc)
	other := h.create("pages", map[string]any{"slug": "other", "tags": []any{"news"}})

	require.NoError(t, h.store.Delete(h.ctx, "pages", pid))

	_, err := h.store.Find(h.ctx, "pages", pid, 0)
	assert.ErrorIs(t, err, store.ErrNotFound)
	for _, table := range h.reg.Tables() {
		if table.ID.Base != "pages" || table.ID.Kind == schema.TableBase {
			continue
		}
		if table.Name == "pages_tags" {
			assert.Len(t, h.rows(table.Name), 1, table.Name)
			continue
		}
		assert.Empty(t, h.rows(table.Name), table.Name)
	}
	assert.Equal(t, other, h.find(id(other)))

	err = h.store.Delete(h.ctx, "pages", pid)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testUpsertTarget(t *testing.T, h *harness) {
	created := h.create("pages", map[string]any{"slug": "hello", "views": 1.0})

	doc, err := h.store.Upsert(h.ctx, store.UpsertInput{
		Operation:    store.OpUpdate,
		Collection:   "pages",
		UpsertTarget: []string{"slug"},
		Data:         map[string]any{"slug": "hello", "views": 2.0},
	})
	require.NoError(t, err)

	assert.Equal(t, id(created), id(doc))
	assert.Equal(t, 2.0, doc["views"])
	assert.Len(t, h.rows("pages"), 1)
}

func testConflictNotUpdated(t *testing.T, h *harness) {
	created := h.create("pages", map[string]any{"slug": "s", "status": "draft"})

	_, err := h.store.Upsert(h.ctx, store.UpsertInput{
		ID:         id(created),
		Operation:  store.OpUpdate,
		Collection: "pages",
		Data:       map[string]any{"status": "published"},
		Where:      []backend.Filter{backend.Eq("status", "published")},
	})
	assert.ErrorIs(t, err, store.ErrConflictNotUpdated)
	assert.Equal(t, created, h.find(id(created)))

	doc, err := h.store.Upsert(h.ctx, store.UpsertInput{
		ID:         id(created),
		Operation:  store.OpUpdate,
		Collection: "pages",
		Data:       map[string]any{"status": "published"},
		Where:      []backend.Filter{backend.Eq("status", "draft")},
	})
	require.NoError(t, err)
	assert.Equal(t, "published", doc["status"])
}

func testUniqueViolation(t *testing.T, h *harness) {
	h.create("pages", map[string]any{"slug": "taken"})

	_, err := h.store.Upsert(h.ctx, store.UpsertInput{
		Operation:  store.OpCreate,
		Collection: "pages",
		Data:       map[string]any{"slug": "taken"},
	})
	assert.ErrorIs(t, err, backend.ErrUniqueViolation)
	assert.ErrorIs(t, err, store.ErrWrite)
	assert.Len(t, h.rows("pages"), 1)
}

func testPopulate(t *testing.T, h *harness) {
	user := h.create("users", map[string]any{"name": "Ann", "email": "ann@example.com"})
	media := h.create("media", map[string]any{"alt": "pic"})

	doc, err := h.store.Upsert(h.ctx, store.UpsertInput{
		Operation:  store.OpCreate,
		Collection: "pages",
		Depth:      1,
		Data: map[string]any{
			"author":  id(user),
			"related": []any{map[string]any{"relationTo": "media", "value": id(media)}},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, user, doc["author"])
	assert.Equal(t, []any{map[string]any{"relationTo": "media", "value": media}}, doc["related"])

	shallow := h.find(id(doc))
	assert.Equal(t, id(user), shallow["author"])
}

func testReconstructError(t *testing.T, h *harness) {
	injected := errors.New("read failure")
	h.conn.FailSelect("pages", injected)

	_, err := h.store.Upsert(h.ctx, store.UpsertInput{
		Operation:  store.OpCreate,
		Collection: "pages",
		Data:       map[string]any{"slug": "committed"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrReconstruct)
	assert.NotErrorIs(t, err, store.ErrWrite)
	var rerr *store.ReconstructError
	require.ErrorAs(t, err, &rerr)

	h.conn.Reset()
	doc := h.find(rerr.ID)
	assert.Equal(t, "committed", doc["slug"])
}
