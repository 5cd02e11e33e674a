package sqldb

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/docrel/backend"
	"github.com/jacentio/docrel/internal/storetest"
	"github.com/jacentio/docrel/internal/testschema"
	"github.com/jacentio/docrel/rows"
	"github.com/jacentio/docrel/schema"
)

func openSQLite(t *testing.T, reg *schema.Registry) *DB {
	t.Helper()
	db, err := Open("sqlite", ":memory:", reg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.CreateTables(context.Background()))
	return db
}

func TestStore_SQLite(t *testing.T) {
	storetest.Run(t, func(t *testing.T, reg *schema.Registry) backend.Conn {
		return openSQLite(t, reg)
	})
}

func TestWhere(t *testing.T) {
	clause, args := where("", []backend.Filter{
		backend.Eq("a", 1),
		backend.In("b", []string{"x", "y"}),
		backend.Prefix("p", "it"),
		backend.IsNull("l"),
		backend.Eq("n", nil),
	})
	assert.Equal(t, ` WHERE "a" = ? AND "b" IN (?) AND substr("p", 1, ?) = ? AND "l" IS NULL AND "n" IS NULL`, clause)
	assert.Equal(t, []any{int64(1), []any{"x", "y"}, 2, "it"}, args)

	clause, args = where("", []backend.Filter{backend.In("b", []string{})})
	assert.Equal(t, " WHERE 1 = 0", clause)
	assert.Empty(t, args)

	clause, _ = where("", nil)
	assert.Empty(t, clause)
}

func TestUpsertStatement(t *testing.T) {
	query, args := upsert("pages",
		rows.Row{"id": "p1", "slug": "s", "views": 1.0},
		[]string{"slug"},
		[]backend.Filter{backend.Eq("status", "draft")},
	)
	assert.Equal(t, `INSERT INTO "pages" ("id", "slug", "views") VALUES (?, ?, ?)`+
		` ON CONFLICT ("slug") DO UPDATE SET "views" = excluded."views"`+
		` WHERE "pages"."status" = ? RETURNING *`, query)
	assert.Equal(t, []any{"p1", "s", 1.0, "draft"}, args)

	query, _ = upsert("pages", rows.Row{"id": "p1"}, []string{"id"}, nil)
	assert.True(t, strings.HasSuffix(query, `DO UPDATE SET "id" = excluded."id" RETURNING *`), query)
}

func TestInsertStatement(t *testing.T) {
	rs := []rows.Row{{"id": "a", "x": "1"}, {"id": "b", "y": true}}
	cols := columnsOf(rs)
	query, args := insert("t", cols, rs)
	assert.Equal(t, `INSERT INTO "t" ("id", "x", "y") VALUES (?, ?, ?), (?, ?, ?)`, query)
	assert.Equal(t, []any{"a", "1", nil, "b", nil, true}, args)
}

func TestChunks(t *testing.T) {
	rs := make([]rows.Row, 10)
	got := chunks(rs, maxParams/4)
	require.Len(t, got, 3)
	assert.Len(t, got[0], 4)
	assert.Len(t, got[2], 2)
	assert.Empty(t, chunks(nil, 3))
}

func TestDDL(t *testing.T) {
	stmts := DDL(Postgres, testschema.Registry())
	joined := strings.Join(stmts, ";\n")

	assert.True(t, strings.HasPrefix(stmts[0], `CREATE TABLE IF NOT EXISTS "users"`))
	assert.Contains(t, joined, `"slug" text UNIQUE`)
	assert.Contains(t, joined, `"views" double precision`)
	assert.Contains(t, joined, `"meta" jsonb`)
	assert.Contains(t, joined, `"_parentID" text NOT NULL REFERENCES "pages_items" ("id") ON DELETE CASCADE`)
	assert.Contains(t, joined, `CREATE INDEX IF NOT EXISTS "pages_relationships_parent_path_idx" ON "pages_relationships" ("parent", "path")`)

	sqlite := strings.Join(DDL(SQLite, testschema.Registry()), ";\n")
	assert.Contains(t, sqlite, `"published" INTEGER`)
}

func TestUniqueViolation_SQLite(t *testing.T) {
	db := openSQLite(t, testschema.Registry())
	ctx := context.Background()

	tx, err := db.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Insert(ctx, "users", []rows.Row{{"email": "a@x"}})
	require.NoError(t, err)
	_, err = tx.Insert(ctx, "users", []rows.Row{{"email": "a@x"}})
	assert.ErrorIs(t, err, backend.ErrUniqueViolation)
}

func TestTx_SQLite(t *testing.T) {
	db := openSQLite(t, testschema.Registry())
	ctx := context.Background()

	tx, err := db.Begin(ctx)
	require.NoError(t, err)

	_, err = tx.Insert(ctx, "nope", []rows.Row{{"id": "x"}})
	assert.ErrorIs(t, err, backend.ErrUnknownTable)
	_, err = tx.Insert(ctx, "users", []rows.Row{{"nope": "x"}})
	assert.ErrorIs(t, err, backend.ErrUnknownColumn)

	stored, err := tx.Insert(ctx, "pages", []rows.Row{{"id": "p1", "views": 3, "published": true, "meta": `{"a":1}`}})
	require.NoError(t, err)
	assert.Equal(t, "p1", stored[0].ID())

	_, err = tx.Insert(ctx, "pages_numbers", []rows.Row{
		{"parent": "p1", "path": "scores", "order": 2, "number": 5.5},
		{"parent": "p1", "path": "scores", "order": 1, "number": 1},
	})
	require.NoError(t, err)

	got, err := tx.Select(ctx, "pages", []backend.Filter{backend.Eq("id", "p1")})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 3.0, got[0]["views"])
	assert.Equal(t, true, got[0]["published"])
	assert.Equal(t, `{"a":1}`, got[0]["meta"])
	assert.Nil(t, got[0]["slug"])

	nums, err := tx.Select(ctx, "pages_numbers", []backend.Filter{backend.Prefix("path", "sco")}, backend.Asc("order"))
	require.NoError(t, err)
	require.Len(t, nums, 2)
	assert.Equal(t, 1.0, nums[0]["number"])
	assert.Equal(t, 5.5, nums[1]["number"])

	up, ok, err := tx.Upsert(ctx, "pages", rows.Row{"id": "p1", "slug": "s"}, nil, []backend.Filter{backend.Eq("slug", "other")})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, up)

	up, ok, err = tx.Upsert(ctx, "pages", rows.Row{"id": "p1", "slug": "s"}, nil, nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "s", up["slug"])
	assert.Equal(t, 3.0, up["views"])

	n, err := tx.Delete(ctx, "pages", backend.Eq("id", "p1"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	nums, err = tx.Select(ctx, "pages_numbers", nil)
	require.NoError(t, err)
	assert.Empty(t, nums, "numbers cascade with their page")

	require.NoError(t, tx.Commit())
	assert.ErrorIs(t, tx.Rollback(), backend.ErrTxDone)
}
