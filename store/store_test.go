package store_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/docrel/backend"
	"github.com/jacentio/docrel/backend/memory"
	"github.com/jacentio/docrel/internal/storetest"
	"github.com/jacentio/docrel/internal/testschema"
	"github.com/jacentio/docrel/rows"
	"github.com/jacentio/docrel/schema"
	"github.com/jacentio/docrel/store"
	"github.com/jacentio/docrel/transform"
)

func TestStore_Memory(t *testing.T) {
	storetest.Run(t, func(t *testing.T, reg *schema.Registry) backend.Conn {
		return memory.New(reg)
	})
}

func newStore(t *testing.T, config store.Config) (*store.Store, *memory.DB) {
	t.Helper()
	reg := testschema.Registry()
	db := memory.New(reg)
	return store.New(db, reg, config), db
}

func TestUpsert_Validation(t *testing.T) {
	s, _ := newStore(t, store.DefaultConfig())
	ctx := context.Background()

	tests := []struct {
		name string
		in   store.UpsertInput
		want error
	}{
		{
			name: "update without id or target",
			in:   store.UpsertInput{Operation: store.OpUpdate, Collection: "pages", Data: map[string]any{}},
			want: store.ErrMissingID,
		},
		{
			name: "unknown operation",
			in:   store.UpsertInput{Operation: "merge", Collection: "pages"},
			want: store.ErrInvalidOperation,
		},
		{
			name: "unknown collection",
			in:   store.UpsertInput{Operation: store.OpCreate, Collection: "nope"},
			want: schema.ErrUnknownCollection,
		},
		{
			name: "upsert target is not a column",
			in:   store.UpsertInput{Operation: store.OpUpdate, Collection: "pages", UpsertTarget: []string{"nope"}},
			want: transform.ErrSchemaMismatch,
		},
		{
			name: "upsert target is not unique",
			in:   store.UpsertInput{Operation: store.OpUpdate, Collection: "pages", UpsertTarget: []string{"views"}, Data: map[string]any{"views": 1.0}},
			want: store.ErrInvalidOperation,
		},
		{
			name: "upsert target names several columns",
			in:   store.UpsertInput{Operation: store.OpUpdate, Collection: "pages", UpsertTarget: []string{"id", "slug"}},
			want: store.ErrInvalidOperation,
		},
		{
			name: "document mismatch",
			in:   store.UpsertInput{Operation: store.OpCreate, Collection: "pages", Data: map[string]any{"views": "many"}},
			want: transform.ErrSchemaMismatch,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Upsert(ctx, tt.in)
			assert.ErrorIs(t, err, tt.want)
			assert.NotErrorIs(t, err, store.ErrWrite)
		})
	}
}

func TestUpsert_StrictAndLocales(t *testing.T) {
	config := store.DefaultConfig()
	config.Strict = true
	config.Locales = []string{"en", "de"}
	s, db := newStore(t, config)
	ctx := context.Background()

	_, err := s.Upsert(ctx, store.UpsertInput{Operation: store.OpCreate, Collection: "pages", Data: map[string]any{"bogus": true}})
	assert.ErrorIs(t, err, transform.ErrSchemaMismatch)

	_, err = s.Upsert(ctx, store.UpsertInput{Operation: store.OpCreate, Collection: "pages", Data: map[string]any{
		"title": map[string]any{"fr": "bonjour"},
	}})
	assert.ErrorIs(t, err, transform.ErrSchemaMismatch)

	assert.Empty(t, db.Rows("pages"))
}

func TestUpsert_UpdateInsertsMissingRow(t *testing.T) {
	s, _ := newStore(t, store.DefaultConfig())

	doc, err := s.Upsert(context.Background(), store.UpsertInput{
		ID:         "fixed-id",
		Operation:  store.OpUpdate,
		Collection: "pages",
		Data:       map[string]any{"slug": "new"},
	})
	require.NoError(t, err)
	assert.Equal(t, transform.Document{"id": "fixed-id", "slug": "new"}, doc)
}

func TestUpsert_CreateWithID(t *testing.T) {
	s, _ := newStore(t, store.DefaultConfig())

	doc, err := s.Upsert(context.Background(), store.UpsertInput{
		ID:         "p-1",
		Operation:  store.OpCreate,
		Collection: "pages",
		Data:       map[string]any{"slug": "x"},
	})
	require.NoError(t, err)
	assert.Equal(t, "p-1", doc["id"])
}

func TestUpsert_ConcurrentDocuments(t *testing.T) {
	s, db := newStore(t, store.DefaultConfig())
	ctx := context.Background()

	const n = 16
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			data := testschema.PageDocument()
			data["slug"] = fmt.Sprintf("page-%d", i)
			if _, err := s.Upsert(ctx, store.UpsertInput{Operation: store.OpCreate, Collection: "pages", Data: data}); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("upsert failed: %v", err)
	}

	assert.Len(t, db.Rows("pages"), n)
	assert.Len(t, db.Rows("pages_items"), 2*n)
	assert.Len(t, db.Rows("pages_quote"), 2*n)
}

// inflightConn records the most writes a transaction had in flight at once.
type inflightConn struct {
	backend.Conn
	cur, max atomic.Int64
}

func (c *inflightConn) Begin(ctx context.Context) (backend.Tx, error) {
	tx, err := c.Conn.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &inflightTx{Tx: tx, conn: c}, nil
}

func (c *inflightConn) enter() func() {
	n := c.cur.Add(1)
	for {
		m := c.max.Load()
		if n <= m || c.max.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(2 * time.Millisecond)
	return func() { c.cur.Add(-1) }
}

type inflightTx struct {
	backend.Tx
	conn *inflightConn
}

func (t *inflightTx) Insert(ctx context.Context, table string, rs []rows.Row) ([]rows.Row, error) {
	defer t.conn.enter()()
	return t.Tx.Insert(ctx, table, rs)
}

func (t *inflightTx) Delete(ctx context.Context, table string, where ...backend.Filter) (int64, error) {
	defer t.conn.enter()()
	return t.Tx.Delete(ctx, table, where...)
}

func TestUpsert_MaxConcurrency(t *testing.T) {
	reg := testschema.Registry()
	conn := &inflightConn{Conn: memory.New(reg)}
	config := store.DefaultConfig()
	config.MaxConcurrency = 2
	s := store.New(conn, reg, config)
	ctx := context.Background()

	doc, err := s.Upsert(ctx, store.UpsertInput{Operation: store.OpCreate, Collection: "pages", Data: testschema.PageDocument()})
	require.NoError(t, err)
	_, err = s.Upsert(ctx, store.UpsertInput{ID: doc["id"].(string), Operation: store.OpUpdate, Collection: "pages", Data: testschema.PageDocument()})
	require.NoError(t, err)

	assert.Positive(t, conn.max.Load())
	assert.LessOrEqual(t, conn.max.Load(), int64(2))
}

func TestUpsert_NestedArrayFailure(t *testing.T) {
	reg := testschema.Registry()
	conn := storetest.NewFaultConn(memory.New(reg))
	s := store.New(conn, reg, store.DefaultConfig())
	injected := errors.New("injected failure")
	conn.FailInsert("pages_items_sub", injected)

	_, err := s.Upsert(context.Background(), store.UpsertInput{Operation: store.OpCreate, Collection: "pages", Data: testschema.PageDocument()})
	require.ErrorIs(t, err, store.ErrWrite)
	assert.ErrorIs(t, err, injected)
	var taskErr *store.TaskError
	require.ErrorAs(t, err, &taskErr)
	assert.Equal(t, "arrays", taskErr.Task)
	assert.Equal(t, "pages_items_sub", taskErr.Table)
}

func TestFind_DefaultDepth(t *testing.T) {
	config := store.DefaultConfig()
	config.ReadDepth = 1
	s, _ := newStore(t, config)
	ctx := context.Background()

	user, err := s.Upsert(ctx, store.UpsertInput{Operation: store.OpCreate, Collection: "users", Data: map[string]any{"name": "Ann"}})
	require.NoError(t, err)
	page, err := s.Upsert(ctx, store.UpsertInput{Operation: store.OpCreate, Collection: "pages", Data: map[string]any{"author": user["id"]}})
	require.NoError(t, err)

	doc, err := s.Find(ctx, "pages", page["id"].(string), -1)
	require.NoError(t, err)
	assert.Equal(t, user, doc["author"])

	doc, err = s.Find(ctx, "pages", page["id"].(string), 0)
	require.NoError(t, err)
	assert.Equal(t, user["id"], doc["author"])
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := store.NewMetrics(reg)
	require.NoError(t, err)

	config := store.DefaultConfig()
	config.Metrics = metrics
	s, _ := newStore(t, config)
	ctx := context.Background()

	_, err = s.Upsert(ctx, store.UpsertInput{Operation: store.OpCreate, Collection: "pages", Data: map[string]any{"slug": "a"}})
	require.NoError(t, err)
	_, err = s.Upsert(ctx, store.UpsertInput{Operation: store.OpCreate, Collection: "pages", Data: map[string]any{"slug": "a"}})
	require.Error(t, err)
	_, err = s.Upsert(ctx, store.UpsertInput{Operation: store.OpUpdate, Collection: "pages"})
	require.Error(t, err)

	count, err := testutil.GatherAndCount(reg, "docrel_upserts_total")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	_, err = store.NewMetrics(reg)
	assert.Error(t, err, "registering twice must fail")
}

func TestBuildReadDescriptor(t *testing.T) {
	s, _ := newStore(t, store.DefaultConfig())

	d, err := s.BuildReadDescriptor("pages", 0)
	require.NoError(t, err)
	assert.Equal(t, "pages", d.Table)
	assert.Contains(t, d.Tables(), "pages_items_sub")
}
