// Package sqldb is a backend over database/sql, via sqlx, for PostgreSQL and
// SQLite.
//
// Dependent rows are removed by ON DELETE CASCADE foreign keys on their parent
// columns, so tables must be created with CreateTables or an equivalent DDL.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cast"

	"github.com/jacentio/docrel/backend"
	"github.com/jacentio/docrel/rows"
	"github.com/jacentio/docrel/schema"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// DB is a backend.Conn over a SQL database.
type DB struct {
	db       *sqlx.DB
	dialect  Dialect
	registry *schema.Registry
	logger   *slog.Logger
}

// Open connects to a database with a supported driver ("postgres" or
// "sqlite").
func Open(driver, dsn string, registry *schema.Registry, logger *slog.Logger) (*DB, error) {
	dialect, err := DialectFor(driver)
	if err != nil {
		return nil, err
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqldb: open %s: %w", driver, err)
	}
	d, err := New(db, dialect, registry, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

// New wraps an open database.
func New(db *sqlx.DB, dialect Dialect, registry *schema.Registry, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dialect.serial {
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			return nil, fmt.Errorf("sqldb: enable foreign keys: %w", err)
		}
	}
	return &DB{db: db, dialect: dialect, registry: registry, logger: logger}, nil
}

// Close closes the underlying database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Begin starts a transaction.
func (d *DB) Begin(ctx context.Context) (backend.Tx, error) {
	sqlTx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqldb: begin: %w", err)
	}
	return &tx{db: d, tx: sqlTx}, nil
}

// tx serializes statements; a database/sql transaction runs on one
// connection.
type tx struct {
	db *DB
	mu sync.Mutex
	tx *sqlx.Tx
}

func (t *tx) table(name string) (*schema.Table, error) {
	tbl, err := t.db.registry.Table(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", backend.ErrUnknownTable, name)
	}
	return tbl, nil
}

func checkColumns(tbl *schema.Table, rs []rows.Row) error {
	for _, r := range rs {
		for c := range r {
			if !tbl.HasColumn(c) {
				return fmt.Errorf("%w: %s.%s", backend.ErrUnknownColumn, tbl.Name, c)
			}
		}
	}
	return nil
}

func (t *tx) Insert(ctx context.Context, table string, rs []rows.Row) ([]rows.Row, error) {
	tbl, err := t.table(table)
	if err != nil {
		return nil, err
	}
	if err := checkColumns(tbl, rs); err != nil {
		return nil, err
	}
	stored := make([]rows.Row, len(rs))
	for i, r := range rs {
		r = r.Clone()
		if r.ID() == "" {
			r[rows.ColID] = uuid.NewString()
		}
		stored[i] = r
	}

	cols := columnsOf(stored)
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, chunk := range chunks(stored, len(cols)) {
		query, args := insert(table, cols, chunk)
		if _, err := t.tx.ExecContext(ctx, t.tx.Rebind(query), args...); err != nil {
			return nil, t.db.wrap(err)
		}
	}
	return stored, nil
}

func (t *tx) Upsert(ctx context.Context, table string, row rows.Row, target []string, cond []backend.Filter) (rows.Row, bool, error) {
	tbl, err := t.table(table)
	if err != nil {
		return nil, false, err
	}
	if err := checkColumns(tbl, []rows.Row{row}); err != nil {
		return nil, false, err
	}
	if len(target) == 0 {
		target = []string{rows.ColID}
	}
	row = row.Clone()
	if row.ID() == "" {
		row[rows.ColID] = uuid.NewString()
	}

	query, args := upsert(table, row, target, cond)
	query, args, err = sqlx.In(query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("sqldb: upsert %s: %w", table, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	stored, err := t.query(ctx, tbl, query, args)
	if err != nil {
		return nil, false, err
	}
	if len(stored) == 0 {
		return nil, false, nil
	}
	return stored[0], true, nil
}

func (t *tx) Delete(ctx context.Context, table string, filters ...backend.Filter) (int64, error) {
	if _, err := t.table(table); err != nil {
		return 0, err
	}
	clause, args := where("", filters)
	query, args, err := sqlx.In("DELETE FROM "+quote(table)+clause, args...)
	if err != nil {
		return 0, fmt.Errorf("sqldb: delete %s: %w", table, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	res, err := t.tx.ExecContext(ctx, t.tx.Rebind(query), args...)
	if err != nil {
		return 0, t.db.wrap(err)
	}
	return res.RowsAffected()
}

func (t *tx) Select(ctx context.Context, table string, filters []backend.Filter, order ...backend.Order) ([]rows.Row, error) {
	tbl, err := t.table(table)
	if err != nil {
		return nil, err
	}
	clause, args := where("", filters)
	query, args, err := sqlx.In("SELECT * FROM "+quote(table)+clause+orderBy(order), args...)
	if err != nil {
		return nil, fmt.Errorf("sqldb: select %s: %w", table, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.query(ctx, tbl, query, args)
}

// query runs a row-returning statement. Callers hold t.mu.
func (t *tx) query(ctx context.Context, tbl *schema.Table, query string, args []any) ([]rows.Row, error) {
	rs, err := t.tx.QueryxContext(ctx, t.tx.Rebind(query), args...)
	if err != nil {
		return nil, t.db.wrap(err)
	}
	defer rs.Close()

	var out []rows.Row
	for rs.Next() {
		m := map[string]any{}
		if err := rs.MapScan(m); err != nil {
			return nil, fmt.Errorf("sqldb: scan %s: %w", tbl.Name, err)
		}
		out = append(out, normalize(tbl, m))
	}
	if err := rs.Err(); err != nil {
		return nil, t.db.wrap(err)
	}
	return out, nil
}

func (t *tx) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.tx.Commit(); err != nil {
		if errors.Is(err, sql.ErrTxDone) {
			return backend.ErrTxDone
		}
		return t.db.wrap(err)
	}
	return nil
}

func (t *tx) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.tx.Rollback(); err != nil {
		if errors.Is(err, sql.ErrTxDone) {
			return backend.ErrTxDone
		}
		return err
	}
	return nil
}

// wrap marks driver unique violations so callers can match
// backend.ErrUniqueViolation while still reaching the driver error.
func (d *DB) wrap(err error) error {
	if d.dialect.uniqueViolation(err) {
		return fmt.Errorf("%w: %w", backend.ErrUniqueViolation, err)
	}
	return err
}

// normalize converts scanned values to the Go types docrel stores: string,
// float64, bool, JSON text and nil.
func normalize(tbl *schema.Table, m map[string]any) rows.Row {
	r := make(rows.Row, len(m))
	for k, v := range m {
		if v == nil {
			r[k] = nil
			continue
		}
		col, ok := tbl.Column(k)
		if !ok {
			r[k] = v
			continue
		}
		switch col.Type {
		case schema.ColumnNumeric:
			r[k] = cast.ToFloat64(v)
		case schema.ColumnBool:
			r[k] = cast.ToBool(v)
		default:
			if b, ok := v.([]byte); ok {
				r[k] = string(b)
			} else {
				r[k] = cast.ToString(v)
			}
		}
	}
	return r
}

// bindValue converts a row value to a driver argument.
func bindValue(v any) any {
	switch x := v.(type) {
	case nil, string, bool, float64, int64, []byte:
		return x
	case float32:
		return float64(x)
	case int, int8, int16, int32, uint, uint8, uint16, uint32, uint64:
		return cast.ToInt64(x)
	}
	return cast.ToString(v)
}
