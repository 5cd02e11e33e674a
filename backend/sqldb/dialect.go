package sqldb

import (
	"errors"
	"strings"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/jacentio/docrel/schema"
)

// Dialect holds what differs between the supported SQL engines.
type Dialect struct {
	// Name is the database/sql driver name.
	Name string

	types map[schema.ColumnType]string

	// uniqueViolation reports whether err is the driver's unique constraint
	// error.
	uniqueViolation func(err error) bool

	// serial engines allow a single connection per database.
	serial bool
}

// Postgres is the PostgreSQL dialect over lib/pq.
var Postgres = Dialect{
	Name: "postgres",
	types: map[schema.ColumnType]string{
		schema.ColumnText:    "text",
		schema.ColumnNumeric: "double precision",
		schema.ColumnBool:    "boolean",
		schema.ColumnJSON:    "jsonb",
	},
	uniqueViolation: func(err error) bool {
		var pqErr *pq.Error
		return errors.As(err, &pqErr) && pqErr.Code == "23505"
	},
}

// SQLite is the SQLite dialect over modernc.org/sqlite.
var SQLite = Dialect{
	Name: "sqlite",
	types: map[schema.ColumnType]string{
		schema.ColumnText:    "TEXT",
		schema.ColumnNumeric: "REAL",
		schema.ColumnBool:    "INTEGER",
		schema.ColumnJSON:    "TEXT",
	},
	uniqueViolation: func(err error) bool {
		var liteErr *sqlite.Error
		if !errors.As(err, &liteErr) {
			return false
		}
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	},
	serial: true,
}

// DialectFor returns the dialect of a driver name.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case Postgres.Name:
		return Postgres, nil
	case SQLite.Name:
		return SQLite, nil
	}
	return Dialect{}, errors.New("sqldb: unsupported driver " + driver)
}

func (d Dialect) columnType(t schema.ColumnType) string {
	if s, ok := d.types[t]; ok {
		return s
	}
	return d.types[schema.ColumnText]
}

// quote returns name as a quoted identifier.
func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
