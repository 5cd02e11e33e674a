package sqldb

import (
	"context"
	"fmt"
	"strings"

	"github.com/jacentio/docrel/rows"
	"github.com/jacentio/docrel/schema"
)

// DDL returns the CREATE statements of every registered table, parents first.
func DDL(dialect Dialect, registry *schema.Registry) []string {
	var stmts []string
	for _, t := range registry.Tables() {
		stmts = append(stmts, createTable(dialect, t))
		stmts = append(stmts, createIndexes(t)...)
	}
	return stmts
}

func createTable(dialect Dialect, t *schema.Table) string {
	defs := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		def := quote(c.Name) + " " + dialect.columnType(c.Type)
		switch {
		case c.Name == rows.ColID:
			def += " PRIMARY KEY"
		case c.Name == t.ParentColumn:
			def += " NOT NULL REFERENCES " + quote(t.ParentTable) + " (" + quote(rows.ColID) + ") ON DELETE CASCADE"
		default:
			if c.NotNull {
				def += " NOT NULL"
			}
			if c.Unique {
				def += " UNIQUE"
			}
		}
		defs = append(defs, def)
	}
	return "CREATE TABLE IF NOT EXISTS " + quote(t.Name) + " (\n\t" + strings.Join(defs, ",\n\t") + "\n)"
}

func createIndexes(t *schema.Table) []string {
	if t.ParentColumn == "" {
		return nil
	}
	cols := []string{t.ParentColumn}
	switch t.ID.Kind {
	case schema.TableRelationships, schema.TableNumbers, schema.TableSelect:
		cols = append(cols, rows.ColRelPath)
	case schema.TableBlock:
		cols = append(cols, rows.ColPath)
	}
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quote(c)
	}
	return []string{fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
		quote(t.Name+"_"+strings.Join(cols, "_")+"_idx"), quote(t.Name), strings.Join(quoted, ", "))}
}

// CreateTables creates every registered table that does not exist yet. It
// never alters existing tables.
func (d *DB) CreateTables(ctx context.Context) error {
	for _, stmt := range DDL(d.dialect, d.registry) {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqldb: create tables: %w", err)
		}
	}
	d.logger.Debug("sqldb: tables created", "driver", d.dialect.Name, "tables", len(d.registry.Tables()))
	return nil
}
