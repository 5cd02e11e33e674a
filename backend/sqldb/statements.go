package sqldb

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/jacentio/docrel/backend"
	"github.com/jacentio/docrel/rows"
)

// maxParams bounds the bind parameters of one statement. SQLite allows 32766,
// PostgreSQL 65535.
const maxParams = 32000

// where renders filters as a conjunction with ? placeholders. qualifier, when
// set, prefixes every column.
func where(qualifier string, filters []backend.Filter) (string, []any) {
	if len(filters) == 0 {
		return "", nil
	}
	var (
		parts []string
		args  []any
	)
	for _, f := range filters {
		col := quote(f.Column())
		if qualifier != "" {
			col = quote(qualifier) + "." + col
		}
		switch f.Op() {
		case backend.OpEq:
			if f.Value() == nil {
				parts = append(parts, col+" IS NULL")
				continue
			}
			parts = append(parts, col+" = ?")
			args = append(args, bindValue(f.Value()))
		case backend.OpIn:
			if len(f.Values()) == 0 {
				parts = append(parts, "1 = 0")
				continue
			}
			vs := make([]any, len(f.Values()))
			for i, v := range f.Values() {
				vs[i] = bindValue(v)
			}
			parts = append(parts, col+" IN (?)")
			args = append(args, vs)
		case backend.OpPrefix:
			prefix := fmt.Sprint(f.Value())
			parts = append(parts, "substr("+col+", 1, ?) = ?")
			args = append(args, utf8.RuneCountInString(prefix), prefix)
		case backend.OpNull:
			parts = append(parts, col+" IS NULL")
		}
	}
	return " WHERE " + strings.Join(parts, " AND "), args
}

func orderBy(order []backend.Order) string {
	if len(order) == 0 {
		return ""
	}
	parts := make([]string, len(order))
	for i, o := range order {
		if o.Desc {
			parts[i] = quote(o.Column) + " DESC NULLS LAST"
		} else {
			parts[i] = quote(o.Column) + " ASC NULLS FIRST"
		}
	}
	return " ORDER BY " + strings.Join(parts, ", ")
}

// columnsOf returns the sorted union of the columns of rs.
func columnsOf(rs []rows.Row) []string {
	seen := map[string]bool{}
	var cols []string
	for _, r := range rs {
		for c := range r {
			if !seen[c] {
				seen[c] = true
				cols = append(cols, c)
			}
		}
	}
	sort.Strings(cols)
	return cols
}

// insert renders a multi-row INSERT. Columns a row lacks are bound as NULL.
func insert(table string, cols []string, rs []rows.Row) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(quote(table))
	b.WriteString(" (")
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quote(c))
	}
	b.WriteString(") VALUES ")

	placeholders := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + ")"
	args := make([]any, 0, len(cols)*len(rs))
	for i, r := range rs {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholders)
		for _, c := range cols {
			args = append(args, bindValue(r[c]))
		}
	}
	return b.String(), args
}

// upsert renders an INSERT ... ON CONFLICT DO UPDATE returning the stored row.
// The conflicting row keeps its id and target values; with cond set, it is
// only overwritten when cond holds for it.
func upsert(table string, row rows.Row, target []string, cond []backend.Filter) (string, []any) {
	cols := columnsOf([]rows.Row{row})
	query, args := insert(table, cols, []rows.Row{row})

	skip := map[string]bool{rows.ColID: true}
	quotedTarget := make([]string, len(target))
	for i, c := range target {
		skip[c] = true
		quotedTarget[i] = quote(c)
	}
	var set []string
	for _, c := range cols {
		if !skip[c] {
			set = append(set, quote(c)+" = excluded."+quote(c))
		}
	}
	if len(set) == 0 {
		set = append(set, quotedTarget[0]+" = excluded."+quotedTarget[0])
	}

	query += " ON CONFLICT (" + strings.Join(quotedTarget, ", ") + ") DO UPDATE SET " + strings.Join(set, ", ")
	clause, condArgs := where(table, cond)
	query += clause + " RETURNING *"
	return query, append(args, condArgs...)
}

// chunks splits rs so that no statement binds more than maxParams values.
func chunks(rs []rows.Row, width int) [][]rows.Row {
	size := maxParams / max(width, 1)
	var out [][]rows.Row
	for len(rs) > size {
		out = append(out, rs[:size])
		rs = rs[size:]
	}
	if len(rs) > 0 {
		out = append(out, rs)
	}
	return out
}
