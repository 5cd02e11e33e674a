package store

import (
	"context"

	"github.com/jacentio/docrel/backend"
	"github.com/jacentio/docrel/rows"
)

// pathColumns names the parent, path and locale columns of a table whose
// rows are addressed by field path.
type pathColumns struct {
	parent string
	path   string
	locale string
}

// pruneByPath deletes the rows of table owned by parentID whose path is among
// the paths of scope, restricted to the row's locale when it carries one,
// and the rows whose path starts with any of prefixes. Other paths are left
// untouched.
func pruneByPath(ctx context.Context, tx backend.Tx, table string, cols pathColumns, parentID string, scope []rows.Row, prefixes []string) error {
	byLocale := make(map[string][]string)
	seen := make(map[[2]string]bool)
	for _, r := range scope {
		path := r.String(cols.path)
		if path == "" {
			continue
		}
		locale := r.String(cols.locale)
		key := [2]string{locale, path}
		if seen[key] {
			continue
		}
		seen[key] = true
		byLocale[locale] = append(byLocale[locale], path)
	}

	for _, locale := range sortedKeys(byLocale) {
		where := []backend.Filter{
			backend.Eq(cols.parent, parentID),
			backend.In(cols.path, byLocale[locale]),
		}
		if locale != "" {
			where = append(where, backend.Eq(cols.locale, locale))
		}
		if _, err := tx.Delete(ctx, table, where...); err != nil {
			return err
		}
	}

	for _, prefix := range prefixes {
		if _, err := tx.Delete(ctx, table, backend.Eq(cols.parent, parentID), backend.Prefix(cols.path, prefix)); err != nil {
			return err
		}
	}
	return nil
}
