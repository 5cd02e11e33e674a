// Package transform converts documents to relational row sets and back.
//
// Decompose is a pure function from a document to a [rows.RowToInsert] tree.
// Compose is its inverse over the result tree returned by the query package.
package transform

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
)

// Document is a caller-facing nested value: field name to scalar, nested
// document, sequence of documents, or (for localized fields) a map of locale
// code to value.
type Document = map[string]any

// Keys with meaning beyond the schema's fields.
const (
	KeyID         = "id"
	KeyBlockType  = "blockType"
	KeyBlockName  = "blockName"
	KeyRelationTo = "relationTo"
	KeyValue      = "value"
)

// ErrSchemaMismatch is returned when a document does not fit its schema.
var ErrSchemaMismatch = errors.New("docrel: document does not match schema")

func mismatch(path, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrSchemaMismatch, path, fmt.Sprintf(format, args...))
}

// Options control decomposition.
type Options struct {
	// Strict rejects document keys that match no field.
	Strict bool

	// Locales restricts the accepted locale codes. Empty accepts any.
	Locales []string

	// Path is the path prefix of the decomposed fields, e.g. "items.0.".
	Path string
}

func (o Options) allowsLocale(code string) bool {
	if len(o.Locales) == 0 {
		return code != ""
	}
	for _, l := range o.Locales {
		if l == code {
			return true
		}
	}
	return false
}

// toList returns the elements of a slice or array value.
func toList(v any) ([]any, bool) {
	if l, ok := v.([]any); ok {
		return l, true
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// toDocument returns v as a Document.
func toDocument(v any) (Document, bool) {
	switch d := v.(type) {
	case map[string]any:
		return d, true
	case nil:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(Document, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}

// sortedKeys returns the keys of a locale map in lexical order.
func sortedKeys(m Document) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func indexPath(path string, i int) string {
	return path + "." + strconv.Itoa(i) + "."
}
