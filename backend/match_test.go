package backend_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jacentio/docrel/backend"
	"github.com/jacentio/docrel/rows"
)

func TestMatch(t *testing.T) {
	row := rows.Row{"id": "a", "path": "items.1.tags", "order": 2, "locale": nil}

	tests := []struct {
		name  string
		where []backend.Filter
		want  bool
	}{
		{"no filters", nil, true},
		{"eq", []backend.Filter{backend.Eq("id", "a")}, true},
		{"eq mismatch", []backend.Filter{backend.Eq("id", "b")}, false},
		{"eq across number types", []backend.Filter{backend.Eq("order", 2.0)}, true},
		{"eq nil matches nil", []backend.Filter{backend.Eq("locale", nil)}, true},
		{"eq nil matches absent", []backend.Filter{backend.Eq("missing", nil)}, true},
		{"eq absent", []backend.Filter{backend.Eq("missing", "x")}, false},
		{"in", []backend.Filter{backend.In("id", []string{"x", "a"})}, true},
		{"in mismatch", []backend.Filter{backend.In("id", []string{"x"})}, false},
		{"in empty", []backend.Filter{backend.In("id", []string{})}, false},
		{"prefix", []backend.Filter{backend.Prefix("path", "items.1.")}, true},
		{"prefix mismatch", []backend.Filter{backend.Prefix("path", "items.10")}, false},
		{"prefix on number", []backend.Filter{backend.Prefix("order", "2")}, false},
		{"null", []backend.Filter{backend.IsNull("locale")}, true},
		{"null absent", []backend.Filter{backend.IsNull("missing")}, true},
		{"null set", []backend.Filter{backend.IsNull("id")}, false},
		{"all must hold", []backend.Filter{backend.Eq("id", "a"), backend.Eq("order", 3)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, backend.Match(row, tt.where))
		})
	}
}

func TestSort(t *testing.T) {
	rs := []rows.Row{
		{"id": "c", "order": 3.0, "path": "b"},
		{"id": "a", "order": 1, "path": "b"},
		{"id": "n", "path": "a"},
		{"id": "b", "order": int64(2), "path": "a"},
	}

	backend.Sort(rs, []backend.Order{backend.Asc("order")})
	assert.Equal(t, []string{"n", "a", "b", "c"}, ids(rs))

	backend.Sort(rs, []backend.Order{backend.Asc("path"), {Column: "order", Desc: true}})
	assert.Equal(t, []string{"b", "n", "c", "a"}, ids(rs))

	backend.Sort(rs, nil)
	assert.Equal(t, []string{"b", "n", "c", "a"}, ids(rs), "no order keeps rows in place")
}

func ids(rs []rows.Row) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.ID()
	}
	return out
}
