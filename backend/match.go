package backend

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cast"

	"github.com/jacentio/docrel/rows"
)

// Match reports whether row satisfies every filter. Backends that evaluate
// filters client-side share this.
func Match(row rows.Row, where []Filter) bool {
	for _, f := range where {
		v, present := row[f.column]
		switch f.op {
		case OpEq:
			if f.value == nil {
				if present && v != nil {
					return false
				}
				continue
			}
			if !present || !equal(v, f.value) {
				return false
			}
		case OpIn:
			found := false
			for _, candidate := range f.values {
				if present && equal(v, candidate) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		case OpPrefix:
			s, ok := v.(string)
			if !ok || !strings.HasPrefix(s, cast.ToString(f.value)) {
				return false
			}
		case OpNull:
			if present && v != nil {
				return false
			}
		}
	}
	return true
}

// equal compares stored values, treating numbers of different Go types as
// equal when they hold the same value.
func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if isNumber(a) && isNumber(b) {
		return cast.ToFloat64(a) == cast.ToFloat64(b)
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	}
	return false
}

// Sort orders rs in place by order. Missing values sort first.
func Sort(rs []rows.Row, order []Order) {
	if len(order) == 0 {
		return
	}
	sort.SliceStable(rs, func(i, j int) bool {
		for _, o := range order {
			c := compare(rs[i][o.Column], rs[j][o.Column])
			if c == 0 {
				continue
			}
			if o.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func compare(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if isNumber(a) && isNumber(b) {
		fa, fb := cast.ToFloat64(a), cast.ToFloat64(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}
