package store

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Compare orders two field values. Numbers compare numerically regardless of
// their Go type, nil sorts first, and everything else falls back to its
// string form.
func Compare(a, b any) int {
	if bs, ok := a.([]byte); ok {
		a = string(bs)
	}
	if bs, ok := b.([]byte); ok {
		b = string(bs)
	}
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	}
	as, bs := fmt.Sprint(a), fmt.Sprint(b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	}
	return 0
}

// SortDocuments sorts docs in place by field; ties keep their input order.
func SortDocuments(docs []Document, field string, ascending bool) {
	sort.SliceStable(docs, func(i, j int) bool {
		c := Compare(docs[i][field], docs[j][field])
		if ascending {
			return c < 0
		}
		return c > 0
	})
}

// Equal reports whether two field values are the same under Compare.
func Equal(a, b any) bool {
	return Compare(a, b) == 0
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case bool:
		return 0, false
	case string:
		return 0, false
	}
	return 0, false
}
