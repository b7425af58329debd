package model

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// AsInt64 converts an integral store value to int64. Floats are accepted
// only when they carry no fractional part.
func AsInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case float64:
		if t != math.Trunc(t) || math.IsInf(t, 0) || math.IsNaN(t) {
			return 0, false
		}
		return int64(t), true
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, true
		}
		f, err := t.Float64()
		if err != nil {
			return 0, false
		}
		return AsInt64(f)
	default:
		return 0, false
	}
}

// AsInt64Lenient is AsInt64 that also accepts decimal strings.
func AsInt64Lenient(v any) (int64, bool) {
	if s, ok := v.(string); ok {
		i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		return i, err == nil
	}
	return AsInt64(v)
}

// AsNode returns v as a Node when it is one.
func AsNode(v any) (Node, bool) {
	switch t := v.(type) {
	case Node:
		return t, true
	case map[string]any:
		return Node(t), true
	default:
		return nil, false
	}
}
