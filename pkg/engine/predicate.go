package engine

import (
	"bytes"
	"fmt"
	"strings"

	"reldb/pkg/primitives"
)

// Operator is a comparison applied by a predicate.
type Operator string

const (
	OpEq Operator = "="
	OpNe Operator = "!="
	OpLt Operator = "<"
	OpLe Operator = "<="
	OpGt Operator = ">"
	OpGe Operator = ">="
)

// Predicate is a single-column filter on a select. A nil predicate means
// no filtering.
type Predicate struct {
	Column string
	Op     Operator
	Value  any
}

func (p Predicate) String() string {
	return fmt.Sprintf("%s %s %v", p.Column, p.Op, p.Value)
}

// EncodeKey turns a predicate value into the order-preserving byte key the
// index stores. Supported value kinds mirror the key encoders in
// primitives; anything else cannot be routed to an index.
func EncodeKey(v any) ([]byte, bool) {
	switch val := v.(type) {
	case int:
		return primitives.Int64Key(int64(val)), true
	case int32:
		return primitives.Int64Key(int64(val)), true
	case int64:
		return primitives.Int64Key(val), true
	case uint64:
		return primitives.Uint64Key(val), true
	case string:
		return primitives.StringKey(val), true
	case []byte:
		return val, true
	default:
		return nil, false
	}
}

// matches evaluates the predicate against one row. Rows missing the column
// never match. Values of incomparable kinds never match either; a scan
// filter stays silent rather than failing the whole select.
func (p Predicate) matches(row Row) bool {
	val, ok := row[p.Column]
	if !ok {
		return false
	}
	cmp, ok := compareValues(val, p.Value)
	if !ok {
		return false
	}
	switch p.Op {
	case OpEq:
		return cmp == 0
	case OpNe:
		return cmp != 0
	case OpLt:
		return cmp < 0
	case OpLe:
		return cmp <= 0
	case OpGt:
		return cmp > 0
	case OpGe:
		return cmp >= 0
	default:
		return false
	}
}

// compareValues orders two dynamically typed values when both sides are of
// a comparable kind. Integers of different widths compare numerically.
func compareValues(a, b any) (int, bool) {
	if ai, ok := asInt64(a); ok {
		if bi, ok := asInt64(b); ok {
			switch {
			case ai < bi:
				return -1, true
			case ai > bi:
				return 1, true
			default:
				return 0, true
			}
		}
		return 0, false
	}

	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	case []byte:
		bv, ok := b.([]byte)
		if !ok {
			return 0, false
		}
		return bytes.Compare(av, bv), true
	case float64:
		bv, ok := asFloat64(b)
		if !ok {
			return 0, false
		}
		switch {
		case av < bv:
			return -1, true
		case av > bv:
			return 1, true
		default:
			return 0, true
		}
	default:
		return 0, false
	}
}

func asInt64(v any) (int64, bool) {
	switch val := v.(type) {
	case int:
		return int64(val), true
	case int32:
		return int64(val), true
	case int64:
		return val, true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	default:
		if i, ok := asInt64(v); ok {
			return float64(i), true
		}
		return 0, false
	}
}

// project copies the requested columns out of a row. An empty projection
// copies the whole row; requested columns absent from the row are skipped.
func project(row Row, columns []string) Row {
	out := make(Row, len(row))
	if len(columns) == 0 {
		for k, v := range row {
			out[k] = v
		}
		return out
	}
	for _, col := range columns {
		if v, ok := row[col]; ok {
			out[col] = v
		}
	}
	return out
}
