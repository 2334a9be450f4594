package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"reldb/pkg/primitives"
)

func TestPredicateMatches(t *testing.T) {
	row := Row{"id": int64(5), "name": "ada", "score": 2.5}

	cases := []struct {
		pred Predicate
		want bool
	}{
		{Predicate{"id", OpEq, int64(5)}, true},
		{Predicate{"id", OpEq, 5}, true},
		{Predicate{"id", OpNe, int64(5)}, false},
		{Predicate{"id", OpLt, int64(6)}, true},
		{Predicate{"id", OpLe, int64(5)}, true},
		{Predicate{"id", OpGt, int64(5)}, false},
		{Predicate{"id", OpGe, int64(5)}, true},
		{Predicate{"name", OpEq, "ada"}, true},
		{Predicate{"name", OpLt, "bob"}, true},
		{Predicate{"score", OpGt, 2.0}, true},
		{Predicate{"score", OpGt, 3}, false},
		{Predicate{"missing", OpEq, int64(1)}, false},
		{Predicate{"id", OpEq, "5"}, false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, tc.pred.matches(row), "%s", tc.pred)
	}
}

func TestEncodeKeyKinds(t *testing.T) {
	for _, v := range []any{42, int32(42), int64(42), uint64(42), "abc", []byte{1, 2}} {
		key, ok := EncodeKey(v)
		require.True(t, ok, "%T", v)
		require.NotEmpty(t, key)
	}

	for _, v := range []any{3.14, true, nil, struct{}{}} {
		_, ok := EncodeKey(v)
		require.False(t, ok, "%T", v)
	}
}

func TestEncodeKeyPreservesIntOrder(t *testing.T) {
	a, _ := EncodeKey(int64(-10))
	b, _ := EncodeKey(int64(3))
	c, _ := EncodeKey(int64(larger))

	require.Negative(t, primitives.DefaultComparator(a, b))
	require.Negative(t, primitives.DefaultComparator(b, c))
}

const larger = int64(1 << 40)

func TestProject(t *testing.T) {
	row := Row{"a": 1, "b": 2, "c": 3}

	full := project(row, nil)
	require.Equal(t, row, full)
	// The projection is a copy, not an alias.
	full["a"] = 99
	require.Equal(t, 1, row["a"])

	partial := project(row, []string{"a", "c", "zzz"})
	require.Equal(t, Row{"a": 1, "c": 3}, partial)
}
