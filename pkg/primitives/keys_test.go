package primitives

import (
	"bytes"
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInt64KeyRoundTrip(t *testing.T) {
	values := []int64{math.MinInt64, -1000, -1, 0, 1, 42, 1000, math.MaxInt64}
	for _, v := range values {
		require.Equal(t, v, DecodeInt64Key(Int64Key(v)))
	}
}

func TestInt64KeyOrderPreserving(t *testing.T) {
	values := []int64{math.MinInt64, -500, -1, 0, 1, 3, 7, 500, math.MaxInt64}

	encoded := make([][]byte, len(values))
	for i, v := range values {
		encoded[i] = Int64Key(v)
	}

	sorted := sort.SliceIsSorted(encoded, func(i, j int) bool {
		return bytes.Compare(encoded[i], encoded[j]) < 0
	})
	assert.True(t, sorted, "encoded keys must sort in the same order as source values")
}

func TestUint64KeyRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 255, math.MaxUint64}
	for _, v := range values {
		require.Equal(t, v, DecodeUint64Key(Uint64Key(v)))
	}
}

func TestDefaultComparator(t *testing.T) {
	assert.Negative(t, DefaultComparator(Int64Key(1), Int64Key(2)))
	assert.Zero(t, DefaultComparator(Int64Key(5), Int64Key(5)))
	assert.Positive(t, DefaultComparator(Int64Key(9), Int64Key(-9)))
	assert.Negative(t, DefaultComparator(StringKey("abc"), StringKey("abd")))
}

func TestPageIDSentinel(t *testing.T) {
	assert.False(t, NoPage.IsValid())
	assert.True(t, PageID(1).IsValid())
	assert.Equal(t, "page(none)", NoPage.String())
	assert.Equal(t, "page(7)", PageID(7).String())
}
