package bptree

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"reldb/pkg/bufferpool"
	"reldb/pkg/dberr"
	"reldb/pkg/pagestore"
	"reldb/pkg/primitives"
)

func newTestTree(t *testing.T, cfg Config) (*Tree, *bufferpool.BufferPool) {
	t.Helper()

	store, err := pagestore.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	pool, err := bufferpool.New(store, 32, bufferpool.NewLRU(32))
	require.NoError(t, err)

	tree, err := Create(pool, cfg)
	require.NoError(t, err)
	return tree, pool
}

func insertInt64s(t *testing.T, tree *Tree, keys ...int64) {
	t.Helper()
	for _, k := range keys {
		require.NoError(t, tree.Insert(primitives.Int64Key(k), primitives.RecordRef(k*10)))
	}
}

func collectInt64s(t *testing.T, it *Iterator) []int64 {
	t.Helper()
	entries, err := it.Collect()
	require.NoError(t, err)
	out := make([]int64, len(entries))
	for i, e := range entries {
		out[i] = primitives.DecodeInt64Key(e.Key)
	}
	return out
}

func TestEmptyTree(t *testing.T) {
	tree, _ := newTestTree(t, Config{Order: 3})

	_, found, err := tree.Search(primitives.Int64Key(42))
	require.NoError(t, err)
	require.False(t, found)

	height, err := tree.Height()
	require.NoError(t, err)
	require.Equal(t, 1, height)

	require.Empty(t, collectInt64s(t, tree.Scan()))
	require.NoError(t, tree.Validate())
}

func TestInsertAndSearch(t *testing.T) {
	tree, _ := newTestTree(t, Config{Order: 3})
	insertInt64s(t, tree, 3, 7, 1, 9, 5)

	for _, k := range []int64{1, 3, 5, 7, 9} {
		ref, found, err := tree.Search(primitives.Int64Key(k))
		require.NoError(t, err)
		require.True(t, found, "key %d", k)
		require.Equal(t, primitives.RecordRef(k*10), ref)
	}

	_, found, err := tree.Search(primitives.Int64Key(4))
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, tree.Validate())
}

func TestRangeScan(t *testing.T) {
	tree, _ := newTestTree(t, Config{Order: 3})
	insertInt64s(t, tree, 3, 7, 1, 9, 5)

	got := collectInt64s(t, tree.RangeScan(primitives.Int64Key(3), primitives.Int64Key(9)))
	require.Equal(t, []int64{3, 5, 7, 9}, got)

	got = collectInt64s(t, tree.RangeScan(primitives.Int64Key(2), primitives.Int64Key(6)))
	require.Equal(t, []int64{3, 5}, got)

	got = collectInt64s(t, tree.RangeScan(primitives.Int64Key(10), primitives.Int64Key(20)))
	require.Empty(t, got)

	got = collectInt64s(t, tree.Scan())
	require.Equal(t, []int64{1, 3, 5, 7, 9}, got)
}

func TestRootSplitGrowsHeight(t *testing.T) {
	tree, _ := newTestTree(t, Config{Order: 3})

	insertInt64s(t, tree, 3, 7)
	height, err := tree.Height()
	require.NoError(t, err)
	require.Equal(t, 1, height)

	insertInt64s(t, tree, 1)
	height, err = tree.Height()
	require.NoError(t, err)
	require.Equal(t, 2, height)

	insertInt64s(t, tree, 9, 5)
	require.NoError(t, tree.Validate())
}

func TestSequentialInserts(t *testing.T) {
	tree, _ := newTestTree(t, Config{Order: 4})

	var want []int64
	for k := int64(1); k <= 50; k++ {
		insertInt64s(t, tree, k)
		want = append(want, k)
	}

	require.NoError(t, tree.Validate())

	total, err := tree.Len()
	require.NoError(t, err)
	require.Equal(t, 50, total)

	require.Equal(t, want, collectInt64s(t, tree.Scan()))

	height, err := tree.Height()
	require.NoError(t, err)
	require.GreaterOrEqual(t, height, 3)

	// The split rule is deterministic: an identical insertion sequence
	// into a fresh store reproduces the same shape, page for page.
	twin, _ := newTestTree(t, Config{Order: 4})
	for k := int64(1); k <= 50; k++ {
		insertInt64s(t, twin, k)
	}
	twinHeight, err := twin.Height()
	require.NoError(t, err)
	require.Equal(t, height, twinHeight)
	require.Equal(t, tree.Root(), twin.Root())
	require.Equal(t, collectInt64s(t, tree.Scan()), collectInt64s(t, twin.Scan()))
}

func TestRandomOrderInserts(t *testing.T) {
	tree, _ := newTestTree(t, Config{Order: 4})

	rng := rand.New(rand.NewSource(7))
	keys := rng.Perm(200)
	for _, k := range keys {
		require.NoError(t, tree.Insert(primitives.Int64Key(int64(k)), primitives.RecordRef(k)))
	}

	require.NoError(t, tree.Validate())

	got := collectInt64s(t, tree.Scan())
	require.Len(t, got, 200)
	for i, k := range got {
		require.Equal(t, int64(i), k)
	}

	got = collectInt64s(t, tree.RangeScan(primitives.Int64Key(50), primitives.Int64Key(59)))
	require.Equal(t, []int64{50, 51, 52, 53, 54, 55, 56, 57, 58, 59}, got)
}

func TestUniqueTreeRejectsDuplicates(t *testing.T) {
	tree, _ := newTestTree(t, Config{Order: 4, Unique: true})
	insertInt64s(t, tree, 1, 2, 3)

	err := tree.Insert(primitives.Int64Key(2), 999)
	require.Error(t, err)
	require.True(t, dberr.HasCode(err, dberr.DuplicateKey))

	// The original reference survives the failed insert.
	ref, found, err := tree.Search(primitives.Int64Key(2))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, primitives.RecordRef(20), ref)

	total, err := tree.Len()
	require.NoError(t, err)
	require.Equal(t, 3, total)
}

func TestNonUniqueInsertOverwrites(t *testing.T) {
	tree, _ := newTestTree(t, Config{Order: 4})
	insertInt64s(t, tree, 1, 2, 3)

	require.NoError(t, tree.Insert(primitives.Int64Key(2), 999))

	ref, found, err := tree.Search(primitives.Int64Key(2))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, primitives.RecordRef(999), ref)

	total, err := tree.Len()
	require.NoError(t, err)
	require.Equal(t, 3, total)
}

func TestUpdate(t *testing.T) {
	tree, _ := newTestTree(t, Config{Order: 3, Unique: true})
	insertInt64s(t, tree, 1, 2, 3, 4, 5)

	ok, err := tree.Update(primitives.Int64Key(3), 777)
	require.NoError(t, err)
	require.True(t, ok)

	ref, found, err := tree.Search(primitives.Int64Key(3))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, primitives.RecordRef(777), ref)

	ok, err = tree.Update(primitives.Int64Key(99), 1)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDeleteWithoutRebalance(t *testing.T) {
	tree, _ := newTestTree(t, Config{Order: 3})
	insertInt64s(t, tree, 3, 7, 1, 9, 5)

	// Empty out the middle leaf entirely; searches and scans must keep
	// working through the underflowed node.
	ok, err := tree.Delete(primitives.Int64Key(5))
	require.NoError(t, err)
	require.True(t, ok)

	for _, k := range []int64{1, 3, 7, 9} {
		_, found, err := tree.Search(primitives.Int64Key(k))
		require.NoError(t, err)
		require.True(t, found, "key %d", k)
	}

	_, found, err := tree.Search(primitives.Int64Key(5))
	require.NoError(t, err)
	require.False(t, found)

	require.Equal(t, []int64{1, 3, 7, 9}, collectInt64s(t, tree.Scan()))
	require.NoError(t, tree.Validate())

	ok, err = tree.Delete(primitives.Int64Key(5))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDeleteAll(t *testing.T) {
	tree, _ := newTestTree(t, Config{Order: 3})
	insertInt64s(t, tree, 3, 7, 1, 9, 5)

	for _, k := range []int64{1, 3, 5, 7, 9} {
		ok, err := tree.Delete(primitives.Int64Key(k))
		require.NoError(t, err)
		require.True(t, ok)
	}

	require.Empty(t, collectInt64s(t, tree.Scan()))
	require.NoError(t, tree.Validate())

	// Reinsertion into the hollowed-out tree still works.
	insertInt64s(t, tree, 4)
	ref, found, err := tree.Search(primitives.Int64Key(4))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, primitives.RecordRef(40), ref)
}

func TestRootChangeCallback(t *testing.T) {
	tree, _ := newTestTree(t, Config{Order: 3})

	var roots []primitives.PageID
	tree.OnRootChange(func(id primitives.PageID) error {
		roots = append(roots, id)
		return nil
	})

	insertInt64s(t, tree, 1, 2, 3, 4, 5, 6, 7)

	require.NotEmpty(t, roots)
	require.Equal(t, tree.Root(), roots[len(roots)-1])
}

func TestReopenTree(t *testing.T) {
	dir := t.TempDir()

	store, err := pagestore.Open(dir)
	require.NoError(t, err)
	pool, err := bufferpool.New(store, 16, bufferpool.NewLRU(16))
	require.NoError(t, err)

	tree, err := Create(pool, Config{Order: 3})
	require.NoError(t, err)
	for k := int64(1); k <= 20; k++ {
		require.NoError(t, tree.Insert(primitives.Int64Key(k), primitives.RecordRef(k)))
	}
	root := tree.Root()

	require.NoError(t, pool.FlushAll())
	require.NoError(t, store.Close())

	store, err = pagestore.Open(dir)
	require.NoError(t, err)
	defer store.Close()
	pool, err = bufferpool.New(store, 16, bufferpool.NewLRU(16))
	require.NoError(t, err)

	reopened, err := Open(pool, root, Config{Order: 3})
	require.NoError(t, err)
	require.NoError(t, reopened.Validate())

	for k := int64(1); k <= 20; k++ {
		ref, found, err := reopened.Search(primitives.Int64Key(k))
		require.NoError(t, err)
		require.True(t, found, "key %d", k)
		require.Equal(t, primitives.RecordRef(k), ref)
	}
}

func TestTreeLargerThanPool(t *testing.T) {
	store, err := pagestore.Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	// A pool of four frames forces steady eviction while the tree grows.
	pool, err := bufferpool.New(store, 4, bufferpool.NewClock(4))
	require.NoError(t, err)

	tree, err := Create(pool, Config{Order: 4})
	require.NoError(t, err)

	for k := int64(0); k < 300; k++ {
		require.NoError(t, tree.Insert(primitives.Int64Key(k), primitives.RecordRef(k)))
	}

	require.NoError(t, tree.Validate())
	total, err := tree.Len()
	require.NoError(t, err)
	require.Equal(t, 300, total)
}

func TestInvalidConfig(t *testing.T) {
	store, err := pagestore.Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()
	pool, err := bufferpool.New(store, 8, bufferpool.NewLRU(8))
	require.NoError(t, err)

	_, err = Create(pool, Config{Order: 2})
	require.Error(t, err)
	require.True(t, dberr.HasCode(err, dberr.StructuralInvariant))

	_, err = Open(pool, primitives.NoPage, Config{})
	require.Error(t, err)
}

func TestInsertRejectsOversizedKey(t *testing.T) {
	tree, _ := newTestTree(t, Config{Order: 4})

	err := tree.Insert(make([]byte, MaxKeySize+1), 1)
	require.Error(t, err)
	require.True(t, dberr.HasCode(err, dberr.StructuralInvariant))

	require.Error(t, tree.Insert(nil, 1))
}
