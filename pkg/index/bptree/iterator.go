package bptree

import (
	"reldb/pkg/primitives"
)

// Entry is one key/reference pair yielded by a range scan.
type Entry struct {
	Key []byte
	Ref primitives.RecordRef
}

// Iterator walks leaf pages in ascending key order. Each leaf is loaded
// lazily when the previous one is exhausted, so the iterator never holds
// a page pinned between Next calls. Mutating the tree during iteration
// gives undefined results.
type Iterator struct {
	tree *Tree
	low  []byte
	high []byte

	started bool
	done    bool
	leaf    *node
	pos     int
}

// RangeScan returns an iterator over all entries with low <= key <= high.
// A nil high means no upper bound.
func (t *Tree) RangeScan(low, high []byte) *Iterator {
	return &Iterator{tree: t, low: low, high: high}
}

// Scan returns an iterator over every entry in the tree.
func (t *Tree) Scan() *Iterator {
	return t.RangeScan(nil, nil)
}

func (it *Iterator) seek(low []byte) error {
	if low == nil {
		id, err := it.tree.leftmostLeaf()
		if err != nil {
			return err
		}
		it.leaf, err = it.tree.loadNode(id)
		return err
	}
	leaf, err := it.tree.findLeaf(low)
	if err != nil {
		return err
	}
	it.leaf = leaf
	it.pos = it.tree.searchKeys(leaf, low)
	return nil
}

// Next yields the following entry, or ok=false once the range is
// exhausted. The returned key is a private copy.
func (it *Iterator) Next() (Entry, bool, error) {
	if it.done {
		return Entry{}, false, nil
	}
	if !it.started {
		it.started = true
		if err := it.seek(it.low); err != nil {
			it.done = true
			return Entry{}, false, err
		}
	}

	for {
		if it.pos >= len(it.leaf.keys) {
			next := it.leaf.nextLeaf
			if !next.IsValid() {
				it.done = true
				return Entry{}, false, nil
			}
			leaf, err := it.tree.loadNode(next)
			if err != nil {
				it.done = true
				return Entry{}, false, err
			}
			it.leaf = leaf
			it.pos = 0
			continue
		}

		key := it.leaf.keys[it.pos]
		if it.high != nil && it.tree.cfg.Comparator(key, it.high) > 0 {
			it.done = true
			return Entry{}, false, nil
		}
		ref := it.leaf.refs[it.pos]
		it.pos++

		out := make([]byte, len(key))
		copy(out, key)
		return Entry{Key: out, Ref: ref}, true, nil
	}
}

// Close ends the iteration early. The iterator holds no pinned pages, so
// this only stops further Next calls from yielding.
func (it *Iterator) Close() error {
	it.done = true
	return nil
}

// Collect drains the iterator into a slice, stopping at the first error.
func (it *Iterator) Collect() ([]Entry, error) {
	var out []Entry
	for {
		entry, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, entry)
	}
}
