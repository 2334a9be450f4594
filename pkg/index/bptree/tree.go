package bptree

import (
	"sort"

	"go.uber.org/zap"

	"reldb/pkg/bufferpool"
	"reldb/pkg/dberr"
	"reldb/pkg/pagestore"
	"reldb/pkg/primitives"
)

const (
	// MinOrder is the smallest branching factor the tree supports. Below
	// three a split cannot distribute keys between two non-empty halves.
	MinOrder = 3

	// DefaultOrder suits fixed-width keys like encoded integers.
	DefaultOrder = 32
)

// Config carries the tunables for a tree. Zero values fall back to
// DefaultOrder, byte-wise comparison and a no-op logger.
type Config struct {
	// Order is the maximum number of children an internal node may hold.
	// A node carries at most Order-1 keys.
	Order int

	// Unique rejects inserts whose key is already present instead of
	// overwriting the stored record reference.
	Unique bool

	Comparator primitives.Comparator
	Logger     *zap.Logger
}

func (c *Config) applyDefaults() error {
	if c.Order == 0 {
		c.Order = DefaultOrder
	}
	if c.Order < MinOrder {
		return dberr.New(dberr.StructuralInvariant, "BPlusTree", "configure",
			"order %d below minimum %d", c.Order, MinOrder)
	}
	if c.Comparator == nil {
		c.Comparator = primitives.DefaultComparator
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return nil
}

// Tree is a B+tree whose nodes live on buffer-pool pages. All keys reside
// in leaves; internal nodes hold separator copies that only route descent.
// A Tree is not safe for concurrent use.
type Tree struct {
	pool   *bufferpool.BufferPool
	cfg    Config
	root   primitives.PageID
	logger *zap.Logger

	// onRootChange fires after a root split or initial root allocation so
	// the owner can persist the new root page ID.
	onRootChange func(primitives.PageID) error
}

// Create allocates an empty root leaf and returns a tree rooted at it.
func Create(pool *bufferpool.BufferPool, cfg Config) (*Tree, error) {
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	t := &Tree{pool: pool, cfg: cfg, logger: cfg.Logger}

	page, err := pool.Allocate(pagestore.IndexPage)
	if err != nil {
		return nil, err
	}
	root := newLeaf(page.ID())
	if err := root.serialize(page); err != nil {
		pool.Unpin(page.ID(), false)
		return nil, err
	}
	if err := pool.Unpin(page.ID(), true); err != nil {
		return nil, err
	}

	t.root = root.pageID
	t.logger.Debug("created tree", zap.Uint32("root", uint32(t.root)), zap.Int("order", cfg.Order))
	return t, nil
}

// Open attaches to a tree whose root page already exists.
func Open(pool *bufferpool.BufferPool, root primitives.PageID, cfg Config) (*Tree, error) {
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	if !root.IsValid() {
		return nil, dberr.New(dberr.StructuralInvariant, "BPlusTree", "open",
			"root page ID is the null sentinel")
	}
	t := &Tree{pool: pool, cfg: cfg, root: root, logger: cfg.Logger}
	if _, err := t.loadNode(root); err != nil {
		return nil, err
	}
	return t, nil
}

// Root returns the page ID of the current root node.
func (t *Tree) Root() primitives.PageID { return t.root }

// Order returns the tree's branching factor.
func (t *Tree) Order() int { return t.cfg.Order }

// OnRootChange registers a callback invoked whenever the root page ID
// changes. A callback error is surfaced from the insert that caused the
// change; the tree itself has already moved to the new root by then.
func (t *Tree) OnRootChange(fn func(primitives.PageID) error) {
	t.onRootChange = fn
}

func (t *Tree) maxKeys() int { return t.cfg.Order - 1 }

// loadNode materializes a private copy of the node stored on id. The page
// pin is released before returning, so callers never hold pins across
// tree operations.
func (t *Tree) loadNode(id primitives.PageID) (*node, error) {
	var n *node
	err := t.pool.WithPage(id, func(page *pagestore.Page) (bool, error) {
		var derr error
		n, derr = deserializeNode(page)
		return false, derr
	})
	if err != nil {
		return nil, err
	}
	return n, nil
}

// writeNode serializes n back onto its page and marks it dirty.
func (t *Tree) writeNode(n *node) error {
	return t.pool.WithPage(n.pageID, func(page *pagestore.Page) (bool, error) {
		if err := n.serialize(page); err != nil {
			return false, err
		}
		return true, nil
	})
}

// allocNode claims a fresh index page for a node produced by a split.
func (t *Tree) allocNode() (primitives.PageID, error) {
	page, err := t.pool.Allocate(pagestore.IndexPage)
	if err != nil {
		return primitives.NoPage, err
	}
	id := page.ID()
	if err := t.pool.Unpin(id, true); err != nil {
		return primitives.NoPage, err
	}
	return id, nil
}

// searchKeys returns the position of the first key in n that is >= key.
func (t *Tree) searchKeys(n *node, key []byte) int {
	return sort.Search(len(n.keys), func(i int) bool {
		return t.cfg.Comparator(n.keys[i], key) >= 0
	})
}

// childIndex picks the child to descend into: the first child whose
// separator exceeds key. Keys equal to a separator live in the right
// subtree, matching how leaf splits copy the right half's first key up.
func (t *Tree) childIndex(n *node, key []byte) int {
	return sort.Search(len(n.keys), func(i int) bool {
		return t.cfg.Comparator(key, n.keys[i]) < 0
	})
}

// findLeaf descends from the root to the leaf responsible for key.
func (t *Tree) findLeaf(key []byte) (*node, error) {
	id := t.root
	for {
		n, err := t.loadNode(id)
		if err != nil {
			return nil, err
		}
		if n.isLeaf {
			return n, nil
		}
		id = n.children[t.childIndex(n, key)]
	}
}

// Search returns the record reference stored under key, or false when the
// key is absent.
func (t *Tree) Search(key []byte) (primitives.RecordRef, bool, error) {
	leaf, err := t.findLeaf(key)
	if err != nil {
		return 0, false, err
	}
	pos := t.searchKeys(leaf, key)
	if pos < len(leaf.keys) && t.cfg.Comparator(leaf.keys[pos], key) == 0 {
		return leaf.refs[pos], true, nil
	}
	return 0, false, nil
}

// splitResult describes the new right sibling created by a node split. The
// separator is inserted into the parent; for leaf splits it is a copy of
// the right half's first key, for internal splits the promoted median.
type splitResult struct {
	separator []byte
	right     primitives.PageID
}

// Insert stores key -> ref. On a unique tree an existing key yields
// DuplicateKey; otherwise the stored reference is overwritten in place.
func (t *Tree) Insert(key []byte, ref primitives.RecordRef) error {
	if len(key) == 0 || len(key) > MaxKeySize {
		return dberr.New(dberr.StructuralInvariant, "BPlusTree", "insert",
			"key length %d outside 1..%d", len(key), MaxKeySize)
	}

	split, err := t.insertInto(t.root, key, ref)
	if err != nil || split == nil {
		return err
	}

	// The old root split; grow the tree by one level.
	rootID, err := t.allocNode()
	if err != nil {
		return err
	}
	root := newInternal(rootID)
	root.keys = [][]byte{split.separator}
	root.children = []primitives.PageID{t.root, split.right}
	if err := t.writeNode(root); err != nil {
		return err
	}

	old := t.root
	t.root = rootID
	t.logger.Debug("root split",
		zap.Uint32("old_root", uint32(old)), zap.Uint32("new_root", uint32(rootID)))
	if t.onRootChange != nil {
		if err := t.onRootChange(rootID); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tree) insertInto(id primitives.PageID, key []byte, ref primitives.RecordRef) (*splitResult, error) {
	n, err := t.loadNode(id)
	if err != nil {
		return nil, err
	}

	if n.isLeaf {
		return t.insertIntoLeaf(n, key, ref)
	}

	idx := t.childIndex(n, key)
	split, err := t.insertInto(n.children[idx], key, ref)
	if err != nil || split == nil {
		return nil, err
	}

	pos := t.searchKeys(n, split.separator)
	n.keys = insertKeyAt(n.keys, pos, split.separator)
	n.children = insertChildAt(n.children, pos+1, split.right)

	if len(n.keys) <= t.maxKeys() {
		return nil, t.writeNode(n)
	}
	return t.splitInternal(n)
}

func (t *Tree) insertIntoLeaf(n *node, key []byte, ref primitives.RecordRef) (*splitResult, error) {
	pos := t.searchKeys(n, key)
	if pos < len(n.keys) && t.cfg.Comparator(n.keys[pos], key) == 0 {
		if t.cfg.Unique {
			return nil, dberr.New(dberr.DuplicateKey, "BPlusTree", "insert",
				"key already present in unique index")
		}
		n.refs[pos] = ref
		return nil, t.writeNode(n)
	}

	n.keys = insertKeyAt(n.keys, pos, key)
	n.refs = insertRefAt(n.refs, pos, ref)

	if len(n.keys) <= t.maxKeys() {
		return nil, t.writeNode(n)
	}
	return t.splitLeaf(n)
}

// splitLeaf moves the upper half of an overfull leaf into a new sibling.
// The right half keeps ceil(n/2) boundary: mid = (n+1)/2 keys stay left.
// The sibling is written before the left half, so a failure up to that
// point only orphans an unreachable page. Once the truncated left leaf is
// persisted a later parent-write failure can still leave the sibling
// reachable through the leaf chain but not through root descent; closing
// that window needs write-ahead logging, which this tree does not carry.
func (t *Tree) splitLeaf(n *node) (*splitResult, error) {
	rightID, err := t.allocNode()
	if err != nil {
		return nil, err
	}

	mid := (len(n.keys) + 1) / 2
	right := newLeaf(rightID)
	right.keys = append(right.keys, n.keys[mid:]...)
	right.refs = append(right.refs, n.refs[mid:]...)
	right.nextLeaf = n.nextLeaf

	if err := t.writeNode(right); err != nil {
		return nil, err
	}

	n.keys = n.keys[:mid]
	n.refs = n.refs[:mid]
	n.nextLeaf = rightID
	if err := t.writeNode(n); err != nil {
		return nil, err
	}

	separator := make([]byte, len(right.keys[0]))
	copy(separator, right.keys[0])
	return &splitResult{separator: separator, right: rightID}, nil
}

// splitInternal promotes the median key of an overfull internal node. The
// median moves up rather than being copied: internal keys are pure
// routing entries and must not be duplicated.
func (t *Tree) splitInternal(n *node) (*splitResult, error) {
	rightID, err := t.allocNode()
	if err != nil {
		return nil, err
	}

	mid := (len(n.keys)+1)/2 - 1
	separator := n.keys[mid]

	right := newInternal(rightID)
	right.keys = append(right.keys, n.keys[mid+1:]...)
	right.children = append(right.children, n.children[mid+1:]...)

	if err := t.writeNode(right); err != nil {
		return nil, err
	}

	n.keys = n.keys[:mid]
	n.children = n.children[:mid+1]
	if err := t.writeNode(n); err != nil {
		return nil, err
	}

	return &splitResult{separator: separator, right: rightID}, nil
}

// Update replaces the reference stored under key, reporting whether the
// key existed. The tree shape never changes.
func (t *Tree) Update(key []byte, ref primitives.RecordRef) (bool, error) {
	leaf, err := t.findLeaf(key)
	if err != nil {
		return false, err
	}
	pos := t.searchKeys(leaf, key)
	if pos == len(leaf.keys) || t.cfg.Comparator(leaf.keys[pos], key) != 0 {
		return false, nil
	}
	leaf.refs[pos] = ref
	return true, t.writeNode(leaf)
}

// Delete removes key from its leaf, reporting whether it was present.
// Leaves are allowed to underflow: no merging or borrowing happens, and
// internal separators keep routing correctly because they only bound key
// ranges rather than assert membership.
func (t *Tree) Delete(key []byte) (bool, error) {
	leaf, err := t.findLeaf(key)
	if err != nil {
		return false, err
	}
	pos := t.searchKeys(leaf, key)
	if pos == len(leaf.keys) || t.cfg.Comparator(leaf.keys[pos], key) != 0 {
		return false, nil
	}
	leaf.keys = append(leaf.keys[:pos], leaf.keys[pos+1:]...)
	leaf.refs = append(leaf.refs[:pos], leaf.refs[pos+1:]...)
	return true, t.writeNode(leaf)
}

// Height counts the levels from root to leaf, 1 for a lone root leaf.
func (t *Tree) Height() (int, error) {
	height := 1
	id := t.root
	for {
		n, err := t.loadNode(id)
		if err != nil {
			return 0, err
		}
		if n.isLeaf {
			return height, nil
		}
		height++
		id = n.children[0]
	}
}

// Len walks the leaf chain and counts stored keys.
func (t *Tree) Len() (int, error) {
	id, err := t.leftmostLeaf()
	if err != nil {
		return 0, err
	}
	total := 0
	for id.IsValid() {
		n, err := t.loadNode(id)
		if err != nil {
			return 0, err
		}
		total += len(n.keys)
		id = n.nextLeaf
	}
	return total, nil
}

func (t *Tree) leftmostLeaf() (primitives.PageID, error) {
	id := t.root
	for {
		n, err := t.loadNode(id)
		if err != nil {
			return primitives.NoPage, err
		}
		if n.isLeaf {
			return id, nil
		}
		id = n.children[0]
	}
}

// Validate checks the structural invariants: uniform leaf depth, correct
// child counts, sorted keys inside every node, a cycle-free leaf chain
// and globally ascending key order along it.
func (t *Tree) Validate() error {
	leafDepth := -1
	var walk func(id primitives.PageID, depth int) error
	walk = func(id primitives.PageID, depth int) error {
		n, err := t.loadNode(id)
		if err != nil {
			return err
		}
		for i := 1; i < len(n.keys); i++ {
			if t.cfg.Comparator(n.keys[i-1], n.keys[i]) >= 0 {
				return t.invariant("keys out of order on page %d", id)
			}
		}
		if n.isLeaf {
			if len(n.refs) != len(n.keys) {
				return t.invariant("leaf %d has %d refs for %d keys", id, len(n.refs), len(n.keys))
			}
			if leafDepth == -1 {
				leafDepth = depth
			} else if depth != leafDepth {
				return t.invariant("leaf %d at depth %d, expected %d", id, depth, leafDepth)
			}
			return nil
		}
		if len(n.children) != len(n.keys)+1 {
			return t.invariant("internal %d has %d children for %d keys", id, len(n.children), len(n.keys))
		}
		for _, child := range n.children {
			if !child.IsValid() {
				return t.invariant("internal %d links the null page", id)
			}
			if err := walk(child, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(t.root, 0); err != nil {
		return err
	}

	// Leaf chain: ascending keys, no cycles.
	id, err := t.leftmostLeaf()
	if err != nil {
		return err
	}
	seen := make(map[primitives.PageID]bool)
	var prev []byte
	for id.IsValid() {
		if seen[id] {
			return t.invariant("leaf chain cycles through page %d", id)
		}
		seen[id] = true
		n, err := t.loadNode(id)
		if err != nil {
			return err
		}
		for _, key := range n.keys {
			if prev != nil && t.cfg.Comparator(prev, key) >= 0 {
				return t.invariant("leaf chain order violation on page %d", id)
			}
			prev = key
		}
		id = n.nextLeaf
	}
	return nil
}

func (t *Tree) invariant(format string, args ...any) error {
	return dberr.New(dberr.StructuralInvariant, "BPlusTree", "validate", format, args...)
}
