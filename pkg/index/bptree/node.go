// Package bptree implements a B+tree built entirely on buffer-pool managed
// pages. Nodes are addressed by page ID rather than in-memory pointers:
// every structural change is expressed as page allocation plus explicit
// parent-key updates, and leaves thread a singly-linked chain in ascending
// key order for range scans.
package bptree

import (
	"encoding/binary"
	"fmt"

	"reldb/pkg/dberr"
	"reldb/pkg/pagestore"
	"reldb/pkg/primitives"
)

// MaxKeySize bounds encoded key length so any legal node fits a page
// payload at the maximum supported order.
const MaxKeySize = 64

// node is the in-memory materialization of one tree page. It is always a
// private copy of the page bytes; mutations reach disk only through an
// explicit serialize-and-write, so a failed operation leaves the stored
// tree untouched.
type node struct {
	pageID primitives.PageID
	isLeaf bool

	// keys is ordered ascending and duplicate-free within the node.
	keys [][]byte

	// children holds child page IDs; internal nodes only, len(keys)+1.
	children []primitives.PageID

	// refs parallels keys; leaf nodes only.
	refs []primitives.RecordRef

	// nextLeaf links to the next leaf in ascending key order, or NoPage at
	// the end of the chain. Leaf nodes only.
	nextLeaf primitives.PageID
}

func newLeaf(pageID primitives.PageID) *node {
	return &node{pageID: pageID, isLeaf: true, nextLeaf: primitives.NoPage}
}

func newInternal(pageID primitives.PageID) *node {
	return &node{pageID: pageID}
}

// Payload layout, little-endian:
//
//	flags     u8   bit 0 set for leaves
//	keyCount  u16
//	nextLeaf  u32  leaves only, NoPage otherwise
//	leaf:     keyCount refs (u64 each), then keyCount keys (u16 len + bytes)
//	internal: keyCount+1 children (u32 each), then keys as above
const (
	nodeFlagLeaf = 0x01

	offFlags    = 0
	offKeyCount = 1
	offNextLeaf = 3
	nodeHdrSize = 7
)

// serializedSize returns the payload bytes the node needs.
func (n *node) serializedSize() int {
	size := nodeHdrSize
	if n.isLeaf {
		size += 8 * len(n.refs)
	} else {
		size += 4 * len(n.children)
	}
	for _, key := range n.keys {
		size += 2 + len(key)
	}
	return size
}

// serialize writes the node into the page's payload and keeps the header's
// entry count and link fields coherent with the node state.
func (n *node) serialize(page *pagestore.Page) error {
	size := n.serializedSize()
	if size > pagestore.PayloadSize {
		return dberr.New(dberr.StructuralInvariant, "BPlusTree", "serialize",
			"node on page %d needs %d bytes, payload holds %d", n.pageID, size, pagestore.PayloadSize)
	}

	payload := page.Payload()
	clear(payload)

	var flags byte
	if n.isLeaf {
		flags |= nodeFlagLeaf
	}
	payload[offFlags] = flags
	binary.LittleEndian.PutUint16(payload[offKeyCount:], uint16(len(n.keys)))
	binary.LittleEndian.PutUint32(payload[offNextLeaf:], uint32(n.nextLeaf))

	off := nodeHdrSize
	if n.isLeaf {
		for _, ref := range n.refs {
			binary.LittleEndian.PutUint64(payload[off:], uint64(ref))
			off += 8
		}
	} else {
		for _, child := range n.children {
			binary.LittleEndian.PutUint32(payload[off:], uint32(child))
			off += 4
		}
	}
	for _, key := range n.keys {
		binary.LittleEndian.PutUint16(payload[off:], uint16(len(key)))
		off += 2
		copy(payload[off:], key)
		off += len(key)
	}

	page.SetRecordCount(uint16(len(n.keys)))
	page.SetFreeOffset(uint16(off))
	page.SetNext(n.nextLeaf)
	return nil
}

// deserializeNode reads a node back from a page payload.
func deserializeNode(page *pagestore.Page) (*node, error) {
	payload := page.Payload()
	n := &node{
		pageID:   page.ID(),
		isLeaf:   payload[offFlags]&nodeFlagLeaf != 0,
		nextLeaf: primitives.PageID(binary.LittleEndian.Uint32(payload[offNextLeaf:])),
	}
	keyCount := int(binary.LittleEndian.Uint16(payload[offKeyCount:]))

	off := nodeHdrSize
	if n.isLeaf {
		n.refs = make([]primitives.RecordRef, keyCount)
		for i := range n.refs {
			if off+8 > len(payload) {
				return nil, corruptNode(page.ID(), "ref list overruns payload")
			}
			n.refs[i] = primitives.RecordRef(binary.LittleEndian.Uint64(payload[off:]))
			off += 8
		}
	} else {
		n.children = make([]primitives.PageID, keyCount+1)
		for i := range n.children {
			if off+4 > len(payload) {
				return nil, corruptNode(page.ID(), "child list overruns payload")
			}
			n.children[i] = primitives.PageID(binary.LittleEndian.Uint32(payload[off:]))
			off += 4
		}
	}

	n.keys = make([][]byte, keyCount)
	for i := range n.keys {
		if off+2 > len(payload) {
			return nil, corruptNode(page.ID(), "key length overruns payload")
		}
		keyLen := int(binary.LittleEndian.Uint16(payload[off:]))
		off += 2
		if keyLen > MaxKeySize || off+keyLen > len(payload) {
			return nil, corruptNode(page.ID(), "key bytes overrun payload")
		}
		n.keys[i] = make([]byte, keyLen)
		copy(n.keys[i], payload[off:off+keyLen])
		off += keyLen
	}

	return n, nil
}

func corruptNode(id primitives.PageID, detail string) error {
	return dberr.New(dberr.PageCorrupt, "BPlusTree", "deserialize",
		"malformed node on page %d: %s", id, detail)
}

// insertKeyAt splices a key into position i.
func insertKeyAt(keys [][]byte, i int, key []byte) [][]byte {
	keys = append(keys, nil)
	copy(keys[i+1:], keys[i:])
	keys[i] = key
	return keys
}

func insertRefAt(refs []primitives.RecordRef, i int, ref primitives.RecordRef) []primitives.RecordRef {
	refs = append(refs, 0)
	copy(refs[i+1:], refs[i:])
	refs[i] = ref
	return refs
}

func insertChildAt(children []primitives.PageID, i int, child primitives.PageID) []primitives.PageID {
	children = append(children, primitives.NoPage)
	copy(children[i+1:], children[i:])
	children[i] = child
	return children
}

func (n *node) String() string {
	kind := "internal"
	if n.isLeaf {
		kind = "leaf"
	}
	return fmt.Sprintf("%s node on %s with %d keys", kind, n.pageID, len(n.keys))
}
