// Package primitives defines the small shared value types used across the
// storage core: page identifiers, record references, and key encodings.
package primitives

import (
	"bytes"
	"fmt"
)

// PageID uniquely identifies a page inside a page store. IDs are assigned
// monotonically starting at 1; 0 is reserved as the NoPage sentinel.
type PageID uint32

// NoPage is the "no such page" sentinel used to terminate free-list and
// leaf-chain links. It is never a valid allocated page ID.
const NoPage PageID = 0

// IsValid reports whether the ID refers to an allocatable page.
func (id PageID) IsValid() bool {
	return id != NoPage
}

// String returns a human-readable form of the page ID.
func (id PageID) String() string {
	if id == NoPage {
		return "page(none)"
	}
	return fmt.Sprintf("page(%d)", id)
}

// RecordRef is an opaque locator for a row inside table storage. The storage
// core stores and returns it verbatim; only table storage can resolve it.
type RecordRef uint64

// Comparator orders two encoded keys. It returns a negative value when a
// sorts before b, zero when they are equal, and a positive value otherwise.
type Comparator func(a, b []byte) int

// DefaultComparator orders keys by their raw bytes. All encodings produced
// by this package are order-preserving under it.
func DefaultComparator(a, b []byte) int {
	return bytes.Compare(a, b)
}
