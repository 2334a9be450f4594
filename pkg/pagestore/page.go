// Package pagestore implements durable fixed-size page storage. Pages live
// in a single backing file addressed by page ID, carry a checksummed header,
// and thread prev/next links that serve both the store's free list and the
// B+tree leaf chain (never both for the same page type).
package pagestore

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"

	"reldb/pkg/primitives"
)

const (
	// PageSize is the size of each page in bytes (4KB).
	PageSize = 4096

	// HeaderSize is the fixed size of the page header in bytes.
	HeaderSize = 64

	// PayloadSize is the usable byte count of a page after the header.
	PayloadSize = PageSize - HeaderSize
)

// Header field offsets within the 64-byte header. Bytes past lastWrite are
// reserved and must be zero.
const (
	offID          = 0  // uint32
	offType        = 4  // uint8
	offRecordCount = 5  // uint16
	offFreeOffset  = 7  // uint16
	offPrev        = 9  // uint32
	offNext        = 13 // uint32
	offChecksum    = 17 // uint64
	offLastWrite   = 25 // int64 (unix nanoseconds)
)

// PageType identifies what a page's payload holds.
type PageType uint8

const (
	// DataPage holds serialized table records.
	DataPage PageType = iota

	// IndexPage holds a serialized B+tree node.
	IndexPage

	// HeaderPage holds table or file header information.
	HeaderPage

	// FreePage is an unallocated page threaded onto the store's free list.
	FreePage
)

// String returns the page type name.
func (t PageType) String() string {
	switch t {
	case DataPage:
		return "data"
	case IndexPage:
		return "index"
	case HeaderPage:
		return "header"
	case FreePage:
		return "free"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Page is the fixed-size unit of persistence. The header is authoritative
// for identity, type, and linkage; the payload holds serialized node or
// record bytes. Header plus payload always total exactly PageSize.
type Page struct {
	id          primitives.PageID
	pageType    PageType
	recordCount uint16
	freeOffset  uint16
	prev        primitives.PageID
	next        primitives.PageID
	checksum    uint64
	lastWrite   int64

	payload []byte // always PayloadSize bytes
}

// NewPage creates an empty page of the given type.
func NewPage(id primitives.PageID, t PageType) *Page {
	return &Page{
		id:       id,
		pageType: t,
		payload:  make([]byte, PayloadSize),
	}
}

// ID returns the page's identifier.
func (p *Page) ID() primitives.PageID { return p.id }

// Type returns the page's type.
func (p *Page) Type() PageType { return p.pageType }

// SetType retypes the page. Used when a freed page is reallocated.
func (p *Page) SetType(t PageType) { p.pageType = t }

// RecordCount returns the number of records or entries in the payload.
func (p *Page) RecordCount() uint16 { return p.recordCount }

// SetRecordCount records the number of entries serialized in the payload.
func (p *Page) SetRecordCount(n uint16) { p.recordCount = n }

// FreeOffset returns the payload offset at which free space begins.
func (p *Page) FreeOffset() uint16 { return p.freeOffset }

// SetFreeOffset records where the payload's free space begins.
func (p *Page) SetFreeOffset(off uint16) { p.freeOffset = off }

// Prev returns the previous-page link (NoPage when unlinked).
func (p *Page) Prev() primitives.PageID { return p.prev }

// Next returns the next-page link (NoPage when unlinked).
func (p *Page) Next() primitives.PageID { return p.next }

// SetPrev sets the previous-page link.
func (p *Page) SetPrev(id primitives.PageID) { p.prev = id }

// SetNext sets the next-page link.
func (p *Page) SetNext(id primitives.PageID) { p.next = id }

// Checksum returns the stored payload checksum.
func (p *Page) Checksum() uint64 { return p.checksum }

// LastWrite returns the time of the last Write that persisted this page.
func (p *Page) LastWrite() time.Time { return time.Unix(0, p.lastWrite) }

// Payload returns the mutable payload region. Callers serialize node or
// record bytes directly into it.
func (p *Page) Payload() []byte { return p.payload }

// ComputeChecksum hashes the current payload.
func (p *Page) ComputeChecksum() uint64 {
	return xxhash.Sum64(p.payload)
}

// UpdateChecksum recomputes the stored checksum from the payload and stamps
// the last-write time. Called by the store on every Write.
func (p *Page) UpdateChecksum() {
	p.checksum = p.ComputeChecksum()
	p.lastWrite = time.Now().UnixNano()
}

// VerifyChecksum reports whether the stored checksum matches the payload.
func (p *Page) VerifyChecksum() bool {
	return p.checksum == p.ComputeChecksum()
}

// Reset clears the page for reuse as a fresh page of the given type. The
// payload is zeroed and all links are cleared.
func (p *Page) Reset(t PageType) {
	p.pageType = t
	p.recordCount = 0
	p.freeOffset = 0
	p.prev = primitives.NoPage
	p.next = primitives.NoPage
	clear(p.payload)
}

// Clone returns a deep copy of the page.
func (p *Page) Clone() *Page {
	dup := *p
	dup.payload = make([]byte, PayloadSize)
	copy(dup.payload, p.payload)
	return &dup
}

// MarshalBinary serializes the page into exactly PageSize bytes.
func (p *Page) MarshalBinary() []byte {
	buf := make([]byte, PageSize)
	binary.LittleEndian.PutUint32(buf[offID:], uint32(p.id))
	buf[offType] = byte(p.pageType)
	binary.LittleEndian.PutUint16(buf[offRecordCount:], p.recordCount)
	binary.LittleEndian.PutUint16(buf[offFreeOffset:], p.freeOffset)
	binary.LittleEndian.PutUint32(buf[offPrev:], uint32(p.prev))
	binary.LittleEndian.PutUint32(buf[offNext:], uint32(p.next))
	binary.LittleEndian.PutUint64(buf[offChecksum:], p.checksum)
	binary.LittleEndian.PutUint64(buf[offLastWrite:], uint64(p.lastWrite))
	copy(buf[HeaderSize:], p.payload)
	return buf
}

// UnmarshalPage deserializes a page from exactly PageSize bytes.
func UnmarshalPage(data []byte) (*Page, error) {
	if len(data) != PageSize {
		return nil, fmt.Errorf("invalid page size: got %d bytes, want %d", len(data), PageSize)
	}

	p := &Page{
		id:          primitives.PageID(binary.LittleEndian.Uint32(data[offID:])),
		pageType:    PageType(data[offType]),
		recordCount: binary.LittleEndian.Uint16(data[offRecordCount:]),
		freeOffset:  binary.LittleEndian.Uint16(data[offFreeOffset:]),
		prev:        primitives.PageID(binary.LittleEndian.Uint32(data[offPrev:])),
		next:        primitives.PageID(binary.LittleEndian.Uint32(data[offNext:])),
		checksum:    binary.LittleEndian.Uint64(data[offChecksum:]),
		lastWrite:   int64(binary.LittleEndian.Uint64(data[offLastWrite:])),
		payload:     make([]byte, PayloadSize),
	}
	copy(p.payload, data[HeaderSize:])
	return p, nil
}

// String returns a short description of the page.
func (p *Page) String() string {
	return fmt.Sprintf("Page(id=%d, type=%s, records=%d, prev=%d, next=%d)",
		p.id, p.pageType, p.recordCount, p.prev, p.next)
}
