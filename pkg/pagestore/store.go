package pagestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"reldb/pkg/dberr"
	"reldb/pkg/primitives"
)

const (
	pageFileName = "pages.dat"
	metaFileName = "pagestore.meta.json"

	component = "PageStore"
)

// storeMeta is the sidecar metadata persisted alongside the page file. It
// is written through on every allocate and free so the store can reopen
// with its ID counter and free list intact.
type storeMeta struct {
	NextPageID primitives.PageID `json:"next_page_id"`
	FreeHead   primitives.PageID `json:"free_head"`
}

// Store is a durable fixed-size-slot page store. Pages are addressed at
// byte offset (id-1) * PageSize in a single backing file. Freed pages are
// threaded onto a reusable free list via their next links.
//
// Thread-safety: all public methods hold the store mutex. The store has no
// cache of its own; callers are expected to go through a BufferPool.
type Store struct {
	mu     sync.RWMutex
	file   *os.File
	dir    string
	logger *zap.Logger

	nextID   primitives.PageID
	freeHead primitives.PageID
	free     map[primitives.PageID]struct{}
}

// Option configures a Store.
type Option func(*Store)

// WithLogger attaches a logger to the store. The default discards logs.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// Open opens (or creates) a page store rooted at the given directory. The
// free list is rebuilt from disk by walking the persisted chain.
func Open(dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("data directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create data directory %s", dir)
	}

	file, err := os.OpenFile(filepath.Join(dir, pageFileName), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open page file")
	}

	s := &Store{
		file:     file,
		dir:      dir,
		logger:   zap.NewNop(),
		nextID:   1,
		freeHead: primitives.NoPage,
		free:     make(map[primitives.PageID]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.loadMeta(); err != nil {
		file.Close()
		return nil, err
	}
	if err := s.rebuildFreeList(); err != nil {
		file.Close()
		return nil, err
	}

	s.logger.Info("page store opened",
		zap.String("dir", dir),
		zap.Uint32("next_page_id", uint32(s.nextID)),
		zap.Int("free_pages", len(s.free)))
	return s, nil
}

// Allocate creates a new page of the given type, reusing the free-list head
// when one is available, and persists it immediately so a subsequent Read
// of the returned ID succeeds.
func (s *Store) Allocate(t PageType) (*Page, error) {
	if t == FreePage {
		return nil, dberr.New(dberr.StructuralInvariant, component, "Allocate",
			"cannot allocate a page of type free")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var page *Page
	if s.freeHead.IsValid() {
		reclaimed, err := s.readPageAt(s.freeHead)
		if err != nil {
			// An unreadable free-list head is an I/O fault, not detected
			// corruption; pass it through untagged.
			return nil, errors.Wrapf(err, "failed to read free-list head %d", s.freeHead)
		}
		delete(s.free, reclaimed.ID())
		s.freeHead = reclaimed.Next()
		reclaimed.Reset(t)
		page = reclaimed
		s.logger.Debug("reclaimed free page", zap.Uint32("page_id", uint32(page.ID())))
	} else {
		page = NewPage(s.nextID, t)
		s.nextID++
		s.logger.Debug("allocated new page",
			zap.Uint32("page_id", uint32(page.ID())),
			zap.String("type", t.String()))
	}

	if err := s.writePageAt(page); err != nil {
		return nil, err
	}
	if err := s.saveMeta(); err != nil {
		return nil, err
	}
	return page, nil
}

// Read loads a page from disk. It fails with PageNotFound when the ID was
// never allocated (or has been freed) and with PageCorrupt when the stored
// checksum does not match the payload.
func (s *Store) Read(id primitives.PageID) (*Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkAllocated(id, "Read"); err != nil {
		return nil, err
	}

	page, err := s.readPageAt(id)
	if err != nil {
		return nil, err
	}
	if page.ID() != id {
		return nil, dberr.New(dberr.PageCorrupt, component, "Read",
			"page %d header carries id %d", id, page.ID())
	}
	if !page.VerifyChecksum() {
		return nil, dberr.New(dberr.PageCorrupt, component, "Read",
			"checksum mismatch on page %d: stored %x, computed %x",
			id, page.Checksum(), page.ComputeChecksum())
	}
	return page, nil
}

// Write persists a page, recomputing its checksum and last-write timestamp
// first. The page must have been allocated through this store.
func (s *Store) Write(page *Page) error {
	if page == nil {
		return fmt.Errorf("page cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkAllocated(page.ID(), "Write"); err != nil {
		return err
	}
	return s.writePageAt(page)
}

// Free returns a page to the store's reusable free list. The page contents
// are discarded; its next link threads the free list.
func (s *Store) Free(id primitives.PageID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkAllocated(id, "Free"); err != nil {
		return err
	}

	freed := NewPage(id, FreePage)
	freed.SetNext(s.freeHead)
	if err := s.writePageAt(freed); err != nil {
		return err
	}

	s.freeHead = id
	s.free[id] = struct{}{}
	s.logger.Debug("freed page", zap.Uint32("page_id", uint32(id)))
	return s.saveMeta()
}

// Contains reports whether a page ID is currently allocated.
func (s *Store) Contains(id primitives.PageID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isAllocated(id)
}

// NumPages returns the number of pages ever minted, including freed ones.
func (s *Store) NumPages() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int(s.nextID) - 1
}

// Stats summarizes the on-disk page population by type.
type Stats struct {
	TotalPages  int               `json:"total_pages"`
	FreePages   int               `json:"free_pages"`
	PagesByType map[string]int    `json:"pages_by_type"`
	NextPageID  primitives.PageID `json:"next_page_id"`
}

// Stats scans every page header and reports population counts. Intended
// for inspection and status reporting, not hot paths.
func (s *Store) Stats() (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		PagesByType: make(map[string]int),
		NextPageID:  s.nextID,
	}
	for id := primitives.PageID(1); id < s.nextID; id++ {
		page, err := s.readPageAt(id)
		if err != nil {
			return Stats{}, err
		}
		stats.TotalPages++
		stats.PagesByType[page.Type().String()]++
		if page.Type() == FreePage {
			stats.FreePages++
		}
	}
	return stats, nil
}

// Close syncs and closes the backing file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	if err := s.file.Sync(); err != nil {
		return errors.Wrap(err, "failed to sync page file")
	}
	err := s.file.Close()
	s.file = nil
	s.logger.Info("page store closed", zap.String("dir", s.dir))
	return err
}

func (s *Store) isAllocated(id primitives.PageID) bool {
	if !id.IsValid() || id >= s.nextID {
		return false
	}
	_, freed := s.free[id]
	return !freed
}

func (s *Store) checkAllocated(id primitives.PageID, op string) error {
	if s.file == nil {
		return fmt.Errorf("page store is closed")
	}
	if !s.isAllocated(id) {
		return dberr.New(dberr.PageNotFound, component, op, "page %d is not allocated", id)
	}
	return nil
}

// readPageAt reads and deserializes a page without allocation checks.
// Callers hold the store mutex.
func (s *Store) readPageAt(id primitives.PageID) (*Page, error) {
	buf := make([]byte, PageSize)
	if _, err := s.file.ReadAt(buf, pageOffset(id)); err != nil {
		return nil, errors.Wrapf(err, "failed to read page %d", id)
	}
	return UnmarshalPage(buf)
}

// writePageAt checksums and persists a page. Callers hold the store mutex.
func (s *Store) writePageAt(page *Page) error {
	page.UpdateChecksum()
	if _, err := s.file.WriteAt(page.MarshalBinary(), pageOffset(page.ID())); err != nil {
		return errors.Wrapf(err, "failed to write page %d", page.ID())
	}
	if err := s.file.Sync(); err != nil {
		return errors.Wrapf(err, "failed to sync page %d", page.ID())
	}
	return nil
}

func (s *Store) loadMeta() error {
	data, err := os.ReadFile(filepath.Join(s.dir, metaFileName))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "failed to read store metadata")
	}

	var meta storeMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return errors.Wrap(err, "failed to parse store metadata")
	}
	if meta.NextPageID.IsValid() {
		s.nextID = meta.NextPageID
	}
	s.freeHead = meta.FreeHead
	return nil
}

func (s *Store) saveMeta() error {
	meta := storeMeta{NextPageID: s.nextID, FreeHead: s.freeHead}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode store metadata")
	}
	if err := os.WriteFile(filepath.Join(s.dir, metaFileName), data, 0o644); err != nil {
		return errors.Wrap(err, "failed to save store metadata")
	}
	return nil
}

// rebuildFreeList walks the persisted free chain to repopulate the in-memory
// free set. The chain is strictly linear; a cycle or an out-of-range link
// indicates on-disk corruption.
func (s *Store) rebuildFreeList() error {
	seen := make(map[primitives.PageID]struct{})
	for id := s.freeHead; id.IsValid(); {
		if _, dup := seen[id]; dup {
			return dberr.New(dberr.PageCorrupt, component, "Open",
				"free list contains a cycle at page %d", id)
		}
		if id >= s.nextID {
			return dberr.New(dberr.PageCorrupt, component, "Open",
				"free list links to unminted page %d", id)
		}
		seen[id] = struct{}{}
		s.free[id] = struct{}{}

		page, err := s.readPageAt(id)
		if err != nil {
			return err
		}
		id = page.Next()
	}
	return nil
}

func pageOffset(id primitives.PageID) int64 {
	return int64(id-1) * PageSize
}
