package bufferpool

import (
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"reldb/pkg/dberr"
	"reldb/pkg/pagestore"
	"reldb/pkg/primitives"
)

const component = "BufferPool"

// frame is one in-memory slot caching a page, with pin/dirty state.
type frame struct {
	page     *pagestore.Page
	pinCount int
	dirty    bool
	occupied bool
}

// Stats counts cache activity since the pool was created.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Flushes   uint64 `json:"flushes"`
}

// BufferPool caches pages from a backing Store in a fixed number of frames.
//
// Every Fetch pins the returned page and must be balanced by exactly one
// Unpin; WithPage wraps the pair so release happens on every exit path. A
// frame with a positive pin count is never evicted, and a dirty frame is
// flushed before its slot is reused. When every frame is pinned, Fetch
// fails with BufferPoolExhausted rather than blocking.
type BufferPool struct {
	mu     sync.Mutex
	store  *pagestore.Store
	policy Policy
	logger *zap.Logger

	frames    []frame
	slots     map[primitives.PageID]int
	freeSlots []int
	stats     Stats
}

// Option configures a BufferPool.
type Option func(*BufferPool)

// WithLogger attaches a logger to the pool. The default discards logs.
func WithLogger(logger *zap.Logger) Option {
	return func(bp *BufferPool) {
		bp.logger = logger
	}
}

// New creates a pool of capacity frames over the given store, using the
// supplied eviction policy.
func New(store *pagestore.Store, capacity int, policy Policy, opts ...Option) (*BufferPool, error) {
	if store == nil {
		return nil, fmt.Errorf("page store cannot be nil")
	}
	if capacity < 1 {
		return nil, fmt.Errorf("buffer pool capacity must be at least 1, got %d", capacity)
	}
	if policy == nil {
		return nil, fmt.Errorf("eviction policy cannot be nil")
	}

	bp := &BufferPool{
		store:     store,
		policy:    policy,
		logger:    zap.NewNop(),
		frames:    make([]frame, capacity),
		slots:     make(map[primitives.PageID]int, capacity),
		freeSlots: make([]int, 0, capacity),
	}
	for slot := capacity - 1; slot >= 0; slot-- {
		bp.freeSlots = append(bp.freeSlots, slot)
	}
	for _, opt := range opts {
		opt(bp)
	}
	return bp, nil
}

// Fetch returns the page pinned into a frame, loading it from the store on
// a cache miss. The caller must balance every Fetch with one Unpin.
func (bp *BufferPool) Fetch(id primitives.PageID) (*pagestore.Page, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if slot, ok := bp.slots[id]; ok {
		bp.stats.Hits++
		bp.frames[slot].pinCount++
		bp.policy.Touched(slot)
		return bp.frames[slot].page, nil
	}

	bp.stats.Misses++
	page, err := bp.store.Read(id)
	if err != nil {
		return nil, err
	}
	if _, err := bp.admit(page, false); err != nil {
		return nil, err
	}
	return page, nil
}

// Allocate creates a page of the given type in the store and pins it into a
// frame in one step. New pages start dirty so the first flush persists any
// payload the caller writes before its Unpin.
func (bp *BufferPool) Allocate(t pagestore.PageType) (*pagestore.Page, error) {
	page, err := bp.store.Allocate(t)
	if err != nil {
		return nil, err
	}

	bp.mu.Lock()
	defer bp.mu.Unlock()
	if _, err := bp.admit(page, true); err != nil {
		// No frame for the new page; return it to the store's free list
		// instead of leaving it allocated with no referrer.
		if freeErr := bp.store.Free(page.ID()); freeErr != nil {
			return nil, multierr.Append(err, freeErr)
		}
		return nil, err
	}
	return page, nil
}

// Unpin releases one pin on the page. isDirty records that the caller
// mutated the page; the dirty flag is sticky until the frame is flushed.
func (bp *BufferPool) Unpin(id primitives.PageID, isDirty bool) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	slot, ok := bp.slots[id]
	if !ok {
		return dberr.New(dberr.StructuralInvariant, component, "Unpin",
			"page %d is not resident", id)
	}

	f := &bp.frames[slot]
	if f.pinCount <= 0 {
		return dberr.New(dberr.StructuralInvariant, component, "Unpin",
			"unbalanced unpin of page %d", id)
	}
	f.pinCount--
	if isDirty {
		f.dirty = true
	}
	bp.policy.Touched(slot)
	return nil
}

// WithPage fetches the page, runs fn against it, and guarantees the
// matching unpin on every exit path. fn reports whether it dirtied the
// page; on error the page is unpinned clean unless fn dirtied it first.
func (bp *BufferPool) WithPage(id primitives.PageID, fn func(*pagestore.Page) (bool, error)) error {
	page, err := bp.Fetch(id)
	if err != nil {
		return err
	}

	dirty, fnErr := fn(page)
	if unpinErr := bp.Unpin(id, dirty); unpinErr != nil {
		return multierr.Append(fnErr, unpinErr)
	}
	return fnErr
}

// FlushPage writes the page's frame back to the store if dirty.
func (bp *BufferPool) FlushPage(id primitives.PageID) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	slot, ok := bp.slots[id]
	if !ok {
		return nil
	}
	return bp.flushSlot(slot)
}

// FlushAll writes back every dirty frame and clears its dirty flag. All
// frames are attempted even if some fail; failures are aggregated. Invoked
// at orderly shutdown.
func (bp *BufferPool) FlushAll() error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	var err error
	for slot := range bp.frames {
		if bp.frames[slot].occupied {
			err = multierr.Append(err, bp.flushSlot(slot))
		}
	}
	return err
}

// PinCount reports the current pin count of a resident page. Non-resident
// pages report zero.
func (bp *BufferPool) PinCount(id primitives.PageID) int {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if slot, ok := bp.slots[id]; ok {
		return bp.frames[slot].pinCount
	}
	return 0
}

// Resident reports whether the page currently occupies a frame.
func (bp *BufferPool) Resident(id primitives.PageID) bool {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	_, ok := bp.slots[id]
	return ok
}

// Capacity returns the pool's frame count.
func (bp *BufferPool) Capacity() int {
	return len(bp.frames)
}

// PolicyName returns the active eviction policy's name.
func (bp *BufferPool) PolicyName() string {
	return bp.policy.Name()
}

// Stats returns a copy of the pool's activity counters.
func (bp *BufferPool) Stats() Stats {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return bp.stats
}

// admit places a page into a frame with a pin count of one, evicting a
// victim when no free slot remains.
func (bp *BufferPool) admit(page *pagestore.Page, dirty bool) (int, error) {
	slot, err := bp.takeSlot()
	if err != nil {
		return -1, err
	}

	bp.frames[slot] = frame{
		page:     page,
		pinCount: 1,
		dirty:    dirty,
		occupied: true,
	}
	bp.slots[page.ID()] = slot
	bp.policy.Admitted(slot)
	return slot, nil
}

func (bp *BufferPool) takeSlot() (int, error) {
	if n := len(bp.freeSlots); n > 0 {
		slot := bp.freeSlots[n-1]
		bp.freeSlots = bp.freeSlots[:n-1]
		return slot, nil
	}

	slot, ok := bp.policy.Victim(func(s int) bool {
		return bp.frames[s].pinCount > 0
	})
	if !ok {
		return -1, dberr.New(dberr.BufferPoolExhausted, component, "Fetch",
			"all %d frames are pinned", len(bp.frames))
	}

	if err := bp.flushSlot(slot); err != nil {
		return -1, err
	}

	victim := &bp.frames[slot]
	bp.logger.Debug("evicting page",
		zap.Uint32("page_id", uint32(victim.page.ID())),
		zap.String("policy", bp.policy.Name()))
	delete(bp.slots, victim.page.ID())
	bp.policy.Removed(slot)
	*victim = frame{}
	bp.stats.Evictions++
	return slot, nil
}

func (bp *BufferPool) flushSlot(slot int) error {
	f := &bp.frames[slot]
	if !f.occupied || !f.dirty {
		return nil
	}
	if err := bp.store.Write(f.page); err != nil {
		return fmt.Errorf("failed to flush page %d: %w", f.page.ID(), err)
	}
	f.dirty = false
	bp.stats.Flushes++
	return nil
}
