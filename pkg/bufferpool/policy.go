// Package bufferpool caches pages in fixed frames with pin/unpin reference
// counting, dirty tracking, and a pluggable eviction policy.
package bufferpool

import "fmt"

// Policy selects eviction victims among the pool's frames. Implementations
// track per-slot metadata (recency, insertion order, reference bits) and are
// driven by the pool's notifications. A Policy is not safe for concurrent
// use; the pool serializes all calls under its own mutex.
type Policy interface {
	// Admitted notifies the policy that a page was loaded into the slot.
	Admitted(slot int)

	// Touched notifies the policy of an access to the slot. The pool calls
	// it on every cache hit and on every unpin.
	Touched(slot int)

	// Removed notifies the policy that the slot no longer holds its page.
	Removed(slot int)

	// Victim selects an occupied slot to evict. Slots for which pinned
	// returns true must never be chosen. Returns false when every occupied
	// slot is pinned.
	Victim(pinned func(slot int) bool) (int, bool)

	// Name returns the policy's configuration name.
	Name() string
}

// NewPolicy builds a policy by configuration name: "lru", "fifo", "clock".
func NewPolicy(name string, capacity int) (Policy, error) {
	switch name {
	case "lru":
		return NewLRU(capacity), nil
	case "fifo":
		return NewFIFO(capacity), nil
	case "clock":
		return NewClock(capacity), nil
	default:
		return nil, fmt.Errorf("unknown eviction policy %q", name)
	}
}

// LRU evicts the unpinned slot with the oldest last access. Accesses are
// stamped with a logical tick, so ordering is exact regardless of
// wall-clock resolution.
type LRU struct {
	tick     uint64
	lastUsed []uint64
	occupied []bool
}

// NewLRU creates an LRU policy for a pool with the given frame count.
func NewLRU(capacity int) *LRU {
	return &LRU{
		lastUsed: make([]uint64, capacity),
		occupied: make([]bool, capacity),
	}
}

func (p *LRU) Admitted(slot int) {
	p.occupied[slot] = true
	p.Touched(slot)
}

func (p *LRU) Touched(slot int) {
	p.tick++
	p.lastUsed[slot] = p.tick
}

func (p *LRU) Removed(slot int) {
	p.occupied[slot] = false
	p.lastUsed[slot] = 0
}

func (p *LRU) Victim(pinned func(slot int) bool) (int, bool) {
	victim, found := -1, false
	for slot, ok := range p.occupied {
		if !ok || pinned(slot) {
			continue
		}
		if !found || p.lastUsed[slot] < p.lastUsed[victim] {
			victim, found = slot, true
		}
	}
	return victim, found
}

func (p *LRU) Name() string { return "lru" }

// FIFO evicts the unpinned slot whose page was loaded earliest, regardless
// of how recently it was accessed.
type FIFO struct {
	order []int // slots in load order, oldest first
}

// NewFIFO creates a FIFO policy for a pool with the given frame count.
func NewFIFO(capacity int) *FIFO {
	return &FIFO{order: make([]int, 0, capacity)}
}

func (p *FIFO) Admitted(slot int) {
	p.order = append(p.order, slot)
}

func (p *FIFO) Touched(int) {}

func (p *FIFO) Removed(slot int) {
	for i, s := range p.order {
		if s == slot {
			p.order = append(p.order[:i], p.order[i+1:]...)
			return
		}
	}
}

func (p *FIFO) Victim(pinned func(slot int) bool) (int, bool) {
	for _, slot := range p.order {
		if !pinned(slot) {
			return slot, true
		}
	}
	return -1, false
}

func (p *FIFO) Name() string { return "fifo" }

// Clock approximates LRU with a circular sweep and one reference bit per
// slot: the hand clears set bits as it passes and evicts the first unpinned
// slot found with a clear bit.
type Clock struct {
	refBit   []bool
	occupied []bool
	hand     int
}

// NewClock creates a Clock policy for a pool with the given frame count.
func NewClock(capacity int) *Clock {
	return &Clock{
		refBit:   make([]bool, capacity),
		occupied: make([]bool, capacity),
	}
}

func (p *Clock) Admitted(slot int) {
	p.occupied[slot] = true
	p.refBit[slot] = true
}

func (p *Clock) Touched(slot int) {
	p.refBit[slot] = true
}

func (p *Clock) Removed(slot int) {
	p.occupied[slot] = false
	p.refBit[slot] = false
}

func (p *Clock) Victim(pinned func(slot int) bool) (int, bool) {
	// Two full sweeps suffice: the first clears reference bits, the second
	// must find a victim unless every occupied slot is pinned.
	capacity := len(p.refBit)
	for i := 0; i < 2*capacity; i++ {
		slot := p.hand
		p.hand = (p.hand + 1) % capacity

		if !p.occupied[slot] || pinned(slot) {
			continue
		}
		if p.refBit[slot] {
			p.refBit[slot] = false
			continue
		}
		return slot, true
	}
	return -1, false
}

func (p *Clock) Name() string { return "clock" }
