package bufferpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func neverPinned(int) bool { return false }

func TestNewPolicyByName(t *testing.T) {
	for _, name := range []string{"lru", "fifo", "clock"} {
		policy, err := NewPolicy(name, 4)
		require.NoError(t, err)
		assert.Equal(t, name, policy.Name())
	}

	_, err := NewPolicy("mru", 4)
	require.Error(t, err)
}

func TestLRUVictimIsLeastRecentlyTouched(t *testing.T) {
	lru := NewLRU(3)
	lru.Admitted(0)
	lru.Admitted(1)
	lru.Admitted(2)

	// Slot 0 becomes the most recent; slot 1 is now the oldest.
	lru.Touched(0)

	victim, ok := lru.Victim(neverPinned)
	require.True(t, ok)
	assert.Equal(t, 1, victim)
}

func TestLRUSkipsPinnedSlots(t *testing.T) {
	lru := NewLRU(2)
	lru.Admitted(0)
	lru.Admitted(1)

	victim, ok := lru.Victim(func(slot int) bool { return slot == 0 })
	require.True(t, ok)
	assert.Equal(t, 1, victim)

	_, ok = lru.Victim(func(int) bool { return true })
	assert.False(t, ok, "no victim when every slot is pinned")
}

func TestFIFOIgnoresAccessPattern(t *testing.T) {
	fifo := NewFIFO(3)
	fifo.Admitted(2)
	fifo.Admitted(0)
	fifo.Admitted(1)

	// Touches must not save the earliest-loaded slot.
	fifo.Touched(2)
	fifo.Touched(2)

	victim, ok := fifo.Victim(neverPinned)
	require.True(t, ok)
	assert.Equal(t, 2, victim)
}

func TestFIFORemovalKeepsOrder(t *testing.T) {
	fifo := NewFIFO(3)
	fifo.Admitted(0)
	fifo.Admitted(1)
	fifo.Admitted(2)
	fifo.Removed(0)

	victim, ok := fifo.Victim(neverPinned)
	require.True(t, ok)
	assert.Equal(t, 1, victim)
}

func TestClockSecondChance(t *testing.T) {
	clock := NewClock(2)
	clock.Admitted(0)
	clock.Admitted(1)

	// First sweep clears both reference bits, second sweep evicts the slot
	// the hand reaches first.
	victim, ok := clock.Victim(neverPinned)
	require.True(t, ok)
	assert.Equal(t, 0, victim)

	// Slot 1 still has a cleared bit and goes next.
	clock.Removed(0)
	clock.Admitted(0)
	victim, ok = clock.Victim(neverPinned)
	require.True(t, ok)
	assert.Equal(t, 1, victim)
}

func TestClockRespectsPins(t *testing.T) {
	clock := NewClock(2)
	clock.Admitted(0)
	clock.Admitted(1)

	victim, ok := clock.Victim(func(slot int) bool { return slot == 0 })
	require.True(t, ok)
	assert.Equal(t, 1, victim)

	_, ok = clock.Victim(func(int) bool { return true })
	assert.False(t, ok)
}

// The three policies must be observably different strategies, not three
// names for the same behavior.
func TestPoliciesDivergeOnTouchedSlots(t *testing.T) {
	lru := NewLRU(2)
	fifo := NewFIFO(2)

	for _, p := range []Policy{lru, fifo} {
		p.Admitted(0)
		p.Admitted(1)
		p.Touched(0) // re-access the earliest-loaded slot
	}

	lruVictim, ok := lru.Victim(neverPinned)
	require.True(t, ok)
	fifoVictim, ok := fifo.Victim(neverPinned)
	require.True(t, ok)

	assert.Equal(t, 1, lruVictim, "LRU protects the recently touched slot")
	assert.Equal(t, 0, fifoVictim, "FIFO evicts by load order regardless of touches")
}
