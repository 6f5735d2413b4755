package console

import (
	"sync"

	"github.com/devbridge/agent/internal/protocol"
)

// DefaultCapacity is the ring's entry limit before a trim.
const DefaultCapacity = 1000

// Ring is a thread-safe bounded buffer of console entries.
//
// Unlike a classic circular buffer that evicts one entry per write, this
// ring uses hysteresis: entries accumulate up to capacity, and on
// overflow the buffer is trimmed to the most recent half in one step.
// The buffer therefore never trims on every push - eviction cost is
// amortized across capacity/2 writes.
type Ring struct {
	mu sync.RWMutex

	// entries holds the buffered entries, oldest first.
	entries []protocol.ConsoleEntry

	// capacity is the high-water mark that triggers a trim.
	capacity int

	// retain is how many of the most recent entries survive a trim.
	retain int
}

// NewRing creates a ring with the given capacity. A capacity <= 0
// defaults to DefaultCapacity. The post-trim size is capacity/2.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{
		entries:  make([]protocol.ConsoleEntry, 0, capacity),
		capacity: capacity,
		retain:   capacity / 2,
	}
}

// Push appends an entry, trimming to the most recent half when the
// buffer exceeds capacity.
func (r *Ring) Push(e protocol.ConsoleEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = append(r.entries, e)
	if len(r.entries) > r.capacity {
		kept := make([]protocol.ConsoleEntry, r.retain)
		copy(kept, r.entries[len(r.entries)-r.retain:])
		r.entries = kept
	}
}

// Snapshot returns a copy of the buffered entries, oldest first.
func (r *Ring) Snapshot() []protocol.ConsoleEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]protocol.ConsoleEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Size returns the current number of buffered entries.
func (r *Ring) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Clear empties the buffer.
func (r *Ring) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = r.entries[:0]
}
