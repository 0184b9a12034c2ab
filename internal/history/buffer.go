// Package history provides the bounded, order-preserving store of recent
// chat events used for catch-up reads. There is one process-wide buffer;
// when it is full the oldest event is evicted (FIFO).
package history

import (
	"sync"

	"github.com/tuniway/relay/internal/chat"
)

// DefaultCapacity is the number of recent events retained.
const DefaultCapacity = 100

// Buffer stores the last N broadcast events in memory. It is goroutine-safe
// and uses a fixed-size ring buffer internally.
type Buffer struct {
	mu    sync.RWMutex
	items []chat.Event
	pos   int
	count int
}

// NewBuffer creates an empty Buffer with the given capacity. A capacity of
// zero or less falls back to DefaultCapacity.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		items: make([]chat.Event, capacity),
	}
}

// Append adds an event to the tail of the buffer. If the buffer is full, the
// oldest event is overwritten.
func (b *Buffer) Append(ev chat.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	capacity := len(b.items)
	b.items[b.pos] = ev
	b.pos = (b.pos + 1) % capacity
	if b.count < capacity {
		b.count++
	}
}

// Snapshot returns a point-in-time copy of the buffered events in
// chronological order (oldest first). Mutations racing with the caller's
// iteration are not reflected in the returned slice.
func (b *Buffer) Snapshot() []chat.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	capacity := len(b.items)
	result := make([]chat.Event, b.count)
	start := (b.pos - b.count + capacity) % capacity
	for i := 0; i < b.count; i++ {
		result[i] = b.items[(start+i)%capacity]
	}
	return result
}

// Clear empties the buffer. Used by the administrative reset endpoint.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pos = 0
	b.count = 0
}

// Len returns the current number of buffered events.
func (b *Buffer) Len() int {
	b.mu.RLock()
	n := b.count
	b.mu.RUnlock()
	return n
}

// Cap returns the buffer capacity.
func (b *Buffer) Cap() int {
	return len(b.items)
}
