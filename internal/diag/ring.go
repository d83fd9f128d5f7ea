// ring.go: fixed-capacity trace buffer. The oldest records are evicted first.
package diag

import "sync"

// Ring is a goroutine-safe circular buffer.
type Ring[T any] struct {
	mu       sync.RWMutex
	entries  []T
	capacity int
	head     int // index where the next write goes
	total    int64
}

// NewRing creates a ring with the given capacity. Capacity below 1 is treated as 1.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{entries: make([]T, 0, capacity), capacity: capacity}
}

// WriteOne appends an entry, evicting the oldest one when full.
func (r *Ring[T]) WriteOne(entry T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) < r.capacity {
		r.entries = append(r.entries, entry)
	} else {
		r.entries[r.head] = entry
	}
	r.head = (r.head + 1) % r.capacity
	r.total++
}

// Len reports how many entries are held.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Total reports how many entries were ever written.
func (r *Ring[T]) Total() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}

// ReadAll returns every held entry, oldest first.
func (r *Ring[T]) ReadAll() []T {
	return r.ReadLast(r.capacity)
}

// ReadLast returns the most recent n entries, oldest first.
func (r *Ring[T]) ReadLast(n int) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	size := len(r.entries)
	if size == 0 || n <= 0 {
		return nil
	}
	if n > size {
		n = size
	}

	out := make([]T, n)
	if size < r.capacity {
		copy(out, r.entries[size-n:])
		return out
	}
	// Full: head is the oldest slot, so the newest sits just before it.
	idx := (r.head - n + r.capacity) % r.capacity
	for i := 0; i < n; i++ {
		out[i] = r.entries[idx]
		idx = (idx + 1) % r.capacity
	}
	return out
}
