// Package dedupe defines the interface for idempotency tracking.
//
// The deduper is a fast path in front of the persistence existence check:
// it cannot be the source of truth (the process may restart, and the cache
// is bounded), but it spares resolver and database work for the common
// case of the upstream feed redelivering a recent kill.
package dedupe

import (
	"context"
	"sync"
	"sync/atomic"
)

// Deduper records seen kill IDs to short-circuit redelivered packages.
type Deduper interface {
	// SeenAndRecord atomically checks if id was seen and records it if not.
	// Returns true if id was already seen, false if it was newly recorded.
	SeenAndRecord(ctx context.Context, id int64) bool

	// Unrecord removes an ID from the seen list, allowing it to be retried.
	// Used when a package was marked seen but failed before persistence.
	Unrecord(ctx context.Context, id int64)

	Size() int64
}

// inMemoryDeduper implements Deduper with a map plus a FIFO eviction ring.
// For bounded mode (maxSize > 0) the oldest recorded id is evicted when the
// cache is full; unbounded mode (maxSize <= 0) keeps everything.
type inMemoryDeduper struct {
	mu      sync.Mutex
	seen    map[int64]struct{}
	ring    []int64 // insertion order, bounded mode only
	next    int     // ring write cursor
	full    bool    // ring has wrapped at least once
	maxSize int
	size    atomic.Int64
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: 50000, // default max size
	}

	// Apply all options
	for _, opt := range opts {
		opt(d)
	}

	d.seen = make(map[int64]struct{})
	if d.maxSize > 0 {
		d.ring = make([]int64, d.maxSize)
	}

	return d
}

// SeenAndRecord atomically checks if id was seen and records it if not.
func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, id int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.seen[id]; exists {
		return true
	}

	if d.maxSize > 0 {
		if d.full {
			// Evict the id this slot last held, unless it was unrecorded.
			old := d.ring[d.next]
			if _, exists := d.seen[old]; exists {
				delete(d.seen, old)
				d.size.Add(-1)
			}
		}
		d.ring[d.next] = id
		d.next++
		if d.next == d.maxSize {
			d.next = 0
			d.full = true
		}
	}

	d.seen[id] = struct{}{}
	d.size.Add(1)
	return false
}

// Unrecord removes an ID from the seen list, allowing it to be retried.
func (d *inMemoryDeduper) Unrecord(_ context.Context, id int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.seen[id]; exists {
		delete(d.seen, id)
		d.size.Add(-1)
	}
}

// Size returns the current number of entries in the deduper.
func (d *inMemoryDeduper) Size() int64 {
	return d.size.Load()
}
