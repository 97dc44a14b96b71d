// Package queue buffers feed packages between the poller and the
// normalization workers.
//
// The queue is an in-memory bounded channel: the poller must never block
// on a slow worker, so enqueue is non-blocking and reports backpressure
// instead. Dropped packages are redelivered by the upstream feed.
package queue

import (
	"context"
	"sync"

	"github.com/okian/fleettrack/internal/adapters/feed"
	"github.com/okian/fleettrack/pkg/metrics"
)

const defaultCapacity = 10000

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds a package to the queue.
	// Returns false if the queue is full or closed.
	Enqueue(ctx context.Context, pkg *feed.Package) bool

	// Dequeue returns a channel that receives packages as they become
	// available. The channel is closed when the queue is closed.
	Dequeue(ctx context.Context) <-chan *feed.Package

	// Len returns the current number of queued packages.
	Len(ctx context.Context) int

	// Close shuts the queue down. Queued packages remain consumable;
	// the dequeue channel closes once they are drained.
	Close() error

	// IsClosed returns true if the queue has been closed.
	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	packages chan *feed.Package
	capacity int

	mu     sync.RWMutex
	closed bool
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{
		capacity: defaultCapacity,
	}

	for _, opt := range opts {
		opt(q)
	}

	q.packages = make(chan *feed.Package, q.capacity)

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)
	metrics.UpdateQueueUtilization(0.0)

	return q
}

// Enqueue adds a package to the queue.
func (q *InMemoryQueue) Enqueue(ctx context.Context, pkg *feed.Package) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueEnqueueError()
		return false
	}

	select {
	case q.packages <- pkg:
		metrics.RecordQueueEnqueue()
		q.observe()
		return true
	case <-ctx.Done():
		metrics.RecordQueueEnqueueError()
		return false
	default:
		// Queue full. The feed redelivers unacknowledged packages, so
		// dropping here loses nothing.
		metrics.RecordQueueEnqueueError()
		return false
	}
}

// Dequeue returns a channel that receives packages as they become available.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan *feed.Package {
	out := make(chan *feed.Package)
	go func() {
		defer close(out)
		for pkg := range q.packages {
			select {
			case out <- pkg:
				metrics.RecordQueueDequeue()
				q.observe()
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Len returns the current number of queued packages.
func (q *InMemoryQueue) Len(_ context.Context) int {
	q.observe()
	return len(q.packages)
}

// Close shuts down the queue. Safe to call more than once.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}

	close(q.packages)
	q.closed = true
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

// observe refreshes the queue gauges.
func (q *InMemoryQueue) observe() {
	size := len(q.packages)
	metrics.UpdateQueueSize(size)
	metrics.UpdateQueueUtilization(float64(size) / float64(q.capacity))
}
