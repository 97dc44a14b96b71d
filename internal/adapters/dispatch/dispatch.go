// Package dispatch fans kill and fleet state changes out to subscribers.
//
// Delivery is best-effort: the pipeline never blocks on a subscriber, and
// a subscriber that cannot keep up loses notifications rather than holding
// ingestion back.
package dispatch

import (
	"context"
	"sync"

	"github.com/okian/fleettrack/internal/domain/model"
	"github.com/okian/fleettrack/pkg/metrics"
)

const defaultSubscriberBuffer = 64

// Dispatcher fans notifications out to all current subscribers.
type Dispatcher struct {
	mu     sync.RWMutex
	subs   map[int]chan model.Notification
	nextID int
	buffer int
	closed bool
}

// Option applies a configuration option to the Dispatcher.
type Option func(*Dispatcher)

// WithSubscriberBuffer sets the per-subscriber channel buffer.
func WithSubscriberBuffer(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.buffer = n
		}
	}
}

// New creates a dispatcher.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		subs:   make(map[int]chan model.Notification),
		buffer: defaultSubscriberBuffer,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Subscribe registers a new subscriber. The returned cancel function
// removes the subscription and closes its channel.
func (d *Dispatcher) Subscribe() (<-chan model.Notification, func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := d.nextID
	d.nextID++
	ch := make(chan model.Notification, d.buffer)
	if d.closed {
		close(ch)
		return ch, func() {}
	}
	d.subs[id] = ch

	cancel := func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if sub, ok := d.subs[id]; ok {
			delete(d.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers a notification to every subscriber without blocking.
// Full subscriber buffers drop the notification for that subscriber.
func (d *Dispatcher) Publish(_ context.Context, n model.Notification) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return
	}

	metrics.RecordNotificationPublished(string(n.Type))
	for _, sub := range d.subs {
		select {
		case sub <- n:
		default:
			metrics.RecordNotificationDropped()
		}
	}
}

// SubscriberCount returns the number of current subscribers.
func (d *Dispatcher) SubscriberCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs)
}

// Close removes all subscribers and closes their channels. Publishing
// after Close is a no-op.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	d.closed = true
	for id, sub := range d.subs {
		delete(d.subs, id)
		close(sub)
	}
}
