package events

import (
	"context"
	"sync"
	"time"
)

const defaultBuffer = 16

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(b *Broadcaster) {
		if m != nil {
			b.metrics = m
		}
	}
}

// WithDefaultBuffer sets the buffer used when Subscribe is given a
// non-positive size.
func WithDefaultBuffer(n int) Option {
	return func(b *Broadcaster) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// Broadcaster broadcasts events to in-process subscribers.
// Delivery never blocks: a subscriber whose buffer is full misses the event.
type Broadcaster struct {
	metrics MetricsRecorder
	buffer  int

	mu          sync.RWMutex
	subscribers map[chan Event]string
	closed      bool
}

// NewBroadcaster creates a broadcaster instance.
func NewBroadcaster(opts ...Option) *Broadcaster {
	b := &Broadcaster{
		metrics:     nopMetrics{},
		buffer:      defaultBuffer,
		subscribers: make(map[chan Event]string),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe subscribes to events for every user.
func (b *Broadcaster) Subscribe(buffer int) chan Event {
	return b.SubscribeUser("", buffer)
}

// SubscribeUser subscribes to events for userID only. An empty userID
// receives every event. Subscribing after Close yields a closed channel.
func (b *Broadcaster) SubscribeUser(userID string, buffer int) chan Event {
	if buffer <= 0 {
		buffer = b.buffer
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subscribers[ch] = userID
	return ch
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[ch]; !ok {
		return
	}
	delete(b.subscribers, ch)
	close(ch)
}

// SubscriberCount returns the number of open subscriptions.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Publish implements Publisher.
func (b *Broadcaster) Publish(_ context.Context, ev Event) error {
	if !b.Broadcast(ev) {
		b.metrics.RecordEventPublished(TransportLocal, "closed")
		return ErrClosed
	}
	b.metrics.RecordEventPublished(TransportLocal, "ok")
	return nil
}

// Broadcast delivers event to matching subscribers. It reports false once
// the broadcaster is closed.
func (b *Broadcaster) Broadcast(event Event) bool {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	// Sends happen under the read lock so Unsubscribe cannot close a channel
	// mid-send; they never block.
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return false
	}
	for ch, userID := range b.subscribers {
		if userID != "" && userID != event.UserID {
			continue
		}
		select {
		case ch <- event:
		default:
			b.metrics.RecordEventDropped()
		}
	}
	return true
}

// Close closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, ch)
	}
}
