// Package events defines the Publisher contract used for dashboard/observer
// fan-out (§9 Design Note: "Event fan-out to dashboards is done by
// publishing to observer channels owned by the caller"), with an
// in-process ChannelBus default and an optional NATS-backed bus.
// Consumption by an actual dashboard is out of scope; only the publication
// contract lives here.
package events

import (
	"context"
	"sync"
	"time"
)

// Event is a single published lifecycle notification. Subject examples:
// "transport.spawned", "transport.terminated", "pool.health",
// "task.enqueued", "task.completed", "permission.created",
// "permission.resolved".
type Event struct {
	Subject   string    `json:"subject"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher is the narrow interface the pool, orchestrator, and approvals
// table depend on. They never know whether a subscriber exists.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload any) error
}

// ChannelBus fans every published event out to all currently-subscribed
// channels. It never blocks a publisher on a slow subscriber: sends are
// best-effort and drop if a subscriber's channel is full.
type ChannelBus struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
	now         func() time.Time
}

// NewChannelBus builds an empty in-process bus.
func NewChannelBus() *ChannelBus {
	return &ChannelBus{
		subscribers: make(map[chan Event]struct{}),
		now:         time.Now,
	}
}

// Publish implements Publisher.
func (b *ChannelBus) Publish(ctx context.Context, subject string, payload any) error {
	ev := Event{Subject: subject, Payload: payload, Timestamp: b.now()}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

// Subscribe registers ch to receive every future published event. The
// caller owns ch and must call Unsubscribe before abandoning it.
func (b *ChannelBus) Subscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[ch] = struct{}{}
}

// Unsubscribe removes ch from the fan-out set.
func (b *ChannelBus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, ch)
}
