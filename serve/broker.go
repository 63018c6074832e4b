package serve

import (
	"sync"
)

const (
	maxSubscribers   = 50
	subscriberBuffer = 64
)

// Subscription is one SSE client's event feed. Events arrive on C;
// when Run is set only that run's events are delivered.
type Subscription struct {
	C   chan BrokerEvent
	Run string
}

// wants reports whether the subscription's filter matches the event.
func (s *Subscription) wants(event BrokerEvent) bool {
	return s.Run == "" || s.Run == event.RunID
}

// EventBroker fans out run and evolution events to SSE subscribers.
type EventBroker struct {
	subscribers map[*Subscription]struct{}
	mu          sync.RWMutex
}

// NewEventBroker creates a new broker.
func NewEventBroker() *EventBroker {
	return &EventBroker{
		subscribers: make(map[*Subscription]struct{}),
	}
}

// Subscribe opens a feed, scoped to one run when run is non-empty, or
// returns nil when the subscriber limit is reached. The caller must
// call Unsubscribe when done.
func (b *EventBroker) Subscribe(run string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.subscribers) >= maxSubscribers {
		return nil
	}

	sub := &Subscription{C: make(chan BrokerEvent, subscriberBuffer), Run: run}
	b.subscribers[sub] = struct{}{}
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (b *EventBroker) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; ok {
		delete(b.subscribers, sub)
		close(sub.C)
	}
}

// Close closes all subscriber channels, causing SSE handlers to exit.
func (b *EventBroker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers {
		close(sub.C)
		delete(b.subscribers, sub)
	}
}

// Publish sends an event to every subscription whose filter matches.
// Non-blocking: if a subscriber's buffer is full, the event is dropped
// for that subscriber.
func (b *EventBroker) Publish(event BrokerEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		if !sub.wants(event) {
			continue
		}
		select {
		case sub.C <- event:
		default:
			// Subscriber too slow, drop event
		}
	}
}
