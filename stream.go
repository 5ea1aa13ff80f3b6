package barterchat

import (
	"sync"
	"sync/atomic"
)

// DefaultSubscriberBuffer is the channel capacity used by Subscribe.
const DefaultSubscriberBuffer = 64

// EventStream broadcasts events to any number of subscribers. Each subscriber
// sees every event published after it subscribed, in publish order. A
// subscriber whose channel is full misses the event; the publisher never
// blocks.
type EventStream struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

// NewEventStream creates an empty stream.
func NewEventStream() *EventStream {
	return &EventStream{subs: make(map[*Subscription]struct{})}
}

// Subscription is one consumer's view of the stream.
type Subscription struct {
	// C receives events. It is closed by Close or when the stream shuts down.
	C <-chan Event

	ch      chan Event
	stream  *EventStream
	dropped atomic.Uint64
	once    sync.Once
}

// Subscribe registers a subscriber with the default buffer.
func (s *EventStream) Subscribe() *Subscription {
	return s.SubscribeBuffered(DefaultSubscriberBuffer)
}

// SubscribeBuffered registers a subscriber whose channel holds up to n
// undelivered events.
func (s *EventStream) SubscribeBuffered(n int) *Subscription {
	if n < 1 {
		n = 1
	}
	ch := make(chan Event, n)
	sub := &Subscription{C: ch, ch: ch, stream: s}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		close(ch)
		sub.once.Do(func() {})
		return sub
	}
	s.subs[sub] = struct{}{}
	return sub
}

// Publish delivers ev to every current subscriber without blocking.
func (s *EventStream) Publish(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for sub := range s.subs {
		select {
		case sub.ch <- ev:
		default:
			sub.dropped.Add(1)
			StreamDropsTotal.Inc()
		}
	}
}

// Len returns the number of active subscribers.
func (s *EventStream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Close closes every subscription and ignores later publishes.
func (s *EventStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for sub := range s.subs {
		delete(s.subs, sub)
		sub.once.Do(func() { close(sub.ch) })
	}
}

// Close unsubscribes and closes C. It is safe to call more than once.
func (sub *Subscription) Close() {
	sub.stream.mu.Lock()
	defer sub.stream.mu.Unlock()
	delete(sub.stream.subs, sub)
	sub.once.Do(func() { close(sub.ch) })
}

// Dropped returns how many events this subscriber missed because its
// channel was full.
func (sub *Subscription) Dropped() uint64 {
	return sub.dropped.Load()
}
