// Package bus provides the in-process publish/subscribe primitive used when
// producer and consumers share one server instance. Delivery is synchronous
// fan-out with no buffering and no replay; cross-instance visibility is the
// broker's job.
package bus

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/socratat-b/orderbean/internal/event"
)

// Handler receives a published event for a topic it subscribed to.
type Handler func(topic event.Topic, ev event.OrderEvent)

// Subscription is the handle returned by Subscribe. Cancel deregisters the
// handler; cancelling twice is a no-op.
type Subscription struct {
	bus    *Bus
	topic  event.Topic
	id     uint64
	once   sync.Once
	closed bool
}

// Cancel removes the subscription from the bus.
func (s *Subscription) Cancel() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.bus.remove(s.topic, s.id)
		s.closed = true
	})
}

type entry struct {
	id uint64
	fn Handler
}

// Bus is the process-wide local event bus. Created once at startup and
// injected into the publisher and session manager; tests substitute an
// isolated instance per case.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[event.Topic][]entry
	closed bool
	logger zerolog.Logger
}

// New returns an empty bus.
func New(logger zerolog.Logger) *Bus {
	return &Bus{
		subs:   make(map[event.Topic][]entry),
		logger: logger.With().Str("component", "bus").Logger(),
	}
}

// Subscribe registers fn for topic. Handlers are invoked in registration
// order. A handler never sees events published before it subscribed.
func (b *Bus) Subscribe(topic event.Topic, fn Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return &Subscription{bus: b, topic: topic, closed: true}
	}
	b.nextID++
	id := b.nextID
	b.subs[topic] = append(b.subs[topic], entry{id: id, fn: fn})
	return &Subscription{bus: b, topic: topic, id: id}
}

func (b *Bus) remove(topic event.Topic, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[topic]
	for i, e := range list {
		if e.id == id {
			b.subs[topic] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(b.subs[topic]) == 0 {
		delete(b.subs, topic)
	}
}

// Publish invokes every handler currently registered for topic, in
// registration order, within the caller's goroutine. A panicking handler is
// recovered and logged; it never prevents delivery to subsequent handlers
// and never reaches the publisher.
func (b *Bus) Publish(topic event.Topic, ev event.OrderEvent) {
	b.mu.RLock()
	list := b.subs[topic]
	handlers := make([]entry, len(list))
	copy(handlers, list)
	b.mu.RUnlock()

	for _, e := range handlers {
		b.invoke(topic, ev, e)
	}
}

func (b *Bus) invoke(topic event.Topic, ev event.OrderEvent, e entry) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().
				Str("topic", string(topic)).
				Str("order_id", ev.OrderID).
				Interface("panic", r).
				Msg("subscriber callback failed")
		}
	}()
	e.fn(topic, ev)
}

// Len reports the number of handlers registered for topic.
func (b *Bus) Len(topic event.Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// Close clears every subscription. Publishes after Close deliver to nobody;
// new subscriptions are inert.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[event.Topic][]entry)
}
