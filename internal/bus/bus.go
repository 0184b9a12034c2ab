// Package bus provides the in-process topic pub/sub used by the relay to fan
// chat events out to connected subscribers. Topics are plain strings; every
// subscriber of a topic receives every event published to it.
package bus

import (
	"log"
	"sync"

	"github.com/tuniway/relay/internal/chat"
)

// Well-known topics. Private deliveries use per-user topics built with
// PrivateTopic.
const (
	TopicBroadcast = "public-broadcast"
	TopicTyping    = "typing"

	privatePrefix = "private."
)

// PrivateTopic returns the per-user private queue topic for a display name.
func PrivateTopic(displayName string) string {
	return privatePrefix + displayName
}

// Handler is the callback invoked for each event published to a subscribed
// topic. Handlers run synchronously on the publisher's goroutine; slow
// handlers should hand off to their own goroutine or channel.
type Handler func(ev chat.Event)

// Subscription represents one active topic subscription.
type Subscription struct {
	bus   *Bus
	topic string
	id    uint64
}

// Unsubscribe removes the subscription from its topic. Safe to call more
// than once.
func (s *Subscription) Unsubscribe() {
	s.bus.unsubscribe(s.topic, s.id)
}

// Bus is a goroutine-safe registry mapping topic names to subscriber
// handlers.
type Bus struct {
	mu     sync.RWMutex
	topics map[string]map[uint64]Handler
	nextID uint64
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{
		topics: make(map[string]map[uint64]Handler),
	}
}

// Subscribe registers a handler for a topic and returns its Subscription.
func (b *Bus) Subscribe(topic string, h Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID

	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[uint64]Handler)
		b.topics[topic] = subs
	}
	subs[id] = h

	return &Subscription{bus: b, topic: topic, id: id}
}

// Publish delivers an event to every subscriber of the topic. The subscriber
// set is copied before iteration so that handlers may subscribe or
// unsubscribe during delivery, and a panicking subscriber is recovered and
// logged so it cannot prevent delivery to the others.
func (b *Bus) Publish(topic string, ev chat.Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.topics[topic]))
	for _, h := range b.topics[topic] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		deliver(topic, h, ev)
	}
}

// SubscriberCount returns the number of subscribers on a topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	n := len(b.topics[topic])
	b.mu.RUnlock()
	return n
}

func (b *Bus) unsubscribe(topic string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.topics[topic]
	if !ok {
		return
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(b.topics, topic)
	}
}

// deliver invokes a single handler, swallowing panics per-subscriber.
func deliver(topic string, h Handler, ev chat.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("bus: subscriber panic on topic=%s: %v", topic, r)
		}
	}()
	h(ev)
}
