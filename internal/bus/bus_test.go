package bus

import (
	"sync"
	"testing"

	"github.com/tuniway/relay/internal/chat"
)

// collector accumulates delivered events behind a mutex so handlers can be
// invoked from any goroutine.
type collector struct {
	mu     sync.Mutex
	events []chat.Event
}

func (c *collector) handler() Handler {
	return func(ev chat.Event) {
		c.mu.Lock()
		c.events = append(c.events, ev)
		c.mu.Unlock()
	}
}

func (c *collector) all() []chat.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]chat.Event, len(c.events))
	copy(out, c.events)
	return out
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	b := New()
	var a, c collector
	b.Subscribe(TopicBroadcast, a.handler())
	b.Subscribe(TopicBroadcast, c.handler())

	b.Publish(TopicBroadcast, chat.Event{Kind: chat.KindMessage, Sender: "alice", Content: "hello"})

	if len(a.all()) != 1 || len(c.all()) != 1 {
		t.Fatalf("expected both subscribers to receive the event, got %d and %d", len(a.all()), len(c.all()))
	}
}

func TestPrivateTopicIsolation(t *testing.T) {
	b := New()
	var bob, carol, broadcast collector
	b.Subscribe(PrivateTopic("bob"), bob.handler())
	b.Subscribe(PrivateTopic("carol"), carol.handler())
	b.Subscribe(TopicBroadcast, broadcast.handler())

	ev := chat.Event{Kind: chat.KindPrivate, Sender: "alice", Receiver: "bob", Content: "psst"}
	b.Publish(PrivateTopic("bob"), ev)

	if len(bob.all()) != 1 {
		t.Fatalf("expected bob to receive the private event, got %d", len(bob.all()))
	}
	if len(carol.all()) != 0 {
		t.Errorf("carol must not receive bob's private event")
	}
	if len(broadcast.all()) != 0 {
		t.Errorf("private event must never touch the broadcast topic")
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	var c collector
	sub := b.Subscribe(TopicTyping, c.handler())

	b.Publish(TopicTyping, chat.Event{Kind: chat.KindTyping, Sender: "alice"})
	sub.Unsubscribe()
	b.Publish(TopicTyping, chat.Event{Kind: chat.KindTyping, Sender: "alice"})

	if len(c.all()) != 1 {
		t.Fatalf("expected 1 event after unsubscribe, got %d", len(c.all()))
	}
	if b.SubscriberCount(TopicTyping) != 0 {
		t.Errorf("expected empty topic after unsubscribe")
	}

	// Double unsubscribe must not panic.
	sub.Unsubscribe()
}

func TestPanickingSubscriberDoesNotBlockOthers(t *testing.T) {
	b := New()
	var c collector
	b.Subscribe(TopicBroadcast, func(chat.Event) { panic("boom") })
	b.Subscribe(TopicBroadcast, c.handler())

	b.Publish(TopicBroadcast, chat.Event{Kind: chat.KindMessage, Sender: "alice", Content: "hi"})

	if len(c.all()) != 1 {
		t.Fatalf("expected healthy subscriber to receive the event, got %d", len(c.all()))
	}
}

func TestPublishToEmptyTopic(t *testing.T) {
	b := New()
	// Publishing with no subscribers is a no-op, not an error.
	b.Publish("nobody-home", chat.Event{Kind: chat.KindMessage, Sender: "alice", Content: "hi"})
}

func TestConcurrentPublishAndSubscribe(t *testing.T) {
	b := New()
	var c collector
	b.Subscribe(TopicBroadcast, c.handler())

	var wg sync.WaitGroup
	for g := 0; g < 20; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				b.Publish(TopicBroadcast, chat.Event{Kind: chat.KindMessage, Sender: "alice", Content: "x"})
			}
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub := b.Subscribe(TopicBroadcast, func(chat.Event) {})
			sub.Unsubscribe()
		}()
	}
	wg.Wait()

	if got := len(c.all()); got != 20*50 {
		t.Fatalf("expected %d deliveries, got %d", 20*50, got)
	}
}
