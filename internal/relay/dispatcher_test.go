package relay

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tuniway/relay/internal/agent"
	"github.com/tuniway/relay/internal/bus"
	"github.com/tuniway/relay/internal/chat"
	"github.com/tuniway/relay/internal/history"
	"github.com/tuniway/relay/internal/session"
)

// stubBridge records forwarded messages and returns canned responses.
type stubBridge struct {
	mu      sync.Mutex
	calls   []string
	reply   string
	fail    bool
	latency time.Duration
}

func (s *stubBridge) Forward(text string) *agent.Response {
	s.mu.Lock()
	s.calls = append(s.calls, text)
	s.mu.Unlock()

	if s.latency > 0 {
		time.Sleep(s.latency)
	}

	resp := &agent.Response{OriginalMessage: text, RespondedAt: time.Now()}
	if s.fail {
		resp.ErrorDetail = "connection timeout or server unreachable"
		resp.Fallback = agent.FallbackUnavailable
		return resp
	}
	resp.Success = true
	resp.Reply = s.reply
	return resp
}

func (s *stubBridge) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// recorder collects published events from a topic.
type recorder struct {
	mu     sync.Mutex
	events []chat.Event
}

func (r *recorder) subscribe(b *bus.Bus, topic string) {
	b.Subscribe(topic, func(ev chat.Event) {
		r.mu.Lock()
		r.events = append(r.events, ev)
		r.mu.Unlock()
	})
}

func (r *recorder) all() []chat.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]chat.Event, len(r.events))
	copy(out, r.events)
	return out
}

// waitFor polls until cond is true or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func newTestDispatcher(bridge Bridge) (*Dispatcher, *bus.Bus, *history.Buffer, *session.Registry) {
	b := bus.New()
	hist := history.NewBuffer(history.DefaultCapacity)
	sessions := session.NewRegistry()
	d := NewDispatcher(DefaultConfig(), b, hist, sessions, bridge)
	return d, b, hist, sessions
}

func TestJoinBindsSessionAndBroadcasts(t *testing.T) {
	d, b, hist, sessions := newTestDispatcher(&stubBridge{})
	defer d.Close()

	var broadcast recorder
	broadcast.subscribe(b, bus.TopicBroadcast)

	if err := d.Dispatch("conn-1", chat.Event{Kind: chat.KindJoin, Sender: "alice"}); err != nil {
		t.Fatalf("join rejected: %v", err)
	}

	name, ok := sessions.Lookup("conn-1")
	if !ok || name != "alice" {
		t.Errorf("expected conn-1 bound to alice, got %q ok=%v", name, ok)
	}
	events := broadcast.all()
	if len(events) != 1 || events[0].Kind != chat.KindJoin {
		t.Fatalf("expected one join broadcast, got %+v", events)
	}
	if events[0].Ts == 0 {
		t.Error("dispatcher must stamp the timestamp")
	}
	if hist.Len() != 1 {
		t.Errorf("join must be persisted to history, got len=%d", hist.Len())
	}
}

func TestMessageBroadcastThenBotReply(t *testing.T) {
	bridge := &stubBridge{reply: "hi alice"}
	d, b, hist, _ := newTestDispatcher(bridge)
	defer d.Close()

	var broadcast recorder
	broadcast.subscribe(b, bus.TopicBroadcast)

	err := d.Dispatch("conn-1", chat.Event{Kind: chat.KindMessage, Sender: "alice", Content: "hello"})
	if err != nil {
		t.Fatalf("message rejected: %v", err)
	}

	// The original message is broadcast synchronously.
	events := broadcast.all()
	if len(events) < 1 || events[0].Content != "hello" || events[0].Sender != "alice" {
		t.Fatalf("expected immediate broadcast of the original message, got %+v", events)
	}

	// The bot reply follows shortly after.
	waitFor(t, time.Second, func() bool { return len(broadcast.all()) == 2 })

	events = broadcast.all()
	if events[1].Sender != chat.BotSender {
		t.Errorf("expected bot sender %q, got %q", chat.BotSender, events[1].Sender)
	}
	if events[1].Content != "hi alice" {
		t.Errorf("expected bot reply 'hi alice', got %q", events[1].Content)
	}
	if events[1].Ts < events[0].Ts {
		t.Errorf("bot reply must carry a fresh timestamp")
	}
	if hist.Len() != 2 {
		t.Errorf("both events must be persisted, got len=%d", hist.Len())
	}
}

func TestBotSenderNeverTriggersBridge(t *testing.T) {
	bridge := &stubBridge{reply: "echo"}
	d, _, _, _ := newTestDispatcher(bridge)
	defer d.Close()

	ev := chat.Event{Kind: chat.KindMessage, Sender: chat.BotSender, Content: "I am the bot"}
	if err := d.Dispatch("conn-1", ev); err != nil {
		t.Fatalf("bot message rejected: %v", err)
	}

	// Give a worker time to (incorrectly) pick up a job.
	time.Sleep(50 * time.Millisecond)
	if bridge.callCount() != 0 {
		t.Fatalf("bot-authored message must not trigger the bridge, got %d calls", bridge.callCount())
	}
}

func TestBridgeFailurePublishesExactlyOneFallback(t *testing.T) {
	bridge := &stubBridge{fail: true}
	d, b, _, _ := newTestDispatcher(bridge)
	defer d.Close()

	var broadcast recorder
	broadcast.subscribe(b, bus.TopicBroadcast)

	d.Dispatch("conn-1", chat.Event{Kind: chat.KindMessage, Sender: "alice", Content: "hello"})

	waitFor(t, time.Second, func() bool { return len(broadcast.all()) == 2 })
	time.Sleep(50 * time.Millisecond)

	events := broadcast.all()
	if len(events) != 2 {
		t.Fatalf("expected exactly original + one fallback, got %d events", len(events))
	}
	if events[1].Sender != chat.BotSender {
		t.Errorf("fallback must be bot-authored, got %q", events[1].Sender)
	}
	if events[1].Content != agent.FallbackUnavailable {
		t.Errorf("expected fallback text, got %q", events[1].Content)
	}
}

func TestPrivateDeliveredOnlyToReceiver(t *testing.T) {
	d, b, hist, _ := newTestDispatcher(&stubBridge{})
	defer d.Close()

	var bob, carol, broadcast recorder
	bob.subscribe(b, bus.PrivateTopic("bob"))
	carol.subscribe(b, bus.PrivateTopic("carol"))
	broadcast.subscribe(b, bus.TopicBroadcast)

	ev := chat.Event{Kind: chat.KindPrivate, Sender: "alice", Receiver: "bob", Content: "psst"}
	if err := d.Dispatch("conn-1", ev); err != nil {
		t.Fatalf("private rejected: %v", err)
	}

	if len(bob.all()) != 1 {
		t.Fatalf("expected bob to receive the private event, got %d", len(bob.all()))
	}
	if len(carol.all()) != 0 {
		t.Error("carol must not receive bob's private event")
	}
	if len(broadcast.all()) != 0 {
		t.Error("private events never touch the broadcast topic")
	}
	if hist.Len() != 0 {
		t.Error("private events are not persisted to history")
	}
}

func TestTypingGoesToTypingTopicOnly(t *testing.T) {
	d, b, hist, sessions := newTestDispatcher(&stubBridge{})
	defer d.Close()

	var typing, broadcast recorder
	typing.subscribe(b, bus.TopicTyping)
	broadcast.subscribe(b, bus.TopicBroadcast)

	if err := d.Dispatch("conn-1", chat.Event{Kind: chat.KindTyping, Sender: "alice"}); err != nil {
		t.Fatalf("typing rejected: %v", err)
	}

	if len(typing.all()) != 1 {
		t.Fatalf("expected one typing event, got %d", len(typing.all()))
	}
	if len(broadcast.all()) != 0 {
		t.Error("typing events never touch the broadcast topic")
	}
	if hist.Len() != 0 {
		t.Error("typing events are not persisted to history")
	}
	if sessions.Count() != 0 {
		t.Error("typing must not mutate the session registry")
	}
}

func TestInvalidEventRejectedWithoutSideEffects(t *testing.T) {
	bridge := &stubBridge{}
	d, b, hist, sessions := newTestDispatcher(bridge)
	defer d.Close()

	var broadcast recorder
	broadcast.subscribe(b, bus.TopicBroadcast)

	// Missing sender.
	if err := d.Dispatch("conn-1", chat.Event{Kind: chat.KindMessage, Content: "hi"}); err == nil {
		t.Fatal("expected rejection for missing sender")
	}
	// Blank content.
	if err := d.Dispatch("conn-1", chat.Event{Kind: chat.KindMessage, Sender: "alice", Content: "  "}); err == nil {
		t.Fatal("expected rejection for blank content")
	}

	if len(broadcast.all()) != 0 || hist.Len() != 0 || sessions.Count() != 0 || bridge.callCount() != 0 {
		t.Fatal("rejected events must have no side effects")
	}
}

func TestRepeatedJoinIsIdempotent(t *testing.T) {
	d, _, _, sessions := newTestDispatcher(&stubBridge{})
	defer d.Close()

	d.Dispatch("conn-1", chat.Event{Kind: chat.KindJoin, Sender: "alice"})
	d.Dispatch("conn-1", chat.Event{Kind: chat.KindJoin, Sender: "alice"})

	if sessions.Count() != 1 {
		t.Fatalf("expected one registry entry, got %d", sessions.Count())
	}
}

func TestAgentCallsDoNotBlockDispatch(t *testing.T) {
	bridge := &stubBridge{reply: "slow", latency: 200 * time.Millisecond}
	d, _, _, _ := newTestDispatcher(bridge)
	defer d.Close()

	start := time.Now()
	for i := 0; i < 4; i++ {
		ev := chat.Event{Kind: chat.KindMessage, Sender: "alice", Content: fmt.Sprintf("msg-%d", i)}
		if err := d.Dispatch("conn-1", ev); err != nil {
			t.Fatalf("dispatch %d failed: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("dispatch blocked on agent calls, took %s", elapsed)
	}

	waitFor(t, 2*time.Second, func() bool { return bridge.callCount() == 4 })
}

func TestQueueOverflowDropsAgentCall(t *testing.T) {
	bridge := &stubBridge{reply: "ok", latency: 100 * time.Millisecond}
	config := Config{BotName: chat.BotSender, QueueSize: 1, Workers: 1}
	b := bus.New()
	d := NewDispatcher(config, b, history.NewBuffer(0), session.NewRegistry(), bridge)
	defer d.Close()

	// One in-flight call, one queued, the rest dropped.
	for i := 0; i < 6; i++ {
		ev := chat.Event{Kind: chat.KindMessage, Sender: "alice", Content: fmt.Sprintf("m%d", i)}
		if err := d.Dispatch("conn-1", ev); err != nil {
			t.Fatalf("dispatch %d failed: %v", i, err)
		}
	}

	d.Close()
	if got := bridge.callCount(); got > 2 {
		t.Fatalf("expected at most 2 bridge calls with a 1-slot queue, got %d", got)
	}
}
