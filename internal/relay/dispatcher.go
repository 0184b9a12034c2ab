// Package relay implements the event dispatcher at the heart of the chat
// subsystem. It classifies inbound events, fans broadcast traffic out to
// topic subscribers, routes private messages to a single user queue, and
// forwards eligible messages to the conversational agent off the dispatch
// path.
package relay

import (
	"log"
	"strings"
	"sync"
	"time"

	"github.com/tuniway/relay/internal/agent"
	"github.com/tuniway/relay/internal/bus"
	"github.com/tuniway/relay/internal/chat"
	"github.com/tuniway/relay/internal/history"
	"github.com/tuniway/relay/internal/metrics"
	"github.com/tuniway/relay/internal/session"
)

// Bridge is the agent collaborator consumed by the dispatcher. Forward never
// blocks indefinitely: the implementation bounds each call with a fixed
// timeout and converts every failure into a fallback response.
type Bridge interface {
	Forward(text string) *agent.Response
}

// Config holds dispatcher tuning parameters.
type Config struct {
	BotName   string // display name used for agent replies
	QueueSize int    // capacity of the pending agent-call queue
	Workers   int    // number of agent-call worker goroutines
}

// DefaultConfig returns dispatcher defaults.
func DefaultConfig() Config {
	return Config{
		BotName:   chat.BotSender,
		QueueSize: 64,
		Workers:   4,
	}
}

// Dispatcher routes inbound chat events. It owns no transport: the WebSocket
// layer (or any other ingress) hands it parsed events and the dispatcher
// publishes outcomes on the bus.
type Dispatcher struct {
	config   Config
	bus      *bus.Bus
	history  *history.Buffer
	sessions *session.Registry
	bridge   Bridge

	jobs      chan string
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewDispatcher creates a Dispatcher and starts its agent-call worker pool.
// The pool replaces the thread-per-message pattern: a bounded queue consumed
// by a fixed number of workers, so a slow agent cannot grow goroutines
// without limit.
func NewDispatcher(config Config, b *bus.Bus, hist *history.Buffer, sessions *session.Registry, bridge Bridge) *Dispatcher {
	if config.BotName == "" {
		config.BotName = chat.BotSender
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultConfig().QueueSize
	}
	if config.Workers <= 0 {
		config.Workers = DefaultConfig().Workers
	}

	d := &Dispatcher{
		config:   config,
		bus:      b,
		history:  hist,
		sessions: sessions,
		bridge:   bridge,
		jobs:     make(chan string, config.QueueSize),
	}

	for i := 0; i < config.Workers; i++ {
		d.wg.Add(1)
		go d.agentWorker()
	}

	return d
}

// Dispatch classifies and routes one inbound event. The caller's goroutine
// performs the synchronous broadcast/delivery step; any agent call is
// enqueued and Dispatch returns immediately. Invalid events are rejected
// with no partial side effects.
func (d *Dispatcher) Dispatch(connID string, ev chat.Event) error {
	if err := chat.ValidateEvent(ev); err != nil {
		metrics.EventsTotal.WithLabelValues("rejected").Inc()
		return err
	}

	ev.Stamp()
	metrics.EventsTotal.WithLabelValues(ev.Kind).Inc()

	switch ev.Kind {
	case chat.KindJoin:
		d.sessions.Bind(connID, ev.Sender)
		d.publishBroadcast(ev)
		log.Printf("relay: user joined sender=%s conn=%s", ev.Sender, connID)

	case chat.KindMessage:
		d.publishBroadcast(ev)
		if d.shouldForward(ev) {
			d.enqueueAgentCall(ev.Content)
		}

	case chat.KindPrivate:
		// Delivered only to the receiver's queue; never broadcast, never
		// persisted.
		d.bus.Publish(bus.PrivateTopic(ev.Receiver), ev)

	case chat.KindTyping:
		d.bus.Publish(bus.TopicTyping, ev)
	}

	return nil
}

// publishBroadcast appends the event to the history buffer and fans it out
// on the public broadcast topic.
func (d *Dispatcher) publishBroadcast(ev chat.Event) {
	d.history.Append(ev)
	metrics.HistorySize.Set(float64(d.history.Len()))
	d.bus.Publish(bus.TopicBroadcast, ev)
}

// shouldForward reports whether a message is eligible for the agent: a
// non-bot sender with non-blank content. Messages authored by the bot are
// never forwarded, which prevents reply loops.
func (d *Dispatcher) shouldForward(ev chat.Event) bool {
	if ev.Sender == d.config.BotName {
		return false
	}
	return strings.TrimSpace(ev.Content) != ""
}

// enqueueAgentCall hands the message text to the worker pool without
// blocking. If the queue is full the call is dropped: the user's message has
// already been broadcast, only the bot reply is lost.
func (d *Dispatcher) enqueueAgentCall(text string) {
	select {
	case d.jobs <- text:
	default:
		metrics.AgentRequests.WithLabelValues("dropped").Inc()
		log.Printf("relay: agent queue full, dropping call for message len=%d", len(text))
	}
}

// agentWorker consumes queued messages, calls the bridge, and publishes the
// bot-authored result on the broadcast topic. Replies to different messages
// may publish out of order relative to each other; only the ordering of a
// reply after its own message's broadcast is guaranteed.
func (d *Dispatcher) agentWorker() {
	defer d.wg.Done()

	for text := range d.jobs {
		start := time.Now()
		resp := d.bridge.Forward(text)
		metrics.AgentLatency.Observe(time.Since(start).Seconds())

		if resp.Success {
			metrics.AgentRequests.WithLabelValues("ok").Inc()
		} else {
			metrics.AgentRequests.WithLabelValues("fallback").Inc()
			log.Printf("relay: agent call failed, publishing fallback: %s", resp.ErrorDetail)
		}

		reply := chat.Event{
			Kind:    chat.KindMessage,
			Sender:  d.config.BotName,
			Content: resp.Text(),
		}
		reply.Stamp()
		d.publishBroadcast(reply)
	}
}

// Close stops the worker pool after draining queued calls. Dispatch must not
// be called after Close.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.jobs)
	})
	d.wg.Wait()
}
