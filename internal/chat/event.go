// Package chat defines the chat event model exchanged between clients, the
// relay dispatcher, and the chatbot bridge, along with inbound validation.
package chat

import "time"

// Event kinds. PRIVATE events carry a receiver and are delivered to a single
// user queue; all other kinds fan out to shared topics.
const (
	KindMessage = "message"
	KindJoin    = "join"
	KindTyping  = "typing"
	KindPrivate = "private"
)

// BotSender is the display name the relay uses when publishing chatbot
// replies. A MESSAGE carrying this sender never triggers another bridge call.
const BotSender = "TuniBot"

// Event is the atomic unit of chat traffic. Receiver is set if and only if
// Kind is "private". Ts is assigned by the dispatcher at receipt (unix
// milliseconds); client-supplied timestamps are discarded.
type Event struct {
	Kind     string `json:"type"`
	Sender   string `json:"sender"`
	Receiver string `json:"receiver,omitempty"` // private events only
	Content  string `json:"content,omitempty"`  // may be empty for typing/join
	Ts       int64  `json:"ts,omitempty"`
}

// Stamp sets the event timestamp to the current time.
func (e *Event) Stamp() {
	e.Ts = time.Now().UnixMilli()
}
