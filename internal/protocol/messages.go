// Package protocol defines the WebSocket message types exchanged between
// chat clients and the relay server. All messages are serialized as JSON
// with a "type" discriminator. Chat events share their wire shape with
// chat.Event, so server-side events are forwarded as-is.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/tuniway/relay/internal/chat"
)

// Client -> Server message types. The four chat kinds reuse the chat.Event
// kind strings.
const (
	TypeJoin    = chat.KindJoin
	TypeMessage = chat.KindMessage
	TypePrivate = chat.KindPrivate
	TypeTyping  = chat.KindTyping
	TypePing    = "ping"
)

// Server -> Client message types (besides relayed events).
const (
	TypeSessionCreated = "session_created"
	TypeError          = "error"
	TypePong           = "pong"
)

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the full raw bytes and extracts only the "type"
// field so that the rest of the payload can be decoded later.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// SessionCreatedMsg is sent by the server when a new connection is
// established.
type SessionCreatedMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ParseClientMessage parses raw WebSocket bytes into either a chat event or
// a ping. It returns the message type, the decoded chat.Event for the four
// chat kinds (zero-valued for ping), and any error for unknown types or
// malformed payloads. Any client-supplied timestamp is dropped here; the
// dispatcher stamps events at receipt.
func ParseClientMessage(data []byte) (string, chat.Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", chat.Event{}, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	switch env.Type {
	case TypeJoin, TypeMessage, TypePrivate, TypeTyping:
		var ev chat.Event
		if err := json.Unmarshal(env.Raw, &ev); err != nil {
			return env.Type, chat.Event{}, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
		}
		ev.Ts = 0
		return env.Type, ev, nil
	case TypePing:
		return TypePing, chat.Event{}, nil
	default:
		return env.Type, chat.Event{}, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}
}

// MarshalEvent serializes a chat event for delivery to clients. The event's
// kind doubles as the wire "type" discriminator.
func MarshalEvent(ev chat.Event) ([]byte, error) {
	out, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal event: %w", err)
	}
	return out, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a non-event server
// message. The msgType is injected into the payload under the "type" key.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
