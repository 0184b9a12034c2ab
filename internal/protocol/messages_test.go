package protocol

import (
	"encoding/json"
	"testing"

	"github.com/tuniway/relay/internal/chat"
)

func TestParseClientMessageKinds(t *testing.T) {
	cases := []struct {
		raw      string
		wantType string
		wantEv   chat.Event
	}{
		{
			raw:      `{"type":"message","sender":"alice","content":"hello"}`,
			wantType: TypeMessage,
			wantEv:   chat.Event{Kind: chat.KindMessage, Sender: "alice", Content: "hello"},
		},
		{
			raw:      `{"type":"join","sender":"alice"}`,
			wantType: TypeJoin,
			wantEv:   chat.Event{Kind: chat.KindJoin, Sender: "alice"},
		},
		{
			raw:      `{"type":"private","sender":"alice","receiver":"bob","content":"psst"}`,
			wantType: TypePrivate,
			wantEv:   chat.Event{Kind: chat.KindPrivate, Sender: "alice", Receiver: "bob", Content: "psst"},
		},
		{
			raw:      `{"type":"typing","sender":"alice"}`,
			wantType: TypeTyping,
			wantEv:   chat.Event{Kind: chat.KindTyping, Sender: "alice"},
		},
	}

	for _, tc := range cases {
		msgType, ev, err := ParseClientMessage([]byte(tc.raw))
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.raw, err)
		}
		if msgType != tc.wantType {
			t.Errorf("%s: expected type %q, got %q", tc.raw, tc.wantType, msgType)
		}
		if ev != tc.wantEv {
			t.Errorf("%s: expected event %+v, got %+v", tc.raw, tc.wantEv, ev)
		}
	}
}

func TestParseClientMessageDropsClientTimestamp(t *testing.T) {
	raw := `{"type":"message","sender":"alice","content":"hello","ts":12345}`
	_, ev, err := ParseClientMessage([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Ts != 0 {
		t.Errorf("client-supplied timestamp must be discarded, got %d", ev.Ts)
	}
}

func TestParseClientMessagePing(t *testing.T) {
	msgType, _, err := ParseClientMessage([]byte(`{"type":"ping"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypePing {
		t.Errorf("expected ping, got %q", msgType)
	}
}

func TestParseClientMessageErrors(t *testing.T) {
	if _, _, err := ParseClientMessage([]byte(`not json`)); err == nil {
		t.Error("expected error for invalid JSON")
	}
	if _, _, err := ParseClientMessage([]byte(`{"sender":"alice"}`)); err == nil {
		t.Error("expected error for missing type")
	}
	if _, _, err := ParseClientMessage([]byte(`{"type":"shout","sender":"alice"}`)); err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestMarshalEventCarriesKindAsType(t *testing.T) {
	ev := chat.Event{Kind: chat.KindMessage, Sender: "alice", Content: "hello", Ts: 42}
	data, err := MarshalEvent(ev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("marshal produced invalid JSON: %v", err)
	}
	if m["type"] != "message" {
		t.Errorf("expected type 'message', got %v", m["type"])
	}
	if m["sender"] != "alice" {
		t.Errorf("expected sender 'alice', got %v", m["sender"])
	}
	if _, ok := m["receiver"]; ok {
		t.Error("empty receiver must be omitted")
	}
}

func TestNewServerMessage(t *testing.T) {
	data, err := NewServerMessage(TypeError, ErrorMsg{Code: "parse_error", Message: "bad"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if m["type"] != TypeError {
		t.Errorf("expected injected type, got %v", m["type"])
	}
	if m["code"] != "parse_error" {
		t.Errorf("expected code field, got %v", m["code"])
	}
}
