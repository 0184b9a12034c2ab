package chat

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	MaxMessageBytes = 4096 // 4KB max frame size
	MaxTextChars    = 2000 // max character count
)

// ValidateEvent checks an inbound event before dispatch. Invalid events are
// rejected with no partial side effects.
func ValidateEvent(ev Event) error {
	if strings.TrimSpace(ev.Sender) == "" {
		return fmt.Errorf("chat: event is missing sender")
	}

	switch ev.Kind {
	case KindMessage:
		if ev.Receiver != "" {
			return fmt.Errorf("chat: receiver is only valid on private events")
		}
		return validateText(ev.Content)
	case KindPrivate:
		if strings.TrimSpace(ev.Receiver) == "" {
			return fmt.Errorf("chat: private event is missing receiver")
		}
		return validateText(ev.Content)
	case KindJoin, KindTyping:
		if ev.Receiver != "" {
			return fmt.Errorf("chat: receiver is only valid on private events")
		}
		return nil
	default:
		return fmt.Errorf("chat: unknown event kind %q", ev.Kind)
	}
}

// validateText checks that message content meets content requirements.
func validateText(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("chat: message content is blank")
	}
	if len(text) > MaxMessageBytes {
		return fmt.Errorf("chat: message exceeds %d byte limit", MaxMessageBytes)
	}
	if utf8.RuneCountInString(text) > MaxTextChars {
		return fmt.Errorf("chat: message exceeds %d character limit", MaxTextChars)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("chat: message contains invalid UTF-8")
	}
	return nil
}
