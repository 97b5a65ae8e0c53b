package chat

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// Frame type identifiers for the session wire protocol.
const (
	FrameMessageSend = "message.send"
	FrameMessageNew  = "message.new"
	FrameError       = "error"
)

// MaxContentLength is the largest accepted message body, counted in runes.
const MaxContentLength = 5000

var (
	errUnknownFrameType = errors.New("unknown frame type")
	errEmptyContent     = errors.New("content must not be empty")
)

// InboundFrame is a client-submitted payload. It is validated before any side
// effect takes place.
type InboundFrame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// Validate checks the frame shape against the wire protocol. A non-nil error
// means the frame must be rejected with an error reply; the session itself
// stays open.
func (f InboundFrame) Validate() error {
	if f.Type != FrameMessageSend {
		return fmt.Errorf("%w: %q", errUnknownFrameType, f.Type)
	}
	if f.Content == "" {
		return errEmptyContent
	}
	if n := utf8.RuneCountInString(f.Content); n > MaxContentLength {
		return fmt.Errorf("content exceeds %d characters (got %d)", MaxContentLength, n)
	}
	return nil
}

// OutboundEvent is the server-to-client payload for a newly created message.
// It is published verbatim to the broker topic so every fanout consumer,
// including other server processes, sees an identical structure.
type OutboundEvent struct {
	Type    string  `json:"type"`
	Message Message `json:"message"`
}

// NewMessageEvent wraps a persisted message in its outbound frame.
func NewMessageEvent(msg Message) OutboundEvent {
	return OutboundEvent{Type: FrameMessageNew, Message: msg}
}

// ErrorFrame is the outbound reply for a recoverable per-frame failure.
type ErrorFrame struct {
	Type   string `json:"type"`
	Detail string `json:"detail"`
}

// NewErrorFrame builds an error reply with the given detail text.
func NewErrorFrame(detail string) ErrorFrame {
	return ErrorFrame{Type: FrameError, Detail: detail}
}
