package chat

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopic(t *testing.T) {
	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	assert.Equal(t, "conversation:6ba7b810-9dad-11d1-80b4-00c04fd430c8", Topic(id))
}

func TestInboundFrameValidate(t *testing.T) {
	tests := []struct {
		name    string
		frame   InboundFrame
		wantErr bool
	}{
		{name: "valid", frame: InboundFrame{Type: FrameMessageSend, Content: "hi"}},
		{name: "max length content", frame: InboundFrame{Type: FrameMessageSend, Content: strings.Repeat("a", MaxContentLength)}},
		{name: "multibyte runes count as one", frame: InboundFrame{Type: FrameMessageSend, Content: strings.Repeat("é", MaxContentLength)}},
		{name: "wrong type", frame: InboundFrame{Type: "message.edit", Content: "hi"}, wantErr: true},
		{name: "empty type", frame: InboundFrame{Content: "hi"}, wantErr: true},
		{name: "empty content", frame: InboundFrame{Type: FrameMessageSend}, wantErr: true},
		{name: "too long", frame: InboundFrame{Type: FrameMessageSend, Content: strings.Repeat("a", MaxContentLength+1)}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.frame.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOutboundEventWireShape(t *testing.T) {
	msg := Message{
		ID:             uuid.New(),
		ConversationID: uuid.New(),
		SenderID:       uuid.New(),
		Content:        "hi",
	}

	raw, err := json.Marshal(NewMessageEvent(msg))
	require.NoError(t, err)

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Contains(t, decoded, "type")
	assert.Contains(t, decoded, "message")

	var inner map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(decoded["message"], &inner))
	for _, key := range []string{"id", "conversation_id", "sender_id", "content", "is_read", "created_at"} {
		assert.Contains(t, inner, key)
	}
}
