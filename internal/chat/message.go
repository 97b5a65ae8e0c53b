// Package chat defines the message domain types, the wire frames exchanged
// with clients, and the ports the delivery service consumes.
package chat

import (
	"time"

	"github.com/google/uuid"
)

// Message is the canonical, persisted form of a chat message. Once created it
// is immutable in this subsystem.
type Message struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	SenderID       uuid.UUID `json:"sender_id"`
	Content        string    `json:"content"`
	IsRead         bool      `json:"is_read"`
	CreatedAt      time.Time `json:"created_at"`
}

// Topic returns the broker channel name for a conversation. Every fanout
// consumer derives the same name, so a conversation maps one-to-one onto a
// broker channel.
func Topic(conversationID uuid.UUID) string {
	return "conversation:" + conversationID.String()
}
