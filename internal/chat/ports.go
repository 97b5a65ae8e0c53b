package chat

import (
	"context"

	"github.com/google/uuid"
)

// MessageStore durably persists messages and returns their canonical form.
// Failures propagate to the calling session as a hard error for that frame
// only.
type MessageStore interface {
	Persist(ctx context.Context, conversationID, senderID uuid.UUID, content string) (Message, error)
}

// Directory answers the membership questions asked during the session
// handshake.
type Directory interface {
	UserActive(ctx context.Context, userID uuid.UUID) (bool, error)
	ConversationExists(ctx context.Context, conversationID uuid.UUID) (bool, error)
	IsMember(ctx context.Context, conversationID, userID uuid.UUID) (bool, error)
}

// TokenVerifier validates a bearer credential and yields the subject identity.
// Rejection is terminal for the connection attempt.
type TokenVerifier interface {
	Verify(token string) (uuid.UUID, error)
}
