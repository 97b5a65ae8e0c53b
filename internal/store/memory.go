// Package store provides in-memory implementations of the chat ports. They
// back tests and single-node deployments; the interfaces in internal/chat are
// the seam for a relational implementation.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parley-chat/parley/internal/chat"
)

// Messages is an in-memory chat.MessageStore.
type Messages struct {
	mu       sync.RWMutex
	byConvID map[uuid.UUID][]chat.Message
}

// NewMessages creates an empty message store.
func NewMessages() *Messages {
	return &Messages{byConvID: make(map[uuid.UUID][]chat.Message)}
}

// Persist appends a new message to its conversation and returns the canonical
// record.
func (m *Messages) Persist(_ context.Context, conversationID, senderID uuid.UUID, content string) (chat.Message, error) {
	msg := chat.Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		IsRead:         false,
		CreatedAt:      time.Now().UTC(),
	}

	m.mu.Lock()
	m.byConvID[conversationID] = append(m.byConvID[conversationID], msg)
	m.mu.Unlock()

	return msg, nil
}

// ListByConversation returns the messages of a conversation in persistence
// order.
func (m *Messages) ListByConversation(conversationID uuid.UUID) []chat.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]chat.Message(nil), m.byConvID[conversationID]...)
}

// Directory is an in-memory chat.Directory holding users and conversation
// membership.
type Directory struct {
	mu            sync.RWMutex
	users         map[uuid.UUID]bool // value: account is active
	conversations map[uuid.UUID]map[uuid.UUID]struct{}
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		users:         make(map[uuid.UUID]bool),
		conversations: make(map[uuid.UUID]map[uuid.UUID]struct{}),
	}
}

// AddUser registers a user account; active accounts pass the handshake's
// identity gate.
func (d *Directory) AddUser(userID uuid.UUID, active bool) {
	d.mu.Lock()
	d.users[userID] = active
	d.mu.Unlock()
}

// AddConversation creates a conversation with the given members.
func (d *Directory) AddConversation(conversationID uuid.UUID, members ...uuid.UUID) {
	memberSet := make(map[uuid.UUID]struct{}, len(members))
	for _, m := range members {
		memberSet[m] = struct{}{}
	}

	d.mu.Lock()
	d.conversations[conversationID] = memberSet
	d.mu.Unlock()
}

// UserActive reports whether the user exists and the account is active.
func (d *Directory) UserActive(_ context.Context, userID uuid.UUID) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	active, ok := d.users[userID]
	return ok && active, nil
}

// ConversationExists reports whether the conversation is known.
func (d *Directory) ConversationExists(_ context.Context, conversationID uuid.UUID) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.conversations[conversationID]
	return ok, nil
}

// IsMember reports whether the user belongs to the conversation.
func (d *Directory) IsMember(_ context.Context, conversationID, userID uuid.UUID) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	members, ok := d.conversations[conversationID]
	if !ok {
		return false, nil
	}
	_, member := members[userID]
	return member, nil
}
