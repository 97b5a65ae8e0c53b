package store

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessagesPersist(t *testing.T) {
	m := NewMessages()
	convID := uuid.New()
	senderID := uuid.New()

	msg, err := m.Persist(context.Background(), convID, senderID, "hello")
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, msg.ID)
	assert.Equal(t, convID, msg.ConversationID)
	assert.Equal(t, senderID, msg.SenderID)
	assert.Equal(t, "hello", msg.Content)
	assert.False(t, msg.IsRead)
	assert.False(t, msg.CreatedAt.IsZero())
}

func TestMessagesListByConversation(t *testing.T) {
	m := NewMessages()
	convID := uuid.New()
	otherID := uuid.New()
	senderID := uuid.New()

	for _, content := range []string{"one", "two", "three"} {
		_, err := m.Persist(context.Background(), convID, senderID, content)
		require.NoError(t, err)
	}
	_, err := m.Persist(context.Background(), otherID, senderID, "elsewhere")
	require.NoError(t, err)

	msgs := m.ListByConversation(convID)
	require.Len(t, msgs, 3)
	assert.Equal(t, "one", msgs[0].Content)
	assert.Equal(t, "two", msgs[1].Content)
	assert.Equal(t, "three", msgs[2].Content)

	assert.Empty(t, m.ListByConversation(uuid.New()))
}

func TestDirectoryGates(t *testing.T) {
	d := NewDirectory()
	ctx := context.Background()

	active := uuid.New()
	inactive := uuid.New()
	stranger := uuid.New()
	convID := uuid.New()

	d.AddUser(active, true)
	d.AddUser(inactive, false)
	d.AddConversation(convID, active, inactive)

	ok, err := d.UserActive(ctx, active)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.UserActive(ctx, inactive)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = d.UserActive(ctx, stranger)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = d.ConversationExists(ctx, convID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.ConversationExists(ctx, uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = d.IsMember(ctx, convID, active)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.IsMember(ctx, convID, stranger)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = d.IsMember(ctx, uuid.New(), active)
	require.NoError(t, err)
	assert.False(t, ok)
}
