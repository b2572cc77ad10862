package remote

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jitishkumar/pl/internal/conversation"
	"github.com/Jitishkumar/pl/internal/models"
)

// Requires a live database with the messages table and the message_events
// trigger installed; set POSTGRES_TEST_DSN to enable.
func setupTestChannel(t *testing.T) *PostgresChannel {
	t.Helper()

	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set, skipping postgres channel tests")
	}

	c, err := NewPostgresChannel(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	_, err = c.db.Exec("DELETE FROM messages")
	require.NoError(t, err)

	return c
}

func TestPostgresSendAndFetchAll(t *testing.T) {
	c := setupTestChannel(t)
	ctx := context.Background()

	sender, receiver := uuid.New(), uuid.New()
	convID, err := conversation.DeriveKey(sender, receiver)
	require.NoError(t, err)

	first, err := c.Send(ctx, models.Message{
		ConversationID: convID, SenderID: sender, ReceiverID: receiver, Content: "first",
	})
	require.NoError(t, err)
	second, err := c.Send(ctx, models.Message{
		ConversationID: convID, SenderID: receiver, ReceiverID: sender, Content: "second",
	})
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, first.ID)
	assert.NotEqual(t, first.ID, second.ID)

	messages, err := c.FetchAll(ctx, convID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "first", messages[0].Content)
	assert.Equal(t, "second", messages[1].Content)
	assert.False(t, messages[0].Read)
}

func TestPostgresMarkRead(t *testing.T) {
	c := setupTestChannel(t)
	ctx := context.Background()

	sender, receiver := uuid.New(), uuid.New()
	convID, err := conversation.DeriveKey(sender, receiver)
	require.NoError(t, err)

	forReceiver, err := c.Send(ctx, models.Message{
		ConversationID: convID, SenderID: sender, ReceiverID: receiver, Content: "unread",
	})
	require.NoError(t, err)
	forSender, err := c.Send(ctx, models.Message{
		ConversationID: convID, SenderID: receiver, ReceiverID: sender, Content: "not mine",
	})
	require.NoError(t, err)

	updated, err := c.MarkRead(ctx, []uuid.UUID{forReceiver.ID, forSender.ID}, receiver)
	require.NoError(t, err)
	require.Len(t, updated, 1, "only the receiver's unread rows update")
	assert.Equal(t, forReceiver.ID, updated[0].ID)
	assert.True(t, updated[0].Read)

	// A second pass finds nothing left to update
	updated, err = c.MarkRead(ctx, []uuid.UUID{forReceiver.ID}, receiver)
	require.NoError(t, err)
	assert.Empty(t, updated)
}

func TestPostgresDeleteMessage(t *testing.T) {
	c := setupTestChannel(t)
	ctx := context.Background()

	sender, receiver := uuid.New(), uuid.New()
	convID, err := conversation.DeriveKey(sender, receiver)
	require.NoError(t, err)

	ack, err := c.Send(ctx, models.Message{
		ConversationID: convID, SenderID: sender, ReceiverID: receiver, Content: "mine",
	})
	require.NoError(t, err)

	err = c.DeleteMessage(ctx, ack.ID, receiver)
	assert.ErrorIs(t, err, ErrUnauthorized)

	err = c.DeleteMessage(ctx, ack.ID, sender)
	assert.NoError(t, err)

	err = c.DeleteMessage(ctx, ack.ID, sender)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresSubscribe(t *testing.T) {
	c := setupTestChannel(t)
	ctx := context.Background()

	sender, receiver := uuid.New(), uuid.New()
	convID, err := conversation.DeriveKey(sender, receiver)
	require.NoError(t, err)

	events := make(chan Event, 8)
	sub, err := c.Subscribe(ctx, convID, func(ev Event) {
		events <- ev
	})
	require.NoError(t, err)
	defer sub.Close()

	ack, err := c.Send(ctx, models.Message{
		ConversationID: convID, SenderID: sender, ReceiverID: receiver, Content: "notify me",
	})
	require.NoError(t, err)

	select {
	case ev := <-events:
		assert.Equal(t, EventInserted, ev.Type)
		require.NotNil(t, ev.Message)
		assert.Equal(t, ack.ID, ev.Message.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for insert notification")
	}
}
