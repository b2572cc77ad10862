// Package remote abstracts the backend a conversation syncs against: a
// synchronous query surface plus a live change feed of insert/update/delete
// events scoped to one conversation.
package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/Jitishkumar/pl/internal/models"
)

var (
	// ErrRemoteUnavailable means the backend could not be reached for a
	// read; callers fall back to the local snapshot.
	ErrRemoteUnavailable = errors.New("remote backend unavailable")
	// ErrRemoteWriteFailed means a send/delete/markRead did not reach the
	// backend; callers roll back any optimistic local mutation.
	ErrRemoteWriteFailed = errors.New("remote write failed")
	// ErrUnauthorized means the requester is not allowed to perform the
	// operation on that row; local state must not be mutated.
	ErrUnauthorized = errors.New("not authorized")
	// ErrNotFound means the target row does not exist.
	ErrNotFound = errors.New("message not found")
)

// EventType identifies a change-feed event kind.
type EventType string

const (
	EventInserted EventType = "INSERT"
	EventUpdated  EventType = "UPDATE"
	EventDeleted  EventType = "DELETE"
)

// Event is one change-feed delivery. Message is set for inserts and
// updates; MessageID alone is set for deletes. The feed is at-least-once
// and may redeliver, including mutations this client performed itself, so
// consumers must treat events as idempotent patches.
type Event struct {
	Type      EventType
	Message   *models.Message
	MessageID uuid.UUID
}

// Subscription is a cancellation handle for a live feed. After Close
// returns no further events are delivered.
type Subscription interface {
	Close() error
}

// Channel is the push/pull surface of the backend.
type Channel interface {
	// FetchAll returns every message in a conversation, ascending by
	// creation time. Fails with ErrRemoteUnavailable when the backend
	// cannot be reached.
	FetchAll(ctx context.Context, conversationID string) ([]models.Message, error)

	// Subscribe opens a live feed of events filtered to one conversation.
	// onEvent is invoked from the feed's own goroutine.
	Subscribe(ctx context.Context, conversationID string, onEvent func(Event)) (Subscription, error)

	// Send writes a new message row and returns the durable id and server
	// timestamp. Fails with ErrRemoteWriteFailed on connectivity loss.
	Send(ctx context.Context, msg models.Message) (*models.SendAck, error)

	// MarkRead flips read on the given rows, restricted server-side to
	// rows where receiverID is the receiver and read is still false.
	// Returns the rows actually updated; an empty result is not an error.
	MarkRead(ctx context.Context, ids []uuid.UUID, receiverID uuid.UUID) ([]models.Message, error)

	// DeleteMessage removes a row, restricted to the row's own sender.
	// Fails with ErrUnauthorized when the sender differs and ErrNotFound
	// when no such row exists.
	DeleteMessage(ctx context.Context, id uuid.UUID, requesterID uuid.UUID) error

	Close() error
}

type ChannelType string

const (
	// API talks JSON over HTTP with a websocket change feed.
	API ChannelType = "api"
	// Postgres talks SQL directly with a LISTEN/NOTIFY change feed.
	Postgres ChannelType = "postgres"
)

// NewChannel creates a remote channel of the given type. For API, addr is
// the backend base URL and token the bearer session token; for Postgres,
// addr is the connection string and token is unused.
func NewChannel(channelType ChannelType, addr, token string) (Channel, error) {
	switch channelType {
	case API:
		return NewAPIChannel(addr, token)
	case Postgres:
		return NewPostgresChannel(addr)
	default:
		return nil, fmt.Errorf("unsupported channel type: %s", channelType)
	}
}
