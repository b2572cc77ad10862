// Package readreceipt marks messages as read on behalf of the local user
// and reconciles read state coming back from the backend.
package readreceipt

import (
	"context"

	"github.com/google/uuid"

	"github.com/Jitishkumar/pl/internal/logger"
	"github.com/Jitishkumar/pl/internal/models"
	"github.com/Jitishkumar/pl/internal/remote"
)

var log = logger.New("readreceipt")

// Tracker flips the read flag for messages the local user has seen. A
// message is eligible only when the local user is its receiver and it is
// still unread; read never transitions back to false.
type Tracker struct {
	channel remote.Channel
	userID  uuid.UUID
}

// New creates a tracker acting as the given local user.
func New(channel remote.Channel, userID uuid.UUID) *Tracker {
	return &Tracker{channel: channel, userID: userID}
}

// MarkVisible marks every currently-unread message addressed to the local
// user as read and returns the rows the backend actually updated, so the
// caller can patch them into its list without waiting for the feed to
// round-trip. With no eligible messages it returns nil without a remote
// call.
func (t *Tracker) MarkVisible(ctx context.Context, messages []models.Message) ([]models.Message, error) {
	ids := t.UnreadIDs(messages)
	if len(ids) == 0 {
		return nil, nil
	}

	updated, err := t.channel.MarkRead(ctx, ids, t.userID)
	if err != nil {
		return nil, err
	}

	log.Debug("Marked %d of %d candidate messages as read", len(updated), len(ids))
	return updated, nil
}

// UnreadIDs returns the ids eligible for a read transition: receiver is the
// local user, read is false, and the message has a durable id.
func (t *Tracker) UnreadIDs(messages []models.Message) []uuid.UUID {
	var ids []uuid.UUID
	for _, m := range messages {
		if m.ReceiverID == t.userID && !m.Read && !m.LocalOnly {
			ids = append(ids, m.ID)
		}
	}
	return ids
}
