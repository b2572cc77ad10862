package models

import (
	"time"

	"github.com/google/uuid"
)

// Message is the unit of conversation content.
//
// ID starts out as a client-generated provisional UUID at optimistic-send
// time and is replaced in place by the server-assigned durable UUID once the
// remote write is acknowledged. LocalOnly is true in between.
type Message struct {
	ID             uuid.UUID `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       uuid.UUID `json:"sender_id"`
	ReceiverID     uuid.UUID `json:"receiver_id"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
	Read           bool      `json:"read"`
	LocalOnly      bool      `json:"local_only,omitempty"`
}

// SendRequest is the structure for message creation requests
type SendRequest struct {
	ConversationID string    `json:"conversation_id" binding:"required"`
	SenderID       uuid.UUID `json:"sender_id" binding:"required"`
	ReceiverID     uuid.UUID `json:"receiver_id" binding:"required"`
	Content        string    `json:"content" binding:"required,min=1"`
	CreatedAt      time.Time `json:"created_at"`
}

// SendAck is what the backend returns for an accepted message: the durable
// id and the server-assigned creation timestamp.
type SendAck struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// MarkReadRequest is the structure for bulk read-receipt updates
type MarkReadRequest struct {
	IDs        []uuid.UUID `json:"ids" binding:"required"`
	ReceiverID uuid.UUID   `json:"receiver_id" binding:"required"`
}
