package remote

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Jitishkumar/pl/internal/logger"
	"github.com/Jitishkumar/pl/internal/models"
)

// notifyChannel is the LISTEN/NOTIFY channel the backend's row trigger
// publishes change-feed frames on. Payloads are wireEvent JSON; events for
// every conversation arrive here and are filtered per subscription.
const notifyChannel = "message_events"

// PostgresChannel binds Channel directly to the backing Postgres database,
// with the change feed carried over LISTEN/NOTIFY.
type PostgresChannel struct {
	db      *sql.DB
	connStr string
	log     *logger.Logger
}

// NewPostgresChannel connects to Postgres with the given connection string.
func NewPostgresChannel(connStr string) (*PostgresChannel, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}

	return &PostgresChannel{
		db:      db,
		connStr: connStr,
		log:     logger.New("remote.postgres"),
	}, nil
}

// FetchAll returns every message in a conversation, ascending by creation
// time with a stable id tiebreak.
func (c *PostgresChannel) FetchAll(ctx context.Context, conversationID string) ([]models.Message, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, conversation_id, sender_id, receiver_id, content, created_at, read
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC, id ASC`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.ReceiverID,
			&m.Content, &m.CreatedAt, &m.Read); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}

	return messages, nil
}

// Send inserts a new message row. The id and creation timestamp come from
// the database defaults, never from the client.
func (c *PostgresChannel) Send(ctx context.Context, msg models.Message) (*models.SendAck, error) {
	var ack models.SendAck
	err := c.db.QueryRowContext(ctx, `
		INSERT INTO messages (conversation_id, sender_id, receiver_id, content)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		msg.ConversationID, msg.SenderID, msg.ReceiverID, msg.Content).
		Scan(&ack.ID, &ack.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteWriteFailed, err)
	}

	return &ack, nil
}

// MarkRead flips read on the given rows where receiverID is the receiver
// and read is still false, returning the rows actually updated.
func (c *PostgresChannel) MarkRead(ctx context.Context, ids []uuid.UUID, receiverID uuid.UUID) ([]models.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	idStrs := make([]string, 0, len(ids))
	for _, id := range ids {
		idStrs = append(idStrs, id.String())
	}

	rows, err := c.db.QueryContext(ctx, `
		UPDATE messages SET read = TRUE
		WHERE id = ANY($1::uuid[]) AND receiver_id = $2 AND read = FALSE
		RETURNING id, conversation_id, sender_id, receiver_id, content, created_at, read`,
		pq.Array(idStrs), receiverID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteWriteFailed, err)
	}
	defer rows.Close()

	updated := []models.Message{}
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.ReceiverID,
			&m.Content, &m.CreatedAt, &m.Read); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRemoteWriteFailed, err)
		}
		updated = append(updated, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteWriteFailed, err)
	}

	return updated, nil
}

// DeleteMessage removes a row owned by requesterID.
func (c *PostgresChannel) DeleteMessage(ctx context.Context, id uuid.UUID, requesterID uuid.UUID) error {
	result, err := c.db.ExecContext(ctx,
		"DELETE FROM messages WHERE id = $1 AND sender_id = $2", id, requesterID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRemoteWriteFailed, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRemoteWriteFailed, err)
	}
	if affected > 0 {
		return nil
	}

	// Zero rows: either the row belongs to someone else or it is gone
	var exists bool
	err = c.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM messages WHERE id = $1)", id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRemoteWriteFailed, err)
	}
	if exists {
		return ErrUnauthorized
	}
	return ErrNotFound
}

type pgSubscription struct {
	listener  *pq.Listener
	done      chan struct{}
	closeOnce sync.Once
}

func (s *pgSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.listener.Close()
	})
	return err
}

// Subscribe opens a LISTEN/NOTIFY feed filtered to one conversation.
func (c *PostgresChannel) Subscribe(ctx context.Context, conversationID string, onEvent func(Event)) (Subscription, error) {
	listener := pq.NewListener(c.connStr, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			c.log.Error("Listener event %v: %v", ev, err)
		}
	})

	if err := listener.Listen(notifyChannel); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("%w: listen: %v", ErrRemoteUnavailable, err)
	}

	sub := &pgSubscription{listener: listener, done: make(chan struct{})}
	go c.pumpNotifications(sub, conversationID, onEvent)

	c.log.Info("Listening for changes on conversation %s", conversationID)
	return sub, nil
}

func (c *PostgresChannel) pumpNotifications(sub *pgSubscription, conversationID string, onEvent func(Event)) {
	for {
		select {
		case n := <-sub.listener.Notify:
			if n == nil {
				// Reconnect; the listener re-establishes LISTEN itself
				continue
			}

			var frame wireEvent
			if err := json.Unmarshal([]byte(n.Extra), &frame); err != nil {
				c.log.Error("Error unmarshaling notification payload: %v", err)
				continue
			}
			if frame.Row == nil || frame.Row.ConversationID != conversationID {
				continue
			}

			ev, ok := decodeWireEvent(frame)
			if !ok {
				c.log.Warn("Dropping malformed notification of type %q", frame.EventType)
				continue
			}
			onEvent(ev)

		case <-time.After(90 * time.Second):
			go func() {
				if err := sub.listener.Ping(); err != nil {
					c.log.Warn("Listener ping failed: %v", err)
				}
			}()

		case <-sub.done:
			return
		}
	}
}

// Close closes the database connection. Open subscriptions hold their own
// listener connections and are closed separately.
func (c *PostgresChannel) Close() error {
	return c.db.Close()
}
