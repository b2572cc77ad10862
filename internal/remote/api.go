package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Jitishkumar/pl/internal/logger"
	"github.com/Jitishkumar/pl/internal/models"
)

const (
	defaultHTTPTimeout = 10 * time.Second

	feedPongWait   = 60 * time.Second
	feedPingPeriod = 54 * time.Second
)

// APIChannel binds Channel to a JSON-over-HTTP backend with a websocket
// change feed.
type APIChannel struct {
	baseURL string
	token   string
	client  *http.Client
	log     *logger.Logger
}

// NewAPIChannel creates a channel against the backend at baseURL,
// authenticating every request with the given bearer session token.
func NewAPIChannel(baseURL, token string) (*APIChannel, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("api channel: base URL is required")
	}

	return &APIChannel{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: defaultHTTPTimeout},
		log:     logger.New("remote.api"),
	}, nil
}

func (c *APIChannel) newRequest(ctx context.Context, method, path string, body interface{}) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// FetchAll returns every message in a conversation, ascending by creation
// time.
func (c *APIChannel) FetchAll(ctx context.Context, conversationID string) ([]models.Message, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/conversations/"+conversationID+"/messages", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: fetch returned status %d", ErrRemoteUnavailable, resp.StatusCode)
	}

	var messages []models.Message
	if err := json.NewDecoder(resp.Body).Decode(&messages); err != nil {
		return nil, fmt.Errorf("%w: decode fetch response: %v", ErrRemoteUnavailable, err)
	}
	return messages, nil
}

// Send writes a new message row and returns the durable id and server
// timestamp.
func (c *APIChannel) Send(ctx context.Context, msg models.Message) (*models.SendAck, error) {
	body := models.SendRequest{
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		ReceiverID:     msg.ReceiverID,
		Content:        msg.Content,
		CreatedAt:      msg.CreatedAt,
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/messages", body)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteWriteFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("%w: send returned status %d", ErrRemoteWriteFailed, resp.StatusCode)
	}

	var ack models.SendAck
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return nil, fmt.Errorf("%w: decode send response: %v", ErrRemoteWriteFailed, err)
	}
	return &ack, nil
}

// MarkRead flips read on the given rows where receiverID is the receiver
// and read is still false, returning the rows actually updated.
func (c *APIChannel) MarkRead(ctx context.Context, ids []uuid.UUID, receiverID uuid.UUID) ([]models.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	body := models.MarkReadRequest{IDs: ids, ReceiverID: receiverID}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/messages/read", body)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteWriteFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: mark read returned status %d", ErrRemoteWriteFailed, resp.StatusCode)
	}

	var updated []models.Message
	if err := json.NewDecoder(resp.Body).Decode(&updated); err != nil {
		return nil, fmt.Errorf("%w: decode mark read response: %v", ErrRemoteWriteFailed, err)
	}
	return updated, nil
}

// DeleteMessage removes a row owned by requesterID. On this binding the
// backend derives the requester from the bearer token; requesterID must
// match the token's identity.
func (c *APIChannel) DeleteMessage(ctx context.Context, id uuid.UUID, requesterID uuid.UUID) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/api/messages/"+id.String(), nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRemoteWriteFailed, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	default:
		return fmt.Errorf("%w: delete returned status %d", ErrRemoteWriteFailed, resp.StatusCode)
	}
}

// wireEvent is one change-feed frame as sent by the backend. Row carries
// the full message for inserts and updates; for deletes only Row.ID is
// meaningful.
type wireEvent struct {
	EventType string          `json:"event_type"`
	Row       *models.Message `json:"row,omitempty"`
}

type apiSubscription struct {
	conn      *websocket.Conn
	done      chan struct{}
	closeOnce sync.Once
}

func (s *apiSubscription) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = s.conn.Close()
	})
	return nil
}

// Subscribe opens the websocket change feed for one conversation. Events
// are delivered on the feed's own goroutine until Close or a read failure.
func (c *APIChannel) Subscribe(ctx context.Context, conversationID string, onEvent func(Event)) (Subscription, error) {
	wsURL := c.baseURL + "/api/conversations/" + conversationID + "/feed"
	switch {
	case strings.HasPrefix(wsURL, "https://"):
		wsURL = "wss://" + strings.TrimPrefix(wsURL, "https://")
	case strings.HasPrefix(wsURL, "http://"):
		wsURL = "ws://" + strings.TrimPrefix(wsURL, "http://")
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, fmt.Errorf("%w: dial feed: %v", ErrRemoteUnavailable, err)
	}

	sub := &apiSubscription{conn: conn, done: make(chan struct{})}

	go c.readFeed(sub, conversationID, onEvent)
	go c.pingFeed(sub)

	c.log.Info("Subscribed to feed for conversation %s", conversationID)
	return sub, nil
}

// readFeed pumps change-feed frames from the websocket to onEvent.
func (c *APIChannel) readFeed(sub *apiSubscription, conversationID string, onEvent func(Event)) {
	defer sub.Close()

	sub.conn.SetReadLimit(64 * 1024)
	sub.conn.SetReadDeadline(time.Now().Add(feedPongWait))
	sub.conn.SetPongHandler(func(string) error {
		sub.conn.SetReadDeadline(time.Now().Add(feedPongWait))
		return nil
	})

	for {
		_, payload, err := sub.conn.ReadMessage()
		if err != nil {
			select {
			case <-sub.done:
				// Closed locally
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					c.log.Error("Feed read error for conversation %s: %v", conversationID, err)
				} else {
					c.log.Info("Feed closed for conversation %s: %v", conversationID, err)
				}
			}
			return
		}

		var frame wireEvent
		if err := json.Unmarshal(payload, &frame); err != nil {
			c.log.Error("Error unmarshaling feed frame: %v", err)
			continue
		}

		ev, ok := decodeWireEvent(frame)
		if !ok {
			c.log.Warn("Dropping malformed feed frame of type %q", frame.EventType)
			continue
		}

		select {
		case <-sub.done:
			return
		default:
			onEvent(ev)
		}
	}
}

func decodeWireEvent(frame wireEvent) (Event, bool) {
	switch EventType(frame.EventType) {
	case EventInserted, EventUpdated:
		if frame.Row == nil {
			return Event{}, false
		}
		return Event{Type: EventType(frame.EventType), Message: frame.Row, MessageID: frame.Row.ID}, true
	case EventDeleted:
		if frame.Row == nil || frame.Row.ID == uuid.Nil {
			return Event{}, false
		}
		return Event{Type: EventDeleted, MessageID: frame.Row.ID}, true
	default:
		return Event{}, false
	}
}

// pingFeed keeps the websocket alive; the server answers with pongs that
// extend the read deadline.
func (c *APIChannel) pingFeed(sub *apiSubscription) {
	ticker := time.NewTicker(feedPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := sub.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
			if err != nil {
				return
			}
		case <-sub.done:
			return
		}
	}
}

// Close releases the HTTP client's idle connections.
func (c *APIChannel) Close() error {
	c.client.CloseIdleConnections()
	return nil
}
