// Package syncer keeps one conversation's message list consistent across
// three sources of change: user actions, remote call completions, and the
// backend's change feed. The list is owned by a single goroutine; every
// mutation goes through one command channel, so the dedup and rollback
// rules always observe a consistent prior state.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Jitishkumar/pl/internal/conversation"
	"github.com/Jitishkumar/pl/internal/logger"
	"github.com/Jitishkumar/pl/internal/models"
	"github.com/Jitishkumar/pl/internal/readreceipt"
	"github.com/Jitishkumar/pl/internal/remote"
	"github.com/Jitishkumar/pl/internal/store"
)

var (
	ErrEmptyMessage   = errors.New("message content is empty")
	ErrClosed         = errors.New("controller is closed")
	ErrAlreadyStarted = errors.New("controller already started")
)

// State is the controller's lifecycle position for one conversation
// session.
type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Controller reconciles the in-memory message list for one conversation.
// One instance owns one open conversation; there is no cross-conversation
// sharing. All methods except Start and Close require a started
// controller.
type Controller struct {
	conversationID string
	userID         uuid.UUID
	peerID         uuid.UUID

	channel remote.Channel
	store   store.Store
	tracker *readreceipt.Tracker

	commands chan func()
	done     chan struct{}
	stopOnce sync.Once
	updates  chan struct{}

	// Lifecycle position; read from any goroutine
	state atomic.Int32

	// Owned by the run loop after Start
	messages []models.Message
	sub      remote.Subscription

	log *logger.Logger
}

// New creates a controller for the conversation between the local user and
// one peer. Fails if either participant id is missing.
func New(channel remote.Channel, st store.Store, userID, peerID uuid.UUID) (*Controller, error) {
	conversationID, err := conversation.DeriveKey(userID, peerID)
	if err != nil {
		return nil, err
	}

	return &Controller{
		conversationID: conversationID,
		userID:         userID,
		peerID:         peerID,
		channel:        channel,
		store:          st,
		tracker:        readreceipt.New(channel, userID),
		commands:       make(chan func(), 64),
		done:           make(chan struct{}),
		updates:        make(chan struct{}, 1),
		log:            logger.New("syncer"),
	}, nil
}

// ConversationID returns the canonical key this controller syncs.
func (c *Controller) ConversationID() string {
	return c.conversationID
}

// Start loads the conversation remote-first with a cache fallback, opens
// the change feed, and begins the reconciliation loop.
func (c *Controller) Start(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(StateUninitialized), int32(StateLoading)) {
		return ErrAlreadyStarted
	}

	fromCache := false
	messages, err := c.channel.FetchAll(ctx, c.conversationID)
	if err != nil {
		c.log.Warn("Remote load failed for %s, falling back to cache: %v", c.conversationID, err)
		fromCache = true
		messages, err = c.store.Load(ctx, c.conversationID)
		if err != nil {
			c.log.Error("Cache load failed for %s: %v", c.conversationID, err)
			messages = []models.Message{}
		}
	}
	c.messages = messages

	if !fromCache {
		if err := c.store.Save(ctx, c.conversationID, c.messages); err != nil {
			c.log.Warn("Failed to mirror initial load: %v", err)
		}
	}

	go c.run()

	sub, err := c.channel.Subscribe(ctx, c.conversationID, func(ev remote.Event) {
		c.dispatch(func() { c.applyEvent(ev) })
	})
	if err != nil {
		// Session continues on the loaded snapshot; reads stay stale
		// until the next Start
		c.log.Warn("Subscribe failed for %s: %v", c.conversationID, err)
	} else {
		c.sub = sub
	}

	c.state.Store(int32(StateReady))

	// Receiver-side read marking; best-effort after a cache fallback
	go c.markRead(context.Background())

	c.log.Info("Conversation %s ready (%d messages, cache=%v)", c.conversationID, len(messages), fromCache)
	return nil
}

// run serializes every mutation of the message list.
func (c *Controller) run() {
	for {
		select {
		case cmd := <-c.commands:
			cmd()
		case <-c.done:
			return
		}
	}
}

// dispatch queues fn for the run loop. Returns false once the controller
// is closed.
func (c *Controller) dispatch(fn func()) bool {
	select {
	case c.commands <- fn:
		return true
	case <-c.done:
		return false
	}
}

// dispatchWait runs fn on the loop and waits for it to finish.
func (c *Controller) dispatchWait(fn func()) bool {
	ran := make(chan struct{})
	ok := c.dispatch(func() {
		fn()
		close(ran)
	})
	if !ok {
		return false
	}
	select {
	case <-ran:
		return true
	case <-c.done:
		return false
	}
}

// State reports the controller's current lifecycle state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Messages returns a copy of the reconciled message list.
func (c *Controller) Messages() []models.Message {
	var snapshot []models.Message
	c.dispatchWait(func() {
		snapshot = make([]models.Message, len(c.messages))
		copy(snapshot, c.messages)
	})
	return snapshot
}

// Updates signals after every visible change to the message list. Signals
// are coalesced; consumers re-read Messages on each one.
func (c *Controller) Updates() <-chan struct{} {
	return c.updates
}

// Send appends an optimistic entry with a provisional id, mirrors it to
// the store, then performs the remote write. On acknowledgment the
// provisional id is replaced in place by the durable id; on failure the
// entry is rolled back and the error returned is retriable.
func (c *Controller) Send(ctx context.Context, content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyMessage
	}

	provisional := models.Message{
		ID:             uuid.New(),
		ConversationID: c.conversationID,
		SenderID:       c.userID,
		ReceiverID:     c.peerID,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
		LocalOnly:      true,
	}

	if !c.dispatchWait(func() {
		c.messages = append(c.messages, provisional)
		c.persist()
		c.notify()
	}) {
		return ErrClosed
	}

	ack, err := c.channel.Send(ctx, provisional)
	if err != nil {
		c.dispatchWait(func() {
			if idx := c.indexOf(provisional.ID); idx >= 0 {
				c.messages = append(c.messages[:idx], c.messages[idx+1:]...)
				c.persist()
				c.notify()
			}
		})
		return fmt.Errorf("send message: %w", err)
	}

	c.dispatchWait(func() { c.acknowledge(provisional.ID, ack) })
	return nil
}

// acknowledge swaps the provisional id for the durable one. If the feed
// echo raced ahead and the durable entry is already merged, the
// provisional entry is dropped instead so the id appears exactly once.
func (c *Controller) acknowledge(provisionalID uuid.UUID, ack *models.SendAck) {
	provisionalIdx := c.indexOf(provisionalID)

	if c.indexOf(ack.ID) >= 0 {
		if provisionalIdx >= 0 {
			c.messages = append(c.messages[:provisionalIdx], c.messages[provisionalIdx+1:]...)
			c.persist()
			c.notify()
		}
		return
	}

	if provisionalIdx < 0 {
		// Deleted or rolled back while the write was in flight
		c.log.Debug("Provisional message %s gone before acknowledgment", provisionalID)
		return
	}

	c.messages[provisionalIdx].ID = ack.ID
	c.messages[provisionalIdx].CreatedAt = ack.CreatedAt
	c.messages[provisionalIdx].LocalOnly = false
	c.persist()
	c.notify()
}

// Delete removes one of the local user's own sent messages, remotely then
// locally. Requests for another sender's message are rejected before any
// remote call.
func (c *Controller) Delete(ctx context.Context, id uuid.UUID) error {
	var (
		found  bool
		sender uuid.UUID
	)
	if !c.dispatchWait(func() {
		if idx := c.indexOf(id); idx >= 0 {
			found = true
			sender = c.messages[idx].SenderID
		}
	}) {
		return ErrClosed
	}

	if !found {
		// Already gone; deletion is idempotent
		return nil
	}
	if sender != c.userID {
		return remote.ErrUnauthorized
	}

	err := c.channel.DeleteMessage(ctx, id, c.userID)
	if err != nil && !errors.Is(err, remote.ErrNotFound) {
		c.log.Warn("Remote delete of %s failed: %v", id, err)
		return fmt.Errorf("delete message: %w", err)
	}

	c.dispatchWait(func() {
		if idx := c.indexOf(id); idx >= 0 {
			c.messages = append(c.messages[:idx], c.messages[idx+1:]...)
			c.persist()
			c.notify()
		}
	})
	return nil
}

// Focus re-runs the read-marking pass, as when the conversation regains
// visual focus. Failures are non-fatal; messages stay unread until the
// next successful attempt.
func (c *Controller) Focus(ctx context.Context) {
	c.markRead(ctx)
}

// markRead marks unread received messages and patches the backend's
// answer into the list.
func (c *Controller) markRead(ctx context.Context) {
	snapshot := c.Messages()
	if snapshot == nil {
		return
	}

	updated, err := c.tracker.MarkVisible(ctx, snapshot)
	if err != nil {
		c.log.Warn("Read marking failed: %v", err)
		return
	}
	if len(updated) == 0 {
		return
	}

	c.dispatchWait(func() {
		changed := false
		for _, u := range updated {
			if idx := c.indexOf(u.ID); idx >= 0 && !c.messages[idx].Read {
				c.messages[idx].Read = true
				changed = true
			}
		}
		if changed {
			c.persist()
			c.notify()
		}
	})
}

// applyEvent merges one change-feed delivery. Events are idempotent,
// order-tolerant patches; duplicates are suppressed by id.
func (c *Controller) applyEvent(ev remote.Event) {
	switch ev.Type {
	case remote.EventInserted:
		if ev.Message == nil {
			return
		}
		m := *ev.Message
		if c.indexOf(m.ID) >= 0 {
			// Self-echo or redelivery
			c.log.Debug("Ignoring duplicate insert for %s", m.ID)
			return
		}
		c.insertOrdered(m)
		c.persist()
		c.notify()

		if m.ReceiverID == c.userID && !m.Read {
			go c.markRead(context.Background())
		}

	case remote.EventUpdated:
		if ev.Message == nil {
			return
		}
		idx := c.indexOf(ev.Message.ID)
		if idx < 0 {
			// Cannot update what has not arrived; redelivery or the
			// next full load closes the gap
			c.log.Debug("Dropping update for unknown message %s", ev.Message.ID)
			return
		}
		// read is monotonic: false→true only
		if ev.Message.Read && !c.messages[idx].Read {
			c.messages[idx].Read = true
			c.persist()
			c.notify()
		}

	case remote.EventDeleted:
		idx := c.indexOf(ev.MessageID)
		if idx < 0 {
			return
		}
		c.messages = append(c.messages[:idx], c.messages[idx+1:]...)
		c.persist()
		c.notify()
	}
}

// insertOrdered places a message by ascending creation time with an id
// tiebreak, the same total order the backend serves loads in.
func (c *Controller) insertOrdered(m models.Message) {
	pos := len(c.messages)
	for i := len(c.messages) - 1; i >= 0; i-- {
		cur := &c.messages[i]
		if cur.CreatedAt.Before(m.CreatedAt) {
			break
		}
		if cur.CreatedAt.Equal(m.CreatedAt) && cur.ID.String() <= m.ID.String() {
			break
		}
		pos = i
	}

	c.messages = append(c.messages, models.Message{})
	copy(c.messages[pos+1:], c.messages[pos:])
	c.messages[pos] = m
}

func (c *Controller) indexOf(id uuid.UUID) int {
	for i := range c.messages {
		if c.messages[i].ID == id {
			return i
		}
	}
	return -1
}

// persist mirrors the current list to the local store.
func (c *Controller) persist() {
	if err := c.store.Save(context.Background(), c.conversationID, c.messages); err != nil {
		c.log.Warn("Failed to mirror snapshot for %s: %v", c.conversationID, err)
	}
}

func (c *Controller) notify() {
	select {
	case c.updates <- struct{}{}:
	default:
	}
}

// Close releases the subscription and stops the loop. No event may mutate
// state afterwards.
func (c *Controller) Close() error {
	c.stopOnce.Do(func() {
		if c.sub != nil {
			_ = c.sub.Close()
		}
		close(c.done)
		c.log.Info("Conversation %s closed", c.conversationID)
	})
	return nil
}
