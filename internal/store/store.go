// Package store is the per-conversation durable cache: the offline fallback
// when the backend is unreachable and a write-through mirror of the
// reconciled message list.
package store

import (
	"context"
	"fmt"

	"github.com/Jitishkumar/pl/internal/models"
)

// Store persists full message snapshots keyed by conversation id. Save
// replaces any prior snapshot; Load returns the last saved snapshot or an
// empty slice if none exists. Last successful save wins across crashes; the
// remote backend is the source of truth whenever reachable.
type Store interface {
	Save(ctx context.Context, conversationID string, messages []models.Message) error
	Load(ctx context.Context, conversationID string) ([]models.Message, error)
	Close() error
}

type StoreType string

const (
	SQLite StoreType = "sqlite"
	Redis  StoreType = "redis"
)

// NewStore creates a snapshot store of the given type. For SQLite, addr is
// the database file path; for Redis, a host:port address.
func NewStore(storeType StoreType, addr string) (Store, error) {
	switch storeType {
	case SQLite:
		return NewSQLiteStore(addr)
	case Redis:
		return NewRedisStore(addr)
	default:
		return nil, fmt.Errorf("unsupported store type: %s", storeType)
	}
}
