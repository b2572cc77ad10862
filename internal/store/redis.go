package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/Jitishkumar/pl/internal/models"
)

const snapshotKeyPrefix = "conversation:"

// RedisStore keeps conversation snapshots in Redis, for clients running
// alongside a Redis sidecar instead of on-device SQLite.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis at addr (host:port) and verifies the
// connection.
func NewRedisStore(addr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func snapshotKey(conversationID string) string {
	return snapshotKeyPrefix + conversationID
}

// Save replaces the snapshot for a conversation with the given sequence.
func (s *RedisStore) Save(ctx context.Context, conversationID string, messages []models.Message) error {
	if messages == nil {
		messages = []models.Message{}
	}

	payload, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	if err := s.client.Set(ctx, snapshotKey(conversationID), payload, 0).Err(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Load returns the last saved snapshot, or an empty slice if none exists.
func (s *RedisStore) Load(ctx context.Context, conversationID string) ([]models.Message, error) {
	payload, err := s.client.Get(ctx, snapshotKey(conversationID)).Bytes()
	if err == redis.Nil {
		return []models.Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var messages []models.Message
	if err := json.Unmarshal(payload, &messages); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if messages == nil {
		messages = []models.Message{}
	}

	return messages, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
