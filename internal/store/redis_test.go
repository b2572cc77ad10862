package store

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Requires a running Redis; set REDIS_TEST_ADDR to enable.
func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()

	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set, skipping redis store tests")
	}

	s, err := NewRedisStore(addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestRedisSaveLoadRoundTrip(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()

	msgs := testMessages("redis-conv-a", 3)
	require.NoError(t, s.Save(ctx, "redis-conv-a", msgs))

	loaded, err := s.Load(ctx, "redis-conv-a")
	require.NoError(t, err)
	assert.Equal(t, msgs, loaded)
}

func TestRedisSaveReplacesSnapshot(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "redis-conv-b", testMessages("redis-conv-b", 5)))

	second := testMessages("redis-conv-b", 1)
	require.NoError(t, s.Save(ctx, "redis-conv-b", second))

	loaded, err := s.Load(ctx, "redis-conv-b")
	require.NoError(t, err)
	assert.Equal(t, second, loaded)
}

func TestRedisLoadMissingConversation(t *testing.T) {
	s := newTestRedisStore(t)

	loaded, err := s.Load(context.Background(), "redis-conv-never-saved")
	require.NoError(t, err)
	assert.Empty(t, loaded)
}
