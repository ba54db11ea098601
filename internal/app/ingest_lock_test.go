package app

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a real Redis when TEST_REDIS_URL is set.
func TestRedisIngestLock(t *testing.T) {
	redisURL := os.Getenv("TEST_REDIS_URL")
	if redisURL == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(redisURL)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { client.Close() })

	ctx := context.Background()
	lock := NewRedisIngestLock(client, "induction-sync:test:"+uuid.NewString()+":", time.Minute)

	token, ok, err := lock.Acquire(ctx, "2026-01-19")
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, token)

	_, ok, err = lock.Acquire(ctx, "2026-01-19")
	require.NoError(t, err)
	assert.False(t, ok, "second claim on the same date must fail")

	// A stale token must not drop someone else's claim.
	require.NoError(t, lock.Release(ctx, "2026-01-19", "stale"))
	_, ok, err = lock.Acquire(ctx, "2026-01-19")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, lock.Release(ctx, "2026-01-19", token))
	_, ok, err = lock.Acquire(ctx, "2026-01-19")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNewRedisIngestLock_Defaults(t *testing.T) {
	lock := NewRedisIngestLock(nil, "  ", 0)
	assert.Equal(t, "induction-sync:ingest:2026-01-19", lock.key("2026-01-19"))
	assert.Equal(t, defaultIngestLockTTL, lock.ttl)
}
