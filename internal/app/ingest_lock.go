package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultIngestLockTTL = 20 * time.Hour

var releaseIngestLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisIngestLock claims a scheduled ingestion date so only one ingest replica runs it.
type RedisIngestLock struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisIngestLock(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisIngestLock {
	trimmedPrefix := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmedPrefix == "" {
		trimmedPrefix = "induction-sync:ingest"
	}
	if ttl <= 0 {
		ttl = defaultIngestLockTTL
	}
	return &RedisIngestLock{client: client, prefix: trimmedPrefix, ttl: ttl}
}

// Acquire claims date. ok is false when another holder already has it.
func (l *RedisIngestLock) Acquire(ctx context.Context, date string) (token string, ok bool, err error) {
	token = uuid.NewString()
	ok, err = l.client.SetNX(ctx, l.key(date), token, l.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to acquire ingest lock for %s: %w", date, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release drops the claim on date if token still owns it.
func (l *RedisIngestLock) Release(ctx context.Context, date, token string) error {
	if err := releaseIngestLockScript.Run(ctx, l.client, []string{l.key(date)}, token).Err(); err != nil {
		return fmt.Errorf("failed to release ingest lock for %s: %w", date, err)
	}
	return nil
}

func (l *RedisIngestLock) key(date string) string {
	return l.prefix + ":" + date
}
