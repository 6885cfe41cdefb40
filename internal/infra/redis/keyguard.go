package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/onboard-engine/internal/dedupe"
	goredis "github.com/redis/go-redis/v9"
)

// defaultGuardTTL must outlive the longest worker attempt so a crashed holder
// cannot block a key forever.
const defaultGuardTTL = 6 * time.Minute

var _ dedupe.KeyGuard = (*RedisKeyGuard)(nil)

// RedisKeyGuard is a distributed per-key in-flight guard backed by Redis
// SET NX with a TTL.
type RedisKeyGuard struct {
	client *goredis.Client
	ttl    time.Duration
}

func NewRedisKeyGuard(client *goredis.Client, ttl time.Duration) (*RedisKeyGuard, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		ttl = defaultGuardTTL
	}

	return &RedisKeyGuard{
		client: client,
		ttl:    ttl,
	}, nil
}

func (g *RedisKeyGuard) Acquire(ctx context.Context, key string) (bool, error) {
	if g == nil || g.client == nil {
		return false, fmt.Errorf("key guard is not initialized")
	}

	normalizedKey := strings.TrimSpace(key)
	if normalizedKey == "" {
		return false, fmt.Errorf("key is required")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	acquired, err := g.client.SetNX(ctx, guardKey(normalizedKey), "1", g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire guard for %q: %w", normalizedKey, err)
	}

	return acquired, nil
}

func (g *RedisKeyGuard) Release(ctx context.Context, key string) error {
	if g == nil || g.client == nil {
		return fmt.Errorf("key guard is not initialized")
	}

	normalizedKey := strings.TrimSpace(key)
	if normalizedKey == "" {
		return fmt.Errorf("key is required")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if err := g.client.Del(ctx, guardKey(normalizedKey)).Err(); err != nil {
		return fmt.Errorf("failed to release guard for %q: %w", normalizedKey, err)
	}

	return nil
}

func guardKey(key string) string {
	return fmt.Sprintf("inflight:%s", key)
}
