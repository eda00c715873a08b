package coordination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss means the key does not exist (or expired).
var ErrCacheMiss = errors.New("cache miss")

// KV is a thin typed layer for the write-through caches (currently the
// per-user profile listing).
type KV struct {
	redis RedisInterface
}

// NewKV creates a KV layer on the given Redis connection.
func NewKV(r RedisInterface) *KV {
	return &KV{redis: r}
}

// Get returns the cached value or ErrCacheMiss.
func (kv *KV) Get(ctx context.Context, key string) (string, error) {
	val, err := kv.redis.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", fmt.Errorf("%w: %s", ErrCacheMiss, key)
		}
		return "", fmt.Errorf("failed to read cache key %s: %w", key, err)
	}
	return val, nil
}

// Set stores a value with the given TTL. A zero TTL stores without
// expiry.
func (kv *KV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := kv.redis.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write cache key %s: %w", key, err)
	}
	return nil
}

// Del drops keys. Missing keys are not an error.
func (kv *KV) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := kv.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete cache keys: %w", err)
	}
	return nil
}
