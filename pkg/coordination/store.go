package coordination

import "context"

// Store bundles the coordination primitives over one Redis connection.
type Store struct {
	redis *Redis
	Locks *Locker
	Cache *KV
}

// NewStore connects to Redis and wires the primitives.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	r, err := NewRedis(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return newStore(r), nil
}

// NewStoreFromRedis wires the primitives over an existing connection
// (useful for testing with miniredis).
func NewStoreFromRedis(r *Redis) *Store {
	return newStore(r)
}

func newStore(r *Redis) *Store {
	return &Store{
		redis: r,
		Locks: NewLocker(r),
		Cache: NewKV(r),
	}
}

// Queue returns a work queue handle for the given key.
func (s *Store) Queue(key string) *WorkQueue {
	return NewWorkQueue(s.redis, key)
}

// Redis exposes the underlying connection.
func (s *Store) Redis() *Redis {
	return s.redis
}

// HealthCheck verifies connectivity.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.redis.HealthCheck(ctx)
}

// Close shuts the connection down.
func (s *Store) Close() error {
	return s.redis.Close()
}
