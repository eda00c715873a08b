package coordination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrLockNotAcquired means the lock is held by someone else.
	ErrLockNotAcquired = errors.New("lock not acquired")

	// ErrLockLost means the lock expired or was taken over between
	// operations; the holder must stop treating the resource as owned.
	ErrLockLost = errors.New("lock lost")
)

// Lua scripts compare the stored token before touching the key so a
// holder whose lock expired cannot release or renew a successor's lock.
const (
	releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`
	renewScript   = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("pexpire", KEYS[1], ARGV[2]) else return 0 end`
)

// Locker hands out distributed locks backed by SET NX with a random
// token per acquisition.
type Locker struct {
	redis RedisInterface
}

// NewLocker creates a Locker on the given Redis connection.
func NewLocker(r RedisInterface) *Locker {
	return &Locker{redis: r}
}

// Lock is one acquired lock. It is not safe for concurrent use by
// multiple goroutines.
type Lock struct {
	redis RedisInterface
	key   string
	token string
	ttl   time.Duration
}

// Key returns the Redis key the lock occupies.
func (l *Lock) Key() string {
	return l.key
}

// Acquire tries to take the lock once. Returns ErrLockNotAcquired when
// it is already held.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	token := uuid.NewString()
	ok, err := l.redis.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLockNotAcquired, key)
	}
	return &Lock{redis: l.redis, key: key, token: token, ttl: ttl}, nil
}

// AcquireBlocking polls for the lock until it succeeds, the wait budget
// runs out, or the context is canceled.
func (l *Locker) AcquireBlocking(ctx context.Context, key string, ttl, wait, retry time.Duration) (*Lock, error) {
	deadline := time.Now().Add(wait)
	for {
		lock, err := l.Acquire(ctx, key, ttl)
		if err == nil {
			return lock, nil
		}
		if !errors.Is(err, ErrLockNotAcquired) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: gave up after %s", ErrLockNotAcquired, wait)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retry):
		}
	}
}

// Renew extends the lock's TTL. Returns ErrLockLost when the key no
// longer carries this lock's token.
func (lk *Lock) Renew(ctx context.Context) error {
	res, err := lk.redis.Eval(ctx, renewScript, []string{lk.key}, lk.token, lk.ttl.Milliseconds()).Result()
	if err != nil {
		return fmt.Errorf("failed to renew lock %s: %w", lk.key, err)
	}
	if n, ok := res.(int64); !ok || n == 0 {
		return fmt.Errorf("%w: %s", ErrLockLost, lk.key)
	}
	return nil
}

// StillHeld reports whether the key still carries this lock's token.
func (lk *Lock) StillHeld(ctx context.Context) (bool, error) {
	val, err := lk.redis.Get(ctx, lk.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check lock %s: %w", lk.key, err)
	}
	return val == lk.token, nil
}

// Release deletes the lock if this holder still owns it. The delete runs
// on an uncancelable context so a canceled request cannot leak the lock
// until TTL expiry.
func (lk *Lock) Release(ctx context.Context) error {
	base := context.WithoutCancel(ctx)
	relCtx, cancel := context.WithTimeout(base, 5*time.Second)
	defer cancel()

	res, err := lk.redis.Eval(relCtx, releaseScript, []string{lk.key}, lk.token).Result()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", lk.key, err)
	}
	if n, ok := res.(int64); !ok || n == 0 {
		return fmt.Errorf("%w: %s", ErrLockLost, lk.key)
	}
	return nil
}
