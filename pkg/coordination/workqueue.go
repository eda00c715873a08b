package coordination

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// ErrQueueEmpty means a pop found no pending batches.
var ErrQueueEmpty = errors.New("work queue empty")

// batchSeparator packs a batch of buffer-entry ids into one list element
// so a batch is claimed atomically by a single LPOP.
const batchSeparator = "::"

// WorkQueue is a FIFO of flush batches for one (project, user, blob
// type) triple.
type WorkQueue struct {
	redis RedisInterface
	key   string
}

// NewWorkQueue creates a queue handle for the given key (see
// FlushQueueKey).
func NewWorkQueue(r RedisInterface, key string) *WorkQueue {
	return &WorkQueue{redis: r, key: key}
}

// Key returns the queue's Redis key.
func (q *WorkQueue) Key() string {
	return q.key
}

// Push appends one batch of entry ids to the tail of the queue.
func (q *WorkQueue) Push(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	packed := strings.Join(ids, batchSeparator)
	if err := q.redis.RPush(ctx, q.key, packed).Err(); err != nil {
		return fmt.Errorf("failed to push batch to %s: %w", q.key, err)
	}
	return nil
}

// Pop claims the oldest batch. Returns ErrQueueEmpty when none is
// pending.
func (q *WorkQueue) Pop(ctx context.Context) ([]string, error) {
	packed, err := q.redis.LPop(ctx, q.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrQueueEmpty
		}
		return nil, fmt.Errorf("failed to pop batch from %s: %w", q.key, err)
	}
	if packed == "" {
		return nil, nil
	}
	return strings.Split(packed, batchSeparator), nil
}

// Remove deletes the newest queued copy of exactly this batch, matched
// by its packed payload. Batches pushed by other holders in the meantime
// are left in place.
func (q *WorkQueue) Remove(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	packed := strings.Join(ids, batchSeparator)
	if err := q.redis.LRem(ctx, q.key, -1, packed).Err(); err != nil {
		return fmt.Errorf("failed to remove batch from %s: %w", q.key, err)
	}
	return nil
}

// Len returns the number of pending batches.
func (q *WorkQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.redis.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue length of %s: %w", q.key, err)
	}
	return n, nil
}
