package flush

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sekai-app/sekai-memobase/pkg/config"
	"github.com/sekai-app/sekai-memobase/pkg/coordination"
	"github.com/sekai-app/sekai-memobase/pkg/models"
	"github.com/sekai-app/sekai-memobase/pkg/pipeline"
	"github.com/sekai-app/sekai-memobase/pkg/services"
)

var testTarget = services.FlushTarget{ProjectID: "proj", UserID: "user-1", BlobType: models.BlobTypeChat}

type fakeBuffers struct {
	mu       sync.Mutex
	idleSum  int
	idle     []string
	released [][]string
	stale    []services.FlushTarget
}

func (b *fakeBuffers) IdleTokenSum(context.Context, string, string, models.BlobType) (int, error) {
	return b.idleSum, nil
}

func (b *fakeBuffers) ClaimIdle(context.Context, string, string, models.BlobType) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := b.idle
	b.idle = nil
	return ids, nil
}

func (b *fakeBuffers) ReleaseClaim(_ context.Context, _ string, ids []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.released = append(b.released, ids)
	b.idle = append(b.idle, ids...)
	return nil
}

func (b *fakeBuffers) StaleIdleTargets(context.Context, time.Time, int) ([]services.FlushTarget, error) {
	return b.stale, nil
}

func (b *fakeBuffers) ResetOrphanedProcessing(context.Context, time.Time) (int64, error) {
	return 0, nil
}

type fakeRunner struct {
	mu      sync.Mutex
	batches [][]string
	results []*models.FlushResult
	errs    []error
}

func (r *fakeRunner) ProcessBatch(_ context.Context, _ services.FlushTarget, ids []string, _ *config.ProfileRules) (*models.FlushResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, ids)
	i := len(r.batches) - 1
	if i < len(r.errs) && r.errs[i] != nil {
		return nil, r.errs[i]
	}
	if i < len(r.results) {
		return r.results[i], nil
	}
	return &models.FlushResult{}, nil
}

func (r *fakeRunner) processed() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]string, len(r.batches))
	copy(out, r.batches)
	return out
}

type fakeRules struct{}

func (fakeRules) RulesFor(context.Context, string) (*config.ProfileRules, error) {
	return config.DefaultProfileDefaults().ResolveProfileRules("")
}

func newTestScheduler(t *testing.T, buffers *fakeBuffers, runner *fakeRunner) (*Scheduler, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := coordination.NewStoreFromRedis(coordination.NewRedisFromClient(client))
	t.Cleanup(func() { _ = store.Close() })

	cfg := config.DefaultFlushConfig()
	cfg.LockWaitTimeout = 500 * time.Millisecond
	cfg.LockRetryInterval = 10 * time.Millisecond
	cfg.MaxTotalTime = 5 * time.Second
	return NewScheduler(buffers, store, runner, fakeRules{}, cfg), mr
}

func TestNotifyEnqueueBelowThreshold(t *testing.T) {
	buffers := &fakeBuffers{idleSum: 10, idle: []string{"e1"}}
	runner := &fakeRunner{}
	s, _ := newTestScheduler(t, buffers, runner)

	scheduled, err := s.NotifyEnqueue(context.Background(), testTarget)
	require.NoError(t, err)
	assert.False(t, scheduled)
	assert.Empty(t, buffers.released)
}

func TestNotifyEnqueueSchedulesOverThreshold(t *testing.T) {
	buffers := &fakeBuffers{idleSum: 5000, idle: []string{"e1", "e2"}}
	runner := &fakeRunner{}
	s, _ := newTestScheduler(t, buffers, runner)
	ctx := context.Background()

	scheduled, err := s.NotifyEnqueue(ctx, testTarget)
	require.NoError(t, err)
	assert.True(t, scheduled)

	// The batch sits in the work queue and the target in dispatch.
	queue := s.store.Queue(coordination.FlushQueueKey("proj", "user-1", "chat"))
	n, err := queue.Len(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	select {
	case got := <-s.dispatch:
		assert.Equal(t, testTarget, got)
	default:
		t.Fatal("expected a dispatched target")
	}
}

func TestScheduleBackgroundDispatchOverflowReleases(t *testing.T) {
	buffers := &fakeBuffers{idle: []string{"e1"}}
	runner := &fakeRunner{}
	s, _ := newTestScheduler(t, buffers, runner)
	s.dispatch = make(chan services.FlushTarget) // unbuffered, nobody reading
	ctx := context.Background()

	require.NoError(t, s.ScheduleBackground(ctx, testTarget))

	require.Len(t, buffers.released, 1)
	assert.Equal(t, []string{"e1"}, buffers.released[0])
	queue := s.store.Queue(coordination.FlushQueueKey("proj", "user-1", "chat"))
	n, err := queue.Len(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}

func TestScheduleBackgroundOverflowKeepsOtherBatches(t *testing.T) {
	buffers := &fakeBuffers{idle: []string{"e9"}}
	runner := &fakeRunner{}
	s, _ := newTestScheduler(t, buffers, runner)
	s.dispatch = make(chan services.FlushTarget) // unbuffered, nobody reading
	ctx := context.Background()

	// A batch queued by another holder is already pending.
	queue := s.store.Queue(coordination.FlushQueueKey("proj", "user-1", "chat"))
	require.NoError(t, queue.Push(ctx, []string{"e1", "e2"}))

	require.NoError(t, s.ScheduleBackground(ctx, testTarget))

	batch, err := queue.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"e1", "e2"}, batch, "only our own batch is rolled back")
	_, err = queue.Pop(ctx)
	assert.ErrorIs(t, err, coordination.ErrQueueEmpty)
}

func TestFlushNowRunsOneBatch(t *testing.T) {
	buffers := &fakeBuffers{idle: []string{"e1", "e2"}}
	runner := &fakeRunner{results: []*models.FlushResult{{EventID: "ev-1"}}}
	s, _ := newTestScheduler(t, buffers, runner)

	result, err := s.FlushNow(context.Background(), testTarget)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "ev-1", result.EventID)
	assert.Equal(t, [][]string{{"e1", "e2"}}, runner.processed())

	// Lock released afterwards.
	_, err = s.store.Locks.Acquire(context.Background(), coordination.UserLockKey("proj", "user-1", "chat"), time.Minute)
	assert.NoError(t, err)
}

func TestFlushNowEmptyBuffer(t *testing.T) {
	buffers := &fakeBuffers{}
	runner := &fakeRunner{}
	s, _ := newTestScheduler(t, buffers, runner)

	result, err := s.FlushNow(context.Background(), testTarget)
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Empty(t, runner.processed())
}

func TestFlushNowConflictsWithHeldLock(t *testing.T) {
	buffers := &fakeBuffers{idle: []string{"e1"}}
	runner := &fakeRunner{}
	s, _ := newTestScheduler(t, buffers, runner)
	ctx := context.Background()

	lock, err := s.store.Locks.Acquire(ctx, coordination.UserLockKey("proj", "user-1", "chat"), time.Minute)
	require.NoError(t, err)
	defer func() { _ = lock.Release(ctx) }()

	_, err = s.FlushNow(ctx, testTarget)
	assert.ErrorIs(t, err, ErrFlushInProgress)
}

func TestFlushNowDrainsQueuedBatchesFirst(t *testing.T) {
	buffers := &fakeBuffers{idle: []string{"e3"}}
	runner := &fakeRunner{}
	s, _ := newTestScheduler(t, buffers, runner)
	ctx := context.Background()

	queue := s.store.Queue(coordination.FlushQueueKey("proj", "user-1", "chat"))
	require.NoError(t, queue.Push(ctx, []string{"e1", "e2"}))

	_, err := s.FlushNow(ctx, testTarget)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"e1", "e2"}, {"e3"}}, runner.processed())
}

func TestRunBackgroundDrainsQueue(t *testing.T) {
	buffers := &fakeBuffers{}
	runner := &fakeRunner{}
	s, _ := newTestScheduler(t, buffers, runner)
	ctx := context.Background()

	queue := s.store.Queue(coordination.FlushQueueKey("proj", "user-1", "chat"))
	require.NoError(t, queue.Push(ctx, []string{"a"}))
	require.NoError(t, queue.Push(ctx, []string{"b", "c"}))

	s.RunBackground(ctx, testTarget)

	assert.Equal(t, [][]string{{"a"}, {"b", "c"}}, runner.processed())
	n, err := queue.Len(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}

func TestRunBackgroundStopsOnConsecutiveErrors(t *testing.T) {
	buffers := &fakeBuffers{}
	boom := errors.New("boom")
	runner := &fakeRunner{errs: []error{boom, boom, boom, boom, boom}}
	s, _ := newTestScheduler(t, buffers, runner)
	s.cfg.MaxConsecutiveErrors = 3
	ctx := context.Background()

	queue := s.store.Queue(coordination.FlushQueueKey("proj", "user-1", "chat"))
	for i := 0; i < 5; i++ {
		require.NoError(t, queue.Push(ctx, []string{"x"}))
	}

	s.RunBackground(ctx, testTarget)

	assert.Len(t, runner.processed(), 3)
}

func TestRunBackgroundSkipsEmptyBatches(t *testing.T) {
	buffers := &fakeBuffers{}
	runner := &fakeRunner{errs: []error{pipeline.ErrEmptyBatch, nil}}
	s, _ := newTestScheduler(t, buffers, runner)
	ctx := context.Background()

	queue := s.store.Queue(coordination.FlushQueueKey("proj", "user-1", "chat"))
	require.NoError(t, queue.Push(ctx, []string{"gone"}))
	require.NoError(t, queue.Push(ctx, []string{"live"}))

	s.RunBackground(ctx, testTarget)
	assert.Len(t, runner.processed(), 2)
}
