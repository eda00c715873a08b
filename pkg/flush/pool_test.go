package flush

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sekai-app/sekai-memobase/pkg/coordination"
	"github.com/sekai-app/sekai-memobase/pkg/services"
)

func TestPoolServicesDispatchedTargets(t *testing.T) {
	buffers := &fakeBuffers{idleSum: 5000, idle: []string{"e1", "e2"}}
	runner := &fakeRunner{}
	s, _ := newTestScheduler(t, buffers, runner)

	pool := NewPool(s)
	pool.Start(context.Background())
	defer pool.Stop()

	scheduled, err := s.NotifyEnqueue(context.Background(), testTarget)
	require.NoError(t, err)
	require.True(t, scheduled)

	require.Eventually(t, func() bool {
		return len(runner.processed()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"e1", "e2"}, runner.processed()[0])

	queue := s.store.Queue(coordination.FlushQueueKey("proj", "user-1", "chat"))
	n, err := queue.Len(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}

func TestPoolStopIsIdempotent(t *testing.T) {
	s, _ := newTestScheduler(t, &fakeBuffers{}, &fakeRunner{})
	pool := NewPool(s)
	pool.Start(context.Background())
	pool.Start(context.Background()) // duplicate is a no-op
	pool.Stop()
	pool.Stop()
}

func TestSweepSchedulesStaleTargets(t *testing.T) {
	buffers := &fakeBuffers{
		idle:  []string{"e1"},
		stale: []services.FlushTarget{testTarget},
	}
	runner := &fakeRunner{}
	s, _ := newTestScheduler(t, buffers, runner)
	pool := NewPool(s)

	pool.sweep(context.Background())

	select {
	case got := <-s.dispatch:
		assert.Equal(t, testTarget, got)
	default:
		t.Fatal("expected sweeper to dispatch the stale target")
	}
}
