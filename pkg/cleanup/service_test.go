package cleanup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sekai-app/sekai-memobase/pkg/config"
)

type fakeBufferPurger struct {
	mu      sync.Mutex
	cutoffs []time.Time
}

func (f *fakeBufferPurger) PurgeDone(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, cutoff)
	return 3, nil
}

func (f *fakeBufferPurger) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cutoffs)
}

type fakeEventPurger struct {
	mu      sync.Mutex
	cutoffs []time.Time
}

func (f *fakeEventPurger) PurgeOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, cutoff)
	return 0, nil
}

func (f *fakeEventPurger) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cutoffs)
}

func TestServiceRunsImmediatelyOnStart(t *testing.T) {
	buffers := &fakeBufferPurger{}
	events := &fakeEventPurger{}
	svc := NewService(&config.RetentionConfig{
		DoneEntryRetention: 24 * time.Hour,
		EventRetention:     48 * time.Hour,
		CleanupInterval:    time.Hour,
	}, buffers, events)

	svc.Start(context.Background())
	defer svc.Stop()

	require.Eventually(t, func() bool {
		return buffers.calls() == 1 && events.calls() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestServiceSkipsDisabledPolicies(t *testing.T) {
	buffers := &fakeBufferPurger{}
	events := &fakeEventPurger{}
	svc := NewService(&config.RetentionConfig{
		DoneEntryRetention: 24 * time.Hour,
		EventRetention:     0, // events are kept forever
		CleanupInterval:    time.Hour,
	}, buffers, events)

	svc.Start(context.Background())
	require.Eventually(t, func() bool {
		return buffers.calls() == 1
	}, time.Second, 10*time.Millisecond)
	svc.Stop()

	assert.Zero(t, events.calls())
}

func TestServiceTicks(t *testing.T) {
	buffers := &fakeBufferPurger{}
	events := &fakeEventPurger{}
	svc := NewService(&config.RetentionConfig{
		DoneEntryRetention: time.Hour,
		CleanupInterval:    20 * time.Millisecond,
	}, buffers, events)

	svc.Start(context.Background())
	defer svc.Stop()

	require.Eventually(t, func() bool {
		return buffers.calls() >= 3
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStopIsIdempotent(t *testing.T) {
	svc := NewService(&config.RetentionConfig{CleanupInterval: time.Hour},
		&fakeBufferPurger{}, &fakeEventPurger{})
	svc.Start(context.Background())
	svc.Start(context.Background()) // duplicate is a no-op
	svc.Stop()
	svc.Stop()
}
