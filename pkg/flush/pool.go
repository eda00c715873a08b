package flush

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"
)

// Pool runs the background side of the scheduler: a fixed set of runner
// goroutines servicing the dispatch queue, plus the sweeper that
// reschedules stale buffers and recovers orphaned claims.
type Pool struct {
	scheduler *Scheduler
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	started   bool
}

// NewPool creates a Pool over the scheduler's dispatch queue.
func NewPool(scheduler *Scheduler) *Pool {
	return &Pool{
		scheduler: scheduler,
		stopCh:    make(chan struct{}),
	}
}

// Start spawns the runner goroutines and the sweeper. Safe to call more
// than once; duplicates are no-ops.
func (p *Pool) Start(ctx context.Context) {
	if p.started {
		slog.Warn("flush pool already started, ignoring duplicate Start call")
		return
	}
	p.started = true

	cfg := p.scheduler.cfg
	slog.Info("starting flush pool",
		"runner_count", cfg.RunnerCount, "sweep_interval", cfg.SweepInterval)

	for i := 0; i < cfg.RunnerCount; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.runWorker(ctx, id)
		}(i)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runSweeper(ctx)
	}()
}

// Stop signals everything to exit and waits within the graceful
// shutdown budget. Runners finish their current drain before exiting.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("flush pool stopped")
	case <-time.After(p.scheduler.cfg.GracefulShutdownTimeout):
		slog.Warn("flush pool shutdown timed out; in-flight batches recover via lock TTL")
	}
}

func (p *Pool) runWorker(ctx context.Context, id int) {
	log := slog.With("flush_runner", id)
	log.Debug("flush runner started")
	for {
		select {
		case <-p.stopCh:
			log.Debug("flush runner shutting down")
			return
		case <-ctx.Done():
			return
		case target := <-p.scheduler.dispatch:
			p.scheduler.RunBackground(ctx, target)
		}
	}
}

// runSweeper periodically reschedules users whose oldest idle entry
// outlived the flush interval and returns orphaned processing entries to
// idle. Jitter keeps replicas from sweeping in lockstep.
func (p *Pool) runSweeper(ctx context.Context) {
	cfg := p.scheduler.cfg
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(sweepInterval(cfg.SweepInterval)):
		}
		p.sweep(ctx)
	}
}

func (p *Pool) sweep(ctx context.Context) {
	cfg := p.scheduler.cfg

	if n, err := p.scheduler.buffers.ResetOrphanedProcessing(ctx, time.Now().Add(-cfg.OrphanThreshold)); err != nil {
		slog.Error("orphan reset failed", "error", err)
	} else if n > 0 {
		slog.Info("recovered orphaned buffer entries", "count", n)
	}

	targets, err := p.scheduler.buffers.StaleIdleTargets(ctx, time.Now().Add(-cfg.BufferFlushInterval), 100)
	if err != nil {
		slog.Error("stale buffer scan failed", "error", err)
		return
	}
	for _, t := range targets {
		if err := p.scheduler.ScheduleBackground(ctx, t); err != nil {
			slog.Error("failed to schedule stale buffer flush",
				"error", err, "project_id", t.ProjectID, "user_id", t.UserID)
		}
	}
	if len(targets) > 0 {
		slog.Info("scheduled stale buffer flushes", "count", len(targets))
	}
}

// sweepInterval returns the interval with up to 10% jitter.
func sweepInterval(base time.Duration) time.Duration {
	if base <= 0 {
		return time.Minute
	}
	jitter := time.Duration(rand.Int64N(int64(base) / 10))
	return base + jitter
}
