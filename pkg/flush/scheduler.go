// Package flush decides when user buffers get consolidated and runs the
// background machinery that does it: the size trigger on enqueue, the
// synchronous caller-driven flush, the per-user work queue drain under a
// distributed lock, and the idle sweeper.
package flush

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sekai-app/sekai-memobase/pkg/config"
	"github.com/sekai-app/sekai-memobase/pkg/coordination"
	"github.com/sekai-app/sekai-memobase/pkg/models"
	"github.com/sekai-app/sekai-memobase/pkg/pipeline"
	"github.com/sekai-app/sekai-memobase/pkg/services"
)

// ErrFlushInProgress means another holder owns the user's flush lock and
// the caller chose not to wait any longer.
var ErrFlushInProgress = errors.New("flush already in progress")

// Runner executes one claimed batch. Implemented by pipeline.Pipeline.
type Runner interface {
	ProcessBatch(ctx context.Context, target services.FlushTarget, entryIDs []string, rules *config.ProfileRules) (*models.FlushResult, error)
}

// BufferStore is the buffer surface the scheduler claims from.
type BufferStore interface {
	IdleTokenSum(ctx context.Context, projectID, userID string, blobType models.BlobType) (int, error)
	ClaimIdle(ctx context.Context, projectID, userID string, blobType models.BlobType) ([]string, error)
	ReleaseClaim(ctx context.Context, projectID string, ids []string) error
	StaleIdleTargets(ctx context.Context, cutoff time.Time, limit int) ([]services.FlushTarget, error)
	ResetOrphanedProcessing(ctx context.Context, cutoff time.Time) (int64, error)
}

// RulesResolver yields the effective per-project profile rules.
// Implemented by the project service.
type RulesResolver interface {
	RulesFor(ctx context.Context, projectID string) (*config.ProfileRules, error)
}

// Scheduler owns the flush triggers and the lock-guarded drain loop.
// Dispatch hands targets to the Pool's runner goroutines.
type Scheduler struct {
	buffers  BufferStore
	store    *coordination.Store
	runner   Runner
	rules    RulesResolver
	cfg      *config.FlushConfig
	dispatch chan services.FlushTarget
}

// NewScheduler creates a Scheduler. Start the accompanying Pool to
// service the dispatch queue.
func NewScheduler(buffers BufferStore, store *coordination.Store, runner Runner, rules RulesResolver, cfg *config.FlushConfig) *Scheduler {
	return &Scheduler{
		buffers:  buffers,
		store:    store,
		runner:   runner,
		rules:    rules,
		cfg:      cfg,
		dispatch: make(chan services.FlushTarget, cfg.DispatchBuffer),
	}
}

// NotifyEnqueue evaluates the size trigger after a blob enters the
// buffer. When the idle token sum exceeds the threshold the whole idle
// set is scheduled as a background batch. Returns whether a flush was
// scheduled.
func (s *Scheduler) NotifyEnqueue(ctx context.Context, target services.FlushTarget) (bool, error) {
	sum, err := s.buffers.IdleTokenSum(ctx, target.ProjectID, target.UserID, target.BlobType)
	if err != nil {
		return false, err
	}
	if sum <= s.cfg.MaxBufferTokens {
		return false, nil
	}
	if err := s.ScheduleBackground(ctx, target); err != nil {
		return false, err
	}
	return true, nil
}

// ScheduleBackground claims the user's idle entries, appends them to the
// per-user work queue, and hands the target to the runner pool. When the
// pool's dispatch queue is full the claim is undone so a later trigger
// can retry.
func (s *Scheduler) ScheduleBackground(ctx context.Context, target services.FlushTarget) error {
	ids, err := s.buffers.ClaimIdle(ctx, target.ProjectID, target.UserID, target.BlobType)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	queue := s.store.Queue(coordination.FlushQueueKey(target.ProjectID, target.UserID, string(target.BlobType)))
	if err := queue.Push(ctx, ids); err != nil {
		if relErr := s.buffers.ReleaseClaim(ctx, target.ProjectID, ids); relErr != nil {
			slog.Error("failed to release claim after queue push failure",
				"error", relErr, "project_id", target.ProjectID, "user_id", target.UserID)
		}
		return err
	}

	select {
	case s.dispatch <- target:
		return nil
	default:
		// Pool saturated. Drop the batch back to idle; the sweeper or the
		// next enqueue will reschedule. Remove matches our exact payload so
		// a batch queued concurrently by another holder is untouched.
		if remErr := queue.Remove(ctx, ids); remErr != nil {
			slog.Error("failed to unqueue batch after dispatch overflow",
				"error", remErr, "project_id", target.ProjectID, "user_id", target.UserID)
		}
		if relErr := s.buffers.ReleaseClaim(ctx, target.ProjectID, ids); relErr != nil {
			slog.Error("failed to release claim after dispatch overflow",
				"error", relErr, "project_id", target.ProjectID, "user_id", target.UserID)
		}
		slog.Warn("flush dispatch queue full, batch deferred",
			"project_id", target.ProjectID, "user_id", target.UserID, "blob_type", target.BlobType)
		return nil
	}
}

// FlushNow runs exactly one batch synchronously: it blocks for the
// user's flush lock, claims the idle set, and processes it in the
// caller's goroutine. Returns ErrFlushInProgress when the lock cannot be
// obtained within the wait budget, and a nil result when the buffer was
// empty.
func (s *Scheduler) FlushNow(ctx context.Context, target services.FlushTarget) (*models.FlushResult, error) {
	lockKey := coordination.UserLockKey(target.ProjectID, target.UserID, string(target.BlobType))
	lock, err := s.store.Locks.AcquireBlocking(ctx, lockKey, s.cfg.LockTTL, s.cfg.LockWaitTimeout, s.cfg.LockRetryInterval)
	if err != nil {
		if errors.Is(err, coordination.ErrLockNotAcquired) {
			return nil, fmt.Errorf("%w: %s/%s", ErrFlushInProgress, target.UserID, target.BlobType)
		}
		return nil, err
	}
	defer s.releaseLock(ctx, lock)

	// Pending background batches drain first so commits keep their
	// selection order.
	queue := s.store.Queue(coordination.FlushQueueKey(target.ProjectID, target.UserID, string(target.BlobType)))
	result, err := s.drainQueue(ctx, target, queue, lock)
	if err != nil {
		return nil, err
	}

	ids, err := s.buffers.ClaimIdle(ctx, target.ProjectID, target.UserID, target.BlobType)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return result, nil
	}

	rules, err := s.rules.RulesFor(ctx, target.ProjectID)
	if err != nil {
		s.undoClaim(ctx, target.ProjectID, ids)
		return nil, err
	}
	res, err := s.runner.ProcessBatch(ctx, target, ids, rules)
	if err != nil {
		if errors.Is(err, pipeline.ErrEmptyBatch) {
			return result, nil
		}
		return nil, err
	}
	return res, nil
}

// RunBackground is one background drain of a dispatched target: take the
// lock (skipping when another holder already drains this user), empty
// the work queue within the configured bounds, release.
func (s *Scheduler) RunBackground(ctx context.Context, target services.FlushTarget) {
	lockKey := coordination.UserLockKey(target.ProjectID, target.UserID, string(target.BlobType))
	lock, err := s.store.Locks.Acquire(ctx, lockKey, s.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, coordination.ErrLockNotAcquired) {
			// The holder will observe our queued batch.
			return
		}
		slog.Error("background flush lock failed",
			"error", err, "project_id", target.ProjectID, "user_id", target.UserID)
		return
	}
	defer s.releaseLock(ctx, lock)

	queue := s.store.Queue(coordination.FlushQueueKey(target.ProjectID, target.UserID, string(target.BlobType)))
	if _, err := s.drainQueue(ctx, target, queue, lock); err != nil {
		slog.Error("background flush drain failed",
			"error", err, "project_id", target.ProjectID, "user_id", target.UserID)
	}
}

// drainQueue pops and processes queued batches under the held lock until
// the queue empties or a run bound trips. Returns the last non-nil
// result.
func (s *Scheduler) drainQueue(ctx context.Context, target services.FlushTarget, queue *coordination.WorkQueue, lock *coordination.Lock) (*models.FlushResult, error) {
	var (
		last              *models.FlushResult
		consecutiveErrors int
		deadline          = time.Now().Add(s.cfg.MaxTotalTime)
	)
	for i := 0; i < s.cfg.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return last, err
		}
		if time.Now().After(deadline) {
			slog.Warn("flush run hit total-time budget",
				"project_id", target.ProjectID, "user_id", target.UserID)
			return last, nil
		}

		ids, err := queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, coordination.ErrQueueEmpty) {
				return last, nil
			}
			return last, err
		}

		rules, err := s.rules.RulesFor(ctx, target.ProjectID)
		if err != nil {
			s.undoClaim(ctx, target.ProjectID, ids)
			return last, err
		}

		result, err := s.runner.ProcessBatch(ctx, target, ids, rules)
		switch {
		case err == nil:
			last = result
			consecutiveErrors = 0
		case errors.Is(err, pipeline.ErrEmptyBatch):
			consecutiveErrors = 0
		default:
			consecutiveErrors++
			slog.Error("flush batch failed",
				"error", err, "project_id", target.ProjectID, "user_id", target.UserID,
				"consecutive_errors", consecutiveErrors)
			if consecutiveErrors >= s.cfg.MaxConsecutiveErrors {
				return last, fmt.Errorf("stopping after %d consecutive batch failures: %w", consecutiveErrors, err)
			}
		}

		if err := lock.Renew(ctx); err != nil {
			// Without the lock we may no longer advance this user.
			return last, err
		}
	}
	slog.Warn("flush run hit iteration budget",
		"project_id", target.ProjectID, "user_id", target.UserID, "max_iterations", s.cfg.MaxIterations)
	return last, nil
}

func (s *Scheduler) undoClaim(ctx context.Context, projectID string, ids []string) {
	if err := s.buffers.ReleaseClaim(ctx, projectID, ids); err != nil {
		slog.Error("failed to release claimed entries", "error", err, "project_id", projectID)
	}
}

func (s *Scheduler) releaseLock(ctx context.Context, lock *coordination.Lock) {
	if err := lock.Release(ctx); err != nil && !errors.Is(err, coordination.ErrLockLost) {
		slog.Warn("flush lock release failed", "error", err, "key", lock.Key())
	}
}
