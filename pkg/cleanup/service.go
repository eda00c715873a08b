// Package cleanup provides data retention for the processing
// bookkeeping: purging consumed buffer entries and, when configured,
// expiring old events.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/sekai-app/sekai-memobase/pkg/config"
)

// BufferPurger removes consumed buffer entries past the cutoff.
type BufferPurger interface {
	PurgeDone(ctx context.Context, cutoff time.Time) (int64, error)
}

// EventPurger removes events past the cutoff.
type EventPurger interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Service periodically enforces retention policies:
//   - Purges done buffer entries past their retention window
//   - Drops events older than the event retention window, if one is set
//
// All operations are idempotent and safe to run from multiple pods.
type Service struct {
	config  *config.RetentionConfig
	buffers BufferPurger
	events  EventPurger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(cfg *config.RetentionConfig, buffers BufferPurger, events EventPurger) *Service {
	return &Service{
		config:  cfg,
		buffers: buffers,
		events:  events,
	}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"done_entry_retention", s.config.DoneEntryRetention,
		"event_retention", s.config.EventRetention,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.purgeDoneEntries(ctx)
	s.purgeOldEvents(ctx)
}

func (s *Service) purgeDoneEntries(ctx context.Context) {
	if s.config.DoneEntryRetention <= 0 {
		return
	}
	count, err := s.buffers.PurgeDone(ctx, time.Now().Add(-s.config.DoneEntryRetention))
	if err != nil {
		slog.Error("Retention: buffer entry purge failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: purged done buffer entries", "count", count)
	}
}

func (s *Service) purgeOldEvents(ctx context.Context) {
	if s.config.EventRetention <= 0 {
		return
	}
	count, err := s.events.PurgeOlderThan(ctx, time.Now().Add(-s.config.EventRetention))
	if err != nil {
		slog.Error("Retention: event purge failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: purged expired events", "count", count)
	}
}
