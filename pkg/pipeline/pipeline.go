// Package pipeline runs the consolidation state machine one flush
// executes: truncate the batch, extract facts, merge them into the
// existing profile, reorganize saturated topics, compact over-long
// slots, and commit the resulting delta together with an event record.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sekai-app/sekai-memobase/pkg/config"
	"github.com/sekai-app/sekai-memobase/pkg/llm"
	"github.com/sekai-app/sekai-memobase/pkg/models"
	"github.com/sekai-app/sekai-memobase/pkg/prompts"
	"github.com/sekai-app/sekai-memobase/pkg/services"
	"github.com/sekai-app/sekai-memobase/pkg/tokens"
)

// ErrEmptyBatch marks a flush whose batch holds nothing to process.
var ErrEmptyBatch = errors.New("empty flush batch")

// stageTemperature is shared by the extract, merge, and organize calls.
var stageTemperature = 0.2

// BufferStore is the buffer surface the pipeline advances.
type BufferStore interface {
	EntriesForFlush(ctx context.Context, projectID, userID string, blobType models.BlobType, ids []string, status models.BufferStatus) ([]models.BufferedBlob, error)
	MarkBatch(ctx context.Context, projectID string, ids []string, from, to models.BufferStatus) error
	ReleaseClaim(ctx context.Context, projectID string, ids []string) error
}

// ProfileStore is the profile surface the pipeline reads and commits.
type ProfileStore interface {
	List(ctx context.Context, projectID, userID string, cacheTTL time.Duration) ([]models.ProfileSlot, error)
	CommitDelta(ctx context.Context, projectID, userID string, delta *services.ProfileDelta) (added, updated, deleted []string, err error)
}

// EventStore appends the flush outcome to the event log.
type EventStore interface {
	Append(ctx context.Context, projectID, userID string, data models.EventData) (string, error)
}

// BlobStore removes consumed chat blobs when the project opted out of
// persisting them.
type BlobStore interface {
	DeleteMany(ctx context.Context, projectID, userID string, ids []string) error
}

// Pipeline is the consolidation state machine. Safe for concurrent use;
// per-user serialization is the scheduler's job.
type Pipeline struct {
	buffers  BufferStore
	profiles ProfileStore
	events   EventStore
	blobs    BlobStore
	gateway  llm.Gateway
	counter  services.TokenCounter
	cfg      *config.FlushConfig
}

// New creates a Pipeline.
func New(buffers BufferStore, profiles ProfileStore, events EventStore, blobs BlobStore, gateway llm.Gateway, counter services.TokenCounter, cfg *config.FlushConfig) *Pipeline {
	return &Pipeline{
		buffers:  buffers,
		profiles: profiles,
		events:   events,
		blobs:    blobs,
		gateway:  gateway,
		counter:  counter,
		cfg:      cfg,
	}
}

type sizedEntry struct{ models.BufferedBlob }

func (e sizedEntry) Tokens() int { return e.TokenSize }

// ProcessBatch runs one flush over the given claimed buffer entries.
// Entries dropped by truncation return to idle; processed entries end
// done on success and failed on error. The caller must hold the user's
// flush lock.
func (p *Pipeline) ProcessBatch(ctx context.Context, target services.FlushTarget, entryIDs []string, rules *config.ProfileRules) (*models.FlushResult, error) {
	entries, err := p.buffers.EntriesForFlush(ctx, target.ProjectID, target.UserID, target.BlobType, entryIDs, models.BufferStatusProcessing)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrEmptyBatch
	}

	sized := make([]sizedEntry, len(entries))
	for i, e := range entries {
		sized[i] = sizedEntry{e}
	}
	kept := tokens.NewestSuffix(sized, p.cfg.MaxProcessTokens)

	if dropped := len(entries) - len(kept); dropped > 0 {
		ids := make([]string, 0, dropped)
		for _, e := range sized[:dropped] {
			ids = append(ids, e.EntryID)
		}
		if err := p.buffers.ReleaseClaim(ctx, target.ProjectID, ids); err != nil {
			slog.Warn("failed to release truncated entries",
				"error", err, "project_id", target.ProjectID, "user_id", target.UserID)
		}
	}
	if len(kept) == 0 {
		return nil, ErrEmptyBatch
	}

	keptIDs := make([]string, len(kept))
	blobIDs := make([]string, len(kept))
	blobs := make([]models.Blob, len(kept))
	for i, e := range kept {
		keptIDs[i] = e.EntryID
		blobIDs[i] = e.Blob.ID
		blobs[i] = e.Blob
	}

	result, err := p.run(ctx, target, blobs, rules)
	if err != nil {
		if markErr := p.buffers.MarkBatch(ctx, target.ProjectID, keptIDs, models.BufferStatusProcessing, models.BufferStatusFailed); markErr != nil {
			slog.Error("failed to mark flush batch failed",
				"error", markErr, "project_id", target.ProjectID, "user_id", target.UserID)
		}
		return nil, err
	}

	if err := p.buffers.MarkBatch(ctx, target.ProjectID, keptIDs, models.BufferStatusProcessing, models.BufferStatusDone); err != nil {
		// The delta is committed; the orphan sweeper will reclaim the
		// entries if this mark is lost.
		slog.Error("failed to mark flush batch done",
			"error", err, "project_id", target.ProjectID, "user_id", target.UserID)
	}

	if target.BlobType == models.BlobTypeChat && !rules.PersistChatBlobs {
		if err := p.blobs.DeleteMany(ctx, target.ProjectID, target.UserID, blobIDs); err != nil {
			slog.Warn("failed to delete consumed chat blobs",
				"error", err, "project_id", target.ProjectID, "user_id", target.UserID)
		}
	}
	return result, nil
}

// run executes the LLM stages and the commit over an already-truncated
// batch.
func (p *Pipeline) run(ctx context.Context, target services.FlushTarget, blobs []models.Blob, rules *config.ProfileRules) (*models.FlushResult, error) {
	transcript := prompts.RenderTranscript(blobs)
	transcriptTokens := 0
	for i := range blobs {
		transcriptTokens += p.counter.Count(blobs[i].Text())
	}

	slots, err := p.profiles.List(ctx, target.ProjectID, target.UserID, rules.CacheTTL)
	if err != nil {
		return nil, err
	}

	// Summarize-chat is independent of the profile path; run it while
	// the merge calls are in flight.
	var (
		tip    string
		tipErr error
		wg     sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		tip, tipErr = p.eventTip(ctx, target.ProjectID, rules, transcript, transcriptTokens)
	}()

	delta, deltaEntries, profileErr := p.profilePath(ctx, target.ProjectID, slots, transcript, rules)
	wg.Wait()
	if profileErr != nil {
		return nil, profileErr
	}
	if tipErr != nil {
		slog.Warn("session summary failed, carrying transcript",
			"error", tipErr, "project_id", target.ProjectID, "user_id", target.UserID)
	}

	added, updated, deleted, err := p.profiles.CommitDelta(ctx, target.ProjectID, target.UserID, delta)
	if err != nil {
		return nil, fmt.Errorf("flush commit failed: %w", err)
	}

	result := &models.FlushResult{AddedIDs: added, UpdatedIDs: updated, DeletedIDs: deleted}
	if len(deltaEntries) == 0 {
		return result, nil
	}

	data := models.EventData{
		EventTip:     tip,
		EventTags:    p.eventTags(ctx, target.ProjectID, rules, tip, deltaEntries),
		ProfileDelta: deltaEntries,
	}
	eventID, err := p.events.Append(ctx, target.ProjectID, target.UserID, data)
	if err != nil {
		// The profile delta is already durable; losing the event record
		// must not fail the flush.
		slog.Warn("failed to append flush event",
			"error", err, "project_id", target.ProjectID, "user_id", target.UserID)
	} else {
		result.EventID = eventID
	}
	return result, nil
}

// eventTip produces the session summary. Below the token threshold the
// transcript is carried verbatim; with summaries disabled there is no
// tip at all. A summarize failure also falls back to the transcript.
func (p *Pipeline) eventTip(ctx context.Context, projectID string, rules *config.ProfileRules, transcript string, transcriptTokens int) (string, error) {
	if !rules.EnableEventSummary {
		return "", nil
	}
	if transcriptTokens < rules.MinEventSummaryTokens {
		return transcript, nil
	}
	reply, err := p.gateway.Complete(ctx, projectID, transcript,
		prompts.SummaryChatSystem(rules.Language),
		llm.CompleteOptions{PromptID: prompts.PromptIDSummaryChat, Temperature: &stageTemperature})
	if err != nil {
		return transcript, err
	}
	if reply = strings.TrimSpace(reply); reply != "" {
		return reply, nil
	}
	return transcript, nil
}

// eventTags annotates the flush with the project's declared attributes.
// Tagging is best-effort and never fails the flush.
func (p *Pipeline) eventTags(ctx context.Context, projectID string, rules *config.ProfileRules, tip string, deltaEntries []models.ProfileDeltaEntry) []models.EventTag {
	if len(rules.EventTags) == 0 {
		return nil
	}

	deltaLines := make([]string, 0, len(deltaEntries))
	for _, e := range deltaEntries {
		deltaLines = append(deltaLines, "- "+e.Attributes.Topic+prompts.Sep+e.Attributes.SubTopic+prompts.Sep+e.Content)
	}

	reply, err := p.gateway.Complete(ctx, projectID,
		prompts.TagEventInput(tip, strings.Join(deltaLines, "\n")),
		prompts.TagEventSystem(rules.Language, prompts.RenderEventTagsGuideline(rules.EventTags)),
		llm.CompleteOptions{PromptID: prompts.PromptIDTagEvent, Temperature: &stageTemperature})
	if err != nil {
		slog.Warn("event tagging failed", "error", err, "project_id", projectID)
		return nil
	}

	declared := make(map[string]bool, len(rules.EventTags))
	for _, t := range rules.EventTags {
		declared[t.Name] = true
	}
	var out []models.EventTag
	for _, tv := range prompts.ParseTags(reply) {
		if declared[tv.Tag] {
			out = append(out, models.EventTag{Tag: tv.Tag, Value: tv.Value})
		}
	}
	return out
}
