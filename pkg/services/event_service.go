package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sekai-app/sekai-memobase/pkg/database"
	"github.com/sekai-app/sekai-memobase/pkg/llm"
	"github.com/sekai-app/sekai-memobase/pkg/models"
)

// EventListFilter narrows event listings.
type EventListFilter struct {
	// TopK caps the number of returned events. Zero means no cap.
	TopK int
	// RequireSummary drops events without an event_tip.
	RequireSummary bool
	// MaxTokens, when positive, cuts the listing once the summed token
	// size of the event payloads exceeds it.
	MaxTokens int
}

// EventService owns the append-only event log and its semantic index.
type EventService struct {
	pool    *pgxpool.Pool
	gateway llm.Gateway
	counter TokenCounter
}

// TokenCounter measures text length in model tokens.
type TokenCounter interface {
	Count(text string) int
}

// NewEventService creates a new EventService. The gateway may be nil
// for callers that never append (event search then degrades to recency
// listing only).
func NewEventService(pool *pgxpool.Pool, gateway llm.Gateway, counter TokenCounter) *EventService {
	if pool == nil {
		panic("NewEventService: pool must not be nil")
	}
	if counter == nil {
		panic("NewEventService: counter must not be nil")
	}
	return &EventService{pool: pool, gateway: gateway, counter: counter}
}

// Append inserts one event and returns its id. When the event carries a
// tip and a gateway is configured, the tip is embedded for semantic
// search; embedding failure stores the event with a NULL embedding
// rather than failing the append.
func (s *EventService) Append(ctx context.Context, projectID, userID string, data models.EventData) (string, error) {
	if data.IsEmpty() {
		return "", NewValidationError("event_data", "event carries no content")
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal event data: %w", err)
	}

	var embedding *string
	if s.gateway != nil && data.EventTip != "" {
		vectors, err := s.gateway.Embed(ctx, projectID, []string{data.EventTip}, llm.PhaseDocument)
		if err != nil {
			slog.Warn("event embedding failed, storing without vector",
				"error", err, "user_id", userID)
		} else if len(vectors) == 1 {
			lit := database.FormatVector(vectors[0])
			embedding = &lit
		}
	}

	id := uuid.NewString()
	_, err = s.pool.Exec(ctx, `
INSERT INTO events (id, project_id, user_id, event_data, embedding)
VALUES ($1, $2, $3, $4, $5::vector)`,
		id, projectID, userID, payload, embedding)
	if err != nil {
		return "", fmt.Errorf("failed to insert event: %w", err)
	}
	return id, nil
}

// List returns the user's events, newest first, after applying the
// filter.
func (s *EventService) List(ctx context.Context, projectID, userID string, filter EventListFilter) ([]models.Event, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, event_data, created_at, updated_at
FROM events
WHERE project_id = $1 AND user_id = $2
ORDER BY created_at DESC, id ASC`, projectID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := make([]models.Event, 0)
	budget := filter.MaxTokens
	for rows.Next() {
		var (
			e       models.Event
			payload []byte
		)
		if err := rows.Scan(&e.ID, &payload, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		if err := json.Unmarshal(payload, &e.Data); err != nil {
			return nil, fmt.Errorf("failed to decode event %s: %w", e.ID, err)
		}
		if filter.RequireSummary && e.Data.EventTip == "" {
			continue
		}
		if filter.MaxTokens > 0 {
			cost := s.counter.Count(string(payload))
			if cost > budget {
				break
			}
			budget -= cost
		}
		events = append(events, e)
		if filter.TopK > 0 && len(events) >= filter.TopK {
			break
		}
	}
	return events, rows.Err()
}

// Update replaces one event's payload. The embedding is re-derived from
// the new tip when possible and cleared otherwise.
func (s *EventService) Update(ctx context.Context, projectID, userID, eventID string, data models.EventData) error {
	if data.IsEmpty() {
		return NewValidationError("event_data", "event carries no content")
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	var embedding *string
	if s.gateway != nil && data.EventTip != "" {
		vectors, err := s.gateway.Embed(ctx, projectID, []string{data.EventTip}, llm.PhaseDocument)
		if err != nil {
			slog.Warn("event embedding failed, clearing vector",
				"error", err, "event_id", eventID)
		} else if len(vectors) == 1 {
			lit := database.FormatVector(vectors[0])
			embedding = &lit
		}
	}

	tag, err := s.pool.Exec(ctx, `
UPDATE events
SET event_data = $4, embedding = $5::vector, updated_at = now()
WHERE project_id = $1 AND user_id = $2 AND id = $3`,
		projectID, userID, eventID, payload, embedding)
	if err != nil {
		return fmt.Errorf("failed to update event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: event %s", ErrNotFound, eventID)
	}
	return nil
}

// Delete removes one event.
func (s *EventService) Delete(ctx context.Context, projectID, userID, eventID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM events WHERE project_id = $1 AND user_id = $2 AND id = $3`,
		projectID, userID, eventID)
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: event %s", ErrNotFound, eventID)
	}
	return nil
}

// SearchByText embeds the query and returns the topK most similar
// events above the similarity threshold, most similar first and newest
// first among ties. Events without an embedding never match.
func (s *EventService) SearchByText(ctx context.Context, projectID, userID, query string, topK int, threshold float64) ([]models.Event, error) {
	if query == "" {
		return nil, NewValidationError("query", "search query is required")
	}
	if s.gateway == nil {
		return nil, fmt.Errorf("%w: semantic search requires an embedding backend", ErrServiceUnavailable)
	}
	if topK <= 0 {
		topK = 10
	}

	vectors, err := s.gateway.Embed(ctx, projectID, []string{query}, llm.PhaseQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to embed search query: %w", err)
	}
	queryVec := database.FormatVector(vectors[0])

	rows, err := s.pool.Query(ctx, `
SELECT id, event_data, created_at, updated_at, 1 - (embedding <=> $3::vector) AS similarity
FROM events
WHERE project_id = $1 AND user_id = $2
  AND embedding IS NOT NULL
  AND 1 - (embedding <=> $3::vector) >= $4
ORDER BY similarity DESC, created_at DESC
LIMIT $5`, projectID, userID, queryVec, threshold, topK)
	if err != nil {
		return nil, fmt.Errorf("failed to search events: %w", err)
	}
	defer rows.Close()

	events := make([]models.Event, 0)
	for rows.Next() {
		var (
			e       models.Event
			payload []byte
		)
		if err := rows.Scan(&e.ID, &payload, &e.CreatedAt, &e.UpdatedAt, &e.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		if err := json.Unmarshal(payload, &e.Data); err != nil {
			return nil, fmt.Errorf("failed to decode event %s: %w", e.ID, err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// GC removes events older than the retention window. Zero retention
// disables collection.
func (s *EventService) GC(ctx context.Context, projectID, userID string, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `
DELETE FROM events
WHERE project_id = $1 AND user_id = $2 AND created_at < now() - $3::interval`,
		projectID, userID, fmt.Sprintf("%d seconds", int64(retention.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("failed to collect old events: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PurgeOlderThan removes events created before the cutoff across all
// projects. Used by the retention sweeper; per-user GC stays available
// for explicit calls.
func (s *EventService) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge old events: %w", err)
	}
	return tag.RowsAffected(), nil
}
