package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sekai-app/sekai-memobase/pkg/coordination"
	"github.com/sekai-app/sekai-memobase/pkg/models"
)

// ProfileCommitUpdate is one slot rewrite inside a committed delta.
// Attributes nil keeps the stored topic and sub-topic. BumpHits
// increments update_hits (a merge); reorganized topics do not update in
// place, they land as fresh adds.
type ProfileCommitUpdate struct {
	SlotID     string
	Content    string
	Attributes *models.ProfileAttributes
	BumpHits   bool
}

// ProfileDelta is the consolidated set of changes one flush commits.
type ProfileDelta struct {
	Adds    []models.ProfileAdd
	Updates []ProfileCommitUpdate
	Deletes []string
}

// IsEmpty reports whether the delta changes nothing.
func (d *ProfileDelta) IsEmpty() bool {
	return d == nil || (len(d.Adds) == 0 && len(d.Updates) == 0 && len(d.Deletes) == 0)
}

// ProfileService owns the profile slots plus their per-user cache.
type ProfileService struct {
	pool  *pgxpool.Pool
	cache *coordination.KV
}

// NewProfileService creates a new ProfileService.
func NewProfileService(pool *pgxpool.Pool, cache *coordination.KV) *ProfileService {
	if pool == nil {
		panic("NewProfileService: pool must not be nil")
	}
	if cache == nil {
		panic("NewProfileService: cache must not be nil")
	}
	return &ProfileService{pool: pool, cache: cache}
}

// List returns every profile slot of one user, most recently updated
// first. Reads go through the cache; a miss loads from the database and
// repopulates with the given TTL.
func (s *ProfileService) List(ctx context.Context, projectID, userID string, cacheTTL time.Duration) ([]models.ProfileSlot, error) {
	key := coordination.ProfileCacheKey(projectID, userID)

	if cached, err := s.cache.Get(ctx, key); err == nil {
		var slots []models.ProfileSlot
		if err := json.Unmarshal([]byte(cached), &slots); err == nil {
			return slots, nil
		}
		// Corrupt cache entry: drop it and fall through to the database.
		_ = s.cache.Del(ctx, key)
	} else if !errors.Is(err, coordination.ErrCacheMiss) {
		// Redis trouble must not break profile reads.
		slog.Warn("profile cache read failed", "error", err, "user_id", userID)
	}

	slots, err := s.listFromDB(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(slots); err == nil {
		if err := s.cache.Set(ctx, key, string(data), cacheTTL); err != nil {
			slog.Warn("profile cache write failed", "error", err, "user_id", userID)
		}
	}
	return slots, nil
}

func (s *ProfileService) listFromDB(ctx context.Context, projectID, userID string) ([]models.ProfileSlot, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, content, topic, sub_topic, update_hits, created_at, updated_at
FROM profile_slots
WHERE project_id = $1 AND user_id = $2
ORDER BY updated_at DESC, id ASC`, projectID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	slots := make([]models.ProfileSlot, 0)
	for rows.Next() {
		var p models.ProfileSlot
		if err := rows.Scan(&p.ID, &p.Content, &p.Attributes.Topic, &p.Attributes.SubTopic,
			&p.Attributes.UpdateHits, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan profile row: %w", err)
		}
		slots = append(slots, p)
	}
	return slots, rows.Err()
}

// Invalidate drops the user's cached profile listing.
func (s *ProfileService) Invalidate(ctx context.Context, projectID, userID string) {
	if err := s.cache.Del(ctx, coordination.ProfileCacheKey(projectID, userID)); err != nil {
		slog.Warn("profile cache invalidation failed", "error", err, "user_id", userID)
	}
}

func validateProfileAdd(add models.ProfileAdd) error {
	if add.Content == "" {
		return NewValidationError("content", "profile content is required")
	}
	if models.NormalizeAttribute(add.Attributes.Topic) == "" {
		return NewValidationError("topic", "profile topic is required")
	}
	if models.NormalizeAttribute(add.Attributes.SubTopic) == "" {
		return NewValidationError("sub_topic", "profile sub_topic is required")
	}
	return nil
}

// AddMany inserts slots and returns their ids in input order.
func (s *ProfileService) AddMany(ctx context.Context, projectID, userID string, adds []models.ProfileAdd) ([]string, error) {
	if len(adds) == 0 {
		return nil, nil
	}
	for _, add := range adds {
		if err := validateProfileAdd(add); err != nil {
			return nil, err
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ids, err := insertSlots(ctx, tx, projectID, userID, adds)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit profile adds: %w", err)
	}

	s.Invalidate(ctx, projectID, userID)
	return ids, nil
}

func insertSlots(ctx context.Context, tx pgx.Tx, projectID, userID string, adds []models.ProfileAdd) ([]string, error) {
	ids := make([]string, 0, len(adds))
	for _, add := range adds {
		id := uuid.NewString()
		hits := add.Attributes.UpdateHits
		if hits < 1 {
			hits = 1
		}
		_, err := tx.Exec(ctx, `
INSERT INTO profile_slots (id, project_id, user_id, content, topic, sub_topic, update_hits)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			id, projectID, userID, add.Content,
			models.NormalizeAttribute(add.Attributes.Topic),
			models.NormalizeAttribute(add.Attributes.SubTopic),
			hits)
		if err != nil {
			return nil, fmt.Errorf("failed to insert profile slot: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// UpdateMany rewrites slot contents (and attributes when provided).
// Caller-facing API writes do not touch update_hits.
func (s *ProfileService) UpdateMany(ctx context.Context, projectID, userID string, updates []models.ProfileUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, u := range updates {
		if u.Content == "" {
			return NewValidationError("content", "profile content is required")
		}
		commit := ProfileCommitUpdate{SlotID: u.SlotID, Content: u.Content, Attributes: u.Attributes}
		if err := applyUpdate(ctx, tx, projectID, userID, commit); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit profile updates: %w", err)
	}

	s.Invalidate(ctx, projectID, userID)
	return nil
}

func applyUpdate(ctx context.Context, tx pgx.Tx, projectID, userID string, u ProfileCommitUpdate) error {
	var (
		tag pgconn.CommandTag
		err error
	)
	switch {
	case u.Attributes != nil:
		tag, err = tx.Exec(ctx, `
UPDATE profile_slots
SET content = $4, topic = $5, sub_topic = $6,
    update_hits = CASE WHEN $7 THEN update_hits + 1 ELSE update_hits END,
    updated_at = now()
WHERE project_id = $1 AND user_id = $2 AND id = $3`,
			projectID, userID, u.SlotID, u.Content,
			models.NormalizeAttribute(u.Attributes.Topic),
			models.NormalizeAttribute(u.Attributes.SubTopic),
			u.BumpHits)
	default:
		tag, err = tx.Exec(ctx, `
UPDATE profile_slots
SET content = $4,
    update_hits = CASE WHEN $5 THEN update_hits + 1 ELSE update_hits END,
    updated_at = now()
WHERE project_id = $1 AND user_id = $2 AND id = $3`,
			projectID, userID, u.SlotID, u.Content, u.BumpHits)
	}
	if err != nil {
		return fmt.Errorf("failed to update profile slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: profile %s", ErrNotFound, u.SlotID)
	}
	return nil
}

// DeleteMany removes slots. Missing ids are ignored so a retried flush
// does not fail on already-deleted slots.
func (s *ProfileService) DeleteMany(ctx context.Context, projectID, userID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`DELETE FROM profile_slots WHERE project_id = $1 AND user_id = $2 AND id = ANY($3)`,
		projectID, userID, ids)
	if err != nil {
		return fmt.Errorf("failed to delete profile slots: %w", err)
	}
	s.Invalidate(ctx, projectID, userID)
	return nil
}

// Delete removes one slot, failing when it does not exist.
func (s *ProfileService) Delete(ctx context.Context, projectID, userID, slotID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM profile_slots WHERE project_id = $1 AND user_id = $2 AND id = $3`,
		projectID, userID, slotID)
	if err != nil {
		return fmt.Errorf("failed to delete profile slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: profile %s", ErrNotFound, slotID)
	}
	s.Invalidate(ctx, projectID, userID)
	return nil
}

// CommitDelta applies a flush's profile changes in one transaction:
// deletes, then updates, then adds. Returns the ids in each class.
func (s *ProfileService) CommitDelta(ctx context.Context, projectID, userID string, delta *ProfileDelta) (added, updated, deleted []string, err error) {
	if delta.IsEmpty() {
		return nil, nil, nil, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if len(delta.Deletes) > 0 {
		_, err = tx.Exec(ctx,
			`DELETE FROM profile_slots WHERE project_id = $1 AND user_id = $2 AND id = ANY($3)`,
			projectID, userID, delta.Deletes)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to delete profile slots: %w", err)
		}
		deleted = delta.Deletes
	}

	for _, u := range delta.Updates {
		if err := applyUpdate(ctx, tx, projectID, userID, u); err != nil {
			return nil, nil, nil, err
		}
		updated = append(updated, u.SlotID)
	}

	added, err = insertSlots(ctx, tx, projectID, userID, delta.Adds)
	if err != nil {
		return nil, nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to commit profile delta: %w", err)
	}

	s.Invalidate(ctx, projectID, userID)
	return added, updated, deleted, nil
}
