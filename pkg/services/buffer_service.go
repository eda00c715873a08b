package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sekai-app/sekai-memobase/pkg/models"
)

// FlushTarget identifies one user buffer awaiting a background flush.
type FlushTarget struct {
	ProjectID string
	UserID    string
	BlobType  models.BlobType
}

// BufferService tracks which blobs still await consolidation.
type BufferService struct {
	pool *pgxpool.Pool
}

// NewBufferService creates a new BufferService.
func NewBufferService(pool *pgxpool.Pool) *BufferService {
	if pool == nil {
		panic("NewBufferService: pool must not be nil")
	}
	return &BufferService{pool: pool}
}

// Enqueue records one blob as pending consolidation.
func (s *BufferService) Enqueue(ctx context.Context, projectID, userID, blobID string, blobType models.BlobType, tokenSize int) (string, error) {
	id := uuid.NewString()
	_, err := s.pool.Exec(ctx, `
INSERT INTO buffer_entries (id, project_id, user_id, blob_id, blob_type, status, token_size)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, projectID, userID, blobID, blobType, models.BufferStatusIdle, tokenSize)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return "", fmt.Errorf("%w: blob %s", ErrNotFound, blobID)
		}
		return "", fmt.Errorf("failed to enqueue buffer entry: %w", err)
	}
	return id, nil
}

// IdleTokenSum returns the total token size of idle entries for one user
// buffer. The size-based flush trigger compares this against the buffer
// threshold.
func (s *BufferService) IdleTokenSum(ctx context.Context, projectID, userID string, blobType models.BlobType) (int, error) {
	var sum int
	err := s.pool.QueryRow(ctx, `
SELECT COALESCE(SUM(token_size), 0)
FROM buffer_entries
WHERE project_id = $1 AND user_id = $2 AND blob_type = $3 AND status = $4`,
		projectID, userID, blobType, models.BufferStatusIdle).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("failed to sum idle tokens: %w", err)
	}
	return sum, nil
}

// IDsByStatus returns entry ids in one status, oldest first.
func (s *BufferService) IDsByStatus(ctx context.Context, projectID, userID string, blobType models.BlobType, status models.BufferStatus) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id FROM buffer_entries
WHERE project_id = $1 AND user_id = $2 AND blob_type = $3 AND status = $4
ORDER BY created_at ASC`, projectID, userID, blobType, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list buffer ids: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan buffer id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ClaimIdle atomically flips every idle entry of one user buffer to
// processing and returns the claimed ids, oldest first. FOR UPDATE SKIP
// LOCKED keeps concurrent claimers from blocking each other.
func (s *BufferService) ClaimIdle(ctx context.Context, projectID, userID string, blobType models.BlobType) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
WITH claimed AS (
    SELECT id, created_at FROM buffer_entries
    WHERE project_id = $1 AND user_id = $2 AND blob_type = $3 AND status = $4
    ORDER BY created_at ASC
    FOR UPDATE SKIP LOCKED
)
UPDATE buffer_entries be
SET status = $5, updated_at = now()
FROM claimed
WHERE be.id = claimed.id AND be.project_id = $1
RETURNING be.id, claimed.created_at`,
		projectID, userID, blobType, models.BufferStatusIdle, models.BufferStatusProcessing)
	if err != nil {
		return nil, fmt.Errorf("failed to claim idle entries: %w", err)
	}
	defer rows.Close()

	type claimedRow struct {
		id      string
		created time.Time
	}
	var claimed []claimedRow
	for rows.Next() {
		var c claimedRow
		if err := rows.Scan(&c.id, &c.created); err != nil {
			return nil, fmt.Errorf("failed to scan claimed id: %w", err)
		}
		claimed = append(claimed, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// UPDATE ... RETURNING does not preserve the CTE's order.
	sort.Slice(claimed, func(i, j int) bool { return claimed[i].created.Before(claimed[j].created) })
	ids := make([]string, len(claimed))
	for i, c := range claimed {
		ids[i] = c.id
	}
	return ids, nil
}

// MarkBatch moves a set of entries from one status to another, guarding
// the transition both in code and in the statement.
func (s *BufferService) MarkBatch(ctx context.Context, projectID string, ids []string, from, to models.BufferStatus) error {
	if len(ids) == 0 {
		return nil
	}
	if !from.CanTransition(to) {
		return NewValidationError("status", fmt.Sprintf("illegal transition %s -> %s", from, to))
	}
	_, err := s.pool.Exec(ctx, `
UPDATE buffer_entries
SET status = $3, updated_at = now()
WHERE project_id = $1 AND id = ANY($2) AND status = $4`,
		projectID, ids, to, from)
	if err != nil {
		return fmt.Errorf("failed to mark buffer entries: %w", err)
	}
	return nil
}

// ReleaseClaim returns claimed entries to idle without a flush outcome,
// e.g. when truncation drops them from the batch or dispatch fails. Like
// the orphan reset this bypasses the transition guard.
func (s *BufferService) ReleaseClaim(ctx context.Context, projectID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
UPDATE buffer_entries
SET status = $3, updated_at = now()
WHERE project_id = $1 AND id = ANY($2) AND status = $4`,
		projectID, ids, models.BufferStatusIdle, models.BufferStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to release claimed entries: %w", err)
	}
	return nil
}

// EntriesForFlush loads the entries in the given status joined with their
// blob payloads, oldest first. When ids is non-empty only those entries
// are loaded.
func (s *BufferService) EntriesForFlush(ctx context.Context, projectID, userID string, blobType models.BlobType, ids []string, status models.BufferStatus) ([]models.BufferedBlob, error) {
	if ids == nil {
		ids = []string{} // nil would reach the statement as NULL
	}
	rows, err := s.pool.Query(ctx, `
SELECT be.id, be.token_size, b.id, b.blob_type, b.blob_data, b.created_at
FROM buffer_entries be
JOIN blobs b ON b.id = be.blob_id AND b.project_id = be.project_id
WHERE be.project_id = $1 AND be.user_id = $2 AND be.blob_type = $3
  AND be.status = $4
  AND (cardinality($5::uuid[]) = 0 OR be.id = ANY($5))
ORDER BY be.created_at ASC`,
		projectID, userID, blobType, status, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load flush entries: %w", err)
	}
	defer rows.Close()

	var out []models.BufferedBlob
	for rows.Next() {
		var (
			bb  models.BufferedBlob
			raw []byte
		)
		if err := rows.Scan(&bb.EntryID, &bb.TokenSize, &bb.Blob.ID, &bb.Blob.Type, &raw, &bb.Blob.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan flush entry: %w", err)
		}
		var payload blobPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal blob payload: %w", err)
		}
		bb.Blob.Messages = payload.Messages
		bb.Blob.Content = payload.Content
		bb.Blob.Fields = payload.Fields
		out = append(out, bb)
	}
	return out, rows.Err()
}

// StaleIdleTargets finds user buffers whose oldest idle entry predates the
// cutoff. The sweeper schedules background flushes for them.
func (s *BufferService) StaleIdleTargets(ctx context.Context, cutoff time.Time, limit int) ([]FlushTarget, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
SELECT DISTINCT project_id, user_id, blob_type
FROM buffer_entries
WHERE status = $1 AND created_at < $2
LIMIT $3`, models.BufferStatusIdle, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find stale buffers: %w", err)
	}
	defer rows.Close()

	var out []FlushTarget
	for rows.Next() {
		var t FlushTarget
		if err := rows.Scan(&t.ProjectID, &t.UserID, &t.BlobType); err != nil {
			return nil, fmt.Errorf("failed to scan flush target: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ResetOrphanedProcessing returns stuck processing entries to idle so a
// later flush can retry them. Entries become orphans when their runner
// died between claiming and committing; the transition guard is bypassed
// deliberately here.
func (s *BufferService) ResetOrphanedProcessing(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
UPDATE buffer_entries
SET status = $1, updated_at = now()
WHERE status = $2 AND updated_at < $3`,
		models.BufferStatusIdle, models.BufferStatusProcessing, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to reset orphaned entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PurgeDone removes consumed entries that finished before the cutoff.
// Their blobs stay; only the processing bookkeeping goes.
func (s *BufferService) PurgeDone(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
DELETE FROM buffer_entries
WHERE status = $1 AND updated_at < $2`,
		models.BufferStatusDone, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge done entries: %w", err)
	}
	return tag.RowsAffected(), nil
}
