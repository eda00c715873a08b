package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sekai-app/sekai-memobase/pkg/models"
)

// pgForeignKeyViolation is the PostgreSQL error code for missing parents.
const pgForeignKeyViolation = "23503"

// blobPayload is the JSONB shape of a stored blob.
type blobPayload struct {
	Messages []models.ChatMessage `json:"messages,omitempty"`
	Content  string               `json:"content,omitempty"`
	Fields   map[string]any       `json:"fields,omitempty"`
}

// BlobService stores and retrieves raw ingestion records.
type BlobService struct {
	pool *pgxpool.Pool
}

// NewBlobService creates a new BlobService.
func NewBlobService(pool *pgxpool.Pool) *BlobService {
	if pool == nil {
		panic("NewBlobService: pool must not be nil")
	}
	return &BlobService{pool: pool}
}

// Insert validates and persists one blob, returning its generated id.
func (s *BlobService) Insert(ctx context.Context, projectID, userID string, blob *models.Blob) (string, error) {
	if err := blob.Validate(); err != nil {
		return "", NewValidationError("blob", err.Error())
	}

	payload, err := json.Marshal(blobPayload{
		Messages: blob.Messages,
		Content:  blob.Content,
		Fields:   blob.Fields,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal blob payload: %w", err)
	}

	id := uuid.NewString()
	_, err = s.pool.Exec(ctx, `
INSERT INTO blobs (id, project_id, user_id, blob_type, blob_data)
VALUES ($1, $2, $3, $4, $5)`,
		id, projectID, userID, blob.Type, payload)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return "", fmt.Errorf("%w: user %s", ErrNotFound, userID)
		}
		return "", fmt.Errorf("failed to insert blob: %w", err)
	}
	return id, nil
}

func scanBlob(row pgx.Row) (*models.Blob, error) {
	var (
		b       models.Blob
		raw     []byte
		created time.Time
	)
	if err := row.Scan(&b.ID, &b.Type, &raw, &created); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var payload blobPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal blob payload: %w", err)
	}
	b.Messages = payload.Messages
	b.Content = payload.Content
	b.Fields = payload.Fields
	b.CreatedAt = created
	return &b, nil
}

// Get returns one blob owned by the user.
func (s *BlobService) Get(ctx context.Context, projectID, userID, blobID string) (*models.Blob, error) {
	b, err := scanBlob(s.pool.QueryRow(ctx, `
SELECT id, blob_type, blob_data, created_at
FROM blobs WHERE project_id = $1 AND user_id = $2 AND id = $3`,
		projectID, userID, blobID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: blob %s", ErrNotFound, blobID)
		}
		return nil, fmt.Errorf("failed to get blob: %w", err)
	}
	return b, nil
}

// Delete removes one blob and, via cascade, its buffer entry.
func (s *BlobService) Delete(ctx context.Context, projectID, userID, blobID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM blobs WHERE project_id = $1 AND user_id = $2 AND id = $3`,
		projectID, userID, blobID)
	if err != nil {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: blob %s", ErrNotFound, blobID)
	}
	return nil
}

// DeleteMany removes a set of blobs. Used after a successful flush when
// the project does not persist chat blobs.
func (s *BlobService) DeleteMany(ctx context.Context, projectID, userID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`DELETE FROM blobs WHERE project_id = $1 AND user_id = $2 AND id = ANY($3)`,
		projectID, userID, ids)
	if err != nil {
		return fmt.Errorf("failed to delete blobs: %w", err)
	}
	return nil
}

// ListIDs pages blob ids of one type, oldest first.
func (s *BlobService) ListIDs(ctx context.Context, projectID, userID string, blobType models.BlobType, page, pageSize int) ([]string, error) {
	if page < 0 {
		page = 0
	}
	if pageSize < 1 || pageSize > 1000 {
		pageSize = 100
	}
	rows, err := s.pool.Query(ctx, `
SELECT id FROM blobs
WHERE project_id = $1 AND user_id = $2 AND blob_type = $3
ORDER BY created_at ASC
LIMIT $4 OFFSET $5`, projectID, userID, blobType, pageSize, page*pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list blob ids: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan blob id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
