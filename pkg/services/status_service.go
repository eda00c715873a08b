package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sekai-app/sekai-memobase/pkg/models"
)

// StatusService owns the per-user status log: typed, caller-defined
// records appended alongside the memory itself.
type StatusService struct {
	pool *pgxpool.Pool
}

// NewStatusService creates a new StatusService.
func NewStatusService(pool *pgxpool.Pool) *StatusService {
	if pool == nil {
		panic("NewStatusService: pool must not be nil")
	}
	return &StatusService{pool: pool}
}

// Append records one status entry and returns its id.
func (s *StatusService) Append(ctx context.Context, projectID, userID, statusType string, attributes map[string]any) (string, error) {
	if statusType == "" {
		return "", NewValidationError("type", "status type is required")
	}

	id := uuid.NewString()
	_, err := s.pool.Exec(ctx, `
INSERT INTO user_status (id, project_id, user_id, type, attributes)
VALUES ($1, $2, $3, $4, $5)`,
		id, projectID, userID, statusType, attributes)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return "", fmt.Errorf("%w: user %s", ErrNotFound, userID)
		}
		return "", fmt.Errorf("failed to append user status: %w", err)
	}
	return id, nil
}

// List pages through a user's status entries of one type, newest first.
func (s *StatusService) List(ctx context.Context, projectID, userID, statusType string, page, pageSize int) ([]models.UserStatus, error) {
	if statusType == "" {
		return nil, NewValidationError("type", "status type is required")
	}
	if pageSize < 1 {
		pageSize = 10
	}
	if page < 0 {
		page = 0
	}

	rows, err := s.pool.Query(ctx, `
SELECT id, type, attributes, created_at, updated_at
FROM user_status
WHERE project_id = $1 AND user_id = $2 AND type = $3
ORDER BY created_at DESC, id ASC
LIMIT $4 OFFSET $5`,
		projectID, userID, statusType, pageSize, page*pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list user statuses: %w", err)
	}
	defer rows.Close()

	statuses := make([]models.UserStatus, 0)
	for rows.Next() {
		var st models.UserStatus
		if err := rows.Scan(&st.ID, &st.Type, &st.Attributes, &st.CreatedAt, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan status row: %w", err)
		}
		statuses = append(statuses, st)
	}
	return statuses, rows.Err()
}
