package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sekai-app/sekai-memobase/pkg/models"
)

// pgUniqueViolation is the PostgreSQL error code for duplicate keys.
const pgUniqueViolation = "23505"

// ListUsersQuery tunes the project user listing.
type ListUsersQuery struct {
	Search    string
	Limit     int
	Offset    int
	OrderBy   string // created_at, updated_at, or id
	OrderDesc bool
}

// UserService handles end-user CRUD inside a project.
type UserService struct {
	pool *pgxpool.Pool
}

// NewUserService creates a new UserService.
func NewUserService(pool *pgxpool.Pool) *UserService {
	if pool == nil {
		panic("NewUserService: pool must not be nil")
	}
	return &UserService{pool: pool}
}

// Create inserts a user. An empty id generates one; a caller-supplied id
// must be a valid UUID and unused.
func (s *UserService) Create(ctx context.Context, projectID, id string, data map[string]any) (string, error) {
	if id == "" {
		id = uuid.NewString()
	} else if _, err := uuid.Parse(id); err != nil {
		return "", NewValidationError("id", fmt.Sprintf("not a valid UUID: %s", id))
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, project_id, fields) VALUES ($1, $2, $3)`,
		id, projectID, data)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return "", fmt.Errorf("%w: user %s", ErrAlreadyExists, id)
		}
		return "", fmt.Errorf("failed to create user: %w", err)
	}
	return id, nil
}

// Get returns one user.
func (s *UserService) Get(ctx context.Context, projectID, id string) (*models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx, `
SELECT id, project_id, fields, created_at, updated_at
FROM users WHERE project_id = $1 AND id = $2`, projectID, id).
		Scan(&u.ID, &u.ProjectID, &u.Data, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: user %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// Update replaces the user's opaque data document.
func (s *UserService) Update(ctx context.Context, projectID, id string, data map[string]any) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET fields = $3, updated_at = now() WHERE project_id = $1 AND id = $2`,
		projectID, id, data)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	return nil
}

// Delete removes the user. Blobs, buffer entries, profiles, and events
// cascade at the schema level.
func (s *UserService) Delete(ctx context.Context, projectID, id string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM users WHERE project_id = $1 AND id = $2`, projectID, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	return nil
}

// List pages through a project's users. Returns the page and the total
// match count.
func (s *UserService) List(ctx context.Context, projectID string, q ListUsersQuery) ([]models.User, int64, error) {
	limit := q.Limit
	if limit < 1 || limit > 500 {
		limit = 100
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	orderBy := "updated_at"
	switch q.OrderBy {
	case "", "updated_at":
	case "created_at", "id":
		orderBy = q.OrderBy
	default:
		return nil, 0, NewValidationError("order_by", fmt.Sprintf("unsupported column: %s", q.OrderBy))
	}
	direction := "ASC"
	if q.OrderDesc {
		direction = "DESC"
	}

	// orderBy and direction come from the whitelist above, never from
	// raw caller input.
	query := fmt.Sprintf(`
SELECT id, project_id, fields, created_at, updated_at, COUNT(*) OVER() AS total
FROM users
WHERE project_id = $1 AND ($2 = '' OR id::text ILIKE '%%' || $2 || '%%')
ORDER BY %s %s
LIMIT $3 OFFSET $4`, orderBy, direction)

	rows, err := s.pool.Query(ctx, query, projectID, q.Search, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var out []models.User
	var total int64
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.ProjectID, &u.Data, &u.CreatedAt, &u.UpdatedAt, &total); err != nil {
			return nil, 0, fmt.Errorf("failed to scan user row: %w", err)
		}
		out = append(out, u)
	}
	return out, total, rows.Err()
}
