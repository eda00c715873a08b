package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sekai-app/sekai-memobase/pkg/config"
	"github.com/sekai-app/sekai-memobase/pkg/models"
)

// BillingInfo is the month-to-date usage picture for one project.
// TokensLeft is negative when the quota is unlimited.
type BillingInfo struct {
	ProjectID  string `json:"project_id"`
	TokensUsed int64  `json:"tokens_used"`
	Quota      int64  `json:"quota_tokens"`
	TokensLeft int64  `json:"tokens_left"`
}

// DailyUsage is one day of LLM telemetry for a project.
type DailyUsage struct {
	Date         string `json:"date"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
	Calls        int    `json:"calls"`
}

// ProjectService handles tenant lookup, authentication, profile
// configuration, and usage accounting.
type ProjectService struct {
	pool     *pgxpool.Pool
	defaults *config.ProfileDefaults
}

// NewProjectService creates a new ProjectService.
func NewProjectService(pool *pgxpool.Pool, defaults *config.ProfileDefaults) *ProjectService {
	if pool == nil {
		panic("NewProjectService: pool must not be nil")
	}
	if defaults == nil {
		panic("NewProjectService: defaults must not be nil")
	}
	return &ProjectService{pool: pool, defaults: defaults}
}

// EnsureRootProject upserts the reserved root project with the given
// bearer secret. Called once at startup so a fresh deployment is usable
// immediately.
func (s *ProjectService) EnsureRootProject(ctx context.Context, secret string) error {
	if secret == "" {
		return NewValidationError("secret", "root project secret is required")
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO projects (id, project_secret, status)
VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET project_secret = EXCLUDED.project_secret, updated_at = now()`,
		models.RootProjectID, secret, models.ProjectStatusActive)
	if err != nil {
		return fmt.Errorf("failed to ensure root project: %w", err)
	}
	return nil
}

func scanProject(row pgx.Row) (*models.Project, error) {
	var p models.Project
	err := row.Scan(&p.ID, &p.Status, &p.ProfileConfig, &p.QuotaTokens, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// Get returns one project by id.
func (s *ProjectService) Get(ctx context.Context, projectID string) (*models.Project, error) {
	p, err := scanProject(s.pool.QueryRow(ctx, `
SELECT id, status, profile_config, quota_tokens, created_at, updated_at
FROM projects WHERE id = $1`, projectID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return p, nil
}

// tokenPrefix marks a scoped project token of the form
// "sk-memobase-{project}-{secret}". Tokens without the prefix are
// treated as a raw project secret (the root deployment token).
const tokenPrefix = "sk-memobase-"

// splitToken decomposes a scoped token into project id and secret.
// Project ids never contain '-' in the scoped form, so the first dash
// after the prefix is the separator.
func splitToken(token string) (projectID, secret string, ok bool) {
	rest, found := strings.CutPrefix(token, tokenPrefix)
	if !found {
		return "", "", false
	}
	projectID, secret, found = strings.Cut(rest, "-")
	if !found || projectID == "" || secret == "" {
		return "", "", false
	}
	return projectID, secret, true
}

// Authenticate resolves a bearer token to its project. Scoped tokens
// carry their project id; bare tokens match on the secret alone.
// Suspended projects authenticate but are rejected with ErrForbidden.
func (s *ProjectService) Authenticate(ctx context.Context, token string) (*models.Project, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrUnauthorized)
	}

	query := `
SELECT id, status, profile_config, quota_tokens, created_at, updated_at
FROM projects WHERE project_secret = $1`
	args := []any{token}
	if projectID, secret, ok := splitToken(token); ok {
		query += ` AND id = $2`
		args = []any{secret, projectID}
	}

	p, err := scanProject(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown token", ErrUnauthorized)
		}
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}
	if p.Status != models.ProjectStatusActive {
		return nil, fmt.Errorf("%w: project %s is %s", ErrForbidden, p.ID, p.Status)
	}
	return p, nil
}

// GetProfileConfig returns the project's raw profile configuration
// document. Empty string means "service defaults".
func (s *ProjectService) GetProfileConfig(ctx context.Context, projectID string) (string, error) {
	var doc string
	err := s.pool.QueryRow(ctx,
		`SELECT profile_config FROM projects WHERE id = $1`, projectID).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to get profile config: %w", err)
	}
	return doc, nil
}

// UpdateProfileConfig validates and stores a project's profile
// configuration document.
func (s *ProjectService) UpdateProfileConfig(ctx context.Context, projectID, doc string) error {
	if err := config.ValidateProjectProfileConfig(doc); err != nil {
		return NewValidationError("profile_config", err.Error())
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE projects SET profile_config = $2, updated_at = now() WHERE id = $1`,
		projectID, doc)
	if err != nil {
		return fmt.Errorf("failed to update profile config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RulesFor resolves the effective profile rules for a project: service
// defaults overlaid with the project's stored configuration.
func (s *ProjectService) RulesFor(ctx context.Context, projectID string) (*config.ProfileRules, error) {
	doc, err := s.GetProfileConfig(ctx, projectID)
	if err != nil {
		return nil, err
	}
	rules, err := s.defaults.ResolveProfileRules(doc)
	if err != nil {
		// A stored document that fails to parse should not take the
		// project down; fall back to defaults.
		rules, fallbackErr := s.defaults.ResolveProfileRules("")
		if fallbackErr != nil {
			return nil, fallbackErr
		}
		return rules, nil
	}
	return rules, nil
}

// Billing returns month-to-date token usage against the project quota.
func (s *ProjectService) Billing(ctx context.Context, projectID string) (*BillingInfo, error) {
	p, err := s.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}

	var used int64
	err = s.pool.QueryRow(ctx, `
SELECT COALESCE(SUM(input_tokens + output_tokens), 0)
FROM project_usage
WHERE project_id = $1 AND usage_date >= date_trunc('month', CURRENT_DATE)::date`,
		projectID).Scan(&used)
	if err != nil {
		return nil, fmt.Errorf("failed to sum usage: %w", err)
	}

	left := int64(-1)
	if p.QuotaTokens >= 0 {
		left = p.QuotaTokens - used
		if left < 0 {
			left = 0
		}
	}
	return &BillingInfo{
		ProjectID:  projectID,
		TokensUsed: used,
		Quota:      p.QuotaTokens,
		TokensLeft: left,
	}, nil
}

// Usage returns the daily usage series for the last N days, oldest first.
func (s *ProjectService) Usage(ctx context.Context, projectID string, lastDays int) ([]DailyUsage, error) {
	if lastDays < 1 {
		lastDays = 7
	}
	cutoff := time.Now().AddDate(0, 0, -lastDays)

	rows, err := s.pool.Query(ctx, `
SELECT usage_date, input_tokens, output_tokens, calls
FROM project_usage
WHERE project_id = $1 AND usage_date > $2::date
ORDER BY usage_date ASC`, projectID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage: %w", err)
	}
	defer rows.Close()

	var out []DailyUsage
	for rows.Next() {
		var d DailyUsage
		var date time.Time
		if err := rows.Scan(&date, &d.InputTokens, &d.OutputTokens, &d.Calls); err != nil {
			return nil, fmt.Errorf("failed to scan usage row: %w", err)
		}
		d.Date = date.Format("2006-01-02")
		out = append(out, d)
	}
	return out, rows.Err()
}

// RecordUsage folds one LLM call into the project's daily counters.
func (s *ProjectService) RecordUsage(ctx context.Context, projectID string, inputTokens, outputTokens int) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO project_usage (project_id, usage_date, input_tokens, output_tokens, calls)
VALUES ($1, CURRENT_DATE, $2, $3, 1)
ON CONFLICT (project_id, usage_date) DO UPDATE SET
    input_tokens = project_usage.input_tokens + EXCLUDED.input_tokens,
    output_tokens = project_usage.output_tokens + EXCLUDED.output_tokens,
    calls = project_usage.calls + 1`,
		projectID, inputTokens, outputTokens)
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}

// CheckQuota returns ErrQuotaExceeded when the project's month-to-date
// usage has reached its quota. Unlimited quotas always pass.
func (s *ProjectService) CheckQuota(ctx context.Context, projectID string) error {
	billing, err := s.Billing(ctx, projectID)
	if err != nil {
		return err
	}
	if billing.Quota >= 0 && billing.TokensUsed >= billing.Quota {
		return fmt.Errorf("%w: used %d of %d tokens", ErrQuotaExceeded, billing.TokensUsed, billing.Quota)
	}
	return nil
}
