package models

import "time"

// User is one end-user inside a project. Data is an opaque JSON document
// owned by the caller.
type User struct {
	ID        string         `json:"id"`
	ProjectID string         `json:"project_id"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// UserStatus is one entry in a user's secondary status log: a typed,
// caller-defined record kept alongside the memory itself (e.g. mood or
// progression markers an agent wants to track per session).
type UserStatus struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Attributes map[string]any `json:"attributes,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// ProjectStatus gates API access for a tenant.
type ProjectStatus string

// Project statuses.
const (
	ProjectStatusActive    ProjectStatus = "active"
	ProjectStatusSuspended ProjectStatus = "suspended"
)

// RootProjectID is the reserved single-tenant project that always exists.
const RootProjectID = "__root__"

// Project is one tenant. ProfileConfig holds the raw YAML document
// described in the API contract; an empty string means "defaults only".
// QuotaTokens caps monthly LLM tokens; negative means unlimited.
type Project struct {
	ID            string        `json:"project_id"`
	Status        ProjectStatus `json:"status"`
	ProfileConfig string        `json:"profile_config,omitempty"`
	QuotaTokens   int64         `json:"quota_tokens"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}
