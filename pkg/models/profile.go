package models

import (
	"strings"
	"time"
	"unicode"
)

// ProfileAttributes is the structured half of a profile slot. Topic and
// SubTopic are stored normalized (see NormalizeAttribute); UpdateHits counts
// successful writes to the slot, starting at 1 on creation.
type ProfileAttributes struct {
	Topic      string `json:"topic"`
	SubTopic   string `json:"sub_topic"`
	UpdateHits int    `json:"update_hits,omitempty"`
}

// Key returns the normalized (topic, sub_topic) identity of the attributes.
func (a ProfileAttributes) Key() ProfileKey {
	return ProfileKey{
		Topic:    NormalizeAttribute(a.Topic),
		SubTopic: NormalizeAttribute(a.SubTopic),
	}
}

// ProfileKey is the soft-unique identity of a slot within one user.
type ProfileKey struct {
	Topic    string
	SubTopic string
}

// ProfileSlot is one evolving fact about a user.
type ProfileSlot struct {
	ID         string            `json:"id"`
	Content    string            `json:"content"`
	Attributes ProfileAttributes `json:"attributes"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// ProfileAdd is one prospective slot creation inside a delta.
type ProfileAdd struct {
	Content    string            `json:"content"`
	Attributes ProfileAttributes `json:"attributes"`
}

// ProfileUpdate is one prospective slot rewrite inside a delta.
// Attributes may be nil to keep the stored attributes untouched.
type ProfileUpdate struct {
	SlotID     string             `json:"profile_id"`
	Content    string             `json:"content"`
	Attributes *ProfileAttributes `json:"attributes,omitempty"`
}

// NormalizeAttribute lower-cases an attribute value and collapses
// whitespace runs into single underscores. Leading and trailing
// whitespace is dropped.
func NormalizeAttribute(s string) string {
	fields := strings.FieldsFunc(strings.ToLower(strings.TrimSpace(s)), unicode.IsSpace)
	return strings.Join(fields, "_")
}
