package models

import "time"

// EventTag is one (tag, value) annotation on an event, restricted to tags
// declared in the project's profile config.
type EventTag struct {
	Tag   string `json:"tag"`
	Value string `json:"value"`
}

// ProfileDeltaEntry records one profile change carried by an event.
type ProfileDeltaEntry struct {
	Content    string            `json:"content"`
	Attributes ProfileAttributes `json:"attributes"`
}

// EventData is the JSON payload of one event.
type EventData struct {
	EventTip     string              `json:"event_tip,omitempty"`
	EventTags    []EventTag          `json:"event_tags,omitempty"`
	ProfileDelta []ProfileDeltaEntry `json:"profile_delta,omitempty"`
}

// IsEmpty reports whether the event carries nothing worth persisting.
func (d EventData) IsEmpty() bool {
	return d.EventTip == "" && len(d.EventTags) == 0 && len(d.ProfileDelta) == 0
}

// Event is one append-only record of a flush outcome.
// Similarity is populated only by semantic search results.
type Event struct {
	ID         string    `json:"id"`
	Data       EventData `json:"event_data"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Similarity float64   `json:"similarity,omitempty"`
}
