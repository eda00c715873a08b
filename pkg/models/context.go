package models

// ContextParams tunes the composed memory context for one request.
// Zero values fall back to server defaults.
type ContextParams struct {
	// MaxTokens is the total budget for the rendered context.
	MaxTokens int

	// PreferTopics are placed first in the profile section, in the
	// given order.
	PreferTopics []string

	// OnlyTopics, when non-empty, excludes every other topic.
	OnlyTopics []string

	// TopicLimits caps slots per topic; overrides MaxSubtopicSize for
	// the named topics.
	TopicLimits map[string]int

	// MaxSubtopicSize caps slots per topic globally. Zero means no cap.
	MaxSubtopicSize int

	// ProfileEventRatio splits MaxTokens between profile and events.
	// Zero falls back to the default 0.8.
	ProfileEventRatio float64

	// RequireEventSummary drops events without an event_tip.
	RequireEventSummary bool

	// Chats enables chat-aware slot filtering when non-empty: the latest
	// turns are used to select only the relevant slots.
	Chats []ChatMessage
}
