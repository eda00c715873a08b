package config

import "time"

// RetentionConfig controls the background retention sweeper.
type RetentionConfig struct {
	// DoneEntryRetention is how long consumed (done) buffer entries are
	// kept before purging. Zero disables the purge.
	DoneEntryRetention time.Duration `yaml:"done_entry_retention"`

	// EventRetention drops events older than this window. Zero keeps
	// events forever.
	EventRetention time.Duration `yaml:"event_retention"`

	// CleanupInterval is how often the sweeper runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultRetentionConfig returns the built-in retention defaults. Events
// are kept forever by default; they are the memory.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		DoneEntryRetention: 7 * 24 * time.Hour,
		EventRetention:     0,
		CleanupInterval:    1 * time.Hour,
	}
}
