package config

// Config is the umbrella configuration object returned by Initialize().
// It is immutable after loading; per-project overrides are resolved at
// runtime against the stored project profile_config (see RulesFor).
type Config struct {
	configDir string

	// Flush and buffer thresholds (consolidation triggers, lock TTLs,
	// background runner bounds).
	Flush *FlushConfig

	// LLM provider settings (completion + embedding).
	LLM *LLMConfig

	// Profile defaults: language, taxonomy, slot limits, cache TTL.
	Profile *ProfileDefaults

	// Context composer defaults.
	Context *ContextDefaults

	// Retention sweeper settings.
	Retention *RetentionConfig
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// Stats contains statistics about loaded configuration, for logging.
type Stats struct {
	Topics    int
	SubTopics int
	EventTags int
}

// Stats returns configuration statistics.
func (c *Config) Stats() Stats {
	s := Stats{}
	if c.Profile == nil {
		return s
	}
	s.Topics = len(c.Profile.Topics)
	for _, t := range c.Profile.Topics {
		s.SubTopics += len(t.SubTopics)
	}
	s.EventTags = len(c.Profile.EventTags)
	return s
}
