package config

import (
	"fmt"
	"os"
)

// ConfigValidator validates configuration comprehensively with clear error messages
type ConfigValidator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *ConfigValidator {
	return &ConfigValidator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at first error)
func (v *ConfigValidator) ValidateAll() error {
	if err := v.validateFlush(); err != nil {
		return fmt.Errorf("flush validation failed: %w", err)
	}

	if err := v.validateLLM(); err != nil {
		return fmt.Errorf("llm validation failed: %w", err)
	}

	if err := v.validateProfile(); err != nil {
		return fmt.Errorf("profile validation failed: %w", err)
	}

	if err := v.validateContext(); err != nil {
		return fmt.Errorf("context validation failed: %w", err)
	}

	if err := v.validateRetention(); err != nil {
		return fmt.Errorf("retention validation failed: %w", err)
	}

	return nil
}

func (v *ConfigValidator) validateFlush() error {
	f := v.cfg.Flush

	if f.MaxBufferTokens < 1 {
		return NewValidationError("flush", "max_buffer_tokens", fmt.Errorf("must be at least 1"))
	}
	if f.MaxProcessTokens < f.MaxBufferTokens {
		return NewValidationError("flush", "max_process_tokens",
			fmt.Errorf("must be at least max_buffer_tokens (%d)", f.MaxBufferTokens))
	}
	if f.LockTTL <= 0 {
		return NewValidationError("flush", "lock_ttl", fmt.Errorf("must be positive"))
	}
	if f.LockRetryInterval <= 0 {
		return NewValidationError("flush", "lock_retry_interval", fmt.Errorf("must be positive"))
	}
	if f.MaxIterations < 1 {
		return NewValidationError("flush", "max_iterations", fmt.Errorf("must be at least 1"))
	}
	if f.MaxConsecutiveErrors < 1 {
		return NewValidationError("flush", "max_consecutive_errors", fmt.Errorf("must be at least 1"))
	}
	if f.RunnerCount < 1 {
		return NewValidationError("flush", "runner_count", fmt.Errorf("must be at least 1"))
	}
	if f.DispatchBuffer < 1 {
		return NewValidationError("flush", "dispatch_buffer", fmt.Errorf("must be at least 1"))
	}

	return nil
}

func (v *ConfigValidator) validateLLM() error {
	l := v.cfg.LLM

	if l.Model == "" {
		return NewValidationError("llm", "model", fmt.Errorf("model required"))
	}
	if l.EmbeddingModel == "" {
		return NewValidationError("llm", "embedding_model", fmt.Errorf("embedding model required"))
	}
	if l.EmbeddingDim < 1 {
		return NewValidationError("llm", "embedding_dim", fmt.Errorf("must be at least 1"))
	}
	if l.Temperature < 0 || l.Temperature > 2 {
		return NewValidationError("llm", "temperature", fmt.Errorf("must be between 0 and 2"))
	}
	if l.MaxRetries < 0 {
		return NewValidationError("llm", "max_retries", fmt.Errorf("must not be negative"))
	}

	// Validate API key environment variable is set (if specified)
	if l.APIKeyEnv != "" {
		if value := os.Getenv(l.APIKeyEnv); value == "" {
			return NewValidationError("llm", "api_key_env",
				fmt.Errorf("environment variable %s is not set", l.APIKeyEnv))
		}
	}

	return nil
}

func (v *ConfigValidator) validateProfile() error {
	p := v.cfg.Profile

	if p.Language != "en" && p.Language != "zh" {
		return NewValidationError("profile", "language",
			fmt.Errorf("unsupported language: %s (expected en or zh)", p.Language))
	}
	if p.MaxProfileSubtopics < 1 {
		return NewValidationError("profile", "max_profile_subtopics", fmt.Errorf("must be at least 1"))
	}
	if p.MaxPreProfileTokens < 1 {
		return NewValidationError("profile", "max_pre_profile_tokens", fmt.Errorf("must be at least 1"))
	}
	if p.CacheTTL < 0 {
		return NewValidationError("profile", "cache_ttl", fmt.Errorf("must not be negative"))
	}

	seen := make(map[string]bool, len(p.Topics))
	for _, t := range p.Topics {
		if t.Topic == "" {
			return NewValidationError("profile", "overwrite_user_profiles", fmt.Errorf("topic name required"))
		}
		if seen[t.Topic] {
			return NewValidationError("profile", "overwrite_user_profiles",
				fmt.Errorf("duplicate topic: %s", t.Topic))
		}
		seen[t.Topic] = true

		subSeen := make(map[string]bool, len(t.SubTopics))
		for _, st := range t.SubTopics {
			if st.Name == "" {
				return NewValidationError("profile", "overwrite_user_profiles",
					fmt.Errorf("topic %q has a sub-topic without a name", t.Topic))
			}
			if subSeen[st.Name] {
				return NewValidationError("profile", "overwrite_user_profiles",
					fmt.Errorf("topic %q has duplicate sub-topic: %s", t.Topic, st.Name))
			}
			subSeen[st.Name] = true
		}
	}

	for _, tag := range p.EventTags {
		if tag.Name == "" {
			return NewValidationError("profile", "event_attributes", fmt.Errorf("attribute name required"))
		}
	}

	return nil
}

func (v *ConfigValidator) validateContext() error {
	c := v.cfg.Context

	if c.MaxTokens < 1 {
		return NewValidationError("context", "max_tokens", fmt.Errorf("must be at least 1"))
	}
	if c.ProfileEventRatio <= 0 || c.ProfileEventRatio > 1 {
		return NewValidationError("context", "profile_event_ratio",
			fmt.Errorf("must be between 0 (exclusive) and 1"))
	}
	if c.MaxEvents < 0 {
		return NewValidationError("context", "max_events", fmt.Errorf("must not be negative"))
	}

	return nil
}

func (v *ConfigValidator) validateRetention() error {
	r := v.cfg.Retention

	if r.DoneEntryRetention < 0 {
		return NewValidationError("retention", "done_entry_retention", fmt.Errorf("must not be negative"))
	}
	if r.EventRetention < 0 {
		return NewValidationError("retention", "event_retention", fmt.Errorf("must not be negative"))
	}
	if r.CleanupInterval <= 0 {
		return NewValidationError("retention", "cleanup_interval", fmt.Errorf("must be positive"))
	}

	return nil
}
