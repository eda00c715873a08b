package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// memobaseYAMLConfig represents the complete memobase.yaml file structure
type memobaseYAMLConfig struct {
	Flush     *FlushConfig       `yaml:"flush"`
	LLM       *LLMConfig         `yaml:"llm"`
	Profile   *profileYAMLConfig `yaml:"profile"`
	Context   *ContextDefaults   `yaml:"context"`
	Retention *RetentionConfig   `yaml:"retention"`
}

// profileYAMLConfig holds the profile section as written in YAML. Booleans
// are pointers so an explicit false can override a true default.
type profileYAMLConfig struct {
	Language              string           `yaml:"language"`
	MaxProfileSubtopics   int              `yaml:"max_profile_subtopics"`
	MaxPreProfileTokens   int              `yaml:"max_pre_profile_tokens"`
	MinEventSummaryTokens int              `yaml:"min_event_summary_tokens"`
	EnableEventSummary    *bool            `yaml:"enable_event_summary"`
	StrictMode            *bool            `yaml:"strict_mode"`
	PersistChatBlobs      *bool            `yaml:"persist_chat_blobs"`
	CacheTTL              string           `yaml:"cache_ttl"`
	OverwriteProfiles     []TopicConfig    `yaml:"overwrite_user_profiles"`
	AdditionalProfiles    []TopicConfig    `yaml:"additional_user_profiles"`
	EventAttributes       []EventTagConfig `yaml:"event_attributes"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load memobase.yaml from configDir (missing file means defaults)
//  2. Expand environment variables
//  3. Merge user sections over built-in defaults
//  4. Resolve the effective profile taxonomy
//  5. Validate all configuration
//  6. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"topics", stats.Topics,
		"sub_topics", stats.SubTopics,
		"event_tags", stats.EventTags)

	return cfg, nil
}

// load is the internal loader (not exported)
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{
		configDir: configDir,
	}

	yamlConfig, err := loader.loadMemobaseYAML()
	if err != nil {
		return nil, NewLoadError("memobase.yaml", err)
	}

	// Resolve each section: start with built-in defaults, merge user
	// values on top so unset keys keep their defaults.
	flushConfig := DefaultFlushConfig()
	if yamlConfig.Flush != nil {
		if err := mergo.Merge(flushConfig, yamlConfig.Flush, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge flush config: %w", err)
		}
	}

	llmConfig := DefaultLLMConfig()
	if yamlConfig.LLM != nil {
		if err := mergo.Merge(llmConfig, yamlConfig.LLM, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge llm config: %w", err)
		}
	}

	contextConfig := DefaultContextDefaults()
	if yamlConfig.Context != nil {
		if err := mergo.Merge(contextConfig, yamlConfig.Context, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge context config: %w", err)
		}
	}

	retentionConfig := DefaultRetentionConfig()
	if yamlConfig.Retention != nil {
		if err := mergo.Merge(retentionConfig, yamlConfig.Retention, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge retention config: %w", err)
		}
	}

	profileConfig, err := resolveProfileDefaults(yamlConfig.Profile)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve profile config: %w", err)
	}

	return &Config{
		configDir: configDir,
		Flush:     flushConfig,
		LLM:       llmConfig,
		Profile:   profileConfig,
		Context:   contextConfig,
		Retention: retentionConfig,
	}, nil
}

// validate performs comprehensive validation on loaded configuration
func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Expand environment variables using {{.VAR}} template syntax.
	// Note: ExpandEnv passes through original data on parse/execution
	// errors, allowing the YAML parser to produce a clearer message.
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

// loadMemobaseYAML reads memobase.yaml. A missing file is not an error:
// the service runs on built-in defaults plus environment variables.
func (l *configLoader) loadMemobaseYAML() (*memobaseYAMLConfig, error) {
	var config memobaseYAMLConfig

	if err := l.loadYAML("memobase.yaml", &config); err != nil {
		if errors.Is(err, ErrConfigNotFound) {
			slog.Info("No memobase.yaml found, using built-in defaults",
				"config_dir", l.configDir)
			return &config, nil
		}
		return nil, err
	}

	return &config, nil
}

// resolveProfileDefaults merges the YAML profile section over the built-in
// defaults and resolves the effective taxonomy.
func resolveProfileDefaults(p *profileYAMLConfig) (*ProfileDefaults, error) {
	cfg := DefaultProfileDefaults()
	cfg.Topics = BuiltinTopics()

	if p == nil {
		return cfg, nil
	}

	if p.Language != "" {
		cfg.Language = p.Language
	}
	if p.MaxProfileSubtopics > 0 {
		cfg.MaxProfileSubtopics = p.MaxProfileSubtopics
	}
	if p.MaxPreProfileTokens > 0 {
		cfg.MaxPreProfileTokens = p.MaxPreProfileTokens
	}
	if p.MinEventSummaryTokens > 0 {
		cfg.MinEventSummaryTokens = p.MinEventSummaryTokens
	}
	if p.EnableEventSummary != nil {
		cfg.EnableEventSummary = *p.EnableEventSummary
	}
	if p.StrictMode != nil {
		cfg.StrictMode = *p.StrictMode
	}
	if p.PersistChatBlobs != nil {
		cfg.PersistChatBlobs = *p.PersistChatBlobs
	}
	if p.CacheTTL != "" {
		d, err := time.ParseDuration(p.CacheTTL)
		if err != nil {
			slog.Warn("Invalid cache_ttl in profile config, using default",
				"value", p.CacheTTL,
				"default", cfg.CacheTTL,
				"error", err)
		} else {
			cfg.CacheTTL = d
		}
	}
	if len(p.OverwriteProfiles) > 0 {
		cfg.Topics = p.OverwriteProfiles
	}
	if len(p.AdditionalProfiles) > 0 {
		cfg.Topics = mergeTopics(cfg.Topics, p.AdditionalProfiles)
	}
	if len(p.EventAttributes) > 0 {
		cfg.EventTags = p.EventAttributes
	}

	return cfg, nil
}
