package config

import "time"

// LLMConfig holds the OpenAI-compatible provider settings for completion
// and embedding calls.
type LLMConfig struct {
	// BaseURL points at any OpenAI-compatible endpoint. Empty means the
	// provider default.
	BaseURL string `yaml:"base_url"`

	// APIKeyEnv names the environment variable carrying the API key.
	APIKeyEnv string `yaml:"api_key_env"`

	// Model is the default completion model.
	Model string `yaml:"model"`

	// Temperature applied to pipeline stages unless a call overrides it.
	Temperature float64 `yaml:"temperature"`

	// MaxTokens caps completion output. Zero leaves the provider default.
	MaxTokens int `yaml:"max_tokens"`

	// Timeout bounds one completion or embedding call.
	Timeout time.Duration `yaml:"timeout"`

	// MaxRetries bounds retry attempts for transient failures.
	MaxRetries int `yaml:"max_retries"`

	// EmbeddingModel and its vector dimension. The dimension must match
	// the events table schema.
	EmbeddingModel string `yaml:"embedding_model"`
	EmbeddingDim   int    `yaml:"embedding_dim"`

	// EmbeddingMaxTokens truncates embedding inputs.
	EmbeddingMaxTokens int `yaml:"embedding_max_tokens"`

	// EmbeddingCacheSize is the LRU entry count for the embedding cache.
	EmbeddingCacheSize int `yaml:"embedding_cache_size"`
}

// DefaultLLMConfig returns the built-in LLM defaults.
func DefaultLLMConfig() *LLMConfig {
	return &LLMConfig{
		APIKeyEnv:          "LLM_API_KEY",
		Model:              "gpt-4o-mini",
		Temperature:        0.2,
		MaxTokens:          1024,
		Timeout:            60 * time.Second,
		MaxRetries:         3,
		EmbeddingModel:     "text-embedding-3-small",
		EmbeddingDim:       1536,
		EmbeddingMaxTokens: 8192,
		EmbeddingCacheSize: 1024,
	}
}
