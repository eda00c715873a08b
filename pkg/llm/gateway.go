// Package llm is the single call-out to the model provider: chat
// completions for the consolidation pipeline and embeddings for event
// search. It owns retries, token accounting, and the prompt registry.
package llm

import "context"

// CompleteOptions tunes one completion call.
type CompleteOptions struct {
	// Model overrides the configured default when non-empty.
	Model string

	// Temperature overrides the configured default when non-nil.
	Temperature *float64

	// MaxTokens caps the reply. Zero keeps the configured default.
	MaxTokens int

	// PromptID names the system prompt for the prompt registry. When the
	// call carries an empty SystemPrompt and the id is registered, the
	// registered text is used.
	PromptID string

	// NoCache bypasses the prompt registry for this call.
	NoCache bool
}

// EmbedPhase labels why an embedding is requested, for logging and
// telemetry.
type EmbedPhase string

// Embedding phases.
const (
	PhaseDocument EmbedPhase = "document"
	PhaseQuery    EmbedPhase = "query"
)

// Gateway is the provider contract the pipeline, event store, and
// composer depend on. Returned completion text is uninterpreted; parsing
// belongs to the prompt contracts.
type Gateway interface {
	Complete(ctx context.Context, projectID, input, systemPrompt string, opts CompleteOptions) (string, error)
	Embed(ctx context.Context, projectID string, texts []string, phase EmbedPhase) ([][]float32, error)
}

// UsageRecorder folds per-call token counts into a project's daily
// telemetry and refuses calls once the project's token quota is spent.
// Implemented by the project service.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, projectID string, inputTokens, outputTokens int) error
	CheckQuota(ctx context.Context, projectID string) error
}
