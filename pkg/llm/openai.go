package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/sekai-app/sekai-memobase/pkg/config"
	"github.com/sekai-app/sekai-memobase/pkg/tokens"
)

// OpenAIGateway talks to any OpenAI-compatible endpoint through
// langchaingo. One instance serves all projects; usage is attributed per
// call.
type OpenAIGateway struct {
	model   *openai.LLM
	cfg     *config.LLMConfig
	usage   UsageRecorder
	counter *tokens.Counter

	// embedCache short-circuits repeat embeddings of identical text,
	// keyed by sha256 of the input.
	embedCache *lru.Cache[string, []float32]

	// prompts is the registry of stable system prompts by id.
	mu      sync.RWMutex
	prompts map[string]string
}

// NewOpenAIGateway builds the gateway from configuration. The API key is
// read from the environment variable the config names.
func NewOpenAIGateway(cfg *config.LLMConfig, usage UsageRecorder, counter *tokens.Counter) (*OpenAIGateway, error) {
	apiKey := os.Getenv(cfg.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("missing API key: environment variable %s is empty", cfg.APIKeyEnv)
	}

	opts := []openai.Option{
		openai.WithToken(apiKey),
		openai.WithModel(cfg.Model),
		openai.WithEmbeddingModel(cfg.EmbeddingModel),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenAI client: %w", err)
	}

	cacheSize := cfg.EmbeddingCacheSize
	if cacheSize < 1 {
		cacheSize = 1024
	}
	cache, err := lru.New[string, []float32](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}

	slog.Info("LLM gateway initialized",
		"model", cfg.Model,
		"embedding_model", cfg.EmbeddingModel,
		"base_url", cfg.BaseURL)

	return &OpenAIGateway{
		model:      model,
		cfg:        cfg,
		usage:      usage,
		counter:    counter,
		embedCache: cache,
		prompts:    make(map[string]string),
	}, nil
}

// RegisterPrompt stores a stable system prompt under an id so callers can
// send only their per-call input. Re-registering replaces the text.
func (g *OpenAIGateway) RegisterPrompt(id, text string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts[id] = text
}

func (g *OpenAIGateway) registeredPrompt(id string) string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.prompts[id]
}

// Complete runs one chat completion. Transient provider failures are
// retried with exponential backoff inside the call; past the retry budget
// the error is permanent for this caller.
func (g *OpenAIGateway) Complete(ctx context.Context, projectID, input, systemPrompt string, opts CompleteOptions) (string, error) {
	if err := g.checkQuota(ctx, projectID); err != nil {
		return "", err
	}

	if systemPrompt == "" && opts.PromptID != "" && !opts.NoCache {
		systemPrompt = g.registeredPrompt(opts.PromptID)
	}

	messages := make([]llms.MessageContent, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, input))

	callOpts := g.buildCallOptions(opts)

	operation := func() (string, error) {
		callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()

		resp, err := g.model.GenerateContent(callCtx, messages, callOpts...)
		if err != nil {
			if isTransient(err) {
				return "", err
			}
			return "", backoff.Permanent(err)
		}
		if len(resp.Choices) == 0 {
			return "", backoff.Permanent(fmt.Errorf("provider returned no choices"))
		}

		choice := resp.Choices[0]
		g.recordCompletionUsage(ctx, projectID, systemPrompt+input, choice)
		return choice.Content, nil
	}

	out, err := backoff.RetryWithData(operation, g.newBackOff(ctx))
	if err != nil {
		return "", fmt.Errorf("%w: completion failed: %v", ErrUnavailable, err)
	}
	return out, nil
}

func (g *OpenAIGateway) buildCallOptions(opts CompleteOptions) []llms.CallOption {
	temperature := g.cfg.Temperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}
	maxTokens := g.cfg.MaxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}

	callOpts := []llms.CallOption{llms.WithTemperature(temperature)}
	if maxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(maxTokens))
	}
	if opts.Model != "" {
		callOpts = append(callOpts, llms.WithModel(opts.Model))
	}
	return callOpts
}

func (g *OpenAIGateway) newBackOff(ctx context.Context) backoff.BackOff {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 500 * time.Millisecond
	expo.MaxInterval = 10 * time.Second
	retries := g.cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(expo, uint64(retries)), ctx)
}

// checkQuota refuses the call before any provider traffic when the
// project has spent its token quota.
func (g *OpenAIGateway) checkQuota(ctx context.Context, projectID string) error {
	if g.usage == nil {
		return nil
	}
	return g.usage.CheckQuota(ctx, projectID)
}

// recordCompletionUsage prefers the provider's reported token counts and
// falls back to local counting when they are absent.
func (g *OpenAIGateway) recordCompletionUsage(ctx context.Context, projectID, input string, choice *llms.ContentChoice) {
	if g.usage == nil {
		return
	}
	inTokens := intFromGenerationInfo(choice.GenerationInfo, "PromptTokens")
	outTokens := intFromGenerationInfo(choice.GenerationInfo, "CompletionTokens")
	if inTokens == 0 && g.counter != nil {
		inTokens = g.counter.Count(input)
	}
	if outTokens == 0 && g.counter != nil {
		outTokens = g.counter.Count(choice.Content)
	}
	if err := g.usage.RecordUsage(ctx, projectID, inTokens, outTokens); err != nil {
		slog.Warn("failed to record LLM usage", "project_id", projectID, "error", err)
	}
}

func intFromGenerationInfo(info map[string]any, key string) int {
	if info == nil {
		return 0
	}
	switch v := info[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// Embed returns one vector per input text, in order. Repeat texts are
// served from the in-process cache; only misses hit the provider.
func (g *OpenAIGateway) Embed(ctx context.Context, projectID string, texts []string, phase EmbedPhase) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	for i, text := range texts {
		if vec, ok := g.embedCache.Get(embedKey(text)); ok {
			out[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}
	if len(missTexts) == 0 {
		return out, nil
	}
	if err := g.checkQuota(ctx, projectID); err != nil {
		return nil, err
	}

	operation := func() ([][]float32, error) {
		callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()

		vectors, err := g.model.CreateEmbedding(callCtx, missTexts)
		if err != nil {
			if isTransient(err) {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		return vectors, nil
	}

	vectors, err := backoff.RetryWithData(operation, g.newBackOff(ctx))
	if err != nil {
		return nil, fmt.Errorf("%w: embedding failed (phase %s): %v", ErrUnavailable, phase, err)
	}
	if len(vectors) != len(missTexts) {
		return nil, fmt.Errorf("provider returned %d embeddings for %d texts", len(vectors), len(missTexts))
	}

	inTokens := 0
	for i, vec := range vectors {
		out[missIdx[i]] = vec
		g.embedCache.Add(embedKey(missTexts[i]), vec)
		if g.counter != nil {
			inTokens += g.counter.Count(missTexts[i])
		}
	}
	if g.usage != nil && inTokens > 0 {
		if err := g.usage.RecordUsage(ctx, projectID, inTokens, 0); err != nil {
			slog.Warn("failed to record embedding usage", "project_id", projectID, "error", err)
		}
	}
	return out, nil
}

func embedKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
