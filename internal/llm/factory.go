package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/storyforge/tapestry/internal/config"
)

// NewClient builds the generative and embedding clients for the configured
// provider. The embedder may be nil (claude, or no provider at all); callers
// are required to degrade to structural retrieval in that case.
func NewClient(ctx context.Context, cfg config.LLMConfig) (LLMClient, EmbedderClient, error) {
	provider := strings.ToLower(cfg.Provider)

	var gen LLMClient
	var emb EmbedderClient

	switch provider {
	case "openai":
		c := NewOpenAIClient(cfg.APIKey, cfg.Model, cfg.EmbeddingModel, cfg.BaseURL)
		gen, emb = c, c

	case "gemini":
		c, err := NewGeminiClient(ctx, cfg.APIKey, cfg.Model, cfg.EmbeddingModel)
		if err != nil {
			return nil, nil, err
		}
		gen, emb = c, c

	case "claude":
		gen = NewClaudeClient(cfg.APIKey, cfg.Model, cfg.BaseURL)
		// No embedding API; emb stays nil and search degrades.

	case "ollama":
		// Ollama speaks the OpenAI-compatible API; reuse that client.
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		if !strings.HasSuffix(baseURL, "/v1") {
			baseURL = fmt.Sprintf("%s/v1", strings.TrimRight(baseURL, "/"))
		}
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = "ollama"
		}
		c := NewOpenAIClient(apiKey, cfg.Model, cfg.EmbeddingModel, baseURL)
		gen, emb = c, c

	case "", "none":
		// Graph-only mode: no generative extraction, structural retrieval
		// everywhere.
		return nil, nil, nil

	default:
		return nil, nil, fmt.Errorf("unsupported llm provider: %s", provider)
	}

	gen = NewRateLimitedClient(gen, cfg.RequestsPerSecond, cfg.Burst)
	return gen, emb, nil
}
