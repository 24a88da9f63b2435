package llm

import (
	"context"
)

// LLMClient is the generative capability used by extraction, SLOW
// verification, and community naming.
type LLMClient interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Identity names the provider and model behind an embedder. It is stored
// alongside every vector; similarity ranking never mixes identities.
type Identity struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// EmbedderClient is the embedding capability. Provider swap is
// configuration, not subclassing.
type EmbedderClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Identity() Identity
}

// RerankerClient reorders candidate documents by relevance to a query.
type RerankerClient interface {
	Rank(ctx context.Context, query string, documents []string) ([]int, error)
}
