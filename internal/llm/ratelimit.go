package llm

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitedClient wraps an LLMClient with a token-bucket limiter so
// concurrent tournament callers cannot stampede a provider. Wait respects
// the caller's context deadline, so a generative timeout still degrades
// instead of queueing forever.
type RateLimitedClient struct {
	inner   LLMClient
	limiter *rate.Limiter
}

func NewRateLimitedClient(inner LLMClient, requestsPerSecond float64, burst int) *RateLimitedClient {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 2
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedClient{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
	}
}

func (c *RateLimitedClient) Generate(ctx context.Context, prompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return c.inner.Generate(ctx, prompt)
}
