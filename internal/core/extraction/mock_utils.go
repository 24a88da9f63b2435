package extraction

import (
	"context"

	"github.com/storyforge/tapestry/internal/llm"
)

type MockLLMClient struct {
	Response      string
	ResponseQueue []string
	Err           error
	Prompts       []string
}

func (m *MockLLMClient) Generate(ctx context.Context, prompt string) (string, error) {
	m.Prompts = append(m.Prompts, prompt)
	if m.Err != nil {
		return "", m.Err
	}
	if len(m.ResponseQueue) > 0 {
		resp := m.ResponseQueue[0]
		m.ResponseQueue = m.ResponseQueue[1:]
		return resp, nil
	}
	return m.Response, nil
}

type MockEmbedderClient struct {
	Response []float32
	Err      error
	ID       llm.Identity
}

func (m *MockEmbedderClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Response, nil
}

func (m *MockEmbedderClient) Identity() llm.Identity {
	if m.ID.Provider == "" {
		return llm.Identity{Provider: "mock", Model: "mock-embed"}
	}
	return m.ID
}
