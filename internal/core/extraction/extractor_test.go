package extraction

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyforge/tapestry/internal/config"
	"github.com/storyforge/tapestry/internal/core/model"
)

func TestExtractScene(t *testing.T) {
	mockJSON := `{
		"entities": [
			{"name": "Marcus", "entity_type": "CHARACTER", "confidence": 0.95},
			{"name": "Elena", "entity_type": "CHARACTER", "confidence": 0.9},
			{"name": "the ledger", "entity_type": "OBJECT", "confidence": 0.85}
		],
		"relations": [
			{"source": "Marcus", "target": "Elena", "relation_type": "KNOWS", "confidence": 0.9, "fact": "Marcus confided in Elena"},
			{"source": "Marcus", "target": "the ledger", "relation_type": "OWNS", "confidence": 0.8}
		]
	}`

	mockLLM := &MockLLMClient{Response: mockJSON}
	extractor := NewExtractor(mockLLM, config.ExtractionPrompts{})

	graph, dropped, err := extractor.Extract(context.Background(),
		"ch1-s1", "Marcus showed Elena the ledger.", nil)

	require.NoError(t, err)
	assert.Zero(t, dropped)
	require.Len(t, graph.Entities, 3)
	assert.Equal(t, "Marcus", graph.Entities[0].Name)
	assert.Equal(t, "CHARACTER", graph.Entities[0].EntityType)
	require.Len(t, graph.Relations, 2)
	assert.Equal(t, "KNOWS", graph.Relations[0].RelationType)
	assert.Equal(t, "Marcus confided in Elena", graph.Relations[0].Fact)

	// The prompt carries the vocabulary, the known-entity list, and the scene.
	require.Len(t, mockLLM.Prompts, 1)
	assert.Contains(t, mockLLM.Prompts[0], "CHARACTER, LOCATION, EVENT, THEME, OBJECT, FACTION")
	assert.Contains(t, mockLLM.Prompts[0], "(none yet)")
	assert.Contains(t, mockLLM.Prompts[0], "Marcus showed Elena the ledger.")
}

func TestExtractDropsOutOfOntology(t *testing.T) {
	mockJSON := `{
		"entities": [
			{"name": "Marcus", "entity_type": "CHARACTER", "confidence": 0.95},
			{"name": "Despair", "entity_type": "EMOTION", "confidence": 0.7}
		],
		"relations": [
			{"source": "Marcus", "target": "Despair", "relation_type": "FEELS", "confidence": 0.7},
			{"source": "Marcus", "target": "", "relation_type": "KNOWS", "confidence": 0.7}
		]
	}`

	extractor := NewExtractor(&MockLLMClient{Response: mockJSON}, config.ExtractionPrompts{})

	graph, dropped, err := extractor.Extract(context.Background(), "ch1-s1", "...", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, dropped)
	assert.Len(t, graph.Entities, 1)
	assert.Empty(t, graph.Relations)
}

func TestExtractDefaultsConfidence(t *testing.T) {
	mockJSON := `{
		"entities": [{"name": "Marcus", "entity_type": "CHARACTER", "confidence": 7}],
		"relations": []
	}`
	extractor := NewExtractor(&MockLLMClient{Response: mockJSON}, config.ExtractionPrompts{})

	graph, _, err := extractor.Extract(context.Background(), "ch1-s1", "...", nil)
	require.NoError(t, err)
	assert.Equal(t, 0.5, graph.Entities[0].Confidence)
}

func TestExtractProviderFailure(t *testing.T) {
	extractor := NewExtractor(&MockLLMClient{Err: errors.New("connection refused")}, config.ExtractionPrompts{})

	_, _, err := extractor.Extract(context.Background(), "ch1-s1", "...", nil)
	assert.ErrorIs(t, err, model.ErrProviderUnavailable)

	nilExtractor := NewExtractor(nil, config.ExtractionPrompts{})
	_, _, err = nilExtractor.Extract(context.Background(), "ch1-s1", "...", nil)
	assert.ErrorIs(t, err, model.ErrProviderUnavailable)
}

func TestExtractKnownEntitiesInPrompt(t *testing.T) {
	mockLLM := &MockLLMClient{Response: `{"entities": [], "relations": []}`}
	extractor := NewExtractor(mockLLM, config.ExtractionPrompts{})

	known := &model.EgoGraph{Nodes: map[string]*model.Node{
		"m": {ID: "m", Name: "Marcus", Type: "CHARACTER"},
		"h": {ID: "h", Name: "Harbor District", Type: "LOCATION"},
	}}
	_, _, err := extractor.Extract(context.Background(), "ch2-s1", "He returned to the docks.", known)
	require.NoError(t, err)

	assert.Contains(t, mockLLM.Prompts[0], "- Marcus (CHARACTER)")
	assert.Contains(t, mockLLM.Prompts[0], "- Harbor District (LOCATION)")
}

func TestCheckContradictions(t *testing.T) {
	mockLLM := &MockLLMClient{Response: `{"contradicted_edge_ids": ["edge-7"]}`}
	extractor := NewExtractor(mockLLM, config.ExtractionPrompts{})

	existing := []*model.Edge{
		{ID: "edge-7", Props: map[string]any{"fact": "Marcus died at the harbor"}},
		{ID: "edge-9", Props: map[string]any{"fact": "Elena owns the ledger"}},
	}
	ids, err := extractor.CheckContradictions(context.Background(),
		"Marcus walked into the guild hall", existing)

	require.NoError(t, err)
	assert.Equal(t, []string{"edge-7"}, ids)
	assert.Contains(t, mockLLM.Prompts[0], "ID: edge-7, Fact: Marcus died at the harbor")
}

func TestCheckContradictionsSkipsWhenNothingToCompare(t *testing.T) {
	extractor := NewExtractor(&MockLLMClient{}, config.ExtractionPrompts{})

	ids, err := extractor.CheckContradictions(context.Background(), "a new fact", nil)
	assert.NoError(t, err)
	assert.Nil(t, ids)
}

func TestCheckContradictionsUnparseableResponse(t *testing.T) {
	extractor := NewExtractor(&MockLLMClient{Response: "I am not sure"}, config.ExtractionPrompts{})

	ids, err := extractor.CheckContradictions(context.Background(), "a new fact",
		[]*model.Edge{{ID: "e1"}})
	assert.NoError(t, err)
	assert.Nil(t, ids)
}
