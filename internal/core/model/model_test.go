package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/storyforge/tapestry/internal/core/ontology"
)

func TestReinforceApproachesOne(t *testing.T) {
	e := &Edge{Confidence: 0.6}

	e.Reinforce(0.8)
	assert.InDelta(t, 0.92, e.Confidence, 1e-9)

	for i := 0; i < 50; i++ {
		e.Reinforce(0.9)
	}
	assert.LessOrEqual(t, e.Confidence, 1.0)
	assert.Greater(t, e.Confidence, 0.99)
}

func TestReinforceClampsInput(t *testing.T) {
	e := &Edge{Confidence: 0.5}
	e.Reinforce(1.5)
	assert.Equal(t, 1.0, e.Confidence)

	e2 := &Edge{Confidence: 0.5}
	e2.Reinforce(-0.3)
	assert.Equal(t, 0.5, e2.Confidence)
}

func TestEmbeddingStale(t *testing.T) {
	embedded := time.Now().UTC()
	n := &Node{
		UpdatedAt: embedded.Add(-time.Minute),
		Embedding: &Embedding{CreatedAt: embedded},
	}
	assert.False(t, n.EmbeddingStale())

	n.UpdatedAt = embedded.Add(time.Minute)
	assert.True(t, n.EmbeddingStale())

	assert.False(t, (&Node{}).EmbeddingStale())
}

func TestTerminated(t *testing.T) {
	assert.True(t, (&Node{Props: map[string]any{"status": "dead"}}).Terminated())
	assert.True(t, (&Node{Props: map[string]any{"status": "destroyed"}}).Terminated())
	assert.False(t, (&Node{Props: map[string]any{"status": "wounded"}}).Terminated())
	assert.False(t, (&Node{}).Terminated())
}

func TestOpenForeshadow(t *testing.T) {
	e := &Edge{Type: ontology.Foreshadows, Status: EdgeActive}
	assert.True(t, e.OpenForeshadow())

	e.Status = EdgeResolved
	assert.False(t, e.OpenForeshadow())

	assert.False(t, (&Edge{Type: ontology.Knows, Status: EdgeActive}).OpenForeshadow())
}

func TestSnapshotOrdinals(t *testing.T) {
	snap := &Snapshot{
		SceneOrder: map[string]int{"ch1-s1": 0, "ch1-s2": 1, "ch3-s4": 7},
	}

	assert.Equal(t, 0, snap.SceneOrdinal("ch1-s1"))
	assert.Equal(t, -1, snap.SceneOrdinal("unknown"))
	assert.Equal(t, 7, snap.LatestSceneOrdinal())

	e := &Edge{Scenes: []string{"ch3-s4", "ch1-s2"}}
	assert.Equal(t, 1, snap.EdgeOrdinal(e))
	assert.Equal(t, -1, snap.EdgeOrdinal(&Edge{Scenes: []string{"never-registered"}}))
}

func TestSnapshotAdjacency(t *testing.T) {
	e1 := &Edge{ID: "e1", SourceID: "a", TargetID: "b"}
	e2 := &Edge{ID: "e2", SourceID: "b", TargetID: "c"}
	loop := &Edge{ID: "e3", SourceID: "a", TargetID: "a"}
	snap := &Snapshot{
		Nodes: map[string]*Node{"a": {ID: "a"}, "b": {ID: "b"}, "c": {ID: "c"}},
		Edges: map[string]*Edge{"e1": e1, "e2": e2, "e3": loop},
	}

	assert.Equal(t, 2, snap.Degree("a"))
	assert.Equal(t, 2, snap.Degree("b"))
	assert.Equal(t, 1, snap.Degree("c"))
}
