package analysis

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyforge/tapestry/internal/config"
	"github.com/storyforge/tapestry/internal/core/extraction"
	"github.com/storyforge/tapestry/internal/core/model"
	"github.com/storyforge/tapestry/internal/core/ontology"
)

func snapWithConflicts(nodeCount, hinders int) *model.Snapshot {
	snap := &model.Snapshot{
		Nodes:      map[string]*model.Node{},
		Edges:      map[string]*model.Edge{},
		SceneOrder: map[string]int{},
	}
	for i := 0; i < nodeCount; i++ {
		id := fmt.Sprintf("n%d", i)
		snap.Nodes[id] = &model.Node{ID: id, Type: ontology.Character, Name: id}
	}
	for i := 0; i < hinders; i++ {
		id := fmt.Sprintf("h%d", i)
		snap.Edges[id] = &model.Edge{
			ID: id, SourceID: "n0", TargetID: fmt.Sprintf("n%d", (i+1)%nodeCount),
			Type: ontology.Hinders, Status: model.EdgeActive,
		}
	}
	return snap
}

func TestTensionMonotonicInConflict(t *testing.T) {
	low := Tension(snapWithConflicts(10, 1))
	mid := Tension(snapWithConflicts(10, 5))
	high := Tension(snapWithConflicts(10, 20))

	assert.Less(t, low.Score, mid.Score)
	assert.Less(t, mid.Score, high.Score)
	assert.Less(t, high.Score, 1.0)
	assert.GreaterOrEqual(t, low.Score, 0.0)
}

func TestTensionIgnoresClosedForeshadows(t *testing.T) {
	snap := snapWithConflicts(5, 0)
	snap.Edges["f1"] = &model.Edge{
		ID: "f1", SourceID: "n0", TargetID: "n1",
		Type: ontology.Foreshadows, Status: model.EdgeActive,
	}
	open := Tension(snap)

	snap.Edges["f1"].Status = model.EdgeResolved
	closed := Tension(snap)

	assert.Greater(t, open.Score, closed.Score)
	assert.Zero(t, closed.ConflictEdges)
}

func TestTensionLabels(t *testing.T) {
	assert.Equal(t, "empty", Tension(&model.Snapshot{Nodes: map[string]*model.Node{}}).Label)
	assert.Equal(t, "slack", Tension(snapWithConflicts(20, 1)).Label)
	assert.Equal(t, "overloaded", Tension(snapWithConflicts(5, 30)).Label)
}

func TestPacingRatiosAndPlateaus(t *testing.T) {
	snap := &model.Snapshot{
		Nodes: map[string]*model.Node{
			"a": {ID: "a"}, "b": {ID: "b"},
		},
		Edges: map[string]*model.Edge{
			"act":   {ID: "act", SourceID: "a", TargetID: "b", Type: ontology.Causes, Scenes: []string{"s0"}},
			"setup": {ID: "setup", SourceID: "a", TargetID: "b", Type: ontology.Motivates, Scenes: []string{"s1"}},
			"res":   {ID: "res", SourceID: "b", TargetID: "a", Type: ontology.Callbacks, Scenes: []string{"s2"}},
			// No action again until scene 8: a six-scene plateau.
			"act2": {ID: "act2", SourceID: "b", TargetID: "a", Type: ontology.Challenges, Scenes: []string{"s8"}},
		},
		SceneOrder: map[string]int{
			"s0": 0, "s1": 1, "s2": 2, "s3": 3, "s4": 4,
			"s5": 5, "s6": 6, "s7": 7, "s8": 8,
		},
	}

	report := Pacing(snap, 4)
	assert.InDelta(t, 0.5, report.ActionRatio, 1e-9)
	assert.InDelta(t, 0.25, report.SetupRatio, 1e-9)
	assert.InDelta(t, 0.25, report.ResolutionRatio, 1e-9)

	require.Len(t, report.Plateaus, 1)
	assert.Equal(t, 1, report.Plateaus[0].FromOrdinal)
	assert.Equal(t, 7, report.Plateaus[0].ToOrdinal)

	// A looser threshold tolerates the gap.
	assert.Empty(t, Pacing(snap, 8).Plateaus)
}

func TestThemeScoresOverridePrecedence(t *testing.T) {
	snap := &model.Snapshot{
		Nodes: map[string]*model.Node{
			"betrayal": {ID: "betrayal", Type: ontology.Theme, Name: "Betrayal"},
			"ch2":      {ID: "ch2", Type: ontology.Event, Name: "Chapter Two"},
		},
		Edges: map[string]*model.Edge{
			"t1": {ID: "t1", SourceID: "betrayal", TargetID: "ch2",
				Type: ontology.AppearsIn, Confidence: 0.6, Scenes: []string{"ch2-s1"}},
		},
		SceneOrder: map[string]int{"ch2-s1": 4},
	}

	auto := ThemeScores(snap, nil)
	require.Len(t, auto, 1)
	assert.Equal(t, "ch2-s1", auto[0].BeatID)
	assert.Equal(t, 0.6, auto[0].Score)
	assert.False(t, auto[0].Overridden)

	// The stored override always wins, even over a stronger automated score.
	overridden := ThemeScores(snap, []*model.ThemeOverride{
		{BeatID: "ch2-s1", ThemeID: "betrayal", Score: 0.1},
	})
	require.Len(t, overridden, 1)
	assert.Equal(t, 0.1, overridden[0].Score)
	assert.True(t, overridden[0].Overridden)
}

func TestLabelPropagationTwoClusters(t *testing.T) {
	snap := &model.Snapshot{
		Nodes: map[string]*model.Node{
			"a1": {ID: "a1"}, "a2": {ID: "a2"}, "a3": {ID: "a3"},
			"b1": {ID: "b1"}, "b2": {ID: "b2"}, "b3": {ID: "b3"},
		},
		Edges: map[string]*model.Edge{
			"e1": {ID: "e1", SourceID: "a1", TargetID: "a2"},
			"e2": {ID: "e2", SourceID: "a2", TargetID: "a3"},
			"e3": {ID: "e3", SourceID: "a3", TargetID: "a1"},
			"e4": {ID: "e4", SourceID: "b1", TargetID: "b2"},
			"e5": {ID: "e5", SourceID: "b2", TargetID: "b3"},
			"e6": {ID: "e6", SourceID: "b3", TargetID: "b1"},
		},
		SceneOrder: map[string]int{},
	}

	grouped := Communities(snap)
	require.Len(t, grouped, 2)

	sizes := make(map[string]int)
	for _, members := range grouped {
		for _, id := range members {
			sizes[id[:1]]++
		}
		// Members never straddle the two triangles.
		prefix := members[0][:1]
		for _, id := range members {
			assert.Equal(t, prefix, id[:1])
		}
	}
	assert.Equal(t, 3, sizes["a"])
	assert.Equal(t, 3, sizes["b"])
}

func TestBridgesFindCutVertex(t *testing.T) {
	snap := &model.Snapshot{
		Nodes: map[string]*model.Node{
			"a1": {ID: "a1", Name: "A1"}, "a2": {ID: "a2", Name: "A2"},
			"mid": {ID: "mid", Name: "Middle"},
			"b1":  {ID: "b1", Name: "B1"}, "b2": {ID: "b2", Name: "B2"},
		},
		Edges: map[string]*model.Edge{
			"e1": {ID: "e1", SourceID: "a1", TargetID: "a2"},
			"e2": {ID: "e2", SourceID: "a2", TargetID: "mid"},
			"e3": {ID: "e3", SourceID: "mid", TargetID: "b1"},
			"e4": {ID: "e4", SourceID: "b1", TargetID: "b2"},
		},
		SceneOrder: map[string]int{},
	}

	bridges := Bridges(snap, 3)
	require.NotEmpty(t, bridges)
	assert.Equal(t, "mid", bridges[0].NodeID)
	assert.Equal(t, 1.0, bridges[0].Betweenness)
}

func TestSummarizeNamesCommunities(t *testing.T) {
	snap := &model.Snapshot{
		Nodes: map[string]*model.Node{
			"marcus": {ID: "marcus", Type: ontology.Character, Name: "Marcus"},
			"elena":  {ID: "elena", Type: ontology.Character, Name: "Elena"},
			"guild":  {ID: "guild", Type: ontology.Faction, Name: "Ledger Guild"},
		},
		Edges: map[string]*model.Edge{
			"e1": {ID: "e1", SourceID: "marcus", TargetID: "elena", Type: ontology.Knows},
			"e2": {ID: "e2", SourceID: "elena", TargetID: "guild", Type: ontology.MemberOf},
		},
		SceneOrder: map[string]int{},
	}

	mockLLM := &extraction.MockLLMClient{Response: `{"name": "The Ledger Conspiracy"}`}
	a := NewAnalyzer(mockLLM, config.VerificationConfig{PacingPlateauRun: 4})

	summary := a.Summarize(context.Background(), snap, nil)
	require.NotNil(t, summary)
	assert.Equal(t, 3, summary.Nodes)
	assert.Equal(t, 2, summary.Edges)
	require.NotEmpty(t, summary.Communities)
	assert.Equal(t, "The Ledger Conspiracy", summary.Communities[0].Name)
	assert.NotEmpty(t, mockLLM.Prompts)
	assert.Contains(t, mockLLM.Prompts[0], "Marcus (CHARACTER)")
}

func TestSummarizeWithoutLLM(t *testing.T) {
	snap := snapWithConflicts(4, 2)
	a := NewAnalyzer(nil, config.VerificationConfig{PacingPlateauRun: 4})

	summary := a.Summarize(context.Background(), snap, nil)
	require.NotNil(t, summary)
	for _, c := range summary.Communities {
		assert.Empty(t, c.Name)
	}
	assert.Greater(t, summary.Tension.Score, 0.0)
}
