package verify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyforge/tapestry/internal/config"
	"github.com/storyforge/tapestry/internal/core/model"
	"github.com/storyforge/tapestry/internal/core/ontology"
)

func testVerifyConfig() config.VerificationConfig {
	return config.VerificationConfig{
		ForeshadowStaleScenes: 20,
		ChallengeGapMin:       1,
		PacingPlateauRun:      4,
	}
}

func kindsOf(issues []*model.Issue) []string {
	kinds := make([]string, 0, len(issues))
	for _, is := range issues {
		kinds = append(kinds, is.Kind)
	}
	return kinds
}

func TestFastTerminatedActivity(t *testing.T) {
	died := time.Now().UTC().Add(-time.Hour)
	snap := &model.Snapshot{
		Nodes: map[string]*model.Node{
			"marcus": {ID: "marcus", Type: ontology.Character, Name: "Marcus",
				Props: map[string]any{"status": "dead"}, UpdatedAt: died},
			"elena": {ID: "elena", Type: ontology.Character, Name: "Elena", UpdatedAt: died},
		},
		Edges: map[string]*model.Edge{
			// New action driven by the dead character.
			"e1": {ID: "e1", SourceID: "marcus", TargetID: "elena",
				Type: ontology.Hinders, Confidence: 0.8, UpdatedAt: died.Add(time.Minute)},
			// Neutral relation, no issue.
			"e2": {ID: "e2", SourceID: "marcus", TargetID: "elena",
				Type: ontology.Knows, Confidence: 0.8, UpdatedAt: died.Add(time.Minute)},
		},
		SceneOrder: map[string]int{},
	}

	issues := Fast(snap, testVerifyConfig())
	require.Len(t, issues, 1)
	assert.Equal(t, "terminated_entity_active", issues[0].Kind)
	assert.Equal(t, model.SeverityError, issues[0].Severity)
	assert.Equal(t, []string{"marcus"}, issues[0].NodeIDs)
}

func TestFastRecordedContradictions(t *testing.T) {
	snap := &model.Snapshot{
		Nodes: map[string]*model.Node{
			"a": {ID: "a"}, "b": {ID: "b"},
		},
		Edges: map[string]*model.Edge{
			"c1": {ID: "c1", SourceID: "a", TargetID: "b", Type: ontology.Contradicts},
		},
		SceneOrder: map[string]int{},
	}

	issues := Fast(snap, testVerifyConfig())
	require.Len(t, issues, 1)
	assert.Equal(t, "open_contradiction", issues[0].Kind)
}

func TestFastForeshadowStaleness(t *testing.T) {
	order := make(map[string]int)
	order["s0"] = 0
	order["s20"] = 20
	order["s21"] = 21

	planted := &model.Edge{
		ID: "f1", SourceID: "omen", TargetID: "storm",
		Type: ontology.Foreshadows, Status: model.EdgeActive,
		Scenes: []string{"s0"},
	}
	snap := &model.Snapshot{
		Nodes: map[string]*model.Node{
			"omen": {ID: "omen"}, "storm": {ID: "storm"},
		},
		Edges:      map[string]*model.Edge{"f1": planted},
		SceneOrder: map[string]int{"s0": 0, "s20": 20},
	}

	// Exactly at the threshold: still fine.
	assert.Empty(t, Fast(snap, testVerifyConfig()))

	// One scene past it: flagged.
	snap.SceneOrder = order
	issues := Fast(snap, testVerifyConfig())
	require.Len(t, issues, 1)
	assert.Equal(t, "unresolved_foreshadow", issues[0].Kind)

	// Resolved and abandoned threads are never flagged.
	planted.Status = model.EdgeResolved
	assert.Empty(t, Fast(snap, testVerifyConfig()))
	planted.Status = model.EdgeAbandoned
	assert.Empty(t, Fast(snap, testVerifyConfig()))
}

func TestMediumChallengeGap(t *testing.T) {
	snap := &model.Snapshot{
		Nodes: map[string]*model.Node{
			"marcus": {ID: "marcus", Type: ontology.Character, Name: "Marcus"},
			"elena":  {ID: "elena", Type: ontology.Character, Name: "Elena"},
			"harbor": {ID: "harbor", Type: ontology.Location, Name: "Harbor"},
			"guild":  {ID: "guild", Type: ontology.Faction, Name: "Guild"},
		},
		Edges: map[string]*model.Edge{
			// Marcus is well connected but never challenged.
			"e1": {ID: "e1", SourceID: "marcus", TargetID: "elena", Type: ontology.Knows},
			"e2": {ID: "e2", SourceID: "marcus", TargetID: "harbor", Type: ontology.LocatedIn},
			"e3": {ID: "e3", SourceID: "marcus", TargetID: "guild", Type: ontology.MemberOf},
		},
		SceneOrder: map[string]int{},
	}

	issues := Medium(snap, testVerifyConfig())
	require.Len(t, issues, 1)
	assert.Equal(t, "challenge_gap", issues[0].Kind)
	assert.Equal(t, []string{"marcus"}, issues[0].NodeIDs)

	// A single HINDERS against him satisfies the minimum.
	snap = &model.Snapshot{
		Nodes: snap.Nodes,
		Edges: map[string]*model.Edge{
			"e1": snap.Edges["e1"], "e2": snap.Edges["e2"], "e3": snap.Edges["e3"],
			"h1": {ID: "h1", SourceID: "guild", TargetID: "marcus", Type: ontology.Hinders},
		},
		SceneOrder: map[string]int{},
	}
	assert.Empty(t, kindsOf(Medium(snap, testVerifyConfig())))
}

func TestMediumBeatDeviation(t *testing.T) {
	nodes := map[string]*model.Node{
		"a": {ID: "a"}, "b": {ID: "b"},
	}
	edges := map[string]*model.Edge{
		// Opening third: action. Middle third: setup only.
		"a1": {ID: "a1", SourceID: "a", TargetID: "b", Type: ontology.Causes, Scenes: []string{"s0"}},
		"a2": {ID: "a2", SourceID: "b", TargetID: "a", Type: ontology.Challenges, Scenes: []string{"s1"}},
		"s1": {ID: "s1", SourceID: "a", TargetID: "b", Type: ontology.Motivates, Scenes: []string{"s4"}},
		"s2": {ID: "s2", SourceID: "b", TargetID: "a", Type: ontology.Foreshadows, Scenes: []string{"s5"},
			Status: model.EdgeActive},
	}
	order := map[string]int{}
	for i := 0; i <= 9; i++ {
		order[string(rune('s'))+string(rune('0'+i))] = i
	}

	snap := &model.Snapshot{Nodes: nodes, Edges: edges, SceneOrder: order}
	issues := Medium(snap, testVerifyConfig())

	assert.Contains(t, kindsOf(issues), "beat_deviation")
}
