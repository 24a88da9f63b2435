package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyforge/tapestry/internal/core/model"
	"github.com/storyforge/tapestry/internal/core/ontology"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

func addNode(t *testing.T, s GraphStore, id string, typ ontology.EntityType, name string) *model.Node {
	t.Helper()
	n := &model.Node{ID: id, Type: typ, Name: name}
	require.NoError(t, s.AddNode(context.Background(), n))
	return n
}

func addEdge(t *testing.T, s GraphStore, id, source, target string, typ ontology.RelationType) *model.Edge {
	t.Helper()
	e := &model.Edge{ID: id, SourceID: source, TargetID: target, Type: typ, Confidence: 0.8}
	require.NoError(t, s.AddEdge(context.Background(), e))
	return e
}

func TestNodeRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n := &model.Node{
		ID:    "n1",
		Type:  ontology.Character,
		Name:  "Marcus",
		Props: map[string]any{"description": "a dockside accountant"},
	}
	require.NoError(t, s.AddNode(ctx, n))

	got, err := s.GetNode(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, "Marcus", got.Name)
	assert.Equal(t, ontology.Character, got.Type)
	assert.Equal(t, "a dockside accountant", got.Props["description"])
	assert.Nil(t, got.Embedding)

	byName, err := s.NodeByName(ctx, "marcus")
	require.NoError(t, err)
	assert.Equal(t, "n1", byName.ID)

	_, err = s.GetNode(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestAddNodeRejectsUnknownType(t *testing.T) {
	s := newTestStore(t)

	err := s.AddNode(context.Background(), &model.Node{ID: "n1", Type: "PERSON", Name: "Marcus"})
	assert.True(t, model.IsValidation(err))

	err = s.AddNode(context.Background(), &model.Node{ID: "n2", Type: ontology.Character, Name: "  "})
	assert.True(t, model.IsValidation(err))
}

func TestAddEdgeValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	addNode(t, s, "marcus", ontology.Character, "Marcus")
	addNode(t, s, "guild", ontology.Faction, "The Ledger Guild")

	// Valid endpoints pass.
	addEdge(t, s, "e1", "marcus", "guild", ontology.MemberOf)

	// Wrong direction violates the endpoint spec.
	err := s.AddEdge(ctx, &model.Edge{
		ID: "e2", SourceID: "guild", TargetID: "marcus",
		Type: ontology.MemberOf, Confidence: 0.9,
	})
	assert.True(t, model.IsValidation(err))

	// Missing endpoints fail atomically.
	err = s.AddEdge(ctx, &model.Edge{
		ID: "e3", SourceID: "marcus", TargetID: "ghost",
		Type: ontology.Knows, Confidence: 0.9,
	})
	assert.True(t, model.IsValidation(err))

	// The failed writes left nothing behind.
	edges, err := s.AllEdges(ctx)
	require.NoError(t, err)
	assert.Len(t, edges, 1)
}

func TestDeleteNodeCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	addNode(t, s, "marcus", ontology.Character, "Marcus")
	addNode(t, s, "elena", ontology.Character, "Elena")
	addNode(t, s, "harbor", ontology.Location, "Harbor District")
	addEdge(t, s, "e1", "marcus", "elena", ontology.Knows)
	addEdge(t, s, "e2", "marcus", "harbor", ontology.LocatedIn)
	addEdge(t, s, "e3", "elena", "harbor", ontology.LocatedIn)

	require.NoError(t, s.DeleteNode(ctx, "marcus"))

	_, err := s.GetNode(ctx, "marcus")
	assert.ErrorIs(t, err, model.ErrNotFound)

	edges, err := s.AllEdges(ctx)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "e3", edges[0].ID)

	assert.ErrorIs(t, s.DeleteNode(ctx, "marcus"), model.ErrNotFound)
}

func TestFindEdgeSymmetric(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	addNode(t, s, "marcus", ontology.Character, "Marcus")
	addNode(t, s, "elena", ontology.Character, "Elena")
	addEdge(t, s, "knows", "marcus", "elena", ontology.Knows)
	addEdge(t, s, "motivates", "marcus", "elena", ontology.Motivates)

	// KNOWS is symmetric and matches in either direction.
	got, err := s.FindEdge(ctx, "elena", "marcus", ontology.Knows)
	require.NoError(t, err)
	assert.Equal(t, "knows", got.ID)

	// MOTIVATES is directed.
	_, err = s.FindEdge(ctx, "elena", "marcus", ontology.Motivates)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestEmbeddingRoundTripAndStaleness(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	addNode(t, s, "marcus", ontology.Character, "Marcus")

	emb := &model.Embedding{
		Vector:    []float32{0.1, 0.2, 0.3},
		Provider:  "openai",
		Model:     "text-embedding-3-small",
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.SetNodeEmbedding(ctx, "marcus", emb))

	got, err := s.GetNode(ctx, "marcus")
	require.NoError(t, err)
	require.NotNil(t, got.Embedding)
	assert.Equal(t, "openai", got.Embedding.Provider)
	assert.False(t, got.EmbeddingStale())

	// A later property edit marks the vector stale.
	time.Sleep(2 * time.Millisecond)
	_, err = s.UpdateNodeProps(ctx, "marcus", map[string]any{"status": "missing"})
	require.NoError(t, err)

	got, err = s.GetNode(ctx, "marcus")
	require.NoError(t, err)
	assert.True(t, got.EmbeddingStale())

	assert.ErrorIs(t, s.SetNodeEmbedding(ctx, "ghost", emb), model.ErrNotFound)
}

func TestVersionBumpsOnMutation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v0, err := s.Version(ctx)
	require.NoError(t, err)

	addNode(t, s, "marcus", ontology.Character, "Marcus")
	v1, err := s.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, v0+1, v1)

	_, err = s.UpdateNodeProps(ctx, "marcus", map[string]any{"mood": "wary"})
	require.NoError(t, err)
	v2, err := s.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, v1+1, v2)

	// Reads do not bump.
	_, err = s.Snapshot(ctx)
	require.NoError(t, err)
	v3, err := s.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, v2, v3)
}

func TestExtractionRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetExtraction(ctx, "ch1-s1", "narrative-v1")
	assert.ErrorIs(t, err, model.ErrNotFound)

	rec := &model.ExtractionRecord{
		SceneID:         "ch1-s1",
		OntologyVersion: "narrative-v1",
		ContentHash:     "abc123",
		NodeIDs:         []string{"n1"},
	}
	require.NoError(t, s.RecordExtraction(ctx, rec))

	got, err := s.GetExtraction(ctx, "ch1-s1", "narrative-v1")
	require.NoError(t, err)
	assert.Equal(t, "abc123", got.ContentHash)
	assert.Equal(t, []string{"n1"}, got.NodeIDs)

	// Re-recording the same key overwrites.
	rec.ContentHash = "def456"
	require.NoError(t, s.RecordExtraction(ctx, rec))
	got, err = s.GetExtraction(ctx, "ch1-s1", "narrative-v1")
	require.NoError(t, err)
	assert.Equal(t, "def456", got.ContentHash)
}

func TestSceneRegistryAndSnapshot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	addNode(t, s, "marcus", ontology.Character, "Marcus")
	addNode(t, s, "elena", ontology.Character, "Elena")
	addEdge(t, s, "e1", "marcus", "elena", ontology.Knows)

	require.NoError(t, s.RegisterScene(ctx, "ch1-s1", 0))
	require.NoError(t, s.RegisterScene(ctx, "ch1-s2", 1))
	require.NoError(t, s.RegisterScene(ctx, "ch1-s2", 3)) // re-registration moves the scene

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Nodes, 2)
	assert.Len(t, snap.Edges, 1)
	assert.Equal(t, 3, snap.SceneOrder["ch1-s2"])
	assert.Equal(t, 3, snap.LatestSceneOrdinal())

	v, err := s.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, v, snap.Version)
}

func TestThemeOverrides(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ov := &model.ThemeOverride{BeatID: "ch2", ThemeID: "betrayal", Score: 0.4}
	require.NoError(t, s.PutThemeOverride(ctx, ov))

	// Upsert on the same key.
	ov2 := &model.ThemeOverride{BeatID: "ch2", ThemeID: "betrayal", Score: 0.9, Rationale: "editor call"}
	require.NoError(t, s.PutThemeOverride(ctx, ov2))

	all, err := s.ThemeOverrides(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 0.9, all[0].Score)
	assert.Equal(t, "editor call", all[0].Rationale)
}

func TestIssueLog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendIssues(ctx, nil))

	issues := []*model.Issue{
		{ID: "i1", Severity: model.SeverityWarning, Tier: model.TierFast, Kind: "unresolved_foreshadow", Message: "still open", CreatedAt: time.Now().UTC().Add(-time.Minute)},
		{ID: "i2", Severity: model.SeverityError, Tier: model.TierFast, Kind: "terminated_entity_active", Message: "dead but active", CreatedAt: time.Now().UTC()},
	}
	require.NoError(t, s.AppendIssues(ctx, issues))

	got, err := s.Issues(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	// Most recent first.
	assert.Equal(t, "i2", got[0].ID)

	got, err = s.Issues(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
