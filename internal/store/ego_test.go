package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyforge/tapestry/internal/core/model"
	"github.com/storyforge/tapestry/internal/core/ontology"
)

func TestEgoGraphRadiusZero(t *testing.T) {
	s := newTestStore(t)
	addNode(t, s, "marcus", ontology.Character, "Marcus")
	addNode(t, s, "elena", ontology.Character, "Elena")
	addEdge(t, s, "e1", "marcus", "elena", ontology.Knows)

	ego, err := EgoGraph(context.Background(), s, "marcus", 0, 50)
	require.NoError(t, err)
	assert.Len(t, ego.Nodes, 1)
	assert.Empty(t, ego.Edges)
	assert.Equal(t, "marcus", ego.CenterID)
	assert.False(t, ego.Truncated)
}

func TestEgoGraphOneHop(t *testing.T) {
	s := newTestStore(t)
	addNode(t, s, "marcus", ontology.Character, "Marcus")
	addNode(t, s, "elena", ontology.Character, "Elena")
	addNode(t, s, "harbor", ontology.Location, "Harbor District")
	addNode(t, s, "guild", ontology.Faction, "Ledger Guild")
	addEdge(t, s, "e1", "marcus", "elena", ontology.Knows)
	addEdge(t, s, "e2", "marcus", "harbor", ontology.LocatedIn)
	addEdge(t, s, "e3", "elena", "guild", ontology.MemberOf) // two hops out

	ego, err := EgoGraph(context.Background(), s, "marcus", 1, 50)
	require.NoError(t, err)
	assert.Len(t, ego.Nodes, 3)
	assert.NotContains(t, ego.Nodes, "guild")
	assert.Contains(t, ego.Edges, "e1")
	assert.Contains(t, ego.Edges, "e2")

	// Incoming edges count too.
	ego, err = EgoGraph(context.Background(), s, "elena", 1, 50)
	require.NoError(t, err)
	assert.Contains(t, ego.Nodes, "marcus")
	assert.Contains(t, ego.Nodes, "guild")
}

func TestEgoGraphTwoHops(t *testing.T) {
	s := newTestStore(t)
	addNode(t, s, "marcus", ontology.Character, "Marcus")
	addNode(t, s, "elena", ontology.Character, "Elena")
	addNode(t, s, "guild", ontology.Faction, "Ledger Guild")
	addEdge(t, s, "e1", "marcus", "elena", ontology.Knows)
	addEdge(t, s, "e2", "elena", "guild", ontology.MemberOf)

	ego, err := EgoGraph(context.Background(), s, "marcus", 2, 50)
	require.NoError(t, err)
	assert.Len(t, ego.Nodes, 3)
	assert.Len(t, ego.Edges, 2)
}

func TestEgoGraphTruncation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	addNode(t, s, "hub", ontology.Character, "Hub")

	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("n%d", i)
		addNode(t, s, id, ontology.Character, fmt.Sprintf("Character %d", i))
		e := &model.Edge{
			ID: fmt.Sprintf("e%d", i), SourceID: "hub", TargetID: id,
			Type: ontology.Knows, Confidence: float64(i) / 10,
		}
		require.NoError(t, s.AddEdge(ctx, e))
	}

	ego, err := EgoGraph(ctx, s, "hub", 1, 5)
	require.NoError(t, err)
	assert.True(t, ego.Truncated)
	assert.Len(t, ego.Nodes, 5)

	// Highest-confidence neighbors are the ones admitted.
	assert.Contains(t, ego.Nodes, "n9")
	assert.Contains(t, ego.Nodes, "n8")
	assert.NotContains(t, ego.Nodes, "n0")
}

func TestEgoGraphMissingCenter(t *testing.T) {
	s := newTestStore(t)
	_, err := EgoGraph(context.Background(), s, "nobody", 2, 50)
	assert.ErrorIs(t, err, model.ErrNotFound)
}
