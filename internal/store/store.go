// Package store persists the narrative graph. Two backends implement
// GraphStore: an embedded SQLite store (default) and a Memgraph/Neo4j
// store for deployments that already run a graph database.
package store

import (
	"context"
	"strings"

	"github.com/storyforge/tapestry/internal/core/model"
	"github.com/storyforge/tapestry/internal/core/ontology"
)

// GraphStore is the persistence contract. Every mutation validates against
// the ontology and fails atomically with a ValidationError otherwise.
// Version is a monotonic mutation counter used for optimistic conflict
// detection by long-running snapshot readers.
type GraphStore interface {
	AddNode(ctx context.Context, n *model.Node) error
	GetNode(ctx context.Context, id string) (*model.Node, error)
	UpdateNodeProps(ctx context.Context, id string, props map[string]any) (*model.Node, error)
	SetNodeEmbedding(ctx context.Context, id string, emb *model.Embedding) error
	DeleteNode(ctx context.Context, id string) error
	NodesByType(ctx context.Context, t ontology.EntityType) ([]*model.Node, error)
	NodeByName(ctx context.Context, name string) (*model.Node, error)
	AllNodes(ctx context.Context) ([]*model.Node, error)

	AddEdge(ctx context.Context, e *model.Edge) error
	GetEdge(ctx context.Context, id string) (*model.Edge, error)
	UpdateEdge(ctx context.Context, e *model.Edge) error
	DeleteEdge(ctx context.Context, id string) error
	EdgesByType(ctx context.Context, t ontology.RelationType) ([]*model.Edge, error)
	EdgesForNode(ctx context.Context, nodeID string) ([]*model.Edge, error)
	FindEdge(ctx context.Context, sourceID, targetID string, t ontology.RelationType) (*model.Edge, error)
	AllEdges(ctx context.Context) ([]*model.Edge, error)

	RecordExtraction(ctx context.Context, rec *model.ExtractionRecord) error
	GetExtraction(ctx context.Context, sceneID, ontologyVersion string) (*model.ExtractionRecord, error)

	RegisterScene(ctx context.Context, sceneID string, ordinal int) error
	SceneOrder(ctx context.Context) (map[string]int, error)

	PutThemeOverride(ctx context.Context, ov *model.ThemeOverride) error
	ThemeOverrides(ctx context.Context) ([]*model.ThemeOverride, error)

	AppendIssues(ctx context.Context, issues []*model.Issue) error
	Issues(ctx context.Context, limit int) ([]*model.Issue, error)

	Snapshot(ctx context.Context) (*model.Snapshot, error)
	Version(ctx context.Context) (uint64, error)
	Close(ctx context.Context) error
}

// validateNode checks the node against the ontology before any write.
func validateNode(n *model.Node) error {
	if n.ID == "" {
		return model.Validationf("AddNode", "node id is empty")
	}
	if strings.TrimSpace(n.Name) == "" {
		return model.Validationf("AddNode", "node name is empty")
	}
	if !ontology.ValidEntityType(n.Type) {
		return model.Validationf("AddNode", "unknown entity type %q", n.Type)
	}
	return nil
}

// validateEdge checks relation vocabulary and endpoint type compatibility.
// Endpoint existence is checked by each backend inside its own transaction.
func validateEdge(e *model.Edge, source, target *model.Node) error {
	if e.ID == "" {
		return model.Validationf("AddEdge", "edge id is empty")
	}
	if !ontology.ValidRelationType(e.Type) {
		return model.Validationf("AddEdge", "unknown relation type %q", e.Type)
	}
	if source == nil {
		return model.Validationf("AddEdge", "source node %q does not exist", e.SourceID)
	}
	if target == nil {
		return model.Validationf("AddEdge", "target node %q does not exist", e.TargetID)
	}
	if err := ontology.CheckEndpoints(e.Type, source.Type, target.Type); err != nil {
		return model.Validationf("AddEdge", "%v", err)
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		return model.Validationf("AddEdge", "confidence %f outside [0,1]", e.Confidence)
	}
	return nil
}

// New builds a store from config.
func New(ctx context.Context, backend, dsn, uri, user, password string) (GraphStore, error) {
	if backend == "memgraph" {
		return NewMemgraphStore(ctx, uri, user, password)
	}
	return NewSQLiteStore(dsn)
}
