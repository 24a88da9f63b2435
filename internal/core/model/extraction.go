package model

import "time"

// ExtractionRecord links a scene to the graph elements its extraction
// produced or reinforced. The (SceneID, OntologyVersion) pair keys
// idempotent re-extraction; ContentHash detects unchanged reruns.
type ExtractionRecord struct {
	SceneID         string    `json:"scene_id"`
	OntologyVersion string    `json:"ontology_version"`
	ContentHash     string    `json:"content_hash"`
	NodeIDs         []string  `json:"node_ids"`
	EdgeIDs         []string  `json:"edge_ids"`
	CreatedAt       time.Time `json:"created_at"`
}

// ExtractedEntity is one entity proposed by the LLM extraction pass.
type ExtractedEntity struct {
	Name       string         `json:"name"`
	EntityType string         `json:"entity_type"`
	Confidence float64        `json:"confidence"`
	Props      map[string]any `json:"props,omitempty"`
}

// ExtractedRelation is one relationship proposed by the LLM extraction pass.
// Source and Target reference entity names (or known node ids when the
// grounding ego-graph supplied them).
type ExtractedRelation struct {
	Source       string  `json:"source"`
	Target       string  `json:"target"`
	RelationType string  `json:"relation_type"`
	Confidence   float64 `json:"confidence"`
	Fact         string  `json:"fact,omitempty"`
}

// ExtractedGraph is the structured output of one extraction pass.
type ExtractedGraph struct {
	Entities  []ExtractedEntity   `json:"entities"`
	Relations []ExtractedRelation `json:"relations"`
}

// Delta is the applied result of extracting one scene: what was created,
// what was reinforced, and what conflicts surfaced.
type Delta struct {
	SceneID         string   `json:"scene_id"`
	CreatedNodes    []*Node  `json:"created_nodes"`
	CreatedEdges    []*Edge  `json:"created_edges"`
	ReinforcedEdges []*Edge  `json:"reinforced_edges"`
	Contradictions  []*Edge  `json:"contradictions"`
	Issues          []*Issue `json:"issues"`
	// Dropped counts proposals rejected for being outside the ontology.
	Dropped int `json:"dropped"`
	// Degraded marks a delta produced without the generative pass
	// (provider unreachable or caller timeout).
	Degraded bool `json:"degraded"`
}
