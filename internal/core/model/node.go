package model

import (
	"time"

	"github.com/storyforge/tapestry/internal/core/ontology"
)

// Embedding is a stored vector together with the identity of the provider
// and model that produced it. Rankings must never mix identities.
type Embedding struct {
	Vector    []float32 `json:"vector"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
}

// Node is a typed story entity.
type Node struct {
	ID        string              `json:"id"`
	Type      ontology.EntityType `json:"type"`
	Name      string              `json:"name"`
	Props     map[string]any      `json:"props,omitempty"`
	Embedding *Embedding          `json:"embedding,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// EmbeddingStale reports whether the property bag changed after the vector
// was computed. Stale vectors are flagged, never silently served.
func (n *Node) EmbeddingStale() bool {
	if n.Embedding == nil {
		return false
	}
	return n.UpdatedAt.After(n.Embedding.CreatedAt)
}

// Terminated reports whether the node has been marked dead/destroyed/ended
// in its property bag. Used by extraction conflict checks and FAST
// verification.
func (n *Node) Terminated() bool {
	status, _ := n.Props["status"].(string)
	switch status {
	case "dead", "destroyed", "terminated", "ended":
		return true
	}
	return false
}

// EmbedText is the text a node is embedded under.
func (n *Node) EmbedText() string {
	desc, _ := n.Props["description"].(string)
	if desc == "" {
		return string(n.Type) + " " + n.Name
	}
	return string(n.Type) + " " + n.Name + ": " + desc
}
