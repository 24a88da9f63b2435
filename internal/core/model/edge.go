package model

import (
	"time"

	"github.com/storyforge/tapestry/internal/core/ontology"
)

// EdgeStatus tracks the two-phase foreshadow lifecycle. Edges of other
// relation types stay at EdgeActive.
type EdgeStatus string

const (
	EdgeActive    EdgeStatus = "active"
	EdgeResolved  EdgeStatus = "resolved"
	EdgeAbandoned EdgeStatus = "abandoned"
)

// Edge is a typed narrative relationship between two nodes.
type Edge struct {
	ID         string                `json:"id"`
	SourceID   string                `json:"source_id"`
	TargetID   string                `json:"target_id"`
	Type       ontology.RelationType `json:"type"`
	Confidence float64               `json:"confidence"`
	// Scenes lists the scene ids whose extraction produced or reinforced
	// this edge.
	Scenes    []string       `json:"scenes,omitempty"`
	Props     map[string]any `json:"props,omitempty"`
	Status    EdgeStatus     `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// OpenForeshadow reports whether the edge is a FORESHADOWS planted but not
// yet resolved into a CALLBACKS edge nor abandoned.
func (e *Edge) OpenForeshadow() bool {
	return e.Type == ontology.Foreshadows && e.Status == EdgeActive
}

// Reinforce raises confidence toward 1 without ever exceeding it.
func (e *Edge) Reinforce(p float64) {
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	e.Confidence = e.Confidence + (1-e.Confidence)*p
}

// HasScene reports whether sceneID is already recorded as provenance.
func (e *Edge) HasScene(sceneID string) bool {
	for _, s := range e.Scenes {
		if s == sceneID {
			return true
		}
	}
	return false
}
