package model

// Snapshot is a point-in-time read of the whole graph. Verification tiers
// and analytics run as pure functions over a snapshot so they never hold a
// lock for their duration. Version is compared against the store's current
// version when a long-running result is applied.
type Snapshot struct {
	Version uint64
	Nodes   map[string]*Node
	Edges   map[string]*Edge
	// SceneOrder maps scene id to its ordinal in the manuscript.
	SceneOrder map[string]int

	adjacency map[string][]*Edge
}

// Adjacency returns all edges touching nodeID, building the index lazily.
func (s *Snapshot) Adjacency(nodeID string) []*Edge {
	if s.adjacency == nil {
		s.adjacency = make(map[string][]*Edge, len(s.Nodes))
		for _, e := range s.Edges {
			s.adjacency[e.SourceID] = append(s.adjacency[e.SourceID], e)
			if e.TargetID != e.SourceID {
				s.adjacency[e.TargetID] = append(s.adjacency[e.TargetID], e)
			}
		}
	}
	return s.adjacency[nodeID]
}

// Degree is the number of edges touching nodeID.
func (s *Snapshot) Degree(nodeID string) int {
	return len(s.Adjacency(nodeID))
}

// SceneOrdinal returns the manuscript position of sceneID, or -1 when the
// scene was never registered.
func (s *Snapshot) SceneOrdinal(sceneID string) int {
	if ord, ok := s.SceneOrder[sceneID]; ok {
		return ord
	}
	return -1
}

// LatestSceneOrdinal is the highest registered scene position, or -1 on an
// empty registry.
func (s *Snapshot) LatestSceneOrdinal() int {
	latest := -1
	for _, ord := range s.SceneOrder {
		if ord > latest {
			latest = ord
		}
	}
	return latest
}

// EdgeOrdinal is the earliest scene ordinal in the edge's provenance, or -1
// when no provenance scene is registered.
func (s *Snapshot) EdgeOrdinal(e *Edge) int {
	first := -1
	for _, sc := range e.Scenes {
		if ord, ok := s.SceneOrder[sc]; ok {
			if first == -1 || ord < first {
				first = ord
			}
		}
	}
	return first
}
