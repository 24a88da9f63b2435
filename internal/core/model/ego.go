package model

// EgoGraph is the induced subgraph within N hops of a center node. It is
// the primary context unit served to generation callers.
type EgoGraph struct {
	CenterID string           `json:"center_id"`
	Radius   int              `json:"radius"`
	Nodes    map[string]*Node `json:"nodes"`
	Edges    map[string]*Edge `json:"edges"`
	// Truncated is set when the max-node bound cut off expansion.
	Truncated bool `json:"truncated"`
}

// NodeIDs returns the member ids in no particular order.
func (g *EgoGraph) NodeIDs() []string {
	ids := make([]string, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	return ids
}
