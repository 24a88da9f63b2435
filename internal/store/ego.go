package store

import (
	"context"
	"sort"

	"github.com/storyforge/tapestry/internal/core/model"
)

// EgoGraph expands breadth-first from center up to radius hops, bounded by
// maxNodes. When a frontier would overflow the bound, neighbors are admitted
// in order of edge confidence then recency, so dense neighborhoods truncate
// predictably instead of producing unbounded payloads.
func EgoGraph(ctx context.Context, s GraphStore, centerID string, radius, maxNodes int) (*model.EgoGraph, error) {
	center, err := s.GetNode(ctx, centerID)
	if err != nil {
		return nil, err
	}
	if maxNodes <= 0 {
		maxNodes = 50
	}

	ego := &model.EgoGraph{
		CenterID: centerID,
		Radius:   radius,
		Nodes:    map[string]*model.Node{centerID: center},
		Edges:    map[string]*model.Edge{},
	}

	frontier := []string{centerID}
	for hop := 0; hop < radius && len(frontier) > 0; hop++ {
		var candidates []*model.Edge
		for _, id := range frontier {
			edges, err := s.EdgesForNode(ctx, id)
			if err != nil {
				return nil, err
			}
			candidates = append(candidates, edges...)
		}

		sort.SliceStable(candidates, func(i, j int) bool {
			if candidates[i].Confidence != candidates[j].Confidence {
				return candidates[i].Confidence > candidates[j].Confidence
			}
			return candidates[i].UpdatedAt.After(candidates[j].UpdatedAt)
		})

		var next []string
		for _, e := range candidates {
			neighbor := e.TargetID
			if _, inFrontier := ego.Nodes[e.TargetID]; inFrontier && e.SourceID != e.TargetID {
				neighbor = e.SourceID
			}
			if _, seen := ego.Nodes[neighbor]; seen {
				// Both endpoints already admitted; keep the edge for the
				// induced subgraph.
				if _, ok := ego.Nodes[e.SourceID]; ok {
					if _, ok := ego.Nodes[e.TargetID]; ok {
						ego.Edges[e.ID] = e
					}
				}
				continue
			}
			if len(ego.Nodes) >= maxNodes {
				ego.Truncated = true
				continue
			}
			n, err := s.GetNode(ctx, neighbor)
			if err != nil {
				// Edge raced a concurrent delete; skip it.
				continue
			}
			ego.Nodes[neighbor] = n
			ego.Edges[e.ID] = e
			next = append(next, neighbor)
		}
		frontier = next
	}
	return ego, nil
}
