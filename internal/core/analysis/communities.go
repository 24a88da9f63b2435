package analysis

import (
	"sort"

	"gonum.org/v1/gonum/graph/community"
	"gonum.org/v1/gonum/graph/network"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/storyforge/tapestry/internal/core/model"
)

// entityGraph maps the snapshot's string ids onto a gonum undirected graph.
type entityGraph struct {
	g     *simple.UndirectedGraph
	toID  map[int64]string
	toIdx map[string]int64
}

func buildEntityGraph(snap *model.Snapshot) *entityGraph {
	eg := &entityGraph{
		g:     simple.NewUndirectedGraph(),
		toID:  make(map[int64]string, len(snap.Nodes)),
		toIdx: make(map[string]int64, len(snap.Nodes)),
	}

	ids := make([]string, 0, len(snap.Nodes))
	for id := range snap.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids) // deterministic indexing

	for i, id := range ids {
		idx := int64(i)
		eg.toID[idx] = id
		eg.toIdx[id] = idx
		eg.g.AddNode(simple.Node(idx))
	}
	for _, e := range snap.Edges {
		si, ok := eg.toIdx[e.SourceID]
		if !ok {
			continue
		}
		ti, ok := eg.toIdx[e.TargetID]
		if !ok || si == ti {
			continue
		}
		eg.g.SetEdge(simple.Edge{F: simple.Node(si), T: simple.Node(ti)})
	}
	return eg
}

// Communities clusters the entity subgraph by modularity maximization.
// Tiny graphs fall back to label propagation, which behaves better than
// modularity search when there is barely anything to cluster.
func Communities(snap *model.Snapshot) map[int][]string {
	if len(snap.Nodes) == 0 {
		return map[int][]string{}
	}
	if len(snap.Nodes) < 8 {
		return labelPropagation(snap)
	}

	eg := buildEntityGraph(snap)
	reduced := community.Modularize(eg.g, 1.0, nil)

	out := make(map[int][]string)
	for ci, members := range reduced.Communities() {
		for _, n := range members {
			out[ci] = append(out[ci], eg.toID[n.ID()])
		}
		sort.Strings(out[ci])
	}
	return out
}

// labelPropagation is the small-graph fallback: each node adopts the most
// common label among its neighbors until stable, ties broken
// lexicographically for determinism.
func labelPropagation(snap *model.Snapshot) map[int][]string {
	labels := make(map[string]string, len(snap.Nodes))
	var ids []string
	for id := range snap.Nodes {
		labels[id] = id
		ids = append(ids, id)
	}
	sort.Strings(ids)

	const maxIterations = 20
	for iter := 0; iter < maxIterations; iter++ {
		changed := 0
		for _, u := range ids {
			counts := make(map[string]int)
			max := 0
			for _, e := range snap.Adjacency(u) {
				v := e.TargetID
				if v == u {
					v = e.SourceID
				}
				if v == u {
					continue
				}
				counts[labels[v]]++
				if counts[labels[v]] > max {
					max = counts[labels[v]]
				}
			}
			if max == 0 {
				continue
			}
			var candidates []string
			for label, c := range counts {
				if c == max {
					candidates = append(candidates, label)
				}
			}
			sort.Strings(candidates)
			best := candidates[len(candidates)-1]
			if labels[u] != best {
				labels[u] = best
				changed++
			}
		}
		if changed == 0 {
			break
		}
	}

	byLabel := make(map[string][]string)
	for id, label := range labels {
		byLabel[label] = append(byLabel[label], id)
	}
	var labelKeys []string
	for label := range byLabel {
		labelKeys = append(labelKeys, label)
	}
	sort.Strings(labelKeys)

	out := make(map[int][]string, len(labelKeys))
	for i, label := range labelKeys {
		sort.Strings(byLabel[label])
		out[i] = byLabel[label]
	}
	return out
}

// Bridge is a node whose removal most reduces inter-community
// connectivity.
type Bridge struct {
	NodeID      string  `json:"node_id"`
	Name        string  `json:"name"`
	Betweenness float64 `json:"betweenness"`
}

// Bridges returns the top-n nodes by betweenness centrality, normalized by
// the maximum observed so scores compare across graph sizes.
func Bridges(snap *model.Snapshot, n int) []Bridge {
	if len(snap.Nodes) == 0 || n <= 0 {
		return nil
	}
	eg := buildEntityGraph(snap)
	scores := network.Betweenness(eg.g)

	var maxScore float64
	for _, s := range scores {
		if s > maxScore {
			maxScore = s
		}
	}
	if maxScore == 0 {
		return nil
	}

	bridges := make([]Bridge, 0, len(scores))
	for idx, s := range scores {
		if s == 0 {
			continue
		}
		id := eg.toID[idx]
		bridges = append(bridges, Bridge{
			NodeID:      id,
			Name:        snap.Nodes[id].Name,
			Betweenness: s / maxScore,
		})
	}
	sort.SliceStable(bridges, func(i, j int) bool {
		if bridges[i].Betweenness != bridges[j].Betweenness {
			return bridges[i].Betweenness > bridges[j].Betweenness
		}
		return bridges[i].NodeID < bridges[j].NodeID
	})
	if len(bridges) > n {
		bridges = bridges[:n]
	}
	return bridges
}
