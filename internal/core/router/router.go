// Package router classifies context requests, chooses structural versus
// semantic retrieval, and assembles a size-bounded context payload. The
// router always answers; a cold or empty graph yields a near-empty payload,
// never an error.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/storyforge/tapestry/internal/config"
	"github.com/storyforge/tapestry/internal/core/index"
	"github.com/storyforge/tapestry/internal/core/model"
	"github.com/storyforge/tapestry/internal/llm"
	"github.com/storyforge/tapestry/internal/store"
)

type Router struct {
	store      store.GraphStore
	index      *index.Index
	classifier *Classifier
	reranker   llm.RerankerClient
	cfg        config.RouterConfig
	log        *slog.Logger
}

func New(s store.GraphStore, ix *index.Index, embedder llm.EmbedderClient, reranker llm.RerankerClient, cfg config.RouterConfig) *Router {
	return &Router{
		store:      s,
		index:      ix,
		classifier: NewClassifier(embedder),
		reranker:   reranker,
		cfg:        cfg,
		log:        slog.Default().With("component", "router"),
	}
}

// BuildContext assembles a context payload for query within tokenBudget.
func (r *Router) BuildContext(ctx context.Context, query string, tokenBudget int) (*model.ContextPayload, error) {
	if tokenBudget <= 0 {
		tokenBudget = r.cfg.DefaultTokenBudget
	}
	bucket := r.classifier.Classify(ctx, query)

	payload := &model.ContextPayload{
		Query:       query,
		Bucket:      bucket,
		TokenBudget: tokenBudget,
	}

	structural := bucket == model.BucketEntity || bucket == model.BucketCausal || bucket == model.BucketHybrid
	semantic := bucket == model.BucketThematic || bucket == model.BucketSetting || bucket == model.BucketHybrid

	items := make(map[string]*model.ContextItem)

	if semantic {
		hits, err := r.index.Search(ctx, query, r.cfg.SemanticK)
		switch {
		case err == nil:
			for _, h := range hits {
				items[h.Node.ID] = &model.ContextItem{
					Node:      h.Node,
					Relevance: h.Score,
					Source:    "semantic",
				}
			}
		case errors.Is(err, model.ErrProviderUnavailable):
			// Required fallback: degrade to structural retrieval.
			r.log.Warn("semantic retrieval unavailable, degrading to structural", "error", err)
			payload.Degraded = true
			structural = true
		default:
			return nil, err
		}
	}

	if structural {
		focus := r.focusNodes(ctx, query)
		for _, node := range focus {
			ego, err := store.EgoGraph(ctx, r.store, node.ID, r.cfg.EgoRadius, r.cfg.EgoMaxNodes)
			if err != nil {
				continue
			}
			for id, n := range ego.Nodes {
				item := &model.ContextItem{
					Node:      n,
					Relevance: 1.0,
					Source:    "graph",
				}
				if id != node.ID {
					item.Relevance = 0.7
				}
				for _, e := range ego.Edges {
					if e.SourceID == id || e.TargetID == id {
						item.Edges = append(item.Edges, e)
					}
				}
				// Traversal wins over semantic on conflict.
				items[id] = item
			}
		}
	}

	payload.Items = r.assemble(ctx, query, items, tokenBudget)
	payload.TokensUsed = usedTokens(payload.Items)
	return payload, nil
}

// focusNodes matches known entity names inside the query text.
func (r *Router) focusNodes(ctx context.Context, query string) []*model.Node {
	nodes, err := r.store.AllNodes(ctx)
	if err != nil {
		return nil
	}
	q := strings.ToLower(query)
	var focus []*model.Node
	for _, n := range nodes {
		if n.Name == "" {
			continue
		}
		if strings.Contains(q, strings.ToLower(n.Name)) {
			focus = append(focus, n)
		}
	}
	return focus
}

// assemble ranks candidates by importance and greedily admits them until
// the token budget is spent. Importance favors traversal-sourced items,
// high edge confidence, node degree, and recency.
func (r *Router) assemble(ctx context.Context, query string, items map[string]*model.ContextItem, tokenBudget int) []model.ContextItem {
	ranked := make([]model.ContextItem, 0, len(items))
	now := time.Now()
	for _, item := range items {
		sortEdges(item.Edges)
		importance := item.Relevance
		if item.Source == "graph" {
			importance += 0.2
		}
		var confSum float64
		for _, e := range item.Edges {
			confSum += e.Confidence
		}
		importance += confSum / 10
		if age := now.Sub(item.Node.UpdatedAt); age < 24*time.Hour {
			importance += 0.1
		}
		item.Relevance = importance
		ranked = append(ranked, *item)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Relevance > ranked[j].Relevance
	})

	ranked = r.rerank(ctx, query, ranked)

	var out []model.ContextItem
	used := 0
	for _, item := range ranked {
		cost := itemTokens(&item)
		if used+cost > tokenBudget && len(out) > 0 {
			continue
		}
		out = append(out, item)
		used += cost
	}
	return out
}

// sortEdges orders an item's edges by descending confidence, most recently
// touched first on ties.
func sortEdges(edges []*model.Edge) {
	sort.SliceStable(edges, func(i, j int) bool {
		if edges[i].Confidence != edges[j].Confidence {
			return edges[i].Confidence > edges[j].Confidence
		}
		return edges[i].UpdatedAt.After(edges[j].UpdatedAt)
	})
}

// rerank lets the LLM reorder the head of the ranking when a reranker is
// configured. Any failure keeps the heuristic order.
func (r *Router) rerank(ctx context.Context, query string, ranked []model.ContextItem) []model.ContextItem {
	const window = 8
	if r.reranker == nil || len(ranked) < 3 {
		return ranked
	}
	n := len(ranked)
	if n > window {
		n = window
	}
	docs := make([]string, n)
	for i := 0; i < n; i++ {
		docs[i] = itemText(&ranked[i])
	}
	order, err := r.reranker.Rank(ctx, query, docs)
	if err != nil || len(order) == 0 {
		return ranked
	}
	reordered := make([]model.ContextItem, 0, len(ranked))
	seen := make(map[int]bool)
	for _, idx := range order {
		if idx < 0 || idx >= n || seen[idx] {
			continue
		}
		seen[idx] = true
		reordered = append(reordered, ranked[idx])
	}
	for i := 0; i < n; i++ {
		if !seen[i] {
			reordered = append(reordered, ranked[i])
		}
	}
	return append(reordered, ranked[n:]...)
}

func itemText(item *model.ContextItem) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s (%s)", item.Node.Name, item.Node.Type))
	if desc, ok := item.Node.Props["description"].(string); ok && desc != "" {
		sb.WriteString(": ")
		sb.WriteString(desc)
	}
	for _, e := range item.Edges {
		if fact, ok := e.Props["fact"].(string); ok && fact != "" {
			sb.WriteString("\n  - ")
			sb.WriteString(fact)
		} else {
			sb.WriteString(fmt.Sprintf("\n  - %s %s %s", e.SourceID, e.Type, e.TargetID))
		}
	}
	return sb.String()
}

// itemTokens approximates tokens at four characters each.
func itemTokens(item *model.ContextItem) int {
	tokens := len(itemText(item)) / 4
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}

func usedTokens(items []model.ContextItem) int {
	total := 0
	for i := range items {
		total += itemTokens(&items[i])
	}
	return total
}
