// Package index maintains approximate-semantic retrievability per node.
// Vectors are stored with provider/model identity and rankings never mix
// identities: switching providers leaves old vectors intact but excluded
// until reindexed.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/viterin/vek/vek32"
	"golang.org/x/sync/errgroup"

	"github.com/storyforge/tapestry/internal/core/model"
	"github.com/storyforge/tapestry/internal/llm"
	"github.com/storyforge/tapestry/internal/store"
)

type Index struct {
	store    store.GraphStore
	embedder llm.EmbedderClient
	workers  int
	log      *slog.Logger

	// queryCache memoizes query-text vectors; repeated router calls for
	// the same generation loop hit the provider once.
	queryCache *lru.Cache[string, []float32]
}

func New(s store.GraphStore, embedder llm.EmbedderClient, workers int) *Index {
	if workers <= 0 {
		workers = 4
	}
	cache, _ := lru.New[string, []float32](256)
	return &Index{
		store:      s,
		embedder:   embedder,
		workers:    workers,
		log:        slog.Default().With("component", "index"),
		queryCache: cache,
	}
}

// Available reports whether an embedding provider is configured.
func (ix *Index) Available() bool { return ix.embedder != nil }

// Index computes and stores the vector for one node.
func (ix *Index) Index(ctx context.Context, n *model.Node) error {
	if ix.embedder == nil {
		return fmt.Errorf("index node %s: %w", n.ID, model.ErrProviderUnavailable)
	}
	vec, err := ix.embedder.Embed(ctx, n.EmbedText())
	if err != nil {
		return fmt.Errorf("index node %s: %w: %v", n.ID, model.ErrProviderUnavailable, err)
	}
	id := ix.embedder.Identity()
	return ix.store.SetNodeEmbedding(ctx, n.ID, &model.Embedding{
		Vector:    vec,
		Provider:  id.Provider,
		Model:     id.Model,
		CreatedAt: time.Now().UTC(),
	})
}

// ReindexStale scans for nodes whose property bag changed after their last
// embedding (or whose vector belongs to a different provider/model) and
// recomputes them with bounded concurrency. Returns the number reindexed.
func (ix *Index) ReindexStale(ctx context.Context) (int, error) {
	if ix.embedder == nil {
		return 0, model.ErrProviderUnavailable
	}
	nodes, err := ix.store.AllNodes(ctx)
	if err != nil {
		return 0, err
	}
	identity := ix.embedder.Identity()

	var stale []*model.Node
	for _, n := range nodes {
		switch {
		case n.Embedding == nil:
			stale = append(stale, n)
		case n.EmbeddingStale():
			stale = append(stale, n)
		case n.Embedding.Provider != identity.Provider || n.Embedding.Model != identity.Model:
			stale = append(stale, n)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.workers)
	for _, n := range stale {
		n := n
		g.Go(func() error {
			if err := ix.Index(gctx, n); err != nil {
				// One unreachable call fails the batch; the rest stays
				// stale and gets picked up next pass.
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	ix.log.Info("reindexed stale embeddings", "count", len(stale))
	return len(stale), nil
}

// Search returns the top-k nodes by cosine similarity to query. Only
// vectors produced by the active provider/model participate; stale vectors
// are flagged on the hit, never hidden.
func (ix *Index) Search(ctx context.Context, query string, k int) ([]model.SearchHit, error) {
	if ix.embedder == nil {
		return nil, fmt.Errorf("search: %w", model.ErrProviderUnavailable)
	}
	if k <= 0 {
		k = 10
	}

	qvec, err := ix.embedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search: %w: %v", model.ErrProviderUnavailable, err)
	}

	nodes, err := ix.store.AllNodes(ctx)
	if err != nil {
		return nil, err
	}
	identity := ix.embedder.Identity()

	hits := make([]model.SearchHit, 0, len(nodes))
	for _, n := range nodes {
		emb := n.Embedding
		if emb == nil || len(emb.Vector) != len(qvec) {
			continue
		}
		if emb.Provider != identity.Provider || emb.Model != identity.Model {
			continue
		}
		score := float64(vek32.CosineSimilarity(qvec, emb.Vector))
		hits = append(hits, model.SearchHit{Node: n, Score: score, Stale: n.EmbeddingStale()})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (ix *Index) embedQuery(ctx context.Context, query string) ([]float32, error) {
	cacheKey := ix.embedder.Identity().Provider + "/" + ix.embedder.Identity().Model + "/" + query
	if vec, ok := ix.queryCache.Get(cacheKey); ok {
		return vec, nil
	}
	vec, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	ix.queryCache.Add(cacheKey, vec)
	return vec, nil
}
