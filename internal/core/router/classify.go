package router

import (
	"context"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/viterin/vek/vek32"

	"github.com/storyforge/tapestry/internal/core/model"
	"github.com/storyforge/tapestry/internal/llm"
)

// Classifier buckets queries with cheap keyword heuristics first and
// embedding similarity to exemplar queries as a tiebreak. It never fails:
// anything unrecognizable is hybrid.
type Classifier struct {
	embedder  llm.EmbedderClient
	exemplars map[model.QueryBucket][]string
	vecCache  *lru.Cache[string, []float32]
}

func NewClassifier(embedder llm.EmbedderClient) *Classifier {
	cache, _ := lru.New[string, []float32](64)
	return &Classifier{
		embedder: embedder,
		vecCache: cache,
		exemplars: map[model.QueryBucket][]string{
			model.BucketEntity: {
				"who is Marcus",
				"tell me about the ledger",
				"describe Elena",
			},
			model.BucketSetting: {
				"where does the story take place",
				"what does the harbor district look like",
				"describe the world of the story",
			},
			model.BucketThematic: {
				"what themes run through the early chapters",
				"what does the river symbolize",
				"how does betrayal shape the tone",
			},
			model.BucketCausal: {
				"what motivates Marcus",
				"why did Elena leave the city",
				"what caused the uprising",
			},
		},
	}
}

var keywordBuckets = []struct {
	bucket   model.QueryBucket
	keywords []string
}{
	{model.BucketCausal, []string{"why ", "motivat", "cause", "caused", "because", "drives", "reason", "goal"}},
	{model.BucketSetting, []string{"where ", "location", "place", "setting", "geography", "look like"}},
	{model.BucketThematic, []string{"theme", "symbol", "meaning", "mood", "tone", "represent"}},
	{model.BucketEntity, []string{"who is", "who's", "what is the", "tell me about", "describe "}},
}

// Classify buckets the query. ctx is only used when the embedding tiebreak
// runs.
func (c *Classifier) Classify(ctx context.Context, query string) model.QueryBucket {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return model.BucketHybrid
	}

	var matches []model.QueryBucket
	for _, kb := range keywordBuckets {
		for _, kw := range kb.keywords {
			if strings.Contains(q, kw) {
				matches = append(matches, kb.bucket)
				break
			}
		}
	}
	if len(matches) == 1 {
		return matches[0]
	}
	if len(matches) > 1 {
		// Ambiguous keywords; let exemplar similarity pick.
		if b, ok := c.nearestExemplar(ctx, q, matches); ok {
			return b
		}
		return model.BucketHybrid
	}
	if b, ok := c.nearestExemplar(ctx, q, nil); ok {
		return b
	}
	return model.BucketHybrid
}

func (c *Classifier) nearestExemplar(ctx context.Context, query string, restrict []model.QueryBucket) (model.QueryBucket, bool) {
	if c.embedder == nil {
		return "", false
	}
	qvec, err := c.embed(ctx, query)
	if err != nil {
		return "", false
	}

	best := model.QueryBucket("")
	bestScore := float32(0.35) // below this, the query is genuinely open-ended
	for bucket, examples := range c.exemplars {
		if len(restrict) > 0 && !bucketIn(bucket, restrict) {
			continue
		}
		for _, ex := range examples {
			evec, err := c.embed(ctx, ex)
			if err != nil || len(evec) != len(qvec) {
				continue
			}
			if score := vek32.CosineSimilarity(qvec, evec); score > bestScore {
				bestScore = score
				best = bucket
			}
		}
	}
	return best, best != ""
}

func (c *Classifier) embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := c.vecCache.Get(text); ok {
		return vec, nil
	}
	vec, err := c.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.vecCache.Add(text, vec)
	return vec, nil
}

func bucketIn(b model.QueryBucket, list []model.QueryBucket) bool {
	for _, x := range list {
		if x == b {
			return true
		}
	}
	return false
}
