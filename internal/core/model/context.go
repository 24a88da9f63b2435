package model

// QueryBucket classifies a context request.
type QueryBucket string

const (
	BucketEntity   QueryBucket = "entity"
	BucketSetting  QueryBucket = "setting"
	BucketThematic QueryBucket = "thematic"
	BucketCausal   QueryBucket = "causal"
	BucketHybrid   QueryBucket = "hybrid"
)

// ContextItem is one node admitted to a context payload, with the edges
// that justified its inclusion.
type ContextItem struct {
	Node      *Node   `json:"node"`
	Edges     []*Edge `json:"edges,omitempty"`
	Relevance float64 `json:"relevance"`
	// Source records which retrieval produced the item: "graph" or
	// "semantic". Traversal wins on conflict.
	Source string `json:"source"`
}

// ContextPayload is a budget-bounded context assembly for a generation or
// query caller. It may be near-empty; it is never an error.
type ContextPayload struct {
	Query       string        `json:"query"`
	Bucket      QueryBucket   `json:"bucket"`
	Items       []ContextItem `json:"items"`
	TokensUsed  int           `json:"tokens_used"`
	TokenBudget int           `json:"token_budget"`
	// Degraded marks payloads assembled without semantic retrieval
	// because no embedding provider was reachable.
	Degraded bool `json:"degraded"`
}

// SearchHit is one semantic search result.
type SearchHit struct {
	Node  *Node   `json:"node"`
	Score float64 `json:"score"`
	Stale bool    `json:"stale"`
}
