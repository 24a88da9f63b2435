// Package core wires the narrative graph subsystems together. Engine is
// the single entry point the HTTP layer talks to.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/storyforge/tapestry/internal/config"
	"github.com/storyforge/tapestry/internal/core/analysis"
	"github.com/storyforge/tapestry/internal/core/common"
	"github.com/storyforge/tapestry/internal/core/extraction"
	"github.com/storyforge/tapestry/internal/core/index"
	"github.com/storyforge/tapestry/internal/core/model"
	"github.com/storyforge/tapestry/internal/core/ontology"
	"github.com/storyforge/tapestry/internal/core/router"
	"github.com/storyforge/tapestry/internal/core/verify"
	"github.com/storyforge/tapestry/internal/llm"
	"github.com/storyforge/tapestry/internal/store"
)

type Engine struct {
	Store     store.GraphStore
	LLM       llm.LLMClient
	Embedder  llm.EmbedderClient
	Extractor *extraction.Extractor
	Index     *index.Index
	Router    *router.Router
	Slow      *verify.SlowVerifier
	Analyzer  *analysis.Analyzer

	cfg *config.Config
	log *slog.Logger

	// sceneMu serializes extraction per scene id. Different scenes extract
	// concurrently.
	mu         sync.Mutex
	sceneLocks map[string]*sync.Mutex
}

func NewEngine(cfg *config.Config, s store.GraphStore, llmClient llm.LLMClient, embedderClient llm.EmbedderClient) *Engine {
	ix := index.New(s, embedderClient, cfg.Concurrency.ReindexWorkers)
	var reranker llm.RerankerClient
	if llmClient != nil {
		reranker = llm.NewSimpleLLMReranker(llmClient)
	}
	return &Engine{
		Store:      s,
		LLM:        llmClient,
		Embedder:   embedderClient,
		Extractor:  extraction.NewExtractor(llmClient, cfg.Extraction),
		Index:      ix,
		Router:     router.New(s, ix, embedderClient, reranker, cfg.Router),
		Slow:       verify.NewSlowVerifier(llmClient),
		Analyzer:   analysis.NewAnalyzer(llmClient, cfg.Verification),
		cfg:        cfg,
		log:        slog.Default().With("component", "engine"),
		sceneLocks: make(map[string]*sync.Mutex),
	}
}

func (e *Engine) sceneLock(sceneID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.sceneLocks[sceneID]
	if !ok {
		l = &sync.Mutex{}
		e.sceneLocks[sceneID] = l
	}
	return l
}

// ExtractScene runs the full ingestion pipeline for one scene: generative
// extraction, ontology filtering, entity resolution, edge reinforcement,
// and contradiction checks. Re-submitting an unchanged scene under the same
// ontology version is a no-op.
func (e *Engine) ExtractScene(ctx context.Context, sceneID string, ordinal int, content string) (*model.Delta, error) {
	lock := e.sceneLock(sceneID)
	lock.Lock()
	defer lock.Unlock()

	if err := e.Store.RegisterScene(ctx, sceneID, ordinal); err != nil {
		return nil, fmt.Errorf("register scene %s: %w", sceneID, err)
	}

	hash := common.HashContent(content)
	prior, err := e.Store.GetExtraction(ctx, sceneID, ontology.Version())
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}
	if prior != nil && prior.ContentHash == hash {
		e.log.Info("scene unchanged, skipping extraction", "scene", sceneID)
		return &model.Delta{SceneID: sceneID}, nil
	}

	known, err := e.knownEntities(ctx)
	if err != nil {
		return nil, err
	}

	extracted, dropped, err := e.Extractor.Extract(ctx, sceneID, content, known)
	if err != nil {
		if errors.Is(err, model.ErrProviderUnavailable) ||
			errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			e.log.Warn("extraction degraded", "scene", sceneID, "error", err)
			return &model.Delta{SceneID: sceneID, Degraded: true}, nil
		}
		return nil, err
	}

	delta := &model.Delta{SceneID: sceneID, Dropped: dropped}
	byName := e.applyEntities(ctx, sceneID, extracted.Entities, delta)
	e.applyRelations(ctx, sceneID, extracted.Relations, byName, delta)

	rec := &model.ExtractionRecord{
		SceneID:         sceneID,
		OntologyVersion: ontology.Version(),
		ContentHash:     hash,
		CreatedAt:       time.Now().UTC(),
	}
	for _, n := range delta.CreatedNodes {
		rec.NodeIDs = append(rec.NodeIDs, n.ID)
	}
	for _, ed := range delta.CreatedEdges {
		rec.EdgeIDs = append(rec.EdgeIDs, ed.ID)
	}
	for _, ed := range delta.ReinforcedEdges {
		rec.EdgeIDs = append(rec.EdgeIDs, ed.ID)
	}
	if err := e.Store.RecordExtraction(ctx, rec); err != nil {
		return nil, err
	}

	if len(delta.Issues) > 0 {
		if err := e.Store.AppendIssues(ctx, delta.Issues); err != nil {
			e.log.Warn("failed to persist extraction issues", "scene", sceneID, "error", err)
		}
	}
	return delta, nil
}

// knownEntities builds the grounding list handed to the extraction prompt.
func (e *Engine) knownEntities(ctx context.Context) (*model.EgoGraph, error) {
	nodes, err := e.Store.AllNodes(ctx)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, nil
	}
	known := &model.EgoGraph{Nodes: make(map[string]*model.Node, len(nodes))}
	for _, n := range nodes {
		known.Nodes[n.ID] = n
		if len(known.Nodes) >= 200 {
			known.Truncated = true
			break
		}
	}
	return known, nil
}

// applyEntities resolves proposals against existing nodes by name. New
// names create nodes; known names merge any new properties.
func (e *Engine) applyEntities(ctx context.Context, sceneID string, entities []model.ExtractedEntity, delta *model.Delta) map[string]*model.Node {
	byName := make(map[string]*model.Node, len(entities))

	for _, ent := range entities {
		existing, err := e.Store.NodeByName(ctx, ent.Name)
		if err == nil {
			if existing.Type != ontology.EntityType(ent.EntityType) {
				e.log.Warn("entity type mismatch with existing node",
					"scene", sceneID, "name", ent.Name,
					"existing", existing.Type, "proposed", ent.EntityType)
				delta.Dropped++
				continue
			}
			if len(ent.Props) > 0 {
				if merged, err := e.Store.UpdateNodeProps(ctx, existing.ID, ent.Props); err == nil {
					existing = merged
				}
			}
			byName[ent.Name] = existing
			continue
		}
		if !errors.Is(err, model.ErrNotFound) {
			e.log.Warn("entity lookup failed", "scene", sceneID, "name", ent.Name, "error", err)
			continue
		}

		now := time.Now().UTC()
		node := &model.Node{
			ID:        uuid.New().String(),
			Type:      ontology.EntityType(ent.EntityType),
			Name:      ent.Name,
			Props:     ent.Props,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := e.Store.AddNode(ctx, node); err != nil {
			e.log.Warn("failed to add extracted node", "scene", sceneID, "name", ent.Name, "error", err)
			delta.Dropped++
			continue
		}
		if e.Index.Available() {
			if err := e.Index.Index(ctx, node); err != nil {
				e.log.Warn("embedding deferred to reindex", "node", node.ID, "error", err)
			}
		}
		byName[ent.Name] = node
		delta.CreatedNodes = append(delta.CreatedNodes, node)
	}
	return byName
}

// applyRelations creates or reinforces edges, then runs the contradiction
// check on each new fact. Contradictions become CONTRADICTS edges and
// warning issues; they never block the write.
func (e *Engine) applyRelations(ctx context.Context, sceneID string, relations []model.ExtractedRelation, byName map[string]*model.Node, delta *model.Delta) {
	for _, rel := range relations {
		source := e.resolveEndpoint(ctx, rel.Source, byName)
		target := e.resolveEndpoint(ctx, rel.Target, byName)
		if source == nil || target == nil {
			e.log.Warn("relation endpoint unresolved",
				"scene", sceneID, "source", rel.Source, "target", rel.Target)
			delta.Dropped++
			continue
		}

		relType := ontology.RelationType(rel.RelationType)
		existing, err := e.Store.FindEdge(ctx, source.ID, target.ID, relType)
		if err == nil {
			if !existing.HasScene(sceneID) {
				existing.Scenes = append(existing.Scenes, sceneID)
			}
			existing.Reinforce(rel.Confidence)
			if err := e.Store.UpdateEdge(ctx, existing); err != nil {
				e.log.Warn("failed to reinforce edge", "edge", existing.ID, "error", err)
				continue
			}
			delta.ReinforcedEdges = append(delta.ReinforcedEdges, existing)
			continue
		}
		if !errors.Is(err, model.ErrNotFound) {
			e.log.Warn("edge lookup failed", "scene", sceneID, "error", err)
			continue
		}

		now := time.Now().UTC()
		edge := &model.Edge{
			ID:         uuid.New().String(),
			SourceID:   source.ID,
			TargetID:   target.ID,
			Type:       relType,
			Confidence: rel.Confidence,
			Scenes:     []string{sceneID},
			Status:     model.EdgeActive,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if rel.Fact != "" {
			edge.Props = map[string]any{"fact": rel.Fact}
		}
		if err := e.Store.AddEdge(ctx, edge); err != nil {
			e.log.Warn("rejected extracted edge", "scene", sceneID, "error", err)
			delta.Dropped++
			continue
		}
		delta.CreatedEdges = append(delta.CreatedEdges, edge)

		e.checkConflicts(ctx, sceneID, edge, rel.Fact, source, target, delta)
	}
}

// resolveEndpoint maps an extracted name to a node, preferring entities
// surfaced in this same pass.
func (e *Engine) resolveEndpoint(ctx context.Context, name string, byName map[string]*model.Node) *model.Node {
	if n, ok := byName[name]; ok {
		return n
	}
	n, err := e.Store.NodeByName(ctx, name)
	if err != nil {
		return nil
	}
	byName[name] = n
	return n
}

// checkConflicts flags activity by terminated entities and asks the model
// whether the new fact contradicts prior facts on the same endpoints.
func (e *Engine) checkConflicts(ctx context.Context, sceneID string, edge *model.Edge, fact string, source, target *model.Node, delta *model.Delta) {
	spec, _ := ontology.Spec(edge.Type)
	if spec.Pacing == ontology.PacingAction {
		for _, n := range []*model.Node{source, target} {
			if n.Terminated() {
				delta.Issues = append(delta.Issues, &model.Issue{
					ID:        uuid.New().String(),
					Severity:  model.SeverityWarning,
					Tier:      model.TierFast,
					Kind:      "terminated_activity",
					NodeIDs:   []string{n.ID},
					EdgeIDs:   []string{edge.ID},
					Message:   fmt.Sprintf("%s is marked %v but participates in new %s activity in scene %s", n.Name, n.Props["status"], edge.Type, sceneID),
					CreatedAt: time.Now().UTC(),
				})
			}
		}
	}

	if fact == "" || e.LLM == nil {
		return
	}
	neighbors, err := e.Store.EdgesForNode(ctx, source.ID)
	if err != nil {
		return
	}
	var candidates []*model.Edge
	for _, n := range neighbors {
		if n.ID != edge.ID {
			candidates = append(candidates, n)
		}
	}
	contradicted, err := e.Extractor.CheckContradictions(ctx, fact, candidates)
	if err != nil {
		e.log.Warn("contradiction check skipped", "scene", sceneID, "error", err)
		return
	}
	for _, id := range contradicted {
		old, err := e.Store.GetEdge(ctx, id)
		if err != nil {
			continue
		}
		conflict := e.linkContradiction(ctx, sceneID, edge, old)
		if conflict == nil {
			continue
		}
		delta.Contradictions = append(delta.Contradictions, conflict)
		delta.Issues = append(delta.Issues, &model.Issue{
			ID:        uuid.New().String(),
			Severity:  model.SeverityWarning,
			Tier:      model.TierFast,
			Kind:      "contradiction",
			EdgeIDs:   []string{edge.ID, old.ID},
			Message:   fmt.Sprintf("new fact in scene %s contradicts an established fact (%s)", sceneID, old.Type),
			CreatedAt: time.Now().UTC(),
		})
	}
}

// linkContradiction records the conflict as a CONTRADICTS edge between the
// two facts' source entities. The contradiction is data, not an error.
func (e *Engine) linkContradiction(ctx context.Context, sceneID string, newEdge, oldEdge *model.Edge) *model.Edge {
	if existing, err := e.Store.FindEdge(ctx, newEdge.SourceID, oldEdge.SourceID, ontology.Contradicts); err == nil {
		if !existing.HasScene(sceneID) {
			existing.Scenes = append(existing.Scenes, sceneID)
			if err := e.Store.UpdateEdge(ctx, existing); err != nil {
				return nil
			}
		}
		return existing
	}

	now := time.Now().UTC()
	conflict := &model.Edge{
		ID:         uuid.New().String(),
		SourceID:   newEdge.SourceID,
		TargetID:   oldEdge.SourceID,
		Type:       ontology.Contradicts,
		Confidence: 0.7,
		Scenes:     []string{sceneID},
		Props:      map[string]any{"new_edge": newEdge.ID, "old_edge": oldEdge.ID},
		Status:     model.EdgeActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.Store.AddEdge(ctx, conflict); err != nil {
		e.log.Warn("failed to record contradiction edge", "error", err)
		return nil
	}
	return conflict
}

// EgoGraph returns the induced subgraph around a node.
func (e *Engine) EgoGraph(ctx context.Context, centerID string, radius int) (*model.EgoGraph, error) {
	if radius <= 0 {
		radius = e.cfg.Router.EgoRadius
	}
	return store.EgoGraph(ctx, e.Store, centerID, radius, e.cfg.Router.EgoMaxNodes)
}

// SemanticSearch ranks nodes against a free-text query.
func (e *Engine) SemanticSearch(ctx context.Context, query string, k int) ([]model.SearchHit, error) {
	if k <= 0 {
		k = e.cfg.Router.SemanticK
	}
	return e.Index.Search(ctx, query, k)
}

// BuildContext assembles a budgeted context payload for a generation call.
func (e *Engine) BuildContext(ctx context.Context, query string, tokenBudget int) (*model.ContextPayload, error) {
	if tokenBudget <= 0 {
		tokenBudget = e.cfg.Router.DefaultTokenBudget
	}
	return e.Router.BuildContext(ctx, query, tokenBudget)
}

// RunVerification executes one tier over a fresh snapshot and persists the
// findings. The SLOW tier re-checks the store version after its model call
// and retries once on conflict; skipped reports a run abandoned because the
// graph kept moving or no provider is configured.
func (e *Engine) RunVerification(ctx context.Context, tier model.Tier) (issues []*model.Issue, skipped bool, err error) {
	snap, err := e.Store.Snapshot(ctx)
	if err != nil {
		return nil, false, err
	}

	switch tier {
	case model.TierFast:
		issues = verify.Fast(snap, e.cfg.Verification)
	case model.TierMedium:
		issues = verify.Medium(snap, e.cfg.Verification)
	case model.TierSlow:
		issues, skipped, err = e.runSlow(ctx, snap)
		if err != nil {
			return nil, false, err
		}
	default:
		return nil, false, model.Validationf("RunVerification", "unknown tier %q", tier)
	}

	if len(issues) > 0 {
		if err := e.Store.AppendIssues(ctx, issues); err != nil {
			return nil, false, err
		}
	}
	return issues, skipped, nil
}

func (e *Engine) runSlow(ctx context.Context, snap *model.Snapshot) ([]*model.Issue, bool, error) {
	for attempt := 0; attempt < 2; attempt++ {
		issues, skipped := e.Slow.Run(ctx, snap)
		if skipped {
			return nil, true, nil
		}
		current, err := e.Store.Version(ctx)
		if err != nil {
			return nil, false, err
		}
		if current == snap.Version {
			return issues, false, nil
		}
		e.log.Info("graph changed during slow verification, retrying",
			"was", snap.Version, "now", current)
		snap, err = e.Store.Snapshot(ctx)
		if err != nil {
			return nil, false, err
		}
	}
	return nil, true, nil
}

// AnalysisSummary computes communities, bridges, tension, pacing, and theme
// scores over the current graph.
func (e *Engine) AnalysisSummary(ctx context.Context) (*analysis.Summary, error) {
	snap, err := e.Store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	overrides, err := e.Store.ThemeOverrides(ctx)
	if err != nil {
		return nil, err
	}
	return e.Analyzer.Summarize(ctx, snap, overrides), nil
}

// SetThemeOverride pins a manual theme score for a beat.
func (e *Engine) SetThemeOverride(ctx context.Context, ov *model.ThemeOverride) error {
	if ov.BeatID == "" || ov.ThemeID == "" {
		return model.Validationf("SetThemeOverride", "beat id and theme id are required")
	}
	if ov.Score < 0 || ov.Score > 1 {
		return model.Validationf("SetThemeOverride", "score %f outside [0,1]", ov.Score)
	}
	if ov.CreatedAt.IsZero() {
		ov.CreatedAt = time.Now().UTC()
	}
	return e.Store.PutThemeOverride(ctx, ov)
}

// ResolveForeshadow closes an open FORESHADOWS edge and records the payoff
// as a CALLBACKS edge carrying the resolving scene.
func (e *Engine) ResolveForeshadow(ctx context.Context, edgeID, sceneID string) (*model.Edge, error) {
	edge, err := e.Store.GetEdge(ctx, edgeID)
	if err != nil {
		return nil, err
	}
	if !edge.OpenForeshadow() {
		return nil, model.Validationf("ResolveForeshadow", "edge %s is not an open FORESHADOWS edge", edgeID)
	}

	edge.Status = model.EdgeResolved
	if sceneID != "" && !edge.HasScene(sceneID) {
		edge.Scenes = append(edge.Scenes, sceneID)
	}
	if err := e.Store.UpdateEdge(ctx, edge); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	callback := &model.Edge{
		ID:         uuid.New().String(),
		SourceID:   edge.TargetID,
		TargetID:   edge.SourceID,
		Type:       ontology.Callbacks,
		Confidence: edge.Confidence,
		Status:     model.EdgeActive,
		Props:      map[string]any{"foreshadow_edge": edge.ID},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if sceneID != "" {
		callback.Scenes = []string{sceneID}
	}
	if err := e.Store.AddEdge(ctx, callback); err != nil {
		return nil, err
	}
	return callback, nil
}

// AbandonForeshadow marks a planted thread as intentionally dropped so FAST
// verification stops flagging it.
func (e *Engine) AbandonForeshadow(ctx context.Context, edgeID string) error {
	edge, err := e.Store.GetEdge(ctx, edgeID)
	if err != nil {
		return err
	}
	if !edge.OpenForeshadow() {
		return model.Validationf("AbandonForeshadow", "edge %s is not an open FORESHADOWS edge", edgeID)
	}
	edge.Status = model.EdgeAbandoned
	return e.Store.UpdateEdge(ctx, edge)
}

// ReindexStale refreshes embeddings invalidated by property edits or a
// provider/model switch.
func (e *Engine) ReindexStale(ctx context.Context) (int, error) {
	return e.Index.ReindexStale(ctx)
}

// Issues returns the most recent persisted findings.
func (e *Engine) Issues(ctx context.Context, limit int) ([]*model.Issue, error) {
	return e.Store.Issues(ctx, limit)
}
