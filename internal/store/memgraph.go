package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/storyforge/tapestry/internal/core/model"
	"github.com/storyforge/tapestry/internal/core/ontology"
)

// MemgraphStore backs the graph with Memgraph (or Neo4j) over Bolt.
type MemgraphStore struct {
	driver neo4j.DriverWithContext
	log    *slog.Logger
}

func NewMemgraphStore(ctx context.Context, uri, username, password string) (*MemgraphStore, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, err
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, err
	}

	s := &MemgraphStore{driver: driver, log: slog.Default().With("component", "memgraph")}
	s.buildIndices(ctx)
	return s, nil
}

func (s *MemgraphStore) buildIndices(ctx context.Context) {
	for _, q := range []string{
		"CREATE INDEX ON :Entity(uuid);",
		"CREATE INDEX ON :Entity(type);",
		"CREATE INDEX ON :Entity(name);",
		"CREATE INDEX ON :Extraction(scene_id);",
		"CREATE INDEX ON :Scene(uuid);",
	} {
		if _, err := s.run(ctx, q, nil); err != nil {
			// Index may already exist.
			s.log.Debug("index creation skipped", "error", err)
		}
	}
}

func (s *MemgraphStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func (s *MemgraphStore) run(ctx context.Context, query string, params map[string]any) (*neo4j.EagerResult, error) {
	result, err := neo4j.ExecuteQuery(ctx, s.driver, query, params, neo4j.EagerResultTransformer)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	return result, nil
}

// mutate runs the write followed by a version bump. Memgraph has no
// cross-statement transaction here, but the version counter only gates
// optimistic snapshot application, so a benign race is acceptable.
func (s *MemgraphStore) mutate(ctx context.Context, query string, params map[string]any) error {
	res, err := s.run(ctx, query, params)
	if err != nil {
		return err
	}
	if len(res.Records) == 0 {
		return model.ErrNotFound
	}
	_, err = s.run(ctx, cypherBumpVersion, nil)
	return err
}

func (s *MemgraphStore) Version(ctx context.Context) (uint64, error) {
	res, err := s.run(ctx, cypherGetVersion, nil)
	if err != nil {
		return 0, err
	}
	if len(res.Records) == 0 {
		return 0, nil
	}
	v, _ := res.Records[0].Get("value")
	n, _ := v.(int64)
	return uint64(n), nil
}

// ---- nodes ----

func (s *MemgraphStore) AddNode(ctx context.Context, n *model.Node) error {
	if err := validateNode(n); err != nil {
		return err
	}
	now := time.Now().UTC()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	if n.UpdatedAt.IsZero() {
		n.UpdatedAt = n.CreatedAt
	}
	props, err := json.Marshal(nonNilProps(n.Props))
	if err != nil {
		return err
	}
	return s.mutate(ctx, cypherSaveNode, map[string]any{
		"uuid":       n.ID,
		"type":       string(n.Type),
		"name":       n.Name,
		"props":      string(props),
		"created_at": n.CreatedAt.UnixNano(),
		"updated_at": n.UpdatedAt.UnixNano(),
	})
}

func (s *MemgraphStore) GetNode(ctx context.Context, id string) (*model.Node, error) {
	res, err := s.run(ctx, cypherGetNode, map[string]any{"uuid": id})
	if err != nil {
		return nil, err
	}
	if len(res.Records) == 0 {
		return nil, fmt.Errorf("node %s: %w", id, model.ErrNotFound)
	}
	return nodeFromRecord(res.Records[0])
}

func nodeFromRecord(rec *neo4j.Record) (*model.Node, error) {
	var n model.Node
	n.ID = stringField(rec, "uuid")
	n.Type = ontology.EntityType(stringField(rec, "type"))
	n.Name = stringField(rec, "name")
	n.CreatedAt = timeField(rec, "created_at")
	n.UpdatedAt = timeField(rec, "updated_at")
	if props := stringField(rec, "props"); props != "" {
		if err := json.Unmarshal([]byte(props), &n.Props); err != nil {
			return nil, fmt.Errorf("failed to unmarshal props: %w", err)
		}
	}
	if emb := stringField(rec, "embedding"); emb != "" {
		var vec []float32
		if err := json.Unmarshal([]byte(emb), &vec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal embedding: %w", err)
		}
		n.Embedding = &model.Embedding{
			Vector:    vec,
			Provider:  stringField(rec, "embed_provider"),
			Model:     stringField(rec, "embed_model"),
			CreatedAt: timeField(rec, "embedded_at"),
		}
	}
	return &n, nil
}

func (s *MemgraphStore) UpdateNodeProps(ctx context.Context, id string, props map[string]any) (*model.Node, error) {
	n, err := s.GetNode(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.Props == nil {
		n.Props = map[string]any{}
	}
	for k, v := range props {
		if v == nil {
			delete(n.Props, k)
			continue
		}
		n.Props[k] = v
	}
	n.UpdatedAt = time.Now().UTC()

	raw, err := json.Marshal(nonNilProps(n.Props))
	if err != nil {
		return nil, err
	}
	if err := s.mutate(ctx, cypherUpdateNodeProps, map[string]any{
		"uuid":       id,
		"props":      string(raw),
		"updated_at": n.UpdatedAt.UnixNano(),
	}); err != nil {
		return nil, err
	}
	return n, nil
}

func (s *MemgraphStore) SetNodeEmbedding(ctx context.Context, id string, emb *model.Embedding) error {
	raw, err := json.Marshal(emb.Vector)
	if err != nil {
		return err
	}
	return s.mutate(ctx, cypherSetNodeEmbedding, map[string]any{
		"uuid":        id,
		"embedding":   string(raw),
		"provider":    emb.Provider,
		"model":       emb.Model,
		"embedded_at": emb.CreatedAt.UnixNano(),
	})
}

func (s *MemgraphStore) DeleteNode(ctx context.Context, id string) error {
	if _, err := s.GetNode(ctx, id); err != nil {
		return err
	}
	// DETACH DELETE cascades every touching relationship.
	return s.mutate(ctx, cypherDeleteNode, map[string]any{"uuid": id})
}

func (s *MemgraphStore) NodesByType(ctx context.Context, t ontology.EntityType) ([]*model.Node, error) {
	return s.queryNodes(ctx, `MATCH (n:Entity {type: $type})`+cypherNodeReturn,
		map[string]any{"type": string(t)})
}

func (s *MemgraphStore) NodeByName(ctx context.Context, name string) (*model.Node, error) {
	nodes, err := s.queryNodes(ctx,
		`MATCH (n:Entity) WHERE toLower(n.name) = toLower($name)`+cypherNodeReturn+` LIMIT 1`,
		map[string]any{"name": name})
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("node named %q: %w", name, model.ErrNotFound)
	}
	return nodes[0], nil
}

func (s *MemgraphStore) AllNodes(ctx context.Context) ([]*model.Node, error) {
	return s.queryNodes(ctx, `MATCH (n:Entity)`+cypherNodeReturn, nil)
}

func (s *MemgraphStore) queryNodes(ctx context.Context, query string, params map[string]any) ([]*model.Node, error) {
	res, err := s.run(ctx, query, params)
	if err != nil {
		return nil, err
	}
	nodes := make([]*model.Node, 0, len(res.Records))
	for _, rec := range res.Records {
		n, err := nodeFromRecord(rec)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// ---- edges ----

func (s *MemgraphStore) AddEdge(ctx context.Context, e *model.Edge) error {
	source, _ := s.GetNode(ctx, e.SourceID)
	target, _ := s.GetNode(ctx, e.TargetID)
	if err := validateEdge(e, source, target); err != nil {
		return err
	}
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = e.CreatedAt
	}
	if e.Status == "" {
		e.Status = model.EdgeActive
	}

	scenes, err := json.Marshal(nonNilStrings(e.Scenes))
	if err != nil {
		return err
	}
	props, err := json.Marshal(nonNilProps(e.Props))
	if err != nil {
		return err
	}
	return s.mutate(ctx, cypherSaveEdge, map[string]any{
		"uuid":        e.ID,
		"source_uuid": e.SourceID,
		"target_uuid": e.TargetID,
		"type":        string(e.Type),
		"confidence":  e.Confidence,
		"scenes":      string(scenes),
		"props":       string(props),
		"status":      string(e.Status),
		"created_at":  e.CreatedAt.UnixNano(),
		"updated_at":  e.UpdatedAt.UnixNano(),
	})
}

func edgeFromRecord(rec *neo4j.Record) (*model.Edge, error) {
	var e model.Edge
	e.ID = stringField(rec, "uuid")
	e.SourceID = stringField(rec, "source_uuid")
	e.TargetID = stringField(rec, "target_uuid")
	e.Type = ontology.RelationType(stringField(rec, "type"))
	e.Status = model.EdgeStatus(stringField(rec, "status"))
	e.CreatedAt = timeField(rec, "created_at")
	e.UpdatedAt = timeField(rec, "updated_at")
	if v, ok := rec.Get("confidence"); ok {
		if f, ok := v.(float64); ok {
			e.Confidence = f
		}
	}
	if scenes := stringField(rec, "scenes"); scenes != "" {
		if err := json.Unmarshal([]byte(scenes), &e.Scenes); err != nil {
			return nil, err
		}
	}
	if props := stringField(rec, "props"); props != "" {
		if err := json.Unmarshal([]byte(props), &e.Props); err != nil {
			return nil, err
		}
	}
	return &e, nil
}

func (s *MemgraphStore) GetEdge(ctx context.Context, id string) (*model.Edge, error) {
	edges, err := s.queryEdges(ctx,
		`MATCH ()-[e:RELATES {uuid: $uuid}]->()`+cypherEdgeReturn,
		map[string]any{"uuid": id})
	if err != nil {
		return nil, err
	}
	if len(edges) == 0 {
		return nil, fmt.Errorf("edge %s: %w", id, model.ErrNotFound)
	}
	return edges[0], nil
}

func (s *MemgraphStore) UpdateEdge(ctx context.Context, e *model.Edge) error {
	e.UpdatedAt = time.Now().UTC()
	scenes, err := json.Marshal(nonNilStrings(e.Scenes))
	if err != nil {
		return err
	}
	props, err := json.Marshal(nonNilProps(e.Props))
	if err != nil {
		return err
	}
	return s.mutate(ctx, cypherUpdateEdge, map[string]any{
		"uuid":       e.ID,
		"confidence": e.Confidence,
		"scenes":     string(scenes),
		"props":      string(props),
		"status":     string(e.Status),
		"updated_at": e.UpdatedAt.UnixNano(),
	})
}

func (s *MemgraphStore) DeleteEdge(ctx context.Context, id string) error {
	if _, err := s.GetEdge(ctx, id); err != nil {
		return err
	}
	return s.mutate(ctx, cypherDeleteEdge, map[string]any{"uuid": id})
}

func (s *MemgraphStore) EdgesByType(ctx context.Context, t ontology.RelationType) ([]*model.Edge, error) {
	return s.queryEdges(ctx,
		`MATCH ()-[e:RELATES {type: $type}]->()`+cypherEdgeReturn,
		map[string]any{"type": string(t)})
}

func (s *MemgraphStore) EdgesForNode(ctx context.Context, nodeID string) ([]*model.Edge, error) {
	return s.queryEdges(ctx,
		`MATCH (n:Entity {uuid: $uuid})-[e:RELATES]-()`+cypherEdgeReturn,
		map[string]any{"uuid": nodeID})
}

func (s *MemgraphStore) FindEdge(ctx context.Context, sourceID, targetID string, t ontology.RelationType) (*model.Edge, error) {
	edges, err := s.queryEdges(ctx, `
		MATCH (source:Entity {uuid: $source_uuid})-[e:RELATES {type: $type}]->(target:Entity {uuid: $target_uuid})`+
		cypherEdgeReturn+` LIMIT 1`,
		map[string]any{"source_uuid": sourceID, "target_uuid": targetID, "type": string(t)})
	if err != nil {
		return nil, err
	}
	if len(edges) > 0 {
		return edges[0], nil
	}
	if spec, ok := ontology.Spec(t); ok && spec.Symmetric {
		edges, err = s.queryEdges(ctx, `
			MATCH (source:Entity {uuid: $target_uuid})-[e:RELATES {type: $type}]->(target:Entity {uuid: $source_uuid})`+
			cypherEdgeReturn+` LIMIT 1`,
			map[string]any{"source_uuid": sourceID, "target_uuid": targetID, "type": string(t)})
		if err != nil {
			return nil, err
		}
		if len(edges) > 0 {
			return edges[0], nil
		}
	}
	return nil, fmt.Errorf("edge (%s)-[%s]->(%s): %w", sourceID, t, targetID, model.ErrNotFound)
}

func (s *MemgraphStore) AllEdges(ctx context.Context) ([]*model.Edge, error) {
	return s.queryEdges(ctx, `MATCH ()-[e:RELATES]->()`+cypherEdgeReturn, nil)
}

func (s *MemgraphStore) queryEdges(ctx context.Context, query string, params map[string]any) ([]*model.Edge, error) {
	res, err := s.run(ctx, query, params)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(res.Records))
	edges := make([]*model.Edge, 0, len(res.Records))
	for _, rec := range res.Records {
		e, err := edgeFromRecord(rec)
		if err != nil {
			return nil, err
		}
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		edges = append(edges, e)
	}
	return edges, nil
}

// ---- extraction records, scenes, overrides, issues ----

func (s *MemgraphStore) RecordExtraction(ctx context.Context, rec *model.ExtractionRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	nodeIDs, err := json.Marshal(nonNilStrings(rec.NodeIDs))
	if err != nil {
		return err
	}
	edgeIDs, err := json.Marshal(nonNilStrings(rec.EdgeIDs))
	if err != nil {
		return err
	}
	return s.mutate(ctx, cypherSaveExtraction, map[string]any{
		"scene_id":         rec.SceneID,
		"ontology_version": rec.OntologyVersion,
		"content_hash":     rec.ContentHash,
		"node_ids":         string(nodeIDs),
		"edge_ids":         string(edgeIDs),
		"created_at":       rec.CreatedAt.UnixNano(),
	})
}

func (s *MemgraphStore) GetExtraction(ctx context.Context, sceneID, ontologyVersion string) (*model.ExtractionRecord, error) {
	res, err := s.run(ctx, cypherGetExtraction, map[string]any{
		"scene_id":         sceneID,
		"ontology_version": ontologyVersion,
	})
	if err != nil {
		return nil, err
	}
	if len(res.Records) == 0 {
		return nil, fmt.Errorf("extraction for scene %s: %w", sceneID, model.ErrNotFound)
	}
	rec := res.Records[0]
	out := &model.ExtractionRecord{
		SceneID:         stringField(rec, "scene_id"),
		OntologyVersion: stringField(rec, "ontology_version"),
		ContentHash:     stringField(rec, "content_hash"),
		CreatedAt:       timeField(rec, "created_at"),
	}
	if v := stringField(rec, "node_ids"); v != "" {
		if err := json.Unmarshal([]byte(v), &out.NodeIDs); err != nil {
			return nil, err
		}
	}
	if v := stringField(rec, "edge_ids"); v != "" {
		if err := json.Unmarshal([]byte(v), &out.EdgeIDs); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *MemgraphStore) RegisterScene(ctx context.Context, sceneID string, ordinal int) error {
	return s.mutate(ctx, cypherRegisterScene, map[string]any{
		"uuid":    sceneID,
		"ordinal": int64(ordinal),
	})
}

func (s *MemgraphStore) SceneOrder(ctx context.Context) (map[string]int, error) {
	res, err := s.run(ctx, cypherSceneOrder, nil)
	if err != nil {
		return nil, err
	}
	order := make(map[string]int, len(res.Records))
	for _, rec := range res.Records {
		id := stringField(rec, "uuid")
		if v, ok := rec.Get("ordinal"); ok {
			if n, ok := v.(int64); ok {
				order[id] = int(n)
			}
		}
	}
	return order, nil
}

func (s *MemgraphStore) PutThemeOverride(ctx context.Context, ov *model.ThemeOverride) error {
	if ov.CreatedAt.IsZero() {
		ov.CreatedAt = time.Now().UTC()
	}
	return s.mutate(ctx, cypherPutThemeOverride, map[string]any{
		"beat_id":    ov.BeatID,
		"theme_id":   ov.ThemeID,
		"score":      ov.Score,
		"rationale":  ov.Rationale,
		"created_at": ov.CreatedAt.UnixNano(),
	})
}

func (s *MemgraphStore) ThemeOverrides(ctx context.Context) ([]*model.ThemeOverride, error) {
	res, err := s.run(ctx, cypherThemeOverrides, nil)
	if err != nil {
		return nil, err
	}
	overrides := make([]*model.ThemeOverride, 0, len(res.Records))
	for _, rec := range res.Records {
		ov := &model.ThemeOverride{
			BeatID:    stringField(rec, "beat_id"),
			ThemeID:   stringField(rec, "theme_id"),
			Rationale: stringField(rec, "rationale"),
			CreatedAt: timeField(rec, "created_at"),
		}
		if v, ok := rec.Get("score"); ok {
			if f, ok := v.(float64); ok {
				ov.Score = f
			}
		}
		overrides = append(overrides, ov)
	}
	return overrides, nil
}

func (s *MemgraphStore) AppendIssues(ctx context.Context, issues []*model.Issue) error {
	for _, is := range issues {
		if is.CreatedAt.IsZero() {
			is.CreatedAt = time.Now().UTC()
		}
		nodeIDs, err := json.Marshal(nonNilStrings(is.NodeIDs))
		if err != nil {
			return err
		}
		edgeIDs, err := json.Marshal(nonNilStrings(is.EdgeIDs))
		if err != nil {
			return err
		}
		if err := s.mutate(ctx, cypherAppendIssue, map[string]any{
			"uuid":        is.ID,
			"severity":    string(is.Severity),
			"tier":        string(is.Tier),
			"kind":        is.Kind,
			"node_ids":    string(nodeIDs),
			"edge_ids":    string(edgeIDs),
			"message":     is.Message,
			"remediation": is.Remediation,
			"created_at":  is.CreatedAt.UnixNano(),
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemgraphStore) Issues(ctx context.Context, limit int) ([]*model.Issue, error) {
	if limit <= 0 {
		limit = 100
	}
	res, err := s.run(ctx, cypherIssues, map[string]any{"limit": int64(limit)})
	if err != nil {
		return nil, err
	}
	issues := make([]*model.Issue, 0, len(res.Records))
	for _, rec := range res.Records {
		is := &model.Issue{
			ID:          stringField(rec, "uuid"),
			Severity:    model.Severity(stringField(rec, "severity")),
			Tier:        model.Tier(stringField(rec, "tier")),
			Kind:        stringField(rec, "kind"),
			Message:     stringField(rec, "message"),
			Remediation: stringField(rec, "remediation"),
			CreatedAt:   timeField(rec, "created_at"),
		}
		if v := stringField(rec, "node_ids"); v != "" {
			if err := json.Unmarshal([]byte(v), &is.NodeIDs); err != nil {
				return nil, err
			}
		}
		if v := stringField(rec, "edge_ids"); v != "" {
			if err := json.Unmarshal([]byte(v), &is.EdgeIDs); err != nil {
				return nil, err
			}
		}
		issues = append(issues, is)
	}
	return issues, nil
}

func (s *MemgraphStore) Snapshot(ctx context.Context) (*model.Snapshot, error) {
	version, err := s.Version(ctx)
	if err != nil {
		return nil, err
	}
	nodes, err := s.AllNodes(ctx)
	if err != nil {
		return nil, err
	}
	edges, err := s.AllEdges(ctx)
	if err != nil {
		return nil, err
	}
	order, err := s.SceneOrder(ctx)
	if err != nil {
		return nil, err
	}

	snap := &model.Snapshot{
		Version:    version,
		Nodes:      make(map[string]*model.Node, len(nodes)),
		Edges:      make(map[string]*model.Edge, len(edges)),
		SceneOrder: order,
	}
	for _, n := range nodes {
		snap.Nodes[n.ID] = n
	}
	for _, e := range edges {
		snap.Edges[e.ID] = e
	}
	return snap, nil
}

func stringField(rec *neo4j.Record, key string) string {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func timeField(rec *neo4j.Record, key string) time.Time {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return time.Time{}
	}
	n, ok := v.(int64)
	if !ok {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
