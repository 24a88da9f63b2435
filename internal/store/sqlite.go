package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/storyforge/tapestry/internal/core/model"
	"github.com/storyforge/tapestry/internal/core/ontology"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore is the default embedded backend. Property bags and vectors
// are stored as JSON; timestamps as unix nanoseconds so staleness
// comparisons keep sub-second precision.
type SQLiteStore struct {
	mu sync.RWMutex
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a store at dsn. Use ":memory:" for
// tests.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single writer keeps SQLite happy under concurrent engine callers;
	// reads are snapshot-consistent anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func (s *SQLiteStore) bumpVersion(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `UPDATE meta SET value = value + 1 WHERE key = 'version'`)
	return err
}

func (s *SQLiteStore) Version(ctx context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var v uint64
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'version'`).Scan(&v)
	return v, err
}

// ---- nodes ----

func (s *SQLiteStore) AddNode(ctx context.Context, n *model.Node) error {
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
		return fmt.Errorf("failed to marshal props: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO nodes (id, type, name, props, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			n.ID, string(n.Type), n.Name, string(props),
			n.CreatedAt.UnixNano(), n.UpdatedAt.UnixNano())
		return err
	})
}

func (s *SQLiteStore) GetNode(ctx context.Context, id string) (*model.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getNode(ctx, s.db, id)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

const nodeColumns = `id, type, name, props, embedding, embed_provider, embed_model, embedded_at, created_at, updated_at`

func (s *SQLiteStore) getNode(ctx context.Context, q querier, id string) (*model.Node, error) {
	row := q.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id = ?`, id)
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("node %s: %w", id, model.ErrNotFound)
	}
	return n, err
}

type rowScanner interface{ Scan(dest ...any) error }

func scanNode(row rowScanner) (*model.Node, error) {
	var (
		n                          model.Node
		typ, props                 string
		embJSON, provider, embModel sql.NullString
		embeddedAt                 sql.NullInt64
		createdAt, updatedAt       int64
	)
	if err := row.Scan(&n.ID, &typ, &n.Name, &props, &embJSON, &provider,
		&embModel, &embeddedAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	n.Type = ontology.EntityType(typ)
	n.CreatedAt = time.Unix(0, createdAt).UTC()
	n.UpdatedAt = time.Unix(0, updatedAt).UTC()
	if err := json.Unmarshal([]byte(props), &n.Props); err != nil {
		return nil, fmt.Errorf("failed to unmarshal props: %w", err)
	}
	if embJSON.Valid {
		var vec []float32
		if err := json.Unmarshal([]byte(embJSON.String), &vec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal embedding: %w", err)
		}
		n.Embedding = &model.Embedding{
			Vector:    vec,
			Provider:  provider.String,
			Model:     embModel.String,
			CreatedAt: time.Unix(0, embeddedAt.Int64).UTC(),
		}
	}
	return &n, nil
}

func (s *SQLiteStore) UpdateNodeProps(ctx context.Context, id string, props map[string]any) (*model.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var updated *model.Node
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		n, err := s.getNode(ctx, tx, id)
		if err != nil {
			return err
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
			return fmt.Errorf("failed to marshal props: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE nodes SET props = ?, updated_at = ? WHERE id = ?`,
			string(raw), n.UpdatedAt.UnixNano(), id); err != nil {
			return err
		}
		updated = n
		return nil
	})
	return updated, err
}

func (s *SQLiteStore) SetNodeEmbedding(ctx context.Context, id string, emb *model.Embedding) error {
	raw, err := json.Marshal(emb.Vector)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE nodes SET embedding = ?, embed_provider = ?, embed_model = ?, embedded_at = ?
			WHERE id = ?`,
			string(raw), emb.Provider, emb.Model, emb.CreatedAt.UnixNano(), id)
		if err != nil {
			return err
		}
		if rows, _ := res.RowsAffected(); rows == 0 {
			return fmt.Errorf("node %s: %w", id, model.ErrNotFound)
		}
		return nil
	})
}

// DeleteNode removes the node and cascades to every edge touching it in
// the same transaction, so dangling edges are never observable.
func (s *SQLiteStore) DeleteNode(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if rows, _ := res.RowsAffected(); rows == 0 {
			return fmt.Errorf("node %s: %w", id, model.ErrNotFound)
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM edges WHERE source_id = ? OR target_id = ?`, id, id)
		return err
	})
}

func (s *SQLiteStore) NodesByType(ctx context.Context, t ontology.EntityType) ([]*model.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryNodes(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE type = ? ORDER BY created_at`, string(t))
}

func (s *SQLiteStore) NodeByName(ctx context.Context, name string) (*model.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRowContext(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE name = ? COLLATE NOCASE ORDER BY created_at LIMIT 1`, name)
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("node named %q: %w", name, model.ErrNotFound)
	}
	return n, err
}

func (s *SQLiteStore) AllNodes(ctx context.Context) ([]*model.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryNodes(ctx, `SELECT `+nodeColumns+` FROM nodes ORDER BY created_at`)
}

func (s *SQLiteStore) queryNodes(ctx context.Context, query string, args ...any) ([]*model.Node, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []*model.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// ---- edges ----

func (s *SQLiteStore) AddEdge(ctx context.Context, e *model.Edge) error {
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

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		source, _ := s.getNode(ctx, tx, e.SourceID)
		target, _ := s.getNode(ctx, tx, e.TargetID)
		if err := validateEdge(e, source, target); err != nil {
			return err
		}

		scenes, err := json.Marshal(nonNilStrings(e.Scenes))
		if err != nil {
			return err
		}
		props, err := json.Marshal(nonNilProps(e.Props))
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO edges (id, source_id, target_id, type, confidence, scenes, props, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.SourceID, e.TargetID, string(e.Type), e.Confidence,
			string(scenes), string(props), string(e.Status),
			e.CreatedAt.UnixNano(), e.UpdatedAt.UnixNano())
		return err
	})
}

const edgeColumns = `id, source_id, target_id, type, confidence, scenes, props, status, created_at, updated_at`

func scanEdge(row rowScanner) (*model.Edge, error) {
	var (
		e                    model.Edge
		typ, scenes, props   string
		status               string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&e.ID, &e.SourceID, &e.TargetID, &typ, &e.Confidence,
		&scenes, &props, &status, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	e.Type = ontology.RelationType(typ)
	e.Status = model.EdgeStatus(status)
	e.CreatedAt = time.Unix(0, createdAt).UTC()
	e.UpdatedAt = time.Unix(0, updatedAt).UTC()
	if err := json.Unmarshal([]byte(scenes), &e.Scenes); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(props), &e.Props); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *SQLiteStore) GetEdge(ctx context.Context, id string) (*model.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRowContext(ctx, `SELECT `+edgeColumns+` FROM edges WHERE id = ?`, id)
	e, err := scanEdge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("edge %s: %w", id, model.ErrNotFound)
	}
	return e, err
}

func (s *SQLiteStore) UpdateEdge(ctx context.Context, e *model.Edge) error {
	e.UpdatedAt = time.Now().UTC()
	scenes, err := json.Marshal(nonNilStrings(e.Scenes))
	if err != nil {
		return err
	}
	props, err := json.Marshal(nonNilProps(e.Props))
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE edges SET confidence = ?, scenes = ?, props = ?, status = ?, updated_at = ?
			WHERE id = ?`,
			e.Confidence, string(scenes), string(props), string(e.Status),
			e.UpdatedAt.UnixNano(), e.ID)
		if err != nil {
			return err
		}
		if rows, _ := res.RowsAffected(); rows == 0 {
			return fmt.Errorf("edge %s: %w", e.ID, model.ErrNotFound)
		}
		return nil
	})
}

func (s *SQLiteStore) DeleteEdge(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM edges WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if rows, _ := res.RowsAffected(); rows == 0 {
			return fmt.Errorf("edge %s: %w", id, model.ErrNotFound)
		}
		return nil
	})
}

func (s *SQLiteStore) EdgesByType(ctx context.Context, t ontology.RelationType) ([]*model.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryEdges(ctx, `SELECT `+edgeColumns+` FROM edges WHERE type = ? ORDER BY created_at`, string(t))
}

func (s *SQLiteStore) EdgesForNode(ctx context.Context, nodeID string) ([]*model.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryEdges(ctx,
		`SELECT `+edgeColumns+` FROM edges WHERE source_id = ? OR target_id = ? ORDER BY created_at`,
		nodeID, nodeID)
}

func (s *SQLiteStore) FindEdge(ctx context.Context, sourceID, targetID string, t ontology.RelationType) (*model.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + edgeColumns + ` FROM edges WHERE source_id = ? AND target_id = ? AND type = ? LIMIT 1`
	row := s.db.QueryRowContext(ctx, query, sourceID, targetID, string(t))
	e, err := scanEdge(row)
	if err == nil {
		return e, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	// Symmetric relations match in either direction.
	if spec, ok := ontology.Spec(t); ok && spec.Symmetric {
		row = s.db.QueryRowContext(ctx, query, targetID, sourceID, string(t))
		e, err = scanEdge(row)
		if err == nil {
			return e, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("edge (%s)-[%s]->(%s): %w", sourceID, t, targetID, model.ErrNotFound)
}

func (s *SQLiteStore) AllEdges(ctx context.Context) ([]*model.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryEdges(ctx, `SELECT `+edgeColumns+` FROM edges ORDER BY created_at`)
}

func (s *SQLiteStore) queryEdges(ctx context.Context, query string, args ...any) ([]*model.Edge, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []*model.Edge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// ---- extraction records, scenes, overrides, issues ----

func (s *SQLiteStore) RecordExtraction(ctx context.Context, rec *model.ExtractionRecord) error {
	nodeIDs, err := json.Marshal(nonNilStrings(rec.NodeIDs))
	if err != nil {
		return err
	}
	edgeIDs, err := json.Marshal(nonNilStrings(rec.EdgeIDs))
	if err != nil {
		return err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO extractions (scene_id, ontology_version, content_hash, node_ids, edge_ids, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (scene_id, ontology_version) DO UPDATE SET
				content_hash = excluded.content_hash,
				node_ids = excluded.node_ids,
				edge_ids = excluded.edge_ids,
				created_at = excluded.created_at`,
			rec.SceneID, rec.OntologyVersion, rec.ContentHash,
			string(nodeIDs), string(edgeIDs), rec.CreatedAt.UnixNano())
		return err
	})
}

func (s *SQLiteStore) GetExtraction(ctx context.Context, sceneID, ontologyVersion string) (*model.ExtractionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		rec              model.ExtractionRecord
		nodeIDs, edgeIDs string
		createdAt        int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT scene_id, ontology_version, content_hash, node_ids, edge_ids, created_at
		FROM extractions WHERE scene_id = ? AND ontology_version = ?`,
		sceneID, ontologyVersion,
	).Scan(&rec.SceneID, &rec.OntologyVersion, &rec.ContentHash, &nodeIDs, &edgeIDs, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("extraction for scene %s: %w", sceneID, model.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	if err := json.Unmarshal([]byte(nodeIDs), &rec.NodeIDs); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(edgeIDs), &rec.EdgeIDs); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *SQLiteStore) RegisterScene(ctx context.Context, sceneID string, ordinal int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO scenes (id, ordinal) VALUES (?, ?)
			ON CONFLICT (id) DO UPDATE SET ordinal = excluded.ordinal`,
			sceneID, ordinal)
		return err
	})
}

func (s *SQLiteStore) SceneOrder(ctx context.Context) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, ordinal FROM scenes`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	order := make(map[string]int)
	for rows.Next() {
		var id string
		var ord int
		if err := rows.Scan(&id, &ord); err != nil {
			return nil, err
		}
		order[id] = ord
	}
	return order, rows.Err()
}

func (s *SQLiteStore) PutThemeOverride(ctx context.Context, ov *model.ThemeOverride) error {
	if ov.CreatedAt.IsZero() {
		ov.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO theme_overrides (beat_id, theme_id, score, rationale, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (beat_id, theme_id) DO UPDATE SET
				score = excluded.score,
				rationale = excluded.rationale,
				created_at = excluded.created_at`,
			ov.BeatID, ov.ThemeID, ov.Score, ov.Rationale, ov.CreatedAt.UnixNano())
		return err
	})
}

func (s *SQLiteStore) ThemeOverrides(ctx context.Context) ([]*model.ThemeOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT beat_id, theme_id, score, rationale, created_at FROM theme_overrides`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var overrides []*model.ThemeOverride
	for rows.Next() {
		var ov model.ThemeOverride
		var rationale sql.NullString
		var createdAt int64
		if err := rows.Scan(&ov.BeatID, &ov.ThemeID, &ov.Score, &rationale, &createdAt); err != nil {
			return nil, err
		}
		ov.Rationale = rationale.String
		ov.CreatedAt = time.Unix(0, createdAt).UTC()
		overrides = append(overrides, &ov)
	}
	return overrides, rows.Err()
}

func (s *SQLiteStore) AppendIssues(ctx context.Context, issues []*model.Issue) error {
	if len(issues) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inTx(ctx, func(tx *sql.Tx) error {
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
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO issue_log (id, severity, tier, kind, node_ids, edge_ids, message, remediation, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				is.ID, string(is.Severity), string(is.Tier), is.Kind,
				string(nodeIDs), string(edgeIDs), is.Message, is.Remediation,
				is.CreatedAt.UnixNano()); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLiteStore) Issues(ctx context.Context, limit int) ([]*model.Issue, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, severity, tier, kind, node_ids, edge_ids, message, remediation, created_at
		FROM issue_log ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var issues []*model.Issue
	for rows.Next() {
		var (
			is               model.Issue
			severity, tier   string
			nodeIDs, edgeIDs string
			remediation      sql.NullString
			createdAt        int64
		)
		if err := rows.Scan(&is.ID, &severity, &tier, &is.Kind, &nodeIDs,
			&edgeIDs, &is.Message, &remediation, &createdAt); err != nil {
			return nil, err
		}
		is.Severity = model.Severity(severity)
		is.Tier = model.Tier(tier)
		is.Remediation = remediation.String
		is.CreatedAt = time.Unix(0, createdAt).UTC()
		if err := json.Unmarshal([]byte(nodeIDs), &is.NodeIDs); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(edgeIDs), &is.EdgeIDs); err != nil {
			return nil, err
		}
		issues = append(issues, &is)
	}
	return issues, rows.Err()
}

// Snapshot reads the whole graph under one read lock.
func (s *SQLiteStore) Snapshot(ctx context.Context) (*model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var version uint64
	if err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'version'`).Scan(&version); err != nil {
		return nil, err
	}

	nodes, err := s.queryNodes(ctx, `SELECT `+nodeColumns+` FROM nodes`)
	if err != nil {
		return nil, err
	}
	edges, err := s.queryEdges(ctx, `SELECT `+edgeColumns+` FROM edges`)
	if err != nil {
		return nil, err
	}

	snap := &model.Snapshot{
		Version:    version,
		Nodes:      make(map[string]*model.Node, len(nodes)),
		Edges:      make(map[string]*model.Edge, len(edges)),
		SceneOrder: make(map[string]int),
	}
	for _, n := range nodes {
		snap.Nodes[n.ID] = n
	}
	for _, e := range edges {
		snap.Edges[e.ID] = e
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, ordinal FROM scenes`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var ord int
		if err := rows.Scan(&id, &ord); err != nil {
			return nil, err
		}
		snap.SceneOrder[id] = ord
	}
	return snap, rows.Err()
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := s.bumpVersion(ctx, tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func nonNilProps(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
