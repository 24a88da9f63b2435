package store

// Cypher statements for the Memgraph backend. Relationships are stored as a
// single RELATES type with the narrative relation carried as a property, so
// the closed vocabulary can grow without schema migrations.
const (
	cypherSaveNode = `
		CREATE (n:Entity {uuid: $uuid, type: $type, name: $name, props: $props,
			created_at: $created_at, updated_at: $updated_at})
		RETURN n.uuid AS uuid
	`

	cypherGetNode = `
		MATCH (n:Entity {uuid: $uuid})
		RETURN n.uuid AS uuid, n.type AS type, n.name AS name, n.props AS props,
			n.embedding AS embedding, n.embed_provider AS embed_provider,
			n.embed_model AS embed_model, n.embedded_at AS embedded_at,
			n.created_at AS created_at, n.updated_at AS updated_at
	`

	cypherNodeReturn = `
		RETURN n.uuid AS uuid, n.type AS type, n.name AS name, n.props AS props,
			n.embedding AS embedding, n.embed_provider AS embed_provider,
			n.embed_model AS embed_model, n.embedded_at AS embedded_at,
			n.created_at AS created_at, n.updated_at AS updated_at
	`

	cypherUpdateNodeProps = `
		MATCH (n:Entity {uuid: $uuid})
		SET n.props = $props, n.updated_at = $updated_at
		RETURN n.uuid AS uuid
	`

	cypherSetNodeEmbedding = `
		MATCH (n:Entity {uuid: $uuid})
		SET n.embedding = $embedding, n.embed_provider = $provider,
			n.embed_model = $model, n.embedded_at = $embedded_at
		RETURN n.uuid AS uuid
	`

	cypherDeleteNode = `
		MATCH (n:Entity {uuid: $uuid})
		DETACH DELETE n
		RETURN $uuid AS uuid
	`

	cypherSaveEdge = `
		MATCH (source:Entity {uuid: $source_uuid})
		MATCH (target:Entity {uuid: $target_uuid})
		CREATE (source)-[e:RELATES {uuid: $uuid, type: $type, confidence: $confidence,
			scenes: $scenes, props: $props, status: $status,
			created_at: $created_at, updated_at: $updated_at}]->(target)
		RETURN e.uuid AS uuid
	`

	cypherEdgeReturn = `
		RETURN e.uuid AS uuid, startNode(e).uuid AS source_uuid, endNode(e).uuid AS target_uuid,
			e.type AS type, e.confidence AS confidence, e.scenes AS scenes,
			e.props AS props, e.status AS status,
			e.created_at AS created_at, e.updated_at AS updated_at
	`

	cypherUpdateEdge = `
		MATCH ()-[e:RELATES {uuid: $uuid}]->()
		SET e.confidence = $confidence, e.scenes = $scenes, e.props = $props,
			e.status = $status, e.updated_at = $updated_at
		RETURN e.uuid AS uuid
	`

	cypherDeleteEdge = `
		MATCH ()-[e:RELATES {uuid: $uuid}]->()
		DELETE e
		RETURN $uuid AS uuid
	`

	cypherSaveExtraction = `
		MERGE (x:Extraction {scene_id: $scene_id, ontology_version: $ontology_version})
		SET x.content_hash = $content_hash, x.node_ids = $node_ids,
			x.edge_ids = $edge_ids, x.created_at = $created_at
		RETURN x.scene_id AS scene_id
	`

	cypherGetExtraction = `
		MATCH (x:Extraction {scene_id: $scene_id, ontology_version: $ontology_version})
		RETURN x.scene_id AS scene_id, x.ontology_version AS ontology_version,
			x.content_hash AS content_hash, x.node_ids AS node_ids,
			x.edge_ids AS edge_ids, x.created_at AS created_at
	`

	cypherRegisterScene = `
		MERGE (s:Scene {uuid: $uuid})
		SET s.ordinal = $ordinal
		RETURN s.uuid AS uuid
	`

	cypherSceneOrder = `
		MATCH (s:Scene)
		RETURN s.uuid AS uuid, s.ordinal AS ordinal
	`

	cypherPutThemeOverride = `
		MERGE (o:ThemeOverride {beat_id: $beat_id, theme_id: $theme_id})
		SET o.score = $score, o.rationale = $rationale, o.created_at = $created_at
		RETURN o.beat_id AS beat_id
	`

	cypherThemeOverrides = `
		MATCH (o:ThemeOverride)
		RETURN o.beat_id AS beat_id, o.theme_id AS theme_id, o.score AS score,
			o.rationale AS rationale, o.created_at AS created_at
	`

	cypherAppendIssue = `
		CREATE (i:IssueLog {uuid: $uuid, severity: $severity, tier: $tier, kind: $kind,
			node_ids: $node_ids, edge_ids: $edge_ids, message: $message,
			remediation: $remediation, created_at: $created_at})
		RETURN i.uuid AS uuid
	`

	cypherIssues = `
		MATCH (i:IssueLog)
		RETURN i.uuid AS uuid, i.severity AS severity, i.tier AS tier, i.kind AS kind,
			i.node_ids AS node_ids, i.edge_ids AS edge_ids, i.message AS message,
			i.remediation AS remediation, i.created_at AS created_at
		ORDER BY i.created_at DESC
		LIMIT $limit
	`

	cypherBumpVersion = `
		MERGE (m:Meta {key: 'version'})
		ON CREATE SET m.value = 1
		ON MATCH SET m.value = m.value + 1
		RETURN m.value AS value
	`

	cypherGetVersion = `
		MERGE (m:Meta {key: 'version'})
		ON CREATE SET m.value = 0
		RETURN m.value AS value
	`
)
