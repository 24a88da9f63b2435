// Package extraction turns scene prose into ontology-conformant graph
// deltas. The generative pass is constrained to the closed relation
// vocabulary; anything outside it is dropped and logged, never coerced into
// a near match.
package extraction

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/storyforge/tapestry/internal/config"
	"github.com/storyforge/tapestry/internal/core/common"
	"github.com/storyforge/tapestry/internal/core/model"
	"github.com/storyforge/tapestry/internal/core/ontology"
	"github.com/storyforge/tapestry/internal/llm"
)

// defaultGraphPrompt is used when the config does not override it. The
// substitutions are: entity vocabulary, relation vocabulary, known
// entities, scene text.
const defaultGraphPrompt = `You are a story continuity analyst. Extract entities and relationships from the scene below.

Allowed entity types (use EXACTLY these identifiers):
%s

Allowed relation types (use EXACTLY these identifiers):
%s

Known entities from earlier scenes (reuse their names for pronouns and aliases):
%s

<SCENE>
%s
</SCENE>

Return ONLY a JSON object:
{
  "entities": [{"name": "...", "entity_type": "CHARACTER", "confidence": 0.9, "props": {"description": "..."}}],
  "relations": [{"source": "...", "target": "...", "relation_type": "MOTIVATES", "confidence": 0.8, "fact": "..."}]
}
Use only the allowed identifiers. Source and target reference entity names.`

const defaultContradictionPrompt = `Does the New Fact contradict any of the Existing Facts?
Be conservative. Only flag a change of state or a logical impossibility
(e.g. a character established as dead later performing actions).

New Fact: %s

Existing Facts:
%s

Return a JSON object listing the ids of EXISTING facts contradicted by the new fact:
{ "contradicted_edge_ids": ["id-1"] }
If none, return an empty list.`

type Extractor struct {
	LLM     llm.LLMClient
	Prompts config.ExtractionPrompts
	log     *slog.Logger
}

func NewExtractor(llmClient llm.LLMClient, prompts config.ExtractionPrompts) *Extractor {
	if prompts.Graph == "" {
		prompts.Graph = defaultGraphPrompt
	}
	if prompts.Contradiction == "" {
		prompts.Contradiction = defaultContradictionPrompt
	}
	return &Extractor{
		LLM:     llmClient,
		Prompts: prompts,
		log:     slog.Default().With("component", "extraction"),
	}
}

// Extract runs the generative pass over one scene and returns the proposals
// that survive ontology filtering, plus the count of dropped proposals.
// known grounds pronoun/alias resolution; it may be nil on a cold graph.
func (e *Extractor) Extract(ctx context.Context, sceneID, content string, known *model.EgoGraph) (*model.ExtractedGraph, int, error) {
	if e.LLM == nil {
		return nil, 0, fmt.Errorf("extract scene %s: %w", sceneID, model.ErrProviderUnavailable)
	}

	prompt := fmt.Sprintf(e.Prompts.Graph,
		joinEntityTypes(), joinRelationTypes(), knownEntityList(known), content)

	response, err := e.LLM.Generate(ctx, prompt)
	if err != nil {
		return nil, 0, fmt.Errorf("extract scene %s: %w: %v", sceneID, model.ErrProviderUnavailable, err)
	}

	raw, err := common.ParseJSON[model.ExtractedGraph](response)
	if err != nil {
		return nil, 0, fmt.Errorf("extract scene %s: failed to parse response: %w", sceneID, err)
	}

	return e.filter(sceneID, &raw)
}

// filter drops proposals outside the closed ontology.
func (e *Extractor) filter(sceneID string, raw *model.ExtractedGraph) (*model.ExtractedGraph, int, error) {
	out := &model.ExtractedGraph{}
	dropped := 0

	for _, ent := range raw.Entities {
		ent.Name = strings.TrimSpace(ent.Name)
		if ent.Name == "" {
			dropped++
			continue
		}
		if !ontology.ValidEntityType(ontology.EntityType(ent.EntityType)) {
			e.log.Warn("dropped entity with unknown type",
				"scene", sceneID, "name", ent.Name, "type", ent.EntityType)
			dropped++
			continue
		}
		if ent.Confidence <= 0 || ent.Confidence > 1 {
			ent.Confidence = 0.5
		}
		out.Entities = append(out.Entities, ent)
	}

	for _, rel := range raw.Relations {
		if strings.TrimSpace(rel.Source) == "" || strings.TrimSpace(rel.Target) == "" {
			dropped++
			continue
		}
		if !ontology.ValidRelationType(ontology.RelationType(rel.RelationType)) {
			e.log.Warn("dropped relation outside ontology",
				"scene", sceneID, "relation", rel.RelationType,
				"source", rel.Source, "target", rel.Target)
			dropped++
			continue
		}
		if rel.Confidence <= 0 || rel.Confidence > 1 {
			rel.Confidence = 0.5
		}
		out.Relations = append(out.Relations, rel)
	}

	return out, dropped, nil
}

// CheckContradictions asks the model whether a new fact contradicts any
// existing edge touching the same entities. Returns ids of contradicted
// edges. Provider failure returns ErrProviderUnavailable; callers skip the
// check rather than failing the extraction.
func (e *Extractor) CheckContradictions(ctx context.Context, newFact string, existing []*model.Edge) ([]string, error) {
	if len(existing) == 0 || e.LLM == nil {
		return nil, nil
	}

	var sb strings.Builder
	for _, edge := range existing {
		fact, _ := edge.Props["fact"].(string)
		if fact == "" {
			fact = fmt.Sprintf("%s %s %s", edge.SourceID, edge.Type, edge.TargetID)
		}
		fmt.Fprintf(&sb, "- ID: %s, Fact: %s\n", edge.ID, fact)
	}

	prompt := fmt.Sprintf(e.Prompts.Contradiction, newFact, sb.String())
	response, err := e.LLM.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("contradiction check: %w: %v", model.ErrProviderUnavailable, err)
	}

	result, err := common.ParseJSON[contradictionResult](response)
	if err != nil {
		e.log.Warn("unparseable contradiction response", "error", err)
		return nil, nil
	}
	return result.ContradictedEdgeIDs, nil
}

type contradictionResult struct {
	ContradictedEdgeIDs []string `json:"contradicted_edge_ids"`
}

func joinEntityTypes() string {
	types := ontology.EntityTypes()
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = string(t)
	}
	return strings.Join(parts, ", ")
}

func joinRelationTypes() string {
	types := ontology.RelationTypes()
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = string(t)
	}
	return strings.Join(parts, ", ")
}

func knownEntityList(known *model.EgoGraph) string {
	if known == nil || len(known.Nodes) == 0 {
		return "(none yet)"
	}
	var lines []string
	for _, n := range known.Nodes {
		lines = append(lines, fmt.Sprintf("- %s (%s)", n.Name, n.Type))
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n")
}
