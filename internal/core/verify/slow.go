package verify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/storyforge/tapestry/internal/core/common"
	"github.com/storyforge/tapestry/internal/core/model"
	"github.com/storyforge/tapestry/internal/llm"
)

const slowPrompt = `You are auditing a story's knowledge graph for subtle inconsistencies
that structural checks cannot see: thematic drift, timeline impossibilities,
motivation reversals without cause.

Story facts (subject, relation, object, provenance scenes):
%s

Return ONLY a JSON object:
{
  "findings": [
    {"severity": "warning", "message": "...", "remediation": "...", "edge_ids": ["..."]}
  ]
}
Severity is one of info, warning, error. Return an empty list if the facts are coherent.`

// SlowVerifier runs the full generative semantic pass. One attempt, no
// retries; a provider failure means verification is skipped, not surfaced
// as a caller error.
type SlowVerifier struct {
	LLM llm.LLMClient
	log *slog.Logger
}

func NewSlowVerifier(llmClient llm.LLMClient) *SlowVerifier {
	return &SlowVerifier{
		LLM: llmClient,
		log: slog.Default().With("component", "verify"),
	}
}

type slowFinding struct {
	Severity    string   `json:"severity"`
	Message     string   `json:"message"`
	Remediation string   `json:"remediation"`
	EdgeIDs     []string `json:"edge_ids"`
}

type slowResult struct {
	Findings []slowFinding `json:"findings"`
}

// Run audits the snapshot. The skipped return is true when no generative
// provider answered; the caller logs and moves on.
func (v *SlowVerifier) Run(ctx context.Context, snap *model.Snapshot) (issues []*model.Issue, skipped bool) {
	if v.LLM == nil {
		v.log.Warn("slow verification skipped: no generative provider")
		return nil, true
	}

	digest := snapshotDigest(snap)
	if digest == "" {
		return nil, false
	}

	response, err := v.LLM.Generate(ctx, fmt.Sprintf(slowPrompt, digest))
	if err != nil {
		v.log.Warn("slow verification skipped", "error", err)
		return nil, true
	}

	result, err := common.ParseJSON[slowResult](response)
	if err != nil {
		v.log.Warn("slow verification returned unparseable output", "error", err)
		return nil, true
	}

	for _, f := range result.Findings {
		severity := model.Severity(f.Severity)
		switch severity {
		case model.SeverityInfo, model.SeverityWarning, model.SeverityError:
		default:
			severity = model.SeverityWarning
		}
		// Only keep edge references that exist in the snapshot.
		var edgeIDs []string
		for _, id := range f.EdgeIDs {
			if _, ok := snap.Edges[id]; ok {
				edgeIDs = append(edgeIDs, id)
			}
		}
		issues = append(issues, &model.Issue{
			ID:          uuid.New().String(),
			Severity:    severity,
			Tier:        model.TierSlow,
			Kind:        "semantic_finding",
			EdgeIDs:     edgeIDs,
			Message:     f.Message,
			Remediation: f.Remediation,
		})
	}
	return issues, false
}

// snapshotDigest flattens the graph into fact lines for the audit prompt,
// bounded so huge graphs do not blow the context window.
func snapshotDigest(snap *model.Snapshot) string {
	const maxFacts = 300

	type fact struct {
		ord  int
		line string
	}
	facts := make([]fact, 0, len(snap.Edges))
	for _, e := range snap.Edges {
		src, ok := snap.Nodes[e.SourceID]
		if !ok {
			continue
		}
		dst, ok := snap.Nodes[e.TargetID]
		if !ok {
			continue
		}
		line := fmt.Sprintf("- [%s] %s %s %s (scenes: %s)",
			e.ID, src.Name, e.Type, dst.Name, strings.Join(e.Scenes, ","))
		facts = append(facts, fact{ord: snap.EdgeOrdinal(e), line: line})
	}
	sort.SliceStable(facts, func(i, j int) bool { return facts[i].ord < facts[j].ord })
	if len(facts) > maxFacts {
		facts = facts[len(facts)-maxFacts:]
	}

	lines := make([]string, len(facts))
	for i, f := range facts {
		lines[i] = f.line
	}
	return strings.Join(lines, "\n")
}
