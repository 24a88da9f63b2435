// Package analysis computes whole-graph reports: communities, bridge
// nodes, tension, pacing, and theme scores. Everything operates on a
// snapshot and never blocks writers.
package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/storyforge/tapestry/internal/config"
	"github.com/storyforge/tapestry/internal/core/common"
	"github.com/storyforge/tapestry/internal/core/model"
	"github.com/storyforge/tapestry/internal/core/ontology"
	"github.com/storyforge/tapestry/internal/llm"
)

// TensionReport maps unresolved-conflict density to a 0-1 score.
type TensionReport struct {
	Score          float64 `json:"score"`
	Label          string  `json:"label"`
	Recommendation string  `json:"recommendation,omitempty"`
	ConflictEdges  int     `json:"conflict_edges"`
}

// Tension aggregates HINDERS/CONTRADICTS/CHALLENGES and open FORESHADOWS
// weights, normalized by node count. The s/(1+s) mapping is strictly
// increasing, so more conflict at a fixed graph size always scores higher.
func Tension(snap *model.Snapshot) TensionReport {
	if len(snap.Nodes) == 0 {
		return TensionReport{Label: "empty"}
	}

	var weighted float64
	conflicts := 0
	for _, e := range snap.Edges {
		spec, ok := ontology.Spec(e.Type)
		if !ok || spec.TensionWeight == 0 {
			continue
		}
		if e.Type == ontology.Foreshadows && !e.OpenForeshadow() {
			continue
		}
		weighted += spec.TensionWeight
		conflicts++
	}

	s := weighted / float64(len(snap.Nodes))
	score := s / (1 + s)

	report := TensionReport{Score: score, ConflictEdges: conflicts}
	switch {
	case score < 0.15:
		report.Label = "slack"
		report.Recommendation = "stakes are low; consider introducing obstacles or open questions"
	case score < 0.55:
		report.Label = "balanced"
	default:
		report.Label = "overloaded"
		report.Recommendation = "conflict density is very high; consider resolving threads before adding more"
	}
	return report
}

// PacingReport summarizes action/setup/resolution ratios by scene order.
type PacingReport struct {
	ActionRatio     float64  `json:"action_ratio"`
	SetupRatio      float64  `json:"setup_ratio"`
	ResolutionRatio float64  `json:"resolution_ratio"`
	// Plateaus lists runs of consecutive scenes with no action-category
	// edges that exceed the configured threshold.
	Plateaus []PlateauRun `json:"plateaus,omitempty"`
}

type PlateauRun struct {
	FromOrdinal int `json:"from_ordinal"`
	ToOrdinal   int `json:"to_ordinal"`
}

// Pacing buckets edges by the scene that introduced them.
func Pacing(snap *model.Snapshot, plateauThreshold int) PacingReport {
	if plateauThreshold <= 0 {
		plateauThreshold = 4
	}

	var action, setup, resolution, total float64
	actionByScene := make(map[int]bool)
	for _, e := range snap.Edges {
		spec, ok := ontology.Spec(e.Type)
		if !ok {
			continue
		}
		ord := snap.EdgeOrdinal(e)
		switch spec.Pacing {
		case ontology.PacingAction:
			action++
			total++
			if ord >= 0 {
				actionByScene[ord] = true
			}
		case ontology.PacingSetup:
			setup++
			total++
		case ontology.PacingResolution:
			resolution++
			total++
		}
	}

	report := PacingReport{}
	if total > 0 {
		report.ActionRatio = action / total
		report.SetupRatio = setup / total
		report.ResolutionRatio = resolution / total
	}

	latest := snap.LatestSceneOrdinal()
	runStart := -1
	for ord := 0; ord <= latest; ord++ {
		if actionByScene[ord] {
			if runStart >= 0 && ord-runStart > plateauThreshold {
				report.Plateaus = append(report.Plateaus, PlateauRun{FromOrdinal: runStart, ToOrdinal: ord - 1})
			}
			runStart = -1
			continue
		}
		if runStart < 0 {
			runStart = ord
		}
	}
	if runStart >= 0 && latest-runStart+1 > plateauThreshold {
		report.Plateaus = append(report.Plateaus, PlateauRun{FromOrdinal: runStart, ToOrdinal: latest})
	}
	return report
}

// ThemeScore is the presence score of a theme at a beat. Manual overrides
// always win over the automated score.
type ThemeScore struct {
	BeatID     string  `json:"beat_id"`
	ThemeID    string  `json:"theme_id"`
	Score      float64 `json:"score"`
	Overridden bool    `json:"overridden"`
}

// ThemeScores derives automated (beat, theme) scores from APPEARS_IN edge
// confidence and applies overrides on top.
func ThemeScores(snap *model.Snapshot, overrides []*model.ThemeOverride) []ThemeScore {
	type key struct{ beat, theme string }
	auto := make(map[key]float64)

	for _, e := range snap.Edges {
		if e.Type != ontology.AppearsIn {
			continue
		}
		theme, ok := snap.Nodes[e.SourceID]
		if !ok || theme.Type != ontology.Theme {
			continue
		}
		for _, sc := range e.Scenes {
			k := key{beat: sc, theme: theme.ID}
			if e.Confidence > auto[k] {
				auto[k] = e.Confidence
			}
		}
	}

	scores := make(map[key]ThemeScore, len(auto))
	for k, v := range auto {
		scores[k] = ThemeScore{BeatID: k.beat, ThemeID: k.theme, Score: v}
	}
	for _, ov := range overrides {
		k := key{beat: ov.BeatID, theme: ov.ThemeID}
		scores[k] = ThemeScore{BeatID: ov.BeatID, ThemeID: ov.ThemeID, Score: ov.Score, Overridden: true}
	}

	out := make([]ThemeScore, 0, len(scores))
	for _, s := range scores {
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].BeatID != out[j].BeatID {
			return out[i].BeatID < out[j].BeatID
		}
		return out[i].ThemeID < out[j].ThemeID
	})
	return out
}

// Community is one detected cluster with an optional generated name.
type Community struct {
	ID      int      `json:"id"`
	Name    string   `json:"name,omitempty"`
	Members []string `json:"members"`
}

// Summary aggregates every report for dashboard consumers.
type Summary struct {
	Nodes       int           `json:"nodes"`
	Edges       int           `json:"edges"`
	Communities []Community   `json:"communities"`
	Bridges     []Bridge      `json:"bridges"`
	Tension     TensionReport `json:"tension"`
	Pacing      PacingReport  `json:"pacing"`
	Themes      []ThemeScore  `json:"themes"`
}

// Analyzer owns the optional generative community naming; all numeric
// reports are pure functions usable without one.
type Analyzer struct {
	LLM llm.LLMClient
	cfg config.VerificationConfig
	log *slog.Logger
}

func NewAnalyzer(llmClient llm.LLMClient, cfg config.VerificationConfig) *Analyzer {
	return &Analyzer{
		LLM: llmClient,
		cfg: cfg,
		log: slog.Default().With("component", "analysis"),
	}
}

// Summarize builds the full report over one snapshot.
func (a *Analyzer) Summarize(ctx context.Context, snap *model.Snapshot, overrides []*model.ThemeOverride) *Summary {
	grouped := Communities(snap)

	cids := make([]int, 0, len(grouped))
	for id := range grouped {
		cids = append(cids, id)
	}
	sort.Ints(cids)

	communities := make([]Community, 0, len(cids))
	for _, id := range cids {
		members := grouped[id]
		if len(members) < 2 {
			continue
		}
		c := Community{ID: id, Members: members}
		c.Name = a.nameCommunity(ctx, snap, members)
		communities = append(communities, c)
	}

	bridgeCount := int(math.Max(3, float64(len(snap.Nodes))/10))
	return &Summary{
		Nodes:       len(snap.Nodes),
		Edges:       len(snap.Edges),
		Communities: communities,
		Bridges:     Bridges(snap, bridgeCount),
		Tension:     Tension(snap),
		Pacing:      Pacing(snap, a.cfg.PacingPlateauRun),
		Themes:      ThemeScores(snap, overrides),
	}
}

const communityNamePrompt = `These story entities form a tightly connected group:
%s

Give the group a short descriptive name (a subplot, faction, or thread name).
Return ONLY a JSON object: {"name": "..."}`

type communityName struct {
	Name string `json:"name"`
}

func (a *Analyzer) nameCommunity(ctx context.Context, snap *model.Snapshot, members []string) string {
	if a.LLM == nil {
		return ""
	}
	var names []string
	for _, id := range members {
		if n, ok := snap.Nodes[id]; ok {
			names = append(names, fmt.Sprintf("- %s (%s)", n.Name, n.Type))
		}
	}
	response, err := a.LLM.Generate(ctx, fmt.Sprintf(communityNamePrompt, strings.Join(names, "\n")))
	if err != nil {
		a.log.Warn("community naming skipped", "error", err)
		return ""
	}
	result, err := common.ParseJSON[communityName](response)
	if err != nil {
		return ""
	}
	return result.Name
}
