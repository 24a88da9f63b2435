// Package verify implements the three consistency tiers. Each tier is a
// pure function over a graph snapshot, so callers compose them by latency
// budget: FAST inline with generation, MEDIUM in background passes, SLOW
// for on-demand audits. Issues notify; they never block.
package verify

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/storyforge/tapestry/internal/config"
	"github.com/storyforge/tapestry/internal/core/model"
	"github.com/storyforge/tapestry/internal/core/ontology"
)

// Fast runs graph-local checks with no generative call: activity of
// terminated entities, recorded contradictions, and foreshadows left open
// past the staleness threshold.
func Fast(snap *model.Snapshot, cfg config.VerificationConfig) []*model.Issue {
	var issues []*model.Issue
	issues = append(issues, terminatedActivity(snap)...)
	issues = append(issues, recordedContradictions(snap)...)
	issues = append(issues, staleForeshadows(snap, cfg.ForeshadowStaleScenes)...)
	return issues
}

func terminatedActivity(snap *model.Snapshot) []*model.Issue {
	var issues []*model.Issue
	for _, n := range snap.Nodes {
		if !n.Terminated() {
			continue
		}
		for _, e := range snap.Adjacency(n.ID) {
			spec, ok := ontology.Spec(e.Type)
			if !ok || spec.Pacing != ontology.PacingAction && e.Type != ontology.Motivates {
				continue
			}
			if e.SourceID != n.ID {
				continue
			}
			// Driving new action after the termination was recorded.
			if e.UpdatedAt.After(n.UpdatedAt) || e.UpdatedAt.Equal(n.UpdatedAt) {
				issues = append(issues, &model.Issue{
					ID:       uuid.New().String(),
					Severity: model.SeverityError,
					Tier:     model.TierFast,
					Kind:     "terminated_entity_active",
					NodeIDs:  []string{n.ID},
					EdgeIDs:  []string{e.ID},
					Message: fmt.Sprintf("%q is marked %v but still drives %s",
						n.Name, n.Props["status"], e.Type),
					Remediation: "confirm the termination or rewrite the later scene",
				})
			}
		}
	}
	return issues
}

func recordedContradictions(snap *model.Snapshot) []*model.Issue {
	var issues []*model.Issue
	for _, e := range snap.Edges {
		if e.Type != ontology.Contradicts {
			continue
		}
		issues = append(issues, &model.Issue{
			ID:          uuid.New().String(),
			Severity:    model.SeverityWarning,
			Tier:        model.TierFast,
			Kind:        "open_contradiction",
			NodeIDs:     []string{e.SourceID, e.TargetID},
			EdgeIDs:     []string{e.ID},
			Message:     "unresolved contradiction awaiting adjudication",
			Remediation: "review both facts and mark the superseded one",
		})
	}
	return issues
}

func staleForeshadows(snap *model.Snapshot, thresholdScenes int) []*model.Issue {
	if thresholdScenes <= 0 {
		thresholdScenes = 20
	}
	latest := snap.LatestSceneOrdinal()
	if latest < 0 {
		return nil
	}

	var issues []*model.Issue
	for _, e := range snap.Edges {
		if !e.OpenForeshadow() {
			continue
		}
		planted := snap.EdgeOrdinal(e)
		if planted < 0 {
			continue
		}
		if latest-planted <= thresholdScenes {
			continue
		}
		issues = append(issues, &model.Issue{
			ID:       uuid.New().String(),
			Severity: model.SeverityWarning,
			Tier:     model.TierFast,
			Kind:     "unresolved_foreshadow",
			EdgeIDs:  []string{e.ID},
			NodeIDs:  []string{e.SourceID, e.TargetID},
			Message: fmt.Sprintf("foreshadow planted at scene ordinal %d is still open %d scenes later",
				planted, latest-planted),
			Remediation: "resolve it into a callback or abandon it explicitly",
		})
	}
	return issues
}

// Medium runs structural heuristics: characters missing conflict coverage
// and action density deviating from the expected beat position.
func Medium(snap *model.Snapshot, cfg config.VerificationConfig) []*model.Issue {
	var issues []*model.Issue
	issues = append(issues, challengeGaps(snap, cfg.ChallengeGapMin)...)
	issues = append(issues, beatDeviation(snap)...)
	return issues
}

func challengeGaps(snap *model.Snapshot, minChallenges int) []*model.Issue {
	if minChallenges <= 0 {
		minChallenges = 1
	}
	var issues []*model.Issue
	for _, n := range snap.Nodes {
		if n.Type != ontology.Character {
			continue
		}
		degree := snap.Degree(n.ID)
		if degree < 3 {
			// Background characters are not expected to carry conflict.
			continue
		}
		challenges := 0
		for _, e := range snap.Adjacency(n.ID) {
			if e.Type == ontology.Challenges || e.Type == ontology.Hinders {
				challenges++
			}
		}
		if challenges >= minChallenges {
			continue
		}
		issues = append(issues, &model.Issue{
			ID:       uuid.New().String(),
			Severity: model.SeverityInfo,
			Tier:     model.TierMedium,
			Kind:     "challenge_gap",
			NodeIDs:  []string{n.ID},
			Message: fmt.Sprintf("%q is well connected (%d edges) but faces %d challenges",
				n.Name, degree, challenges),
			Remediation: "consider an obstacle or internal conflict for this character",
		})
	}
	return issues
}

// beatDeviation compares action-category edge density across manuscript
// thirds. Action thinning toward the end while setup still dominates is the
// classic sagging-middle signature.
func beatDeviation(snap *model.Snapshot) []*model.Issue {
	latest := snap.LatestSceneOrdinal()
	if latest < 2 {
		return nil
	}

	third := func(ord int) int {
		switch {
		case ord*3 <= latest:
			return 0
		case ord*3 <= latest*2:
			return 1
		default:
			return 2
		}
	}

	var action, setup [3]int
	for _, e := range snap.Edges {
		ord := snap.EdgeOrdinal(e)
		if ord < 0 {
			continue
		}
		spec, ok := ontology.Spec(e.Type)
		if !ok {
			continue
		}
		switch spec.Pacing {
		case ontology.PacingAction:
			action[third(ord)]++
		case ontology.PacingSetup:
			setup[third(ord)]++
		}
	}

	var issues []*model.Issue
	if action[1] < action[0] && setup[1] > setup[0] {
		issues = append(issues, &model.Issue{
			ID:       uuid.New().String(),
			Severity: model.SeverityInfo,
			Tier:     model.TierMedium,
			Kind:     "beat_deviation",
			Message: fmt.Sprintf("middle act has less action (%d) and more setup (%d) than the opening (%d action, %d setup)",
				action[1], setup[1], action[0], setup[0]),
			Remediation: "escalate stakes in the middle act",
		})
	}
	if action[2] < action[1]/2 && action[1] > 0 {
		issues = append(issues, &model.Issue{
			ID:       uuid.New().String(),
			Severity: model.SeverityInfo,
			Tier:     model.TierMedium,
			Kind:     "beat_deviation",
			Message: fmt.Sprintf("final act action (%d) collapses relative to the middle (%d)",
				action[2], action[1]),
			Remediation: "check whether the climax lands where intended",
		})
	}
	return issues
}
