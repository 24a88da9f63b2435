package model

import "time"

// Tier identifies the verification pass that produced an issue.
type Tier string

const (
	TierFast   Tier = "FAST"
	TierMedium Tier = "MEDIUM"
	TierSlow   Tier = "SLOW"
)

// Severity of a verification issue.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Issue is a consistency finding. Issues notify, they never block.
type Issue struct {
	ID          string    `json:"id"`
	Severity    Severity  `json:"severity"`
	Tier        Tier      `json:"tier"`
	Kind        string    `json:"kind"`
	NodeIDs     []string  `json:"node_ids,omitempty"`
	EdgeIDs     []string  `json:"edge_ids,omitempty"`
	Message     string    `json:"message"`
	Remediation string    `json:"remediation,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ThemeOverride is a manually set score for a (beat, theme) pair. It takes
// precedence over any automated score.
type ThemeOverride struct {
	BeatID    string    `json:"beat_id"`
	ThemeID   string    `json:"theme_id"`
	Score     float64   `json:"score"`
	Rationale string    `json:"rationale,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
