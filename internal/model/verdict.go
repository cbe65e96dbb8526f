package model

import "time"

// VerdictResult is the outcome of a qualification decision.
type VerdictResult string

const (
	VerdictQualified    VerdictResult = "qualified"
	VerdictDisqualified VerdictResult = "disqualified"
	VerdictDeferred     VerdictResult = "deferred"
)

// Verdict is an immutable qualification decision. Re-qualification appends a
// new verdict to the lead's history; existing verdicts are never rewritten.
type Verdict struct {
	ID         string          `json:"id"`
	LeadID     string          `json:"lead_id"`
	Result     VerdictResult   `json:"result"`
	Rationale  []CriterionStep `json:"rationale"`
	ICPVersion int             `json:"icp_version"`
	Score      float64         `json:"score_at_decision"`
	Framework  string          `json:"framework"`
	DecidedAt  time.Time       `json:"decided_at"`
}

// CriterionStep is one criterion's line in a verdict rationale. The rationale
// must be complete enough to explain the verdict without recomputation.
type CriterionStep struct {
	Criterion string  `json:"criterion"`
	Required  bool    `json:"required"`
	Match     float64 `json:"match"`
	Weight    float64 `json:"weight"`
	Weighted  float64 `json:"weighted"`
	Passed    bool    `json:"passed"`
	Value     any     `json:"value,omitempty"`
	Missing   bool    `json:"missing,omitempty"`
}
