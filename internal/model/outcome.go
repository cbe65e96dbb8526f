package model

import "time"

// OutcomeResult is the terminal result of a handed-off deal.
type OutcomeResult string

const (
	OutcomeWon     OutcomeResult = "won"
	OutcomeLost    OutcomeResult = "lost"
	OutcomeStalled OutcomeResult = "stalled"
)

// Valid reports whether r is a known outcome result.
func (r OutcomeResult) Valid() bool {
	switch r {
	case OutcomeWon, OutcomeLost, OutcomeStalled:
		return true
	}
	return false
}

// Outcome is the closed-deal result fed back from the CRM. A lead has at
// most one terminal outcome.
type Outcome struct {
	ID            string        `json:"id"`
	LeadID        string        `json:"lead_id"`
	ICPVersion    int           `json:"icp_version_at_engagement"`
	Result        OutcomeResult `json:"result"`
	Value         float64       `json:"value,omitempty"`
	ExternalRefID string        `json:"external_ref_id,omitempty"`
	RecordedAt    time.Time     `json:"recorded_at"`
}
