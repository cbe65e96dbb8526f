package model

import "time"

// SuggestionStatus tracks a learning suggestion's lifecycle.
type SuggestionStatus string

const (
	SuggestionProposed    SuggestionStatus = "proposed"
	SuggestionAutoApplied SuggestionStatus = "auto_applied"
	SuggestionApplied     SuggestionStatus = "applied"
	SuggestionRejected    SuggestionStatus = "rejected"
	SuggestionSuperseded  SuggestionStatus = "superseded"
)

// LearningSuggestion proposes a weight adjustment for one ICP criterion,
// derived from closed-deal outcomes.
type LearningSuggestion struct {
	ID             string           `json:"id"`
	Criterion      string           `json:"target_criterion"`
	WeightDelta    float64          `json:"proposed_weight_delta"`
	Confidence     float64          `json:"confidence"`
	SampleSize     int              `json:"sample_size"`
	ICPVersion     int              `json:"icp_version"`
	OutcomeIDs     []string         `json:"supporting_outcome_ids"`
	Status         SuggestionStatus `json:"status"`
	AppliedVersion int              `json:"applied_version,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}
