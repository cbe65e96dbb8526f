package model

import "time"

// Phase represents a lead's position in the sales pipeline.
type Phase string

const (
	PhaseDiscovered    Phase = "discovered"
	PhasePreQualifying Phase = "pre_qualifying"
	PhaseQualified     Phase = "qualified"
	PhaseDisqualified  Phase = "disqualified"
	PhaseDeferred      Phase = "deferred"
	PhaseEngaging      Phase = "engaging"
	PhaseBooked        Phase = "booked"
	PhaseHandedOff     Phase = "handed_off"
	PhaseClosedWon     Phase = "closed_won"
	PhaseClosedLost    Phase = "closed_lost"
)

// legalTransitions is the single source of truth for pipeline movement.
// Terminal phases have no entries and can never be left.
var legalTransitions = map[Phase][]Phase{
	PhaseDiscovered:    {PhasePreQualifying},
	PhasePreQualifying: {PhaseQualified, PhaseDisqualified, PhaseDeferred},
	PhaseQualified:     {PhaseEngaging},
	PhaseDeferred:      {PhasePreQualifying},
	PhaseEngaging:      {PhaseBooked, PhaseDeferred},
	PhaseBooked:        {PhaseHandedOff},
	PhaseHandedOff:     {PhaseClosedWon, PhaseClosedLost},
}

// CanTransition reports whether moving from p to next is legal.
func (p Phase) CanTransition(next Phase) bool {
	for _, t := range legalTransitions[p] {
		if t == next {
			return true
		}
	}
	return false
}

// Terminal reports whether p is a terminal-absorbing phase.
func (p Phase) Terminal() bool {
	return len(legalTransitions[p]) == 0
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	switch p {
	case PhaseDiscovered, PhasePreQualifying, PhaseQualified, PhaseDisqualified,
		PhaseDeferred, PhaseEngaging, PhaseBooked, PhaseHandedOff,
		PhaseClosedWon, PhaseClosedLost:
		return true
	}
	return false
}

// PhaseChange is a single entry in a lead's append-only phase history.
type PhaseChange struct {
	Phase     Phase     `json:"phase"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// Transition reasons recorded in phase history. Reasons reference the
// triggering artifact (verdict id, outcome id) where one exists.
const (
	ReasonEnrichmentReady     = "enrichment-ready"
	ReasonEnrichmentTimeout   = "enrichment-timeout"
	ReasonVerdict             = "verdict"
	ReasonCooldownElapsed     = "cooldown-elapsed"
	ReasonNewEnrichment       = "new-enrichment"
	ReasonEngagementStarted   = "engagement-started"
	ReasonNoResponse          = "no-response"
	ReasonMeetingConfirmed    = "meeting-confirmed"
	ReasonCRMHandoff          = "crm-handoff"
	ReasonOutcome             = "outcome"
	ReasonDependencyExhausted = "dependency-exhausted"
)
