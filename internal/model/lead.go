package model

import (
	"strings"
	"time"

	"github.com/sells-group/sales-agent/internal/resilience"
)

// Lead represents a candidate organization tracked through the pipeline.
type Lead struct {
	ID                 string         `json:"id"`
	CompanyName        string         `json:"company_name"`
	Domain             string         `json:"domain,omitempty"`
	RawAttributes      map[string]any `json:"raw_attributes"`
	EnrichedAttributes map[string]any `json:"enriched_attributes,omitempty"`
	Score              *float64       `json:"score,omitempty"`
	ScoreBreakdown     []Contribution `json:"score_breakdown,omitempty"`
	ScoredVersion      int            `json:"scored_version,omitempty"`
	Phase              Phase          `json:"phase"`
	PhaseHistory       []PhaseChange  `json:"phase_history"`
	Verdicts           []Verdict      `json:"verdicts,omitempty"`
	Engagements        []Engagement   `json:"engagements,omitempty"`
	Outcome            *Outcome       `json:"outcome,omitempty"`
	DeferredAt         *time.Time     `json:"deferred_at,omitempty"`
	CRMRecordID        string         `json:"crm_record_id,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// Contribution is a single criterion's share of a lead's total score.
type Contribution struct {
	Criterion string  `json:"criterion"`
	Match     float64 `json:"match"`
	Weight    float64 `json:"weight"`
	Weighted  float64 `json:"weighted"`
}

// Engagement records one outbound contact attempt and its result.
type Engagement struct {
	Channel   string    `json:"channel"`
	Attempt   int       `json:"attempt"`
	Delivered bool      `json:"delivered"`
	Responded bool      `json:"responded"`
	SentAt    time.Time `json:"sent_at"`
}

// Attr resolves a dotted attribute path against the lead's attribute bags.
// Enriched attributes shadow raw ones; a missing path returns (nil, false).
func (l *Lead) Attr(path string) (any, bool) {
	if v, ok := lookupPath(l.EnrichedAttributes, path); ok {
		return v, true
	}
	return lookupPath(l.RawAttributes, path)
}

// Enrich merges attrs into the enriched bag. Enrichment is additive: existing
// keys are overwritten with fresher values but raw attributes are never touched.
func (l *Lead) Enrich(attrs map[string]any) int {
	if len(attrs) == 0 {
		return 0
	}
	if l.EnrichedAttributes == nil {
		l.EnrichedAttributes = make(map[string]any, len(attrs))
	}
	added := 0
	for k, v := range attrs {
		if v == nil {
			continue
		}
		if _, exists := l.EnrichedAttributes[k]; !exists {
			added++
		}
		l.EnrichedAttributes[k] = v
	}
	return added
}

// HasAttrs reports whether every path in paths resolves on the lead.
func (l *Lead) HasAttrs(paths []string) bool {
	for _, p := range paths {
		if _, ok := l.Attr(p); !ok {
			return false
		}
	}
	return true
}

// AppendPhase records a phase change in the append-only history and moves the
// lead. Illegal moves are rejected with an invariant violation so an upstream
// bug cannot corrupt the history.
func (l *Lead) AppendPhase(next Phase, reason string, at time.Time) error {
	if !l.Phase.CanTransition(next) {
		return resilience.NewInvariantViolation("phase",
			"illegal transition %s -> %s for lead %s", l.Phase, next, l.ID)
	}
	l.Phase = next
	l.PhaseHistory = append(l.PhaseHistory, PhaseChange{
		Phase:     next,
		Reason:    reason,
		Timestamp: at.UTC(),
	})
	if next == PhaseDeferred {
		t := at.UTC()
		l.DeferredAt = &t
	} else {
		l.DeferredAt = nil
	}
	l.UpdatedAt = at.UTC()
	return nil
}

// lookupPath walks a dotted path through nested string-keyed maps.
func lookupPath(m map[string]any, path string) (any, bool) {
	if m == nil || path == "" {
		return nil, false
	}
	cur := any(m)
	for _, seg := range strings.Split(path, ".") {
		node, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = node[seg]
		if !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}
