package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sales-agent/internal/model"
	"github.com/sells-group/sales-agent/internal/store"
)

// MetricsSnapshot holds a point-in-time view of pipeline health.
type MetricsSnapshot struct {
	// Lead funnel (all-time phase distribution).
	PhaseCounts    map[model.Phase]int `json:"phase_counts"`
	TotalLeads     int                 `json:"total_leads"`
	ActiveLeads    int                 `json:"active_leads"`
	DeferredLeads  int                 `json:"deferred_leads"`
	StaleDeferred  int                 `json:"stale_deferred"`
	DisqualifyRate float64             `json:"disqualify_rate"`

	// Outcomes (within lookback window).
	OutcomesTotal   int     `json:"outcomes_total"`
	OutcomesWon     int     `json:"outcomes_won"`
	OutcomesLost    int     `json:"outcomes_lost"`
	OutcomesStalled int     `json:"outcomes_stalled"`
	WinRate         float64 `json:"win_rate"`

	// Learning backlog.
	PendingSuggestions int `json:"pending_suggestions"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers pipeline metrics from the store.
type Collector struct {
	store    store.Store
	staleAge time.Duration
}

// NewCollector creates a new metrics collector. staleAge is how long a lead
// may sit in deferred before it counts as stale.
func NewCollector(st store.Store, staleAge time.Duration) *Collector {
	return &Collector{store: st, staleAge: staleAge}
}

// Collect gathers a snapshot of pipeline metrics. Outcome metrics are limited
// to the given lookback window; funnel counts cover all leads.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}

	cutoff := time.Now().UTC().Add(-time.Duration(lookbackHours) * time.Hour)

	counts, err := c.store.CountLeadsByPhase(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count leads by phase")
	}
	snap.PhaseCounts = counts

	var decided, disqualified int
	for phase, n := range counts {
		snap.TotalLeads += n
		switch phase {
		case model.PhaseDiscovered, model.PhasePreQualifying, model.PhaseQualified,
			model.PhaseEngaging, model.PhaseBooked, model.PhaseHandedOff:
			snap.ActiveLeads += n
		case model.PhaseDeferred:
			snap.DeferredLeads += n
		}
		if phase != model.PhaseDiscovered && phase != model.PhasePreQualifying {
			decided += n
		}
		if phase == model.PhaseDisqualified {
			disqualified = n
		}
	}
	if decided > 0 {
		snap.DisqualifyRate = float64(disqualified) / float64(decided)
	}

	staleCutoff := time.Now().UTC().Add(-c.staleAge)
	stale, err := c.store.ListLeads(ctx, store.LeadFilter{
		Phase:          model.PhaseDeferred,
		DeferredBefore: &staleCutoff,
		Limit:          10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list stale deferred leads")
	}
	snap.StaleDeferred = len(stale)

	outcomes, err := c.store.ListOutcomes(ctx, cutoff)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list outcomes")
	}
	snap.OutcomesTotal = len(outcomes)
	for _, o := range outcomes {
		switch o.Result {
		case model.OutcomeWon:
			snap.OutcomesWon++
		case model.OutcomeLost:
			snap.OutcomesLost++
		case model.OutcomeStalled:
			snap.OutcomesStalled++
		}
	}
	if closed := snap.OutcomesWon + snap.OutcomesLost; closed > 0 {
		snap.WinRate = float64(snap.OutcomesWon) / float64(closed)
	}

	pending, err := c.store.ListSuggestions(ctx, model.SuggestionProposed)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list pending suggestions")
	}
	snap.PendingSuggestions = len(pending)

	return snap, nil
}
