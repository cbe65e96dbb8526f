// Package learning closes the feedback loop: it attributes closed-deal
// outcomes back to the ICP criteria that scored each lead and proposes
// weight adjustments. Evaluation runs as a periodic batch over outcomes
// accumulated since the last cycle, grouped by the ICP version in effect at
// engagement so a result is never attributed to weights that did not score it.
package learning

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sales-agent/internal/config"
	"github.com/sells-group/sales-agent/internal/icp"
	"github.com/sells-group/sales-agent/internal/model"
	"github.com/sells-group/sales-agent/internal/resilience"
)

// LeadSource looks up leads so outcomes can be joined with the score
// breakdown recorded when the lead was engaged.
type LeadSource interface {
	GetLead(ctx context.Context, id string) (*model.Lead, error)
}

// SuggestionSink durably records suggestions and their status transitions.
type SuggestionSink interface {
	SaveSuggestion(ctx context.Context, s *model.LearningSuggestion) error
}

// OutcomeMarker durably marks outcomes as consumed by a completed cycle, so
// a later cycle never re-applies drift from the same outcomes.
type OutcomeMarker interface {
	MarkOutcomesEvaluated(ctx context.Context, ids []string) error
}

// Engine accumulates outcomes and periodically evaluates them into weight
// suggestions. Ingest may be called concurrently and in any arrival order.
type Engine struct {
	mu         sync.Mutex
	pending    []model.Outcome
	pendingIDs map[string]struct{}

	profiles *icp.Store
	leads    LeadSource
	sink     SuggestionSink
	marker   OutcomeMarker
	cfg      config.LearningConfig
}

// Option configures an Engine.
type Option func(*Engine)

// WithOutcomeMarker sets the marker consulted after each completed cycle.
func WithOutcomeMarker(m OutcomeMarker) Option {
	return func(e *Engine) {
		e.marker = m
	}
}

// NewEngine creates a learning engine. sink may be nil for dry-run use.
func NewEngine(profiles *icp.Store, leads LeadSource, sink SuggestionSink, cfg config.LearningConfig, opts ...Option) *Engine {
	if cfg.MinSampleSize <= 0 {
		cfg.MinSampleSize = 10
	}
	if cfg.MaxDriftPerCycle <= 0 {
		cfg.MaxDriftPerCycle = 0.05
	}
	if cfg.StalledDecay < 0 {
		cfg.StalledDecay = 0
	}
	e := &Engine{
		pendingIDs: make(map[string]struct{}),
		profiles:   profiles,
		leads:      leads,
		sink:       sink,
		cfg:        cfg,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Ingest queues an outcome for the next evaluation batch. Outcomes with an
// unknown result are rejected; an outcome already pending is a no-op, so
// live recording and store catch-up can feed the same engine.
func (e *Engine) Ingest(outcome model.Outcome) error {
	if !outcome.Result.Valid() {
		return eris.Errorf("learning: unknown outcome result %q", outcome.Result)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, dup := e.pendingIDs[outcome.ID]; dup {
		return nil
	}
	e.pendingIDs[outcome.ID] = struct{}{}
	e.pending = append(e.pending, outcome)
	return nil
}

// Pending returns the number of outcomes queued for the next cycle.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Evaluate computes weight suggestions from the pending outcome batch
// without applying or consuming anything. Suggestions are ordered by
// confidence, highest first; at most one suggestion is produced per
// criterion per cycle so the per-criterion drift cap is enforceable.
func (e *Engine) Evaluate(ctx context.Context) ([]*model.LearningSuggestion, error) {
	e.mu.Lock()
	batch := append([]model.Outcome(nil), e.pending...)
	e.mu.Unlock()

	return e.evaluate(ctx, batch)
}

// RunCycle evaluates the pending batch, auto-applies qualifying suggestions
// through the profile store, persists every suggestion, and consumes the
// batch. Low-confidence suggestions are kept as proposed, never applied.
func (e *Engine) RunCycle(ctx context.Context) ([]*model.LearningSuggestion, error) {
	e.mu.Lock()
	batch := e.pending
	e.pending = nil
	e.pendingIDs = make(map[string]struct{})
	e.mu.Unlock()

	suggestions, err := e.evaluate(ctx, batch)
	if err != nil {
		// Put the batch back; evaluation is retryable next cycle.
		e.mu.Lock()
		e.pending = append(batch, e.pending...)
		for _, o := range batch {
			e.pendingIDs[o.ID] = struct{}{}
		}
		e.mu.Unlock()
		return nil, err
	}

	for _, s := range suggestions {
		if s.Confidence >= e.profiles.AutoApplyThreshold() {
			if _, err := e.profiles.Commit(ctx, s); err != nil {
				if resilience.IsInvariantViolation(err) {
					s.Status = model.SuggestionRejected
					zap.L().Warn("learning: suggestion rejected by profile store",
						zap.String("criterion", s.Criterion),
						zap.Error(err),
					)
				} else {
					return nil, eris.Wrap(err, "learning: apply suggestion")
				}
			}
		}
		if e.sink != nil {
			if err := e.sink.SaveSuggestion(ctx, s); err != nil {
				return nil, eris.Wrap(err, "learning: persist suggestion")
			}
		}
	}

	// Only outcomes that backed a produced suggestion are consumed. Groups
	// still below the minimum sample size stay unevaluated so they pool
	// with later arrivals of the same version.
	if e.marker != nil {
		if ids := consumedOutcomeIDs(suggestions); len(ids) > 0 {
			if err := e.marker.MarkOutcomesEvaluated(ctx, ids); err != nil {
				return nil, eris.Wrap(err, "learning: mark outcomes evaluated")
			}
		}
	}

	zap.L().Info("learning: cycle complete",
		zap.Int("outcomes", len(batch)),
		zap.Int("suggestions", len(suggestions)),
	)
	return suggestions, nil
}

func consumedOutcomeIDs(suggestions []*model.LearningSuggestion) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, s := range suggestions {
		for _, id := range s.OutcomeIDs {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids
}

// signalEpsilon is the floor below which a per-criterion signal is treated
// as zero.
const signalEpsilon = 1e-9

// versionGroup collects one ICP version's outcomes joined with breakdowns.
type versionGroup struct {
	version  int
	samples  []sample
	outcomes []string
}

type sample struct {
	weight  float64 // won +1, lost -1, stalled -decay
	matches map[string]float64
}

func (e *Engine) evaluate(ctx context.Context, batch []model.Outcome) ([]*model.LearningSuggestion, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	groups := make(map[int]*versionGroup)
	for _, o := range batch {
		lead, err := e.leads.GetLead(ctx, o.LeadID)
		if err != nil {
			return nil, eris.Wrapf(err, "learning: lead %s for outcome %s", o.LeadID, o.ID)
		}
		if lead.ScoredVersion != o.ICPVersion || len(lead.ScoreBreakdown) == 0 {
			zap.L().Warn("learning: outcome has no matching score breakdown, skipping",
				zap.String("outcome_id", o.ID),
				zap.Int("outcome_icp_version", o.ICPVersion),
				zap.Int("lead_scored_version", lead.ScoredVersion),
			)
			continue
		}

		g := groups[o.ICPVersion]
		if g == nil {
			g = &versionGroup{version: o.ICPVersion}
			groups[o.ICPVersion] = g
		}

		matches := make(map[string]float64, len(lead.ScoreBreakdown))
		for _, c := range lead.ScoreBreakdown {
			matches[c.Criterion] = c.Match
		}
		g.samples = append(g.samples, sample{weight: e.outcomeWeight(o.Result), matches: matches})
		g.outcomes = append(g.outcomes, o.ID)
	}

	// Best suggestion per criterion, taken from the group with the largest
	// sample. Signals from different versions are never pooled.
	best := make(map[string]*model.LearningSuggestion)
	bestN := make(map[string]int)
	for _, g := range groups {
		n := len(g.samples)
		if n < e.cfg.MinSampleSize {
			zap.L().Debug("learning: version group below minimum sample size",
				zap.Int("icp_version", g.version),
				zap.Int("samples", n),
				zap.Int("min", e.cfg.MinSampleSize),
			)
			continue
		}
		for criterion, signal := range g.signals() {
			// Mean subtraction leaves ~1e-17 residue on flat criteria;
			// comparing against zero would turn that into a suggestion.
			if math.Abs(signal) < signalEpsilon {
				continue
			}
			delta := clampAbs(signal, e.cfg.MaxDriftPerCycle)
			conf := e.confidence(n, signal)
			if prev, ok := best[criterion]; !ok || n > bestN[criterion] || (n == bestN[criterion] && conf > prev.Confidence) {
				best[criterion] = &model.LearningSuggestion{
					ID:          icp.NewSuggestionID(),
					Criterion:   criterion,
					WeightDelta: delta,
					Confidence:  conf,
					SampleSize:  n,
					ICPVersion:  g.version,
					OutcomeIDs:  append([]string(nil), g.outcomes...),
					Status:      model.SuggestionProposed,
					CreatedAt:   time.Now().UTC(),
				}
				bestN[criterion] = n
			}
		}
	}

	out := make([]*model.LearningSuggestion, 0, len(best))
	for _, s := range best {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Criterion < out[j].Criterion
	})
	return out, nil
}

// signals computes the per-criterion directional signal for one version
// group: the mean of outcomeWeight * (match - groupMeanMatch), a covariance
// between criterion match and deal outcome. Positive means high-matching
// leads won more; negative means they lost more.
func (g *versionGroup) signals() map[string]float64 {
	means := make(map[string]float64)
	counts := make(map[string]int)
	for _, s := range g.samples {
		for c, m := range s.matches {
			means[c] += m
			counts[c]++
		}
	}
	for c := range means {
		means[c] /= float64(counts[c])
	}

	signals := make(map[string]float64, len(means))
	for _, s := range g.samples {
		for c, m := range s.matches {
			signals[c] += s.weight * (m - means[c])
		}
	}
	for c := range signals {
		signals[c] /= float64(counts[c])
	}
	return signals
}

// outcomeWeight maps a deal result to its learning direction. Stalled deals
// carry a small configurable negative weight: they consumed effort without
// closing, but say less than an explicit loss.
func (e *Engine) outcomeWeight(r model.OutcomeResult) float64 {
	switch r {
	case model.OutcomeWon:
		return 1
	case model.OutcomeLost:
		return -1
	default:
		return -e.cfg.StalledDecay
	}
}

// confidence combines sample size and effect magnitude into [0,1). The
// sample term approaches 1 as the group grows past the minimum; the effect
// term scales the covariance, whose magnitude for variables bounded in
// [0,1] x [-1,1] tops out near 0.25.
func (e *Engine) confidence(n int, signal float64) float64 {
	sampleTerm := float64(n) / float64(n+e.cfg.MinSampleSize)
	effectTerm := math.Min(1, math.Abs(signal)*4)
	return sampleTerm * effectTerm
}

func clampAbs(v, limit float64) float64 {
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return v
}
