// Package orchestrator owns every lead's phase. It is the only component
// that transitions leads: scoring and qualification hand back immutable
// results that the orchestrator attaches, and the learning engine owns the
// profile. Transitions are serialized per lead; different leads advance in
// parallel.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/sales-agent/internal/config"
	"github.com/sells-group/sales-agent/internal/icp"
	"github.com/sells-group/sales-agent/internal/model"
	"github.com/sells-group/sales-agent/internal/qualify"
	"github.com/sells-group/sales-agent/internal/resilience"
	"github.com/sells-group/sales-agent/internal/scoring"
	"github.com/sells-group/sales-agent/internal/store"
)

// Orchestrator drives leads through the pipeline state machine.
type Orchestrator struct {
	store     store.Store
	profiles  *icp.Store
	framework *qualify.FrameworkConfig

	enricher   Enricher
	dispatcher Dispatcher
	calendar   Calendar
	crm        CRM
	reporter   Reporter
	reviewer   Reviewer
	learning   OutcomeIngester

	cfg      config.OrchestratorConfig
	retry    resilience.RetryConfig
	breakers *resilience.ServiceBreakers
	locks    *leadLocks
	now      func() time.Time
}

// Deps bundles the external collaborators. Any of them may be nil; the
// orchestrator degrades by deferring instead of failing hard.
type Deps struct {
	Enricher   Enricher
	Dispatcher Dispatcher
	Calendar   Calendar
	CRM        CRM
	Reporter   Reporter
	Reviewer   Reviewer
	Learning   OutcomeIngester
}

// New creates an Orchestrator.
func New(st store.Store, profiles *icp.Store, framework *qualify.FrameworkConfig, deps Deps, cfg config.OrchestratorConfig, retry resilience.RetryConfig) *Orchestrator {
	if cfg.MaxContactAttempts <= 0 {
		cfg.MaxContactAttempts = 3
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	return &Orchestrator{
		store:      st,
		profiles:   profiles,
		framework:  framework,
		enricher:   deps.Enricher,
		dispatcher: deps.Dispatcher,
		calendar:   deps.Calendar,
		crm:        deps.CRM,
		reporter:   deps.Reporter,
		reviewer:   deps.Reviewer,
		learning:   deps.Learning,
		cfg:        cfg,
		retry:      retry,
		breakers:   resilience.NewServiceBreakers(resilience.DefaultCircuitBreakerConfig()),
		locks:      newLeadLocks(),
		now:        time.Now,
	}
}

// WithNow sets a fixed clock for testing.
func (o *Orchestrator) WithNow(fn func() time.Time) *Orchestrator {
	o.now = fn
	return o
}

// WithBreakers replaces the per-service circuit breakers. A dependency whose
// breaker is open fails fast instead of burning a full retry cycle, so one
// stalled service cannot slow every lead that reaches its phase.
func (o *Orchestrator) WithBreakers(sb *resilience.ServiceBreakers) *Orchestrator {
	o.breakers = sb
	return o
}

// callExternal runs fn against the named service through its circuit breaker,
// retrying transient failures while the breaker stays closed.
func callExternal[T any](ctx context.Context, o *Orchestrator, service string, fn func(ctx context.Context) (T, error)) (T, error) {
	return resilience.ExecuteVal(ctx, o.breakers.Get(service), func(ctx context.Context) (T, error) {
		return resilience.DoVal(ctx, o.retry, fn)
	})
}

// Admit registers a newly discovered lead and starts it in the pipeline.
func (o *Orchestrator) Admit(ctx context.Context, lead *model.Lead) error {
	if lead.ID == "" {
		lead.ID = "ld-" + uuid.New().String()
	}
	now := o.now().UTC()
	lead.CreatedAt = now
	lead.Phase = model.PhaseDiscovered
	lead.PhaseHistory = []model.PhaseChange{{Phase: model.PhaseDiscovered, Reason: "discovery", Timestamp: now}}
	lead.UpdatedAt = now

	if err := o.store.CreateLead(ctx, lead); err != nil {
		return eris.Wrapf(err, "orchestrator: admit lead %s", lead.ID)
	}
	zap.L().Info("orchestrator: lead admitted",
		zap.String("lead_id", lead.ID),
		zap.String("company", lead.CompanyName),
	)
	return nil
}

// Process advances a single lead as far as it can go in one pass, holding
// the lead's transition lock throughout. It stops when the lead reaches a
// terminal phase or a phase that waits on an external event.
func (o *Orchestrator) Process(ctx context.Context, leadID string) (*model.Lead, error) {
	unlock := o.locks.Lock(leadID)
	defer unlock()

	lead, err := o.store.GetLead(ctx, leadID)
	if err != nil {
		return nil, eris.Wrapf(err, "orchestrator: load lead %s", leadID)
	}

	var stepErr error
	for !lead.Phase.Terminal() {
		advanced, err := o.step(ctx, lead)
		if err != nil {
			stepErr = err
			break
		}
		if !advanced {
			break
		}
	}

	if err := o.store.SaveLead(ctx, lead); err != nil {
		if stepErr != nil {
			return lead, eris.Wrapf(err, "orchestrator: save lead %s after step error: %v", leadID, stepErr)
		}
		return lead, eris.Wrapf(err, "orchestrator: save lead %s", leadID)
	}
	if stepErr != nil {
		return lead, eris.Wrapf(stepErr, "orchestrator: process lead %s", leadID)
	}
	return lead, nil
}

// ProcessBatch advances many leads concurrently, each under its own
// transition lock, with bounded parallelism.
func (o *Orchestrator) ProcessBatch(ctx context.Context, leadIDs []string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Concurrency)

	for _, id := range leadIDs {
		g.Go(func() error {
			if _, err := o.Process(gctx, id); err != nil {
				zap.L().Error("orchestrator: lead processing failed",
					zap.String("lead_id", id),
					zap.Error(err),
				)
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// step executes one transition attempt for the lead's current phase.
// It returns true when the lead moved to a new phase.
func (o *Orchestrator) step(ctx context.Context, lead *model.Lead) (bool, error) {
	switch lead.Phase {
	case model.PhaseDiscovered:
		return o.stepDiscovered(ctx, lead)
	case model.PhasePreQualifying:
		return o.stepPreQualifying(ctx, lead)
	case model.PhaseQualified:
		if err := lead.AppendPhase(model.PhaseEngaging, model.ReasonEngagementStarted, o.now()); err != nil {
			return false, err
		}
		return true, nil
	case model.PhaseEngaging:
		return o.stepEngaging(ctx, lead)
	case model.PhaseBooked:
		return o.stepBooked(ctx, lead)
	case model.PhaseDeferred:
		return o.stepDeferred(lead)
	case model.PhaseHandedOff:
		// Waits on an incoming outcome event.
		return false, nil
	default:
		return false, nil
	}
}

// stepDiscovered waits for the attributes the active profile needs, calling
// the enricher while the wait budget lasts. Once the budget elapses the lead
// proceeds with whatever attributes exist; missing ones score zero.
func (o *Orchestrator) stepDiscovered(ctx context.Context, lead *model.Lead) (bool, error) {
	profile := o.profiles.Current()
	required := profile.RequiredPaths()

	if lead.HasAttrs(required) {
		return true, lead.AppendPhase(model.PhasePreQualifying, model.ReasonEnrichmentReady, o.now())
	}

	if o.enricher != nil {
		attrs, err := callExternal(ctx, o, "enricher", func(ctx context.Context) (map[string]any, error) {
			return o.enricher.Enrich(ctx, lead)
		})
		if errors.Is(err, resilience.ErrInsufficientData) {
			// The enricher has exhausted its sources for this lead; waiting
			// out the rest of the budget cannot add attributes.
			return true, lead.AppendPhase(model.PhasePreQualifying, model.ReasonEnrichmentTimeout, o.now())
		}
		if err != nil {
			zap.L().Warn("orchestrator: enrichment failed",
				zap.String("lead_id", lead.ID),
				zap.Error(err),
			)
		} else if added := lead.Enrich(attrs); added > 0 {
			zap.L().Debug("orchestrator: lead enriched",
				zap.String("lead_id", lead.ID),
				zap.Int("attributes_added", added),
			)
		}
		if lead.HasAttrs(required) {
			return true, lead.AppendPhase(model.PhasePreQualifying, model.ReasonEnrichmentReady, o.now())
		}
	}

	if o.now().Sub(lead.CreatedAt) >= o.cfg.EnrichmentMaxWait() {
		return true, lead.AppendPhase(model.PhasePreQualifying, model.ReasonEnrichmentTimeout, o.now())
	}
	return false, nil
}

// stepPreQualifying scores the lead against the current profile snapshot and
// applies the qualification framework.
func (o *Orchestrator) stepPreQualifying(_ context.Context, lead *model.Lead) (bool, error) {
	profile := o.profiles.Current()

	res, err := scoring.Score(lead, profile)
	if err != nil {
		return false, eris.Wrap(err, "orchestrator: score lead")
	}
	lead.Score = &res.Total
	lead.ScoreBreakdown = res.Breakdown
	lead.ScoredVersion = profile.Version

	verdict, err := qualify.Qualify(lead, res, profile, o.framework)
	if err != nil {
		return false, eris.Wrap(err, "orchestrator: qualify lead")
	}
	lead.Verdicts = append(lead.Verdicts, *verdict)

	reason := fmt.Sprintf("%s:%s", model.ReasonVerdict, verdict.ID)
	var moveErr error
	switch verdict.Result {
	case model.VerdictQualified:
		moveErr = lead.AppendPhase(model.PhaseQualified, reason, o.now())
	case model.VerdictDisqualified:
		moveErr = lead.AppendPhase(model.PhaseDisqualified, reason, o.now())
	default:
		moveErr = lead.AppendPhase(model.PhaseDeferred, reason, o.now())
	}
	if moveErr != nil {
		return false, moveErr
	}

	zap.L().Info("orchestrator: lead qualified",
		zap.String("lead_id", lead.ID),
		zap.String("verdict", string(verdict.Result)),
		zap.Float64("score", res.Total),
		zap.Int("icp_version", profile.Version),
	)
	return true, nil
}

// stepEngaging sends one contact attempt per pass. Non-response after the
// attempt cap defers the lead; a lead is never disqualified purely for not
// responding.
func (o *Orchestrator) stepEngaging(ctx context.Context, lead *model.Lead) (bool, error) {
	attempts := o.attemptsThisEngagement(lead)
	if attempts >= o.cfg.MaxContactAttempts {
		return true, lead.AppendPhase(model.PhaseDeferred, model.ReasonNoResponse, o.now())
	}

	if o.dispatcher == nil {
		return true, lead.AppendPhase(model.PhaseDeferred, model.ReasonDependencyExhausted, o.now())
	}

	receipt, err := callExternal(ctx, o, "dispatcher", func(ctx context.Context) (*DeliveryReceipt, error) {
		return o.dispatcher.Send(ctx, lead, Bucket(lead.Score))
	})
	if err != nil {
		zap.L().Warn("orchestrator: engagement dispatch unavailable",
			zap.String("lead_id", lead.ID),
			zap.Error(err),
		)
		return true, lead.AppendPhase(model.PhaseDeferred, model.ReasonDependencyExhausted, o.now())
	}

	lead.Engagements = append(lead.Engagements, model.Engagement{
		Channel:   receipt.Channel,
		Attempt:   attempts + 1,
		Delivered: receipt.Delivered,
		Responded: receipt.Responded,
		SentAt:    o.now().UTC(),
	})

	if !receipt.Responded {
		return false, nil
	}

	if o.calendar == nil {
		return false, nil
	}
	booking, err := callExternal(ctx, o, "calendar", func(ctx context.Context) (*Booking, error) {
		return o.calendar.ProposeSlots(ctx, lead)
	})
	if err != nil {
		zap.L().Warn("orchestrator: booking unavailable",
			zap.String("lead_id", lead.ID),
			zap.Error(err),
		)
		return true, lead.AppendPhase(model.PhaseDeferred, model.ReasonDependencyExhausted, o.now())
	}
	if booking != nil && booking.Confirmed {
		return true, lead.AppendPhase(model.PhaseBooked, model.ReasonMeetingConfirmed, o.now())
	}
	return false, nil
}

// stepBooked hands the lead off to the CRM. Booked is forward-only, so a
// handoff failure leaves the lead in place to be retried on the next sweep.
func (o *Orchestrator) stepBooked(ctx context.Context, lead *model.Lead) (bool, error) {
	if o.crm == nil {
		return false, nil
	}

	verdict := latestVerdict(lead)

	report := ""
	if o.reporter != nil {
		r, err := resilience.ExecuteVal(ctx, o.breakers.Get("reporter"), func(ctx context.Context) (string, error) {
			return o.reporter.HandoffReport(ctx, lead, verdict)
		})
		if err != nil {
			zap.L().Warn("orchestrator: handoff report generation failed",
				zap.String("lead_id", lead.ID),
				zap.Error(err),
			)
		} else {
			report = r
		}
	}

	extID, err := callExternal(ctx, o, "crm", func(ctx context.Context) (string, error) {
		return o.crm.Upsert(ctx, lead, verdict, report)
	})
	if err != nil {
		zap.L().Error("orchestrator: CRM handoff failed, will retry next sweep",
			zap.String("lead_id", lead.ID),
			zap.Error(err),
		)
		return false, nil
	}

	lead.CRMRecordID = extID
	return true, lead.AppendPhase(model.PhaseHandedOff, fmt.Sprintf("%s:%s", model.ReasonCRMHandoff, extID), o.now())
}

// stepDeferred re-enters pre-qualification once the cooldown has elapsed.
// New-enrichment re-entry happens eagerly via AddEnrichment. A zero cooldown
// disables time-based re-entry; without it a lead scoring into the deferred
// band would re-qualify in a tight loop.
func (o *Orchestrator) stepDeferred(lead *model.Lead) (bool, error) {
	if o.cfg.DeferredCooldown() <= 0 {
		return false, nil
	}
	if lead.DeferredAt == nil {
		// Defensive backfill for legacy rows; treat as just deferred.
		t := o.now().UTC()
		lead.DeferredAt = &t
		return false, nil
	}
	if o.now().Sub(*lead.DeferredAt) >= o.cfg.DeferredCooldown() {
		return true, lead.AppendPhase(model.PhasePreQualifying, model.ReasonCooldownElapsed, o.now())
	}
	return false, nil
}

// AddEnrichment merges newly arrived attributes into a lead. A deferred lead
// re-enters pre-qualification immediately; other phases just absorb the data.
func (o *Orchestrator) AddEnrichment(ctx context.Context, leadID string, attrs map[string]any) (*model.Lead, error) {
	unlock := o.locks.Lock(leadID)
	defer unlock()

	lead, err := o.store.GetLead(ctx, leadID)
	if err != nil {
		return nil, eris.Wrapf(err, "orchestrator: load lead %s", leadID)
	}
	if lead.Phase.Terminal() {
		return lead, eris.Errorf("orchestrator: lead %s is terminal in phase %s", leadID, lead.Phase)
	}

	added := lead.Enrich(attrs)
	if lead.Phase == model.PhaseDeferred && added > 0 {
		if err := lead.AppendPhase(model.PhasePreQualifying, model.ReasonNewEnrichment, o.now()); err != nil {
			return nil, err
		}
	}
	lead.UpdatedAt = o.now().UTC()

	if err := o.store.SaveLead(ctx, lead); err != nil {
		return nil, eris.Wrapf(err, "orchestrator: save lead %s", leadID)
	}
	return lead, nil
}

// RecordOutcome applies a terminal deal outcome to its lead and forwards it
// to the learning loop. A lead has at most one outcome; duplicates fail.
func (o *Orchestrator) RecordOutcome(ctx context.Context, outcome model.Outcome) error {
	if !outcome.Result.Valid() {
		return eris.Errorf("orchestrator: unknown outcome result %q", outcome.Result)
	}

	unlock := o.locks.Lock(outcome.LeadID)
	defer unlock()

	lead, err := o.store.GetLead(ctx, outcome.LeadID)
	if err != nil {
		return eris.Wrapf(err, "orchestrator: load lead %s", outcome.LeadID)
	}
	if lead.Outcome != nil {
		return eris.Errorf("orchestrator: lead %s already has outcome %s", lead.ID, lead.Outcome.ID)
	}

	if outcome.ID == "" {
		outcome.ID = "oc-" + uuid.New().String()
	}
	// The version that scored the lead is authoritative; external outcome
	// feeds do not know profile versions.
	outcome.ICPVersion = lead.ScoredVersion
	if outcome.RecordedAt.IsZero() {
		outcome.RecordedAt = o.now().UTC()
	}
	lead.Outcome = &outcome

	if lead.Phase == model.PhaseHandedOff {
		reason := fmt.Sprintf("%s:%s", model.ReasonOutcome, outcome.ID)
		var moveErr error
		switch outcome.Result {
		case model.OutcomeWon:
			moveErr = lead.AppendPhase(model.PhaseClosedWon, reason, o.now())
		case model.OutcomeLost:
			moveErr = lead.AppendPhase(model.PhaseClosedLost, reason, o.now())
		case model.OutcomeStalled:
			// No closed phase for stalled deals; the outcome is recorded
			// and the lead stays handed off.
		}
		if moveErr != nil {
			return moveErr
		}
	}

	if err := o.store.SaveOutcome(ctx, &outcome); err != nil {
		return eris.Wrapf(err, "orchestrator: save outcome for lead %s", lead.ID)
	}
	if err := o.store.SaveLead(ctx, lead); err != nil {
		return eris.Wrapf(err, "orchestrator: save lead %s", lead.ID)
	}

	if o.learning != nil {
		if err := o.learning.Ingest(outcome); err != nil {
			zap.L().Warn("orchestrator: learning ingest failed",
				zap.String("outcome_id", outcome.ID),
				zap.Error(err),
			)
		}
	}

	zap.L().Info("orchestrator: outcome recorded",
		zap.String("lead_id", lead.ID),
		zap.String("result", string(outcome.Result)),
		zap.Int("icp_version", outcome.ICPVersion),
	)
	return nil
}

// attemptsThisEngagement counts contact attempts made since the lead last
// entered the engaging phase, so re-engagement after a deferral gets a
// fresh attempt budget.
func (o *Orchestrator) attemptsThisEngagement(lead *model.Lead) int {
	var enteredAt time.Time
	for i := len(lead.PhaseHistory) - 1; i >= 0; i-- {
		if lead.PhaseHistory[i].Phase == model.PhaseEngaging {
			enteredAt = lead.PhaseHistory[i].Timestamp
			break
		}
	}
	n := 0
	for _, e := range lead.Engagements {
		if !e.SentAt.Before(enteredAt) {
			n++
		}
	}
	return n
}

func latestVerdict(lead *model.Lead) *model.Verdict {
	if len(lead.Verdicts) == 0 {
		return nil
	}
	return &lead.Verdicts[len(lead.Verdicts)-1]
}

// Bucket maps a fit score to an engagement strategy tier.
func Bucket(score *float64) string {
	if score == nil {
		return "cold"
	}
	switch {
	case *score >= 0.75:
		return "hot"
	case *score >= 0.5:
		return "warm"
	default:
		return "cold"
	}
}
