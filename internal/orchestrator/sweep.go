package orchestrator

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/sales-agent/internal/model"
	"github.com/sells-group/sales-agent/internal/resilience"
	"github.com/sells-group/sales-agent/internal/store"
)

// SweepResult summarizes one maintenance pass over the pipeline.
type SweepResult struct {
	DeferredProcessed int `json:"deferred_processed"`
	StaleFlagged      int `json:"stale_flagged"`
	BookedRetried     int `json:"booked_retried"`
	OutcomesSynced    int `json:"outcomes_synced"`
}

// Sweep runs the periodic maintenance pass: re-drives deferred leads whose
// cooldown elapsed, flags stale deferrals for operator review, retries CRM
// handoffs stuck in booked, and pulls closed-deal outcomes from the CRM.
func (o *Orchestrator) Sweep(ctx context.Context, lastSync time.Time) (*SweepResult, error) {
	res := &SweepResult{}

	if err := o.sweepDeferred(ctx, res); err != nil {
		return res, err
	}
	if err := o.retryBooked(ctx, res); err != nil {
		return res, err
	}
	if err := o.syncOutcomes(ctx, lastSync, res); err != nil {
		return res, err
	}

	zap.L().Info("orchestrator: sweep complete",
		zap.Int("deferred_processed", res.DeferredProcessed),
		zap.Int("stale_flagged", res.StaleFlagged),
		zap.Int("booked_retried", res.BookedRetried),
		zap.Int("outcomes_synced", res.OutcomesSynced),
	)
	return res, nil
}

// sweepDeferred re-processes deferred leads. Leads deferred past the stale
// window are flagged for human review instead of looping forever.
func (o *Orchestrator) sweepDeferred(ctx context.Context, res *SweepResult) error {
	leads, err := o.store.ListLeads(ctx, store.LeadFilter{Phase: model.PhaseDeferred})
	if err != nil {
		return eris.Wrap(err, "orchestrator: list deferred leads")
	}

	staleCutoff := o.now().Add(-o.cfg.StaleDeferredAge())

	var processed, flagged atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Concurrency)
	for _, lead := range leads {
		g.Go(func() error {
			if lead.DeferredAt != nil && lead.DeferredAt.Before(staleCutoff) {
				if o.reviewer != nil {
					err := o.breakers.Get("reviewer").Execute(gctx, func(ctx context.Context) error {
						return o.reviewer.FlagForReview(ctx, &lead, "deferred past stale window")
					})
					if err != nil {
						zap.L().Warn("orchestrator: stale-lead review flag failed",
							zap.String("lead_id", lead.ID),
							zap.Error(err),
						)
						return nil
					}
					flagged.Add(1)
				}
				return nil
			}
			if _, err := o.Process(gctx, lead.ID); err != nil {
				zap.L().Warn("orchestrator: deferred lead sweep failed",
					zap.String("lead_id", lead.ID),
					zap.Error(err),
				)
				return nil
			}
			processed.Add(1)
			return nil
		})
	}
	err = g.Wait()
	res.DeferredProcessed = int(processed.Load())
	res.StaleFlagged = int(flagged.Load())
	return err
}

// retryBooked re-attempts CRM handoff for leads stuck in booked.
func (o *Orchestrator) retryBooked(ctx context.Context, res *SweepResult) error {
	if o.crm == nil {
		return nil
	}
	leads, err := o.store.ListLeads(ctx, store.LeadFilter{Phase: model.PhaseBooked})
	if err != nil {
		return eris.Wrap(err, "orchestrator: list booked leads")
	}
	for _, lead := range leads {
		updated, err := o.Process(ctx, lead.ID)
		if err != nil {
			zap.L().Warn("orchestrator: booked lead retry failed",
				zap.String("lead_id", lead.ID),
				zap.Error(err),
			)
			continue
		}
		if updated.Phase == model.PhaseHandedOff {
			res.BookedRetried++
		}
	}
	return nil
}

// syncOutcomes pulls deal outcomes recorded in the CRM since the last sync
// and applies them. Leads without a local match are skipped with a warning;
// the CRM may hold deals that never passed through this pipeline.
func (o *Orchestrator) syncOutcomes(ctx context.Context, since time.Time, res *SweepResult) error {
	if o.crm == nil {
		return nil
	}
	outcomes, err := resilience.ExecuteVal(ctx, o.breakers.Get("crm"), func(ctx context.Context) ([]model.Outcome, error) {
		return o.crm.FetchOutcomes(ctx, since)
	})
	if err != nil {
		return eris.Wrap(err, "orchestrator: fetch CRM outcomes")
	}
	for _, oc := range outcomes {
		if err := o.RecordOutcome(ctx, oc); err != nil {
			zap.L().Warn("orchestrator: CRM outcome skipped",
				zap.String("lead_id", oc.LeadID),
				zap.String("external_ref", oc.ExternalRefID),
				zap.Error(err),
			)
			continue
		}
		res.OutcomesSynced++
	}
	return nil
}
