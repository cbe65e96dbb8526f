package orchestrator

import (
	"context"
	"time"

	"github.com/sells-group/sales-agent/internal/model"
)

// Enricher fetches additional attributes for a lead from discovery and
// enrichment sources. Partial results are normal; absent fields are treated
// as unknown, never as an error that aborts scoring. Returning
// resilience.ErrInsufficientData signals that every source is exhausted for
// this lead, so the orchestrator stops waiting on the enrichment budget.
type Enricher interface {
	Enrich(ctx context.Context, lead *model.Lead) (map[string]any, error)
}

// DeliveryReceipt is the result of one outbound contact attempt.
type DeliveryReceipt struct {
	Channel   string `json:"channel"`
	Delivered bool   `json:"delivered"`
	Responded bool   `json:"responded"`
}

// Dispatcher sends outbound engagement. The orchestrator consumes only
// delivery success and response state, never message content.
type Dispatcher interface {
	Send(ctx context.Context, lead *model.Lead, strategy string) (*DeliveryReceipt, error)
}

// Booking is a confirmed (or absent) meeting slot.
type Booking struct {
	Confirmed bool      `json:"confirmed"`
	Slot      time.Time `json:"slot,omitempty"`
	Link      string    `json:"link,omitempty"`
}

// Calendar proposes meeting slots to a responsive lead.
type Calendar interface {
	ProposeSlots(ctx context.Context, lead *model.Lead) (*Booking, error)
}

// CRM hands qualified leads off to the sales system of record and feeds
// deal outcomes back.
type CRM interface {
	Upsert(ctx context.Context, lead *model.Lead, verdict *model.Verdict, report string) (string, error)
	FetchOutcomes(ctx context.Context, since time.Time) ([]model.Outcome, error)
}

// Reporter generates an optional human-readable handoff summary attached to
// the CRM record. A nil Reporter skips the summary.
type Reporter interface {
	HandoffReport(ctx context.Context, lead *model.Lead, verdict *model.Verdict) (string, error)
}

// Reviewer escalates leads needing a human decision, such as leads stuck in
// the deferred phase past the configured age.
type Reviewer interface {
	FlagForReview(ctx context.Context, lead *model.Lead, reason string) error
}

// OutcomeIngester receives recorded outcomes for the learning loop.
type OutcomeIngester interface {
	Ingest(outcome model.Outcome) error
}
