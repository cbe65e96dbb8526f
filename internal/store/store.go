package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sales-agent/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = eris.New("store: record not found")

// LeadFilter specifies criteria for listing leads.
type LeadFilter struct {
	Phase          model.Phase `json:"phase,omitempty"`
	DeferredBefore *time.Time  `json:"deferred_before,omitempty"`
	Limit          int         `json:"limit,omitempty"`
	Offset         int         `json:"offset,omitempty"`
}

// Store defines the persistence interface for the pipeline. History-bearing
// records (phase history, profile versions, verdicts, suggestions, outcomes)
// are append-only.
type Store interface {
	// Leads
	CreateLead(ctx context.Context, lead *model.Lead) error
	GetLead(ctx context.Context, id string) (*model.Lead, error)
	SaveLead(ctx context.Context, lead *model.Lead) error
	ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error)
	CountLeadsByPhase(ctx context.Context) (map[model.Phase]int, error)

	// ICP profile versions
	SaveProfileVersion(ctx context.Context, profile *model.ICPProfile) error
	ListProfileVersions(ctx context.Context) ([]*model.ICPProfile, error)

	// Outcomes. Evaluation marks record which outcomes have already backed
	// an applied learning cycle, so a cycle never re-consumes them.
	SaveOutcome(ctx context.Context, outcome *model.Outcome) error
	GetOutcomeForLead(ctx context.Context, leadID string) (*model.Outcome, error)
	ListOutcomes(ctx context.Context, since time.Time) ([]model.Outcome, error)
	ListUnevaluatedOutcomes(ctx context.Context, since time.Time) ([]model.Outcome, error)
	MarkOutcomesEvaluated(ctx context.Context, ids []string) error

	// Learning suggestions
	SaveSuggestion(ctx context.Context, s *model.LearningSuggestion) error
	ListSuggestions(ctx context.Context, status model.SuggestionStatus) ([]model.LearningSuggestion, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// BulkLeadWriter is implemented by backends with a fast bulk import path.
// Callers fall back to CreateLead when the backend does not provide one.
type BulkLeadWriter interface {
	BulkInsertLeads(ctx context.Context, leads []model.Lead) (int64, error)
}
