package orchestrator

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/sales-agent/internal/model"
	"github.com/sells-group/sales-agent/internal/store"
)

// --- Enricher Mock ---

type mockEnricher struct {
	mock.Mock
}

func (m *mockEnricher) Enrich(ctx context.Context, lead *model.Lead) (map[string]any, error) {
	args := m.Called(ctx, lead)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]any), args.Error(1)
}

// --- Dispatcher Mock ---

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) Send(ctx context.Context, lead *model.Lead, strategy string) (*DeliveryReceipt, error) {
	args := m.Called(ctx, lead, strategy)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*DeliveryReceipt), args.Error(1)
}

// --- Calendar Mock ---

type mockCalendar struct {
	mock.Mock
}

func (m *mockCalendar) ProposeSlots(ctx context.Context, lead *model.Lead) (*Booking, error) {
	args := m.Called(ctx, lead)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Booking), args.Error(1)
}

// --- CRM Mock ---

type mockCRM struct {
	mock.Mock
}

func (m *mockCRM) Upsert(ctx context.Context, lead *model.Lead, verdict *model.Verdict, report string) (string, error) {
	args := m.Called(ctx, lead, verdict, report)
	return args.String(0), args.Error(1)
}

func (m *mockCRM) FetchOutcomes(ctx context.Context, since time.Time) ([]model.Outcome, error) {
	args := m.Called(ctx, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Outcome), args.Error(1)
}

// --- Reporter Mock ---

type mockReporter struct {
	mock.Mock
}

func (m *mockReporter) HandoffReport(ctx context.Context, lead *model.Lead, verdict *model.Verdict) (string, error) {
	args := m.Called(ctx, lead, verdict)
	return args.String(0), args.Error(1)
}

// --- Reviewer Mock ---

type mockReviewer struct {
	mock.Mock
}

func (m *mockReviewer) FlagForReview(ctx context.Context, lead *model.Lead, reason string) error {
	args := m.Called(ctx, lead, reason)
	return args.Error(0)
}

// --- Learning Mock ---

type mockIngester struct {
	mock.Mock
}

func (m *mockIngester) Ingest(outcome model.Outcome) error {
	args := m.Called(outcome)
	return args.Error(0)
}

// --- Store Mock ---

type mockStore struct {
	mock.Mock
}

func (m *mockStore) CreateLead(ctx context.Context, lead *model.Lead) error {
	args := m.Called(ctx, lead)
	return args.Error(0)
}

func (m *mockStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Lead), args.Error(1)
}

func (m *mockStore) SaveLead(ctx context.Context, lead *model.Lead) error {
	args := m.Called(ctx, lead)
	return args.Error(0)
}

func (m *mockStore) ListLeads(ctx context.Context, filter store.LeadFilter) ([]model.Lead, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Lead), args.Error(1)
}

func (m *mockStore) CountLeadsByPhase(ctx context.Context) (map[model.Phase]int, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[model.Phase]int), args.Error(1)
}

func (m *mockStore) SaveProfileVersion(ctx context.Context, profile *model.ICPProfile) error {
	args := m.Called(ctx, profile)
	return args.Error(0)
}

func (m *mockStore) ListProfileVersions(ctx context.Context) ([]*model.ICPProfile, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.ICPProfile), args.Error(1)
}

func (m *mockStore) SaveOutcome(ctx context.Context, outcome *model.Outcome) error {
	args := m.Called(ctx, outcome)
	return args.Error(0)
}

func (m *mockStore) GetOutcomeForLead(ctx context.Context, leadID string) (*model.Outcome, error) {
	args := m.Called(ctx, leadID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Outcome), args.Error(1)
}

func (m *mockStore) ListOutcomes(ctx context.Context, since time.Time) ([]model.Outcome, error) {
	args := m.Called(ctx, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Outcome), args.Error(1)
}

func (m *mockStore) ListUnevaluatedOutcomes(ctx context.Context, since time.Time) ([]model.Outcome, error) {
	args := m.Called(ctx, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Outcome), args.Error(1)
}

func (m *mockStore) MarkOutcomesEvaluated(ctx context.Context, ids []string) error {
	args := m.Called(ctx, ids)
	return args.Error(0)
}

func (m *mockStore) SaveSuggestion(ctx context.Context, s *model.LearningSuggestion) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

func (m *mockStore) ListSuggestions(ctx context.Context, status model.SuggestionStatus) ([]model.LearningSuggestion, error) {
	args := m.Called(ctx, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.LearningSuggestion), args.Error(1)
}

func (m *mockStore) Migrate(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

// --- Ensure interface compliance ---
var (
	_ Enricher        = (*mockEnricher)(nil)
	_ Dispatcher      = (*mockDispatcher)(nil)
	_ Calendar        = (*mockCalendar)(nil)
	_ CRM             = (*mockCRM)(nil)
	_ Reporter        = (*mockReporter)(nil)
	_ Reviewer        = (*mockReviewer)(nil)
	_ OutcomeIngester = (*mockIngester)(nil)
	_ store.Store     = (*mockStore)(nil)
)
