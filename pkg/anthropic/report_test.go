package anthropic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sales-agent/internal/model"
)

func reportLead() *model.Lead {
	score := 0.82
	return &model.Lead{
		ID:            "ld-001",
		CompanyName:   "Acme Plumbing",
		Domain:        "acmeplumbing.com",
		Score:         &score,
		ScoredVersion: 3,
		ScoreBreakdown: []model.Contribution{
			{Criterion: "industry", Match: 1.0, Weight: 0.4, Weighted: 0.4},
			{Criterion: "employee_count", Match: 0.7, Weight: 0.6, Weighted: 0.42},
		},
		RawAttributes:      map[string]any{"state": "OH", "employee_count": 42},
		EnrichedAttributes: map[string]any{"state": "Ohio"},
		Engagements: []model.Engagement{
			{Channel: "email", Attempt: 1, Delivered: true, Responded: false},
			{Channel: "email", Attempt: 2, Delivered: true, Responded: true},
		},
	}
}

func reportVerdict() *model.Verdict {
	return &model.Verdict{
		LeadID:    "ld-001",
		Result:    model.VerdictQualified,
		Framework: "bant",
		Score:     0.82,
		Rationale: []model.CriterionStep{
			{Criterion: "budget", Required: true, Match: 0.9, Passed: true},
			{Criterion: "authority", Match: 0.0, Missing: true},
			{Criterion: "timeline", Match: 0.2, Passed: false},
		},
	}
}

func textResponse(text string) *MessageResponse {
	return &MessageResponse{
		ID:      "msg_report",
		Model:   "claude-sonnet-4-5-20250929",
		Content: []ContentBlock{{Type: "text", Text: text}},
		Usage:   TokenUsage{InputTokens: 400, OutputTokens: 150},
	}
}

func TestHandoffReport_Success(t *testing.T) {
	mc := new(MockClient)
	mc.On("CreateMessage", mock.Anything, mock.AnythingOfType("anthropic.MessageRequest")).
		Return(textResponse("Acme Plumbing is a strong fit."), nil)

	r := NewReporter(mc, "claude-sonnet-4-5-20250929")
	report, err := r.HandoffReport(context.Background(), reportLead(), reportVerdict())
	require.NoError(t, err)
	assert.Equal(t, "Acme Plumbing is a strong fit.", report)
	mc.AssertExpectations(t)
}

func TestHandoffReport_PromptContents(t *testing.T) {
	var captured MessageRequest
	mc := new(MockClient)
	mc.On("CreateMessage", mock.Anything, mock.AnythingOfType("anthropic.MessageRequest")).
		Run(func(args mock.Arguments) {
			captured = args.Get(1).(MessageRequest)
		}).
		Return(textResponse("ok"), nil)

	r := NewReporter(mc, "claude-sonnet-4-5-20250929")
	_, err := r.HandoffReport(context.Background(), reportLead(), reportVerdict())
	require.NoError(t, err)

	assert.Equal(t, "claude-sonnet-4-5-20250929", captured.Model)
	assert.Equal(t, int64(1024), captured.MaxTokens)
	require.Len(t, captured.System, 1)
	require.NotNil(t, captured.System[0].CacheControl)

	require.Len(t, captured.Messages, 1)
	brief := captured.Messages[0].Content
	assert.Contains(t, brief, "Company: Acme Plumbing")
	assert.Contains(t, brief, "Website: acmeplumbing.com")
	assert.Contains(t, brief, "Fit score: 0.82 (profile v3)")
	assert.Contains(t, brief, "industry: match 1.00, weight 0.40")
	assert.Contains(t, brief, "Qualification: qualified via bant framework")
	assert.Contains(t, brief, "budget: passed")
	assert.Contains(t, brief, "authority: missing data")
	assert.Contains(t, brief, "timeline: failed")
	// Enriched value shadows the raw one.
	assert.Contains(t, brief, "state: Ohio")
	assert.NotContains(t, brief, "state: OH\n")
	assert.Contains(t, brief, "attempt 1 via email: no response")
	assert.Contains(t, brief, "attempt 2 via email: responded")
}

func TestHandoffReport_NoVerdict(t *testing.T) {
	var captured MessageRequest
	mc := new(MockClient)
	mc.On("CreateMessage", mock.Anything, mock.AnythingOfType("anthropic.MessageRequest")).
		Run(func(args mock.Arguments) {
			captured = args.Get(1).(MessageRequest)
		}).
		Return(textResponse("ok"), nil)

	r := NewReporter(mc, "claude-sonnet-4-5-20250929")
	_, err := r.HandoffReport(context.Background(), reportLead(), nil)
	require.NoError(t, err)
	assert.NotContains(t, captured.Messages[0].Content, "Qualification:")
}

func TestHandoffReport_ConcatenatesTextBlocks(t *testing.T) {
	resp := &MessageResponse{
		ID: "msg_multi",
		Content: []ContentBlock{
			{Type: "text", Text: "First paragraph. "},
			{Type: "tool_use", Text: "ignored"},
			{Type: "text", Text: "Second paragraph."},
		},
	}
	mc := new(MockClient)
	mc.On("CreateMessage", mock.Anything, mock.Anything).Return(resp, nil)

	r := NewReporter(mc, "claude-sonnet-4-5-20250929")
	report, err := r.HandoffReport(context.Background(), reportLead(), reportVerdict())
	require.NoError(t, err)
	assert.Equal(t, "First paragraph. Second paragraph.", report)
}

func TestHandoffReport_EmptyResponse(t *testing.T) {
	mc := new(MockClient)
	mc.On("CreateMessage", mock.Anything, mock.Anything).
		Return(&MessageResponse{ID: "msg_empty"}, nil)

	r := NewReporter(mc, "claude-sonnet-4-5-20250929")
	_, err := r.HandoffReport(context.Background(), reportLead(), reportVerdict())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty report for ld-001")
}

func TestHandoffReport_ClientError(t *testing.T) {
	mc := new(MockClient)
	mc.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, assert.AnError)

	r := NewReporter(mc, "claude-sonnet-4-5-20250929")
	_, err := r.HandoffReport(context.Background(), reportLead(), reportVerdict())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handoff report for ld-001")
}
