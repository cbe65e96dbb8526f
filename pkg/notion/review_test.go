package notion

import (
	"context"
	"testing"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sales-agent/internal/model"
)

func reviewLead() *model.Lead {
	score := 0.55
	return &model.Lead{
		ID:          "ld-1",
		CompanyName: "Acme Robotics",
		Domain:      "acme.example",
		Score:       &score,
		Phase:       model.PhaseDeferred,
	}
}

func emptyQueryResponse() *notionapi.DatabaseQueryResponse {
	return &notionapi.DatabaseQueryResponse{
		Results: []notionapi.Page{},
		HasMore: false,
	}
}

func TestFlagForReview_CreatesPage(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "db-reviews", mock.AnythingOfType("*notionapi.DatabaseQueryRequest")).
		Return(emptyQueryResponse(), nil).Once()

	var captured *notionapi.PageCreateRequest
	mc.On("CreatePage", ctx, mock.AnythingOfType("*notionapi.PageCreateRequest")).
		Run(func(args mock.Arguments) {
			captured = args.Get(1).(*notionapi.PageCreateRequest)
		}).
		Return(&notionapi.Page{ID: "page-1"}, nil).Once()

	q := NewReviewQueue(mc, "db-reviews")
	err := q.FlagForReview(ctx, reviewLead(), "deferred past stale window")
	require.NoError(t, err)
	mc.AssertExpectations(t)

	require.NotNil(t, captured)
	assert.Equal(t, notionapi.DatabaseID("db-reviews"), captured.Parent.DatabaseID)

	title := captured.Properties["Name"].(notionapi.TitleProperty)
	assert.Equal(t, "Acme Robotics", title.Title[0].Text.Content)

	leadID := captured.Properties["Lead ID"].(notionapi.RichTextProperty)
	assert.Equal(t, "ld-1", leadID.RichText[0].Text.Content)

	phase := captured.Properties["Phase"].(notionapi.SelectProperty)
	assert.Equal(t, "deferred", phase.Select.Name)

	reason := captured.Properties["Reason"].(notionapi.RichTextProperty)
	assert.Equal(t, "deferred past stale window", reason.RichText[0].Text.Content)

	status := captured.Properties["Status"].(notionapi.StatusProperty)
	assert.Equal(t, "Needs Review", status.Status.Name)

	url := captured.Properties["URL"].(notionapi.URLProperty)
	assert.Equal(t, "https://acme.example", url.URL)

	scoreProp := captured.Properties["Score"].(notionapi.NumberProperty)
	assert.Equal(t, 0.55, scoreProp.Number)
}

func TestFlagForReview_SkipsDuplicate(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "db-reviews", mock.MatchedBy(func(req *notionapi.DatabaseQueryRequest) bool {
		and, ok := req.Filter.(notionapi.AndCompoundFilter)
		if !ok || len(and) != 2 {
			return false
		}
		pf, ok := and[0].(notionapi.PropertyFilter)
		return ok && pf.Property == "Lead ID" && pf.RichText != nil && pf.RichText.Equals == "ld-1"
	})).Return(&notionapi.DatabaseQueryResponse{
		Results: []notionapi.Page{{ID: "page-existing"}},
		HasMore: false,
	}, nil).Once()

	q := NewReviewQueue(mc, "db-reviews")
	err := q.FlagForReview(ctx, reviewLead(), "still stale")
	require.NoError(t, err)

	mc.AssertNotCalled(t, "CreatePage", mock.Anything, mock.Anything)
	mc.AssertExpectations(t)
}

func TestFlagForReview_OmitsOptionalProperties(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "db-reviews", mock.AnythingOfType("*notionapi.DatabaseQueryRequest")).
		Return(emptyQueryResponse(), nil).Once()

	var captured *notionapi.PageCreateRequest
	mc.On("CreatePage", ctx, mock.AnythingOfType("*notionapi.PageCreateRequest")).
		Run(func(args mock.Arguments) {
			captured = args.Get(1).(*notionapi.PageCreateRequest)
		}).
		Return(&notionapi.Page{ID: "page-1"}, nil).Once()

	lead := &model.Lead{
		ID:          "ld-2",
		CompanyName: "Globex",
		Phase:       model.PhaseDiscovered,
	}

	q := NewReviewQueue(mc, "db-reviews")
	err := q.FlagForReview(ctx, lead, "manual check")
	require.NoError(t, err)

	require.NotNil(t, captured)
	assert.NotContains(t, captured.Properties, "URL")
	assert.NotContains(t, captured.Properties, "Score")
}

func TestFlagForReview_QueryError(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "db-reviews", mock.AnythingOfType("*notionapi.DatabaseQueryRequest")).
		Return(nil, assert.AnError).Once()

	q := NewReviewQueue(mc, "db-reviews")
	err := q.FlagForReview(ctx, reviewLead(), "reason")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "find pending review")
	mc.AssertNotCalled(t, "CreatePage", mock.Anything, mock.Anything)
}

func TestFlagForReview_CreateError(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "db-reviews", mock.AnythingOfType("*notionapi.DatabaseQueryRequest")).
		Return(emptyQueryResponse(), nil).Once()
	mc.On("CreatePage", ctx, mock.AnythingOfType("*notionapi.PageCreateRequest")).
		Return(nil, assert.AnError).Once()

	q := NewReviewQueue(mc, "db-reviews")
	err := q.FlagForReview(ctx, reviewLead(), "reason")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "flag lead ld-1 for review")
}

func reviewPage(id, leadID, company, phase, reason string) notionapi.Page {
	return notionapi.Page{
		ID: notionapi.ObjectID(id),
		Properties: notionapi.Properties{
			"Name": &notionapi.TitleProperty{
				Title: []notionapi.RichText{{PlainText: company}},
			},
			"Lead ID": &notionapi.RichTextProperty{
				RichText: []notionapi.RichText{{PlainText: leadID}},
			},
			"Phase": &notionapi.SelectProperty{
				Select: notionapi.Option{Name: phase},
			},
			"Reason": &notionapi.RichTextProperty{
				RichText: []notionapi.RichText{{PlainText: reason}},
			},
		},
	}
}

func TestPendingReviews(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "db-reviews", mock.AnythingOfType("*notionapi.DatabaseQueryRequest")).
		Return(&notionapi.DatabaseQueryResponse{
			Results: []notionapi.Page{
				reviewPage("pg-1", "ld-1", "Acme Robotics", "deferred", "stale-deferred"),
				reviewPage("pg-2", "ld-2", "Globex", "deferred", "stale-deferred"),
			},
			HasMore: false,
		}, nil).Once()

	q := NewReviewQueue(mc, "db-reviews")
	entries, err := q.PendingReviews(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "pg-1", entries[0].PageID)
	assert.Equal(t, "ld-1", entries[0].LeadID)
	assert.Equal(t, "Acme Robotics", entries[0].Company)
	assert.Equal(t, "deferred", entries[0].Phase)
	assert.Equal(t, "stale-deferred", entries[0].Reason)
	assert.Equal(t, "ld-2", entries[1].LeadID)
	mc.AssertExpectations(t)
}

func TestPendingReviews_Empty(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "db-reviews", mock.AnythingOfType("*notionapi.DatabaseQueryRequest")).
		Return(emptyQueryResponse(), nil).Once()

	q := NewReviewQueue(mc, "db-reviews")
	entries, err := q.PendingReviews(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPendingReviews_QueryError(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "db-reviews", mock.AnythingOfType("*notionapi.DatabaseQueryRequest")).
		Return(nil, assert.AnError).Once()

	q := NewReviewQueue(mc, "db-reviews")
	_, err := q.PendingReviews(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query pending reviews")
}
