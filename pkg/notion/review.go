package notion

import (
	"context"
	"fmt"
	"strings"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sales-agent/internal/model"
)

// ReviewQueue escalates leads to a Notion database for manual review. It
// satisfies the orchestrator's Reviewer dependency.
type ReviewQueue struct {
	client Client
	dbID   string
}

// NewReviewQueue creates a review queue backed by the given Notion database.
func NewReviewQueue(c Client, dbID string) *ReviewQueue {
	return &ReviewQueue{client: c, dbID: dbID}
}

// FlagForReview creates a review page for the lead. Leads already pending
// review (matching Lead ID) are not duplicated.
func (q *ReviewQueue) FlagForReview(ctx context.Context, lead *model.Lead, reason string) error {
	existing, err := q.findPending(ctx, lead.ID)
	if err != nil {
		return err
	}
	if existing {
		zap.L().Debug("notion: lead already pending review",
			zap.String("lead_id", lead.ID),
		)
		return nil
	}

	req := &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(q.dbID),
		},
		Properties: reviewProperties(lead, reason),
	}

	if _, err := q.client.CreatePage(ctx, req); err != nil {
		return eris.Wrap(err, fmt.Sprintf("notion: flag lead %s for review", lead.ID))
	}
	return nil
}

// ReviewEntry is one pending review row read back from the database.
type ReviewEntry struct {
	PageID  string `json:"page_id"`
	LeadID  string `json:"lead_id"`
	Company string `json:"company"`
	Phase   string `json:"phase"`
	Reason  string `json:"reason"`
}

// PendingReviews lists every lead currently awaiting manual review.
func (q *ReviewQueue) PendingReviews(ctx context.Context) ([]ReviewEntry, error) {
	pages, err := QueryPendingReviews(ctx, q.client, q.dbID)
	if err != nil {
		return nil, err
	}

	entries := make([]ReviewEntry, 0, len(pages))
	for _, p := range pages {
		entries = append(entries, parseReviewPage(p))
	}
	return entries, nil
}

func parseReviewPage(p notionapi.Page) ReviewEntry {
	e := ReviewEntry{PageID: string(p.ID)}

	if prop, ok := p.Properties["Name"]; ok {
		if tp, ok := prop.(*notionapi.TitleProperty); ok {
			e.Company = plainText(tp.Title)
		}
	}
	if prop, ok := p.Properties["Lead ID"]; ok {
		if rtp, ok := prop.(*notionapi.RichTextProperty); ok {
			e.LeadID = plainText(rtp.RichText)
		}
	}
	if prop, ok := p.Properties["Phase"]; ok {
		if sp, ok := prop.(*notionapi.SelectProperty); ok {
			e.Phase = sp.Select.Name
		}
	}
	if prop, ok := p.Properties["Reason"]; ok {
		if rtp, ok := prop.(*notionapi.RichTextProperty); ok {
			e.Reason = plainText(rtp.RichText)
		}
	}
	return e
}

// plainText concatenates the plain_text values from a slice of RichText.
func plainText(rts []notionapi.RichText) string {
	var sb strings.Builder
	for _, rt := range rts {
		sb.WriteString(rt.PlainText)
	}
	return sb.String()
}

// findPending reports whether an unresolved review page exists for the lead.
func (q *ReviewQueue) findPending(ctx context.Context, leadID string) (bool, error) {
	req := &notionapi.DatabaseQueryRequest{
		Filter: notionapi.AndCompoundFilter{
			notionapi.PropertyFilter{
				Property: "Lead ID",
				RichText: &notionapi.TextFilterCondition{
					Equals: leadID,
				},
			},
			notionapi.PropertyFilter{
				Property: "Status",
				Status: &notionapi.StatusFilterCondition{
					Equals: "Needs Review",
				},
			},
		},
		PageSize: 1,
	}

	resp, err := q.client.QueryDatabase(ctx, q.dbID, req)
	if err != nil {
		return false, eris.Wrap(err, fmt.Sprintf("notion: find pending review for %s", leadID))
	}
	return len(resp.Results) > 0, nil
}

// reviewProperties maps a lead and escalation reason to review page properties.
func reviewProperties(lead *model.Lead, reason string) notionapi.Properties {
	props := notionapi.Properties{
		"Name": notionapi.TitleProperty{
			Type: notionapi.PropertyTypeTitle,
			Title: []notionapi.RichText{
				{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: lead.CompanyName}},
			},
		},
		"Lead ID": notionapi.RichTextProperty{
			Type: notionapi.PropertyTypeRichText,
			RichText: []notionapi.RichText{
				{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: lead.ID}},
			},
		},
		"Phase": notionapi.SelectProperty{
			Type:   notionapi.PropertyTypeSelect,
			Select: notionapi.Option{Name: string(lead.Phase)},
		},
		"Reason": notionapi.RichTextProperty{
			Type: notionapi.PropertyTypeRichText,
			RichText: []notionapi.RichText{
				{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: reason}},
			},
		},
		"Status": notionapi.StatusProperty{
			Status: notionapi.Status{
				Name: "Needs Review",
			},
		},
	}

	if lead.Domain != "" {
		props["URL"] = notionapi.URLProperty{
			Type: notionapi.PropertyTypeURL,
			URL:  "https://" + lead.Domain,
		}
	}
	if lead.Score != nil {
		props["Score"] = notionapi.NumberProperty{
			Type:   notionapi.PropertyTypeNumber,
			Number: *lead.Score,
		}
	}
	return props
}
