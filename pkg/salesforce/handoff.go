package salesforce

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sales-agent/internal/model"
)

// Handoff hands booked leads off to Salesforce and feeds closed-deal
// outcomes back into the pipeline. It satisfies the orchestrator's CRM
// dependency.
type Handoff struct {
	client Client
}

// NewHandoff creates a Salesforce-backed handoff adapter.
func NewHandoff(c Client) *Handoff {
	return &Handoff{client: c}
}

// Upsert creates or updates the Salesforce Lead for the given pipeline lead
// and returns the Salesforce record ID. Leads already handed off (known
// CRM record ID or matching Lead_Ref__c) are updated in place.
func (h *Handoff) Upsert(ctx context.Context, lead *model.Lead, verdict *model.Verdict, report string) (string, error) {
	fields := leadUpsertFields(lead, verdict, report)

	recordID := lead.CRMRecordID
	if recordID == "" {
		existing, err := FindLeadByRef(ctx, h.client, lead.ID)
		if err != nil {
			return "", err
		}
		if existing != nil {
			recordID = existing.ID
		}
	}

	if recordID != "" {
		if err := h.client.UpdateOne(ctx, "Lead", recordID, fields); err != nil {
			return "", eris.Wrap(err, fmt.Sprintf("sf: update lead %s", lead.ID))
		}
		return recordID, nil
	}

	id, err := h.client.InsertOne(ctx, "Lead", fields)
	if err != nil {
		return "", eris.Wrap(err, fmt.Sprintf("sf: create lead %s", lead.ID))
	}
	return id, nil
}

// FetchOutcomes returns closed-deal outcomes recorded in Salesforce on or
// after since. Opportunities without a recognized closed stage are skipped.
func (h *Handoff) FetchOutcomes(ctx context.Context, since time.Time) ([]model.Outcome, error) {
	records, err := FetchClosedOpportunities(ctx, h.client, since)
	if err != nil {
		return nil, err
	}

	outcomes := make([]model.Outcome, 0, len(records))
	for _, r := range records {
		result, ok := stageResult(r.StageName)
		if !ok {
			zap.L().Debug("sf: skipping opportunity with unrecognized stage",
				zap.String("opportunity_id", r.ID),
				zap.String("stage", r.StageName),
			)
			continue
		}

		recordedAt, err := time.Parse("2006-01-02", r.CloseDate)
		if err != nil {
			recordedAt = time.Now().UTC()
		}

		outcomes = append(outcomes, model.Outcome{
			ID:            "oc-sf-" + r.ID,
			LeadID:        r.LeadRef,
			Result:        result,
			Value:         r.Amount,
			ExternalRefID: r.ID,
			RecordedAt:    recordedAt,
		})
	}
	return outcomes, nil
}

// leadUpsertFields maps a pipeline lead to Salesforce Lead fields.
func leadUpsertFields(lead *model.Lead, verdict *model.Verdict, report string) map[string]any {
	fields := map[string]any{
		"Company":     lead.CompanyName,
		"LeadSource":  "Outbound Pipeline",
		"Lead_Ref__c": lead.ID,
	}
	if lead.Domain != "" {
		fields["Website"] = lead.Domain
	}
	if lead.Score != nil {
		fields["Rating"] = rating(*lead.Score)
	}
	if report != "" {
		fields["Description"] = report
	} else if verdict != nil {
		fields["Description"] = fmt.Sprintf(
			"Qualified by %s framework (score %.2f, profile v%d)",
			verdict.Framework, verdict.Score, verdict.ICPVersion,
		)
	}
	return fields
}

// rating maps a pipeline score to the standard Salesforce Lead Rating picklist.
func rating(score float64) string {
	switch {
	case score >= 0.75:
		return "Hot"
	case score >= 0.5:
		return "Warm"
	default:
		return "Cold"
	}
}

// stageResult maps a Salesforce Opportunity stage to a pipeline outcome.
func stageResult(stage string) (model.OutcomeResult, bool) {
	switch stage {
	case "Closed Won":
		return model.OutcomeWon, true
	case "Closed Lost":
		return model.OutcomeLost, true
	case "Closed Stalled":
		return model.OutcomeStalled, true
	}
	return "", false
}
