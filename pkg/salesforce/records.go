package salesforce

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// LeadRecord represents a Salesforce Lead record managed by the pipeline.
// LeadRef is a custom field carrying the pipeline's internal lead ID so
// outcomes can be joined back without a shared primary key.
type LeadRecord struct {
	ID          string `json:"Id" salesforce:"Id"`
	Company     string `json:"Company" salesforce:"Company"`
	Website     string `json:"Website" salesforce:"Website"`
	Rating      string `json:"Rating" salesforce:"Rating"`
	Description string `json:"Description" salesforce:"Description"`
	LeadSource  string `json:"LeadSource" salesforce:"LeadSource"`
	LeadRef     string `json:"Lead_Ref__c" salesforce:"Lead_Ref__c"`
}

// leadFields are the SOQL fields selected for Lead queries.
var leadFields = []string{
	"Id", "Company", "Website", "Rating", "Description", "LeadSource", "Lead_Ref__c",
}

// FindLeadByRef queries Salesforce for a Lead carrying the given pipeline
// lead ID. Returns nil if no record is found.
func FindLeadByRef(ctx context.Context, c Client, leadRef string) (*LeadRecord, error) {
	soql := fmt.Sprintf(
		"SELECT %s FROM Lead WHERE Lead_Ref__c = '%s' LIMIT 1",
		strings.Join(leadFields, ", "),
		escapeSoql(leadRef),
	)

	var records []LeadRecord
	if err := c.Query(ctx, soql, &records); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("sf: find lead by ref %s", leadRef))
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

// OpportunityRecord represents a closed Salesforce Opportunity tied back to a
// pipeline lead via the Lead_Ref__c custom field.
type OpportunityRecord struct {
	ID        string  `json:"Id" salesforce:"Id"`
	StageName string  `json:"StageName" salesforce:"StageName"`
	Amount    float64 `json:"Amount" salesforce:"Amount"`
	CloseDate string  `json:"CloseDate" salesforce:"CloseDate"`
	LeadRef   string  `json:"Lead_Ref__c" salesforce:"Lead_Ref__c"`
}

// opportunityFields are the SOQL fields selected for Opportunity queries.
var opportunityFields = []string{
	"Id", "StageName", "Amount", "CloseDate", "Lead_Ref__c",
}

// FetchClosedOpportunities queries Salesforce for opportunities closed on or
// after since. Only records carrying a pipeline lead ref are returned.
func FetchClosedOpportunities(ctx context.Context, c Client, since time.Time) ([]OpportunityRecord, error) {
	soql := fmt.Sprintf(
		"SELECT %s FROM Opportunity WHERE IsClosed = true AND CloseDate >= %s AND Lead_Ref__c != null",
		strings.Join(opportunityFields, ", "),
		since.UTC().Format("2006-01-02"),
	)

	var records []OpportunityRecord
	if err := c.Query(ctx, soql, &records); err != nil {
		return nil, eris.Wrap(err, "sf: fetch closed opportunities")
	}
	return records, nil
}

// escapeSoql escapes single quotes in SOQL string literals to prevent injection.
func escapeSoql(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}
