package anthropic

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sales-agent/internal/model"
)

const reportSystemPrompt = `You are a sales-development assistant. Write a concise handoff
summary for an account executive receiving a newly booked lead. Cover: who the company is,
why it qualified, the engagement history, and suggested talking points. Plain prose,
no markdown headers, at most four short paragraphs.`

// Reporter generates human-readable handoff summaries for booked leads. It
// satisfies the orchestrator's Reporter dependency.
type Reporter struct {
	client Client
	model  string
}

// NewReporter creates a report generator using the given model.
func NewReporter(c Client, model string) *Reporter {
	return &Reporter{client: c, model: model}
}

// HandoffReport generates a summary of the lead for attachment to its CRM
// record.
func (r *Reporter) HandoffReport(ctx context.Context, lead *model.Lead, verdict *model.Verdict) (string, error) {
	temp := 0.3
	resp, err := r.client.CreateMessage(ctx, MessageRequest{
		Model:       r.model,
		MaxTokens:   1024,
		System:      BuildCachedSystemBlocks(reportSystemPrompt),
		Messages:    []Message{{Role: "user", Content: leadBrief(lead, verdict)}},
		Temperature: &temp,
	})
	if err != nil {
		return "", eris.Wrap(err, fmt.Sprintf("anthropic: handoff report for %s", lead.ID))
	}
	resp.Usage.LogCost(r.model, "handoff-report")

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	report := strings.TrimSpace(sb.String())
	if report == "" {
		return "", eris.New(fmt.Sprintf("anthropic: empty report for %s", lead.ID))
	}
	return report, nil
}

// leadBrief flattens the lead into a prompt the model can summarize.
func leadBrief(lead *model.Lead, verdict *model.Verdict) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Company: %s\n", lead.CompanyName)
	if lead.Domain != "" {
		fmt.Fprintf(&sb, "Website: %s\n", lead.Domain)
	}
	if lead.Score != nil {
		fmt.Fprintf(&sb, "Fit score: %.2f (profile v%d)\n", *lead.Score, lead.ScoredVersion)
	}

	if len(lead.ScoreBreakdown) > 0 {
		sb.WriteString("Score breakdown:\n")
		for _, c := range lead.ScoreBreakdown {
			fmt.Fprintf(&sb, "  - %s: match %.2f, weight %.2f\n", c.Criterion, c.Match, c.Weight)
		}
	}

	if verdict != nil {
		fmt.Fprintf(&sb, "Qualification: %s via %s framework\n", verdict.Result, verdict.Framework)
		for _, step := range verdict.Rationale {
			state := "failed"
			switch {
			case step.Missing:
				state = "missing data"
			case step.Passed:
				state = "passed"
			}
			fmt.Fprintf(&sb, "  - %s: %s (match %.2f)\n", step.Criterion, state, step.Match)
		}
	}

	if attrs := flattenAttrs(lead); len(attrs) > 0 {
		sb.WriteString("Known attributes:\n")
		for _, kv := range attrs {
			fmt.Fprintf(&sb, "  - %s\n", kv)
		}
	}

	if len(lead.Engagements) > 0 {
		sb.WriteString("Engagement history:\n")
		for _, e := range lead.Engagements {
			status := "no response"
			if e.Responded {
				status = "responded"
			}
			fmt.Fprintf(&sb, "  - attempt %d via %s: %s\n", e.Attempt, e.Channel, status)
		}
	}

	return sb.String()
}

// flattenAttrs renders the lead's attribute bags as sorted "key: value" lines.
// Enriched values shadow raw ones.
func flattenAttrs(lead *model.Lead) []string {
	merged := make(map[string]any, len(lead.RawAttributes)+len(lead.EnrichedAttributes))
	for k, v := range lead.RawAttributes {
		merged[k] = v
	}
	for k, v := range lead.EnrichedAttributes {
		merged[k] = v
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, fmt.Sprintf("%s: %v", k, merged[k]))
	}
	return out
}
