// Package scoring computes normalized ICP fit scores for leads. Scoring is a
// pure function of the lead's attribute bags and an immutable profile
// snapshot, so any number of leads may be scored concurrently.
package scoring

import (
	"github.com/sells-group/sales-agent/internal/model"
	"github.com/sells-group/sales-agent/internal/resilience"
)

// Result holds a lead's total fit score and its per-criterion breakdown.
// The breakdown's weighted contributions always sum to Total.
type Result struct {
	Total      float64              `json:"total"`
	Breakdown  []model.Contribution `json:"breakdown"`
	ICPVersion int                  `json:"icp_version"`
}

// Score evaluates lead against profile and returns the weighted fit score in
// [0,1]. A missing or uncoercible attribute scores exactly 0 for its
// criterion — absence of evidence counts against fit, never as a skip.
func Score(lead *model.Lead, profile *model.ICPProfile) (*Result, error) {
	res := &Result{
		Breakdown:  make([]model.Contribution, 0, len(profile.Criteria)),
		ICPVersion: profile.Version,
	}

	for _, c := range profile.Criteria {
		match, err := Match(lead, c)
		if err != nil {
			return nil, err
		}

		weighted := match * c.Weight
		res.Total += weighted
		res.Breakdown = append(res.Breakdown, model.Contribution{
			Criterion: c.Name,
			Match:     match,
			Weight:    c.Weight,
			Weighted:  weighted,
		})
	}

	return res, nil
}

// Match computes a single criterion's match value in [0,1] for lead.
func Match(lead *model.Lead, c model.Criterion) (float64, error) {
	value, ok := lead.Attr(c.AttributePath)
	if !ok {
		return 0, nil
	}

	switch c.Kind {
	case model.MatchExact:
		return matchExact(value, c.Target), nil
	case model.MatchRange:
		return matchRange(value, c.Target), nil
	case model.MatchSet:
		return matchSet(value, c.Target), nil
	case model.MatchKeywords:
		return matchKeywords(value, c.Target), nil
	default:
		return 0, resilience.NewInvariantViolation("scoring", "criterion %q has unknown match kind %q", c.Name, c.Kind)
	}
}
