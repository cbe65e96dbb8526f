package qualify

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/sales-agent/internal/model"
	"github.com/sells-group/sales-agent/internal/resilience"
	"github.com/sells-group/sales-agent/internal/scoring"
)

// Qualify decides a lead's qualification verdict from its score breakdown.
// The decision is deterministic for a given (lead, profile version, config)
// and the rationale lists every criterion so the verdict is explainable
// without recomputation. The verdict is a new immutable record; callers
// append it to the lead's history.
func Qualify(lead *model.Lead, score *scoring.Result, profile *model.ICPProfile, cfg *FrameworkConfig) (*model.Verdict, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rationale := make([]model.CriterionStep, 0, len(score.Breakdown))
	gateFailed := false

	for _, contrib := range score.Breakdown {
		c, ok := profile.Criterion(contrib.Criterion)
		if !ok {
			// Breakdown entries always come from the profile's criteria;
			// anything else means score and profile versions diverged.
			return nil, resilience.NewInvariantViolation("qualify",
				"breakdown criterion %q not in profile version %d", contrib.Criterion, profile.Version)
		}

		rule, hasRule := cfg.rule(contrib.Criterion)
		value, present := lead.Attr(c.AttributePath)

		step := model.CriterionStep{
			Criterion: contrib.Criterion,
			Required:  hasRule && rule.Required,
			Match:     contrib.Match,
			Weight:    contrib.Weight,
			Weighted:  contrib.Weighted,
			Passed:    !hasRule || contrib.Match >= rule.MinMatch,
			Value:     value,
			Missing:   !present,
		}
		if step.Required && !step.Passed {
			gateFailed = true
		}
		rationale = append(rationale, step)
	}

	// Required rules must reference real criteria; a silently ignored hard
	// gate would qualify leads the framework meant to reject.
	for _, r := range cfg.Rules {
		if _, ok := profile.Criterion(r.Criterion); !ok {
			return nil, resilience.NewInvariantViolation("qualify",
				"framework %q rule references unknown criterion %q", cfg.Name, r.Criterion)
		}
	}

	result := model.VerdictDeferred
	switch {
	case gateFailed:
		result = model.VerdictDisqualified
	case score.Total >= cfg.QualifyThreshold:
		result = model.VerdictQualified
	case score.Total <= cfg.RejectThreshold:
		result = model.VerdictDisqualified
	}

	verdict := &model.Verdict{
		ID:         "vd-" + uuid.New().String(),
		LeadID:     lead.ID,
		Result:     result,
		Rationale:  rationale,
		ICPVersion: profile.Version,
		Score:      score.Total,
		Framework:  cfg.Name,
		DecidedAt:  time.Now().UTC(),
	}

	zap.L().Debug("qualify: verdict decided",
		zap.String("lead_id", lead.ID),
		zap.String("result", string(result)),
		zap.Float64("score", score.Total),
		zap.Bool("gate_failed", gateFailed),
		zap.Int("icp_version", profile.Version),
	)
	return verdict, nil
}
