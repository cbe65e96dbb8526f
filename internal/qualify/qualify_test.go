package qualify

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sales-agent/internal/model"
	"github.com/sells-group/sales-agent/internal/resilience"
	"github.com/sells-group/sales-agent/internal/scoring"
)

func testProfile() *model.ICPProfile {
	return &model.ICPProfile{
		ID:      "icp-q",
		Version: 4,
		Criteria: []model.Criterion{
			{Name: "industry", AttributePath: "industry", Weight: 0.5, Kind: model.MatchExact, Target: model.Target{Value: "saas"}},
			{Name: "headcount", AttributePath: "headcount", Weight: 0.5, Kind: model.MatchRange, Target: model.Target{Min: 50, Max: 500}},
		},
	}
}

func bandConfig() *FrameworkConfig {
	return &FrameworkConfig{
		Name:             "custom",
		QualifyThreshold: 0.75,
		RejectThreshold:  0.40,
	}
}

func scoreFor(t *testing.T, lead *model.Lead, profile *model.ICPProfile) *scoring.Result {
	t.Helper()
	res, err := scoring.Score(lead, profile)
	require.NoError(t, err)
	return res
}

func TestQualifyThresholdBands(t *testing.T) {
	profile := testProfile()
	cfg := bandConfig()

	tests := []struct {
		name string
		lead *model.Lead
		want model.VerdictResult
	}{
		{
			"full fit qualifies",
			&model.Lead{ID: "l1", RawAttributes: map[string]any{"industry": "saas", "headcount": 300}},
			model.VerdictQualified,
		},
		{
			"half fit lands in deferred band",
			&model.Lead{ID: "l2", RawAttributes: map[string]any{"industry": "saas"}},
			model.VerdictDeferred,
		},
		{
			"no fit is rejected",
			&model.Lead{ID: "l3", RawAttributes: map[string]any{"industry": "retail"}},
			model.VerdictDisqualified,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Qualify(tt.lead, scoreFor(t, tt.lead, profile), profile, cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, v.Result)
			assert.Equal(t, 4, v.ICPVersion)
			assert.Len(t, v.Rationale, 2, "rationale must cover every criterion")
		})
	}
}

func TestQualifyExactBandEdges(t *testing.T) {
	profile := testProfile()
	cfg := bandConfig()
	lead := &model.Lead{ID: "edge", RawAttributes: map[string]any{"industry": "saas", "headcount": 300}}

	// Synthesize breakdowns at exact band edges; the band logic only reads
	// Total and Breakdown.
	mk := func(total float64) *scoring.Result {
		return &scoring.Result{
			Total: total,
			Breakdown: []model.Contribution{
				{Criterion: "industry", Match: total, Weight: 0.5, Weighted: total * 0.5},
				{Criterion: "headcount", Match: total, Weight: 0.5, Weighted: total * 0.5},
			},
			ICPVersion: profile.Version,
		}
	}

	tests := []struct {
		score float64
		want  model.VerdictResult
	}{
		{0.80, model.VerdictQualified},
		{0.75, model.VerdictQualified}, // at qualify threshold
		{0.55, model.VerdictDeferred},
		{0.40, model.VerdictDisqualified}, // at reject threshold
		{0.30, model.VerdictDisqualified},
	}
	for _, tt := range tests {
		v, err := Qualify(lead, mk(tt.score), profile, cfg)
		require.NoError(t, err)
		assert.Equal(t, tt.want, v.Result, "score %.2f", tt.score)
	}
}

func TestRequiredGateDominatesScore(t *testing.T) {
	profile := testProfile()
	cfg := &FrameworkConfig{
		Name:             "gated",
		QualifyThreshold: 0.75,
		RejectThreshold:  0.40,
		Rules: []Rule{
			{Criterion: "headcount", Required: true, MinMatch: 0.5},
		},
	}

	// High aggregate score but the required headcount gate fails.
	score := &scoring.Result{
		Total: 0.95,
		Breakdown: []model.Contribution{
			{Criterion: "industry", Match: 1.0, Weight: 0.5, Weighted: 0.5},
			{Criterion: "headcount", Match: 0.1, Weight: 0.5, Weighted: 0.05},
		},
		ICPVersion: profile.Version,
	}
	lead := &model.Lead{ID: "gated", RawAttributes: map[string]any{"industry": "saas", "headcount": 10}}

	v, err := Qualify(lead, score, profile, cfg)
	require.NoError(t, err)
	assert.Equal(t, model.VerdictDisqualified, v.Result)

	var gateStep *model.CriterionStep
	for i := range v.Rationale {
		if v.Rationale[i].Criterion == "headcount" {
			gateStep = &v.Rationale[i]
		}
	}
	require.NotNil(t, gateStep)
	assert.True(t, gateStep.Required)
	assert.False(t, gateStep.Passed)
}

func TestQualifyDeterministic(t *testing.T) {
	profile := testProfile()
	cfg := bandConfig()
	lead := &model.Lead{ID: "det", RawAttributes: map[string]any{"industry": "saas", "headcount": 20}}
	score := scoreFor(t, lead, profile)

	first, err := Qualify(lead, score, profile, cfg)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := Qualify(lead, score, profile, cfg)
		require.NoError(t, err)
		assert.Equal(t, first.Result, again.Result)
		assert.Equal(t, first.Rationale, again.Rationale)
		assert.Equal(t, first.Score, again.Score)
	}
}

func TestQualifyConfigErrors(t *testing.T) {
	profile := testProfile()
	lead := &model.Lead{ID: "cfg", RawAttributes: map[string]any{"industry": "saas", "headcount": 100}}
	score := scoreFor(t, lead, profile)

	tests := []struct {
		name string
		cfg  *FrameworkConfig
	}{
		{"inverted thresholds", &FrameworkConfig{Name: "x", QualifyThreshold: 0.3, RejectThreshold: 0.6}},
		{"rule for unknown criterion", &FrameworkConfig{
			Name: "x", QualifyThreshold: 0.7, RejectThreshold: 0.4,
			Rules: []Rule{{Criterion: "budget", Required: true, MinMatch: 0.5}},
		}},
		{"min_match out of range", &FrameworkConfig{
			Name: "x", QualifyThreshold: 0.7, RejectThreshold: 0.4,
			Rules: []Rule{{Criterion: "industry", MinMatch: 1.5}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Qualify(lead, score, profile, tt.cfg)
			require.Error(t, err)
			assert.True(t, resilience.IsInvariantViolation(err))
		})
	}
}

func TestPresets(t *testing.T) {
	for _, name := range []string{"bant", "MEDDIC", "Champ"} {
		cfg, err := Preset(name)
		require.NoError(t, err)
		assert.NoError(t, cfg.Validate())
		assert.Greater(t, cfg.QualifyThreshold, cfg.RejectThreshold)
	}
	_, err := Preset("spin")
	assert.Error(t, err)
}

func TestLoadFrameworkFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "framework.yaml")
	yaml := `
name: enterprise
qualify_threshold: 0.75
reject_threshold: 0.4
rules:
  - criterion: headcount
    required: true
    min_match: 0.5
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := LoadFrameworkFile(path)
	require.NoError(t, err)
	assert.Equal(t, "enterprise", cfg.Name)
	require.Len(t, cfg.Rules, 1)
	assert.True(t, cfg.Rules[0].Required)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("qualify_threshold: 0.2\nreject_threshold: 0.5\n"), 0o644))
	_, err = LoadFrameworkFile(bad)
	assert.Error(t, err)
}
