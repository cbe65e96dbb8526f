// Package qualify converts a lead's fit score into a qualification verdict
// under a configurable decision framework. Hard gates on required criteria
// dominate the aggregate score; the band between the reject and qualify
// thresholds defers borderline leads instead of forcing a binary call.
package qualify

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/sales-agent/internal/resilience"
)

// Rule constrains a single criterion within a framework.
type Rule struct {
	Criterion string  `yaml:"criterion"`
	Required  bool    `yaml:"required"`
	MinMatch  float64 `yaml:"min_match"`
}

// FrameworkConfig is a qualification decision framework: two score
// thresholds plus optional per-criterion rules.
type FrameworkConfig struct {
	Name             string  `yaml:"name"`
	QualifyThreshold float64 `yaml:"qualify_threshold"`
	RejectThreshold  float64 `yaml:"reject_threshold"`
	Rules            []Rule  `yaml:"rules"`
}

// Validate checks the framework's structural invariants.
func (f *FrameworkConfig) Validate() error {
	if f.QualifyThreshold <= f.RejectThreshold {
		return resilience.NewInvariantViolation("qualify.config",
			"qualify_threshold %.3f must exceed reject_threshold %.3f", f.QualifyThreshold, f.RejectThreshold)
	}
	if f.QualifyThreshold > 1 || f.RejectThreshold < 0 {
		return resilience.NewInvariantViolation("qualify.config",
			"thresholds [%.3f, %.3f] outside [0,1]", f.RejectThreshold, f.QualifyThreshold)
	}
	seen := make(map[string]struct{}, len(f.Rules))
	for _, r := range f.Rules {
		if r.Criterion == "" {
			return resilience.NewInvariantViolation("qualify.config", "rule with empty criterion")
		}
		if _, dup := seen[r.Criterion]; dup {
			return resilience.NewInvariantViolation("qualify.config", "duplicate rule for criterion %q", r.Criterion)
		}
		seen[r.Criterion] = struct{}{}
		if r.MinMatch < 0 || r.MinMatch > 1 {
			return resilience.NewInvariantViolation("qualify.config",
				"rule %q min_match %.3f outside [0,1]", r.Criterion, r.MinMatch)
		}
	}
	return nil
}

// rule returns the rule for a criterion, if one is configured.
func (f *FrameworkConfig) rule(criterion string) (Rule, bool) {
	for _, r := range f.Rules {
		if r.Criterion == criterion {
			return r, true
		}
	}
	return Rule{}, false
}

// Preset returns a built-in framework by name. The presets carry the
// threshold discipline of the classic sales methodologies; per-criterion
// required gates come from the operator's framework file because they must
// reference the operator's own ICP criteria.
func Preset(name string) (*FrameworkConfig, error) {
	switch strings.ToLower(name) {
	case "bant":
		return &FrameworkConfig{Name: "bant", QualifyThreshold: 0.70, RejectThreshold: 0.40}, nil
	case "meddic":
		return &FrameworkConfig{Name: "meddic", QualifyThreshold: 0.80, RejectThreshold: 0.45}, nil
	case "champ":
		return &FrameworkConfig{Name: "champ", QualifyThreshold: 0.75, RejectThreshold: 0.40}, nil
	default:
		return nil, eris.Errorf("qualify: unknown framework preset %q", name)
	}
}

// LoadFrameworkFile reads a custom framework definition from YAML.
func LoadFrameworkFile(path string) (*FrameworkConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "qualify: read framework file %s", path)
	}
	var cfg FrameworkConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, eris.Wrap(err, "qualify: parse framework file")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
