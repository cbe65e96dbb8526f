package model

import (
	"math"
	"time"

	"github.com/rotisserie/eris"
)

// WeightEpsilon is the tolerance for the weights-sum-to-one invariant.
const WeightEpsilon = 1e-6

// MatchKind selects the match function applied to a criterion.
type MatchKind string

const (
	MatchExact    MatchKind = "exact"
	MatchRange    MatchKind = "range"
	MatchSet      MatchKind = "set"
	MatchKeywords MatchKind = "keywords"
)

// Valid reports whether k is a known match kind.
func (k MatchKind) Valid() bool {
	switch k {
	case MatchExact, MatchRange, MatchSet, MatchKeywords:
		return true
	}
	return false
}

// Criterion is one weighted dimension of an ideal customer profile.
type Criterion struct {
	Name          string    `json:"name" yaml:"name"`
	AttributePath string    `json:"attribute_path" yaml:"attribute_path"`
	Weight        float64   `json:"weight" yaml:"weight"`
	Kind          MatchKind `json:"kind" yaml:"kind"`
	Target        Target    `json:"target" yaml:"target"`
}

// Target holds the comparison value for a criterion. Exactly one field is
// meaningful depending on the criterion's Kind.
type Target struct {
	Value    string   `json:"value,omitempty" yaml:"value,omitempty"`       // exact
	Min      float64  `json:"min,omitempty" yaml:"min,omitempty"`           // range
	Max      float64  `json:"max,omitempty" yaml:"max,omitempty"`           // range
	Set      []string `json:"set,omitempty" yaml:"set,omitempty"`           // set membership
	Keywords []string `json:"keywords,omitempty" yaml:"keywords,omitempty"` // keyword match
}

// ICPProfile is an immutable, versioned snapshot of the ideal customer
// profile. Mutations go through the profile store, which produces a new
// version; callers must never modify a profile they were handed.
type ICPProfile struct {
	ID        string      `json:"id"`
	Version   int         `json:"version"`
	Criteria  []Criterion `json:"criteria"`
	CreatedAt time.Time   `json:"created_at"`
}

// Validate checks structural invariants: at least one criterion, known match
// kinds, weights in (0,1], and weights summing to 1.0 within WeightEpsilon.
func (p *ICPProfile) Validate() error {
	if len(p.Criteria) == 0 {
		return eris.New("icp: profile has no criteria")
	}
	seen := make(map[string]struct{}, len(p.Criteria))
	sum := 0.0
	for _, c := range p.Criteria {
		if c.Name == "" {
			return eris.New("icp: criterion with empty name")
		}
		if _, dup := seen[c.Name]; dup {
			return eris.Errorf("icp: duplicate criterion %q", c.Name)
		}
		seen[c.Name] = struct{}{}
		if c.AttributePath == "" {
			return eris.Errorf("icp: criterion %q has no attribute path", c.Name)
		}
		if !c.Kind.Valid() {
			return eris.Errorf("icp: criterion %q has unknown match kind %q", c.Name, c.Kind)
		}
		if c.Kind == MatchRange && c.Target.Max <= c.Target.Min {
			return eris.Errorf("icp: criterion %q has empty range [%v,%v]", c.Name, c.Target.Min, c.Target.Max)
		}
		if c.Weight <= 0 || c.Weight > 1 {
			return eris.Errorf("icp: criterion %q weight %v outside (0,1]", c.Name, c.Weight)
		}
		sum += c.Weight
	}
	if math.Abs(sum-1.0) > WeightEpsilon {
		return eris.Errorf("icp: criterion weights sum to %v, want 1.0", sum)
	}
	return nil
}

// Criterion returns the named criterion, if present.
func (p *ICPProfile) Criterion(name string) (Criterion, bool) {
	for _, c := range p.Criteria {
		if c.Name == name {
			return c, true
		}
	}
	return Criterion{}, false
}

// RequiredPaths returns the attribute paths referenced by the profile's
// criteria, used to decide when a lead is ready for scoring.
func (p *ICPProfile) RequiredPaths() []string {
	paths := make([]string, 0, len(p.Criteria))
	for _, c := range p.Criteria {
		paths = append(paths, c.AttributePath)
	}
	return paths
}

// Clone returns a deep copy safe to mutate into a new version.
func (p *ICPProfile) Clone() *ICPProfile {
	cp := *p
	cp.Criteria = make([]Criterion, len(p.Criteria))
	copy(cp.Criteria, p.Criteria)
	for i := range cp.Criteria {
		t := &cp.Criteria[i].Target
		t.Set = append([]string(nil), t.Set...)
		t.Keywords = append([]string(nil), t.Keywords...)
	}
	return &cp
}
