package icp

import (
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/sales-agent/internal/model"
)

// profileFile is the YAML shape of an operator-authored profile definition.
type profileFile struct {
	Name     string            `yaml:"name"`
	Criteria []model.Criterion `yaml:"criteria"`
}

// LoadProfileFile reads an operator-authored ICP definition from a YAML file
// and returns a version-1 profile. Weights that sum to anything positive are
// normalized, so operators can write natural point allocations (40/30/20/10)
// rather than exact fractions.
func LoadProfileFile(path string) (*model.ICPProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "icp: read profile file %s", path)
	}

	var pf profileFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, eris.Wrap(err, "icp: parse profile file")
	}

	sum := 0.0
	for _, c := range pf.Criteria {
		sum += c.Weight
	}
	if sum <= 0 {
		return nil, eris.New("icp: profile file has no positive weights")
	}
	for i := range pf.Criteria {
		pf.Criteria[i].Weight /= sum
	}

	id := pf.Name
	if id == "" {
		id = "icp-" + uuid.New().String()
	}
	profile := &model.ICPProfile{
		ID:        id,
		Version:   1,
		Criteria:  pf.Criteria,
		CreatedAt: time.Now().UTC(),
	}
	if err := profile.Validate(); err != nil {
		return nil, eris.Wrap(err, "icp: profile file")
	}
	return profile, nil
}
