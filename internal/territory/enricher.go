package territory

import (
	"context"

	"github.com/sells-group/sales-agent/internal/model"
)

// Enricher exposes territory assignment as a pipeline enrichment source.
// It returns the territory as an attribute delta rather than mutating the
// lead, so the orchestrator controls when enrichments land.
type Enricher struct {
	assigner *Assigner
}

// NewEnricher wraps an Assigner for use as an enrichment source.
func NewEnricher(a *Assigner) *Enricher {
	return &Enricher{assigner: a}
}

// Enrich resolves the lead's territory from its coordinate attributes.
// Leads without coordinates, or outside every territory, yield an empty
// delta; that is normal, not an error.
func (e *Enricher) Enrich(_ context.Context, lead *model.Lead) (map[string]any, error) {
	lat, latOK := coordAttr(lead, "latitude", "lat")
	lon, lonOK := coordAttr(lead, "longitude", "lng", "lon")
	if !latOK || !lonOK {
		return nil, nil
	}
	name, ok := e.assigner.Assign(lon, lat)
	if !ok {
		return nil, nil
	}
	return map[string]any{"territory": name}, nil
}
