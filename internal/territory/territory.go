// Package territory assigns leads to sales territories from shapefile
// polygon boundaries.
package territory

import (
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"go.uber.org/zap"

	"github.com/sells-group/sales-agent/internal/model"
)

// Region is one named territory with its boundary rings.
type Region struct {
	Name  string
	rings [][]float64 // flat XY ring coordinates, even-odd winding
}

// Assigner maps a coordinate to the territory containing it.
type Assigner struct {
	regions []Region
}

// NewAssigner builds an Assigner from in-memory regions.
func NewAssigner(regions []Region) *Assigner {
	return &Assigner{regions: regions}
}

// NewRegion builds a Region from polygons. Each polygon's rings follow the
// shapefile convention: first ring is the outer boundary, the rest are holes.
func NewRegion(name string, polygons []*geom.Polygon) Region {
	r := Region{Name: name}
	for _, poly := range polygons {
		for i := 0; i < poly.NumLinearRings(); i++ {
			r.rings = append(r.rings, poly.LinearRing(i).FlatCoords())
		}
	}
	return r
}

// LoadShapefile reads territory polygons from a shapefile. nameField selects
// the attribute column holding the territory name.
func LoadShapefile(path, nameField string) (*Assigner, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "territory: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	nameIdx := -1
	for i, f := range reader.Fields() {
		name := strings.TrimRight(f.String(), "\x00")
		if strings.EqualFold(name, nameField) {
			nameIdx = i
			break
		}
	}
	if nameIdx < 0 {
		return nil, eris.Errorf("territory: field %q not found in %s", nameField, path)
	}

	var regions []Region
	var skipped int
	for reader.Next() {
		_, shape := reader.Shape()
		poly, ok := shape.(*shp.Polygon)
		if !ok || len(poly.Points) == 0 {
			skipped++
			continue
		}

		name := strings.TrimSpace(strings.TrimRight(reader.Attribute(nameIdx), "\x00"))
		if name == "" {
			skipped++
			continue
		}

		regions = append(regions, Region{Name: name, rings: polygonRings(poly)})
	}

	if skipped > 0 {
		zap.L().Debug("territory: skipped shapefile records", zap.Int("skipped", skipped))
	}
	zap.L().Info("territory: boundaries loaded",
		zap.String("path", path),
		zap.Int("regions", len(regions)),
	)
	return &Assigner{regions: regions}, nil
}

// polygonRings splits a shapefile polygon into flat XY rings per part.
func polygonRings(poly *shp.Polygon) [][]float64 {
	parts := append([]int32{}, poly.Parts...)
	parts = append(parts, int32(len(poly.Points)))

	rings := make([][]float64, 0, len(poly.Parts))
	for p := 0; p < len(parts)-1; p++ {
		ring := make([]float64, 0, 2*(parts[p+1]-parts[p]))
		for _, pt := range poly.Points[parts[p]:parts[p+1]] {
			ring = append(ring, pt.X, pt.Y)
		}
		rings = append(rings, ring)
	}
	return rings
}

// Assign returns the territory containing the coordinate. Holes follow
// even-odd winding: a point inside an odd number of rings is inside the
// region.
func (a *Assigner) Assign(lon, lat float64) (string, bool) {
	pt := geom.Coord{lon, lat}
	for _, region := range a.regions {
		inside := false
		for _, ring := range region.rings {
			if xy.IsPointInRing(geom.XY, pt, ring) {
				inside = !inside
			}
		}
		if inside {
			return region.Name, true
		}
	}
	return "", false
}

// Annotate enriches a lead with its territory, read from the lead's
// latitude/longitude attributes. Returns false when the lead has no usable
// coordinates or falls outside every territory.
func (a *Assigner) Annotate(lead *model.Lead) bool {
	lat, latOK := coordAttr(lead, "latitude", "lat")
	lon, lonOK := coordAttr(lead, "longitude", "lng", "lon")
	if !latOK || !lonOK {
		return false
	}

	name, ok := a.Assign(lon, lat)
	if !ok {
		return false
	}
	lead.Enrich(map[string]any{"territory": name})
	return true
}

func coordAttr(lead *model.Lead, paths ...string) (float64, bool) {
	for _, p := range paths {
		v, ok := lead.Attr(p)
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			return n, true
		case int:
			return float64(n), true
		}
	}
	return 0, false
}
