package territory

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/sales-agent/internal/model"
)

func squareRegion(t *testing.T, name string, minX, minY, maxX, maxY float64) Region {
	t.Helper()
	poly := geom.NewPolygon(geom.XY)
	_, err := poly.SetCoords([][]geom.Coord{{
		{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY}, {minX, minY},
	}})
	require.NoError(t, err)
	return NewRegion(name, []*geom.Polygon{poly})
}

func TestAssign(t *testing.T) {
	a := NewAssigner([]Region{
		squareRegion(t, "west", -10, 0, 0, 10),
		squareRegion(t, "east", 0, 0, 10, 10),
	})

	tests := []struct {
		name     string
		lon, lat float64
		want     string
		ok       bool
	}{
		{"inside west", -5, 5, "west", true},
		{"inside east", 5, 5, "east", true},
		{"outside all", 50, 50, "", false},
		{"below both", 5, -5, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := a.Assign(tt.lon, tt.lat)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAssign_Hole(t *testing.T) {
	// Outer square with a hole in the middle.
	poly := geom.NewPolygon(geom.XY)
	_, err := poly.SetCoords([][]geom.Coord{
		{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}},
		{{4, 4}, {6, 4}, {6, 6}, {4, 6}, {4, 4}},
	})
	require.NoError(t, err)

	a := NewAssigner([]Region{NewRegion("donut", []*geom.Polygon{poly})})

	_, ok := a.Assign(5, 5) // inside the hole
	assert.False(t, ok)

	got, ok := a.Assign(2, 2)
	assert.True(t, ok)
	assert.Equal(t, "donut", got)
}

func TestAnnotate(t *testing.T) {
	a := NewAssigner([]Region{squareRegion(t, "northeast", -80, 38, -66, 48)})

	lead := &model.Lead{
		ID: "ld-1",
		RawAttributes: map[string]any{
			"latitude":  42.36,
			"longitude": -71.05,
		},
	}
	require.True(t, a.Annotate(lead))
	v, ok := lead.Attr("territory")
	require.True(t, ok)
	assert.Equal(t, "northeast", v)
}

func TestAnnotate_NoCoordinates(t *testing.T) {
	a := NewAssigner([]Region{squareRegion(t, "northeast", -80, 38, -66, 48)})

	lead := &model.Lead{ID: "ld-1", RawAttributes: map[string]any{"industry": "saas"}}
	assert.False(t, a.Annotate(lead))
	_, ok := lead.Attr("territory")
	assert.False(t, ok)
}

func TestAnnotate_AltAttributeNames(t *testing.T) {
	a := NewAssigner([]Region{squareRegion(t, "west", -130, 30, -110, 50)})

	lead := &model.Lead{
		ID: "ld-1",
		RawAttributes: map[string]any{
			"lat": 37.77,
			"lng": -122.42,
		},
	}
	require.True(t, a.Annotate(lead))
	v, _ := lead.Attr("territory")
	assert.Equal(t, "west", v)
}

func TestLoadShapefile(t *testing.T) {
	path := writeTestShapefile(t)

	a, err := LoadShapefile(path, "NAME")
	require.NoError(t, err)

	got, ok := a.Assign(5, 5)
	require.True(t, ok)
	assert.Equal(t, "central", got)

	_, ok = a.Assign(50, 50)
	assert.False(t, ok)
}

func TestLoadShapefile_MissingField(t *testing.T) {
	path := writeTestShapefile(t)

	_, err := LoadShapefile(path, "REGION_CODE")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestLoadShapefile_MissingFile(t *testing.T) {
	_, err := LoadShapefile("/nonexistent/territories.shp", "NAME")
	require.Error(t, err)
}

// writeTestShapefile writes a single square polygon named "central".
func writeTestShapefile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "territories.shp")

	w, err := shp.Create(path, shp.POLYGON)
	require.NoError(t, err)

	require.NoError(t, w.SetFields([]shp.Field{shp.StringField("NAME", 25)}))

	square := &shp.Polygon{
		Box:       shp.Box{MinX: 0, MinY: 0, MaxX: 10, MaxY: 10},
		NumParts:  1,
		NumPoints: 5,
		Parts:     []int32{0},
		Points: []shp.Point{
			{X: 0, Y: 0}, {X: 0, Y: 10}, {X: 10, Y: 10}, {X: 10, Y: 0}, {X: 0, Y: 0},
		},
	}
	w.Write(square)
	require.NoError(t, w.WriteAttribute(0, 0, "central"))
	w.Close()

	// go-shp v0.1.1's writer names the attribute table "<base>dbf" while its
	// reader opens "<base>.dbf"; rename so the reader finds the fields.
	base := path[:len(path)-len(".shp")]
	require.NoError(t, os.Rename(base+"dbf", base+".dbf"))
	return path
}
