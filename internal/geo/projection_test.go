package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flybeeper/utm-backend/internal/models"
)

func sfBounds() models.Bounds {
	return models.NewBounds(37.60, -122.45, 37.80, -122.35)
}

func TestProjection_Distance(t *testing.T) {
	p := NewProjection(sfBounds())

	a := models.GeoPoint{Latitude: 37.70, Longitude: -122.40}

	t.Run("one degree of latitude", func(t *testing.T) {
		b := models.GeoPoint{Latitude: 37.71, Longitude: -122.40}
		d := p.Distance(a, b)
		assert.InDelta(t, 1113.2, d, 0.5)
	})

	t.Run("longitude is compressed by cos(lat)", func(t *testing.T) {
		b := models.GeoPoint{Latitude: 37.70, Longitude: -122.39}
		d := p.Distance(a, b)
		expected := 1113.2 * math.Cos(37.70*math.Pi/180)
		assert.InDelta(t, expected, d, 2.0)
	})

	t.Run("zero distance", func(t *testing.T) {
		assert.Zero(t, p.Distance(a, a))
	})

	t.Run("squared distance agrees", func(t *testing.T) {
		b := models.GeoPoint{Latitude: 37.72, Longitude: -122.41}
		d := p.Distance(a, b)
		assert.InDelta(t, d*d, p.DistanceSq(a, b), 1e-6)
	})
}

func TestProjection_Distance3D(t *testing.T) {
	p := NewProjection(sfBounds())

	a := models.Point4D{Latitude: 37.70, Longitude: -122.40, AltitudeM: 50}
	b := models.Point4D{Latitude: 37.70, Longitude: -122.40, AltitudeM: 110}

	assert.InDelta(t, 60, p.Distance3D(a, b), 1e-9, "pure vertical")

	c := models.Point4D{Latitude: 37.71, Longitude: -122.40, AltitudeM: 50}
	h := p.Distance(a.Ground(), c.Ground())
	c.AltitudeM = 50 + h // 45 degree slope
	assert.InDelta(t, h*math.Sqrt2, p.Distance3D(a, c), 0.01)
}

func TestProjection_Heading(t *testing.T) {
	p := NewProjection(sfBounds())
	a := models.GeoPoint{Latitude: 37.70, Longitude: -122.40}

	tests := []struct {
		name    string
		to      models.GeoPoint
		heading float64
	}{
		{"north", models.GeoPoint{Latitude: 37.71, Longitude: -122.40}, 0},
		{"east", models.GeoPoint{Latitude: 37.70, Longitude: -122.39}, 90},
		{"south", models.GeoPoint{Latitude: 37.69, Longitude: -122.40}, 180},
		{"west", models.GeoPoint{Latitude: 37.70, Longitude: -122.41}, 270},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.heading, p.Heading(a, tt.to), 0.01)
		})
	}
}

func TestProjection_DominantDirection(t *testing.T) {
	p := NewProjection(sfBounds())
	a := models.GeoPoint{Latitude: 37.70, Longitude: -122.40}

	tests := []struct {
		name string
		to   models.GeoPoint
		want Direction
	}{
		{"due north", models.GeoPoint{Latitude: 37.75, Longitude: -122.40}, North},
		{"due south", models.GeoPoint{Latitude: 37.65, Longitude: -122.40}, South},
		{"due east", models.GeoPoint{Latitude: 37.70, Longitude: -122.36}, East},
		{"due west", models.GeoPoint{Latitude: 37.70, Longitude: -122.44}, West},
		{"mostly north slight east", models.GeoPoint{Latitude: 37.75, Longitude: -122.39}, North},
		{"mostly east slight north", models.GeoPoint{Latitude: 37.705, Longitude: -122.36}, East},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.DominantDirection(a, tt.to))
		})
	}
}

func TestDirection_NorthSouth(t *testing.T) {
	assert.True(t, North.NorthSouth())
	assert.True(t, South.NorthSouth())
	assert.False(t, East.NorthSouth())
	assert.False(t, West.NorthSouth())
}

func TestGrid_CellRoundTrip(t *testing.T) {
	g := NewGrid(sfBounds(), 100)

	// Cell centers map back to themselves
	for _, cell := range [][2]int{{0, 0}, {5, 7}, {g.Cols() - 1, g.Rows() - 1}} {
		center := g.Center(cell[0], cell[1])
		ix, iy := g.Cell(center)
		assert.Equal(t, cell[0], ix)
		assert.Equal(t, cell[1], iy)
	}
}

func TestGrid_CellSize(t *testing.T) {
	g := NewGrid(sfBounds(), 100)
	p := g.Projection()

	// Adjacent cell centers are one resolution step apart
	a := g.Center(10, 10)
	east := g.Center(11, 10)
	north := g.Center(10, 11)

	assert.InDelta(t, 100, p.Distance(a, east), 0.5)
	assert.InDelta(t, 100, p.Distance(a, north), 0.5)
}

func TestGrid_InRange(t *testing.T) {
	g := NewGrid(sfBounds(), 100)

	// The 20x10 km area at 100 m resolution
	require.Greater(t, g.Rows(), 200)
	require.Greater(t, g.Cols(), 80)

	assert.True(t, g.InRange(0, 0))
	assert.True(t, g.InRange(g.Cols()-1, g.Rows()-1))
	assert.False(t, g.InRange(-1, 0))
	assert.False(t, g.InRange(0, g.Rows()))

	// Points outside the bounds land outside the grid
	ix, iy := g.Cell(models.GeoPoint{Latitude: 37.59, Longitude: -122.40})
	assert.False(t, g.InRange(ix, iy))
}
