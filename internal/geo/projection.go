package geo

import (
	"math"

	"github.com/flybeeper/utm-backend/internal/models"
)

// metersPerDegLat is the length of one degree of latitude. The operational
// area is small enough that treating it as constant is safe.
const metersPerDegLat = 111320.0

// Direction is a cardinal movement class used for altitude lane assignment.
type Direction string

const (
	North Direction = "NORTH"
	South Direction = "SOUTH"
	East  Direction = "EAST"
	West  Direction = "WEST"
)

// NorthSouth reports whether the direction belongs to the north/south lane class.
func (d Direction) NorthSouth() bool {
	return d == North || d == South
}

// Projection converts WGS-84 coordinates to local planar meters using an
// equirectangular approximation anchored at a fixed reference latitude.
// All distance math in the system goes through one Projection so that the
// planner, the geofence index and the conflict detector agree on geometry.
type Projection struct {
	anchorLat float64
	mLon      float64 // meters per degree of longitude at the anchor latitude
}

// NewProjection creates a projection anchored at the center of the bounds.
func NewProjection(bounds models.Bounds) *Projection {
	center := bounds.Center()
	return &Projection{
		anchorLat: center.Latitude,
		mLon:      metersPerDegLat * math.Cos(center.Latitude*math.Pi/180),
	}
}

// Meters returns the (east, north) displacement in meters from a to b.
func (p *Projection) Meters(a, b models.GeoPoint) (dxM, dyM float64) {
	dxM = (b.Longitude - a.Longitude) * p.mLon
	dyM = (b.Latitude - a.Latitude) * metersPerDegLat
	return dxM, dyM
}

// Distance returns the planar distance in meters between two points.
func (p *Projection) Distance(a, b models.GeoPoint) float64 {
	dx, dy := p.Meters(a, b)
	return math.Hypot(dx, dy)
}

// DistanceSq returns the squared planar distance in meters. Hot paths
// compare against squared thresholds to avoid the square root.
func (p *Projection) DistanceSq(a, b models.GeoPoint) float64 {
	dx, dy := p.Meters(a, b)
	return dx*dx + dy*dy
}

// Distance3D returns the euclidean distance in meters including altitude.
func (p *Projection) Distance3D(a, b models.Point4D) float64 {
	h := p.Distance(a.Ground(), b.Ground())
	v := b.AltitudeM - a.AltitudeM
	return math.Hypot(h, v)
}

// Heading returns the bearing in degrees from a to b (0 = north, 90 = east).
func (p *Projection) Heading(a, b models.GeoPoint) float64 {
	dx, dy := p.Meters(a, b)
	if dx == 0 && dy == 0 {
		return 0
	}
	h := math.Atan2(dx, dy) * 180 / math.Pi
	return math.Mod(h+360, 360)
}

// DominantDirection classifies movement from a to b by its larger planar
// component. Ties go to the north/south class.
func (p *Projection) DominantDirection(a, b models.GeoPoint) Direction {
	dx, dy := p.Meters(a, b)
	if math.Abs(dy) >= math.Abs(dx) {
		if dy >= 0 {
			return North
		}
		return South
	}
	if dx >= 0 {
		return East
	}
	return West
}

// MetersPerDegree returns the degree steps corresponding to one meter of
// latitude and longitude at the anchor latitude.
func (p *Projection) MetersPerDegree() (latM, lonM float64) {
	return metersPerDegLat, p.mLon
}
