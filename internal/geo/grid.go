package geo

import (
	"math"

	"github.com/flybeeper/utm-backend/internal/models"
)

// Grid discretizes the operational area into square cells of a fixed size
// in meters. Cell (0, 0) sits at the southwest corner; ix grows eastward,
// iy grows northward. Planner nodes are identified by cell indices so that
// visited-set lookups stay exact.
type Grid struct {
	proj    *Projection
	bounds  models.Bounds
	resM    float64
	latStep float64 // degrees of latitude per cell
	lonStep float64 // degrees of longitude per cell
	cols    int
	rows    int
}

// NewGrid builds a grid over bounds with the given cell size in meters.
func NewGrid(bounds models.Bounds, resolutionM float64) *Grid {
	proj := NewProjection(bounds)
	latM, lonM := proj.MetersPerDegree()
	latStep := resolutionM / latM
	lonStep := resolutionM / lonM

	return &Grid{
		proj:    proj,
		bounds:  bounds,
		resM:    resolutionM,
		latStep: latStep,
		lonStep: lonStep,
		cols:    int(math.Ceil((bounds.MaxLon()-bounds.MinLon())/lonStep)) + 1,
		rows:    int(math.Ceil((bounds.MaxLat()-bounds.MinLat())/latStep)) + 1,
	}
}

// Projection returns the shared projection for the grid's bounds.
func (g *Grid) Projection() *Projection {
	return g.proj
}

// Bounds returns the grid's geographic bounds.
func (g *Grid) Bounds() models.Bounds {
	return g.bounds
}

// ResolutionM returns the cell size in meters.
func (g *Grid) ResolutionM() float64 {
	return g.resM
}

// Cols returns the number of cells along the longitude axis.
func (g *Grid) Cols() int {
	return g.cols
}

// Rows returns the number of cells along the latitude axis.
func (g *Grid) Rows() int {
	return g.rows
}

// Cell returns the cell indices containing the point. The point is not
// required to lie inside the bounds; use InRange to check the result.
func (g *Grid) Cell(p models.GeoPoint) (ix, iy int) {
	ix = int(math.Round((p.Longitude - g.bounds.MinLon()) / g.lonStep))
	iy = int(math.Round((p.Latitude - g.bounds.MinLat()) / g.latStep))
	return ix, iy
}

// Center returns the geographic center of the cell.
func (g *Grid) Center(ix, iy int) models.GeoPoint {
	return models.GeoPoint{
		Latitude:  g.bounds.MinLat() + float64(iy)*g.latStep,
		Longitude: g.bounds.MinLon() + float64(ix)*g.lonStep,
	}
}

// InRange reports whether the cell indices fall inside the grid.
func (g *Grid) InRange(ix, iy int) bool {
	return ix >= 0 && ix < g.cols && iy >= 0 && iy < g.rows
}
