package geofence

import (
	"fmt"
	"math"
	"sort"

	"github.com/mmcloughlin/geohash"

	"github.com/flybeeper/utm-backend/internal/config"
	"github.com/flybeeper/utm-backend/internal/geo"
	"github.com/flybeeper/utm-backend/internal/models"
)

// Index answers point classification queries against the static zone set.
// It is immutable after construction and safe for concurrent use without
// locking. Zones are bucketed by the geohash cells they intersect, so a
// query tests only the zones near the point instead of the whole set.
type Index struct {
	zones     []models.Zone
	byCell    map[string][]int // geohash cell -> indices into zones
	bounds    models.Bounds
	combine   string
	precision uint
}

// NewIndex builds an index from the airspace configuration.
func NewIndex(cfg config.AirspaceConfig) (*Index, error) {
	bounds := models.NewBounds(cfg.MinLat, cfg.MinLon, cfg.MaxLat, cfg.MaxLon)
	if err := bounds.Validate(); err != nil {
		return nil, fmt.Errorf("operational bounds: %w", err)
	}

	idx := &Index{
		zones:     make([]models.Zone, 0, len(cfg.Zones)),
		byCell:    make(map[string][]int),
		bounds:    bounds,
		combine:   cfg.CombineMode,
		precision: uint(cfg.GeohashPrecision),
	}

	for _, spec := range cfg.Zones {
		rect := models.NewBounds(spec.MinLat, spec.MinLon, spec.MaxLat, spec.MaxLon)
		var zone models.Zone
		switch spec.Kind {
		case config.ZoneKindNoFly:
			zone = models.NewNoFlyZone(spec.ID, spec.Name, rect)
		case config.ZoneKindSensitive:
			zone = models.NewSensitiveZone(spec.ID, spec.Name, rect, spec.Multiplier)
		default:
			return nil, fmt.Errorf("zone %s: unknown kind %q", spec.ID, spec.Kind)
		}
		if err := zone.Validate(); err != nil {
			return nil, err
		}

		i := len(idx.zones)
		idx.zones = append(idx.zones, zone)
		for _, cell := range coverRect(rect, idx.precision) {
			idx.byCell[cell] = append(idx.byCell[cell], i)
		}
	}

	return idx, nil
}

// Classify returns whether the point is forbidden and the cost multiplier
// for planning through it. NO_FLY zones win over everything; the boundary
// of a NO_FLY rectangle is forbidden. Overlapping sensitive zones combine
// by product or by maximum depending on configuration.
func (idx *Index) Classify(lat, lon float64) (forbidden bool, mult float64) {
	cell := geohash.EncodeWithPrecision(lat, lon, idx.precision)

	mult = 1.0
	for _, i := range idx.byCell[cell] {
		z := &idx.zones[i]
		if !z.Covers(lat, lon) {
			continue
		}
		if z.Kind == models.ZoneNoFly {
			return true, math.Inf(1)
		}
		if idx.combine == config.CombineMax {
			if z.Multiplier > mult {
				mult = z.Multiplier
			}
		} else {
			mult *= z.Multiplier
		}
	}
	return false, mult
}

// ClassifyPoint is Classify for a GeoPoint.
func (idx *Index) ClassifyPoint(p models.GeoPoint) (bool, float64) {
	return idx.Classify(p.Latitude, p.Longitude)
}

// Contains reports whether the point lies inside the operational bounds.
func (idx *Index) Contains(p models.GeoPoint) bool {
	return idx.bounds.Contains(p)
}

// Bounds returns the operational bounds.
func (idx *Index) Bounds() models.Bounds {
	return idx.bounds
}

// Zones returns a copy of the zone set for inspection and map overlays.
func (idx *Index) Zones() []models.Zone {
	out := make([]models.Zone, len(idx.zones))
	copy(out, idx.zones)
	return out
}

// ValidatePath checks that every waypoint and every interpolated sample
// along the trajectory stays inside the operational bounds and outside
// NO_FLY zones. stepM controls the sampling density along segments.
func (idx *Index) ValidatePath(traj *models.Trajectory, proj *geo.Projection, stepM float64) error {
	if stepM <= 0 {
		return fmt.Errorf("sampling step must be positive")
	}
	for i, wp := range traj.Waypoints {
		if err := idx.checkPoint(wp.Ground()); err != nil {
			return fmt.Errorf("waypoint %d: %w", i, err)
		}
		if i == 0 {
			continue
		}

		prev := traj.Waypoints[i-1].Ground()
		cur := wp.Ground()
		dist := proj.Distance(prev, cur)
		steps := int(dist / stepM)
		for s := 1; s <= steps; s++ {
			f := float64(s) / float64(steps+1)
			sample := models.GeoPoint{
				Latitude:  prev.Latitude + (cur.Latitude-prev.Latitude)*f,
				Longitude: prev.Longitude + (cur.Longitude-prev.Longitude)*f,
			}
			if err := idx.checkPoint(sample); err != nil {
				return fmt.Errorf("segment %d-%d: %w", i-1, i, err)
			}
		}
	}
	return nil
}

func (idx *Index) checkPoint(p models.GeoPoint) error {
	if !idx.bounds.Contains(p) {
		return fmt.Errorf("point (%.5f, %.5f) outside operational area", p.Latitude, p.Longitude)
	}
	if forbidden, _ := idx.ClassifyPoint(p); forbidden {
		return fmt.Errorf("point (%.5f, %.5f) inside a no-fly zone", p.Latitude, p.Longitude)
	}
	return nil
}

// coverRect returns the geohash cells intersecting the rectangle. Sampling
// at half-cell pitch with the far edges included cannot skip a cell.
func coverRect(rect models.Bounds, precision uint) []string {
	probe := geohash.BoundingBox(geohash.EncodeWithPrecision(rect.MinLat(), rect.MinLon(), precision))
	latStep := (probe.MaxLat - probe.MinLat) / 2
	lonStep := (probe.MaxLng - probe.MinLng) / 2

	seen := make(map[string]struct{})
	lat := rect.MinLat()
	for {
		lon := rect.MinLon()
		for {
			seen[geohash.EncodeWithPrecision(lat, lon, precision)] = struct{}{}
			if lon >= rect.MaxLon() {
				break
			}
			lon += lonStep
			if lon > rect.MaxLon() {
				lon = rect.MaxLon()
			}
		}
		if lat >= rect.MaxLat() {
			break
		}
		lat += latStep
		if lat > rect.MaxLat() {
			lat = rect.MaxLat()
		}
	}

	cells := make([]string, 0, len(seen))
	for cell := range seen {
		cells = append(cells, cell)
	}
	sort.Strings(cells)
	return cells
}
