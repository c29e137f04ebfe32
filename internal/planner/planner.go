package planner

import (
	"container/heap"
	"errors"
	"fmt"
	"math"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/flybeeper/utm-backend/internal/config"
	"github.com/flybeeper/utm-backend/internal/geo"
	"github.com/flybeeper/utm-backend/internal/models"
)

// Planner failure modes. The dispatcher wraps them into request-level errors.
var (
	ErrNoPath    = errors.New("no feasible path")
	ErrExhausted = errors.New("expansion budget exhausted")
	ErrNoLane    = errors.New("no altitude lane available")
)

// Classifier is the geofence view the planner depends on.
type Classifier interface {
	Classify(lat, lon float64) (forbidden bool, mult float64)
}

// Request describes one mission to plan: fly to the pickup, pause for
// loading, fly to the delivery. Obstacles are committed trajectories the
// path must pay a penalty for approaching; an empty set plans greedily.
type Request struct {
	Start       models.Point4D
	Pickup      models.GeoPoint
	Delivery    models.GeoPoint
	StartTime   time.Time
	Dwell       time.Duration
	ForbidLanes []float64
	Obstacles   []*models.Trajectory
	Penalty     float64
}

// Result carries the planned trajectory and search diagnostics.
type Result struct {
	Trajectory *models.Trajectory
	LegLanes   []float64
	Expansions int
	DistanceM  float64
}

const classifyCacheSize = 1 << 16

type cellKey struct {
	ix, iy int32
}

type cellClass struct {
	forbidden bool
	mult      float64
}

// Planner runs 4D A* over the operational grid. Nodes are grid cells at a
// fixed altitude lane with time advancing in discrete steps; the lane is
// chosen per leg from the dominant direction of travel. Safe for
// concurrent use: searches share only the grid, the geofence index and
// the cell classification cache.
type Planner struct {
	grid  *geo.Grid
	zones Classifier
	cfg   config.PlannerConfig
	sep   config.SeparationConfig
	cache *lru.Cache[cellKey, cellClass]

	straightM float64
	diagonalM float64
}

// NewPlanner validates the grid/time geometry and builds a planner.
func NewPlanner(grid *geo.Grid, zones Classifier, cfg config.PlannerConfig, sep config.SeparationConfig) (*Planner, error) {
	straight := grid.ResolutionM()
	diagonal := straight * math.Sqrt2
	if diagonal/cfg.TimeResolutionS > cfg.MaxSpeedMPS {
		return nil, fmt.Errorf("diagonal step %.1fm in %.1fs exceeds max speed %.1f m/s",
			diagonal, cfg.TimeResolutionS, cfg.MaxSpeedMPS)
	}

	cache, err := lru.New[cellKey, cellClass](classifyCacheSize)
	if err != nil {
		return nil, err
	}

	return &Planner{
		grid:      grid,
		zones:     zones,
		cfg:       cfg,
		sep:       sep,
		cache:     cache,
		straightM: straight,
		diagonalM: diagonal,
	}, nil
}

// PlanMission plans both legs and concatenates them with the loading dwell
// in between. Waypoint times are seconds from req.StartTime.
func (p *Planner) PlanMission(req Request) (*Result, error) {
	dwellS := req.Dwell.Seconds()
	if dwellS <= 0 {
		dwellS = p.cfg.TimeResolutionS
	}
	startUnix := float64(req.StartTime.UnixNano()) / 1e9

	leg1, err := p.planLeg(legInput{
		from:        req.Start,
		to:          req.Pickup,
		t0Rel:       0,
		absT0:       startUnix,
		forbidLanes: req.ForbidLanes,
		obstacles:   req.Obstacles,
		penalty:     req.Penalty,
	})
	if err != nil {
		return nil, fmt.Errorf("leg to pickup: %w", err)
	}

	t1 := leg1.waypoints[len(leg1.waypoints)-1].TimeS
	leg2Start := models.Point4D{
		Latitude:  req.Pickup.Latitude,
		Longitude: req.Pickup.Longitude,
		AltitudeM: leg1.lane,
		TimeS:     t1 + dwellS,
	}
	leg2, err := p.planLeg(legInput{
		from:        leg2Start,
		to:          req.Delivery,
		t0Rel:       t1 + dwellS,
		absT0:       startUnix,
		forbidLanes: req.ForbidLanes,
		obstacles:   req.Obstacles,
		penalty:     req.Penalty,
	})
	if err != nil {
		return nil, fmt.Errorf("leg to delivery: %w", err)
	}

	// The vehicle hovers through the dwell, so the leg seam keeps speed 0.
	leg1.waypoints[len(leg1.waypoints)-1].SpeedMPS = 0

	traj := &models.Trajectory{
		StartTime: req.StartTime,
		Waypoints: append(leg1.waypoints, leg2.waypoints...),
	}
	if err := traj.Validate(); err != nil {
		return nil, fmt.Errorf("planned trajectory: %w", err)
	}

	return &Result{
		Trajectory: traj,
		LegLanes:   []float64{leg1.lane, leg2.lane},
		Expansions: leg1.expansions + leg2.expansions,
		DistanceM:  leg1.distanceM + leg2.distanceM,
	}, nil
}

type legInput struct {
	from        models.Point4D
	to          models.GeoPoint
	t0Rel       float64
	absT0       float64
	forbidLanes []float64
	obstacles   []*models.Trajectory
	penalty     float64
}

type legOutput struct {
	waypoints  []models.Waypoint
	lane       float64
	expansions int
	distanceM  float64
}

func (p *Planner) planLeg(in legInput) (*legOutput, error) {
	proj := p.grid.Projection()
	dir := proj.DominantDirection(in.from.Ground(), in.to)
	lane, err := p.snapLane(dir, in.from.AltitudeM, in.forbidLanes)
	if err != nil {
		return nil, err
	}

	startIx, startIy := p.grid.Cell(in.from.Ground())
	goalIx, goalIy := p.grid.Cell(in.to)
	if !p.grid.InRange(startIx, startIy) || !p.grid.InRange(goalIx, goalIy) {
		return nil, ErrNoPath
	}
	if c := p.classifyCell(startIx, startIy); c.forbidden {
		return nil, ErrNoPath
	}
	if c := p.classifyCell(goalIx, goalIy); c.forbidden {
		return nil, ErrNoPath
	}

	goalCenter := p.grid.Center(goalIx, goalIy)
	dt := p.cfg.TimeResolutionS
	allowStay := len(in.obstacles) > 0

	start := &node{
		ix: int32(startIx), iy: int32(startIy),
		h: proj.Distance(p.grid.Center(startIx, startIy), goalCenter),
	}
	start.f = start.h

	open := newOpenSet()
	open.push(start)
	best := map[stateKey]*node{start.key(): start}

	expansions := 0
	for open.Len() > 0 {
		cur := open.pop()
		cur.closed = true
		if cur.ix == int32(goalIx) && cur.iy == int32(goalIy) {
			return p.reconstruct(cur, lane, in, expansions), nil
		}

		expansions++
		if expansions > p.cfg.MaxExpansions {
			return nil, ErrExhausted
		}

		curClass := p.classifyCell(int(cur.ix), int(cur.iy))

		for _, mv := range moves {
			if mv.dx == 0 && mv.dy == 0 && !allowStay {
				continue
			}
			nx, ny := int(cur.ix)+mv.dx, int(cur.iy)+mv.dy
			if !p.grid.InRange(nx, ny) {
				continue
			}

			nc := p.classifyCell(nx, ny)
			if nc.forbidden {
				continue
			}

			stepDist := p.straightM
			switch {
			case mv.dx == 0 && mv.dy == 0:
				stepDist = 0
			case mv.dx != 0 && mv.dy != 0:
				stepDist = p.diagonalM
			}

			cost := stepDist * (curClass.mult + nc.mult) / 2
			nit := cur.it + 1
			if in.penalty > 0 && p.nearObstacle(p.grid.Center(nx, ny), lane, in.absT0+in.t0Rel+float64(nit)*dt, in.obstacles) {
				cost += in.penalty
			}

			key := stateKey{int32(nx), int32(ny), nit}
			tentative := cur.g + cost
			if existing, ok := best[key]; ok {
				if existing.closed || tentative >= existing.g {
					continue
				}
				existing.g = tentative
				existing.f = tentative + existing.h
				existing.parent = cur
				open.update(existing)
				continue
			}

			n := &node{
				ix: int32(nx), iy: int32(ny), it: nit,
				g:      tentative,
				h:      proj.Distance(p.grid.Center(nx, ny), goalCenter),
				parent: cur,
			}
			n.f = n.g + n.h
			best[key] = n
			open.push(n)
		}
	}

	return nil, ErrNoPath
}

// snapLane picks the closest allowed lane to the reference altitude for the
// direction class; ties prefer the lower lane.
func (p *Planner) snapLane(dir geo.Direction, refAlt float64, forbid []float64) (float64, error) {
	lanes := p.cfg.EastWestLanesM
	if dir.NorthSouth() {
		lanes = p.cfg.NorthSouthLanesM
	}

	bestLane := math.NaN()
	bestDiff := math.Inf(1)
	for _, lane := range lanes {
		if laneForbidden(lane, forbid) {
			continue
		}
		diff := math.Abs(lane - refAlt)
		if diff < bestDiff || (diff == bestDiff && lane < bestLane) {
			bestLane = lane
			bestDiff = diff
		}
	}
	if math.IsNaN(bestLane) {
		return 0, ErrNoLane
	}
	return bestLane, nil
}

// Lanes returns the altitude lane set for a direction class.
func (p *Planner) Lanes(dir geo.Direction) []float64 {
	if dir.NorthSouth() {
		return p.cfg.NorthSouthLanesM
	}
	return p.cfg.EastWestLanesM
}

// Direction classifies the dominant direction between two points.
func (p *Planner) Direction(from, to models.GeoPoint) geo.Direction {
	return p.grid.Projection().DominantDirection(from, to)
}

func laneForbidden(lane float64, forbid []float64) bool {
	for _, f := range forbid {
		if f == lane {
			return true
		}
	}
	return false
}

func (p *Planner) classifyCell(ix, iy int) cellClass {
	key := cellKey{int32(ix), int32(iy)}
	if c, ok := p.cache.Get(key); ok {
		return c
	}
	center := p.grid.Center(ix, iy)
	forbidden, mult := p.zones.Classify(center.Latitude, center.Longitude)
	c := cellClass{forbidden: forbidden, mult: mult}
	p.cache.Add(key, c)
	return c
}

// nearObstacle reports whether the point at the given lane altitude and
// absolute time is within both separation minima of any obstacle.
func (p *Planner) nearObstacle(center models.GeoPoint, laneAlt, absT float64, obstacles []*models.Trajectory) bool {
	proj := p.grid.Projection()
	hSepSq := p.sep.HorizontalM * p.sep.HorizontalM
	vSep := p.sep.VerticalM

	for _, obs := range obstacles {
		pos, ok := obs.PositionAt(absT)
		if !ok {
			continue
		}
		if math.Abs(pos.AltitudeM-laneAlt) >= vSep {
			continue
		}
		if proj.DistanceSq(center, pos.Ground()) < hSepSq {
			return true
		}
	}
	return false
}

func (p *Planner) reconstruct(goal *node, lane float64, in legInput, expansions int) *legOutput {
	var chain []*node
	for n := goal; n != nil; n = n.parent {
		chain = append(chain, n)
	}
	// Reverse into path order
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}

	proj := p.grid.Projection()
	dt := p.cfg.TimeResolutionS
	out := &legOutput{
		lane:       lane,
		expansions: expansions,
		waypoints:  make([]models.Waypoint, 0, len(chain)),
	}

	prevHeading := 0.0
	for i, n := range chain {
		center := p.grid.Center(int(n.ix), int(n.iy))

		speed := p.cfg.CruiseSpeedMPS
		heading := prevHeading
		if i < len(chain)-1 {
			next := p.grid.Center(int(chain[i+1].ix), int(chain[i+1].iy))
			if next != center {
				heading = proj.Heading(center, next)
			}
			out.distanceM += proj.Distance(center, next)
		} else {
			speed = 0
		}
		prevHeading = heading

		out.waypoints = append(out.waypoints, models.Waypoint{
			Point4D: models.Point4D{
				Latitude:  center.Latitude,
				Longitude: center.Longitude,
				AltitudeM: lane,
				TimeS:     in.t0Rel + float64(n.it)*dt,
			},
			SpeedMPS:   speed,
			HeadingDeg: heading,
		})
	}
	return out
}

// moves are the 8-connected horizontal steps plus stay-in-place.
var moves = [9]struct{ dx, dy int }{
	{0, 1}, {1, 1}, {1, 0}, {1, -1}, {0, -1}, {-1, -1}, {-1, 0}, {-1, 1}, {0, 0},
}

type stateKey struct {
	ix, iy, it int32
}

type node struct {
	ix, iy, it int32
	g, h, f    float64
	seq        uint64
	heapIx     int
	closed     bool
	parent     *node
}

func (n *node) key() stateKey {
	return stateKey{n.ix, n.iy, n.it}
}

// openSet is a binary heap ordered by f, then h, then insertion order.
type openSet struct {
	nodes []*node
	seq   uint64
}

func newOpenSet() *openSet {
	return &openSet{}
}

func (o *openSet) Len() int { return len(o.nodes) }

func (o *openSet) Less(i, j int) bool {
	a, b := o.nodes[i], o.nodes[j]
	if a.f != b.f {
		return a.f < b.f
	}
	if a.h != b.h {
		return a.h < b.h
	}
	return a.seq < b.seq
}

func (o *openSet) Swap(i, j int) {
	o.nodes[i], o.nodes[j] = o.nodes[j], o.nodes[i]
	o.nodes[i].heapIx = i
	o.nodes[j].heapIx = j
}

func (o *openSet) Push(x interface{}) {
	n := x.(*node)
	n.heapIx = len(o.nodes)
	o.nodes = append(o.nodes, n)
}

func (o *openSet) Pop() interface{} {
	n := o.nodes[len(o.nodes)-1]
	o.nodes = o.nodes[:len(o.nodes)-1]
	return n
}

func (o *openSet) push(n *node) {
	o.seq++
	n.seq = o.seq
	heap.Push(o, n)
}

func (o *openSet) pop() *node {
	return heap.Pop(o).(*node)
}

func (o *openSet) update(n *node) {
	heap.Fix(o, n.heapIx)
}
