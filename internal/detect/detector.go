package detect

import (
	"math"

	"github.com/google/uuid"

	"github.com/flybeeper/utm-backend/internal/config"
	"github.com/flybeeper/utm-backend/internal/geo"
	"github.com/flybeeper/utm-backend/internal/models"
)

// Candidate binds a trajectory to its mission for conflict reporting.
type Candidate struct {
	MissionID  string
	Trajectory *models.Trajectory
}

// Detector checks trajectory pairs against the separation minima. It is
// stateless and safe for concurrent use; every check samples the pair's
// temporal overlap on a fixed grid and interpolates both trajectories.
type Detector struct {
	proj  *geo.Projection
	sep   config.SeparationConfig
	stepS float64
}

// NewDetector builds a detector sampling at stepS second intervals.
func NewDetector(proj *geo.Projection, sep config.SeparationConfig, stepS float64) *Detector {
	return &Detector{proj: proj, sep: sep, stepS: stepS}
}

// Detect returns the earliest conflict between the candidate and each
// committed trajectory whose time span overlaps it. At most one conflict
// per pair is reported.
func (d *Detector) Detect(cand Candidate, committed []Candidate) []models.Conflict {
	var conflicts []models.Conflict
	for _, other := range committed {
		if other.MissionID == cand.MissionID {
			continue
		}
		if c, ok := d.checkPair(cand, other); ok {
			conflicts = append(conflicts, c)
		}
	}
	return conflicts
}

// Sweep checks every pair in the committed set. Used by the periodic
// airspace monitor; commit-time checks go through Detect.
func (d *Detector) Sweep(committed []Candidate) []models.Conflict {
	var conflicts []models.Conflict
	for i := 0; i < len(committed); i++ {
		for j := i + 1; j < len(committed); j++ {
			if c, ok := d.checkPair(committed[i], committed[j]); ok {
				conflicts = append(conflicts, c)
			}
		}
	}
	return conflicts
}

// checkPair samples the temporal overlap of two trajectories and returns
// the earliest separation violation, if any.
func (d *Detector) checkPair(a, b Candidate) (models.Conflict, bool) {
	aStart, aEnd := a.Trajectory.Span()
	bStart, bEnd := b.Trajectory.Span()

	t0 := math.Max(aStart, bStart)
	t1 := math.Min(aEnd, bEnd)
	if t0 >= t1 {
		return models.Conflict{}, false
	}

	hSepSq := d.sep.HorizontalM * d.sep.HorizontalM

	for t := t0; t <= t1; t += d.stepS {
		posA, okA := a.Trajectory.PositionAt(t)
		posB, okB := b.Trajectory.PositionAt(t)
		if !okA || !okB {
			continue
		}

		vDist := math.Abs(posA.AltitudeM - posB.AltitudeM)
		if vDist >= d.sep.VerticalM {
			continue
		}
		hDistSq := d.proj.DistanceSq(posA.Ground(), posB.Ground())
		if hDistSq >= hSepSq {
			continue
		}

		hDist := math.Sqrt(hDistSq)
		first, second := a.MissionID, b.MissionID
		firstPos, secondPos := posA, posB
		if second < first {
			first, second = second, first
			firstPos, secondPos = secondPos, firstPos
		}
		return models.Conflict{
			ID:          uuid.New().String(),
			MissionA:    first,
			MissionB:    second,
			PointA:      firstPos,
			PointB:      secondPos,
			TimeUnix:    t,
			HorizontalM: hDist,
			VerticalM:   vDist,
			Severity:    models.AssessSeverity(hDist, d.sep.HorizontalM),
		}, true
	}

	return models.Conflict{}, false
}
