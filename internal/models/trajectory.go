package models

import (
	"fmt"
	"sort"
	"time"
)

// Trajectory упорядоченная последовательность путевых точек с абсолютным
// временем старта. Времена точек строго возрастают и отсчитываются от старта.
// После коммита траектория неизменяема.
type Trajectory struct {
	StartTime time.Time  `json:"start_time"`
	Waypoints []Waypoint `json:"waypoints"`
}

// StartUnix возвращает абсолютное время старта в секундах Unix
func (t *Trajectory) StartUnix() float64 {
	return float64(t.StartTime.UnixNano()) / 1e9
}

// EndUnix возвращает абсолютное время последней точки в секундах Unix
func (t *Trajectory) EndUnix() float64 {
	if len(t.Waypoints) == 0 {
		return t.StartUnix()
	}
	return t.StartUnix() + t.Waypoints[len(t.Waypoints)-1].TimeS
}

// Duration возвращает длительность траектории
func (t *Trajectory) Duration() time.Duration {
	if len(t.Waypoints) == 0 {
		return 0
	}
	return time.Duration(t.Waypoints[len(t.Waypoints)-1].TimeS * float64(time.Second))
}

// Span возвращает абсолютный временной интервал траектории
func (t *Trajectory) Span() (float64, float64) {
	return t.StartUnix(), t.EndUnix()
}

// Overlaps проверяет пересечение временного интервала траектории с [t0, t1]
func (t *Trajectory) Overlaps(t0, t1 float64) bool {
	start, end := t.Span()
	return start <= t1 && end >= t0
}

// First возвращает первую путевую точку
func (t *Trajectory) First() Waypoint {
	return t.Waypoints[0]
}

// Last возвращает последнюю путевую точку
func (t *Trajectory) Last() Waypoint {
	return t.Waypoints[len(t.Waypoints)-1]
}

// PositionAt возвращает позицию на траектории в абсолютный момент времени
// (линейная интерполяция между соседними точками). Вне интервала траектории
// возвращает ok=false.
func (t *Trajectory) PositionAt(absUnix float64) (Point4D, bool) {
	if len(t.Waypoints) == 0 {
		return Point4D{}, false
	}

	rel := absUnix - t.StartUnix()
	first := t.Waypoints[0].TimeS
	last := t.Waypoints[len(t.Waypoints)-1].TimeS
	if rel < first || rel > last {
		return Point4D{}, false
	}

	// Индекс первой точки с временем >= rel
	idx := sort.Search(len(t.Waypoints), func(i int) bool {
		return t.Waypoints[i].TimeS >= rel
	})
	if idx == 0 {
		p := t.Waypoints[0].Point4D
		p.TimeS = rel
		return p, true
	}

	a := t.Waypoints[idx-1].Point4D
	b := t.Waypoints[idx].Point4D
	dt := b.TimeS - a.TimeS
	if dt <= 0 {
		p := b
		p.TimeS = rel
		return p, true
	}

	f := (rel - a.TimeS) / dt
	return Point4D{
		Latitude:  a.Latitude + (b.Latitude-a.Latitude)*f,
		Longitude: a.Longitude + (b.Longitude-a.Longitude)*f,
		AltitudeM: a.AltitudeM + (b.AltitudeM-a.AltitudeM)*f,
		TimeS:     rel,
	}, true
}

// SampleAt возвращает интерполированную позицию вместе со скоростью и
// курсом текущего сегмента. Симулятор флота строит из этого телеметрию
// вдоль закоммиченной траектории.
func (t *Trajectory) SampleAt(absUnix float64) (Waypoint, bool) {
	pos, ok := t.PositionAt(absUnix)
	if !ok {
		return Waypoint{}, false
	}

	rel := absUnix - t.StartUnix()
	idx := sort.Search(len(t.Waypoints), func(i int) bool {
		return t.Waypoints[i].TimeS >= rel
	})
	seg := idx
	if idx > 0 {
		seg = idx - 1
	}

	return Waypoint{
		Point4D:    pos,
		SpeedMPS:   t.Waypoints[seg].SpeedMPS,
		HeadingDeg: t.Waypoints[seg].HeadingDeg,
	}, true
}

// Damp возвращает копию траектории, в которой сегменты, начинающиеся до
// абсолютного момента beforeUnix, замедлены в factor раз (factor в (0,1)).
// Длительности замедленных сегментов растягиваются, последующие точки
// сдвигаются на накопленную задержку, скорости после окна не меняются.
func (t *Trajectory) Damp(factor float64, beforeUnix float64) *Trajectory {
	out := &Trajectory{
		StartTime: t.StartTime,
		Waypoints: make([]Waypoint, len(t.Waypoints)),
	}
	copy(out.Waypoints, t.Waypoints)
	if factor <= 0 || factor >= 1 || len(out.Waypoints) < 2 {
		return out
	}

	start := t.StartUnix()
	elapsed := out.Waypoints[0].TimeS
	for i := 0; i < len(out.Waypoints)-1; i++ {
		dur := t.Waypoints[i+1].TimeS - t.Waypoints[i].TimeS
		if start+t.Waypoints[i].TimeS < beforeUnix {
			dur /= factor
			out.Waypoints[i].SpeedMPS *= factor
		}
		elapsed += dur
		out.Waypoints[i+1].TimeS = elapsed
	}
	return out
}

// Validate проверяет инварианты траектории: непустота и строгий рост времени
func (t *Trajectory) Validate() error {
	if len(t.Waypoints) < 2 {
		return fmt.Errorf("trajectory must have at least 2 waypoints, got %d", len(t.Waypoints))
	}
	for i := 1; i < len(t.Waypoints); i++ {
		if t.Waypoints[i].TimeS <= t.Waypoints[i-1].TimeS {
			return fmt.Errorf("waypoint times must strictly increase: t[%d]=%.3f <= t[%d]=%.3f",
				i, t.Waypoints[i].TimeS, i-1, t.Waypoints[i-1].TimeS)
		}
	}
	if t.Last().SpeedMPS != 0 {
		return fmt.Errorf("last waypoint speed must be 0, got %.2f", t.Last().SpeedMPS)
	}
	return nil
}
