package models

// ConflictSeverity серьезность нарушения минимумов эшелонирования
type ConflictSeverity string

const (
	SeverityCritical ConflictSeverity = "critical" // Менее 50% горизонтального минимума
	SeverityWarning  ConflictSeverity = "warning"  // Менее 75% горизонтального минимума
	SeverityMinor    ConflictSeverity = "minor"    // Нарушение у границы минимума
)

// Conflict первое по времени нарушение минимумов между парой траекторий.
// Пара упорядочена: MissionA < MissionB лексикографически; PointA и PointB
// соответствуют интерполированным позициям в момент нарушения.
type Conflict struct {
	ID          string           `json:"id"`
	MissionA    string           `json:"mission_a"`
	MissionB    string           `json:"mission_b"`
	PointA      Point4D          `json:"point_a"`
	PointB      Point4D          `json:"point_b"`
	TimeUnix    float64          `json:"time_unix"`
	HorizontalM float64          `json:"horizontal_m"`
	VerticalM   float64          `json:"vertical_m"`
	Severity    ConflictSeverity `json:"severity"`
}

// AssessSeverity классифицирует конфликт по доле горизонтального минимума
func AssessSeverity(horizontalM, horizontalMinM float64) ConflictSeverity {
	switch {
	case horizontalM < horizontalMinM*0.5:
		return SeverityCritical
	case horizontalM < horizontalMinM*0.75:
		return SeverityWarning
	default:
		return SeverityMinor
	}
}
