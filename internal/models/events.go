package models

import "time"

// EventKind тип события потока вещания
type EventKind string

const (
	EventVehicleUpdated   EventKind = "vehicle_updated"
	EventMissionCreated   EventKind = "mission_created"
	EventMissionPhase     EventKind = "mission_phase_changed"
	EventMissionFailed    EventKind = "mission_failed"
	EventConflictDetected EventKind = "conflict_detected"
)

// Event запись потока событий. Sequence монотонно растет и никогда не
// переиспользуется; подписчики хранят собственные смещения.
type Event struct {
	Sequence uint64      `json:"seq"`
	Kind     EventKind   `json:"kind"`
	Time     time.Time   `json:"ts"`
	Payload  interface{} `json:"data"`
}

// PhaseChange полезная нагрузка события смены фазы миссии
type PhaseChange struct {
	MissionID string       `json:"mission_id"`
	VehicleID string       `json:"vehicle_id"`
	From      MissionPhase `json:"from"`
	To        MissionPhase `json:"to"`
}
