package models

import (
	"fmt"
	"time"
)

// VehicleState состояние летательного аппарата
type VehicleState string

const (
	VehicleIdle        VehicleState = "IDLE"        // Свободен, доступен для назначения
	VehicleAssigned    VehicleState = "ASSIGNED"    // Миссия закоммичена, вылет не начат
	VehicleInFlight    VehicleState = "IN_FLIGHT"   // Выполняет миссию
	VehicleReturning   VehicleState = "RETURNING"   // Возвращается на базу
	VehicleUnavailable VehicleState = "UNAVAILABLE" // Выведен из эксплуатации
)

// vehicleTransitions допустимые переходы состояний
var vehicleTransitions = map[VehicleState][]VehicleState{
	VehicleIdle:        {VehicleAssigned, VehicleUnavailable},
	VehicleAssigned:    {VehicleInFlight, VehicleIdle, VehicleUnavailable},
	VehicleInFlight:    {VehicleReturning, VehicleIdle, VehicleUnavailable},
	VehicleReturning:   {VehicleIdle, VehicleUnavailable},
	VehicleUnavailable: {VehicleIdle},
}

// CanTransitionTo проверяет допустимость перехода в новое состояние
func (s VehicleState) CanTransitionTo(next VehicleState) bool {
	for _, allowed := range vehicleTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Valid проверяет, что состояние известно
func (s VehicleState) Valid() bool {
	_, ok := vehicleTransitions[s]
	return ok
}

// Vehicle летательный аппарат флота. Состояние принадлежит хранилищу
// траекторий и меняется только через его операции.
type Vehicle struct {
	ID         string       `json:"id"`
	State      VehicleState `json:"state"`
	Position   Point4D      `json:"position"`
	BatteryPct float64      `json:"battery_pct"`
	HeadingDeg float64      `json:"heading_deg"`
	SpeedMPS   float64      `json:"speed_mps"`
	MissionID  string       `json:"mission_id,omitempty"`
	LastUpdate time.Time    `json:"last_update"`
}

// Validate проверяет корректность данных аппарата
func (v *Vehicle) Validate() error {
	if v.ID == "" {
		return fmt.Errorf("vehicle id is required")
	}
	if !v.State.Valid() {
		return fmt.Errorf("vehicle %s: unknown state %q", v.ID, v.State)
	}
	if err := v.Position.Ground().Validate(); err != nil {
		return fmt.Errorf("vehicle %s: %w", v.ID, err)
	}
	if v.BatteryPct < 0 || v.BatteryPct > 100 {
		return fmt.Errorf("vehicle %s: invalid battery level: %f", v.ID, v.BatteryPct)
	}
	if v.HeadingDeg < 0 || v.HeadingDeg >= 360 {
		return fmt.Errorf("vehicle %s: invalid heading: %f", v.ID, v.HeadingDeg)
	}
	return nil
}

// IsStale проверяет, устарела ли телеметрия
func (v *Vehicle) IsStale(maxAge time.Duration) bool {
	return !v.LastUpdate.IsZero() && time.Since(v.LastUpdate) > maxAge
}
