package models

import (
	"fmt"
	"time"
)

// MissionPhase фаза выполнения миссии доставки
type MissionPhase string

const (
	MissionPlanned       MissionPhase = "PLANNED"         // Траектория закоммичена, вылет не начат
	MissionEnRoutePickup MissionPhase = "EN_ROUTE_PICKUP" // Полет к точке загрузки
	MissionCarrying      MissionPhase = "CARRYING"        // Груз на борту, полет к точке доставки
	MissionDelivered     MissionPhase = "DELIVERED"       // Доставка завершена
	MissionFailed        MissionPhase = "FAILED"          // Миссия прервана (таймаут, потеря связи)
)

// missionTransitions допустимые переходы фаз
var missionTransitions = map[MissionPhase][]MissionPhase{
	MissionPlanned:       {MissionEnRoutePickup, MissionFailed},
	MissionEnRoutePickup: {MissionCarrying, MissionFailed},
	MissionCarrying:      {MissionDelivered, MissionFailed},
	MissionDelivered:     {},
	MissionFailed:        {},
}

// CanTransitionTo проверяет допустимость перехода в новую фазу
func (p MissionPhase) CanTransitionTo(next MissionPhase) bool {
	for _, allowed := range missionTransitions[p] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Valid проверяет, что фаза известна
func (p MissionPhase) Valid() bool {
	_, ok := missionTransitions[p]
	return ok
}

// Terminal возвращает true для конечных фаз
func (p MissionPhase) Terminal() bool {
	return p == MissionDelivered || p == MissionFailed
}

// Mission миссия доставки: две последовательные фазы полета через точку
// загрузки с паузой на загрузку. Траектория покрывает обе фазы и после
// коммита неизменна вплоть до перепланирования.
type Mission struct {
	ID          string       `json:"id"`
	VehicleID   string       `json:"vehicle_id"`
	Pickup      GeoPoint     `json:"pickup"`
	Delivery    GeoPoint     `json:"delivery"`
	Phase       MissionPhase `json:"phase"`
	Trajectory  *Trajectory  `json:"trajectory,omitempty"`
	BatteryPct  float64      `json:"estimated_battery_pct"`
	ReplanCount int          `json:"replan_count"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Validate проверяет корректность миссии
func (m *Mission) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("mission id is required")
	}
	if m.VehicleID == "" {
		return fmt.Errorf("mission %s: vehicle id is required", m.ID)
	}
	if !m.Phase.Valid() {
		return fmt.Errorf("mission %s: unknown phase %q", m.ID, m.Phase)
	}
	if err := m.Pickup.Validate(); err != nil {
		return fmt.Errorf("mission %s: pickup: %w", m.ID, err)
	}
	if err := m.Delivery.Validate(); err != nil {
		return fmt.Errorf("mission %s: delivery: %w", m.ID, err)
	}
	if m.Trajectory != nil {
		if err := m.Trajectory.Validate(); err != nil {
			return fmt.Errorf("mission %s: %w", m.ID, err)
		}
	}
	return nil
}

// Active возвращает true, пока миссия занимает аппарат и воздушное пространство
func (m *Mission) Active() bool {
	return !m.Phase.Terminal()
}

// EstimateBatteryUsage оценивает расход батареи в процентах за время полета
// при заданной мощности на крейсерской скорости и емкости батареи
func EstimateBatteryUsage(flight time.Duration, powerW, capacityWh float64) float64 {
	if capacityWh <= 0 {
		return 0
	}
	return flight.Seconds() * powerW / (capacityWh * 3600) * 100
}
