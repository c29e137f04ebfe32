package models

import (
	"fmt"
	"math"
)

// ZoneKind тип зоны воздушного пространства
type ZoneKind string

const (
	ZoneNoFly     ZoneKind = "NO_FLY"    // Полеты запрещены
	ZoneSensitive ZoneKind = "SENSITIVE" // Полеты нежелательны, повышенная стоимость
)

// Zone статическая зона воздушного пространства. Для NO_FLY множитель
// стоимости равен +Inf, для SENSITIVE конечен и не меньше 1.
type Zone struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Kind       ZoneKind `json:"kind"`
	Rect       Bounds   `json:"rect"`
	Multiplier float64  `json:"multiplier,omitempty"`
}

// NewNoFlyZone создает запретную зону
func NewNoFlyZone(id, name string, rect Bounds) Zone {
	return Zone{ID: id, Name: name, Kind: ZoneNoFly, Rect: rect, Multiplier: math.Inf(1)}
}

// NewSensitiveZone создает зону с повышенной стоимостью пролета
func NewSensitiveZone(id, name string, rect Bounds, multiplier float64) Zone {
	return Zone{ID: id, Name: name, Kind: ZoneSensitive, Rect: rect, Multiplier: multiplier}
}

// Covers проверяет принадлежность точки зоне. Граница прямоугольника
// считается частью зоны: для NO_FLY точка на границе запрещена.
func (z Zone) Covers(lat, lon float64) bool {
	return lat >= z.Rect.MinLat() && lat <= z.Rect.MaxLat() &&
		lon >= z.Rect.MinLon() && lon <= z.Rect.MaxLon()
}

// Validate проверяет согласованность зоны
func (z Zone) Validate() error {
	if z.ID == "" {
		return fmt.Errorf("zone id is required")
	}
	if err := z.Rect.Validate(); err != nil {
		return fmt.Errorf("zone %s: %w", z.ID, err)
	}
	switch z.Kind {
	case ZoneNoFly:
		if !math.IsInf(z.Multiplier, 1) {
			return fmt.Errorf("zone %s: NO_FLY zone must have infinite multiplier", z.ID)
		}
	case ZoneSensitive:
		if z.Multiplier < 1 || math.IsInf(z.Multiplier, 0) || math.IsNaN(z.Multiplier) {
			return fmt.Errorf("zone %s: sensitive multiplier must be finite and >= 1, got %f", z.ID, z.Multiplier)
		}
	default:
		return fmt.Errorf("zone %s: unknown kind %q", z.ID, z.Kind)
	}
	return nil
}
