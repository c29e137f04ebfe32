package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Типы зон в конфигурации
const (
	ZoneKindNoFly     = "NO_FLY"
	ZoneKindSensitive = "SENSITIVE"
)

// ZoneSpec описание статической зоны воздушного пространства.
// Прямоугольник осевой, вертикальная протяженность не ограничена.
type ZoneSpec struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Kind       string  `json:"kind"`
	MinLat     float64 `json:"min_lat"`
	MinLon     float64 `json:"min_lon"`
	MaxLat     float64 `json:"max_lat"`
	MaxLon     float64 `json:"max_lon"`
	Multiplier float64 `json:"multiplier,omitempty"`
}

// Validate проверяет корректность описания зоны
func (z ZoneSpec) Validate() error {
	if z.ID == "" {
		return fmt.Errorf("zone id is required")
	}
	if z.MinLat >= z.MaxLat || z.MinLon >= z.MaxLon {
		return fmt.Errorf("zone %s: rectangle is degenerate", z.ID)
	}
	switch z.Kind {
	case ZoneKindNoFly:
		// Множитель игнорируется, запрет абсолютный
	case ZoneKindSensitive:
		if z.Multiplier < 1 {
			return fmt.Errorf("zone %s: multiplier must be at least 1, got %f", z.ID, z.Multiplier)
		}
	default:
		return fmt.Errorf("zone %s: unknown kind %q", z.ID, z.Kind)
	}
	return nil
}

// defaultZones зоны Сан-Франциско, используемые без внешней конфигурации
var defaultZones = []ZoneSpec{
	{
		ID: "airport", Name: "Airport Restricted Airspace", Kind: ZoneKindNoFly,
		MinLat: 37.6013, MinLon: -122.3790, MaxLat: 37.6213, MaxLon: -122.3590,
	},
	{
		ID: "military", Name: "Military Base", Kind: ZoneKindNoFly,
		MinLat: 37.7650, MinLon: -122.4100, MaxLat: 37.7850, MaxLon: -122.3900,
	},
	{
		ID: "school", Name: "Elementary School Zone", Kind: ZoneKindSensitive,
		MinLat: 37.7650, MinLon: -122.4350, MaxLat: 37.7700, MaxLon: -122.4300,
		Multiplier: 5.0,
	},
	{
		ID: "hospital", Name: "Hospital Complex", Kind: ZoneKindSensitive,
		MinLat: 37.7500, MinLon: -122.4050, MaxLat: 37.7550, MaxLon: -122.4000,
		Multiplier: 4.0,
	},
	{
		ID: "residential", Name: "Residential High Density", Kind: ZoneKindSensitive,
		MinLat: 37.7300, MinLon: -122.4200, MaxLat: 37.7400, MaxLon: -122.4100,
		Multiplier: 2.0,
	},
}

// loadZones загружает зоны из ZONES_FILE, ZONES_JSON или использует набор
// по умолчанию
func loadZones() ([]ZoneSpec, error) {
	var raw []byte

	if path := os.Getenv("ZONES_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read ZONES_FILE: %w", err)
		}
		raw = data
	} else if payload := os.Getenv("ZONES_JSON"); payload != "" {
		raw = []byte(payload)
	} else {
		return defaultZones, nil
	}

	var zones []ZoneSpec
	if err := json.Unmarshal(raw, &zones); err != nil {
		return nil, fmt.Errorf("parse zones: %w", err)
	}
	if len(zones) == 0 {
		return nil, fmt.Errorf("zone list is empty")
	}
	return zones, nil
}
