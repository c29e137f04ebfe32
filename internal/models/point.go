package models

import "fmt"

// Point4D представляет позицию в четырех измерениях: широта, долгота,
// высота в метрах и время в секундах от начала траектории
type Point4D struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	AltitudeM float64 `json:"alt_m"`
	TimeS     float64 `json:"t_s"`
}

// Ground возвращает горизонтальную проекцию точки
func (p Point4D) Ground() GeoPoint {
	return GeoPoint{Latitude: p.Latitude, Longitude: p.Longitude}
}

// Validate проверяет корректность точки с учетом допустимого диапазона высот
func (p Point4D) Validate(minAltM, maxAltM float64) error {
	if err := p.Ground().Validate(); err != nil {
		return err
	}
	if p.AltitudeM < minAltM || p.AltitudeM > maxAltM {
		return fmt.Errorf("altitude %.1f outside [%.1f, %.1f]", p.AltitudeM, minAltM, maxAltM)
	}
	if p.TimeS < 0 {
		return fmt.Errorf("negative time offset: %f", p.TimeS)
	}
	return nil
}

// Waypoint точка траектории с заданной скоростью на исходящем сегменте.
// Скорость последней точки всегда 0.
type Waypoint struct {
	Point4D
	SpeedMPS   float64 `json:"speed_mps"`
	HeadingDeg float64 `json:"heading_deg"`
}
