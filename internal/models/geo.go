package models

import (
	"fmt"
	"math"

	"github.com/mmcloughlin/geohash"
)

// GeoPoint представляет географическую точку (широта/долгота в градусах WGS-84)
type GeoPoint struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

// Validate проверяет корректность координат
func (p GeoPoint) Validate() error {
	if p.Latitude < -90 || p.Latitude > 90 {
		return fmt.Errorf("invalid latitude: %f", p.Latitude)
	}
	if p.Longitude < -180 || p.Longitude > 180 {
		return fmt.Errorf("invalid longitude: %f", p.Longitude)
	}
	return nil
}

// Geohash возвращает geohash для точки с заданной точностью
func (p GeoPoint) Geohash(precision int) string {
	return geohash.EncodeWithPrecision(p.Latitude, p.Longitude, uint(precision))
}

// IsInBounds проверяет, находится ли точка в границах
func (p GeoPoint) IsInBounds(sw, ne GeoPoint) bool {
	return p.Latitude >= sw.Latitude && p.Latitude <= ne.Latitude &&
		p.Longitude >= sw.Longitude && p.Longitude <= ne.Longitude
}

// Bounds представляет географические границы (осевой прямоугольник)
type Bounds struct {
	Southwest GeoPoint `json:"sw"`
	Northeast GeoPoint `json:"ne"`
}

// NewBounds создает границы из минимальных и максимальных координат
func NewBounds(minLat, minLon, maxLat, maxLon float64) Bounds {
	return Bounds{
		Southwest: GeoPoint{Latitude: minLat, Longitude: minLon},
		Northeast: GeoPoint{Latitude: maxLat, Longitude: maxLon},
	}
}

// Validate проверяет корректность границ
func (b Bounds) Validate() error {
	if err := b.Southwest.Validate(); err != nil {
		return fmt.Errorf("southwest: %w", err)
	}
	if err := b.Northeast.Validate(); err != nil {
		return fmt.Errorf("northeast: %w", err)
	}
	if b.Southwest.Latitude > b.Northeast.Latitude {
		return fmt.Errorf("southwest latitude must be less than northeast latitude")
	}
	if b.Southwest.Longitude > b.Northeast.Longitude {
		return fmt.Errorf("southwest longitude must be less than northeast longitude")
	}
	return nil
}

// Contains проверяет, содержится ли точка в границах (включая границу)
func (b Bounds) Contains(point GeoPoint) bool {
	return point.IsInBounds(b.Southwest, b.Northeast)
}

// Center возвращает центральную точку границ
func (b Bounds) Center() GeoPoint {
	return GeoPoint{
		Latitude:  (b.Southwest.Latitude + b.Northeast.Latitude) / 2,
		Longitude: (b.Southwest.Longitude + b.Northeast.Longitude) / 2,
	}
}

// Expand расширяет границы на заданное расстояние в метрах
func (b Bounds) Expand(meters float64) Bounds {
	latDeg := meters / 111320.0
	lonDeg := meters / (111320.0 * math.Cos(b.Center().Latitude*math.Pi/180))

	return Bounds{
		Southwest: GeoPoint{
			Latitude:  b.Southwest.Latitude - latDeg,
			Longitude: b.Southwest.Longitude - lonDeg,
		},
		Northeast: GeoPoint{
			Latitude:  b.Northeast.Latitude + latDeg,
			Longitude: b.Northeast.Longitude + lonDeg,
		},
	}
}

// Intersects проверяет пересечение с другими границами
func (b Bounds) Intersects(other Bounds) bool {
	return b.Southwest.Latitude <= other.Northeast.Latitude &&
		b.Northeast.Latitude >= other.Southwest.Latitude &&
		b.Southwest.Longitude <= other.Northeast.Longitude &&
		b.Northeast.Longitude >= other.Southwest.Longitude
}

// MinLat возвращает минимальную широту
func (b Bounds) MinLat() float64 {
	return b.Southwest.Latitude
}

// MinLon возвращает минимальную долготу
func (b Bounds) MinLon() float64 {
	return b.Southwest.Longitude
}

// MaxLat возвращает максимальную широту
func (b Bounds) MaxLat() float64 {
	return b.Northeast.Latitude
}

// MaxLon возвращает максимальную долготу
func (b Bounds) MaxLon() float64 {
	return b.Northeast.Longitude
}
