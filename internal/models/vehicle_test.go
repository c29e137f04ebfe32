package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestVehicleState_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from    VehicleState
		to      VehicleState
		allowed bool
	}{
		{VehicleIdle, VehicleAssigned, true},
		{VehicleIdle, VehicleInFlight, false},
		{VehicleAssigned, VehicleInFlight, true},
		{VehicleAssigned, VehicleIdle, true},
		{VehicleInFlight, VehicleReturning, true},
		{VehicleInFlight, VehicleIdle, true},
		{VehicleReturning, VehicleIdle, true},
		{VehicleReturning, VehicleAssigned, false},
		{VehicleUnavailable, VehicleIdle, true},
		{VehicleUnavailable, VehicleInFlight, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+" to "+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestVehicleState_Valid(t *testing.T) {
	assert.True(t, VehicleIdle.Valid())
	assert.True(t, VehicleUnavailable.Valid())
	assert.False(t, VehicleState("LANDED").Valid())
}

func TestVehicle_Validate(t *testing.T) {
	valid := func() *Vehicle {
		return &Vehicle{
			ID:         "drone-001",
			State:      VehicleIdle,
			Position:   Point4D{Latitude: 37.70, Longitude: -122.40, AltitudeM: 0},
			BatteryPct: 100,
			HeadingDeg: 90,
		}
	}

	t.Run("valid vehicle", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("missing id", func(t *testing.T) {
		v := valid()
		v.ID = ""
		assert.Error(t, v.Validate())
	})

	t.Run("unknown state", func(t *testing.T) {
		v := valid()
		v.State = "PARKED"
		assert.Error(t, v.Validate())
	})

	t.Run("battery out of range", func(t *testing.T) {
		v := valid()
		v.BatteryPct = 101
		assert.Error(t, v.Validate())
	})

	t.Run("heading out of range", func(t *testing.T) {
		v := valid()
		v.HeadingDeg = 360
		assert.Error(t, v.Validate())
	})
}

func TestVehicle_IsStale(t *testing.T) {
	v := &Vehicle{ID: "drone-001", LastUpdate: time.Now().Add(-10 * time.Second)}

	assert.True(t, v.IsStale(5*time.Second))
	assert.False(t, v.IsStale(time.Minute))

	fresh := &Vehicle{ID: "drone-002"}
	assert.False(t, fresh.IsStale(time.Nanosecond), "zero timestamp is never stale")
}
