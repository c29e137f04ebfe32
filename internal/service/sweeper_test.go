package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flybeeper/utm-backend/internal/config"
	"github.com/flybeeper/utm-backend/internal/models"
)

func TestNewSweeperRejectsInvalidSpec(t *testing.T) {
	d, _ := newServiceStack(t, nil)

	_, err := NewSweeper(d, &config.FleetConfig{SweepSpec: "not a cron spec"}, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid sweep spec")
}

func TestSweeperMarksStaleVehicles(t *testing.T) {
	d, cfg := newServiceStack(t, func(c *config.Config) {
		c.Fleet.TelemetryStaleAfter = time.Millisecond
	})
	registerIdle(t, d, "drone_001", 37.70, -122.42)
	time.Sleep(10 * time.Millisecond)

	s, err := NewSweeper(d, &cfg.Fleet, testLogger())
	require.NoError(t, err)

	s.sweep()

	v, err := d.GetVehicle("drone_001")
	require.NoError(t, err)
	assert.Equal(t, models.VehicleUnavailable, v.State)
}

func TestSweeperFailsMissionOfStaleVehicle(t *testing.T) {
	d, cfg := newServiceStack(t, func(c *config.Config) {
		c.Fleet.TelemetryStaleAfter = 50 * time.Millisecond
	})
	registerIdle(t, d, "drone_001", 37.70, -122.42)

	m := submitDelivery(t, d)
	time.Sleep(100 * time.Millisecond)

	s, err := NewSweeper(d, &cfg.Fleet, testLogger())
	require.NoError(t, err)
	s.sweep()

	got, err := d.GetMission(m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MissionFailed, got.Phase)
}

func TestSweeperSchedule(t *testing.T) {
	d, cfg := newServiceStack(t, func(c *config.Config) {
		c.Fleet.TelemetryStaleAfter = time.Millisecond
		c.Fleet.SweepSpec = "@every 10ms"
	})
	registerIdle(t, d, "drone_001", 37.70, -122.42)

	s, err := NewSweeper(d, &cfg.Fleet, testLogger())
	require.NoError(t, err)

	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool {
		v, err := d.GetVehicle("drone_001")
		return err == nil && v.State == models.VehicleUnavailable
	}, 2*time.Second, 10*time.Millisecond, "scheduled sweep must run")
}
