package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flybeeper/utm-backend/internal/config"
	"github.com/flybeeper/utm-backend/internal/core"
	"github.com/flybeeper/utm-backend/internal/detect"
	"github.com/flybeeper/utm-backend/internal/geo"
	"github.com/flybeeper/utm-backend/internal/geofence"
	"github.com/flybeeper/utm-backend/internal/models"
	"github.com/flybeeper/utm-backend/internal/planner"
	"github.com/flybeeper/utm-backend/internal/repository"
	"github.com/flybeeper/utm-backend/pkg/utils"
)

func testLogger() *utils.Logger {
	return utils.NewLogger("error", "text")
}

func testServiceConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		Airspace: config.AirspaceConfig{
			MinLat: 37.60, MaxLat: 37.80,
			MinLon: -122.45, MaxLon: -122.35,
			MinAltitudeM: 20, MaxAltitudeM: 120,
			CombineMode:      config.CombineProduct,
			GeohashPrecision: 6,
		},
		Planner: config.PlannerConfig{
			GridResolutionM:   50,
			TimeResolutionS:   5,
			LookaheadS:        300,
			NorthSouthLanesM:  []float64{50, 90},
			EastWestLanesM:    []float64{30, 70, 110},
			CruiseSpeedMPS:    10,
			MinSpeedMPS:       3,
			MaxSpeedMPS:       15,
			MaxExpansions:     200000,
			DynamicPenalty:    1000,
			PenaltyGrowth:     4,
			MaxResolveRetries: 3,
			LoadingTime:       30 * time.Second,
			RequestTimeout:    10 * time.Second,
		},
		Separation: config.SeparationConfig{HorizontalM: 30, VerticalM: 15},
		Fleet: config.FleetConfig{
			Size:                4,
			BatteryCapacityWh:   3600,
			PowerConsumptionW:   200,
			ArrivalRadiusM:      5,
			MissionTimeout:      10 * time.Minute,
			TelemetryStaleAfter: 30 * time.Second,
			SweepSpec:           "@every 10s",
		},
	}
}

// newServiceStack собирает полное ядро на тестовой конфигурации.
// mutate позволяет тесту подкрутить конфигурацию до сборки.
func newServiceStack(t *testing.T, mutate func(*config.Config)) (*core.Dispatcher, *config.Config) {
	t.Helper()

	cfg := testServiceConfig()
	if mutate != nil {
		mutate(cfg)
	}
	logger := testLogger()

	idx, err := geofence.NewIndex(cfg.Airspace)
	require.NoError(t, err)

	grid := geo.NewGrid(idx.Bounds(), cfg.Planner.GridResolutionM)
	pl, err := planner.NewPlanner(grid, idx, cfg.Planner, cfg.Separation)
	require.NoError(t, err)

	det := detect.NewDetector(grid.Projection(), cfg.Separation, 1.0)
	store := core.NewStore(grid.Projection(), logger)
	events := core.NewEventStream(logger)
	t.Cleanup(events.Close)

	return core.NewDispatcher(cfg, store, pl, det, idx, events, logger), cfg
}

func registerIdle(t *testing.T, d *core.Dispatcher, id string, lat, lon float64) {
	t.Helper()
	require.NoError(t, d.RegisterVehicle(&models.Vehicle{
		ID:         id,
		Position:   models.Point4D{Latitude: lat, Longitude: lon},
		BatteryPct: 100,
	}))
}

func submitDelivery(t *testing.T, d *core.Dispatcher) *models.Mission {
	t.Helper()

	m, err := d.SubmitDelivery(context.Background(),
		models.GeoPoint{Latitude: 37.70, Longitude: -122.42},
		models.GeoPoint{Latitude: 37.72, Longitude: -122.40})
	require.NoError(t, err)
	return m
}

func submitAndFail(t *testing.T, d *core.Dispatcher) *models.Mission {
	t.Helper()

	m := submitDelivery(t, d)
	failed, err := d.FailMission(m.ID, "manual")
	require.NoError(t, err)
	return failed
}

// historyRepoStub запоминает батчи вместо записи в MySQL
type historyRepoStub struct {
	mu       sync.Mutex
	batches  [][]*models.Mission
	cleanups []time.Duration
	failures int // столько первых вызовов SaveMissionsBatch вернут ошибку
	calls    int
}

var _ repository.HistoryRepository = (*historyRepoStub)(nil)

func (s *historyRepoStub) Ping(ctx context.Context) error { return nil }
func (s *historyRepoStub) Close() error                   { return nil }

func (s *historyRepoStub) SaveMissionsBatch(ctx context.Context, missions []*models.Mission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.failures > 0 {
		s.failures--
		return errors.New("simulated mysql outage")
	}

	batch := make([]*models.Mission, len(missions))
	copy(batch, missions)
	s.batches = append(s.batches, batch)
	return nil
}

func (s *historyRepoStub) LoadRecentMissions(ctx context.Context, limit int) ([]*models.Mission, error) {
	return nil, nil
}

func (s *historyRepoStub) CleanupOldMissions(ctx context.Context, olderThan time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanups = append(s.cleanups, olderThan)
	return nil
}

func (s *historyRepoStub) GetStats(ctx context.Context) (map[string]interface{}, error) {
	return map[string]interface{}{}, nil
}

func (s *historyRepoStub) archived() []*models.Mission {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Mission
	for _, batch := range s.batches {
		out = append(out, batch...)
	}
	return out
}

func (s *historyRepoStub) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// fleetRepoStub запоминает зеркалируемые объекты вместо записи в Redis
type fleetRepoStub struct {
	mu        sync.Mutex
	vehicles  map[string]*models.Vehicle
	missions  map[string]*models.Mission
	snapshots [][]byte
	cleanups  int
}

var _ repository.Repository = (*fleetRepoStub)(nil)

func newFleetRepoStub() *fleetRepoStub {
	return &fleetRepoStub{
		vehicles: make(map[string]*models.Vehicle),
		missions: make(map[string]*models.Mission),
	}
}

func (s *fleetRepoStub) Ping(ctx context.Context) error { return nil }
func (s *fleetRepoStub) Close() error                   { return nil }

func (s *fleetRepoStub) SaveVehicle(ctx context.Context, v *models.Vehicle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vehicles[v.ID] = v
	return nil
}

func (s *fleetRepoStub) GetVehicle(ctx context.Context, id string) (*models.Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vehicles[id], nil
}

func (s *fleetRepoStub) GetVehiclesInRadius(ctx context.Context, center models.GeoPoint, radiusKM float64) ([]*models.Vehicle, error) {
	return nil, nil
}

func (s *fleetRepoStub) DeleteVehicle(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.vehicles, id)
	return nil
}

func (s *fleetRepoStub) SaveMission(ctx context.Context, m *models.Mission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.missions[m.ID] = m
	return nil
}

func (s *fleetRepoStub) GetMission(ctx context.Context, id string) (*models.Mission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.missions[id], nil
}

func (s *fleetRepoStub) SaveSnapshot(ctx context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, data)
	return nil
}

func (s *fleetRepoStub) LoadSnapshot(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.snapshots) == 0 {
		return nil, nil
	}
	return s.snapshots[len(s.snapshots)-1], nil
}

func (s *fleetRepoStub) CleanupExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanups++
	return 0, nil
}

func (s *fleetRepoStub) GetStats(ctx context.Context) (map[string]interface{}, error) {
	return map[string]interface{}{}, nil
}

func (s *fleetRepoStub) vehicle(id string) *models.Vehicle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vehicles[id]
}

func (s *fleetRepoStub) mission(id string) *models.Mission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.missions[id]
}

func (s *fleetRepoStub) snapshotCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snapshots)
}

func (s *fleetRepoStub) lastSnapshot() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.snapshots) == 0 {
		return nil
	}
	return s.snapshots[len(s.snapshots)-1]
}
