package repository

import (
	"context"
	"testing"
	"time"

	"github.com/flybeeper/utm-backend/internal/config"
	"github.com/flybeeper/utm-backend/internal/models"
	"github.com/flybeeper/utm-backend/pkg/utils"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

// RedisTestSuite тестовый набор для Redis repository
type RedisTestSuite struct {
	suite.Suite
	repo   *RedisRepository
	client *redis.Client
	ctx    context.Context
}

// SetupSuite запускается один раз перед всеми тестами
func (suite *RedisTestSuite) SetupSuite() {
	suite.ctx = context.Background()

	// Используем отдельную тестовую базу данных
	cfg := &config.RedisConfig{
		URL:          "redis://localhost:6379/15",
		Password:     "",
		DB:           15,
		PoolSize:     10,
		MinIdleConns: 2,
	}

	logger := utils.NewLogger("error", "text")

	repo, err := NewRedisRepository(cfg, logger)
	suite.Require().NoError(err)
	suite.repo = repo
	suite.client = repo.GetClient()

	// Пропускаем тесты если Redis недоступен
	if err := suite.repo.Ping(suite.ctx); err != nil {
		suite.T().Skip("Redis not available for testing: " + err.Error())
	}
}

// SetupTest запускается перед каждым тестом
func (suite *RedisTestSuite) SetupTest() {
	suite.client.FlushDB(suite.ctx)
}

// TearDownSuite запускается один раз после всех тестов
func (suite *RedisTestSuite) TearDownSuite() {
	if suite.repo != nil {
		suite.client.FlushDB(suite.ctx)
		suite.repo.Close()
	}
}

func (suite *RedisTestSuite) testVehicle(id string, lat, lon float64) *models.Vehicle {
	return &models.Vehicle{
		ID:    id,
		State: models.VehicleInFlight,
		Position: models.Point4D{
			Latitude:  lat,
			Longitude: lon,
			AltitudeM: 60,
			TimeS:     float64(time.Now().Unix()),
		},
		BatteryPct: 82.5,
		SpeedMPS:   12.0,
		HeadingDeg: 270,
		MissionID:  "mission-001",
		LastUpdate: time.Now().UTC().Truncate(time.Second),
	}
}

func (suite *RedisTestSuite) TestSaveVehicle() {
	vehicle := suite.testVehicle("drone_001", 37.7749, -122.4194)

	err := suite.repo.SaveVehicle(suite.ctx, vehicle)
	suite.Require().NoError(err)

	// Проверяем GEO индекс напрямую через клиент
	positions, err := suite.client.GeoPos(suite.ctx, VehiclesGeoKey, "drone_001").Result()
	suite.Require().NoError(err)
	suite.Require().Len(positions, 1)
	suite.Require().NotNil(positions[0])
	suite.InDelta(37.7749, positions[0].Latitude, 0.001)
	suite.InDelta(-122.4194, positions[0].Longitude, 0.001)

	// Проверяем HSET с деталями
	data, err := suite.client.HGetAll(suite.ctx, VehiclePrefix+"drone_001").Result()
	suite.Require().NoError(err)
	suite.Equal(string(models.VehicleInFlight), data["state"])
	suite.Equal("mission-001", data["mission_id"])
	suite.Equal("82.5", data["battery_pct"])

	// Проверяем TTL
	ttl, err := suite.client.TTL(suite.ctx, VehiclePrefix+"drone_001").Result()
	suite.Require().NoError(err)
	suite.Greater(ttl, time.Duration(0))
	suite.LessOrEqual(ttl, VehicleTTL)

	// Точка должна попасть в трек
	trackLen, err := suite.client.LLen(suite.ctx, TrackPrefix+"drone_001").Result()
	suite.Require().NoError(err)
	suite.Equal(int64(1), trackLen)
}

func (suite *RedisTestSuite) TestSaveVehicleInvalidCoordinates() {
	vehicle := suite.testVehicle("drone_bad", 91.0, -122.4194)

	// Сохранение не падает, но GEO индекс пропускается
	err := suite.repo.SaveVehicle(suite.ctx, vehicle)
	suite.Require().NoError(err)

	exists, err := suite.client.Exists(suite.ctx, VehiclePrefix+"drone_bad").Result()
	suite.Require().NoError(err)
	suite.Equal(int64(1), exists)

	score, err := suite.client.ZScore(suite.ctx, VehiclesGeoKey, "drone_bad").Result()
	suite.Error(err)
	suite.Equal(float64(0), score)
}

func (suite *RedisTestSuite) TestGetVehicle() {
	vehicle := suite.testVehicle("drone_002", 37.78, -122.41)
	suite.Require().NoError(suite.repo.SaveVehicle(suite.ctx, vehicle))

	got, err := suite.repo.GetVehicle(suite.ctx, "drone_002")
	suite.Require().NoError(err)
	suite.Require().NotNil(got)
	suite.Equal("drone_002", got.ID)
	suite.Equal(models.VehicleInFlight, got.State)
	suite.Equal("mission-001", got.MissionID)
	suite.InDelta(37.78, got.Position.Latitude, 1e-9)
	suite.InDelta(-122.41, got.Position.Longitude, 1e-9)
	suite.InDelta(60, got.Position.AltitudeM, 1e-9)
	suite.InDelta(82.5, got.BatteryPct, 1e-9)
	suite.InDelta(12.0, got.SpeedMPS, 1e-9)
	suite.InDelta(270, got.HeadingDeg, 1e-9)
	suite.Equal(vehicle.LastUpdate.Unix(), got.LastUpdate.Unix())
}

func (suite *RedisTestSuite) TestGetVehicleNotFound() {
	got, err := suite.repo.GetVehicle(suite.ctx, "missing")
	suite.Require().NoError(err)
	suite.Nil(got)
}

func (suite *RedisTestSuite) TestGetVehiclesInRadius() {
	near := suite.testVehicle("drone_near", 37.7749, -122.4194)
	alsoNear := suite.testVehicle("drone_also", 37.7800, -122.4150)
	far := suite.testVehicle("drone_far", 38.5, -121.5) // ~100 км

	suite.Require().NoError(suite.repo.SaveVehicle(suite.ctx, near))
	suite.Require().NoError(suite.repo.SaveVehicle(suite.ctx, alsoNear))
	suite.Require().NoError(suite.repo.SaveVehicle(suite.ctx, far))

	center := models.GeoPoint{Latitude: 37.7749, Longitude: -122.4194}
	vehicles, err := suite.repo.GetVehiclesInRadius(suite.ctx, center, 5.0)
	suite.Require().NoError(err)
	suite.Require().Len(vehicles, 2)

	ids := map[string]bool{}
	for _, v := range vehicles {
		ids[v.ID] = true
	}
	suite.True(ids["drone_near"])
	suite.True(ids["drone_also"])
	suite.False(ids["drone_far"])
}

func (suite *RedisTestSuite) TestGetVehiclesInRadiusEmpty() {
	center := models.GeoPoint{Latitude: 37.7749, Longitude: -122.4194}
	vehicles, err := suite.repo.GetVehiclesInRadius(suite.ctx, center, 5.0)
	suite.Require().NoError(err)
	suite.Empty(vehicles)
}

func (suite *RedisTestSuite) TestDeleteVehicle() {
	vehicle := suite.testVehicle("drone_gone", 37.7749, -122.4194)
	suite.Require().NoError(suite.repo.SaveVehicle(suite.ctx, vehicle))

	suite.Require().NoError(suite.repo.DeleteVehicle(suite.ctx, "drone_gone"))

	exists, err := suite.client.Exists(suite.ctx,
		VehiclePrefix+"drone_gone", TrackPrefix+"drone_gone").Result()
	suite.Require().NoError(err)
	suite.Equal(int64(0), exists)

	_, err = suite.client.ZScore(suite.ctx, VehiclesGeoKey, "drone_gone").Result()
	suite.Equal(redis.Nil, err)
}

func (suite *RedisTestSuite) TestSaveAndGetMission() {
	mission := &models.Mission{
		ID:        "mission-007",
		VehicleID: "drone_007",
		Pickup:    models.GeoPoint{Latitude: 37.77, Longitude: -122.42},
		Delivery:  models.GeoPoint{Latitude: 37.79, Longitude: -122.40},
		Phase:     models.MissionCarrying,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		UpdatedAt: time.Now().UTC().Truncate(time.Second),
	}

	suite.Require().NoError(suite.repo.SaveMission(suite.ctx, mission))

	got, err := suite.repo.GetMission(suite.ctx, "mission-007")
	suite.Require().NoError(err)
	suite.Require().NotNil(got)
	suite.Equal(mission.ID, got.ID)
	suite.Equal(mission.VehicleID, got.VehicleID)
	suite.Equal(mission.Phase, got.Phase)
	suite.InDelta(mission.Pickup.Latitude, got.Pickup.Latitude, 1e-9)
	suite.InDelta(mission.Delivery.Longitude, got.Delivery.Longitude, 1e-9)

	ttl, err := suite.client.TTL(suite.ctx, MissionPrefix+"mission-007").Result()
	suite.Require().NoError(err)
	suite.Greater(ttl, time.Duration(0))
}

func (suite *RedisTestSuite) TestGetMissionNotFound() {
	got, err := suite.repo.GetMission(suite.ctx, "missing")
	suite.Require().NoError(err)
	suite.Nil(got)
}

func (suite *RedisTestSuite) TestSnapshotRoundTrip() {
	payload := []byte("binary-snapshot-payload")

	suite.Require().NoError(suite.repo.SaveSnapshot(suite.ctx, payload))

	got, err := suite.repo.LoadSnapshot(suite.ctx)
	suite.Require().NoError(err)
	suite.Equal(payload, got)

	ttl, err := suite.client.TTL(suite.ctx, SnapshotKey).Result()
	suite.Require().NoError(err)
	suite.Greater(ttl, time.Duration(0))
	suite.LessOrEqual(ttl, SnapshotTTL)
}

func (suite *RedisTestSuite) TestLoadSnapshotMissing() {
	got, err := suite.repo.LoadSnapshot(suite.ctx)
	suite.Require().NoError(err)
	suite.Nil(got)
}

func (suite *RedisTestSuite) TestCleanupExpired() {
	vehicle := suite.testVehicle("drone_stale", 37.7749, -122.4194)
	suite.Require().NoError(suite.repo.SaveVehicle(suite.ctx, vehicle))

	// Имитируем истечение TTL основного ключа
	suite.Require().NoError(suite.client.Del(suite.ctx, VehiclePrefix+"drone_stale").Err())

	cleaned, err := suite.repo.CleanupExpired(suite.ctx)
	suite.Require().NoError(err)
	suite.Equal(1, cleaned)

	_, err = suite.client.ZScore(suite.ctx, VehiclesGeoKey, "drone_stale").Result()
	suite.Equal(redis.Nil, err)
}

func (suite *RedisTestSuite) TestGetStats() {
	suite.Require().NoError(suite.repo.SaveVehicle(suite.ctx, suite.testVehicle("drone_a", 37.77, -122.42)))
	suite.Require().NoError(suite.repo.SaveVehicle(suite.ctx, suite.testVehicle("drone_b", 37.78, -122.41)))

	stats, err := suite.repo.GetStats(suite.ctx)
	suite.Require().NoError(err)
	suite.Equal(int64(2), stats["vehicles_count"])
	suite.Contains(stats, "memory_info")
}

// TestRedisRepositorySuite запускает все тесты набора
func TestRedisRepositorySuite(t *testing.T) {
	suite.Run(t, new(RedisTestSuite))
}

// TestRepositoryConfiguration не требует запущенного Redis
func TestRepositoryConfiguration(t *testing.T) {
	logger := utils.NewLogger("error", "text")

	t.Run("nil config", func(t *testing.T) {
		_, err := NewRedisRepository(nil, logger)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "config cannot be nil")
	})

	t.Run("nil logger", func(t *testing.T) {
		_, err := NewRedisRepository(&config.RedisConfig{URL: "redis://localhost:6379"}, nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "logger cannot be nil")
	})

	t.Run("invalid URL", func(t *testing.T) {
		_, err := NewRedisRepository(&config.RedisConfig{URL: "not-a-url"}, logger)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse Redis URL")
	})
}

func TestMySQLRepositoryConfiguration(t *testing.T) {
	logger := utils.NewLogger("error", "text")

	t.Run("nil config", func(t *testing.T) {
		_, err := NewMySQLRepository(nil, logger)
		assert.Error(t, err)
	})

	t.Run("empty DSN", func(t *testing.T) {
		_, err := NewMySQLRepository(&config.MySQLConfig{}, logger)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "DSN is required")
	})
}

func TestRepositoryConstants(t *testing.T) {
	assert.Equal(t, "vehicles:geo", VehiclesGeoKey)
	assert.Equal(t, "vehicle:", VehiclePrefix)
	assert.Equal(t, "mission:", MissionPrefix)
	assert.Equal(t, "track:", TrackPrefix)
	assert.Equal(t, "airspace:snapshot", SnapshotKey)
	assert.Equal(t, 10*time.Minute, VehicleTTL)
	assert.Equal(t, 24*time.Hour, MissionTTL)
	assert.Equal(t, 999, MaxTrackPoints)
}
