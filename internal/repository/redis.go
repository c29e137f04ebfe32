package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/flybeeper/utm-backend/internal/config"
	"github.com/flybeeper/utm-backend/internal/metrics"
	"github.com/flybeeper/utm-backend/internal/models"
	"github.com/flybeeper/utm-backend/pkg/pool"
	"github.com/flybeeper/utm-backend/pkg/utils"
	"github.com/redis/go-redis/v9"
)

const (
	// Ключи для геопространственных индексов
	VehiclesGeoKey = "vehicles:geo" // GEO индекс аппаратов

	// Префиксы для детальных данных
	VehiclePrefix = "vehicle:" // vehicle:{id} - HSET с текущим состоянием
	MissionPrefix = "mission:" // mission:{id} - JSON миссии
	TrackPrefix   = "track:"   // track:{id} - список точек трека

	// Снапшот хранилища траекторий для теплого рестарта
	SnapshotKey = "airspace:snapshot"

	// Счетчики и статистика
	StatsPrefix = "stats:" // stats:{metric}

	// TTL для данных
	VehicleTTL  = 10 * time.Minute
	MissionTTL  = 24 * time.Hour
	SnapshotTTL = 24 * time.Hour

	// Настройки для списков
	MaxTrackPoints = 999 // Максимум точек в треке
)

// RedisRepository оперативное зеркало флота и миссий в Redis
type RedisRepository struct {
	client *redis.Client
	logger *utils.Logger
	config *config.RedisConfig
}

// NewRedisRepository создает новый Redis репозиторий
func NewRedisRepository(cfg *config.RedisConfig, logger *utils.Logger) (*RedisRepository, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	// Парсим Redis URL
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Дополнительные настройки
	opt.Password = cfg.Password
	opt.DB = cfg.DB
	opt.PoolSize = cfg.PoolSize
	opt.MinIdleConns = cfg.MinIdleConns
	opt.ConnMaxIdleTime = 30 * time.Minute
	opt.DialTimeout = 10 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second

	return &RedisRepository{
		client: redis.NewClient(opt),
		logger: logger,
		config: cfg,
	}, nil
}

// Ping проверяет соединение с Redis
func (r *RedisRepository) Ping(ctx context.Context) error {
	if _, err := r.client.Ping(ctx).Result(); err != nil {
		metrics.RedisConnectionStatus.Set(0)
		return fmt.Errorf("redis ping failed: %w", err)
	}
	metrics.RedisConnectionStatus.Set(1)
	return nil
}

// Close закрывает соединение с Redis
func (r *RedisRepository) Close() error {
	return r.client.Close()
}

// GetClient возвращает Redis клиент для внешнего использования
func (r *RedisRepository) GetClient() *redis.Client {
	return r.client
}

// SaveVehicle зеркалирует аппарат в GEO индекс, HSET и трек
func (r *RedisRepository) SaveVehicle(ctx context.Context, vehicle *models.Vehicle) error {
	if vehicle == nil {
		return fmt.Errorf("vehicle cannot be nil")
	}

	start := time.Now()
	pipe := r.client.Pipeline()
	pos := vehicle.Position

	// Redis GEO ограничения: lat [-85.05112878, 85.05112878], lon [-180, 180]
	if pos.Latitude >= -85.05112878 && pos.Latitude <= 85.05112878 &&
		pos.Longitude >= -180 && pos.Longitude <= 180 &&
		!math.IsNaN(pos.Latitude) && !math.IsNaN(pos.Longitude) &&
		!math.IsInf(pos.Latitude, 0) && !math.IsInf(pos.Longitude, 0) {

		pipe.GeoAdd(ctx, VehiclesGeoKey, &redis.GeoLocation{
			Name:      vehicle.ID,
			Latitude:  pos.Latitude,
			Longitude: pos.Longitude,
		})
	} else {
		r.logger.WithField("vehicle_id", vehicle.ID).
			WithField("lat", pos.Latitude).
			WithField("lon", pos.Longitude).
			Warn("Skipping GEO indexing for vehicle with invalid coordinates")
	}

	// Детальные данные в HSET
	fields := pool.Global.GetStringMap()
	fields["state"] = string(vehicle.State)
	fields["mission_id"] = vehicle.MissionID
	fields["lat"] = strconv.FormatFloat(pos.Latitude, 'f', -1, 64)
	fields["lon"] = strconv.FormatFloat(pos.Longitude, 'f', -1, 64)
	fields["alt_m"] = strconv.FormatFloat(pos.AltitudeM, 'f', -1, 64)
	fields["battery_pct"] = strconv.FormatFloat(vehicle.BatteryPct, 'f', -1, 64)
	fields["speed_mps"] = strconv.FormatFloat(vehicle.SpeedMPS, 'f', -1, 64)
	fields["heading_deg"] = strconv.FormatFloat(vehicle.HeadingDeg, 'f', -1, 64)
	fields["last_update"] = strconv.FormatInt(vehicle.LastUpdate.Unix(), 10)

	vehicleKey := VehiclePrefix + vehicle.ID
	pipe.HSet(ctx, vehicleKey, fields)
	pipe.Expire(ctx, vehicleKey, VehicleTTL)
	// HSet копирует пары в аргументы команды при вызове
	pool.Global.PutStringMap(fields)

	// Точка трека
	trackKey := TrackPrefix + vehicle.ID
	pointData, err := json.Marshal(map[string]interface{}{
		"lat":   pos.Latitude,
		"lon":   pos.Longitude,
		"alt_m": pos.AltitudeM,
		"ts":    vehicle.LastUpdate.Unix(),
	})
	if err == nil {
		pipe.LPush(ctx, trackKey, pointData)
		pipe.LTrim(ctx, trackKey, 0, MaxTrackPoints)
		pipe.Expire(ctx, trackKey, VehicleTTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		metrics.RedisOperationErrors.WithLabelValues("save_vehicle").Inc()
		return fmt.Errorf("failed to save vehicle: %w", err)
	}

	metrics.RedisOperationDuration.WithLabelValues("save_vehicle").Observe(time.Since(start).Seconds())
	return nil
}

// GetVehicle возвращает аппарат по идентификатору. Отсутствие записи
// не является ошибкой: возвращается (nil, nil).
func (r *RedisRepository) GetVehicle(ctx context.Context, vehicleID string) (*models.Vehicle, error) {
	if vehicleID == "" {
		return nil, fmt.Errorf("vehicle ID cannot be empty")
	}

	data, err := r.client.HGetAll(ctx, VehiclePrefix+vehicleID).Result()
	if err != nil {
		metrics.RedisOperationErrors.WithLabelValues("get_vehicle").Inc()
		return nil, fmt.Errorf("failed to get vehicle: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	return r.mapToVehicle(vehicleID, data), nil
}

// GetVehiclesInRadius возвращает аппараты в указанном радиусе
func (r *RedisRepository) GetVehiclesInRadius(ctx context.Context, center models.GeoPoint, radiusKM float64) ([]*models.Vehicle, error) {
	start := time.Now()

	locations, err := r.client.GeoRadius(ctx, VehiclesGeoKey, center.Longitude, center.Latitude, &redis.GeoRadiusQuery{
		Radius:    radiusKM,
		Unit:      "km",
		WithCoord: true,
		WithDist:  true,
		Count:     1000, // Максимум 1000 аппаратов
		Sort:      "ASC",
	}).Result()

	if err != nil && err != redis.Nil {
		metrics.RedisOperationErrors.WithLabelValues("get_vehicles_radius").Inc()
		return nil, fmt.Errorf("failed to get vehicles in radius: %w", err)
	}

	if len(locations) == 0 {
		return []*models.Vehicle{}, nil
	}

	// Детальные данные батчем
	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(locations))
	for i, loc := range locations {
		cmds[i] = pipe.HGetAll(ctx, VehiclePrefix+loc.Name)
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to get vehicle details: %w", err)
	}

	vehicles := make([]*models.Vehicle, 0, len(locations))
	for i, cmd := range cmds {
		if cmd.Err() != nil {
			r.logger.WithFields(map[string]interface{}{
				"vehicle_id": locations[i].Name,
				"error":      cmd.Err(),
			}).Warn("Failed to get vehicle data")
			continue
		}

		data := cmd.Val()
		if len(data) == 0 {
			continue // Хеш истек, но запись еще в гео-индексе
		}

		vehicles = append(vehicles, r.mapToVehicle(locations[i].Name, data))
	}

	r.logger.WithFields(map[string]interface{}{
		"center_lat": center.Latitude,
		"center_lon": center.Longitude,
		"radius_km":  radiusKM,
		"found":      len(vehicles),
	}).Debug("Retrieved vehicles in radius")

	metrics.RedisOperationDuration.WithLabelValues("get_vehicles_radius").Observe(time.Since(start).Seconds())
	return vehicles, nil
}

// DeleteVehicle удаляет аппарат из всех ключей Redis
func (r *RedisRepository) DeleteVehicle(ctx context.Context, vehicleID string) error {
	if vehicleID == "" {
		return fmt.Errorf("vehicle ID cannot be empty")
	}

	pipe := r.client.Pipeline()
	pipe.ZRem(ctx, VehiclesGeoKey, vehicleID)
	pipe.Del(ctx, VehiclePrefix+vehicleID)
	pipe.Del(ctx, TrackPrefix+vehicleID)

	if _, err := pipe.Exec(ctx); err != nil {
		metrics.RedisOperationErrors.WithLabelValues("delete_vehicle").Inc()
		return fmt.Errorf("failed to delete vehicle: %w", err)
	}

	r.logger.WithField("vehicle_id", vehicleID).Debug("Removed vehicle from Redis")
	return nil
}

// SaveMission сохраняет миссию как JSON с TTL
func (r *RedisRepository) SaveMission(ctx context.Context, mission *models.Mission) error {
	if mission == nil {
		return fmt.Errorf("mission cannot be nil")
	}

	start := time.Now()
	data, err := json.Marshal(mission)
	if err != nil {
		return fmt.Errorf("failed to marshal mission: %w", err)
	}

	if err := r.client.Set(ctx, MissionPrefix+mission.ID, data, MissionTTL).Err(); err != nil {
		metrics.RedisOperationErrors.WithLabelValues("save_mission").Inc()
		return fmt.Errorf("failed to save mission: %w", err)
	}

	metrics.RedisOperationDuration.WithLabelValues("save_mission").Observe(time.Since(start).Seconds())
	return nil
}

// GetMission возвращает миссию по идентификатору, (nil, nil) если нет
func (r *RedisRepository) GetMission(ctx context.Context, missionID string) (*models.Mission, error) {
	if missionID == "" {
		return nil, fmt.Errorf("mission ID cannot be empty")
	}

	data, err := r.client.Get(ctx, MissionPrefix+missionID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		metrics.RedisOperationErrors.WithLabelValues("get_mission").Inc()
		return nil, fmt.Errorf("failed to get mission: %w", err)
	}

	var mission models.Mission
	if err := json.Unmarshal(data, &mission); err != nil {
		return nil, fmt.Errorf("failed to unmarshal mission: %w", err)
	}
	return &mission, nil
}

// SaveSnapshot сохраняет сериализованный снапшот хранилища траекторий
func (r *RedisRepository) SaveSnapshot(ctx context.Context, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("snapshot cannot be empty")
	}

	start := time.Now()
	if err := r.client.Set(ctx, SnapshotKey, data, SnapshotTTL).Err(); err != nil {
		metrics.RedisOperationErrors.WithLabelValues("save_snapshot").Inc()
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	metrics.RedisOperationDuration.WithLabelValues("save_snapshot").Observe(time.Since(start).Seconds())
	r.logger.WithField("size_bytes", len(data)).Debug("Saved airspace snapshot to Redis")
	return nil
}

// LoadSnapshot возвращает последний снапшот, (nil, nil) если его нет
func (r *RedisRepository) LoadSnapshot(ctx context.Context) ([]byte, error) {
	data, err := r.client.Get(ctx, SnapshotKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		metrics.RedisOperationErrors.WithLabelValues("load_snapshot").Inc()
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return data, nil
}

// CleanupExpired удаляет из гео-индекса аппараты, чьи основные ключи истекли
func (r *RedisRepository) CleanupExpired(ctx context.Context) (int, error) {
	ids, err := r.client.ZRange(ctx, VehiclesGeoKey, 0, -1).Result()
	if err != nil && err != redis.Nil {
		return 0, fmt.Errorf("failed to get vehicles for cleanup: %w", err)
	}

	pipe := r.client.Pipeline()
	cleaned := 0
	for _, id := range ids {
		exists := r.client.Exists(ctx, VehiclePrefix+id)
		if exists.Val() == 0 {
			pipe.ZRem(ctx, VehiclesGeoKey, id)
			cleaned++
		}
	}

	if cleaned > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return 0, fmt.Errorf("failed to cleanup expired vehicles: %w", err)
		}
		r.logger.WithField("count", cleaned).Info("Cleaned up expired vehicles from GEO index")
	}

	return cleaned, nil
}

// GetStats возвращает статистику Redis
func (r *RedisRepository) GetStats(ctx context.Context) (map[string]interface{}, error) {
	pipe := r.client.Pipeline()

	vehiclesCountCmd := pipe.ZCard(ctx, VehiclesGeoKey)
	snapshotTTLCmd := pipe.TTL(ctx, SnapshotKey)
	infoCmd := pipe.Info(ctx, "memory")

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to get Redis stats: %w", err)
	}

	return map[string]interface{}{
		"vehicles_count": vehiclesCountCmd.Val(),
		"snapshot_ttl_s": snapshotTTLCmd.Val().Seconds(),
		"memory_info":    infoCmd.Val(),
	}, nil
}

// mapToVehicle конвертирует HSET данные в модель аппарата
func (r *RedisRepository) mapToVehicle(vehicleID string, data map[string]string) *models.Vehicle {
	v := &models.Vehicle{
		ID:        vehicleID,
		State:     models.VehicleState(data["state"]),
		MissionID: data["mission_id"],
	}

	v.Position.Latitude = r.parseRedisFloat(data["lat"], "lat", vehicleID)
	v.Position.Longitude = r.parseRedisFloat(data["lon"], "lon", vehicleID)
	v.Position.AltitudeM = r.parseRedisFloat(data["alt_m"], "alt_m", vehicleID)
	v.BatteryPct = r.parseRedisFloat(data["battery_pct"], "battery_pct", vehicleID)
	v.SpeedMPS = r.parseRedisFloat(data["speed_mps"], "speed_mps", vehicleID)
	v.HeadingDeg = r.parseRedisFloat(data["heading_deg"], "heading_deg", vehicleID)

	if ts, err := strconv.ParseInt(data["last_update"], 10, 64); err == nil {
		v.LastUpdate = time.Unix(ts, 0).UTC()
		v.Position.TimeS = float64(ts)
	}

	return v
}

// parseRedisFloat безопасно парсит числовое поле из Redis HSET
func (r *RedisRepository) parseRedisFloat(value, field, vehicleID string) float64 {
	if value == "" {
		return 0
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		r.logger.WithFields(map[string]interface{}{
			"vehicle_id": vehicleID,
			"field":      field,
			"value":      value,
		}).Debug("Failed to parse numeric field from Redis")
		return 0
	}
	return f
}
