package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/flybeeper/utm-backend/internal/config"
	"github.com/flybeeper/utm-backend/internal/metrics"
	"github.com/flybeeper/utm-backend/internal/models"
	"github.com/flybeeper/utm-backend/pkg/utils"
)

// MySQLRepository репозиторий исторических данных о завершенных миссиях
type MySQLRepository struct {
	db     *sql.DB
	logger *utils.Logger
	config *config.MySQLConfig
}

// NewMySQLRepository создает новый MySQL репозиторий
func NewMySQLRepository(cfg *config.MySQLConfig, logger *utils.Logger) (*MySQLRepository, error) {
	if cfg == nil {
		return nil, fmt.Errorf("mysql config cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("mysql DSN is required")
	}

	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	// Настройки connection pool
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(1 * time.Hour)

	return &MySQLRepository{
		db:     db,
		logger: logger,
		config: cfg,
	}, nil
}

// Ping проверяет соединение с MySQL
func (r *MySQLRepository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		metrics.MySQLConnectionStatus.Set(0)
		return err
	}
	metrics.MySQLConnectionStatus.Set(1)
	return nil
}

// Close закрывает соединение с MySQL
func (r *MySQLRepository) Close() error {
	return r.db.Close()
}

// EnsureSchema создает таблицу истории миссий, если она отсутствует.
// DSN должен содержать parseTime=true для сканирования DATETIME.
func (r *MySQLRepository) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS mission_history (
			id VARCHAR(40) NOT NULL,
			vehicle_id VARCHAR(40) NOT NULL,
			phase VARCHAR(16) NOT NULL,
			pickup_lat DOUBLE NOT NULL,
			pickup_lon DOUBLE NOT NULL,
			delivery_lat DOUBLE NOT NULL,
			delivery_lon DOUBLE NOT NULL,
			battery_pct DOUBLE NOT NULL DEFAULT 0,
			replan_count INT NOT NULL DEFAULT 0,
			waypoint_count INT NOT NULL DEFAULT 0,
			flight_time_s DOUBLE NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			completed_at DATETIME NOT NULL,
			PRIMARY KEY (id),
			KEY idx_vehicle (vehicle_id),
			KEY idx_completed (completed_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4
	`

	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to ensure mission_history schema: %w", err)
	}
	return nil
}

// SaveMissionsBatch сохраняет батч завершенных миссий в MySQL
func (r *MySQLRepository) SaveMissionsBatch(ctx context.Context, missions []*models.Mission) error {
	if len(missions) == 0 {
		return nil
	}

	start := time.Now()

	// Сначала собираем валидные данные
	args := make([]interface{}, 0, len(missions)*13)
	validMissions := 0

	for _, mission := range missions {
		if mission.ID == "" || mission.VehicleID == "" {
			r.logger.WithField("mission_id", mission.ID).Warn("Mission missing identifiers, skipping")
			continue
		}

		waypointCount := 0
		flightTimeS := 0.0
		if mission.Trajectory != nil {
			waypointCount = len(mission.Trajectory.Waypoints)
			flightTimeS = float64(mission.Trajectory.EndUnix() - mission.Trajectory.StartUnix())
		}

		args = append(args,
			mission.ID, mission.VehicleID, string(mission.Phase),
			mission.Pickup.Latitude, mission.Pickup.Longitude,
			mission.Delivery.Latitude, mission.Delivery.Longitude,
			mission.BatteryPct, mission.ReplanCount,
			waypointCount, flightTimeS,
			mission.CreatedAt, mission.UpdatedAt)
		validMissions++
	}

	if validMissions == 0 {
		r.logger.Warn("No valid missions to save in batch")
		return nil
	}

	query := `
		INSERT INTO mission_history (
			id, vehicle_id, phase, pickup_lat, pickup_lon,
			delivery_lat, delivery_lon, battery_pct, replan_count,
			waypoint_count, flight_time_s, created_at, completed_at
		) VALUES ` + r.generatePlaceholders(validMissions, 13) + `
		ON DUPLICATE KEY UPDATE
			phase = VALUES(phase),
			battery_pct = VALUES(battery_pct),
			replan_count = VALUES(replan_count),
			waypoint_count = VALUES(waypoint_count),
			flight_time_s = VALUES(flight_time_s),
			completed_at = VALUES(completed_at)`

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		metrics.MySQLWriteErrors.Inc()
		return fmt.Errorf("failed to begin batch transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		metrics.MySQLWriteErrors.Inc()
		return fmt.Errorf("failed to batch insert missions: %w", err)
	}

	if err := tx.Commit(); err != nil {
		metrics.MySQLWriteErrors.Inc()
		return fmt.Errorf("failed to commit batch transaction: %w", err)
	}

	metrics.MySQLBatchSize.Observe(float64(validMissions))
	metrics.MySQLBatchDuration.Observe(time.Since(start).Seconds())
	r.logger.WithField("count", validMissions).Debug("Saved missions batch to MySQL")
	return nil
}

// LoadRecentMissions загружает последние завершенные миссии.
// Траектория в истории не хранится, поле остается пустым.
func (r *MySQLRepository) LoadRecentMissions(ctx context.Context, limit int) ([]*models.Mission, error) {
	query := `
		SELECT
			id, vehicle_id, phase, pickup_lat, pickup_lon,
			delivery_lat, delivery_lon, battery_pct, replan_count,
			created_at, completed_at
		FROM mission_history
		ORDER BY completed_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent missions: %w", err)
	}
	defer rows.Close()

	var missions []*models.Mission
	for rows.Next() {
		var (
			id, vehicleID, phase     string
			pickupLat, pickupLon     float64
			deliveryLat, deliveryLon float64
			batteryPct               float64
			replanCount              int
			createdAt, completedAt   time.Time
		)

		err := rows.Scan(
			&id, &vehicleID, &phase, &pickupLat, &pickupLon,
			&deliveryLat, &deliveryLon, &batteryPct, &replanCount,
			&createdAt, &completedAt,
		)
		if err != nil {
			r.logger.WithField("error", err).Warn("Failed to scan mission row")
			continue
		}

		missions = append(missions, &models.Mission{
			ID:          id,
			VehicleID:   vehicleID,
			Phase:       models.MissionPhase(phase),
			Pickup:      models.GeoPoint{Latitude: pickupLat, Longitude: pickupLon},
			Delivery:    models.GeoPoint{Latitude: deliveryLat, Longitude: deliveryLon},
			BatteryPct:  batteryPct,
			ReplanCount: replanCount,
			CreatedAt:   createdAt,
			UpdatedAt:   completedAt,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating mission rows: %w", err)
	}

	r.logger.WithField("count", len(missions)).Info("Loaded recent missions from MySQL")
	return missions, nil
}

// CleanupOldMissions удаляет записи истории старше указанного возраста
func (r *MySQLRepository) CleanupOldMissions(ctx context.Context, olderThan time.Duration) error {
	query := `DELETE FROM mission_history WHERE completed_at < DATE_SUB(NOW(), INTERVAL ? HOUR)`

	result, err := r.db.ExecContext(ctx, query, int(olderThan.Hours()))
	if err != nil {
		return fmt.Errorf("failed to cleanup old missions: %w", err)
	}

	affected, _ := result.RowsAffected()
	if affected > 0 {
		r.logger.WithField("count", affected).WithField("older_than_hours", olderThan.Hours()).Info("Cleaned up old missions")
	}

	return nil
}

// GetStats возвращает статистику MySQL
func (r *MySQLRepository) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	// Количество записей в таблицах
	queries := map[string]string{
		"missions_count":  "SELECT COUNT(*) FROM mission_history",
		"delivered_count": "SELECT COUNT(*) FROM mission_history WHERE phase = 'DELIVERED'",
		"failed_count":    "SELECT COUNT(*) FROM mission_history WHERE phase = 'FAILED'",
		"recent_count":    "SELECT COUNT(*) FROM mission_history WHERE completed_at > DATE_SUB(NOW(), INTERVAL 24 HOUR)",
	}

	for key, query := range queries {
		var count int
		err := r.db.QueryRowContext(ctx, query).Scan(&count)
		if err != nil {
			r.logger.WithField("key", key).WithField("error", err).Warn("Failed to get MySQL stat")
			stats[key] = 0
		} else {
			stats[key] = count
		}
	}

	// Статистика соединений
	dbStats := r.db.Stats()
	stats["open_connections"] = dbStats.OpenConnections
	stats["in_use"] = dbStats.InUse
	stats["idle"] = dbStats.Idle

	return stats, nil
}

// generatePlaceholders генерирует плейсхолдеры для batch INSERT
func (r *MySQLRepository) generatePlaceholders(count, fieldsPerRecord int) string {
	if count == 0 {
		return ""
	}

	singleRecord := "(" + strings.Repeat("?,", fieldsPerRecord-1) + "?)"

	placeholders := make([]string, count)
	for i := 0; i < count; i++ {
		placeholders[i] = singleRecord
	}

	return strings.Join(placeholders, ",")
}
