package repository

import (
	"context"
	"time"

	"github.com/flybeeper/utm-backend/internal/models"
)

// Repository интерфейс оперативного зеркала состояния флота
type Repository interface {
	// Проверка соединения
	Ping(ctx context.Context) error
	Close() error

	// Операции с аппаратами
	SaveVehicle(ctx context.Context, vehicle *models.Vehicle) error
	GetVehicle(ctx context.Context, vehicleID string) (*models.Vehicle, error)
	GetVehiclesInRadius(ctx context.Context, center models.GeoPoint, radiusKM float64) ([]*models.Vehicle, error)
	DeleteVehicle(ctx context.Context, vehicleID string) error

	// Операции с миссиями
	SaveMission(ctx context.Context, mission *models.Mission) error
	GetMission(ctx context.Context, missionID string) (*models.Mission, error)

	// Снапшот хранилища траекторий для теплого рестарта
	SaveSnapshot(ctx context.Context, data []byte) error
	LoadSnapshot(ctx context.Context) ([]byte, error)

	// Обслуживание
	CleanupExpired(ctx context.Context) (int, error)
	GetStats(ctx context.Context) (map[string]interface{}, error)
}

// HistoryRepository интерфейс архива завершенных миссий
type HistoryRepository interface {
	// Проверка соединения
	Ping(ctx context.Context) error
	Close() error

	// Батчевое сохранение завершенных миссий
	SaveMissionsBatch(ctx context.Context, missions []*models.Mission) error

	// Выборка истории
	LoadRecentMissions(ctx context.Context, limit int) ([]*models.Mission, error)

	// Обслуживание
	CleanupOldMissions(ctx context.Context, olderThan time.Duration) error
	GetStats(ctx context.Context) (map[string]interface{}, error)
}

// Ensure implementations
var _ Repository = (*RedisRepository)(nil)
var _ HistoryRepository = (*MySQLRepository)(nil)
