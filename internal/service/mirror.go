package service

import (
	"context"
	"sync"
	"time"

	"github.com/flybeeper/utm-backend/internal/core"
	"github.com/flybeeper/utm-backend/internal/models"
	"github.com/flybeeper/utm-backend/internal/repository"
	"github.com/flybeeper/utm-backend/pkg/utils"
)

// FleetMirror зеркалирует оперативное состояние ядра в Redis: позиции
// аппаратов для гео-запросов, миссии и периодический снапшот хранилища
// траекторий для теплого рестарта. Ядро остается источником истины,
// зеркало отстает максимум на интервал опроса.
type FleetMirror struct {
	dispatcher *core.Dispatcher
	repo       repository.Repository
	logger     *utils.Logger
	config     *MirrorConfig

	sub *core.Subscription

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// MirrorConfig конфигурация зеркала
type MirrorConfig struct {
	PollInterval     time.Duration `json:"poll_interval"`     // Частота опроса потока событий
	SnapshotInterval time.Duration `json:"snapshot_interval"` // Период снапшота воздушного пространства
	CleanupInterval  time.Duration `json:"cleanup_interval"`  // Период чистки гео-индекса
	OpTimeout        time.Duration `json:"op_timeout"`        // Таймаут одной операции Redis
}

// DefaultMirrorConfig возвращает конфигурацию по умолчанию
func DefaultMirrorConfig() *MirrorConfig {
	return &MirrorConfig{
		PollInterval:     500 * time.Millisecond,
		SnapshotInterval: 30 * time.Second,
		CleanupInterval:  5 * time.Minute,
		OpTimeout:        5 * time.Second,
	}
}

// NewFleetMirror создает зеркало и запускает фоновую синхронизацию
func NewFleetMirror(dispatcher *core.Dispatcher, repo repository.Repository, logger *utils.Logger, config *MirrorConfig) *FleetMirror {
	if config == nil {
		config = DefaultMirrorConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	fm := &FleetMirror{
		dispatcher: dispatcher,
		repo:       repo,
		logger:     logger.WithField("component", "mirror"),
		config:     config,
		sub:        dispatcher.Subscribe(),
		ctx:        ctx,
		cancel:     cancel,
	}

	fm.wg.Add(1)
	go fm.worker()

	fm.logger.WithField("poll_interval", config.PollInterval).
		WithField("snapshot_interval", config.SnapshotInterval).
		Info("Started fleet mirror")

	return fm
}

func (fm *FleetMirror) worker() {
	defer fm.wg.Done()

	poll := time.NewTicker(fm.config.PollInterval)
	defer poll.Stop()
	snapshot := time.NewTicker(fm.config.SnapshotInterval)
	defer snapshot.Stop()
	cleanup := time.NewTicker(fm.config.CleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-poll.C:
			fm.drain()

		case <-snapshot.C:
			fm.snapshot()

		case <-cleanup.C:
			fm.cleanup()

		case <-fm.ctx.Done():
			// Последний прогон, чтобы рестарт поднялся со свежего состояния
			fm.drain()
			fm.snapshot()
			return
		}
	}
}

// drain применяет накопившиеся события к Redis
func (fm *FleetMirror) drain() {
	for _, ev := range fm.sub.Get() {
		switch ev.Kind {
		case models.EventVehicleUpdated:
			if v, ok := ev.Payload.(*models.Vehicle); ok {
				fm.saveVehicle(v)
			}

		case models.EventMissionCreated, models.EventMissionFailed:
			if m, ok := ev.Payload.(*models.Mission); ok {
				fm.saveMission(m)
			}

		case models.EventMissionPhase:
			change, ok := ev.Payload.(models.PhaseChange)
			if !ok {
				continue
			}
			m, err := fm.dispatcher.GetMission(change.MissionID)
			if err != nil {
				continue
			}
			fm.saveMission(m)
		}
	}
}

func (fm *FleetMirror) saveVehicle(v *models.Vehicle) {
	ctx, cancel := context.WithTimeout(context.Background(), fm.config.OpTimeout)
	defer cancel()

	if err := fm.repo.SaveVehicle(ctx, v); err != nil {
		fm.logger.WithField("vehicle_id", v.ID).WithField("error", err).Warn("Failed to mirror vehicle to Redis")
	}
}

func (fm *FleetMirror) saveMission(m *models.Mission) {
	ctx, cancel := context.WithTimeout(context.Background(), fm.config.OpTimeout)
	defer cancel()

	if err := fm.repo.SaveMission(ctx, m); err != nil {
		fm.logger.WithField("mission_id", m.ID).WithField("error", err).Warn("Failed to mirror mission to Redis")
	}
}

// snapshot сохраняет сериализованное хранилище траекторий
func (fm *FleetMirror) snapshot() {
	data, err := fm.dispatcher.Store().MarshalSnapshot()
	if err != nil {
		fm.logger.WithField("error", err).Error("Failed to marshal airspace snapshot")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), fm.config.OpTimeout)
	defer cancel()

	if err := fm.repo.SaveSnapshot(ctx, data); err != nil {
		fm.logger.WithField("error", err).Warn("Failed to save airspace snapshot to Redis")
	}
}

// cleanup выкидывает из гео-индекса аппараты с истекшим TTL
func (fm *FleetMirror) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), fm.config.OpTimeout)
	defer cancel()

	if _, err := fm.repo.CleanupExpired(ctx); err != nil {
		fm.logger.WithField("error", err).Warn("Redis GEO index cleanup failed")
	}
}

// Stop останавливает зеркало, записав финальный снапшот
func (fm *FleetMirror) Stop() error {
	fm.logger.Info("Stopping fleet mirror...")

	fm.cancel()
	fm.wg.Wait()
	fm.sub.Unsubscribe()

	fm.logger.Info("Fleet mirror stopped")
	return nil
}
