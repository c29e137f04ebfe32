package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flybeeper/utm-backend/internal/core"
	"github.com/flybeeper/utm-backend/internal/metrics"
	"github.com/flybeeper/utm-backend/internal/models"
	"github.com/flybeeper/utm-backend/internal/repository"
	"github.com/flybeeper/utm-backend/pkg/utils"
)

// HistoryWriter асинхронный writer архива миссий. Подписывается на поток
// событий ядра, собирает миссии, достигшие терминальной фазы, и батчами
// сохраняет их в MySQL. Потеря архива не влияет на управление трафиком,
// поэтому ошибки записи не распространяются в ядро.
type HistoryWriter struct {
	dispatcher *core.Dispatcher
	repo       repository.HistoryRepository
	logger     *utils.Logger
	config     *HistoryConfig

	sub    *core.Subscription
	buffer []*models.Mission

	// Контроль жизненного цикла
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Счетчики
	mu        sync.Mutex
	queued    int64
	processed int64
	failed    int64
	batches   int64
	lastFlush time.Duration
	lastBatch int
}

// HistoryConfig конфигурация writer'а истории
type HistoryConfig struct {
	BatchSize     int           `json:"batch_size"`     // Размер батча
	FlushInterval time.Duration `json:"flush_interval"` // Интервал принудительного flush
	PollInterval  time.Duration `json:"poll_interval"`  // Частота опроса потока событий
	MaxRetries    int           `json:"max_retries"`    // Максимум повторов
	RetryDelay    time.Duration `json:"retry_delay"`    // Задержка между повторами
	Retention     time.Duration `json:"retention"`      // Срок хранения архива
	CleanupEvery  time.Duration `json:"cleanup_every"`  // Период чистки архива
}

// HistoryStats моментальный снимок счетчиков writer'а
type HistoryStats struct {
	MissionsQueued    int64         `json:"missions_queued"`
	MissionsProcessed int64         `json:"missions_processed"`
	MissionsErrors    int64         `json:"missions_errors"`
	BatchesFlushed    int64         `json:"batches_flushed"`
	QueueDepth        int64         `json:"queue_depth"`
	LastFlushDuration time.Duration `json:"last_flush_duration"`
	LastBatchSize     int           `json:"last_batch_size"`
}

// DefaultHistoryConfig возвращает конфигурацию по умолчанию
func DefaultHistoryConfig() *HistoryConfig {
	return &HistoryConfig{
		BatchSize:     100,                    // Завершенных миссий на порядки меньше, чем телеметрии
		FlushInterval: 5 * time.Second,        // Flush каждые 5 секунд
		PollInterval:  500 * time.Millisecond, // Опрос событий дважды в секунду
		MaxRetries:    3,                      // 3 попытки при ошибках
		RetryDelay:    100 * time.Millisecond, // 100ms между попытками
		Retention:     30 * 24 * time.Hour,    // Месяц истории
		CleanupEvery:  time.Hour,
	}
}

// NewHistoryWriter создает writer и запускает фоновую обработку
func NewHistoryWriter(dispatcher *core.Dispatcher, repo repository.HistoryRepository, logger *utils.Logger, config *HistoryConfig) *HistoryWriter {
	if config == nil {
		config = DefaultHistoryConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	hw := &HistoryWriter{
		dispatcher: dispatcher,
		repo:       repo,
		logger:     logger.WithField("component", "history"),
		config:     config,
		sub:        dispatcher.Subscribe(),
		buffer:     make([]*models.Mission, 0, config.BatchSize),
		ctx:        ctx,
		cancel:     cancel,
	}

	hw.wg.Add(1)
	go hw.worker()

	hw.logger.WithField("batch_size", config.BatchSize).
		WithField("flush_interval", config.FlushInterval).
		WithField("retention", config.Retention).
		Info("Started mission history writer")

	return hw
}

// worker обрабатывает поток событий и флашит батчи
func (hw *HistoryWriter) worker() {
	defer hw.wg.Done()

	poll := time.NewTicker(hw.config.PollInterval)
	defer poll.Stop()
	flush := time.NewTicker(hw.config.FlushInterval)
	defer flush.Stop()
	cleanup := time.NewTicker(hw.config.CleanupEvery)
	defer cleanup.Stop()

	for {
		select {
		case <-poll.C:
			hw.collect()

			// Флашим при достижении размера батча
			if len(hw.buffer) >= hw.config.BatchSize {
				hw.flush()
			}

		case <-flush.C:
			// Периодический flush даже если батч не полный
			if len(hw.buffer) > 0 {
				hw.flush()
			}

		case <-cleanup.C:
			hw.cleanupArchive()

		case <-hw.ctx.Done():
			// Финальный сбор и flush при завершении
			hw.collect()
			if len(hw.buffer) > 0 {
				hw.flush()
			}
			return
		}
	}
}

// collect переносит завершенные миссии из потока событий в буфер.
// markPhase публикует смену фазы для каждого перехода, так что один
// обработчик покрывает и DELIVERED, и FAILED.
func (hw *HistoryWriter) collect() {
	for _, ev := range hw.sub.Get() {
		if ev.Kind != models.EventMissionPhase {
			continue
		}
		change, ok := ev.Payload.(models.PhaseChange)
		if !ok || !change.To.Terminal() {
			continue
		}

		mission, err := hw.dispatcher.GetMission(change.MissionID)
		if err != nil {
			hw.logger.WithField("mission_id", change.MissionID).
				WithField("error", err).
				Warn("Terminal mission vanished before archiving")
			continue
		}

		hw.buffer = append(hw.buffer, mission)
		hw.mu.Lock()
		hw.queued++
		hw.mu.Unlock()
	}

	metrics.MySQLQueueSize.Set(float64(len(hw.buffer)))
}

// flush сохраняет накопленный батч в MySQL
func (hw *HistoryWriter) flush() {
	if len(hw.buffer) == 0 {
		return
	}

	start := time.Now()
	batch := make([]*models.Mission, len(hw.buffer))
	copy(batch, hw.buffer)
	hw.buffer = hw.buffer[:0] // Очищаем буфер

	// Собственный таймаут: финальный flush при остановке writer'а должен
	// отработать, хотя родительский контекст уже отменен.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := hw.retryOperation(func() error {
		return hw.repo.SaveMissionsBatch(ctx, batch)
	})

	duration := time.Since(start)

	hw.mu.Lock()
	if err != nil {
		hw.failed += int64(len(batch))
		hw.logger.WithField("batch_size", len(batch)).
			WithField("duration", duration).
			WithField("error", err).
			Error("Failed to flush mission history batch")
	} else {
		hw.batches++
		hw.processed += int64(len(batch))
		hw.logger.WithField("batch_size", len(batch)).
			WithField("duration", duration).
			Debug("Flushed mission history batch to MySQL")
	}
	hw.lastFlush = duration
	hw.lastBatch = len(batch)
	hw.mu.Unlock()

	metrics.MySQLQueueSize.Set(0)
}

// cleanupArchive удаляет записи старше периода хранения
func (hw *HistoryWriter) cleanupArchive() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := hw.repo.CleanupOldMissions(ctx, hw.config.Retention); err != nil {
		hw.logger.WithField("error", err).Warn("Mission history cleanup failed")
	}
}

// retryOperation выполняет операцию с повторами
func (hw *HistoryWriter) retryOperation(operation func() error) error {
	var lastErr error

	for attempt := 0; attempt <= hw.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(hw.config.RetryDelay * time.Duration(attempt)):
			case <-hw.ctx.Done():
				return hw.ctx.Err()
			}
		}

		lastErr = operation()
		if lastErr == nil {
			return nil
		}

		hw.logger.WithField("attempt", attempt+1).
			WithField("max_retries", hw.config.MaxRetries).
			WithField("error", lastErr).
			Warn("MySQL history operation failed, retrying")
	}

	return fmt.Errorf("operation failed after %d retries: %w", hw.config.MaxRetries, lastErr)
}

// Stats возвращает счетчики производительности
func (hw *HistoryWriter) Stats() HistoryStats {
	hw.mu.Lock()
	defer hw.mu.Unlock()

	return HistoryStats{
		MissionsQueued:    hw.queued,
		MissionsProcessed: hw.processed,
		MissionsErrors:    hw.failed,
		BatchesFlushed:    hw.batches,
		QueueDepth:        hw.queued - hw.processed - hw.failed,
		LastFlushDuration: hw.lastFlush,
		LastBatchSize:     hw.lastBatch,
	}
}

// Stop останавливает writer, дописав накопленный буфер
func (hw *HistoryWriter) Stop() error {
	hw.logger.Info("Stopping mission history writer...")

	hw.cancel()
	hw.wg.Wait()
	hw.sub.Unsubscribe()

	hw.logger.Info("Mission history writer stopped")
	return nil
}
