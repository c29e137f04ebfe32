package service

import (
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/flybeeper/utm-backend/internal/config"
	"github.com/flybeeper/utm-backend/internal/core"
	"github.com/flybeeper/utm-backend/pkg/utils"
)

// Sweeper периодические проверки ядра: аппараты с замолчавшей
// телеметрией, просроченные миссии и контрольный проход детектора по
// закоммиченному множеству. Расписание задается cron-спекой из
// конфигурации флота.
type Sweeper struct {
	dispatcher *core.Dispatcher
	logger     *utils.Logger
	cron       *cron.Cron
}

// NewSweeper создает повторяющиеся задачи по cron-спеке
func NewSweeper(dispatcher *core.Dispatcher, cfg *config.FleetConfig, logger *utils.Logger) (*Sweeper, error) {
	s := &Sweeper{
		dispatcher: dispatcher,
		logger:     logger.WithField("component", "sweeper"),
		cron:       cron.New(),
	}

	if _, err := s.cron.AddFunc(cfg.SweepSpec, s.sweep); err != nil {
		return nil, fmt.Errorf("invalid sweep spec %q: %w", cfg.SweepSpec, err)
	}

	return s, nil
}

// Start запускает расписание
func (s *Sweeper) Start() {
	s.cron.Start()
	s.logger.Info("Started background sweeper")
}

// Stop останавливает расписание и дожидается текущего прохода
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Background sweeper stopped")
}

// sweep один полный проход всех проверок
func (s *Sweeper) sweep() {
	stale := s.dispatcher.SweepStaleVehicles()
	expired := s.dispatcher.SweepExpiredMissions()
	conflicts := s.dispatcher.SweepConflicts()

	if stale+expired+conflicts > 0 {
		s.logger.WithFields(map[string]interface{}{
			"stale_vehicles":   stale,
			"expired_missions": expired,
			"conflicts":        conflicts,
		}).Info("Sweep pass found issues")
	}
}
