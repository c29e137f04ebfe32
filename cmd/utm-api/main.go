package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/flybeeper/utm-backend/internal/config"
	"github.com/flybeeper/utm-backend/internal/core"
	"github.com/flybeeper/utm-backend/internal/detect"
	"github.com/flybeeper/utm-backend/internal/filter"
	"github.com/flybeeper/utm-backend/internal/geo"
	"github.com/flybeeper/utm-backend/internal/geofence"
	"github.com/flybeeper/utm-backend/internal/handler"
	"github.com/flybeeper/utm-backend/internal/metrics"
	"github.com/flybeeper/utm-backend/internal/mqtt"
	"github.com/flybeeper/utm-backend/internal/planner"
	"github.com/flybeeper/utm-backend/internal/repository"
	"github.com/flybeeper/utm-backend/internal/service"
	"github.com/flybeeper/utm-backend/pkg/utils"
)

var (
	// Устанавливаются при сборке через ldflags
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// .env опционален, переменные окружения имеют приоритет
	_ = godotenv.Load()

	// Загружаем конфигурацию
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Инициализируем логирование
	logger := utils.NewLogger(config.LogLevel(), config.LogFormat())
	logger.WithFields(map[string]interface{}{
		"version":     Version,
		"environment": cfg.Environment,
	}).Info("Starting UTM Backend")
	metrics.SetAppInfo(Version, Commit, BuildTime)

	// Создаем контекст приложения
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Собираем ядро: геозоны, сетка планировщика, детектор, хранилище
	fence, err := geofence.NewIndex(cfg.Airspace)
	if err != nil {
		logger.WithField("error", err).Fatal("Failed to build geofence index")
	}

	grid := geo.NewGrid(fence.Bounds(), cfg.Planner.GridResolutionM)
	pl, err := planner.NewPlanner(grid, fence, cfg.Planner, cfg.Separation)
	if err != nil {
		logger.WithField("error", err).Fatal("Failed to build planner")
	}

	det := detect.NewDetector(grid.Projection(), cfg.Separation, cfg.Planner.TimeResolutionS)
	store := core.NewStore(grid.Projection(), logger)
	events := core.NewEventStream(logger)
	dispatcher := core.NewDispatcher(cfg, store, pl, det, fence, events, logger)

	// Инициализируем Redis репозиторий
	redisRepo, err := repository.NewRedisRepository(&cfg.Redis, logger)
	if err != nil {
		logger.WithField("error", err).Fatal("Failed to initialize Redis repository")
	}
	defer redisRepo.Close()

	// Проверяем соединение с Redis
	if err := redisRepo.Ping(ctx); err != nil {
		logger.WithField("error", err).Fatal("Failed to connect to Redis")
	}
	logger.Info("Connected to Redis")

	// Теплый рестарт: поднимаем воздушное пространство из снапшота,
	// иначе расставляем стартовый флот
	if err := restoreOrBootstrap(ctx, dispatcher, redisRepo, logger); err != nil {
		logger.WithField("error", err).Fatal("Failed to initialize fleet")
	}

	// Инициализируем MySQL репозиторий (опционально)
	var mysqlRepo *repository.MySQLRepository
	var history *service.HistoryWriter
	if cfg.MySQL.DSN != "" {
		mysqlRepo, err = repository.NewMySQLRepository(&cfg.MySQL, logger)
		if err != nil {
			logger.WithField("error", err).Warn("Failed to initialize MySQL repository")
			mysqlRepo = nil
		} else {
			defer mysqlRepo.Close()
			if err := mysqlRepo.Ping(ctx); err != nil {
				logger.WithField("error", err).Warn("Failed to connect to MySQL, mission history disabled")
				mysqlRepo = nil
			} else if err := mysqlRepo.EnsureSchema(ctx); err != nil {
				logger.WithField("error", err).Warn("Failed to ensure MySQL schema, mission history disabled")
				mysqlRepo = nil
			} else {
				logger.Info("Connected to MySQL")
				history = service.NewHistoryWriter(dispatcher, mysqlRepo, logger, nil)
			}
		}
	}

	// Зеркало флота в Redis
	mirror := service.NewFleetMirror(dispatcher, redisRepo, logger, nil)

	// Мост MQTT телеметрии в ядро с санитарной фильтрацией кадров
	chain := filter.NewChain(filter.DefaultConfig(cfg.Planner.MaxSpeedMPS), grid.Projection(), logger)
	ingestor := service.NewTelemetryIngestor(dispatcher, chain, logger)
	mqttClient, err := mqtt.NewClient(&cfg.MQTT, logger, ingestor.Handle)
	if err != nil {
		logger.WithField("error", err).Fatal("Failed to initialize MQTT client")
	}

	// Подключаемся к MQTT
	if err := mqttClient.Connect(); err != nil {
		logger.WithField("error", err).Fatal("Failed to connect to MQTT broker")
	}
	logger.Info("Connected to MQTT broker")

	// Фоновые проверки флота и миссий
	sweeper, err := service.NewSweeper(dispatcher, &cfg.Fleet, logger)
	if err != nil {
		logger.WithField("error", err).Fatal("Failed to schedule sweeper")
	}
	sweeper.Start()

	// Создаем HTTP сервер
	server := handler.NewServer(cfg, dispatcher, logger)

	// Запускаем HTTP сервер в горутине
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithField("error", err).Fatal("Failed to start HTTP server")
		}
	}()

	logStartupState(ctx, dispatcher, redisRepo, logger)

	// Ждем сигнала остановки
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	logger.WithField("signal", sig.String()).Info("Received shutdown signal")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Отменяем контекст приложения
	cancel()

	// Сначала перестаем принимать входящие запросы и телеметрию
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithField("error", err).Error("HTTP server shutdown error")
	}
	mqttClient.Disconnect()

	// Затем фоновые службы: sweeper, архив (финальный flush),
	// зеркало (финальный снапшот)
	sweeper.Stop()
	if history != nil {
		if err := history.Stop(); err != nil {
			logger.WithField("error", err).Error("History writer shutdown error")
		}
	}
	if err := mirror.Stop(); err != nil {
		logger.WithField("error", err).Error("Fleet mirror shutdown error")
	}
	events.Close()

	logger.Info("Server stopped gracefully")
}

// restoreOrBootstrap поднимает хранилище траекторий из последнего
// снапшота в Redis. Если снапшота нет или он не читается, регистрируется
// стартовый флот с нуля.
func restoreOrBootstrap(ctx context.Context, dispatcher *core.Dispatcher, repo *repository.RedisRepository, logger *utils.Logger) error {
	data, err := repo.LoadSnapshot(ctx)
	if err != nil {
		logger.WithField("error", err).Warn("Failed to load airspace snapshot")
	}

	if len(data) > 0 {
		if err := dispatcher.Store().RestoreSnapshot(data); err != nil {
			logger.WithField("error", err).Warn("Snapshot rejected, bootstrapping fleet")
		} else {
			logger.WithFields(map[string]interface{}{
				"vehicles": len(dispatcher.ListVehicles()),
				"missions": len(dispatcher.ListMissions()),
			}).Info("Airspace restored from snapshot")
			return nil
		}
	}

	return dispatcher.BootstrapFleet()
}

// logStartupState выводит сводку состояния после старта
func logStartupState(ctx context.Context, dispatcher *core.Dispatcher, repo *repository.RedisRepository, logger *utils.Logger) {
	status := dispatcher.Status()
	logger.WithFields(map[string]interface{}{
		"vehicles":            status.Vehicles,
		"active_trajectories": status.ActiveTrajectories,
		"airspace_version":    status.Version,
	}).Info("Dispatcher ready")

	if stats, err := repo.GetStats(ctx); err == nil {
		logger.WithField("vehicles_count", stats["vehicles_count"]).Debug("Redis mirror state")
	}
}
