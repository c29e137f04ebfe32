package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/flybeeper/utm-backend/internal/config"
	"github.com/flybeeper/utm-backend/internal/core"
	"github.com/flybeeper/utm-backend/internal/metrics"
	"github.com/flybeeper/utm-backend/pkg/utils"
)

// Server HTTP сервер диспетчера
type Server struct {
	router       *gin.Engine
	httpServer   *http.Server
	logger       *utils.Logger
	config       *config.Config
	restHandler  *RESTHandler
	wsHandler    *WebSocketHandler
	adminHandler *AdminHandler
}

// NewServer создает новый HTTP сервер
func NewServer(cfg *config.Config, dispatcher *core.Dispatcher, logger *utils.Logger) *Server {
	// Production mode для Gin
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Middleware
	router.Use(LoggerMiddleware(logger))
	router.Use(gin.Recovery())
	router.Use(CORSMiddleware())
	router.Use(RateLimitMiddleware())
	router.Use(SecurityHeadersMiddleware())
	router.Use(metrics.HTTPMetricsMiddleware())

	server := &Server{
		router:       router,
		logger:       logger,
		config:       cfg,
		restHandler:  NewRESTHandler(dispatcher, logger),
		wsHandler:    NewWebSocketHandler(dispatcher, cfg, logger),
		adminHandler: NewAdminHandler(dispatcher, logger),
	}

	server.httpServer = &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Регистрация маршрутов
	server.setupRoutes()

	return server
}

// setupRoutes настраивает маршруты API
func (s *Server) setupRoutes() {
	// Health check
	s.router.GET("/health", s.healthCheck)

	// API v1 группа
	v1 := s.router.Group("/api/v1")
	{
		// Заявки на доставку и миссии
		v1.POST("/deliveries", s.restHandler.PostDelivery)
		v1.GET("/missions", s.restHandler.GetMissions)
		v1.GET("/missions/:id", s.restHandler.GetMission)
		v1.POST("/missions/:id/phase", s.restHandler.PostMissionPhase)

		// Флот
		v1.GET("/vehicles", s.restHandler.GetVehicles)
		v1.POST("/vehicles", s.restHandler.PostVehicle)
		v1.GET("/vehicles/:id", s.restHandler.GetVehicle)
		v1.POST("/vehicles/:id/telemetry", s.restHandler.PostTelemetry)

		// Воздушное пространство и состояние диспетчера
		v1.GET("/zones", s.restHandler.GetZones)
		v1.GET("/status", s.restHandler.GetStatus)

		// Служебные операции
		admin := v1.Group("/admin")
		{
			admin.POST("/sweep", s.adminHandler.PostSweep)
			admin.GET("/events", s.adminHandler.GetEventDepth)
		}
	}

	// WebSocket поток событий
	s.router.GET("/ws/v1/events", s.wsHandler.HandleWebSocket)

	// Метрики Prometheus
	if s.config.Monitoring.MetricsEnabled {
		s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
}

// Router возвращает корневой HTTP обработчик сервера
func (s *Server) Router() http.Handler {
	return s.router
}

// Start запускает HTTP сервер и цикл вещания событий
func (s *Server) Start() error {
	go s.wsHandler.Run()

	s.logger.WithFields(map[string]interface{}{
		"address": s.config.Server.Address,
		"mode":    gin.Mode(),
	}).Info("Starting HTTP server")

	return s.httpServer.ListenAndServe()
}

// Shutdown корректное завершение сервера
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	err := s.httpServer.Shutdown(ctx)
	s.wsHandler.Stop()
	return err
}

// Health check endpoint
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
		"version":   "1.0.0",
	})
}

// ==================== Middleware ====================

// LoggerMiddleware логирование запросов
func LoggerMiddleware(logger *utils.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		// Обработка запроса
		c.Next()

		// Логирование
		latency := time.Since(start)
		status := c.Writer.Status()
		method := c.Request.Method
		path := c.Request.URL.Path
		clientIP := c.ClientIP()
		userAgent := c.Request.UserAgent()

		logger.WithFields(map[string]interface{}{
			"method":     method,
			"path":       path,
			"status":     status,
			"latency_ms": latency.Milliseconds(),
			"client_ip":  clientIP,
			"user_agent": userAgent,
		}).Info("HTTP request completed")
	}
}

// CORSMiddleware настройка CORS
func CORSMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     []string{"*"}, // В production указать конкретные домены
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"*"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

// RateLimitMiddleware ограничение частоты запросов
func RateLimitMiddleware() gin.HandlerFunc {
	limiter := rate.NewLimiter(rate.Limit(100), 200) // 100 req/sec, burst 200

	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"code":    "rate_limit_exceeded",
				"message": "Too many requests",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// SecurityHeadersMiddleware заголовки безопасности
func SecurityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Content-Security-Policy", "default-src 'self'")
		c.Next()
	}
}
