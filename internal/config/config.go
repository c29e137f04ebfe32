package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Режимы комбинирования множителей пересекающихся чувствительных зон
const (
	CombineProduct = "product"
	CombineMax     = "max"
)

// Config содержит конфигурацию приложения
type Config struct {
	Environment string
	Server      ServerConfig
	Redis       RedisConfig
	MQTT        MQTTConfig
	MySQL       MySQLConfig
	Airspace    AirspaceConfig
	Planner     PlannerConfig
	Separation  SeparationConfig
	Fleet       FleetConfig
	Sim         SimConfig
	Performance PerformanceConfig
	Monitoring  MonitoringConfig
}

// ServerConfig конфигурация HTTP сервера
type ServerConfig struct {
	Address      string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// RedisConfig конфигурация Redis
type RedisConfig struct {
	URL          string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
}

// MQTTConfig конфигурация MQTT
type MQTTConfig struct {
	URL          string
	ClientID     string
	Username     string
	Password     string
	CleanSession bool
	OrderMatters bool
	TopicPrefix  string
}

// MySQLConfig конфигурация MySQL (история миссий)
type MySQLConfig struct {
	DSN          string
	MaxIdleConns int
	MaxOpenConns int
}

// AirspaceConfig операционная зона и статические зоны воздушного пространства
type AirspaceConfig struct {
	MinLat           float64
	MaxLat           float64
	MinLon           float64
	MaxLon           float64
	MinAltitudeM     float64
	MaxAltitudeM     float64
	Zones            []ZoneSpec
	CombineMode      string
	GeohashPrecision int
}

// PlannerConfig параметры 4D планировщика и разрешения конфликтов
type PlannerConfig struct {
	GridResolutionM   float64
	TimeResolutionS   float64
	LookaheadS        float64
	NorthSouthLanesM  []float64
	EastWestLanesM    []float64
	CruiseSpeedMPS    float64
	MinSpeedMPS       float64
	MaxSpeedMPS       float64
	MaxExpansions     int
	DynamicPenalty    float64
	PenaltyGrowth     float64
	MaxResolveRetries int
	LoadingTime       time.Duration
	RequestTimeout    time.Duration
}

// SeparationConfig минимумы эшелонирования
type SeparationConfig struct {
	HorizontalM float64
	VerticalM   float64
}

// FleetConfig параметры флота и жизненного цикла миссий
type FleetConfig struct {
	Size                int
	BatteryCapacityWh   float64
	PowerConsumptionW   float64
	ArrivalRadiusM      float64
	MissionTimeout      time.Duration
	TelemetryStaleAfter time.Duration
	SweepSpec           string
}

// SimConfig параметры симулятора флота
type SimConfig struct {
	TickInterval    time.Duration
	RequestInterval time.Duration
	APIBaseURL      string
}

// PerformanceConfig конфигурация производительности
type PerformanceConfig struct {
	WorkerPoolSize        int
	MaxBatchSize          int
	BatchTimeout          time.Duration
	WebSocketPingInterval time.Duration
	WebSocketPongTimeout  time.Duration
}

// MonitoringConfig конфигурация мониторинга
type MonitoringConfig struct {
	MetricsEnabled bool
	MetricsPort    string
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	zones, err := loadZones()
	if err != nil {
		return nil, fmt.Errorf("zones: %w", err)
	}

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Address:      getEnv("SERVER_ADDRESS", ":8090"),
			Port:         getEnv("SERVER_PORT", "8090"),
			ReadTimeout:  getDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:  getDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Redis: RedisConfig{
			URL:          getEnv("REDIS_URL", "redis://localhost:6379"),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getInt("REDIS_DB", 0),
			PoolSize:     getInt("REDIS_POOL_SIZE", 100),
			MinIdleConns: getInt("REDIS_MIN_IDLE_CONNS", 10),
		},
		MQTT: MQTTConfig{
			URL:          getEnv("MQTT_URL", "tcp://localhost:1883"),
			ClientID:     getEnv("MQTT_CLIENT_ID", "utm-api"),
			Username:     getEnv("MQTT_USERNAME", ""),
			Password:     getEnv("MQTT_PASSWORD", ""),
			CleanSession: getBool("MQTT_CLEAN_SESSION", false),
			OrderMatters: getBool("MQTT_ORDER_MATTERS", false),
			TopicPrefix:  getEnv("MQTT_TOPIC_PREFIX", "utm/telemetry"),
		},
		MySQL: MySQLConfig{
			DSN:          getEnv("MYSQL_DSN", ""),
			MaxIdleConns: getInt("MYSQL_MAX_IDLE_CONNS", 10),
			MaxOpenConns: getInt("MYSQL_MAX_OPEN_CONNS", 100),
		},
		Airspace: AirspaceConfig{
			MinLat:           getFloat("OP_MIN_LAT", 37.60),
			MaxLat:           getFloat("OP_MAX_LAT", 37.80),
			MinLon:           getFloat("OP_MIN_LON", -122.45),
			MaxLon:           getFloat("OP_MAX_LON", -122.35),
			MinAltitudeM:     getFloat("MIN_ALTITUDE_M", 20),
			MaxAltitudeM:     getFloat("MAX_ALTITUDE_M", 120),
			Zones:            zones,
			CombineMode:      getEnv("GEOFENCE_COMBINE", CombineProduct),
			GeohashPrecision: getInt("GEOHASH_PRECISION", 6),
		},
		Planner: PlannerConfig{
			GridResolutionM:   getFloat("GRID_RESOLUTION_M", 50),
			TimeResolutionS:   getFloat("TIME_RESOLUTION_S", 5),
			LookaheadS:        getFloat("LOOKAHEAD_S", 300),
			NorthSouthLanesM:  getFloatSlice("LANES_NORTH_SOUTH_M", []float64{50, 90}),
			EastWestLanesM:    getFloatSlice("LANES_EAST_WEST_M", []float64{30, 70, 110}),
			CruiseSpeedMPS:    getFloat("DRONE_CRUISE_SPEED", 10),
			MinSpeedMPS:       getFloat("DRONE_MIN_SPEED", 3),
			MaxSpeedMPS:       getFloat("DRONE_MAX_SPEED", 15),
			MaxExpansions:     getInt("MAX_EXPANSIONS", 200000),
			DynamicPenalty:    getFloat("DYNAMIC_PENALTY", 1000),
			PenaltyGrowth:     getFloat("PENALTY_GROWTH", 4),
			MaxResolveRetries: getInt("MAX_RESOLVE_RETRIES", 3),
			LoadingTime:       getDuration("LOADING_TIME", 30*time.Second),
			RequestTimeout:    getDuration("REQUEST_TIMEOUT", 5*time.Second),
		},
		Separation: SeparationConfig{
			HorizontalM: getFloat("HORIZONTAL_SEPARATION_M", 30),
			VerticalM:   getFloat("VERTICAL_SEPARATION_M", 15),
		},
		Fleet: FleetConfig{
			Size:                getInt("FLEET_SIZE", 10),
			BatteryCapacityWh:   getFloat("DRONE_BATTERY_CAPACITY_WH", 3600),
			PowerConsumptionW:   getFloat("DRONE_POWER_CONSUMPTION_W", 200),
			ArrivalRadiusM:      getFloat("ARRIVAL_RADIUS_M", 5),
			MissionTimeout:      getDuration("MISSION_TIMEOUT", 600*time.Second),
			TelemetryStaleAfter: getDuration("TELEMETRY_STALE_AFTER", 30*time.Second),
			SweepSpec:           getEnv("SWEEP_SPEC", "@every 10s"),
		},
		Sim: SimConfig{
			TickInterval:    getDuration("SIM_TICK_INTERVAL", 500*time.Millisecond),
			RequestInterval: getDuration("SIM_REQUEST_INTERVAL", 30*time.Second),
			APIBaseURL:      getEnv("SIM_API_URL", "http://localhost:8090"),
		},
		Performance: PerformanceConfig{
			WorkerPoolSize:        getInt("WORKER_POOL_SIZE", 100),
			MaxBatchSize:          getInt("MAX_BATCH_SIZE", 100),
			BatchTimeout:          getDuration("BATCH_TIMEOUT", 5*time.Second),
			WebSocketPingInterval: getDuration("WEBSOCKET_PING_INTERVAL", 30*time.Second),
			WebSocketPongTimeout:  getDuration("WEBSOCKET_PONG_TIMEOUT", 60*time.Second),
		},
		Monitoring: MonitoringConfig{
			MetricsEnabled: getBool("METRICS_ENABLED", true),
			MetricsPort:    getEnv("METRICS_PORT", "9090"),
		},
	}

	// Валидация
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate проверяет корректность конфигурации
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("SERVER_PORT is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.MQTT.URL == "" {
		return fmt.Errorf("MQTT_URL is required")
	}

	// Операционная зона
	if c.Airspace.MinLat >= c.Airspace.MaxLat {
		return fmt.Errorf("OP_MIN_LAT must be less than OP_MAX_LAT")
	}
	if c.Airspace.MinLon >= c.Airspace.MaxLon {
		return fmt.Errorf("OP_MIN_LON must be less than OP_MAX_LON")
	}
	if c.Airspace.MinAltitudeM < 0 || c.Airspace.MinAltitudeM >= c.Airspace.MaxAltitudeM {
		return fmt.Errorf("altitude range [%0.f, %0.f] is invalid", c.Airspace.MinAltitudeM, c.Airspace.MaxAltitudeM)
	}
	if c.Airspace.CombineMode != CombineProduct && c.Airspace.CombineMode != CombineMax {
		return fmt.Errorf("GEOFENCE_COMBINE must be %q or %q", CombineProduct, CombineMax)
	}
	if c.Airspace.GeohashPrecision < 1 || c.Airspace.GeohashPrecision > 12 {
		return fmt.Errorf("GEOHASH_PRECISION must be between 1 and 12")
	}
	for _, z := range c.Airspace.Zones {
		if err := z.Validate(); err != nil {
			return err
		}
	}

	// Планировщик
	if c.Planner.GridResolutionM <= 0 {
		return fmt.Errorf("GRID_RESOLUTION_M must be positive")
	}
	if c.Planner.TimeResolutionS <= 0 {
		return fmt.Errorf("TIME_RESOLUTION_S must be positive")
	}
	if len(c.Planner.NorthSouthLanesM) == 0 || len(c.Planner.EastWestLanesM) == 0 {
		return fmt.Errorf("altitude lanes must not be empty")
	}
	for _, alt := range append(append([]float64{}, c.Planner.NorthSouthLanesM...), c.Planner.EastWestLanesM...) {
		if alt < c.Airspace.MinAltitudeM || alt > c.Airspace.MaxAltitudeM {
			return fmt.Errorf("altitude lane %.0f outside [%.0f, %.0f]", alt, c.Airspace.MinAltitudeM, c.Airspace.MaxAltitudeM)
		}
	}
	if c.Planner.MinSpeedMPS <= 0 || c.Planner.MinSpeedMPS > c.Planner.CruiseSpeedMPS || c.Planner.CruiseSpeedMPS > c.Planner.MaxSpeedMPS {
		return fmt.Errorf("drone speeds must satisfy 0 < min <= cruise <= max")
	}
	if c.Planner.MaxExpansions <= 0 {
		return fmt.Errorf("MAX_EXPANSIONS must be positive")
	}
	if c.Planner.PenaltyGrowth < 1 {
		return fmt.Errorf("PENALTY_GROWTH must be at least 1")
	}
	if c.Planner.MaxResolveRetries < 0 {
		return fmt.Errorf("MAX_RESOLVE_RETRIES must not be negative")
	}

	// Эшелонирование
	if c.Separation.HorizontalM <= 0 || c.Separation.VerticalM <= 0 {
		return fmt.Errorf("separation minima must be positive")
	}

	// Флот
	if c.Fleet.Size <= 0 {
		return fmt.Errorf("FLEET_SIZE must be positive")
	}
	if c.Fleet.BatteryCapacityWh <= 0 || c.Fleet.PowerConsumptionW <= 0 {
		return fmt.Errorf("battery parameters must be positive")
	}

	// Производительность
	if c.Performance.WorkerPoolSize <= 0 {
		return fmt.Errorf("WORKER_POOL_SIZE must be positive")
	}
	if c.Performance.MaxBatchSize <= 0 {
		return fmt.Errorf("MAX_BATCH_SIZE must be positive")
	}

	return nil
}

// SpeedMinRatio возвращает нижнюю границу коэффициента замедления
func (c *Config) SpeedMinRatio() float64 {
	return c.Planner.MinSpeedMPS / c.Planner.CruiseSpeedMPS
}

// Helper функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getFloatSlice(key string, defaultValue []float64) []float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]float64, 0, len(parts))
	for _, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return defaultValue
		}
		out = append(out, f)
	}
	return out
}

func getBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// LogLevel возвращает уровень логирования
func LogLevel() string {
	return getEnv("LOG_LEVEL", "info")
}

// LogFormat возвращает формат логирования
func LogFormat() string {
	return getEnv("LOG_FORMAT", "json")
}

// IsDevelopment проверяет, запущено ли приложение в режиме разработки
func IsDevelopment() bool {
	return getEnv("APP_ENV", "production") == "development"
}

// IsProduction проверяет, запущено ли приложение в production
func IsProduction() bool {
	return getEnv("APP_ENV", "production") == "production"
}
