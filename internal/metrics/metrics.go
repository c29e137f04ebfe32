package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP метрики
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "utm_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "utm_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	// Метрики миссий
	MissionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "utm_missions_created_total",
			Help: "Total number of committed delivery missions",
		},
	)

	MissionsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "utm_missions_failed_total",
			Help: "Total number of failed or rejected missions",
		},
		[]string{"reason"}, // no_vehicle, unroutable, resolution, timeout, stale_vehicle, manual
	)

	// Метрики планировщика
	PlanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "utm_planner_duration_seconds",
			Help:    "Duration of a full mission planning pass in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	PlannerExpansions = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "utm_planner_expansions",
			Help:    "Number of A* node expansions per planned mission",
			Buckets: []float64{100, 500, 1000, 5000, 10000, 50000, 100000, 200000},
		},
	)

	// Метрики конфликтов
	ConflictsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "utm_conflicts_detected_total",
			Help: "Total number of separation violations detected",
		},
		[]string{"severity"}, // critical, warning, minor
	)

	ConflictsResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "utm_conflicts_resolved_total",
			Help: "Total number of conflicts resolved, by strategy",
		},
		[]string{"strategy"}, // altitude, speed, replan
	)

	// Метрики флота и воздушного пространства
	VehiclesByState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "utm_vehicles",
			Help: "Number of fleet vehicles by state",
		},
		[]string{"state"},
	)

	ActiveTrajectories = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "utm_active_trajectories",
			Help: "Number of committed trajectories occupying airspace",
		},
	)

	// Телеметрия, примененная ядром любым путем (MQTT или REST).
	// Метрики санитарной проверки входного потока живут в validation.go.
	TelemetryUpdates = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "utm_telemetry_updates_total",
			Help: "Total number of vehicle telemetry updates applied",
		},
	)

	EventStreamDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "utm_event_stream_depth",
			Help: "Number of events not yet consumed by the slowest subscriber",
		},
	)

	// WebSocket метрики
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "utm_websocket_connections_active",
			Help: "Number of active WebSocket connections",
		},
	)

	WebSocketMessagesOut = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "utm_websocket_messages_out_total",
			Help: "Total number of WebSocket messages sent",
		},
		[]string{"type"},
	)

	WebSocketErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "utm_websocket_errors_total",
			Help: "Total number of WebSocket errors",
		},
	)

	// MQTT метрики
	MQTTMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "utm_mqtt_messages_received_total",
			Help: "Total number of MQTT messages received",
		},
		[]string{"topic_kind"},
	)

	MQTTParseErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "utm_mqtt_parse_errors_total",
			Help: "Total number of MQTT message parse errors",
		},
	)

	MQTTConnectionStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "utm_mqtt_connection_status",
			Help: "MQTT connection status (1 = connected, 0 = disconnected)",
		},
	)

	// Redis метрики
	RedisOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "utm_redis_operation_duration_seconds",
			Help:    "Duration of Redis operations in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	RedisOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "utm_redis_operation_errors_total",
			Help: "Total number of Redis operation errors",
		},
		[]string{"operation"},
	)

	RedisConnectionStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "utm_redis_connection_status",
			Help: "Redis connection status (1 = connected, 0 = disconnected)",
		},
	)

	// MySQL метрики исторического архива
	MySQLBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "utm_mysql_batch_size",
			Help:    "Size of MySQL mission history batch inserts",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		},
	)

	MySQLBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "utm_mysql_batch_duration_seconds",
			Help:    "Duration of MySQL batch operations in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	MySQLQueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "utm_mysql_queue_size",
			Help: "Current size of the MySQL writer queue",
		},
	)

	MySQLWriteErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "utm_mysql_write_errors_total",
			Help: "Total number of MySQL write errors",
		},
	)

	MySQLConnectionStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "utm_mysql_connection_status",
			Help: "MySQL connection status (1 = connected, 0 = disconnected)",
		},
	)

	// Общие метрики приложения
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "utm_app_info",
			Help: "Application information",
		},
		[]string{"version", "commit", "build_time"},
	)
)

// SetAppInfo устанавливает информацию о версии приложения
func SetAppInfo(version, commit, buildTime string) {
	AppInfo.WithLabelValues(version, commit, buildTime).Set(1)
}
