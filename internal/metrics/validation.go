package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TelemetryAccepted количество принятых телеметрических сообщений
	TelemetryAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "utm_telemetry_accepted_total",
		Help: "Number of telemetry messages that passed validation",
	})

	// TelemetryRejected количество отклоненной телеметрии по причинам:
	// вердикты санитарной цепочки (clock_skew, stale_frame, out_of_order,
	// duplicate, implausible_jump) и отказы ядра (unknown_vehicle,
	// invalid_position)
	TelemetryRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "utm_telemetry_rejected_total",
		Help: "Number of telemetry messages rejected by validation",
	}, []string{"reason"})

	// TelemetryLag запаздывание телеметрии относительно времени приема
	TelemetryLag = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "utm_telemetry_lag_seconds",
		Help:    "Delay between the telemetry timestamp and ingestion",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	})
)
