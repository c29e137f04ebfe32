package service

import (
	"errors"

	"github.com/flybeeper/utm-backend/internal/core"
	"github.com/flybeeper/utm-backend/internal/filter"
	"github.com/flybeeper/utm-backend/internal/metrics"
	"github.com/flybeeper/utm-backend/internal/mqtt"
	"github.com/flybeeper/utm-backend/pkg/utils"
)

// TelemetryIngestor принимает разобранную телеметрию из MQTT, прогоняет
// ее через санитарную цепочку и применяет к ядру. Продвижение фаз
// миссий происходит внутри диспетчера.
type TelemetryIngestor struct {
	dispatcher *core.Dispatcher
	chain      *filter.Chain
	logger     *utils.Logger
}

// NewTelemetryIngestor создает обработчик входящей телеметрии.
// chain == nil отключает санитарную фильтрацию.
func NewTelemetryIngestor(dispatcher *core.Dispatcher, chain *filter.Chain, logger *utils.Logger) *TelemetryIngestor {
	return &TelemetryIngestor{
		dispatcher: dispatcher,
		chain:      chain,
		logger:     logger.WithField("component", "ingest"),
	}
}

// Handle применяет одно сообщение телеметрии. Отбракованные цепочкой
// кадры отбрасываются молча: для потока это штатная ситуация.
// Сообщения незнакомых аппаратов отклоняются: регистрация флота идет
// через диспетчер, а не через поток телеметрии.
func (i *TelemetryIngestor) Handle(msg *mqtt.TelemetryMessage) error {
	metrics.TelemetryLag.Observe(msg.Lag().Seconds())

	frame := &filter.Frame{
		VehicleID:  msg.VehicleID,
		Position:   msg.Position,
		SpeedMPS:   msg.SpeedMPS,
		SentAt:     msg.SentAt,
		ReceivedAt: msg.ReceivedAt,
	}
	if i.chain != nil {
		if verdict := i.chain.Check(frame); verdict.Reject {
			metrics.TelemetryRejected.WithLabelValues(verdict.Reason).Inc()
			return nil
		}
	}

	_, err := i.dispatcher.UpdateVehicleTelemetry(
		msg.VehicleID, msg.Position, msg.BatteryPct, msg.SpeedMPS, msg.HeadingDeg)
	if err != nil {
		reason := "invalid_position"
		if errors.Is(err, core.ErrUnknownVehicle) {
			reason = "unknown_vehicle"
		}
		metrics.TelemetryRejected.WithLabelValues(reason).Inc()

		i.logger.WithFields(map[string]interface{}{
			"vehicle_id": msg.VehicleID,
			"reason":     reason,
			"error":      err,
		}).Debug("Telemetry update rejected")
		return err
	}

	if i.chain != nil {
		i.chain.Accept(frame)
	}
	metrics.TelemetryAccepted.Inc()
	return nil
}
