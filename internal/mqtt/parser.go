package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/flybeeper/utm-backend/internal/models"
	"github.com/flybeeper/utm-backend/pkg/utils"
)

// maxPayloadBytes телеметрия крупнее отбрасывается без парсинга
const maxPayloadBytes = 1024

// TelemetryMessage распарсенное телеметрическое сообщение аппарата
type TelemetryMessage struct {
	VehicleID  string         `json:"vehicle_id"`
	Position   models.Point4D `json:"position"`
	BatteryPct float64        `json:"battery_pct"`
	SpeedMPS   float64        `json:"speed_mps"`
	HeadingDeg float64        `json:"heading_deg"`
	SentAt     time.Time      `json:"sent_at"`
	ReceivedAt time.Time      `json:"received_at"`
}

// Lag возвращает запаздывание сообщения относительно времени приема
func (m *TelemetryMessage) Lag() time.Duration {
	return m.ReceivedAt.Sub(m.SentAt)
}

// telemetryWire формат полезной нагрузки топика {prefix}/{vehicle_id}.
// Указатели отличают отсутствующие поля от нулевых значений.
type telemetryWire struct {
	Latitude   *float64 `json:"lat"`
	Longitude  *float64 `json:"lon"`
	AltitudeM  float64  `json:"alt_m"`
	BatteryPct *float64 `json:"battery_pct"`
	SpeedMPS   float64  `json:"speed_mps"`
	HeadingDeg *float64 `json:"heading_deg"`
	Timestamp  int64    `json:"ts"`
}

// Parser парсер телеметрии из MQTT сообщений
type Parser struct {
	prefix string
	logger *utils.Logger
}

// NewParser создает новый парсер телеметрии
func NewParser(topicPrefix string, logger *utils.Logger) *Parser {
	return &Parser{
		prefix: strings.TrimSuffix(topicPrefix, "/"),
		logger: logger,
	}
}

// Parse разбирает MQTT сообщение с топиком вида {prefix}/{vehicle_id}
func (p *Parser) Parse(topic string, payload []byte) (*TelemetryMessage, error) {
	vehicleID, err := p.vehicleIDFromTopic(topic)
	if err != nil {
		return nil, err
	}

	if len(payload) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	if len(payload) > maxPayloadBytes {
		return nil, fmt.Errorf("payload too large: %d bytes", len(payload))
	}

	var wire telemetryWire
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, fmt.Errorf("malformed telemetry: %w", err)
	}

	if wire.Latitude == nil || wire.Longitude == nil {
		return nil, fmt.Errorf("lat and lon are required")
	}
	lat, lon := *wire.Latitude, *wire.Longitude
	if lat < -90 || lat > 90 {
		return nil, fmt.Errorf("invalid latitude: %f", lat)
	}
	if lon < -180 || lon > 180 {
		return nil, fmt.Errorf("invalid longitude: %f", lon)
	}

	now := time.Now().UTC()
	sentAt := now
	if wire.Timestamp > 0 {
		sentAt = time.Unix(wire.Timestamp, 0).UTC()
	}

	// Отсутствующие необязательные поля кодируются значениями вне
	// допустимых диапазонов: хранилище сохранит прежние показания.
	battery := -1.0
	if wire.BatteryPct != nil {
		battery = *wire.BatteryPct
	}
	heading := -1.0
	if wire.HeadingDeg != nil {
		heading = *wire.HeadingDeg
	}

	return &TelemetryMessage{
		VehicleID: vehicleID,
		Position: models.Point4D{
			Latitude:  lat,
			Longitude: lon,
			AltitudeM: wire.AltitudeM,
			TimeS:     float64(sentAt.Unix()),
		},
		BatteryPct: battery,
		SpeedMPS:   wire.SpeedMPS,
		HeadingDeg: heading,
		SentAt:     sentAt,
		ReceivedAt: now,
	}, nil
}

// vehicleIDFromTopic извлекает идентификатор аппарата из топика
func (p *Parser) vehicleIDFromTopic(topic string) (string, error) {
	if !strings.HasPrefix(topic, p.prefix+"/") {
		return "", fmt.Errorf("invalid topic format: %s", topic)
	}
	id := topic[len(p.prefix)+1:]
	if id == "" || strings.ContainsRune(id, '/') {
		return "", fmt.Errorf("invalid vehicle id in topic: %s", topic)
	}
	return id, nil
}
