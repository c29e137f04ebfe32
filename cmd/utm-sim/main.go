package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/flybeeper/utm-backend/internal/config"
	"github.com/flybeeper/utm-backend/internal/models"
	"github.com/flybeeper/utm-backend/internal/mqtt"
	"github.com/flybeeper/utm-backend/pkg/utils"
)

var Version = "dev"

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := utils.NewLogger(config.LogLevel(), config.LogFormat())
	logger.WithFields(map[string]interface{}{
		"version":          Version,
		"api":              cfg.Sim.APIBaseURL,
		"tick_interval":    cfg.Sim.TickInterval.String(),
		"request_interval": cfg.Sim.RequestInterval.String(),
	}).Info("Starting fleet simulator")

	sim := NewSimulator(cfg, logger)

	// Телеметрия идет через MQTT; если брокер недоступен, симулятор
	// переключается на REST канал телеметрии.
	pubCfg := cfg.MQTT
	pubCfg.ClientID = cfg.MQTT.ClientID + "-sim"
	publisher, err := mqtt.NewPublisher(&pubCfg, logger)
	if err == nil {
		err = publisher.Connect()
	}
	if err != nil {
		logger.WithField("error", err).Warn("MQTT broker unavailable, publishing telemetry over REST")
	} else {
		sim.publisher = publisher
		defer publisher.Disconnect()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.WithField("signal", sig.String()).Info("Received shutdown signal")
		cancel()
	}()

	sim.Run(ctx)
	logger.Info("Fleet simulator stopped")
}

// Simulator гоняет аппараты по закоммиченным траекториям с частотой
// тика и периодически подает новые заявки на доставку. Продвижение фаз
// миссий не требует участия симулятора: диспетчер продвигает их сам по
// приходящей телеметрии.
type Simulator struct {
	cfg       *config.Config
	logger    *utils.Logger
	api       *apiClient
	publisher *mqtt.Client
	rng       *rand.Rand

	// Локальная модель заряда: в полете батарея расходуется, на земле
	// заряжается. Сервер видит только то, что сообщает телеметрия.
	battery map[string]float64
}

// chargeRatePctPerS скорость зарядки на земле
const chargeRatePctPerS = 0.5

// NewSimulator создает симулятор поверх REST API диспетчера
func NewSimulator(cfg *config.Config, logger *utils.Logger) *Simulator {
	return &Simulator{
		cfg:     cfg,
		logger:  logger,
		api:     newAPIClient(cfg.Sim.APIBaseURL),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		battery: make(map[string]float64),
	}
}

// Run крутит циклы телеметрии и генерации заявок до отмены контекста
func (s *Simulator) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Sim.TickInterval)
	defer ticker.Stop()

	requests := time.NewTicker(s.cfg.Sim.RequestInterval)
	defer requests.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		case <-requests.C:
			s.submitRandomDelivery()
		}
	}
}

// tick публикует один кадр телеметрии для каждого аппарата флота
func (s *Simulator) tick() {
	vehicles, err := s.api.vehicles()
	if err != nil {
		s.logger.WithField("error", err).Warn("Failed to fetch fleet state")
		return
	}

	missions, err := s.api.missions()
	if err != nil {
		s.logger.WithField("error", err).Warn("Failed to fetch missions")
		return
	}

	active := make(map[string]*models.Mission, len(missions))
	for i := range missions {
		m := &missions[i]
		if m.Active() && m.Trajectory != nil {
			active[m.VehicleID] = m
		}
	}

	now := float64(time.Now().UnixNano()) / 1e9
	for i := range vehicles {
		v := &vehicles[i]
		frame := s.frameFor(v, active[v.ID], now)
		if err := s.publish(v.ID, frame); err != nil {
			s.logger.WithFields(map[string]interface{}{
				"vehicle_id": v.ID,
				"error":      err,
			}).Warn("Failed to publish telemetry")
		}
	}
}

// frameFor вычисляет кадр телеметрии аппарата на момент now.
// В полете позиция берется с траектории, на земле аппарат стоит на
// месте и заряжается.
func (s *Simulator) frameFor(v *models.Vehicle, m *models.Mission, now float64) telemetryFrame {
	wp := models.Waypoint{Point4D: v.Position, HeadingDeg: v.HeadingDeg}

	if m != nil {
		if sample, ok := m.Trajectory.SampleAt(now); ok {
			wp = sample
		} else if now > m.Trajectory.EndUnix() {
			// Траектория отлетана: держим аппарат в конечной точке,
			// пока диспетчер не закроет миссию
			wp = m.Trajectory.Last()
			wp.SpeedMPS = 0
		}
	}

	return telemetryFrame{
		Latitude:   wp.Latitude,
		Longitude:  wp.Longitude,
		AltitudeM:  wp.AltitudeM,
		BatteryPct: s.drainBattery(v, wp.SpeedMPS),
		SpeedMPS:   wp.SpeedMPS,
		HeadingDeg: wp.HeadingDeg,
		Timestamp:  time.Now().Unix(),
	}
}

// drainBattery продвигает локальную модель заряда аппарата на один тик
func (s *Simulator) drainBattery(v *models.Vehicle, speedMPS float64) float64 {
	level, ok := s.battery[v.ID]
	if !ok {
		level = v.BatteryPct
	}

	if speedMPS > 0 {
		level -= models.EstimateBatteryUsage(s.cfg.Sim.TickInterval,
			s.cfg.Fleet.PowerConsumptionW, s.cfg.Fleet.BatteryCapacityWh)
	} else {
		level += chargeRatePctPerS * s.cfg.Sim.TickInterval.Seconds()
	}

	if level < 0 {
		level = 0
	}
	if level > 100 {
		level = 100
	}
	s.battery[v.ID] = level
	return level
}

// publish отправляет кадр телеметрии через MQTT либо REST
func (s *Simulator) publish(vehicleID string, frame telemetryFrame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	if s.publisher != nil && s.publisher.IsConnected() {
		topic := s.cfg.MQTT.TopicPrefix + "/" + vehicleID
		return s.publisher.PublishMessage(topic, payload, 0, false)
	}
	return s.api.postTelemetry(vehicleID, payload)
}

// submitRandomDelivery подает заявку на доставку между двумя случайными
// точками операционной зоны. Отказ из-за занятости флота не ошибка:
// заявка просто не попала в окно.
func (s *Simulator) submitRandomDelivery() {
	for attempt := 0; attempt < 3; attempt++ {
		pickup := s.randomPoint()
		delivery := s.randomPoint()
		if !s.farEnough(pickup, delivery) {
			continue
		}

		mission, err := s.api.postDelivery(pickup, delivery)
		if err != nil {
			var apiErr *apiError
			if errors.As(err, &apiErr) && apiErr.Code == "no_vehicle" {
				s.logger.Debug("Fleet saturated, delivery request dropped")
				return
			}
			s.logger.WithFields(map[string]interface{}{
				"attempt": attempt + 1,
				"error":   err,
			}).Warn("Delivery request rejected")
			continue
		}

		s.logger.WithFields(map[string]interface{}{
			"mission_id": mission.ID,
			"vehicle_id": mission.VehicleID,
		}).Info("Delivery request accepted")
		return
	}
}

// randomPoint возвращает точку внутри операционной зоны с отступом от
// краев, чтобы планировщику было где маневрировать
func (s *Simulator) randomPoint() models.GeoPoint {
	a := s.cfg.Airspace
	latSpan := a.MaxLat - a.MinLat
	lonSpan := a.MaxLon - a.MinLon
	return models.GeoPoint{
		Latitude:  a.MinLat + latSpan*(0.1+0.8*s.rng.Float64()),
		Longitude: a.MinLon + lonSpan*(0.1+0.8*s.rng.Float64()),
	}
}

// farEnough отбрасывает вырожденные пары точек ближе десятой части зоны
func (s *Simulator) farEnough(p1, p2 models.GeoPoint) bool {
	a := s.cfg.Airspace
	dLat := (p2.Latitude - p1.Latitude) / (a.MaxLat - a.MinLat)
	dLon := (p2.Longitude - p1.Longitude) / (a.MaxLon - a.MinLon)
	return dLat*dLat+dLon*dLon >= 0.01
}

// telemetryFrame полезная нагрузка телеметрии, общая для MQTT топика
// и REST канала
type telemetryFrame struct {
	Latitude   float64 `json:"lat"`
	Longitude  float64 `json:"lon"`
	AltitudeM  float64 `json:"alt_m"`
	BatteryPct float64 `json:"battery_pct"`
	SpeedMPS   float64 `json:"speed_mps"`
	HeadingDeg float64 `json:"heading_deg"`
	Timestamp  int64   `json:"ts"`
}

// apiClient тонкий клиент REST API диспетчера
type apiClient struct {
	baseURL string
	client  *http.Client
}

// apiError ошибка API с кодом из тела ответа
type apiError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("api error %d (%s): %s", e.Status, e.Code, e.Message)
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *apiClient) vehicles() ([]models.Vehicle, error) {
	var envelope struct {
		Vehicles []models.Vehicle `json:"vehicles"`
	}
	if err := c.get("/api/v1/vehicles", &envelope); err != nil {
		return nil, err
	}
	return envelope.Vehicles, nil
}

func (c *apiClient) missions() ([]models.Mission, error) {
	var envelope struct {
		Missions []models.Mission `json:"missions"`
	}
	if err := c.get("/api/v1/missions", &envelope); err != nil {
		return nil, err
	}
	return envelope.Missions, nil
}

func (c *apiClient) postTelemetry(vehicleID string, payload []byte) error {
	url := c.baseURL + "/api/v1/vehicles/" + vehicleID + "/telemetry"
	resp, err := c.client.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *apiClient) postDelivery(pickup, delivery models.GeoPoint) (*models.Mission, error) {
	body, err := json.Marshal(map[string]models.GeoPoint{
		"pickup":   pickup,
		"delivery": delivery,
	})
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Post(c.baseURL+"/api/v1/deliveries", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, decodeError(resp)
	}

	var mission models.Mission
	if err := json.NewDecoder(resp.Body).Decode(&mission); err != nil {
		return nil, err
	}
	return &mission, nil
}

func (c *apiClient) get(path string, out interface{}) error {
	resp, err := c.client.Get(c.baseURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeError(resp *http.Response) error {
	apiErr := &apiError{Status: resp.StatusCode}
	if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Code == "" {
		apiErr.Code = "unknown"
		apiErr.Message = resp.Status
	}
	return apiErr
}
