package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Конфигурация тестовых данных
type TestConfig struct {
	BrokerURL    string
	TopicPrefix  string
	VehicleCount int
	PublishRate  time.Duration
	MaxMessages  int
	ClientID     string
	RandomSeed   int64
	MinLat       float64
	MaxLat       float64
	MinLon       float64
	MaxLon       float64
	CruiseSpeed  float64 // м/с
}

// TestPublisher публикует тестовую телеметрию аппаратов
type TestPublisher struct {
	client mqtt.Client
	config *TestConfig
	rand   *rand.Rand
	drones map[string]*DroneState // Состояние симулированных аппаратов
}

// DroneState состояние симулированного аппарата для реалистичного движения
type DroneState struct {
	VehicleID  string
	Latitude   float64
	Longitude  float64
	AltitudeM  float64
	SpeedMPS   float64
	HeadingDeg float64
	BatteryPct float64
	LastUpdate time.Time
}

func main() {
	// Параметры командной строки
	var (
		brokerURL   = flag.String("broker", "tcp://localhost:1883", "MQTT broker URL")
		prefix      = flag.String("prefix", "utm/telemetry", "Topic prefix")
		vehicles    = flag.Int("vehicles", 10, "Number of simulated vehicles")
		rate        = flag.Duration("rate", 500*time.Millisecond, "Publish rate per vehicle")
		maxMessages = flag.Int("max", 0, "Max messages (0 = unlimited)")
		clientID    = flag.String("client", "utm-test-publisher", "MQTT client ID")
		seed        = flag.Int64("seed", time.Now().UnixNano(), "Random seed")
		minLat      = flag.Float64("min-lat", 37.60, "Operating area min latitude")
		maxLat      = flag.Float64("max-lat", 37.80, "Operating area max latitude")
		minLon      = flag.Float64("min-lon", -122.45, "Operating area min longitude")
		maxLon      = flag.Float64("max-lon", -122.35, "Operating area max longitude")
		speed       = flag.Float64("speed", 10.0, "Cruise speed m/s")
	)
	flag.Parse()

	config := &TestConfig{
		BrokerURL:    *brokerURL,
		TopicPrefix:  *prefix,
		VehicleCount: *vehicles,
		PublishRate:  *rate,
		MaxMessages:  *maxMessages,
		ClientID:     *clientID,
		RandomSeed:   *seed,
		MinLat:       *minLat,
		MaxLat:       *maxLat,
		MinLon:       *minLon,
		MaxLon:       *maxLon,
		CruiseSpeed:  *speed,
	}

	// Создание и запуск тестового издателя
	publisher, err := NewTestPublisher(config)
	if err != nil {
		log.Fatalf("Ошибка создания издателя: %v", err)
	}

	fmt.Printf("🚀 Начинаем публикацию тестовой телеметрии\n")
	fmt.Printf("📡 Брокер: %s\n", config.BrokerURL)
	fmt.Printf("🛩  Аппаратов: %d\n", config.VehicleCount)
	fmt.Printf("⏱  Частота: %v на аппарат\n", config.PublishRate)
	fmt.Printf("🌍 Зона: [%.2f, %.2f] x [%.2f, %.2f]\n",
		config.MinLat, config.MaxLat, config.MinLon, config.MaxLon)
	if config.MaxMessages > 0 {
		fmt.Printf("🔢 Максимум сообщений: %d\n", config.MaxMessages)
	}
	fmt.Println()

	// Обработка сигналов для graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Запуск издателя
	done := make(chan bool)
	go func() {
		publisher.Start()
		done <- true
	}()

	select {
	case <-sigChan:
		fmt.Println("\n⏹  Получен сигнал завершения...")
		publisher.Stop()
	case <-done:
		fmt.Println("\n✅ Публикация завершена")
	}

	fmt.Println("👋 До свидания!")
}

// NewTestPublisher создает новый тестовый издатель
func NewTestPublisher(config *TestConfig) (*TestPublisher, error) {
	// Создание MQTT клиента
	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.BrokerURL)
	opts.SetClientID(config.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)

	client := mqtt.NewClient(opts)

	// Подключение к брокеру
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("ошибка подключения к MQTT брокеру: %w", token.Error())
	}

	fmt.Println("✅ Подключен к MQTT брокеру")

	// Инициализация состояния аппаратов. Идентификаторы совпадают со
	// стартовым флотом диспетчера, поэтому телеметрия попадает на
	// зарегистрированные аппараты.
	rng := rand.New(rand.NewSource(config.RandomSeed))
	drones := make(map[string]*DroneState)

	for i := 1; i <= config.VehicleCount; i++ {
		vehicleID := fmt.Sprintf("drone_%03d", i)
		drones[vehicleID] = &DroneState{
			VehicleID:  vehicleID,
			Latitude:   config.MinLat + rng.Float64()*(config.MaxLat-config.MinLat),
			Longitude:  config.MinLon + rng.Float64()*(config.MaxLon-config.MinLon),
			AltitudeM:  30 + rng.Float64()*80, // 30-110м
			SpeedMPS:   config.CruiseSpeed * (0.5 + rng.Float64()),
			HeadingDeg: rng.Float64() * 360,
			BatteryPct: 50 + rng.Float64()*50, // 50-100%
			LastUpdate: time.Now(),
		}
	}

	return &TestPublisher{
		client: client,
		config: config,
		rand:   rng,
		drones: drones,
	}, nil
}

// Start запускает публикацию сообщений
func (p *TestPublisher) Start() {
	messageCount := 0
	ticker := time.NewTicker(p.config.PublishRate)
	defer ticker.Stop()

	for range ticker.C {
		// Публикуем телеметрию для каждого аппарата
		for _, drone := range p.drones {
			// Обновляем состояние аппарата для реалистичности
			p.updateDroneState(drone)

			// Создаем и публикуем сообщение
			if err := p.publishTelemetry(drone); err != nil {
				log.Printf("❌ Ошибка публикации: %v", err)
			} else {
				messageCount++
				if messageCount%100 == 0 {
					fmt.Printf("📤 Опубликовано сообщений: %d\n", messageCount)
				}
			}

			// Проверяем лимит сообщений
			if p.config.MaxMessages > 0 && messageCount >= p.config.MaxMessages {
				fmt.Printf("🏁 Достигнут лимит сообщений: %d\n", messageCount)
				return
			}
		}
	}
}

// Stop останавливает издателя
func (p *TestPublisher) Stop() {
	if p.client.IsConnected() {
		p.client.Disconnect(1000)
		fmt.Println("🔌 Отключен от MQTT брокера")
	}
}

// updateDroneState обновляет состояние аппарата для симуляции движения
func (p *TestPublisher) updateDroneState(drone *DroneState) {
	now := time.Now()
	dt := now.Sub(drone.LastUpdate).Seconds()
	drone.LastUpdate = now

	// Симуляция движения
	distance := drone.SpeedMPS * dt // метры

	// Обновление позиции (упрощенно, без учета кривизны Земли)
	headingRad := drone.HeadingDeg * math.Pi / 180
	latDelta := distance * math.Cos(headingRad) / 111111.0 // ~111км на градус
	lonDelta := distance * math.Sin(headingRad) / (111111.0 * math.Cos(drone.Latitude*math.Pi/180))

	drone.Latitude += latDelta
	drone.Longitude += lonDelta

	// Разворот на границе зоны
	if drone.Latitude < p.config.MinLat || drone.Latitude > p.config.MaxLat ||
		drone.Longitude < p.config.MinLon || drone.Longitude > p.config.MaxLon {
		drone.HeadingDeg = math.Mod(drone.HeadingDeg+180, 360)
		drone.Latitude = clamp(drone.Latitude, p.config.MinLat, p.config.MaxLat)
		drone.Longitude = clamp(drone.Longitude, p.config.MinLon, p.config.MaxLon)
	}

	// Случайные изменения параметров
	if p.rand.Float64() < 0.1 { // 10% вероятность изменения курса
		drone.HeadingDeg = math.Mod(drone.HeadingDeg+float64(p.rand.Intn(60)-30)+360, 360)
	}

	if p.rand.Float64() < 0.1 { // 10% вероятность изменения скорости
		drone.SpeedMPS = clamp(drone.SpeedMPS+p.rand.Float64()*4-2, 3, 15)
	}

	// Высота плавает в допустимом диапазоне
	drone.AltitudeM = clamp(drone.AltitudeM+p.rand.Float64()*4-2, 20, 120)

	// Батарея медленно разряжается
	drone.BatteryPct = clamp(drone.BatteryPct-0.01*dt, 0, 100)
}

// publishTelemetry публикует JSON телеметрию в топик {prefix}/{vehicle_id}
func (p *TestPublisher) publishTelemetry(drone *DroneState) error {
	topic := fmt.Sprintf("%s/%s", p.config.TopicPrefix, drone.VehicleID)

	// Необязательные поля иногда опускаем: парсер должен сохранять
	// прежние показания аппарата
	frame := map[string]interface{}{
		"lat":       drone.Latitude,
		"lon":       drone.Longitude,
		"alt_m":     drone.AltitudeM,
		"speed_mps": drone.SpeedMPS,
		"ts":        time.Now().Unix(),
	}
	if p.rand.Float64() > 0.1 {
		frame["battery_pct"] = drone.BatteryPct
	}
	if p.rand.Float64() > 0.1 {
		frame["heading_deg"] = drone.HeadingDeg
	}

	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("ошибка сериализации: %w", err)
	}

	// Публикация сообщения
	token := p.client.Publish(topic, 0, false, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("ошибка публикации в топик %s: %w", topic, token.Error())
	}

	return nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
