package benchmarks

// Redis бенчмарки зеркала флота
//
// Для запуска требуется Redis сервер:
// docker run -d -p 6379:6379 redis:alpine
// или:
// make dev-env  # Поднимает Redis + MQTT + MySQL
//
// Ожидаемые результаты:
// - SaveVehicle (pipeline GEOADD+HSET+LPUSH): < 1ms
// - GetVehicle: < 500µs
// - GetVehiclesInRadius (100 аппаратов, 5км): < 5ms
// - SaveMission: < 500µs

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/flybeeper/utm-backend/internal/config"
	"github.com/flybeeper/utm-backend/internal/models"
	"github.com/flybeeper/utm-backend/internal/repository"
)

// setupRepoForBenchmark подключается к локальному Redis, тестовая БД 15
func setupRepoForBenchmark(b *testing.B) *repository.RedisRepository {
	b.Helper()

	repo, err := repository.NewRedisRepository(&config.RedisConfig{
		URL:          "redis://localhost:6379",
		DB:           15,
		PoolSize:     10,
		MinIdleConns: 2,
	}, benchLogger())
	if err != nil {
		b.Skip("Redis repository init failed:", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := repo.Ping(ctx); err != nil {
		b.Skip("Redis not available:", err)
	}

	repo.GetClient().FlushDB(context.Background())
	return repo
}

func benchVehicle(id string, lat, lon float64) *models.Vehicle {
	return &models.Vehicle{
		ID:         id,
		State:      models.VehicleInFlight,
		Position:   models.Point4D{Latitude: lat, Longitude: lon, AltitudeM: 70, TimeS: float64(time.Now().Unix())},
		BatteryPct: 82.5,
		SpeedMPS:   11.8,
		HeadingDeg: 272.4,
		MissionID:  "mission-bench",
		LastUpdate: time.Now().UTC(),
	}
}

// BenchmarkRedisSaveVehicle пайплайн записи аппарата: гео-индекс, хеш,
// точка трека
func BenchmarkRedisSaveVehicle(b *testing.B) {
	repo := setupRepoForBenchmark(b)
	defer repo.Close()

	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		v := benchVehicle(fmt.Sprintf("drone_%04d", i%100), 37.70, -122.40)
		if err := repo.SaveVehicle(ctx, v); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkRedisGetVehicle чтение одного аппарата из хеша
func BenchmarkRedisGetVehicle(b *testing.B) {
	repo := setupRepoForBenchmark(b)
	defer repo.Close()

	ctx := context.Background()
	if err := repo.SaveVehicle(ctx, benchVehicle("drone_0001", 37.70, -122.40)); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		v, err := repo.GetVehicle(ctx, "drone_0001")
		if err != nil {
			b.Fatal(err)
		}
		if v == nil {
			b.Fatal("vehicle not found")
		}
	}
}

// BenchmarkRedisGetVehiclesInRadius гео-запрос с дочтением хешей
func BenchmarkRedisGetVehiclesInRadius(b *testing.B) {
	repo := setupRepoForBenchmark(b)
	defer repo.Close()

	ctx := context.Background()

	// Флот из 100 аппаратов, разбросанных по операционной зоне
	for i := 0; i < 100; i++ {
		lat := 37.62 + float64(i%10)*0.015
		lon := -122.44 + float64(i/10)*0.008
		if err := repo.SaveVehicle(ctx, benchVehicle(fmt.Sprintf("drone_%04d", i), lat, lon)); err != nil {
			b.Fatal(err)
		}
	}

	center := models.GeoPoint{Latitude: 37.70, Longitude: -122.40}

	for _, radiusKm := range []float64{2, 5, 20} {
		b.Run(fmt.Sprintf("%.0fkm", radiusKm), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				if _, err := repo.GetVehiclesInRadius(ctx, center, radiusKm); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkRedisSaveMission сериализация и запись миссии
func BenchmarkRedisSaveMission(b *testing.B) {
	repo := setupRepoForBenchmark(b)
	defer repo.Close()

	ctx := context.Background()
	mission := &models.Mission{
		ID:         "mission-bench",
		VehicleID:  "drone_0001",
		Pickup:     models.GeoPoint{Latitude: 37.70, Longitude: -122.42},
		Delivery:   models.GeoPoint{Latitude: 37.72, Longitude: -122.38},
		Phase:      models.MissionCarrying,
		Trajectory: syntheticTrajectory(time.Now(), 37.70, -122.42, -122.38, 70),
		BatteryPct: 4.2,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := repo.SaveMission(ctx, mission); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkRedisSaveSnapshot запись снапшота воздушного пространства
func BenchmarkRedisSaveSnapshot(b *testing.B) {
	repo := setupRepoForBenchmark(b)
	defer repo.Close()

	ctx := context.Background()
	// Типичный размер: 10 аппаратов + 5 миссий с траекториями
	snapshot := make([]byte, 32*1024)
	for i := range snapshot {
		snapshot[i] = byte(i)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := repo.SaveSnapshot(ctx, snapshot); err != nil {
			b.Fatal(err)
		}
	}
}
