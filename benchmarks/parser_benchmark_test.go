package benchmarks

// Бенчмарки парсера телеметрии MQTT
//
// Ожидаемые результаты (цели производительности):
// - Parse полного кадра: < 2µs (JSON с семью полями)
// - Parse минимального кадра: < 1.5µs
// - Отклонение мусора: < 1µs (до JSON доходить не должно только
//   на превышении размера)
//
// Парсер стоит на горячем пути приема: при 10 аппаратах и 2 Гц это
// 20 кадров/с, при нагрузочном тестировании до нескольких тысяч.

import (
	"fmt"
	"testing"
	"time"

	"github.com/flybeeper/utm-backend/internal/mqtt"
)

// Образцы кадров телеметрии
var (
	// Полный кадр со всеми полями
	fullFrame = []byte(`{"lat":37.7049,"lon":-122.4194,"alt_m":70.5,"battery_pct":82.5,"speed_mps":11.8,"heading_deg":272.4,"ts":1756100000}`)

	// Минимальный кадр: только обязательные координаты
	minimalFrame = []byte(`{"lat":37.7049,"lon":-122.4194}`)

	// Кадр без необязательных полей battery_pct и heading_deg
	partialFrame = []byte(`{"lat":37.7049,"lon":-122.4194,"alt_m":70.5,"speed_mps":11.8,"ts":1756100000}`)

	// Мусор вместо JSON
	garbageFrame = []byte(`{"lat":37.7049,"lon":`)
)

func benchParser() *mqtt.Parser {
	return mqtt.NewParser("utm/telemetry", benchLogger())
}

// BenchmarkParserParse разбор валидных кадров телеметрии
func BenchmarkParserParse(b *testing.B) {
	parser := benchParser()
	topic := "utm/telemetry/drone_001"

	testCases := []struct {
		name    string
		payload []byte
	}{
		{"Full", fullFrame},
		{"Minimal", minimalFrame},
		{"Partial", partialFrame},
	}

	for _, tc := range testCases {
		b.Run(tc.name, func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				if _, err := parser.Parse(topic, tc.payload); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkParserRejects отклонение невалидного входа
func BenchmarkParserRejects(b *testing.B) {
	parser := benchParser()

	b.Run("Garbage", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			if _, err := parser.Parse("utm/telemetry/drone_001", garbageFrame); err == nil {
				b.Fatal("expected parse error")
			}
		}
	})

	b.Run("WrongTopic", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			if _, err := parser.Parse("other/prefix/drone_001", fullFrame); err == nil {
				b.Fatal("expected topic error")
			}
		}
	})

	b.Run("OutOfRangeLatitude", func(b *testing.B) {
		payload := []byte(`{"lat":137.7,"lon":-122.4194}`)
		for i := 0; i < b.N; i++ {
			if _, err := parser.Parse("utm/telemetry/drone_001", payload); err == nil {
				b.Fatal("expected range error")
			}
		}
	})
}

// BenchmarkParserParallel разбор под конкурентной нагрузкой: парсер
// не держит состояния и не должен деградировать
func BenchmarkParserParallel(b *testing.B) {
	parser := benchParser()

	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			topic := fmt.Sprintf("utm/telemetry/drone_%03d", i%10+1)
			if _, err := parser.Parse(topic, fullFrame); err != nil {
				b.Fatal(err)
			}
			i++
		}
	})
}

// BenchmarkTelemetryLag вычисление запаздывания кадра
func BenchmarkTelemetryLag(b *testing.B) {
	parser := benchParser()
	msg, err := parser.Parse("utm/telemetry/drone_001", fullFrame)
	if err != nil {
		b.Fatal(err)
	}
	msg.ReceivedAt = time.Now()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = msg.Lag()
	}
}
