package filter

import (
	"time"

	"github.com/flybeeper/utm-backend/internal/models"
)

// Причины отбраковки кадров. Используются как метки метрики
// отклоненной телеметрии.
const (
	ReasonClockSkew       = "clock_skew"
	ReasonStaleFrame      = "stale_frame"
	ReasonOutOfOrder      = "out_of_order"
	ReasonDuplicate       = "duplicate"
	ReasonImplausibleJump = "implausible_jump"
)

// Frame кадр телеметрии на санитарной проверке
type Frame struct {
	VehicleID  string
	Position   models.Point4D
	SpeedMPS   float64
	SentAt     time.Time
	ReceivedAt time.Time
}

// Verdict решение фильтра по кадру
type Verdict struct {
	Reject bool
	Filter string // имя сработавшего фильтра
	Reason string // метка причины для метрик
	Detail string // пояснение для логов
}

// Accept пропускает кадр дальше по цепочке
func Accept() Verdict {
	return Verdict{}
}

// Reject отбраковывает кадр с указанием причины
func Reject(reason, detail string) Verdict {
	return Verdict{Reject: true, Reason: reason, Detail: detail}
}

// FrameFilter проверяет кадр относительно последнего принятого кадра
// того же аппарата. last == nil для первого кадра аппарата.
type FrameFilter interface {
	Check(frame, last *Frame) Verdict
	Name() string
}

// Config конфигурация санитарной фильтрации телеметрии
type Config struct {
	// Физический предел скорости аппарата (м/с)
	MaxSpeedMPS float64

	// Запас к пределу скорости: 1.5 = +50% на погрешность GPS
	SpeedBuffer float64

	// Насколько метка времени кадра может опережать время приема
	MaxClockSkew time.Duration

	// Кадры старше отбрасываются: ретрансляции брокера после
	// переподключения не должны откатывать живую картину
	StaleAfter time.Duration

	// Включение отдельных фильтров
	EnableSequence bool
	EnableSpeed    bool
}

// DefaultConfig возвращает конфигурацию по умолчанию для заданного
// предела скорости аппарата
func DefaultConfig(maxSpeedMPS float64) *Config {
	return &Config{
		MaxSpeedMPS:    maxSpeedMPS,
		SpeedBuffer:    1.5,
		MaxClockSkew:   5 * time.Second,
		StaleAfter:     60 * time.Second,
		EnableSequence: true,
		EnableSpeed:    true,
	}
}

// LimitMPS возвращает предел скорости с учетом буфера
func (c *Config) LimitMPS() float64 {
	if c.SpeedBuffer <= 0 {
		return c.MaxSpeedMPS
	}
	return c.MaxSpeedMPS * c.SpeedBuffer
}
