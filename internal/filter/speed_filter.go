package filter

import (
	"fmt"

	"github.com/flybeeper/utm-backend/internal/geo"
)

// SpeedFilter отбрасывает кадры, требующие физически невозможной
// скорости относительно последнего принятого кадра: сбои GPS и
// телепортации не должны попадать в живую картину воздушного
// пространства, по которой ядро продвигает фазы миссий.
type SpeedFilter struct {
	proj     *geo.Projection
	limitMPS float64
}

// NewSpeedFilter создает фильтр правдоподобия скорости
func NewSpeedFilter(cfg *Config, proj *geo.Projection) *SpeedFilter {
	return &SpeedFilter{
		proj:     proj,
		limitMPS: cfg.LimitMPS(),
	}
}

// Name возвращает имя фильтра
func (f *SpeedFilter) Name() string {
	return "speed"
}

// Check сверяет подразумеваемую скорость с пределом аппарата
func (f *SpeedFilter) Check(frame, last *Frame) Verdict {
	if last == nil || f.limitMPS <= 0 {
		return Accept()
	}

	// Метка времени кадра имеет секундное разрешение; при более частой
	// отправке интервал берется из времени приема.
	dt := frame.SentAt.Sub(last.SentAt).Seconds()
	if dt <= 0 {
		dt = frame.ReceivedAt.Sub(last.ReceivedAt).Seconds()
	}
	if dt <= 0 {
		return Accept()
	}

	dist := f.proj.Distance(last.Position.Ground(), frame.Position.Ground())
	implied := dist / dt
	if implied > f.limitMPS {
		return Reject(ReasonImplausibleJump,
			fmt.Sprintf("%.0fm in %.1fs implies %.1f m/s, limit %.1f m/s",
				dist, dt, implied, f.limitMPS))
	}

	return Accept()
}
