package filter

import (
	"sync"

	"github.com/flybeeper/utm-backend/internal/geo"
	"github.com/flybeeper/utm-backend/pkg/utils"
)

// Chain цепочка санитарных фильтров живого потока телеметрии. Хранит
// последний принятый кадр каждого аппарата; кадр доходит до ядра,
// только если его пропустили все фильтры.
type Chain struct {
	filters []FrameFilter
	logger  *utils.Logger

	mu   sync.Mutex
	last map[string]*Frame
}

// NewChain создает цепочку фильтров согласно конфигурации
func NewChain(cfg *Config, proj *geo.Projection, logger *utils.Logger) *Chain {
	chain := &Chain{
		logger: logger.WithField("component", "filter"),
		last:   make(map[string]*Frame),
	}

	if cfg.EnableSequence {
		chain.filters = append(chain.filters, NewSequenceFilter(cfg))
	}
	if cfg.EnableSpeed {
		chain.filters = append(chain.filters, NewSpeedFilter(cfg, proj))
	}

	return chain
}

// Check прогоняет кадр через фильтры. Возвращается вердикт первого
// сработавшего фильтра; принятие здесь не фиксируется, см. Accept.
func (c *Chain) Check(frame *Frame) Verdict {
	c.mu.Lock()
	last := c.last[frame.VehicleID]
	c.mu.Unlock()

	for _, f := range c.filters {
		verdict := f.Check(frame, last)
		if verdict.Reject {
			verdict.Filter = f.Name()
			c.logger.WithFields(map[string]interface{}{
				"vehicle_id": frame.VehicleID,
				"filter":     verdict.Filter,
				"reason":     verdict.Reason,
				"detail":     verdict.Detail,
			}).Debug("Telemetry frame rejected")
			return verdict
		}
	}

	return Accept()
}

// Accept фиксирует кадр как последний принятый для аппарата.
// Вызывается после того, как ядро применило телеметрию: кадры,
// отвергнутые ядром, не должны сдвигать точку отсчета.
func (c *Chain) Accept(frame *Frame) {
	c.mu.Lock()
	c.last[frame.VehicleID] = frame
	c.mu.Unlock()
}

// Len возвращает количество фильтров в цепочке
func (c *Chain) Len() int {
	return len(c.filters)
}
