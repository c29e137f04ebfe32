package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/flybeeper/utm-backend/internal/core"
	"github.com/flybeeper/utm-backend/pkg/utils"
)

// AdminHandler служебные операции диспетчера
type AdminHandler struct {
	dispatcher *core.Dispatcher
	logger     *utils.Logger
}

// NewAdminHandler создает новый обработчик служебных операций
func NewAdminHandler(dispatcher *core.Dispatcher, logger *utils.Logger) *AdminHandler {
	return &AdminHandler{
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// PostSweep запускает санитарный обход вне расписания: устаревшая
// телеметрия, просроченные миссии и контроль эшелонирования
// POST /api/v1/admin/sweep
func (h *AdminHandler) PostSweep(c *gin.Context) {
	stale := h.dispatcher.SweepStaleVehicles()
	expired := h.dispatcher.SweepExpiredMissions()
	conflicts := h.dispatcher.SweepConflicts()

	h.logger.WithFields(map[string]interface{}{
		"stale_vehicles":   stale,
		"expired_missions": expired,
		"conflicts":        conflicts,
	}).Info("Manual sweep completed")

	c.JSON(http.StatusOK, gin.H{
		"stale_vehicles":   stale,
		"expired_missions": expired,
		"conflicts":        conflicts,
	})
}

// GetEventDepth возвращает глубину очереди потока событий
// GET /api/v1/admin/events
func (h *AdminHandler) GetEventDepth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"depth": h.dispatcher.Events().Depth(),
	})
}
