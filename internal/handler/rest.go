package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/flybeeper/utm-backend/internal/core"
	"github.com/flybeeper/utm-backend/internal/models"
	"github.com/flybeeper/utm-backend/pkg/utils"
)

// RESTHandler обрабатывает REST API запросы к диспетчеру
type RESTHandler struct {
	dispatcher *core.Dispatcher
	logger     *utils.Logger
	timeout    time.Duration
}

// NewRESTHandler создает новый REST handler
func NewRESTHandler(dispatcher *core.Dispatcher, logger *utils.Logger) *RESTHandler {
	return &RESTHandler{
		dispatcher: dispatcher,
		logger:     logger,
		timeout:    30 * time.Second,
	}
}

// deliveryRequest тело запроса на доставку
type deliveryRequest struct {
	Pickup   *models.GeoPoint `json:"pickup"`
	Delivery *models.GeoPoint `json:"delivery"`
}

// PostDelivery принимает заявку на доставку и коммитит миссию
// POST /api/v1/deliveries
func (h *RESTHandler) PostDelivery(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	var request deliveryRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "json_error",
			"message": "Invalid JSON format",
		})
		return
	}

	if request.Pickup == nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "missing_pickup",
			"message": "Pickup point is required",
		})
		return
	}

	if request.Delivery == nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "missing_delivery",
			"message": "Delivery point is required",
		})
		return
	}

	if err := request.Pickup.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "invalid_pickup",
			"message": err.Error(),
		})
		return
	}

	if err := request.Delivery.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "invalid_delivery",
			"message": err.Error(),
		})
		return
	}

	mission, err := h.dispatcher.SubmitDelivery(ctx, *request.Pickup, *request.Delivery)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, mission)
}

// GetMissions возвращает список миссий с опциональным фильтром по фазе
// GET /api/v1/missions?phase=PLANNED
func (h *RESTHandler) GetMissions(c *gin.Context) {
	missions := h.dispatcher.ListMissions()

	if phase := c.Query("phase"); phase != "" {
		wanted := models.MissionPhase(phase)
		if !wanted.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "invalid_phase",
				"message": "Unknown mission phase",
			})
			return
		}
		filtered := missions[:0]
		for _, m := range missions {
			if m.Phase == wanted {
				filtered = append(filtered, m)
			}
		}
		missions = filtered
	}

	c.JSON(http.StatusOK, gin.H{
		"missions": missions,
		"count":    len(missions),
	})
}

// GetMission возвращает миссию по идентификатору
// GET /api/v1/missions/:id
func (h *RESTHandler) GetMission(c *gin.Context) {
	mission, err := h.dispatcher.GetMission(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, mission)
}

// phaseRequest тело запроса на смену фазы миссии
type phaseRequest struct {
	Phase  string `json:"phase"`
	Reason string `json:"reason"`
}

// PostMissionPhase переводит миссию в новую фазу (ручное управление)
// POST /api/v1/missions/:id/phase
func (h *RESTHandler) PostMissionPhase(c *gin.Context) {
	var request phaseRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "json_error",
			"message": "Invalid JSON format",
		})
		return
	}

	phase := models.MissionPhase(request.Phase)
	if !phase.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "invalid_phase",
			"message": "Unknown mission phase",
		})
		return
	}

	var mission *models.Mission
	var err error
	if phase == models.MissionFailed {
		reason := request.Reason
		if reason == "" {
			reason = "manual"
		}
		mission, err = h.dispatcher.FailMission(c.Param("id"), reason)
	} else {
		mission, err = h.dispatcher.MarkMissionPhase(c.Param("id"), phase)
	}
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, mission)
}

// GetVehicles возвращает список аппаратов флота с опциональным фильтром
// GET /api/v1/vehicles?state=IDLE
func (h *RESTHandler) GetVehicles(c *gin.Context) {
	vehicles := h.dispatcher.ListVehicles()

	if state := c.Query("state"); state != "" {
		wanted := models.VehicleState(state)
		if !wanted.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "invalid_state",
				"message": "Unknown vehicle state",
			})
			return
		}
		filtered := vehicles[:0]
		for _, v := range vehicles {
			if v.State == wanted {
				filtered = append(filtered, v)
			}
		}
		vehicles = filtered
	}

	c.JSON(http.StatusOK, gin.H{
		"vehicles": vehicles,
		"count":    len(vehicles),
	})
}

// GetVehicle возвращает аппарат по идентификатору
// GET /api/v1/vehicles/:id
func (h *RESTHandler) GetVehicle(c *gin.Context) {
	vehicle, err := h.dispatcher.GetVehicle(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, vehicle)
}

// vehicleRequest тело запроса на регистрацию аппарата
type vehicleRequest struct {
	ID         string  `json:"id"`
	Latitude   float64 `json:"lat"`
	Longitude  float64 `json:"lon"`
	AltitudeM  float64 `json:"alt_m"`
	BatteryPct float64 `json:"battery_pct"`
}

// PostVehicle регистрирует новый аппарат во флоте
// POST /api/v1/vehicles
func (h *RESTHandler) PostVehicle(c *gin.Context) {
	var request vehicleRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "json_error",
			"message": "Invalid JSON format",
		})
		return
	}

	if request.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "missing_vehicle_id",
			"message": "Vehicle id is required",
		})
		return
	}

	battery := request.BatteryPct
	if battery == 0 {
		battery = 100
	}

	vehicle := &models.Vehicle{
		ID:    request.ID,
		State: models.VehicleIdle,
		Position: models.Point4D{
			Latitude:  request.Latitude,
			Longitude: request.Longitude,
			AltitudeM: request.AltitudeM,
		},
		BatteryPct: battery,
	}

	if err := vehicle.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "invalid_vehicle",
			"message": err.Error(),
		})
		return
	}

	if err := h.dispatcher.RegisterVehicle(vehicle); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, vehicle)
}

// telemetryRequest тело телеметрического сообщения
type telemetryRequest struct {
	Latitude   float64 `json:"lat"`
	Longitude  float64 `json:"lon"`
	AltitudeM  float64 `json:"alt_m"`
	BatteryPct float64 `json:"battery_pct"`
	SpeedMPS   float64 `json:"speed_mps"`
	HeadingDeg float64 `json:"heading_deg"`
	Timestamp  int64   `json:"ts"`
}

// PostTelemetry принимает телеметрию аппарата через REST (запасной канал
// для аппаратов без MQTT)
// POST /api/v1/vehicles/:id/telemetry
func (h *RESTHandler) PostTelemetry(c *gin.Context) {
	var request telemetryRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "json_error",
			"message": "Invalid JSON format",
		})
		return
	}

	if request.Latitude < -90 || request.Latitude > 90 {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "invalid_latitude",
			"message": "Latitude must be between -90 and 90",
		})
		return
	}

	if request.Longitude < -180 || request.Longitude > 180 {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "invalid_longitude",
			"message": "Longitude must be between -180 and 180",
		})
		return
	}

	ts := request.Timestamp
	if ts == 0 {
		ts = time.Now().Unix()
	}

	pos := models.Point4D{
		Latitude:  request.Latitude,
		Longitude: request.Longitude,
		AltitudeM: request.AltitudeM,
		TimeS:     float64(ts),
	}

	vehicle, err := h.dispatcher.UpdateVehicleTelemetry(
		c.Param("id"), pos, request.BatteryPct, request.SpeedMPS, request.HeadingDeg)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, vehicle)
}

// GetZones возвращает статическую карту зон воздушного пространства
// GET /api/v1/zones
func (h *RESTHandler) GetZones(c *gin.Context) {
	zones := h.dispatcher.Zones()
	c.JSON(http.StatusOK, gin.H{
		"zones": zones,
		"count": len(zones),
	})
}

// GetStatus возвращает сводку состояния диспетчера
// GET /api/v1/status
func (h *RESTHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.dispatcher.Status())
}

// respondError сопоставляет ошибки ядра с HTTP статусами
func (h *RESTHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, core.ErrOutOfBounds):
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "out_of_bounds",
			"message": err.Error(),
		})
	case errors.Is(err, core.ErrIllegalTransition):
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "illegal_transition",
			"message": err.Error(),
		})
	case errors.Is(err, core.ErrUnknownVehicle):
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "unknown_vehicle",
			"message": err.Error(),
		})
	case errors.Is(err, core.ErrUnknownMission):
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "unknown_mission",
			"message": err.Error(),
		})
	case errors.Is(err, core.ErrNoVehicle):
		c.JSON(http.StatusConflict, gin.H{
			"code":    "no_vehicle",
			"message": err.Error(),
		})
	case errors.Is(err, core.ErrVehicleExists):
		c.JSON(http.StatusConflict, gin.H{
			"code":    "vehicle_exists",
			"message": err.Error(),
		})
	case errors.Is(err, core.ErrResolutionFailed):
		c.JSON(http.StatusConflict, gin.H{
			"code":    "resolution_failed",
			"message": err.Error(),
		})
	case errors.Is(err, core.ErrUnroutable):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"code":    "unroutable",
			"message": err.Error(),
		})
	case errors.Is(err, core.ErrTimeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{
			"code":    "timeout",
			"message": err.Error(),
		})
	default:
		h.logger.WithError(err).Error("Unhandled dispatcher error")
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "internal_error",
			"message": "Internal server error",
		})
	}
}
