package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flybeeper/utm-backend/internal/config"
	"github.com/flybeeper/utm-backend/internal/core"
	"github.com/flybeeper/utm-backend/internal/detect"
	"github.com/flybeeper/utm-backend/internal/geo"
	"github.com/flybeeper/utm-backend/internal/geofence"
	"github.com/flybeeper/utm-backend/internal/models"
	"github.com/flybeeper/utm-backend/internal/planner"
	"github.com/flybeeper/utm-backend/pkg/utils"
)

func testConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		Server: config.ServerConfig{
			Address:      ":0",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
			IdleTimeout:  30 * time.Second,
		},
		Monitoring: config.MonitoringConfig{MetricsEnabled: true},
		Performance: config.PerformanceConfig{
			BatchTimeout:          20 * time.Millisecond,
			WebSocketPingInterval: time.Second,
			WebSocketPongTimeout:  2 * time.Second,
		},
		Airspace: config.AirspaceConfig{
			MinLat: 37.60, MaxLat: 37.80,
			MinLon: -122.45, MaxLon: -122.35,
			MinAltitudeM: 20, MaxAltitudeM: 120,
			CombineMode:      config.CombineProduct,
			GeohashPrecision: 6,
			Zones: []config.ZoneSpec{
				{
					ID: "airport", Name: "Airport Restricted Airspace", Kind: config.ZoneKindNoFly,
					MinLat: 37.6013, MinLon: -122.3790, MaxLat: 37.6213, MaxLon: -122.3590,
				},
				{
					ID: "hospital", Name: "Hospital Complex", Kind: config.ZoneKindSensitive,
					MinLat: 37.7500, MinLon: -122.4050, MaxLat: 37.7550, MaxLon: -122.4000,
					Multiplier: 4.0,
				},
			},
		},
		Planner: config.PlannerConfig{
			GridResolutionM:   50,
			TimeResolutionS:   5,
			LookaheadS:        300,
			NorthSouthLanesM:  []float64{50, 90},
			EastWestLanesM:    []float64{30, 70, 110},
			CruiseSpeedMPS:    10,
			MinSpeedMPS:       3,
			MaxSpeedMPS:       15,
			MaxExpansions:     200000,
			DynamicPenalty:    1000,
			PenaltyGrowth:     4,
			MaxResolveRetries: 3,
			LoadingTime:       30 * time.Second,
			RequestTimeout:    10 * time.Second,
		},
		Separation: config.SeparationConfig{HorizontalM: 30, VerticalM: 15},
		Fleet: config.FleetConfig{
			Size:                10,
			BatteryCapacityWh:   3600,
			PowerConsumptionW:   200,
			ArrivalRadiusM:      5,
			MissionTimeout:      10 * time.Minute,
			TelemetryStaleAfter: 30 * time.Second,
			SweepSpec:           "@every 10s",
		},
	}
}

func newTestDispatcher(t *testing.T, cfg *config.Config) *core.Dispatcher {
	t.Helper()

	logger := utils.NewLogger("error", "text")

	idx, err := geofence.NewIndex(cfg.Airspace)
	require.NoError(t, err)

	grid := geo.NewGrid(idx.Bounds(), cfg.Planner.GridResolutionM)
	pl, err := planner.NewPlanner(grid, idx, cfg.Planner, cfg.Separation)
	require.NoError(t, err)

	det := detect.NewDetector(grid.Projection(), cfg.Separation, 1.0)
	store := core.NewStore(grid.Projection(), logger)
	events := core.NewEventStream(logger)
	t.Cleanup(events.Close)

	return core.NewDispatcher(cfg, store, pl, det, idx, events, logger)
}

// newTestServer собирает полный сервер с боевой таблицей маршрутов
func newTestServer(t *testing.T) (*Server, *core.Dispatcher) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := testConfig()
	dispatcher := newTestDispatcher(t, cfg)
	server := NewServer(cfg, dispatcher, utils.NewLogger("error", "text"))
	return server, dispatcher
}

func registerTestVehicle(t *testing.T, d *core.Dispatcher, id string, lat, lon float64) {
	t.Helper()
	require.NoError(t, d.RegisterVehicle(&models.Vehicle{
		ID:         id,
		Position:   models.Point4D{Latitude: lat, Longitude: lon},
		BatteryPct: 100,
	}))
}

func performRequest(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// errorBody стандартное тело ошибки API
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestRESTHandler_PostDelivery_CreatesMission(t *testing.T) {
	server, dispatcher := newTestServer(t)
	registerTestVehicle(t, dispatcher, "drone_001", 37.78, -122.43)

	w := performRequest(server.router, "POST", "/api/v1/deliveries", gin.H{
		"pickup":   gin.H{"lat": 37.77, "lon": -122.43},
		"delivery": gin.H{"lat": 37.75, "lon": -122.41},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var mission models.Mission
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &mission))

	assert.NotEmpty(t, mission.ID)
	assert.Equal(t, "drone_001", mission.VehicleID)
	assert.Equal(t, models.MissionPlanned, mission.Phase)
	require.NotNil(t, mission.Trajectory)
	assert.GreaterOrEqual(t, len(mission.Trajectory.Waypoints), 2)

	// Аппарат закреплен за миссией
	vehicle, err := dispatcher.GetVehicle("drone_001")
	require.NoError(t, err)
	assert.Equal(t, models.VehicleAssigned, vehicle.State)
	assert.Equal(t, mission.ID, vehicle.MissionID)
}

func TestRESTHandler_PostDelivery_Validation(t *testing.T) {
	server, dispatcher := newTestServer(t)
	registerTestVehicle(t, dispatcher, "drone_001", 37.78, -122.43)

	tests := []struct {
		name           string
		body           interface{}
		expectedStatus int
		expectedCode   string
	}{
		{
			name:           "Missing pickup",
			body:           gin.H{"delivery": gin.H{"lat": 37.75, "lon": -122.41}},
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "missing_pickup",
		},
		{
			name:           "Missing delivery",
			body:           gin.H{"pickup": gin.H{"lat": 37.77, "lon": -122.43}},
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "missing_delivery",
		},
		{
			name: "Invalid pickup latitude",
			body: gin.H{
				"pickup":   gin.H{"lat": 91.0, "lon": -122.43},
				"delivery": gin.H{"lat": 37.75, "lon": -122.41},
			},
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "invalid_pickup",
		},
		{
			name: "Pickup inside no-fly zone",
			body: gin.H{
				"pickup":   gin.H{"lat": 37.61, "lon": -122.37},
				"delivery": gin.H{"lat": 37.75, "lon": -122.41},
			},
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "out_of_bounds",
		},
		{
			name: "Delivery outside operational bounds",
			body: gin.H{
				"pickup":   gin.H{"lat": 37.77, "lon": -122.43},
				"delivery": gin.H{"lat": 37.50, "lon": -122.41},
			},
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "out_of_bounds",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := performRequest(server.router, "POST", "/api/v1/deliveries", tt.body)
			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Equal(t, tt.expectedCode, decodeError(t, w).Code)
		})
	}

	// Невалидный JSON
	req := httptest.NewRequest("POST", "/api/v1/deliveries", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "json_error", decodeError(t, w).Code)
}

func TestRESTHandler_PostDelivery_NoVehicle(t *testing.T) {
	server, _ := newTestServer(t)

	w := performRequest(server.router, "POST", "/api/v1/deliveries", gin.H{
		"pickup":   gin.H{"lat": 37.77, "lon": -122.43},
		"delivery": gin.H{"lat": 37.75, "lon": -122.41},
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "no_vehicle", decodeError(t, w).Code)
}

func TestRESTHandler_GetMissions_FilterByPhase(t *testing.T) {
	server, dispatcher := newTestServer(t)
	registerTestVehicle(t, dispatcher, "drone_001", 37.78, -122.43)

	w := performRequest(server.router, "POST", "/api/v1/deliveries", gin.H{
		"pickup":   gin.H{"lat": 37.77, "lon": -122.43},
		"delivery": gin.H{"lat": 37.75, "lon": -122.41},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = performRequest(server.router, "GET", "/api/v1/missions", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var list struct {
		Missions []models.Mission `json:"missions"`
		Count    int              `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)
	require.Len(t, list.Missions, 1)
	assert.Equal(t, models.MissionPlanned, list.Missions[0].Phase)

	// Фильтр по фазе без совпадений
	w = performRequest(server.router, "GET", "/api/v1/missions?phase=DELIVERED", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 0, list.Count)

	// Неизвестная фаза
	w = performRequest(server.router, "GET", "/api/v1/missions?phase=TELEPORTING", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_phase", decodeError(t, w).Code)
}

func TestRESTHandler_GetMission_NotFound(t *testing.T) {
	server, _ := newTestServer(t)

	w := performRequest(server.router, "GET", "/api/v1/missions/nonexistent", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "unknown_mission", decodeError(t, w).Code)
}

func TestRESTHandler_PostMissionPhase(t *testing.T) {
	server, dispatcher := newTestServer(t)
	registerTestVehicle(t, dispatcher, "drone_001", 37.78, -122.43)

	w := performRequest(server.router, "POST", "/api/v1/deliveries", gin.H{
		"pickup":   gin.H{"lat": 37.77, "lon": -122.43},
		"delivery": gin.H{"lat": 37.75, "lon": -122.41},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var mission models.Mission
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &mission))

	// Недопустимый скачок фазы
	w = performRequest(server.router, "POST", "/api/v1/missions/"+mission.ID+"/phase",
		gin.H{"phase": "DELIVERED"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "illegal_transition", decodeError(t, w).Code)

	// Корректный переход
	w = performRequest(server.router, "POST", "/api/v1/missions/"+mission.ID+"/phase",
		gin.H{"phase": "EN_ROUTE_PICKUP"})
	require.Equal(t, http.StatusOK, w.Code)

	var updated models.Mission
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.Equal(t, models.MissionEnRoutePickup, updated.Phase)

	// Ручное прерывание освобождает аппарат
	w = performRequest(server.router, "POST", "/api/v1/missions/"+mission.ID+"/phase",
		gin.H{"phase": "FAILED", "reason": "operator abort"})
	require.Equal(t, http.StatusOK, w.Code)

	vehicle, err := dispatcher.GetVehicle("drone_001")
	require.NoError(t, err)
	assert.Equal(t, models.VehicleIdle, vehicle.State)
	assert.Empty(t, vehicle.MissionID)

	// Неизвестная фаза
	w = performRequest(server.router, "POST", "/api/v1/missions/"+mission.ID+"/phase",
		gin.H{"phase": "WARPING"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_phase", decodeError(t, w).Code)
}

func TestRESTHandler_Vehicles(t *testing.T) {
	server, _ := newTestServer(t)

	// Регистрация
	w := performRequest(server.router, "POST", "/api/v1/vehicles", gin.H{
		"id": "drone_001", "lat": 37.78, "lon": -122.43,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var vehicle models.Vehicle
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &vehicle))
	assert.Equal(t, models.VehicleIdle, vehicle.State)
	assert.Equal(t, 100.0, vehicle.BatteryPct)

	// Повторная регистрация
	w = performRequest(server.router, "POST", "/api/v1/vehicles", gin.H{
		"id": "drone_001", "lat": 37.78, "lon": -122.43,
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "vehicle_exists", decodeError(t, w).Code)

	// Регистрация внутри запретной зоны
	w = performRequest(server.router, "POST", "/api/v1/vehicles", gin.H{
		"id": "drone_002", "lat": 37.61, "lon": -122.37,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "out_of_bounds", decodeError(t, w).Code)

	// Без идентификатора
	w = performRequest(server.router, "POST", "/api/v1/vehicles", gin.H{
		"lat": 37.78, "lon": -122.43,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "missing_vehicle_id", decodeError(t, w).Code)

	// Список с фильтром
	w = performRequest(server.router, "GET", "/api/v1/vehicles?state=IDLE", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var list struct {
		Vehicles []models.Vehicle `json:"vehicles"`
		Count    int              `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)

	// Точечный запрос
	w = performRequest(server.router, "GET", "/api/v1/vehicles/drone_001", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = performRequest(server.router, "GET", "/api/v1/vehicles/ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "unknown_vehicle", decodeError(t, w).Code)
}

func TestRESTHandler_PostTelemetry(t *testing.T) {
	server, dispatcher := newTestServer(t)
	registerTestVehicle(t, dispatcher, "drone_001", 37.78, -122.43)

	w := performRequest(server.router, "POST", "/api/v1/vehicles/drone_001/telemetry", gin.H{
		"lat": 37.779, "lon": -122.431, "alt_m": 50.0,
		"battery_pct": 87.5, "speed_mps": 0.0, "heading_deg": 182.0,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var vehicle models.Vehicle
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &vehicle))
	assert.InDelta(t, 87.5, vehicle.BatteryPct, 1e-9)
	assert.InDelta(t, 182.0, vehicle.HeadingDeg, 1e-9)
	assert.InDelta(t, 37.779, vehicle.Position.Latitude, 1e-9)

	// Неизвестный аппарат
	w = performRequest(server.router, "POST", "/api/v1/vehicles/ghost/telemetry", gin.H{
		"lat": 37.779, "lon": -122.431,
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "unknown_vehicle", decodeError(t, w).Code)

	// Некорректная широта
	w = performRequest(server.router, "POST", "/api/v1/vehicles/drone_001/telemetry", gin.H{
		"lat": 95.0, "lon": -122.431,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_latitude", decodeError(t, w).Code)
}

func TestRESTHandler_GetZones(t *testing.T) {
	server, _ := newTestServer(t)

	w := performRequest(server.router, "GET", "/api/v1/zones", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var response struct {
		Zones []models.Zone `json:"zones"`
		Count int           `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, 2, response.Count)
	require.Len(t, response.Zones, 2)
}

func TestRESTHandler_GetStatus(t *testing.T) {
	server, dispatcher := newTestServer(t)
	registerTestVehicle(t, dispatcher, "drone_001", 37.78, -122.43)

	w := performRequest(server.router, "GET", "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var status core.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "test", status.Environment)
	assert.Equal(t, 1, status.Vehicles[models.VehicleIdle])
}

func TestAdminHandler_PostSweep(t *testing.T) {
	server, _ := newTestServer(t)

	w := performRequest(server.router, "POST", "/api/v1/admin/sweep", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var response struct {
		StaleVehicles   int `json:"stale_vehicles"`
		ExpiredMissions int `json:"expired_missions"`
		Conflicts       int `json:"conflicts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Zero(t, response.StaleVehicles)
	assert.Zero(t, response.ExpiredMissions)
	assert.Zero(t, response.Conflicts)
}

func TestServer_HealthCheck(t *testing.T) {
	server, _ := newTestServer(t)

	w := performRequest(server.router, "GET", "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestServer_MetricsEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	w := performRequest(server.router, "GET", "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "utm_")
}
