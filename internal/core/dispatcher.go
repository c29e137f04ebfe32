package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flybeeper/utm-backend/internal/config"
	"github.com/flybeeper/utm-backend/internal/detect"
	"github.com/flybeeper/utm-backend/internal/geofence"
	"github.com/flybeeper/utm-backend/internal/metrics"
	"github.com/flybeeper/utm-backend/internal/models"
	"github.com/flybeeper/utm-backend/internal/planner"
	"github.com/flybeeper/utm-backend/pkg/utils"
)

// Стратегии разрешения конфликтов в порядке применения.
const (
	strategyNone     = "none"
	strategyAltitude = "altitude"
	strategySpeed    = "speed"
	strategyReplan   = "replan"
)

// Dispatcher оркестратор ядра: принимает заявки на доставку, планирует
// на снимке активного множества, разрешает конфликты и коммитит результат
// через единственную критическую секцию. Планирование и детекция идут
// параллельно для разных заявок; сериализуется только коммит.
type Dispatcher struct {
	cfg      *config.Config
	store    *Store
	planner  *planner.Planner
	detector *detect.Detector
	fence    *geofence.Index
	events   *EventStream
	logger   *utils.Logger

	commitMu  sync.Mutex
	startedAt time.Time
}

// NewDispatcher связывает компоненты ядра в диспетчер.
func NewDispatcher(cfg *config.Config, store *Store, pl *planner.Planner, det *detect.Detector, fence *geofence.Index, events *EventStream, logger *utils.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:       cfg,
		store:     store,
		planner:   pl,
		detector:  det,
		fence:     fence,
		events:    events,
		logger:    logger.WithField("component", "dispatcher"),
		startedAt: time.Now(),
	}
}

// Store возвращает хранилище траекторий.
func (d *Dispatcher) Store() *Store { return d.store }

// Events возвращает поток событий для подписчиков.
func (d *Dispatcher) Events() *EventStream { return d.events }

// Subscribe подписывает вызывающего на поток событий ядра.
func (d *Dispatcher) Subscribe() *Subscription { return d.events.Subscribe() }

// Zones возвращает статические зоны воздушного пространства.
func (d *Dispatcher) Zones() []models.Zone { return d.fence.Zones() }

// ListMissions возвращает все миссии в порядке создания.
func (d *Dispatcher) ListMissions() []*models.Mission { return d.store.Missions() }

// ListVehicles возвращает весь флот.
func (d *Dispatcher) ListVehicles() []*models.Vehicle { return d.store.Vehicles() }

// GetMission возвращает миссию по идентификатору.
func (d *Dispatcher) GetMission(id string) (*models.Mission, error) { return d.store.Mission(id) }

// GetVehicle возвращает аппарат по идентификатору.
func (d *Dispatcher) GetVehicle(id string) (*models.Vehicle, error) { return d.store.Vehicle(id) }

// RegisterVehicle добавляет аппарат во флот. Позиция обязана лежать в
// операционной зоне вне запретных зон.
func (d *Dispatcher) RegisterVehicle(v *models.Vehicle) error {
	if v.State == "" {
		v.State = models.VehicleIdle
	}
	ground := v.Position.Ground()
	if !d.fence.Contains(ground) {
		return fmt.Errorf("vehicle %s position: %w", v.ID, ErrOutOfBounds)
	}
	if forbidden, _ := d.fence.Classify(ground.Latitude, ground.Longitude); forbidden {
		return fmt.Errorf("vehicle %s position inside no-fly zone: %w", v.ID, ErrOutOfBounds)
	}
	if err := d.store.RegisterVehicle(v); err != nil {
		return err
	}
	d.events.Post(models.EventVehicleUpdated, v)
	d.syncFleetMetrics()
	return nil
}

// BootstrapFleet регистрирует стартовый флот: аппараты расставляются по
// детерминированной сетке внутри операционной зоны, запретные клетки
// пропускаются. Повторный вызов поверх непустого флота ничего не делает.
func (d *Dispatcher) BootstrapFleet() error {
	if d.cfg.Fleet.Size <= 0 || len(d.store.Vehicles()) > 0 {
		return nil
	}

	bounds := d.fence.Bounds()
	cols := int(math.Ceil(math.Sqrt(float64(d.cfg.Fleet.Size))))
	latSpan := bounds.MaxLat() - bounds.MinLat()
	lonSpan := bounds.MaxLon() - bounds.MinLon()

	registered := 0
	for row := 0; row < cols && registered < d.cfg.Fleet.Size; row++ {
		for col := 0; col < cols && registered < d.cfg.Fleet.Size; col++ {
			// Сетка с отступом от границ, чтобы старт не попадал на край зоны.
			lat := bounds.MinLat() + latSpan*(0.2+0.6*float64(row)/float64(cols))
			lon := bounds.MinLon() + lonSpan*(0.2+0.6*float64(col)/float64(cols))
			if forbidden, _ := d.fence.Classify(lat, lon); forbidden {
				continue
			}

			v := &models.Vehicle{
				ID:         fmt.Sprintf("drone_%03d", registered+1),
				State:      models.VehicleIdle,
				Position:   models.Point4D{Latitude: lat, Longitude: lon},
				BatteryPct: 100,
			}
			if err := d.store.RegisterVehicle(v); err != nil {
				return fmt.Errorf("bootstrap fleet: %w", err)
			}
			registered++
		}
	}

	d.syncFleetMetrics()
	d.logger.WithField("fleet_size", registered).Info("Fleet bootstrapped")
	return nil
}

// SubmitDelivery принимает заявку на доставку: резервирует ближайший
// свободный аппарат, планирует траекторию vehicle->pickup->delivery с
// паузой на загрузку, разрешает конфликты и атомарно коммитит миссию.
// На любом неуспешном выходе резерв снимается и состояние не меняется.
func (d *Dispatcher) SubmitDelivery(ctx context.Context, pickup, delivery models.GeoPoint) (*models.Mission, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Planner.RequestTimeout)
	defer cancel()

	if err := d.checkEndpoint(pickup, "pickup"); err != nil {
		return nil, err
	}
	if err := d.checkEndpoint(delivery, "delivery"); err != nil {
		return nil, err
	}

	vehicle, err := d.store.ReserveVehicle(pickup)
	if err != nil {
		return nil, fmt.Errorf("submit delivery: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			d.store.ReleaseVehicle(vehicle.ID)
		}
	}()

	// Оптимистичный цикл: планирование на снимке, затем коммит с
	// проверкой версии. Повторный заход разрешен ровно один раз.
	for attempt := 0; attempt < 2; attempt++ {
		outcome, err := d.resolve(ctx, vehicle, pickup, delivery)
		if err != nil {
			d.countFailure(err)
			return nil, err
		}

		mission := d.buildMission(outcome, vehicle.ID, pickup, delivery)
		ok, err := d.commit(ctx, mission, outcome.version)
		if err != nil {
			d.countFailure(err)
			return nil, err
		}
		if !ok {
			d.logger.WithField("mission_id", mission.ID).Debug("Commit raced with a concurrent change, replanning")
			continue
		}

		committed = true
		metrics.MissionsCreated.Inc()
		if outcome.strategy != strategyNone {
			metrics.ConflictsResolved.WithLabelValues(outcome.strategy).Inc()
		}
		d.events.Post(models.EventMissionCreated, mission)
		d.syncFleetMetrics()
		d.logger.WithFields(map[string]interface{}{
			"mission_id": mission.ID,
			"vehicle_id": mission.VehicleID,
			"strategy":   outcome.strategy,
			"replans":    mission.ReplanCount,
			"battery":    fmt.Sprintf("%.1f%%", mission.BatteryPct),
		}).Info("Delivery accepted")
		return mission, nil
	}

	err = fmt.Errorf("commit contention persisted after replan: %w", ErrResolutionFailed)
	d.countFailure(err)
	return nil, err
}

// resolveOutcome результат успешного прохода резолвера.
type resolveOutcome struct {
	trajectory *models.Trajectory
	strategy   string
	replans    int
	expansions int
	version    uint64
	missionID  string
}

// resolve планирует миссию на текущем снимке и прогоняет политику
// разрешения конфликтов: (a) смена эшелона, (b) замедление до конфликта,
// (c) перепланирование с растущим штрафом за сближение.
func (d *Dispatcher) resolve(ctx context.Context, vehicle *models.Vehicle, pickup, delivery models.GeoPoint) (*resolveOutcome, error) {
	snapshot, version := d.store.Snapshot()
	committed := candidatesOf(snapshot)
	obstacles := trajectoriesOf(snapshot)
	missionID := uuid.New().String()

	base := planner.Request{
		Start:     vehicle.Position,
		Pickup:    pickup,
		Delivery:  delivery,
		StartTime: time.Now().UTC(),
		Dwell:     d.cfg.Planner.LoadingTime,
	}

	res, err := d.plan(base)
	if err != nil {
		return nil, err
	}
	if err := d.deadline(ctx); err != nil {
		return nil, err
	}

	conflicts := d.detector.Detect(detect.Candidate{MissionID: missionID, Trajectory: res.Trajectory}, committed)
	if len(conflicts) == 0 {
		return &resolveOutcome{
			trajectory: res.Trajectory,
			strategy:   strategyNone,
			expansions: res.Expansions,
			version:    version,
			missionID:  missionID,
		}, nil
	}
	d.publishConflicts(conflicts)

	// (a) Одна попытка на альтернативном эшелоне того же направления.
	alt := base
	alt.ForbidLanes = res.LegLanes
	if altRes, err := d.plan(alt); err == nil {
		if err := d.deadline(ctx); err != nil {
			return nil, err
		}
		if altConflicts := d.detector.Detect(detect.Candidate{MissionID: missionID, Trajectory: altRes.Trajectory}, committed); len(altConflicts) == 0 {
			return &resolveOutcome{
				trajectory: altRes.Trajectory,
				strategy:   strategyAltitude,
				expansions: res.Expansions + altRes.Expansions,
				version:    version,
				missionID:  missionID,
			}, nil
		}
	}
	if err := d.deadline(ctx); err != nil {
		return nil, err
	}

	// (b) Одна попытка замедления: сегменты до самого раннего конфликта
	// растягиваются так, чтобы прибытие в точку конфликта сдвинулось
	// минимум на один шаг сетки времени.
	if damped, ok := d.dampBeforeConflict(res.Trajectory, conflicts); ok {
		if dc := d.detector.Detect(detect.Candidate{MissionID: missionID, Trajectory: damped}, committed); len(dc) == 0 {
			return &resolveOutcome{
				trajectory: damped,
				strategy:   strategySpeed,
				expansions: res.Expansions,
				version:    version,
				missionID:  missionID,
			}, nil
		}
	}

	// (c) Перепланирование с обходом занятых коридоров. Штраф растет с
	// каждой попыткой, выдавливая маршрут все дальше от конфликта.
	penalty := d.cfg.Planner.DynamicPenalty
	expansions := res.Expansions
	for retry := 1; retry <= d.cfg.Planner.MaxResolveRetries; retry++ {
		if err := d.deadline(ctx); err != nil {
			return nil, err
		}

		req := base
		req.Obstacles = obstacles
		req.Penalty = penalty
		penalty *= d.cfg.Planner.PenaltyGrowth

		r, err := d.plan(req)
		if err != nil {
			break
		}
		expansions += r.Expansions

		if c := d.detector.Detect(detect.Candidate{MissionID: missionID, Trajectory: r.Trajectory}, committed); len(c) == 0 {
			return &resolveOutcome{
				trajectory: r.Trajectory,
				strategy:   strategyReplan,
				replans:    retry,
				expansions: expansions,
				version:    version,
				missionID:  missionID,
			}, nil
		}
	}

	return nil, fmt.Errorf("%d conflicts after all strategies: %w", len(conflicts), ErrResolutionFailed)
}

// dampBeforeConflict подбирает наибольший коэффициент замедления из
// [SPEED_MIN_RATIO, 1), задерживающий прибытие к самому раннему конфликту
// не менее чем на шаг сетки времени. Возвращает false, когда окно до
// конфликта слишком короткое для допустимого замедления.
func (d *Dispatcher) dampBeforeConflict(traj *models.Trajectory, conflicts []models.Conflict) (*models.Trajectory, bool) {
	earliest := math.Inf(1)
	for _, c := range conflicts {
		if c.TimeUnix < earliest {
			earliest = c.TimeUnix
		}
	}

	window := earliest - traj.StartUnix()
	if window <= 0 {
		return nil, false
	}
	factor := window / (window + d.cfg.Planner.TimeResolutionS)
	if factor < d.cfg.SpeedMinRatio() {
		return nil, false
	}
	return traj.Damp(factor, earliest), true
}

// plan вызывает планировщик, транслирует его ошибки в Unroutable и
// снимает метрики поиска.
func (d *Dispatcher) plan(req planner.Request) (*planner.Result, error) {
	started := time.Now()
	res, err := d.planner.PlanMission(req)
	metrics.PlanDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		if errors.Is(err, planner.ErrNoPath) || errors.Is(err, planner.ErrExhausted) || errors.Is(err, planner.ErrNoLane) {
			return nil, fmt.Errorf("%s: %w", err, ErrUnroutable)
		}
		return nil, err
	}
	metrics.PlannerExpansions.Observe(float64(res.Expansions))
	return res, nil
}

// commit критическая секция коммита. Если множество активных траекторий
// изменилось с момента снимка, детекция повторяется против свежего
// состояния; при чистом результате миссия коммитится, иначе вызывающий
// перезапускает цикл.
func (d *Dispatcher) commit(ctx context.Context, m *models.Mission, plannedVersion uint64) (bool, error) {
	d.commitMu.Lock()
	defer d.commitMu.Unlock()

	if err := d.deadline(ctx); err != nil {
		return false, err
	}

	current, version := d.store.Snapshot()
	if version != plannedVersion {
		conflicts := d.detector.Detect(detect.Candidate{MissionID: m.ID, Trajectory: m.Trajectory}, candidatesOf(current))
		if len(conflicts) > 0 {
			d.publishConflicts(conflicts)
			return false, nil
		}
	}

	if err := d.store.InsertMission(m); err != nil {
		if errors.Is(err, ErrIllegalTransition) {
			// Аппарат выбыл между резервом и коммитом (например, выведен
			// из эксплуатации фоновой проверкой).
			return false, fmt.Errorf("reserved vehicle %s lost: %w", m.VehicleID, ErrNoVehicle)
		}
		return false, err
	}
	return true, nil
}

func (d *Dispatcher) buildMission(outcome *resolveOutcome, vehicleID string, pickup, delivery models.GeoPoint) *models.Mission {
	now := time.Now().UTC()
	return &models.Mission{
		ID:          outcome.missionID,
		VehicleID:   vehicleID,
		Pickup:      pickup,
		Delivery:    delivery,
		Phase:       models.MissionPlanned,
		Trajectory:  outcome.trajectory,
		BatteryPct:  models.EstimateBatteryUsage(outcome.trajectory.Duration(), d.cfg.Fleet.PowerConsumptionW, d.cfg.Fleet.BatteryCapacityWh),
		ReplanCount: outcome.replans,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// UpdateVehicleTelemetry применяет телеметрию и продвигает фазу миссии,
// когда траектория говорит, что этап завершен: прибытие в точку загрузки
// после паузы переводит в CARRYING, прибытие в точку доставки завершает
// миссию и возвращает аппарат в IDLE. Ручная смена фазы остается
// авторитетной и идет через MarkMissionPhase.
func (d *Dispatcher) UpdateVehicleTelemetry(vehicleID string, pos models.Point4D, batteryPct, speedMPS, headingDeg float64) (*models.Vehicle, error) {
	v, err := d.store.UpdateTelemetry(vehicleID, pos, batteryPct, speedMPS, headingDeg)
	if err != nil {
		return nil, err
	}
	metrics.TelemetryUpdates.Inc()
	d.events.Post(models.EventVehicleUpdated, v)

	if v.MissionID != "" {
		d.autoAdvance(v)
	}
	return v, nil
}

// autoAdvance продвигает фазу миссии по свежей телеметрии.
func (d *Dispatcher) autoAdvance(v *models.Vehicle) {
	m, err := d.store.Mission(v.MissionID)
	if err != nil || m.Trajectory == nil {
		return
	}

	now := float64(time.Now().UnixNano()) / 1e9
	radius := d.cfg.Fleet.ArrivalRadiusM
	proj := d.store.Projection()

	switch m.Phase {
	case models.MissionPlanned:
		if v.SpeedMPS > 0 {
			d.markPhase(m.ID, models.MissionEnRoutePickup, "")
		}
	case models.MissionEnRoutePickup:
		seam, ok := dwellSeam(m.Trajectory)
		if !ok {
			return
		}
		dwellEnd := m.Trajectory.StartUnix() + m.Trajectory.Waypoints[seam+1].TimeS
		at := m.Trajectory.Waypoints[seam].Ground()
		if now >= dwellEnd && proj.Distance(v.Position.Ground(), at) <= radius {
			d.markPhase(m.ID, models.MissionCarrying, "")
		}
	case models.MissionCarrying:
		end := m.Trajectory.Last().Ground()
		if proj.Distance(v.Position.Ground(), end) <= radius {
			d.markPhase(m.ID, models.MissionDelivered, "")
		}
	}
}

// dwellSeam находит стык этапов: первую путевую точку с нулевой
// скоростью, не являющуюся финальной. Следующая точка отмечает конец
// паузы на загрузку.
func dwellSeam(traj *models.Trajectory) (int, bool) {
	for i := 0; i < len(traj.Waypoints)-1; i++ {
		if traj.Waypoints[i].SpeedMPS == 0 {
			return i, true
		}
	}
	return 0, false
}

// MarkMissionPhase валидированно переводит миссию в новую фазу.
func (d *Dispatcher) MarkMissionPhase(missionID string, phase models.MissionPhase) (*models.Mission, error) {
	reason := ""
	if phase == models.MissionFailed {
		reason = "manual"
	}
	return d.markPhase(missionID, phase, reason)
}

// FailMission принудительно завершает миссию с указанием причины.
// Используется фоновыми проверками.
func (d *Dispatcher) FailMission(missionID, reason string) (*models.Mission, error) {
	return d.markPhase(missionID, models.MissionFailed, reason)
}

func (d *Dispatcher) markPhase(missionID string, phase models.MissionPhase, reason string) (*models.Mission, error) {
	m, change, err := d.store.MarkMissionPhase(missionID, phase)
	if err != nil {
		return nil, err
	}

	d.events.Post(models.EventMissionPhase, change)
	if phase == models.MissionFailed {
		d.events.Post(models.EventMissionFailed, m)
		if reason == "" {
			reason = "manual"
		}
		metrics.MissionsFailed.WithLabelValues(reason).Inc()
	}
	d.syncFleetMetrics()

	d.logger.WithFields(map[string]interface{}{
		"mission_id": missionID,
		"from":       change.From,
		"to":         change.To,
	}).Info("Mission phase changed")
	return m, nil
}

// Status сводка состояния системы для операторской панели.
type Status struct {
	Environment        string                       `json:"environment"`
	UptimeS            float64                      `json:"uptime_s"`
	Vehicles           map[models.VehicleState]int  `json:"vehicles"`
	Missions           map[models.MissionPhase]int  `json:"missions"`
	ActiveTrajectories int                          `json:"active_trajectories"`
	EventDepth         int                          `json:"event_depth"`
	Version            uint64                       `json:"airspace_version"`
}

// Status возвращает счетчики флота, миссий и потока событий.
func (d *Dispatcher) Status() Status {
	active, version := d.store.Snapshot()
	return Status{
		Environment:        d.cfg.Environment,
		UptimeS:            time.Since(d.startedAt).Seconds(),
		Vehicles:           d.store.CountsByState(),
		Missions:           d.store.CountsByPhase(),
		ActiveTrajectories: len(active),
		EventDepth:         d.events.Depth(),
		Version:            version,
	}
}

// SweepStaleVehicles выводит из эксплуатации аппараты без свежей
// телеметрии и завершает их миссии.
func (d *Dispatcher) SweepStaleVehicles() int {
	stale := d.store.StaleVehicles(d.cfg.Fleet.TelemetryStaleAfter)
	for _, v := range stale {
		updated, err := d.store.SetVehicleState(v.ID, models.VehicleUnavailable)
		if err != nil {
			continue
		}
		d.logger.WithFields(map[string]interface{}{
			"vehicle_id":  v.ID,
			"last_update": v.LastUpdate,
		}).Warn("Vehicle telemetry stale, marking unavailable")
		d.events.Post(models.EventVehicleUpdated, updated)

		if v.MissionID != "" {
			if _, err := d.FailMission(v.MissionID, "stale_vehicle"); err != nil && !errors.Is(err, ErrIllegalTransition) {
				d.logger.WithError(err).WithField("mission_id", v.MissionID).Error("Failed to abort mission of stale vehicle")
			}
		}
	}
	if len(stale) > 0 {
		d.syncFleetMetrics()
	}
	return len(stale)
}

// SweepExpiredMissions завершает миссии, зависшие в нетерминальной фазе
// дольше таймаута.
func (d *Dispatcher) SweepExpiredMissions() int {
	expired := d.store.ExpiredMissions(d.cfg.Fleet.MissionTimeout)
	for _, m := range expired {
		if _, err := d.FailMission(m.ID, "timeout"); err != nil {
			d.logger.WithError(err).WithField("mission_id", m.ID).Error("Failed to expire mission")
		}
	}
	return len(expired)
}

// SweepConflicts прогоняет детектор по всем парам активных траекторий.
// Закоммиченное множество обязано быть бесконфликтным, поэтому каждая
// находка публикуется и логируется как деградация.
func (d *Dispatcher) SweepConflicts() int {
	snapshot, _ := d.store.Snapshot()
	conflicts := d.detector.Sweep(candidatesOf(snapshot))
	if len(conflicts) > 0 {
		d.publishConflicts(conflicts)
		d.logger.WithField("count", len(conflicts)).Error("Separation violation among committed trajectories")
	}
	return len(conflicts)
}

func (d *Dispatcher) publishConflicts(conflicts []models.Conflict) {
	for _, c := range conflicts {
		metrics.ConflictsDetected.WithLabelValues(string(c.Severity)).Inc()
		d.events.Post(models.EventConflictDetected, c)
	}
}

func (d *Dispatcher) checkEndpoint(p models.GeoPoint, name string) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%s: %v: %w", name, err, ErrOutOfBounds)
	}
	if !d.fence.Contains(p) {
		return fmt.Errorf("%s outside operational bounds: %w", name, ErrOutOfBounds)
	}
	if forbidden, _ := d.fence.Classify(p.Latitude, p.Longitude); forbidden {
		return fmt.Errorf("%s inside no-fly zone: %w", name, ErrOutOfBounds)
	}
	return nil
}

func (d *Dispatcher) deadline(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%v: %w", err, ErrTimeout)
	}
	return nil
}

func (d *Dispatcher) countFailure(err error) {
	switch {
	case errors.Is(err, ErrNoVehicle):
		metrics.MissionsFailed.WithLabelValues("no_vehicle").Inc()
	case errors.Is(err, ErrUnroutable):
		metrics.MissionsFailed.WithLabelValues("unroutable").Inc()
	case errors.Is(err, ErrResolutionFailed):
		metrics.MissionsFailed.WithLabelValues("resolution").Inc()
	case errors.Is(err, ErrTimeout):
		metrics.MissionsFailed.WithLabelValues("timeout").Inc()
	}
}

// syncFleetMetrics выставляет датчики по всем состояниям, включая
// опустевшие, чтобы метки не залипали на старых значениях.
func (d *Dispatcher) syncFleetMetrics() {
	counts := d.store.CountsByState()
	for _, state := range []models.VehicleState{
		models.VehicleIdle, models.VehicleAssigned, models.VehicleInFlight,
		models.VehicleReturning, models.VehicleUnavailable,
	} {
		metrics.VehiclesByState.WithLabelValues(string(state)).Set(float64(counts[state]))
	}
	active, _ := d.store.Snapshot()
	metrics.ActiveTrajectories.Set(float64(len(active)))
}

func candidatesOf(missions []*models.Mission) []detect.Candidate {
	out := make([]detect.Candidate, 0, len(missions))
	for _, m := range missions {
		out = append(out, detect.Candidate{MissionID: m.ID, Trajectory: m.Trajectory})
	}
	return out
}

func trajectoriesOf(missions []*models.Mission) []*models.Trajectory {
	out := make([]*models.Trajectory, 0, len(missions))
	for _, m := range missions {
		out = append(out, m.Trajectory)
	}
	return out
}
