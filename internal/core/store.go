package core

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/flybeeper/utm-backend/internal/geo"
	"github.com/flybeeper/utm-backend/internal/models"
	"github.com/flybeeper/utm-backend/pkg/utils"
)

// Store хранилище закоммиченных траекторий и владелец состояния флота.
// Все мутации сериализованы одним мьютексом; читатели получают копии,
// поэтому снимок никогда не видит частичную запись. Version растет при
// каждом изменении множества активных траекторий и служит диспетчеру
// признаком того, что оптимистично спланированный результат устарел.
type Store struct {
	mu       sync.RWMutex
	vehicles map[string]*models.Vehicle
	missions map[string]*models.Mission
	reserved map[string]struct{}
	version  uint64
	proj     *geo.Projection
	logger   *utils.Logger
}

// NewStore создает пустое хранилище.
func NewStore(proj *geo.Projection, logger *utils.Logger) *Store {
	return &Store{
		vehicles: make(map[string]*models.Vehicle),
		missions: make(map[string]*models.Mission),
		reserved: make(map[string]struct{}),
		proj:     proj,
		logger:   logger.WithField("component", "store"),
	}
}

// RegisterVehicle добавляет аппарат во флот. Повторная регистрация того же
// идентификатора отклоняется.
func (s *Store) RegisterVehicle(v *models.Vehicle) error {
	if err := v.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.vehicles[v.ID]; ok {
		return fmt.Errorf("vehicle %s: %w", v.ID, ErrVehicleExists)
	}
	cp := *v
	if cp.LastUpdate.IsZero() {
		cp.LastUpdate = time.Now().UTC()
	}
	s.vehicles[v.ID] = &cp

	s.logger.WithFields(map[string]interface{}{
		"vehicle_id": v.ID,
		"state":      v.State,
	}).Info("Vehicle registered")
	return nil
}

// Vehicle возвращает копию аппарата по идентификатору.
func (s *Store) Vehicle(id string) (*models.Vehicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.vehicles[id]
	if !ok {
		return nil, fmt.Errorf("vehicle %s: %w", id, ErrUnknownVehicle)
	}
	cp := *v
	return &cp, nil
}

// Vehicles возвращает копии всех аппаратов, отсортированные по идентификатору.
func (s *Store) Vehicles() []*models.Vehicle {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Vehicle, 0, len(s.vehicles))
	for _, v := range s.vehicles {
		cp := *v
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Mission возвращает копию миссии по идентификатору.
func (s *Store) Mission(id string) (*models.Mission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.missions[id]
	if !ok {
		return nil, fmt.Errorf("mission %s: %w", id, ErrUnknownMission)
	}
	cp := *m
	return &cp, nil
}

// Missions возвращает копии всех миссий в порядке создания.
func (s *Store) Missions() []*models.Mission {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Mission, 0, len(s.missions))
	for _, m := range s.missions {
		cp := *m
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Snapshot возвращает копии активных миссий вместе с номером версии.
// Траектории после коммита неизменны, поэтому разделяются по указателю.
func (s *Store) Snapshot() ([]*models.Mission, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeLocked(), s.version
}

// ActiveBetween возвращает активные миссии, чьи траектории пересекают
// интервал абсолютного времени [t0, t1).
func (s *Store) ActiveBetween(t0, t1 float64) []*models.Mission {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Mission
	for _, m := range s.activeLocked() {
		if m.Trajectory.Overlaps(t0, t1) {
			out = append(out, m)
		}
	}
	return out
}

// Version возвращает текущую версию множества активных траекторий.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Projection возвращает проекцию операционной зоны.
func (s *Store) Projection() *geo.Projection {
	return s.proj
}

func (s *Store) activeLocked() []*models.Mission {
	out := make([]*models.Mission, 0, len(s.missions))
	for _, m := range s.missions {
		if m.Active() && m.Trajectory != nil {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ReserveVehicle выбирает ближайший к точке загрузки свободный аппарат и
// резервирует его на время планирования. Резерв не меняет состояние
// аппарата и снимается либо коммитом, либо явным ReleaseVehicle.
// При равных дистанциях побеждает меньший идентификатор.
func (s *Store) ReserveVehicle(pickup models.GeoPoint) (*models.Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *models.Vehicle
	var bestDistSq float64
	for _, v := range s.vehicles {
		if v.State != models.VehicleIdle {
			continue
		}
		if _, taken := s.reserved[v.ID]; taken {
			continue
		}
		dSq := s.proj.DistanceSq(v.Position.Ground(), pickup)
		if best == nil || dSq < bestDistSq || (dSq == bestDistSq && v.ID < best.ID) {
			best = v
			bestDistSq = dSq
		}
	}
	if best == nil {
		return nil, ErrNoVehicle
	}

	s.reserved[best.ID] = struct{}{}
	cp := *best
	return &cp, nil
}

// ReleaseVehicle снимает резерв без коммита. Вызывается на каждом
// неуспешном выходе из цикла планирования.
func (s *Store) ReleaseVehicle(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.reserved, id)
}

// InsertMission атомарно коммитит миссию: аппарат обязан быть IDLE,
// переходит в ASSIGNED, резерв снимается, версия растет. Никакая часть
// мутации не видна снаружи до возврата.
func (s *Store) InsertMission(m *models.Mission) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if m.Trajectory == nil {
		return fmt.Errorf("mission %s: trajectory is required", m.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.vehicles[m.VehicleID]
	if !ok {
		return fmt.Errorf("vehicle %s: %w", m.VehicleID, ErrUnknownVehicle)
	}
	if v.State != models.VehicleIdle {
		return fmt.Errorf("vehicle %s is %s: %w", v.ID, v.State, ErrIllegalTransition)
	}
	if _, dup := s.missions[m.ID]; dup {
		return fmt.Errorf("mission %s already committed", m.ID)
	}

	v.State = models.VehicleAssigned
	v.MissionID = m.ID
	delete(s.reserved, v.ID)

	cp := *m
	s.missions[m.ID] = &cp
	s.version++

	s.logger.WithFields(map[string]interface{}{
		"mission_id": m.ID,
		"vehicle_id": m.VehicleID,
		"waypoints":  len(m.Trajectory.Waypoints),
		"version":    s.version,
	}).Info("Mission committed")
	return nil
}

// MarkMissionPhase переводит миссию в новую фазу и синхронно обновляет
// состояние аппарата. Терминальные фазы освобождают аппарат и воздушное
// пространство: вернувшийся в IDLE аппарат снова доступен для назначения.
func (s *Store) MarkMissionPhase(id string, phase models.MissionPhase) (*models.Mission, models.PhaseChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.missions[id]
	if !ok {
		return nil, models.PhaseChange{}, fmt.Errorf("mission %s: %w", id, ErrUnknownMission)
	}
	if !m.Phase.CanTransitionTo(phase) {
		return nil, models.PhaseChange{}, fmt.Errorf("mission %s: %s -> %s: %w", id, m.Phase, phase, ErrIllegalTransition)
	}

	change := models.PhaseChange{
		MissionID: m.ID,
		VehicleID: m.VehicleID,
		From:      m.Phase,
		To:        phase,
	}
	m.Phase = phase
	m.UpdatedAt = time.Now().UTC()

	v := s.vehicles[m.VehicleID]
	switch phase {
	case models.MissionEnRoutePickup:
		if v != nil && v.State.CanTransitionTo(models.VehicleInFlight) {
			v.State = models.VehicleInFlight
		}
	case models.MissionDelivered, models.MissionFailed:
		if v != nil && v.State != models.VehicleUnavailable {
			v.State = models.VehicleIdle
			v.MissionID = ""
		}
		delete(s.reserved, m.VehicleID)
		s.version++
	}

	cp := *m
	return &cp, change, nil
}

// SetVehicleState выполняет валидированный переход состояния аппарата.
// Используется фоновыми задачами: вывод из эксплуатации по устаревшей
// телеметрии и возврат в строй.
func (s *Store) SetVehicleState(id string, state models.VehicleState) (*models.Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.vehicles[id]
	if !ok {
		return nil, fmt.Errorf("vehicle %s: %w", id, ErrUnknownVehicle)
	}
	if !v.State.CanTransitionTo(state) {
		return nil, fmt.Errorf("vehicle %s: %s -> %s: %w", id, v.State, state, ErrIllegalTransition)
	}
	v.State = state
	if state == models.VehicleIdle || state == models.VehicleUnavailable {
		v.MissionID = ""
		delete(s.reserved, id)
	}
	cp := *v
	return &cp, nil
}

// UpdateTelemetry применяет свежую телеметрию к аппарату.
func (s *Store) UpdateTelemetry(id string, pos models.Point4D, batteryPct, speedMPS, headingDeg float64) (*models.Vehicle, error) {
	if err := pos.Ground().Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.vehicles[id]
	if !ok {
		return nil, fmt.Errorf("vehicle %s: %w", id, ErrUnknownVehicle)
	}
	v.Position = pos
	if batteryPct >= 0 && batteryPct <= 100 {
		v.BatteryPct = batteryPct
	}
	v.SpeedMPS = speedMPS
	if headingDeg >= 0 && headingDeg < 360 {
		v.HeadingDeg = headingDeg
	}
	v.LastUpdate = time.Now().UTC()

	cp := *v
	return &cp, nil
}

// StaleVehicles возвращает аппараты, не присылавшие телеметрию дольше
// указанного срока. UNAVAILABLE не учитываются: они уже выведены.
func (s *Store) StaleVehicles(maxAge time.Duration) []*models.Vehicle {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Vehicle
	for _, v := range s.vehicles {
		if v.State == models.VehicleUnavailable {
			continue
		}
		if v.IsStale(maxAge) {
			cp := *v
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ExpiredMissions возвращает нетерминальные миссии старше maxAge.
func (s *Store) ExpiredMissions(maxAge time.Duration) []*models.Mission {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().Add(-maxAge)
	var out []*models.Mission
	for _, m := range s.missions {
		if m.Active() && m.CreatedAt.Before(cutoff) {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CountsByState возвращает количество аппаратов в каждом состоянии.
func (s *Store) CountsByState() map[models.VehicleState]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[models.VehicleState]int)
	for _, v := range s.vehicles {
		out[v.State]++
	}
	return out
}

// CountsByPhase возвращает количество миссий в каждой фазе.
func (s *Store) CountsByPhase() map[models.MissionPhase]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[models.MissionPhase]int)
	for _, m := range s.missions {
		out[m.Phase]++
	}
	return out
}

// storeSnapshot сериализуемое состояние хранилища.
type storeSnapshot struct {
	Vehicles []*models.Vehicle `msgpack:"vehicles"`
	Missions []*models.Mission `msgpack:"missions"`
	Version  uint64            `msgpack:"version"`
	SavedAt  time.Time         `msgpack:"saved_at"`
}

// MarshalSnapshot сериализует состояние флота и миссий в msgpack.
// Резервы не сохраняются: это внутрипроцессные краткоживущие пометки.
func (s *Store) MarshalSnapshot() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := storeSnapshot{
		Vehicles: make([]*models.Vehicle, 0, len(s.vehicles)),
		Missions: make([]*models.Mission, 0, len(s.missions)),
		Version:  s.version,
		SavedAt:  time.Now().UTC(),
	}
	for _, v := range s.vehicles {
		cp := *v
		snap.Vehicles = append(snap.Vehicles, &cp)
	}
	for _, m := range s.missions {
		cp := *m
		snap.Missions = append(snap.Missions, &cp)
	}
	sort.Slice(snap.Vehicles, func(i, j int) bool { return snap.Vehicles[i].ID < snap.Vehicles[j].ID })
	sort.Slice(snap.Missions, func(i, j int) bool { return snap.Missions[i].ID < snap.Missions[j].ID })

	return msgpack.Marshal(&snap)
}

// RestoreSnapshot загружает сериализованное состояние поверх пустого
// хранилища. Вызов на непустом хранилище отклоняется.
func (s *Store) RestoreSnapshot(data []byte) error {
	var snap storeSnapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.vehicles) > 0 || len(s.missions) > 0 {
		return fmt.Errorf("restore into non-empty store")
	}
	for _, v := range snap.Vehicles {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("snapshot vehicle: %w", err)
		}
		s.vehicles[v.ID] = v
	}
	for _, m := range snap.Missions {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("snapshot mission: %w", err)
		}
		s.missions[m.ID] = m
	}
	s.version = snap.Version

	s.logger.WithFields(map[string]interface{}{
		"vehicles": len(snap.Vehicles),
		"missions": len(snap.Missions),
		"saved_at": snap.SavedAt,
	}).Info("Store restored from snapshot")
	return nil
}
