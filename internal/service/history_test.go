package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flybeeper/utm-backend/internal/models"
)

func fastHistoryConfig() *HistoryConfig {
	return &HistoryConfig{
		BatchSize:     10,
		FlushInterval: 50 * time.Millisecond,
		PollInterval:  10 * time.Millisecond,
		MaxRetries:    1,
		RetryDelay:    time.Millisecond,
		Retention:     24 * time.Hour,
		CleanupEvery:  time.Hour,
	}
}

func TestHistoryWriterArchivesTerminalMissions(t *testing.T) {
	d, _ := newServiceStack(t, nil)
	registerIdle(t, d, "drone_001", 37.70, -122.42)

	repo := &historyRepoStub{}
	hw := NewHistoryWriter(d, repo, testLogger(), fastHistoryConfig())
	defer hw.Stop()

	failed := submitAndFail(t, d)

	require.Eventually(t, func() bool {
		return len(repo.archived()) == 1
	}, 2*time.Second, 10*time.Millisecond, "terminal mission must reach the archive")

	got := repo.archived()[0]
	assert.Equal(t, failed.ID, got.ID)
	assert.Equal(t, "drone_001", got.VehicleID)
	assert.Equal(t, models.MissionFailed, got.Phase)
	assert.NotNil(t, got.Trajectory)
}

func TestHistoryWriterDrainsOnStop(t *testing.T) {
	d, _ := newServiceStack(t, nil)
	registerIdle(t, d, "drone_001", 37.70, -122.42)

	// Интервалы заведомо больше длительности теста: до Stop ни один
	// тикер не сработает, архивация происходит только при остановке.
	cfg := fastHistoryConfig()
	cfg.PollInterval = time.Hour
	cfg.FlushInterval = time.Hour

	repo := &historyRepoStub{}
	hw := NewHistoryWriter(d, repo, testLogger(), cfg)

	failed := submitAndFail(t, d)
	require.NoError(t, hw.Stop())

	archived := repo.archived()
	require.Len(t, archived, 1)
	assert.Equal(t, failed.ID, archived[0].ID)

	stats := hw.Stats()
	assert.EqualValues(t, 1, stats.MissionsQueued)
	assert.EqualValues(t, 1, stats.MissionsProcessed)
	assert.EqualValues(t, 0, stats.QueueDepth)
}

func TestHistoryWriterRetriesFailedBatches(t *testing.T) {
	d, _ := newServiceStack(t, nil)
	registerIdle(t, d, "drone_001", 37.70, -122.42)

	cfg := fastHistoryConfig()
	cfg.MaxRetries = 3

	repo := &historyRepoStub{failures: 2}
	hw := NewHistoryWriter(d, repo, testLogger(), cfg)
	defer hw.Stop()

	submitAndFail(t, d)

	require.Eventually(t, func() bool {
		return len(repo.archived()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Две неудачи плюс успешная запись
	assert.GreaterOrEqual(t, repo.callCount(), 3)
}

func TestHistoryWriterIgnoresNonTerminalPhases(t *testing.T) {
	d, _ := newServiceStack(t, nil)
	registerIdle(t, d, "drone_001", 37.70, -122.42)

	cfg := fastHistoryConfig()
	cfg.PollInterval = time.Hour
	cfg.FlushInterval = time.Hour

	repo := &historyRepoStub{}
	hw := NewHistoryWriter(d, repo, testLogger(), cfg)

	m := submitDelivery(t, d)
	_, err := d.MarkMissionPhase(m.ID, models.MissionEnRoutePickup)
	require.NoError(t, err)

	require.NoError(t, hw.Stop())
	assert.Empty(t, repo.archived(), "active mission must not be archived")
}
