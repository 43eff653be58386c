package reaper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukelocksmith/vexa/internal/botmanager/botcommon"
	"github.com/lukelocksmith/vexa/internal/botmanager/db"
	"github.com/lukelocksmith/vexa/internal/botmanager/db/memstore"
	"github.com/lukelocksmith/vexa/internal/botmanager/db/models"
	"github.com/lukelocksmith/vexa/internal/botmanager/orchestrator"
	"github.com/lukelocksmith/vexa/internal/common/uuid"
)

func testThresholds() Thresholds {
	return Thresholds{
		Tick:           time.Minute,
		ReserveStale:   5 * time.Minute,
		StartingStale:  10 * time.Minute,
		HeartbeatStale: 2 * time.Minute,
		StoppingStale:  5 * time.Minute,
	}
}

type env struct {
	store  *memstore.Store
	orch   *orchestrator.FakeOrchestrator
	reaper *Reaper
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := memstore.New()
	require.NoError(t, store.UpsertUser(context.Background(), &models.User{
		UserID:            "u7",
		MaxConcurrentBots: 10,
	}))
	orch := orchestrator.NewFakeOrchestrator()
	return &env{
		store:  store,
		orch:   orch,
		reaper: New(store, orch, testThresholds()),
	}
}

// seedMeeting creates a meeting in the given status with a container and an
// updated_at pushed into the past.
func (e *env) seedMeeting(t *testing.T, status models.MeetingStatus, age time.Duration) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	res, err := e.store.Reserve(ctx, "u7", botcommon.PlatformZoom,
		"native-"+uuid.New().String(), "",
		botcommon.MeetingConfig{Task: botcommon.TaskTranscribe, BotName: "Rec"})
	require.NoError(t, err)

	containerID, cErr := e.orch.Create(ctx, orchestrator.ContainerSpec{MeetingID: res.MeetingID})
	require.NoError(t, cErr)
	require.NoError(t, e.store.SetContainer(ctx, res.MeetingID, containerID))

	path := map[models.MeetingStatus][]models.MeetingStatus{
		models.MeetingStatusReserved: {},
		models.MeetingStatusStarting: {models.MeetingStatusStarting},
		models.MeetingStatusActive:   {models.MeetingStatusStarting, models.MeetingStatusActive},
		models.MeetingStatusStopping: {models.MeetingStatusStarting, models.MeetingStatusActive, models.MeetingStatusStopping},
	}
	current := models.MeetingStatusReserved
	for _, next := range path[status] {
		require.NoError(t, e.store.AdvanceStatus(ctx, res.MeetingID,
			[]models.MeetingStatus{current}, next, db.AdvanceOptions{}))
		current = next
	}

	e.store.SetUpdatedAt(res.MeetingID, time.Now().UTC().Add(-age))
	return res.MeetingID
}

func (e *env) meeting(t *testing.T, id uuid.UUID) *models.Meeting {
	t.Helper()
	m, err := e.store.GetMeeting(context.Background(), id)
	require.NoError(t, err)
	return m
}

func TestReaperFailsStaleBuckets(t *testing.T) {
	tests := []struct {
		status models.MeetingStatus
		age    time.Duration
		reason string
	}{
		{models.MeetingStatusReserved, 6 * time.Minute, "startup_timeout"},
		{models.MeetingStatusStarting, 11 * time.Minute, "join_timeout"},
		{models.MeetingStatusActive, 3 * time.Minute, "heartbeat_lost"},
		{models.MeetingStatusStopping, 6 * time.Minute, "shutdown_timeout"},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			e := newEnv(t)
			id := e.seedMeeting(t, tt.status, tt.age)

			e.reaper.RunOnce(context.Background(), time.Now().UTC())

			m := e.meeting(t, id)
			assert.Equal(t, models.MeetingStatusFailed, m.Status)
			assert.Equal(t, tt.reason, m.FailureReason.String)
			assert.True(t, m.EndTime.Valid)
			assert.Equal(t, 1, e.orch.StopCount(m.BotContainerID.String))
		})
	}
}

func TestReaperLeavesFreshMeetingsAlone(t *testing.T) {
	e := newEnv(t)
	id := e.seedMeeting(t, models.MeetingStatusActive, 30*time.Second)

	e.reaper.RunOnce(context.Background(), time.Now().UTC())

	m := e.meeting(t, id)
	assert.Equal(t, models.MeetingStatusActive, m.Status)
	assert.Empty(t, e.orch.Stopped)
}

func TestReaperLeavesTerminalMeetingsAlone(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	id := e.seedMeeting(t, models.MeetingStatusActive, 0)
	require.NoError(t, e.store.AdvanceStatus(ctx, id,
		[]models.MeetingStatus{models.MeetingStatusActive},
		models.MeetingStatusCompleted, db.AdvanceOptions{}))
	e.store.SetUpdatedAt(id, time.Now().UTC().Add(-time.Hour))

	e.reaper.RunOnce(ctx, time.Now().UTC())

	m := e.meeting(t, id)
	assert.Equal(t, models.MeetingStatusCompleted, m.Status)
	assert.Empty(t, e.orch.Stopped)
}

func TestReaperRunStopsOnCancel(t *testing.T) {
	e := newEnv(t)
	thresholds := testThresholds()
	thresholds.Tick = 10 * time.Millisecond
	r := New(e.store, e.orch, thresholds)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop at tick boundary")
	}
}

func TestReaperHeartbeatKeepsMeetingAlive(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	id := e.seedMeeting(t, models.MeetingStatusActive, 3*time.Minute)

	// A heartbeat lands just before the tick.
	require.NoError(t, e.store.Touch(ctx, id))

	e.reaper.RunOnce(ctx, time.Now().UTC())
	assert.Equal(t, models.MeetingStatusActive, e.meeting(t, id).Status)
}
