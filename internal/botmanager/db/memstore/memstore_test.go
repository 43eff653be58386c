package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukelocksmith/vexa/internal/botmanager/botcommon"
	"github.com/lukelocksmith/vexa/internal/botmanager/db"
	"github.com/lukelocksmith/vexa/internal/botmanager/db/dberror"
	"github.com/lukelocksmith/vexa/internal/botmanager/db/models"
)

func testConfig() botcommon.MeetingConfig {
	return botcommon.MeetingConfig{Task: botcommon.TaskTranscribe, BotName: "Rec"}
}

func seedUser(t *testing.T, s *Store, userID string, cap int) {
	t.Helper()
	require.NoError(t, s.UpsertUser(context.Background(), &models.User{
		UserID:            userID,
		MaxConcurrentBots: cap,
	}))
}

func TestReserveThenRead(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedUser(t, s, "u7", 2)

	res, err := s.Reserve(ctx, "u7", botcommon.PlatformZoom, "abc", "https://zoom.us/j/abc", testConfig())
	require.NoError(t, err)
	require.NotNil(t, res)

	m, err := s.GetMeeting(ctx, res.MeetingID)
	require.NoError(t, err)
	assert.Equal(t, models.MeetingStatusReserved, m.Status)
	assert.Equal(t, res.SessionUID, m.SessionUID)

	cfg, cfgErr := m.MeetingConfig()
	require.NoError(t, cfgErr)
	assert.Equal(t, testConfig(), cfg)
}

func TestReserveEnforcesCap(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedUser(t, s, "u7", 1)

	_, err := s.Reserve(ctx, "u7", botcommon.PlatformZoom, "abc", "", testConfig())
	require.NoError(t, err)

	_, err = s.Reserve(ctx, "u7", botcommon.PlatformZoom, "def", "", testConfig())
	require.Error(t, err)
	assert.True(t, errors.Is(err, dberror.ErrLimitExceeded))

	count, cErr := s.CountNonTerminal(ctx, "u7")
	require.NoError(t, cErr)
	assert.Equal(t, 1, count)
}

func TestReserveZeroCapRefusesEverything(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedUser(t, s, "u0", 0)

	_, err := s.Reserve(ctx, "u0", botcommon.PlatformZoom, "abc", "", testConfig())
	assert.True(t, errors.Is(err, dberror.ErrLimitExceeded))
}

func TestReserveDuplicateConflicts(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedUser(t, s, "u7", 5)

	_, err := s.Reserve(ctx, "u7", botcommon.PlatformZoom, "abc", "", testConfig())
	require.NoError(t, err)

	_, err = s.Reserve(ctx, "u7", botcommon.PlatformZoom, "abc", "", testConfig())
	assert.True(t, errors.Is(err, dberror.ErrConflict))

	count, cErr := s.CountNonTerminal(ctx, "u7")
	require.NoError(t, cErr)
	assert.Equal(t, 1, count)
}

func TestReserveUnknownUser(t *testing.T) {
	_, err := New().Reserve(context.Background(), "ghost", botcommon.PlatformZoom, "abc", "", testConfig())
	assert.True(t, errors.Is(err, dberror.ErrNotFound))
}

func TestConcurrentReservesNeverExceedCap(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedUser(t, s, "u7", 3)

	const attempts = 20
	var wg sync.WaitGroup
	successes := make(chan struct{}, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := s.Reserve(ctx, "u7", botcommon.PlatformZoom,
				string(rune('a'+n))+"-meeting", "", testConfig())
			if err == nil {
				successes <- struct{}{}
			}
		}(i)
	}
	wg.Wait()
	close(successes)

	won := 0
	for range successes {
		won++
	}
	assert.Equal(t, 3, won)

	count, err := s.CountNonTerminal(ctx, "u7")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestSetContainerSingleUse(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedUser(t, s, "u7", 1)
	res, err := s.Reserve(ctx, "u7", botcommon.PlatformZoom, "abc", "", testConfig())
	require.NoError(t, err)

	require.NoError(t, s.SetContainer(ctx, res.MeetingID, "c1"))
	// Same id again is an idempotent retry.
	require.NoError(t, s.SetContainer(ctx, res.MeetingID, "c1"))
	// A different id violates single-use.
	err = s.SetContainer(ctx, res.MeetingID, "c2")
	assert.True(t, errors.Is(err, dberror.ErrAlreadySet))
}

func TestAdvanceStatusCAS(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedUser(t, s, "u7", 1)
	res, err := s.Reserve(ctx, "u7", botcommon.PlatformZoom, "abc", "", testConfig())
	require.NoError(t, err)

	from := []models.MeetingStatus{models.MeetingStatusReserved}
	require.NoError(t, s.AdvanceStatus(ctx, res.MeetingID, from, models.MeetingStatusStarting, db.AdvanceOptions{}))

	// Repeating the same transition is idempotent.
	require.NoError(t, s.AdvanceStatus(ctx, res.MeetingID, from, models.MeetingStatusStarting, db.AdvanceOptions{}))

	// Skipping a state is illegal.
	err = s.AdvanceStatus(ctx, res.MeetingID,
		[]models.MeetingStatus{models.MeetingStatusReserved},
		models.MeetingStatusCompleted, db.AdvanceOptions{})
	assert.True(t, errors.Is(err, dberror.ErrIllegalTransition))
}

func TestAdvanceStatusSetsTerminalFields(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedUser(t, s, "u7", 1)
	res, err := s.Reserve(ctx, "u7", botcommon.PlatformZoom, "abc", "", testConfig())
	require.NoError(t, err)

	now := time.Now().UTC()
	reason := "startup_timeout"
	require.NoError(t, s.AdvanceStatus(ctx, res.MeetingID,
		[]models.MeetingStatus{models.MeetingStatusReserved},
		models.MeetingStatusFailed,
		db.AdvanceOptions{EndTime: &now, FailureReason: &reason}))

	m, err := s.GetMeeting(ctx, res.MeetingID)
	require.NoError(t, err)
	assert.Equal(t, models.MeetingStatusFailed, m.Status)
	assert.True(t, m.EndTime.Valid)
	assert.Equal(t, reason, m.FailureReason.String)
}

func TestTerminalMeetingFreesSlot(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedUser(t, s, "u7", 1)
	res, err := s.Reserve(ctx, "u7", botcommon.PlatformZoom, "abc", "", testConfig())
	require.NoError(t, err)

	now := time.Now().UTC()
	reason := "x"
	require.NoError(t, s.AdvanceStatus(ctx, res.MeetingID,
		[]models.MeetingStatus{models.MeetingStatusReserved},
		models.MeetingStatusFailed,
		db.AdvanceOptions{EndTime: &now, FailureReason: &reason}))

	// Cap slot is released, and the same native id may be reserved again.
	_, err = s.Reserve(ctx, "u7", botcommon.PlatformZoom, "abc", "", testConfig())
	require.NoError(t, err)
}

func TestUpsertSessionIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedUser(t, s, "u7", 1)
	res, err := s.Reserve(ctx, "u7", botcommon.PlatformZoom, "abc", "", testConfig())
	require.NoError(t, err)

	first := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, s.UpsertSession(ctx, res.MeetingID, res.SessionUID, first))
	require.NoError(t, s.UpsertSession(ctx, res.MeetingID, res.SessionUID, time.Now().UTC()))

	ms, err := s.GetSession(ctx, res.SessionUID)
	require.NoError(t, err)
	assert.Equal(t, first, ms.SessionStartTime, "replay must not move the start time")
}

func TestScanStale(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedUser(t, s, "u7", 2)
	res, err := s.Reserve(ctx, "u7", botcommon.PlatformZoom, "abc", "", testConfig())
	require.NoError(t, err)
	fresh, err := s.Reserve(ctx, "u7", botcommon.PlatformZoom, "def", "", testConfig())
	require.NoError(t, err)

	s.SetUpdatedAt(res.MeetingID, time.Now().UTC().Add(-10*time.Minute))

	stale, scanErr := s.ScanStale(ctx, models.MeetingStatusReserved, time.Now().UTC().Add(-5*time.Minute))
	require.NoError(t, scanErr)
	require.Len(t, stale, 1)
	assert.Equal(t, res.MeetingID, stale[0].MeetingID)
	assert.NotEqual(t, fresh.MeetingID, stale[0].MeetingID)
}

func TestFailNextReportsUnavailable(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedUser(t, s, "u7", 1)
	s.FailNext(1)

	_, err := s.Reserve(ctx, "u7", botcommon.PlatformZoom, "abc", "", testConfig())
	require.Error(t, err)
	assert.True(t, errors.Is(err, dberror.ErrDatabase))

	// Next call succeeds.
	_, err = s.Reserve(ctx, "u7", botcommon.PlatformZoom, "abc", "", testConfig())
	require.NoError(t, err)
}
