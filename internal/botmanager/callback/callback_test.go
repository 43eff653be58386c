package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukelocksmith/vexa/internal/botmanager/botcommon"
	"github.com/lukelocksmith/vexa/internal/botmanager/db"
	"github.com/lukelocksmith/vexa/internal/botmanager/db/memstore"
	"github.com/lukelocksmith/vexa/internal/botmanager/db/models"
	"github.com/lukelocksmith/vexa/internal/common/uuid"
)

type testEnv struct {
	server *httptest.Server
	store  *memstore.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := memstore.New()
	srv := httptest.NewServer(NewIngress(store).Router())
	t.Cleanup(srv.Close)
	return &testEnv{server: srv, store: store}
}

func (e *testEnv) reserve(t *testing.T) *db.Reservation {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.store.UpsertUser(ctx, &models.User{UserID: "u7", MaxConcurrentBots: 5}))
	res, err := e.store.Reserve(ctx, "u7", botcommon.PlatformZoom,
		fmt.Sprintf("native-%s", uuid.New()), "",
		botcommon.MeetingConfig{Task: botcommon.TaskTranscribe, BotName: "Rec"})
	require.NoError(t, err)
	return res
}

func (e *testEnv) call(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(method, e.server.URL+path, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	rsp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { rsp.Body.Close() })
	return rsp
}

func (e *testEnv) status(t *testing.T, meetingID uuid.UUID) models.MeetingStatus {
	t.Helper()
	m, err := e.store.GetMeeting(context.Background(), meetingID)
	require.NoError(t, err)
	return m.Status
}

func TestStartedAdvancesToStarting(t *testing.T) {
	env := newTestEnv(t)
	res := env.reserve(t)

	rsp := env.call(t, http.MethodPost, "/started", map[string]any{"session_uid": res.SessionUID.String()})
	assert.Equal(t, http.StatusOK, rsp.StatusCode)
	assert.Equal(t, models.MeetingStatusStarting, env.status(t, res.MeetingID))

	// The worker's session is recorded with the reservation's uid.
	ms, err := env.store.GetSession(context.Background(), res.SessionUID)
	require.NoError(t, err)
	assert.Equal(t, res.MeetingID, ms.MeetingID)

	m, err := env.store.GetMeeting(context.Background(), res.MeetingID)
	require.NoError(t, err)
	assert.True(t, m.StartTime.Valid, "start_time set on started")
}

func TestStartedIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	res := env.reserve(t)

	for i := 0; i < 3; i++ {
		rsp := env.call(t, http.MethodPost, "/started", map[string]any{"session_uid": res.SessionUID.String()})
		assert.Equal(t, http.StatusOK, rsp.StatusCode)
	}
	assert.Equal(t, models.MeetingStatusStarting, env.status(t, res.MeetingID))
}

func TestJoinedAdvancesToActive(t *testing.T) {
	env := newTestEnv(t)
	res := env.reserve(t)

	env.call(t, http.MethodPost, "/started", map[string]any{"session_uid": res.SessionUID.String()})
	rsp := env.call(t, http.MethodPost, "/joined", map[string]any{"session_uid": res.SessionUID.String()})
	assert.Equal(t, http.StatusOK, rsp.StatusCode)
	assert.Equal(t, models.MeetingStatusActive, env.status(t, res.MeetingID))

	// Replay stays active.
	rsp = env.call(t, http.MethodPost, "/joined", map[string]any{"session_uid": res.SessionUID.String()})
	assert.Equal(t, http.StatusOK, rsp.StatusCode)
	assert.Equal(t, models.MeetingStatusActive, env.status(t, res.MeetingID))
}

func TestJoinedPersistsAcceptedConfig(t *testing.T) {
	env := newTestEnv(t)
	res := env.reserve(t)

	env.call(t, http.MethodPost, "/started", map[string]any{"session_uid": res.SessionUID.String()})
	rsp := env.call(t, http.MethodPost, "/joined", map[string]any{
		"session_uid": res.SessionUID.String(),
		"language":    "fr",
	})
	assert.Equal(t, http.StatusOK, rsp.StatusCode)

	m, err := env.store.GetMeeting(context.Background(), res.MeetingID)
	require.NoError(t, err)
	cfg, cfgErr := m.MeetingConfig()
	require.NoError(t, cfgErr)
	require.NotNil(t, cfg.Language)
	assert.Equal(t, "fr", *cfg.Language)
	assert.Equal(t, "Rec", cfg.BotName, "untouched options survive")
}

func TestHeartbeatBumpsUpdatedAt(t *testing.T) {
	env := newTestEnv(t)
	res := env.reserve(t)

	env.store.SetUpdatedAt(res.MeetingID, time.Now().UTC().Add(-time.Hour))
	before, err := env.store.GetMeeting(context.Background(), res.MeetingID)
	require.NoError(t, err)

	rsp := env.call(t, http.MethodPost, "/heartbeat", map[string]any{"session_uid": res.SessionUID.String()})
	assert.Equal(t, http.StatusOK, rsp.StatusCode)

	after, err := env.store.GetMeeting(context.Background(), res.MeetingID)
	require.NoError(t, err)
	assert.True(t, after.UpdatedAt.After(before.UpdatedAt))
}

func TestStatusUpdateOnlyAllowsStopping(t *testing.T) {
	env := newTestEnv(t)
	res := env.reserve(t)

	env.call(t, http.MethodPost, "/started", map[string]any{"session_uid": res.SessionUID.String()})
	env.call(t, http.MethodPost, "/joined", map[string]any{"session_uid": res.SessionUID.String()})

	// Anything but "stopping" is rejected.
	rsp := env.call(t, http.MethodPatch, "/status", map[string]any{
		"session_uid": res.SessionUID.String(),
		"status":      "completed",
	})
	assert.Equal(t, http.StatusBadRequest, rsp.StatusCode)
	assert.Equal(t, models.MeetingStatusActive, env.status(t, res.MeetingID))

	rsp = env.call(t, http.MethodPatch, "/status", map[string]any{
		"session_uid": res.SessionUID.String(),
		"status":      "stopping",
	})
	assert.Equal(t, http.StatusOK, rsp.StatusCode)
	assert.Equal(t, models.MeetingStatusStopping, env.status(t, res.MeetingID))
}

func TestStatusUpdateFromNonActiveRejected(t *testing.T) {
	env := newTestEnv(t)
	res := env.reserve(t)

	rsp := env.call(t, http.MethodPatch, "/status", map[string]any{
		"session_uid": res.SessionUID.String(),
		"status":      "stopping",
	})
	assert.Equal(t, http.StatusConflict, rsp.StatusCode)
	assert.Equal(t, models.MeetingStatusReserved, env.status(t, res.MeetingID))
}

func TestExitedSettlesMeeting(t *testing.T) {
	env := newTestEnv(t)
	res := env.reserve(t)

	env.call(t, http.MethodPost, "/started", map[string]any{"session_uid": res.SessionUID.String()})
	env.call(t, http.MethodPost, "/joined", map[string]any{"session_uid": res.SessionUID.String()})

	rsp := env.call(t, http.MethodPost, "/exited", map[string]any{
		"session_uid": res.SessionUID.String(),
		"exit_code":   0,
	})
	assert.Equal(t, http.StatusOK, rsp.StatusCode)
	assert.Equal(t, models.MeetingStatusCompleted, env.status(t, res.MeetingID))

	m, err := env.store.GetMeeting(context.Background(), res.MeetingID)
	require.NoError(t, err)
	assert.True(t, m.EndTime.Valid)
	assert.False(t, m.FailureReason.Valid)
}

func TestExitedNonZeroFails(t *testing.T) {
	env := newTestEnv(t)
	res := env.reserve(t)

	env.call(t, http.MethodPost, "/started", map[string]any{"session_uid": res.SessionUID.String()})

	rsp := env.call(t, http.MethodPost, "/exited", map[string]any{
		"session_uid": res.SessionUID.String(),
		"exit_code":   1,
		"reason":      "ui_leave_failure",
	})
	assert.Equal(t, http.StatusOK, rsp.StatusCode)

	m, err := env.store.GetMeeting(context.Background(), res.MeetingID)
	require.NoError(t, err)
	assert.Equal(t, models.MeetingStatusFailed, m.Status)
	assert.Equal(t, "ui_leave_failure", m.FailureReason.String)
	assert.True(t, m.EndTime.Valid)
}

func TestExitedReplayKeepsFirstOutcome(t *testing.T) {
	env := newTestEnv(t)
	res := env.reserve(t)

	env.call(t, http.MethodPost, "/started", map[string]any{"session_uid": res.SessionUID.String()})
	env.call(t, http.MethodPost, "/joined", map[string]any{"session_uid": res.SessionUID.String()})
	env.call(t, http.MethodPost, "/exited", map[string]any{
		"session_uid": res.SessionUID.String(),
		"exit_code":   0,
	})

	first, err := env.store.GetMeeting(context.Background(), res.MeetingID)
	require.NoError(t, err)

	// A contradictory replay changes nothing.
	rsp := env.call(t, http.MethodPost, "/exited", map[string]any{
		"session_uid": res.SessionUID.String(),
		"exit_code":   1,
		"reason":      "late duplicate",
	})
	assert.Equal(t, http.StatusOK, rsp.StatusCode)

	second, err := env.store.GetMeeting(context.Background(), res.MeetingID)
	require.NoError(t, err)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.EndTime.Time, second.EndTime.Time)
	assert.Equal(t, first.FailureReason, second.FailureReason)
}

func TestUnknownSessionUnauthorized(t *testing.T) {
	env := newTestEnv(t)
	env.reserve(t)

	for _, uid := range []string{uuid.NewSessionUID().String(), "not-a-uuid"} {
		rsp := env.call(t, http.MethodPost, "/started", map[string]any{"session_uid": uid})
		assert.Equal(t, http.StatusUnauthorized, rsp.StatusCode, "uid %q", uid)
	}
}

func TestUnknownFieldsRejected(t *testing.T) {
	env := newTestEnv(t)
	res := env.reserve(t)

	rsp := env.call(t, http.MethodPost, "/started", map[string]any{
		"session_uid": res.SessionUID.String(),
		"surprise":    true,
	})
	assert.Equal(t, http.StatusBadRequest, rsp.StatusCode)
	assert.Equal(t, models.MeetingStatusReserved, env.status(t, res.MeetingID))
}
