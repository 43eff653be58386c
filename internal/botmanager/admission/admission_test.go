package admission

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukelocksmith/vexa/internal/botmanager/botcommon"
	"github.com/lukelocksmith/vexa/internal/botmanager/config"
	"github.com/lukelocksmith/vexa/internal/botmanager/db/dberror"
	"github.com/lukelocksmith/vexa/internal/botmanager/db/memstore"
	"github.com/lukelocksmith/vexa/internal/botmanager/db/models"
)

func setup(t *testing.T, userCap int) (*Controller, *memstore.Store) {
	t.Helper()
	config.TestInit()
	store := memstore.New()
	require.NoError(t, store.UpsertUser(context.Background(), &models.User{
		UserID:            "u7",
		MaxConcurrentBots: userCap,
	}))
	return New(store), store
}

func TestAdmitDefaultsTask(t *testing.T) {
	ctrl, _ := setup(t, 2)

	result, err := ctrl.Admit(context.Background(), "u7", botcommon.PlatformZoom, "abc",
		botcommon.MeetingConfig{BotName: "Rec"})
	require.NoError(t, err)
	assert.Equal(t, botcommon.TaskTranscribe, result.Config.Task)
	assert.Nil(t, result.Config.Language, "language stays nil for auto-detect")
	assert.Equal(t, "https://zoom.us/j/abc", result.MeetingURL)
	assert.NotEqual(t, result.Reservation.MeetingID, result.Reservation.SessionUID)
}

func TestAdmitRejectsUnknownPlatform(t *testing.T) {
	ctrl, _ := setup(t, 2)

	_, err := ctrl.Admit(context.Background(), "u7", botcommon.Platform("webex"), "abc",
		botcommon.MeetingConfig{BotName: "Rec"})
	require.Error(t, err)
	assert.Equal(t, 400, err.StatusCode())
}

func TestAdmitRejectsBadBotName(t *testing.T) {
	ctrl, _ := setup(t, 2)

	cases := []string{
		"",
		strings.Repeat("x", 65),
	}
	for _, name := range cases {
		_, err := ctrl.Admit(context.Background(), "u7", botcommon.PlatformZoom, "abc",
			botcommon.MeetingConfig{BotName: name, Task: botcommon.TaskTranscribe})
		require.Error(t, err, "bot name %q should be rejected", name)
		assert.Equal(t, 400, err.StatusCode())
	}
}

func TestAdmitRejectsBadTask(t *testing.T) {
	ctrl, _ := setup(t, 2)

	_, err := ctrl.Admit(context.Background(), "u7", botcommon.PlatformZoom, "abc",
		botcommon.MeetingConfig{BotName: "Rec", Task: botcommon.Task("summarize")})
	require.Error(t, err)
	assert.Equal(t, 400, err.StatusCode())
}

func TestAdmitMissingUser(t *testing.T) {
	ctrl, _ := setup(t, 2)

	_, err := ctrl.Admit(context.Background(), "", botcommon.PlatformZoom, "abc",
		botcommon.MeetingConfig{BotName: "Rec"})
	require.Error(t, err)
	assert.Equal(t, 400, err.StatusCode())
}

func TestAdmitPassesThroughCapRefusal(t *testing.T) {
	ctrl, _ := setup(t, 1)

	_, err := ctrl.Admit(context.Background(), "u7", botcommon.PlatformZoom, "abc",
		botcommon.MeetingConfig{BotName: "Rec"})
	require.NoError(t, err)

	_, err = ctrl.Admit(context.Background(), "u7", botcommon.PlatformZoom, "def",
		botcommon.MeetingConfig{BotName: "Rec"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, dberror.ErrLimitExceeded))
	assert.Equal(t, 409, err.StatusCode())
}

func TestAdmitLanguagePassThrough(t *testing.T) {
	ctrl, _ := setup(t, 2)

	lang := "pl"
	result, err := ctrl.Admit(context.Background(), "u7", botcommon.PlatformGoogleMeet, "abc-defg-hij",
		botcommon.MeetingConfig{BotName: "Rec", Language: &lang})
	require.NoError(t, err)
	require.NotNil(t, result.Config.Language)
	assert.Equal(t, "pl", *result.Config.Language)
}
