package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukelocksmith/vexa/internal/botmanager/botcommon"
)

func TestStatusDAG(t *testing.T) {
	type edge struct {
		from, to MeetingStatus
	}
	allowed := []edge{
		{MeetingStatusReserved, MeetingStatusStarting},
		{MeetingStatusReserved, MeetingStatusFailed},
		{MeetingStatusStarting, MeetingStatusActive},
		{MeetingStatusStarting, MeetingStatusFailed},
		{MeetingStatusActive, MeetingStatusStopping},
		{MeetingStatusActive, MeetingStatusFailed},
		{MeetingStatusActive, MeetingStatusCompleted},
		{MeetingStatusStopping, MeetingStatusCompleted},
		{MeetingStatusStopping, MeetingStatusFailed},
	}
	allowedSet := make(map[edge]bool)
	for _, e := range allowed {
		allowedSet[e] = true
		assert.True(t, e.from.CanAdvanceTo(e.to), "%s -> %s should be allowed", e.from, e.to)
	}

	all := []MeetingStatus{
		MeetingStatusReserved, MeetingStatusStarting, MeetingStatusActive,
		MeetingStatusStopping, MeetingStatusCompleted, MeetingStatusFailed,
	}
	for _, from := range all {
		for _, to := range all {
			if !allowedSet[edge{from, to}] {
				assert.False(t, from.CanAdvanceTo(to), "%s -> %s should be forbidden", from, to)
			}
		}
	}
}

func TestTerminalStatesHaveNoEdges(t *testing.T) {
	for _, st := range []MeetingStatus{MeetingStatusCompleted, MeetingStatusFailed} {
		assert.True(t, st.IsTerminal())
		assert.Empty(t, statusEdges[st])
	}
	for _, st := range NonTerminalStatuses() {
		assert.False(t, st.IsTerminal())
	}
}

func TestStatusValidity(t *testing.T) {
	assert.True(t, MeetingStatusReserved.IsValid())
	assert.False(t, MeetingStatus("paused").IsValid())
}

func TestMeetingConfigRoundTrip(t *testing.T) {
	lang := "fr"
	cfg := botcommon.MeetingConfig{
		Language: &lang,
		Task:     botcommon.TaskTranslate,
		BotName:  "Recorder",
	}

	var m Meeting
	require.NoError(t, m.SetMeetingConfig(cfg))

	got, err := m.MeetingConfig()
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestMeetingConfigEmptyColumn(t *testing.T) {
	var m Meeting
	got, err := m.MeetingConfig()
	require.NoError(t, err)
	assert.Equal(t, botcommon.MeetingConfig{}, got)
}
