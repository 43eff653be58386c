package models

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jackc/pgtype"
	"github.com/lukelocksmith/vexa/internal/botmanager/botcommon"
	"github.com/lukelocksmith/vexa/internal/common/uuid"
)

// MeetingStatus is the lifecycle state of a Meeting row.
type MeetingStatus string

const (
	MeetingStatusReserved  MeetingStatus = "reserved"
	MeetingStatusStarting  MeetingStatus = "starting"
	MeetingStatusActive    MeetingStatus = "active"
	MeetingStatusStopping  MeetingStatus = "stopping"
	MeetingStatusCompleted MeetingStatus = "completed"
	MeetingStatusFailed    MeetingStatus = "failed"
)

// statusEdges is the lifecycle DAG. Terminal states have no outgoing edges.
var statusEdges = map[MeetingStatus][]MeetingStatus{
	MeetingStatusReserved: {MeetingStatusStarting, MeetingStatusFailed},
	MeetingStatusStarting: {MeetingStatusActive, MeetingStatusFailed},
	MeetingStatusActive:   {MeetingStatusStopping, MeetingStatusFailed, MeetingStatusCompleted},
	MeetingStatusStopping: {MeetingStatusCompleted, MeetingStatusFailed},
}

// NonTerminalStatuses returns the states that count against a user's
// concurrency cap and are eligible for reaping.
func NonTerminalStatuses() []MeetingStatus {
	return []MeetingStatus{
		MeetingStatusReserved,
		MeetingStatusStarting,
		MeetingStatusActive,
		MeetingStatusStopping,
	}
}

// IsValid reports whether s is a recognized status value.
func (s MeetingStatus) IsValid() bool {
	switch s {
	case MeetingStatusReserved, MeetingStatusStarting, MeetingStatusActive,
		MeetingStatusStopping, MeetingStatusCompleted, MeetingStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether s is a terminal state.
func (s MeetingStatus) IsTerminal() bool {
	return s == MeetingStatusCompleted || s == MeetingStatusFailed
}

// CanAdvanceTo reports whether the lifecycle DAG has an edge s → to.
func (s MeetingStatus) CanAdvanceTo(to MeetingStatus) bool {
	for _, next := range statusEdges[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s MeetingStatus) String() string {
	return string(s)
}

// Meeting is the single authoritative record for one bot attempt.
// The session UID is assigned at reservation time and never changes; it is
// how workers identify themselves on the callback surface and how commands
// are routed on the bus.
type Meeting struct {
	MeetingID       uuid.UUID          `db:"meeting_id"`
	UserID          string             `db:"user_id"`
	Platform        botcommon.Platform `db:"platform"`
	NativeMeetingID string             `db:"native_meeting_id"`
	MeetingURL      sql.NullString     `db:"meeting_url"`
	SessionUID      uuid.UUID          `db:"session_uid"`
	Status          MeetingStatus      `db:"status"`
	BotContainerID  sql.NullString     `db:"bot_container_id"`
	StartTime       sql.NullTime       `db:"start_time"`
	EndTime         sql.NullTime       `db:"end_time"`
	FailureReason   sql.NullString     `db:"failure_reason"`
	Config          pgtype.JSONB       `db:"config"`
	CreatedAt       time.Time          `db:"created_at"`
	UpdatedAt       time.Time          `db:"updated_at"`
}

// MeetingConfig decodes the config column into its typed form.
func (m *Meeting) MeetingConfig() (botcommon.MeetingConfig, error) {
	var cfg botcommon.MeetingConfig
	if m.Config.Status != pgtype.Present || len(m.Config.Bytes) == 0 {
		return cfg, nil
	}
	err := json.Unmarshal(m.Config.Bytes, &cfg)
	return cfg, err
}

// SetMeetingConfig encodes cfg into the config column.
func (m *Meeting) SetMeetingConfig(cfg botcommon.MeetingConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return m.Config.Set(raw)
}
