package models

import (
	"time"

	"github.com/lukelocksmith/vexa/internal/common/uuid"
)

// MeetingSession is the per-attempt session record created by the worker on
// its first startup callback. Reconnects of the same worker reuse the same
// session UID, so at most one row exists per (meeting, session).
type MeetingSession struct {
	SessionUID       uuid.UUID `db:"session_uid"`
	MeetingID        uuid.UUID `db:"meeting_id"`
	SessionStartTime time.Time `db:"session_start_time"`
	CreatedAt        time.Time `db:"created_at"`
}
