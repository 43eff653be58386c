package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/lukelocksmith/vexa/internal/botmanager/db/dberror"
	"github.com/lukelocksmith/vexa/internal/botmanager/db/models"
	"github.com/lukelocksmith/vexa/internal/common/apperrors"
	"github.com/lukelocksmith/vexa/internal/common/uuid"
)

// UpsertSession records the worker's session. Idempotent on
// (meeting id, session uid), so replayed startup callbacks leave the row
// unchanged and keep the original start time.
func (s *store) UpsertSession(ctx context.Context, meetingID, sessionUID uuid.UUID, startTime time.Time) apperrors.Error {
	_, err := s.conn().ExecContext(ctx, `
		INSERT INTO meeting_sessions (session_uid, meeting_id, session_start_time)
		VALUES ($1, $2, $3)
		ON CONFLICT (meeting_id, session_uid) DO NOTHING`,
		sessionUID, meetingID, startTime)
	if err != nil {
		return mapError(err)
	}
	return nil
}

// GetSession retrieves a session by its uid.
func (s *store) GetSession(ctx context.Context, sessionUID uuid.UUID) (*models.MeetingSession, apperrors.Error) {
	var ms models.MeetingSession
	err := s.conn().QueryRowContext(ctx, `
		SELECT session_uid, meeting_id, session_start_time, created_at
		FROM meeting_sessions
		WHERE session_uid = $1`,
		sessionUID).Scan(&ms.SessionUID, &ms.MeetingID, &ms.SessionStartTime, &ms.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, dberror.ErrNotFound.Msg("session not found")
	}
	if err != nil {
		return nil, mapError(err)
	}
	return &ms, nil
}
