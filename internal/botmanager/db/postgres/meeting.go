package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/lukelocksmith/vexa/internal/botmanager/botcommon"
	"github.com/lukelocksmith/vexa/internal/botmanager/db"
	"github.com/lukelocksmith/vexa/internal/botmanager/db/dberror"
	"github.com/lukelocksmith/vexa/internal/botmanager/db/models"
	"github.com/lukelocksmith/vexa/internal/common/apperrors"
	"github.com/lukelocksmith/vexa/internal/common/uuid"
)

const meetingColumns = `
	meeting_id, user_id, platform, native_meeting_id, meeting_url,
	session_uid, status, bot_container_id, start_time, end_time,
	failure_reason, config, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMeeting(row rowScanner) (*models.Meeting, error) {
	var m models.Meeting
	err := row.Scan(
		&m.MeetingID,
		&m.UserID,
		&m.Platform,
		&m.NativeMeetingID,
		&m.MeetingURL,
		&m.SessionUID,
		&m.Status,
		&m.BotContainerID,
		&m.StartTime,
		&m.EndTime,
		&m.FailureReason,
		&m.Config,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Reserve admits a bot request under the user's concurrency cap. The user
// row is locked for the duration of the transaction so concurrent
// reservations for the same user serialize here.
func (s *store) Reserve(ctx context.Context, userID string, platform botcommon.Platform, nativeMeetingID, meetingURL string, cfg botcommon.MeetingConfig) (reservation *db.Reservation, err apperrors.Error) {
	tx, errStd := s.conn().BeginTx(ctx, nil)
	if errStd != nil {
		log.Ctx(ctx).Error().Err(errStd).Msg("failed to begin transaction")
		return nil, dberror.ErrDatabase.Err(errStd)
	}
	defer func() {
		if err != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil && rollbackErr != sql.ErrTxDone {
				log.Ctx(ctx).Error().Err(rollbackErr).Msg("failed to rollback reservation")
			}
		}
	}()

	var maxBots int
	errStd = tx.QueryRowContext(ctx,
		`SELECT max_concurrent_bots FROM users WHERE user_id = $1 FOR UPDATE`,
		userID).Scan(&maxBots)
	if errStd == sql.ErrNoRows {
		return nil, dberror.ErrNotFound.Msg("user not found")
	}
	if errStd != nil {
		return nil, mapError(errStd)
	}

	var nonTerminal int
	errStd = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM meetings WHERE user_id = $1 AND status = ANY($2)`,
		userID, pq.Array(statusStrings(models.NonTerminalStatuses()))).Scan(&nonTerminal)
	if errStd != nil {
		return nil, mapError(errStd)
	}

	if nonTerminal >= maxBots {
		return nil, dberror.ErrLimitExceeded.Msg(
			fmt.Sprintf("user has %d of %d allowed bots in flight", nonTerminal, maxBots))
	}

	cfgJSON, errStd := json.Marshal(cfg)
	if errStd != nil {
		return nil, dberror.ErrInvalidInput.Err(errStd)
	}

	meetingID := uuid.New()
	sessionUID := uuid.NewSessionUID()

	_, errStd = tx.ExecContext(ctx, `
		INSERT INTO meetings (
			meeting_id, user_id, platform, native_meeting_id, meeting_url,
			session_uid, status, config, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, NOW(), NOW())`,
		meetingID, userID, string(platform), nativeMeetingID, meetingURL,
		sessionUID, string(models.MeetingStatusReserved), cfgJSON)
	if errStd != nil {
		return nil, mapError(errStd)
	}

	if errStd := tx.Commit(); errStd != nil {
		log.Ctx(ctx).Error().Err(errStd).Msg("failed to commit reservation")
		return nil, dberror.ErrDatabase.Err(errStd)
	}

	return &db.Reservation{MeetingID: meetingID, SessionUID: sessionUID}, nil
}

// SetContainer records the container id exactly once. Repeating the same id
// is a no-op so a retried call stays safe.
func (s *store) SetContainer(ctx context.Context, meetingID uuid.UUID, containerID string) apperrors.Error {
	if containerID == "" {
		return dberror.ErrInvalidInput.Msg("empty container id")
	}

	result, err := s.conn().ExecContext(ctx, `
		UPDATE meetings
		SET bot_container_id = $2, updated_at = NOW()
		WHERE meeting_id = $1 AND bot_container_id IS NULL`,
		meetingID, containerID)
	if err != nil {
		return mapError(err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return dberror.ErrDatabase.Err(err)
	}
	if rows > 0 {
		return nil
	}

	var current sql.NullString
	err = s.conn().QueryRowContext(ctx,
		`SELECT bot_container_id FROM meetings WHERE meeting_id = $1`,
		meetingID).Scan(&current)
	if err == sql.ErrNoRows {
		return dberror.ErrNotFound.Msg("meeting not found")
	}
	if err != nil {
		return mapError(err)
	}
	if current.Valid && current.String == containerID {
		return nil
	}
	return dberror.ErrAlreadySet
}

// AdvanceStatus performs the compare-and-set that linearizes status
// transitions per meeting. Concurrent attempts either succeed once or
// observe an illegal transition; a row already holding the target status is
// an idempotent success.
func (s *store) AdvanceStatus(ctx context.Context, meetingID uuid.UUID, from []models.MeetingStatus, to models.MeetingStatus, opts db.AdvanceOptions) apperrors.Error {
	if !to.IsValid() {
		return dberror.ErrInvalidInput.Msg("unknown status: " + string(to))
	}

	legal := make([]models.MeetingStatus, 0, len(from))
	for _, f := range from {
		if f.CanAdvanceTo(to) {
			legal = append(legal, f)
		}
	}

	result, err := s.conn().ExecContext(ctx, `
		UPDATE meetings
		SET status = $2,
		    updated_at = NOW(),
		    start_time = COALESCE($3, start_time),
		    end_time = COALESCE($4, end_time),
		    failure_reason = COALESCE($5, failure_reason)
		WHERE meeting_id = $1 AND status = ANY($6)`,
		meetingID, string(to), opts.StartTime, opts.EndTime, opts.FailureReason,
		pq.Array(statusStrings(legal)))
	if err != nil {
		return mapError(err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return dberror.ErrDatabase.Err(err)
	}
	if rows > 0 {
		return nil
	}

	var current models.MeetingStatus
	err = s.conn().QueryRowContext(ctx,
		`SELECT status FROM meetings WHERE meeting_id = $1`, meetingID).Scan(&current)
	if err == sql.ErrNoRows {
		return dberror.ErrNotFound.Msg("meeting not found")
	}
	if err != nil {
		return mapError(err)
	}
	if current == to {
		return nil
	}
	return dberror.ErrIllegalTransition.Msg(
		fmt.Sprintf("meeting is %q, cannot advance to %q", current, to))
}

// Touch bumps updated_at for heartbeat freshness.
func (s *store) Touch(ctx context.Context, meetingID uuid.UUID) apperrors.Error {
	result, err := s.conn().ExecContext(ctx,
		`UPDATE meetings SET updated_at = NOW() WHERE meeting_id = $1`, meetingID)
	if err != nil {
		return mapError(err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return dberror.ErrDatabase.Err(err)
	}
	if rows == 0 {
		return dberror.ErrNotFound.Msg("meeting not found")
	}
	return nil
}

// UpdateConfig replaces the stored config with the worker-accepted values.
func (s *store) UpdateConfig(ctx context.Context, meetingID uuid.UUID, cfg botcommon.MeetingConfig) apperrors.Error {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return dberror.ErrInvalidInput.Err(err)
	}
	result, err := s.conn().ExecContext(ctx,
		`UPDATE meetings SET config = $2, updated_at = NOW() WHERE meeting_id = $1`,
		meetingID, cfgJSON)
	if err != nil {
		return mapError(err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return dberror.ErrDatabase.Err(err)
	}
	if rows == 0 {
		return dberror.ErrNotFound.Msg("meeting not found")
	}
	return nil
}

// ScanStale returns meetings stuck in the given status since before the
// cutoff, oldest first.
func (s *store) ScanStale(ctx context.Context, status models.MeetingStatus, olderThan time.Time) ([]*models.Meeting, apperrors.Error) {
	rows, err := s.conn().QueryContext(ctx, `
		SELECT `+meetingColumns+`
		FROM meetings
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC`,
		string(status), olderThan)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var result []*models.Meeting
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("failed to scan meeting row")
			return nil, dberror.ErrDatabase.Err(err)
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	return result, nil
}

// GetMeeting retrieves a meeting by id.
func (s *store) GetMeeting(ctx context.Context, meetingID uuid.UUID) (*models.Meeting, apperrors.Error) {
	row := s.conn().QueryRowContext(ctx,
		`SELECT `+meetingColumns+` FROM meetings WHERE meeting_id = $1`, meetingID)
	m, err := scanMeeting(row)
	if err == sql.ErrNoRows {
		return nil, dberror.ErrNotFound.Msg("meeting not found")
	}
	if err != nil {
		return nil, mapError(err)
	}
	return m, nil
}

// GetMeetingBySessionUID resolves a meeting from the session identifier the
// worker presents on callbacks.
func (s *store) GetMeetingBySessionUID(ctx context.Context, sessionUID uuid.UUID) (*models.Meeting, apperrors.Error) {
	row := s.conn().QueryRowContext(ctx,
		`SELECT `+meetingColumns+` FROM meetings WHERE session_uid = $1`, sessionUID)
	m, err := scanMeeting(row)
	if err == sql.ErrNoRows {
		return nil, dberror.ErrNotFound.Msg("no meeting for session")
	}
	if err != nil {
		return nil, mapError(err)
	}
	return m, nil
}

// GetNonTerminalMeeting returns the newest in-flight meeting for the
// (user, platform, native id) triple.
func (s *store) GetNonTerminalMeeting(ctx context.Context, userID string, platform botcommon.Platform, nativeMeetingID string) (*models.Meeting, apperrors.Error) {
	row := s.conn().QueryRowContext(ctx, `
		SELECT `+meetingColumns+`
		FROM meetings
		WHERE user_id = $1 AND platform = $2 AND native_meeting_id = $3
		  AND status = ANY($4)
		ORDER BY created_at DESC
		LIMIT 1`,
		userID, string(platform), nativeMeetingID,
		pq.Array(statusStrings(models.NonTerminalStatuses())))
	m, err := scanMeeting(row)
	if err == sql.ErrNoRows {
		return nil, dberror.ErrNotFound.Msg("no non-terminal meeting")
	}
	if err != nil {
		return nil, mapError(err)
	}
	return m, nil
}

// ListMeetings returns meetings matching the filter, newest first.
func (s *store) ListMeetings(ctx context.Context, filter db.MeetingFilter) ([]*models.Meeting, apperrors.Error) {
	query := `SELECT ` + meetingColumns + ` FROM meetings WHERE 1=1`
	args := []any{}

	if filter.UserID != "" {
		args = append(args, filter.UserID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if len(filter.Statuses) > 0 {
		args = append(args, pq.Array(statusStrings(filter.Statuses)))
		query += fmt.Sprintf(" AND status = ANY($%d)", len(args))
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var result []*models.Meeting
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("failed to scan meeting row")
			return nil, dberror.ErrDatabase.Err(err)
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	return result, nil
}

// CountNonTerminal counts the meetings holding a slot against the user's cap.
func (s *store) CountNonTerminal(ctx context.Context, userID string) (int, apperrors.Error) {
	var count int
	err := s.conn().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM meetings WHERE user_id = $1 AND status = ANY($2)`,
		userID, pq.Array(statusStrings(models.NonTerminalStatuses()))).Scan(&count)
	if err != nil {
		return 0, mapError(err)
	}
	return count, nil
}
