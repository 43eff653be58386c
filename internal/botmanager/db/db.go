// Package db defines the typed gateway over the meetings store. All status
// writes funnel through the compare-and-set in AdvanceStatus, and admission
// is linearized per user by a row-level lock taken inside Reserve. The
// gateway is the only component that touches SQL; everything above it works
// with typed operations and apperrors.
package db

import (
	"context"
	"time"

	"github.com/lukelocksmith/vexa/internal/botmanager/botcommon"
	"github.com/lukelocksmith/vexa/internal/botmanager/db/models"
	"github.com/lukelocksmith/vexa/internal/common/apperrors"
	"github.com/lukelocksmith/vexa/internal/common/uuid"
)

// Reservation is the result of an admitted bot request.
type Reservation struct {
	MeetingID  uuid.UUID
	SessionUID uuid.UUID
}

// AdvanceOptions carries the optional columns written together with a status
// transition. Nil fields leave the column untouched.
type AdvanceOptions struct {
	StartTime     *time.Time
	EndTime       *time.Time
	FailureReason *string
}

// MeetingFilter narrows List results. Zero values mean "any".
type MeetingFilter struct {
	UserID   string
	Statuses []models.MeetingStatus
	Limit    int
}

// Store is the state store gateway. Each operation is one ACID unit; all
// mutators are idempotent under retry when keyed by meeting id.
type Store interface {
	// Reserve locks the user row, counts the user's non-terminal meetings,
	// and inserts a reserved Meeting with a fresh session UID if the count
	// is below the user's cap. Returns ErrLimitExceeded when at cap,
	// ErrConflict for a duplicate non-terminal (user, platform, native id),
	// and ErrNotFound for an unknown user.
	Reserve(ctx context.Context, userID string, platform botcommon.Platform, nativeMeetingID, meetingURL string, cfg botcommon.MeetingConfig) (*Reservation, apperrors.Error)

	// SetContainer records the orchestrator container id. Single-use: a
	// second call with a different id returns ErrAlreadySet; repeating the
	// same id is a no-op so retries stay safe.
	SetContainer(ctx context.Context, meetingID uuid.UUID, containerID string) apperrors.Error

	// AdvanceStatus performs a compare-and-set along the lifecycle DAG.
	// The row must currently be in one of from; otherwise the call returns
	// ErrIllegalTransition — except when the row already holds to, which is
	// treated as an idempotent success.
	AdvanceStatus(ctx context.Context, meetingID uuid.UUID, from []models.MeetingStatus, to models.MeetingStatus, opts AdvanceOptions) apperrors.Error

	// Touch bumps updated_at; used by worker heartbeats.
	Touch(ctx context.Context, meetingID uuid.UUID) apperrors.Error

	// UpdateConfig replaces the stored meeting config with the
	// worker-accepted values.
	UpdateConfig(ctx context.Context, meetingID uuid.UUID, cfg botcommon.MeetingConfig) apperrors.Error

	// UpsertSession records the worker's session; idempotent on
	// (meeting id, session uid).
	UpsertSession(ctx context.Context, meetingID, sessionUID uuid.UUID, startTime time.Time) apperrors.Error

	// ScanStale returns meetings in the given status whose updated_at is
	// older than the cutoff.
	ScanStale(ctx context.Context, status models.MeetingStatus, olderThan time.Time) ([]*models.Meeting, apperrors.Error)

	GetMeeting(ctx context.Context, meetingID uuid.UUID) (*models.Meeting, apperrors.Error)
	GetMeetingBySessionUID(ctx context.Context, sessionUID uuid.UUID) (*models.Meeting, apperrors.Error)

	// GetNonTerminalMeeting returns the newest non-terminal meeting for the
	// (user, platform, native id) triple.
	GetNonTerminalMeeting(ctx context.Context, userID string, platform botcommon.Platform, nativeMeetingID string) (*models.Meeting, apperrors.Error)

	ListMeetings(ctx context.Context, filter MeetingFilter) ([]*models.Meeting, apperrors.Error)
	CountNonTerminal(ctx context.Context, userID string) (int, apperrors.Error)

	GetSession(ctx context.Context, sessionUID uuid.UUID) (*models.MeetingSession, apperrors.Error)

	GetUser(ctx context.Context, userID string) (*models.User, apperrors.Error)
	UpsertUser(ctx context.Context, user *models.User) apperrors.Error

	// Ping verifies the store is reachable; used by readiness checks.
	Ping(ctx context.Context) apperrors.Error

	// ApplySchema creates the tables and indexes if they do not exist.
	ApplySchema(ctx context.Context) apperrors.Error
}
