// Package callback implements the worker-facing ingress. Workers identify
// themselves by their session UID, which is unguessable (122 random bits,
// known only to the worker and the store) and therefore doubles as the
// authentication token: a payload whose session UID resolves to no meeting
// is unauthorized, not merely unknown. Together with the reaper, this is
// the only surface that advances meeting status beyond reserved. All
// handlers are idempotent so workers can retry freely.
package callback

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/lukelocksmith/vexa/internal/botmanager/botcommon"
	"github.com/lukelocksmith/vexa/internal/botmanager/db"
	"github.com/lukelocksmith/vexa/internal/botmanager/db/dberror"
	"github.com/lukelocksmith/vexa/internal/botmanager/db/models"
	"github.com/lukelocksmith/vexa/internal/common/apperrors"
	"github.com/lukelocksmith/vexa/internal/common/httpx"
	"github.com/lukelocksmith/vexa/internal/common/uuid"
)

var (
	ErrCallback      apperrors.Error = apperrors.New("callback error")
	ErrUnauthorized  apperrors.Error = ErrCallback.New("unknown session").SetStatusCode(http.StatusUnauthorized)
	ErrInvalidStatus apperrors.Error = ErrCallback.New("status value not permitted").SetStatusCode(http.StatusBadRequest)
)

// Ingress serves the worker callback endpoints.
type Ingress struct {
	store db.Store
}

// NewIngress returns the callback ingress over the given store.
func NewIngress(store db.Store) *Ingress {
	return &Ingress{store: store}
}

// Router mounts the worker-only callback endpoints.
func (i *Ingress) Router() chi.Router {
	r := chi.NewRouter()
	r.Post("/started", httpx.WrapHttpRsp(i.started))
	r.Post("/joined", httpx.WrapHttpRsp(i.joined))
	r.Post("/heartbeat", httpx.WrapHttpRsp(i.heartbeat))
	r.Patch("/status", httpx.WrapHttpRsp(i.statusUpdate))
	r.Post("/exited", httpx.WrapHttpRsp(i.exited))
	return r
}

type callbackRsp struct {
	Status    string `json:"status"`
	MeetingID string `json:"meeting_id"`
}

func okRsp(meetingID uuid.UUID) *httpx.Response {
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response:   &callbackRsp{Status: "ok", MeetingID: meetingID.String()},
	}
}

// resolve authenticates the callback: the session UID must parse and match
// a meeting row. Anything else is a 401 with no state change.
func (i *Ingress) resolve(r *http.Request, sessionUID string) (*models.Meeting, apperrors.Error) {
	uid, err := uuid.Parse(sessionUID)
	if err != nil {
		return nil, ErrUnauthorized
	}
	m, appErr := i.store.GetMeetingBySessionUID(r.Context(), uid)
	if appErr != nil {
		if appErr.StatusCode() == http.StatusNotFound {
			return nil, ErrUnauthorized
		}
		return nil, appErr
	}
	return m, nil
}

// benignTransition reports whether a failed CAS can be ignored because the
// row has already moved past the requested edge (replayed or raced
// callback).
func benignTransition(err apperrors.Error, current models.MeetingStatus, past ...models.MeetingStatus) bool {
	if err == nil || !errors.Is(err, dberror.ErrIllegalTransition) {
		return false
	}
	for _, st := range past {
		if current == st {
			return true
		}
	}
	return false
}

type startedPayload struct {
	SessionUID string `json:"session_uid"`
}

// started records the worker's session and advances reserved → starting.
func (i *Ingress) started(r *http.Request) (*httpx.Response, error) {
	var payload startedPayload
	if err := httpx.GetRequestData(r, &payload); err != nil {
		return nil, err
	}
	m, appErr := i.resolve(r, payload.SessionUID)
	if appErr != nil {
		return nil, appErr
	}
	ctx := r.Context()
	now := time.Now().UTC()

	if appErr := i.store.UpsertSession(ctx, m.MeetingID, m.SessionUID, now); appErr != nil {
		return nil, appErr
	}

	appErr = i.store.AdvanceStatus(ctx, m.MeetingID,
		[]models.MeetingStatus{models.MeetingStatusReserved},
		models.MeetingStatusStarting,
		db.AdvanceOptions{StartTime: &now})
	if appErr != nil {
		current, readErr := i.currentStatus(r, m.MeetingID)
		if readErr != nil {
			return nil, readErr
		}
		if !benignTransition(appErr, current,
			models.MeetingStatusStarting, models.MeetingStatusActive,
			models.MeetingStatusStopping, models.MeetingStatusCompleted,
			models.MeetingStatusFailed) {
			return nil, appErr
		}
	}

	log.Ctx(ctx).Info().Str("meeting_id", m.MeetingID.String()).Msg("worker started")
	return okRsp(m.MeetingID), nil
}

type joinedPayload struct {
	SessionUID string  `json:"session_uid"`
	Language   *string `json:"language,omitempty"`
	Task       *string `json:"task,omitempty"`
}

// joined advances starting → active and persists the config the worker is
// actually running with, which is how accepted Reconfigure commands reach
// the store.
func (i *Ingress) joined(r *http.Request) (*httpx.Response, error) {
	var payload joinedPayload
	if err := httpx.GetRequestData(r, &payload); err != nil {
		return nil, err
	}
	m, appErr := i.resolve(r, payload.SessionUID)
	if appErr != nil {
		return nil, appErr
	}
	ctx := r.Context()

	appErr = i.store.AdvanceStatus(ctx, m.MeetingID,
		[]models.MeetingStatus{models.MeetingStatusStarting},
		models.MeetingStatusActive,
		db.AdvanceOptions{})
	if appErr != nil {
		current, readErr := i.currentStatus(r, m.MeetingID)
		if readErr != nil {
			return nil, readErr
		}
		if !benignTransition(appErr, current,
			models.MeetingStatusActive, models.MeetingStatusStopping,
			models.MeetingStatusCompleted, models.MeetingStatusFailed) {
			return nil, appErr
		}
	}

	if appErr := i.persistAcceptedConfig(r, m, payload.Language, payload.Task); appErr != nil {
		return nil, appErr
	}

	log.Ctx(ctx).Info().Str("meeting_id", m.MeetingID.String()).Msg("worker joined meeting")
	return okRsp(m.MeetingID), nil
}

type heartbeatPayload struct {
	SessionUID string `json:"session_uid"`
}

// heartbeat bumps updated_at so the reaper sees the worker as live.
func (i *Ingress) heartbeat(r *http.Request) (*httpx.Response, error) {
	var payload heartbeatPayload
	if err := httpx.GetRequestData(r, &payload); err != nil {
		return nil, err
	}
	m, appErr := i.resolve(r, payload.SessionUID)
	if appErr != nil {
		return nil, appErr
	}
	if appErr := i.store.Touch(r.Context(), m.MeetingID); appErr != nil {
		return nil, appErr
	}
	log.Ctx(r.Context()).Debug().Str("meeting_id", m.MeetingID.String()).Msg("worker heartbeat")
	return okRsp(m.MeetingID), nil
}

type statusPayload struct {
	SessionUID string  `json:"session_uid"`
	Status     string  `json:"status"`
	Language   *string `json:"language,omitempty"`
	Task       *string `json:"task,omitempty"`
}

// statusUpdate lets the worker set the one intermediate transition it owns:
// active → stopping. Any other requested status is rejected outright.
func (i *Ingress) statusUpdate(r *http.Request) (*httpx.Response, error) {
	var payload statusPayload
	if err := httpx.GetRequestData(r, &payload); err != nil {
		return nil, err
	}
	if payload.Status != string(models.MeetingStatusStopping) {
		return nil, ErrInvalidStatus.Msg(payload.Status)
	}
	m, appErr := i.resolve(r, payload.SessionUID)
	if appErr != nil {
		return nil, appErr
	}
	ctx := r.Context()

	appErr = i.store.AdvanceStatus(ctx, m.MeetingID,
		[]models.MeetingStatus{models.MeetingStatusActive},
		models.MeetingStatusStopping,
		db.AdvanceOptions{})
	if appErr != nil {
		return nil, appErr
	}

	if appErr := i.persistAcceptedConfig(r, m, payload.Language, payload.Task); appErr != nil {
		return nil, appErr
	}

	log.Ctx(ctx).Info().Str("meeting_id", m.MeetingID.String()).Msg("worker stopping")
	return okRsp(m.MeetingID), nil
}

type exitedPayload struct {
	SessionUID string `json:"session_uid"`
	ExitCode   int    `json:"exit_code"`
	Reason     string `json:"reason,omitempty"`
}

// exited settles the meeting: completed on a zero exit code, failed
// otherwise. A zero exit while still starting has no lifecycle edge to
// completed and is rejected with a conflict. Replayed exit callbacks leave
// the settled row untouched.
func (i *Ingress) exited(r *http.Request) (*httpx.Response, error) {
	var payload exitedPayload
	if err := httpx.GetRequestData(r, &payload); err != nil {
		return nil, err
	}
	m, appErr := i.resolve(r, payload.SessionUID)
	if appErr != nil {
		return nil, appErr
	}
	ctx := r.Context()
	now := time.Now().UTC()

	target := models.MeetingStatusCompleted
	opts := db.AdvanceOptions{EndTime: &now}
	if payload.ExitCode != 0 {
		target = models.MeetingStatusFailed
		reason := payload.Reason
		if reason == "" {
			reason = "worker_exit_nonzero"
		}
		opts.FailureReason = &reason
	}

	appErr = i.store.AdvanceStatus(ctx, m.MeetingID,
		[]models.MeetingStatus{
			models.MeetingStatusStarting,
			models.MeetingStatusActive,
			models.MeetingStatusStopping,
		},
		target, opts)
	if appErr != nil {
		current, readErr := i.currentStatus(r, m.MeetingID)
		if readErr != nil {
			return nil, readErr
		}
		if !benignTransition(appErr, current,
			models.MeetingStatusCompleted, models.MeetingStatusFailed) {
			return nil, appErr
		}
	}

	log.Ctx(ctx).Info().
		Str("meeting_id", m.MeetingID.String()).
		Int("exit_code", payload.ExitCode).
		Str("reason", payload.Reason).
		Msg("worker exited")
	return okRsp(m.MeetingID), nil
}

// currentStatus re-reads the row after a failed CAS to decide whether the
// failure is a replay.
func (i *Ingress) currentStatus(r *http.Request, meetingID uuid.UUID) (models.MeetingStatus, apperrors.Error) {
	m, appErr := i.store.GetMeeting(r.Context(), meetingID)
	if appErr != nil {
		return "", appErr
	}
	return m.Status, nil
}

// persistAcceptedConfig writes the worker-reported options over the stored
// config. Nil fields keep the stored value.
func (i *Ingress) persistAcceptedConfig(r *http.Request, m *models.Meeting, language, task *string) apperrors.Error {
	if language == nil && task == nil {
		return nil
	}
	cfg, err := m.MeetingConfig()
	if err != nil {
		return dberror.ErrDatabase.Err(err)
	}
	if language != nil {
		cfg.Language = language
	}
	if task != nil && botcommon.Task(*task).IsValid() {
		cfg.Task = botcommon.Task(*task)
	}
	return i.store.UpdateConfig(r.Context(), m.MeetingID, cfg)
}
