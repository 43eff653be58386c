// Package admission decides whether a bot request is accepted against the
// user's concurrency cap. It is the only place that applies config
// defaulting and platform preflight before a reservation touches the store,
// and the only place that turns the store's cap refusal into a user-visible
// error.
package admission

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/lukelocksmith/vexa/internal/botmanager/botcommon"
	"github.com/lukelocksmith/vexa/internal/botmanager/config"
	"github.com/lukelocksmith/vexa/internal/botmanager/db"
	"github.com/lukelocksmith/vexa/internal/common/apperrors"
)

var (
	ErrAdmission       apperrors.Error = apperrors.New("admission error")
	ErrInvalidRequest  apperrors.Error = ErrAdmission.New("invalid request").SetStatusCode(http.StatusBadRequest)
	ErrInvalidPlatform apperrors.Error = ErrAdmission.New("unsupported platform").SetStatusCode(http.StatusBadRequest)
	ErrInvalidConfig   apperrors.Error = ErrAdmission.New("invalid bot configuration").SetStatusCode(http.StatusBadRequest)
)

// Result is an admitted reservation plus the join URL derived during
// preflight, which the coordinator passes on to the container spec.
type Result struct {
	Reservation *db.Reservation
	MeetingURL  string
	Config      botcommon.MeetingConfig
}

// Controller enforces admission policy in front of the store.
type Controller struct {
	store    db.Store
	validate *validator.Validate
}

// New returns an admission controller over the given store.
func New(store db.Store) *Controller {
	return &Controller{
		store:    store,
		validate: validator.New(),
	}
}

// Admit validates and defaults the request, then reserves a slot under the
// user's cap. Store errors (LimitExceeded, Conflict, NotFound for an unknown
// user, Unavailable) pass through unchanged; validation errors originate here.
func (c *Controller) Admit(ctx context.Context, userID string, platform botcommon.Platform, nativeMeetingID string, cfg botcommon.MeetingConfig) (*Result, apperrors.Error) {
	if userID == "" {
		return nil, ErrInvalidRequest.Msg("missing user id")
	}
	if !platform.IsValid() {
		return nil, ErrInvalidPlatform.Msg(string(platform))
	}

	meetingURL, err := platform.ConstructMeetingURL(nativeMeetingID)
	if err != nil {
		return nil, ErrInvalidRequest.Msg(err.Error())
	}

	cfg = applyDefaults(cfg)
	if err := c.validate.Struct(cfg); err != nil {
		return nil, ErrInvalidConfig.Msg(err.Error())
	}

	reservation, appErr := c.store.Reserve(ctx, userID, platform, nativeMeetingID, meetingURL, cfg)
	if appErr != nil {
		return nil, appErr
	}

	log.Ctx(ctx).Info().
		Str("user_id", userID).
		Str("platform", string(platform)).
		Str("native_meeting_id", nativeMeetingID).
		Str("meeting_id", reservation.MeetingID.String()).
		Msg("reserved bot slot")

	return &Result{Reservation: reservation, MeetingURL: meetingURL, Config: cfg}, nil
}

// applyDefaults fills unset options from configuration. Language stays nil
// (auto-detect) unless a deployment-wide default is configured.
func applyDefaults(cfg botcommon.MeetingConfig) botcommon.MeetingConfig {
	if cfg.Task == "" {
		task := botcommon.Task(config.Config().DefaultTask)
		if !task.IsValid() {
			task = botcommon.TaskTranscribe
		}
		cfg.Task = task
	}
	if cfg.Language == nil {
		if lang := config.Config().DefaultLanguage; lang != "" {
			cfg.Language = &lang
		}
	}
	return cfg
}
