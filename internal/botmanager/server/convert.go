package server

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/lukelocksmith/vexa/internal/botmanager/botcommon"
	"github.com/lukelocksmith/vexa/internal/botmanager/db/models"
	"github.com/lukelocksmith/vexa/internal/common/httpx"
	"github.com/lukelocksmith/vexa/pkg/api"
)

// userContextMiddleware extracts the pre-resolved user identity from the
// X-User-ID header. Authentication happens at the gateway in front of this
// service; a request arriving without an identity is rejected.
func userContextMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-ID")
		if userID == "" {
			log.Ctx(r.Context()).Debug().Msg("missing user identity header")
			httpx.ErrUnAuthorized("missing user identity").Send(w)
			return
		}
		ctx := botcommon.WithUserID(r.Context(), userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// toMeetingResponse projects a meeting row into its public form.
func toMeetingResponse(m *models.Meeting) api.MeetingResponse {
	rsp := api.MeetingResponse{
		MeetingID:       m.MeetingID.String(),
		UserID:          m.UserID,
		Platform:        string(m.Platform),
		NativeMeetingID: m.NativeMeetingID,
		Status:          string(m.Status),
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
	if m.MeetingURL.Valid {
		rsp.MeetingURL = m.MeetingURL.String
	}
	if m.BotContainerID.Valid {
		rsp.BotContainerID = m.BotContainerID.String
	}
	if m.StartTime.Valid {
		t := m.StartTime.Time
		rsp.StartTime = &t
	}
	if m.EndTime.Valid {
		t := m.EndTime.Time
		rsp.EndTime = &t
	}
	if m.FailureReason.Valid {
		rsp.FailureReason = m.FailureReason.String
	}
	if cfg, err := m.MeetingConfig(); err == nil {
		rsp.Config = api.MeetingConfig{
			Language: cfg.Language,
			Task:     string(cfg.Task),
			BotName:  cfg.BotName,
		}
	}
	return rsp
}

// parseStatuses converts query status values, dropping unknown ones.
func parseStatuses(values []string) []models.MeetingStatus {
	var statuses []models.MeetingStatus
	for _, v := range values {
		st := models.MeetingStatus(v)
		if st.IsValid() {
			statuses = append(statuses, st)
		}
	}
	return statuses
}
