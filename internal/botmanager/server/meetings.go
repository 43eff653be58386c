package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lukelocksmith/vexa/internal/botmanager/botcommon"
	"github.com/lukelocksmith/vexa/internal/common/httpx"
	"github.com/lukelocksmith/vexa/internal/common/uuid"
	"github.com/lukelocksmith/vexa/pkg/api"
)

func (s *BotManagerServer) meetingsRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(userContextMiddleware)
	r.Get("/", httpx.WrapHttpRsp(s.listMeetings))
	r.Get("/{meetingID}", httpx.WrapHttpRsp(s.getMeeting))
	return r
}

// listMeetings returns the caller's meetings, optionally filtered by
// status, newest first.
func (s *BotManagerServer) listMeetings(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()

	statuses := parseStatuses(r.URL.Query()["status"])
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			return nil, httpx.ErrInvalidRequest("invalid limit")
		}
		limit = parsed
	}

	meetings, appErr := s.coordinator.ListBotsForUser(ctx, botcommon.GetUserID(ctx), statuses)
	if appErr != nil {
		return nil, appErr
	}
	if limit > 0 && len(meetings) > limit {
		meetings = meetings[:limit]
	}

	rsp := api.MeetingListResponse{Meetings: make([]api.MeetingResponse, 0, len(meetings))}
	for _, m := range meetings {
		rsp.Meetings = append(rsp.Meetings, toMeetingResponse(m))
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: rsp}, nil
}

// getMeeting returns one meeting. A meeting belonging to another user is
// indistinguishable from a missing one.
func (s *BotManagerServer) getMeeting(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()

	meetingID, err := uuid.Parse(chi.URLParam(r, "meetingID"))
	if err != nil {
		return nil, httpx.ErrInvalidRequest("invalid meeting id")
	}

	m, appErr := s.coordinator.GetMeeting(ctx, meetingID)
	if appErr != nil {
		return nil, appErr
	}
	if m.UserID != botcommon.GetUserID(ctx) {
		return nil, httpx.ErrNotFound("meeting not found")
	}

	rsp := toMeetingResponse(m)
	return &httpx.Response{StatusCode: http.StatusOK, Response: rsp}, nil
}
