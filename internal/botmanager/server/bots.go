package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lukelocksmith/vexa/internal/botmanager/botcommon"
	"github.com/lukelocksmith/vexa/internal/common/httpx"
	"github.com/lukelocksmith/vexa/pkg/api"
)

func (s *BotManagerServer) botsRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(userContextMiddleware)
	r.Post("/", httpx.WrapHttpRsp(s.startBot))
	r.Get("/status", httpx.WrapHttpRsp(s.getBotsStatus))
	r.Delete("/{platform}/{nativeMeetingID}", httpx.WrapHttpRsp(s.stopBot))
	r.Patch("/{platform}/{nativeMeetingID}/config", httpx.WrapHttpRsp(s.reconfigureBot))
	return r
}

// startBot admits and launches a bot. The response reflects the reserved
// row; the meeting advances further only through worker callbacks.
func (s *BotManagerServer) startBot(r *http.Request) (*httpx.Response, error) {
	var req api.CreateBotRequest
	if err := httpx.GetRequestData(r, &req); err != nil {
		return nil, err
	}

	ctx := r.Context()
	cfg := botcommon.MeetingConfig{
		Language: req.Language,
		Task:     botcommon.Task(req.Task),
		BotName:  req.BotName,
	}

	meeting, appErr := s.coordinator.StartBot(ctx,
		botcommon.GetUserID(ctx),
		botcommon.Platform(req.Platform),
		req.NativeMeetingID,
		cfg)
	if appErr != nil {
		return nil, appErr
	}

	rsp := toMeetingResponse(meeting)
	return &httpx.Response{StatusCode: http.StatusOK, Response: rsp}, nil
}

// stopBot requests graceful shutdown of the bot attending the meeting.
func (s *BotManagerServer) stopBot(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	platform := botcommon.Platform(chi.URLParam(r, "platform"))
	nativeMeetingID := chi.URLParam(r, "nativeMeetingID")

	meeting, appErr := s.coordinator.StopBotByNativeID(ctx,
		botcommon.GetUserID(ctx), platform, nativeMeetingID)
	if appErr != nil {
		return nil, appErr
	}

	rsp := toMeetingResponse(meeting)
	return &httpx.Response{StatusCode: http.StatusAccepted, Response: rsp}, nil
}

// reconfigureBot forwards new options to the live worker. Only meetings in
// starting or active accept it.
func (s *BotManagerServer) reconfigureBot(r *http.Request) (*httpx.Response, error) {
	var req api.ReconfigureRequest
	if err := httpx.GetRequestData(r, &req); err != nil {
		return nil, err
	}

	ctx := r.Context()
	platform := botcommon.Platform(chi.URLParam(r, "platform"))
	nativeMeetingID := chi.URLParam(r, "nativeMeetingID")

	appErr := s.coordinator.ReconfigureBot(ctx,
		botcommon.GetUserID(ctx), platform, nativeMeetingID,
		req.Language, req.Task)
	if appErr != nil {
		return nil, appErr
	}

	return &httpx.Response{
		StatusCode: http.StatusAccepted,
		Response:   api.MessageResponse{Message: "reconfiguration request accepted"},
	}, nil
}

// getBotsStatus lists the user's in-flight bots joined with container
// inspection.
func (s *BotManagerServer) getBotsStatus(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	bots, appErr := s.coordinator.RunningBots(ctx, botcommon.GetUserID(ctx))
	if appErr != nil {
		return nil, appErr
	}

	rsp := api.BotStatusResponse{RunningBots: make([]api.RunningBotStatus, 0, len(bots))}
	for _, b := range bots {
		status := api.RunningBotStatus{
			MeetingID:        b.Meeting.MeetingID.String(),
			Platform:         string(b.Meeting.Platform),
			NativeMeetingID:  b.Meeting.NativeMeetingID,
			Status:           string(b.Meeting.Status),
			ContainerRunning: b.Container.Running,
		}
		if b.Meeting.BotContainerID.Valid {
			status.ContainerID = b.Meeting.BotContainerID.String
		}
		rsp.RunningBots = append(rsp.RunningBots, status)
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: rsp}, nil
}
