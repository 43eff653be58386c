// Package orchestrator abstracts the container runtime that hosts bot
// workers. The bot manager knows only this interface; backends plug in
// behind it. The docker backend drives a local daemon, and the in-memory
// fake backs tests.
package orchestrator

import (
	"context"
	"net/http"
	"time"

	"github.com/lukelocksmith/vexa/internal/botmanager/botcommon"
	"github.com/lukelocksmith/vexa/internal/common/apperrors"
	"github.com/lukelocksmith/vexa/internal/common/uuid"
)

// ContainerSpec describes one worker container. It is deterministic in
// resource requirements: two specs for the same meeting produce identical
// containers.
type ContainerSpec struct {
	Image           string
	MeetingID       uuid.UUID
	SessionUID      uuid.UUID
	UserID          string
	Platform        botcommon.Platform
	NativeMeetingID string
	MeetingURL      string
	BotName         string
	Language        *string
	Task            botcommon.Task
	CallbackURL     string
	Network         string
}

// ContainerState is the observed runtime state of a worker container.
type ContainerState struct {
	Running    bool
	ExitCode   int
	ExitReason string
}

// Orchestrator is the capability set the bot manager requires from a
// container runtime. Stop must be safe to call repeatedly and on containers
// that are already gone.
type Orchestrator interface {
	Create(ctx context.Context, spec ContainerSpec) (string, apperrors.Error)
	Start(ctx context.Context, containerID string) apperrors.Error
	Stop(ctx context.Context, containerID string, grace time.Duration) apperrors.Error
	Inspect(ctx context.Context, containerID string) (ContainerState, apperrors.Error)
	WaitExit(ctx context.Context, containerID string, timeout time.Duration) (ContainerState, apperrors.Error)
}

var (
	ErrOrchestrator apperrors.Error = apperrors.New("orchestrator error").SetStatusCode(http.StatusBadGateway)
	ErrCreateFailed apperrors.Error = ErrOrchestrator.New("failed to create container")
	ErrStartFailed  apperrors.Error = ErrOrchestrator.New("failed to start container")
	ErrStopFailed   apperrors.Error = ErrOrchestrator.New("failed to stop container")
	ErrNotFound     apperrors.Error = ErrOrchestrator.New("container not found").SetStatusCode(http.StatusNotFound)
	ErrUnavailable  apperrors.Error = ErrOrchestrator.New("container runtime unavailable").SetStatusCode(http.StatusServiceUnavailable)
	ErrWaitTimeout  apperrors.Error = ErrOrchestrator.New("timed out waiting for container exit").SetStatusCode(http.StatusGatewayTimeout)
)
