package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/rs/zerolog/log"

	"github.com/lukelocksmith/vexa/internal/common/apperrors"
)

// DockerOrchestrator drives a local Docker daemon. It is the ORCH_KIND=local
// backend.
type DockerOrchestrator struct {
	cli *client.Client
}

// NewDockerOrchestrator builds a client from the environment (DOCKER_HOST
// et al.) with API version negotiation.
func NewDockerOrchestrator() (*DockerOrchestrator, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerOrchestrator{cli: cli}, nil
}

// workerEnv renders the spec into the environment contract the worker image
// expects. The session UID is the worker's identity on both the callback
// surface and the command channel.
func workerEnv(spec ContainerSpec) []string {
	env := []string{
		"MEETING_ID=" + spec.MeetingID.String(),
		"CONNECTION_ID=" + spec.SessionUID.String(),
		"MEETING_URL=" + spec.MeetingURL,
		"PLATFORM=" + string(spec.Platform),
		"NATIVE_MEETING_ID=" + spec.NativeMeetingID,
		"BOT_NAME=" + spec.BotName,
		"TASK=" + string(spec.Task),
		"CALLBACK_URL=" + spec.CallbackURL,
	}
	if spec.Language != nil {
		env = append(env, "LANGUAGE="+*spec.Language)
	}
	return env
}

// Create creates the worker container without starting it.
func (d *DockerOrchestrator) Create(ctx context.Context, spec ContainerSpec) (string, apperrors.Error) {
	cfg := &container.Config{
		Image: spec.Image,
		Env:   workerEnv(spec),
		Labels: map[string]string{
			"vexa.meeting_id":  spec.MeetingID.String(),
			"vexa.session_uid": spec.SessionUID.String(),
			"vexa.user_id":     spec.UserID,
		},
	}
	hostCfg := &container.HostConfig{}
	if spec.Network != "" {
		hostCfg.NetworkMode = container.NetworkMode(spec.Network)
	}

	name := "vexa-bot-" + spec.MeetingID.String()
	resp, err := d.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("image", spec.Image).Msg("container create failed")
		return "", ErrCreateFailed.Err(err)
	}
	return resp.ID, nil
}

// Start starts a created container. Idempotent on already-running.
func (d *DockerOrchestrator) Start(ctx context.Context, containerID string) apperrors.Error {
	err := d.cli.ContainerStart(ctx, containerID, types.ContainerStartOptions{})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return ErrNotFound.Err(err)
		}
		log.Ctx(ctx).Error().Err(err).Str("container_id", containerID).Msg("container start failed")
		return ErrStartFailed.Err(err)
	}
	return nil
}

// Stop requests graceful termination with the given grace period, after
// which the daemon kills the container. Stopping a missing or already
// stopped container succeeds.
func (d *DockerOrchestrator) Stop(ctx context.Context, containerID string, grace time.Duration) apperrors.Error {
	graceSecs := int(grace.Seconds())
	err := d.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &graceSecs})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		log.Ctx(ctx).Error().Err(err).Str("container_id", containerID).Msg("container stop failed")
		return ErrStopFailed.Err(err)
	}
	return nil
}

// Inspect reports the container's runtime state.
func (d *DockerOrchestrator) Inspect(ctx context.Context, containerID string) (ContainerState, apperrors.Error) {
	insp, err := d.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return ContainerState{}, ErrNotFound.Err(err)
		}
		return ContainerState{}, ErrUnavailable.Err(err)
	}
	state := ContainerState{}
	if insp.State != nil {
		state.Running = insp.State.Running
		state.ExitCode = insp.State.ExitCode
		state.ExitReason = insp.State.Error
	}
	return state, nil
}

// WaitExit blocks until the container stops or the timeout elapses.
func (d *DockerOrchestrator) WaitExit(ctx context.Context, containerID string, timeout time.Duration) (ContainerState, apperrors.Error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	waitCh, errCh := d.cli.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case result := <-waitCh:
		state := ContainerState{ExitCode: int(result.StatusCode)}
		if result.Error != nil {
			state.ExitReason = result.Error.Message
		}
		return state, nil
	case err := <-errCh:
		if ctx.Err() != nil {
			return ContainerState{}, ErrWaitTimeout
		}
		if errdefs.IsNotFound(err) {
			return ContainerState{}, ErrNotFound.Err(err)
		}
		return ContainerState{}, ErrUnavailable.Err(err)
	}
}
