// Package lifecycle implements the coordinator that accepts external bot
// requests and translates them into store writes, orchestrator calls, and
// command publishes. The coordinator never writes status after the initial
// reservation, with one exception: compensating a failed start while the
// row is still reserved. Every later transition comes from worker callbacks
// or the reaper.
package lifecycle

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lukelocksmith/vexa/internal/botmanager/admission"
	"github.com/lukelocksmith/vexa/internal/botmanager/botcommon"
	"github.com/lukelocksmith/vexa/internal/botmanager/bus"
	"github.com/lukelocksmith/vexa/internal/botmanager/config"
	"github.com/lukelocksmith/vexa/internal/botmanager/db"
	"github.com/lukelocksmith/vexa/internal/botmanager/db/models"
	"github.com/lukelocksmith/vexa/internal/botmanager/orchestrator"
	"github.com/lukelocksmith/vexa/internal/common/apperrors"
	"github.com/lukelocksmith/vexa/internal/common/uuid"
)

// delayedStopAfter is how long after a Leave publish the coordinator stops
// the container as a backup; a cooperative worker will have exited by then
// and the stop becomes a no-op.
const delayedStopAfter = 30 * time.Second

// stopGrace is the grace period given to the container runtime on stop.
const stopGrace = 30 * time.Second

// Coordinator wires admission, the store, the command bus, and the
// orchestrator together behind the external bot operations.
type Coordinator struct {
	store     db.Store
	bus       bus.CommandBus
	orch      orchestrator.Orchestrator
	admission *admission.Controller
}

// New returns a coordinator over the given collaborators.
func New(store db.Store, cmdBus bus.CommandBus, orch orchestrator.Orchestrator) *Coordinator {
	return &Coordinator{
		store:     store,
		bus:       cmdBus,
		orch:      orch,
		admission: admission.New(store),
	}
}

// StartBot admits the request, provisions a worker container, and returns
// the reserved meeting. It does not wait for the worker to come up: the
// meeting advances out of reserved only via the worker's callbacks. Any
// failure after the reservation compensates by failing the row and
// releasing the container.
func (c *Coordinator) StartBot(ctx context.Context, userID string, platform botcommon.Platform, nativeMeetingID string, cfg botcommon.MeetingConfig) (*models.Meeting, apperrors.Error) {
	ctx, cancel := context.WithTimeout(ctx, config.Config().GetStartRPCTimeoutOrDefault())
	defer cancel()

	admitted, err := c.admission.Admit(ctx, userID, platform, nativeMeetingID, cfg)
	if err != nil {
		return nil, err
	}
	meetingID := admitted.Reservation.MeetingID

	spec := orchestrator.ContainerSpec{
		Image:           config.Config().BotImage,
		MeetingID:       meetingID,
		SessionUID:      admitted.Reservation.SessionUID,
		UserID:          userID,
		Platform:        platform,
		NativeMeetingID: nativeMeetingID,
		MeetingURL:      admitted.MeetingURL,
		BotName:         admitted.Config.BotName,
		Language:        admitted.Config.Language,
		Task:            admitted.Config.Task,
		CallbackURL:     config.Config().CallbackBaseURL,
		Network:         config.Config().DockerNetwork,
	}

	containerID, err := c.orch.Create(ctx, spec)
	if err != nil {
		c.failReservation(ctx, meetingID, "orchestrator_create")
		return nil, err
	}

	err = retryStore(ctx, func() apperrors.Error {
		return c.store.SetContainer(ctx, meetingID, containerID)
	})
	if err != nil {
		c.failReservation(ctx, meetingID, "set_container")
		c.releaseContainer(ctx, containerID)
		return nil, err
	}

	if err := c.orch.Start(ctx, containerID); err != nil {
		c.failReservation(ctx, meetingID, "orchestrator_start")
		c.releaseContainer(ctx, containerID)
		return nil, err
	}

	log.Ctx(ctx).Info().
		Str("meeting_id", meetingID.String()).
		Str("container_id", containerID).
		Msg("bot container started")

	return c.store.GetMeeting(ctx, meetingID)
}

// failReservation compensates a failed start: the row is still reserved, so
// the coordinator itself may drive it to failed. Runs on a detached context
// because the request deadline may already be gone.
func (c *Coordinator) failReservation(ctx context.Context, meetingID uuid.UUID, reason string) {
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	now := time.Now().UTC()
	err := retryStore(bg, func() apperrors.Error {
		return c.store.AdvanceStatus(bg, meetingID,
			[]models.MeetingStatus{models.MeetingStatusReserved},
			models.MeetingStatusFailed,
			db.AdvanceOptions{EndTime: &now, FailureReason: &reason})
	})
	if err != nil {
		log.Ctx(ctx).Error().Err(err).
			Str("meeting_id", meetingID.String()).
			Str("reason", reason).
			Msg("failed to compensate reservation; reaper will collect it")
	}
}

// releaseContainer is a best-effort stop of a container that will never
// serve its meeting.
func (c *Coordinator) releaseContainer(ctx context.Context, containerID string) {
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopGrace+5*time.Second)
	defer cancel()

	if err := c.orch.Stop(bg, containerID, stopGrace); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("container_id", containerID).Msg("container cleanup failed")
	}
}

// StopBot requests a graceful shutdown of the meeting's worker. Terminal
// meetings return idempotently. The call publishes Leave and returns; the
// worker's exit callback or the reaper settles the final status.
func (c *Coordinator) StopBot(ctx context.Context, meetingID uuid.UUID) apperrors.Error {
	m, err := c.store.GetMeeting(ctx, meetingID)
	if err != nil {
		return err
	}
	return c.requestLeave(ctx, m)
}

// StopBotByNativeID resolves the newest non-terminal meeting for the triple
// and requests shutdown. Returns the meeting so the API can echo it.
func (c *Coordinator) StopBotByNativeID(ctx context.Context, userID string, platform botcommon.Platform, nativeMeetingID string) (*models.Meeting, apperrors.Error) {
	m, err := c.store.GetNonTerminalMeeting(ctx, userID, platform, nativeMeetingID)
	if err != nil {
		return nil, err
	}
	if err := c.requestLeave(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *Coordinator) requestLeave(ctx context.Context, m *models.Meeting) apperrors.Error {
	if m.Status.IsTerminal() {
		return nil
	}

	if err := c.bus.Publish(ctx, m.SessionUID.String(), bus.LeaveCommand()); err != nil {
		// The worker may be gone already; the reaper covers that. Losing
		// the command is within the bus contract, so log and accept.
		log.Ctx(ctx).Warn().Err(err).
			Str("meeting_id", m.MeetingID.String()).
			Msg("failed to publish leave command")
	} else {
		log.Ctx(ctx).Info().
			Str("meeting_id", m.MeetingID.String()).
			Str("session_uid", m.SessionUID.String()).
			Msg("published leave command")
	}

	if m.BotContainerID.Valid {
		go c.delayedContainerStop(ctx, m.BotContainerID.String)
	}
	return nil
}

// delayedContainerStop stops the container after a grace window, as a
// backup for workers that ignore Leave.
func (c *Coordinator) delayedContainerStop(ctx context.Context, containerID string) {
	bg := context.WithoutCancel(ctx)
	timer := time.NewTimer(delayedStopAfter)
	defer timer.Stop()
	<-timer.C

	stopCtx, cancel := context.WithTimeout(bg, stopGrace+5*time.Second)
	defer cancel()
	if err := c.orch.Stop(stopCtx, containerID, stopGrace); err != nil {
		log.Warn().Err(err).Str("container_id", containerID).Msg("delayed container stop failed")
	}
}

// ReconfigureBot publishes new options to a live worker. Only meetings in
// starting or active accept reconfiguration. The store is not updated here:
// the worker's next callback persists the accepted config.
func (c *Coordinator) ReconfigureBot(ctx context.Context, userID string, platform botcommon.Platform, nativeMeetingID string, language, task *string) apperrors.Error {
	if task != nil && !botcommon.Task(*task).IsValid() {
		return admission.ErrInvalidConfig.Msg("task must be \"transcribe\" or \"translate\"")
	}

	m, err := c.store.GetNonTerminalMeeting(ctx, userID, platform, nativeMeetingID)
	if err != nil {
		return err
	}
	if m.Status != models.MeetingStatusStarting && m.Status != models.MeetingStatusActive {
		return ErrIllegalState.Msg("meeting is " + string(m.Status))
	}

	if err := c.bus.Publish(ctx, m.SessionUID.String(), bus.ReconfigureCommand(language, task)); err != nil {
		return err
	}
	log.Ctx(ctx).Info().
		Str("meeting_id", m.MeetingID.String()).
		Str("session_uid", m.SessionUID.String()).
		Msg("published reconfigure command")
	return nil
}

// GetMeeting is a read-only passthrough.
func (c *Coordinator) GetMeeting(ctx context.Context, meetingID uuid.UUID) (*models.Meeting, apperrors.Error) {
	return c.store.GetMeeting(ctx, meetingID)
}

// ListBotsForUser returns the user's meetings, newest first.
func (c *Coordinator) ListBotsForUser(ctx context.Context, userID string, statuses []models.MeetingStatus) ([]*models.Meeting, apperrors.Error) {
	return c.store.ListMeetings(ctx, db.MeetingFilter{UserID: userID, Statuses: statuses})
}

// GetActiveCount returns how many meetings currently hold one of the user's
// concurrency slots.
func (c *Coordinator) GetActiveCount(ctx context.Context, userID string) (int, apperrors.Error) {
	return c.store.CountNonTerminal(ctx, userID)
}

// RunningBot pairs a meeting with its observed container state.
type RunningBot struct {
	Meeting   *models.Meeting
	Container orchestrator.ContainerState
}

// RunningBots lists the user's non-terminal meetings joined with live
// container inspection. Meetings whose container cannot be inspected are
// reported with a zero container state.
func (c *Coordinator) RunningBots(ctx context.Context, userID string) ([]RunningBot, apperrors.Error) {
	meetings, err := c.store.ListMeetings(ctx, db.MeetingFilter{
		UserID:   userID,
		Statuses: models.NonTerminalStatuses(),
	})
	if err != nil {
		return nil, err
	}

	bots := make([]RunningBot, 0, len(meetings))
	for _, m := range meetings {
		rb := RunningBot{Meeting: m}
		if m.BotContainerID.Valid {
			state, inspErr := c.orch.Inspect(ctx, m.BotContainerID.String)
			if inspErr == nil {
				rb.Container = state
			} else {
				log.Ctx(ctx).Debug().Err(inspErr).
					Str("container_id", m.BotContainerID.String).
					Msg("container inspect failed")
			}
		}
		bots = append(bots, rb)
	}
	return bots, nil
}
