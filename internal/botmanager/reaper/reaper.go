// Package reaper drives stuck meetings to a terminal failed state. Workers
// that die silently stop bumping updated_at; the reaper scans each
// non-terminal status bucket on a fixed tick and fails rows whose last
// update is older than the bucket's threshold, releasing their containers.
package reaper

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lukelocksmith/vexa/internal/botmanager/config"
	"github.com/lukelocksmith/vexa/internal/botmanager/db"
	"github.com/lukelocksmith/vexa/internal/botmanager/db/models"
	"github.com/lukelocksmith/vexa/internal/botmanager/orchestrator"
)

// stopGrace is the grace period for reaper-initiated container stops.
// Meetings stuck in stopping get no grace; they already had theirs.
const stopGrace = 30 * time.Second

// Thresholds holds the per-status staleness cutoffs.
type Thresholds struct {
	Tick           time.Duration
	ReserveStale   time.Duration
	StartingStale  time.Duration
	HeartbeatStale time.Duration
	StoppingStale  time.Duration
}

// ThresholdsFromConfig builds thresholds from the loaded configuration.
func ThresholdsFromConfig() Thresholds {
	rc := &config.Config().Reaper
	return Thresholds{
		Tick:           rc.GetTickOrDefault(),
		ReserveStale:   rc.GetReserveStaleOrDefault(),
		StartingStale:  rc.GetStartingStaleOrDefault(),
		HeartbeatStale: rc.GetHeartbeatStaleOrDefault(),
		StoppingStale:  rc.GetStoppingStaleOrDefault(),
	}
}

// bucket ties a status to its staleness threshold and failure reason.
type bucket struct {
	status    models.MeetingStatus
	staleFor  func(Thresholds) time.Duration
	reason    string
	forceStop bool
}

var buckets = []bucket{
	{models.MeetingStatusReserved, func(t Thresholds) time.Duration { return t.ReserveStale }, "startup_timeout", false},
	{models.MeetingStatusStarting, func(t Thresholds) time.Duration { return t.StartingStale }, "join_timeout", false},
	{models.MeetingStatusActive, func(t Thresholds) time.Duration { return t.HeartbeatStale }, "heartbeat_lost", false},
	{models.MeetingStatusStopping, func(t Thresholds) time.Duration { return t.StoppingStale }, "shutdown_timeout", true},
}

// Reaper periodically fails stale meetings and releases their containers.
type Reaper struct {
	store      db.Store
	orch       orchestrator.Orchestrator
	thresholds Thresholds
}

// New returns a reaper over the given store and orchestrator.
func New(store db.Store, orch orchestrator.Orchestrator, thresholds Thresholds) *Reaper {
	return &Reaper{store: store, orch: orch, thresholds: thresholds}
}

// Run ticks until the context is canceled. The loop is interruptible only
// at tick boundaries; a tick in progress completes its scan.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.thresholds.Tick)
	defer ticker.Stop()

	log.Ctx(ctx).Info().
		Str("tick", r.thresholds.Tick.String()).
		Msg("reaper started")

	for {
		select {
		case <-ctx.Done():
			log.Ctx(ctx).Info().Msg("reaper stopped")
			return
		case <-ticker.C:
			r.RunOnce(ctx, time.Now().UTC())
		}
	}
}

// RunOnce performs a single scan against the given clock reading. Exposed
// so tests can drive ticks directly.
func (r *Reaper) RunOnce(ctx context.Context, now time.Time) {
	for _, b := range buckets {
		cutoff := now.Add(-b.staleFor(r.thresholds))
		stale, err := r.store.ScanStale(ctx, b.status, cutoff)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).
				Str("status", string(b.status)).
				Msg("stale scan failed")
			continue
		}
		for _, m := range stale {
			r.reap(ctx, m, b, now)
		}
	}
}

// reap fails one stale meeting and releases its container. A lost CAS means
// a callback settled the row first; the container stop is skipped then.
func (r *Reaper) reap(ctx context.Context, m *models.Meeting, b bucket, now time.Time) {
	reason := b.reason
	err := r.store.AdvanceStatus(ctx, m.MeetingID,
		[]models.MeetingStatus{b.status},
		models.MeetingStatusFailed,
		db.AdvanceOptions{EndTime: &now, FailureReason: &reason})
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).
			Str("meeting_id", m.MeetingID.String()).
			Str("status", string(b.status)).
			Msg("stale meeting advanced elsewhere, skipping")
		return
	}

	log.Ctx(ctx).Warn().
		Str("meeting_id", m.MeetingID.String()).
		Str("was_status", string(b.status)).
		Str("reason", reason).
		Msg("reaped stale meeting")

	if m.BotContainerID.Valid {
		grace := stopGrace
		if b.forceStop {
			grace = 0
		}
		if stopErr := r.orch.Stop(ctx, m.BotContainerID.String, grace); stopErr != nil {
			log.Ctx(ctx).Warn().Err(stopErr).
				Str("container_id", m.BotContainerID.String).
				Msg("failed to stop container for reaped meeting")
		}
	}
}
