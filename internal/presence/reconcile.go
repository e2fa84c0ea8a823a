package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/dutytrack/internal/metrics"
	"github.com/goodtune/dutytrack/internal/storage"
	"github.com/rs/zerolog"
)

// Reconcile opens a session at now for every present member that has none
// and gives each present member a zero total if it has none. Restored
// sessions keep their join instant. It returns the number of sessions opened.
func Reconcile(tracker *Tracker, present []MemberID, now time.Time) int {
	opened := 0
	for _, member := range present {
		if member == "" {
			continue
		}
		if tracker.OnJoin(member, now) {
			opened++
		}
		tracker.seed(member)
	}
	return opened
}

// RecoverOptions controls startup recovery
type RecoverOptions struct {
	// AbortOnCorrupt turns an undecodable snapshot into a startup error
	// instead of starting empty.
	AbortOnCorrupt bool
}

// RecoverResult describes what Recover found
type RecoverResult struct {
	Restored  bool  // a snapshot was loaded and applied
	Malformed bool  // the stored snapshot could not be decoded
	LoadError error // why nothing was restored, if anything failed
	Present   int   // members observed in the channel, -1 if unreachable
	Opened    int   // sessions synthesized for present members
	Discarded int   // restored sessions of members no longer present
}

// Recover runs RestoreSnapshot followed by ReconcileLive. Callers that
// receive presence events must restore before the event source is connected
// and reconcile afterwards, since a restore replaces the tracker state.
func Recover(ctx context.Context, tracker *Tracker, snapshots storage.SnapshotStore, source MembershipSource, now time.Time, opts RecoverOptions, logger zerolog.Logger) (RecoverResult, error) {
	result, err := RestoreSnapshot(ctx, tracker, snapshots, opts, logger)
	if err != nil {
		return result, err
	}
	ReconcileLive(ctx, tracker, source, now, &result, logger)
	return result, nil
}

// RestoreSnapshot loads the last snapshot into tracker, replacing its state.
// It must run before any join or leave is applied.
func RestoreSnapshot(ctx context.Context, tracker *Tracker, snapshots storage.SnapshotStore, opts RecoverOptions, logger zerolog.Logger) (RecoverResult, error) {
	logger = logger.With().Str("component", "recovery").Logger()
	result := RecoverResult{Present: -1}

	snapshot, err := snapshots.Load(ctx)
	switch {
	case err == nil:
		if err := tracker.Restore(*snapshot); err != nil {
			result.Malformed = true
			result.LoadError = err
		} else {
			result.Restored = true
		}
	case errors.Is(err, storage.ErrNotFound):
		logger.Info().Msg("No previous snapshot found, starting fresh")
	case errors.Is(err, storage.ErrMalformed):
		result.Malformed = true
		result.LoadError = err
	default:
		result.LoadError = err
		metrics.SnapshotLoadFailures.WithLabelValues("io").Inc()
		logger.Error().Err(err).Msg("Failed to load snapshot, starting with empty state")
	}

	if result.Malformed {
		metrics.SnapshotLoadFailures.WithLabelValues("malformed").Inc()
		logger.Error().
			Err(result.LoadError).
			Bool("abort_on_corrupt", opts.AbortOnCorrupt).
			Msg("SNAPSHOT IS CORRUPT: previously accrued totals were not restored")
		if opts.AbortOnCorrupt {
			return result, fmt.Errorf("corrupt snapshot: %w", result.LoadError)
		}
	}

	return result, nil
}

// ReconcileLive queries the channel and brings the sessions in line with it.
// Sessions of absent members are discarded without credit; present members
// without a session get one at now. Events applied since RestoreSnapshot are
// kept. The outcome is recorded in result.
func ReconcileLive(ctx context.Context, tracker *Tracker, source MembershipSource, now time.Time, result *RecoverResult, logger zerolog.Logger) {
	logger = logger.With().Str("component", "recovery").Logger()
	result.Present = -1

	present, err := source.PresentMembers(ctx)
	if err != nil {
		// Without ground truth, restored sessions are kept and the first
		// successful tick heals whatever is missing.
		logger.Warn().Err(err).Msg("Channel membership unavailable at startup, keeping restored sessions")
		return
	}
	result.Present = len(present)

	here := make(map[MemberID]struct{}, len(present))
	for _, member := range present {
		here[member] = struct{}{}
	}
	// No leave event will ever close these.
	for member := range tracker.Sessions() {
		if _, ok := here[member]; ok {
			continue
		}
		if tracker.discard(member) {
			result.Discarded++
			logger.Info().Str("member_id", string(member)).Msg("Discarded restored session of absent member")
		}
	}

	result.Opened = Reconcile(tracker, present, now)

	logger.Info().
		Bool("restored", result.Restored).
		Int("present", result.Present).
		Int("opened", result.Opened).
		Int("discarded", result.Discarded).
		Msg("Startup reconciliation complete")
}
