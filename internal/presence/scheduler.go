package presence

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/coder/quartz"
	"github.com/goodtune/dutytrack/internal/metrics"
	"github.com/goodtune/dutytrack/internal/storage"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// ReminderSchedule is a named reminder and its 5-field cron schedule
type ReminderSchedule struct {
	Name     string
	Schedule string
	Message  string
}

// SchedulerConfig holds scheduler configuration
type SchedulerConfig struct {
	Interval         time.Duration
	Location         *time.Location
	RolloverSchedule string
	RetentionDays    int // archived reports older than this are pruned; 0 keeps all
	Reminders        []ReminderSchedule

	Clock    quartz.Clock // defaults to the real clock
	Watchdog func()       // called after every completed tick
}

type reminderState struct {
	name     string
	message  string
	schedule cron.Schedule
	next     time.Time
}

// Scheduler drives accrual, rollover, reminders and persistence from a
// single ticker. Ticks never overlap.
type Scheduler struct {
	tracker  *Tracker
	source   MembershipSource
	store    storage.Store
	reporter Reporter
	notifier Notifier

	clock         quartz.Clock
	interval      time.Duration
	loc           *time.Location
	rollover      cron.Schedule
	retentionDays int
	reminders     []*reminderState
	watchdog      func()

	nextRollover time.Time
	lastTick     atomic.Int64 // unix nanos
	startedAt    atomic.Int64

	logger zerolog.Logger
}

// NewScheduler creates a scheduler. reporter and notifier may be nil, in
// which case reports are only archived and reminders only logged.
func NewScheduler(tracker *Tracker, source MembershipSource, store storage.Store, reporter Reporter, notifier Notifier, config SchedulerConfig, logger zerolog.Logger) (*Scheduler, error) {
	if config.Interval <= 0 {
		config.Interval = tracker.Interval()
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	if config.Clock == nil {
		config.Clock = quartz.NewReal()
	}
	if config.RolloverSchedule == "" {
		config.RolloverSchedule = "0 0 * * *"
	}

	rollover, err := cron.ParseStandard(config.RolloverSchedule)
	if err != nil {
		return nil, fmt.Errorf("invalid rollover schedule %q: %w", config.RolloverSchedule, err)
	}

	reminders := make([]*reminderState, 0, len(config.Reminders))
	for _, r := range config.Reminders {
		schedule, err := cron.ParseStandard(r.Schedule)
		if err != nil {
			return nil, fmt.Errorf("invalid schedule for reminder %q: %w", r.Name, err)
		}
		reminders = append(reminders, &reminderState{
			name:     r.Name,
			message:  r.Message,
			schedule: schedule,
		})
	}

	return &Scheduler{
		tracker:       tracker,
		source:        source,
		store:         store,
		reporter:      reporter,
		notifier:      notifier,
		clock:         config.Clock,
		interval:      config.Interval,
		loc:           config.Location,
		rollover:      rollover,
		retentionDays: config.RetentionDays,
		reminders:     reminders,
		watchdog:      config.Watchdog,
		logger:        logger.With().Str("component", "scheduler").Logger(),
	}, nil
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	now := s.clock.Now()
	s.startedAt.Store(now.UnixNano())
	s.plan(now)

	s.logger.Info().
		Dur("interval", s.interval).
		Str("timezone", s.loc.String()).
		Time("next_rollover", s.nextRollover).
		Int("reminders", len(s.reminders)).
		Msg("Scheduler started")

	w := s.clock.TickerFunc(ctx, s.interval, func() error {
		s.tick(ctx)
		return nil
	}, "scheduler", "tick")

	err := w.Wait()
	s.logger.Info().Msg("Scheduler stopped")
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// plan computes the first fire instants from now
func (s *Scheduler) plan(now time.Time) {
	local := now.In(s.loc)
	s.nextRollover = s.rollover.Next(local)
	for _, r := range s.reminders {
		r.next = r.schedule.Next(local)
	}
}

// tick runs one scheduler step: accrue, roll over, remind, persist
func (s *Scheduler) tick(ctx context.Context) {
	now := s.clock.Now()
	defer func() {
		metrics.TickDuration.Observe(s.clock.Since(now).Seconds())
	}()

	// 1. Accrue for everyone physically present.
	present, err := s.source.PresentMembers(ctx)
	if err != nil {
		metrics.TicksTotal.WithLabelValues("unreachable").Inc()
		s.logger.Warn().Err(err).Msg("Channel membership unavailable, skipping accrual")
	} else {
		metrics.TicksTotal.WithLabelValues("ok").Inc()
		s.tracker.Tick(now, present)
	}

	// 2. Close the period once the boundary has passed, even if late.
	if !now.Before(s.nextRollover) {
		s.rolloverPeriod(ctx, now, s.nextRollover)
		s.nextRollover = s.rollover.Next(now.In(s.loc))
		s.logger.Debug().Time("next_rollover", s.nextRollover).Msg("Scheduled next rollover")
	}

	// 3. Reminders fire only within one interval of their instant.
	for _, r := range s.reminders {
		if now.Before(r.next) {
			continue
		}
		s.remind(ctx, r, now)
		r.next = r.schedule.Next(now.In(s.loc))
	}

	// 4. Persist unconditionally.
	_ = s.Persist(ctx)

	s.lastTick.Store(s.clock.Now().UnixNano())
	if s.watchdog != nil {
		s.watchdog()
	}
}

// rolloverPeriod closes the period that ended at boundary
func (s *Scheduler) rolloverPeriod(ctx context.Context, now, boundary time.Time) {
	closed := s.tracker.Rollover(now)

	report := storage.PeriodReport{
		Period:   PeriodLabel(boundary, s.loc),
		ClosedAt: now,
		Totals:   make(map[string]int64, len(closed)),
	}
	for member, seconds := range closed {
		report.Totals[string(member)] = seconds
	}

	logger := s.logger.With().Str("period", report.Period).Logger()
	if late := now.Sub(boundary); late >= s.interval {
		logger.Warn().Dur("late", late).Msg("Rollover boundary was missed, firing late")
	}

	if s.reporter != nil {
		if err := s.reporter.Report(ctx, report); err != nil {
			metrics.ReportsTotal.WithLabelValues("failed").Inc()
			logger.Error().Err(err).Msg("Failed to deliver period report")
		} else {
			metrics.ReportsTotal.WithLabelValues("sent").Inc()
		}
	}

	if err := s.store.Reports().Append(ctx, report); err != nil {
		logger.Error().Err(err).Msg("Failed to archive period report")
	}

	if s.retentionDays > 0 {
		cutoff := boundary.In(s.loc).AddDate(0, 0, -s.retentionDays).Format(storage.PeriodLayout)
		deleted, err := s.store.Reports().DeleteBefore(ctx, cutoff)
		if err != nil {
			logger.Error().Err(err).Str("cutoff", cutoff).Msg("Failed to prune archived reports")
		} else if deleted > 0 {
			logger.Info().Int("deleted", deleted).Str("cutoff", cutoff).Msg("Pruned archived reports")
		}
	}

	_ = s.Persist(ctx)

	logger.Info().Int("members", len(report.Totals)).Msg("Period closed")
}

// remind delivers r if now is within one interval of its instant
func (s *Scheduler) remind(ctx context.Context, r *reminderState, now time.Time) {
	logger := s.logger.With().Str("reminder", r.name).Time("scheduled", r.next).Logger()

	if now.Sub(r.next) >= s.interval {
		metrics.RemindersTotal.WithLabelValues(r.name, "skipped").Inc()
		logger.Warn().Dur("late", now.Sub(r.next)).Msg("Reminder instant missed, skipping")
		return
	}

	if s.notifier == nil {
		logger.Info().Str("message", r.message).Msg("Reminder due")
		metrics.RemindersTotal.WithLabelValues(r.name, "sent").Inc()
		return
	}

	err := s.notifier.Notify(ctx, Reminder{Name: r.name, Message: r.message, At: r.next})
	if err != nil {
		metrics.RemindersTotal.WithLabelValues(r.name, "failed").Inc()
		logger.Error().Err(err).Msg("Failed to send reminder")
		return
	}
	metrics.RemindersTotal.WithLabelValues(r.name, "sent").Inc()
	logger.Info().Msg("Reminder sent")
}

// Persist writes the current snapshot. The snapshot is copied under the
// tracker lock and written without it.
func (s *Scheduler) Persist(ctx context.Context) error {
	snapshot := s.tracker.Snapshot()

	start := s.clock.Now()
	err := s.store.Snapshots().Save(ctx, snapshot)
	metrics.SnapshotSaveDuration.Observe(s.clock.Since(start).Seconds())
	if err != nil {
		metrics.SnapshotSaveFailures.Inc()
		s.logger.Error().Err(err).Msg("Failed to save snapshot")
		return err
	}

	s.logger.Debug().
		Int("sessions", len(snapshot.ActiveSessions)).
		Int("period_members", len(snapshot.DailyTotals)).
		Msg("Snapshot saved")
	return nil
}

// Healthy reports an error when no tick has completed for three intervals.
func (s *Scheduler) Healthy() error {
	last := s.lastTick.Load()
	if last == 0 {
		last = s.startedAt.Load()
	}
	if last == 0 {
		return errors.New("scheduler not started")
	}
	since := s.clock.Since(time.Unix(0, last))
	if since > 3*s.interval {
		return fmt.Errorf("no completed tick for %s", since.Truncate(time.Second))
	}
	return nil
}

// PeriodLabel names the period that ends at boundary: the calendar date, in
// loc, of the instant just before it.
func PeriodLabel(boundary time.Time, loc *time.Location) string {
	return boundary.Add(-time.Nanosecond).In(loc).Format(storage.PeriodLayout)
}
