package presence

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/goodtune/dutytrack/internal/metrics"
	"github.com/goodtune/dutytrack/internal/storage"
	"github.com/rs/zerolog"
)

// DefaultTickInterval is the accrual cadence used when none is configured
const DefaultTickInterval = time.Minute

// Tracker owns open sessions and the period and lifetime totals. All methods
// are safe for concurrent use.
type Tracker struct {
	sessions map[MemberID]time.Time // member -> join instant, whole seconds
	period   map[MemberID]int64
	lifetime map[MemberID]int64
	interval time.Duration
	logger   zerolog.Logger
	mu       sync.Mutex
}

// NewTracker creates an empty tracker that credits interval on every tick
func NewTracker(interval time.Duration, logger zerolog.Logger) *Tracker {
	if interval <= 0 {
		interval = DefaultTickInterval
	}

	return &Tracker{
		sessions: make(map[MemberID]time.Time),
		period:   make(map[MemberID]int64),
		lifetime: make(map[MemberID]int64),
		interval: interval,
		logger:   logger.With().Str("component", "presence-tracker").Logger(),
	}
}

// Interval returns the amount credited per tick.
func (t *Tracker) Interval() time.Duration {
	return t.interval
}

// OnJoin opens a session for member unless one is already open. It reports
// whether a session was opened.
func (t *Tracker) OnJoin(member MemberID, now time.Time) bool {
	if member == "" {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.openLocked(member, now) {
		return false
	}
	metrics.SessionEvents.WithLabelValues("join").Inc()

	t.logger.Debug().
		Str("member_id", string(member)).
		Time("joined_at", t.sessions[member]).
		Msg("Session opened")

	return true
}

// OnLeave closes the member's session and credits its duration to both
// totals. It returns the credited seconds and whether a session was open.
func (t *Tracker) OnLeave(member MemberID, now time.Time) (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	joinedAt, ok := t.sessions[member]
	if !ok {
		return 0, false
	}
	delete(t.sessions, member)

	// A clock step backwards must not produce a negative credit.
	seconds := int64(now.Sub(joinedAt) / time.Second)
	if seconds < 0 {
		t.logger.Warn().
			Str("member_id", string(member)).
			Time("joined_at", joinedAt).
			Time("now", now).
			Msg("Leave before join instant, crediting zero")
		seconds = 0
	}

	t.creditLocked(member, seconds)
	metrics.SecondsAccrued.WithLabelValues("leave").Add(float64(seconds))
	metrics.SessionEvents.WithLabelValues("leave").Inc()
	metrics.OpenSessions.Set(float64(len(t.sessions)))

	t.logger.Info().
		Str("member_id", string(member)).
		Int64("seconds", seconds).
		Msg("Session closed")

	return seconds, true
}

// Tick credits one full interval to every present member, opening sessions
// for members that have none. Present is the ground truth from the channel,
// not the session map.
func (t *Tracker) Tick(now time.Time, present []MemberID) {
	credit := int64(t.interval / time.Second)

	t.mu.Lock()
	defer t.mu.Unlock()

	seen := make(map[MemberID]struct{}, len(present))
	healed := 0
	for _, member := range present {
		if member == "" {
			continue
		}
		if _, dup := seen[member]; dup {
			continue
		}
		seen[member] = struct{}{}

		if t.openLocked(member, now) {
			healed++
			metrics.SessionEvents.WithLabelValues("heal").Inc()
			t.logger.Info().
				Str("member_id", string(member)).
				Msg("Opened missing session for present member")
		}
		t.creditLocked(member, credit)
	}

	metrics.SecondsAccrued.WithLabelValues("tick").Add(float64(credit * int64(len(seen))))

	t.logger.Debug().
		Int("present", len(seen)).
		Int("healed", healed).
		Int64("credit", credit).
		Msg("Tick applied")
}

// Rollover returns a copy of the period totals and clears them. Sessions and
// lifetime totals are not touched.
func (t *Tracker) Rollover(now time.Time) map[MemberID]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	closed := t.period
	t.period = make(map[MemberID]int64)
	metrics.RolloversTotal.Inc()

	t.logger.Info().
		Time("at", now).
		Int("members", len(closed)).
		Msg("Period rolled over")

	return closed
}

// Snapshot copies the full state into its persisted form.
func (t *Tracker) Snapshot() storage.Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snapshot := storage.Snapshot{
		ActiveSessions: make(map[string]int64, len(t.sessions)),
		DailyTotals:    make(map[string]int64, len(t.period)),
		AllTimeTotals:  make(map[string]int64, len(t.lifetime)),
	}
	for member, joinedAt := range t.sessions {
		snapshot.ActiveSessions[string(member)] = joinedAt.Unix()
	}
	for member, seconds := range t.period {
		snapshot.DailyTotals[string(member)] = seconds
	}
	for member, seconds := range t.lifetime {
		snapshot.AllTimeTotals[string(member)] = seconds
	}
	return snapshot
}

// Restore replaces the full state with snapshot. The snapshot is validated
// first; on error the tracker is left unchanged.
func (t *Tracker) Restore(snapshot storage.Snapshot) error {
	snapshot.Normalize()
	if err := snapshot.Validate(); err != nil {
		return fmt.Errorf("restore snapshot: %w", err)
	}

	sessions := make(map[MemberID]time.Time, len(snapshot.ActiveSessions))
	for id, joined := range snapshot.ActiveSessions {
		sessions[MemberID(id)] = time.Unix(joined, 0)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.sessions = sessions
	t.period = toMembers(snapshot.DailyTotals)
	t.lifetime = toMembers(snapshot.AllTimeTotals)
	metrics.OpenSessions.Set(float64(len(t.sessions)))

	t.logger.Info().
		Int("sessions", len(t.sessions)).
		Int("period_members", len(t.period)).
		Int("lifetime_members", len(t.lifetime)).
		Msg("Restored state from snapshot")

	return nil
}

// Session returns the join instant of member's open session.
func (t *Tracker) Session(member MemberID) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	joinedAt, ok := t.sessions[member]
	return joinedAt, ok
}

// Sessions returns a copy of the open sessions.
func (t *Tracker) Sessions() map[MemberID]time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[MemberID]time.Time, len(t.sessions))
	for member, joinedAt := range t.sessions {
		out[member] = joinedAt
	}
	return out
}

// Totals returns copies of the period and lifetime totals.
func (t *Tracker) Totals() (period, lifetime map[MemberID]int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return copyTotals(t.period), copyTotals(t.lifetime)
}

// Leaderboard returns the top n lifetime standings. Ties are ordered by
// member id. n <= 0 returns every member.
func (t *Tracker) Leaderboard(n int) []Standing {
	_, lifetime := t.Totals()
	return RankTotals(lifetime, n)
}

// RankTotals orders totals by seconds, highest first, and keeps the top n.
func RankTotals(totals map[MemberID]int64, n int) []Standing {
	standings := make([]Standing, 0, len(totals))
	for member, seconds := range totals {
		standings = append(standings, Standing{Member: member, Seconds: seconds})
	}
	sort.Slice(standings, func(i, j int) bool {
		if standings[i].Seconds != standings[j].Seconds {
			return standings[i].Seconds > standings[j].Seconds
		}
		return standings[i].Member < standings[j].Member
	})
	if n > 0 && len(standings) > n {
		standings = standings[:n]
	}
	for i := range standings {
		standings[i].Rank = i + 1
	}
	return standings
}

// discard drops member's session without crediting it.
func (t *Tracker) discard(member MemberID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.sessions[member]; !ok {
		return false
	}
	delete(t.sessions, member)
	metrics.SessionEvents.WithLabelValues("discard").Inc()
	metrics.OpenSessions.Set(float64(len(t.sessions)))
	return true
}

// seed adds zero totals for member where none exist yet.
func (t *Tracker) seed(member MemberID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.period[member]; !ok {
		t.period[member] = 0
	}
	if _, ok := t.lifetime[member]; !ok {
		t.lifetime[member] = 0
	}
}

// openLocked opens a session at now truncated to whole seconds (must be
// called with lock held)
func (t *Tracker) openLocked(member MemberID, now time.Time) bool {
	if _, ok := t.sessions[member]; ok {
		return false
	}
	t.sessions[member] = time.Unix(now.Unix(), 0)
	metrics.OpenSessions.Set(float64(len(t.sessions)))
	return true
}

// creditLocked adds seconds to both totals (must be called with lock held)
func (t *Tracker) creditLocked(member MemberID, seconds int64) {
	t.period[member] += seconds
	t.lifetime[member] += seconds
}

func toMembers(in map[string]int64) map[MemberID]int64 {
	out := make(map[MemberID]int64, len(in))
	for id, seconds := range in {
		out[MemberID(id)] = seconds
	}
	return out
}

func copyTotals(in map[MemberID]int64) map[MemberID]int64 {
	out := make(map[MemberID]int64, len(in))
	for member, seconds := range in {
		out[member] = seconds
	}
	return out
}
