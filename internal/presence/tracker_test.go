package presence

import (
	"errors"
	"testing"
	"time"

	"github.com/goodtune/dutytrack/internal/storage"
	"github.com/rs/zerolog"
)

func at(sec int64) time.Time {
	return time.Unix(sec, 0)
}

func newTestTracker() *Tracker {
	return NewTracker(time.Minute, zerolog.Nop())
}

func TestTrackerJoinTickLeave(t *testing.T) {
	tr := newTestTracker()

	tr.OnJoin("A", at(0))
	tr.Tick(at(60), []MemberID{"A"})

	period, lifetime := tr.Totals()
	if period["A"] != 60 || lifetime["A"] != 60 {
		t.Fatalf("Expected 60/60 after tick, got %d/%d", period["A"], lifetime["A"])
	}
	joinedAt, ok := tr.Session("A")
	if !ok || !joinedAt.Equal(at(0)) {
		t.Fatalf("Expected open session at t=0, got %v (open=%v)", joinedAt, ok)
	}

	// The leave credits the whole span again on top of the tick credit.
	seconds, ok := tr.OnLeave("A", at(90))
	if !ok || seconds != 90 {
		t.Fatalf("Expected 90 seconds credited, got %d (open=%v)", seconds, ok)
	}

	period, lifetime = tr.Totals()
	if period["A"] != 150 {
		t.Errorf("Expected period total 150, got %d", period["A"])
	}
	if lifetime["A"] != 150 {
		t.Errorf("Expected lifetime total 150, got %d", lifetime["A"])
	}
	if _, ok := tr.Session("A"); ok {
		t.Error("Expected session to be closed")
	}
}

func TestTrackerOnJoinIdempotent(t *testing.T) {
	tr := newTestTracker()

	if !tr.OnJoin("A", at(100)) {
		t.Fatal("Expected first join to open a session")
	}
	if tr.OnJoin("A", at(200)) {
		t.Fatal("Expected duplicate join to be a no-op")
	}

	joinedAt, _ := tr.Session("A")
	if !joinedAt.Equal(at(100)) {
		t.Errorf("Expected first writer to win, got %v", joinedAt)
	}
	if len(tr.Sessions()) != 1 {
		t.Errorf("Expected 1 session, got %d", len(tr.Sessions()))
	}
}

func TestTrackerOnLeaveWithoutSession(t *testing.T) {
	tr := newTestTracker()
	tr.OnJoin("B", at(0))
	tr.OnLeave("B", at(30))

	seconds, ok := tr.OnLeave("B", at(60))
	if ok || seconds != 0 {
		t.Fatalf("Expected no-op, got %d (ok=%v)", seconds, ok)
	}
	if _, ok := tr.OnLeave("nobody", at(60)); ok {
		t.Fatal("Expected leave of unknown member to be a no-op")
	}

	period, lifetime := tr.Totals()
	if period["B"] != 30 || lifetime["B"] != 30 {
		t.Errorf("Expected totals unchanged at 30, got %d/%d", period["B"], lifetime["B"])
	}
	if _, exists := period["nobody"]; exists {
		t.Error("Expected no entry for unknown member")
	}
}

func TestTrackerLeaveBeforeJoinClamped(t *testing.T) {
	tr := newTestTracker()
	tr.OnJoin("A", at(1000))

	seconds, ok := tr.OnLeave("A", at(900))
	if !ok {
		t.Fatal("Expected session to be closed")
	}
	if seconds != 0 {
		t.Errorf("Expected clamped credit of 0, got %d", seconds)
	}
}

func TestTrackerJoinTruncatesToSeconds(t *testing.T) {
	tr := newTestTracker()
	tr.OnJoin("A", time.Unix(10, 999_000_000))

	joinedAt, _ := tr.Session("A")
	if !joinedAt.Equal(at(10)) {
		t.Errorf("Expected whole-second join instant, got %v", joinedAt)
	}
}

func TestTrackerTick(t *testing.T) {
	tests := []struct {
		name         string
		sessions     []MemberID
		present      []MemberID
		wantSessions int
		wantPeriod   map[MemberID]int64
	}{
		{
			name:         "empty channel",
			present:      nil,
			wantSessions: 0,
			wantPeriod:   map[MemberID]int64{},
		},
		{
			name:         "heals missing session",
			present:      []MemberID{"A"},
			wantSessions: 1,
			wantPeriod:   map[MemberID]int64{"A": 60},
		},
		{
			name:         "credits only present members",
			sessions:     []MemberID{"A", "B"},
			present:      []MemberID{"B"},
			wantSessions: 2,
			wantPeriod:   map[MemberID]int64{"B": 60},
		},
		{
			name:         "duplicate ids credited once",
			present:      []MemberID{"A", "A", ""},
			wantSessions: 1,
			wantPeriod:   map[MemberID]int64{"A": 60},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTestTracker()
			for _, m := range tt.sessions {
				tr.OnJoin(m, at(0))
			}

			tr.Tick(at(30), tt.present)

			if got := len(tr.Sessions()); got != tt.wantSessions {
				t.Errorf("Expected %d sessions, got %d", tt.wantSessions, got)
			}
			period, _ := tr.Totals()
			if len(period) != len(tt.wantPeriod) {
				t.Fatalf("Expected period %v, got %v", tt.wantPeriod, period)
			}
			for m, want := range tt.wantPeriod {
				if period[m] != want {
					t.Errorf("Expected %s=%d, got %d", m, want, period[m])
				}
			}
		})
	}
}

func TestTrackerTickFullIntervalForNewSession(t *testing.T) {
	tr := NewTracker(30*time.Second, zerolog.Nop())
	tr.OnJoin("A", at(100))

	// Joined one second ago, still credited a whole interval.
	tr.Tick(at(101), []MemberID{"A"})

	period, _ := tr.Totals()
	if period["A"] != 30 {
		t.Errorf("Expected 30, got %d", period["A"])
	}
}

func TestTrackerRollover(t *testing.T) {
	tr := newTestTracker()
	if err := tr.Restore(storage.Snapshot{
		ActiveSessions: map[string]int64{"A": 0},
		DailyTotals:    map[string]int64{"A": 3600},
		AllTimeTotals:  map[string]int64{"A": 7200},
	}); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	closed := tr.Rollover(at(86400))
	if len(closed) != 1 || closed["A"] != 3600 {
		t.Fatalf("Expected {A:3600}, got %v", closed)
	}

	period, lifetime := tr.Totals()
	if len(period) != 0 {
		t.Errorf("Expected empty period totals, got %v", period)
	}
	if lifetime["A"] != 7200 {
		t.Errorf("Expected lifetime unaffected at 7200, got %d", lifetime["A"])
	}
	if _, ok := tr.Session("A"); !ok {
		t.Error("Expected open session to survive rollover")
	}

	// The returned copy is detached from tracker state.
	closed["A"] = 1
	tr.Tick(at(86460), []MemberID{"A"})
	if closed["A"] != 1 {
		t.Error("Expected rollover result to be unaffected by later ticks")
	}
}

func TestTrackerSnapshotRestoreRoundTrip(t *testing.T) {
	tr := newTestTracker()
	tr.OnJoin("A", at(0))
	tr.OnJoin("B", at(10))
	tr.Tick(at(60), []MemberID{"A", "B"})
	tr.OnLeave("B", at(70))
	tr.Rollover(at(80))
	tr.Tick(at(120), []MemberID{"A"})

	snapshot := tr.Snapshot()

	restored := newTestTracker()
	if err := restored.Restore(snapshot); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	wantPeriod, wantLifetime := tr.Totals()
	gotPeriod, gotLifetime := restored.Totals()
	for m, v := range wantPeriod {
		if gotPeriod[m] != v {
			t.Errorf("period[%s]: expected %d, got %d", m, v, gotPeriod[m])
		}
	}
	for m, v := range wantLifetime {
		if gotLifetime[m] != v {
			t.Errorf("lifetime[%s]: expected %d, got %d", m, v, gotLifetime[m])
		}
	}
	if len(gotPeriod) != len(wantPeriod) || len(gotLifetime) != len(wantLifetime) {
		t.Errorf("Member sets differ: %v/%v vs %v/%v", gotPeriod, gotLifetime, wantPeriod, wantLifetime)
	}

	sessions := restored.Sessions()
	if len(sessions) != 1 || !sessions["A"].Equal(at(0)) {
		t.Errorf("Expected only A open since t=0, got %v", sessions)
	}
}

func TestTrackerRestoreRejectsInvalid(t *testing.T) {
	tr := newTestTracker()
	tr.OnJoin("A", at(0))
	tr.Tick(at(60), []MemberID{"A"})

	err := tr.Restore(storage.Snapshot{
		DailyTotals:   map[string]int64{"B": 10},
		AllTimeTotals: map[string]int64{"B": -5},
	})
	if !errors.Is(err, storage.ErrMalformed) {
		t.Fatalf("Expected ErrMalformed, got %v", err)
	}

	// State is untouched.
	period, _ := tr.Totals()
	if period["A"] != 60 || len(period) != 1 {
		t.Errorf("Expected original state, got %v", period)
	}
	if _, ok := tr.Session("A"); !ok {
		t.Error("Expected original session to remain")
	}
}

func TestTrackerLeaderboard(t *testing.T) {
	tr := newTestTracker()
	if err := tr.Restore(storage.Snapshot{
		AllTimeTotals: map[string]int64{"c": 100, "a": 300, "b": 100, "d": 50},
	}); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	top := tr.Leaderboard(3)
	want := []Standing{
		{Rank: 1, Member: "a", Seconds: 300},
		{Rank: 2, Member: "b", Seconds: 100},
		{Rank: 3, Member: "c", Seconds: 100},
	}
	if len(top) != len(want) {
		t.Fatalf("Expected %d standings, got %d", len(want), len(top))
	}
	for i := range want {
		if top[i] != want[i] {
			t.Errorf("standing %d: expected %+v, got %+v", i, want[i], top[i])
		}
	}

	if all := tr.Leaderboard(0); len(all) != 4 {
		t.Errorf("Expected all 4 members, got %d", len(all))
	}
}
