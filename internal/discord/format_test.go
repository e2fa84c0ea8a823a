package discord

import (
	"strings"
	"testing"
	"time"

	"github.com/goodtune/dutytrack/internal/presence"
	"github.com/goodtune/dutytrack/internal/storage"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		seconds int64
		want    string
	}{
		{0, "0h 0m"},
		{59, "0h 0m"},
		{60, "0h 1m"},
		{3600, "1h 0m"},
		{7384, "2h 3m"},
		{-5, "0h 0m"},
	}

	for _, tt := range tests {
		if got := FormatDuration(tt.seconds); got != tt.want {
			t.Errorf("FormatDuration(%d) = %q, want %q", tt.seconds, got, tt.want)
		}
	}
}

func TestFormatReport(t *testing.T) {
	empty := FormatReport(storage.PeriodReport{Period: "2025-03-10", Totals: map[string]int64{}})
	if !strings.Contains(empty, "No one was on duty on 2025-03-10") {
		t.Errorf("Unexpected empty report: %q", empty)
	}

	report := FormatReport(storage.PeriodReport{
		Period:   "2025-03-10",
		ClosedAt: time.Now(),
		Totals:   map[string]int64{"a": 600, "b": 3660},
	})
	lines := strings.Split(report, "\n")
	if len(lines) != 4 {
		t.Fatalf("Expected header, blank and two rows, got %q", report)
	}
	if lines[2] != "• <@b>: 1h 1m" || lines[3] != "• <@a>: 0h 10m" {
		t.Errorf("Expected rows ordered by duration, got %q", lines[2:])
	}
}

func TestFormatLeaderboard(t *testing.T) {
	if got := FormatLeaderboard(nil); !strings.Contains(got, "empty") {
		t.Errorf("Unexpected empty leaderboard: %q", got)
	}

	got := FormatLeaderboard([]presence.Standing{
		{Rank: 1, Member: "a", Seconds: 7200},
		{Rank: 2, Member: "b", Seconds: 60},
	})
	if !strings.Contains(got, "TOP 2") || !strings.Contains(got, "**2. <@b>** 0h 1m") {
		t.Errorf("Unexpected leaderboard: %q", got)
	}
}

func TestExpandReminder(t *testing.T) {
	if got := ExpandReminder("Hey {mention}! Lunch time.", "42"); got != "Hey <@42>! Lunch time." {
		t.Errorf("Unexpected expansion: %q", got)
	}
	if got := ExpandReminder("{mention} Dinner", ""); got != "Dinner" {
		t.Errorf("Expected mention dropped, got %q", got)
	}
}
