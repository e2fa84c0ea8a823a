package discord

import (
	"fmt"
	"sort"
	"strings"

	"github.com/goodtune/dutytrack/internal/presence"
	"github.com/goodtune/dutytrack/internal/storage"
)

// FormatDuration renders whole seconds as "Xh Ym".
func FormatDuration(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%dh %dm", seconds/3600, (seconds%3600)/60)
}

// Mention renders a user mention.
func Mention(id string) string {
	return "<@" + id + ">"
}

// FormatReport renders a closed period, longest duty first.
func FormatReport(report storage.PeriodReport) string {
	if len(report.Totals) == 0 {
		return fmt.Sprintf("📊 No one was on duty on %s.", report.Period)
	}

	totals := make(map[presence.MemberID]int64, len(report.Totals))
	for id, seconds := range report.Totals {
		totals[presence.MemberID(id)] = seconds
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📅 **Daily Duty Report (%s)**\n", report.Period)
	for _, s := range presence.RankTotals(totals, 0) {
		fmt.Fprintf(&b, "\n• %s: %s", Mention(string(s.Member)), FormatDuration(s.Seconds))
	}
	return b.String()
}

// FormatLeaderboard renders lifetime standings.
func FormatLeaderboard(standings []presence.Standing) string {
	if len(standings) == 0 {
		return "📊 The leaderboard is empty."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🏆 **ALL-TIME LEADERBOARD (TOP %d)**\n", len(standings))
	for _, s := range standings {
		fmt.Fprintf(&b, "\n**%d. %s** %s", s.Rank, Mention(string(s.Member)), FormatDuration(s.Seconds))
	}
	return b.String()
}

// ExpandReminder substitutes {mention} in a reminder message.
func ExpandReminder(message, mentionUserID string) string {
	mention := ""
	if mentionUserID != "" {
		mention = Mention(mentionUserID)
	}
	return strings.TrimSpace(strings.ReplaceAll(message, "{mention}", mention))
}

// helpText lists the chat commands.
func helpText(prefix string, reminders []string) string {
	sort.Strings(reminders)

	var b strings.Builder
	b.WriteString("**dutytrack commands**\n")
	fmt.Fprintf(&b, "\n`%sleaderboard`: all-time top 10", prefix)
	fmt.Fprintf(&b, "\n`%shelp`: this message", prefix)
	if len(reminders) > 0 {
		fmt.Fprintf(&b, "\n\nScheduled reminders: %s", strings.Join(reminders, ", "))
	}
	return b.String()
}
