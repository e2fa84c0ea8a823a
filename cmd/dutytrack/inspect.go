package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/dutytrack/internal/config"
	"github.com/goodtune/dutytrack/internal/discord"
	"github.com/goodtune/dutytrack/internal/presence"
	"github.com/goodtune/dutytrack/internal/storage"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	leaderboardLimit int
	reportsPeriod    string
)

var leaderboardCmd = &cobra.Command{
	Use:   "leaderboard",
	Short: "Show all-time standings from the stored snapshot",
	Example: `  dutytrack leaderboard
  dutytrack -c config.yaml leaderboard -n 25`,
	Args: cobra.NoArgs,
	RunE: runLeaderboard,
}

var totalsCmd = &cobra.Command{
	Use:   "totals",
	Short: "Show period totals, lifetime totals and open sessions",
	Args:  cobra.NoArgs,
	RunE:  runTotals,
}

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "List archived period reports",
	Example: `  dutytrack reports
  dutytrack reports --period 2025-03-10`,
	Args: cobra.NoArgs,
	RunE: runReports,
}

func init() {
	leaderboardCmd.Flags().IntVarP(&leaderboardLimit, "limit", "n", 10, "Number of members to show (0 for all)")
	reportsCmd.Flags().StringVar(&reportsPeriod, "period", "", "Show a single period (YYYY-MM-DD)")

	rootCmd.AddCommand(leaderboardCmd)
	rootCmd.AddCommand(totalsCmd)
	rootCmd.AddCommand(reportsCmd)
}

// loadTracker restores a tracker from the configured store
func loadTracker(ctx context.Context) (*presence.Tracker, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	tracker := presence.NewTracker(cfg.Tracking.Interval(), zerolog.Nop())
	snapshot, err := store.Snapshots().Load(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return tracker, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	if err := tracker.Restore(*snapshot); err != nil {
		return nil, err
	}
	return tracker, nil
}

func runLeaderboard(cmd *cobra.Command, args []string) error {
	tracker, err := loadTracker(cmd.Context())
	if err != nil {
		return err
	}
	printStandings(os.Stdout, tracker.Leaderboard(leaderboardLimit))
	return nil
}

func runTotals(cmd *cobra.Command, args []string) error {
	tracker, err := loadTracker(cmd.Context())
	if err != nil {
		return err
	}

	period, lifetime := tracker.Totals()
	printTotals(os.Stdout, period, lifetime, tracker.Sessions(), time.Now())
	return nil
}

func runReports(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	ctx := cmd.Context()
	if reportsPeriod != "" {
		report, err := store.Reports().Get(ctx, reportsPeriod)
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("no report archived for %s", reportsPeriod)
		}
		if err != nil {
			return err
		}
		printReport(os.Stdout, *report)
		return nil
	}

	reports, err := store.Reports().List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list reports: %w", err)
	}
	if len(reports) == 0 {
		_, _ = fmt.Fprintln(os.Stdout, "No archived reports.")
		return nil
	}
	for _, report := range reports {
		printReport(os.Stdout, report)
	}
	return nil
}

func printStandings(w io.Writer, standings []presence.Standing) {
	cyan := color.New(color.FgCyan, color.Bold)
	gold := color.New(color.FgYellow, color.Bold)

	_, _ = cyan.Fprintln(w, "ALL-TIME LEADERBOARD")
	if len(standings) == 0 {
		_, _ = fmt.Fprintln(w, "  (empty)")
		return
	}
	for _, s := range standings {
		line := fmt.Sprintf("  %3d. %-22s %s", s.Rank, s.Member, discord.FormatDuration(s.Seconds))
		if s.Rank <= 3 {
			_, _ = gold.Fprintln(w, line)
			continue
		}
		_, _ = fmt.Fprintln(w, line)
	}
}

func printTotals(w io.Writer, period, lifetime map[presence.MemberID]int64, sessions map[presence.MemberID]time.Time, now time.Time) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen)

	members := make([]presence.MemberID, 0, len(lifetime))
	for member := range lifetime {
		members = append(members, member)
	}
	for member := range period {
		if _, ok := lifetime[member]; !ok {
			members = append(members, member)
		}
	}
	sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })

	_, _ = cyan.Fprintf(w, "%-22s %12s %12s  %s\n", "MEMBER", "PERIOD", "LIFETIME", "SESSION")
	for _, member := range members {
		session := "-"
		if joinedAt, ok := sessions[member]; ok {
			session = "open " + now.Sub(joinedAt).Truncate(time.Second).String()
		}
		line := fmt.Sprintf("%-22s %12s %12s  %s", member,
			discord.FormatDuration(period[member]), discord.FormatDuration(lifetime[member]), session)
		if session != "-" {
			_, _ = green.Fprintln(w, line)
			continue
		}
		_, _ = fmt.Fprintln(w, line)
	}

	// Sessions for members with no totals yet
	for member, joinedAt := range sessions {
		if _, ok := lifetime[member]; ok {
			continue
		}
		if _, ok := period[member]; ok {
			continue
		}
		_, _ = green.Fprintf(w, "%-22s %12s %12s  open %s\n", member, "-", "-", now.Sub(joinedAt).Truncate(time.Second))
	}
}

func printReport(w io.Writer, report storage.PeriodReport) {
	cyan := color.New(color.FgCyan, color.Bold)

	_, _ = cyan.Fprintf(w, "[%s] closed %s\n", report.Period, report.ClosedAt.Format(time.RFC3339))
	totals := make(map[presence.MemberID]int64, len(report.Totals))
	for id, seconds := range report.Totals {
		totals[presence.MemberID(id)] = seconds
	}
	standings := presence.RankTotals(totals, 0)
	if len(standings) == 0 {
		_, _ = fmt.Fprintln(w, "  (no duty recorded)")
		return
	}
	for _, s := range standings {
		_, _ = fmt.Fprintf(w, "  %-22s %s\n", s.Member, discord.FormatDuration(s.Seconds))
	}
}
