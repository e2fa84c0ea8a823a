package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/goodtune/dutytrack/internal/config"
	"github.com/goodtune/dutytrack/internal/discord"
	"github.com/goodtune/dutytrack/internal/metrics"
	"github.com/goodtune/dutytrack/internal/presence"
	"github.com/goodtune/dutytrack/internal/storage"
	boltstore "github.com/goodtune/dutytrack/internal/storage/bolt"
	filestore "github.com/goodtune/dutytrack/internal/storage/file"
	redisstore "github.com/goodtune/dutytrack/internal/storage/redis"
	"github.com/goodtune/dutytrack/internal/systemd"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	guildWait     = 30 * time.Second
	shutdownGrace = 10 * time.Second
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start dutytrack server",
	Long:  `Connect to Discord, restore the last snapshot and start tracking the configured voice channel.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger, rotator := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting dutytrack")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	// Initialize storage
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.Type).
		Str("path", cfg.Storage.Path).
		Msg("Storage initialized")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracker := presence.NewTracker(cfg.Tracking.Interval(), logger)

	// Restore before the gateway delivers any voice events
	recovery, err := presence.RestoreSnapshot(ctx, tracker, store.Snapshots(), presence.RecoverOptions{
		AbortOnCorrupt: cfg.Storage.AbortOnCorrupt,
	}, logger)
	if err != nil {
		return err
	}

	client, err := discord.New(cfg.Discord, tracker, reminderNames(cfg.Reminders), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize discord client: %w", err)
	}
	if err := client.Open(); err != nil {
		return err
	}
	running := false
	defer func() {
		if !running {
			_ = client.Close()
		}
	}()
	if err := client.WaitForGuild(ctx, guildWait); err != nil {
		logger.Warn().Err(err).Msg("Guild not available yet, reconciling without live membership")
	}

	// Seed sessions for members already in the channel
	presence.ReconcileLive(ctx, tracker, client, time.Now(), &recovery, logger)

	scheduler, err := presence.NewScheduler(tracker, client, store, client, client, presence.SchedulerConfig{
		Interval:         cfg.Tracking.Interval(),
		Location:         cfg.Tracking.Location(),
		RolloverSchedule: cfg.Tracking.RolloverSchedule,
		RetentionDays:    cfg.Tracking.ReportRetentionDays,
		Reminders:        reminderSchedules(cfg.Reminders),
		Watchdog: func() {
			if err := systemd.NotifyWatchdog(); err != nil {
				logger.Warn().Err(err).Msg("Failed to send systemd watchdog notification")
			}
		},
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize scheduler: %w", err)
	}

	// Start metrics server
	var metricsServer *metrics.Server
	if cfg.Server.MetricsPort > 0 || sdListeners.Metrics != nil {
		addr := net.JoinHostPort(cfg.Server.BindAddress, strconv.Itoa(cfg.Server.MetricsPort))
		metricsServer = metrics.NewServer(addr, logger)
		if sdListeners.Metrics != nil {
			metricsServer.SetListener(sdListeners.Metrics)
		}
		metricsServer.SetHealthCheck(scheduler.Healthy)
		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	if interval := systemd.WatchdogInterval(); interval > 0 && interval <= cfg.Tracking.Interval() {
		logger.Warn().
			Dur("watchdog", interval).
			Dur("tick_interval", cfg.Tracking.Interval()).
			Msg("systemd watchdog is shorter than the tick interval and will fire")
	}

	running = true
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return scheduler.Run(gctx) })
	g.Go(func() error { return client.Run(gctx) })
	g.Go(func() error { return reopenLogsOnHangup(gctx, rotator, logger) })

	// Notify systemd that we're ready
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	} else {
		logger.Debug().Msg("Sent systemd ready notification")
	}

	logger.Info().Msg("dutytrack started successfully")

	runErr := g.Wait()
	if runErr != nil {
		logger.Error().Err(runErr).Msg("Shutting down after error")
	} else {
		logger.Info().Msg("Shutdown signal received, gracefully stopping...")
	}

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	// Anything accrued since the last tick is saved best-effort.
	if err := scheduler.Persist(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Final snapshot save failed")
	}

	if metricsServer != nil {
		if err := metricsServer.Stop(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Error stopping metrics server")
		}
	}

	logger.Info().Msg("dutytrack stopped")

	return runErr
}

// reopenLogsOnHangup rotates the log file on SIGHUP
func reopenLogsOnHangup(ctx context.Context, rotator *lumberjack.Logger, logger zerolog.Logger) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			if rotator == nil {
				logger.Info().Msg("Received SIGHUP, logging to stderr so nothing to rotate")
				continue
			}
			if err := rotator.Rotate(); err != nil {
				logger.Error().Err(err).Msg("Failed to rotate log file")
				continue
			}
			logger.Info().Msg("Log file rotated")
		}
	}
}

func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "", "file":
		return filestore.Open(cfg.Path)
	case "bolt":
		return boltstore.Open(cfg.Path)
	case "redis":
		return redisstore.Open(cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// setupLogger configures the logger based on configuration. The returned
// rotator is nil when logging to stderr.
func setupLogger(cfg config.LoggingConfig) (zerolog.Logger, *lumberjack.Logger) {
	// Set log level
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var out io.Writer = os.Stderr
	var rotator *lumberjack.Logger
	if cfg.File != "" {
		rotator = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		out = rotator
	}

	// Set output format
	if cfg.Format == "text" || cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, NoColor: rotator != nil}
	}

	return zerolog.New(out).With().Timestamp().Logger(), rotator
}

func reminderNames(reminders []config.ReminderConfig) []string {
	names := make([]string, 0, len(reminders))
	for _, r := range reminders {
		names = append(names, r.Name)
	}
	return names
}

func reminderSchedules(reminders []config.ReminderConfig) []presence.ReminderSchedule {
	out := make([]presence.ReminderSchedule, 0, len(reminders))
	for _, r := range reminders {
		out = append(out, presence.ReminderSchedule{
			Name:     r.Name,
			Schedule: r.Schedule,
			Message:  r.Message,
		})
	}
	return out
}
