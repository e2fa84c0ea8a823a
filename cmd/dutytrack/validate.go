package main

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/fatih/color"
	"github.com/goodtune/dutytrack/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	validateDump bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the dutytrack configuration file for syntax and semantic errors.`,
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateDump, "dump", false, "Dump full configuration with defaults highlighted")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration validation failed: %v\n", err)
		return err
	}

	// Check for unknown keys (always, not just with -dump)
	unknownKeys, err := findUnknownKeys(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "⚠️  Warning: Could not check for unknown keys: %v\n", err)
	}

	_, _ = fmt.Fprintf(os.Stdout, "✅ Configuration is valid: %s\n", configPath)

	if cfg.Discord.Token == "" {
		yellow := color.New(color.FgYellow, color.Bold)
		_, _ = yellow.Fprintln(os.Stdout, "⚠️  discord.token is empty; set it in the file or DUTYTRACK_DISCORD_TOKEN before starting the server")
	}

	// Warn about unknown keys
	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)
		fmt.Fprintln(os.Stdout)
		_, _ = red.Fprintf(os.Stdout, "⚠️  WARNING: Found %d unknown configuration key(s):\n", len(unknownKeys))
		for _, key := range unknownKeys {
			_, _ = red.Fprintf(os.Stdout, "   - %s\n", key)
		}
		fmt.Fprintln(os.Stdout, "\nThese keys will be ignored and may indicate typos or deprecated settings.")
	}

	// If dump requested, show full configuration with defaults highlighted
	if validateDump {
		_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
		_, _ = fmt.Fprintln(os.Stdout, "FULL CONFIGURATION (values different from defaults are highlighted)")
		_, _ = fmt.Fprintln(os.Stdout, strings.Repeat("=", 80))

		dumpConfig(cfg, config.Defaults(), unknownKeys)
	}

	return nil
}

// findUnknownKeys loads the config file and checks for unknown keys
func findUnknownKeys(configPath string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	// Get all keys from the config file
	allKeys := v.AllKeys()

	// Build set of valid keys
	validKeys := getValidKeys()

	// Find unknown keys
	unknown := []string{}
	for _, key := range allKeys {
		if !validKeys[key] {
			unknown = append(unknown, key)
		}
	}

	return unknown, nil
}

// getValidKeys returns a set of all valid configuration keys
func getValidKeys() map[string]bool {
	keys := map[string]bool{
		// Server
		"server.metrics_port": true,
		"server.bind_address": true,

		// Discord
		"discord.token":             true,
		"discord.guild_id":          true,
		"discord.voice_channel_id":  true,
		"discord.report_channel_id": true,
		"discord.mention_user_id":   true,
		"discord.command_prefix":    true,
		"discord.member_cache_size": true,

		// Tracking
		"tracking.tick_interval":         true,
		"tracking.timezone":              true,
		"tracking.rollover_schedule":     true,
		"tracking.report_retention_days": true,

		// Reminders (a list, reported by viper as one key)
		"reminders": true,

		// Storage
		"storage.type":                  true,
		"storage.path":                  true,
		"storage.abort_on_corrupt":      true,
		"storage.redis.host":            true,
		"storage.redis.port":            true,
		"storage.redis.password":        true,
		"storage.redis.db":              true,
		"storage.redis.pool_size":       true,
		"storage.redis.min_idle_conns":  true,
		"storage.redis.dial_timeout":    true,
		"storage.redis.read_timeout":    true,
		"storage.redis.write_timeout":   true,
		"storage.redis.key_prefix":      true,
		"storage.redis.connect_retries": true,

		// Logging
		"logging.level":        true,
		"logging.format":       true,
		"logging.file":         true,
		"logging.max_size_mb":  true,
		"logging.max_backups":  true,
		"logging.max_age_days": true,
	}

	return keys
}

// dumpConfig dumps configuration with color highlighting for non-default values
func dumpConfig(cfg, defaultCfg *config.Config, unknownKeys []string) {
	// Setup colors (only if terminal supports it)
	yellow := color.New(color.FgYellow, color.Bold)
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan, color.Bold)

	// Server
	_, _ = cyan.Println("\n[server]")
	dumpField("  metrics_port", cfg.Server.MetricsPort, defaultCfg.Server.MetricsPort, yellow, green)
	dumpField("  bind_address", cfg.Server.BindAddress, defaultCfg.Server.BindAddress, yellow, green)

	// Discord
	_, _ = cyan.Println("\n[discord]")
	dumpField("  token", redactSecret(cfg.Discord.Token), redactSecret(defaultCfg.Discord.Token), yellow, green)
	dumpField("  guild_id", cfg.Discord.GuildID, defaultCfg.Discord.GuildID, yellow, green)
	dumpField("  voice_channel_id", cfg.Discord.VoiceChannelID, defaultCfg.Discord.VoiceChannelID, yellow, green)
	dumpField("  report_channel_id", cfg.Discord.ReportChannelID, defaultCfg.Discord.ReportChannelID, yellow, green)
	dumpField("  mention_user_id", cfg.Discord.MentionUserID, defaultCfg.Discord.MentionUserID, yellow, green)
	dumpField("  command_prefix", cfg.Discord.CommandPrefix, defaultCfg.Discord.CommandPrefix, yellow, green)
	dumpField("  member_cache_size", cfg.Discord.MemberCacheSize, defaultCfg.Discord.MemberCacheSize, yellow, green)

	// Tracking
	_, _ = cyan.Println("\n[tracking]")
	dumpField("  tick_interval", cfg.Tracking.TickInterval, defaultCfg.Tracking.TickInterval, yellow, green)
	dumpField("  timezone", cfg.Tracking.Timezone, defaultCfg.Tracking.Timezone, yellow, green)
	dumpField("  rollover_schedule", cfg.Tracking.RolloverSchedule, defaultCfg.Tracking.RolloverSchedule, yellow, green)
	dumpField("  report_retention_days", cfg.Tracking.ReportRetentionDays, defaultCfg.Tracking.ReportRetentionDays, yellow, green)

	// Reminders
	_, _ = cyan.Println("\n[reminders]")
	if reflect.DeepEqual(cfg.Reminders, defaultCfg.Reminders) {
		for _, r := range cfg.Reminders {
			_, _ = green.Printf("  - %s: %q %s\n", r.Name, r.Schedule, r.Message)
		}
	} else {
		for _, r := range cfg.Reminders {
			_, _ = yellow.Printf("  - %s: %q %s\n", r.Name, r.Schedule, r.Message)
		}
		_, _ = yellow.Printf("  (modified from default: %d reminder(s))\n", len(defaultCfg.Reminders))
	}

	// Storage
	_, _ = cyan.Println("\n[storage]")
	dumpField("  type", cfg.Storage.Type, defaultCfg.Storage.Type, yellow, green)
	dumpField("  path", cfg.Storage.Path, defaultCfg.Storage.Path, yellow, green)
	dumpField("  abort_on_corrupt", cfg.Storage.AbortOnCorrupt, defaultCfg.Storage.AbortOnCorrupt, yellow, green)
	_, _ = cyan.Println("  [storage.redis]")
	dumpField("    host", cfg.Storage.Redis.Host, defaultCfg.Storage.Redis.Host, yellow, green)
	dumpField("    port", cfg.Storage.Redis.Port, defaultCfg.Storage.Redis.Port, yellow, green)
	dumpField("    password", redactSecret(cfg.Storage.Redis.Password), redactSecret(defaultCfg.Storage.Redis.Password), yellow, green)
	dumpField("    db", cfg.Storage.Redis.DB, defaultCfg.Storage.Redis.DB, yellow, green)
	dumpField("    pool_size", cfg.Storage.Redis.PoolSize, defaultCfg.Storage.Redis.PoolSize, yellow, green)
	dumpField("    min_idle_conns", cfg.Storage.Redis.MinIdleConns, defaultCfg.Storage.Redis.MinIdleConns, yellow, green)
	dumpField("    dial_timeout", cfg.Storage.Redis.DialTimeout, defaultCfg.Storage.Redis.DialTimeout, yellow, green)
	dumpField("    read_timeout", cfg.Storage.Redis.ReadTimeout, defaultCfg.Storage.Redis.ReadTimeout, yellow, green)
	dumpField("    write_timeout", cfg.Storage.Redis.WriteTimeout, defaultCfg.Storage.Redis.WriteTimeout, yellow, green)
	dumpField("    key_prefix", cfg.Storage.Redis.KeyPrefix, defaultCfg.Storage.Redis.KeyPrefix, yellow, green)
	dumpField("    connect_retries", cfg.Storage.Redis.ConnectRetries, defaultCfg.Storage.Redis.ConnectRetries, yellow, green)

	// Logging
	_, _ = cyan.Println("\n[logging]")
	dumpField("  level", cfg.Logging.Level, defaultCfg.Logging.Level, yellow, green)
	dumpField("  format", cfg.Logging.Format, defaultCfg.Logging.Format, yellow, green)
	dumpField("  file", cfg.Logging.File, defaultCfg.Logging.File, yellow, green)
	dumpField("  max_size_mb", cfg.Logging.MaxSizeMB, defaultCfg.Logging.MaxSizeMB, yellow, green)
	dumpField("  max_backups", cfg.Logging.MaxBackups, defaultCfg.Logging.MaxBackups, yellow, green)
	dumpField("  max_age_days", cfg.Logging.MaxAgeDays, defaultCfg.Logging.MaxAgeDays, yellow, green)

	// Display unknown keys if any
	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)

		_, _ = cyan.Println("\n[UNKNOWN KEYS - These will be ignored!]")
		for _, key := range unknownKeys {
			_, _ = red.Printf("  %s = (unknown key - check for typos)\n", key)
		}
	}

	_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
}

// dumpField prints a field with color if it differs from default
func dumpField(name string, value, defaultValue interface{}, modifiedColor, defaultColor *color.Color) {
	// Deep equal comparison
	isDefault := reflect.DeepEqual(value, defaultValue)

	valueStr := fmt.Sprintf("%v", value)

	if isDefault {
		_, _ = defaultColor.Printf("%s = %s\n", name, valueStr)
	} else {
		_, _ = modifiedColor.Printf("%s = %s  (modified from default: %v)\n", name, valueStr, defaultValue)
	}
}

// redactSecret redacts a secret if not empty
func redactSecret(secret string) string {
	if secret == "" {
		return ""
	}
	return "***REDACTED***"
}
