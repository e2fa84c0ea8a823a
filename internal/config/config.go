package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server    ServerConfig     `mapstructure:"server"`
	Discord   DiscordConfig    `mapstructure:"discord"`
	Tracking  TrackingConfig   `mapstructure:"tracking"`
	Reminders []ReminderConfig `mapstructure:"reminders"`
	Storage   StorageConfig    `mapstructure:"storage"`
	Logging   LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig defines the metrics listener
type ServerConfig struct {
	MetricsPort int    `mapstructure:"metrics_port"`
	BindAddress string `mapstructure:"bind_address"`
}

// DiscordConfig defines the platform connection and the tracked channel
type DiscordConfig struct {
	Token           string `mapstructure:"token"`
	GuildID         string `mapstructure:"guild_id"`
	VoiceChannelID  string `mapstructure:"voice_channel_id"`
	ReportChannelID string `mapstructure:"report_channel_id"`
	MentionUserID   string `mapstructure:"mention_user_id"` // substituted for {mention} in reminders
	CommandPrefix   string `mapstructure:"command_prefix"`
	MemberCacheSize int    `mapstructure:"member_cache_size"`
}

// TrackingConfig defines accrual cadence and the reporting period
type TrackingConfig struct {
	TickInterval        string `mapstructure:"tick_interval"`
	Timezone            string `mapstructure:"timezone"`
	RolloverSchedule    string `mapstructure:"rollover_schedule"` // 5-field cron expression
	ReportRetentionDays int    `mapstructure:"report_retention_days"`
}

// ReminderConfig defines one scheduled reminder message
type ReminderConfig struct {
	Name     string `mapstructure:"name"`
	Schedule string `mapstructure:"schedule"`
	Message  string `mapstructure:"message"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Path           string      `mapstructure:"path"`
	Type           string      `mapstructure:"type"` // file, bolt or redis
	AbortOnCorrupt bool        `mapstructure:"abort_on_corrupt"`
	Redis          RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Password       string `mapstructure:"password"`
	DB             int    `mapstructure:"db"`
	PoolSize       int    `mapstructure:"pool_size"`
	MinIdleConns   int    `mapstructure:"min_idle_conns"`
	DialTimeout    string `mapstructure:"dial_timeout"`
	ReadTimeout    string `mapstructure:"read_timeout"`
	WriteTimeout   string `mapstructure:"write_timeout"`
	KeyPrefix      string `mapstructure:"key_prefix"`
	ConnectRetries int    `mapstructure:"connect_retries"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"` // empty logs to stderr
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Interval returns the parsed tick interval.
func (c TrackingConfig) Interval() time.Duration {
	d, _ := time.ParseDuration(c.TickInterval)
	return d
}

// Location returns the reporting timezone.
func (c TrackingConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Configure viper
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("DUTYTRACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate config
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.bind_address", "0.0.0.0")

	// Discord defaults. Keys without a default are invisible to Unmarshal,
	// so the identifiers are registered empty for DUTYTRACK_DISCORD_* to apply.
	v.SetDefault("discord.token", "")
	v.SetDefault("discord.guild_id", "")
	v.SetDefault("discord.voice_channel_id", "")
	v.SetDefault("discord.report_channel_id", "")
	v.SetDefault("discord.mention_user_id", "")
	v.SetDefault("discord.command_prefix", "!")
	v.SetDefault("discord.member_cache_size", 512)

	// Tracking defaults
	v.SetDefault("tracking.tick_interval", "1m")
	v.SetDefault("tracking.timezone", "Asia/Manila")
	v.SetDefault("tracking.rollover_schedule", "0 0 * * *")
	v.SetDefault("tracking.report_retention_days", 90)

	// Reminder defaults
	v.SetDefault("reminders", []map[string]string{
		{"name": "lunch", "schedule": "0 12 * * *", "message": "Hey {mention}! Lunch time."},
		{"name": "dinner", "schedule": "0 19 * * *", "message": "Hey {mention}! Dinner time."},
	})

	// Storage defaults
	v.SetDefault("storage.path", "/var/lib/dutytrack/voice_data.json")
	v.SetDefault("storage.type", "file")
	v.SetDefault("storage.abort_on_corrupt", false)
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 1)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")
	v.SetDefault("storage.redis.key_prefix", "dutytrack")
	v.SetDefault("storage.redis.connect_retries", 5)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 28)
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.MetricsPort < 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	interval, err := time.ParseDuration(cfg.Tracking.TickInterval)
	if err != nil {
		return fmt.Errorf("invalid tick_interval: %w", err)
	}
	if interval < time.Second || interval%time.Second != 0 {
		return fmt.Errorf("tick_interval must be a whole number of seconds, got %s", interval)
	}

	if _, err := time.LoadLocation(cfg.Tracking.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", cfg.Tracking.Timezone, err)
	}

	if _, err := cron.ParseStandard(cfg.Tracking.RolloverSchedule); err != nil {
		return fmt.Errorf("invalid rollover_schedule %q: %w", cfg.Tracking.RolloverSchedule, err)
	}

	if cfg.Tracking.ReportRetentionDays < 0 {
		return fmt.Errorf("report_retention_days must not be negative")
	}

	seen := make(map[string]bool, len(cfg.Reminders))
	for i, r := range cfg.Reminders {
		if r.Name == "" {
			return fmt.Errorf("reminder %d: name is required", i)
		}
		if seen[r.Name] {
			return fmt.Errorf("reminder %q: duplicate name", r.Name)
		}
		seen[r.Name] = true
		if _, err := cron.ParseStandard(r.Schedule); err != nil {
			return fmt.Errorf("reminder %q: invalid schedule %q: %w", r.Name, r.Schedule, err)
		}
		if r.Message == "" {
			return fmt.Errorf("reminder %q: message is required", r.Name)
		}
	}

	if cfg.Discord.CommandPrefix == "" {
		cfg.Discord.CommandPrefix = "!"
	}

	switch cfg.Storage.Type {
	case "":
		cfg.Storage.Type = "file"
	case "file", "bolt", "redis":
	default:
		return fmt.Errorf("unknown storage type: %s", cfg.Storage.Type)
	}

	if cfg.Storage.Type != "redis" {
		// Validate storage path
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage path is required")
		}

		// Ensure storage directory exists
		storageDir := filepath.Dir(cfg.Storage.Path)
		if err := os.MkdirAll(storageDir, 0755); err != nil {
			return fmt.Errorf("failed to create storage directory: %w", err)
		}
	}

	switch cfg.Logging.Format {
	case "json", "console", "text":
	default:
		return fmt.Errorf("unknown logging format: %s", cfg.Logging.Format)
	}

	return nil
}

// Defaults returns the configuration produced by defaults alone, without
// reading a file or the environment.
func Defaults() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}
