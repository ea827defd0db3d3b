// Package config loads reminderd settings from defaults, an optional
// reminderd.yaml and the environment.
//
// Environment variables use the REMINDERD_ prefix with dots replaced by
// underscores (REMINDERD_SOURCE_KIND, REMINDERD_REMINDER_GRACE). The legacy
// REMINDER_GRACE_MS and REMINDER_TOLERANCE_MS variables still work and win
// over every other source.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/warp/reminder-engine/pipeline"
	"github.com/warp/reminder-engine/reminder"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid configuration")

// Source kinds.
const (
	SourceSQLite   = "sqlite"
	SourcePostgres = "postgres"
	SourceHTTP     = "http"
	SourceMemory   = "memory"
)

// Config holds all configuration values.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Source   SourceConfig   `mapstructure:"source"`
	Reminder ReminderConfig `mapstructure:"reminder"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Refresh  RefreshConfig  `mapstructure:"refresh"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

type SourceConfig struct {
	Kind        string        `mapstructure:"kind"`
	SQLitePath  string        `mapstructure:"sqlite_path"`
	PostgresDSN string        `mapstructure:"postgres_dsn"`
	HTTPBaseURL string        `mapstructure:"http_base_url"`
	HTTPToken   string        `mapstructure:"http_token"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
	HTTPRPS     float64       `mapstructure:"http_rps"`
}

type ReminderConfig struct {
	Grace     time.Duration `mapstructure:"grace"`
	Tolerance time.Duration `mapstructure:"tolerance"`

	// Legacy millisecond overrides, applied only when set.
	GraceMS     int64 `mapstructure:"grace_ms"`
	ToleranceMS int64 `mapstructure:"tolerance_ms"`
}

type PipelineConfig struct {
	KeepLastGood bool `mapstructure:"keep_last_good"`
	CacheSize    int  `mapstructure:"cache_size"`
}

// RefreshConfig drives the background refresher. A zero Interval disables it.
type RefreshConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	AgentID  string        `mapstructure:"agent_id"`
	Status   string        `mapstructure:"status"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetDefaults registers every key so environment overrides apply.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")

	v.SetDefault("source.kind", SourceSQLite)
	v.SetDefault("source.sqlite_path", "./data/reminders.db")
	v.SetDefault("source.postgres_dsn", "")
	v.SetDefault("source.http_base_url", "")
	v.SetDefault("source.http_token", "")
	v.SetDefault("source.http_timeout", 10*time.Second)
	v.SetDefault("source.http_rps", 0)

	v.SetDefault("reminder.grace", reminder.DefaultGrace)
	v.SetDefault("reminder.tolerance", reminder.DefaultTolerance)

	v.SetDefault("pipeline.keep_last_good", false)
	v.SetDefault("pipeline.cache_size", 64)

	v.SetDefault("refresh.interval", time.Duration(0))
	v.SetDefault("refresh.agent_id", "")
	v.SetDefault("refresh.status", string(pipeline.BookingsUpcoming))

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Load reads configuration into a Config. If no config file was set on v,
// reminderd.yaml is looked up in . and ./config; a missing file is fine.
func Load(v *viper.Viper) (Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix("REMINDERD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("reminder.grace_ms", "REMINDER_GRACE_MS")
	_ = v.BindEnv("reminder.tolerance_ms", "REMINDER_TOLERANCE_MS")

	if v.ConfigFileUsed() == "" {
		v.SetConfigName("reminderd")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	// A bound millisecond key wins, including an explicit 0.
	if v.IsSet("reminder.grace_ms") {
		cfg.Reminder.Grace = time.Duration(v.GetInt64("reminder.grace_ms")) * time.Millisecond
	}
	if v.IsSet("reminder.tolerance_ms") {
		cfg.Reminder.Tolerance = time.Duration(v.GetInt64("reminder.tolerance_ms")) * time.Millisecond
	}
	return cfg, nil
}

// Engine returns the reconciliation settings.
func (c Config) Engine() reminder.Config {
	return reminder.Config{Grace: c.Reminder.Grace, Tolerance: c.Reminder.Tolerance}
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	switch c.Source.Kind {
	case SourceSQLite:
		if c.Source.SQLitePath == "" {
			return fmt.Errorf("%w: source.sqlite_path is required", ErrInvalid)
		}
	case SourcePostgres:
		if c.Source.PostgresDSN == "" {
			return fmt.Errorf("%w: source.postgres_dsn is required", ErrInvalid)
		}
	case SourceHTTP:
		if c.Source.HTTPBaseURL == "" {
			return fmt.Errorf("%w: source.http_base_url is required", ErrInvalid)
		}
		if c.Source.HTTPRPS < 0 {
			return fmt.Errorf("%w: source.http_rps must not be negative", ErrInvalid)
		}
	case SourceMemory:
	default:
		return fmt.Errorf("%w: unknown source.kind %q", ErrInvalid, c.Source.Kind)
	}

	if err := c.Engine().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if c.Pipeline.CacheSize < 0 {
		return fmt.Errorf("%w: pipeline.cache_size must not be negative", ErrInvalid)
	}
	if c.Refresh.Interval < 0 {
		return fmt.Errorf("%w: refresh.interval must not be negative", ErrInvalid)
	}
	if _, err := pipeline.ParseBookingStatus(c.Refresh.Status); err != nil {
		return fmt.Errorf("%w: refresh.status: %w", ErrInvalid, err)
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %w", ErrInvalid, err)
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		return fmt.Errorf("%w: log.format must be console or json", ErrInvalid)
	}
	return nil
}
