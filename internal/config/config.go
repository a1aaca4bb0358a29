// Package config loads and validates reelwatch configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	DB        DBConfig        `mapstructure:"db"`
	Source    SourceConfig    `mapstructure:"source"`
	Snapshot  SnapshotConfig  `mapstructure:"snapshot"`
	Lifecycle LifecycleConfig `mapstructure:"lifecycle"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Project   ProjectConfig   `mapstructure:"project"`
}

// DBConfig controls access to the Postgres store.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// SourceConfig governs the content-source client and its request budget.
type SourceConfig struct {
	RequestsPerHour int     `mapstructure:"requests_per_hour"`
	JitterMinMs     int     `mapstructure:"jitter_min_ms"`
	JitterMaxMs     int     `mapstructure:"jitter_max_ms"`
	PauseChance     float64 `mapstructure:"pause_chance"`
	PauseMinSec     int     `mapstructure:"pause_min_seconds"`
	PauseMaxSec     int     `mapstructure:"pause_max_seconds"`
	TimeoutSeconds  int     `mapstructure:"timeout_seconds"`
	UserAgent       string  `mapstructure:"user_agent"`
	AppID           string  `mapstructure:"app_id"`
}

// SnapshotConfig sets the snapshot admission policy and retention.
type SnapshotConfig struct {
	Retention        int   `mapstructure:"retention"`
	MinViewDelta     int64 `mapstructure:"min_view_delta"`
	MaxIntervalHours int   `mapstructure:"max_interval_hours"`
}

// LifecycleConfig sets reconciliation and pruning thresholds.
type LifecycleConfig struct {
	MissingThreshold int     `mapstructure:"missing_threshold"`
	HardStaleHours   int     `mapstructure:"hard_stale_hours"`
	InactiveHours    int     `mapstructure:"inactive_hours"`
	MinViewsPerHour  float64 `mapstructure:"min_views_per_hour"`
	MaxAgeDays       int     `mapstructure:"max_age_days"`
	MinTotalViews    int64   `mapstructure:"min_total_views"`
}

// SchedulerConfig sets the two loop cadences.
type SchedulerConfig struct {
	MonitorIntervalMinutes  int `mapstructure:"monitor_interval_minutes"`
	DeliveryIntervalMinutes int `mapstructure:"delivery_interval_minutes"`
}

// TelegramConfig configures the notification channel.
type TelegramConfig struct {
	Token          string `mapstructure:"token"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// ServerConfig controls the scheduler's admin/metrics HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// ProjectConfig optionally pins all jobs to a single project.
type ProjectConfig struct {
	ID string `mapstructure:"id"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("REELWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Keys with no meaningful default still need to be registered, or
	// AutomaticEnv values never reach Unmarshal.
	v.SetDefault("db.dsn", "")
	v.SetDefault("telegram.token", "")
	v.SetDefault("project.id", "")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("source.requests_per_hour", 140)
	v.SetDefault("source.jitter_min_ms", 1500)
	v.SetDefault("source.jitter_max_ms", 3000)
	v.SetDefault("source.pause_chance", 0.05)
	v.SetDefault("source.pause_min_seconds", 20)
	v.SetDefault("source.pause_max_seconds", 45)
	v.SetDefault("source.timeout_seconds", 10)
	v.SetDefault("source.user_agent", defaultUserAgent)
	v.SetDefault("source.app_id", defaultAppID)
	v.SetDefault("snapshot.retention", 6)
	v.SetDefault("snapshot.min_view_delta", 20)
	v.SetDefault("snapshot.max_interval_hours", 6)
	v.SetDefault("lifecycle.missing_threshold", 3)
	v.SetDefault("lifecycle.hard_stale_hours", 72)
	v.SetDefault("lifecycle.inactive_hours", 48)
	v.SetDefault("lifecycle.min_views_per_hour", 5)
	v.SetDefault("lifecycle.max_age_days", 5)
	v.SetDefault("lifecycle.min_total_views", 100)
	v.SetDefault("scheduler.monitor_interval_minutes", 180)
	v.SetDefault("scheduler.delivery_interval_minutes", 60)
	v.SetDefault("telegram.timeout_seconds", 10)
	v.SetDefault("server.port", 9190)
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required")
	}
	if c.Source.RequestsPerHour <= 0 {
		return fmt.Errorf("source.requests_per_hour must be > 0")
	}
	if c.Source.JitterMaxMs < c.Source.JitterMinMs {
		return fmt.Errorf("source.jitter_max_ms must be >= source.jitter_min_ms")
	}
	if c.Source.PauseChance < 0 || c.Source.PauseChance > 1 {
		return fmt.Errorf("source.pause_chance must be in [0,1]")
	}
	if c.Snapshot.Retention <= 0 {
		return fmt.Errorf("snapshot.retention must be > 0")
	}
	if c.Snapshot.MaxIntervalHours <= 0 {
		return fmt.Errorf("snapshot.max_interval_hours must be > 0")
	}
	if c.Lifecycle.MissingThreshold <= 0 {
		return fmt.Errorf("lifecycle.missing_threshold must be > 0")
	}
	if c.Scheduler.MonitorIntervalMinutes <= 0 || c.Scheduler.DeliveryIntervalMinutes <= 0 {
		return fmt.Errorf("scheduler intervals must be > 0")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	return nil
}

// MonitorInterval returns the monitor loop cadence as a duration.
func (c Config) MonitorInterval() time.Duration {
	return time.Duration(c.Scheduler.MonitorIntervalMinutes) * time.Minute
}

// DeliveryInterval returns the delivery loop cadence as a duration.
func (c Config) DeliveryInterval() time.Duration {
	return time.Duration(c.Scheduler.DeliveryIntervalMinutes) * time.Minute
}

// The mobile web profile endpoint rejects requests without a browser-looking
// user agent and the public web app id.
const (
	defaultUserAgent = "Mozilla/5.0 (Linux; Android 9; GM1903 Build/PKQ1.190110.001; wv) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) Version/4.0 Chrome/75.0.3770.143 Mobile Safari/537.36 " +
		"Instagram 103.1.0.15.119 Android (28/9; 420dpi; 1080x2260; OnePlus; GM1903; OnePlus7; qcom; sv_SE; 164094539)"
	defaultAppID = "936619743392459"
)
