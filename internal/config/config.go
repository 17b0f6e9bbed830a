// Package config provides configuration management using viper.
// It supports loading from YAML files and environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Wager     WagerConfig     `mapstructure:"wager"`
	Penalty   PenaltyConfig   `mapstructure:"penalty"`
	Unlock    UnlockConfig    `mapstructure:"unlock"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// AdminConfig holds admin user configuration.
type AdminConfig struct {
	IDs []int64 `mapstructure:"ids"`
}

// IsAdmin checks if a user ID is in the admin list.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.Admin.IDs {
		if id == userID {
			return true
		}
	}
	return false
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// LedgerConfig holds screen-time ledger configuration.
type LedgerConfig struct {
	DefaultDailyMinutes int           `mapstructure:"default_daily_minutes"`
	DefaultTimezone     string        `mapstructure:"default_timezone"`
	RetryAttempts       int           `mapstructure:"retry_attempts"`
	RetryDelay          time.Duration `mapstructure:"retry_delay"`
}

// WagerConfig holds wager engine configuration.
type WagerConfig struct {
	DefaultExpiry time.Duration `mapstructure:"default_expiry"`
}

// PenaltyConfig holds penalty engine configuration.
type PenaltyConfig struct {
	SocialTaskDue  time.Duration `mapstructure:"social_task_due"`
	ScreenLockDue  time.Duration `mapstructure:"screen_lock_due"`
	EscalationFine int64         `mapstructure:"escalation_fine"`
}

// UnlockConfig holds unlock-request engine configuration.
type UnlockConfig struct {
	RequestExpiry   time.Duration `mapstructure:"request_expiry"`
	PointsPerMinute int64         `mapstructure:"points_per_minute"`
}

// SchedulerConfig holds batch runner configuration.
type SchedulerConfig struct {
	ResetPageSize int           `mapstructure:"reset_page_size"`
	Interval      time.Duration `mapstructure:"interval"`
}

// MetricsConfig holds the metrics/health endpoint configuration.
type MetricsConfig struct {
	Port string `mapstructure:"port"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the config directory.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables use underscore separator and uppercase,
	// e.g. DATABASE_HOST, LEDGER_RETRY_ATTEMPTS
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file not found is acceptable; env vars can provide everything.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "stakekeeper")
	v.SetDefault("database.name", "stakekeeper")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	v.SetDefault("ledger.default_daily_minutes", 180)
	v.SetDefault("ledger.default_timezone", "UTC")
	v.SetDefault("ledger.retry_attempts", 5)
	v.SetDefault("ledger.retry_delay", "50ms")

	v.SetDefault("wager.default_expiry", "24h")

	v.SetDefault("penalty.social_task_due", "48h")
	v.SetDefault("penalty.screen_lock_due", "24h")
	v.SetDefault("penalty.escalation_fine", 50)

	v.SetDefault("unlock.request_expiry", "24h")
	v.SetDefault("unlock.points_per_minute", 10)

	v.SetDefault("scheduler.reset_page_size", 100)
	v.SetDefault("scheduler.interval", "1m")

	v.SetDefault("metrics.port", "9091")
}
