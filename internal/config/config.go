// Package config provides configuration management for the ingestion pipeline.
// It supports loading configuration from environment variables, a config file,
// and built-in defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/apomarinov/workio/internal/logger"
)

// Config holds all configuration sections for the daemon, reconciler, and
// sweeper. The thin client does not load it.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Daemon    DaemonConfig    `mapstructure:"daemon"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Sweep     SweepConfig     `mapstructure:"sweep"`
	Logging   logger.Config   `mapstructure:"logging"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbName"`
	SSLMode  string `mapstructure:"sslMode"`
	MaxConns int    `mapstructure:"maxConns"`
	MinConns int    `mapstructure:"minConns"`
}

// DaemonConfig holds intake-daemon configuration.
type DaemonConfig struct {
	SocketPath      string `mapstructure:"socketPath"`
	InstallDir      string `mapstructure:"installDir"` // base dir for debounce/, locks/
	ReconcilerPath  string `mapstructure:"reconcilerPath"`
	SweeperPath     string `mapstructure:"sweeperPath"`
	ReadTimeoutSecs int    `mapstructure:"readTimeoutSeconds"`
}

// ReconcileConfig holds reconciler timing configuration.
type ReconcileConfig struct {
	DebounceSeconds   int `mapstructure:"debounceSeconds"`
	LockWaitSeconds   int `mapstructure:"lockWaitSeconds"`
	StaleLockMultiple int `mapstructure:"staleLockMultiple"` // lock considered stale after DebounceSeconds * this
}

// SweepConfig holds sweeper throttle configuration.
type SweepConfig struct {
	DataIntervalSeconds  int `mapstructure:"dataIntervalSeconds"`
	LockIntervalSeconds  int `mapstructure:"lockIntervalSeconds"`
	InactivitySeconds    int `mapstructure:"inactivitySeconds"`
	RowRetentionSeconds  int `mapstructure:"rowRetentionSeconds"`
	LockFileMaxAgeSecond int `mapstructure:"lockFileMaxAgeSeconds"`
}

// DebounceSecondsDuration returns the debounce window as a time.Duration.
func (r ReconcileConfig) DebounceSecondsDuration() time.Duration {
	return time.Duration(r.DebounceSeconds) * time.Second
}

// StaleLockAfter returns the duration after which a lock file is considered stale.
func (r ReconcileConfig) StaleLockAfter() time.Duration {
	return time.Duration(r.DebounceSeconds*r.StaleLockMultiple) * time.Second
}

// LockWaitInterval returns the sleep between lock-acquisition polls.
func (r ReconcileConfig) LockWaitInterval() time.Duration {
	return time.Duration(r.LockWaitSeconds) * time.Second
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "workio")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbName", "workio")
	v.SetDefault("database.sslMode", "disable")
	v.SetDefault("database.maxConns", 10)
	v.SetDefault("database.minConns", 1)

	v.SetDefault("daemon.socketPath", "./daemon.sock")
	v.SetDefault("daemon.installDir", ".")
	v.SetDefault("daemon.reconcilerPath", "")
	v.SetDefault("daemon.sweeperPath", "")
	v.SetDefault("daemon.readTimeoutSeconds", 5)

	v.SetDefault("reconcile.debounceSeconds", 2)
	v.SetDefault("reconcile.lockWaitSeconds", 1)
	v.SetDefault("reconcile.staleLockMultiple", 30)

	v.SetDefault("sweep.dataIntervalSeconds", 7*24*3600)
	v.SetDefault("sweep.lockIntervalSeconds", 3600)
	v.SetDefault("sweep.inactivitySeconds", 5*60)
	v.SetDefault("sweep.rowRetentionSeconds", 7*24*3600)
	v.SetDefault("sweep.lockFileMaxAgeSeconds", 3600)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.output_path", "stdout")
}

func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("WORKIO_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// Load reads configuration from environment variables, config file, and
// defaults. Environment variables use the prefix WORKIO_.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("WORKIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// DATABASE_URL and DEBOUNCE_SECONDS are conventional unprefixed names,
	// so bind them explicitly alongside the WORKIO_ prefix.
	_ = v.BindEnv("database.url", "DATABASE_URL")
	_ = v.BindEnv("reconcile.debounceSeconds", "DEBOUNCE_SECONDS")
	_ = v.BindEnv("logging.level", "WORKIO_LOG_LEVEL")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/workio/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	var errs []string

	if cfg.Database.URL == "" {
		if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
			errs = append(errs, "database.port must be between 1 and 65535")
		}
		if cfg.Database.User == "" {
			errs = append(errs, "database.user is required when database.url is unset")
		}
		if cfg.Database.DBName == "" {
			errs = append(errs, "database.dbName is required when database.url is unset")
		}
	}

	if cfg.Reconcile.DebounceSeconds <= 0 {
		errs = append(errs, "reconcile.debounceSeconds must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// DSN returns the PostgreSQL connection string, preferring the raw URL
// when one is supplied.
func (d *DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}
