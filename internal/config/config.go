// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/wyatt727/BSTI/api/schemas"
)

// MaxUploadConcurrency caps the worker pool; the platform API throttles
// anything more aggressive.
const MaxUploadConcurrency = 8

// Config is the root configuration for the n2p engine. Field names map to
// viper keys through the mapstructure tags; defaults live in SetDefaults and
// sanity checks in Validate.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger"`
	Platform PlatformConfig `mapstructure:"platform"`
	Uploader UploaderConfig `mapstructure:"uploader"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
}

// LoggerConfig controls the global zap logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"` // "console" or "json".
	AddSource   bool   `mapstructure:"add_source"`
	ServiceName string `mapstructure:"service_name"`
	LogFile     string `mapstructure:"log_file"`
	MaxSizeMB   int    `mapstructure:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age"`
	Compress    bool   `mapstructure:"compress"`
}

// PlatformConfig describes the reporting platform endpoint and the client's
// networking posture toward it.
type PlatformConfig struct {
	BaseURL  string `mapstructure:"base_url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	ClientID string `mapstructure:"client_id"`
	ReportID string `mapstructure:"report_id"`

	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`

	// Rate limiting applies across all workers; the platform throttles
	// aggressively on bursts.
	RateLimitPerSecond float64 `mapstructure:"rate_limit_per_second"`
	RateBurst          int     `mapstructure:"rate_burst"`

	// Retry policy for transient failures.
	MaxAttempts     int           `mapstructure:"max_attempts"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	RetryBackoffMax time.Duration `mapstructure:"retry_backoff_max"`

	// TokenRefreshWindow re-authenticates when the session token would
	// expire within this window.
	TokenRefreshWindow time.Duration `mapstructure:"token_refresh_window"`
}

// UploaderConfig bounds the upload worker pool.
type UploaderConfig struct {
	Concurrency int           `mapstructure:"concurrency"`
	FlawTimeout time.Duration `mapstructure:"flaw_timeout"` // End-to-end budget per flaw.
}

// LedgerConfig selects and parameterizes the upload-record store.
type LedgerConfig struct {
	Backend     string `mapstructure:"backend"` // "file" or "postgres".
	Path        string `mapstructure:"path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

// PipelineConfig carries the consolidation and enrichment knobs.
type PipelineConfig struct {
	CategoryMap   string `mapstructure:"category_map"`
	SeverityFloor string `mapstructure:"severity_floor"`
	NonCore       bool   `mapstructure:"non_core"`
	ScreenshotDir string `mapstructure:"screenshot_dir"`
	RefreshRemote bool   `mapstructure:"refresh_remote"`
}

// SetDefaults seeds viper with the engine's default configuration.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "n2p")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)

	// -- Platform --
	v.SetDefault("platform.request_timeout", "30s")
	v.SetDefault("platform.insecure_skip_verify", false)
	v.SetDefault("platform.rate_limit_per_second", 5.0)
	v.SetDefault("platform.rate_burst", 5)
	v.SetDefault("platform.max_attempts", 3)
	v.SetDefault("platform.retry_backoff", "2s")
	v.SetDefault("platform.retry_backoff_max", "30s")
	v.SetDefault("platform.token_refresh_window", "30s")

	// -- Uploader --
	v.SetDefault("uploader.concurrency", 4)
	v.SetDefault("uploader.flaw_timeout", "2m")

	// -- Ledger --
	v.SetDefault("ledger.backend", "file")
	v.SetDefault("ledger.path", "_processed_findings.json")

	// -- Pipeline --
	v.SetDefault("pipeline.category_map", "N2P_config.json")
	v.SetDefault("pipeline.severity_floor", "Low")
	v.SetDefault("pipeline.non_core", false)
	v.SetDefault("pipeline.screenshot_dir", "")
	v.SetDefault("pipeline.refresh_remote", false)
}

// NewConfigFromViper unmarshals, normalizes and validates the configuration.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Credentials are sensitive; bind them to dedicated env vars so they
	// never need to live in the config file.
	v.BindEnv("platform.username", "N2P_PLATFORM_USERNAME")
	v.BindEnv("platform.password", "N2P_PLATFORM_PASSWORD")
	v.BindEnv("ledger.postgres_dsn", "N2P_LEDGER_DSN")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.Platform.Password == "" {
		cfg.Platform.Password = os.Getenv("N2P_PLATFORM_PASSWORD")
	}

	if err := cfg.normalizePaths(); err != nil {
		return nil, fmt.Errorf("error expanding configured paths: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// normalizePaths expands "~" in user-supplied paths.
func (c *Config) normalizePaths() error {
	for _, p := range []*string{
		&c.Logger.LogFile,
		&c.Ledger.Path,
		&c.Pipeline.CategoryMap,
		&c.Pipeline.ScreenshotDir,
	} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("expanding %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	switch c.Logger.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logger.format must be \"console\" or \"json\", got %q", c.Logger.Format)
	}

	if c.Uploader.Concurrency <= 0 {
		return fmt.Errorf("uploader.concurrency must be a positive integer")
	}
	if c.Uploader.Concurrency > MaxUploadConcurrency {
		return fmt.Errorf("uploader.concurrency must not exceed %d (platform rate limits)", MaxUploadConcurrency)
	}
	if c.Uploader.FlawTimeout <= 0 {
		return fmt.Errorf("uploader.flaw_timeout must be a positive duration")
	}

	if c.Platform.MaxAttempts < 1 {
		return fmt.Errorf("platform.max_attempts must be at least 1")
	}
	if c.Platform.RetryBackoff <= 0 {
		return fmt.Errorf("platform.retry_backoff must be a positive duration")
	}
	if c.Platform.RateLimitPerSecond <= 0 {
		return fmt.Errorf("platform.rate_limit_per_second must be positive")
	}

	switch c.Ledger.Backend {
	case "file":
		if c.Ledger.Path == "" {
			return fmt.Errorf("ledger.path is required for the file backend")
		}
	case "postgres":
		if c.Ledger.PostgresDSN == "" {
			return fmt.Errorf("ledger.postgres_dsn is required for the postgres backend (set N2P_LEDGER_DSN)")
		}
	default:
		return fmt.Errorf("ledger.backend must be \"file\" or \"postgres\", got %q", c.Ledger.Backend)
	}

	if _, err := schemas.ParseSeverity(c.Pipeline.SeverityFloor); err != nil {
		return fmt.Errorf("pipeline.severity_floor: %w", err)
	}
	if c.Pipeline.CategoryMap == "" {
		return fmt.Errorf("pipeline.category_map is required")
	}

	return nil
}

// SeverityFloor returns the parsed severity floor. Validate guarantees it
// parses, so the fallback is never hit on a validated config.
func (c *Config) SeverityFloor() schemas.Severity {
	s, err := schemas.ParseSeverity(c.Pipeline.SeverityFloor)
	if err != nil {
		return schemas.SeverityLow
	}
	return s
}
