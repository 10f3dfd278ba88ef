// Package config handles loading and validating fluentgate configuration.
// Every limit here is operator-controlled; nothing in this package is ever
// derived from request content.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for fluentgate.
type Config struct {
	ListenAddr      string                `json:"listen_addr,omitempty" yaml:"listen_addr,omitempty"`             // Default: ":8080".
	MaxRequestBytes int64                 `json:"max_request_bytes,omitempty" yaml:"max_request_bytes,omitempty"` // HTTP body cap. Default: 10 MB.
	EnableDocs      bool                  `json:"enable_docs,omitempty" yaml:"enable_docs,omitempty"`             // Serve OpenAPI docs.
	Engine          EngineConfig          `json:"engine" yaml:"engine"`
	Staging         StagingConfig         `json:"staging" yaml:"staging"`
	RateLimit       RateLimitConfig       `json:"rate_limit" yaml:"rate_limit"`
	Audit           *AuditConfig          `json:"audit,omitempty" yaml:"audit,omitempty"`                 // nil = auditing disabled.
	Observability   *ObservabilityConfig  `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled.
}

// EngineConfig describes the external engine binary and its allow-list.
type EngineConfig struct {
	Binary         string   `json:"binary,omitempty" yaml:"binary,omitempty"`                     // Default: "fluent".
	Allowed        []string `json:"allowed,omitempty" yaml:"allowed,omitempty"`                   // Engine identifiers. Default: openai, anthropic, google, cohere, mistral.
	TimeoutSeconds int      `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`   // Hard wall-clock cap. Default: 60.
	WorkDir        string   `json:"work_dir,omitempty" yaml:"work_dir,omitempty"`                 // Fixed working directory. Empty = private temp dir.
	MaxOutputBytes int      `json:"max_output_bytes,omitempty" yaml:"max_output_bytes,omitempty"` // Per-stream capture cap. Default: 1 MB.
	MaxStderrChars int      `json:"max_stderr_chars,omitempty" yaml:"max_stderr_chars,omitempty"` // Redacted diagnostic cap. Default: 500.

	Docker *DockerEngineConfig `json:"docker,omitempty" yaml:"docker,omitempty"` // Non-nil = run the engine in ephemeral containers.
}

// DockerEngineConfig selects the container-based executor. The image must
// carry the engine binary on its PATH.
type DockerEngineConfig struct {
	Image          string  `json:"image,omitempty" yaml:"image,omitempty"`
	MemoryMB       int     `json:"memory_mb,omitempty" yaml:"memory_mb,omitempty"`
	CPUCores       float64 `json:"cpu_cores,omitempty" yaml:"cpu_cores,omitempty"`
	PIDsLimit      int     `json:"pids_limit,omitempty" yaml:"pids_limit,omitempty"`
	DisableNetwork bool    `json:"disable_network,omitempty" yaml:"disable_network,omitempty"`
}

// BinaryName returns the engine binary, defaulting to "fluent".
func (e EngineConfig) BinaryName() string {
	if e.Binary != "" {
		return e.Binary
	}
	return "fluent"
}

// AllowedEngines returns the engine allow-list with its default.
func (e EngineConfig) AllowedEngines() []string {
	if len(e.Allowed) > 0 {
		return e.Allowed
	}
	return []string{"openai", "anthropic", "google", "cohere", "mistral"}
}

// Timeout returns the execution timeout, defaulting to 60s.
func (e EngineConfig) Timeout() time.Duration {
	if e.TimeoutSeconds > 0 {
		return time.Duration(e.TimeoutSeconds) * time.Second
	}
	return 60 * time.Second
}

// StagingConfig configures the staged-file subsystem.
type StagingConfig struct {
	Dir                string   `json:"dir,omitempty" yaml:"dir,omitempty"`                                     // Default: <tmp>/fluentgate.
	AllowedExtensions  []string `json:"allowed_extensions,omitempty" yaml:"allowed_extensions,omitempty"`       // Default: .json .yaml .yml .txt.
	MaxContentBytes    int      `json:"max_content_bytes,omitempty" yaml:"max_content_bytes,omitempty"`         // Per-file cap. Default: 10 MB.
	StaleSweepSchedule string   `json:"stale_sweep_schedule,omitempty" yaml:"stale_sweep_schedule,omitempty"`   // Cron spec. Default: "@every 10m".
	StaleMaxAgeMinutes int      `json:"stale_max_age_minutes,omitempty" yaml:"stale_max_age_minutes,omitempty"` // Default: 30.
}

// SweepSchedule returns the cron spec for the stale-file sweep.
func (s StagingConfig) SweepSchedule() string {
	if s.StaleSweepSchedule != "" {
		return s.StaleSweepSchedule
	}
	return "@every 10m"
}

// StaleMaxAge returns the age after which an unreleased staged file is
// considered leaked.
func (s StagingConfig) StaleMaxAge() time.Duration {
	if s.StaleMaxAgeMinutes > 0 {
		return time.Duration(s.StaleMaxAgeMinutes) * time.Minute
	}
	return 30 * time.Minute
}

// RateLimitConfig configures per-client admission control.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"` // 0 = unlimited.
	WindowSeconds     int `json:"window_seconds,omitempty" yaml:"window_seconds,omitempty"`
}

// Window returns the sliding-window duration, defaulting to 60s.
func (r RateLimitConfig) Window() time.Duration {
	if r.WindowSeconds > 0 {
		return time.Duration(r.WindowSeconds) * time.Second
	}
	return time.Minute
}

// AuditConfig configures the job-record store.
// When nil, auditing is disabled.
type AuditConfig struct {
	Driver   string               `json:"driver,omitempty" yaml:"driver,omitempty"` // "sqlite" (default) or "postgres".
	SQLite   *SQLiteAuditConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`
	Postgres *PostgresAuditConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"`
}

// AuditDriver returns the configured driver, defaulting to "sqlite".
func (a *AuditConfig) AuditDriver() string {
	if a != nil && a.Driver != "" {
		return a.Driver
	}
	return "sqlite"
}

// SQLiteAuditConfig holds SQLite-specific settings.
type SQLiteAuditConfig struct {
	Path        string `json:"path,omitempty" yaml:"path,omitempty"` // Default: <tmp>/fluentgate/audit.db.
	JournalMode string `json:"journal_mode,omitempty" yaml:"journal_mode,omitempty"`
}

// PostgresAuditConfig holds PostgreSQL-specific settings.
type PostgresAuditConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"`
	MaxOpenConns     int    `json:"max_open_conns,omitempty" yaml:"max_open_conns,omitempty"`
	MaxIdleConns     int    `json:"max_idle_conns,omitempty" yaml:"max_idle_conns,omitempty"`
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s,omitempty" yaml:"conn_max_lifetime_s,omitempty"`
}

// ObservabilityConfig configures metrics, tracing, and health checks.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path,omitempty" yaml:"path,omitempty"` // Default: "/metrics".
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317".
	Protocol    string  `json:"protocol,omitempty" yaml:"protocol,omitempty"`       // "grpc" or "http". Default: "grpc".
	ServiceName string  `json:"service_name,omitempty" yaml:"service_name,omitempty"` // Default: "fluentgate".
	SampleRate  float64 `json:"sample_rate,omitempty" yaml:"sample_rate,omitempty"`   // 0.0–1.0. Default: 1.0.
	Insecure    bool    `json:"insecure,omitempty" yaml:"insecure,omitempty"`         // Skip TLS for dev.
}

// Default returns the configuration used when no config file is given.
func Default() *Config {
	return &Config{
		ListenAddr: ":8080",
		RateLimit:  RateLimitConfig{RequestsPerMinute: 30},
	}
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything
// else for JSON. An empty path yields the defaults. Environment variables
// take precedence over file values.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		switch ext := strings.ToLower(filepath.Ext(path)); ext {
		case ".yml", ".yaml":
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing YAML config %s: %w", path, err)
			}
		default:
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing JSON config %s: %w", path, err)
			}
		}
	}

	// Environment variable overrides.
	if v := os.Getenv("FLUENTGATE_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("FLUENTGATE_ENGINE_BINARY"); v != "" {
		cfg.Engine.Binary = v
	}
	if v := os.Getenv("FLUENTGATE_STAGING_DIR"); v != "" {
		cfg.Staging.Dir = v
	}
	if v := os.Getenv("FLUENTGATE_AUDIT_DSN"); v != "" {
		if cfg.Audit == nil {
			cfg.Audit = &AuditConfig{}
		}
		cfg.Audit.Driver = "postgres"
		if cfg.Audit.Postgres == nil {
			cfg.Audit.Postgres = &PostgresAuditConfig{}
		}
		cfg.Audit.Postgres.DSN = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the gateway cannot start with.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if strings.ContainsAny(c.Engine.BinaryName(), " \t") {
		return fmt.Errorf("engine.binary must be a single program name")
	}
	if len(c.Engine.AllowedEngines()) == 0 {
		return fmt.Errorf("engine.allowed must not be empty")
	}
	if c.Engine.TimeoutSeconds < 0 {
		return fmt.Errorf("engine.timeout_seconds must not be negative")
	}
	if c.RateLimit.RequestsPerMinute < 0 {
		return fmt.Errorf("rate_limit.requests_per_minute must not be negative")
	}
	if c.Audit != nil {
		switch c.Audit.AuditDriver() {
		case "sqlite", "postgres":
		default:
			return fmt.Errorf("audit.driver must be sqlite or postgres, got %q", c.Audit.Driver)
		}
	}
	return nil
}

// MaxBodyBytes returns the HTTP request body cap, defaulting to 10 MB.
func (c *Config) MaxBodyBytes() int64 {
	if c.MaxRequestBytes > 0 {
		return c.MaxRequestBytes
	}
	return 10 << 20
}
