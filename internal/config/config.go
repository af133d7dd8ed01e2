// Package config loads crewgate configuration from a YAML file with
// CREWGATE_ environment overrides.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete crewgate configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Store         StoreConfig         `koanf:"store"`
	Redis         RedisConfig         `koanf:"redis"`
	Gate          GateConfig          `koanf:"gate"`
	Heartbeat     HeartbeatConfig     `koanf:"heartbeat"`
	Scanner       ScannerConfig       `koanf:"scanner"`
	Vetting       VettingConfig       `koanf:"vetting"`
	Patterns      PatternsConfig      `koanf:"patterns"`
	Auth          AuthConfig          `koanf:"auth"`
	Logging       LoggingConfig       `koanf:"logging"`
	Observability ObservabilityConfig `koanf:"observability"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"http_host"`
	Port            int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	RateLimit       float64       `koanf:"rate_limit"` // requests/second per client IP
	RateBurst       int           `koanf:"rate_burst"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StoreConfig selects the durable store.
type StoreConfig struct {
	Driver        string `koanf:"driver"` // memory | mysql
	DSN           Secret `koanf:"dsn"`
	HierarchyFile string `koanf:"hierarchy_file"`
}

// RedisConfig holds the optional redis connection used for heartbeat
// bookkeeping and the security event stream.
type RedisConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     Secret `koanf:"url"`
	Stream  string `koanf:"stream"`
}

// GateConfig identifies the gate agent and the human it serves.
type GateConfig struct {
	AgentID int64 `koanf:"agent_id"`
	HumanID int64 `koanf:"human_id"`
}

// HeartbeatConfig controls the proactive scheduler.
type HeartbeatConfig struct {
	Enabled     bool          `koanf:"enabled"`
	Interval    time.Duration `koanf:"interval"`
	NotifyRate  float64       `koanf:"notify_rate"` // notifications/second
	NotifyBurst int           `koanf:"notify_burst"`
}

// ScannerConfig identifies the security agent running anomaly scans.
type ScannerConfig struct {
	AgentID int64         `koanf:"agent_id"`
	Window  time.Duration `koanf:"window"`
}

// VettingConfig bounds skill vetting input.
type VettingConfig struct {
	MaxContentBytes int `koanf:"max_content_bytes"`
}

// PatternsConfig points at an external pattern table. Empty File uses the
// embedded default table.
type PatternsConfig struct {
	File  string `koanf:"file"`
	Watch bool   `koanf:"watch"`
}

// AuthConfig holds the operator token settings for registry writes.
type AuthConfig struct {
	OperatorSecret Secret        `koanf:"operator_secret"`
	Issuer         string        `koanf:"issuer"`
	TokenTTL       time.Duration `koanf:"token_ttl"`
}

// LoggingConfig is the subset of logging settings exposed to operators.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool   `koanf:"enable_telemetry"`
	ServiceName     string `koanf:"service_name"`
	Endpoint        string `koanf:"endpoint"`
	Protocol        string `koanf:"protocol"`
	Insecure        bool   `koanf:"insecure"`
}

var (
	// ErrInvalidConfig wraps every validation failure.
	ErrInvalidConfig = errors.New("invalid config")
)

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.http_port %d out of range", ErrInvalidConfig, c.Server.Port)
	}
	if c.Server.RateLimit < 0 || c.Server.RateBurst < 0 {
		return fmt.Errorf("%w: server rate limit must not be negative", ErrInvalidConfig)
	}

	switch c.Store.Driver {
	case "memory":
	case "mysql":
		if !c.Store.DSN.IsSet() {
			return fmt.Errorf("%w: store.dsn is required for the mysql driver", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store.driver %q", ErrInvalidConfig, c.Store.Driver)
	}

	if c.Redis.Enabled && !c.Redis.URL.IsSet() {
		return fmt.Errorf("%w: redis.url is required when redis is enabled", ErrInvalidConfig)
	}

	if c.Gate.AgentID <= 0 || c.Gate.HumanID <= 0 {
		return fmt.Errorf("%w: gate.agent_id and gate.human_id are required", ErrInvalidConfig)
	}
	if c.Scanner.AgentID <= 0 {
		return fmt.Errorf("%w: scanner.agent_id is required", ErrInvalidConfig)
	}
	if c.Scanner.Window <= 0 {
		return fmt.Errorf("%w: scanner.window must be positive", ErrInvalidConfig)
	}

	if c.Heartbeat.Enabled && c.Heartbeat.Interval < time.Second {
		return fmt.Errorf("%w: heartbeat.interval must be at least 1s", ErrInvalidConfig)
	}
	if c.Heartbeat.NotifyRate <= 0 || c.Heartbeat.NotifyBurst <= 0 {
		return fmt.Errorf("%w: heartbeat notify rate and burst must be positive", ErrInvalidConfig)
	}

	if c.Vetting.MaxContentBytes <= 0 {
		return fmt.Errorf("%w: vetting.max_content_bytes must be positive", ErrInvalidConfig)
	}

	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unknown logging.level %q", ErrInvalidConfig, c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("%w: logging.format must be json or console", ErrInvalidConfig)
	}

	if c.Observability.EnableTelemetry {
		if c.Observability.Endpoint == "" {
			return fmt.Errorf("%w: observability.endpoint is required when telemetry is enabled", ErrInvalidConfig)
		}
		if c.Observability.Protocol != "grpc" && c.Observability.Protocol != "http/protobuf" {
			return fmt.Errorf("%w: observability.protocol must be grpc or http/protobuf", ErrInvalidConfig)
		}
	}

	return nil
}
