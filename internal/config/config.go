package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Database  DatabaseConfig  `yaml:"database" envconfig:"DATABASE"`
	Licensing LicensingConfig `yaml:"licensing" envconfig:"LICENSING"`
	Security  SecurityConfig  `yaml:"security" envconfig:"SECURITY"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

// DatabaseConfig contains relational store configuration
type DatabaseConfig struct {
	Driver          string        `yaml:"driver" envconfig:"DRIVER"` // postgres | sqlite
	DSN             string        `yaml:"dsn" envconfig:"DSN"`
	MaxOpenConns    int           `yaml:"max_open_conns" envconfig:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" envconfig:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" envconfig:"CONN_MAX_LIFETIME"`
}

// LicensingConfig contains the device/session admission policy knobs.
// MaxOtherDeviceSessions is the number of distinct OTHER physical devices
// that may hold live sessions for a tenant while a new session is created.
// The long-standing production value is 4; an explicit 0 enforces strict
// one-device-at-a-time semantics, which is why the field is a pointer.
type LicensingConfig struct {
	SessionTTL             time.Duration `yaml:"session_ttl" envconfig:"SESSION_TTL"`
	MaxOtherDeviceSessions *int          `yaml:"max_other_device_sessions" envconfig:"MAX_OTHER_DEVICE_SESSIONS"`
	SweepInterval          time.Duration `yaml:"sweep_interval" envconfig:"SWEEP_INTERVAL"`
	DefaultMaxDevices      int           `yaml:"default_max_devices" envconfig:"DEFAULT_MAX_DEVICES"`
}

// OtherDeviceSessionLimit resolves the configured allowance for live
// sessions on other devices, falling back to the historical default.
func (l LicensingConfig) OtherDeviceSessionLimit() int {
	if l.MaxOtherDeviceSessions == nil {
		return 4
	}
	return *l.MaxOtherDeviceSessions
}

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	AdminToken string          `yaml:"admin_token" envconfig:"ADMIN_TOKEN"`
	RateLimit  RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS"`
	Burst   int     `yaml:"burst" envconfig:"BURST"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL"`   // debug|info|warn|error
	Format   string `yaml:"format" envconfig:"FORMAT"` // json|text
	Output   string `yaml:"output" envconfig:"OUTPUT"` // console|file|both
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// TelemetryConfig contains tracing configuration
type TelemetryConfig struct {
	TracingEnabled bool `yaml:"tracing_enabled" envconfig:"TRACING_ENABLED"`
}

// Load loads configuration from an optional YAML file and environment
// variables. Environment variables (prefix SUBGATE) take precedence over
// the file; unset values fall back to defaults.
func Load() (*Config, error) {
	var cfg Config

	configFile := configFilePath()
	if configFile != "" {
		if _, err := os.Stat(configFile); err == nil {
			data, err := os.ReadFile(configFile)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	if err := envconfig.Process("SUBGATE", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func configFilePath() string {
	if path := os.Getenv("SUBGATE_CONFIG_FILE"); path != "" {
		return path
	}
	return "subgate.yml"
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 15 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.DSN == "" && c.Database.Driver == "sqlite" {
		c.Database.DSN = "subgate.db"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = 30 * time.Minute
	}
	if c.Licensing.SessionTTL == 0 {
		c.Licensing.SessionTTL = 24 * time.Hour
	}
	if c.Licensing.SweepInterval == 0 {
		c.Licensing.SweepInterval = time.Hour
	}
	if c.Licensing.DefaultMaxDevices == 0 {
		c.Licensing.DefaultMaxDevices = 1
	}
	if !c.Security.RateLimit.Enabled && c.Security.RateLimit.RPS == 0 {
		c.Security.RateLimit = RateLimitConfig{Enabled: true, RPS: 100, Burst: 50}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "console"
	}
	if c.Logging.FilePath == "" {
		c.Logging.FilePath = "logs/subgate.log"
	}
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("database.dsn must be set for driver %q", c.Database.Driver)
	}
	if c.Licensing.SessionTTL <= 0 {
		return fmt.Errorf("licensing.session_ttl must be positive")
	}
	if c.Licensing.MaxOtherDeviceSessions != nil && *c.Licensing.MaxOtherDeviceSessions < 0 {
		return fmt.Errorf("licensing.max_other_device_sessions must not be negative")
	}
	if c.Licensing.DefaultMaxDevices < 1 {
		return fmt.Errorf("licensing.default_max_devices must be at least 1")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level: %q", c.Logging.Level)
	}
	return nil
}
