package config

import (
	"errors"
	"fmt"
	"time"
)

// Database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	LogFormat         string        `mapstructure:"log_format" yaml:"log_format"`

	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	JWT       JWTConfig       `mapstructure:"jwt" yaml:"jwt"`
	WS        WSConfig        `mapstructure:"ws" yaml:"ws"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit" yaml:"ratelimit"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
}

// DatabaseConfig selects and locates the message store.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	Path   string `mapstructure:"path" yaml:"path"`
	DSN    string `mapstructure:"dsn" yaml:"dsn"`
}

// JWTConfig holds token signing settings.
type JWTConfig struct {
	Secret   string        `mapstructure:"secret" yaml:"secret"`
	Issuer   string        `mapstructure:"issuer" yaml:"issuer"`
	Audience string        `mapstructure:"audience" yaml:"audience"`
	TTL      time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// WSConfig tunes WebSocket connections.
type WSConfig struct {
	MaxMessageBytes int64   `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	SendBuffer      int     `mapstructure:"send_buffer" yaml:"send_buffer"`
	RatePerSecond   float64 `mapstructure:"rate_per_second" yaml:"rate_per_second"`
	Burst           int     `mapstructure:"burst" yaml:"burst"`
}

// RateLimitConfig limits REST requests per user. An empty RedisAddr keeps
// counters in process memory.
type RateLimitConfig struct {
	RequestsPerMinute int    `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	RedisAddr         string `mapstructure:"redis_addr" yaml:"redis_addr"`
}

// MetricsConfig toggles the /metrics endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		LogFormat:         "console",
		Database: DatabaseConfig{
			Driver: DriverSQLite,
			Path:   "wiredm.db",
		},
		JWT: JWTConfig{
			Secret:   "change-me",
			Issuer:   "wiredm",
			Audience: "wiredm-clients",
			TTL:      24 * time.Hour,
		},
		WS: WSConfig{
			MaxMessageBytes: 64 << 10,
			SendBuffer:      32,
			RatePerSecond:   10,
			Burst:           20,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 120,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Validate reports configuration that cannot start a server.
func (c *Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			errs = append(errs, errors.New("database.path is required for sqlite"))
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("database.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown database.driver %q", c.Database.Driver))
	}
	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("jwt.secret is required"))
	}
	if c.JWT.TTL <= 0 {
		errs = append(errs, errors.New("jwt.ttl must be positive"))
	}
	if c.WS.SendBuffer <= 0 {
		errs = append(errs, errors.New("ws.send_buffer must be positive"))
	}
	return errors.Join(errs...)
}

// UpdateFrom overwrites non-zero values from other config into receiver.
// Only the settings exposed as CLI flags are considered.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.Database.Driver != "" {
		c.Database.Driver = other.Database.Driver
	}
	if other.Database.Path != "" {
		c.Database.Path = other.Database.Path
	}
	if other.Database.DSN != "" {
		c.Database.DSN = other.Database.DSN
	}
}
