package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	LogFormat         string        `mapstructure:"log_format" yaml:"log_format"`

	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Relay   RelayConfig   `mapstructure:"relay" yaml:"relay"`
	Auth    AuthConfig    `mapstructure:"auth" yaml:"auth"`
	WS      WSConfig      `mapstructure:"ws" yaml:"ws"`
	LiveKit LiveKitConfig `mapstructure:"livekit" yaml:"livekit"`
}

// StoreConfig selects and configures the persistence driver.
type StoreConfig struct {
	Driver      string        `mapstructure:"driver" yaml:"driver"`
	SQLitePath  string        `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	RedisURL    string        `mapstructure:"redis_url" yaml:"redis_url"`
	RedisTTL    time.Duration `mapstructure:"redis_ttl" yaml:"redis_ttl"`
	PostgresDSN string        `mapstructure:"postgres_dsn" yaml:"postgres_dsn"`
}

// RelayConfig tunes the room relay.
type RelayConfig struct {
	EventBuffer    int           `mapstructure:"event_buffer" yaml:"event_buffer"`
	RoomQueueSize  int           `mapstructure:"room_queue_size" yaml:"room_queue_size"`
	PersistTimeout time.Duration `mapstructure:"persist_timeout" yaml:"persist_timeout"`
	HistoryLimit   int           `mapstructure:"history_limit" yaml:"history_limit"`
}

// AuthConfig configures identity validation.
type AuthConfig struct {
	Mode        string        `mapstructure:"mode" yaml:"mode"`
	JWTSecret   string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	TokenTTL    time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`
}

// WSConfig limits websocket clients.
type WSConfig struct {
	MessageRate     float64  `mapstructure:"message_rate" yaml:"message_rate"`
	MessageBurst    int      `mapstructure:"message_burst" yaml:"message_burst"`
	MaxMessageBytes int64    `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	AllowedOrigins  []string `mapstructure:"allowed_origins" yaml:"allowed_origins,omitempty"`
}

// LiveKitConfig holds video credentials. Video is disabled when URL is empty.
type LiveKitConfig struct {
	URL       string `mapstructure:"url" yaml:"url"`
	APIKey    string `mapstructure:"api_key" yaml:"api_key"`
	APISecret string `mapstructure:"api_secret" yaml:"api_secret"`
}

// Enabled reports whether video credentials are configured.
func (c LiveKitConfig) Enabled() bool {
	return c.URL != "" && c.APIKey != "" && c.APISecret != ""
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		LogFormat:         "console",
		Store: StoreConfig{
			Driver:     "sqlite",
			SQLitePath: "consult.db",
			RedisTTL:   30 * 24 * time.Hour,
		},
		Relay: RelayConfig{
			EventBuffer:    64,
			RoomQueueSize:  256,
			PersistTimeout: 5 * time.Second,
			HistoryLimit:   50,
		},
		Auth: AuthConfig{
			Mode:     "token",
			TokenTTL: 24 * time.Hour,
		},
		WS: WSConfig{
			MessageRate:     5,
			MessageBurst:    10,
			MaxMessageBytes: 64 << 10,
		},
	}
}

// UpdateFrom overwrites non-zero top-level values from other config into receiver.
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
	if other.LogFormat != "" {
		c.LogFormat = other.LogFormat
	}
	if other.Store.Driver != "" {
		c.Store.Driver = other.Store.Driver
	}
	if other.Auth.Mode != "" {
		c.Auth.Mode = other.Auth.Mode
	}
}

// Validate checks values that would otherwise fail late at startup.
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("store.sqlite_path is required for sqlite"))
		}
	case "redis":
		if c.Store.RedisURL == "" {
			errs = append(errs, errors.New("store.redis_url is required for redis"))
		}
	case "postgres":
		if c.Store.PostgresDSN == "" {
			errs = append(errs, errors.New("store.postgres_dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}

	switch c.Auth.Mode {
	case "token":
		if c.Auth.JWTSecret == "" {
			errs = append(errs, errors.New("auth.jwt_secret is required in token mode"))
		}
	case "trust":
	default:
		errs = append(errs, fmt.Errorf("unknown auth.mode %q", c.Auth.Mode))
	}

	if c.WS.MessageRate < 0 || c.WS.MessageBurst < 0 {
		errs = append(errs, errors.New("ws rate limits must not be negative"))
	}

	return errors.Join(errs...)
}
