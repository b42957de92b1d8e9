package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	envPrefix            = "DDRELAY"
	envConfigDefaultPath = "DDRELAY_CONFIG_DEFAULT_PATH"
	defaultConfigName    = "config.yaml"
)

// Load builds configuration from defaults, optional config file, env vars, and returns the resolved path.
// Precedence: defaults < config file < env vars < caller overrides.
// A .env file in the working directory is loaded first without overriding the real environment.
func Load(logger *zerolog.Logger, explicitPath string) (Config, string, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) && logger != nil {
		logger.Warn().Err(err).Msg("failed to load .env")
	}

	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, cfg)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configPath := resolveConfigPath(explicitPath)
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			if writeErr := writeDefaultConfig(configPath, cfg); writeErr != nil && logger != nil {
				logger.Warn().Err(writeErr).Str("path", configPath).Msg("failed to write default config")
			} else if logger != nil {
				logger.Info().Str("path", configPath).Msg("created default config")
			}
			if readErr := v.ReadInConfig(); readErr != nil && logger != nil {
				logger.Warn().Err(readErr).Str("path", configPath).Msg("failed to read config after writing default")
			}
		} else {
			return cfg, configPath, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, configPath, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, configPath, nil
}

// setDefaults registers every key so env vars are picked up for nested values.
func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("addr", cfg.Addr)
	v.SetDefault("read_header_timeout", cfg.ReadHeaderTimeout)
	v.SetDefault("shutdown_timeout", cfg.ShutdownTimeout)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_format", cfg.LogFormat)

	v.SetDefault("store.driver", cfg.Store.Driver)
	v.SetDefault("store.sqlite_path", cfg.Store.SQLitePath)
	v.SetDefault("store.redis_url", cfg.Store.RedisURL)
	v.SetDefault("store.redis_ttl", cfg.Store.RedisTTL)
	v.SetDefault("store.postgres_dsn", cfg.Store.PostgresDSN)

	v.SetDefault("relay.event_buffer", cfg.Relay.EventBuffer)
	v.SetDefault("relay.room_queue_size", cfg.Relay.RoomQueueSize)
	v.SetDefault("relay.persist_timeout", cfg.Relay.PersistTimeout)
	v.SetDefault("relay.history_limit", cfg.Relay.HistoryLimit)

	v.SetDefault("auth.mode", cfg.Auth.Mode)
	v.SetDefault("auth.jwt_secret", cfg.Auth.JWTSecret)
	v.SetDefault("auth.jwt_issuer", cfg.Auth.JWTIssuer)
	v.SetDefault("auth.jwt_audience", cfg.Auth.JWTAudience)
	v.SetDefault("auth.token_ttl", cfg.Auth.TokenTTL)

	v.SetDefault("ws.message_rate", cfg.WS.MessageRate)
	v.SetDefault("ws.message_burst", cfg.WS.MessageBurst)
	v.SetDefault("ws.max_message_bytes", cfg.WS.MaxMessageBytes)
	v.SetDefault("ws.allowed_origins", cfg.WS.AllowedOrigins)

	v.SetDefault("livekit.url", cfg.LiveKit.URL)
	v.SetDefault("livekit.api_key", cfg.LiveKit.APIKey)
	v.SetDefault("livekit.api_secret", cfg.LiveKit.APISecret)
}

func resolveConfigPath(explicitPath string) string {
	if explicitPath != "" {
		return explicitPath
	}

	if base := os.Getenv(envConfigDefaultPath); base != "" {
		if err := os.MkdirAll(base, 0o755); err == nil {
			return filepath.Join(base, defaultConfigName)
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return defaultConfigName
	}
	return filepath.Join(cwd, defaultConfigName)
}

func writeDefaultConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
