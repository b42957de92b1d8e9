package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWritesDefaultFile(t *testing.T) {
	chdir(t, t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, resolved, err := Load(nil, path)
	require.NoError(t, err)
	assert.Equal(t, path, resolved)
	assert.Equal(t, Default().Addr, cfg.Addr)
	assert.Equal(t, Default().Relay, cfg.Relay)

	_, err = os.Stat(path)
	require.NoError(t, err)

	// A second load reads the file that was just written.
	again, _, err := Load(nil, path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Store, again.Store)
	assert.Equal(t, cfg.Auth, again.Auth)
	assert.Equal(t, 30*24*time.Hour, again.Store.RedisTTL)
}

func TestLoadFileAndEnvPrecedence(t *testing.T) {
	chdir(t, t.TempDir())
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
addr: ":9000"
store:
  driver: redis
  redis_url: redis://localhost:6379/0
relay:
  persist_timeout: 2s
  history_limit: 10
auth:
  mode: trust
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("DDRELAY_RELAY_HISTORY_LIMIT", "25")
	t.Setenv("DDRELAY_LIVEKIT_URL", "wss://video.example")

	cfg, _, err := Load(nil, path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, "redis", cfg.Store.Driver)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Store.RedisURL)
	assert.Equal(t, 2*time.Second, cfg.Relay.PersistTimeout)
	assert.Equal(t, 25, cfg.Relay.HistoryLimit)
	assert.Equal(t, 64, cfg.Relay.EventBuffer)
	assert.Equal(t, "trust", cfg.Auth.Mode)
	assert.Equal(t, "wss://video.example", cfg.LiveKit.URL)
	assert.NoError(t, cfg.Validate())
}

func TestLoadRejectsBrokenFile(t *testing.T) {
	chdir(t, t.TempDir())
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("addr: [unclosed"), 0o600))

	_, _, err := Load(nil, path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "token mode needs secret", mutate: func(c *Config) {}, wantErr: true},
		{name: "token mode with secret", mutate: func(c *Config) { c.Auth.JWTSecret = "s" }},
		{name: "trust mode", mutate: func(c *Config) { c.Auth.Mode = "trust" }},
		{name: "unknown driver", mutate: func(c *Config) { c.Auth.Mode = "trust"; c.Store.Driver = "mongo" }, wantErr: true},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Auth.Mode = "trust"; c.Store.Driver = "postgres" }, wantErr: true},
		{name: "unknown auth mode", mutate: func(c *Config) { c.Auth.Mode = "open" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestUpdateFrom(t *testing.T) {
	cfg := Default()
	cfg.UpdateFrom(Config{Addr: ":1", LogLevel: "debug", Store: StoreConfig{Driver: "postgres"}})

	assert.Equal(t, ":1", cfg.Addr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
}

// chdir switches the working directory for the duration of the test.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
