package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JordyChamba/feedsync/pkg/constants"
	"github.com/JordyChamba/feedsync/pkg/realtime"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, constants.DefaultPageSize, cfg.Feed.PageSize)
	assert.Equal(t, realtime.ConstantBackoff(constants.DefaultReconnectDelay), cfg.Realtime.Backoff())
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "feedsync.toml", `
[api]
base_url = "https://social.example.com/api"
timeout = "10s"

[realtime]
url = "wss://social.example.com/ws"
reconnect_delay = "2s"
backoff_multiplier = 2.0
max_reconnect_delay = "30s"

[feed]
page_size = 25
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "https://social.example.com/api", cfg.API.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.API.Timeout)
	assert.Equal(t, 2*time.Second, cfg.Realtime.ReconnectDelay)
	assert.Equal(t, 25, cfg.Feed.PageSize)
	// untouched keys keep their defaults
	assert.Equal(t, constants.DefaultEventBufferSize, cfg.Realtime.EventBufferSize)

	b := cfg.Realtime.Backoff()
	assert.Equal(t, 2*time.Second, b.Delay(1))
	assert.Equal(t, 8*time.Second, b.Delay(3))
	assert.Equal(t, 30*time.Second, b.Delay(10))
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "feedsync.yaml", `
realtime:
  url: ws://127.0.0.1:9000/ws
  heartbeat_send: 2s
  heartbeat_receive: 0s
log:
  level: debug
  format: json
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "ws://127.0.0.1:9000/ws", cfg.Realtime.URL)
	hb := cfg.Realtime.HeartBeat()
	assert.Equal(t, 2*time.Second, hb.Send)
	assert.Zero(t, hb.Receive)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, LogFormatJSON, cfg.Log.Format)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)

	_, err = Load(writeFile(t, "feedsync.ini", "a=b"))
	require.Error(t, err)

	_, err = Load(writeFile(t, "feedsync.toml", "[api\nbase_url="))
	require.Error(t, err)
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("FEEDSYNC_API_URL", "http://10.0.0.1:8080/api")
	t.Setenv("FEEDSYNC_RECONNECT_DELAY", "750ms")
	t.Setenv("FEEDSYNC_PAGE_SIZE", "40")
	t.Setenv("FEEDSYNC_LOG_LEVEL", "")

	cfg := Default()
	require.NoError(t, cfg.ApplyEnvOverrides())
	assert.Equal(t, "http://10.0.0.1:8080/api", cfg.API.BaseURL)
	assert.Equal(t, 750*time.Millisecond, cfg.Realtime.ReconnectDelay)
	assert.Equal(t, 40, cfg.Feed.PageSize)
	assert.Equal(t, "info", cfg.Log.Level, "empty variables are ignored")

	t.Setenv("FEEDSYNC_PAGE_SIZE", "many")
	t.Setenv("FEEDSYNC_RECONNECT_DELAY", "soon")
	err := cfg.ApplyEnvOverrides()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FEEDSYNC_PAGE_SIZE")
	assert.Contains(t, err.Error(), "FEEDSYNC_RECONNECT_DELAY")
	assert.Equal(t, 40, cfg.Feed.PageSize)
}

func TestValidate(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"api scheme":        func(c *Config) { c.API.BaseURL = "ftp://host/api" },
		"realtime scheme":   func(c *Config) { c.Realtime.URL = "http://host/ws" },
		"zero delay":        func(c *Config) { c.Realtime.ReconnectDelay = 0 },
		"low multiplier":    func(c *Config) { c.Realtime.BackoffMultiplier = 0.5 },
		"cap below delay":   func(c *Config) { c.Realtime.MaxReconnectDelay = time.Millisecond },
		"zero buffer":       func(c *Config) { c.Realtime.EventBufferSize = 0 },
		"zero page":         func(c *Config) { c.Feed.PageSize = 0 },
		"no credentials":    func(c *Config) { c.Credentials.Path = "" },
		"unknown logformat": func(c *Config) { c.Log.Format = "xml" },
	} {
		cfg := Default()
		mutate(&cfg)
		err := cfg.Validate()
		assert.ErrorIs(t, err, constants.ErrValidation, name)
	}
}

func TestValidateMissingBaseURL(t *testing.T) {
	cfg := Default()
	cfg.API.BaseURL = ""
	err := cfg.Validate()
	require.ErrorIs(t, err, constants.ErrValidation)
	require.ErrorIs(t, err, constants.ErrNoBaseURL)
	assert.NotContains(t, err.Error(), "must be an http(s) url")
}
