// Package config loads the client settings from a TOML or YAML file and the
// FEEDSYNC_* environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/JordyChamba/feedsync/pkg/constants"
	"github.com/JordyChamba/feedsync/pkg/realtime"
	"github.com/JordyChamba/feedsync/pkg/realtime/stomp"
)

type Config struct {
	API         API         `toml:"api" yaml:"api"`
	Realtime    Realtime    `toml:"realtime" yaml:"realtime"`
	Feed        Feed        `toml:"feed" yaml:"feed"`
	Credentials Credentials `toml:"credentials" yaml:"credentials"`
	Log         Log         `toml:"log" yaml:"log"`
}

type API struct {
	BaseURL string        `toml:"base_url" yaml:"base_url"`
	Timeout time.Duration `toml:"timeout" yaml:"timeout"`
}

type Realtime struct {
	URL string `toml:"url" yaml:"url"`
	// ReconnectDelay is the first wait after a lost connection. With a
	// BackoffMultiplier above 1 later waits grow up to MaxReconnectDelay.
	ReconnectDelay    time.Duration `toml:"reconnect_delay" yaml:"reconnect_delay"`
	BackoffMultiplier float64       `toml:"backoff_multiplier" yaml:"backoff_multiplier"`
	MaxReconnectDelay time.Duration `toml:"max_reconnect_delay" yaml:"max_reconnect_delay"`
	HandshakeTimeout  time.Duration `toml:"handshake_timeout" yaml:"handshake_timeout"`
	WriteTimeout      time.Duration `toml:"write_timeout" yaml:"write_timeout"`
	HeartBeatSend     time.Duration `toml:"heartbeat_send" yaml:"heartbeat_send"`
	HeartBeatReceive  time.Duration `toml:"heartbeat_receive" yaml:"heartbeat_receive"`
	EventBufferSize   int           `toml:"event_buffer_size" yaml:"event_buffer_size"`
}

type Feed struct {
	PageSize          int `toml:"page_size" yaml:"page_size"`
	NotificationsPage int `toml:"notifications_page" yaml:"notifications_page"`
}

type Credentials struct {
	// Path of the SQLite file holding the token pair.
	Path string `toml:"path" yaml:"path"`
}

type Log struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

const (
	LogFormatConsole = "console"
	LogFormatJSON    = "json"
)

func Default() Config {
	return Config{
		API: API{
			BaseURL: "http://localhost:8080/api",
			Timeout: constants.DefaultHTTPTimeout,
		},
		Realtime: Realtime{
			URL:               "ws://localhost:8080/ws",
			ReconnectDelay:    constants.DefaultReconnectDelay,
			BackoffMultiplier: 1,
			MaxReconnectDelay: constants.DefaultMaxReconnectDelay,
			HandshakeTimeout:  constants.DefaultHandshakeTimeout,
			WriteTimeout:      constants.DefaultWriteTimeout,
			HeartBeatSend:     constants.DefaultHeartbeat,
			HeartBeatReceive:  constants.DefaultHeartbeat,
			EventBufferSize:   constants.DefaultEventBufferSize,
		},
		Feed: Feed{
			PageSize:          constants.DefaultPageSize,
			NotificationsPage: constants.DefaultNotificationsPage,
		},
		Credentials: Credentials{Path: defaultCredentialsPath()},
		Log:         Log{Level: "info", Format: LogFormatConsole},
	}
}

func defaultCredentialsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "feedsync-credentials.db"
	}
	return filepath.Join(dir, "feedsync", "credentials.db")
}

// Load reads path on top of Default. The format follows the extension:
// .toml, or .yaml and .yml.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return cfg, fmt.Errorf("config %s: unsupported format %q", path, filepath.Ext(path))
	}
	return cfg, nil
}

// ApplyEnvOverrides replaces settings with the FEEDSYNC_* variables that are
// set.
func (c *Config) ApplyEnvOverrides() error {
	c.API.BaseURL = GetEnvOrDefault("FEEDSYNC_API_URL", c.API.BaseURL)
	c.Realtime.URL = GetEnvOrDefault("FEEDSYNC_WS_URL", c.Realtime.URL)
	c.Credentials.Path = GetEnvOrDefault("FEEDSYNC_CREDENTIALS_PATH", c.Credentials.Path)
	c.Log.Level = GetEnvOrDefault("FEEDSYNC_LOG_LEVEL", c.Log.Level)
	c.Log.Format = GetEnvOrDefault("FEEDSYNC_LOG_FORMAT", c.Log.Format)

	var errs []error
	if v := GetEnvOrDefault("FEEDSYNC_RECONNECT_DELAY", ""); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("FEEDSYNC_RECONNECT_DELAY: %w", err))
		} else {
			c.Realtime.ReconnectDelay = d
		}
	}
	if v := GetEnvOrDefault("FEEDSYNC_PAGE_SIZE", ""); v != "" {
		var n int
		if _, err := fmt.Sscan(v, &n); err != nil {
			errs = append(errs, fmt.Errorf("FEEDSYNC_PAGE_SIZE: %w", err))
		} else {
			c.Feed.PageSize = n
		}
	}
	return errors.Join(errs...)
}

// Validate reports every setting that cannot work, wrapped in
// constants.ErrValidation.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	if c.API.BaseURL == "" {
		errs = append(errs, fmt.Errorf("api.base_url: %w", constants.ErrNoBaseURL))
	} else {
		u, err := url.Parse(c.API.BaseURL)
		check(err == nil && (u.Scheme == constants.HTTPScheme || u.Scheme == constants.HTTPSecureScheme) && u.Host != "",
			"api.base_url %q must be an http(s) url", c.API.BaseURL)
	}
	u, err := url.Parse(c.Realtime.URL)
	check(err == nil && (u.Scheme == constants.WebsocketScheme || u.Scheme == constants.WebsocketSecureScheme) && u.Host != "",
		"realtime.url %q must be a ws(s) url", c.Realtime.URL)

	check(c.API.Timeout >= 0, "api.timeout must not be negative")
	check(c.Realtime.ReconnectDelay > 0, "realtime.reconnect_delay must be positive")
	check(c.Realtime.BackoffMultiplier >= 1, "realtime.backoff_multiplier must be at least 1")
	check(c.Realtime.MaxReconnectDelay >= c.Realtime.ReconnectDelay, "realtime.max_reconnect_delay must not be below reconnect_delay")
	check(c.Realtime.HeartBeatSend >= 0 && c.Realtime.HeartBeatReceive >= 0, "realtime heart-beats must not be negative")
	check(c.Realtime.EventBufferSize > 0, "realtime.event_buffer_size must be positive")
	check(c.Feed.PageSize > 0, "feed.page_size must be positive")
	check(c.Feed.NotificationsPage > 0, "feed.notifications_page must be positive")
	check(c.Credentials.Path != "", "credentials.path must be set")
	check(c.Log.Format == LogFormatConsole || c.Log.Format == LogFormatJSON, "log.format %q must be console or json", c.Log.Format)

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", constants.ErrValidation, errors.Join(errs...))
}

// Backoff is constant at ReconnectDelay unless a multiplier above 1 asks for
// exponential growth.
func (r Realtime) Backoff() realtime.Backoff {
	if r.BackoffMultiplier <= 1 {
		return realtime.ConstantBackoff(r.ReconnectDelay)
	}
	return realtime.ExponentialBackoff{
		Initial:    r.ReconnectDelay,
		Max:        r.MaxReconnectDelay,
		Multiplier: r.BackoffMultiplier,
	}
}

func (r Realtime) HeartBeat() stomp.HeartBeat {
	return stomp.HeartBeat{Send: r.HeartBeatSend, Receive: r.HeartBeatReceive}
}
