// Package config provides TOML configuration file loading for the chat client.
// The configuration file lives at ~/.chatsync/config.toml by default, but can be
// overridden with the --config flag. Precedence, lowest first: defaults, file,
// .env file, CHATSYNC_* environment variables, CLI flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	apperrors "github.com/chatsync/client/internal/errors"
)

// Config represents the client configuration file structure.
// Field names use Go camelCase internally but map to snake_case in TOML files
// and to upper snake case (with the CHATSYNC_ prefix) in the environment.
type Config struct {
	// APIURL is the base URL of the REST API, e.g. http://host:8080/api/v1.
	APIURL string `toml:"api_url" env:"API_URL"`

	// WSURL is the websocket endpoint. The auth token is appended as ?token=.
	WSURL string `toml:"ws_url" env:"WS_URL"`

	// CredentialStore is the path to the SQLite database holding the auth token.
	// Default: ~/.chatsync/credentials.db
	CredentialStore string `toml:"credential_store" env:"CREDENTIAL_STORE"`

	// LogLevel controls logging verbosity: debug, info, warn, error.
	LogLevel string `toml:"log_level" env:"LOG_LEVEL"`

	// LogFormat is "text" or "json".
	LogFormat string `toml:"log_format" env:"LOG_FORMAT"`

	// ReconnectMaxAttempts is the retry ceiling for automatic reconnection.
	ReconnectMaxAttempts int `toml:"reconnect_max_attempts" env:"RECONNECT_MAX_ATTEMPTS"`

	// ReconnectDelayMs is the fixed delay between reconnection attempts.
	ReconnectDelayMs int `toml:"reconnect_delay_ms" env:"RECONNECT_DELAY_MS"`

	// HeartbeatIntervalMs is the websocket ping interval. Negative disables pings.
	HeartbeatIntervalMs int `toml:"heartbeat_interval_ms" env:"HEARTBEAT_INTERVAL_MS"`

	// PageSize is the number of messages requested per history page.
	PageSize int `toml:"page_size" env:"PAGE_SIZE"`

	// BufferCapacity is the hard cap of the message buffer.
	BufferCapacity int `toml:"buffer_capacity" env:"BUFFER_CAPACITY"`

	// BufferRetain is how many of the newest messages survive a trim.
	BufferRetain int `toml:"buffer_retain" env:"BUFFER_RETAIN"`

	// DedupeMessages drops messages whose id is already buffered.
	// Default: false (duplicates from a push/page race are kept)
	DedupeMessages bool `toml:"dedupe_messages" env:"DEDUPE_MESSAGES"`

	// MessageMaxLength caps outbound message content, in characters.
	MessageMaxLength int `toml:"message_max_length" env:"MESSAGE_MAX_LENGTH"`

	// SendRatePerSec limits outbound websocket frames. 0 disables the limit.
	SendRatePerSec float64 `toml:"send_rate_per_sec" env:"SEND_RATE_PER_SEC"`

	// SendBurst is the limiter burst size.
	SendBurst int `toml:"send_burst" env:"SEND_BURST"`

	// RequestTimeoutMs bounds every REST call.
	RequestTimeoutMs int `toml:"request_timeout_ms" env:"REQUEST_TIMEOUT_MS"`

	// MetricsAddr serves Prometheus metrics when non-empty, e.g. 127.0.0.1:9464.
	MetricsAddr string `toml:"metrics_addr" env:"METRICS_ADDR"`
}

// DefaultDir returns ~/.chatsync.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".chatsync"), nil
}

// DefaultConfigPath returns the default config file location: ~/.chatsync/config.toml.
// Returns an error only if the user's home directory cannot be determined.
func DefaultConfigPath() (string, error) {
	dir, err := DefaultDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// WriteDefault creates a config file pointing at the given server.
//
// Behavior:
//   - If the file already exists, returns without error (does not overwrite).
//   - Creates the parent directory if it doesn't exist.
//   - Returns an error if the file cannot be written.
func WriteDefault(path, apiURL, wsURL string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content := fmt.Sprintf(`# chatsync configuration

api_url = %q
ws_url = %q

# Fixed-delay reconnection
reconnect_max_attempts = %d
reconnect_delay_ms = %d
`, apiURL, wsURL, DefaultReconnectMaxAttempts, DefaultReconnectDelayMs)

	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Load reads a TOML config file from the given path and returns a Config.
//
// Behavior:
//   - If path is empty, attempts to load from the default location (~/.chatsync/config.toml).
//     Returns an empty Config without error if the default file doesn't exist.
//   - If path is specified, returns an error if the file doesn't exist.
//   - Returns an error if the file exists but cannot be parsed.
//
// Load does not apply defaults; call WithDefaults after all overlays.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return cfg, nil
		}
		if _, err := os.Stat(defaultPath); os.IsNotExist(err) {
			return cfg, nil
		}
		path = defaultPath
	} else {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays CHATSYNC_* environment variables onto cfg.
// Only variables that are set replace file values.
func ApplyEnv(cfg *Config) error {
	return ApplyEnvFrom(cfg, nil)
}

// ApplyEnvFrom is ApplyEnv reading from an explicit environment map
// (nil means the process environment).
func ApplyEnvFrom(cfg *Config, environ map[string]string) error {
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}
	return nil
}

// WithDefaults fills every zero field with its default and returns cfg.
func (c *Config) WithDefaults() *Config {
	if c.APIURL == "" {
		c.APIURL = DefaultAPIURL
	}
	if c.WSURL == "" {
		c.WSURL = DefaultWSURL
	}
	if c.CredentialStore == "" {
		if dir, err := DefaultDir(); err == nil {
			c.CredentialStore = filepath.Join(dir, "credentials.db")
		} else {
			c.CredentialStore = "chatsync-credentials.db"
		}
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.ReconnectMaxAttempts == 0 {
		c.ReconnectMaxAttempts = DefaultReconnectMaxAttempts
	}
	if c.ReconnectDelayMs == 0 {
		c.ReconnectDelayMs = DefaultReconnectDelayMs
	}
	if c.HeartbeatIntervalMs == 0 {
		c.HeartbeatIntervalMs = DefaultHeartbeatIntervalMs
	}
	if c.PageSize == 0 {
		c.PageSize = DefaultPageSize
	}
	if c.BufferCapacity == 0 {
		c.BufferCapacity = DefaultBufferCapacity
	}
	if c.BufferRetain == 0 {
		c.BufferRetain = DefaultBufferRetain
	}
	if c.MessageMaxLength == 0 {
		c.MessageMaxLength = DefaultMessageMaxLength
	}
	if c.SendBurst == 0 {
		c.SendBurst = DefaultSendBurst
	}
	if c.RequestTimeoutMs == 0 {
		c.RequestTimeoutMs = DefaultRequestTimeoutMs
	}
	return c
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.ReconnectMaxAttempts < 0:
		return apperrors.InvalidConfig("reconnect_max_attempts", "must not be negative")
	case c.ReconnectDelayMs < 0:
		return apperrors.InvalidConfig("reconnect_delay_ms", "must not be negative")
	case c.PageSize <= 0:
		return apperrors.InvalidConfig("page_size", "must be positive")
	case c.BufferCapacity <= 0:
		return apperrors.InvalidConfig("buffer_capacity", "must be positive")
	case c.BufferRetain <= 0 || c.BufferRetain > c.BufferCapacity:
		return apperrors.InvalidConfig("buffer_retain", "must be between 1 and buffer_capacity")
	case c.MessageMaxLength < 0:
		return apperrors.InvalidConfig("message_max_length", "must not be negative")
	case c.SendRatePerSec < 0:
		return apperrors.InvalidConfig("send_rate_per_sec", "must not be negative")
	case !strings.HasPrefix(c.WSURL, "ws://") && !strings.HasPrefix(c.WSURL, "wss://"):
		return apperrors.InvalidConfig("ws_url", "must use ws:// or wss://")
	case !strings.HasPrefix(c.APIURL, "http://") && !strings.HasPrefix(c.APIURL, "https://"):
		return apperrors.InvalidConfig("api_url", "must use http:// or https://")
	}
	return nil
}

// ReconnectDelay returns ReconnectDelayMs as a duration.
func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelayMs) * time.Millisecond
}

// HeartbeatInterval returns the ping interval; zero means disabled.
func (c *Config) HeartbeatInterval() time.Duration {
	if c.HeartbeatIntervalMs < 0 {
		return 0
	}
	return time.Duration(c.HeartbeatIntervalMs) * time.Millisecond
}

// RequestTimeout returns RequestTimeoutMs as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}
