package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/chatsync/client/internal/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

// TestLoad_AllFields verifies that all config fields are parsed correctly from TOML.
func TestLoad_AllFields(t *testing.T) {
	path := writeConfig(t, `
api_url = "https://chat.example.com/api/v1"
ws_url = "wss://chat.example.com/api/v1/ws"
credential_store = "/tmp/creds.db"
log_level = "debug"
log_format = "json"
reconnect_max_attempts = 8
reconnect_delay_ms = 1500
heartbeat_interval_ms = 10000
page_size = 50
buffer_capacity = 2000
buffer_retain = 800
dedupe_messages = true
message_max_length = 2000
send_rate_per_sec = 5.5
send_burst = 3
request_timeout_ms = 2500
metrics_addr = "127.0.0.1:9464"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://chat.example.com/api/v1", cfg.APIURL)
	assert.Equal(t, "wss://chat.example.com/api/v1/ws", cfg.WSURL)
	assert.Equal(t, "/tmp/creds.db", cfg.CredentialStore)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 8, cfg.ReconnectMaxAttempts)
	assert.Equal(t, 1500, cfg.ReconnectDelayMs)
	assert.Equal(t, 10000, cfg.HeartbeatIntervalMs)
	assert.Equal(t, 50, cfg.PageSize)
	assert.Equal(t, 2000, cfg.BufferCapacity)
	assert.Equal(t, 800, cfg.BufferRetain)
	assert.True(t, cfg.DedupeMessages)
	assert.Equal(t, 2000, cfg.MessageMaxLength)
	assert.Equal(t, 5.5, cfg.SendRatePerSec)
	assert.Equal(t, 3, cfg.SendBurst)
	assert.Equal(t, 2500, cfg.RequestTimeoutMs)
	assert.Equal(t, "127.0.0.1:9464", cfg.MetricsAddr)
}

// TestLoad_PartialConfig verifies unset fields stay zero until WithDefaults.
func TestLoad_PartialConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, `page_size = 30`))
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.PageSize)
	assert.Zero(t, cfg.ReconnectMaxAttempts)

	cfg.WithDefaults()
	assert.Equal(t, 30, cfg.PageSize)
	assert.Equal(t, DefaultReconnectMaxAttempts, cfg.ReconnectMaxAttempts)
	assert.Equal(t, 3*time.Second, cfg.ReconnectDelay())
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval())
	assert.Equal(t, DefaultMessageMaxLength, cfg.MessageMaxLength)
}

func TestLoad_ExplicitPath_NotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestLoad_EmptyPath_NoDefaultFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, &Config{}, cfg)
}

func TestLoad_EmptyPath_DefaultFileExists(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := filepath.Join(home, ".chatsync")
	require.NoError(t, os.MkdirAll(dir, 0700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(`ws_url = "ws://10.0.0.2:8080/ws"`), 0600))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "ws://10.0.0.2:8080/ws", cfg.WSURL)
}

func TestLoad_InvalidTOML(t *testing.T) {
	_, err := Load(writeConfig(t, "api_url = \"missing quote\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestWriteDefault_CreatesFileOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	require.NoError(t, WriteDefault(path, "http://h:1/api", "ws://h:1/ws"))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://h:1/api", cfg.APIURL)
	assert.Equal(t, DefaultReconnectDelayMs, cfg.ReconnectDelayMs)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	// A second call must not overwrite.
	require.NoError(t, WriteDefault(path, "http://other/api", "ws://other/ws"))
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://h:1/api", cfg.APIURL)
}

func TestApplyEnvFrom_OverridesOnlySetVariables(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
page_size = 30
reconnect_delay_ms = 1000
`))
	require.NoError(t, err)

	require.NoError(t, ApplyEnvFrom(cfg, map[string]string{
		"CHATSYNC_RECONNECT_DELAY_MS": "250",
		"CHATSYNC_DEDUPE_MESSAGES":    "true",
		"CHATSYNC_WS_URL":             "ws://env/ws",
		"UNRELATED":                   "x",
	}))

	assert.Equal(t, 30, cfg.PageSize, "file value kept when env unset")
	assert.Equal(t, 250, cfg.ReconnectDelayMs)
	assert.True(t, cfg.DedupeMessages)
	assert.Equal(t, "ws://env/ws", cfg.WSURL)
}

func TestApplyEnvFrom_InvalidValue(t *testing.T) {
	err := ApplyEnvFrom(&Config{}, map[string]string{"CHATSYNC_PAGE_SIZE": "many"})
	require.Error(t, err)
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("CHATSYNC_TEST_DOTENV_PAGE=77\n"), 0600))
	t.Cleanup(func() { os.Unsetenv("CHATSYNC_TEST_DOTENV_PAGE") })

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "77", os.Getenv("CHATSYNC_TEST_DOTENV_PAGE"))

	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "absent.env")))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{name: "negative attempts", mutate: func(c *Config) { c.ReconnectMaxAttempts = -1 }, field: "reconnect_max_attempts"},
		{name: "negative delay", mutate: func(c *Config) { c.ReconnectDelayMs = -5 }, field: "reconnect_delay_ms"},
		{name: "retain above capacity", mutate: func(c *Config) { c.BufferRetain = c.BufferCapacity + 1 }, field: "buffer_retain"},
		{name: "bad ws scheme", mutate: func(c *Config) { c.WSURL = "http://x/ws" }, field: "ws_url"},
		{name: "bad api scheme", mutate: func(c *Config) { c.APIURL = "ftp://x" }, field: "api_url"},
		{name: "negative max length", mutate: func(c *Config) { c.MessageMaxLength = -1 }, field: "message_max_length"},
		{name: "negative rate", mutate: func(c *Config) { c.SendRatePerSec = -1 }, field: "send_rate_per_sec"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := (&Config{}).WithDefaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.field == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, apperrors.IsCode(err, apperrors.CodeConfigInvalid))
			assert.Contains(t, apperrors.GetMessage(err), tt.field)
		})
	}
}

func TestHeartbeatInterval_NegativeDisables(t *testing.T) {
	cfg := &Config{HeartbeatIntervalMs: -1}
	assert.Zero(t, cfg.HeartbeatInterval())
}
