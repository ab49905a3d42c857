package config

// DefaultAPIURL is the REST base URL of a locally running chat service.
const DefaultAPIURL = "http://localhost:8080/api/v1"

// DefaultWSURL is the websocket endpoint of a locally running chat service.
const DefaultWSURL = "ws://localhost:8080/api/v1/ws"

// Reconnection defaults: fixed delay, bounded attempts.
const (
	DefaultReconnectMaxAttempts = 5
	DefaultReconnectDelayMs     = 3000
)

// DefaultHeartbeatIntervalMs is the websocket ping interval.
const DefaultHeartbeatIntervalMs = 30000

// DefaultPageSize is the number of messages per history page.
const DefaultPageSize = 20

// Buffer bounds: once BufferCapacity is exceeded only the newest BufferRetain are kept.
const (
	DefaultBufferCapacity = 1000
	DefaultBufferRetain   = 500
)

// DefaultMessageMaxLength caps outbound message content, in characters.
const DefaultMessageMaxLength = 1000

// DefaultRequestTimeoutMs bounds each REST call.
const DefaultRequestTimeoutMs = 10000

// DefaultSendBurst is the limiter burst when send_rate_per_sec is set.
const DefaultSendBurst = 1

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CHATSYNC_"
