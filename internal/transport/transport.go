// Package transport maintains one logical websocket connection to the chat
// server. It reconnects on unexpected loss with a fixed delay up to a retry
// ceiling and hands every inbound frame to a single callback.
package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	apperrors "github.com/chatsync/client/internal/errors"
	"github.com/chatsync/client/internal/logger"
)

const (
	// DefaultMaxAttempts is the reconnect ceiling.
	DefaultMaxAttempts = 5

	// DefaultDelay is the fixed wait between reconnect attempts.
	DefaultDelay = 3 * time.Second

	// DefaultDialTimeout bounds a single dial.
	DefaultDialTimeout = 10 * time.Second

	writeWait = 10 * time.Second
)

// Options configures a Transport.
type Options struct {
	// URL is the websocket endpoint. The token is appended as ?token=.
	URL string

	Dialer Dialer
	Tokens TokenSource

	// MaxAttempts is the retry ceiling. Zero selects DefaultMaxAttempts.
	MaxAttempts int

	// Delay is the fixed reconnect delay. Zero selects DefaultDelay.
	Delay time.Duration

	// Heartbeat is the ping interval. Zero disables pings.
	Heartbeat time.Duration

	DialTimeout time.Duration

	// RatePerSec limits outbound frames. Zero disables limiting.
	RatePerSec float64
	Burst      int

	// OnFrame receives every inbound data frame on the read goroutine.
	// The next frame is not read until it returns.
	OnFrame func([]byte)

	Clock    Clock
	Logger   *slog.Logger
	Recorder Recorder
}

// Transport is the reconnecting websocket connection.
type Transport struct {
	opts    Options
	log     *slog.Logger
	clock   Clock
	limiter *rate.Limiter

	mu        sync.Mutex
	state     State
	retries   int
	gen       uint64
	conn      Conn
	timer     Timer
	stopPing  chan struct{}
	listeners []func(State)

	writeMu sync.Mutex
}

// New creates a disconnected transport.
func New(opts Options) *Transport {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Delay <= 0 {
		opts.Delay = DefaultDelay
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if opts.Dialer == nil {
		opts.Dialer = WebsocketDialer{}
	}
	if opts.Tokens == nil {
		opts.Tokens = StaticToken("")
	}

	t := &Transport{
		opts:  opts,
		log:   logger.Component(opts.Logger, "transport"),
		clock: opts.Clock,
		state: StateDisconnected,
	}
	if t.clock == nil {
		t.clock = realClock{}
	}
	if opts.RatePerSec > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), burst)
	}
	return t
}

// State returns the current state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Retries returns the current retry count.
func (t *Transport) Retries() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.retries
}

// OnStateChange registers fn to be called after every state transition.
// Listeners run outside the transport lock, on whichever goroutine made the
// transition.
func (t *Transport) OnStateChange(fn func(State)) {
	t.mu.Lock()
	t.listeners = append(t.listeners, fn)
	t.mu.Unlock()
}

// Connect opens the connection. It is a no-op while Connected or Connecting
// and fails with auth.required when no token is available. A pending
// reconnect timer is cancelled and the dial happens immediately. Dial
// failures are not returned; they feed the reconnect schedule.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.state == StateConnected || t.state == StateConnecting {
		t.mu.Unlock()
		return nil
	}

	target, err := t.targetURL()
	if err != nil {
		t.mu.Unlock()
		return err
	}

	t.stopTimerLocked()
	t.gen++
	gen := t.gen
	changed := t.setStateLocked(StateConnecting)
	t.mu.Unlock()

	t.emit(changed)
	t.dial(ctx, gen, target)
	return nil
}

// Disconnect closes the connection on purpose. It cancels any pending
// reconnect, pins the retry count at the ceiling and moves to Disconnected.
// From Disconnected or Closed the state is left unchanged.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	t.gen++
	t.stopTimerLocked()
	t.stopPingLocked()
	t.retries = t.opts.MaxAttempts
	conn := t.conn
	t.conn = nil

	var changed []State
	if t.state != StateDisconnected && t.state != StateClosed {
		changed = t.setStateLocked(StateDisconnected)
	}
	t.mu.Unlock()

	if conn != nil {
		t.writeMu.Lock()
		setWriteDeadline(conn)
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		t.writeMu.Unlock()
		conn.Close()
	}
	if len(changed) > 0 {
		t.log.Info("disconnected")
	}
	t.emit(changed)
}

// Send serializes v as JSON and writes it as one text frame. []byte and
// json.RawMessage values are written as-is. A write failure closes the
// connection so the read loop schedules a reconnect.
func (t *Transport) Send(v any) SendResult {
	res := t.send(v)
	if t.opts.Recorder != nil {
		t.opts.Recorder.SendCompleted(res.Outcome)
	}
	if !res.OK() {
		t.log.Debug("send failed", "outcome", res.Outcome.String(), "error", res.Err)
	}
	return res
}

func (t *Transport) send(v any) SendResult {
	t.mu.Lock()
	conn := t.conn
	connected := t.state == StateConnected
	t.mu.Unlock()

	if !connected || conn == nil {
		return SendResult{Outcome: SendNotConnected, Err: apperrors.NotConnected()}
	}

	var data []byte
	switch p := v.(type) {
	case []byte:
		data = p
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return sendFailed(SendEncodeFailed, apperrors.CodeTransportEncodeFailed, "payload is not serializable", err)
		}
		data = encoded
	}

	if t.limiter != nil && !t.limiter.Allow() {
		return SendResult{
			Outcome: SendRateLimited,
			Err:     apperrors.New(apperrors.CodeTransportRateLimited, "outbound rate limit exceeded"),
		}
	}

	if err := t.write(conn, websocket.TextMessage, data); err != nil {
		conn.Close()
		return sendFailed(SendWriteFailed, apperrors.CodeTransportWriteFailed, "websocket write failed", err)
	}
	return SendResult{Outcome: SendOK}
}

func (t *Transport) write(conn Conn, messageType int, data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	setWriteDeadline(conn)
	return conn.WriteMessage(messageType, data)
}

func setWriteDeadline(conn Conn) {
	if d, ok := conn.(interface{ SetWriteDeadline(time.Time) error }); ok {
		d.SetWriteDeadline(time.Now().Add(writeWait))
	}
}

// targetURL reads the token and builds the dial URL. Caller holds t.mu.
func (t *Transport) targetURL() (string, error) {
	token, err := t.opts.Tokens.Token()
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeAuthRequired, "failed to read auth credential", err)
	}
	if token == "" {
		return "", apperrors.AuthRequired()
	}
	target, err := withToken(t.opts.URL, token)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeConfigInvalid, "invalid websocket url", err)
	}
	return target, nil
}

// dial runs one connection attempt for generation gen. A result that arrives
// after Disconnect or a newer Connect is discarded.
func (t *Transport) dial(ctx context.Context, gen uint64, target string) {
	dctx, cancel := context.WithTimeout(ctx, t.opts.DialTimeout)
	conn, err := t.opts.Dialer.Dial(dctx, target)
	cancel()

	t.mu.Lock()
	if gen != t.gen || t.state != StateConnecting {
		t.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}

	if err != nil {
		changed := t.failLocked(gen)
		attempt := t.retries
		t.mu.Unlock()
		t.log.Warn("dial failed", "attempt", attempt, "error", err)
		t.emit(changed)
		return
	}

	t.conn = conn
	t.retries = 0
	changed := t.setStateLocked(StateConnected)
	var stop chan struct{}
	if t.opts.Heartbeat > 0 {
		stop = make(chan struct{})
		t.stopPing = stop
	}
	t.mu.Unlock()

	t.log.Info("connected", "url", t.opts.URL)
	t.emit(changed)

	go t.readLoop(conn, gen)
	if stop != nil {
		go t.pingLoop(conn, stop)
	}
}

// failLocked handles a lost connection or failed attempt. Below the ceiling
// it increments the retry count and arms the timer; at the ceiling it moves
// to Closed. Caller holds t.mu.
func (t *Transport) failLocked(gen uint64) []State {
	if t.retries >= t.opts.MaxAttempts {
		t.log.Warn("reconnect attempts exhausted", "max_attempts", t.opts.MaxAttempts)
		return t.setStateLocked(StateClosed)
	}

	t.retries++
	attempt := t.retries
	t.timer = t.clock.AfterFunc(t.opts.Delay, func() { t.reconnect(gen) })
	if t.opts.Recorder != nil {
		t.opts.Recorder.ReconnectScheduled(attempt)
	}
	t.log.Info("reconnect scheduled", "attempt", attempt, "delay", t.opts.Delay)
	return t.setStateLocked(StateReconnecting)
}

func (t *Transport) reconnect(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || t.state != StateReconnecting {
		t.mu.Unlock()
		return
	}
	t.timer = nil

	target, err := t.targetURL()
	if err != nil {
		changed := t.setStateLocked(StateClosed)
		t.mu.Unlock()
		t.log.Warn("reconnect abandoned", "error", err)
		t.emit(changed)
		return
	}
	changed := t.setStateLocked(StateConnecting)
	t.mu.Unlock()

	t.emit(changed)
	t.dial(context.Background(), gen, target)
}

func (t *Transport) readLoop(conn Conn, gen uint64) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			t.connectionLost(conn, gen, err)
			return
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}
		if !t.current(conn, gen) {
			return
		}
		if t.opts.OnFrame != nil {
			t.opts.OnFrame(data)
		}
	}
}

func (t *Transport) current(conn Conn, gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return gen == t.gen && t.conn == conn
}

func (t *Transport) connectionLost(conn Conn, gen uint64, cause error) {
	t.mu.Lock()
	if gen != t.gen || t.conn != conn {
		t.mu.Unlock()
		return
	}
	t.conn = nil
	t.stopPingLocked()
	changed := t.failLocked(gen)
	t.mu.Unlock()

	conn.Close()
	if websocket.IsUnexpectedCloseError(cause, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		t.log.Warn("connection lost", "error", cause)
	} else {
		t.log.Info("connection closed", "error", cause)
	}
	t.emit(changed)
}

func (t *Transport) pingLoop(conn Conn, stop chan struct{}) {
	ticker := time.NewTicker(t.opts.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := t.write(conn, websocket.PingMessage, nil); err != nil {
				t.log.Warn("ping failed", "error", err)
				conn.Close()
				return
			}
		}
	}
}

func (t *Transport) stopTimerLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *Transport) stopPingLocked() {
	if t.stopPing != nil {
		close(t.stopPing)
		t.stopPing = nil
	}
}

// setStateLocked records the transition and returns the states to emit.
// Caller holds t.mu.
func (t *Transport) setStateLocked(s State) []State {
	if t.state == s {
		return nil
	}
	t.state = s
	return []State{s}
}

func (t *Transport) emit(states []State) {
	if len(states) == 0 {
		return
	}
	t.mu.Lock()
	listeners := make([]func(State), len(t.listeners))
	copy(listeners, t.listeners)
	t.mu.Unlock()

	for _, s := range states {
		if t.opts.Recorder != nil {
			t.opts.Recorder.StateChanged(s)
		}
		for _, fn := range listeners {
			fn(s)
		}
	}
}
