package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/chatsync/client/internal/errors"
)

// fakeConn delivers queued frames from ReadMessage until it is closed or
// dropped, and records everything written to it.
type fakeConn struct {
	frames chan []byte
	done   chan struct{}

	mu       sync.Mutex
	closed   bool
	dropErr  error
	writes   []fakeWrite
	writeErr error
}

type fakeWrite struct {
	messageType int
	data        []byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan []byte, 16), done: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.frames:
		return websocket.TextMessage, data, nil
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.dropErr != nil {
			return 0, nil, c.dropErr
		}
		return 0, nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.writes = append(c.writes, fakeWrite{messageType: messageType, data: append([]byte(nil), data...)})
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	return nil
}

// drop simulates the server going away.
func (c *fakeConn) drop() {
	c.mu.Lock()
	c.dropErr = &websocket.CloseError{Code: websocket.CloseAbnormalClosure}
	c.mu.Unlock()
	c.Close()
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) written(messageType int) [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out [][]byte
	for _, w := range c.writes {
		if w.messageType == messageType {
			out = append(out, w.data)
		}
	}
	return out
}

// fakeDialer hands out a connection per dial, or fails while failing is set.
type fakeDialer struct {
	mu      sync.Mutex
	failing bool
	urls    []string
	conns   []*fakeConn
}

func (d *fakeDialer) Dial(_ context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, url)
	if d.failing {
		return nil, errors.New("connection refused")
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) setFailing(v bool) {
	d.mu.Lock()
	d.failing = v
	d.mu.Unlock()
}

func (d *fakeDialer) attempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[len(d.conns)-1]
}

// fakeClock records scheduled timers and fires them on demand.
type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
	delays []time.Duration
}

type fakeTimer struct {
	mu      sync.Mutex
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{f: f}
	c.timers = append(c.timers, t)
	c.delays = append(c.delays, d)
	return t
}

// pending returns the number of timers neither stopped nor fired.
func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		t.mu.Lock()
		if !t.stopped && !t.fired {
			n++
		}
		t.mu.Unlock()
	}
	return n
}

// fireAll runs every pending timer callback, even stopped ones when force is
// set, to mimic a timer that raced with Stop.
func (c *fakeClock) fire(force bool) int {
	c.mu.Lock()
	timers := append([]*fakeTimer(nil), c.timers...)
	c.mu.Unlock()

	n := 0
	for _, t := range timers {
		t.mu.Lock()
		run := !t.fired && (force || !t.stopped)
		t.fired = t.fired || run
		t.mu.Unlock()
		if run {
			t.f()
			n++
		}
	}
	return n
}

type recordedStates struct {
	mu     sync.Mutex
	states []State
}

func (r *recordedStates) add(s State) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *recordedStates) all() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func newTestTransport(t *testing.T, opts Options) (*Transport, *fakeDialer, *fakeClock) {
	t.Helper()
	dialer := &fakeDialer{}
	clock := &fakeClock{}
	opts.Dialer = dialer
	opts.Clock = clock
	if opts.URL == "" {
		opts.URL = "ws://chat.test/api/v1/ws"
	}
	if opts.Tokens == nil {
		opts.Tokens = StaticToken("tok-1")
	}
	tr := New(opts)
	t.Cleanup(tr.Disconnect)
	return tr, dialer, clock
}

func waitForState(t *testing.T, tr *Transport, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return tr.State() == want }, time.Second, 5*time.Millisecond,
		"state never became %s (last %s)", want, tr.State())
}

func TestConnect_Success(t *testing.T) {
	tr, dialer, _ := newTestTransport(t, Options{})

	var states recordedStates
	tr.OnStateChange(states.add)

	require.NoError(t, tr.Connect(context.Background()))

	assert.Equal(t, StateConnected, tr.State())
	assert.Equal(t, 0, tr.Retries())
	assert.Equal(t, []State{StateConnecting, StateConnected}, states.all())
	require.Len(t, dialer.urls, 1)
	assert.Equal(t, "ws://chat.test/api/v1/ws?token=tok-1", dialer.urls[0])
}

func TestConnect_NoToken(t *testing.T) {
	tr, dialer, _ := newTestTransport(t, Options{Tokens: StaticToken("")})

	err := tr.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeAuthRequired))
	assert.Equal(t, StateDisconnected, tr.State())
	assert.Zero(t, dialer.attempts())
}

func TestConnect_NoOpWhenConnected(t *testing.T) {
	tr, dialer, _ := newTestTransport(t, Options{})

	require.NoError(t, tr.Connect(context.Background()))
	require.NoError(t, tr.Connect(context.Background()))

	assert.Equal(t, 1, dialer.attempts())
}

func TestFramesDeliveredInOrder(t *testing.T) {
	var mu sync.Mutex
	var got []string
	tr, dialer, _ := newTestTransport(t, Options{OnFrame: func(b []byte) {
		mu.Lock()
		got = append(got, string(b))
		mu.Unlock()
	}})

	require.NoError(t, tr.Connect(context.Background()))
	conn := dialer.last()
	for _, f := range []string{`{"n":1}`, `{"n":2}`, `{"n":3}`} {
		conn.frames <- []byte(f)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{`{"n":1}`, `{"n":2}`, `{"n":3}`}, got)
}

// TestReconnect_CeilingReachesClosed verifies that a continuously failing
// server sees exactly MaxAttempts automatic attempts, each preceded by one
// fixed delay, and then the transport stays Closed.
func TestReconnect_CeilingReachesClosed(t *testing.T) {
	tr, dialer, clock := newTestTransport(t, Options{Delay: 3 * time.Second})

	require.NoError(t, tr.Connect(context.Background()))
	dialer.setFailing(true)
	dialer.last().drop()

	waitForState(t, tr, StateReconnecting)
	assert.Equal(t, 1, tr.Retries())

	for i := 2; i <= DefaultMaxAttempts; i++ {
		require.Equal(t, 1, clock.fire(false))
		assert.Equal(t, StateReconnecting, tr.State())
		assert.Equal(t, i, tr.Retries())
	}

	// The last scheduled attempt fails at the ceiling.
	require.Equal(t, 1, clock.fire(false))
	assert.Equal(t, StateClosed, tr.State())
	assert.Equal(t, DefaultMaxAttempts, tr.Retries())
	assert.Zero(t, clock.pending())
	assert.Equal(t, 1+DefaultMaxAttempts, dialer.attempts())

	for _, d := range clock.delays {
		assert.Equal(t, 3*time.Second, d)
	}

	assert.Zero(t, clock.fire(false), "no further attempts after Closed")
	assert.Equal(t, 1+DefaultMaxAttempts, dialer.attempts())
}

func TestReconnect_SuccessResetsRetries(t *testing.T) {
	tr, dialer, clock := newTestTransport(t, Options{})

	require.NoError(t, tr.Connect(context.Background()))
	dialer.setFailing(true)
	dialer.last().drop()
	waitForState(t, tr, StateReconnecting)

	clock.fire(false)
	clock.fire(false)
	require.Equal(t, 3, tr.Retries())

	dialer.setFailing(false)
	clock.fire(false)
	assert.Equal(t, StateConnected, tr.State())
	assert.Equal(t, 0, tr.Retries())

	// A later loss gets the full ceiling again.
	dialer.setFailing(true)
	dialer.last().drop()
	waitForState(t, tr, StateReconnecting)
	assert.Equal(t, 1, tr.Retries())
	for i := 0; i < DefaultMaxAttempts-1; i++ {
		clock.fire(false)
	}
	assert.Equal(t, StateReconnecting, tr.State())
	clock.fire(false)
	assert.Equal(t, StateClosed, tr.State())
}

func TestReconnect_FailedInitialDialSchedulesRetry(t *testing.T) {
	tr, dialer, clock := newTestTransport(t, Options{})
	dialer.setFailing(true)

	require.NoError(t, tr.Connect(context.Background()))

	assert.Equal(t, StateReconnecting, tr.State())
	assert.Equal(t, 1, tr.Retries())
	assert.Equal(t, 1, clock.pending())
}

func TestDisconnect_CancelsPendingReconnect(t *testing.T) {
	tr, dialer, clock := newTestTransport(t, Options{})

	require.NoError(t, tr.Connect(context.Background()))
	dialer.setFailing(true)
	dialer.last().drop()
	waitForState(t, tr, StateReconnecting)

	tr.Disconnect()
	assert.Equal(t, StateDisconnected, tr.State())
	assert.Equal(t, DefaultMaxAttempts, tr.Retries())
	assert.Zero(t, clock.pending())

	// A timer that already fired past Stop must not dial.
	before := dialer.attempts()
	clock.fire(true)
	assert.Equal(t, before, dialer.attempts())
	assert.Equal(t, StateDisconnected, tr.State())
}

func TestDisconnect_ClosesConnectionWithoutReconnect(t *testing.T) {
	tr, dialer, clock := newTestTransport(t, Options{})

	require.NoError(t, tr.Connect(context.Background()))
	conn := dialer.last()

	tr.Disconnect()

	assert.True(t, conn.isClosed())
	assert.Len(t, conn.written(websocket.CloseMessage), 1)
	assert.Equal(t, StateDisconnected, tr.State())

	// The read loop sees the close but the generation is stale.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateDisconnected, tr.State())
	assert.Zero(t, clock.pending())
}

func TestDisconnect_Idempotent(t *testing.T) {
	tr, _, _ := newTestTransport(t, Options{})

	var states recordedStates
	tr.OnStateChange(states.add)

	tr.Disconnect()
	tr.Disconnect()

	assert.Equal(t, StateDisconnected, tr.State())
	assert.Empty(t, states.all())
}

func TestDisconnect_FromClosedKeepsClosed(t *testing.T) {
	tr, dialer, clock := newTestTransport(t, Options{MaxAttempts: 1})

	require.NoError(t, tr.Connect(context.Background()))
	dialer.setFailing(true)
	dialer.last().drop()
	waitForState(t, tr, StateReconnecting)
	clock.fire(false)
	require.Equal(t, StateClosed, tr.State())

	tr.Disconnect()
	assert.Equal(t, StateClosed, tr.State())
}

func TestConnect_FromClosedRedials(t *testing.T) {
	tr, dialer, clock := newTestTransport(t, Options{MaxAttempts: 1})

	require.NoError(t, tr.Connect(context.Background()))
	dialer.setFailing(true)
	dialer.last().drop()
	waitForState(t, tr, StateReconnecting)
	clock.fire(false)
	require.Equal(t, StateClosed, tr.State())

	dialer.setFailing(false)
	require.NoError(t, tr.Connect(context.Background()))
	assert.Equal(t, StateConnected, tr.State())
	assert.Equal(t, 0, tr.Retries())
}

func TestConnect_AfterDisconnectFailureGoesClosed(t *testing.T) {
	tr, dialer, clock := newTestTransport(t, Options{})

	require.NoError(t, tr.Connect(context.Background()))
	tr.Disconnect()

	// Disconnect pinned the retry count, so a failed redial does not retry.
	dialer.setFailing(true)
	require.NoError(t, tr.Connect(context.Background()))
	assert.Equal(t, StateClosed, tr.State())
	assert.Zero(t, clock.pending())
}

func TestSend_Outcomes(t *testing.T) {
	t.Run("not connected", func(t *testing.T) {
		tr, _, _ := newTestTransport(t, Options{})
		res := tr.Send(map[string]string{"a": "b"})
		assert.Equal(t, SendNotConnected, res.Outcome)
		assert.True(t, apperrors.IsCode(res.Err, apperrors.CodeTransportNotConnected))
	})

	t.Run("ok", func(t *testing.T) {
		tr, dialer, _ := newTestTransport(t, Options{})
		require.NoError(t, tr.Connect(context.Background()))

		res := tr.Send(map[string]int{"room_id": 7})
		require.True(t, res.OK())
		assert.Equal(t, [][]byte{[]byte(`{"room_id":7}`)}, dialer.last().written(websocket.TextMessage))
	})

	t.Run("raw bytes", func(t *testing.T) {
		tr, dialer, _ := newTestTransport(t, Options{})
		require.NoError(t, tr.Connect(context.Background()))

		require.True(t, tr.Send([]byte(`{"x":1}`)).OK())
		assert.Equal(t, [][]byte{[]byte(`{"x":1}`)}, dialer.last().written(websocket.TextMessage))
	})

	t.Run("encode failed", func(t *testing.T) {
		tr, _, _ := newTestTransport(t, Options{})
		require.NoError(t, tr.Connect(context.Background()))

		res := tr.Send(make(chan int))
		assert.Equal(t, SendEncodeFailed, res.Outcome)
		assert.True(t, apperrors.IsCode(res.Err, apperrors.CodeTransportEncodeFailed))
		assert.Equal(t, StateConnected, tr.State())
	})

	t.Run("write failed", func(t *testing.T) {
		tr, dialer, _ := newTestTransport(t, Options{})
		require.NoError(t, tr.Connect(context.Background()))
		conn := dialer.last()
		conn.mu.Lock()
		conn.writeErr = errors.New("broken pipe")
		conn.mu.Unlock()

		res := tr.Send("hello")
		assert.Equal(t, SendWriteFailed, res.Outcome)
		assert.True(t, apperrors.IsCode(res.Err, apperrors.CodeTransportWriteFailed))
		waitForState(t, tr, StateReconnecting)
	})

	t.Run("rate limited", func(t *testing.T) {
		tr, _, _ := newTestTransport(t, Options{RatePerSec: 0.001, Burst: 1})
		require.NoError(t, tr.Connect(context.Background()))

		assert.True(t, tr.Send("first").OK())
		res := tr.Send("second")
		assert.Equal(t, SendRateLimited, res.Outcome)
		assert.True(t, apperrors.IsCode(res.Err, apperrors.CodeTransportRateLimited))
	})
}

type countingRecorder struct {
	mu        sync.Mutex
	states    []State
	scheduled []int
	sends     []SendOutcome
}

func (r *countingRecorder) StateChanged(s State) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *countingRecorder) ReconnectScheduled(attempt int) {
	r.mu.Lock()
	r.scheduled = append(r.scheduled, attempt)
	r.mu.Unlock()
}

func (r *countingRecorder) SendCompleted(o SendOutcome) {
	r.mu.Lock()
	r.sends = append(r.sends, o)
	r.mu.Unlock()
}

func TestRecorder(t *testing.T) {
	rec := &countingRecorder{}
	tr, dialer, clock := newTestTransport(t, Options{Recorder: rec, MaxAttempts: 2})

	require.NoError(t, tr.Connect(context.Background()))
	tr.Send("x")
	dialer.setFailing(true)
	dialer.last().drop()
	waitForState(t, tr, StateReconnecting)
	clock.fire(false)
	clock.fire(false)
	require.Equal(t, StateClosed, tr.State())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []int{1, 2}, rec.scheduled)
	assert.Equal(t, []SendOutcome{SendOK}, rec.sends)
	assert.Equal(t, StateClosed, rec.states[len(rec.states)-1])
}

func TestHeartbeat_SendsPings(t *testing.T) {
	tr, dialer, _ := newTestTransport(t, Options{Heartbeat: 10 * time.Millisecond})

	require.NoError(t, tr.Connect(context.Background()))
	conn := dialer.last()

	require.Eventually(t, func() bool {
		return len(conn.written(websocket.PingMessage)) >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "reconnecting", StateReconnecting.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "rate_limited", SendRateLimited.String())
}

// TestWebsocketDialer_EndToEnd runs the transport against a real gorilla
// server: the token arrives as a query parameter, frames flow both ways, and
// a server-side close triggers a reconnect.
func TestWebsocketDialer_EndToEnd(t *testing.T) {
	upgrader := websocket.Upgrader{}
	tokens := make(chan string, 4)
	serverConns := make(chan *websocket.Conn, 4)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokens <- r.URL.Query().Get("token")
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverConns <- c
	}))
	defer srv.Close()

	frames := make(chan string, 4)
	clock := &fakeClock{}
	tr := New(Options{
		URL:     "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		Tokens:  StaticToken("secret"),
		Clock:   clock,
		OnFrame: func(b []byte) { frames <- string(b) },
	})
	defer tr.Disconnect()

	require.NoError(t, tr.Connect(context.Background()))
	require.Equal(t, StateConnected, tr.State())
	assert.Equal(t, "secret", <-tokens)

	sc := <-serverConns
	require.NoError(t, sc.WriteMessage(websocket.TextMessage, []byte(`{"type":"message"}`)))
	select {
	case f := <-frames:
		assert.Equal(t, `{"type":"message"}`, f)
	case <-time.After(time.Second):
		t.Fatal("frame not delivered")
	}

	require.True(t, tr.Send(map[string]string{"hello": "server"}).OK())
	_, data, err := sc.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"hello":"server"}`, string(data))

	sc.Close()
	waitForState(t, tr, StateReconnecting)
	clock.fire(false)
	assert.Equal(t, StateConnected, tr.State())
	assert.Equal(t, "secret", <-tokens)
	(<-serverConns).Close()
}
