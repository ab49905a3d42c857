package transport

import (
	"time"

	apperrors "github.com/chatsync/client/internal/errors"
)

// State is the lifecycle state of the logical connection.
type State int

const (
	// StateDisconnected is the initial state and the state after Disconnect.
	StateDisconnected State = iota

	// StateConnecting means a dial is in flight.
	StateConnecting

	// StateConnected means frames are flowing.
	StateConnected

	// StateReconnecting means a fixed-delay retry timer is pending.
	StateReconnecting

	// StateClosed means the retry ceiling was reached. Only an explicit
	// Connect leaves this state.
	StateClosed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SendOutcome classifies the result of Send.
type SendOutcome int

const (
	SendOK SendOutcome = iota
	SendNotConnected
	SendEncodeFailed
	SendWriteFailed
	SendRateLimited
)

// String returns a short label, used as a metrics label value.
func (o SendOutcome) String() string {
	switch o {
	case SendOK:
		return "ok"
	case SendNotConnected:
		return "not_connected"
	case SendEncodeFailed:
		return "encode_failed"
	case SendWriteFailed:
		return "write_failed"
	case SendRateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

// SendResult is the outcome of Send. Failures never panic or return through
// a separate error path; callers decide whether to surface or drop them.
type SendResult struct {
	Outcome SendOutcome
	Err     error
}

// OK reports whether the frame was written.
func (r SendResult) OK() bool {
	return r.Outcome == SendOK
}

func sendFailed(outcome SendOutcome, code, message string, cause error) SendResult {
	return SendResult{Outcome: outcome, Err: apperrors.Wrap(code, message, cause)}
}

// Clock schedules the reconnect timer. It exists so tests can fire timers by hand.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is the cancellable handle returned by Clock.AfterFunc.
type Timer interface {
	Stop() bool
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Recorder receives transport outcomes, typically for metrics.
type Recorder interface {
	StateChanged(State)
	ReconnectScheduled(attempt int)
	SendCompleted(SendOutcome)
}
