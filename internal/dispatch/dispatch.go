// Package dispatch decodes inbound websocket frames into typed events and
// fans them out to subscribed handlers.
package dispatch

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"go.uber.org/atomic"

	"github.com/chatsync/client/internal/chat"
	apperrors "github.com/chatsync/client/internal/errors"
	"github.com/chatsync/client/internal/logger"
)

// Handler processes one event. A returned error (or a panic) is logged and
// does not stop delivery to the other handlers.
type Handler func(chat.Event) error

// Recorder receives dispatch outcomes, typically for metrics.
type Recorder interface {
	FrameReceived()
	FrameDropped(code string)
	HandlerFailed(code string)
}

type entry struct {
	id      uint64
	handler Handler
}

// Stats is a point-in-time view of dispatch counters.
type Stats struct {
	Delivered uint64 // events handed to the handler list
	Dropped   uint64 // frames discarded as undecodable
	Failed    uint64 // handler invocations that errored or panicked
}

// Dispatcher owns the observer list. It is safe for concurrent use, but
// frames are expected to arrive from a single reader so each one is fully
// dispatched before the next.
type Dispatcher struct {
	mu       sync.Mutex
	handlers []entry
	nextID   uint64

	log      *slog.Logger
	recorder Recorder

	delivered atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

// New creates a dispatcher. Both arguments may be nil.
func New(log *slog.Logger, recorder Recorder) *Dispatcher {
	return &Dispatcher{
		log:      logger.Component(log, "dispatch"),
		recorder: recorder,
	}
}

// Subscribe registers h and returns a function that removes it. Handlers are
// called in registration order. The returned function is idempotent.
func (d *Dispatcher) Subscribe(h Handler) (unsubscribe func()) {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.handlers = append(d.handlers, entry{id: id, handler: h})
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { d.remove(id) })
	}
}

func (d *Dispatcher) remove(id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, e := range d.handlers {
		if e.id == id {
			d.handlers = append(d.handlers[:i:i], d.handlers[i+1:]...)
			return
		}
	}
}

// Len returns the number of subscribed handlers.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.handlers)
}

// Dispatch decodes frame and delivers it. Undecodable frames are logged and
// discarded; the failure never reaches handlers or the caller.
func (d *Dispatcher) Dispatch(frame []byte) {
	if d.recorder != nil {
		d.recorder.FrameReceived()
	}

	ev, err := Decode(frame)
	if err != nil {
		d.dropped.Inc()
		code := apperrors.GetCode(err)
		if d.recorder != nil {
			d.recorder.FrameDropped(code)
		}
		d.log.Warn("discarding inbound frame", "code", code, "error", err, "bytes", len(frame))
		return
	}
	d.Publish(ev)
}

// Publish delivers an already decoded event to every handler.
func (d *Dispatcher) Publish(ev chat.Event) {
	// Snapshot so handlers may subscribe or unsubscribe while we iterate.
	d.mu.Lock()
	snapshot := make([]entry, len(d.handlers))
	copy(snapshot, d.handlers)
	d.mu.Unlock()

	d.delivered.Inc()
	for i, e := range snapshot {
		if err := d.invoke(i, e.handler, ev); err != nil {
			d.failed.Inc()
			code := apperrors.GetCode(err)
			if d.recorder != nil {
				d.recorder.HandlerFailed(code)
			}
			d.log.Error("event handler failed", "handler", i, "event", ev.Kind.String(), "code", code, "error", err)
		}
	}
}

func (d *Dispatcher) invoke(index int, h Handler, ev chat.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.HandlerPanicked(index, r)
		}
	}()
	if err := h(ev); err != nil {
		return apperrors.Wrap(apperrors.CodeHandlerFailed, fmt.Sprintf("handler %d", index), err)
	}
	return nil
}

// Stats returns the current counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Delivered: d.delivered.Load(),
		Dropped:   d.dropped.Load(),
		Failed:    d.failed.Load(),
	}
}

// Decode turns a wire frame into an Event. Frames whose type has no
// dedicated handling decode to EventUnknown; a "message" frame whose payload
// is missing or malformed is an error.
func Decode(frame []byte) (chat.Event, error) {
	var f chat.Frame
	if err := json.Unmarshal(frame, &f); err != nil {
		return chat.Event{}, apperrors.InvalidFrame(err)
	}

	raw := json.RawMessage(append([]byte(nil), frame...))
	switch f.Type {
	case chat.FrameTypeMessage:
		if len(f.Message) == 0 || string(f.Message) == "null" {
			return chat.Event{}, apperrors.InvalidEvent(string(f.Type), fmt.Errorf("missing message payload"))
		}
		var msg chat.Message
		if err := json.Unmarshal(f.Message, &msg); err != nil {
			return chat.Event{}, apperrors.InvalidEvent(string(f.Type), err)
		}
		return chat.Event{Kind: chat.EventChatMessage, Type: f.Type, Message: &msg, Raw: raw}, nil
	default:
		return chat.Event{Kind: chat.EventUnknown, Type: f.Type, Raw: raw}, nil
	}
}
