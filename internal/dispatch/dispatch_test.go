package dispatch

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatsync/client/internal/chat"
	apperrors "github.com/chatsync/client/internal/errors"
)

const messageFrame = `{"type":"message","message":{"id":9,"room_id":2,"sender_id":4,"content":"hi","type":"text","created_at":"2024-05-01T10:00:00Z","updated_at":"2024-05-01T10:00:00Z","is_read":true}}`

type fakeRecorder struct {
	received int
	dropped  []string
	failed   []string
}

func (r *fakeRecorder) FrameReceived()            { r.received++ }
func (r *fakeRecorder) FrameDropped(code string)  { r.dropped = append(r.dropped, code) }
func (r *fakeRecorder) HandlerFailed(code string) { r.failed = append(r.failed, code) }

func TestDecode(t *testing.T) {
	tests := []struct {
		name     string
		frame    string
		wantKind chat.EventKind
		wantType chat.FrameType
		wantCode string
	}{
		{name: "chat message", frame: messageFrame, wantKind: chat.EventChatMessage, wantType: "message"},
		{name: "other type", frame: `{"type":"typing","user_id":3}`, wantKind: chat.EventUnknown, wantType: "typing"},
		{name: "no type", frame: `{}`, wantKind: chat.EventUnknown},
		{name: "not json", frame: `{oops`, wantCode: apperrors.CodeDecodeInvalidFrame},
		{name: "array", frame: `[1,2]`, wantCode: apperrors.CodeDecodeInvalidFrame},
		{name: "message without payload", frame: `{"type":"message"}`, wantCode: apperrors.CodeDecodeInvalidEvent},
		{name: "message with bad payload", frame: `{"type":"message","message":{"id":"nine"}}`, wantCode: apperrors.CodeDecodeInvalidEvent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Decode([]byte(tt.frame))
			if tt.wantCode != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantCode, apperrors.GetCode(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, ev.Kind)
			assert.Equal(t, tt.wantType, ev.Type)
			assert.JSONEq(t, tt.frame, string(ev.Raw))
		})
	}
}

func TestDecode_MessagePayload(t *testing.T) {
	ev, err := Decode([]byte(messageFrame))
	require.NoError(t, err)
	require.NotNil(t, ev.Message)
	assert.Equal(t, int64(9), ev.Message.ID)
	assert.Equal(t, int64(2), ev.Message.RoomID)
	assert.Equal(t, "hi", ev.Message.Content)
	assert.Equal(t, chat.MessageTypeText, ev.Message.Type)
}

func TestDispatch_RegistrationOrder(t *testing.T) {
	d := New(nil, nil)
	var order []string
	d.Subscribe(func(chat.Event) error { order = append(order, "first"); return nil })
	d.Subscribe(func(chat.Event) error { order = append(order, "second"); return nil })

	d.Dispatch([]byte(messageFrame))
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestDispatch_HandlerErrorIsolated(t *testing.T) {
	rec := &fakeRecorder{}
	d := New(nil, rec)

	d.Subscribe(func(chat.Event) error { return errors.New("boom") })
	calls := 0
	d.Subscribe(func(chat.Event) error { calls++; return nil })

	d.Dispatch([]byte(messageFrame))

	assert.Equal(t, 1, calls, "second handler receives the event exactly once")
	assert.Equal(t, []string{apperrors.CodeHandlerFailed}, rec.failed)
	assert.Equal(t, uint64(1), d.Stats().Failed)
}

func TestDispatch_HandlerPanicIsolated(t *testing.T) {
	rec := &fakeRecorder{}
	d := New(nil, rec)

	d.Subscribe(func(chat.Event) error { panic("handler exploded") })
	calls := 0
	d.Subscribe(func(chat.Event) error { calls++; return nil })

	require.NotPanics(t, func() { d.Dispatch([]byte(messageFrame)) })
	assert.Equal(t, 1, calls)
	assert.Equal(t, []string{apperrors.CodeHandlerPanicked}, rec.failed)
}

func TestDispatch_DropsUndecodableFrame(t *testing.T) {
	rec := &fakeRecorder{}
	d := New(nil, rec)
	calls := 0
	d.Subscribe(func(chat.Event) error { calls++; return nil })

	d.Dispatch([]byte("not json"))

	assert.Zero(t, calls)
	assert.Equal(t, 1, rec.received)
	assert.Equal(t, []string{apperrors.CodeDecodeInvalidFrame}, rec.dropped)
	assert.Equal(t, Stats{Dropped: 1}, d.Stats())
}

func TestDispatch_UnknownDeliveredToHandlers(t *testing.T) {
	d := New(nil, nil)
	var got chat.Event
	d.Subscribe(func(ev chat.Event) error { got = ev; return nil })

	d.Dispatch([]byte(`{"type":"presence"}`))
	assert.Equal(t, chat.EventUnknown, got.Kind)
	assert.Equal(t, chat.FrameType("presence"), got.Type)
}

func TestUnsubscribe(t *testing.T) {
	d := New(nil, nil)
	calls := 0
	unsubscribe := d.Subscribe(func(chat.Event) error { calls++; return nil })

	d.Dispatch([]byte(messageFrame))
	unsubscribe()
	unsubscribe() // idempotent
	d.Dispatch([]byte(messageFrame))

	assert.Equal(t, 1, calls)
	assert.Zero(t, d.Len())
}

func TestUnsubscribeDuringDispatch(t *testing.T) {
	d := New(nil, nil)
	var second int
	var unsubscribeSecond func()

	d.Subscribe(func(chat.Event) error {
		unsubscribeSecond()
		return nil
	})
	unsubscribeSecond = d.Subscribe(func(chat.Event) error { second++; return nil })
	third := 0
	d.Subscribe(func(chat.Event) error { third++; return nil })

	d.Dispatch([]byte(messageFrame))
	assert.Equal(t, 1, second, "snapshot still delivers to a handler removed mid-dispatch")
	assert.Equal(t, 1, third)

	d.Dispatch([]byte(messageFrame))
	assert.Equal(t, 1, second)
	assert.Equal(t, 2, third)
}

func TestPublish(t *testing.T) {
	d := New(nil, nil)
	var got *chat.Message
	d.Subscribe(func(ev chat.Event) error { got = ev.Message; return nil })

	d.Publish(chat.NewMessageEvent(chat.Message{ID: 3}))
	require.NotNil(t, got)
	assert.Equal(t, int64(3), got.ID)
	assert.Equal(t, uint64(1), d.Stats().Delivered)
}
