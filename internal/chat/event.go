package chat

import "encoding/json"

// FrameType is the discriminator of a wire frame.
type FrameType string

// FrameTypeMessage is a live chat message push.
// Other frame types are delivered as EventUnknown.
const FrameTypeMessage FrameType = "message"

// Frame is the envelope of every frame on the websocket, in both directions.
//
//	{"type": "message", "message": {...}}
type Frame struct {
	// Type identifies what kind of frame this is.
	Type FrameType `json:"type"`

	// ID is an optional client-assigned identifier for outbound frames.
	ID string `json:"id,omitempty"`

	// Message is set for FrameTypeMessage frames.
	Message json.RawMessage `json:"message,omitempty"`
}

// EventKind tags the Event variant.
type EventKind int

const (
	// EventUnknown is any frame whose type has no dedicated handling.
	EventUnknown EventKind = iota

	// EventChatMessage carries a live Message.
	EventChatMessage
)

// String returns a short name for logs.
func (k EventKind) String() string {
	switch k {
	case EventChatMessage:
		return "chat_message"
	default:
		return "unknown"
	}
}

// Event is a decoded inbound frame.
type Event struct {
	Kind EventKind

	// Type is the frame's type field as received.
	Type FrameType

	// Message is non-nil only for EventChatMessage.
	Message *Message

	// Raw is the undecoded frame, kept so handlers can inspect unknown types.
	Raw json.RawMessage
}

// NewMessageEvent wraps a message as a live push event.
func NewMessageEvent(msg Message) Event {
	return Event{Kind: EventChatMessage, Type: FrameTypeMessage, Message: &msg}
}
