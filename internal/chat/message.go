// Package chat defines the data model shared by the synchronization engine:
// messages, rooms, history pages and the inbound event variant.
package chat

import "time"

// MessageType is the content kind of a chat message.
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeFile  MessageType = "file"
)

// Valid reports whether t is one of the known content kinds.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile:
		return true
	}
	return false
}

// User is the public profile of a room member or message sender.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Nickname string `json:"nickname,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
	Status   string `json:"status,omitempty"`
}

// Message is a single chat message. Its identity is the server-assigned ID,
// unique within RoomID.
//
// IsRead is a local projection. The value the server sends is not trusted on
// receipt; the buffer resets it and mark-read sets it.
type Message struct {
	ID        int64       `json:"id"`
	RoomID    int64       `json:"room_id"`
	SenderID  int64       `json:"sender_id"`
	Sender    *User       `json:"sender,omitempty"`
	Content   string      `json:"content"`
	Type      MessageType `json:"type"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
	IsRead    bool        `json:"is_read"`
}

// RoomType distinguishes direct conversations from group rooms.
type RoomType string

const (
	RoomTypeSingle RoomType = "single"
	RoomTypeGroup  RoomType = "group"
)

// Room is a chat room the user belongs to.
type Room struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Type        RoomType  `json:"type"`
	OwnerID     int64     `json:"owner_id"`
	MaxMembers  int       `json:"max_members"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Members     []User    `json:"members,omitempty"`

	// LastMessage is the preview shown next to the room name.
	LastMessage *Message `json:"last_message,omitempty"`

	// UnreadCount is only populated by the unread-annotated room listing.
	UnreadCount *int `json:"unread_count,omitempty"`
}

// Page is one slice of a room's message history. Page numbers start at 1;
// page 1 is the newest window. Messages are in chronological order.
type Page struct {
	Messages []Message `json:"messages"`
	Page     int       `json:"page"`
	PageSize int       `json:"page_size"`
}

// CreateRoomRequest is the payload for creating a room.
type CreateRoomRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Type        RoomType `json:"type"`
	MemberIDs   []int64  `json:"member_ids"`
}

// SendMessageRequest is the payload for posting a message to a room.
type SendMessageRequest struct {
	RoomID  int64       `json:"room_id"`
	Content string      `json:"content"`
	Type    MessageType `json:"type"`
}
