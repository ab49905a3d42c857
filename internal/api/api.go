// Package api is the REST collaborator used for room and history operations.
package api

import (
	"context"

	"github.com/chatsync/client/internal/chat"
)

// API is the set of remote operations the client needs. Every failure is a
// *errors.CodedError in the remote domain; for remote.failed the message is
// the server's own reason.
type API interface {
	ListRooms(ctx context.Context) ([]chat.Room, error)
	ListRoomsWithUnread(ctx context.Context) ([]chat.Room, error)
	CreateRoom(ctx context.Context, req chat.CreateRoomRequest) (chat.Room, error)
	GetRoom(ctx context.Context, roomID int64) (chat.Room, error)
	JoinRoom(ctx context.Context, roomID int64) error
	LeaveRoom(ctx context.Context, roomID int64) error
	Messages(ctx context.Context, roomID int64, page, pageSize int) (chat.Page, error)
	SendMessage(ctx context.Context, req chat.SendMessageRequest) (chat.Message, error)
	MarkAsRead(ctx context.Context, roomID int64) error
	UnreadCount(ctx context.Context, roomID int64) (int, error)
	RoomMembers(ctx context.Context, roomID int64) ([]chat.User, error)
}

// TokenSource supplies the bearer token for each request.
type TokenSource interface {
	Token() (string, error)
}

type roomsResponse struct {
	Rooms []chat.Room `json:"rooms"`
}

type roomResponse struct {
	Room chat.Room `json:"room"`
}

type messageResponse struct {
	Message chat.Message `json:"message"`
}

type unreadResponse struct {
	UnreadCount int `json:"unread_count"`
}

type membersResponse struct {
	Members []chat.User `json:"members"`
}
