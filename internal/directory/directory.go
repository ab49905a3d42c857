// Package directory tracks the rooms the user belongs to and which one is
// focused, keeping the unread ledger and the message buffer consistent with
// focus changes and membership operations.
package directory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/chatsync/client/internal/api"
	"github.com/chatsync/client/internal/buffer"
	"github.com/chatsync/client/internal/chat"
	apperrors "github.com/chatsync/client/internal/errors"
	"github.com/chatsync/client/internal/ledger"
	"github.com/chatsync/client/internal/logger"
)

// DefaultPageSize is the history page size when Options.PageSize is zero.
const DefaultPageSize = 20

// DefaultMaxMessageLength caps outbound content when Options.MaxMessageLength
// is zero.
const DefaultMaxMessageLength = 1000

// Options wires a Directory to its collaborators.
type Options struct {
	API      api.API
	Ledger   *ledger.Ledger
	Buffer   *buffer.Buffer
	PageSize int

	// MaxMessageLength caps outbound content, in characters.
	MaxMessageLength int

	Logger *slog.Logger
}

// Directory is the room directory. Remote calls run without holding the
// lock; their results are applied only if they are still relevant.
type Directory struct {
	api      api.API
	ledger   *ledger.Ledger
	buf      *buffer.Buffer
	pageSize int
	maxLen   int
	log      *slog.Logger

	mu       sync.Mutex
	rooms    []chat.Room
	focused  *chat.Room
	focusGen uint64
}

// New creates an empty directory.
func New(opts Options) *Directory {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.MaxMessageLength <= 0 {
		opts.MaxMessageLength = DefaultMaxMessageLength
	}
	return &Directory{
		api:      opts.API,
		ledger:   opts.Ledger,
		buf:      opts.Buffer,
		pageSize: opts.PageSize,
		maxLen:   opts.MaxMessageLength,
		log:      logger.Component(opts.Logger, "directory"),
	}
}

// Rooms returns a copy of the member rooms in server order.
func (d *Directory) Rooms() []chat.Room {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]chat.Room, len(d.rooms))
	copy(out, d.rooms)
	return out
}

// Room returns the member room with the given id.
func (d *Directory) Room(roomID int64) (chat.Room, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i := d.indexLocked(roomID); i >= 0 {
		return d.rooms[i], true
	}
	return chat.Room{}, false
}

// Lookup returns a room by id: the local copy for a member room, otherwise
// the server's record. The directory is not changed.
func (d *Directory) Lookup(ctx context.Context, roomID int64) (chat.Room, bool, error) {
	if room, ok := d.Room(roomID); ok {
		return room, true, nil
	}
	room, err := d.api.GetRoom(ctx, roomID)
	if err != nil {
		return chat.Room{}, false, err
	}
	return room, false, nil
}

// Focused returns the focused room, if any.
func (d *Directory) Focused() (chat.Room, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.focused == nil {
		return chat.Room{}, false
	}
	return *d.focused, true
}

// Refresh reloads the member rooms and their unread counts. Both listings
// must succeed before anything is applied. If the focused room is no longer
// a member, focus is cleared.
func (d *Directory) Refresh(ctx context.Context) error {
	rooms, err := d.api.ListRooms(ctx)
	if err != nil {
		d.log.Warn("list rooms failed", "error", err)
		return err
	}
	annotated, err := d.api.ListRoomsWithUnread(ctx)
	if err != nil {
		d.log.Warn("list unread failed", "error", err)
		return err
	}

	d.mu.Lock()
	d.rooms = rooms
	if d.focused != nil {
		if i := d.indexLocked(d.focused.ID); i >= 0 {
			room := d.rooms[i]
			d.focused = &room
		} else {
			d.clearFocusLocked()
		}
	}
	d.mu.Unlock()

	for _, r := range annotated {
		if r.UnreadCount != nil {
			d.ledger.Set(r.ID, *r.UnreadCount)
		}
	}
	d.log.Debug("rooms refreshed", "count", len(rooms))
	return nil
}

// SetFocus focuses room, resetting its unread count, clearing the buffer and
// loading the newest history page. A nil room clears focus and leaves the
// buffer as it is. The room must be a member of the directory.
func (d *Directory) SetFocus(ctx context.Context, room *chat.Room) error {
	d.mu.Lock()
	if room == nil {
		d.clearFocusLocked()
		d.mu.Unlock()
		return nil
	}
	i := d.indexLocked(room.ID)
	if i < 0 {
		d.mu.Unlock()
		return apperrors.NotMember(room.ID)
	}
	focused := d.rooms[i]
	d.focused = &focused
	d.focusGen++
	d.ledger.Focus(focused.ID)
	d.buf.Clear()
	d.mu.Unlock()

	d.log.Debug("focus changed", "room_id", focused.ID)
	_, err := d.LoadPage(ctx, 1)
	return err
}

func (d *Directory) clearFocusLocked() {
	d.focused = nil
	d.focusGen++
	d.ledger.ClearFocus()
}

// LoadPage fetches a history page of the focused room. Page 1 replaces the
// buffer and page > 1 is prepended. A page that arrives after focus moved
// is discarded. A failure on page > 1 yields an empty page and no error.
func (d *Directory) LoadPage(ctx context.Context, page int) (chat.Page, error) {
	if page < 1 {
		page = 1
	}

	d.mu.Lock()
	if d.focused == nil {
		d.mu.Unlock()
		return chat.Page{}, apperrors.NoFocus()
	}
	roomID := d.focused.ID
	gen := d.focusGen
	d.mu.Unlock()

	result, err := d.api.Messages(ctx, roomID, page, d.pageSize)
	if err != nil {
		if page == 1 {
			d.log.Warn("load history failed", "room_id", roomID, "error", err)
			return chat.Page{}, err
		}
		d.log.Warn("load older history failed", "room_id", roomID, "page", page, "error", err)
		return chat.Page{Messages: []chat.Message{}, Page: page, PageSize: d.pageSize}, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if gen != d.focusGen {
		d.log.Debug("discarding stale page", "room_id", roomID, "page", page)
		return chat.Page{Messages: []chat.Message{}, Page: page, PageSize: d.pageSize}, nil
	}
	if page == 1 {
		d.buf.ReplaceAll(result.Messages)
	} else {
		d.buf.PrependPage(result.Messages)
	}
	return result, nil
}

// Create creates a room and adds it to the directory.
func (d *Directory) Create(ctx context.Context, req chat.CreateRoomRequest) (chat.Room, error) {
	room, err := d.api.CreateRoom(ctx, req)
	if err != nil {
		return chat.Room{}, err
	}

	d.mu.Lock()
	if i := d.indexLocked(room.ID); i >= 0 {
		d.rooms[i] = room
	} else {
		d.rooms = append(d.rooms, room)
	}
	d.mu.Unlock()

	d.log.Info("room created", "room_id", room.ID, "name", room.Name)
	return room, nil
}

// Join joins a room and reloads the directory so membership metadata comes
// from the server.
func (d *Directory) Join(ctx context.Context, roomID int64) error {
	if err := d.api.JoinRoom(ctx, roomID); err != nil {
		return err
	}
	d.log.Info("room joined", "room_id", roomID)
	return d.Refresh(ctx)
}

// Leave leaves a room, removes it and clears focus if it was focused.
func (d *Directory) Leave(ctx context.Context, roomID int64) error {
	if err := d.api.LeaveRoom(ctx, roomID); err != nil {
		return err
	}

	d.mu.Lock()
	if i := d.indexLocked(roomID); i >= 0 {
		d.rooms = append(d.rooms[:i:i], d.rooms[i+1:]...)
	}
	if d.focused != nil && d.focused.ID == roomID {
		d.clearFocusLocked()
	}
	d.mu.Unlock()

	d.ledger.Reset(roomID)
	d.log.Info("room left", "room_id", roomID)
	return nil
}

// Send posts a message to the focused room and appends the server's copy
// to the buffer if the room is still focused. Invalid messages fail with
// message.invalid before any remote call.
func (d *Directory) Send(ctx context.Context, content string, msgType chat.MessageType) (chat.Message, error) {
	if msgType == "" {
		msgType = chat.MessageTypeText
	}
	if err := d.validate(content, msgType); err != nil {
		return chat.Message{}, err
	}

	d.mu.Lock()
	if d.focused == nil {
		d.mu.Unlock()
		return chat.Message{}, apperrors.NoFocus()
	}
	roomID := d.focused.ID
	d.mu.Unlock()

	msg, err := d.api.SendMessage(ctx, chat.SendMessageRequest{RoomID: roomID, Content: content, Type: msgType})
	if err != nil {
		return chat.Message{}, err
	}

	d.mu.Lock()
	if d.focused != nil && d.focused.ID == roomID {
		d.buf.Append(msg)
	}
	d.setPreviewLocked(msg)
	d.mu.Unlock()
	return msg, nil
}

func (d *Directory) validate(content string, msgType chat.MessageType) error {
	switch {
	case !msgType.Valid():
		return apperrors.InvalidMessage(fmt.Sprintf("unsupported message type %q", msgType))
	case strings.TrimSpace(content) == "":
		return apperrors.InvalidMessage("message content is empty")
	case utf8.RuneCountInString(content) > d.maxLen:
		return apperrors.InvalidMessage(fmt.Sprintf("message content exceeds %d characters", d.maxLen))
	}
	return nil
}

// MarkAsRead marks a room read on the server, then zeroes its unread count
// and, if it is focused, the buffer's read flags.
func (d *Directory) MarkAsRead(ctx context.Context, roomID int64) error {
	if err := d.api.MarkAsRead(ctx, roomID); err != nil {
		return err
	}

	d.ledger.Reset(roomID)
	d.mu.Lock()
	if d.focused != nil && d.focused.ID == roomID {
		d.buf.MarkRead()
	}
	d.mu.Unlock()
	return nil
}

// RefreshUnread reloads one room's unread count into the ledger.
func (d *Directory) RefreshUnread(ctx context.Context, roomID int64) (int, error) {
	count, err := d.api.UnreadCount(ctx, roomID)
	if err != nil {
		return 0, err
	}
	d.ledger.Set(roomID, count)
	return d.ledger.Count(roomID), nil
}

// Members loads a room's member list and caches it on the room.
func (d *Directory) Members(ctx context.Context, roomID int64) ([]chat.User, error) {
	members, err := d.api.RoomMembers(ctx, roomID)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	if i := d.indexLocked(roomID); i >= 0 {
		d.rooms[i].Members = members
	}
	d.mu.Unlock()
	return members, nil
}

// HandleEvent applies a live chat message: it is appended to the buffer when
// its room is focused, and becomes the preview of its room either way.
func (d *Directory) HandleEvent(ev chat.Event) error {
	if ev.Kind != chat.EventChatMessage || ev.Message == nil {
		return nil
	}
	msg := *ev.Message

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.focused != nil && d.focused.ID == msg.RoomID {
		d.buf.Append(msg)
	}
	d.setPreviewLocked(msg)
	return nil
}

func (d *Directory) setPreviewLocked(msg chat.Message) {
	if i := d.indexLocked(msg.RoomID); i >= 0 {
		preview := msg
		d.rooms[i].LastMessage = &preview
	}
}

func (d *Directory) indexLocked(roomID int64) int {
	for i := range d.rooms {
		if d.rooms[i].ID == roomID {
			return i
		}
	}
	return -1
}
