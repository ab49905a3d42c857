// Package chattest runs an in-process chat backend for tests: the REST
// endpoints under /api/v1 backed by in-memory rooms, and a websocket hub at
// /api/v1/ws that broadcasts live frames to every connected client.
package chattest

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chatsync/client/internal/chat"
	"github.com/chatsync/client/internal/logger"
)

// channelBufferSize is the buffer size for the broadcast channel and the
// per-client send channels. Frames are dropped when a buffer is full.
const channelBufferSize = 256

// DefaultPingInterval is how often the hub pings each client.
const DefaultPingInterval = 30 * time.Second

// Request is one request the server received.
type Request struct {
	Method        string
	Path          string
	Query         string
	Authorization string
	RequestID     string
}

type failure struct {
	status int
	reason string
}

type roomState struct {
	room     chat.Room
	member   bool
	unread   int
	messages []chat.Message
	members  []chat.User
}

// Option configures a Server.
type Option func(*Server)

// WithToken makes the server reject REST calls without "Bearer token" and
// websocket upgrades without ?token=token.
func WithToken(token string) Option {
	return func(s *Server) { s.token = token }
}

// WithUser sets the identity of the caller; it becomes the sender of posted
// messages and the owner of created rooms.
func WithUser(u chat.User) Option {
	return func(s *Server) { s.self = u }
}

// WithPingInterval overrides DefaultPingInterval.
func WithPingInterval(d time.Duration) Option {
	return func(s *Server) { s.pingInterval = d }
}

// WithLogger sets the server's logger. The default discards.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// Server is a fake chat backend listening on a loopback port.
type Server struct {
	srv          *httptest.Server
	upgrader     websocket.Upgrader
	log          *slog.Logger
	token        string
	self         chat.User
	pingInterval time.Duration

	// mu protects everything below, including the stopped flag that guards
	// sends on broadcast.
	mu         sync.RWMutex
	rooms      []*roomState
	nextRoomID int64
	nextMsgID  int64
	failures   map[string]failure
	requests   []Request
	received   [][]byte
	clients    map[*client]bool
	broadcast  chan []byte
	stopped    bool
}

// New starts a server. Call Close when done.
func New(opts ...Option) *Server {
	s := &Server{
		self:         chat.User{ID: 1, Username: "me"},
		pingInterval: DefaultPingInterval,
		nextRoomID:   1,
		nextMsgID:    1,
		failures:     make(map[string]failure),
		clients:      make(map[*client]bool),
		broadcast:    make(chan []byte, channelBufferSize),
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logger.Component(s.log, "chattest")

	s.srv = httptest.NewServer(s.createMux())
	go s.runBroadcaster()
	return s
}

// URL is the server's base http URL.
func (s *Server) URL() string { return s.srv.URL }

// APIURL is the REST base URL.
func (s *Server) APIURL() string { return s.srv.URL + "/api/v1" }

// WSURL is the websocket endpoint.
func (s *Server) WSURL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/api/v1/ws"
}

// Close disconnects every client and stops the listener.
func (s *Server) Close() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	for c := range s.clients {
		c.closeSend()
	}
	s.clients = make(map[*client]bool)
	close(s.broadcast)
	s.mu.Unlock()

	s.srv.CloseClientConnections()
	s.srv.Close()
}

// AddRoom stores a room and returns its id. A zero ID is assigned. member
// controls whether the caller belongs to it.
func (s *Server) AddRoom(room chat.Room, member bool) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if room.ID == 0 {
		room.ID = s.nextRoomID
	}
	if room.ID >= s.nextRoomID {
		s.nextRoomID = room.ID + 1
	}
	if room.Type == "" {
		room.Type = chat.RoomTypeGroup
	}
	if rs := s.roomLocked(room.ID); rs != nil {
		rs.room = room
		rs.member = member
		return room.ID
	}
	s.rooms = append(s.rooms, &roomState{room: room, member: member})
	return room.ID
}

// SetUnread sets the caller's unread count for a room.
func (s *Server) SetUnread(roomID int64, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rs := s.roomLocked(roomID); rs != nil {
		rs.unread = n
	}
}

// Unread returns the caller's unread count for a room.
func (s *Server) Unread(roomID int64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rs := s.roomLocked(roomID); rs != nil {
		return rs.unread
	}
	return 0
}

// SetMembers sets a room's member list.
func (s *Server) SetMembers(roomID int64, users ...chat.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rs := s.roomLocked(roomID); rs != nil {
		rs.members = append([]chat.User(nil), users...)
	}
}

// AddMessages appends messages to a room's history, oldest first. Zero IDs
// are assigned.
func (s *Server) AddMessages(roomID int64, msgs ...chat.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs := s.roomLocked(roomID)
	if rs == nil {
		return
	}
	for _, m := range msgs {
		rs.messages = append(rs.messages, s.stampLocked(roomID, m))
	}
}

// Fail makes method+path answer status with reason as the error body until
// Clear is called. path is relative to /api/v1, e.g. "/rooms/5/join".
func (s *Server) Fail(method, path string, status int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method+" "+path] = failure{status: status, reason: reason}
}

// Clear removes every injected failure.
func (s *Server) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = make(map[string]failure)
}

// Requests returns a copy of the requests seen so far.
func (s *Server) Requests() []Request {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Received returns a copy of the frames clients sent over the websocket.
func (s *Server) Received() [][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([][]byte, len(s.received))
	copy(out, s.received)
	return out
}

// Push stores msg in its room's history, bumps the room's unread count and
// broadcasts it as a message frame.
func (s *Server) Push(msg chat.Message) chat.Message {
	s.mu.Lock()
	if rs := s.roomLocked(msg.RoomID); rs != nil {
		msg = s.stampLocked(msg.RoomID, msg)
		rs.messages = append(rs.messages, msg)
		rs.unread++
	}
	s.mu.Unlock()

	data, err := json.Marshal(struct {
		Type    string       `json:"type"`
		Message chat.Message `json:"message"`
	}{Type: "message", Message: msg})
	if err != nil {
		s.log.Error("encode frame failed", "error", err)
		return msg
	}
	s.Broadcast(data)
	return msg
}

func (s *Server) roomLocked(roomID int64) *roomState {
	for _, rs := range s.rooms {
		if rs.room.ID == roomID {
			return rs
		}
	}
	return nil
}

func (s *Server) stampLocked(roomID int64, m chat.Message) chat.Message {
	if m.ID == 0 {
		m.ID = s.nextMsgID
	}
	if m.ID >= s.nextMsgID {
		s.nextMsgID = m.ID + 1
	}
	m.RoomID = roomID
	if m.Type == "" {
		m.Type = chat.MessageTypeText
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
		m.UpdatedAt = m.CreatedAt
	}
	return m
}
