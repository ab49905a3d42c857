package chattest

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/chatsync/client/internal/chat"
)

const apiPrefix = "/api/v1"

func (s *Server) createMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+apiPrefix+"/ws", s.handleWebSocket)
	mux.HandleFunc("GET "+apiPrefix+"/rooms", s.handleListRooms)
	mux.HandleFunc("POST "+apiPrefix+"/rooms", s.handleCreateRoom)
	mux.HandleFunc("GET "+apiPrefix+"/rooms/unread", s.handleListUnread)
	mux.HandleFunc("GET "+apiPrefix+"/rooms/{id}", s.handleGetRoom)
	mux.HandleFunc("POST "+apiPrefix+"/rooms/{id}/join", s.handleJoin)
	mux.HandleFunc("POST "+apiPrefix+"/rooms/{id}/leave", s.handleLeave)
	mux.HandleFunc("GET "+apiPrefix+"/rooms/{id}/messages", s.handleMessages)
	mux.HandleFunc("POST "+apiPrefix+"/rooms/{id}/read", s.handleRead)
	mux.HandleFunc("GET "+apiPrefix+"/rooms/{id}/unread", s.handleUnread)
	mux.HandleFunc("GET "+apiPrefix+"/rooms/{id}/members", s.handleMembers)
	mux.HandleFunc("POST "+apiPrefix+"/messages", s.handleSendMessage)
	return s.middleware(mux)
}

// middleware records the request, enforces the bearer token on REST routes
// and applies injected failures.
func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, apiPrefix)

		s.mu.Lock()
		s.requests = append(s.requests, Request{
			Method:        r.Method,
			Path:          path,
			Query:         r.URL.RawQuery,
			Authorization: r.Header.Get("Authorization"),
			RequestID:     r.Header.Get("X-Request-ID"),
		})
		f, failing := s.failures[r.Method+" "+path]
		s.mu.Unlock()

		if failing {
			writeError(w, f.status, f.reason)
			return
		}
		if path != "/ws" && s.token != "" && r.Header.Get("Authorization") != "Bearer "+s.token {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, reason string) {
	writeJSON(w, status, map[string]string{"error": reason})
}

// memberRoom resolves {id} to a room the caller belongs to, writing the
// error response when it cannot.
func (s *Server) memberRoom(w http.ResponseWriter, r *http.Request) (*roomState, bool) {
	rs, ok := s.anyRoom(w, r)
	if !ok {
		return nil, false
	}
	if !rs.member {
		writeError(w, http.StatusForbidden, "not a member of this room")
		return nil, false
	}
	return rs, true
}

// anyRoom resolves {id}. Callers must hold s.mu.
func (s *Server) anyRoom(w http.ResponseWriter, r *http.Request) (*roomState, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid room id")
		return nil, false
	}
	rs := s.roomLocked(id)
	if rs == nil {
		writeError(w, http.StatusNotFound, "room not found")
		return nil, false
	}
	return rs, true
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rooms := []chat.Room{}
	for _, rs := range s.rooms {
		if rs.member {
			rooms = append(rooms, rs.room)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": rooms})
}

func (s *Server) handleListUnread(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rooms := []chat.Room{}
	for _, rs := range s.rooms {
		if rs.member {
			room := rs.room
			n := rs.unread
			room.UnreadCount = &n
			rooms = append(rooms, room)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": rooms})
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req chat.CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Type == "" {
		req.Type = chat.RoomTypeGroup
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	room := chat.Room{
		ID:          s.nextRoomID,
		Name:        req.Name,
		Description: req.Description,
		Type:        req.Type,
		OwnerID:     s.self.ID,
		MaxMembers:  500,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.nextRoomID++
	s.rooms = append(s.rooms, &roomState{room: room, member: true, members: []chat.User{s.self}})
	writeJSON(w, http.StatusCreated, map[string]any{"room": room})
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rs, ok := s.anyRoom(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"room": rs.room})
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs, ok := s.anyRoom(w, r)
	if !ok {
		return
	}
	if rs.member {
		writeError(w, http.StatusConflict, "already a member of this room")
		return
	}
	rs.member = true
	rs.members = append(rs.members, s.self)
	writeJSON(w, http.StatusOK, map[string]string{"message": "joined room"})
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs, ok := s.memberRoom(w, r)
	if !ok {
		return
	}
	rs.member = false
	rs.unread = 0
	kept := rs.members[:0]
	for _, u := range rs.members {
		if u.ID != s.self.ID {
			kept = append(kept, u)
		}
	}
	rs.members = kept
	writeJSON(w, http.StatusOK, map[string]string{"message": "left room"})
}

// handleMessages serves one history page: page 1 is the newest window and
// each page is oldest first.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	size := queryInt(r, "page_size", 20)

	s.mu.RLock()
	defer s.mu.RUnlock()
	rs, ok := s.memberRoom(w, r)
	if !ok {
		return
	}

	msgs := []chat.Message{}
	end := len(rs.messages) - (page-1)*size
	if end > 0 {
		start := max(end-size, 0)
		msgs = append(msgs, rs.messages[start:end]...)
	}
	writeJSON(w, http.StatusOK, chat.Page{Messages: msgs, Page: page, PageSize: size})
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs, ok := s.memberRoom(w, r)
	if !ok {
		return
	}
	rs.unread = 0
	for i := range rs.messages {
		rs.messages[i].IsRead = true
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "marked as read"})
}

func (s *Server) handleUnread(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rs, ok := s.memberRoom(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"unread_count": rs.unread})
}

func (s *Server) handleMembers(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rs, ok := s.memberRoom(w, r)
	if !ok {
		return
	}
	members := append([]chat.User{}, rs.members...)
	writeJSON(w, http.StatusOK, map[string]any{"members": members})
}

// handleSendMessage stores a posted message. It is not echoed to websocket
// clients; tests push live frames explicitly.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req chat.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if req.Type != "" && !req.Type.Valid() {
		writeError(w, http.StatusBadRequest, "invalid message type")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rs := s.roomLocked(req.RoomID)
	if rs == nil {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	if !rs.member {
		writeError(w, http.StatusForbidden, "not a member of this room")
		return
	}
	sender := s.self
	msg := s.stampLocked(req.RoomID, chat.Message{
		SenderID: sender.ID,
		Sender:   &sender,
		Content:  req.Content,
		Type:     req.Type,
	})
	rs.messages = append(rs.messages, msg)
	writeJSON(w, http.StatusCreated, map[string]any{"message": msg})
}

func queryInt(r *http.Request, key string, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n < 1 {
		return def
	}
	return n
}
