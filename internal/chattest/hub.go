package chattest

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	readWait       = 60 * time.Second
	maxMessageSize = 512 * 1024
)

// client is one websocket connection. Its own goroutine does all writes so
// a slow client cannot block the broadcaster.
type client struct {
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	server *Server
}

// closeSend signals the client to shut down. Safe to call more than once.
func (c *client) closeSend() {
	c.once.Do(func() { close(c.done) })
}

// ClientCount returns the number of connected websocket clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Broadcast queues a raw frame for every connected client. It never blocks;
// the frame is dropped if the queue is full or the server is closed.
func (s *Server) Broadcast(frame []byte) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return
	}
	select {
	case s.broadcast <- frame:
	default:
		s.log.Warn("broadcast channel full, dropping frame")
	}
}

// DropClients closes every websocket connection without a close handshake,
// as a network failure would.
func (s *Server) DropClients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.clients)
	for c := range s.clients {
		c.conn.Close()
		c.closeSend()
		delete(s.clients, c)
	}
	return n
}

func (s *Server) runBroadcaster() {
	for frame := range s.broadcast {
		s.mu.RLock()
		for c := range s.clients {
			select {
			case <-c.done:
			case c.send <- frame:
			default:
				s.log.Warn("client send buffer full, dropping frame")
			}
		}
		s.mu.RUnlock()
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.token != "" && r.URL.Query().Get("token") != s.token {
		s.log.Info("websocket rejected: bad token")
		http.Error(w, "Unauthorized: invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		conn:   conn,
		send:   make(chan []byte, channelBufferSize),
		done:   make(chan struct{}),
		server: s,
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.clients[c] = true
	s.mu.Unlock()

	s.log.Debug("client connected", "clients", s.ClientCount())
	go c.writePump()
	go c.readPump()
}

// writePump drains the send channel to the connection and pings on an
// interval.
func (c *client) writePump() {
	ticker := time.NewTicker(c.server.pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.server.log.Debug("write failed", "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump records inbound frames until the connection fails, then
// unregisters the client.
func (c *client) readPump() {
	defer func() {
		c.server.mu.Lock()
		delete(c.server.clients, c)
		c.server.mu.Unlock()
		c.closeSend()
		c.server.log.Debug("client disconnected", "clients", c.server.ClientCount())
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(readWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readWait))
		return nil
	})
	ping := c.conn.PingHandler()
	c.conn.SetPingHandler(func(data string) error {
		c.conn.SetReadDeadline(time.Now().Add(readWait))
		return ping(data)
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway,
				websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.server.log.Debug("read failed", "error", err)
			}
			return
		}
		c.server.mu.Lock()
		c.server.received = append(c.server.received, data)
		c.server.mu.Unlock()
	}
}
