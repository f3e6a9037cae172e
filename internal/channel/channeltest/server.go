// Package channeltest provides an in-process push channel backend for tests.
package channeltest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Frame mirrors the channel wire format
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Conn is one connected channel client
type Conn struct {
	ID       string
	ClientID string
	Conn     *websocket.Conn
	Send     chan []byte
	Done     chan struct{}
	once     sync.Once
}

func (c *Conn) close() {
	c.once.Do(func() {
		close(c.Done)
		c.Conn.Close()
	})
}

// Server accepts channel connections, records inbound frames and lets tests
// push events or drop connections
type Server struct {
	*httptest.Server

	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    map[string]*Conn
	received []Frame
	dials    int
	reject   bool
	autoPong bool
	changed  chan struct{}
}

// NewServer starts a server that upgrades every request on any path
func NewServer() *Server {
	s := &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		conns:    make(map[string]*Conn),
		autoPong: true,
		changed:  make(chan struct{}),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// URL returns the ws:// address of the server
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.Server.URL, "http")
}

// Reject makes new handshakes fail with 503 while set
func (s *Server) Reject(reject bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reject = reject
}

// AutoPong controls whether ping frames are answered
func (s *Server) AutoPong(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoPong = enabled
}

// Dials returns the number of handshakes seen, rejected ones included
func (s *Server) Dials() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

// Connections returns the number of open connections
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Received returns a copy of every inbound frame except pings
func (s *Server) Received() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Frame(nil), s.received...)
}

// ReceivedEvents returns the inbound frames named event
func (s *Server) ReceivedEvents(event string) []Frame {
	var out []Frame
	for _, f := range s.Received() {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

// Emit sends an event to every open connection
func (s *Server) Emit(event string, data interface{}) {
	raw, _ := json.Marshal(data)
	msg, _ := json.Marshal(Frame{Event: event, Data: raw})

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		select {
		case c.Send <- msg:
		case <-c.Done:
		}
	}
}

// DropAll closes every open connection from the server side
func (s *Server) DropAll() {
	s.mu.Lock()
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
}

// WaitFor blocks until cond holds or timeout expires
func (s *Server) WaitFor(cond func(s *Server) bool, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		s.mu.Lock()
		changed := s.changed
		s.mu.Unlock()

		if cond(s) {
			return true
		}
		select {
		case <-changed:
		case <-deadline:
			return cond(s)
		}
	}
}

// Close drops all connections and shuts the server down
func (s *Server) Close() {
	s.DropAll()
	s.Server.Close()
}

// notifyLocked wakes WaitFor callers
func (s *Server) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.dials++
	reject := s.reject
	s.notifyLocked()
	s.mu.Unlock()

	if reject {
		http.Error(w, "channel unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &Conn{
		ID:       uuid.New().String(),
		ClientID: r.Header.Get("X-Client-ID"),
		Conn:     conn,
		Send:     make(chan []byte, 256),
		Done:     make(chan struct{}),
	}

	s.mu.Lock()
	s.conns[c.ID] = c
	s.notifyLocked()
	s.mu.Unlock()

	go s.writePump(c)
	s.readPump(c)

	s.mu.Lock()
	delete(s.conns, c.ID)
	s.notifyLocked()
	s.mu.Unlock()
}

func (s *Server) writePump(c *Conn) {
	defer c.close()

	for {
		select {
		case <-c.Done:
			return
		case data := <-c.Send:
			if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

func (s *Server) readPump(c *Conn) {
	defer c.close()

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			return
		}

		var f Frame
		if err := json.Unmarshal(message, &f); err != nil {
			continue
		}

		s.mu.Lock()
		pong := s.autoPong
		if f.Event != "ping" {
			s.received = append(s.received, f)
		}
		s.notifyLocked()
		s.mu.Unlock()

		if f.Event == "ping" && pong {
			reply, _ := json.Marshal(Frame{Event: "pong"})
			select {
			case c.Send <- reply:
			case <-c.Done:
				return
			}
		}
	}
}
