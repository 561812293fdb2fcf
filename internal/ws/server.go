package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
)

// HandlerFunc processes a client message. It receives the connection and the
// raw message. Handlers must return immediately — long-running work should be
// spawned in a goroutine.
type HandlerFunc func(c *Conn, msg *ClientMessage)

// Server manages WebSocket connections and message dispatch.
type Server struct {
	mu    sync.RWMutex
	conns map[*Conn]struct{}

	handlers     map[string]HandlerFunc
	disconnectFn func(c *Conn) // called when a connection is removed
}

func NewServer() *Server {
	return &Server{
		conns:    make(map[*Conn]struct{}),
		handlers: make(map[string]HandlerFunc),
	}
}

// Handle registers a handler for a named event.
func (s *Server) Handle(event string, fn HandlerFunc) {
	s.handlers[event] = fn
}

// ServeHTTP upgrades the HTTP request to a WebSocket connection.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Allow all origins in dev; in production the binary serves the
		// shell from the same origin so this is fine.
		InsecureSkipVerify: true,
	})
	if err != nil {
		slog.Error("ws accept", "err", err)
		return
	}

	c := newConn(ws, s)
	s.add(c)

	slog.Debug("ws connected", "remote", r.RemoteAddr)

	// Fire the "connect" pseudo-event so handlers can send initial data
	if h, ok := s.handlers["__connect"]; ok {
		h(c, nil)
	}

	// Block on the read pump — this goroutine is owned by net/http
	c.readPump(r.Context())
}

// Broadcast marshals the event once and sends the pre-encoded bytes to every
// connected client. For N connections this saves (N-1) json.Marshal calls.
func (s *Server) Broadcast(event string, payload any) {
	data, err := json.Marshal(ServerMessage[any]{Event: event, Data: payload})
	if err != nil {
		slog.Error("ws marshal broadcast", "err", err)
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for c := range s.conns {
		c.writeRaw(data)
	}
}

// BroadcastAuthenticated sends a push event to all authenticated clients,
// marshalling the payload once.
func (s *Server) BroadcastAuthenticated(event string, payload any) {
	data, err := json.Marshal(ServerMessage[any]{Event: event, Data: payload})
	if err != nil {
		slog.Error("ws marshal broadcast", "err", err)
		return
	}
	s.BroadcastAuthenticatedBytes(data)
}

// BroadcastAuthenticatedBytes sends pre-marshaled JSON bytes to all
// authenticated connections. Use this when you've already serialized the
// ServerMessage and want to avoid re-marshaling.
func (s *Server) BroadcastAuthenticatedBytes(data []byte) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for c := range s.conns {
		if c.UserID() != 0 {
			c.writeRaw(data)
		}
	}
}

// ConnectionCount returns the number of active connections.
func (s *Server) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// HasAuthenticatedConns returns true if at least one authenticated client
// is connected. This is O(n) in the worst case but short-circuits on the
// first match.
func (s *Server) HasAuthenticatedConns() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.conns {
		if c.UserID() != 0 {
			return true
		}
	}
	return false
}

func (s *Server) add(c *Conn) {
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) remove(c *Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()

	if s.disconnectFn != nil {
		s.disconnectFn(c)
	}

	slog.Debug("ws disconnected", "remaining", s.ConnectionCount())
}

// OnDisconnect registers a callback that fires when a connection is removed.
// Used to tear down the connection's event subscriptions and terminal writers.
func (s *Server) OnDisconnect(fn func(c *Conn)) {
	s.disconnectFn = fn
}

func (s *Server) dispatch(c *Conn, msg *ClientMessage) {
	// Run each handler in its own goroutine so slow handlers (stats samples,
	// image pulls) don't block the read pump and delay other messages.
	go s.Dispatch(c, msg)
}

// Dispatch looks up and invokes the handler for the given message event.
func (s *Server) Dispatch(c *Conn, msg *ClientMessage) {
	h, ok := s.handlers[msg.Event]
	if !ok {
		slog.Warn("ws unknown event", "event", msg.Event)
		if msg.ID != nil {
			SendAck(c, *msg.ID, ErrorResponse{OK: false, Msg: "unknown event: " + msg.Event})
		}
		return
	}
	h(c, msg)
}

// HandleConnect registers a handler that fires when a new WebSocket connection
// is established (before the read pump starts).
func (s *Server) HandleConnect(fn func(c *Conn)) {
	s.handlers["__connect"] = func(c *Conn, _ *ClientMessage) {
		fn(c)
	}
}
