// Package gatewaytest runs an in-process gateway for tests.
//
// The server greets every connection with hello, answers identify with
// READY, resume with RESUMED (or a non-resumable invalid session for an
// unknown session id) and heartbeats with acks. Tests push dispatches and
// close codes to the current connection.
package gatewaytest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/luciancaetano/kephasgate"
	"github.com/luciancaetano/kephasgate/internal/protocol"
)

var ErrNoConnection = errors.New("gatewaytest: no open connection")

// Config configures a Server.
type Config struct {
	// HeartbeatInterval announced in hello. Defaults to 45s.
	HeartbeatInterval time.Duration

	// SilentHello suppresses hello.
	SilentHello bool

	// IgnoreHeartbeats suppresses heartbeat acks.
	IgnoreHeartbeats bool

	// InvalidateResumes answers every resume with a resumable invalid
	// session.
	InvalidateResumes bool

	// ReadyData is merged into the READY payload.
	ReadyData map[string]any
}

// Server is a fake gateway.
type Server struct {
	cfg      Config
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu          sync.Mutex
	current     *conn
	connections int
	seq         int64
	sessions    map[string]bool
	identifies  []protocol.Identify
	resumes     []protocol.Resume
	heartbeats  []json.RawMessage
	received    []protocol.Frame
}

// New starts a server.
func New(cfg Config) *Server {
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 45 * time.Second
	}
	s := &Server{
		cfg:      cfg,
		sessions: make(map[string]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// URL returns the websocket url of the server.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

// Close closes every connection and stops the server.
func (s *Server) Close() {
	s.mu.Lock()
	c := s.current
	s.mu.Unlock()
	if c != nil {
		c.close(websocket.CloseGoingAway, "server shutdown")
	}
	s.srv.Close()
}

// Dispatch sends a dispatch with the next sequence number to the current
// connection.
func (s *Server) Dispatch(name string, data any) error {
	s.mu.Lock()
	c := s.current
	s.mu.Unlock()

	if c == nil {
		return ErrNoConnection
	}
	return s.dispatchTo(c, name, data)
}

func (s *Server) dispatchTo(c *conn, name string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	return c.send(protocol.Frame{Op: kephasgate.OpDispatch, D: raw, S: &seq, T: name})
}

// Send sends a raw frame to the current connection.
func (s *Server) Send(f protocol.Frame) error {
	s.mu.Lock()
	c := s.current
	s.mu.Unlock()

	if c == nil {
		return ErrNoConnection
	}
	return c.send(f)
}

// CloseConn closes the current connection with a close code.
func (s *Server) CloseConn(code int, reason string) error {
	s.mu.Lock()
	c := s.current
	s.current = nil
	s.mu.Unlock()

	if c == nil {
		return ErrNoConnection
	}
	c.close(code, reason)
	return nil
}

// ForgetSessions makes every later resume fail with a non-resumable invalid session.
func (s *Server) ForgetSessions() {
	s.mu.Lock()
	s.sessions = make(map[string]bool)
	s.mu.Unlock()
}

// SetIgnoreHeartbeats toggles heartbeat acks.
func (s *Server) SetIgnoreHeartbeats(ignore bool) {
	s.mu.Lock()
	s.cfg.IgnoreHeartbeats = ignore
	s.mu.Unlock()
}

// Connections returns how many connections were accepted.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connections
}

// Sequence returns the last sequence number sent.
func (s *Server) Sequence() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Identifies returns every identify received.
func (s *Server) Identifies() []protocol.Identify {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Identify(nil), s.identifies...)
}

// Resumes returns every resume received.
func (s *Server) Resumes() []protocol.Resume {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Resume(nil), s.resumes...)
}

// Heartbeats returns the data of every heartbeat received.
func (s *Server) Heartbeats() []json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]json.RawMessage(nil), s.heartbeats...)
}

// Received returns every frame received with the given opcode.
func (s *Server) Received(op kephasgate.Opcode) []protocol.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []protocol.Frame
	for _, f := range s.received {
		if f.Op == op {
			out = append(out, f)
		}
	}
	return out
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "Failed to upgrade connection", http.StatusBadRequest)
		return
	}

	c := newConn(ws)
	defer func() {
		s.mu.Lock()
		if s.current == c {
			s.current = nil
		}
		s.mu.Unlock()
		c.close(websocket.CloseNormalClosure, "")
	}()

	s.mu.Lock()
	s.connections++
	s.current = c
	s.mu.Unlock()

	if !s.cfg.SilentHello {
		hello, _ := json.Marshal(protocol.Hello{HeartbeatInterval: s.cfg.HeartbeatInterval.Milliseconds()})
		if err := c.send(protocol.Frame{Op: kephasgate.OpHello, D: hello}); err != nil {
			return
		}
	}

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}

		f, err := protocol.Decode(data)
		if err != nil {
			c.close(kephasgate.CloseDecodeError, kephasgate.ErrInvalidMessageFormat)
			return
		}
		if err := s.handleFrame(c, f); err != nil {
			return
		}
	}
}

func (s *Server) handleFrame(c *conn, f protocol.Frame) error {
	s.mu.Lock()
	s.received = append(s.received, f)
	s.mu.Unlock()

	switch f.Op {
	case kephasgate.OpIdentify:
		var id protocol.Identify
		if err := json.Unmarshal(f.D, &id); err != nil {
			c.close(kephasgate.CloseDecodeError, "bad identify")
			return err
		}
		return s.ready(c, id)

	case kephasgate.OpResume:
		var res protocol.Resume
		if err := json.Unmarshal(f.D, &res); err != nil {
			c.close(kephasgate.CloseDecodeError, "bad resume")
			return err
		}
		s.mu.Lock()
		s.resumes = append(s.resumes, res)
		known := s.sessions[res.SessionID]
		invalidate := s.cfg.InvalidateResumes
		s.mu.Unlock()

		if invalidate {
			return c.send(protocol.Frame{Op: kephasgate.OpInvalidSession, D: json.RawMessage(`true`)})
		}
		if !known {
			return c.send(protocol.Frame{Op: kephasgate.OpInvalidSession, D: json.RawMessage(`false`)})
		}
		return s.dispatchTo(c, protocol.EventResumed, map[string]any{})

	case kephasgate.OpHeartbeat:
		s.mu.Lock()
		s.heartbeats = append(s.heartbeats, f.D)
		ignore := s.cfg.IgnoreHeartbeats
		s.mu.Unlock()

		if ignore {
			return nil
		}
		return c.send(protocol.Frame{Op: kephasgate.OpHeartbeatAck})
	}
	return nil
}

func (s *Server) ready(c *conn, id protocol.Identify) error {
	s.mu.Lock()
	s.identifies = append(s.identifies, id)
	sessionID := fmt.Sprintf("session-%d", len(s.identifies))
	s.sessions[sessionID] = true
	s.mu.Unlock()

	data := map[string]any{
		"v":                  10,
		"user":               map[string]any{"id": "1", "username": "kephasgate", "bot": true},
		"guilds":             []any{},
		"session_id":         sessionID,
		"resume_gateway_url": s.URL(),
		"shard":              id.Shard,
	}
	for k, v := range s.cfg.ReadyData {
		data[k] = v
	}
	return s.dispatchTo(c, protocol.EventReady, data)
}

// conn is one server side connection with a write pump.
type conn struct {
	ws     *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	sendCh chan []byte
	once   sync.Once
}

func newConn(ws *websocket.Conn) *conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &conn{
		ws:     ws,
		ctx:    ctx,
		cancel: cancel,
		sendCh: make(chan []byte, 256),
	}
	go c.writePump()
	return c
}

func (c *conn) send(f protocol.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}

	select {
	case c.sendCh <- data:
		return nil
	case <-c.ctx.Done():
		return ErrNoConnection
	}
}

func (c *conn) close(code int, reason string) {
	c.once.Do(func() {
		c.cancel()
		message := websocket.FormatCloseMessage(code, reason)
		_ = c.ws.WriteControl(websocket.CloseMessage, message, time.Now().Add(time.Second))
		c.ws.Close()
	})
}

func (c *conn) writePump() {
	for {
		select {
		case message := <-c.sendCh:
			c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}
