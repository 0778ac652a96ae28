// Package gateway implements the gateway session state machine.
//
// A Session owns one shard's connection lifecycle: it waits for hello, then
// identifies or resumes, heartbeats on the interval announced by the remote
// side, forwards dispatch frames in receive order and reconnects after
// transport faults. All session state is owned by the goroutine running
// Run; other goroutines only read it through accessors.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/luciancaetano/kephasgate"
	"github.com/luciancaetano/kephasgate/internal/metrics"
	"github.com/luciancaetano/kephasgate/internal/protocol"
	"github.com/luciancaetano/kephasgate/internal/ratelimit"
	"github.com/luciancaetano/kephasgate/internal/retry"
)

const (
	DefaultURL                = "wss://gateway.discord.gg"
	APIVersion                = 10
	DefaultHelloTimeout       = 20 * time.Second
	DefaultCommandsPerMinute  = 120
	DefaultInvalidSessionWait = 5 * time.Second

	// heartbeatReserve command slots per minute are left for heartbeats,
	// which bypass the command limiter.
	heartbeatReserve = 3

	closeNormal = 1000
)

var (
	ErrHelloTimeout       = errors.New(kephasgate.ErrHelloTimeout)
	ErrSessionRunning     = errors.New(kephasgate.ErrSessionAlreadyRunning)
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	ErrInvalidConfig      = errors.New("invalid session config")

	errReconnectRequested = errors.New("reconnect requested by gateway")
	errHeartbeatTimeout   = errors.New("heartbeat not acknowledged")
)

type invalidSessionError struct {
	resumable bool
}

func (e *invalidSessionError) Error() string {
	return "invalid session (resumable=" + strconv.FormatBool(e.resumable) + ")"
}

// Dispatch is a dispatch frame forwarded to the sink.
type Dispatch = protocol.Dispatch

// SessionConfig configures a Session.
type SessionConfig struct {
	Token      string
	URL        string // defaults to DefaultURL
	ShardID    int
	ShardCount int
	Intents    int

	LargeThreshold int
	Properties     protocol.IdentifyProperties
	Presence       *protocol.UpdatePresence

	Dialer Dialer

	// IdentifyLimiter must be shared by every session using the same token.
	// A private limiter is created when nil.
	IdentifyLimiter *ratelimit.Limiter
	MaxConcurrency  int

	// Sink receives every dispatch frame in receive order.
	Sink chan<- Dispatch

	HelloTimeout       time.Duration
	CommandsPerMinute  int
	Reconnect          retry.Config
	InvalidSessionWait time.Duration // upper bound; the wait is at least a fifth of it

	Logger        *slog.Logger
	Metrics       *metrics.Metrics
	OnStateChange func(State)
}

type outbound struct {
	frame protocol.Frame
	done  chan error
}

// Session is the state machine of one gateway shard.
type Session struct {
	cfg      SessionConfig
	logger   *slog.Logger
	commands *rate.Limiter
	outbox   chan outbound
	done     chan struct{}
	running  atomic.Bool

	mu        sync.RWMutex
	state     State
	sessionID string
	resumeURL string
	connID    string

	seq Sequence
}

// NewSession validates cfg and creates an idle session.
func NewSession(cfg SessionConfig) (*Session, error) {
	switch {
	case cfg.Token == "":
		return nil, fmt.Errorf("%w: empty token", ErrInvalidConfig)
	case cfg.ShardCount < 1:
		return nil, fmt.Errorf("%w: shard count %d", ErrInvalidConfig, cfg.ShardCount)
	case cfg.ShardID < 0 || cfg.ShardID >= cfg.ShardCount:
		return nil, fmt.Errorf("%w: shard %d of %d", ErrInvalidConfig, cfg.ShardID, cfg.ShardCount)
	case cfg.Dialer == nil:
		return nil, fmt.Errorf("%w: nil dialer", ErrInvalidConfig)
	case cfg.Sink == nil:
		return nil, fmt.Errorf("%w: nil sink", ErrInvalidConfig)
	case cfg.HelloTimeout < 0 || cfg.InvalidSessionWait < 0:
		return nil, fmt.Errorf("%w: negative timeout", ErrInvalidConfig)
	}

	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.HelloTimeout == 0 {
		cfg.HelloTimeout = DefaultHelloTimeout
	}
	if cfg.CommandsPerMinute == 0 {
		cfg.CommandsPerMinute = DefaultCommandsPerMinute
	}
	if cfg.CommandsPerMinute <= heartbeatReserve {
		return nil, fmt.Errorf("%w: commands per minute must exceed %d", ErrInvalidConfig, heartbeatReserve)
	}
	if cfg.InvalidSessionWait == 0 {
		cfg.InvalidSessionWait = DefaultInvalidSessionWait
	}
	if cfg.Reconnect == (retry.Config{}) {
		cfg.Reconnect = retry.Reconnect()
	}
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = 1
	}
	if cfg.Properties == (protocol.IdentifyProperties{}) {
		cfg.Properties = protocol.IdentifyProperties{OS: runtime.GOOS, Browser: "kephasgate", Device: "kephasgate"}
	}
	if cfg.IdentifyLimiter == nil {
		l, err := ratelimit.New()
		if err != nil {
			return nil, err
		}
		cfg.IdentifyLimiter = l
	}
	if _, err := retry.NewBackoff(cfg.Reconnect); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	perMinute := cfg.CommandsPerMinute - heartbeatReserve
	return &Session{
		cfg:      cfg,
		logger:   logger.With("component", "gateway", "shard", cfg.ShardID),
		commands: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		outbox:   make(chan outbound),
		done:     make(chan struct{}),
	}, nil
}

// ShardID returns the shard this session serves.
func (s *Session) ShardID() int {
	return s.cfg.ShardID
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SessionID returns the id of the resumable session, or "" if there is none.
func (s *Session) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

// ConnID returns the id of the current transport connection.
func (s *Session) ConnID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connID
}

// Send queues an application command such as a member request or presence
// update. It waits for the command limiter and for the session to be active.
// Heartbeat, identify and resume are managed by the session and rejected.
func (s *Session) Send(ctx context.Context, op kephasgate.Opcode, payload any) error {
	switch op {
	case kephasgate.OpHeartbeat, kephasgate.OpIdentify, kephasgate.OpResume, kephasgate.OpDispatch:
		return fmt.Errorf("opcode %s is managed by the session", op)
	}

	f, err := protocol.NewFrame(op, payload)
	if err != nil {
		return err
	}
	if err := s.commands.Wait(ctx); err != nil {
		return err
	}

	req := outbound{frame: f, done: make(chan error, 1)}
	select {
	case s.outbox <- req:
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run connects and keeps the session alive until ctx is cancelled, which
// returns nil, or until a fatal fault, which is returned. A session runs once.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrSessionRunning
	}
	defer close(s.done)
	defer s.setState(StateClosed)

	backoff, err := retry.NewBackoff(s.cfg.Reconnect)
	if err != nil {
		return err
	}

	for {
		s.setState(StateConnecting)
		active, err := s.connect(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if active {
			backoff.Reset()
		}

		delay, err := s.recover(err, backoff)
		if err != nil {
			s.logger.Error("session stopped", "error", err)
			return fmt.Errorf("shard %d: %w", s.cfg.ShardID, err)
		}

		s.cfg.Metrics.Reconnect(s.cfg.ShardID)
		if err := retry.Sleep(ctx, delay); err != nil {
			return nil
		}
	}
}

// recover decides how to continue after a connection ended with err. It
// returns the wait before reconnecting, or the fault that ends the session.
func (s *Session) recover(err error, backoff *retry.Backoff) (time.Duration, error) {
	var (
		ce  *CloseError
		ise *invalidSessionError
	)

	switch {
	case errors.Is(err, ErrHelloTimeout):
		return 0, err

	case errors.As(err, &ce) && ce.Fatal():
		return 0, err

	case errors.As(err, &ise):
		if !ise.resumable {
			s.invalidate()
			return s.invalidSessionWait(), nil
		}
		s.setState(StateReconnecting)
		delay, ok := backoff.Next()
		if !ok {
			return 0, fmt.Errorf("%w: %w", ErrReconnectExhausted, err)
		}
		delay = max(delay, s.invalidSessionWait())
		s.logger.Info("session invalidated, resuming", "retry_in", delay, "attempt", backoff.Attempts())
		return delay, nil

	case errors.Is(err, errReconnectRequested):
		s.logger.Info("reconnect requested")
		s.setState(StateReconnecting)
		return 0, nil
	}

	if errors.As(err, &ce) && ce.ResetsSession() {
		s.invalidate()
	} else {
		s.setState(StateReconnecting)
	}

	delay, ok := backoff.Next()
	if !ok {
		return 0, fmt.Errorf("%w: %w", ErrReconnectExhausted, err)
	}
	s.logger.Warn("connection lost", "error", err, "retry_in", delay, "attempt", backoff.Attempts())
	return delay, nil
}

// invalidSessionWait picks a random wait between a fifth of
// InvalidSessionWait and all of it.
func (s *Session) invalidSessionWait() time.Duration {
	wait := s.cfg.InvalidSessionWait
	return retry.Between(wait/5, wait)
}

// connect runs one transport connection until it ends. It reports whether
// the session became active on it.
func (s *Session) connect(ctx context.Context) (bool, error) {
	conn, err := s.cfg.Dialer.Dial(ctx, s.gatewayURL())
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	s.connID = conn.ID()
	s.mu.Unlock()

	connCtx, cancel := context.WithCancel(ctx)
	c := &connection{
		session:   s,
		conn:      conn,
		logger:    s.logger.With("conn_id", conn.ID()),
		frames:    make(chan protocol.Frame),
		readErr:   make(chan error, 1),
		closeCode: closeNormal,
	}

	c.wg.Add(1)
	go c.read(connCtx)

	err = c.run(connCtx)

	cancel()
	_ = conn.Close(c.closeCode, "")
	c.wg.Wait()
	return c.active, err
}

func (s *Session) gatewayURL() string {
	s.mu.RLock()
	base := s.cfg.URL
	if s.sessionID != "" && s.resumeURL != "" {
		base = s.resumeURL
	}
	s.mu.RUnlock()

	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	if q.Get("v") == "" {
		q.Set("v", strconv.Itoa(APIVersion))
	}
	if q.Get("encoding") == "" {
		q.Set("encoding", "json")
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	if s.state == st {
		s.mu.Unlock()
		return
	}
	s.state = st
	s.mu.Unlock()

	s.cfg.Metrics.State(s.cfg.ShardID, int(st))
	s.logger.Debug("state changed", "state", st)
	if s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(st)
	}
}

func (s *Session) setSession(id, resumeURL string) {
	s.mu.Lock()
	s.sessionID = id
	s.resumeURL = resumeURL
	s.mu.Unlock()
}

// invalidate forgets the session so that the next connection identifies.
func (s *Session) invalidate() {
	s.setSession("", "")
	s.seq.Clear()
	s.setState(StateInvalidated)
	s.logger.Info("session invalidated")
}

// connection is the state of one transport connection.
type connection struct {
	session *Session
	conn    Conn
	logger  *slog.Logger
	frames  chan protocol.Frame
	readErr chan error
	wg      sync.WaitGroup

	interval    time.Duration
	beat        *time.Timer
	awaitingAck bool
	active      bool
	closeCode   int
}

// read forwards inbound frames until the transport fails or ctx ends.
func (c *connection) read(ctx context.Context) {
	defer c.wg.Done()
	for {
		f, err := c.conn.Receive(ctx)
		if err != nil {
			if errors.Is(err, protocol.ErrInvalidFrame) {
				c.logger.Warn("dropping undecodable frame", "error", err)
				continue
			}
			c.readErr <- err
			return
		}

		select {
		case c.frames <- f:
		case <-ctx.Done():
			return
		}
	}
}

func (c *connection) run(ctx context.Context) error {
	s := c.session

	hello, err := c.awaitHello(ctx)
	if err != nil {
		return err
	}
	c.interval = time.Duration(hello.HeartbeatInterval) * time.Millisecond
	c.beat = time.NewTimer(retry.Jitter(c.interval))
	defer c.beat.Stop()

	var identified chan error
	if s.SessionID() != "" {
		if err := c.resume(ctx); err != nil {
			return err
		}
	} else {
		s.setState(StateIdentifying)
		identified = make(chan error, 1)
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			identified <- s.cfg.IdentifyLimiter.Acquire(ctx, ratelimit.IdentifyKey(s.cfg.ShardID, s.cfg.MaxConcurrency))
		}()
	}

	for {
		var outbox chan outbound
		if c.active {
			outbox = s.outbox
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-c.readErr:
			return err

		case f := <-c.frames:
			if err := c.handle(ctx, f); err != nil {
				return err
			}

		case <-c.beat.C:
			if c.awaitingAck {
				c.closeCode = kephasgate.CloseUnknownError
				return errHeartbeatTimeout
			}
			if err := c.heartbeat(ctx); err != nil {
				return err
			}
			c.awaitingAck = true
			c.beat.Reset(c.interval)

		case err := <-identified:
			identified = nil
			if err != nil {
				return err
			}
			if err := c.identify(ctx); err != nil {
				return err
			}

		case req := <-outbox:
			req.done <- c.conn.Send(ctx, req.frame)
		}
	}
}

func (c *connection) awaitHello(ctx context.Context) (protocol.Hello, error) {
	s := c.session
	s.setState(StateAwaitingHello)

	timer := time.NewTimer(s.cfg.HelloTimeout)
	defer timer.Stop()

	var hello protocol.Hello
	select {
	case <-ctx.Done():
		return hello, ctx.Err()
	case err := <-c.readErr:
		return hello, err
	case <-timer.C:
		c.closeCode = kephasgate.CloseUnknownError
		return hello, ErrHelloTimeout
	case f := <-c.frames:
		s.cfg.Metrics.Frame(s.cfg.ShardID, f.Op.String())
		if f.Op != kephasgate.OpHello {
			return hello, fmt.Errorf("%w: expected hello, got %s", protocol.ErrInvalidFrame, f.Op)
		}
		if err := json.Unmarshal(f.D, &hello); err != nil || hello.HeartbeatInterval <= 0 {
			return hello, fmt.Errorf("%w: bad hello %s", protocol.ErrInvalidFrame, f.D)
		}
	}
	c.logger.Debug("hello", "heartbeat_interval", hello.HeartbeatInterval)
	return hello, nil
}

// handle processes one inbound frame. The sequence is recorded first.
func (c *connection) handle(ctx context.Context, f protocol.Frame) error {
	s := c.session
	if f.S != nil {
		s.seq.Update(*f.S)
	}
	s.cfg.Metrics.Frame(s.cfg.ShardID, f.Op.String())

	switch f.Op {
	case kephasgate.OpDispatch:
		return c.dispatch(ctx, f)

	case kephasgate.OpHeartbeat:
		return c.heartbeat(ctx)

	case kephasgate.OpHeartbeatAck:
		c.awaitingAck = false

	case kephasgate.OpReconnect:
		c.closeCode = kephasgate.CloseUnknownError
		return errReconnectRequested

	case kephasgate.OpInvalidSession:
		var resumable bool
		_ = json.Unmarshal(f.D, &resumable)
		c.closeCode = kephasgate.CloseUnknownError
		return &invalidSessionError{resumable: resumable}

	default:
		c.logger.Debug("ignoring frame", "op", f.Op)
	}
	return nil
}

func (c *connection) dispatch(ctx context.Context, f protocol.Frame) error {
	s := c.session

	switch f.T {
	case protocol.EventReady:
		var ready protocol.ReadyHeader
		if err := json.Unmarshal(f.D, &ready); err != nil {
			c.logger.Warn("malformed ready", "error", err)
		}
		s.setSession(ready.SessionID, ready.ResumeGatewayURL)
		if f.S != nil {
			s.seq.Reset(*f.S)
		}
		c.active = true
		s.setState(StateActive)
		c.logger.Info("session ready", "session_id", ready.SessionID)

	case protocol.EventResumed:
		c.active = true
		s.setState(StateActive)
		c.logger.Info("session resumed", "session_id", s.SessionID())
	}

	d := Dispatch{
		ShardID:    s.cfg.ShardID,
		Name:       f.T,
		Data:       f.D,
		ReceivedAt: time.Now(),
	}
	if f.S != nil {
		d.Sequence = *f.S
	}

	select {
	case s.cfg.Sink <- d:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *connection) heartbeat(ctx context.Context) error {
	var payload any
	if seq, ok := c.session.seq.Value(); ok {
		payload = seq
	}
	f, err := protocol.NewFrame(kephasgate.OpHeartbeat, payload)
	if err != nil {
		return err
	}
	return c.conn.Send(ctx, f)
}

func (c *connection) identify(ctx context.Context) error {
	s := c.session
	f, err := protocol.NewFrame(kephasgate.OpIdentify, protocol.Identify{
		Token:          s.cfg.Token,
		Properties:     s.cfg.Properties,
		LargeThreshold: s.cfg.LargeThreshold,
		Shard:          [2]int{s.cfg.ShardID, s.cfg.ShardCount},
		Presence:       s.cfg.Presence,
		Intents:        s.cfg.Intents,
	})
	if err != nil {
		return err
	}
	c.logger.Info("identifying", "intents", s.cfg.Intents)
	return c.conn.Send(ctx, f)
}

func (c *connection) resume(ctx context.Context) error {
	s := c.session
	s.setState(StateResuming)

	seq, _ := s.seq.Value()
	f, err := protocol.NewFrame(kephasgate.OpResume, protocol.Resume{
		Token:     s.cfg.Token,
		SessionID: s.SessionID(),
		Seq:       seq,
	})
	if err != nil {
		return err
	}
	c.logger.Info("resuming", "session_id", s.SessionID(), "seq", seq)
	return c.conn.Send(ctx, f)
}
