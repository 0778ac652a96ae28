package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/luciancaetano/kephasgate"
	"github.com/luciancaetano/kephasgate/internal/protocol"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 54 * time.Second
	sendBuffer   = 256
)

// WebsocketDialer dials gateway connections with gorilla/websocket.
type WebsocketDialer struct {
	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

// Dial opens a connection and starts its read and write pumps.
func (d WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return newWebsocketConn(conn), nil
}

type received struct {
	frame protocol.Frame
	err   error
}

// websocketConn implements Conn over a gorilla connection.
type websocketConn struct {
	id     string
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	sendCh chan []byte
	recvCh chan received
	mu     sync.RWMutex
	closed bool
}

func newWebsocketConn(conn *websocket.Conn) *websocketConn {
	ctx, cancel := context.WithCancel(context.Background())
	conn.SetReadLimit(protocol.MaxFrameSize)

	c := &websocketConn{
		id:     uuid.New().String(),
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
		sendCh: make(chan []byte, sendBuffer),
		recvCh: make(chan received),
	}

	go c.writePump()
	go c.readPump()
	return c
}

func (c *websocketConn) ID() string {
	return c.id
}

func (c *websocketConn) Send(ctx context.Context, f protocol.Frame) error {
	data, err := protocol.Encode(f)
	if err != nil {
		return err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}

	select {
	case c.sendCh <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return ErrClosed
	}
}

func (c *websocketConn) Receive(ctx context.Context) (protocol.Frame, error) {
	select {
	case r := <-c.recvCh:
		return r.frame, r.err
	case <-ctx.Done():
		return protocol.Frame{}, ctx.Err()
	case <-c.ctx.Done():
		return protocol.Frame{}, ErrClosed
	}
}

func (c *websocketConn) Close(code int, reason string) error {
	c.cancel()
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	message := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(time.Second))
	return c.conn.Close()
}

// readPump decodes inbound messages until the connection fails.
func (c *websocketConn) readPump() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				err = &CloseError{Code: ce.Code, Reason: ce.Text}
			} else {
				err = fmt.Errorf("%s: %w", kephasgate.ErrConnectionClosed, err)
			}
			c.deliver(received{err: err})
			c.shutdown()
			return
		}

		f, err := protocol.Decode(data)
		if !c.deliver(received{frame: f, err: err}) {
			return
		}
	}
}

// shutdown releases the connection after the reader has given up.
func (c *websocketConn) shutdown() {
	c.cancel()
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.conn.Close()
}

func (c *websocketConn) deliver(r received) bool {
	select {
	case c.recvCh <- r:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// writePump writes queued frames and keeps the connection alive with pings.
func (c *websocketConn) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case message := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.conn.Close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.conn.Close()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}
