package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/luciancaetano/kephasgate"
	"github.com/luciancaetano/kephasgate/internal/protocol"
)

var (
	ErrClosed               = errors.New(kephasgate.ErrConnectionClosed)
	ErrAuthenticationFailed = errors.New("authentication failed")
)

// Conn is one transport connection to the gateway.
type Conn interface {
	// ID identifies the connection in logs.
	ID() string

	// Send writes a frame. It fails with ErrClosed once the connection is closed.
	Send(ctx context.Context, f protocol.Frame) error

	// Receive returns the next inbound frame. When the remote side closes the
	// connection it returns a *CloseError. Undecodable frames are reported
	// with an error wrapping protocol.ErrInvalidFrame; the connection stays usable.
	Receive(ctx context.Context) (protocol.Frame, error)

	// Close sends a close frame with code and reason, then releases the connection.
	Close(code int, reason string) error
}

// Dialer opens gateway connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// CloseError is the close frame sent by the remote side.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("gateway closed with code %d: %s", e.Code, e.Reason)
}

// Fatal reports whether reconnecting cannot succeed.
func (e *CloseError) Fatal() bool {
	switch e.Code {
	case kephasgate.CloseAuthenticationFailed,
		kephasgate.CloseInvalidShard,
		kephasgate.CloseShardingRequired,
		kephasgate.CloseInvalidAPIVersion,
		kephasgate.CloseInvalidIntents,
		kephasgate.CloseDisallowedIntents:
		return true
	}
	return false
}

// ResetsSession reports whether the session can no longer be resumed.
func (e *CloseError) ResetsSession() bool {
	return e.Code == kephasgate.CloseInvalidSeq || e.Code == kephasgate.CloseSessionTimedOut
}

// Is matches ErrAuthenticationFailed for code 4004.
func (e *CloseError) Is(target error) bool {
	return target == ErrAuthenticationFailed && e.Code == kephasgate.CloseAuthenticationFailed
}
