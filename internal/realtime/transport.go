package realtime

import (
	"context"
	"errors"
)

// ErrClosed is returned by a Conn after Close.
var ErrClosed = errors.New("realtime: connection closed")

// Credentials identify the admin session on the realtime server.
type Credentials struct {
	APIKey   string
	ClientID string
}

// Dialer opens transport connections.
type Dialer interface {
	Dial(ctx context.Context, creds Credentials) (Conn, error)
}

// Conn is one transport connection. WriteFrame may be called concurrently
// with ReadFrame; Close unblocks a pending ReadFrame.
type Conn interface {
	ReadFrame() (Frame, error)
	WriteFrame(f Frame) error
	Close() error
}
