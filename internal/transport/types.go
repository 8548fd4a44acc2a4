package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned when a frame is sent on a transport that is absent or already closed
var ErrClosed = errors.New("transport closed")

// Close codes used by the session (RFC 6455)
const (
	CloseNormalClosure = 1000
	CloseGoingAway     = 1001
)

// Frame is a single message received from the server
type Frame struct {
	Binary bool
	Data   []byte
}

// Transport is one open physical connection
type Transport interface {
	// Send writes a text frame
	Send(ctx context.Context, text string) error
	// Receive blocks until the next frame arrives or the transport fails
	Receive(ctx context.Context) (Frame, error)
	// Close closes the transport with the given close code
	Close(code int, reason string) error
}

// Dialer opens transports
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}
