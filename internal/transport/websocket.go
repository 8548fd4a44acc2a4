package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultHandshakeTimeout = 5 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	closeWait               = time.Second
)

// WebSocketDialer dials gorilla/websocket connections
type WebSocketDialer struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// ReadTimeout bounds the wait for a single frame; zero waits forever
	ReadTimeout time.Duration
	// ReadLimit is the maximum frame size in bytes; zero keeps the gorilla default
	ReadLimit int64
	Header    http.Header
}

// Dial opens a WebSocket connection to url
func (d *WebSocketDialer) Dial(ctx context.Context, url string) (Transport, error) {
	handshakeTimeout := d.HandshakeTimeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = defaultHandshakeTimeout
	}
	dialer := websocket.Dialer{
		Proxy:             http.ProxyFromEnvironment,
		HandshakeTimeout:  handshakeTimeout,
		EnableCompression: true,
	}
	conn, _, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect WebSocket: %w", err)
	}
	if d.ReadLimit > 0 {
		conn.SetReadLimit(d.ReadLimit)
	}

	writeTimeout := d.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &wsTransport{
		conn:         conn,
		writeTimeout: writeTimeout,
		readTimeout:  d.ReadTimeout,
	}, nil
}

// wsTransport is a Transport on top of a gorilla connection.
// gorilla allows one concurrent reader and one concurrent writer; writes are serialized by writeMu.
type wsTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	readTimeout  time.Duration

	writeMu sync.Mutex
	closeMu sync.Mutex
	closed  bool
}

func (t *wsTransport) isClosed() bool {
	t.closeMu.Lock()
	defer t.closeMu.Unlock()
	return t.closed
}

// Send writes a text frame
func (t *wsTransport) Send(ctx context.Context, text string) error {
	if t.isClosed() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	deadline := time.Now().Add(t.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	t.conn.SetWriteDeadline(deadline)
	if err := t.conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		if errors.Is(err, websocket.ErrCloseSent) || t.isClosed() {
			return ErrClosed
		}
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// Receive reads the next data frame. Cancelling ctx unblocks a pending read.
func (t *wsTransport) Receive(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	stop := context.AfterFunc(ctx, func() {
		t.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	if t.readTimeout > 0 {
		t.conn.SetReadDeadline(time.Now().Add(t.readTimeout))
	}
	messageType, data, err := t.conn.ReadMessage()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Frame{}, ctxErr
		}
		return Frame{}, err
	}
	return Frame{Binary: messageType == websocket.BinaryMessage, Data: data}, nil
}

// Close sends a close frame and closes the underlying connection. Safe to call more than once.
func (t *wsTransport) Close(code int, reason string) error {
	t.closeMu.Lock()
	if t.closed {
		t.closeMu.Unlock()
		return nil
	}
	t.closed = true
	t.closeMu.Unlock()

	t.writeMu.Lock()
	_ = t.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(closeWait))
	t.writeMu.Unlock()
	return t.conn.Close()
}
