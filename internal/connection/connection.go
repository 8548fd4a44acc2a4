package connection

import (
	"bytes"
	"compress/flate"
	"compress/zlib"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"wssession/internal/metrics"
	"wssession/internal/transport"
)

// ErrNotConnected is returned by Send when no transport is open
var ErrNotConnected = fmt.Errorf("websocket not connected: %w", transport.ErrClosed)

// DefaultPingMessage is the heartbeat payload, {"subscribe":"ping"}
var DefaultPingMessage = func() string {
	data, err := json.Marshal(map[string]string{"subscribe": "ping"})
	if err != nil {
		panic(err)
	}
	return string(data)
}()

// Default timings
const (
	DefaultConnectTimeout    = 5 * time.Second
	DefaultHeartbeatInterval = 5 * time.Second
)

// Handlers receive connection events. They are called from the connection's goroutines and
// must not block.
type Handlers struct {
	OnConnect  func()
	OnReceive  func(text string)
	OnComplete func(err error)
}

// Options configures a Connection
type Options struct {
	ConnectTimeout    time.Duration
	HeartbeatInterval time.Duration
	PingMessage       string
	Metrics           *metrics.Metrics
}

// DefaultOptions returns the standard connection timings
func DefaultOptions() Options {
	return Options{
		ConnectTimeout:    DefaultConnectTimeout,
		HeartbeatInterval: DefaultHeartbeatInterval,
		PingMessage:       DefaultPingMessage,
	}
}

// attempt is one connect..complete cycle
type attempt struct {
	id     uint64
	ctx    context.Context
	cancel context.CancelFunc
	tr     transport.Transport
	done   bool
}

// Connection owns at most one physical transport to url.
// It never retries; OnComplete fires exactly once per attempt.
type Connection struct {
	url     string
	dialer  transport.Dialer
	opts    Options
	logger  zerolog.Logger
	metrics *metrics.Metrics

	// emitMu orders OnConnect before OnComplete for the same attempt
	emitMu sync.Mutex

	mu        sync.Mutex
	handlers  Handlers
	connected bool
	current   *attempt
	seq       uint64
}

// New creates a Connection for url
func New(url string, dialer transport.Dialer, opts Options, logger zerolog.Logger) *Connection {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.PingMessage == "" {
		opts.PingMessage = DefaultPingMessage
	}
	return &Connection{
		url:     url,
		dialer:  dialer,
		opts:    opts,
		logger:  logger.With().Str("component", "connection").Logger(),
		metrics: opts.Metrics,
	}
}

// URL returns the server URL
func (c *Connection) URL() string {
	return c.url
}

// SetHandlers replaces the event handlers
func (c *Connection) SetHandlers(h Handlers) {
	c.mu.Lock()
	c.handlers = h
	c.mu.Unlock()
}

// IsConnected reports whether an attempt is in progress or established
func (c *Connection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// IsOpen reports whether the transport handshake has completed
func (c *Connection) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil && c.current.tr != nil
}

// Connect starts a new attempt unless one is already active. The dial runs in the background.
func (c *Connection) Connect() {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return
	}
	c.connected = true
	c.seq++
	ctx, cancel := context.WithCancel(context.Background())
	att := &attempt{id: c.seq, ctx: ctx, cancel: cancel}
	c.current = att
	c.mu.Unlock()

	c.logger.Info().Str("url", c.url).Uint64("attempt", att.id).Msg("try to establish connection")
	go c.dial(att)
}

// Disconnect tears down the active attempt and fires OnComplete(nil). Safe to call repeatedly.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	att := c.current
	c.mu.Unlock()
	if att == nil {
		return
	}
	c.logger.Info().Str("url", c.url).Uint64("attempt", att.id).Msg("destroy websocket connection")
	c.finish(att, nil, transport.CloseNormalClosure)
}

// Send writes message on the open transport
func (c *Connection) Send(ctx context.Context, message string) error {
	c.mu.Lock()
	var tr transport.Transport
	if c.current != nil {
		tr = c.current.tr
	}
	c.mu.Unlock()

	if tr == nil {
		return ErrNotConnected
	}
	return tr.Send(ctx, message)
}

func (c *Connection) dial(att *attempt) {
	dialCtx, cancel := context.WithTimeout(att.ctx, c.opts.ConnectTimeout)
	tr, err := c.dialer.Dial(dialCtx, c.url)
	cancel()
	if err != nil {
		if att.ctx.Err() != nil {
			// Disconnect already completed this attempt
			return
		}
		c.metrics.ConnectAttempt("failed")
		c.logger.Error().Err(err).Str("url", c.url).Uint64("attempt", att.id).Msg("websocket dial failed")
		c.finish(att, err, transport.CloseGoingAway)
		return
	}

	c.emitMu.Lock()
	c.mu.Lock()
	if att.done || c.current != att {
		c.mu.Unlock()
		c.emitMu.Unlock()
		tr.Close(transport.CloseNormalClosure, "")
		return
	}
	att.tr = tr
	handlers := c.handlers
	c.mu.Unlock()

	c.metrics.ConnectAttempt("ok")
	c.logger.Debug().Str("url", c.url).Uint64("attempt", att.id).Msg("websocket did connect")
	if handlers.OnConnect != nil {
		handlers.OnConnect()
	}
	c.emitMu.Unlock()

	go c.listen(att, tr, handlers.OnReceive)
	if c.opts.HeartbeatInterval > 0 {
		go c.heartbeat(att, tr)
	}
}

// finish ends att once: stops its goroutines, closes its transport and fires OnComplete
func (c *Connection) finish(att *attempt, cause error, code int) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	if att.done {
		c.mu.Unlock()
		return
	}
	att.done = true
	isCurrent := c.current == att
	if isCurrent {
		c.current = nil
		c.connected = false
	}
	tr := att.tr
	att.tr = nil
	handlers := c.handlers
	c.mu.Unlock()

	att.cancel()
	if tr != nil {
		if err := tr.Close(code, ""); err != nil {
			c.logger.Debug().Err(err).Uint64("attempt", att.id).Msg("transport close")
		}
	}

	if !isCurrent {
		c.logger.Debug().Uint64("attempt", att.id).Msg("discarding completion of superseded attempt")
		return
	}
	c.logger.Debug().Err(cause).Uint64("attempt", att.id).Msg("websocket did finish")
	if handlers.OnComplete != nil {
		handlers.OnComplete(cause)
	}
}

// listen re-emits every inbound frame until the attempt is cancelled or the transport fails
func (c *Connection) listen(att *attempt, tr transport.Transport, onReceive func(string)) {
	for {
		frame, err := tr.Receive(att.ctx)
		if err != nil {
			if att.ctx.Err() != nil {
				return
			}
			c.logger.Error().Err(err).Uint64("attempt", att.id).Msg("failed to receive message")
			c.finish(att, err, transport.CloseGoingAway)
			return
		}

		if frame.Binary {
			c.metrics.FrameReceived("binary")
		} else {
			c.metrics.FrameReceived("text")
		}
		if onReceive != nil {
			onReceive(decodeFrame(frame))
		}
	}
}

func (c *Connection) heartbeat(att *attempt, tr transport.Transport) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-att.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(att.ctx, c.opts.HeartbeatInterval)
			err := tr.Send(ctx, c.opts.PingMessage)
			cancel()
			if err != nil {
				c.metrics.SendFailed("ping")
				c.logger.Debug().Err(err).Uint64("attempt", att.id).Msg("failed to send ping")
			}
		}
	}
}

// decodeFrame returns the text of a frame. Binary frames are compressed UTF-8, either
// zlib-wrapped or raw DEFLATE; anything that fails to decode yields "".
func decodeFrame(frame transport.Frame) string {
	if !frame.Binary {
		return string(frame.Data)
	}
	data, err := inflate(frame.Data, true)
	if err != nil {
		data, err = inflate(frame.Data, false)
	}
	if err != nil || !utf8.Valid(data) {
		return ""
	}
	return string(data)
}

func inflate(data []byte, wrapped bool) ([]byte, error) {
	var r io.ReadCloser
	if wrapped {
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		r = zr
	} else {
		r = flate.NewReader(bytes.NewReader(data))
	}
	defer r.Close()
	return io.ReadAll(r)
}
