// Package transporttest provides an in-memory Dialer and Transport for tests.
package transporttest

import (
	"context"
	"sync"
	"testing"
	"time"

	"wssession/internal/transport"
)

type inbound struct {
	frame transport.Frame
	err   error
}

// Transport is an in-memory transport.Transport
type Transport struct {
	mu        sync.Mutex
	sent      []string
	closed    bool
	closeCode int
	sendErr   error

	inbound  chan inbound
	closedCh chan struct{}
}

// NewTransport creates an open Transport
func NewTransport() *Transport {
	return &Transport{
		inbound:  make(chan inbound, 256),
		closedCh: make(chan struct{}),
	}
}

// Send records text
func (t *Transport) Send(ctx context.Context, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return transport.ErrClosed
	}
	if t.sendErr != nil {
		return t.sendErr
	}
	t.sent = append(t.sent, text)
	return nil
}

// Receive returns pushed frames in order
func (t *Transport) Receive(ctx context.Context) (transport.Frame, error) {
	select {
	case in := <-t.inbound:
		return in.frame, in.err
	case <-ctx.Done():
		return transport.Frame{}, ctx.Err()
	case <-t.closedCh:
		return transport.Frame{}, transport.ErrClosed
	}
}

// Close marks the transport closed
func (t *Transport) Close(code int, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.closeCode = code
	close(t.closedCh)
	return nil
}

// PushText queues an inbound text frame
func (t *Transport) PushText(text string) {
	t.inbound <- inbound{frame: transport.Frame{Data: []byte(text)}}
}

// PushBinary queues an inbound binary frame
func (t *Transport) PushBinary(data []byte) {
	t.inbound <- inbound{frame: transport.Frame{Binary: true, Data: data}}
}

// Fail makes the next Receive return err
func (t *Transport) Fail(err error) {
	t.inbound <- inbound{err: err}
}

// SetSendError makes every Send fail with err (nil restores)
func (t *Transport) SetSendError(err error) {
	t.mu.Lock()
	t.sendErr = err
	t.mu.Unlock()
}

// Sent returns a copy of every sent frame
func (t *Transport) Sent() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.sent))
	copy(out, t.sent)
	return out
}

// SentCount counts sent frames equal to text
func (t *Transport) SentCount(text string) int {
	n := 0
	for _, s := range t.Sent() {
		if s == text {
			n++
		}
	}
	return n
}

// Closed reports whether Close was called
func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// CloseCode returns the code passed to Close
func (t *Transport) CloseCode() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeCode
}

// Dialer hands out Transports, or fails with a configured error
type Dialer struct {
	mu         sync.Mutex
	err        error
	gate       chan struct{}
	dials      int
	transports []*Transport
}

// NewDialer creates a Dialer that succeeds
func NewDialer() *Dialer {
	return &Dialer{}
}

// Dial implements transport.Dialer
func (d *Dialer) Dial(ctx context.Context, url string) (transport.Transport, error) {
	d.mu.Lock()
	d.dials++
	gate := d.gate
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	t := NewTransport()
	d.transports = append(d.transports, t)
	return t, nil
}

// SetError makes subsequent dials fail with err (nil restores success)
func (d *Dialer) SetError(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

// Hold makes subsequent dials block until Release
func (d *Dialer) Hold() {
	d.mu.Lock()
	d.gate = make(chan struct{})
	d.mu.Unlock()
}

// Release unblocks held dials
func (d *Dialer) Release() {
	d.mu.Lock()
	if d.gate != nil {
		close(d.gate)
		d.gate = nil
	}
	d.mu.Unlock()
}

// Dials returns the number of Dial calls
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// Transports returns every transport handed out
func (d *Dialer) Transports() []*Transport {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Transport, len(d.transports))
	copy(out, d.transports)
	return out
}

// Last returns the most recent transport, or nil
func (d *Dialer) Last() *Transport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}

// WaitFor polls cond until it holds or timeout elapses
func WaitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting: %s", msg)
}
