package connection

import (
	"bytes"
	"compress/flate"
	"compress/zlib"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"wssession/internal/transport"
	"wssession/internal/transport/transporttest"
)

const waitTimeout = 2 * time.Second

type recorder struct {
	mu        sync.Mutex
	connects  int
	messages  []string
	completes []error
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnConnect: func() {
			r.mu.Lock()
			r.connects++
			r.mu.Unlock()
		},
		OnReceive: func(text string) {
			r.mu.Lock()
			r.messages = append(r.messages, text)
			r.mu.Unlock()
		},
		OnComplete: func(err error) {
			r.mu.Lock()
			r.completes = append(r.completes, err)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) counts() (connects, messages, completes int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connects, len(r.messages), len(r.completes)
}

func (r *recorder) lastComplete() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completes[len(r.completes)-1]
}

func newTestConnection(dialer transport.Dialer, heartbeat time.Duration) (*Connection, *recorder) {
	opts := DefaultOptions()
	opts.HeartbeatInterval = heartbeat
	c := New("ws://test", dialer, opts, zerolog.Nop())
	r := &recorder{}
	c.SetHandlers(r.handlers())
	return c, r
}

func TestConnection_ConnectIsIdempotent(t *testing.T) {
	d := transporttest.NewDialer()
	c, r := newTestConnection(d, 0)

	c.Connect()
	c.Connect()
	transporttest.WaitFor(t, waitTimeout, func() bool { n, _, _ := r.counts(); return n == 1 }, "OnConnect")
	c.Connect()

	time.Sleep(20 * time.Millisecond)
	if d.Dials() != 1 {
		t.Errorf("Dials = %d, want 1", d.Dials())
	}
	if connects, _, _ := r.counts(); connects != 1 {
		t.Errorf("OnConnect fired %d times, want 1", connects)
	}
	if !c.IsConnected() || !c.IsOpen() {
		t.Error("expected connected and open")
	}
}

func TestConnection_DisconnectFiresCompleteOnce(t *testing.T) {
	d := transporttest.NewDialer()
	c, r := newTestConnection(d, 0)

	c.Connect()
	transporttest.WaitFor(t, waitTimeout, c.IsOpen, "open")

	c.Disconnect()
	c.Disconnect()

	if _, _, completes := r.counts(); completes != 1 {
		t.Fatalf("OnComplete fired %d times, want 1", completes)
	}
	if err := r.lastComplete(); err != nil {
		t.Errorf("OnComplete err = %v, want nil", err)
	}
	tr := d.Last()
	if !tr.Closed() || tr.CloseCode() != transport.CloseNormalClosure {
		t.Errorf("transport closed=%v code=%d", tr.Closed(), tr.CloseCode())
	}
	if c.IsConnected() {
		t.Error("still connected after Disconnect")
	}
}

func TestConnection_DialFailure(t *testing.T) {
	d := transporttest.NewDialer()
	dialErr := errors.New("refused")
	d.SetError(dialErr)
	c, r := newTestConnection(d, 0)

	c.Connect()
	transporttest.WaitFor(t, waitTimeout, func() bool { _, _, n := r.counts(); return n == 1 }, "OnComplete")

	if err := r.lastComplete(); !errors.Is(err, dialErr) {
		t.Errorf("OnComplete err = %v, want %v", err, dialErr)
	}
	if connects, _, _ := r.counts(); connects != 0 {
		t.Error("OnConnect fired for failed dial")
	}
	if c.IsConnected() {
		t.Error("connected after failed dial")
	}
}

func TestConnection_ReceiveFailureCompletesWithError(t *testing.T) {
	d := transporttest.NewDialer()
	c, r := newTestConnection(d, 0)

	c.Connect()
	transporttest.WaitFor(t, waitTimeout, c.IsOpen, "open")

	readErr := errors.New("connection reset")
	d.Last().Fail(readErr)
	transporttest.WaitFor(t, waitTimeout, func() bool { _, _, n := r.counts(); return n == 1 }, "OnComplete")

	if err := r.lastComplete(); !errors.Is(err, readErr) {
		t.Errorf("OnComplete err = %v, want %v", err, readErr)
	}
	if c.IsConnected() {
		t.Error("connected after receive failure")
	}
}

func TestConnection_ReceiveDecodesFrames(t *testing.T) {
	d := transporttest.NewDialer()
	c, r := newTestConnection(d, 0)

	c.Connect()
	transporttest.WaitFor(t, waitTimeout, c.IsOpen, "open")

	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	w.Write([]byte(`{"channel":"ticker"}`))
	w.Close()

	var raw bytes.Buffer
	fw, err := flate.NewWriter(&raw, flate.DefaultCompression)
	if err != nil {
		t.Fatalf("flate.NewWriter: %v", err)
	}
	fw.Write([]byte(`{"channel":"trades","data":1}`))
	fw.Close()

	tr := d.Last()
	tr.PushText(`{"plain":true}`)
	tr.PushBinary(buf.Bytes())
	tr.PushBinary(raw.Bytes())
	tr.PushBinary([]byte("not zlib"))
	transporttest.WaitFor(t, waitTimeout, func() bool { _, n, _ := r.counts(); return n == 4 }, "four messages")

	r.mu.Lock()
	defer r.mu.Unlock()
	want := []string{`{"plain":true}`, `{"channel":"ticker"}`, `{"channel":"trades","data":1}`, ""}
	for i, w := range want {
		if r.messages[i] != w {
			t.Errorf("message[%d] = %q, want %q", i, r.messages[i], w)
		}
	}
}

func TestConnection_Heartbeat(t *testing.T) {
	d := transporttest.NewDialer()
	c, _ := newTestConnection(d, 10*time.Millisecond)

	c.Connect()
	transporttest.WaitFor(t, waitTimeout, c.IsOpen, "open")

	tr := d.Last()
	transporttest.WaitFor(t, waitTimeout, func() bool { return tr.SentCount(`{"subscribe":"ping"}`) >= 2 }, "pings")

	c.Disconnect()
	n := tr.SentCount(DefaultPingMessage)
	time.Sleep(40 * time.Millisecond)
	if got := tr.SentCount(DefaultPingMessage); got != n {
		t.Errorf("pings after disconnect: %d -> %d", n, got)
	}
}

func TestConnection_PingFailureDoesNotComplete(t *testing.T) {
	d := transporttest.NewDialer()
	c, r := newTestConnection(d, 10*time.Millisecond)

	c.Connect()
	transporttest.WaitFor(t, waitTimeout, c.IsOpen, "open")
	d.Last().SetSendError(errors.New("write broken"))

	time.Sleep(50 * time.Millisecond)
	if _, _, completes := r.counts(); completes != 0 {
		t.Error("ping failure completed the connection")
	}
	if !c.IsConnected() {
		t.Error("ping failure disconnected")
	}
}

func TestConnection_SendWhenDisconnected(t *testing.T) {
	c, _ := newTestConnection(transporttest.NewDialer(), 0)

	err := c.Send(context.Background(), "hello")
	if !errors.Is(err, ErrNotConnected) || !errors.Is(err, transport.ErrClosed) {
		t.Errorf("Send = %v, want ErrNotConnected", err)
	}
}

func TestConnection_DisconnectDuringDial(t *testing.T) {
	d := transporttest.NewDialer()
	d.Hold()
	c, r := newTestConnection(d, 0)

	c.Connect()
	transporttest.WaitFor(t, waitTimeout, func() bool { return d.Dials() == 1 }, "dial started")
	c.Disconnect()
	d.Release()

	time.Sleep(30 * time.Millisecond)
	connects, _, completes := r.counts()
	if connects != 0 {
		t.Error("OnConnect fired after Disconnect")
	}
	if completes != 1 {
		t.Errorf("OnComplete fired %d times, want 1", completes)
	}
}

func TestDefaultPingMessage(t *testing.T) {
	if DefaultPingMessage != `{"subscribe":"ping"}` {
		t.Errorf("DefaultPingMessage = %s", DefaultPingMessage)
	}
}
