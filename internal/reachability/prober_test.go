package reachability

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type switchDialer struct {
	up    atomic.Bool
	calls atomic.Int32
}

func (d *switchDialer) dial(ctx context.Context, network, address string) (net.Conn, error) {
	d.calls.Add(1)
	if !d.up.Load() {
		return nil, errors.New("network is unreachable")
	}
	client, server := net.Pipe()
	_ = server.Close()
	return client, nil
}

func TestProber_Probe(t *testing.T) {
	d := &switchDialer{}
	p := NewProber(ProberOptions{Host: "example:53", Dial: d.dial}, zerolog.Nop())

	if !p.Reachable() {
		t.Fatal("prober should start reachable")
	}

	var changes []bool
	p.Watch(func(v bool) { changes = append(changes, v) })

	if p.Probe(context.Background()) {
		t.Error("Probe = true with network down")
	}
	d.up.Store(true)
	if !p.Probe(context.Background()) {
		t.Error("Probe = false with network up")
	}
	if len(changes) != 2 || changes[0] || !changes[1] {
		t.Errorf("changes = %v, want [false true]", changes)
	}
}

func TestProber_CancelledProbeKeepsState(t *testing.T) {
	d := &switchDialer{}
	p := NewProber(ProberOptions{Dial: d.dial}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if !p.Probe(ctx) {
		t.Error("cancelled probe changed state")
	}
}

func TestProber_StartStop(t *testing.T) {
	d := &switchDialer{}
	p := NewProber(ProberOptions{Interval: 10 * time.Millisecond, Dial: d.dial}, zerolog.Nop())

	p.Start()
	p.Start()
	deadline := time.Now().Add(2 * time.Second)
	for p.Reachable() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if p.Reachable() {
		t.Fatal("prober did not observe the outage")
	}

	d.up.Store(true)
	deadline = time.Now().Add(2 * time.Second)
	for !p.Reachable() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !p.Reachable() {
		t.Fatal("prober did not observe recovery")
	}

	p.Stop()
	p.Stop()
	calls := d.calls.Load()
	time.Sleep(50 * time.Millisecond)
	if d.calls.Load() != calls {
		t.Error("probing continued after Stop")
	}
}
