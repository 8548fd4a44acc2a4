package session

import (
	"testing"
)

func TestFailureGate(t *testing.T) {
	g := newFailureGate(3)

	if g.recordFailure() || g.recordFailure() {
		t.Fatal("gate opened before threshold")
	}
	if !g.recordFailure() {
		t.Fatal("gate closed at threshold")
	}
	if !g.critical() {
		t.Error("critical = false after trip")
	}

	g.clearCritical()
	if g.critical() {
		t.Error("critical = true after clearCritical")
	}
	if !g.recordFailure() {
		t.Error("failure after cooldown should reopen the gate at once")
	}

	g.recordSuccess()
	if g.critical() || g.failures != 0 {
		t.Errorf("after success: critical=%v failures=%d", g.critical(), g.failures)
	}

	g.recordFailure()
	g.reset()
	if g.failures != 0 {
		t.Errorf("failures = %d after reset", g.failures)
	}

	if newFailureGate(0).threshold != DefaultFailureThreshold {
		t.Error("zero threshold should take the default")
	}
}

func TestQueue(t *testing.T) {
	q := newQueue[int]()
	for i := 0; i < 1000; i++ {
		q.push(i)
	}
	select {
	case <-q.ready:
	default:
		t.Fatal("ready not signalled")
	}
	items := q.drain()
	if len(items) != 1000 || items[0] != 0 || items[999] != 999 {
		t.Fatalf("drain returned %d items", len(items))
	}
	if len(q.drain()) != 0 {
		t.Error("second drain not empty")
	}
}
