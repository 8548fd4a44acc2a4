package reachability

import (
	"testing"
)

func TestSignal_WatchOnChange(t *testing.T) {
	s := NewSignal(true)

	var got []bool
	cancel := s.Watch(func(v bool) { got = append(got, v) })

	s.Set(true)
	s.Set(false)
	s.Set(false)
	s.Set(true)

	if len(got) != 2 || got[0] != false || got[1] != true {
		t.Fatalf("notifications = %v, want [false true]", got)
	}

	cancel()
	cancel()
	s.Set(false)
	if len(got) != 2 {
		t.Errorf("notified after cancel: %v", got)
	}
	if s.Reachable() {
		t.Error("Reachable = true, want false")
	}
}

func TestSignal_WatcherMayCallBack(t *testing.T) {
	s := NewSignal(false)
	var seen bool
	s.Watch(func(bool) { seen = s.Reachable() })
	s.Set(true)
	if !seen {
		t.Error("watcher did not observe the new state")
	}
}
