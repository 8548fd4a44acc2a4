package lifecycle

import (
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNotifier(t *testing.T) {
	n := NewNotifier()

	var a, b []Event
	cancelA := n.Watch(func(e Event) { a = append(a, e) })
	n.Watch(func(e Event) { b = append(b, e) })

	n.Notify(Background)
	cancelA()
	n.Notify(Foreground)

	if len(a) != 1 || a[0] != Background {
		t.Errorf("a = %v, want [background]", a)
	}
	if len(b) != 2 || b[0] != Background || b[1] != Foreground {
		t.Errorf("b = %v, want [background foreground]", b)
	}
}

func TestEvent_String(t *testing.T) {
	if Foreground.String() != "foreground" || Background.String() != "background" {
		t.Errorf("unexpected names %s %s", Foreground, Background)
	}
	if Event(9).String() != "unknown" {
		t.Errorf("Event(9) = %s", Event(9))
	}
}

func TestSignalSource(t *testing.T) {
	s := FromSignals(zerolog.Nop())
	defer s.Stop()

	var mu sync.Mutex
	var got []Event
	s.Watch(func(e Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	})

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGUSR1); err != nil {
		t.Fatalf("kill: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != Background {
		t.Fatalf("events = %v, want [background]", got)
	}

	s.Stop()
}
