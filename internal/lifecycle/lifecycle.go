package lifecycle

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
)

// Event is an application lifecycle transition
type Event int

const (
	Foreground Event = iota
	Background
)

func (e Event) String() string {
	switch e {
	case Foreground:
		return "foreground"
	case Background:
		return "background"
	default:
		return "unknown"
	}
}

// Source delivers lifecycle events
type Source interface {
	// Watch registers fn for lifecycle events. The returned func stops the notifications.
	Watch(fn func(Event)) (cancel func())
}

// Notifier is a Source driven by its owner
type Notifier struct {
	mu       sync.Mutex
	watchers map[uint64]func(Event)
	nextID   uint64
}

// NewNotifier creates an empty Notifier
func NewNotifier() *Notifier {
	return &Notifier{watchers: make(map[uint64]func(Event))}
}

// Watch implements Source
func (n *Notifier) Watch(fn func(Event)) func() {
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.watchers[id] = fn
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.watchers, id)
			n.mu.Unlock()
		})
	}
}

// Notify delivers e to every watcher
func (n *Notifier) Notify(e Event) {
	n.mu.Lock()
	fns := make([]func(Event), 0, len(n.watchers))
	for _, fn := range n.watchers {
		fns = append(fns, fn)
	}
	n.mu.Unlock()

	for _, fn := range fns {
		fn(e)
	}
}

// SignalSource maps process signals to lifecycle events:
// SIGUSR1 sends the process to the background, SIGUSR2 brings it back.
type SignalSource struct {
	*Notifier

	sigCh  chan os.Signal
	done   chan struct{}
	once   sync.Once
	logger zerolog.Logger
}

// FromSignals starts listening for SIGUSR1/SIGUSR2 until Stop
func FromSignals(logger zerolog.Logger) *SignalSource {
	s := &SignalSource{
		Notifier: NewNotifier(),
		sigCh:    make(chan os.Signal, 1),
		done:     make(chan struct{}),
		logger:   logger.With().Str("component", "lifecycle").Logger(),
	}
	signal.Notify(s.sigCh, syscall.SIGUSR1, syscall.SIGUSR2)
	go s.loop()
	return s
}

func (s *SignalSource) loop() {
	for {
		select {
		case <-s.done:
			return
		case sig := <-s.sigCh:
			s.handle(sig)
		}
	}
}

func (s *SignalSource) handle(sig os.Signal) {
	var e Event
	switch sig {
	case syscall.SIGUSR1:
		e = Background
	case syscall.SIGUSR2:
		e = Foreground
	default:
		return
	}
	s.logger.Info().Str("signal", sig.String()).Str("event", e.String()).Msg("lifecycle event")
	s.Notify(e)
}

// Stop stops listening for signals
func (s *SignalSource) Stop() {
	s.once.Do(func() {
		signal.Stop(s.sigCh)
		close(s.done)
	})
}
