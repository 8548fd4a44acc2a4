package reachability

import (
	"sync"
)

// Monitor reports whether the network is reachable and notifies about changes
type Monitor interface {
	Reachable() bool
	// Watch registers fn for reachability changes. The returned func stops the notifications.
	Watch(fn func(reachable bool)) (cancel func())
}

// Signal is a Monitor whose state is set by its owner
type Signal struct {
	mu        sync.Mutex
	reachable bool
	watchers  map[uint64]func(bool)
	nextID    uint64
}

// NewSignal creates a Signal with the given initial state
func NewSignal(reachable bool) *Signal {
	return &Signal{
		reachable: reachable,
		watchers:  make(map[uint64]func(bool)),
	}
}

// Reachable returns the current state
func (s *Signal) Reachable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reachable
}

// Watch implements Monitor
func (s *Signal) Watch(fn func(reachable bool)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers, id)
			s.mu.Unlock()
		})
	}
}

// Set updates the state. Watchers are called only when it changes.
func (s *Signal) Set(reachable bool) {
	s.mu.Lock()
	if s.reachable == reachable {
		s.mu.Unlock()
		return
	}
	s.reachable = reachable
	fns := make([]func(bool), 0, len(s.watchers))
	for _, fn := range s.watchers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(reachable)
	}
}
