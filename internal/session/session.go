package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"wssession/internal/connection"
	"wssession/internal/lifecycle"
	"wssession/internal/metrics"
	"wssession/internal/reachability"
	"wssession/internal/subscription"
	"wssession/internal/transport"
)

// ErrClosed is returned by Send after Close
var ErrClosed = errors.New("session closed")

const (
	DefaultFailureThreshold      = 3
	DefaultCriticalRetryInterval = 10 * time.Second
)

// State is the externally visible session state
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateWaiting      State = "awaiting_reconnect"
	StateCooldown     State = "critical_cooldown"
)

var allStates = []string{
	string(StateDisconnected),
	string(StateConnecting),
	string(StateConnected),
	string(StateWaiting),
	string(StateCooldown),
}

// Status is a snapshot of the session for reporting
type Status struct {
	URL         string                        `json:"url"`
	State       State                         `json:"state"`
	FailedTimes int                           `json:"failedTimes"`
	Background  bool                          `json:"background"`
	Endpoints   []subscription.EndpointStatus `json:"endpoints"`
}

// Options configures a Session
type Options struct {
	URL    string
	Dialer transport.Dialer

	Connection            connection.Options
	FailureThreshold      int
	CriticalRetryInterval time.Duration
	// DedupCacheSize > 0 enables duplicate suppression for endpoints that provide dedup keys
	DedupCacheSize int

	// Reachability gates failure counting; nil means always reachable
	Reachability reachability.Monitor
	// Lifecycle pauses the session in the background; nil disables it
	Lifecycle lifecycle.Source

	Metrics *metrics.Metrics
}

// stopper is the part of *time.Timer the cooldown needs
type stopper interface {
	Stop() bool
}

// Session keeps one connection alive and multiplexes subscriptions over it.
// Every state change runs on a single loop goroutine fed by an unbounded mailbox; message
// dispatch runs on the connection's receive goroutine.
type Session struct {
	url                   string
	conn                  *connection.Connection
	registry              *subscription.Registry
	router                *subscription.Router
	reach                 reachability.Monitor
	criticalRetryInterval time.Duration
	resubscribeTimeout    time.Duration
	metrics               *metrics.Metrics
	logger                zerolog.Logger

	mailbox   *queue[func()]
	quit      chan struct{}
	stopped   chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once

	afterFunc func(d time.Duration, f func()) stopper

	// loop-owned state
	terminated    bool
	isConnecting  bool
	connected     bool
	background    bool
	gate          *failureGate
	cooldown      stopper
	cooldownGen   uint64
	reachCancel   func()
	lifecycleStop func()

	statusMu sync.RWMutex
	status   Status
}

// New creates a Session. It does nothing until Connect.
func New(opts Options, logger zerolog.Logger) *Session {
	if opts.Dialer == nil {
		opts.Dialer = &transport.WebSocketDialer{}
	}
	if opts.CriticalRetryInterval <= 0 {
		opts.CriticalRetryInterval = DefaultCriticalRetryInterval
	}
	if opts.Connection.Metrics == nil {
		opts.Connection.Metrics = opts.Metrics
	}
	resubscribeTimeout := opts.Connection.ConnectTimeout
	if resubscribeTimeout <= 0 {
		resubscribeTimeout = connection.DefaultConnectTimeout
	}

	s := &Session{
		url:                   opts.URL,
		reach:                 opts.Reachability,
		criticalRetryInterval: opts.CriticalRetryInterval,
		resubscribeTimeout:    resubscribeTimeout,
		metrics:               opts.Metrics,
		logger:                logger.With().Str("component", "session").Logger(),
		mailbox:               newQueue[func()](),
		quit:                  make(chan struct{}),
		stopped:               make(chan struct{}),
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
		terminated: true,
		gate:       newFailureGate(opts.FailureThreshold),
	}

	s.conn = connection.New(opts.URL, opts.Dialer, opts.Connection, logger)
	s.registry = subscription.NewRegistry(s.conn, opts.DedupCacheSize, opts.Metrics, logger)
	s.registry.Pause()
	s.router = subscription.NewRouter(s.registry, opts.Metrics, logger)
	s.conn.SetHandlers(connection.Handlers{
		OnConnect: func() {
			s.post(s.handleConnected)
		},
		OnReceive: s.router.Dispatch,
		OnComplete: func(err error) {
			s.post(func() { s.handleComplete(err) })
		},
	})
	if opts.Lifecycle != nil {
		s.lifecycleStop = opts.Lifecycle.Watch(func(e lifecycle.Event) {
			s.post(func() { s.handleLifecycle(e) })
		})
	}

	s.publish()
	go s.run()
	return s
}

// Connect starts connecting and enables automatic reconnection. It does nothing when a
// connection is already open or in progress.
func (s *Session) Connect() {
	s.call(s.handleConnect)
}

// Disconnect closes the connection and disables automatic reconnection.
// Subscriptions are kept and resent on the next Connect.
func (s *Session) Disconnect() {
	s.call(s.handleDisconnect)
}

// Close disconnects and stops the session. Later calls on the session and its
// subscriptions do nothing.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.mailbox.push(func() {
			s.handleDisconnect()
			if s.lifecycleStop != nil {
				s.lifecycleStop()
				s.lifecycleStop = nil
			}
			close(s.quit)
		})
		<-s.stopped
		s.logger.Info().Str("url", s.url).Msg("session closed")
	})
}

// Send writes message on the current connection. It fails when the session is closed or
// not connected; it is never retried.
func (s *Session) Send(ctx context.Context, message string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.conn.Send(ctx, message)
}

// State returns the current state
func (s *Session) State() State {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status.State
}

// Status returns a snapshot of the session and its endpoints
func (s *Session) Status() Status {
	s.statusMu.RLock()
	st := s.status
	s.statusMu.RUnlock()
	st.Endpoints = s.registry.Status()
	return st
}

// Done is closed once the session has stopped
func (s *Session) Done() <-chan struct{} {
	return s.stopped
}

func (s *Session) run() {
	defer close(s.stopped)
	for {
		select {
		case <-s.quit:
			return
		case <-s.mailbox.ready:
		}
		for _, fn := range s.mailbox.drain() {
			fn()
			select {
			case <-s.quit:
				return
			default:
			}
		}
	}
}

// post queues fn for the loop; it reports false once the session is closed
func (s *Session) post(fn func()) bool {
	if s.closed.Load() {
		return false
	}
	s.mailbox.push(fn)
	return true
}

// call runs fn on the loop and waits for it
func (s *Session) call(fn func()) {
	done := make(chan struct{})
	if !s.post(func() {
		fn()
		close(done)
	}) {
		return
	}
	select {
	case <-done:
	case <-s.stopped:
	}
}

func (s *Session) handleConnect() {
	s.terminated = false
	s.observeReachability()
	if s.conn.IsConnected() {
		s.logger.Debug().Msg("connect ignored, connection already active")
		s.publish()
		return
	}
	s.logger.Info().Str("url", s.url).Msg("connecting")
	s.dial()
	s.publish()
}

func (s *Session) handleDisconnect() {
	s.terminated = true
	s.isConnecting = false
	s.stopCooldown()
	s.gate.reset()
	s.metrics.SetFailedTimes(0)
	s.stopObservingReachability()
	s.conn.Disconnect()
	s.publish()
}

func (s *Session) handleConnected() {
	if s.terminated {
		return
	}
	s.isConnecting = false
	s.connected = true
	s.gate.recordSuccess()
	s.stopCooldown()
	s.metrics.SetFailedTimes(0)
	s.publish()

	ctx, cancel := context.WithTimeout(context.Background(), s.resubscribeTimeout)
	n := s.registry.ResubscribeAll(ctx)
	cancel()
	s.logger.Info().Str("url", s.url).Int("resubscribed", n).Msg("connected")
}

func (s *Session) handleComplete(err error) {
	if s.conn.IsConnected() {
		// a newer attempt is already running
		return
	}
	s.isConnecting = false
	s.connected = false
	defer s.publish()

	if err == nil {
		s.logger.Info().Str("url", s.url).Msg("disconnected")
		return
	}
	if s.terminated {
		return
	}
	if !s.reachable() {
		s.logger.Warn().Err(err).Msg("connection lost while network unreachable, waiting for network")
		return
	}

	tripped := s.gate.recordFailure()
	s.metrics.SetFailedTimes(s.gate.failures)
	if tripped {
		s.startCooldown(err)
		return
	}
	s.logger.Warn().Err(err).Int("failedTimes", s.gate.failures).Msg("connection failed, reconnecting")
	s.reconnectIfNeeded()
}

func (s *Session) handleReachability(reachable bool) {
	if !reachable {
		s.logger.Warn().Msg("network unreachable")
		return
	}
	s.logger.Info().Msg("network reachable")
	s.reconnectIfNeeded()
	s.publish()
}

func (s *Session) handleLifecycle(e lifecycle.Event) {
	switch e {
	case lifecycle.Background:
		s.background = true
		s.stopObservingReachability()
		if !s.terminated {
			s.logger.Info().Msg("entering background, pausing connection")
			s.isConnecting = false
			s.connected = false
			s.conn.Disconnect()
		}
	case lifecycle.Foreground:
		s.background = false
		if !s.terminated {
			s.logger.Info().Msg("entering foreground, resuming connection")
			s.observeReachability()
			s.reconnectIfNeeded()
		}
	}
	s.publish()
}

func (s *Session) handleCooldownElapsed(gen uint64) {
	if gen != s.cooldownGen || s.cooldown == nil {
		return
	}
	s.cooldown = nil
	s.gate.clearCritical()
	s.logger.Info().Msg("critical cooldown elapsed")
	s.reconnectIfNeeded()
	s.publish()
}

func (s *Session) reconnectIfNeeded() {
	if s.terminated || s.background || s.gate.critical() || s.isConnecting || s.conn.IsConnected() {
		return
	}
	s.dial()
}

// dial starts a new attempt; control messages wait for handleConnected to resubscribe
func (s *Session) dial() {
	s.isConnecting = true
	s.registry.Pause()
	s.conn.Connect()
}

func (s *Session) startCooldown(cause error) {
	s.stopCooldown()
	gen := s.cooldownGen
	s.cooldown = s.afterFunc(s.criticalRetryInterval, func() {
		s.post(func() { s.handleCooldownElapsed(gen) })
	})
	s.logger.Error().
		Err(cause).
		Int("failedTimes", s.gate.failures).
		Dur("retryIn", s.criticalRetryInterval).
		Msg("critical connection error, cooling down")
}

func (s *Session) stopCooldown() {
	if s.cooldown != nil {
		s.cooldown.Stop()
		s.cooldown = nil
	}
	s.cooldownGen++
}

func (s *Session) reachable() bool {
	return s.reach == nil || s.reach.Reachable()
}

func (s *Session) observeReachability() {
	if s.reach == nil || s.reachCancel != nil {
		return
	}
	s.reachCancel = s.reach.Watch(func(reachable bool) {
		s.post(func() { s.handleReachability(reachable) })
	})
}

func (s *Session) stopObservingReachability() {
	if s.reachCancel != nil {
		s.reachCancel()
		s.reachCancel = nil
	}
}

func (s *Session) currentState() State {
	switch {
	case s.terminated:
		return StateDisconnected
	case s.gate.critical():
		return StateCooldown
	case s.isConnecting:
		return StateConnecting
	case s.connected:
		return StateConnected
	default:
		return StateWaiting
	}
}

// publish refreshes the snapshot read by State and Status
func (s *Session) publish() {
	state := s.currentState()
	s.statusMu.Lock()
	s.status = Status{
		URL:         s.url,
		State:       state,
		FailedTimes: s.gate.failures,
		Background:  s.background,
	}
	s.statusMu.Unlock()
	s.metrics.SetState(string(state), allStates)
}
