package reachability

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultHost     = "8.8.8.8:53"
	DefaultInterval = 5 * time.Second
	DefaultTimeout  = 2 * time.Second
)

// DialFunc opens a connection; net.Dialer.DialContext satisfies it
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// ProberOptions configures a Prober
type ProberOptions struct {
	Host     string
	Interval time.Duration
	Timeout  time.Duration
	// Dial replaces the TCP dialer, mostly for tests
	Dial DialFunc
}

// Prober is a Monitor that periodically opens a TCP connection to a well known host.
// It starts out reachable until the first probe says otherwise.
type Prober struct {
	*Signal

	host     string
	interval time.Duration
	timeout  time.Duration
	dial     DialFunc
	logger   zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewProber creates a Prober; zero options take the defaults
func NewProber(opts ProberOptions, logger zerolog.Logger) *Prober {
	if opts.Host == "" {
		opts.Host = DefaultHost
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Dial == nil {
		d := &net.Dialer{}
		opts.Dial = d.DialContext
	}
	return &Prober{
		Signal:   NewSignal(true),
		host:     opts.Host,
		interval: opts.Interval,
		timeout:  opts.Timeout,
		dial:     opts.Dial,
		logger:   logger.With().Str("component", "reachability").Logger(),
	}
}

// Start probes immediately and then every interval until Stop
func (p *Prober) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	p.wg.Add(1)
	go p.loop(ctx)

	p.logger.Info().Str("host", p.host).Dur("interval", p.interval).Msg("reachability prober started")
}

// Stop ends probing and waits for the loop to exit
func (p *Prober) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	p.wg.Wait()
	p.logger.Info().Msg("reachability prober stopped")
}

func (p *Prober) loop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.Probe(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Probe runs one check and updates the state. Returns the observed reachability.
func (p *Prober) Probe(ctx context.Context) bool {
	dialCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	conn, err := p.dial(dialCtx, "tcp", p.host)
	if err != nil {
		// stopped while probing
		if ctx.Err() != nil {
			return p.Reachable()
		}
		if p.Reachable() {
			p.logger.Warn().Err(err).Str("host", p.host).Msg("network unreachable")
		}
		p.Set(false)
		return false
	}
	_ = conn.Close()

	if !p.Reachable() {
		p.logger.Info().Str("host", p.host).Msg("network reachable again")
	}
	p.Set(true)
	return true
}
