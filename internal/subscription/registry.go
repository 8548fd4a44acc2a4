package subscription

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"wssession/internal/endpoint"
	"wssession/internal/metrics"
	"wssession/internal/transport"
)

// DefaultSendTimeout bounds a single subscribe/unsubscribe send
const DefaultSendTimeout = 10 * time.Second

// Sender delivers control messages to the server
type Sender interface {
	Send(ctx context.Context, message string) error
}

// subEntry holds the subscribers of one endpoint
type subEntry struct {
	endpoint endpoint.Any
	subs     map[string]Subscriber
	order    []string
	dedup    *Deduplicator
}

func (e *subEntry) snapshot() []Subscriber {
	out := make([]Subscriber, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.subs[id])
	}
	return out
}

// EndpointStatus describes one active endpoint
type EndpointStatus struct {
	Key         string `json:"key"`
	Subscribers int    `json:"subscribers"`
}

// Registry maps endpoints to their subscribers.
// The first subscriber of an endpoint sends its subscribe message and the last one to leave sends
// its unsubscribe message. Mutations and their control messages are serialized by ctlMu; reads
// for dispatch only take mu. Between Pause and the next ResubscribeAll no control message is sent.
type Registry struct {
	ctlMu  sync.Mutex
	paused atomic.Bool

	mu     sync.RWMutex
	active map[string]*subEntry
	// endpoint keys in registration order
	order []string

	sender      Sender
	sendTimeout time.Duration
	dedupSize   int
	metrics     *metrics.Metrics
	logger      zerolog.Logger
}

// NewRegistry creates a Registry sending control messages through sender.
// dedupSize <= 0 disables duplicate suppression.
func NewRegistry(sender Sender, dedupSize int, m *metrics.Metrics, logger zerolog.Logger) *Registry {
	return &Registry{
		active:      make(map[string]*subEntry),
		sender:      sender,
		sendTimeout: DefaultSendTimeout,
		dedupSize:   dedupSize,
		metrics:     m,
		logger:      logger.With().Str("component", "subscription-registry").Logger(),
	}
}

// Add registers sub under ep. A send failure is logged; the subscriber stays registered.
func (r *Registry) Add(ep endpoint.Any, sub Subscriber) {
	key := ep.Key()

	r.ctlMu.Lock()
	defer r.ctlMu.Unlock()

	r.mu.Lock()
	entry, exists := r.active[key]
	if exists {
		if _, dup := entry.subs[sub.ID]; !dup {
			entry.order = append(entry.order, sub.ID)
		}
		entry.subs[sub.ID] = sub
		total := r.totalLocked()
		r.mu.Unlock()
		r.metrics.SetSubscribers(total)
		r.logger.Debug().Str("key", key).Str("subscriberID", sub.ID).Msg("subscriber added to existing subscription")
		return
	}

	entry = &subEntry{
		endpoint: ep,
		subs:     map[string]Subscriber{sub.ID: sub},
		order:    []string{sub.ID},
	}
	if r.dedupSize > 0 {
		dedup, err := NewDeduplicator(r.dedupSize)
		if err != nil {
			r.logger.Warn().Err(err).Str("key", key).Msg("dedup disabled for subscription")
		}
		entry.dedup = dedup
	}
	r.active[key] = entry
	r.order = append(r.order, key)
	total := r.totalLocked()
	r.mu.Unlock()

	r.metrics.SetSubscribers(total)
	r.logger.Info().Str("key", key).Str("subscriberID", sub.ID).Msg("created new subscription")

	if msg := ep.SubscribeMessage(); msg != "" {
		r.sendUnlessPaused("subscribe", key, msg)
	}
}

// Remove unregisters a subscriber. Removing the last one drops the endpoint and sends its
// unsubscribe message.
func (r *Registry) Remove(key, subscriberID string) {
	r.ctlMu.Lock()
	defer r.ctlMu.Unlock()

	r.mu.Lock()
	entry, exists := r.active[key]
	if !exists {
		r.mu.Unlock()
		return
	}
	if _, ok := entry.subs[subscriberID]; !ok {
		r.mu.Unlock()
		return
	}
	delete(entry.subs, subscriberID)
	entry.order = slices.DeleteFunc(entry.order, func(id string) bool { return id == subscriberID })
	if len(entry.subs) > 0 {
		total := r.totalLocked()
		r.mu.Unlock()
		r.metrics.SetSubscribers(total)
		r.logger.Debug().Str("key", key).Str("subscriberID", subscriberID).Int("remaining", len(entry.subs)).Msg("subscriber removed")
		return
	}

	delete(r.active, key)
	r.order = slices.DeleteFunc(r.order, func(k string) bool { return k == key })
	total := r.totalLocked()
	r.mu.Unlock()

	r.metrics.SetSubscribers(total)
	r.logger.Info().Str("key", key).Msg("closed subscription (no more subscribers)")

	if msg := entry.endpoint.UnsubscribeMessage(); msg != "" {
		r.sendUnlessPaused("unsubscribe", key, msg)
	}
}

// Pause holds back control messages until the next ResubscribeAll. It is used while a new
// connection is being established, so endpoints added meanwhile are subscribed once.
func (r *Registry) Pause() {
	r.paused.Store(true)
}

// ResubscribeAll resumes control messages and resends the subscribe message of every active
// endpoint, in registration order. ctx bounds the whole batch. Returns the number of messages
// sent successfully.
func (r *Registry) ResubscribeAll(ctx context.Context) int {
	r.ctlMu.Lock()
	defer r.ctlMu.Unlock()
	r.paused.Store(false)

	endpoints := r.Endpoints()
	ok := 0
	for _, ep := range endpoints {
		msg := ep.SubscribeMessage()
		if msg == "" {
			continue
		}
		if ctx.Err() != nil {
			r.logger.Warn().Err(ctx.Err()).Str("key", ep.Key()).Msg("resubscribe deadline reached, skipping")
			continue
		}
		if r.send(ctx, "subscribe", ep.Key(), msg) {
			ok++
		}
	}
	r.logger.Info().Int("total", len(endpoints)).Int("ok", ok).Msg("resubscribe done")
	return ok
}

// Endpoints returns the active endpoints in registration order
func (r *Registry) Endpoints() []endpoint.Any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]endpoint.Any, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.active[key].endpoint)
	}
	return out
}

// Count returns the number of active endpoints
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active)
}

// SubscriberCount returns the number of subscribers registered under key
func (r *Registry) SubscriberCount(key string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if entry, ok := r.active[key]; ok {
		return len(entry.subs)
	}
	return 0
}

// Status lists active endpoints with their subscriber counts
func (r *Registry) Status() []EndpointStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]EndpointStatus, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, EndpointStatus{Key: key, Subscribers: len(r.active[key].subs)})
	}
	return out
}

// match returns the first endpoint in registration order that handles env.
// CanHandle runs without holding mu, so endpoint code may subscribe or cancel.
func (r *Registry) match(env endpoint.Envelope) (endpoint.Any, []Subscriber, *Deduplicator, bool) {
	r.mu.RLock()
	entries := make([]*subEntry, 0, len(r.order))
	for _, key := range r.order {
		entries = append(entries, r.active[key])
	}
	r.mu.RUnlock()

	for _, entry := range entries {
		if !entry.endpoint.CanHandle(env) {
			continue
		}
		r.mu.RLock()
		defer r.mu.RUnlock()
		if r.active[entry.endpoint.Key()] != entry {
			// removed while matching
			return nil, nil, nil, false
		}
		return entry.endpoint, entry.snapshot(), entry.dedup, true
	}
	return nil, nil, nil, false
}

func (r *Registry) totalLocked() int {
	n := 0
	for _, entry := range r.active {
		n += len(entry.subs)
	}
	return n
}

func (r *Registry) sendUnlessPaused(kind, key, message string) {
	if r.paused.Load() {
		r.logger.Debug().Str("key", key).Str("kind", kind).Msg("connection not ready, control message held")
		return
	}
	r.send(context.Background(), kind, key, message)
}

// send delivers a control message; failures are logged and reported as false
func (r *Registry) send(ctx context.Context, kind, key, message string) bool {
	ctx, cancel := context.WithTimeout(ctx, r.sendTimeout)
	defer cancel()

	err := r.sender.Send(ctx, message)
	if err == nil {
		r.logger.Debug().Str("key", key).Str("kind", kind).Msg("control message sent")
		return true
	}

	r.metrics.SendFailed(kind)
	if errors.Is(err, transport.ErrClosed) {
		r.logger.Debug().Err(err).Str("key", key).Str("kind", kind).Msg("not connected, control message skipped")
	} else {
		r.logger.Error().Err(err).Str("key", key).Str("kind", kind).Msg("failed to send control message")
	}
	return false
}
