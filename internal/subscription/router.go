package subscription

import (
	"time"

	"github.com/rs/zerolog"

	"wssession/internal/endpoint"
	"wssession/internal/metrics"
)

const slowDeliveryThreshold = time.Second

// Router turns inbound messages into deliveries to the registry's subscribers
type Router struct {
	registry *Registry
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// NewRouter creates a Router over registry
func NewRouter(registry *Registry, m *metrics.Metrics, logger zerolog.Logger) *Router {
	return &Router{
		registry: registry,
		metrics:  m,
		logger:   logger.With().Str("component", "router").Logger(),
	}
}

// Dispatch routes one message. The first endpoint in registration order that handles the
// envelope wins; messages nobody handles are dropped.
func (r *Router) Dispatch(text string) {
	env, err := endpoint.ParseEnvelope(text)
	if err != nil {
		r.metrics.Dropped("parse")
		r.logger.Warn().Err(err).Int("len", len(text)).Msg("failed to parse message")
		return
	}

	ep, subs, dedup, ok := r.registry.match(env)
	if !ok {
		r.metrics.Dropped("unmatched")
		return
	}
	key := ep.Key()
	if len(subs) == 0 {
		r.metrics.Dropped("no_subscribers")
		return
	}
	if dedup != nil && dedup.IsDuplicate(ep.DedupKey(env)) {
		r.metrics.Dropped("duplicate")
		r.logger.Debug().Str("key", key).Msg("duplicate message dropped")
		return
	}

	value, err := ep.Extract(env)
	if err != nil {
		r.metrics.Dropped("extract")
		r.logger.Error().Err(err).Str("key", key).Msg("failed to extract value")
		return
	}

	for _, sub := range subs {
		r.deliver(key, sub, value)
	}
	r.metrics.Delivered(key)
}

// deliver isolates one subscriber so a panic does not stop delivery to the rest
func (r *Router) deliver(key string, sub Subscriber, value any) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error().Interface("panic", p).Str("key", key).Str("subscriber", sub.ID).Msg("subscriber handler panic")
		}
	}()
	start := time.Now()
	sub.Deliver(value)
	if d := time.Since(start); d > slowDeliveryThreshold {
		r.logger.Warn().Str("key", key).Str("subscriber", sub.ID).Dur("duration", d).Msg("subscriber delivery slow")
	}
}
