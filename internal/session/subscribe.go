package session

import (
	"context"
	"iter"
	"sync"

	"wssession/internal/endpoint"
	"wssession/internal/subscription"
)

// Subscription is a handle for one registered subscriber
type Subscription struct {
	session *Session
	key     string
	id      string
	once    sync.Once
}

// ID returns the subscriber ID, or "" for an inert handle
func (s *Subscription) ID() string {
	return s.id
}

// Key returns the endpoint key
func (s *Subscription) Key() string {
	return s.key
}

// Cancel removes the subscriber. The last subscriber of an endpoint unsubscribes it on the
// server. Safe to call more than once.
func (s *Subscription) Cancel() {
	if s == nil || s.session == nil {
		return
	}
	s.once.Do(func() {
		if s.session.closed.Load() {
			return
		}
		s.session.registry.Remove(s.key, s.id)
	})
}

// Subscribe registers fn for values of ep. The first subscriber of an endpoint sends its
// subscribe message; values arrive on the connection's receive goroutine, in order.
// Subscribing never fails: a closed session returns an inert handle.
func Subscribe[V any](s *Session, ep endpoint.Endpoint[V], fn func(V)) *Subscription {
	if s == nil || s.closed.Load() {
		return &Subscription{key: ep.Key()}
	}
	sub := subscription.NewSubscriber(func(v any) {
		if typed, ok := v.(V); ok {
			fn(typed)
		}
	})
	s.registry.Add(endpoint.Erase[V](ep), sub)
	return &Subscription{session: s, key: ep.Key(), id: sub.ID}
}

// Stream returns the values of ep as a sequence. Nothing is subscribed until the sequence is
// ranged over; ranging ends when the loop breaks, ctx is done or the session is closed, and
// then the subscription is cancelled. Values are buffered without bound.
func Stream[V any](ctx context.Context, s *Session, ep endpoint.Endpoint[V]) iter.Seq[V] {
	return func(yield func(V) bool) {
		if s == nil || s.closed.Load() {
			return
		}
		buf := newQueue[V]()
		sub := Subscribe(s, ep, buf.push)
		defer sub.Cancel()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopped:
				return
			case <-buf.ready:
			}
			for _, v := range buf.drain() {
				if !yield(v) {
					return
				}
			}
		}
	}
}

// Publisher is a push-based view of an endpoint
type Publisher[V any] struct {
	session  *Session
	endpoint endpoint.Endpoint[V]
}

// NewPublisher creates a Publisher for ep
func NewPublisher[V any](s *Session, ep endpoint.Endpoint[V]) *Publisher[V] {
	return &Publisher[V]{session: s, endpoint: ep}
}

// Endpoint returns the published endpoint
func (p *Publisher[V]) Endpoint() endpoint.Endpoint[V] {
	return p.endpoint
}

// Sink attaches fn; each call adds an independent subscriber
func (p *Publisher[V]) Sink(fn func(V)) *Subscription {
	return Subscribe(p.session, p.endpoint, fn)
}
