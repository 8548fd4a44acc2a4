package endpoint

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

var (
	// ErrInvalidEnvelope is returned when an inbound message is not a JSON document
	ErrInvalidEnvelope = errors.New("invalid envelope")
	// ErrExtraction wraps every value extraction failure
	ErrExtraction = errors.New("failed to extract value")
)

// Envelope is one parsed inbound message
type Envelope struct {
	raw string
	doc gjson.Result
}

// ParseEnvelope parses text as a JSON document
func ParseEnvelope(text string) (Envelope, error) {
	if !gjson.Valid(text) {
		return Envelope{}, fmt.Errorf("%w: not valid JSON (%d bytes)", ErrInvalidEnvelope, len(text))
	}
	return Envelope{raw: text, doc: gjson.Parse(text)}, nil
}

// Raw returns the message text
func (e Envelope) Raw() string {
	return e.raw
}

// Get returns the value at a gjson path
func (e Envelope) Get(path string) gjson.Result {
	return e.doc.Get(path)
}

// Result returns the whole document
func (e Envelope) Result() gjson.Result {
	return e.doc
}

// Endpoint is a subscription topic whose values have type V.
// Endpoints with equal keys are the same topic.
type Endpoint[V any] interface {
	Key() string
	// SubscribeMessage is sent when the first subscriber joins; "" sends nothing
	SubscribeMessage() string
	// UnsubscribeMessage is sent when the last subscriber leaves; "" sends nothing
	UnsubscribeMessage() string
	CanHandle(env Envelope) bool
	ExtractValue(env Envelope) (V, error)
}

// Any is an Endpoint with its value type erased, as stored by the registry
type Any interface {
	Key() string
	SubscribeMessage() string
	UnsubscribeMessage() string
	CanHandle(env Envelope) bool
	Extract(env Envelope) (any, error)
	// DedupKey identifies a message for duplicate suppression; "" disables it
	DedupKey(env Envelope) string
}

// Deduper is implemented by endpoints whose messages can be replayed by the server
type Deduper interface {
	DedupKey(env Envelope) string
}

// Erase wraps ep for storage next to endpoints of other value types
func Erase[V any](ep Endpoint[V]) Any {
	return erased[V]{ep: ep}
}

type erased[V any] struct {
	ep Endpoint[V]
}

func (e erased[V]) Key() string                 { return e.ep.Key() }
func (e erased[V]) SubscribeMessage() string    { return e.ep.SubscribeMessage() }
func (e erased[V]) UnsubscribeMessage() string  { return e.ep.UnsubscribeMessage() }
func (e erased[V]) CanHandle(env Envelope) bool { return e.ep.CanHandle(env) }

func (e erased[V]) Extract(env Envelope) (any, error) {
	return e.ep.ExtractValue(env)
}

func (e erased[V]) DedupKey(env Envelope) string {
	if d, ok := e.ep.(Deduper); ok {
		return d.DedupKey(env)
	}
	return ""
}
