package endpoint

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// Match is a single predicate on an envelope field. An empty Equals only requires the field to exist.
type Match struct {
	Path   string
	Equals string
}

// Rule is a declarative endpoint whose values are JSON fragments
type Rule struct {
	Name        string
	Subscribe   string
	Unsubscribe string
	// Match lists predicates that must all hold; a Rule with none never matches
	Match []Match
	// ValuePath selects the value; "" yields the whole envelope
	ValuePath string
	// DedupPath selects a field identifying replayed messages; "" disables dedup
	DedupPath string
}

func (r *Rule) Key() string                { return r.Name }
func (r *Rule) SubscribeMessage() string   { return r.Subscribe }
func (r *Rule) UnsubscribeMessage() string { return r.Unsubscribe }

// CanHandle reports whether every Match holds for env
func (r *Rule) CanHandle(env Envelope) bool {
	if len(r.Match) == 0 {
		return false
	}
	for _, m := range r.Match {
		v := env.Get(m.Path)
		if !v.Exists() {
			return false
		}
		if m.Equals != "" && v.String() != m.Equals {
			return false
		}
	}
	return true
}

// ExtractValue returns the fragment at ValuePath
func (r *Rule) ExtractValue(env Envelope) (gjson.Result, error) {
	if r.ValuePath == "" {
		return env.Result(), nil
	}
	v := env.Get(r.ValuePath)
	if !v.Exists() {
		return gjson.Result{}, fmt.Errorf("%w: %s: path %q not found", ErrExtraction, r.Name, r.ValuePath)
	}
	return v, nil
}

// DedupKey returns the value at DedupPath
func (r *Rule) DedupKey(env Envelope) string {
	if r.DedupPath == "" {
		return ""
	}
	return env.Get(r.DedupPath).String()
}

// Func is an endpoint assembled from functions
type Func[V any] struct {
	ID          string
	Subscribe   string
	Unsubscribe string
	Match       func(env Envelope) bool
	Extract     func(env Envelope) (V, error)
}

func (f *Func[V]) Key() string                { return f.ID }
func (f *Func[V]) SubscribeMessage() string   { return f.Subscribe }
func (f *Func[V]) UnsubscribeMessage() string { return f.Unsubscribe }

func (f *Func[V]) CanHandle(env Envelope) bool {
	return f.Match != nil && f.Match(env)
}

func (f *Func[V]) ExtractValue(env Envelope) (V, error) {
	if f.Extract == nil {
		var zero V
		return zero, fmt.Errorf("%w: %s: no extractor", ErrExtraction, f.ID)
	}
	return f.Extract(env)
}
