package endpoint

import (
	"errors"
	"testing"

	"github.com/tidwall/gjson"
)

func TestParseEnvelope(t *testing.T) {
	env, err := ParseEnvelope(`{"channel":"ticker","data":{"price":"1.5"}}`)
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	if got := env.Get("data.price").String(); got != "1.5" {
		t.Errorf("data.price = %s, want 1.5", got)
	}

	for _, bad := range []string{"", "not json", `{"open":`} {
		if _, err := ParseEnvelope(bad); !errors.Is(err, ErrInvalidEnvelope) {
			t.Errorf("ParseEnvelope(%q) err = %v, want ErrInvalidEnvelope", bad, err)
		}
	}
}

func TestRule_CanHandle(t *testing.T) {
	rule := &Rule{
		Name:  "btc-ticker",
		Match: []Match{{Path: "channel", Equals: "ticker"}, {Path: "symbol", Equals: "BTC"}},
	}

	tests := []struct {
		name string
		msg  string
		want bool
	}{
		{"all match", `{"channel":"ticker","symbol":"BTC"}`, true},
		{"other symbol", `{"channel":"ticker","symbol":"ETH"}`, false},
		{"missing field", `{"channel":"ticker"}`, false},
		{"pong", `{"pong":1}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := ParseEnvelope(tt.msg)
			if err != nil {
				t.Fatalf("ParseEnvelope: %v", err)
			}
			if got := rule.CanHandle(env); got != tt.want {
				t.Errorf("CanHandle = %v, want %v", got, tt.want)
			}
		})
	}

	env, _ := ParseEnvelope(`{"channel":"ticker"}`)
	if (&Rule{Name: "empty"}).CanHandle(env) {
		t.Error("rule without predicates should never match")
	}
	exists := &Rule{Name: "exists", Match: []Match{{Path: "channel"}}}
	if !exists.CanHandle(env) {
		t.Error("existence predicate should match")
	}
}

func TestRule_ExtractValue(t *testing.T) {
	env, _ := ParseEnvelope(`{"channel":"ticker","data":{"price":"1.5"},"seq":7}`)

	rule := &Rule{Name: "ticker", ValuePath: "data.price", DedupPath: "seq"}
	v, err := rule.ExtractValue(env)
	if err != nil {
		t.Fatalf("ExtractValue: %v", err)
	}
	if v.String() != "1.5" {
		t.Errorf("value = %s", v.String())
	}
	if key := rule.DedupKey(env); key != "7" {
		t.Errorf("DedupKey = %q, want 7", key)
	}

	whole := &Rule{Name: "whole"}
	v, err = whole.ExtractValue(env)
	if err != nil || v.Get("seq").Int() != 7 {
		t.Errorf("whole envelope extraction = %v, %v", v, err)
	}

	missing := &Rule{Name: "missing", ValuePath: "nope"}
	if _, err := missing.ExtractValue(env); !errors.Is(err, ErrExtraction) {
		t.Errorf("err = %v, want ErrExtraction", err)
	}
}

func TestErase(t *testing.T) {
	typed := &Func[int]{
		ID:        "count",
		Subscribe: "sub",
		Match:     func(env Envelope) bool { return env.Get("count").Exists() },
		Extract:   func(env Envelope) (int, error) { return int(env.Get("count").Int()), nil },
	}
	ep := Erase[int](typed)

	if ep.Key() != "count" || ep.SubscribeMessage() != "sub" || ep.UnsubscribeMessage() != "" {
		t.Errorf("erased accessors: %q %q %q", ep.Key(), ep.SubscribeMessage(), ep.UnsubscribeMessage())
	}
	env, _ := ParseEnvelope(`{"count":3}`)
	if !ep.CanHandle(env) {
		t.Fatal("CanHandle = false")
	}
	v, err := ep.Extract(env)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if v.(int) != 3 {
		t.Errorf("value = %v, want 3", v)
	}
	if ep.DedupKey(env) != "" {
		t.Error("Func endpoints do not dedup")
	}

	rule := Erase[gjson.Result](&Rule{Name: "r", DedupPath: "count"})
	if rule.DedupKey(env) != "3" {
		t.Errorf("erased rule DedupKey = %q", rule.DedupKey(env))
	}
}

func TestFunc_NoExtractor(t *testing.T) {
	f := &Func[string]{ID: "nil"}
	env, _ := ParseEnvelope(`{}`)
	if f.CanHandle(env) {
		t.Error("nil Match should not handle")
	}
	if _, err := f.ExtractValue(env); !errors.Is(err, ErrExtraction) {
		t.Errorf("err = %v, want ErrExtraction", err)
	}
}
