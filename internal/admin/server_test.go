package admin

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"wssession/internal/metrics"
	"wssession/internal/session"
	"wssession/internal/subscription"
)

type stubStatus struct {
	status session.Status
}

func (s *stubStatus) Status() session.Status {
	return s.status
}

func TestServer_Health(t *testing.T) {
	stub := &stubStatus{status: session.Status{State: session.StateConnected}}
	srv := httptest.NewServer(New(":0", stub, nil, zerolog.Nop()).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	stub.status.State = session.StateCooldown
	resp, err = http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestServer_Status(t *testing.T) {
	stub := &stubStatus{status: session.Status{
		URL:         "wss://example.com/ws",
		State:       session.StateWaiting,
		FailedTimes: 2,
		Endpoints:   []subscription.EndpointStatus{{Key: "ticker", Subscribers: 3}},
	}}
	srv := httptest.NewServer(New(":0", stub, nil, zerolog.Nop()).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %s", ct)
	}

	var got session.Status
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.State != session.StateWaiting || got.FailedTimes != 2 || got.URL != "wss://example.com/ws" {
		t.Errorf("status = %+v", got)
	}
	if len(got.Endpoints) != 1 || got.Endpoints[0].Key != "ticker" || got.Endpoints[0].Subscribers != 3 {
		t.Errorf("endpoints = %+v", got.Endpoints)
	}
}

func TestServer_Metrics(t *testing.T) {
	m := metrics.New()
	m.SetSubscribers(4)
	srv := httptest.NewServer(New(":0", &stubStatus{}, m, zerolog.Nop()).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "wssession_subscribers 4") {
		t.Errorf("metrics body missing gauge:\n%s", body)
	}

	resp, err = http.Post(srv.URL+"/metrics", "text/plain", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d, want 405", resp.StatusCode)
	}
}

func TestServer_StartStop(t *testing.T) {
	s := New("127.0.0.1:0", &stubStatus{status: session.Status{State: session.StateConnected}}, nil, zerolog.Nop())
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	if err := s.Stop(context.Background()); err != nil {
		t.Errorf("Stop: %v", err)
	}
}
