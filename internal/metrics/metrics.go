package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name
const Namespace = "wssession"

// Metrics holds the collectors for one session. All methods are safe on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	connectAttempts *prometheus.CounterVec
	framesReceived  *prometheus.CounterVec
	sendFailures    *prometheus.CounterVec
	dropped         *prometheus.CounterVec
	delivered       *prometheus.CounterVec
	subscribers     prometheus.Gauge
	failedTimes     prometheus.Gauge
	state           *prometheus.GaugeVec
}

// New creates a Metrics with its own registry
func New() *Metrics {
	r := prometheus.NewRegistry()
	r.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		registry:        r,
		connectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: Namespace, Name: "connect_attempts_total"}, []string{"result"}),
		framesReceived:  prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: Namespace, Name: "frames_received_total"}, []string{"kind"}),
		sendFailures:    prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: Namespace, Name: "send_failures_total"}, []string{"kind"}),
		dropped:         prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: Namespace, Name: "messages_dropped_total"}, []string{"reason"}),
		delivered:       prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: Namespace, Name: "messages_delivered_total"}, []string{"endpoint"}),
		subscribers:     prometheus.NewGauge(prometheus.GaugeOpts{Namespace: Namespace, Name: "subscribers"}),
		failedTimes:     prometheus.NewGauge(prometheus.GaugeOpts{Namespace: Namespace, Name: "consecutive_failures"}),
		state:           prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: Namespace, Name: "state"}, []string{"state"}),
	}
	r.MustRegister(m.connectAttempts, m.framesReceived, m.sendFailures, m.dropped, m.delivered, m.subscribers, m.failedTimes, m.state)
	return m
}

// ConnectAttempt counts a dial outcome ("ok" or "failed")
func (m *Metrics) ConnectAttempt(result string) {
	if m == nil {
		return
	}
	m.connectAttempts.WithLabelValues(result).Inc()
}

// FrameReceived counts an inbound frame ("text" or "binary")
func (m *Metrics) FrameReceived(kind string) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(kind).Inc()
}

// SendFailed counts a failed outbound frame ("ping", "subscribe", "unsubscribe", ...)
func (m *Metrics) SendFailed(kind string) {
	if m == nil {
		return
	}
	m.sendFailures.WithLabelValues(kind).Inc()
}

// Dropped counts an inbound message that was not delivered
func (m *Metrics) Dropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

// Delivered counts a value fanned out for an endpoint
func (m *Metrics) Delivered(endpoint string) {
	if m == nil {
		return
	}
	m.delivered.WithLabelValues(endpoint).Inc()
}

// SetSubscribers sets the number of registered subscribers
func (m *Metrics) SetSubscribers(n int) {
	if m == nil {
		return
	}
	m.subscribers.Set(float64(n))
}

// SetFailedTimes sets the consecutive failure counter
func (m *Metrics) SetFailedTimes(n int) {
	if m == nil {
		return
	}
	m.failedTimes.Set(float64(n))
}

// SetState marks current as the active session state
func (m *Metrics) SetState(current string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		m.state.WithLabelValues(s).Set(v)
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
