// Package metrics holds the Prometheus collectors exported on /metrics.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "wiredm"

// Fan-out outcomes.
const (
	OutcomeDelivered = "delivered"
	OutcomeOffline   = "offline"
	OutcomeDropped   = "dropped"
)

// Metrics groups the server's collectors.
type Metrics struct {
	Connections     prometheus.Gauge
	Fanout          *prometheus.CounterVec
	Messages        *prometheus.CounterVec
	RateLimited     *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections",
			Help:      "Number of users with a live WebSocket connection.",
		}),
		Fanout: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fanout_events_total",
			Help:      "Real-time events by name and delivery outcome.",
		}, []string{"event", "outcome"}),
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "message_operations_total",
			Help:      "Completed message operations by kind.",
		}, []string{"op"}),
		RateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by a rate limiter.",
		}, []string{"scope"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	reg.MustRegister(m.Connections, m.Fanout, m.Messages, m.RateLimited, m.RequestDuration)
	return m
}

// SetConnections records the current number of reachable users.
func (m *Metrics) SetConnections(n int) {
	if m == nil {
		return
	}
	m.Connections.Set(float64(n))
}

// ObserveFanout counts one fan-out attempt.
func (m *Metrics) ObserveFanout(event, outcome string) {
	if m == nil {
		return
	}
	m.Fanout.WithLabelValues(event, outcome).Inc()
}

// IncMessageOp counts a completed send, delete_me, delete_everyone or react.
func (m *Metrics) IncMessageOp(op string) {
	if m == nil {
		return
	}
	m.Messages.WithLabelValues(op).Inc()
}

// IncRateLimited counts a rejected request for scope (http or ws).
func (m *Metrics) IncRateLimited(scope string) {
	if m == nil {
		return
	}
	m.RateLimited.WithLabelValues(scope).Inc()
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
