package internal

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the client-side collectors. A nil *Metrics records nothing.
type Metrics struct {
	requests   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	delivered  prometheus.Counter
	heartbeats prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered, which is useful in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "zulip_client_requests_total",
			Help: "Total number of Zulip API requests by endpoint, method, and outcome",
		}, []string{"endpoint", "method", "outcome"}),

		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name: "zulip_client_request_duration_seconds",
			Help: "Zulip API request duration in seconds",
			// Event polls are long-polls and can legitimately take a minute or more.
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15, 30, 60, 90},
		}, []string{"endpoint", "method"}),

		delivered: factory.NewCounter(prometheus.CounterOpts{
			Name: "zulip_client_events_delivered_total",
			Help: "Events returned to callers from event queue polls",
		}),

		heartbeats: factory.NewCounter(prometheus.CounterOpts{
			Name: "zulip_client_heartbeats_suppressed_total",
			Help: "Heartbeat-terminated batches that triggered an immediate re-poll",
		}),
	}
}

// ObserveRequest records one completed request.
func (m *Metrics) ObserveRequest(endpoint, method, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(endpoint, method, outcome).Inc()
	m.duration.WithLabelValues(endpoint, method).Observe(elapsed.Seconds())
}

// ObserveDelivered records events handed back to a caller.
func (m *Metrics) ObserveDelivered(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.delivered.Add(float64(count))
}

// ObserveHeartbeat records one suppressed heartbeat batch.
func (m *Metrics) ObserveHeartbeat() {
	if m == nil {
		return
	}
	m.heartbeats.Inc()
}
