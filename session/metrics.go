package session

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"udsstack/uds"
)

// Metrics is the prometheus surface the coordinator exposes (SPEC_FULL §3):
// request counts, NRC occurrences, pending-response retries, and keep-alive
// ticks, so a caller embedding this stack in a service can mount /metrics.
type Metrics struct {
	Registry *prometheus.Registry

	requestsTotal      *prometheus.CounterVec
	negativeResponses  *prometheus.CounterVec
	pendingRetries     prometheus.Counter
	keepAliveTicks     prometheus.Counter
}

// NewMetrics builds and registers a fresh metric set.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		Registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "uds",
			Name:      "requests_total",
			Help:      "UDS requests issued, labeled by service and outcome.",
		}, []string{"service", "outcome"}),
		negativeResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "uds",
			Name:      "negative_responses_total",
			Help:      "Negative responses received, labeled by NRC.",
		}, []string{"nrc"}),
		pendingRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "uds",
			Name:      "pending_retries_total",
			Help:      "Response-pending (NRC 0x78) frames consumed.",
		}),
		keepAliveTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "uds",
			Name:      "keepalive_ticks_total",
			Help:      "TesterPresent keep-alive frames sent by the coordinator.",
		}),
	}
	registry.MustRegister(m.requestsTotal, m.negativeResponses, m.pendingRetries, m.keepAliveTicks)
	return m
}

// ObserveRequest implements uds.Observer.
func (m *Metrics) ObserveRequest(service string, err error) {
	outcome := "ok"
	var negErr *uds.NegativeResponseError
	switch {
	case err == nil:
	case errors.As(err, &negErr):
		outcome = "error"
		m.negativeResponses.WithLabelValues(negErr.NRC.String()).Inc()
	default:
		outcome = "error"
	}
	m.requestsTotal.WithLabelValues(service, outcome).Inc()
}

// ObservePendingRetry implements uds.Observer.
func (m *Metrics) ObservePendingRetry() {
	m.pendingRetries.Inc()
}

func (m *Metrics) observeKeepAlive() {
	m.keepAliveTicks.Inc()
}
