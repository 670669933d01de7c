package utilities

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors. A nil *Metrics is valid
// and records nothing, which keeps tests and tools free of registry wiring.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal      *prometheus.CounterVec
	AuthRejectionsTotal    *prometheus.CounterVec
	ProgressMutationsTotal *prometheus.CounterVec
	AuditAppendFailures    prometheus.Counter
}

// NewMetrics creates and registers all collectors on the given registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "status"},
		),
		AuthRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_auth_rejections_total",
				Help: "Requests rejected by the authorization gate",
			},
			[]string{"reason"},
		),
		ProgressMutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_progress_mutations_total",
				Help: "Progress ledger mutations by operation and result",
			},
			[]string{"op", "result"},
		),
		AuditAppendFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tracker_audit_append_failures_total",
				Help: "Audit entries that could not be appended",
			},
		),
	}
	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.AuthRejectionsTotal,
		m.ProgressMutationsTotal,
		m.AuditAppendFailures,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPRequest(method string, status int) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

func (m *Metrics) AuthRejected(reason string) {
	if m == nil {
		return
	}
	m.AuthRejectionsTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) ProgressMutation(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ProgressMutationsTotal.WithLabelValues(op, result).Inc()
}

func (m *Metrics) AuditAppendFailed() {
	if m == nil {
		return
	}
	m.AuditAppendFailures.Inc()
}
