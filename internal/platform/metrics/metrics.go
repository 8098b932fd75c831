package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the workflow engine.
type Metrics struct {
	ReceiptsCreated     prometheus.Counter
	ResultsSubmitted    prometheus.Counter
	ResultsApproved     prometheus.Counter
	ResultsRejected     prometheus.Counter
	StaleStateConflicts prometheus.Counter
	RequestDuration     *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		ReceiptsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lims_receipts_created_total",
			Help: "Total number of receipts created via intake",
		}),
		ResultsSubmitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lims_results_submitted_total",
			Help: "Total number of analysis results submitted for review",
		}),
		ResultsApproved: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lims_results_approved_total",
			Help: "Total number of analysis results approved",
		}),
		ResultsRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lims_results_rejected_total",
			Help: "Total number of analysis results rejected back to testing",
		}),
		StaleStateConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "lims_stale_state_conflicts_total",
			Help: "Total number of optimistic concurrency conflicts returned to callers",
		}),
		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lims_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}
}

// ObserveRequest records one HTTP request observation.
func (m *Metrics) ObserveRequest(route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(route, status).Observe(seconds)
}

// The increment helpers tolerate a nil receiver so tests can pass nil
// metrics without wiring a registry.

func (m *Metrics) IncReceiptsCreated() {
	if m != nil {
		m.ReceiptsCreated.Inc()
	}
}

func (m *Metrics) IncResultsSubmitted() {
	if m != nil {
		m.ResultsSubmitted.Inc()
	}
}

func (m *Metrics) IncResultsApproved() {
	if m != nil {
		m.ResultsApproved.Inc()
	}
}

func (m *Metrics) IncResultsRejected() {
	if m != nil {
		m.ResultsRejected.Inc()
	}
}

func (m *Metrics) IncStaleStateConflicts() {
	if m != nil {
		m.StaleStateConflicts.Inc()
	}
}
