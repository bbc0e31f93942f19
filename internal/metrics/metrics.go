// Package metrics provides the Multiplexer's optional telemetry surface:
// Prometheus collectors for submission-queue depth, pending-table size,
// and per-outcome counts.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Outcome names the terminal resolution of a request, used as a label on
// the outcomes counter.
type Outcome string

const (
	OutcomeDelivered       Outcome = "delivered"
	OutcomeTimedOut        Outcome = "timed_out"
	OutcomeCancelled       Outcome = "cancelled"
	OutcomeShutdown        Outcome = "shutdown"
	OutcomeTransportFailed Outcome = "transport_failed"
)

// Registry holds the collectors a Multiplexer reports through. The zero
// value is not usable; construct with New or NewNop.
type Registry struct {
	queueDepth  prometheus.Gauge
	pendingSize prometheus.Gauge
	outcomes    *prometheus.CounterVec
	noop        bool
}

// New creates a Registry and registers its collectors on reg. namespace is
// used as the Prometheus metric namespace (e.g. "rpcmux").
func New(reg prometheus.Registerer, namespace string) *Registry {
	m := &Registry{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "submission_queue_depth",
			Help:      "Current number of requests buffered in the submission queue.",
		}),
		pendingSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_table_size",
			Help:      "Current number of in-flight requests awaiting a response.",
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_outcomes_total",
			Help:      "Total requests completed, partitioned by terminal outcome.",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.queueDepth, m.pendingSize, m.outcomes)
	}
	return m
}

// NewNop returns a Registry whose methods are all no-ops, the default when
// a caller does not wire Options.Metrics.
func NewNop() *Registry {
	return &Registry{noop: true}
}

// SetQueueDepth reports the current submission queue length.
func (m *Registry) SetQueueDepth(n int) {
	if m.noop {
		return
	}
	m.queueDepth.Set(float64(n))
}

// SetPendingSize reports the current PendingTable size.
func (m *Registry) SetPendingSize(n int) {
	if m.noop {
		return
	}
	m.pendingSize.Set(float64(n))
}

// ObserveOutcome increments the counter for the given terminal outcome.
func (m *Registry) ObserveOutcome(o Outcome) {
	if m.noop {
		return
	}
	m.outcomes.WithLabelValues(string(o)).Inc()
}
