package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for identity reconciliation.
type Metrics struct {
	// Reconcile outcomes: created_primary, created_secondary, merged, unchanged
	Outcomes *prometheus.CounterVec

	// Primaries demoted by merges
	PrimariesDemoted prometheus.Counter

	// Failed reconciles by domain error code
	Failures *prometheus.CounterVec

	ReconcileLatency prometheus.Histogram
	LockWait         prometheus.Histogram
}

// New creates the identity metrics on reg. Pass prometheus.DefaultRegisterer in
// production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reconcile_identity_outcomes_total",
			Help: "Reconcile calls by what they changed",
		}, []string{"outcome"}),

		PrimariesDemoted: factory.NewCounter(prometheus.CounterOpts{
			Name: "reconcile_identity_primaries_demoted_total",
			Help: "Primary contacts demoted to secondary by component merges",
		}),

		Failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reconcile_identity_failures_total",
			Help: "Failed reconcile calls by error code",
		}, []string{"code"}),

		ReconcileLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "reconcile_identity_duration_seconds",
			Help:    "Duration of a full reconcile unit including lock acquisition",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),

		LockWait: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "reconcile_identity_lock_wait_seconds",
			Help:    "Time spent waiting for identifier locks",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
	}
}

// IncrementOutcome records one reconcile outcome.
func (m *Metrics) IncrementOutcome(outcome string) {
	if m != nil {
		m.Outcomes.WithLabelValues(outcome).Inc()
	}
}

// AddDemoted records primaries demoted by a merge.
func (m *Metrics) AddDemoted(n int) {
	if m != nil && n > 0 {
		m.PrimariesDemoted.Add(float64(n))
	}
}

// IncrementFailure records a failed reconcile by code.
func (m *Metrics) IncrementFailure(code string) {
	if m != nil {
		m.Failures.WithLabelValues(code).Inc()
	}
}

// ObserveReconcile records the duration of a reconcile.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveReconcile(start time.Time) {
	if m != nil {
		m.ReconcileLatency.Observe(time.Since(start).Seconds())
	}
}

// ObserveLockWait records how long lock acquisition took.
func (m *Metrics) ObserveLockWait(d time.Duration) {
	if m != nil {
		m.LockWait.Observe(d.Seconds())
	}
}
