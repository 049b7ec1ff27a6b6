package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for retention policies and runs.
type Metrics struct {
	PolicyUpdates  prometheus.Counter
	Runs           *prometheus.CounterVec
	EntriesTouched *prometheus.CounterVec
	RunDuration    prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PolicyUpdates: factory.NewCounter(prometheus.CounterOpts{
			Name: "chronicle_retention_policy_updates_total",
			Help: "Total retention policy updates",
		}),
		Runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chronicle_retention_runs_total",
			Help: "Total retention runs by result",
		}, []string{"result"}), // result: "success", "conflict", "rejected", "error"
		EntriesTouched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chronicle_retention_entries_total",
			Help: "Audit entries archived or purged by retention runs",
		}, []string{"operation"}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "chronicle_retention_run_duration_seconds",
			Help:    "Duration of a retention run for one organization",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
	}
}

func (m *Metrics) IncrementPolicyUpdate() {
	if m != nil {
		m.PolicyUpdates.Inc()
	}
}

func (m *Metrics) IncrementRun(result string) {
	if m != nil {
		m.Runs.WithLabelValues(result).Inc()
	}
}

// ObserveRun records a completed run's counts and duration.
func (m *Metrics) ObserveRun(start time.Time, archived, purged int) {
	if m == nil {
		return
	}
	m.RunDuration.Observe(time.Since(start).Seconds())
	m.EntriesTouched.WithLabelValues("archived").Add(float64(archived))
	m.EntriesTouched.WithLabelValues("purged").Add(float64(purged))
}
