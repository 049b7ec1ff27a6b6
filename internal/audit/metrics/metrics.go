package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the audit ledger.
type Metrics struct {
	EntriesAppended *prometheus.CounterVec
	AppendFailures  prometheus.Counter
	AppendDuration  prometheus.Histogram
	Exports         *prometheus.CounterVec
	// Verification results by outcome: "valid", "invalid"
	Verifications  *prometheus.CounterVec
	OutboxRelayed  prometheus.Counter
	OutboxFailures prometheus.Counter
}

// New registers the audit metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EntriesAppended: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chronicle_audit_entries_appended_total",
			Help: "Total audit entries appended by module",
		}, []string{"module"}),
		AppendFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "chronicle_audit_append_failures_total",
			Help: "Total audit appends that failed to sign or persist",
		}),
		AppendDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "chronicle_audit_append_duration_seconds",
			Help:    "Duration of audit append operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		Exports: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chronicle_audit_exports_total",
			Help: "Total audit exports generated by format",
		}, []string{"format"}),
		Verifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chronicle_audit_verifications_total",
			Help: "Total entry signature verifications by outcome",
		}, []string{"outcome"}),
		OutboxRelayed: factory.NewCounter(prometheus.CounterOpts{
			Name: "chronicle_audit_outbox_relayed_total",
			Help: "Total outbox rows published to the event stream",
		}),
		OutboxFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "chronicle_audit_outbox_failures_total",
			Help: "Total outbox publish attempts that failed",
		}),
	}
}

func (m *Metrics) IncrementAppended(module string) {
	if m != nil {
		m.EntriesAppended.WithLabelValues(module).Inc()
	}
}

func (m *Metrics) IncrementAppendFailure() {
	if m != nil {
		m.AppendFailures.Inc()
	}
}

// ObserveAppend records the duration of an append.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveAppend(start time.Time) {
	if m != nil {
		m.AppendDuration.Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) IncrementExport(format string) {
	if m != nil {
		m.Exports.WithLabelValues(format).Inc()
	}
}

func (m *Metrics) IncrementVerification(valid bool) {
	if m == nil {
		return
	}
	outcome := "invalid"
	if valid {
		outcome = "valid"
	}
	m.Verifications.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AddOutboxRelayed(n int) {
	if m != nil {
		m.OutboxRelayed.Add(float64(n))
	}
}

func (m *Metrics) IncrementOutboxFailure() {
	if m != nil {
		m.OutboxFailures.Inc()
	}
}
