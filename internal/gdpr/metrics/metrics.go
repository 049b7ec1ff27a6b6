package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks data-subject request intake and completion.
type Metrics struct {
	Registered *prometheus.CounterVec
	Completed  *prometheus.CounterVec
	// Completions that happened after the SLA due date
	CompletedLate prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Registered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chronicle_rgpd_requests_registered_total",
			Help: "Total data-subject requests registered by type",
		}, []string{"type"}),
		Completed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chronicle_rgpd_requests_completed_total",
			Help: "Total data-subject requests completed by type",
		}, []string{"type"}),
		CompletedLate: factory.NewCounter(prometheus.CounterOpts{
			Name: "chronicle_rgpd_requests_completed_late_total",
			Help: "Total data-subject requests completed after their due date",
		}),
	}
}

func (m *Metrics) IncrementRegistered(requestType string) {
	if m != nil {
		m.Registered.WithLabelValues(requestType).Inc()
	}
}

func (m *Metrics) IncrementCompleted(requestType string, late bool) {
	if m == nil {
		return
	}
	m.Completed.WithLabelValues(requestType).Inc()
	if late {
		m.CompletedLate.Inc()
	}
}
