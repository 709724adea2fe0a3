package inventory

import "github.com/prometheus/client_golang/prometheus"

// EngineMetrics counts engine activity on the shared Prometheus registry.
type EngineMetrics struct {
	mutations *prometheus.CounterVec
	skips     *prometheus.CounterVec
	failures  *prometheus.CounterVec
}

// NewEngineMetrics registers the engine counters.
func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	mutations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stellar_stock_mutations_total",
		Help: "Stock mutations written, by origin and direction.",
	}, []string{"origin", "direction"})
	skips := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stellar_stock_skips_total",
		Help: "Lines and recipe entries skipped by eligibility filters.",
	}, []string{"reason"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stellar_stock_failures_total",
		Help: "Attempted stock mutations that errored.",
	}, []string{"origin"})
	if reg != nil {
		reg.MustRegister(mutations, skips, failures)
	}
	return &EngineMetrics{mutations: mutations, skips: skips, failures: failures}
}

func (m *EngineMetrics) mutation(origin MovementOrigin, direction string) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(string(origin), direction).Inc()
}

func (m *EngineMetrics) skip(reason string) {
	if m == nil {
		return
	}
	m.skips.WithLabelValues(reason).Inc()
}

func (m *EngineMetrics) failure(origin MovementOrigin) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(string(origin)).Inc()
}
