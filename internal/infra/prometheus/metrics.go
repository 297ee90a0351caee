package prometheus

import (
	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "shortlink"

// Metrics groups the shortlink collectors. A nil *Metrics records nothing.
type Metrics struct {
	resolutions   *prom.CounterVec
	allocations   *prom.CounterVec
	bulkItems     *prom.CounterVec
	reaped        *prom.CounterVec
	sweepFailures prom.Counter
	sweepDuration prom.Histogram
}

// NewMetrics creates the collectors and registers them on reg.
// A nil reg leaves them unregistered, which is convenient in tests.
func NewMetrics(reg prom.Registerer) *Metrics {
	m := &Metrics{
		resolutions: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_total",
			Help:      "Short link resolutions by outcome.",
		}, []string{"outcome"}),
		allocations: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "allocations_total",
			Help:      "Short code allocations by kind (random or custom) and outcome.",
		}, []string{"kind", "outcome"}),
		bulkItems: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "bulk_items_total",
			Help:      "Bulk operation items by operation and outcome.",
		}, []string{"operation", "outcome"}),
		reaped: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "reaper_reclaimed_total",
			Help:      "Expired links reclaimed by the reaper, by policy.",
		}, []string{"policy"}),
		sweepFailures: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "reaper_sweep_failures_total",
			Help:      "Reaper sweeps that failed.",
		}),
		sweepDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "reaper_sweep_duration_seconds",
			Help:      "Duration of reaper sweeps.",
			Buckets:   prom.DefBuckets,
		}),
	}

	if reg != nil {
		reg.MustRegister(m.resolutions, m.allocations, m.bulkItems, m.reaped, m.sweepFailures, m.sweepDuration)
	}
	return m
}

func (m *Metrics) ObserveResolution(outcome string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveAllocation(kind, outcome string) {
	if m == nil {
		return
	}
	m.allocations.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) ObserveBulkItem(operation, outcome string) {
	if m == nil {
		return
	}
	m.bulkItems.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) ObserveSweep(policy string, reclaimed int64, seconds float64, failed bool) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(seconds)
	if failed {
		m.sweepFailures.Inc()
		return
	}
	m.reaped.WithLabelValues(policy).Add(float64(reclaimed))
}

// Resolutions exposes the resolution counter for tests.
func (m *Metrics) Resolutions() *prom.CounterVec { return m.resolutions }

// Allocations exposes the allocation counter for tests.
func (m *Metrics) Allocations() *prom.CounterVec { return m.allocations }
