package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// SyncMetrics contains Prometheus metrics for synchronizers
type SyncMetrics struct {
	cycles         *prometheus.CounterVec
	presentSources *prometheus.GaugeVec
	totalSources   *prometheus.GaugeVec
	referenceLag   *prometheus.HistogramVec

	collectors []prometheus.Collector
}

// NewSyncMetrics creates and registers synchronizer metrics
func NewSyncMetrics(registry *prometheus.Registry) (*SyncMetrics, error) {
	m := &SyncMetrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arstream_sync_cycles_total",
			Help: "Synchronization cycles by outcome",
		}, []string{"synchronizer", "outcome"}),
		presentSources: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "arstream_sync_present_sources",
			Help: "Sources that contributed a buffer to the last combination",
		}, []string{"synchronizer"}),
		totalSources: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "arstream_sync_sources",
			Help: "Sources attached to a synchronizer",
		}, []string{"synchronizer"}),
		referenceLag: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "arstream_sync_reference_lag_milliseconds",
			Help:    "Clock time minus reference timestamp when a combination was produced",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1ms to ~2s
		}, []string{"synchronizer"}),
	}
	m.collectors = []prometheus.Collector{m.cycles, m.presentSources, m.totalSources, m.referenceLag}

	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register sync metrics: %w", err)
	}
	return m, nil
}

// RecordCycle counts a cycle outcome
func (m *SyncMetrics) RecordCycle(synchronizer, outcome string) {
	m.cycles.WithLabelValues(synchronizer, outcome).Inc()
}

// RecordPresentSources sets how many sources contributed to the last combination
func (m *SyncMetrics) RecordPresentSources(synchronizer string, present, total int) {
	m.presentSources.WithLabelValues(synchronizer).Set(float64(present))
	m.totalSources.WithLabelValues(synchronizer).Set(float64(total))
}

// ObserveReferenceLag records how far the reference timestamp trails the clock
func (m *SyncMetrics) ObserveReferenceLag(synchronizer string, lagMs float64) {
	if lagMs < 0 {
		lagMs = 0
	}
	m.referenceLag.WithLabelValues(synchronizer).Observe(lagMs)
}

// Describe implements the Collector interface
func (m *SyncMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *SyncMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}
