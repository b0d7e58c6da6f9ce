// Package metrics provides Prometheus collectors for the timeline stores,
// the notification bus, the synchronizer and the MQTT bridge.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// TimelineMetrics contains Prometheus metrics for timeline stores
type TimelineMetrics struct {
	registry *prometheus.Registry

	pushes             *prometheus.CounterVec
	capacityRejections *prometheus.CounterVec
	evictions          *prometheus.CounterVec
	clears             *prometheus.CounterVec
	residentBuffers    *prometheus.GaugeVec
	slotsInUse         *prometheus.GaugeVec
	slots              *prometheus.GaugeVec

	// collectors is a slice of all collectors for easier iteration
	collectors []prometheus.Collector
}

// NewTimelineMetrics creates and registers timeline metrics
func NewTimelineMetrics(registry *prometheus.Registry) (*TimelineMetrics, error) {
	m := &TimelineMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register timeline metrics: %w", err)
	}
	return m, nil
}

func (m *TimelineMetrics) initMetrics() {
	m.pushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arstream_timeline_pushes_total",
			Help: "Total number of push attempts by result",
		},
		[]string{"store", "result"},
	)

	m.capacityRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arstream_timeline_capacity_rejections_total",
			Help: "Buffers skipped because every pool slot was referenced",
		},
		[]string{"store"},
	)

	m.evictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arstream_timeline_evictions_total",
			Help: "Buffers evicted from a full store by a newer push",
		},
		[]string{"store"},
	)

	m.clears = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arstream_timeline_clears_total",
			Help: "Number of times a store was cleared",
		},
		[]string{"store"},
	)

	m.residentBuffers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "arstream_timeline_resident_buffers",
			Help: "Committed buffers currently held by a store",
		},
		[]string{"store"},
	)

	m.slotsInUse = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "arstream_timeline_pool_slots_in_use",
			Help: "Pool slots referenced by the index, a producer or a consumer",
		},
		[]string{"store"},
	)

	m.slots = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "arstream_timeline_pool_slots",
			Help: "Pool slots allocated",
		},
		[]string{"store"},
	)

	m.collectors = []prometheus.Collector{
		m.pushes,
		m.capacityRejections,
		m.evictions,
		m.clears,
		m.residentBuffers,
		m.slotsInUse,
		m.slots,
	}
}

// RecordPush counts a push attempt
func (m *TimelineMetrics) RecordPush(store, result string) {
	m.pushes.WithLabelValues(store, result).Inc()
}

// RecordCapacityRejection counts a CreateBuffer failed on a saturated pool
func (m *TimelineMetrics) RecordCapacityRejection(store string) {
	m.capacityRejections.WithLabelValues(store).Inc()
}

// RecordEviction counts a buffer evicted by capacity pressure
func (m *TimelineMetrics) RecordEviction(store string) {
	m.evictions.WithLabelValues(store).Inc()
}

// RecordClear counts a store clear
func (m *TimelineMetrics) RecordClear(store string) {
	m.clears.WithLabelValues(store).Inc()
}

// UpdateOccupancy sets the resident and pool gauges of a store
func (m *TimelineMetrics) UpdateOccupancy(store string, resident, slotsInUse, slots int) {
	m.residentBuffers.WithLabelValues(store).Set(float64(resident))
	m.slotsInUse.WithLabelValues(store).Set(float64(slotsInUse))
	m.slots.WithLabelValues(store).Set(float64(slots))
}

// Describe implements the Collector interface
func (m *TimelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *TimelineMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}
