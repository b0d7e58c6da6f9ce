package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// EventsMetrics contains Prometheus metrics for the notification bus
type EventsMetrics struct {
	delivered     *prometheus.CounterVec
	dropped       *prometheus.CounterVec
	handlerPanics prometheus.Counter

	collectors []prometheus.Collector
}

// NewEventsMetrics creates and registers notification bus metrics
func NewEventsMetrics(registry *prometheus.Registry) (*EventsMetrics, error) {
	m := &EventsMetrics{
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arstream_events_delivered_total",
			Help: "Notifications handed to subscriber handlers",
		}, []string{"type"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arstream_events_dropped_total",
			Help: "Notifications dropped because a subscriber mailbox was full",
		}, []string{"type"}),
		handlerPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arstream_events_handler_panics_total",
			Help: "Subscriber handlers that panicked",
		}),
	}
	m.collectors = []prometheus.Collector{m.delivered, m.dropped, m.handlerPanics}

	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register events metrics: %w", err)
	}
	return m, nil
}

// RecordDelivered counts a delivered notification
func (m *EventsMetrics) RecordDelivered(eventType string) {
	m.delivered.WithLabelValues(eventType).Inc()
}

// RecordDropped counts a dropped notification
func (m *EventsMetrics) RecordDropped(eventType string) {
	m.dropped.WithLabelValues(eventType).Inc()
}

// RecordHandlerPanic counts a recovered handler panic
func (m *EventsMetrics) RecordHandlerPanic() {
	m.handlerPanics.Inc()
}

// Describe implements the Collector interface
func (m *EventsMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *EventsMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}
