package timeline

// Push results reported to MetricsRecorder.RecordPush
const (
	PushCommitted    = "committed"
	PushNonMonotonic = "non_monotonic"
	PushRejected     = "rejected"
)

// MetricsRecorder receives store counters. Implemented by
// observability/metrics.TimelineMetrics; a nil recorder disables metrics.
type MetricsRecorder interface {
	RecordPush(store, result string)
	RecordCapacityRejection(store string)
	RecordEviction(store string)
	RecordClear(store string)
	UpdateOccupancy(store string, resident, slotsInUse, slots int)
}
