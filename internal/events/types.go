// Package events delivers timeline notifications (push, clear, synchronizer outcomes)
// to subscribers without ever blocking the publisher.
package events

import (
	"strings"
	"time"
)

// EventType identifies a notification kind. Values are bit flags so a set of
// types can be used as a subscription interest mask.
type EventType uint8

const (
	// EventPush is published after a buffer is committed to a store
	EventPush EventType = 1 << iota
	// EventClear is published after a store dropped all resident buffers
	EventClear
	// EventSynchronized is published when a synchronizer produced a combination
	EventSynchronized
	// EventSkipped is published when a synchronizer cycle found nothing newer
	EventSkipped
)

// InterestAll subscribes to every event type
const InterestAll = EventPush | EventClear | EventSynchronized | EventSkipped

// String returns the lowercase name of a single event type, or a "|" joined
// list for masks.
func (t EventType) String() string {
	switch t {
	case EventPush:
		return "push"
	case EventClear:
		return "clear"
	case EventSynchronized:
		return "synchronized"
	case EventSkipped:
		return "skipped"
	}

	var names []string
	if t&EventPush != 0 {
		names = append(names, "push")
	}
	if t&EventClear != 0 {
		names = append(names, "clear")
	}
	if t&EventSynchronized != 0 {
		names = append(names, "synchronized")
	}
	if t&EventSkipped != 0 {
		names = append(names, "skipped")
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// Matches reports whether the interest mask includes the event type
func (t EventType) Matches(eventType EventType) bool {
	return t&eventType != 0
}

// Event is a single notification. Events are informative: receivers re-derive
// state through the store query API instead of trusting event payloads.
type Event struct {
	Type      EventType
	Source    string    // store or synchronizer name
	Timestamp float64   // committed or reference timestamp in ms, 0 for clear
	Sequence  uint64    // assigned by the bus, strictly increasing per bus
	Published time.Time // wall clock time of Publish
}

// Handler receives events on the subscriber's own goroutine
type Handler func(Event)

// Publisher is the producing half of the bus, implemented by *Bus
type Publisher interface {
	Publish(Event)
}

// MetricsRecorder receives delivery counters. Implemented by
// observability/metrics.EventsMetrics.
type MetricsRecorder interface {
	RecordDelivered(eventType string)
	RecordDropped(eventType string)
	RecordHandlerPanic()
}

// Stats contains runtime statistics for monitoring
type Stats struct {
	Published     uint64
	Delivered     uint64
	Dropped       uint64
	HandlerPanics uint64
	Subscribers   []SubscriberStats
}

// SubscriberStats contains per-subscription counters
type SubscriberStats struct {
	ID        string
	Interest  EventType
	Delivered uint64
	Dropped   uint64
	Pending   int
}
