package mqtt

import (
	"time"

	"github.com/tphakala/arstream/internal/events"
)

// EventDTO is the JSON payload published for each notification.
// Field names are part of the topic contract consumed by dashboards.
type EventDTO struct {
	Type      string    `json:"type"`
	Source    string    `json:"source"`
	Timestamp float64   `json:"timestamp"` // ms, 0 for clear
	Sequence  uint64    `json:"sequence"`
	Published time.Time `json:"published"`
}

// NewEventDTO converts a bus event
func NewEventDTO(ev events.Event) EventDTO {
	return EventDTO{
		Type:      ev.Type.String(),
		Source:    ev.Source,
		Timestamp: ev.Timestamp,
		Sequence:  ev.Sequence,
		Published: ev.Published,
	}
}
