// conf/validate.go

package conf

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/tphakala/arstream/internal/errors"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	for _, validate := range []func(*Settings) error{
		validateLogSettings,
		validateTimelineSettings,
		validateSyncSettings,
		validateSimulateSettings,
		validateMetricsSettings,
		validateMQTTSettings,
	} {
		if err := validate(settings); err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	if len(ve.Errors) > 0 {
		return errors.New(ve).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("error_count", len(ve.Errors)).
			Build()
	}
	return nil
}

func validateLogSettings(s *Settings) error {
	switch strings.ToLower(s.Log.Level) {
	case "trace", "debug", "info", "warn", "warning", "error":
		return nil
	}
	return fmt.Errorf("log.level %q is not a known level", s.Log.Level)
}

func validateTimelineSettings(s *Settings) error {
	t := s.Timeline
	switch {
	case t.PoolCapacity <= 0:
		return fmt.Errorf("timeline.poolcapacity must be positive")
	case t.MaxElements <= 0:
		return fmt.Errorf("timeline.maxelements must be positive")
	case t.ElementSize <= 0:
		return fmt.Errorf("timeline.elementsize must be positive")
	case t.GrowthLimit < 0:
		return fmt.Errorf("timeline.growthlimit must not be negative")
	case t.NotifyQueue <= 0:
		return fmt.Errorf("timeline.notifyqueue must be positive")
	}
	return nil
}

func validateSyncSettings(s *Settings) error {
	switch {
	case s.Sync.Interval <= 0:
		return fmt.Errorf("sync.interval must be positive")
	case s.Sync.Tolerance < 0:
		return fmt.Errorf("sync.tolerance must not be negative")
	}
	switch s.Sync.Mode {
	case "", "previous", "next", "nearest":
	default:
		return fmt.Errorf("sync.mode %q must be previous, next or nearest", s.Sync.Mode)
	}
	for name, delay := range s.Sync.Delays {
		if delay < 0 {
			return fmt.Errorf("sync.delays.%s must not be negative", name)
		}
	}
	return nil
}

func validateSimulateSettings(s *Settings) error {
	sim := s.Simulate
	switch {
	case sim.Streams <= 0:
		return fmt.Errorf("simulate.streams must be positive")
	case sim.Markers <= 0 || sim.Markers > s.Timeline.MaxElements:
		return fmt.Errorf("simulate.markers must be between 1 and timeline.maxelements")
	case sim.Rate <= 0:
		return fmt.Errorf("simulate.rate must be positive")
	case sim.Duration < 0:
		return fmt.Errorf("simulate.duration must not be negative")
	case sim.Consumers < 0:
		return fmt.Errorf("simulate.consumers must not be negative")
	case sim.DropRate < 0 || sim.DropRate >= 1:
		return fmt.Errorf("simulate.droprate must be in [0,1)")
	case sim.Frame.Enabled && (sim.Frame.Width <= 0 || sim.Frame.Height <= 0 || sim.Frame.Components <= 0):
		return fmt.Errorf("simulate.frame dimensions must be positive")
	}
	return nil
}

func validateMetricsSettings(s *Settings) error {
	if !s.Metrics.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(s.Metrics.Listen); err != nil {
		return fmt.Errorf("metrics.listen %q: %w", s.Metrics.Listen, err)
	}
	return nil
}

func validateMQTTSettings(s *Settings) error {
	m := s.MQTT
	if !m.Enabled {
		return nil
	}
	u, err := url.Parse(m.Broker)
	if err != nil || u.Host == "" {
		return fmt.Errorf("mqtt.broker %q is not a valid broker URL", m.Broker)
	}
	switch u.Scheme {
	case "tcp", "ssl", "tls", "ws", "wss", "mqtt", "mqtts":
	default:
		return fmt.Errorf("mqtt.broker scheme %q is not supported", u.Scheme)
	}
	if m.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
	}
	if m.Timeout <= 0 {
		return fmt.Errorf("mqtt.timeout must be positive")
	}
	if strings.TrimSpace(m.TopicPrefix) == "" {
		return fmt.Errorf("mqtt.topicprefix must not be empty")
	}
	return nil
}
