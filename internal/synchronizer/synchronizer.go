package synchronizer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tphakala/arstream/internal/errors"
	"github.com/tphakala/arstream/internal/events"
	"github.com/tphakala/arstream/internal/logging"
	"github.com/tphakala/arstream/internal/timeline"
)

// ComponentSynchronizer identifies errors and logs from this package
const ComponentSynchronizer = "synchronizer"

// Outcome is the result of one synchronization cycle
type Outcome int

const (
	// Aborted means at least one source had nothing newer than its last seen timestamp
	Aborted Outcome = iota
	// Skipped means the reference timestamp was not newer than the last combination
	Skipped
	// Combined means a combination was produced
	Combined
	// Empty means a reference timestamp was found but no source had an element
	// present near it; the cycle is consumed without a combination
	Empty
)

// String returns the outcome name
func (o Outcome) String() string {
	switch o {
	case Aborted:
		return "aborted"
	case Skipped:
		return "skipped"
	case Combined:
		return "combined"
	case Empty:
		return "empty"
	default:
		return "unknown"
	}
}

// MetricsRecorder receives cycle counters. Implemented by
// observability/metrics.SyncMetrics.
type MetricsRecorder interface {
	RecordCycle(synchronizer, outcome string)
	RecordPresentSources(synchronizer string, present, total int)
	ObserveReferenceLag(synchronizer string, lagMs float64)
}

// Stats counts cycle outcomes
type Stats struct {
	Combined         uint64
	Aborted          uint64
	Skipped          uint64
	Empty            uint64
	LastSynchronized timeline.Timestamp
}

// Synchronizer runs combination cycles over a fixed set of sources, tracking
// what each source has already contributed.
type Synchronizer struct {
	name      string
	sources   []Source
	params    params
	clock     func() float64
	publisher events.Publisher
	metrics   MetricsRecorder
	logger    *slog.Logger

	mu               sync.Mutex
	lastSeen         []timeline.Timestamp
	lastSynchronized timeline.Timestamp
	stats            Stats
}

// Option configures a Synchronizer
type Option func(*Synchronizer)

// WithMode sets the ClosestBuffer mode, Nearest by default
func WithMode(mode timeline.Mode) Option {
	return func(s *Synchronizer) {
		s.params.mode = mode
	}
}

// WithTolerance treats a selected buffer as absent when it is at least
// toleranceMs away from the lookup timestamp. 0 disables the check.
func WithTolerance(toleranceMs float64) Option {
	return func(s *Synchronizer) {
		if toleranceMs > 0 {
			s.params.tolerance = toleranceMs
		}
	}
}

// WithDelay shifts the lookup timestamp of the named source back by delayMs
func WithDelay(source string, delayMs float64) Option {
	return func(s *Synchronizer) {
		for i, src := range s.sources {
			if src.Name() == source {
				s.params.delays[i] = delayMs
			}
		}
	}
}

// WithPublisher publishes Synchronized and Skipped events
func WithPublisher(p events.Publisher) Option {
	return func(s *Synchronizer) {
		s.publisher = p
	}
}

// WithMetrics attaches a metrics recorder
func WithMetrics(recorder MetricsRecorder) Option {
	return func(s *Synchronizer) {
		s.metrics = recorder
	}
}

// WithClock supplies the time source used for reference lag metrics
func WithClock(now func() float64) Option {
	return func(s *Synchronizer) {
		s.clock = now
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Synchronizer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a synchronizer over sources
func New(name string, sources []Source, opts ...Option) (*Synchronizer, error) {
	if len(sources) == 0 {
		return nil, errors.Newf("synchronizer %q needs at least one source", name).
			Component(ComponentSynchronizer).
			Category(errors.CategoryConfiguration).
			Build()
	}

	seen := make(map[string]struct{}, len(sources))
	for _, src := range sources {
		if _, dup := seen[src.Name()]; dup {
			return nil, errors.Newf("duplicate source %q", src.Name()).
				Component(ComponentSynchronizer).
				Category(errors.CategoryConfiguration).
				Context("synchronizer", name).
				Build()
		}
		seen[src.Name()] = struct{}{}
	}

	s := &Synchronizer{
		name:     name,
		sources:  append([]Source(nil), sources...),
		params:   params{mode: timeline.Nearest, delays: make([]float64, len(sources))},
		logger:   logging.ForService(ComponentSynchronizer),
		lastSeen: make([]timeline.Timestamp, len(sources)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("synchronizer", name)
	return s, nil
}

// Name returns the synchronizer name
func (s *Synchronizer) Name() string {
	return s.name
}

// Synchronize runs one cycle. When the outcome is Combined the caller owns the
// combination and must Release it. Every other outcome returns nil.
func (s *Synchronizer) Synchronize() (*Combination, Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tRef, ok := referenceTimestamp(s.sources, s.lastSeen)
	if !ok {
		s.stats.Aborted++
		s.record(Aborted)
		return nil, Aborted
	}

	if tRef <= s.lastSynchronized {
		s.advance(tRef)
		s.stats.Skipped++
		s.record(Skipped)
		s.publish(events.EventSkipped, tRef)
		s.logger.Debug("reference timestamp not newer than last combination",
			"reference", float64(tRef),
			"last_synchronized", float64(s.lastSynchronized),
		)
		return nil, Skipped
	}

	c := gather(s.sources, tRef, s.params)
	s.advance(tRef)
	s.lastSynchronized = tRef

	if len(c.Groups) == 0 {
		present := c.Present()
		c.Release()
		s.stats.Empty++
		s.record(Empty)
		s.publish(events.EventSkipped, tRef)
		s.logger.Debug("no source element near reference timestamp",
			"reference", float64(tRef),
			"present_sources", present,
			"tolerance_ms", s.params.tolerance,
		)
		return nil, Empty
	}

	s.stats.Combined++
	s.stats.LastSynchronized = tRef
	s.record(Combined)
	s.publish(events.EventSynchronized, tRef)

	if s.metrics != nil {
		s.metrics.RecordPresentSources(s.name, c.Present(), len(s.sources))
		if s.clock != nil {
			s.metrics.ObserveReferenceLag(s.name, s.clock()-float64(tRef))
		}
	}
	return c, Combined
}

// advance moves every last seen timestamp up to tRef
func (s *Synchronizer) advance(tRef timeline.Timestamp) {
	for i := range s.lastSeen {
		if s.lastSeen[i] < tRef {
			s.lastSeen[i] = tRef
		}
	}
}

func (s *Synchronizer) record(o Outcome) {
	if s.metrics != nil {
		s.metrics.RecordCycle(s.name, o.String())
	}
}

func (s *Synchronizer) publish(eventType events.EventType, tRef timeline.Timestamp) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(events.Event{
		Type:      eventType,
		Source:    s.name,
		Timestamp: float64(tRef),
	})
}

// ResetSource forgets what the named source contributed, for use after the
// source store was cleared. Unknown names are ignored.
func (s *Synchronizer) ResetSource(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, src := range s.sources {
		if src.Name() == name {
			s.lastSeen[i] = timeline.NoTimestamp
		}
	}
}

// HandleEvent resets a source on its Clear notification. Subscribe it to the
// bus the sources publish on.
func (s *Synchronizer) HandleEvent(ev events.Event) {
	if ev.Type == events.EventClear {
		s.ResetSource(ev.Source)
	}
}

// Reset forgets all progress
func (s *Synchronizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.lastSeen)
	s.lastSynchronized = timeline.NoTimestamp
}

// Stats returns outcome counters
func (s *Synchronizer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Run calls Synchronize every interval until ctx is done. handler receives
// each combination and must not retain it; Run releases it afterwards.
func (s *Synchronizer) Run(ctx context.Context, interval time.Duration, handler func(*Combination)) error {
	if interval <= 0 {
		return errors.Newf("synchronizer interval must be positive, got %s", interval).
			Component(ComponentSynchronizer).
			Category(errors.CategoryConfiguration).
			Build()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("synchronizer started",
		"sources", len(s.sources),
		"interval", interval,
		"mode", s.params.mode.String(),
		"tolerance_ms", s.params.tolerance,
	)

	for {
		select {
		case <-ctx.Done():
			stats := s.Stats()
			s.logger.Info("synchronizer stopped",
				"combined", stats.Combined,
				"aborted", stats.Aborted,
				"skipped", stats.Skipped,
				"empty", stats.Empty,
			)
			return nil
		case <-ticker.C:
			c, outcome := s.Synchronize()
			if outcome != Combined {
				continue
			}
			s.deliver(c, handler)
		}
	}
}

func (s *Synchronizer) deliver(c *Combination, handler func(*Combination)) {
	defer c.Release()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("combination handler panicked",
				"panic", r,
				"reference", float64(c.Reference),
			)
		}
	}()
	handler(c)
}
