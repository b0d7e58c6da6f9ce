package timeline

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/tphakala/arstream/internal/errors"
	"github.com/tphakala/arstream/internal/events"
	"github.com/tphakala/arstream/internal/logging"
)

// capacityWarnEvery limits capacity warnings to the first and then every Nth rejection
const capacityWarnEvery = 100

// Store is a bounded, timestamp ordered set of committed buffers backed by a
// recycling slot pool. One producer goroutine may create and push buffers
// while any number of consumers query concurrently.
type Store struct {
	name      string
	logger    *slog.Logger
	publisher events.Publisher
	metrics   MetricsRecorder

	mu            sync.RWMutex
	state         State
	cfg           Config
	pool          *pool
	index         *orderedIndex
	lastCommitted Timestamp

	// producer handles plus consumer refs not yet pushed, discarded or released
	outstanding        atomic.Int64
	capacityRejections atomic.Uint64
}

// Option configures a Store
type Option func(*Store)

// WithLogger sets the store logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPublisher sets where push and clear notifications are published
func WithPublisher(p events.Publisher) Option {
	return func(s *Store) {
		s.publisher = p
	}
}

// WithMetrics attaches a metrics recorder
func WithMetrics(recorder MetricsRecorder) Option {
	return func(s *Store) {
		s.metrics = recorder
	}
}

// NewStore creates an unconfigured store. name identifies the stream in logs,
// metrics and notifications.
func NewStore(name string, opts ...Option) *Store {
	s := &Store{
		name:   name,
		logger: logging.ForService(ComponentTimeline),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("store", name)
	return s
}

// Name returns the store name
func (s *Store) Name() string {
	return s.name
}

// InitPoolSize configures a raw store, see Configure
func (s *Store) InitPoolSize(poolCapacity, maxElements, elementSize int) error {
	return s.Configure(Config{
		PoolCapacity: poolCapacity,
		MaxElements:  maxElements,
		ElementSize:  elementSize,
	})
}

// Configure fixes the store geometry and allocates the pool. Reconfiguring
// with different values drops all committed buffers; configuring with the
// current values is a no-op. It fails with ErrConfig while producer handles
// or consumer references are outstanding.
func (s *Store) Configure(cfg Config) error {
	cfg, err := cfg.normalize()
	if err != nil {
		return err
	}

	s.mu.Lock()

	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state != StateUnconfigured && cfg == s.cfg {
		s.mu.Unlock()
		return nil
	}
	if n := s.outstanding.Load(); n > 0 {
		s.mu.Unlock()
		return errors.Newf("cannot reconfigure store %q with %d outstanding buffers", s.name, n).
			Component(ComponentTimeline).
			Category(errors.CategoryConfiguration).
			Context("store", s.name).
			Context("outstanding", n).
			Build()
	}

	hadData := s.index != nil && s.index.len() > 0
	if s.index != nil {
		s.index.drain(func(e entry) { s.pool.release(e.slot) })
	}

	s.cfg = cfg
	s.pool = newPool(cfg)
	s.index = newOrderedIndex(cfg.PoolCapacity)
	s.lastCommitted = NoTimestamp
	s.state = StateConfigured

	if hadData {
		s.publish(events.EventClear, NoTimestamp)
	}
	s.mu.Unlock()

	s.logger.Info("timeline configured",
		"pool_capacity", cfg.PoolCapacity,
		"max_elements", cfg.MaxElements,
		"element_size", cfg.ElementSize,
		"kind", cfg.Kind.String(),
		"growth_limit", cfg.GrowthLimit,
	)
	s.updateOccupancy()
	return nil
}

// CreateBuffer acquires a slot for a buffer to be committed at ts. The buffer
// is invisible to queries until Push. Fails fast with ErrCapacityExceeded when
// every slot is referenced. The returned handle lives in the slot, so creating
// a buffer does not allocate; it must not be used after Push or Discard.
func (s *Store) CreateBuffer(ts Timestamp) (*Buffer, error) {
	if !ts.IsValid() {
		return nil, errors.Newf("timestamp %v must be finite and positive", float64(ts)).
			Component(ComponentTimeline).
			Category(errors.CategoryValidation).
			Context("store", s.name).
			Build()
	}

	s.mu.RLock()
	switch s.state {
	case StateClosed:
		s.mu.RUnlock()
		return nil, ErrClosed
	case StateUnconfigured:
		s.mu.RUnlock()
		return nil, ErrNotConfigured
	}

	p := s.pool
	sl, ok := p.acquire(ts)
	if ok {
		s.outstanding.Add(1)
	}
	s.mu.RUnlock()

	if !ok {
		n := s.capacityRejections.Add(1)
		if s.metrics != nil {
			s.metrics.RecordCapacityRejection(s.name)
		}
		if n == 1 || n%capacityWarnEvery == 0 {
			s.logger.Warn("pool saturated, skipping buffer",
				"timestamp", float64(ts),
				"rejections", n,
			)
		}
		return nil, errors.Newf("no free slot in store %q", s.name).
			Component(ComponentTimeline).
			Category(errors.CategoryLimit).
			Context("store", s.name).
			Context("timestamp", float64(ts)).
			Build()
	}

	b := &sl.handle
	*b = Buffer{
		store:      s,
		pool:       p,
		slot:       sl,
		generation: sl.generation.Load(),
		timestamp:  ts,
	}
	return b, nil
}

// Push commits b. A timestamp not newer than the last commit is rejected with
// ErrNonMonotonicTimestamp and the slot goes back to the pool. When the index
// is full the oldest buffer is evicted. Subscribers are notified in commit order.
func (s *Store) Push(b *Buffer) error {
	if err := b.check(); err != nil {
		return err
	}
	if b.store != s {
		return errors.Newf("buffer belongs to store %q", b.store.name).
			Component(ComponentTimeline).
			Category(errors.CategoryStaleReference).
			Context("store", s.name).
			Build()
	}

	s.mu.Lock()

	if s.state == StateClosed {
		s.mu.Unlock()
		b.Discard()
		return ErrClosed
	}

	b.done = true
	s.outstanding.Add(-1)

	if b.timestamp <= s.lastCommitted {
		last := s.lastCommitted
		s.mu.Unlock()
		b.pool.release(b.slot)

		if s.metrics != nil {
			s.metrics.RecordPush(s.name, PushNonMonotonic)
		}
		s.logger.Debug("discarding non-monotonic buffer",
			"timestamp", float64(b.timestamp),
			"last_committed", float64(last),
		)
		return errors.Newf("timestamp %v not after last committed %v", float64(b.timestamp), float64(last)).
			Component(ComponentTimeline).
			Category(errors.CategoryOrdering).
			Context("store", s.name).
			Build()
	}

	evicted := false
	if s.index.full() {
		old := s.index.popFront()
		s.pool.release(old.slot)
		evicted = true
	}
	s.index.pushBack(entry{ts: b.timestamp, slot: b.slot})
	s.lastCommitted = b.timestamp
	s.state = StateActive
	s.publish(events.EventPush, b.timestamp)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordPush(s.name, PushCommitted)
		if evicted {
			s.metrics.RecordEviction(s.name)
		}
	}
	s.updateOccupancy()
	return nil
}

// discard returns an uncommitted buffer's slot
func (s *Store) discard(b *Buffer) {
	s.outstanding.Add(-1)
	b.pool.release(b.slot)
	s.updateOccupancy()
}

// Pop removes the buffer committed at exactly ts and hands its reference to
// the caller, who must Release it.
func (s *Store) Pop(ts Timestamp) (*BufferRef, bool) {
	s.mu.Lock()
	if s.index == nil || s.state == StateClosed {
		s.mu.Unlock()
		return nil, false
	}

	i, ok := s.index.find(ts)
	if !ok {
		s.mu.Unlock()
		return nil, false
	}
	e := s.index.removeAt(i)

	// The index reference moves to the caller
	ref := &BufferRef{
		store:      s,
		pool:       s.pool,
		slot:       e.slot,
		generation: e.slot.generation.Load(),
		timestamp:  e.ts,
	}
	s.outstanding.Add(1)
	s.mu.Unlock()

	s.updateOccupancy()
	return ref, true
}

// Clear drops every committed buffer and resets the ordering baseline.
// References obtained before Clear stay valid until released.
func (s *Store) Clear() {
	s.mu.Lock()
	if s.state != StateConfigured && s.state != StateActive {
		s.mu.Unlock()
		return
	}

	dropped := s.index.len()
	s.index.drain(func(e entry) { s.pool.release(e.slot) })
	s.lastCommitted = NoTimestamp
	s.state = StateConfigured
	s.publish(events.EventClear, NoTimestamp)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordClear(s.name)
	}
	s.logger.Info("timeline cleared", "dropped", dropped)
	s.updateOccupancy()
}

// Close drops all committed buffers and makes the store unusable. Outstanding
// references stay readable until released.
func (s *Store) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	if s.index != nil {
		s.index.drain(func(e entry) { s.pool.release(e.slot) })
	}
	s.state = StateClosed
	s.mu.Unlock()

	s.logger.Debug("timeline closed")
}

// CopyFrom replaces the contents of s with deep copies of the buffers resident
// in src. Both stores must share element geometry and kind; if s holds fewer
// buffers than src the oldest are evicted as usual.
func (s *Store) CopyFrom(src *Store) error {
	if src == s {
		return nil
	}

	srcCfg := src.Config()
	dstCfg := s.Config()
	if srcCfg.MaxElements != dstCfg.MaxElements || srcCfg.ElementSize != dstCfg.ElementSize || srcCfg.Kind != dstCfg.Kind {
		return errors.Newf("cannot copy store %q into incompatible store %q", src.name, s.name).
			Component(ComponentTimeline).
			Category(errors.CategoryConfiguration).
			Context("src_max_elements", srcCfg.MaxElements).
			Context("dst_max_elements", dstCfg.MaxElements).
			Context("src_element_size", srcCfg.ElementSize).
			Context("dst_element_size", dstCfg.ElementSize).
			Build()
	}

	refs := src.Snapshot()
	defer func() {
		for _, ref := range refs {
			ref.Release()
		}
	}()

	s.Clear()
	for _, ref := range refs {
		buf, err := s.CreateBuffer(ref.Timestamp())
		if err != nil {
			return err
		}
		copy(buf.slot.data, ref.slot.data)
		copy(buf.slot.present, ref.slot.present)
		buf.slot.written = ref.slot.written
		if err := s.Push(buf); err != nil {
			return err
		}
	}
	return nil
}

// publish must be called with s.mu held so notification order matches commit order
func (s *Store) publish(eventType events.EventType, ts Timestamp) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(events.Event{
		Type:      eventType,
		Source:    s.name,
		Timestamp: float64(ts),
	})
}

func (s *Store) updateOccupancy() {
	if s.metrics == nil {
		return
	}
	s.mu.RLock()
	if s.pool == nil {
		s.mu.RUnlock()
		return
	}
	resident := s.index.len()
	stats := s.pool.stats()
	s.mu.RUnlock()

	s.metrics.UpdateOccupancy(s.name, resident, stats.InUse, stats.Slots)
}
