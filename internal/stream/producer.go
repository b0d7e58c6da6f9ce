// Package stream runs producer and consumer loops on timeline stores.
package stream

import (
	"context"
	"log/slog"
	"math"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/tphakala/arstream/internal/clock"
	"github.com/tphakala/arstream/internal/errors"
	"github.com/tphakala/arstream/internal/logging"
	"github.com/tphakala/arstream/internal/timeline"
)

// ComponentStream identifies errors and logs from this package
const ComponentStream = "stream"

// FillFunc writes the payload of an uncommitted buffer. seq counts produced
// buffers from 0. Returning an error discards the buffer.
type FillFunc func(b *timeline.Buffer, seq uint64) error

// ProducerStats counts what happened to each produced buffer
type ProducerStats struct {
	Committed       uint64
	CapacitySkipped uint64
	NonMonotonic    uint64
	FillErrors      uint64
	LastCommittedAt timeline.Timestamp
}

// Producer creates, fills and pushes buffers on one store at a paced rate
type Producer struct {
	store   *timeline.Store
	fill    FillFunc
	clock   clock.Clock
	limiter *rate.Limiter
	offset  float64
	limit   uint64
	logger  *slog.Logger

	seq             atomic.Uint64
	committed       atomic.Uint64
	capacitySkipped atomic.Uint64
	nonMonotonic    atomic.Uint64
	fillErrors      atomic.Uint64
	lastCommitted   atomic.Uint64 // float64 bits
}

// ProducerOption configures a Producer
type ProducerOption func(*Producer)

// WithRate paces the producer to hz buffers per second. Unpaced by default.
func WithRate(hz float64, burst int) ProducerOption {
	return func(p *Producer) {
		if hz > 0 {
			if burst < 1 {
				burst = 1
			}
			p.limiter = rate.NewLimiter(rate.Limit(hz), burst)
		}
	}
}

// WithClock sets the timestamp source, a monotonic clock by default
func WithClock(c clock.Clock) ProducerOption {
	return func(p *Producer) {
		if c != nil {
			p.clock = c
		}
	}
}

// WithOffset adds a fixed offset in ms to every timestamp, simulating sensor latency
func WithOffset(ms float64) ProducerOption {
	return func(p *Producer) {
		p.offset = ms
	}
}

// WithLimit stops Run after n buffers have been attempted. 0 means no limit.
func WithLimit(n uint64) ProducerOption {
	return func(p *Producer) {
		p.limit = n
	}
}

// WithProducerLogger sets the producer logger
func WithProducerLogger(logger *slog.Logger) ProducerOption {
	return func(p *Producer) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewProducer creates a producer for store. fill must not be nil.
func NewProducer(store *timeline.Store, fill FillFunc, opts ...ProducerOption) (*Producer, error) {
	if store == nil || fill == nil {
		return nil, errors.Newf("producer needs a store and a fill function").
			Component(ComponentStream).
			Category(errors.CategoryValidation).
			Build()
	}
	p := &Producer{
		store:  store,
		fill:   fill,
		clock:  clock.NewMonotonic(),
		logger: logging.ForService(ComponentStream),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("store", store.Name())
	return p, nil
}

// Step produces one buffer. Capacity rejections, non-monotonic timestamps and
// fill errors are counted and swallowed; the stream simply loses that buffer.
// Errors returned are fatal for the producer, e.g. a closed store.
func (p *Producer) Step() error {
	seq := p.seq.Add(1) - 1
	ts := timeline.Timestamp(p.clock.Now() + p.offset)

	b, err := p.store.CreateBuffer(ts)
	switch {
	case errors.Is(err, timeline.ErrCapacityExceeded):
		if n := p.capacitySkipped.Add(1); n == 1 || n%100 == 0 {
			p.logger.Warn("pool exhausted, skipping buffer",
				"timestamp", float64(ts),
				"skipped", n,
			)
		}
		return nil
	case err != nil:
		return err
	}

	if err := p.fill(b, seq); err != nil {
		b.Discard()
		if p.fillErrors.Add(1) == 1 {
			p.logger.Warn("fill failed, discarding buffer",
				"timestamp", float64(ts),
				"error", err,
			)
		}
		return nil
	}

	err = p.store.Push(b)
	switch {
	case err == nil:
		p.committed.Add(1)
		p.lastCommitted.Store(math.Float64bits(float64(ts)))
		return nil
	case errors.Is(err, timeline.ErrNonMonotonicTimestamp):
		p.nonMonotonic.Add(1)
		return nil
	default:
		return err
	}
}

// Run produces buffers until ctx is done, the limit is reached or the store
// is closed.
func (p *Producer) Run(ctx context.Context) error {
	p.logger.Debug("producer started")
	defer p.logger.Debug("producer stopped", "committed", p.committed.Load())

	for {
		if p.limit > 0 && p.seq.Load() >= p.limit {
			return nil
		}
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				// Wait also fails when the deadline would pass before the next token
				return nil
			}
		} else if ctx.Err() != nil {
			return nil
		}

		if err := p.Step(); err != nil {
			if errors.Is(err, timeline.ErrClosed) {
				return nil
			}
			return errors.New(err).
				Component(ComponentStream).
				Context("store", p.store.Name()).
				Context("operation", "produce").
				Build()
		}
	}
}

// Stats returns a snapshot of the producer counters
func (p *Producer) Stats() ProducerStats {
	return ProducerStats{
		Committed:       p.committed.Load(),
		CapacitySkipped: p.capacitySkipped.Load(),
		NonMonotonic:    p.nonMonotonic.Load(),
		FillErrors:      p.fillErrors.Load(),
		LastCommittedAt: timeline.Timestamp(math.Float64frombits(p.lastCommitted.Load())),
	}
}
