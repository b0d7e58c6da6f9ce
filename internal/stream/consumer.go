package stream

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tphakala/arstream/internal/errors"
	"github.com/tphakala/arstream/internal/events"
	"github.com/tphakala/arstream/internal/logging"
	"github.com/tphakala/arstream/internal/timeline"
)

// Subscriber is the subscribing half of the notification bus, implemented by *events.Bus
type Subscriber interface {
	Subscribe(interest events.EventType, handler events.Handler) (events.Subscription, error)
	Unsubscribe(sub events.Subscription)
}

// ConsumeFunc processes one committed buffer. The reference is released after
// it returns; copy what must outlive the call.
type ConsumeFunc func(ref *timeline.BufferRef) error

// ConsumerStats counts consumer progress
type ConsumerStats struct {
	Consumed   uint64
	Vanished   uint64 // evicted between discovery and lookup
	Errors     uint64
	Clears     uint64
	Wakeups    uint64
	LastSeenAt timeline.Timestamp
}

// Consumer walks a store in timestamp order. Notifications only wake it; what
// to read is always derived from the store through a cursor, so dropped
// notifications never lose data that is still resident.
type Consumer struct {
	store   *timeline.Store
	bus     Subscriber
	consume ConsumeFunc
	cursor  *timeline.Cursor
	poll    time.Duration
	logger  *slog.Logger

	wake    chan struct{}
	cleared atomic.Bool

	consumed atomic.Uint64
	vanished atomic.Uint64
	errs     atomic.Uint64
	clears   atomic.Uint64
	wakeups  atomic.Uint64
	lastSeen atomic.Value // timeline.Timestamp
}

// ConsumerOption configures a Consumer
type ConsumerOption func(*Consumer)

// WithPollInterval makes the consumer also check the store periodically,
// independent of notifications. Disabled by default.
func WithPollInterval(d time.Duration) ConsumerOption {
	return func(c *Consumer) {
		c.poll = d
	}
}

// WithConsumerLogger sets the consumer logger
func WithConsumerLogger(logger *slog.Logger) ConsumerOption {
	return func(c *Consumer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewConsumer creates a consumer for store woken by notifications from bus
func NewConsumer(store *timeline.Store, bus Subscriber, consume ConsumeFunc, opts ...ConsumerOption) (*Consumer, error) {
	if store == nil || bus == nil || consume == nil {
		return nil, errors.Newf("consumer needs a store, a bus and a consume function").
			Component(ComponentStream).
			Category(errors.CategoryValidation).
			Build()
	}
	c := &Consumer{
		store:   store,
		bus:     bus,
		consume: consume,
		cursor:  timeline.NewCursor(store),
		logger:  logging.ForService(ComponentStream),
		wake:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("store", store.Name())
	c.lastSeen.Store(timeline.NoTimestamp)
	return c, nil
}

// onEvent runs on the bus goroutine and must not block
func (c *Consumer) onEvent(ev events.Event) {
	if ev.Source != c.store.Name() {
		return
	}
	if ev.Type == events.EventClear {
		c.cleared.Store(true)
	}
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Run consumes buffers until ctx is done
func (c *Consumer) Run(ctx context.Context) error {
	sub, err := c.bus.Subscribe(events.EventPush|events.EventClear, c.onEvent)
	if err != nil {
		return errors.New(err).
			Component(ComponentStream).
			Context("store", c.store.Name()).
			Context("operation", "subscribe").
			Build()
	}
	defer c.bus.Unsubscribe(sub)

	var tick <-chan time.Time
	if c.poll > 0 {
		ticker := time.NewTicker(c.poll)
		defer ticker.Stop()
		tick = ticker.C
	}

	// Catch up on anything committed before the subscription existed
	c.Drain()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.wake:
			c.wakeups.Add(1)
		case <-tick:
		}
		c.Drain()
	}
}

// Drain consumes every buffer newer than the cursor and returns how many were
// consumed. It shares the cursor with Run and must not be called concurrently with it.
func (c *Consumer) Drain() int {
	if c.cleared.Swap(false) {
		c.clears.Add(1)
		c.cursor.Reset()
	}

	n := 0
	for {
		ts := c.cursor.Next()
		if ts == timeline.NoTimestamp {
			return n
		}
		c.lastSeen.Store(ts)

		ref, ok := c.store.Buffer(ts)
		if !ok {
			c.vanished.Add(1)
			continue
		}
		err := c.consume(ref)
		ref.Release()
		if err != nil {
			if c.errs.Add(1) == 1 {
				c.logger.Warn("consume failed", "timestamp", float64(ts), "error", err)
			}
			continue
		}
		c.consumed.Add(1)
		n++
	}
}

// Stats returns a snapshot of the consumer counters
func (c *Consumer) Stats() ConsumerStats {
	return ConsumerStats{
		Consumed:   c.consumed.Load(),
		Vanished:   c.vanished.Load(),
		Errors:     c.errs.Load(),
		Clears:     c.clears.Load(),
		Wakeups:    c.wakeups.Load(),
		LastSeenAt: c.lastSeen.Load().(timeline.Timestamp),
	}
}
