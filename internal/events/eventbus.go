package events

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tphakala/arstream/internal/errors"
	"github.com/tphakala/arstream/internal/logging"
)

// DefaultQueueSize is the per-subscriber mailbox capacity used when none is configured
const DefaultQueueSize = 64

// ComponentEvents identifies errors raised by this package
const ComponentEvents = "events"

// ErrBusClosed is returned by Subscribe after Close
var ErrBusClosed = errors.New(errors.NewStd("event bus closed")).
	Component(ComponentEvents).
	Category(errors.CategoryClosed).
	Build()

// Subscription identifies a registered handler
type Subscription struct {
	id uuid.UUID
}

// ID returns the subscription identifier
func (s Subscription) ID() string {
	return s.id.String()
}

// Bus fans events out to subscribers. Each subscriber owns a bounded mailbox
// drained by a dedicated goroutine, so per-subscriber delivery order equals
// publish order and a slow handler only loses its own oldest events.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uuid.UUID]*mailbox
	closed bool
	wg     sync.WaitGroup

	queueSize int
	logger    *slog.Logger
	metrics   MetricsRecorder

	sequence      atomic.Uint64
	published     atomic.Uint64
	delivered     atomic.Uint64
	dropped       atomic.Uint64
	handlerPanics atomic.Uint64
}

// Option configures a Bus
type Option func(*Bus)

// WithQueueSize sets the per-subscriber mailbox capacity
func WithQueueSize(size int) Option {
	return func(b *Bus) {
		if size > 0 {
			b.queueSize = size
		}
	}
}

// WithLogger sets the logger used for handler failures
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMetrics attaches a metrics recorder
func WithMetrics(recorder MetricsRecorder) Option {
	return func(b *Bus) {
		b.metrics = recorder
	}
}

// NewBus creates an event bus
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		subs:      make(map[uuid.UUID]*mailbox),
		queueSize: DefaultQueueSize,
		logger:    logging.ForService(ComponentEvents),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers handler for the event types in interest. The handler
// runs on a goroutine owned by the subscription.
func (b *Bus) Subscribe(interest EventType, handler Handler) (Subscription, error) {
	if handler == nil {
		return Subscription{}, errors.Newf("nil event handler").
			Component(ComponentEvents).
			Category(errors.CategoryValidation).
			Build()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return Subscription{}, ErrBusClosed
	}

	mb := newMailbox(interest, handler, b.queueSize)
	b.subs[mb.id] = mb

	b.wg.Add(1)
	go b.deliver(mb)

	b.logger.Debug("subscriber registered",
		"subscription", mb.id.String(),
		"interest", interest.String(),
	)

	return Subscription{id: mb.id}, nil
}

// Unsubscribe removes a subscription. Pending events are discarded and a
// handler already running is allowed to finish. Unknown subscriptions are ignored.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	mb, ok := b.subs[sub.id]
	delete(b.subs, sub.id)
	b.mu.Unlock()

	if ok {
		mb.close()
	}
}

// Publish enqueues ev for every interested subscriber. It never blocks on a handler.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	ev.Sequence = b.sequence.Add(1)
	if ev.Published.IsZero() {
		ev.Published = time.Now()
	}
	b.published.Add(1)

	for _, mb := range b.subs {
		if !mb.interest.Matches(ev.Type) {
			continue
		}
		dropped, ok := mb.offer(ev)
		if !ok || !dropped {
			continue
		}
		b.dropped.Add(1)
		if b.metrics != nil {
			b.metrics.RecordDropped(ev.Type.String())
		}
		if b.logger.Enabled(context.Background(), slog.LevelDebug) {
			b.logger.Debug("event dropped due to full mailbox",
				"subscription", mb.id.String(),
				"type", ev.Type.String(),
				"source", ev.Source,
			)
		}
	}
}

// deliver drains one mailbox until it is closed
func (b *Bus) deliver(mb *mailbox) {
	defer b.wg.Done()

	for {
		ev, ok := mb.next()
		if !ok {
			return
		}
		b.invoke(mb, ev)
	}
}

// invoke runs the handler in a recovery wrapper to prevent panics
func (b *Bus) invoke(mb *mailbox, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.handlerPanics.Add(1)
			if b.metrics != nil {
				b.metrics.RecordHandlerPanic()
			}
			b.logger.Error("event handler panicked",
				"subscription", mb.id.String(),
				"panic", r,
				"type", ev.Type.String(),
				"source", ev.Source,
			)
		}
	}()

	mb.handler(ev)

	b.delivered.Add(1)
	if b.metrics != nil {
		b.metrics.RecordDelivered(ev.Type.String())
	}
}

// Close stops delivery, discards pending events and waits for running handlers to return.
// Close must not be called from inside a handler.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*mailbox, 0, len(b.subs))
	for id, mb := range b.subs {
		subs = append(subs, mb)
		delete(b.subs, id)
	}
	b.mu.Unlock()

	for _, mb := range subs {
		mb.close()
	}
	b.wg.Wait()

	b.logger.Debug("event bus closed", "published", b.published.Load())
}

// Stats returns current bus statistics
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	subs := make([]SubscriberStats, 0, len(b.subs))
	for _, mb := range b.subs {
		subs = append(subs, mb.stats())
	}
	b.mu.RUnlock()

	sort.Slice(subs, func(i, j int) bool { return subs[i].ID < subs[j].ID })

	return Stats{
		Published:     b.published.Load(),
		Delivered:     b.delivered.Load(),
		Dropped:       b.dropped.Load(),
		HandlerPanics: b.handlerPanics.Load(),
		Subscribers:   subs,
	}
}
