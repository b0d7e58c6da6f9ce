package mqtt

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/goccy/go-json"

	"github.com/tphakala/arstream/internal/errors"
	"github.com/tphakala/arstream/internal/events"
	"github.com/tphakala/arstream/internal/logging"
	"github.com/tphakala/arstream/internal/observability/metrics"
)

// Subscriber is the subscribing half of the notification bus, implemented by *events.Bus
type Subscriber interface {
	Subscribe(interest events.EventType, handler events.Handler) (events.Subscription, error)
	Unsubscribe(sub events.Subscription)
}

// BridgeStats counts forwarded notifications
type BridgeStats struct {
	Published uint64
	Failed    uint64
}

// Bridge forwards bus notifications to MQTT topics <prefix>/<source>/<event>.
// Publishing happens on the bridge's bus subscription goroutine, so a slow
// broker only causes this subscription to drop its oldest notifications.
type Bridge struct {
	client   Client
	bus      Subscriber
	prefix   string
	interest events.EventType
	metrics  *metrics.MQTTMetrics
	logger   *slog.Logger

	mu     sync.Mutex
	sub    events.Subscription
	active bool
	ctx    context.Context

	published atomic.Uint64
	failed    atomic.Uint64
}

// NewBridge creates a bridge forwarding events matching interest. m may be nil.
func NewBridge(client Client, bus Subscriber, prefix string, interest events.EventType, m *metrics.MQTTMetrics) *Bridge {
	return &Bridge{
		client:   client,
		bus:      bus,
		prefix:   strings.TrimSuffix(prefix, "/"),
		interest: interest,
		metrics:  m,
		logger:   logging.ForService(ComponentMQTT),
	}
}

// Topic returns the topic an event is published to
func (b *Bridge) Topic(ev events.Event) string {
	return b.prefix + "/" + ev.Source + "/" + ev.Type.String()
}

// Start subscribes to the bus. Publishes use ctx until Stop.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.active {
		return nil
	}
	b.ctx = ctx
	sub, err := b.bus.Subscribe(b.interest, b.forward)
	if err != nil {
		return errors.New(err).
			Component(ComponentMQTT).
			Context("operation", "subscribe").
			Build()
	}
	b.sub = sub
	b.active = true
	return nil
}

// Stop unsubscribes from the bus. Pending notifications are discarded.
func (b *Bridge) Stop() {
	b.mu.Lock()
	if !b.active {
		b.mu.Unlock()
		return
	}
	sub := b.sub
	b.active = false
	b.mu.Unlock()
	b.bus.Unsubscribe(sub)
}

// Run connects the client, forwards notifications until ctx is done and disconnects
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.client.Connect(ctx); err != nil {
		return err
	}
	defer b.client.Disconnect()

	if err := b.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	b.Stop()
	return nil
}

func (b *Bridge) forward(ev events.Event) {
	b.mu.Lock()
	ctx := b.ctx
	b.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	payload, err := json.Marshal(NewEventDTO(ev))
	if err != nil {
		b.fail(ev, err)
		return
	}
	if err := b.client.Publish(ctx, b.Topic(ev), payload); err != nil {
		b.fail(ev, err)
		return
	}

	b.published.Add(1)
	if b.metrics != nil {
		b.metrics.RecordDelivered(ev.Type.String(), len(payload))
	}
}

func (b *Bridge) fail(ev events.Event, err error) {
	n := b.failed.Add(1)
	if n == 1 || n%100 == 0 {
		b.logger.Warn("failed to forward notification",
			"source", ev.Source,
			"type", ev.Type.String(),
			"failures", n,
			"error", err,
		)
	}
}

// Stats returns a snapshot of the bridge counters
func (b *Bridge) Stats() BridgeStats {
	return BridgeStats{
		Published: b.published.Load(),
		Failed:    b.failed.Load(),
	}
}
