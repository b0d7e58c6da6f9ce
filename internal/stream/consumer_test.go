package stream

import (
	"context"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/arstream/internal/events"
	"github.com/tphakala/arstream/internal/testutil"
	"github.com/tphakala/arstream/internal/timeline"
)

// recorder collects consumed timestamps
type recorder struct {
	mu  sync.Mutex
	seq []timeline.Timestamp
}

func (r *recorder) consume(ref *timeline.BufferRef) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq = append(r.seq, ref.Timestamp())
	return nil
}

func (r *recorder) snapshot() []timeline.Timestamp {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]timeline.Timestamp(nil), r.seq...)
}

// startConsumer runs c until the test ends
func startConsumer(t *testing.T, c *Consumer) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, testutil.WaitForError(t, done, testutil.DefaultTestTimeout))
	})
}

func TestConsumerSeesPushesInOrder(t *testing.T) {
	bus := events.NewBus()
	t.Cleanup(bus.Close)
	store := newRawStore(t, 64, timeline.WithPublisher(bus))

	rec := &recorder{}
	c, err := NewConsumer(store, bus, rec.consume)
	require.NoError(t, err)
	startConsumer(t, c)

	p, err := NewProducer(store, seqFill, WithClock(newStepClock(10)), WithLimit(20))
	require.NoError(t, err)
	require.NoError(t, p.Run(t.Context()))

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 20 }, testutil.DefaultTestTimeout, testutil.PollInterval)
	got := rec.snapshot()
	for i := 1; i < len(got); i++ {
		assert.Less(t, got[i-1], got[i])
	}
	assert.Equal(t, timeline.Timestamp(30), c.Stats().LastSeenAt)
}

func TestConsumerCatchesUpOnStart(t *testing.T) {
	bus := events.NewBus()
	t.Cleanup(bus.Close)
	store := newRawStore(t, 8, timeline.WithPublisher(bus))

	p, err := NewProducer(store, seqFill, WithClock(newStepClock(10)), WithLimit(5))
	require.NoError(t, err)
	require.NoError(t, p.Run(t.Context()))

	rec := &recorder{}
	c, err := NewConsumer(store, bus, rec.consume)
	require.NoError(t, err)
	startConsumer(t, c)

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 5 }, testutil.DefaultTestTimeout, testutil.PollInterval)
}

func TestConsumerResetsCursorOnClear(t *testing.T) {
	bus := events.NewBus()
	t.Cleanup(bus.Close)
	store := newRawStore(t, 8, timeline.WithPublisher(bus))

	rec := &recorder{}
	c, err := NewConsumer(store, bus, rec.consume)
	require.NoError(t, err)
	startConsumer(t, c)

	first, err := NewProducer(store, seqFill, WithClock(newStepClock(1000)), WithLimit(3))
	require.NoError(t, err)
	require.NoError(t, first.Run(t.Context()))
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 3 }, testutil.DefaultTestTimeout, testutil.PollInterval)

	store.Clear()
	require.Eventually(t, func() bool { return c.Stats().Clears == 1 }, testutil.DefaultTestTimeout, testutil.PollInterval)

	// Timestamps restart below what the consumer has already seen
	second, err := NewProducer(store, seqFill, WithClock(newStepClock(1)), WithLimit(2))
	require.NoError(t, err)
	require.NoError(t, second.Run(t.Context()))

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 5 }, testutil.DefaultTestTimeout, testutil.PollInterval)
	assert.Equal(t, []timeline.Timestamp{2, 3}, rec.snapshot()[3:])
}

func TestConsumerIgnoresOtherStores(t *testing.T) {
	bus := events.NewBus()
	t.Cleanup(bus.Close)
	store := newRawStore(t, 8, timeline.WithPublisher(bus))

	c, err := NewConsumer(store, bus, func(*timeline.BufferRef) error { return nil })
	require.NoError(t, err)

	c.onEvent(events.Event{Type: events.EventClear, Source: "other"})
	assert.False(t, c.cleared.Load())
	assert.Empty(t, c.wake)

	c.onEvent(events.Event{Type: events.EventClear, Source: store.Name()})
	assert.True(t, c.cleared.Load())
	assert.Len(t, c.wake, 1)
}

func TestConsumerReleasesReferences(t *testing.T) {
	bus := events.NewBus()
	t.Cleanup(bus.Close)
	store := newRawStore(t, 4, timeline.WithPublisher(bus))

	p, err := NewProducer(store, seqFill, WithClock(newStepClock(1)), WithLimit(4))
	require.NoError(t, err)
	require.NoError(t, p.Run(t.Context()))

	var payloads []byte
	c, err := NewConsumer(store, bus, func(ref *timeline.BufferRef) error {
		b, ok := ref.Element(0)
		require.True(t, ok)
		payloads = append(payloads, b[0])
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 4, c.Drain())
	assert.Equal(t, []byte{0, 1, 2, 3}, payloads)

	// All references released: reconfiguration succeeds
	require.NoError(t, store.InitPoolSize(8, 2, 8))
}

func TestMarkerFillRoundTrip(t *testing.T) {
	store := timeline.NewStore("markers")
	codec := timeline.MarkerCodec{Points: 4}
	require.NoError(t, store.Configure(timeline.Config{
		PoolCapacity: 4,
		MaxElements:  3,
		ElementSize:  codec.Size(),
		Kind:         timeline.KindMarker,
	}))
	typed, err := timeline.NewTyped(store, codec)
	require.NoError(t, err)

	rng := rand.New(rand.NewPCG(1, 2))
	p, err := NewProducer(store, MarkerFill(typed, 3, 4, 0, rng), WithClock(newStepClock(1)), WithLimit(1))
	require.NoError(t, err)
	require.NoError(t, p.Run(t.Context()))

	ref, ok := store.NewestBuffer()
	require.True(t, ok)
	defer ref.Release()
	assert.Equal(t, 3, ref.PresentCount())
	m, ok := typed.Get(ref, 0)
	require.True(t, ok)
	assert.Len(t, m, 4)
	assert.InDelta(t, 530, m[0].X, 0.01)
	assert.InDelta(t, 240, m[0].Y, 0.01)
}

func TestFrameFillWritesSequence(t *testing.T) {
	layout := timeline.FrameLayout{Width: 4, Height: 2, Components: 3, BytesPerComponent: 1}
	store := timeline.NewStore("frames")
	require.NoError(t, store.Configure(timeline.Config{
		PoolCapacity: 2,
		MaxElements:  1,
		Kind:         timeline.KindFrame,
		Frame:        layout,
	}))

	p, err := NewProducer(store, FrameFill(layout), WithClock(newStepClock(1)), WithLimit(3))
	require.NoError(t, err)
	require.NoError(t, p.Run(t.Context()))

	ref, ok := store.NewestBuffer()
	require.True(t, ok)
	defer ref.Release()
	frame, ok := ref.Element(0)
	require.True(t, ok)
	assert.Len(t, frame, layout.ElementSize())
	assert.Equal(t, byte(2), frame[0])
}
