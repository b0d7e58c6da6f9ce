package timeline

import (
	"bytes"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/arstream/internal/events"
)

func TestClosestNearestReturnsExactCommit(t *testing.T) {
	s := newTestStore(t, 8, 1, 8)

	stamps := []Timestamp{1.5, 3, 7.25, 10, 42}
	for _, ts := range stamps {
		pushAt(t, s, ts, []byte{byte(ts)})
	}

	for _, ts := range stamps {
		ref, ok := s.ClosestBuffer(ts, Nearest)
		require.True(t, ok)
		assert.Equal(t, ts, ref.Timestamp())
		payload, ok := ref.Element(0)
		require.True(t, ok)
		assert.Equal(t, byte(ts), payload[0])
		ref.Release()
	}
}

func TestClosestBufferModes(t *testing.T) {
	s := newTestStore(t, 8, 1, 1)
	for _, ts := range []Timestamp{10, 20, 30} {
		pushAt(t, s, ts, nil)
	}

	tests := []struct {
		name   string
		target Timestamp
		mode   Mode
		want   Timestamp
		found  bool
	}{
		{"previous exact", 20, Previous, 20, true},
		{"previous between", 25, Previous, 20, true},
		{"previous before first", 5, Previous, 0, false},
		{"next exact", 20, Next, 20, true},
		{"next between", 21, Next, 30, true},
		{"next after last", 31, Next, 0, false},
		{"nearest closer to later", 26, Nearest, 30, true},
		{"nearest closer to earlier", 14, Nearest, 10, true},
		{"nearest tie prefers earlier", 15, Nearest, 10, true},
		{"nearest before first", 1, Nearest, 10, true},
		{"nearest after last", 100, Nearest, 30, true},
		{"unknown mode", 20, Mode(9), 0, false},
		{"previous nan", Timestamp(math.NaN()), Previous, 0, false},
		{"next nan", Timestamp(math.NaN()), Next, 0, false},
		{"nearest nan", Timestamp(math.NaN()), Nearest, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, ok := s.ClosestBuffer(tt.target, tt.mode)
			require.Equal(t, tt.found, ok)
			if ok {
				assert.Equal(t, tt.want, ref.Timestamp())
				ref.Release()
			}
		})
	}
}

func TestClosestBufferEmptyStore(t *testing.T) {
	s := NewStore("empty")
	_, ok := s.ClosestBuffer(10, Nearest)
	assert.False(t, ok)

	require.NoError(t, s.InitPoolSize(2, 1, 1))
	_, ok = s.ClosestBuffer(10, Nearest)
	assert.False(t, ok)
	assert.Equal(t, NoTimestamp, s.NewerTimestamp(0))
}

func TestPushNonMonotonicKeepsSize(t *testing.T) {
	metrics := newFakeMetrics()
	s := newTestStore(t, 4, 1, 1, WithMetrics(metrics))
	pushAt(t, s, 10, nil)
	pushAt(t, s, 20, nil)

	for _, ts := range []Timestamp{20, 15} {
		before := s.PoolStats()
		buf, err := s.CreateBuffer(ts)
		require.NoError(t, err)

		err = s.Push(buf)
		require.ErrorIs(t, err, ErrNonMonotonicTimestamp)
		assert.Equal(t, 2, s.Len())
		assert.Equal(t, Timestamp(20), s.LastCommitted())
		assert.Equal(t, before.Free, s.PoolStats().Free, "rejected slot returns to the pool")

		// The handle is spent
		assert.ErrorIs(t, s.Push(buf), ErrStaleReference)
	}

	assert.Equal(t, 2, metrics.pushes[PushNonMonotonic])
	assert.Equal(t, 2, metrics.pushes[PushCommitted])
}

func TestCreateBufferRejectsSentinelTimestamps(t *testing.T) {
	s := newTestStore(t, 2, 1, 1)
	for _, ts := range []Timestamp{0, -3, Timestamp(math.NaN()), Timestamp(math.Inf(1))} {
		_, err := s.CreateBuffer(ts)
		assert.ErrorIs(t, err, ErrInvalidTimestamp)
		assert.NotErrorIs(t, err, ErrNonMonotonicTimestamp, "nothing was pushed out of order")
	}
	assert.Zero(t, s.PoolStats().Acquired)
}

func TestEvictionReusesOldestSlot(t *testing.T) {
	const capacity = 3
	metrics := newFakeMetrics()
	s := newTestStore(t, capacity, 2, 4, WithMetrics(metrics))

	var firstSlot int
	for i := 1; i <= capacity+1; i++ {
		buf, err := s.CreateBuffer(Timestamp(i))
		require.NoError(t, err)
		if i == 1 {
			firstSlot = buf.SlotID()
		}
		require.NoError(t, buf.SetElement(0, []byte{byte(i)}))
		require.NoError(t, s.Push(buf))
		assert.LessOrEqual(t, s.Len(), capacity)
	}

	assert.Equal(t, capacity, s.Len())
	assert.Equal(t, Timestamp(2), s.OldestTimestamp())
	assert.Equal(t, 1, metrics.evictions)

	buf, err := s.CreateBuffer(Timestamp(capacity + 2))
	require.NoError(t, err)
	assert.Equal(t, firstSlot, buf.SlotID())

	stats := s.PoolStats()
	assert.Equal(t, capacity+1, stats.Slots)
	assert.Zero(t, stats.Allocated)
	buf.Discard()
}

func TestCapacityExceededWhenSlotsPinned(t *testing.T) {
	metrics := newFakeMetrics()
	s := newTestStore(t, 2, 1, 1, WithMetrics(metrics))

	var refs []*BufferRef
	for i := 1; i <= 3; i++ {
		pushAt(t, s, Timestamp(i), nil)
		ref, ok := s.NewestBuffer()
		require.True(t, ok)
		refs = append(refs, ref)
	}

	// Index holds 2, slot of ts=1 is pinned by a consumer
	_, err := s.CreateBuffer(4)
	require.ErrorIs(t, err, ErrCapacityExceeded)
	assert.Equal(t, 1, metrics.rejections)

	// Pinned data is still intact
	assert.Equal(t, Timestamp(1), refs[0].Timestamp())
	assert.NoError(t, refs[0].Validate())

	refs[0].Release()
	buf, err := s.CreateBuffer(4)
	require.NoError(t, err)
	require.NoError(t, s.Push(buf))

	for _, ref := range refs[1:] {
		ref.Release()
	}
}

func TestGrowthLimitAllocatesExtraSlots(t *testing.T) {
	s := NewStore("growth")
	require.NoError(t, s.Configure(Config{PoolCapacity: 1, MaxElements: 1, ElementSize: 1, GrowthLimit: 1}))

	a, err := s.CreateBuffer(1)
	require.NoError(t, err)
	b, err := s.CreateBuffer(2)
	require.NoError(t, err)
	c, err := s.CreateBuffer(3)
	require.NoError(t, err)
	_, err = s.CreateBuffer(4)
	require.ErrorIs(t, err, ErrCapacityExceeded)

	stats := s.PoolStats()
	assert.Equal(t, 3, stats.Slots)
	assert.Equal(t, uint64(1), stats.Allocated)
	assert.Equal(t, uint64(1), stats.Rejected)

	a.Discard()
	b.Discard()
	c.Discard()
	assert.Equal(t, 3, s.PoolStats().Free)
}

func TestNewerTimestampScenario(t *testing.T) {
	s := newTestStore(t, 8, 1, 1)
	assert.Equal(t, NoTimestamp, s.NewerTimestamp(NoTimestamp))

	for _, ts := range []Timestamp{10, 20, 30} {
		pushAt(t, s, ts, nil)
	}

	cursor := NewCursor(s)
	assert.Equal(t, Timestamp(10), cursor.NewerTimestamp())
	assert.Equal(t, Timestamp(10), cursor.NewerTimestamp(), "peek does not consume")
	cursor.MarkSeen(10)
	assert.Equal(t, Timestamp(20), cursor.NewerTimestamp())

	assert.Equal(t, Timestamp(20), cursor.Next())
	assert.Equal(t, Timestamp(30), cursor.Next())
	assert.Equal(t, NoTimestamp, cursor.Next())
	assert.Equal(t, Timestamp(30), cursor.LastSeen())

	cursor.MarkSeen(5)
	assert.Equal(t, Timestamp(30), cursor.LastSeen(), "cursor never moves back")

	ts, ok := s.NewerTimestampOpt(30)
	assert.False(t, ok)
	assert.Equal(t, NoTimestamp, ts)
	ts, ok = s.NewerTimestampOpt(12.5)
	assert.True(t, ok)
	assert.Equal(t, Timestamp(20), ts)

	cursor.Reset()
	assert.Equal(t, Timestamp(10), cursor.NewerTimestamp())
	assert.Equal(t, Timestamp(30), s.NewestTimestamp())
}

func TestClearKeepsHeldReferences(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	cleared := make(chan events.Event, 1)
	_, err := bus.Subscribe(events.EventClear, func(ev events.Event) { cleared <- ev })
	require.NoError(t, err)

	metrics := newFakeMetrics()
	s := newTestStore(t, 4, 2, 4, WithPublisher(bus), WithMetrics(metrics))
	pushAt(t, s, 10, []byte("abcd"))
	pushAt(t, s, 20, []byte("efgh"))

	ref, ok := s.Buffer(10)
	require.True(t, ok)

	s.Clear()

	assert.Equal(t, 0, s.Len())
	assert.Equal(t, NoTimestamp, s.NewerTimestamp(NoTimestamp))
	assert.Equal(t, StateConfigured, s.State())
	assert.Equal(t, 1, metrics.clears)

	payload, ok := ref.Element(0)
	require.True(t, ok)
	assert.Equal(t, []byte("abcd"), payload)
	assert.Equal(t, Timestamp(10), ref.Timestamp())
	assert.NoError(t, ref.Validate())

	// Refilling the store must not recycle the pinned slot
	for i := 1; i <= 4; i++ {
		pushAt(t, s, Timestamp(100+i), []byte("zzzz"))
	}
	payload, _ = ref.Element(0)
	assert.Equal(t, []byte("abcd"), payload)
	ref.Release()

	select {
	case ev := <-cleared:
		assert.Equal(t, events.EventClear, ev.Type)
		assert.Equal(t, s.Name(), ev.Source)
	case <-time.After(time.Second):
		t.Fatal("clear notification not delivered")
	}
}

func TestClearResetsOrderingBaseline(t *testing.T) {
	s := newTestStore(t, 4, 1, 1)
	pushAt(t, s, 50, nil)
	s.Clear()
	pushAt(t, s, 5, nil)
	assert.Equal(t, Timestamp(5), s.NewestTimestamp())
	assert.Equal(t, StateActive, s.State())
}

func TestPushNotificationsFollowCommitOrder(t *testing.T) {
	bus := events.NewBus(events.WithQueueSize(256))
	defer bus.Close()

	var mu sync.Mutex
	var seen []float64
	done := make(chan struct{})
	_, err := bus.Subscribe(events.EventPush, func(ev events.Event) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, ev.Timestamp)
		if len(seen) == 100 {
			close(done)
		}
	})
	require.NoError(t, err)

	s := newTestStore(t, 8, 1, 1, WithPublisher(bus))
	for i := 1; i <= 100; i++ {
		pushAt(t, s, Timestamp(i), nil)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("push notifications not delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, ts := range seen {
		assert.Equal(t, float64(i+1), ts)
	}
}

func TestConfigureLifecycle(t *testing.T) {
	s := NewStore("lifecycle")
	assert.Equal(t, StateUnconfigured, s.State())
	assert.Zero(t, s.MaxElementCount())

	_, err := s.CreateBuffer(1)
	require.ErrorIs(t, err, ErrNotConfigured)

	require.NoError(t, s.InitPoolSize(4, 3, 2))
	assert.Equal(t, StateConfigured, s.State())
	assert.Equal(t, 3, s.MaxElementCount())

	pushAt(t, s, 1, []byte{1, 2})
	assert.Equal(t, StateActive, s.State())

	// Same configuration keeps data
	require.NoError(t, s.InitPoolSize(4, 3, 2))
	assert.Equal(t, 1, s.Len())

	// Outstanding producer handle blocks reconfiguration
	buf, err := s.CreateBuffer(2)
	require.NoError(t, err)
	require.ErrorIs(t, s.InitPoolSize(8, 3, 2), ErrConfig)
	buf.Discard()

	// Outstanding consumer reference blocks reconfiguration
	ref, ok := s.NewestBuffer()
	require.True(t, ok)
	require.ErrorIs(t, s.InitPoolSize(8, 3, 2), ErrConfig)
	ref.Release()

	// Different configuration drops data
	require.NoError(t, s.InitPoolSize(8, 3, 2))
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, StateConfigured, s.State())
	assert.Equal(t, 8, s.Config().PoolCapacity)

	s.Close()
	s.Close()
	assert.Equal(t, StateClosed, s.State())
	require.ErrorIs(t, s.InitPoolSize(4, 3, 2), ErrClosed)
	_, err = s.CreateBuffer(10)
	require.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, 0, s.Len())
}

func TestPushAfterCloseDiscards(t *testing.T) {
	s := newTestStore(t, 2, 1, 1)
	buf, err := s.CreateBuffer(1)
	require.NoError(t, err)

	s.Close()
	require.ErrorIs(t, s.Push(buf), ErrClosed)
	assert.ErrorIs(t, buf.SetElement(0, nil), ErrStaleReference)
}

func TestPushForeignBuffer(t *testing.T) {
	a := newTestStore(t, 2, 1, 1)
	b := newTestStore(t, 2, 1, 1)

	buf, err := a.CreateBuffer(1)
	require.NoError(t, err)
	require.ErrorIs(t, b.Push(buf), ErrStaleReference)
	assert.Equal(t, 0, b.Len())

	assert.True(t, b.IsCompatible(buf))
	require.NoError(t, b.InitPoolSize(2, 4, 1))
	assert.False(t, b.IsCompatible(buf))
	buf.Discard()
}

func TestPopRemovesExactEntry(t *testing.T) {
	s := newTestStore(t, 4, 1, 2)
	pushAt(t, s, 10, []byte{1})
	pushAt(t, s, 20, []byte{2})
	pushAt(t, s, 30, []byte{3})

	_, ok := s.Pop(25)
	assert.False(t, ok)

	ref, ok := s.Pop(20)
	require.True(t, ok)
	assert.Equal(t, 2, s.Len())
	payload, ok := ref.Element(0)
	require.True(t, ok)
	assert.Equal(t, []byte{2, 0}, payload)
	ref.Release()

	assert.Equal(t, Timestamp(30), s.NewerTimestamp(10))
	_, ok = s.Buffer(20)
	assert.False(t, ok)
}

func TestSnapshotAndCopyFrom(t *testing.T) {
	src := newTestStore(t, 4, 2, 3)
	for i := 1; i <= 4; i++ {
		buf, err := src.CreateBuffer(Timestamp(i * 10))
		require.NoError(t, err)
		require.NoError(t, buf.SetElement(1, []byte{byte(i), byte(i), byte(i)}))
		require.NoError(t, src.Push(buf))
	}

	refs := src.Snapshot()
	require.Len(t, refs, 4)
	for i, ref := range refs {
		assert.Equal(t, Timestamp((i+1)*10), ref.Timestamp())
		ref.Release()
	}

	dst := newTestStore(t, 2, 2, 3)
	require.NoError(t, dst.CopyFrom(src))
	assert.Equal(t, 2, dst.Len())
	assert.Equal(t, Timestamp(30), dst.OldestTimestamp())

	ref, ok := dst.Buffer(40)
	require.True(t, ok)
	assert.False(t, ref.IsPresent(0))
	payload, ok := ref.Element(1)
	require.True(t, ok)
	assert.Equal(t, []byte{4, 4, 4}, payload)
	ref.Release()

	// Source data is untouched by the copy
	ref, ok = src.Buffer(40)
	require.True(t, ok)
	ref.Release()

	incompatible := newTestStore(t, 2, 5, 3)
	assert.ErrorIs(t, incompatible.CopyFrom(src), ErrConfig)
	assert.NoError(t, src.CopyFrom(src))
}

// checksumPayload fills an element so a torn read is detectable
func checksumPayload(dst []byte, ts Timestamp, element int) {
	for i := range dst {
		dst[i] = byte(int(ts)*7 + element*13 + i)
	}
}

func TestConcurrentConsumersSeeConsistentBuffers(t *testing.T) {
	const (
		pushes      = 1000
		consumers   = 8
		maxElements = 4
		elementSize = 32
	)

	s := NewStore("torture")
	require.NoError(t, s.Configure(Config{
		PoolCapacity: 16,
		MaxElements:  maxElements,
		ElementSize:  elementSize,
		GrowthLimit:  consumers,
	}))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	errs := make(chan string, consumers)

	for c := range consumers {
		wg.Add(1)
		go func(seed int) {
			defer wg.Done()
			cursor := NewCursor(s)
			expected := make([]byte, elementSize)
			prev := NoTimestamp
			for probe := seed; ; probe++ {
				select {
				case <-stop:
					return
				default:
				}

				if ts := cursor.Next(); ts != NoTimestamp {
					if ts <= prev {
						errs <- "cursor observed out of order timestamps"
						return
					}
					prev = ts
				}

				target := Timestamp(probe%pushes + 1)
				ref, ok := s.ClosestBuffer(target, Nearest)
				if !ok {
					continue
				}
				for e := range ref.MaxElementCount() {
					payload, ok := ref.Element(e)
					if !ok {
						errs <- "committed element missing"
						ref.Release()
						return
					}
					checksumPayload(expected, ref.Timestamp(), e)
					if !bytes.Equal(expected, payload) {
						errs <- "torn read"
						ref.Release()
						return
					}
				}
				ref.Release()
			}
		}(c * 97)
	}

	for i := 1; i <= pushes; i++ {
		ts := Timestamp(i)
		buf, err := s.CreateBuffer(ts)
		require.NoError(t, err)
		for e := range maxElements {
			dst, err := buf.Element(e)
			require.NoError(t, err)
			checksumPayload(dst, ts, e)
		}
		require.NoError(t, s.Push(buf))
	}

	close(stop)
	wg.Wait()
	close(errs)
	for msg := range errs {
		t.Error(msg)
	}

	assert.Equal(t, 16, s.Len())
	assert.Equal(t, Timestamp(pushes), s.NewestTimestamp())
}
