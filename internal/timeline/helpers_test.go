package timeline

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// newTestStore returns a configured raw store
func newTestStore(t *testing.T, capacity, maxElements, elementSize int, opts ...Option) *Store {
	t.Helper()
	s := NewStore(t.Name(), opts...)
	require.NoError(t, s.InitPoolSize(capacity, maxElements, elementSize))
	return s
}

// pushAt commits a buffer at ts with element 0 set to payload
func pushAt(t *testing.T, s *Store, ts Timestamp, payload []byte) {
	t.Helper()
	buf, err := s.CreateBuffer(ts)
	require.NoError(t, err)
	require.NoError(t, buf.SetElement(0, payload))
	require.NoError(t, s.Push(buf))
}

// fakeMetrics records calls made through MetricsRecorder
type fakeMetrics struct {
	mu         sync.Mutex
	pushes     map[string]int
	rejections int
	evictions  int
	clears     int
	resident   int
	inUse      int
	slots      int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{pushes: make(map[string]int)}
}

func (f *fakeMetrics) RecordPush(_, result string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes[result]++
}

func (f *fakeMetrics) RecordCapacityRejection(string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejections++
}

func (f *fakeMetrics) RecordEviction(string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evictions++
}

func (f *fakeMetrics) RecordClear(string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
}

func (f *fakeMetrics) UpdateOccupancy(_ string, resident, slotsInUse, slots int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resident, f.inUse, f.slots = resident, slotsInUse, slots
}
