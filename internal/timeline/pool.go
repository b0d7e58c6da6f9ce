package timeline

import (
	"sync"
	"sync/atomic"
)

// slot is one preallocated buffer. Storage and presence bits are written only
// by the producer holding the slot exclusively; once committed they are
// read-only until the refcount drops to zero and the slot is reacquired.
type slot struct {
	id         int
	generation atomic.Uint64
	refs       atomic.Int32

	timestamp Timestamp
	data      []byte
	present   []uint64
	written   int

	// producer handle reused by every acquisition of this slot
	handle Buffer
}

func newSlot(id, maxElements, elementSize int) *slot {
	return &slot{
		id:      id,
		data:    make([]byte, maxElements*elementSize),
		present: make([]uint64, (maxElements+63)/64),
	}
}

func (s *slot) isPresent(index int) bool {
	return s.present[index/64]&(1<<(uint(index)%64)) != 0
}

func (s *slot) markPresent(index int) {
	word, bit := index/64, uint64(1)<<(uint(index)%64)
	if s.present[word]&bit == 0 {
		s.present[word] |= bit
		s.written++
	}
}

func (s *slot) reset(ts Timestamp) {
	clear(s.present)
	s.written = 0
	s.timestamp = ts
}

// PoolStats is a snapshot of pool occupancy
type PoolStats struct {
	Slots     int    // allocated slots
	Free      int    // slots with no references
	InUse     int    // slots held by the index, a producer or a consumer
	Acquired  uint64 // successful acquisitions
	Rejected  uint64 // acquisitions failed with ErrCapacityExceeded
	Allocated uint64 // slots allocated beyond the initial set
}

// pool hands out slots least recently released first. It never evicts a
// referenced slot; when no slot is free it grows up to growthLimit and then
// refuses.
type pool struct {
	mu          sync.Mutex
	slots       []*slot
	free        []int // FIFO of slot ids
	freeHead    int
	maxElements int
	elementSize int
	growthLimit int
	grown       int

	acquired  uint64
	rejected  uint64
	allocated uint64
}

func newPool(cfg Config) *pool {
	n := cfg.PoolCapacity + 1 // one producer slot in flight while the index is full
	p := &pool{
		slots:       make([]*slot, 0, n+cfg.GrowthLimit),
		free:        make([]int, 0, n+cfg.GrowthLimit),
		maxElements: cfg.MaxElements,
		elementSize: cfg.ElementSize,
		growthLimit: cfg.GrowthLimit,
	}
	for i := range n {
		p.slots = append(p.slots, newSlot(i, cfg.MaxElements, cfg.ElementSize))
		p.free = append(p.free, i)
	}
	return p
}

// acquire returns an exclusively owned slot with a fresh generation and one reference
func (p *pool) acquire(ts Timestamp) (*slot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free)-p.freeHead == 0 {
		if p.grown >= p.growthLimit {
			p.rejected++
			return nil, false
		}
		s := newSlot(len(p.slots), p.maxElements, p.elementSize)
		p.slots = append(p.slots, s)
		p.free = append(p.free, s.id)
		p.grown++
		p.allocated++
	}

	id := p.free[p.freeHead]
	p.freeHead++
	if p.freeHead == len(p.free) {
		p.free = p.free[:0]
		p.freeHead = 0
	}

	s := p.slots[id]
	s.generation.Add(1)
	s.reset(ts)
	s.refs.Store(1)
	p.acquired++
	return s, true
}

// retain adds a reference to a slot that is already referenced by the caller's context
func (p *pool) retain(s *slot) {
	s.refs.Add(1)
}

// release drops one reference; the last one returns the slot to the free list
func (p *pool) release(s *slot) {
	if s.refs.Add(-1) != 0 {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.freeHead > 0 && len(p.free) == cap(p.free) {
		n := copy(p.free, p.free[p.freeHead:])
		p.free = p.free[:n]
		p.freeHead = 0
	}
	p.free = append(p.free, s.id)
}

func (p *pool) stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	free := len(p.free) - p.freeHead
	return PoolStats{
		Slots:     len(p.slots),
		Free:      free,
		InUse:     len(p.slots) - free,
		Acquired:  p.acquired,
		Rejected:  p.rejected,
		Allocated: p.allocated,
	}
}
