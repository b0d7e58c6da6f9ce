package timeline

import (
	"math/bits"
	"sync/atomic"

	"github.com/tphakala/arstream/internal/errors"
)

// Buffer is a producer-exclusive handle to a slot that has not been committed yet.
// It is not safe for concurrent use; payload writes need no locking because
// nothing else can see the slot until Push. The handle is owned by its slot and
// reset when the slot is acquired again, so it is only valid until Push or Discard.
type Buffer struct {
	store      *Store
	pool       *pool
	slot       *slot
	generation uint64
	timestamp  Timestamp
	done       bool
}

func (b *Buffer) check() error {
	if b == nil || b.slot == nil || b.done || b.slot.generation.Load() != b.generation {
		return ErrStaleReference
	}
	return nil
}

// Timestamp returns the timestamp the buffer will be committed at
func (b *Buffer) Timestamp() Timestamp {
	return b.timestamp
}

// SlotID returns the pool slot backing this buffer
func (b *Buffer) SlotID() int {
	return b.slot.id
}

// MaxElementCount returns the element capacity
func (b *Buffer) MaxElementCount() int {
	return b.pool.maxElements
}

// ElementSize returns the byte size of one element
func (b *Buffer) ElementSize() int {
	return b.pool.elementSize
}

func (b *Buffer) checkIndex(index int) error {
	if index < 0 || index >= b.pool.maxElements {
		return errors.Newf("element index %d out of range [0,%d)", index, b.pool.maxElements).
			Component(ComponentTimeline).
			Category(errors.CategoryIndexRange).
			Context("timestamp", float64(b.timestamp)).
			Build()
	}
	return nil
}

func (b *Buffer) view(index int) []byte {
	size := b.pool.elementSize
	return b.slot.data[index*size : (index+1)*size : (index+1)*size]
}

// SetElement copies payload into element index and marks it present.
// Shorter payloads are zero padded.
func (b *Buffer) SetElement(index int, payload []byte) error {
	if err := b.check(); err != nil {
		return err
	}
	if err := b.checkIndex(index); err != nil {
		return err
	}
	if len(payload) > b.pool.elementSize {
		return errors.Newf("payload of %d bytes exceeds element size %d", len(payload), b.pool.elementSize).
			Component(ComponentTimeline).
			Category(errors.CategoryConfiguration).
			Build()
	}

	dst := b.view(index)
	n := copy(dst, payload)
	clear(dst[n:])
	b.slot.markPresent(index)
	return nil
}

// AddElement writes payload to the lowest unset index and returns that index
func (b *Buffer) AddElement(payload []byte) (int, error) {
	if err := b.check(); err != nil {
		return -1, err
	}

	index := b.firstUnset()
	if index < 0 {
		return -1, errors.Newf("all %d elements already set", b.pool.maxElements).
			Component(ComponentTimeline).
			Category(errors.CategoryLimit).
			Context("timestamp", float64(b.timestamp)).
			Build()
	}
	if err := b.SetElement(index, payload); err != nil {
		return -1, err
	}
	return index, nil
}

func (b *Buffer) firstUnset() int {
	for w, word := range b.slot.present {
		if word == ^uint64(0) {
			continue
		}
		index := w*64 + bits.TrailingZeros64(^word)
		if index < b.pool.maxElements {
			return index
		}
		return -1
	}
	return -1
}

// Element marks index present and returns a zeroed writable view of its
// storage, for producers that fill payloads in place.
func (b *Buffer) Element(index int) ([]byte, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	if err := b.checkIndex(index); err != nil {
		return nil, err
	}

	dst := b.view(index)
	clear(dst)
	b.slot.markPresent(index)
	return dst, nil
}

// IsPresent reports whether element index has been written
func (b *Buffer) IsPresent(index int) bool {
	if b.check() != nil || index < 0 || index >= b.pool.maxElements {
		return false
	}
	return b.slot.isPresent(index)
}

// PresentCount returns the number of written elements
func (b *Buffer) PresentCount() int {
	if b.check() != nil {
		return 0
	}
	return b.slot.written
}

// Discard returns the slot to the pool without committing it
func (b *Buffer) Discard() {
	if b.check() != nil {
		return
	}
	b.done = true
	b.store.discard(b)
}

// BufferRef is a shared reference to a committed, immutable buffer. It pins
// the slot until Release and is safe for concurrent use.
type BufferRef struct {
	store      *Store
	pool       *pool
	slot       *slot
	generation uint64
	timestamp  Timestamp
	released   atomic.Bool
}

// newRef pins a committed slot; the caller holds the store lock
func newRef(st *Store, sl *slot) *BufferRef {
	st.pool.retain(sl)
	st.outstanding.Add(1)
	return &BufferRef{
		store:      st,
		pool:       st.pool,
		slot:       sl,
		generation: sl.generation.Load(),
		timestamp:  sl.timestamp,
	}
}

func (r *BufferRef) live() bool {
	return r != nil && !r.released.Load() && r.slot.generation.Load() == r.generation
}

// Validate returns ErrStaleReference once the reference is released
func (r *BufferRef) Validate() error {
	if !r.live() {
		return ErrStaleReference
	}
	return nil
}

// Timestamp returns the commit timestamp
func (r *BufferRef) Timestamp() Timestamp {
	if r == nil {
		return NoTimestamp
	}
	return r.timestamp
}

// MaxElementCount returns the element capacity of the buffer
func (r *BufferRef) MaxElementCount() int {
	if r == nil {
		return 0
	}
	return r.pool.maxElements
}

// ElementSize returns the byte size of one element
func (r *BufferRef) ElementSize() int {
	if r == nil {
		return 0
	}
	return r.pool.elementSize
}

// IsPresent reports whether element index was written before commit
func (r *BufferRef) IsPresent(index int) bool {
	if !r.live() || index < 0 || index >= r.pool.maxElements {
		return false
	}
	return r.slot.isPresent(index)
}

// Element returns a read-only view of element index, or false if it was never written.
// The view stays valid until Release and must not be modified.
func (r *BufferRef) Element(index int) ([]byte, bool) {
	if !r.IsPresent(index) {
		return nil, false
	}
	size := r.pool.elementSize
	return r.slot.data[index*size : (index+1)*size : (index+1)*size], true
}

// CopyElement copies element index into dst and reports whether it was present
func (r *BufferRef) CopyElement(index int, dst []byte) bool {
	src, ok := r.Element(index)
	if !ok {
		return false
	}
	copy(dst, src)
	return true
}

// PresentCount returns the number of written elements
func (r *BufferRef) PresentCount() int {
	if !r.live() {
		return 0
	}
	return r.slot.written
}

// Mask returns the presence bits of the first 64 elements
func (r *BufferRef) Mask() uint64 {
	if !r.live() {
		return 0
	}
	return r.slot.present[0]
}

// ForEachPresent calls fn for each written element in index order until fn returns false
func (r *BufferRef) ForEachPresent(fn func(index int, payload []byte) bool) {
	if !r.live() {
		return
	}
	size := r.pool.elementSize
	for w, word := range r.slot.present {
		for word != 0 {
			index := w*64 + bits.TrailingZeros64(word)
			word &= word - 1
			if !fn(index, r.slot.data[index*size:(index+1)*size:(index+1)*size]) {
				return
			}
		}
	}
}

// Release drops the reference. Further accessors report absence. Release is idempotent.
func (r *BufferRef) Release() {
	if r == nil || !r.released.CompareAndSwap(false, true) {
		return
	}
	r.pool.release(r.slot)
	r.store.outstanding.Add(-1)
}
