package timeline

import (
	"encoding/binary"
	"math"

	"github.com/tphakala/arstream/internal/errors"
)

const (
	matrix4Size     = 16 * 4
	markerPointSize = 2 * 4
)

// Codec converts between a typed element and its fixed-size byte form
type Codec[T any] interface {
	Kind() Kind
	Size() int
	Encode(dst []byte, v T)
	Decode(src []byte) T
}

// Typed gives typed element access to a store whose kind and element size
// matched the codec at construction. The store may be reconfigured later, so
// every access checks the element size again and refuses a mismatch.
type Typed[T any] struct {
	store *Store
	codec Codec[T]
}

// NewTyped binds codec to a configured store
func NewTyped[T any](store *Store, codec Codec[T]) (*Typed[T], error) {
	cfg := store.Config()
	if store.State() == StateUnconfigured {
		return nil, ErrNotConfigured
	}
	if cfg.Kind != codec.Kind() || cfg.ElementSize != codec.Size() {
		return nil, errors.Newf("codec %s/%d bytes does not match store %s/%d bytes",
			codec.Kind(), codec.Size(), cfg.Kind, cfg.ElementSize).
			Component(ComponentTimeline).
			Category(errors.CategoryConfiguration).
			Context("store", store.Name()).
			Build()
	}
	return &Typed[T]{store: store, codec: codec}, nil
}

// Store returns the underlying store
func (t *Typed[T]) Store() *Store {
	return t.store
}

// Set encodes v into element index of an uncommitted buffer
func (t *Typed[T]) Set(b *Buffer, index int, v T) error {
	if err := b.check(); err != nil {
		return err
	}
	if size := b.ElementSize(); size != t.codec.Size() {
		return errors.Newf("buffer element size %d does not fit codec %s/%d bytes",
			size, t.codec.Kind(), t.codec.Size()).
			Component(ComponentTimeline).
			Category(errors.CategoryConfiguration).
			Context("store", t.store.Name()).
			Build()
	}

	dst, err := b.Element(index)
	if err != nil {
		return err
	}
	t.codec.Encode(dst, v)
	return nil
}

// Add encodes v into the lowest unset element and returns its index
func (t *Typed[T]) Add(b *Buffer, v T) (int, error) {
	if err := b.check(); err != nil {
		return -1, err
	}
	index := b.firstUnset()
	if index < 0 {
		return -1, errors.Newf("all %d elements already set", b.pool.maxElements).
			Component(ComponentTimeline).
			Category(errors.CategoryLimit).
			Build()
	}
	return index, t.Set(b, index, v)
}

// Get decodes element index of a committed buffer. It reports false when the
// buffer's element size no longer matches the codec.
func (t *Typed[T]) Get(r *BufferRef, index int) (T, bool) {
	var zero T
	if r.ElementSize() != t.codec.Size() {
		return zero, false
	}
	src, ok := r.Element(index)
	if !ok {
		return zero, false
	}
	return t.codec.Decode(src), true
}

// Each decodes every present element in index order until fn returns false
func (t *Typed[T]) Each(r *BufferRef, fn func(index int, v T) bool) {
	if r.ElementSize() != t.codec.Size() {
		return
	}
	r.ForEachPresent(func(index int, payload []byte) bool {
		return fn(index, t.codec.Decode(payload))
	})
}

// Matrix4 is a row-major 4x4 transform
type Matrix4 [16]float32

// Identity returns the identity transform
func Identity() Matrix4 {
	return Matrix4{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// Matrix4Codec stores a Matrix4 as 16 little-endian float32 values
type Matrix4Codec struct{}

// Kind implements Codec
func (Matrix4Codec) Kind() Kind { return KindMatrix4 }

// Size implements Codec
func (Matrix4Codec) Size() int { return matrix4Size }

// Encode implements Codec
func (Matrix4Codec) Encode(dst []byte, m Matrix4) {
	for i, v := range m {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(v))
	}
}

// Decode implements Codec
func (Matrix4Codec) Decode(src []byte) Matrix4 {
	var m Matrix4
	for i := range m {
		m[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
	}
	return m
}

// Point is a marker corner in image coordinates
type Point struct {
	X, Y float32
}

// Marker holds the corners of one detected marker
type Marker []Point

// MarkerCodec stores a fixed number of points per marker. Missing points are
// written as zeros and decoded back as zeros.
type MarkerCodec struct {
	Points int
}

// Kind implements Codec
func (c MarkerCodec) Kind() Kind { return KindMarker }

// Size implements Codec
func (c MarkerCodec) Size() int { return c.Points * markerPointSize }

// Encode implements Codec
func (c MarkerCodec) Encode(dst []byte, m Marker) {
	for i := 0; i < c.Points && i < len(m); i++ {
		binary.LittleEndian.PutUint32(dst[i*markerPointSize:], math.Float32bits(m[i].X))
		binary.LittleEndian.PutUint32(dst[i*markerPointSize+4:], math.Float32bits(m[i].Y))
	}
}

// Decode implements Codec
func (c MarkerCodec) Decode(src []byte) Marker {
	m := make(Marker, c.Points)
	for i := range m {
		m[i].X = math.Float32frombits(binary.LittleEndian.Uint32(src[i*markerPointSize:]))
		m[i].Y = math.Float32frombits(binary.LittleEndian.Uint32(src[i*markerPointSize+4:]))
	}
	return m
}
