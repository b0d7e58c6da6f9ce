package timeline

import (
	"math"

	"github.com/tphakala/arstream/internal/errors"
)

// Timestamp is a point on a stream's clock in milliseconds
type Timestamp float64

// NoTimestamp is the "no data" sentinel returned by NewerTimestamp
const NoTimestamp Timestamp = 0

// IsValid reports whether ts can be committed: finite and above the sentinel
func (ts Timestamp) IsValid() bool {
	f := float64(ts)
	return f > 0 && !math.IsInf(f, 0) && !math.IsNaN(f)
}

// Kind is the payload discriminant of a store, checked once at Configure
type Kind int

const (
	// KindRaw stores opaque fixed-size elements
	KindRaw Kind = iota
	// KindFrame stores one image per element, sized by a FrameLayout
	KindFrame
	// KindMarker stores detected marker corners as float32 x/y pairs
	KindMarker
	// KindMatrix4 stores 4x4 float32 transforms
	KindMatrix4
)

// String returns the kind name
func (k Kind) String() string {
	switch k {
	case KindRaw:
		return "raw"
	case KindFrame:
		return "frame"
	case KindMarker:
		return "marker"
	case KindMatrix4:
		return "matrix4"
	default:
		return "unknown"
	}
}

// ParseKind converts a configured kind name, defaulting to KindRaw
func ParseKind(name string) (Kind, error) {
	switch name {
	case "", "raw":
		return KindRaw, nil
	case "frame":
		return KindFrame, nil
	case "marker":
		return KindMarker, nil
	case "matrix4":
		return KindMatrix4, nil
	}
	return KindRaw, errors.Newf("unknown payload kind %q", name).
		Component(ComponentTimeline).
		Category(errors.CategoryConfiguration).
		Build()
}

// FrameLayout describes one image element
type FrameLayout struct {
	Width             int
	Height            int
	Components        int // channels per pixel
	BytesPerComponent int
}

// ElementSize returns the byte size of one frame
func (l FrameLayout) ElementSize() int {
	return l.Width * l.Height * l.Components * l.BytesPerComponent
}

func (l FrameLayout) isZero() bool {
	return l == FrameLayout{}
}

// Config fixes the geometry of a store
type Config struct {
	PoolCapacity int  // resident committed buffers
	MaxElements  int  // elements per buffer
	ElementSize  int  // bytes per element
	Kind         Kind // payload discriminant
	Frame        FrameLayout
	// GrowthLimit is the number of extra slots the pool may allocate when
	// saturated. 0 makes CreateBuffer fail fast with ErrCapacityExceeded.
	GrowthLimit int
}

// normalize validates c and derives kind specific sizes
func (c Config) normalize() (Config, error) {
	invalid := func(reason string) (Config, error) {
		return Config{}, errors.Newf("invalid timeline configuration: %s", reason).
			Component(ComponentTimeline).
			Category(errors.CategoryConfiguration).
			Context("pool_capacity", c.PoolCapacity).
			Context("max_elements", c.MaxElements).
			Context("element_size", c.ElementSize).
			Context("kind", c.Kind.String()).
			Build()
	}

	if c.PoolCapacity <= 0 {
		return invalid("pool capacity must be positive")
	}
	if c.MaxElements <= 0 {
		return invalid("max elements must be positive")
	}
	if c.GrowthLimit < 0 {
		return invalid("growth limit must not be negative")
	}

	switch c.Kind {
	case KindRaw:
		if c.ElementSize <= 0 {
			return invalid("element size must be positive")
		}
	case KindFrame:
		if c.Frame.isZero() {
			return invalid("frame kind requires a frame layout")
		}
		size := c.Frame.ElementSize()
		if size <= 0 {
			return invalid("frame layout dimensions must be positive")
		}
		if c.ElementSize != 0 && c.ElementSize != size {
			return invalid("element size does not match frame layout")
		}
		c.ElementSize = size
	case KindMarker:
		if c.ElementSize == 0 {
			c.ElementSize = markerPointSize * 4
		}
		if c.ElementSize%markerPointSize != 0 {
			return invalid("marker element size must hold whole points")
		}
	case KindMatrix4:
		if c.ElementSize == 0 {
			c.ElementSize = matrix4Size
		}
		if c.ElementSize != matrix4Size {
			return invalid("matrix4 element size must be 64 bytes")
		}
	default:
		return invalid("unknown payload kind")
	}

	if !c.Frame.isZero() && c.Kind != KindFrame {
		return invalid("frame layout given for a non-frame kind")
	}

	return c, nil
}

// State is the lifecycle position of a store
type State int

const (
	// StateUnconfigured accepts only Configure
	StateUnconfigured State = iota
	// StateConfigured has a pool but no committed buffers
	StateConfigured
	// StateActive has committed at least one buffer since the last Configure or Clear
	StateActive
	// StateClosed is terminal
	StateClosed
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateConfigured:
		return "configured"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
