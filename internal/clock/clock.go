// Package clock provides the millisecond timestamp source used to stamp buffers.
package clock

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Clock returns timestamps in milliseconds. Implementations never return 0,
// which stores reserve as the "no data" sentinel.
type Clock interface {
	Now() float64
}

// Monotonic anchors a wall clock epoch once and advances it with the runtime's
// monotonic reading. Successive calls return strictly increasing values, so
// a producer stamping with it never trips the store's ordering check.
type Monotonic struct {
	origin  time.Time
	epochMs float64
	last    atomic.Uint64 // float64 bits of the last returned value
}

// NewMonotonic creates a monotonic clock anchored at the current time
func NewMonotonic() *Monotonic {
	now := time.Now()
	return &Monotonic{
		origin:  now,
		epochMs: float64(now.UnixNano()) / float64(time.Millisecond),
	}
}

// Now returns milliseconds since the Unix epoch with sub-millisecond resolution
func (m *Monotonic) Now() float64 {
	candidate := m.epochMs + float64(time.Since(m.origin))/float64(time.Millisecond)

	for {
		prevBits := m.last.Load()
		prev := math.Float64frombits(prevBits)
		next := candidate
		if next <= prev {
			next = math.Nextafter(prev, math.Inf(1))
		}
		if m.last.CompareAndSwap(prevBits, math.Float64bits(next)) {
			return next
		}
	}
}

// Manual is a settable clock for tests and replays
type Manual struct {
	mu  sync.Mutex
	now float64
}

// NewManual creates a manual clock starting at start ms. A start of 0 or less
// begins at 1 so the sentinel is never produced.
func NewManual(start float64) *Manual {
	if start <= 0 {
		start = 1
	}
	return &Manual{now: start}
}

// Now returns the current manual time
func (m *Manual) Now() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d milliseconds and returns the new time
func (m *Manual) Advance(d float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d > 0 {
		m.now += d
	}
	return m.now
}

// Set moves the clock to ts. Values of 0 or less are ignored.
func (m *Manual) Set(ts float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ts > 0 {
		m.now = ts
	}
}
