package timeline

import (
	"fmt"
	"math"

	"github.com/tphakala/arstream/internal/errors"
)

// Mode selects how ClosestBuffer resolves a timestamp between entries
type Mode int

const (
	// Previous selects the greatest timestamp <= the target
	Previous Mode = iota
	// Next selects the smallest timestamp >= the target
	Next
	// Nearest selects the timestamp closest to the target, the earlier one on ties
	Nearest
)

// String returns the mode name
func (m Mode) String() string {
	switch m {
	case Previous:
		return "previous"
	case Next:
		return "next"
	case Nearest:
		return "nearest"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode converts a configured mode name. Empty means Nearest.
func ParseMode(name string) (Mode, error) {
	switch name {
	case "", "nearest":
		return Nearest, nil
	case "previous":
		return Previous, nil
	case "next":
		return Next, nil
	}
	return Nearest, errors.Newf("unknown closest buffer mode %q", name).
		Component(ComponentTimeline).
		Category(errors.CategoryConfiguration).
		Build()
}

// NewerTimestamp returns the smallest committed timestamp strictly greater
// than after, or NoTimestamp when there is none.
func (s *Store) NewerTimestamp(after Timestamp) Timestamp {
	ts, _ := s.NewerTimestampOpt(after)
	return ts
}

// NewerTimestampOpt is NewerTimestamp with an explicit found flag
func (s *Store) NewerTimestampOpt(after Timestamp) (Timestamp, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.index == nil || s.state == StateClosed {
		return NoTimestamp, false
	}
	i := s.index.upperBound(after)
	if i == s.index.len() {
		return NoTimestamp, false
	}
	return s.index.at(i).ts, true
}

// ClosestBuffer returns a reference to the committed buffer selected by mode
// around ts. A NaN target selects nothing. The caller must Release the reference.
func (s *Store) ClosestBuffer(ts Timestamp, mode Mode) (*BufferRef, bool) {
	if math.IsNaN(float64(ts)) {
		return nil, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.index == nil || s.state == StateClosed || s.index.len() == 0 {
		return nil, false
	}

	n := s.index.len()
	var pos int
	switch mode {
	case Previous:
		pos = s.index.upperBound(ts) - 1
		if pos < 0 {
			return nil, false
		}
	case Next:
		pos = s.index.lowerBound(ts)
		if pos == n {
			return nil, false
		}
	case Nearest:
		pos = s.index.lowerBound(ts)
		switch {
		case pos == n:
			pos = n - 1
		case pos > 0:
			before, after := s.index.at(pos-1).ts, s.index.at(pos).ts
			if ts-before <= after-ts {
				pos--
			}
		}
	default:
		return nil, false
	}

	return newRef(s, s.index.at(pos).slot), true
}

// Buffer returns a reference to the buffer committed at exactly ts
func (s *Store) Buffer(ts Timestamp) (*BufferRef, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.index == nil || s.state == StateClosed {
		return nil, false
	}
	i, ok := s.index.find(ts)
	if !ok {
		return nil, false
	}
	return newRef(s, s.index.at(i).slot), true
}

// NewestTimestamp returns the last committed timestamp still resident, or NoTimestamp
func (s *Store) NewestTimestamp() Timestamp {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.index == nil || s.state == StateClosed {
		return NoTimestamp
	}
	e, ok := s.index.last()
	if !ok {
		return NoTimestamp
	}
	return e.ts
}

// OldestTimestamp returns the first resident timestamp, or NoTimestamp
func (s *Store) OldestTimestamp() Timestamp {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.index == nil || s.state == StateClosed {
		return NoTimestamp
	}
	e, ok := s.index.first()
	if !ok {
		return NoTimestamp
	}
	return e.ts
}

// NewestBuffer returns a reference to the most recent resident buffer
func (s *Store) NewestBuffer() (*BufferRef, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.index == nil || s.state == StateClosed {
		return nil, false
	}
	e, ok := s.index.last()
	if !ok {
		return nil, false
	}
	return newRef(s, e.slot), true
}

// Snapshot returns references to every resident buffer, oldest first
func (s *Store) Snapshot() []*BufferRef {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.index == nil || s.state == StateClosed {
		return nil
	}
	refs := make([]*BufferRef, 0, s.index.len())
	for i := range s.index.len() {
		refs = append(refs, newRef(s, s.index.at(i).slot))
	}
	return refs
}

// Len returns the number of resident buffers
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.index == nil || s.state == StateClosed {
		return 0
	}
	return s.index.len()
}

// MaxElementCount returns the configured element capacity, 0 before Configure
func (s *Store) MaxElementCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.MaxElements
}

// Config returns the active configuration
func (s *Store) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// State returns the lifecycle state
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// LastCommitted returns the ordering baseline for the next Push
func (s *Store) LastCommitted() Timestamp {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastCommitted
}

// PoolStats returns pool occupancy counters
func (s *Store) PoolStats() PoolStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.pool == nil {
		return PoolStats{}
	}
	return s.pool.stats()
}

// IsCompatible reports whether b was created for the store's current geometry
func (s *Store) IsCompatible(b *Buffer) bool {
	if b == nil || b.pool == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return b.pool.maxElements == s.cfg.MaxElements && b.pool.elementSize == s.cfg.ElementSize
}
