// Package synchronizer reconciles independently clocked timelines into one
// reference timestamp and per-element groups of buffers.
package synchronizer

import (
	"math"

	"github.com/tphakala/arstream/internal/timeline"
)

// Source is the part of a timeline store the synchronizer reads.
// *timeline.Store implements it.
type Source interface {
	Name() string
	NewerTimestamp(after timeline.Timestamp) timeline.Timestamp
	ClosestBuffer(ts timeline.Timestamp, mode timeline.Mode) (*timeline.BufferRef, bool)
	MaxElementCount() int
}

// Member is one source's contribution to an element group
type Member struct {
	Source  int    // position of the source in the synchronizer's source list
	Name    string // source name
	Payload []byte // read-only view, valid until the combination is released
}

// Group holds every source that has element Element present at the reference time
type Group struct {
	Element int
	Members []Member
}

// Combination is the result of one synchronization cycle. It pins the
// selected buffers until Release.
type Combination struct {
	Reference timeline.Timestamp
	// Buffers has one entry per source; nil when the source had no buffer
	// close enough to the reference time.
	Buffers []*timeline.BufferRef
	Groups  []Group
}

// Present reports how many sources contributed a buffer
func (c *Combination) Present() int {
	n := 0
	for _, ref := range c.Buffers {
		if ref != nil {
			n++
		}
	}
	return n
}

// Release drops every buffer reference held by the combination
func (c *Combination) Release() {
	if c == nil {
		return
	}
	for i, ref := range c.Buffers {
		ref.Release()
		c.Buffers[i] = nil
	}
}

// params are the per cycle lookup settings
type params struct {
	mode      timeline.Mode
	tolerance float64
	delays    []float64
}

// Combine runs one stateless cycle treating every source as unread, with
// Nearest lookups, no tolerance and no delays.
func Combine(sources []Source) (*Combination, bool) {
	lastSeen := make([]timeline.Timestamp, len(sources))
	return combine(sources, lastSeen, params{mode: timeline.Nearest})
}

// referenceTimestamp returns min over sources of the next unread timestamp,
// or false when any source has nothing newer.
func referenceTimestamp(sources []Source, lastSeen []timeline.Timestamp) (timeline.Timestamp, bool) {
	ref := timeline.Timestamp(math.Inf(1))
	for i, src := range sources {
		n := src.NewerTimestamp(lastSeen[i])
		if n == timeline.NoTimestamp {
			return timeline.NoTimestamp, false
		}
		if n < ref {
			ref = n
		}
	}
	return ref, len(sources) > 0
}

func combine(sources []Source, lastSeen []timeline.Timestamp, p params) (*Combination, bool) {
	tRef, ok := referenceTimestamp(sources, lastSeen)
	if !ok {
		return nil, false
	}
	return gather(sources, tRef, p), true
}

// gather selects each source's buffer around tRef and groups present elements
func gather(sources []Source, tRef timeline.Timestamp, p params) *Combination {
	c := &Combination{
		Reference: tRef,
		Buffers:   make([]*timeline.BufferRef, len(sources)),
	}

	maxElements := 0
	counts := make([]int, len(sources))
	for i, src := range sources {
		lookup := tRef
		if i < len(p.delays) {
			lookup -= timeline.Timestamp(p.delays[i])
		}

		ref, found := src.ClosestBuffer(lookup, p.mode)
		if !found {
			continue
		}
		if p.tolerance > 0 && math.Abs(float64(ref.Timestamp()-lookup)) >= p.tolerance {
			ref.Release()
			continue
		}

		c.Buffers[i] = ref
		// Cardinality is per source, never assumed shared
		counts[i] = ref.MaxElementCount()
		maxElements = max(maxElements, counts[i])
	}

	for e := range maxElements {
		var members []Member
		for i, ref := range c.Buffers {
			if ref == nil || e >= counts[i] {
				continue
			}
			payload, present := ref.Element(e)
			if !present {
				continue
			}
			members = append(members, Member{Source: i, Name: sources[i].Name(), Payload: payload})
		}
		if len(members) == 0 {
			continue
		}
		c.Groups = append(c.Groups, Group{Element: e, Members: members})
	}

	return c
}
