package timeline

import "sort"

type entry struct {
	ts   Timestamp
	slot *slot
}

// orderedIndex is a fixed-capacity ring of committed entries. Pushes are
// strictly increasing, so the ring is always sorted oldest first.
type orderedIndex struct {
	entries []entry
	head    int
	count   int
}

func newOrderedIndex(capacity int) *orderedIndex {
	return &orderedIndex{entries: make([]entry, capacity)}
}

func (x *orderedIndex) len() int { return x.count }

func (x *orderedIndex) full() bool { return x.count == len(x.entries) }

func (x *orderedIndex) at(i int) entry {
	return x.entries[(x.head+i)%len(x.entries)]
}

func (x *orderedIndex) first() (entry, bool) {
	if x.count == 0 {
		return entry{}, false
	}
	return x.at(0), true
}

func (x *orderedIndex) last() (entry, bool) {
	if x.count == 0 {
		return entry{}, false
	}
	return x.at(x.count - 1), true
}

// pushBack appends e; the caller ensures the index is not full
func (x *orderedIndex) pushBack(e entry) {
	x.entries[(x.head+x.count)%len(x.entries)] = e
	x.count++
}

func (x *orderedIndex) popFront() entry {
	e := x.entries[x.head]
	x.entries[x.head] = entry{}
	x.head = (x.head + 1) % len(x.entries)
	x.count--
	return e
}

// removeAt deletes the i-th entry, shifting later entries down
func (x *orderedIndex) removeAt(i int) entry {
	e := x.at(i)
	for j := i; j < x.count-1; j++ {
		x.entries[(x.head+j)%len(x.entries)] = x.at(j + 1)
	}
	x.entries[(x.head+x.count-1)%len(x.entries)] = entry{}
	x.count--
	return e
}

// lowerBound returns the position of the first entry with ts >= target
func (x *orderedIndex) lowerBound(target Timestamp) int {
	return sort.Search(x.count, func(i int) bool { return x.at(i).ts >= target })
}

// upperBound returns the position of the first entry with ts > target
func (x *orderedIndex) upperBound(target Timestamp) int {
	return sort.Search(x.count, func(i int) bool { return x.at(i).ts > target })
}

// find returns the position of the entry committed at exactly ts
func (x *orderedIndex) find(ts Timestamp) (int, bool) {
	i := x.lowerBound(ts)
	if i < x.count && x.at(i).ts == ts {
		return i, true
	}
	return -1, false
}

// drain empties the index, calling fn for each entry oldest first
func (x *orderedIndex) drain(fn func(entry)) {
	for x.count > 0 {
		fn(x.popFront())
	}
	x.head = 0
}
