package events

import (
	"sync"

	"github.com/google/uuid"
)

// mailbox is a per-subscriber bounded FIFO. A full mailbox overwrites its
// oldest pending event, so the publisher never waits on a slow handler.
type mailbox struct {
	id       uuid.UUID
	interest EventType
	handler  Handler

	mu      sync.Mutex
	cond    *sync.Cond
	pending []Event
	head    int
	count   int
	closed  bool

	delivered uint64
	dropped   uint64
}

func newMailbox(interest EventType, handler Handler, size int) *mailbox {
	mb := &mailbox{
		id:       uuid.New(),
		interest: interest,
		handler:  handler,
		pending:  make([]Event, size),
	}
	mb.cond = sync.NewCond(&mb.mu)
	return mb
}

// offer enqueues ev and reports whether an older event was dropped to make room
func (mb *mailbox) offer(ev Event) (dropped, ok bool) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if mb.closed {
		return false, false
	}

	if mb.count == len(mb.pending) {
		mb.pending[mb.head] = Event{}
		mb.head = (mb.head + 1) % len(mb.pending)
		mb.count--
		mb.dropped++
		dropped = true
	}

	mb.pending[(mb.head+mb.count)%len(mb.pending)] = ev
	mb.count++
	mb.cond.Signal()
	return dropped, true
}

// next blocks until an event is available or the mailbox is closed
func (mb *mailbox) next() (Event, bool) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	for mb.count == 0 && !mb.closed {
		mb.cond.Wait()
	}
	if mb.closed {
		return Event{}, false
	}

	ev := mb.pending[mb.head]
	mb.pending[mb.head] = Event{}
	mb.head = (mb.head + 1) % len(mb.pending)
	mb.count--
	mb.delivered++
	return ev, true
}

// close discards pending events and wakes the delivery goroutine
func (mb *mailbox) close() {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if mb.closed {
		return
	}
	mb.closed = true
	for mb.count > 0 {
		mb.pending[mb.head] = Event{}
		mb.head = (mb.head + 1) % len(mb.pending)
		mb.count--
	}
	mb.cond.Broadcast()
}

func (mb *mailbox) stats() SubscriberStats {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	return SubscriberStats{
		ID:        mb.id.String(),
		Interest:  mb.interest,
		Delivered: mb.delivered,
		Dropped:   mb.dropped,
		Pending:   mb.count,
	}
}
