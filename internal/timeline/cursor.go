package timeline

// TimestampSource is the part of Store a Cursor needs
type TimestampSource interface {
	NewerTimestamp(after Timestamp) Timestamp
}

// Cursor tracks one consumer's last seen timestamp on a store. It is not
// safe for concurrent use; give each consumer goroutine its own cursor.
type Cursor struct {
	source   TimestampSource
	lastSeen Timestamp
}

// NewCursor creates a cursor that has seen nothing yet
func NewCursor(source TimestampSource) *Cursor {
	return &Cursor{source: source}
}

// NewerTimestamp returns the smallest committed timestamp after the last
// seen one without consuming it, or NoTimestamp.
func (c *Cursor) NewerTimestamp() Timestamp {
	return c.source.NewerTimestamp(c.lastSeen)
}

// MarkSeen records ts as consumed. Older timestamps are ignored.
func (c *Cursor) MarkSeen(ts Timestamp) {
	if ts > c.lastSeen {
		c.lastSeen = ts
	}
}

// Next returns and consumes the next newer timestamp, or NoTimestamp
func (c *Cursor) Next() Timestamp {
	ts := c.NewerTimestamp()
	if ts != NoTimestamp {
		c.lastSeen = ts
	}
	return ts
}

// LastSeen returns the last consumed timestamp
func (c *Cursor) LastSeen() Timestamp {
	return c.lastSeen
}

// Reset forgets consumption state, typically after the store was cleared
func (c *Cursor) Reset() {
	c.lastSeen = NoTimestamp
}
