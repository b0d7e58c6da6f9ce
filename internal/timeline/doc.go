// Package timeline implements fixed-capacity, timestamp-indexed buffer stores
// for sensor streams such as video frames, detected markers and transforms.
//
// # Buffer Lifecycle
//
// A store owns a pool of PoolCapacity+1 preallocated slots. Each slot carries a
// generation counter and a reference count:
//
//  1. CreateBuffer: the producer acquires a slot exclusively (generation bumped)
//  2. Fill: SetElement, AddElement or Element write payloads without locking
//  3. Push: the buffer becomes immutable and visible to queries; the ordered
//     index holds one reference and evicts its oldest entry when full
//  4. Query: ClosestBuffer, Buffer, NewestBuffer and Snapshot return BufferRefs
//     that each pin the slot until Release
//  5. Retire: a slot returns to the free list when its last reference is dropped
//
// The pool never evicts a referenced slot. When every slot is pinned,
// CreateBuffer fails with ErrCapacityExceeded and the producer skips that cycle.
//
// # Concurrency and Thread Safety
//
// One producer goroutine per store; any number of consumers. Push, Clear and
// Configure take the store's write lock, queries take the read lock only long
// enough to pin a slot. Payload reads through a BufferRef hold no lock.
// Buffer handles are not safe for concurrent use; BufferRefs are.
//
// Consumers track progress with a Cursor and treat NoTimestamp (0) as "no data yet".
package timeline
