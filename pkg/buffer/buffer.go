// Package buffer provides a generic, thread-safe circular buffer with
// configurable overflow policies. It backs the bounded training-example
// queue (single writer, single reader, evict-oldest on overflow) and the
// link ingress queues.
package buffer

// Buffer is the interface satisfied by all buffer implementations,
// parameterized by item type T.
type Buffer[T any] interface {
	// Write adds an item to the buffer. Behavior when full depends on the
	// overflow policy.
	Write(item T) error

	// Read retrieves and removes the oldest item.
	// Returns the zero value and false if the buffer is empty.
	Read() (T, bool)

	// ReadBatch retrieves and removes up to max items in arrival order.
	ReadBatch(max int) []T

	// Snapshot returns a copy of all buffered items in arrival order
	// without removing them. Readers that must not disturb the queue
	// (the training supervisor) use this.
	Snapshot() []T

	// Peek retrieves the oldest item without removing it.
	Peek() (T, bool)

	// Size returns the current number of items.
	Size() int

	// Capacity returns the maximum number of items the buffer can hold.
	Capacity() int

	// IsFull reports whether the buffer is at capacity.
	IsFull() bool

	// IsEmpty reports whether the buffer is empty.
	IsEmpty() bool

	// Clear removes all items.
	Clear()

	// Stats returns buffer statistics.
	Stats() *Statistics

	// Close shuts down the buffer; subsequent writes fail.
	Close() error
}

// OverflowPolicy defines how the buffer behaves when it reaches capacity.
type OverflowPolicy int

const (
	// DropOldest removes the oldest item to make room for new items.
	DropOldest OverflowPolicy = iota

	// DropNewest drops new items when the buffer is full.
	DropNewest

	// Block causes Write to block until space is available.
	Block
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	case Block:
		return "Block"
	default:
		return "Unknown"
	}
}

// DropCallback is called with each item dropped due to the overflow policy.
type DropCallback[T any] func(item T)

// NewCircular creates a circular buffer with the given capacity.
// Statistics are always collected; behavior is tuned via functional options.
func NewCircular[T any](capacity int, options ...Option[T]) Buffer[T] {
	return newCircular(capacity, applyOptions(options...))
}
