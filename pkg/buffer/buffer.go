package buffer

import (
	"context"
	"time"
)

// Buffer represents a generic FIFO buffer parameterized by item type T.
type Buffer[T any] interface {
	// Write adds an item to the buffer. Behavior when the buffer is full
	// depends on the overflow policy. Fails once the buffer is closed.
	Write(item T) error

	// WriteWithContext is Write with a cancellable wait for the Block policy.
	WriteWithContext(ctx context.Context, item T) error

	// Read retrieves and removes the oldest item without waiting.
	Read() (T, bool)

	// ReadWithTimeout waits up to timeout for an item. It returns false on
	// timeout or when the buffer is closed and empty.
	ReadWithTimeout(timeout time.Duration) (T, bool)

	// ReadWithContext waits until an item is available or ctx is done.
	ReadWithContext(ctx context.Context) (T, bool)

	// ReadBatch retrieves and removes up to max items in FIFO order.
	ReadBatch(max int) []T

	// Size returns the current number of items in the buffer.
	Size() int

	// Capacity returns the number of items the buffer can hold before the
	// overflow policy applies. Grow buffers report their current capacity.
	Capacity() int

	IsFull() bool
	IsEmpty() bool

	// Clear removes all items, passes each to the drop callback and returns
	// how many were removed.
	Clear() int

	// Stats returns buffer statistics.
	Stats() *Statistics

	// Close wakes all waiters and rejects further writes. Items already
	// buffered remain readable.
	Close() error
}

// OverflowPolicy defines how the buffer behaves when it reaches capacity.
type OverflowPolicy int

const (
	// DropOldest removes the oldest item to make room for new items.
	DropOldest OverflowPolicy = iota

	// DropNewest drops new items when the buffer is full.
	DropNewest

	// Block causes Write operations to block until space is available.
	Block

	// Grow doubles the capacity so Write never blocks and never drops.
	Grow
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
	case Grow:
		return "Grow"
	default:
		return "Unknown"
	}
}

// DropCallback is called with each item removed without being read, either
// by the overflow policy or by Clear.
type DropCallback[T any] func(item T)

// NewCircularBuffer creates a new circular buffer with the specified initial
// capacity and options. It fails only if metrics registration fails.
func NewCircularBuffer[T any](capacity int, options ...Option[T]) (Buffer[T], error) {
	opts := applyOptions(options...)
	return newCircularBuffer(capacity, opts)
}
