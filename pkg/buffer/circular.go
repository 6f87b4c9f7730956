package buffer

import (
	"context"
	"sync"
	"time"

	"github.com/c360/rtcbridge/errors"
)

// circularBuffer is a ring of items guarded by one mutex. Readers and blocked
// writers wait on condition variables; timed waits are woken by
// context.AfterFunc.
type circularBuffer[T any] struct {
	mu      sync.Mutex
	items   []T
	size    int
	head    int // next write position
	tail    int // next read position
	stats   *Statistics
	metrics *bufferMetrics
	opts    *bufferOptions[T]

	notEmpty *sync.Cond
	notFull  *sync.Cond
	closed   bool
}

func newCircularBuffer[T any](capacity int, opts *bufferOptions[T]) (*circularBuffer[T], error) {
	if capacity <= 0 {
		capacity = 1
	}

	var metrics *bufferMetrics
	if opts.export != nil {
		var err error
		metrics, err = newBufferMetrics(opts.export.registry, opts.export.label)
		if err != nil {
			return nil, errors.WrapTransient(err, "buffer", "newCircularBuffer", "metrics registration")
		}
	}

	cb := &circularBuffer[T]{
		items:   make([]T, capacity),
		stats:   NewStatistics(),
		metrics: metrics,
		opts:    opts,
	}
	cb.notEmpty = sync.NewCond(&cb.mu)
	cb.notFull = sync.NewCond(&cb.mu)

	return cb, nil
}

// Write adds an item to the buffer according to the overflow policy.
func (cb *circularBuffer[T]) Write(item T) error {
	return cb.write(context.Background(), item)
}

// WriteWithContext behaves like Write but a Block policy wait is abandoned
// when ctx is done.
func (cb *circularBuffer[T]) WriteWithContext(ctx context.Context, item T) error {
	return cb.write(ctx, item)
}

func (cb *circularBuffer[T]) write(ctx context.Context, item T) error {
	var dropped []T
	defer func() {
		// Callbacks run without the lock so they may touch the buffer.
		for _, d := range dropped {
			cb.opts.dropCallback(d)
		}
	}()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.closed {
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "Buffer", "Write", "buffer closed")
	}

	if cb.size == len(cb.items) {
		switch cb.opts.overflowPolicy {
		case Grow:
			cb.grow()

		case DropOldest:
			oldest := cb.take()
			cb.recordDrop()
			if cb.opts.dropCallback != nil {
				dropped = append(dropped, oldest)
			}

		case DropNewest:
			cb.recordDrop()
			if cb.opts.dropCallback != nil {
				dropped = append(dropped, item)
			}
			return nil

		case Block:
			if err := cb.waitNotFull(ctx); err != nil {
				return err
			}
		}
	}

	cb.items[cb.head] = item
	cb.head = (cb.head + 1) % len(cb.items)
	cb.size++

	cb.stats.Write()
	cb.stats.UpdateSize(int64(cb.size))
	if cb.metrics != nil {
		cb.metrics.recordWrite(cb.size, len(cb.items))
	}

	cb.notEmpty.Signal()
	return nil
}

// waitNotFull blocks until there is room. Called with the lock held.
func (cb *circularBuffer[T]) waitNotFull(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		cb.mu.Lock()
		cb.notFull.Broadcast()
		cb.mu.Unlock()
	})
	defer stop()

	for cb.size == len(cb.items) && !cb.closed {
		if err := ctx.Err(); err != nil {
			return err
		}
		cb.notFull.Wait()
	}
	if cb.closed {
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "Buffer", "Write",
			"buffer closed during blocking wait")
	}
	return nil
}

// grow doubles the ring and unrolls it so tail is at index zero.
func (cb *circularBuffer[T]) grow() {
	next := make([]T, len(cb.items)*2)
	for i := 0; i < cb.size; i++ {
		next[i] = cb.items[(cb.tail+i)%len(cb.items)]
	}
	cb.items = next
	cb.tail = 0
	cb.head = cb.size

	cb.stats.Grow()
	if cb.metrics != nil {
		cb.metrics.recordGrow()
	}
}

// take removes the item at tail. Called with the lock held and size > 0.
func (cb *circularBuffer[T]) take() T {
	var zero T
	item := cb.items[cb.tail]
	cb.items[cb.tail] = zero
	cb.tail = (cb.tail + 1) % len(cb.items)
	cb.size--
	return item
}

func (cb *circularBuffer[T]) recordDrop() {
	cb.stats.Overflow()
	cb.stats.Drop()
	if cb.metrics != nil {
		cb.metrics.recordOverflow()
		cb.metrics.recordDrop()
	}
}

func (cb *circularBuffer[T]) recordRead() {
	cb.stats.Read()
	cb.stats.UpdateSize(int64(cb.size))
	if cb.metrics != nil {
		cb.metrics.recordRead(cb.size, len(cb.items))
	}
	cb.notFull.Signal()
}

// Read retrieves and removes one item from the buffer.
func (cb *circularBuffer[T]) Read() (T, bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.size == 0 {
		var zero T
		return zero, false
	}

	item := cb.take()
	cb.recordRead()
	return item, true
}

// ReadWithTimeout waits up to timeout for an item.
func (cb *circularBuffer[T]) ReadWithTimeout(timeout time.Duration) (T, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return cb.ReadWithContext(ctx)
}

// ReadWithContext waits for an item until ctx is done or the buffer closes.
func (cb *circularBuffer[T]) ReadWithContext(ctx context.Context) (T, bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.size == 0 && !cb.closed {
		stop := context.AfterFunc(ctx, func() {
			cb.mu.Lock()
			cb.notEmpty.Broadcast()
			cb.mu.Unlock()
		})
		defer stop()

		for cb.size == 0 && !cb.closed && ctx.Err() == nil {
			cb.notEmpty.Wait()
		}
	}

	if cb.size == 0 {
		var zero T
		return zero, false
	}

	item := cb.take()
	cb.recordRead()
	return item, true
}

// ReadBatch retrieves and removes up to max items from the buffer.
func (cb *circularBuffer[T]) ReadBatch(max int) []T {
	if max <= 0 {
		return nil
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.size == 0 {
		return nil
	}

	n := min(max, cb.size)
	result := make([]T, n)
	for i := range result {
		result[i] = cb.take()
		cb.stats.Read()
	}

	cb.stats.UpdateSize(int64(cb.size))
	if cb.metrics != nil {
		cb.metrics.updateSize(cb.size, len(cb.items))
	}
	cb.notFull.Broadcast()

	return result
}

// Size returns the current number of items in the buffer.
func (cb *circularBuffer[T]) Size() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.size
}

// Capacity returns the current ring size.
func (cb *circularBuffer[T]) Capacity() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return len(cb.items)
}

// IsFull returns true if the next write triggers the overflow policy.
func (cb *circularBuffer[T]) IsFull() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.size == len(cb.items)
}

// IsEmpty returns true if the buffer contains no items.
func (cb *circularBuffer[T]) IsEmpty() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.size == 0
}

// Clear removes all items and hands each to the drop callback in FIFO order.
func (cb *circularBuffer[T]) Clear() int {
	cb.mu.Lock()

	removed := make([]T, 0, cb.size)
	for cb.size > 0 {
		removed = append(removed, cb.take())
	}
	cb.head = 0
	cb.tail = 0

	cb.stats.UpdateSize(0)
	if cb.metrics != nil {
		cb.metrics.updateSize(0, len(cb.items))
	}
	cb.notFull.Broadcast()
	cb.mu.Unlock()

	if cb.opts.dropCallback != nil {
		for _, item := range removed {
			cb.opts.dropCallback(item)
		}
	}
	return len(removed)
}

// Stats returns buffer statistics.
func (cb *circularBuffer[T]) Stats() *Statistics {
	return cb.stats
}

// Close marks the buffer closed, wakes all waiters and unregisters metrics.
func (cb *circularBuffer[T]) Close() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.closed {
		return nil
	}
	cb.closed = true

	cb.notEmpty.Broadcast()
	cb.notFull.Broadcast()

	if cb.metrics != nil {
		cb.metrics.unregister()
	}
	return nil
}
