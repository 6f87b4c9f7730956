// Package buffer provides a generic, thread-safe FIFO buffer with configurable
// overflow policies, timed reads and always-on statistics.
//
// # Usage
//
// The event publisher uses an unbounded buffer as its queue. Producers on
// host threads call Write, which never blocks with the Grow policy; a single
// worker drains with ReadWithTimeout so it observes a stop request within one
// poll interval:
//
//	queue, err := buffer.NewCircularBuffer[*event.Record](256,
//		buffer.WithOverflowPolicy[*event.Record](buffer.Grow),
//		buffer.WithMetrics[*event.Record](registry, "event_queue"),
//		buffer.WithDropCallback[*event.Record](release),
//	)
//
//	for running() {
//		rec, ok := queue.ReadWithTimeout(time.Second)
//		if !ok {
//			continue
//		}
//		publish(rec)
//	}
//
// On shutdown, Clear hands every item still queued to the drop callback and
// returns how many there were, then Close wakes any waiting reader.
//
// # Overflow Policies
//
//   - DropOldest: remove the oldest item to make room (default)
//   - DropNewest: discard the incoming item
//   - Block: Write waits for space; WriteWithContext bounds the wait
//   - Grow: double the capacity
//
// DropOldest and DropNewest pass the discarded item to the drop callback.
//
// # Observability
//
// Statistics are collected for every buffer and exposed through Stats().
// WithMetrics additionally exports them as Prometheus counters and gauges
// labelled with the given component prefix; Close unregisters them so a
// buffer with the same prefix can be created again.
package buffer
