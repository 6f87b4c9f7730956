// Package eventbridge republishes gateway events on a NATS subject.
//
// The host calls Publisher.OnHostEvent from any goroutine. Events whose
// category is not in the configured mask are discarded right there; the
// rest go into an unbounded FIFO queue that a single worker drains. The
// worker serializes each event to compact JSON and hands it to
// Sender.TryPublish, which never waits: when the connection cannot take
// more bytes the event is dropped with a warning. Events are telemetry, so
// nothing is retried or re-queued.
//
// Stop joins the worker and releases whatever is still queued without
// publishing it.
//
// # Metrics
//
// With a metric.MetricsRegistry the publisher exports
// rtcbridge_events_received_total, rtcbridge_events_filtered_total,
// rtcbridge_events_published_total, rtcbridge_events_dropped_total{reason},
// rtcbridge_events_drained_total and rtcbridge_events_queue_depth.
package eventbridge
