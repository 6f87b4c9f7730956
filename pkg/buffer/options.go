package buffer

import (
	"github.com/c360/rtcbridge/metric"
)

// Option configures a buffer at construction.
type Option[T any] func(*bufferOptions[T])

type metricsTarget struct {
	registry *metric.MetricsRegistry
	label    string
}

type bufferOptions[T any] struct {
	overflowPolicy OverflowPolicy
	dropCallback   DropCallback[T]
	export         *metricsTarget
}

func defaultOptions[T any]() *bufferOptions[T] {
	return &bufferOptions[T]{overflowPolicy: DropOldest}
}

// WithOverflowPolicy selects what a full buffer does with a new item.
// DropOldest is used when unset.
func WithOverflowPolicy[T any](policy OverflowPolicy) Option[T] {
	return func(o *bufferOptions[T]) { o.overflowPolicy = policy }
}

// WithMetrics exports the buffer's counters under the given component label.
// A nil registry or empty label leaves the buffer unexported.
func WithMetrics[T any](registry *metric.MetricsRegistry, label string) Option[T] {
	return func(o *bufferOptions[T]) {
		if registry == nil || label == "" {
			o.export = nil
			return
		}
		o.export = &metricsTarget{registry: registry, label: label}
	}
}

// WithDropCallback is invoked for every item discarded before a read.
func WithDropCallback[T any](callback DropCallback[T]) Option[T] {
	return func(o *bufferOptions[T]) { o.dropCallback = callback }
}

func applyOptions[T any](options ...Option[T]) *bufferOptions[T] {
	o := defaultOptions[T]()
	for _, apply := range options {
		if apply == nil {
			continue
		}
		apply(o)
	}
	return o
}
