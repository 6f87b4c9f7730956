package eventbridge

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/rtcbridge/metric"
)

const metricsService = "eventbridge"

// Drop reasons reported on events_dropped_total
const (
	ReasonBackpressure = "backpressure"
	ReasonSendError    = "send_error"
	ReasonEncodeError  = "encode_error"
)

// Metrics holds Prometheus metrics for the event publisher
type Metrics struct {
	received   prometheus.Counter
	filtered   prometheus.Counter
	published  prometheus.Counter
	dropped    *prometheus.CounterVec
	drained    prometheus.Counter
	queueDepth prometheus.Gauge
}

// newMetrics creates and registers publisher metrics. A nil registry means
// no metrics.
func newMetrics(registry *metric.MetricsRegistry) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &Metrics{
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rtcbridge",
			Subsystem: "events",
			Name:      "received_total",
			Help:      "Events fired by the host while the publisher was running",
		}),
		filtered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rtcbridge",
			Subsystem: "events",
			Name:      "filtered_total",
			Help:      "Events discarded by the category mask before queueing",
		}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rtcbridge",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Events handed to the fabric",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rtcbridge",
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Events dropped after dequeue, by reason",
		}, []string{"reason"}),
		drained: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rtcbridge",
			Subsystem: "events",
			Name:      "drained_total",
			Help:      "Queued events released without publishing during shutdown",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rtcbridge",
			Subsystem: "events",
			Name:      "queue_depth",
			Help:      "Events waiting to be published",
		}),
	}

	register := []func() error{
		func() error { return registry.RegisterCounter(metricsService, "received", m.received) },
		func() error { return registry.RegisterCounter(metricsService, "filtered", m.filtered) },
		func() error { return registry.RegisterCounter(metricsService, "published", m.published) },
		func() error { return registry.RegisterCounterVec(metricsService, "dropped", m.dropped) },
		func() error { return registry.RegisterCounter(metricsService, "drained", m.drained) },
		func() error { return registry.RegisterGauge(metricsService, "queue_depth", m.queueDepth) },
	}
	for _, fn := range register {
		if err := fn(); err != nil {
			registry.UnregisterService(metricsService)
			return nil, err
		}
	}

	// Pre-create the reason series so dashboards see zeroes.
	for _, reason := range []string{ReasonBackpressure, ReasonSendError, ReasonEncodeError} {
		m.dropped.WithLabelValues(reason)
	}

	return m, nil
}
