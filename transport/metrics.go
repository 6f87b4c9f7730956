package transport

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/rtcbridge/metric"
)

const metricsService = "transport"

// Metrics holds Prometheus metrics for the request bridge, labelled by role
type Metrics struct {
	received      *prometheus.CounterVec
	invalid       *prometheus.CounterVec
	replies       *prometheus.CounterVec
	replyErrors   *prometheus.CounterVec
	abandoned     *prometheus.CounterVec
	receiveErrors *prometheus.CounterVec
}

func newMetrics(registry *metric.MetricsRegistry) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	counter := func(name, help string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rtcbridge",
			Name:      name,
			Help:      help,
		}, []string{"role"})
	}

	m := &Metrics{
		received:      counter("requests_received_total", "Request frames received"),
		invalid:       counter("requests_invalid_total", "Request frames that were not a JSON object"),
		replies:       counter("replies_sent_total", "Replies written to the fabric"),
		replyErrors:   counter("reply_errors_total", "Replies that failed to serialize or send"),
		abandoned:     counter("requests_abandoned_total", "Requests the host did not answer in time"),
		receiveErrors: counter("receive_errors_total", "Receive failures other than timeouts"),
	}

	vecs := []struct {
		name string
		vec  *prometheus.CounterVec
	}{
		{"received", m.received},
		{"invalid", m.invalid},
		{"replies", m.replies},
		{"reply_errors", m.replyErrors},
		{"abandoned", m.abandoned},
		{"receive_errors", m.receiveErrors},
	}
	for _, v := range vecs {
		if err := registry.RegisterCounterVec(metricsService, v.name, v.vec); err != nil {
			registry.UnregisterService(metricsService)
			return nil, err
		}
		for _, role := range []Role{Public, Admin} {
			v.vec.WithLabelValues(role.String())
		}
	}

	return m, nil
}
