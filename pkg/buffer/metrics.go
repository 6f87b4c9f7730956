package buffer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/rtcbridge/metric"
)

type bufferMetrics struct {
	registry   *metric.MetricsRegistry
	prefix     string
	registered []string

	writes    prometheus.Counter
	reads     prometheus.Counter
	overflows prometheus.Counter
	drops     prometheus.Counter
	grows     prometheus.Counter

	size        prometheus.Gauge
	utilization prometheus.Gauge
}

var bufferMetricNames = []string{
	"buffer_writes", "buffer_reads", "buffer_overflows", "buffer_drops",
	"buffer_grows", "buffer_size", "buffer_utilization",
}

func newBufferMetrics(registry *metric.MetricsRegistry, prefix string) (*bufferMetrics, error) {
	labels := prometheus.Labels{"component": prefix}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "rtcbridge",
			Subsystem:   "buffer",
			Name:        name,
			ConstLabels: labels,
			Help:        help,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "rtcbridge",
			Subsystem:   "buffer",
			Name:        name,
			ConstLabels: labels,
			Help:        help,
		})
	}

	m := &bufferMetrics{
		registry:    registry,
		prefix:      prefix,
		writes:      counter("writes_total", "Total number of buffer write operations"),
		reads:       counter("reads_total", "Total number of buffer read operations"),
		overflows:   counter("overflows_total", "Total number of buffer overflow events"),
		drops:       counter("drops_total", "Total number of items dropped due to overflow"),
		grows:       counter("grows_total", "Total number of times the buffer doubled its capacity"),
		size:        gauge("size", "Current number of items in buffer"),
		utilization: gauge("utilization", "Buffer utilization as a fraction of capacity (0.0 to 1.0)"),
	}

	collectors := []prometheus.Collector{m.writes, m.reads, m.overflows, m.drops, m.grows, m.size, m.utilization}
	for i, c := range collectors {
		var err error
		switch v := c.(type) {
		case prometheus.Gauge:
			err = registry.RegisterGauge(prefix, bufferMetricNames[i], v)
		case prometheus.Counter:
			err = registry.RegisterCounter(prefix, bufferMetricNames[i], v)
		}
		if err != nil {
			m.unregister()
			return nil, err
		}
		m.registered = append(m.registered, bufferMetricNames[i])
	}

	return m, nil
}

func (m *bufferMetrics) unregister() {
	for _, name := range m.registered {
		m.registry.Unregister(m.prefix, name)
	}
	m.registered = nil
}

func (m *bufferMetrics) recordWrite(size, capacity int) {
	m.writes.Inc()
	m.updateSize(size, capacity)
}

func (m *bufferMetrics) recordRead(size, capacity int) {
	m.reads.Inc()
	m.updateSize(size, capacity)
}

func (m *bufferMetrics) recordOverflow() { m.overflows.Inc() }
func (m *bufferMetrics) recordDrop()     { m.drops.Inc() }
func (m *bufferMetrics) recordGrow()     { m.grows.Inc() }

func (m *bufferMetrics) updateSize(size, capacity int) {
	m.size.Set(float64(size))
	m.utilization.Set(float64(size) / float64(capacity))
}
