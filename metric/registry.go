package metric

import (
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/c360/rtcbridge/errors"
)

// MetricsRegistrar defines the interface for registering component metrics
type MetricsRegistrar interface {
	RegisterCounter(serviceName, metricName string, counter prometheus.Counter) error
	RegisterGauge(serviceName, metricName string, gauge prometheus.Gauge) error
	RegisterHistogram(serviceName, metricName string, histogram prometheus.Histogram) error
	RegisterCounterVec(serviceName, metricName string, counterVec *prometheus.CounterVec) error
	RegisterGaugeVec(serviceName, metricName string, gaugeVec *prometheus.GaugeVec) error
	Unregister(serviceName, metricName string) bool
}

// metricKey scopes a metric name to the service that registered it
type metricKey struct {
	service string
	name    string
}

func (k metricKey) String() string { return k.service + "." + k.name }

// MetricsRegistry owns a private Prometheus registry holding the core bridge
// metrics, Go runtime collectors and whatever components register under
// their service name.
type MetricsRegistry struct {
	prometheusRegistry *prometheus.Registry
	Metrics            *Metrics

	mu    sync.RWMutex
	owned map[metricKey]prometheus.Collector
}

var _ MetricsRegistrar = (*MetricsRegistry)(nil)

// NewMetricsRegistry creates a registry with the core metrics registered
func NewMetricsRegistry() *MetricsRegistry {
	r := &MetricsRegistry{
		prometheusRegistry: prometheus.NewRegistry(),
		Metrics:            NewMetrics(),
		owned:              make(map[metricKey]prometheus.Collector),
	}
	r.prometheusRegistry.MustRegister(r.Metrics.collectors()...)
	r.prometheusRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// PrometheusRegistry exposes the underlying registry for the HTTP handler
func (r *MetricsRegistry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// CoreMetrics returns the metrics every bridge records
func (r *MetricsRegistry) CoreMetrics() *Metrics {
	return r.Metrics
}

func (r *MetricsRegistry) RegisterCounter(serviceName, metricName string, c prometheus.Counter) error {
	return r.register("RegisterCounter", metricKey{serviceName, metricName}, c)
}

func (r *MetricsRegistry) RegisterGauge(serviceName, metricName string, g prometheus.Gauge) error {
	return r.register("RegisterGauge", metricKey{serviceName, metricName}, g)
}

func (r *MetricsRegistry) RegisterHistogram(serviceName, metricName string, h prometheus.Histogram) error {
	return r.register("RegisterHistogram", metricKey{serviceName, metricName}, h)
}

func (r *MetricsRegistry) RegisterCounterVec(serviceName, metricName string, v *prometheus.CounterVec) error {
	return r.register("RegisterCounterVec", metricKey{serviceName, metricName}, v)
}

func (r *MetricsRegistry) RegisterGaugeVec(serviceName, metricName string, v *prometheus.GaugeVec) error {
	return r.register("RegisterGaugeVec", metricKey{serviceName, metricName}, v)
}

// register fails with an invalid error when the key is taken or Prometheus
// already holds an identical descriptor
func (r *MetricsRegistry) register(method string, key metricKey, collector prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.owned[key]; taken {
		return errors.WrapInvalid(fmt.Errorf("metric %s already registered", key),
			"MetricsRegistry", method, "duplicate metric registration")
	}

	err := r.prometheusRegistry.Register(collector)
	var conflict prometheus.AlreadyRegisteredError
	switch {
	case err == nil:
		r.owned[key] = collector
		return nil
	case stderrors.As(err, &conflict):
		return errors.WrapInvalid(err, "MetricsRegistry", method,
			fmt.Sprintf("prometheus conflict for metric %s", key.name))
	default:
		return errors.WrapFatal(err, "MetricsRegistry", method, "register with prometheus")
	}
}

// Unregister removes one metric and reports whether it was present
func (r *MetricsRegistry) Unregister(serviceName, metricName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unregisterLocked(metricKey{serviceName, metricName})
}

// UnregisterService removes every metric registered under serviceName.
// Components call it on stop so a re-initialized bridge can register again.
func (r *MetricsRegistry) UnregisterService(serviceName string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key := range r.owned {
		if key.service == serviceName && r.unregisterLocked(key) {
			removed++
		}
	}
	return removed
}

func (r *MetricsRegistry) unregisterLocked(key metricKey) bool {
	collector, ok := r.owned[key]
	if !ok || !r.prometheusRegistry.Unregister(collector) {
		return false
	}
	delete(r.owned, key)
	return true
}
