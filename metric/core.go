package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rtcbridge"

// Metrics holds the bridge-wide series: lifecycle and the shared NATS
// connection. Per-component series are registered by the components.
type Metrics struct {
	BridgeState    *prometheus.GaugeVec
	Inits          *prometheus.CounterVec
	NATSConnected  prometheus.Gauge
	NATSReconnects prometheus.Counter
	NATSRTT        prometheus.Gauge
}

// NewMetrics creates the core bridge metrics
func NewMetrics() *Metrics {
	return &Metrics{
		BridgeState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "lifecycle", Name: "state",
			Help: "Lifecycle state per bridge (0=uninitialized, 1=running, 2=stopping, 3=stopped)",
		}, []string{"bridge"}),
		Inits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "lifecycle", Name: "inits_total",
			Help: "Initialization attempts by result",
		}, []string{"result"}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "nats", Name: "connected",
			Help: "1 while the shared NATS connection is up",
		}),
		NATSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "nats", Name: "reconnects_total",
			Help: "Reconnections of the shared NATS connection",
		}),
		NATSRTT: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "nats", Name: "rtt_milliseconds",
			Help: "Last measured round-trip time to the NATS server",
		}),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{c.BridgeState, c.Inits, c.NATSConnected, c.NATSReconnects, c.NATSRTT}
}

// RecordBridgeState updates the lifecycle state gauge
func (c *Metrics) RecordBridgeState(bridge string, state int) {
	c.BridgeState.WithLabelValues(bridge).Set(float64(state))
}

// RecordInit counts an initialization attempt as "ok" or "failed"
func (c *Metrics) RecordInit(err error) {
	result := "ok"
	if err != nil {
		result = "failed"
	}
	c.Inits.WithLabelValues(result).Inc()
}

// RecordNATSStatus updates NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	if connected {
		c.NATSConnected.Set(1)
		return
	}
	c.NATSConnected.Set(0)
}

// RecordNATSReconnect increments the reconnection counter
func (c *Metrics) RecordNATSReconnect() {
	c.NATSReconnects.Inc()
}

// RecordNATSRTT stores a round-trip measurement
func (c *Metrics) RecordNATSRTT(rtt time.Duration) {
	c.NATSRTT.Set(float64(rtt.Microseconds()) / 1000.0)
}
