package metric

import (
	stderrors "errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/rtcbridge/errors"
)

func newCounter(name string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "test",
		Name:      name,
		Help:      "test counter",
	})
}

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()
	require.NotNil(t, registry)
	assert.NotNil(t, registry.PrometheusRegistry())
	assert.Same(t, registry.Metrics, registry.CoreMetrics())
}

func TestMetricsRegistry_RegisterCounter(t *testing.T) {
	registry := NewMetricsRegistry()
	counter := newCounter("events_total")

	require.NoError(t, registry.RegisterCounter("publisher", "events", counter))
	counter.Add(3)

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	var found *dto.MetricFamily
	for _, mf := range families {
		if mf.GetName() == "test_events_total" {
			found = mf
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, 3.0, found.GetMetric()[0].GetCounter().GetValue())
}

func TestMetricsRegistry_PreventDuplicateRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	require.NoError(t, registry.RegisterCounter("svc", "dup", newCounter("dup_total")))
	err := registry.RegisterCounter("svc", "dup", newCounter("dup_other_total"))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	err = registry.RegisterCounter("svc2", "dup", newCounter("dup_total"))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err), "prometheus conflict is invalid, not fatal")
}

func TestMetricsRegistry_Unregister(t *testing.T) {
	registry := NewMetricsRegistry()
	require.NoError(t, registry.RegisterGauge("svc", "depth", prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "test_depth", Help: "depth",
	})))

	assert.True(t, registry.Unregister("svc", "depth"))
	assert.False(t, registry.Unregister("svc", "depth"))

	// Name is free again
	require.NoError(t, registry.RegisterGauge("svc", "depth", prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "test_depth", Help: "depth",
	})))
}

func TestMetricsRegistry_UnregisterService(t *testing.T) {
	registry := NewMetricsRegistry()
	require.NoError(t, registry.RegisterCounter("events", "a", newCounter("a_total")))
	require.NoError(t, registry.RegisterCounter("events", "b", newCounter("b_total")))
	require.NoError(t, registry.RegisterCounter("eventsx", "c", newCounter("c_total")))

	assert.Equal(t, 2, registry.UnregisterService("events"))
	assert.Equal(t, 0, registry.UnregisterService("events"))

	require.NoError(t, registry.RegisterCounter("events", "a", newCounter("a_total")))
}

func TestMetricsRegistry_ThreadSafety(t *testing.T) {
	registry := NewMetricsRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := "c" + string(rune('a'+i))
			_ = registry.RegisterCounter("svc", name, newCounter(name+"_total"))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 20, registry.UnregisterService("svc"))
}

func TestCoreMetrics_RecordMethods(t *testing.T) {
	m := NewMetricsRegistry().CoreMetrics()

	m.RecordBridgeState("events", 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BridgeState.WithLabelValues("events")))

	m.RecordNATSStatus(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NATSConnected))
	m.RecordNATSStatus(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.NATSConnected))

	m.RecordNATSReconnect()
	m.RecordNATSReconnect()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.NATSReconnects))

	m.RecordNATSRTT(1500 * time.Microsecond)
	assert.Equal(t, 1.5, testutil.ToFloat64(m.NATSRTT))

	m.RecordInit(nil)
	m.RecordInit(stderrors.New("bind failed"))
	m.RecordInit(nil)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Inits.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Inits.WithLabelValues("failed")))
}

func TestServer_Handler(t *testing.T) {
	registry := NewMetricsRegistry()
	registry.CoreMetrics().RecordBridgeState("transport", 1)
	server := NewServer(0, "", registry)
	assert.Equal(t, "http://localhost:9090/metrics", server.Address())

	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "rtcbridge_lifecycle_state"))

	health, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestServer_StopWithoutStart(t *testing.T) {
	server := NewServer(0, "", NewMetricsRegistry())
	assert.NoError(t, server.Stop())
}
