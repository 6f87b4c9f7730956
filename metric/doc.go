// Package metric provides the Prometheus registry shared by the bridge
// components and an HTTP server exposing it.
//
// Core metrics (lifecycle state, NATS connection) are registered when the
// registry is created. Components register their own counters through the
// MetricsRegistrar interface under a service name, and remove them with
// UnregisterService when they stop so the bridge can be initialized again in
// the same process.
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(9090, "/metrics", registry)
//	go func() { _ = server.Start() }()
//	defer server.Stop()
package metric
