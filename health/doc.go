// Package health models the health of the bridge for status queries.
//
// A Status is healthy, degraded, unhealthy or disabled. Component health
// reported by the publisher and the request bridge is converted with
// FromComponentHealth, and Aggregate folds the parts into one status for the
// whole bridge: any unhealthy part makes it unhealthy, any degraded part
// degraded. Parts switched off by configuration are disabled and do not
// count against the aggregate.
//
// Monitor keeps the current parts. The fabric connection pushes its state
// with Update from the connection callbacks; components are registered with
// Track and polled when the aggregate is built.
//
// Error text copied into a Status is sanitized: URLs, file paths, IP
// addresses, ports and credentials are replaced with placeholders.
package health
