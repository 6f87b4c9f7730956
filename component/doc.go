// Package component holds the lifecycle and self-description contracts shared
// by the bridge's long-running parts.
//
// Lifecycle is a four-state machine in a single atomic value:
//
//	Uninitialized → Running → Stopping → Stopped → Running ...
//
// Hot paths read it without locks. Only the caller whose BeginStop succeeds
// performs the stop, so concurrent or repeated stops are no-ops.
//
// Discoverable components report Metadata and a HealthStatus that the health
// package turns into status documents.
package component
