// Package errors provides standardized error handling for the rtcbridge components.
//
// # Overview
//
// Errors fall into three classes that map onto the bridge's failure taxonomy:
//
//   - Fatal: startup could not complete (fabric connect, endpoint bind, worker start).
//     Initialization aborts and nothing is left running.
//   - Transient: runtime send or receive failures and timeouts. The worker logs,
//     drops the affected frame and keeps serving.
//   - Invalid: malformed inbound documents or bad configuration values.
//
// Backpressure on the event path is reported with ErrBackpressure, which is
// transient but never retried: events are best-effort telemetry.
//
// # Usage
//
// Wrap third-party errors with component context:
//
//	if err := sub.Unsubscribe(); err != nil {
//	    return errors.Wrap(err, "Bridge", "Stop", "close endpoint")
//	}
//
// Classify startup failures so the controller can report them:
//
//	if err := client.Connect(ctx); err != nil {
//	    return errors.WrapFatal(err, "Controller", "Init", "connect fabric")
//	}
//
// The package name shadows the standard library; import the standard package
// as stderrors when both are needed.
package errors
