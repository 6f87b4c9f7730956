// Package natsclient manages the one NATS connection shared by every bridge
// role, with circuit breaker protection around connection attempts.
//
// The package gives the bridges the three fabric primitives they need:
//
//   - TryPublish: a non-blocking publish that reports ErrWouldBlock once the
//     bytes buffered for the server reach the configured high-water mark or
//     the reconnect buffer is full. The event publisher drops on it.
//   - Responder.Receive: a timed wait for the next request on a synchronous
//     subscription. Timeouts come back as ErrReceiveTimeout so worker loops
//     can poll their stop flag.
//   - Responder.Respond: publishes a reply to the request's inbox and flushes,
//     so the caller knows the reply left the process before it accepts the
//     next request.
//
// # Usage
//
//	client, err := natsclient.NewClient("nats://127.0.0.1:4222",
//	    natsclient.WithName("rtcbridge"),
//	    natsclient.WithHighWaterMark(1<<20),
//	    natsclient.WithDrainTimeout(0),
//	    natsclient.WithLogger(logger),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
//	responder, err := client.BindResponder("rtc.api", "")
//	if err != nil {
//	    return err
//	}
//	msg, err := responder.Receive(time.Second)
//
// # Circuit Breaker
//
// After five consecutive failed connection attempts (configurable with
// WithCircuitBreaker) the circuit opens and Connect fails fast with
// ErrCircuitOpen. After the backoff period the circuit half-opens and the
// next Connect is attempted. Backoff doubles each round up to the configured ceiling.
//
// # Closing
//
// Close unsubscribes every responder that is still bound, then closes the
// connection. A zero drain timeout discards anything still pending, which is
// what the bridge wants on shutdown; a positive value drains first.
//
// # Testing
//
// NewTestClient starts a NATS server in a container with testcontainers-go
// and returns a connected Client. NewPeer opens a plain second connection to
// play the remote requester or subscriber.
package natsclient
