// Package bridge ties the event publisher and the request transport to one
// NATS connection and gives the gateway host a single object to drive.
//
// The host creates a Controller with itself as the Host, calls Init with the
// directory holding rtcbridge.json (or rtcbridge.yaml) and Shutdown when it
// unloads the bridge. Between the two it fires events with OnHostEvent and
// answers requests with SendMessage:
//
//	ctrl := bridge.NewController(host, bridge.WithLogger(logger))
//	if err := ctrl.Init(ctx, "/etc/rtcbridge"); err != nil {
//	    return err
//	}
//	defer ctrl.Shutdown(context.Background())
//
// Init connects first, then starts the publisher, then binds the public and
// admin endpoints. Shutdown releases them in the opposite direction: the
// publisher is joined and its queue drained, the endpoint workers are joined
// and their subscriptions closed, and the connection is closed last. A stopped
// controller can be initialized again.
package bridge
