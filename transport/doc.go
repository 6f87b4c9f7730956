// Package transport serves the request/reply side of the bridge.
//
// A Bridge owns up to two responder endpoints, public and admin. Each runs a
// worker that receives one request, parses it as a JSON object and hands it
// to the RequestHandler together with a fresh Session. The worker then waits
// until the host answers through SendMessage before it receives again, so
// every request gets exactly one reply on the endpoint it arrived on.
//
// Frames that are not a JSON object are answered directly with
//
//	{"janus":"error","error":{"code":498,"reason":"Invalid JSON"}}
//
// where the first key is the configured protocol tag.
//
// A host that never answers does not wedge the endpoint: after ReplyTimeout
// the session is abandoned and a late SendMessage fails with
// ErrSessionExpired.
//
// NATSEndpoint adapts natsclient.Responder; tests can supply their own
// Endpoint.
package transport
