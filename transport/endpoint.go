package transport

import (
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/rtcbridge/natsclient"
)

// Frame is one inbound request. Token carries whatever the endpoint needs to
// route the reply back to the requester.
type Frame struct {
	Data  []byte
	Token any
}

// Endpoint is a responder socket: it yields one request at a time and takes
// exactly one reply for it. Receive and Reply are called by the endpoint's
// worker and by SendMessage; Close is called after the worker is joined.
//
// Receive returns natsclient.ErrReceiveTimeout when nothing arrived,
// natsclient.ErrInterrupted for a wait that should simply be retried, and
// natsclient.ErrResponderClosed once the endpoint can no longer serve.
type Endpoint interface {
	Address() string
	Receive(timeout time.Duration) (*Frame, error)
	Reply(frame *Frame, data []byte) error
	Close() error
}

// NATSEndpoint adapts a natsclient.Responder to Endpoint
type NATSEndpoint struct {
	responder *natsclient.Responder
}

var _ Endpoint = (*NATSEndpoint)(nil)

// NewNATSEndpoint wraps a bound responder
func NewNATSEndpoint(responder *natsclient.Responder) *NATSEndpoint {
	return &NATSEndpoint{responder: responder}
}

// Address returns the request subject
func (e *NATSEndpoint) Address() string {
	return e.responder.Subject()
}

// Receive waits for the next request. Messages published without a reply
// inbox cannot be answered and are reported as natsclient.ErrNoReplySubject.
func (e *NATSEndpoint) Receive(timeout time.Duration) (*Frame, error) {
	msg, err := e.responder.Receive(timeout)
	if err != nil {
		return nil, err
	}
	if msg.Reply == "" {
		return nil, natsclient.ErrNoReplySubject
	}
	return &Frame{Data: msg.Data, Token: msg}, nil
}

// Reply publishes data to the frame's reply inbox and flushes
func (e *NATSEndpoint) Reply(frame *Frame, data []byte) error {
	msg, _ := frame.Token.(*nats.Msg)
	return e.responder.Respond(msg, data)
}

// Close unsubscribes the responder
func (e *NATSEndpoint) Close() error {
	return e.responder.Close()
}

// endpoint is one bound role with its worker. The socket is touched by its
// worker, or by Stop once the worker has exited. A worker that outlives the
// stop timeout is handed the close instead.
type endpoint struct {
	role   Role
	socket Endpoint

	mu       sync.Mutex
	exited   bool
	orphaned bool
}

// workerExited marks the worker gone and reports whether it must close the
// socket itself
func (ep *endpoint) workerExited() bool {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.exited = true
	return ep.orphaned
}

// release reports whether the caller may close the socket now. Otherwise the
// still running worker closes it on exit.
func (ep *endpoint) release() bool {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	if ep.exited {
		return true
	}
	ep.orphaned = true
	return false
}
