package natsclient

import (
	stderrors "errors"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/rtcbridge/errors"
)

var (
	// ErrReceiveTimeout is returned by Receive when no request arrived in time.
	ErrReceiveTimeout = stderrors.New("receive timed out")

	// ErrInterrupted is returned by Receive when the wait was cut short
	// without a request, for example after the server reported the
	// subscription as a slow consumer. Callers retry.
	ErrInterrupted = stderrors.New("receive interrupted")

	// ErrResponderClosed is returned once the responder or its connection is closed.
	ErrResponderClosed = stderrors.New("responder closed")

	// ErrNoReplySubject is returned by Respond for a message published
	// without a reply inbox.
	ErrNoReplySubject = stderrors.New("request has no reply subject")
)

// Responder is a synchronous request subscription. One worker goroutine
// calls Receive and Respond in lockstep; Close may be called from any
// goroutine after that worker has been joined.
type Responder struct {
	client  *Client
	conn    *nats.Conn
	sub     *nats.Subscription
	subject string
	queue   string

	closeOnce sync.Once
	closeErr  error
}

// BindResponder subscribes to subject for requests. A non-empty queue group
// lets several bridge processes share the subject.
func (c *Client) BindResponder(subject, queue string) (*Responder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || c.conn.IsClosed() {
		return nil, errors.WrapFatal(ErrNotConnected, "Client", "BindResponder", "bind "+subject)
	}

	var (
		sub *nats.Subscription
		err error
	)
	if queue != "" {
		sub, err = c.conn.QueueSubscribeSync(subject, queue)
	} else {
		sub, err = c.conn.SubscribeSync(subject)
	}
	if err != nil {
		return nil, errors.WrapFatal(stderrors.Join(errors.ErrBindFailed, err),
			"Client", "BindResponder", "subscribe "+subject)
	}

	// Make sure the server knows about the interest before callers announce
	// the endpoint.
	if err := c.conn.FlushTimeout(c.settings.flushTimeout); err != nil {
		_ = sub.Unsubscribe()
		return nil, errors.WrapFatal(stderrors.Join(errors.ErrBindFailed, err),
			"Client", "BindResponder", "flush subscription "+subject)
	}

	r := &Responder{
		client:  c,
		conn:    c.conn,
		sub:     sub,
		subject: subject,
		queue:   queue,
	}
	c.responders[r] = struct{}{}

	c.logger.Debug("Bound responder", "subject", subject, "queue", queue)
	return r, nil
}

// Subject returns the request subject this responder listens on
func (r *Responder) Subject() string {
	return r.subject
}

// Receive waits up to timeout for the next request.
func (r *Responder) Receive(timeout time.Duration) (*nats.Msg, error) {
	msg, err := r.sub.NextMsg(timeout)
	switch {
	case err == nil:
		return msg, nil
	case stderrors.Is(err, nats.ErrTimeout):
		return nil, ErrReceiveTimeout
	case stderrors.Is(err, nats.ErrSlowConsumer):
		return nil, ErrInterrupted
	case stderrors.Is(err, nats.ErrBadSubscription),
		stderrors.Is(err, nats.ErrConnectionClosed):
		return nil, ErrResponderClosed
	default:
		return nil, errors.WrapTransient(err, "Responder", "Receive", "next message")
	}
}

// Respond publishes data to the reply inbox of req and flushes, so it
// returns only once the reply has been written to the server or the flush
// timed out.
func (r *Responder) Respond(req *nats.Msg, data []byte) error {
	if req == nil || req.Reply == "" {
		return ErrNoReplySubject
	}
	if r.conn.IsClosed() {
		return ErrResponderClosed
	}

	if err := r.conn.Publish(req.Reply, data); err != nil {
		return errors.WrapTransient(err, "Responder", "Respond", "publish reply")
	}
	if err := r.conn.FlushTimeout(r.client.settings.flushTimeout); err != nil {
		return errors.WrapTransient(err, "Responder", "Respond", "flush reply")
	}
	return nil
}

// Close unsubscribes without draining; requests not yet received are
// discarded. Safe to call more than once.
func (r *Responder) Close() error {
	r.closeOnce.Do(func() {
		r.client.mu.Lock()
		delete(r.client.responders, r)
		r.client.mu.Unlock()

		if err := r.sub.Unsubscribe(); err != nil &&
			!stderrors.Is(err, nats.ErrConnectionClosed) &&
			!stderrors.Is(err, nats.ErrBadSubscription) {
			r.closeErr = errors.Wrap(err, "Responder", "Close", "unsubscribe "+r.subject)
		}
	})
	return r.closeErr
}
