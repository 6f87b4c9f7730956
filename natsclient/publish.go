package natsclient

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/nats-io/nats.go"
)

// RTT measures the round trip to the server
func (c *Client) RTT() (time.Duration, error) {
	conn := c.GetConnection()
	if conn == nil || !conn.IsConnected() {
		return 0, ErrNotConnected
	}
	return conn.RTT()
}

// Publish sends data on subject and requires a live connection
func (c *Client) Publish(_ context.Context, subject string, data []byte) error {
	conn := c.GetConnection()
	if conn == nil || !conn.IsConnected() {
		return ErrNotConnected
	}
	return conn.Publish(subject, data)
}

// TryPublish queues data on subject without waiting. It returns ErrWouldBlock
// when the bytes already buffered for the server reach the high-water mark or
// when the reconnect buffer is full. While reconnecting, messages go to the
// reconnect buffer as usual.
func (c *Client) TryPublish(subject string, data []byte) error {
	conn := c.GetConnection()
	if conn == nil || conn.IsClosed() {
		return ErrNotConnected
	}

	if hwm := c.settings.highWaterMark; hwm > 0 {
		buffered, err := conn.Buffered()
		if err != nil {
			return ErrNotConnected
		}
		if buffered >= hwm {
			return ErrWouldBlock
		}
	}

	err := conn.Publish(subject, data)
	switch {
	case err == nil:
		return nil
	case stderrors.Is(err, nats.ErrReconnectBufExceeded):
		return ErrWouldBlock
	case stderrors.Is(err, nats.ErrConnectionClosed):
		return ErrNotConnected
	default:
		return err
	}
}
