// Package natsclient manages the shared NATS connection used by every bridge
// role, with a circuit breaker around connection attempts.
package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/rtcbridge/errors"
	"github.com/c360/rtcbridge/metric"
)

// ConnectionStatus represents the state of the NATS connection
type ConnectionStatus int

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusCircuitOpen
)

var statusNames = [...]string{
	StatusDisconnected: "disconnected",
	StatusConnecting:   "connecting",
	StatusConnected:    "connected",
	StatusReconnecting: "reconnecting",
	StatusCircuitOpen:  "circuit_open",
}

func (s ConnectionStatus) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "unknown"
	}
	return statusNames[s]
}

var (
	ErrNotConnected = stderrors.New("not connected to NATS")
	ErrCircuitOpen  = stderrors.New("circuit breaker is open")

	// ErrWouldBlock reports that a non-blocking publish could not be queued
	// because the outbound buffer is at its high-water mark.
	ErrWouldBlock = stderrors.New("publish would block")
)

// Status is a point-in-time snapshot of the client
type Status struct {
	Status          ConnectionStatus
	FailureCount    int32
	LastFailureTime time.Time
	Reconnects      int32
	RTT             time.Duration
	Buffered        int
}

// settings are fixed once NewClient returns
type settings struct {
	name          string
	maxReconnects int
	reconnectWait time.Duration
	pingInterval  time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration
	flushTimeout  time.Duration
	highWaterMark int

	tlsEnabled bool
	certFile   string
	keyFile    string
	caFile     string
}

func defaultSettings() settings {
	return settings{
		maxReconnects: -1,
		reconnectWait: 2 * time.Second,
		pingInterval:  30 * time.Second,
		timeout:       5 * time.Second,
		drainTimeout:  30 * time.Second,
		flushTimeout:  5 * time.Second,
		highWaterMark: DefaultHighWaterMark,
	}
}

// Client owns the single NATS connection shared by the event publisher and
// the request endpoints. It outlives every endpoint bound through it.
type Client struct {
	url      string
	settings settings
	auth     Auth // cleared on Close
	logger   *slog.Logger
	metrics  *metric.Metrics

	status     atomic.Value // ConnectionStatus
	breaker    breaker
	reconnects atomic.Int32

	mu         sync.RWMutex
	conn       *nats.Conn
	responders map[*Responder]struct{}
	callbacks  Callbacks
	sampler    *healthSampler

	closeMu sync.Mutex
	closed  atomic.Bool
}

// NewClient creates a disconnected client. Options are validated here so a
// bad configuration surfaces before any dial.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:        url,
		settings:   defaultSettings(),
		logger:     slog.Default().With("component", "natsclient"),
		responders: make(map[*Responder]struct{}),
	}
	c.breaker.init()
	c.sampler = &healthSampler{interval: 10 * time.Second}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}
	c.status.Store(StatusDisconnected)

	c.logger.Debug("Created NATS client", "url", url)
	return c, nil
}

// URL returns the server URL the client dials
func (c *Client) URL() string { return c.url }

// Status returns the current connection status
func (c *Client) Status() ConnectionStatus {
	if s, ok := c.status.Load().(ConnectionStatus); ok {
		return s
	}
	return StatusDisconnected
}

// IsHealthy reports whether the connection is up
func (c *Client) IsHealthy() bool { return c.Status() == StatusConnected }

// HighWaterMark returns the outbound buffer limit used by TryPublish
func (c *Client) HighWaterMark() int { return c.settings.highWaterMark }

// GetConnection returns the underlying connection, nil before Connect and
// after Close
func (c *Client) GetConnection() *nats.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

func (c *Client) setStatus(status ConnectionStatus) {
	c.status.Store(status)
	if c.metrics != nil {
		c.metrics.RecordNATSStatus(status == StatusConnected)
	}
}

// GetStatus returns a snapshot including RTT and buffered bytes when
// connected
func (c *Client) GetStatus() *Status {
	s := &Status{
		Status:          c.Status(),
		FailureCount:    c.Failures(),
		LastFailureTime: c.breaker.lastFailureTime(),
		Reconnects:      c.reconnects.Load(),
	}

	if conn := c.GetConnection(); conn != nil && conn.IsConnected() {
		if rtt, err := conn.RTT(); err == nil {
			s.RTT = rtt
		}
		if buffered, err := conn.Buffered(); err == nil {
			s.Buffered = buffered
		}
	}
	return s
}

// WaitForConnection polls until the client is connected or ctx is done
func (c *Client) WaitForConnection(ctx context.Context) error {
	poll := time.NewTicker(10 * time.Millisecond)
	defer poll.Stop()

	for !c.IsHealthy() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("connection timeout: %w", ctx.Err())
		case <-poll.C:
		}
	}
	return nil
}

// ConnectionOptions builds the nats.Option list for a dial
func (c *Client) ConnectionOptions() []nats.Option {
	s := c.settings
	opts := []nats.Option{
		nats.MaxReconnects(s.maxReconnects),
		nats.ReconnectWait(s.reconnectWait),
		nats.PingInterval(s.pingInterval),
		nats.Timeout(s.timeout),
		nats.DisconnectErrHandler(c.handleDisconnect),
		nats.ReconnectHandler(c.handleReconnect),
		nats.ClosedHandler(c.handleClosed),
		nats.ErrorHandler(c.handleError),
	}

	if s.drainTimeout > 0 {
		opts = append(opts, nats.DrainTimeout(s.drainTimeout))
	}

	switch {
	case c.auth.Token != "":
		opts = append(opts, nats.Token(c.auth.Token))
	case c.auth.Username != "" && c.auth.Password != "":
		opts = append(opts, nats.UserInfo(c.auth.Username, c.auth.Password))
	}

	if s.tlsEnabled {
		if s.certFile != "" {
			opts = append(opts, nats.ClientCert(s.certFile, s.keyFile))
		}
		if s.caFile != "" {
			opts = append(opts, nats.RootCAs(s.caFile))
		}
	}
	if s.name != "" {
		opts = append(opts, nats.Name(s.name))
	}
	return opts
}

// Connect dials the server once. Retrying is up to the caller; repeated
// failures open the circuit and Connect then fails fast with ErrCircuitOpen
// until the backoff elapses.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return errors.WrapFatal(errors.ErrAlreadyStopped, "Client", "Connect", "client closed")
	}
	if c.Status() == StatusCircuitOpen {
		c.logger.Debug("Circuit breaker is open, skipping connection attempt")
		return ErrCircuitOpen
	}

	c.setStatus(StatusConnecting)
	c.logger.Info("Connecting to NATS", "url", c.url)

	type dialResult struct {
		conn *nats.Conn
		err  error
	}
	dialed := make(chan dialResult, 1)
	opts := c.ConnectionOptions()
	go func() {
		conn, err := nats.Connect(c.url, opts...)
		dialed <- dialResult{conn, err}
	}()

	var res dialResult
	select {
	case res = <-dialed:
	case <-ctx.Done():
		c.failConnect()
		go func() {
			// The dial may still succeed after we gave up on it.
			if late := <-dialed; late.err == nil {
				late.conn.Close()
			}
		}()
		return errors.WrapTransient(ctx.Err(), "Client", "Connect", "connection cancelled")
	}

	if res.err != nil {
		if c.failConnect() {
			return ErrCircuitOpen
		}
		return errors.WrapTransient(res.err, "Client", "Connect", "establish connection")
	}

	c.mu.Lock()
	c.conn = res.conn
	onHealth := c.callbacks.OnHealthChange
	c.mu.Unlock()

	c.setStatus(StatusConnected)
	c.resetCircuit()
	c.logger.Info("Connected to NATS", "url", c.url)

	c.sampler.start(c)
	if onHealth != nil {
		onHealth(true)
	}
	return nil
}

// failConnect records a failed dial and reports whether the circuit is now open
func (c *Client) failConnect() bool {
	c.recordFailure()
	if c.Status() == StatusCircuitOpen {
		return true
	}
	c.setStatus(StatusDisconnected)
	return false
}

// Close unsubscribes every open responder and closes the connection. With a
// positive drain timeout, pending messages are drained first; with zero the
// connection is closed immediately and pending messages are discarded.
func (c *Client) Close(ctx context.Context) error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.sampler.stop()

	c.mu.Lock()
	open := make([]*Responder, 0, len(c.responders))
	for r := range c.responders {
		open = append(open, r)
	}
	c.mu.Unlock()

	var errs []error
	for _, r := range open {
		if err := r.Close(); err != nil {
			errs = append(errs, errors.Wrap(err, "Client", "Close", "unsubscribe responder"))
		}
	}

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.auth = Auth{}
	c.mu.Unlock()

	if conn != nil {
		if c.settings.drainTimeout > 0 && conn.IsConnected() {
			if err := c.drain(ctx, conn); err != nil {
				errs = append(errs, err)
			}
		}
		conn.Close()
	}

	c.setStatus(StatusDisconnected)
	return stderrors.Join(errs...)
}

// drain flushes pending messages, bounded by the drain timeout and ctx
func (c *Client) drain(ctx context.Context, conn *nats.Conn) error {
	limit := c.settings.drainTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 && remaining < limit {
			limit = remaining
		}
	}

	done := make(chan error, 1)
	go func() { done <- conn.Drain() }()

	timer := time.NewTimer(limit)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			c.logger.Error("Drain failed", "error", err)
			return errors.Wrap(err, "Client", "Close", "drain connection")
		}
		return nil
	case <-timer.C:
		c.logger.Error("Drain timed out, force closing", "timeout", limit)
		return errors.WrapTransient(fmt.Errorf("drain timeout after %v", limit),
			"Client", "Close", "drain timeout")
	case <-ctx.Done():
		c.logger.Error("Context cancelled during drain, force closing")
		return errors.Wrap(ctx.Err(), "Client", "Close", "context cancelled during drain")
	}
}
