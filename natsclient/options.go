package natsclient

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/c360/rtcbridge/metric"
)

// DefaultHighWaterMark is the outbound buffer size, in bytes, at which
// TryPublish starts reporting ErrWouldBlock.
const DefaultHighWaterMark = 1 << 20

// ClientOption configures a Client. NewClient fails on the first option
// that returns an error.
type ClientOption func(*Client) error

// Auth holds server credentials. Username/password and token are exclusive.
type Auth struct {
	Username string
	Password string
	Token    string
}

// Callbacks are invoked on connection events. Each runs on its own goroutine.
type Callbacks struct {
	OnDisconnect   func(err error)
	OnReconnect    func()
	OnHealthChange func(healthy bool)
}

// Connection

// WithName sets the client name reported to the server
func WithName(name string) ClientOption {
	return func(c *Client) error {
		c.settings.name = name
		return nil
	}
}

// WithTimeout bounds each dial attempt
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d < 0 {
			return fmt.Errorf("connect timeout must not be negative: %v", d)
		}
		c.settings.timeout = d
		return nil
	}
}

// WithMaxReconnects sets how often a lost connection is redialed, -1 forever
func WithMaxReconnects(max int) ClientOption {
	return func(c *Client) error {
		c.settings.maxReconnects = max
		return nil
	}
}

// WithReconnectWait sets the pause between redials
func WithReconnectWait(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.settings.reconnectWait = d
		return nil
	}
}

// WithAuth sets the server credentials. An empty Auth is a no-op.
func WithAuth(auth Auth) ClientOption {
	return func(c *Client) error {
		if auth.Token != "" && auth.Username != "" {
			return fmt.Errorf("token and username authentication are exclusive")
		}
		if auth.Password != "" && auth.Username == "" {
			return fmt.Errorf("password set without username")
		}
		c.auth = auth
		return nil
	}
}

// WithTLS enables TLS. The CA file verifies the server; cert and key, set
// together, authenticate the client.
func WithTLS(certFile, keyFile, caFile string) ClientOption {
	return func(c *Client) error {
		if (certFile == "") != (keyFile == "") {
			return fmt.Errorf("TLS cert and key must be set together")
		}
		c.settings.certFile = certFile
		c.settings.keyFile = keyFile
		c.settings.caFile = caFile
		c.settings.tlsEnabled = true
		return nil
	}
}

// Resilience

// WithCircuitBreaker sets how many failed connects open the circuit and the
// ceiling for the doubling backoff. Zero values keep the defaults.
func WithCircuitBreaker(threshold int32, maxBackoff time.Duration) ClientOption {
	return func(c *Client) error {
		if threshold < 0 || maxBackoff < 0 {
			return fmt.Errorf("circuit breaker settings must not be negative")
		}
		if threshold > 0 {
			c.breaker.threshold = threshold
		}
		if maxBackoff > 0 {
			c.breaker.maxBackoff = max(maxBackoff, time.Second)
		}
		return nil
	}
}

// WithHealthInterval sets how often connection health is sampled. Zero
// disables sampling.
func WithHealthInterval(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.sampler.interval = d
		return nil
	}
}

// Bridge behavior

// WithHighWaterMark sets the outbound buffer limit for TryPublish, in bytes.
// Zero disables the check so only the reconnect buffer limit applies.
func WithHighWaterMark(bytes int) ClientOption {
	return func(c *Client) error {
		if bytes < 0 {
			return fmt.Errorf("high water mark must not be negative: %d", bytes)
		}
		c.settings.highWaterMark = bytes
		return nil
	}
}

// WithFlushTimeout bounds the flush that follows every responder reply
func WithFlushTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("flush timeout must be positive: %v", d)
		}
		c.settings.flushTimeout = d
		return nil
	}
}

// WithDrainTimeout sets how long Close drains pending messages. Zero closes
// immediately and discards anything still queued.
func WithDrainTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d < 0 {
			return fmt.Errorf("drain timeout must not be negative: %v", d)
		}
		c.settings.drainTimeout = d
		return nil
	}
}

// Observability

// WithLogger sets the client logger
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) error {
		if logger != nil {
			c.logger = logger
		}
		return nil
	}
}

// WithMetrics records connection status, reconnects and RTT in the core
// metrics of registry
func WithMetrics(registry *metric.MetricsRegistry) ClientOption {
	return func(c *Client) error {
		if registry != nil {
			c.metrics = registry.CoreMetrics()
		}
		return nil
	}
}

// WithCallbacks registers connection event callbacks. Nil fields are skipped.
func WithCallbacks(cb Callbacks) ClientOption {
	return func(c *Client) error {
		if cb.OnDisconnect != nil {
			c.callbacks.OnDisconnect = cb.OnDisconnect
		}
		if cb.OnReconnect != nil {
			c.callbacks.OnReconnect = cb.OnReconnect
		}
		if cb.OnHealthChange != nil {
			c.callbacks.OnHealthChange = cb.OnHealthChange
		}
		return nil
	}
}
