package natsclient

import (
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// OnHealthChange replaces the health callback
func (c *Client) OnHealthChange(fn func(bool)) {
	c.mu.Lock()
	c.callbacks.OnHealthChange = fn
	c.mu.Unlock()
}

func (c *Client) currentCallbacks() Callbacks {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.callbacks
}

func (c *Client) handleDisconnect(_ *nats.Conn, err error) {
	c.setStatus(StatusReconnecting)
	c.logger.Warn("Disconnected from NATS", "error", err)

	cb := c.currentCallbacks()
	if cb.OnDisconnect != nil {
		go cb.OnDisconnect(err)
	}
	if cb.OnHealthChange != nil {
		go cb.OnHealthChange(false)
	}
}

func (c *Client) handleReconnect(_ *nats.Conn) {
	c.setStatus(StatusConnected)
	c.resetCircuit()
	c.reconnects.Add(1)
	if c.metrics != nil {
		c.metrics.RecordNATSReconnect()
	}
	c.logger.Info("Reconnected to NATS", "url", c.url)

	cb := c.currentCallbacks()
	if cb.OnReconnect != nil {
		go cb.OnReconnect()
	}
	if cb.OnHealthChange != nil {
		go cb.OnHealthChange(true)
	}
}

func (c *Client) handleClosed(_ *nats.Conn) {
	c.setStatus(StatusDisconnected)
	if fn := c.currentCallbacks().OnHealthChange; fn != nil {
		go fn(false)
	}
}

func (c *Client) handleError(_ *nats.Conn, sub *nats.Subscription, err error) {
	if sub != nil {
		c.logger.Error("NATS subscription error", "subject", sub.Subject, "error", err)
		return
	}
	c.logger.Error("NATS error", "error", err)
}

// healthSampler periodically checks the connection with an RTT probe and
// reports transitions the connection handlers would miss, such as a stalled
// server that never drops the socket.
type healthSampler struct {
	interval time.Duration

	mu   sync.Mutex
	done chan struct{}
}

func (h *healthSampler) start(c *Client) {
	if h.interval <= 0 {
		return
	}
	h.stop()

	h.mu.Lock()
	done := make(chan struct{})
	h.done = done
	h.mu.Unlock()

	go h.run(c, done)
}

func (h *healthSampler) stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done != nil {
		close(h.done)
		h.done = nil
	}
}

func (h *healthSampler) run(c *Client, done <-chan struct{}) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	wasHealthy := c.IsHealthy()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		}

		conn := c.GetConnection()
		if conn == nil {
			continue
		}

		healthy := conn.IsConnected()
		if rtt, err := conn.RTT(); err != nil {
			healthy = false
		} else if c.metrics != nil {
			c.metrics.RecordNATSRTT(rtt)
		}

		switch status := c.Status(); {
		case healthy && status != StatusConnected:
			c.setStatus(StatusConnected)
		case !healthy && status == StatusConnected:
			c.setStatus(StatusReconnecting)
		}

		if healthy != wasHealthy {
			if fn := c.currentCallbacks().OnHealthChange; fn != nil {
				fn(healthy)
			}
		}
		wasHealthy = healthy
	}
}
