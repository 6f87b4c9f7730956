package natsclient

import (
	"sync/atomic"
	"time"
)

const initialBackoff = time.Second

// breaker counts failed dials. Every threshold failures in a row the backoff
// doubles, capped at maxBackoff, and the circuit opens for that long.
type breaker struct {
	threshold  int32
	maxBackoff time.Duration

	total       atomic.Int32
	streak      atomic.Int32
	backoff     atomic.Int64 // time.Duration
	lastFailure atomic.Int64 // unix nanos, zero when none
}

func (b *breaker) init() {
	b.threshold = 5
	b.maxBackoff = time.Minute
	b.backoff.Store(int64(initialBackoff))
}

func (b *breaker) lastFailureTime() time.Time {
	ns := b.lastFailure.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Failures returns the number of failed dials since the last success
func (c *Client) Failures() int32 {
	return c.breaker.total.Load()
}

// Backoff returns how long the circuit stays open the next time it opens
func (c *Client) Backoff() time.Duration {
	return time.Duration(c.breaker.backoff.Load())
}

// recordFailure counts a failed dial and opens the circuit once the streak
// reaches the threshold
func (c *Client) recordFailure() {
	b := &c.breaker
	total := b.total.Add(1)
	b.lastFailure.Store(time.Now().UnixNano())
	streak := b.streak.Add(1)

	c.logger.Debug("Recorded connection failure", "failures", total, "circuit_failures", streak)

	if streak < b.threshold {
		return
	}

	wait := c.Backoff()
	b.backoff.Store(int64(min(wait*2, b.maxBackoff)))
	b.streak.Store(0)

	prev := c.Status()
	if prev == StatusCircuitOpen {
		c.logger.Warn("Circuit breaker still open", "backoff", c.Backoff())
		return
	}
	// Only the goroutine that wins the transition schedules the probe.
	if c.status.CompareAndSwap(prev, StatusCircuitOpen) {
		c.logger.Warn("Circuit breaker opened", "failures", streak, "backoff", wait)
		time.AfterFunc(wait, c.testCircuit)
	}
}

func (c *Client) resetCircuit() {
	b := &c.breaker
	b.total.Store(0)
	b.streak.Store(0)
	b.backoff.Store(int64(initialBackoff))
	b.lastFailure.Store(0)

	if c.Status() == StatusCircuitOpen {
		c.setStatus(StatusDisconnected)
	}
}

// testCircuit half-opens the circuit so the next Connect may dial again
func (c *Client) testCircuit() {
	if c.status.CompareAndSwap(StatusCircuitOpen, StatusDisconnected) {
		c.logger.Debug("Circuit breaker half-open, next connect attempt allowed")
	}
}
