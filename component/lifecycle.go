package component

import (
	"sync"
	"sync/atomic"
	"time"
)

// State represents the lifecycle state of a bridge component
type State int32

const (
	// StateUninitialized is the state before the first start
	StateUninitialized State = iota
	// StateRunning indicates workers are serving
	StateRunning
	// StateStopping indicates a stop was requested and workers are being joined
	StateStopping
	// StateStopped indicates all resources were released; a new start is allowed
	StateStopped
)

// String returns a string representation of the state
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Lifecycle holds a component state in a single atomic value. Transitions
// follow Uninitialized → Running → Stopping → Stopped, and Stopped → Running
// for a restart.
type Lifecycle struct {
	state atomic.Int32
}

// State returns the current state
func (l *Lifecycle) State() State {
	return State(l.state.Load())
}

// IsRunning reports whether the component is in StateRunning
func (l *Lifecycle) IsRunning() bool {
	return l.State() == StateRunning
}

// Start moves an uninitialized or stopped component to running. It returns
// false, leaving the state untouched, from any other state.
func (l *Lifecycle) Start() bool {
	return l.state.CompareAndSwap(int32(StateUninitialized), int32(StateRunning)) ||
		l.state.CompareAndSwap(int32(StateStopped), int32(StateRunning))
}

// BeginStop moves a running component to stopping. Only the caller that gets
// true performs the stop.
func (l *Lifecycle) BeginStop() bool {
	return l.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))
}

// Finish marks the component stopped
func (l *Lifecycle) Finish() {
	l.state.Store(int32(StateStopped))
}

// LifecycleComponent is a bridge component the controller can stop and
// report on. Components are started by their own constructors' Start methods
// since each needs different fabric resources.
//
// Stopping is split in two so a controller can signal every component
// before waiting on any of them: BeginStop only signals and returns at once,
// FinishStop joins workers and releases resources. Stop does both.
type LifecycleComponent interface {
	Discoverable
	BeginStop() bool
	FinishStop(timeout time.Duration) error
	Stop(timeout time.Duration) error
}

// Join waits for wg up to timeout and reports whether every worker exited.
// Workers that are already done count as joined even with no time left.
func Join(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(max(timeout, 0))
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
	}
	select {
	case <-done:
		return true
	default:
		return false
	}
}
