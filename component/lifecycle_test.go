package component

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLifecycle_Transitions(t *testing.T) {
	var l Lifecycle
	assert.Equal(t, StateUninitialized, l.State())
	assert.False(t, l.BeginStop(), "cannot stop before start")

	assert.True(t, l.Start())
	assert.True(t, l.IsRunning())
	assert.False(t, l.Start(), "already running")

	assert.True(t, l.BeginStop())
	assert.Equal(t, StateStopping, l.State())
	assert.False(t, l.Start(), "cannot start while stopping")
	assert.False(t, l.BeginStop())

	l.Finish()
	assert.Equal(t, StateStopped, l.State())
	assert.True(t, l.Start(), "restart after stop")
}

func TestLifecycle_SingleStopper(t *testing.T) {
	var l Lifecycle
	l.Start()

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.BeginStop() {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "uninitialized", StateUninitialized.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "stopping", StateStopping.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "unknown", State(42).String())
}
