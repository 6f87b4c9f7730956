package buffer

import (
	"context"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/c360/rtcbridge/errors"
	"github.com/c360/rtcbridge/metric"
)

func newBuffer[T any](t *testing.T, capacity int, options ...Option[T]) Buffer[T] {
	t.Helper()
	buf, err := NewCircularBuffer[T](capacity, options...)
	require.NoError(t, err, "Failed to create buffer")
	t.Cleanup(func() { _ = buf.Close() })
	return buf
}

func TestCircularBufferBasicOperations(t *testing.T) {
	buf := newBuffer[string](t, 3)

	assert.True(t, buf.IsEmpty())
	assert.Equal(t, 3, buf.Capacity())

	require.NoError(t, buf.Write("first"))
	require.NoError(t, buf.Write("second"))
	require.NoError(t, buf.Write("third"))
	assert.True(t, buf.IsFull())
	assert.Equal(t, 3, buf.Size())

	value, ok := buf.Read()
	require.True(t, ok)
	assert.Equal(t, "first", value)

	batch := buf.ReadBatch(5)
	assert.Equal(t, []string{"second", "third"}, batch)
	assert.True(t, buf.IsEmpty())

	_, ok = buf.Read()
	assert.False(t, ok)
	assert.Nil(t, buf.ReadBatch(0))
}

func TestCircularBufferOverflowPolicies(t *testing.T) {
	testCases := []struct {
		name     string
		policy   OverflowPolicy
		expected []int
		dropped  []int
	}{
		{"DropOldest", DropOldest, []int{3, 4, 5}, []int{1, 2}},
		{"DropNewest", DropNewest, []int{1, 2, 3}, []int{4, 5}},
		{"Grow", Grow, []int{1, 2, 3, 4, 5}, nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var dropped []int
			buf := newBuffer[int](t, 3,
				WithOverflowPolicy[int](tc.policy),
				WithDropCallback[int](func(item int) { dropped = append(dropped, item) }),
			)

			for i := 1; i <= 5; i++ {
				require.NoError(t, buf.Write(i))
			}

			assert.Equal(t, tc.expected, buf.ReadBatch(10))
			assert.Equal(t, tc.dropped, dropped)
			assert.Equal(t, int64(len(tc.dropped)), buf.Stats().Drops())
		})
	}
}

func TestCircularBufferGrowPreservesOrderAcrossWrap(t *testing.T) {
	buf := newBuffer[int](t, 4, WithOverflowPolicy[int](Grow))

	// Advance tail so the ring wraps before growing.
	for i := 0; i < 3; i++ {
		require.NoError(t, buf.Write(i))
	}
	buf.ReadBatch(2)
	for i := 3; i < 12; i++ {
		require.NoError(t, buf.Write(i))
	}

	assert.Equal(t, 16, buf.Capacity())
	assert.Equal(t, int64(2), buf.Stats().Grows())

	var got []int
	for {
		v, ok := buf.Read()
		if !ok {
			break
		}
		got = append(got, v)
	}
	assert.Equal(t, []int{2, 3, 4, 5, 6, 7, 8, 9, 10, 11}, got)
}

func TestReadWithTimeout(t *testing.T) {
	t.Run("times out on empty buffer", func(t *testing.T) {
		buf := newBuffer[int](t, 2)

		start := time.Now()
		_, ok := buf.ReadWithTimeout(50 * time.Millisecond)
		assert.False(t, ok)
		assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	})

	t.Run("returns immediately when data is queued", func(t *testing.T) {
		buf := newBuffer[int](t, 2)
		require.NoError(t, buf.Write(7))

		v, ok := buf.ReadWithTimeout(time.Second)
		require.True(t, ok)
		assert.Equal(t, 7, v)
	})

	t.Run("wakes on concurrent write", func(t *testing.T) {
		buf := newBuffer[int](t, 2)

		go func() {
			time.Sleep(20 * time.Millisecond)
			_ = buf.Write(9)
		}()

		v, ok := buf.ReadWithTimeout(2 * time.Second)
		require.True(t, ok)
		assert.Equal(t, 9, v)
	})

	t.Run("wakes on close", func(t *testing.T) {
		buf := newBuffer[int](t, 2)

		go func() {
			time.Sleep(20 * time.Millisecond)
			_ = buf.Close()
		}()

		start := time.Now()
		_, ok := buf.ReadWithTimeout(5 * time.Second)
		assert.False(t, ok)
		assert.Less(t, time.Since(start), 2*time.Second)
	})
}

func TestReadWithContextCancel(t *testing.T) {
	buf := newBuffer[int](t, 2)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan bool)
	go func() {
		_, ok := buf.ReadWithContext(ctx)
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("ReadWithContext did not return after cancel")
	}
}

func TestCircularBufferClosedBuffer(t *testing.T) {
	buf := newBuffer[int](t, 2)
	require.NoError(t, buf.Write(1))
	require.NoError(t, buf.Close())
	require.NoError(t, buf.Close(), "close is idempotent")

	err := buf.Write(2)
	require.Error(t, err)
	assert.ErrorIs(t, err, cerrors.ErrAlreadyStopped)
	assert.True(t, cerrors.IsInvalid(err))

	// Items queued before close remain readable.
	v, ok := buf.ReadWithTimeout(time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestCircularBufferClear(t *testing.T) {
	var released []string
	buf := newBuffer[string](t, 2,
		WithOverflowPolicy[string](Grow),
		WithDropCallback[string](func(item string) { released = append(released, item) }),
	)

	for _, s := range []string{"a", "b", "c"} {
		require.NoError(t, buf.Write(s))
	}

	assert.Equal(t, 3, buf.Clear())
	assert.Equal(t, []string{"a", "b", "c"}, released)
	assert.True(t, buf.IsEmpty())
	assert.Equal(t, 0, buf.Clear())
}

func TestBlockingPolicy(t *testing.T) {
	t.Run("unblocks on read", func(t *testing.T) {
		buf := newBuffer[int](t, 1, WithOverflowPolicy[int](Block))
		require.NoError(t, buf.Write(1))

		written := make(chan error, 1)
		go func() { written <- buf.Write(2) }()

		select {
		case <-written:
			t.Fatal("write should block while full")
		case <-time.After(30 * time.Millisecond):
		}

		v, ok := buf.Read()
		require.True(t, ok)
		assert.Equal(t, 1, v)

		select {
		case err := <-written:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("write did not unblock")
		}
	})

	t.Run("context deadline", func(t *testing.T) {
		buf := newBuffer[int](t, 1, WithOverflowPolicy[int](Block))
		require.NoError(t, buf.Write(1))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()
		err := buf.WriteWithContext(ctx, 2)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("close wakes writer", func(t *testing.T) {
		buf := newBuffer[int](t, 1, WithOverflowPolicy[int](Block))
		require.NoError(t, buf.Write(1))

		written := make(chan error, 1)
		go func() { written <- buf.Write(2) }()
		time.Sleep(20 * time.Millisecond)
		require.NoError(t, buf.Close())

		select {
		case err := <-written:
			assert.ErrorIs(t, err, cerrors.ErrAlreadyStopped)
		case <-time.After(2 * time.Second):
			t.Fatal("blocked writer not woken by close")
		}
	})
}

func TestCircularBufferConcurrentProducers(t *testing.T) {
	buf := newBuffer[int](t, 8, WithOverflowPolicy[int](Grow))

	const producers, perProducer = 8, 250
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				_ = buf.Write(p*perProducer + i)
			}
		}(p)
	}

	received := 0
	lastPerProducer := make(map[int]int)
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		for received < producers*perProducer {
			v, ok := buf.ReadWithTimeout(time.Second)
			if !ok {
				return
			}
			p := v / perProducer
			if last, seen := lastPerProducer[p]; seen {
				assert.Greater(t, v, last, "per-producer FIFO order")
			}
			lastPerProducer[p] = v
			received++
		}
	}()

	wg.Wait()
	<-consumerDone
	assert.Equal(t, producers*perProducer, received)
	assert.Equal(t, int64(0), buf.Stats().Drops())
}

func TestCircularBufferMetrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()

	cb, err := NewCircularBuffer[int](2,
		WithOverflowPolicy[int](DropNewest),
		WithMetrics[int](registry, "queue_test"),
	)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, cb.Write(i))
	}

	impl := cb.(*circularBuffer[int])
	assert.Equal(t, 2.0, testutil.ToFloat64(impl.metrics.writes))
	assert.Equal(t, 1.0, testutil.ToFloat64(impl.metrics.drops))
	assert.Equal(t, 1.0, testutil.ToFloat64(impl.metrics.utilization))

	// Same prefix is rejected while the first buffer is open.
	_, err = NewCircularBuffer[int](2, WithMetrics[int](registry, "queue_test"))
	require.Error(t, err)

	require.NoError(t, cb.Close())
	again, err := NewCircularBuffer[int](2, WithMetrics[int](registry, "queue_test"))
	require.NoError(t, err)
	require.NoError(t, again.Close())
}

func TestStatisticsSummary(t *testing.T) {
	buf := newBuffer[int](t, 1, WithOverflowPolicy[int](DropOldest))
	require.NoError(t, buf.Write(1))
	require.NoError(t, buf.Write(2))
	_, _ = buf.Read()

	s := buf.Stats().Summary()
	assert.Equal(t, int64(2), s.Writes)
	assert.Equal(t, int64(1), s.Reads)
	assert.Equal(t, int64(1), s.Drops)
	assert.Equal(t, int64(1), s.MaxSize)
	assert.Equal(t, int64(0), s.CurrentSize)
	assert.InDelta(t, 0.5, s.DropRate, 0.001)

	buf.Stats().Reset()
	assert.Equal(t, int64(0), buf.Stats().Writes())
}

func TestTimedReadsNoGoroutineLeaks(t *testing.T) {
	buf := newBuffer[int](t, 1)
	before := runtime.NumGoroutine()

	for i := 0; i < 50; i++ {
		buf.ReadWithTimeout(time.Millisecond)
	}

	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, runtime.NumGoroutine(), before+2)
}

func TestOverflowPolicyString(t *testing.T) {
	assert.Equal(t, "DropOldest", DropOldest.String())
	assert.Equal(t, "DropNewest", DropNewest.String())
	assert.Equal(t, "Block", Block.String())
	assert.Equal(t, "Grow", Grow.String())
	assert.Equal(t, "Unknown", OverflowPolicy(42).String())
}
