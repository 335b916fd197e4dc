package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_ProcessesAll(t *testing.T) {
	var sum atomic.Int64
	p := NewPool(4, 100, func(_ context.Context, n int) error {
		sum.Add(int64(n))
		return nil
	})
	require.NoError(t, p.Start(context.Background()))
	for i := 1; i <= 50; i++ {
		require.NoError(t, p.Submit(i))
	}
	require.NoError(t, p.Stop(time.Second))

	assert.Equal(t, int64(1275), sum.Load())
	st := p.Stats()
	assert.Equal(t, int64(50), st.Submitted)
	assert.Equal(t, int64(50), st.Processed)
	assert.Zero(t, st.Abandoned)
}

func TestPool_SingleWorkerKeepsOrder(t *testing.T) {
	var mu sync.Mutex
	var got []int
	p := NewPool(1, 100, func(_ context.Context, n int) error {
		mu.Lock()
		got = append(got, n)
		mu.Unlock()
		return nil
	})
	require.NoError(t, p.Start(context.Background()))
	want := make([]int, 0, 100)
	for i := 0; i < 100; i++ {
		want = append(want, i)
		require.NoError(t, p.Submit(i))
	}
	require.NoError(t, p.Stop(time.Second))
	assert.Equal(t, want, got)
}

func TestPool_Lifecycle(t *testing.T) {
	p := NewPool(1, 1, func(context.Context, int) error { return nil })
	assert.ErrorIs(t, p.Submit(1), ErrPoolNotStarted)
	require.NoError(t, p.Start(context.Background()))
	assert.ErrorIs(t, p.Start(context.Background()), ErrPoolAlreadyStarted)
	require.NoError(t, p.Stop(time.Second))
	assert.ErrorIs(t, p.Submit(1), ErrPoolStopped)
	assert.NoError(t, p.Stop(time.Second))

	assert.Panics(t, func() { NewPool[int](1, 1, nil) })
}

func TestPool_QueueFull(t *testing.T) {
	release := make(chan struct{})
	p := NewPool(1, 1, func(context.Context, int) error {
		<-release
		return nil
	})
	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Submit(1))

	// Wait for the worker to take the first item so the queue slot is free.
	require.Eventually(t, func() bool { return p.Stats().QueueDepth == 0 }, time.Second, time.Millisecond)
	require.NoError(t, p.Submit(2))
	assert.ErrorIs(t, p.Submit(3), ErrQueueFull)
	assert.Equal(t, int64(1), p.Stats().Dropped)

	close(release)
	require.NoError(t, p.Stop(time.Second))
}

func TestPool_StopAbandonsAfterGrace(t *testing.T) {
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_queue"})
	var abandoned []int
	var mu sync.Mutex
	started := make(chan struct{}, 1)

	p := NewPool(1, 10, func(ctx context.Context, n int) error {
		started <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	}, WithAbandonHandler(func(n int) {
		mu.Lock()
		abandoned = append(abandoned, n)
		mu.Unlock()
	}), WithQueueGauge[int](gauge))

	require.NoError(t, p.Start(context.Background()))
	for i := 0; i < 4; i++ {
		require.NoError(t, p.Submit(i))
	}
	<-started

	begin := time.Now()
	err := p.Stop(50 * time.Millisecond)
	assert.ErrorIs(t, err, ErrStopTimeout)
	assert.Less(t, time.Since(begin), time.Second)

	mu.Lock()
	assert.Equal(t, []int{1, 2, 3}, abandoned)
	mu.Unlock()
	assert.Equal(t, 0.0, testutil.ToFloat64(gauge))
	assert.Equal(t, int64(3), p.Stats().Abandoned)
}
