// Package worker provides a bounded worker pool with graceful, bounded shutdown.
package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Pool runs processor over submitted items on a fixed number of goroutines.
// A pool with one worker processes items strictly in submission order.
type Pool[T any] struct {
	workers   int
	queueSize int
	processor func(context.Context, T) error
	abandon   func(T)
	gauge     prometheus.Gauge

	workChan chan T
	wg       sync.WaitGroup
	cancel   context.CancelFunc

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool

	submitted int64
	processed int64
	failed    int64
	dropped   int64
	abandoned int64
}

type Option[T any] func(*Pool[T])

// WithAbandonHandler is called for every item that was queued or in a cancelled
// worker when Stop ran out of time.
func WithAbandonHandler[T any](fn func(T)) Option[T] {
	return func(p *Pool[T]) { p.abandon = fn }
}

// WithQueueGauge tracks queued items on g. Several pools may share one gauge.
func WithQueueGauge[T any](g prometheus.Gauge) Option[T] {
	return func(p *Pool[T]) { p.gauge = g }
}

func NewPool[T any](workers, queueSize int, processor func(context.Context, T) error, opts ...Option[T]) *Pool[T] {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	if processor == nil {
		panic(ErrNilProcessor)
	}

	p := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		processor: processor,
		workChan:  make(chan T, queueSize),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the workers. Items are processed with a context derived from
// ctx that is cancelled when Stop gives up waiting.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}
	if p.stopped {
		return ErrPoolStopped
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(runCtx)
	}
	p.started = true
	return nil
}

// Submit enqueues work without blocking.
func (p *Pool[T]) Submit(work T) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.workChan <- work:
		atomic.AddInt64(&p.submitted, 1)
		if p.gauge != nil {
			p.gauge.Inc()
		}
		return nil
	default:
		atomic.AddInt64(&p.dropped, 1)
		return ErrQueueFull
	}
}

// Stop refuses new work and waits up to grace for queued and running items.
// After grace the run context is cancelled, remaining items go to the abandon
// handler and ErrStopTimeout is returned.
func (p *Pool[T]) Stop(grace time.Duration) error {
	p.lifecycleMu.Lock()
	if !p.started || p.stopped {
		p.stopped = true
		p.lifecycleMu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.workChan)
	p.lifecycleMu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(grace)
	defer timer.Stop()

	timedOut := false
	select {
	case <-done:
	case <-timer.C:
		timedOut = true
	}

	p.cancel()
	<-done
	// Workers stop early when the parent context ends, so leftovers are
	// possible even without a timeout.
	for work := range p.workChan {
		p.dequeued()
		p.drop(work)
	}
	if timedOut {
		return ErrStopTimeout
	}
	return nil
}

func (p *Pool[T]) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case work, ok := <-p.workChan:
			if !ok {
				return
			}
			p.dequeued()
			if ctx.Err() != nil {
				p.drop(work)
				return
			}
			if err := p.processor(ctx, work); err != nil {
				atomic.AddInt64(&p.failed, 1)
			}
			atomic.AddInt64(&p.processed, 1)
		}
	}
}

func (p *Pool[T]) dequeued() {
	if p.gauge != nil {
		p.gauge.Dec()
	}
}

func (p *Pool[T]) drop(work T) {
	atomic.AddInt64(&p.abandoned, 1)
	if p.abandon != nil {
		p.abandon(work)
	}
}

// Stats returns current pool statistics.
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: len(p.workChan),
		Submitted:  atomic.LoadInt64(&p.submitted),
		Processed:  atomic.LoadInt64(&p.processed),
		Failed:     atomic.LoadInt64(&p.failed),
		Dropped:    atomic.LoadInt64(&p.dropped),
		Abandoned:  atomic.LoadInt64(&p.abandoned),
	}
}

type PoolStats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
	Abandoned  int64 `json:"abandoned"`
}
