package internal

import (
	"context"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// WorkerPool is the fixed-size goroutine pool every StartWorkflow
// execution, fresh or recovered, is handed off to. Submit blocks the
// caller on the start-rate limiter and, while the job queue (4 × size
// entries) is full, until a worker takes a queued job. Steps and
// transactions run inline on the workflow's own goroutine and never go
// through the pool.
type WorkerPool struct {
	jobs    chan func()
	limiter *rate.Limiter
	wg      sync.WaitGroup
	inFlight *atomic.Int64
	logger  *zap.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// NewWorkerPool starts size worker goroutines, each pulling from a shared
// job channel, rate-limited to startRatePerSecond new submissions/sec
// (burst equal to size so a cold start doesn't stall immediately).
func NewWorkerPool(size int, startRatePerSecond float64, logger *zap.Logger) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	burst := size
	if burst < 1 {
		burst = 1
	}
	p := &WorkerPool{
		jobs:     make(chan func(), size*4),
		limiter:  rate.NewLimiter(rate.Limit(startRatePerSecond), burst),
		inFlight: atomic.NewInt64(0),
		logger:   logger,
		closed:   make(chan struct{}),
	}
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.runWorker()
	}
	return p
}

func (p *WorkerPool) runWorker() {
	defer p.wg.Done()
	for {
		select {
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			p.inFlight.Inc()
			job()
			p.inFlight.Dec()
		case <-p.closed:
			return
		}
	}
}

// Submit blocks until the start-rate limiter admits the job (or ctx is
// done), then hands it to the pool to run asynchronously.
func (p *WorkerPool) Submit(ctx context.Context, job func()) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.closed:
		return context.Canceled
	}
}

// InFlight returns the number of jobs currently executing.
func (p *WorkerPool) InFlight() int64 {
	return p.inFlight.Load()
}

// Shutdown stops accepting new work and waits for in-flight jobs to drain.
func (p *WorkerPool) Shutdown(ctx context.Context) error {
	p.closeOnce.Do(func() { close(p.closed) })

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		if p.logger != nil {
			p.logger.Warn("worker pool shutdown timed out with jobs still in flight", zap.Int64("in_flight", p.inFlight.Load()))
		}
		return ctx.Err()
	}
}
