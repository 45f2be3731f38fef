// Package worker provides a bounded worker pool for controlled
// concurrency. Uses github.com/gammazero/workerpool to prevent goroutine
// explosion; instantiated once at 5 workers for the payment orchestrator
// and once at 10 for webhook delivery.
package worker

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/gammazero/workerpool"
)

// Pool manages a bounded pool of workers processing opaque jobs.
type Pool struct {
	wp         *workerpool.WorkerPool
	maxWorkers int

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64

	mu      sync.RWMutex
	stopped bool
}

// Config holds worker pool configuration
type Config struct {
	// MaxWorkers is the maximum number of concurrent workers
	MaxWorkers int
}

func DefaultConfig() *Config {
	return &Config{MaxWorkers: 100}
}

// NewPool creates a new bounded worker pool.
func NewPool(cfg *Config) *Pool {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	return &Pool{
		wp:         workerpool.New(cfg.MaxWorkers),
		maxWorkers: cfg.MaxWorkers,
	}
}

// Handler processes one job identified by its opaque job id (a payment
// id or a webhook delivery id). Callers are responsible for
// acking/nacking the underlying queue message, from the callback passed
// to Submit.
type Handler func(ctx context.Context, jobID string) error

// Submit enqueues a job for async processing, respecting ctx
// cancellation. callback receives the handler's error (nil on success).
func (p *Pool) Submit(ctx context.Context, jobID string, handler Handler, callback func(error)) error {
	p.mu.RLock()
	if p.stopped {
		p.mu.RUnlock()
		return ErrPoolStopped
	}
	p.mu.RUnlock()

	p.submitted.Add(1)

	p.wp.Submit(func() {
		if ctx.Err() != nil {
			p.failed.Add(1)
			if callback != nil {
				callback(ctx.Err())
			}
			return
		}

		err := handler(ctx, jobID)
		if err != nil {
			p.failed.Add(1)
		} else {
			p.completed.Add(1)
		}

		if callback != nil {
			callback(err)
		}
	})

	return nil
}

// SubmitWait submits a job and blocks until it completes or ctx is done.
func (p *Pool) SubmitWait(ctx context.Context, jobID string, handler Handler) error {
	var err error
	done := make(chan struct{})

	submitErr := p.Submit(ctx, jobID, handler, func(e error) {
		err = e
		close(done)
	})
	if submitErr != nil {
		return submitErr
	}

	select {
	case <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop gracefully shuts down the pool, waiting for in-flight work.
func (p *Pool) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()

	p.wp.StopWait()
}

// StopNow immediately stops the pool without waiting.
func (p *Pool) StopNow() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()

	p.wp.Stop()
}

// Stats returns current pool statistics
type Stats struct {
	MaxWorkers int   `json:"max_workers"`
	Submitted  int64 `json:"submitted"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Pending    int64 `json:"pending"`
}

func (p *Pool) Stats() Stats {
	submitted := p.submitted.Load()
	completed := p.completed.Load()
	failed := p.failed.Load()

	return Stats{
		MaxWorkers: p.maxWorkers,
		Submitted:  submitted,
		Completed:  completed,
		Failed:     failed,
		Pending:    submitted - completed - failed,
	}
}

var ErrPoolStopped = &PoolError{msg: "worker pool is stopped"}

type PoolError struct {
	msg string
}

func (e *PoolError) Error() string {
	return e.msg
}
