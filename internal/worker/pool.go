// Package worker runs background jobs on a fixed number of goroutines fed by a
// bounded queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/spherical/paper-whisperer/internal/observability"
)

var (
	ErrQueueFull  = errors.New("worker queue is full")
	ErrPoolClosed = errors.New("worker pool is closed")
)

// Job is one unit of background work.
type Job struct {
	ID  string
	Run func(ctx context.Context) error
}

// Pool consumes jobs with a fixed set of workers.
type Pool struct {
	queue   chan Job
	workers int
	logger  *observability.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewPool starts workers goroutines reading from a queue of queueSize jobs.
func NewPool(workers, queueSize int, logger *observability.Logger) *Pool {
	if workers <= 0 {
		workers = 2
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	if logger == nil {
		logger = observability.Nop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		queue:   make(chan Job, queueSize),
		workers: workers,
		logger:  logger.WithComponent("worker"),
		ctx:     ctx,
		cancel:  cancel,
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.work(i)
	}
	return p
}

// Submit enqueues job without blocking.
func (p *Pool) Submit(job Job) error {
	if job.Run == nil {
		return fmt.Errorf("job %s has no Run func", job.ID)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.queue <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Pending returns the number of queued jobs not yet picked up.
func (p *Pool) Pending() int {
	return len(p.queue)
}

// Shutdown stops accepting jobs and waits for queued and running jobs to
// finish. If ctx expires first the job context is cancelled and ctx.Err() is
// returned once the workers have exited.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}

func (p *Pool) work(n int) {
	defer p.wg.Done()
	for job := range p.queue {
		p.run(n, job)
	}
}

func (p *Pool) run(n int, job Job) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Str("job_id", job.ID).
				Int("worker", n).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("job panicked")
		}
	}()

	if err := job.Run(p.ctx); err != nil {
		p.logger.Warn().
			Err(err).
			Str("job_id", job.ID).
			Int("worker", n).
			Dur("duration", time.Since(start)).
			Msg("job failed")
		return
	}
	p.logger.Debug().
		Str("job_id", job.ID).
		Int("worker", n).
		Dur("duration", time.Since(start)).
		Msg("job finished")
}
