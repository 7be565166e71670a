// Package worker runs background jobs on a fixed number of goroutines fed by a
// bounded queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"
)

// Common errors returned by the queue.
var (
	ErrQueueClosed = errors.New("job queue is closed")
	ErrQueueFull   = errors.New("job queue is full")
)

// Job is a unit of background work.
type Job interface {
	ID() string
	Execute(ctx context.Context) error
}

// JobFunc adapts a function to the Job interface.
type JobFunc struct {
	JobID string
	Fn    func(ctx context.Context) error
}

// ID implements Job.
func (j JobFunc) ID() string { return j.JobID }

// Execute implements Job.
func (j JobFunc) Execute(ctx context.Context) error { return j.Fn(ctx) }

// Config holds pool sizing.
type Config struct {
	// Workers is the number of concurrent goroutines. Defaults to 1.
	Workers int
	// QueueSize is the number of jobs that may wait. Defaults to Workers.
	QueueSize int
}

// Pool consumes jobs from its queue until Stop is called.
type Pool struct {
	jobs    chan Job
	workers int

	mu      sync.RWMutex
	closed  bool
	started bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger

	// errorHandler is called when a job returns an error or panics.
	errorHandler func(job Job, err error)
}

// NewPool creates a stopped pool.
func NewPool(cfg Config, logger *zap.Logger) *Pool {
	workers := cfg.Workers
	if workers <= 0 {
		logger.Warn("invalid worker count specified, using default", zap.Int("specified_count", cfg.Workers))
		workers = 1
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = workers
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		jobs:    make(chan Job, size),
		workers: workers,
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger.Named("worker_pool"),
	}
}

// SetErrorHandler installs a callback for failed jobs.
func (p *Pool) SetErrorHandler(handler func(job Job, err error)) {
	p.errorHandler = handler
}

// Start launches the worker goroutines. Calling it twice is a no-op.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
	p.logger.Info("worker pool started", zap.Int("workers", p.workers), zap.Int("queue_capacity", cap(p.jobs)))
}

// Submit enqueues job without blocking.
func (p *Pool) Submit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrQueueClosed
	}
	select {
	case p.jobs <- job:
		p.logger.Debug("job enqueued", zap.String("job_id", job.ID()), zap.Int("queue_len", len(p.jobs)))
		return nil
	default:
		return fmt.Errorf("%w: queue capacity %d reached", ErrQueueFull, cap(p.jobs))
	}
}

// Stop closes the queue and waits for queued jobs to drain. When ctx expires first the
// running jobs are cancelled and ctx.Err() is returned once they exit.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
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
		p.logger.Info("worker pool stopped")
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}

func (p *Pool) run(id int) {
	defer p.wg.Done()
	for job := range p.jobs {
		if err := p.execute(job); err != nil {
			p.logger.Error("job failed", zap.Int("worker", id), zap.String("job_id", job.ID()), zap.Error(err))
			if p.errorHandler != nil {
				p.errorHandler(job, err)
			}
		}
	}
}

func (p *Pool) execute(job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("job panicked", zap.String("job_id", job.ID()), zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return job.Execute(p.ctx)
}
