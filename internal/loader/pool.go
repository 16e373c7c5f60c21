package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrPoolStopped is returned when submitting to a stopped pool
var ErrPoolStopped = errors.New("worker pool is stopped")

// job is one unit of work run by a worker
type job func()

// WorkerPool runs submitted jobs on a fixed number of goroutines.
type WorkerPool struct {
	// jobs is the buffered channel workers consume from
	jobs chan job

	// workerCount is the number of concurrent workers to start
	workerCount int

	// wg tracks active worker goroutines for clean shutdown
	wg sync.WaitGroup

	// ctx is used for cancellation and shutdown signaling
	ctx context.Context

	// cancel is the function to call to cancel the context
	cancel context.CancelFunc

	// logger for structured logging
	logger *slog.Logger

	// submitMu lets Stop wait out in-flight submissions before draining
	submitMu sync.RWMutex

	startOnce sync.Once
	stopOnce  sync.Once
}

// WorkerPoolConfig holds configuration options for the worker pool
type WorkerPoolConfig struct {
	// WorkerCount determines how many concurrent worker goroutines to start
	// If zero or negative, defaults to 1
	WorkerCount int

	// QueueSize is the job buffer; if zero or negative, defaults to WorkerCount
	QueueSize int
}

// DefaultWorkerPoolConfig returns a WorkerPoolConfig with reasonable defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		WorkerCount: 4,
		QueueSize:   64,
	}
}

// NewWorkerPool creates a new worker pool with the specified configuration
func NewWorkerPool(config WorkerPoolConfig, logger *slog.Logger) *WorkerPool {
	// Apply defaults for invalid config values
	workerCount := config.WorkerCount
	if workerCount <= 0 {
		workerCount = 1
		logger.Warn("invalid worker count specified, using default",
			"specified_count", config.WorkerCount,
			"default_count", 1)
	}
	queueSize := config.QueueSize
	if queueSize <= 0 {
		queueSize = workerCount
	}

	// Create a cancelable context for shutdown coordination
	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		jobs:        make(chan job, queueSize),
		workerCount: workerCount,
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger,
	}
}

// Start launches the workers. Calling Start more than once has no effect.
func (p *WorkerPool) Start() {
	p.startOnce.Do(func() {
		p.logger.Info("starting worker pool", "worker_count", p.workerCount)
		for i := 0; i < p.workerCount; i++ {
			p.wg.Add(1)
			go p.worker(i)
		}
	})
}

// Stop signals the workers to exit and waits for running jobs to finish.
// Jobs already accepted by Submit are run before Stop returns.
func (p *WorkerPool) Stop() {
	p.stopOnce.Do(func() {
		p.logger.Info("stopping worker pool")
		p.cancel()

		p.submitMu.Lock()
		defer p.submitMu.Unlock()
		p.wg.Wait()

		drained := 0
		for {
			select {
			case fn := <-p.jobs:
				p.run(p.logger, fn)
				drained++
			default:
				p.logger.Info("worker pool stopped", "drained_jobs", drained)
				return
			}
		}
	})
}

// Submit queues fn, blocking while the buffer is full. It fails if ctx is
// done or the pool is stopped first.
func (p *WorkerPool) Submit(ctx context.Context, fn func()) error {
	p.submitMu.RLock()
	defer p.submitMu.RUnlock()

	if p.ctx.Err() != nil {
		return ErrPoolStopped
	}

	select {
	case p.jobs <- fn:
		return nil
	case <-p.ctx.Done():
		return ErrPoolStopped
	case <-ctx.Done():
		return fmt.Errorf("submit cancelled: %w", ctx.Err())
	}
}

// Size returns the number of workers
func (p *WorkerPool) Size() int {
	return p.workerCount
}

// worker processes jobs until the pool context is cancelled
func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	logger := p.logger.With("worker_id", id)
	logger.Debug("worker started")

	for {
		select {
		case <-p.ctx.Done():
			logger.Debug("worker stopping due to context cancellation")
			return
		case fn := <-p.jobs:
			p.run(logger, fn)
		}
	}
}

// run executes one job, containing any panic it raises
func (p *WorkerPool) run(logger *slog.Logger, fn job) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("job panicked", "panic", rec)
		}
	}()
	fn()
}
