package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/devrenanferrari/genesis/logger"
)

var ErrEngineStopped = errors.New("engine is shut down")

// Job is a unit of work run by one engine worker.
type Job func(ctx context.Context) error

type executionRequest struct {
	ctx        context.Context
	job        Job
	resultChan chan error
	createdAt  time.Time
}

// Engine runs jobs on a fixed pool of workers so that only a bounded number of
// project generations hold a model stream open at once.
type Engine struct {
	logger       logger.Logger
	requests     chan executionRequest
	workers      int
	workerWG     sync.WaitGroup
	shutdownChan chan struct{}
	shutdownOnce sync.Once

	// mu guards stopped. Submit holds the read lock while enqueueing so that
	// stop never misses a job when it drains the queue.
	mu      sync.RWMutex
	stopped bool
}

func NewEngine(workers, queueSize int, l logger.Logger) *Engine {
	if l == nil {
		l = logger.NewNullLogger()
	}
	if workers < 1 {
		workers = 1
	}
	return &Engine{
		logger:       l,
		requests:     make(chan executionRequest, queueSize),
		workers:      workers,
		shutdownChan: make(chan struct{}),
	}
}

// Start launches the workers. When ctx ends the engine stops accepting jobs
// and fails the ones still queued, as Shutdown does.
func (e *Engine) Start(ctx context.Context) {
	for i := 0; i < e.workers; i++ {
		e.workerWG.Add(1)
		go e.worker(ctx)
	}
	go func() {
		select {
		case <-ctx.Done():
			e.logger.Info("Engine context ended, no longer accepting jobs")
			e.stop()
		case <-e.shutdownChan:
		}
	}()
}

func (e *Engine) worker(ctx context.Context) {
	defer e.workerWG.Done()
	for {
		select {
		case req := <-e.requests:
			if err := req.ctx.Err(); err != nil {
				req.resultChan <- err
				close(req.resultChan)
				continue
			}
			e.logger.Debug("Job picked up after " + time.Since(req.createdAt).String())
			req.resultChan <- req.job(req.ctx)
			close(req.resultChan)
		case <-ctx.Done():
			return
		case <-e.shutdownChan:
			return
		}
	}
}

// Submit queues job and returns a channel that receives its result. The job
// runs with ctx; if ctx ends while the job is still queued the result is ctx.Err().
// Once the engine is stopped every result is ErrEngineStopped.
func (e *Engine) Submit(ctx context.Context, job Job) <-chan error {
	resultChan := make(chan error, 1)
	req := executionRequest{
		ctx:        ctx,
		job:        job,
		resultChan: resultChan,
		createdAt:  time.Now(),
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.stopped {
		resultChan <- ErrEngineStopped
		close(resultChan)
		return resultChan
	}

	select {
	case e.requests <- req:
	case <-ctx.Done():
		resultChan <- ctx.Err()
		close(resultChan)
	case <-e.shutdownChan:
		resultChan <- ErrEngineStopped
		close(resultChan)
	}
	return resultChan
}

// stop closes the engine to new jobs and fails every queued one. Workers
// may still pick up queued jobs concurrently; each job is answered once.
func (e *Engine) stop() {
	e.shutdownOnce.Do(func() { close(e.shutdownChan) })
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()
	e.drain()
}

func (e *Engine) Shutdown(timeout time.Duration) {
	e.stop()

	done := make(chan struct{})
	go func() {
		e.workerWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Info("All workers shut down gracefully")
	case <-time.After(timeout):
		e.logger.Warn("Shutdown timed out, some workers may still be running")
	}
	e.drain()
}

// drain fails every job that never reached a worker.
func (e *Engine) drain() {
	for {
		select {
		case req := <-e.requests:
			req.resultChan <- ErrEngineStopped
			close(req.resultChan)
		default:
			return
		}
	}
}
