package worker

import (
	"context"
	"sync"

	"github.com/go-logr/logr"
)

// Job represents a job that can be executed by a worker
type Job interface {
	Execute(ctx context.Context) error
}

// JobFunc adapts a function to the Job interface.
type JobFunc func(ctx context.Context) error

func (f JobFunc) Execute(ctx context.Context) error { return f(ctx) }

// Worker represents a worker that executes jobs
type Worker struct {
	id         int
	jobQueue   chan Job
	workerPool chan chan Job
	quit       chan struct{}
	logger     logr.Logger
}

// NewWorker creates a new worker
func NewWorker(id int, workerPool chan chan Job, logger logr.Logger) *Worker {
	return &Worker{
		id:         id,
		jobQueue:   make(chan Job),
		workerPool: workerPool,
		quit:       make(chan struct{}),
		logger:     logger.WithValues("worker", id),
	}
}

// Start begins the worker's processing loop
func (w *Worker) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			// Add the worker's job queue to the pool
			select {
			case w.workerPool <- w.jobQueue:
			case <-w.quit:
				return
			case <-ctx.Done():
				return
			}

			select {
			case job := <-w.jobQueue:
				if err := job.Execute(ctx); err != nil {
					w.logger.Error(err, "Error executing job")
				}
			case <-w.quit:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop signals the worker to stop processing jobs
func (w *Worker) Stop() {
	close(w.quit)
}
