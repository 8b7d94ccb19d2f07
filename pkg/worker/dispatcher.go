package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/go-logr/logr"
)

var (
	ErrQueueFull = errors.New("job queue is full")
	ErrStopped   = errors.New("dispatcher is stopped")
)

// Dispatcher manages a pool of workers and a job queue
type Dispatcher struct {
	jobQueue   chan Job
	workerPool chan chan Job
	workers    []*Worker
	maxWorkers int
	stop       chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
	logger     logr.Logger
}

// NewDispatcher creates a new Dispatcher with specified number of workers and queue size
func NewDispatcher(maxWorkers, queueSize int, logger logr.Logger) *Dispatcher {
	return &Dispatcher{
		jobQueue:   make(chan Job, queueSize),
		workerPool: make(chan chan Job, maxWorkers),
		maxWorkers: maxWorkers,
		stop:       make(chan struct{}),
		logger:     logger,
	}
}

// Start initializes and starts the worker pool. Workers stop when ctx is
// cancelled or Stop is called.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.maxWorkers; i++ {
		worker := NewWorker(i, d.workerPool, d.logger)
		d.workers = append(d.workers, worker)
		worker.Start(ctx, &d.wg)
	}

	d.wg.Add(1)
	go d.dispatch(ctx)
}

// dispatch distributes jobs to available workers
func (d *Dispatcher) dispatch(ctx context.Context) {
	defer d.wg.Done()

	for {
		select {
		case job := <-d.jobQueue:
			// Get an available worker
			var workerJobQueue chan Job
			select {
			case workerJobQueue = <-d.workerPool:
			case <-d.stop:
				return
			case <-ctx.Done():
				return
			}
			select {
			case workerJobQueue <- job:
			case <-d.stop:
				return
			case <-ctx.Done():
				return
			}
		case <-d.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Submit adds a job to the job queue without blocking.
func (d *Dispatcher) Submit(job Job) error {
	select {
	case <-d.stop:
		return ErrStopped
	default:
	}

	select {
	case d.jobQueue <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop shuts down the dispatcher and waits for running jobs to finish.
// Jobs still queued are dropped.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.stop)
		for _, worker := range d.workers {
			worker.Stop()
		}
		d.wg.Wait()
		if n := len(d.jobQueue); n > 0 {
			d.logger.Info("Dropped queued jobs on shutdown", "jobs", n)
		}
	})
}
