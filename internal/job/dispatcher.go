package job

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Dispatcher errors.
var (
	// ErrQueueFull is returned by Enqueue when the queue has no free slot.
	ErrQueueFull = errors.New("job: dispatch queue full")
	// ErrDispatcherStopped is returned by Enqueue after Stop.
	ErrDispatcherStopped = errors.New("job: dispatcher stopped")
)

// Processor runs one unit of completion work.
type Processor interface {
	Process(ctx context.Context, jobID string) (string, error)
}

// Dispatcher is a bounded queue of job ids drained by a fixed pool of
// goroutines. Enqueue never blocks, so overload shows up as ErrQueueFull and
// in QueueDepth rather than as unbounded goroutines.
type Dispatcher struct {
	proc    Processor
	workers int
	queue   chan string
	logger  *slog.Logger

	mu      sync.Mutex
	queued  map[string]struct{}
	started bool
	stopped bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewDispatcher creates a Dispatcher with the given pool and queue sizes.
// Values below 1 are raised to 1.
func NewDispatcher(proc Processor, workers, queueSize int, logger *slog.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		proc:    proc,
		workers: workers,
		queue:   make(chan string, queueSize),
		logger:  logger,
		queued:  make(map[string]struct{}),
	}
}

// Start launches the worker goroutines. Work runs under a context derived
// from ctx with cancellation removed; only Stop aborts it.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.stopped {
		return
	}
	d.started = true
	d.ctx, d.cancel = context.WithCancel(context.WithoutCancel(ctx))

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.loop(i)
	}

	d.logger.Info("dispatcher started",
		"workers", d.workers,
		"queue_size", cap(d.queue),
	)
}

// Enqueue schedules jobID without blocking. A job id that is waiting in the
// queue or being processed is not added again.
func (d *Dispatcher) Enqueue(jobID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return ErrDispatcherStopped
	}
	if _, ok := d.queued[jobID]; ok {
		d.logger.Debug("job already queued", "job_id", jobID)
		return nil
	}

	select {
	case d.queue <- jobID:
		d.queued[jobID] = struct{}{}
		return nil
	default:
		d.logger.Warn("dispatch queue full, dropping job",
			"job_id", jobID,
			"queue_depth", len(d.queue),
		)
		return ErrQueueFull
	}
}

// QueueDepth returns the number of jobs waiting for a worker.
func (d *Dispatcher) QueueDepth() int {
	return len(d.queue)
}

// Stop refuses new work and waits for queued and running jobs to finish.
// If ctx ends first, running jobs are cancelled and ctx's error is returned.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	started := d.started
	close(d.queue)
	d.mu.Unlock()

	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		d.logger.Info("dispatcher stopped")
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		d.logger.Warn("dispatcher stop deadline exceeded, running jobs cancelled")
		return ctx.Err()
	}
}

func (d *Dispatcher) loop(worker int) {
	defer d.wg.Done()

	for jobID := range d.queue {
		d.run(worker, jobID)

		d.mu.Lock()
		delete(d.queued, jobID)
		d.mu.Unlock()
	}
}

// run absorbs every error: a failed job stays uncached and is retried on the
// next resolution.
func (d *Dispatcher) run(worker int, jobID string) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("completion panicked",
				"job_id", jobID,
				"worker", worker,
				"panic", rec,
			)
		}
	}()

	url, err := d.proc.Process(d.ctx, jobID)
	switch {
	case err == nil:
		d.logger.Info("background completion succeeded",
			"job_id", jobID,
			"worker", worker,
			"cached_url", url,
		)
	case errors.Is(err, ErrAlreadyInFlight):
		d.logger.Debug("background completion skipped", "job_id", jobID, "worker", worker)
	default:
		d.logger.Error("background completion failed",
			"job_id", jobID,
			"worker", worker,
			"error", err,
		)
	}
}
