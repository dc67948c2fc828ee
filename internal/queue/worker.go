package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/good-yellow-bee/hostdeck/internal/metrics"
)

// ErrNoHandler is returned for jobs whose name has no registered handler.
var ErrNoHandler = errors.New("no handler registered")

// ErrTimeout is returned when a handler outlives the job timeout.
var ErrTimeout = errors.New("job timed out")

// Handler processes one job. The context carries the job's timeout.
type Handler func(ctx context.Context, job *Job) error

// WorkerConfig configures a Worker.
type WorkerConfig struct {
	// Queues are polled in order on every pass.
	Queues []string
	// Concurrency is the number of polling goroutines (default: 1).
	Concurrency int
	// PollInterval is the sleep between empty passes (default: 1s).
	PollInterval time.Duration
	// DefaultTimeout applies to payloads without a timeout (default: 60s).
	DefaultTimeout time.Duration
}

// Worker leases jobs and dispatches them to handlers by job name.
type Worker struct {
	queue    *Queue
	cfg      WorkerConfig
	handlers map[string]Handler
	mu       sync.RWMutex
}

// NewWorker creates a worker for q.
func NewWorker(q *Queue, cfg WorkerConfig) *Worker {
	if len(cfg.Queues) == 0 {
		cfg.Queues = []string{"default"}
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 60 * time.Second
	}
	return &Worker{
		queue:    q,
		cfg:      cfg,
		handlers: make(map[string]Handler),
	}
}

// Handle registers h for jobs named name.
func (w *Worker) Handle(name string, h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[name] = h
}

func (w *Worker) handler(name string) (Handler, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	h, ok := w.handlers[name]
	return h, ok
}

// Run polls until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	log.Printf("queue worker started: %d goroutines on %v", w.cfg.Concurrency, w.cfg.Queues)

	g, gCtx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Concurrency; i++ {
		g.Go(func() error {
			for {
				worked := false
				for _, name := range w.cfg.Queues {
					if gCtx.Err() != nil {
						return nil
					}
					ok, err := w.RunOnce(gCtx, name)
					if err != nil {
						log.Printf("error: queue %s: %v", name, err)
					}
					worked = worked || ok
				}
				if worked {
					continue
				}
				select {
				case <-gCtx.Done():
					return nil
				case <-time.After(w.cfg.PollInterval):
				}
			}
		})
	}

	err := g.Wait()
	log.Printf("queue worker stopped")
	return err
}

// RunOnce leases and processes at most one job from the named queue. It
// reports whether a job was processed.
func (w *Worker) RunOnce(ctx context.Context, queueName string) (bool, error) {
	job, err := w.queue.Lease(ctx, queueName)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	return true, w.process(ctx, job)
}

func (w *Worker) process(ctx context.Context, job *Job) error {
	name := job.DisplayName

	if job.Attempts > job.MaxTries() {
		cause := fmt.Errorf("%s has been attempted too many times or run too long", name)
		return w.fail(ctx, job, cause)
	}

	h, ok := w.handler(job.Body.Job)
	if !ok {
		return w.fail(ctx, job, fmt.Errorf("%w: %s", ErrNoHandler, job.Body.Job))
	}

	timeout := job.Body.TimeoutDuration(w.cfg.DefaultTimeout)
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := runHandler(jobCtx, h, job)
	metrics.QueueJobDuration.WithLabelValues(job.Body.Job).Observe(time.Since(start).Seconds())

	if err == nil && errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %v", ErrTimeout, timeout)
	}
	if err != nil {
		// Shutdown: leave the job for the next worker once the reservation expires.
		if ctx.Err() != nil {
			return nil
		}
		log.Printf("warning: job %s (%s) attempt %d failed: %v", job.ID, name, job.Attempts, err)
		return w.fail(ctx, job, err)
	}

	return w.queue.Ack(ctx, job)
}

func (w *Worker) fail(ctx context.Context, job *Job, cause error) error {
	moved, err := w.queue.Fail(ctx, job, cause)
	if err != nil {
		return err
	}
	if moved {
		log.Printf("job %s (%s) moved to failed jobs: %v", job.ID, job.DisplayName, cause)
	}
	return nil
}

// runHandler converts handler panics into errors.
func runHandler(ctx context.Context, h Handler, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, job)
}
