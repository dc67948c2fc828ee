package monitor

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/good-yellow-bee/hostdeck/internal/alerting"
	"github.com/good-yellow-bee/hostdeck/internal/queue"
	"github.com/good-yellow-bee/hostdeck/internal/storage"
)

const (
	// QueueName is the queue monitoring jobs are pushed to.
	QueueName = "monitoring"
	// RecordJobName is the handler name of the sampling job.
	RecordJobName = "record-metrics"
	// CheckJobName is the handler name of the alert check job.
	CheckJobName = "check-alerts"

	// DefaultInterval is how often the monitoring jobs are scheduled.
	DefaultInterval = time.Minute

	monitorJobTimeout = 60 // seconds
)

var jobDisplayNames = map[string]string{
	RecordJobName: "Record metrics",
	CheckJobName:  "Check alerts",
}

// Enqueuer is the part of the queue the scheduler needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, queueName string, p *queue.Payload) (string, error)
}

// Scheduler periodically enqueues a sampling job. The sampling job queues
// the alert check once its sample is stored, so a check always sees the
// sample of its own round.
type Scheduler struct {
	queue    Enqueuer
	interval time.Duration
}

// NewScheduler creates a Scheduler. A non-positive interval uses DefaultInterval.
func NewScheduler(q Enqueuer, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{queue: q, interval: interval}
}

// Run schedules jobs immediately and then on every tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Printf("monitor scheduler started, interval=%v", s.interval)
	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Printf("monitor scheduler stopped")
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick enqueues one sampling job. Enqueue failures are logged.
func (s *Scheduler) Tick(ctx context.Context) {
	if err := enqueueJob(ctx, s.queue, RecordJobName); err != nil {
		log.Printf("error: %v", err)
	}
}

func enqueueJob(ctx context.Context, q Enqueuer, name string) error {
	p, err := newJob(name)
	if err != nil {
		return fmt.Errorf("build %s job: %w", name, err)
	}
	if _, err := q.Enqueue(ctx, QueueName, p); err != nil {
		return fmt.Errorf("enqueue %s job: %w", name, err)
	}
	return nil
}

func newJob(name string) (*queue.Payload, error) {
	p, err := queue.NewPayload(name, struct{}{})
	if err != nil {
		return nil, err
	}
	// A late sample is worthless; the next tick replaces a failed run.
	p.MaxTries = 1
	p.Timeout = monitorJobTimeout
	p.DisplayName = jobDisplayNames[name]
	return p, nil
}

// RecordHandler returns the queue handler of the sampling job. After a
// sample is stored it queues the alert check on q.
func RecordHandler(r *Recorder, q Enqueuer) queue.Handler {
	return func(ctx context.Context, job *queue.Job) error {
		sample, err := r.Record(ctx)
		if err != nil {
			return err
		}
		log.Printf("metrics recorded: cpu=%.2f%% memory=%.2f%% disk=%.2f%%",
			sample.CPUUsage, sample.MemoryUsage, sample.DiskUsage)
		return enqueueJob(ctx, q, CheckJobName)
	}
}

// CheckHandler returns the queue handler of the alert check job.
func CheckHandler(engine *alerting.Engine, samples storage.MetricRepository) queue.Handler {
	return func(ctx context.Context, job *queue.Job) error {
		fired, err := engine.Check(ctx, samples)
		if err != nil {
			return fmt.Errorf("check alerts: %w", err)
		}
		if len(fired) > 0 {
			log.Printf("alert check fired %d alert(s)", len(fired))
		}
		return nil
	}
}
