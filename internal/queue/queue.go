// Package queue implements the persistent job queue: enqueue, lease, ack and
// fail over interchangeable backends, plus failed job bookkeeping.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/hostdeck/internal/metrics"
	"github.com/good-yellow-bee/hostdeck/internal/models"
	"github.com/good-yellow-bee/hostdeck/internal/storage"
)

// DefaultMaxTries applies to payloads that do not set maxTries.
const DefaultMaxTries = 3

// Job is a leased job with its decoded envelope.
type Job struct {
	*models.QueuedJob
	Body Payload
}

// MaxTries returns the attempt budget of the job.
func (j *Job) MaxTries() int {
	if j.Body.MaxTries > 0 {
		return j.Body.MaxTries
	}
	return DefaultMaxTries
}

// Stats summarizes queue contents.
type Stats struct {
	PendingJobs  int64            `json:"pending_jobs"`
	FailedJobs   int64            `json:"failed_jobs"`
	RecentFailed int64            `json:"recent_failed"`
	JobsByQueue  map[string]int64 `json:"jobs_by_queue"`
}

// Queue coordinates a Backend with the failed job store.
type Queue struct {
	backend Backend
	failed  storage.FailedJobRepository
	backoff Backoff
	now     func() time.Time
}

// New creates a Queue.
func New(backend Backend, failed storage.FailedJobRepository) *Queue {
	return &Queue{
		backend: backend,
		failed:  failed,
		backoff: DefaultBackoff(),
		now:     time.Now,
	}
}

// SetBackoff replaces the retry schedule.
func (q *Queue) SetBackoff(b Backoff) {
	q.backoff = b
}

// Backend returns the underlying backend.
func (q *Queue) Backend() Backend {
	return q.backend
}

// Enqueue pushes a new job onto the named queue and returns its id.
func (q *Queue) Enqueue(ctx context.Context, queueName string, p *Payload) (string, error) {
	if p.UUID == "" {
		p.UUID = uuid.New().String()
	}
	p.Attempts = 0
	p.PushedAt = q.now().Unix()

	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	id, err := q.backend.Push(ctx, queueName, raw, 0)
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", p.Job, err)
	}
	return id, nil
}

// Lease reserves the earliest available job of the named queue.
// It returns nil when the queue is empty.
func (q *Queue) Lease(ctx context.Context, queueName string) (*Job, error) {
	record, err := q.backend.Pop(ctx, queueName)
	if err != nil {
		return nil, fmt.Errorf("lease from %s: %w", queueName, err)
	}
	if record == nil {
		return nil, nil
	}

	job := &Job{QueuedJob: record}
	if err := json.Unmarshal(record.Payload, &job.Body); err != nil {
		log.Printf("warning: job %s has an unreadable payload: %v", record.ID, err)
	}
	record.DisplayName = DisplayName(record.Payload)
	return job, nil
}

// Ack removes a successfully processed job.
func (q *Queue) Ack(ctx context.Context, job *Job) error {
	if err := q.backend.Delete(ctx, job.QueuedJob); err != nil {
		return fmt.Errorf("ack job %s: %w", job.ID, err)
	}
	metrics.QueueJobsTotal.WithLabelValues(job.Queue, "acked").Inc()
	return nil
}

// Fail records a failed attempt. Jobs with attempts left are released with
// backoff; exhausted jobs move to the failed job store. It reports whether the
// job was moved.
func (q *Queue) Fail(ctx context.Context, job *Job, cause error) (bool, error) {
	if job.Attempts < job.MaxTries() {
		delay := q.backoff.Delay(job.Attempts)
		if err := q.backend.Release(ctx, job.QueuedJob, delay); err != nil {
			return false, fmt.Errorf("release job %s: %w", job.ID, err)
		}
		metrics.QueueJobsTotal.WithLabelValues(job.Queue, "released").Inc()
		return false, nil
	}

	failed := &models.FailedJob{
		UUID:       uuid.New().String(),
		Connection: q.backend.Name(),
		Queue:      job.Queue,
		Payload:    job.Payload,
		Exception:  errorText(cause),
		FailedAt:   q.now(),
	}
	if err := q.failed.Create(ctx, failed); err != nil {
		return false, fmt.Errorf("record failed job %s: %w", job.ID, err)
	}
	if err := q.backend.Delete(ctx, job.QueuedJob); err != nil {
		return true, fmt.Errorf("remove failed job %s: %w", job.ID, err)
	}
	metrics.QueueJobsTotal.WithLabelValues(job.Queue, "failed").Inc()
	return true, nil
}

// Retry pushes a failed job back onto its queue with a fresh attempt budget
// and removes it from the failed store. It reports false when uuid is unknown.
func (q *Queue) Retry(ctx context.Context, id string) (bool, error) {
	failed, err := q.failed.GetByUUID(ctx, id)
	if err != nil {
		return false, err
	}
	if failed == nil {
		return false, nil
	}

	payload, err := resetAttempts(failed.Payload)
	if err != nil {
		return false, fmt.Errorf("retry %s: %w", id, err)
	}
	if _, err := q.backend.Push(ctx, failed.Queue, payload, 0); err != nil {
		return false, fmt.Errorf("retry %s: %w", id, err)
	}
	if _, err := q.failed.Delete(ctx, id); err != nil {
		return false, fmt.Errorf("retry %s: %w", id, err)
	}
	metrics.QueueRetriedTotal.Inc()
	return true, nil
}

// RetryAll retries every failed job and returns how many were pushed back.
// Individual failures are logged and skipped.
func (q *Queue) RetryAll(ctx context.Context) (int, error) {
	uuids, err := q.failed.UUIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list failed jobs: %w", err)
	}

	retried := 0
	for _, id := range uuids {
		ok, err := q.Retry(ctx, id)
		if err != nil {
			log.Printf("warning: retry failed job %s: %v", id, err)
			continue
		}
		if ok {
			retried++
		}
	}
	return retried, nil
}

// ClearFailed deletes every failed job.
func (q *Queue) ClearFailed(ctx context.Context) (int64, error) {
	return q.failed.Clear(ctx)
}

// DeleteFailed deletes one failed job.
func (q *Queue) DeleteFailed(ctx context.Context, id string) (bool, error) {
	return q.failed.Delete(ctx, id)
}

// DeletePending removes a pending job. Backends that cannot remove
// individual jobs report false.
func (q *Queue) DeletePending(ctx context.Context, id string) (bool, error) {
	return q.backend.Remove(ctx, id)
}

// Statistics summarizes the queue. Errors are logged and yield zero stats.
func (q *Queue) Statistics(ctx context.Context) Stats {
	empty := Stats{JobsByQueue: map[string]int64{}}

	sizes, err := q.backend.Sizes(ctx)
	if err != nil {
		log.Printf("error: queue statistics: %v", err)
		return empty
	}
	failed, err := q.failed.Count(ctx)
	if err != nil {
		log.Printf("error: queue statistics: %v", err)
		return empty
	}
	recent, err := q.failed.CountSince(ctx, q.now().Add(-24*time.Hour))
	if err != nil {
		log.Printf("error: queue statistics: %v", err)
		return empty
	}

	var pending int64
	for _, n := range sizes {
		pending += n
	}
	return Stats{
		PendingJobs:  pending,
		FailedJobs:   failed,
		RecentFailed: recent,
		JobsByQueue:  sizes,
	}
}

// ListPending returns up to limit pending jobs with display names.
func (q *Queue) ListPending(ctx context.Context, limit int) ([]*models.QueuedJob, error) {
	jobs, err := q.backend.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	for _, j := range jobs {
		j.DisplayName = DisplayName(j.Payload)
	}
	return jobs, nil
}

// ListFailed returns up to limit failed jobs, newest first.
func (q *Queue) ListFailed(ctx context.Context, limit int) ([]*models.FailedJob, error) {
	jobs, err := q.failed.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	for _, j := range jobs {
		j.DisplayName = DisplayName(j.Payload)
	}
	return jobs, nil
}

// PendingDetails returns one pending job, or nil.
func (q *Queue) PendingDetails(ctx context.Context, id string) (*models.QueuedJob, error) {
	job, err := q.backend.Get(ctx, id)
	if err != nil || job == nil {
		return nil, err
	}
	job.DisplayName = DisplayName(job.Payload)
	return job, nil
}

// FailedDetails returns one failed job, or nil.
func (q *Queue) FailedDetails(ctx context.Context, id string) (*models.FailedJob, error) {
	job, err := q.failed.GetByUUID(ctx, id)
	if err != nil || job == nil {
		return nil, err
	}
	job.DisplayName = DisplayName(job.Payload)
	return job, nil
}

func errorText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
