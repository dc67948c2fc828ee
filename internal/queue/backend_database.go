package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/good-yellow-bee/hostdeck/internal/models"
	"github.com/good-yellow-bee/hostdeck/internal/storage"
)

// DatabaseBackend keeps jobs in the SQL jobs table.
type DatabaseBackend struct {
	jobs       storage.JobRepository
	retryAfter time.Duration
	now        func() time.Time
}

// NewDatabaseBackend creates a database backend. A reservation becomes
// leasable again once it is older than retryAfter and the job's own timeout
// plus LeaseGrace.
func NewDatabaseBackend(jobs storage.JobRepository, retryAfter time.Duration) *DatabaseBackend {
	if retryAfter <= 0 {
		retryAfter = 90 * time.Second
	}
	return &DatabaseBackend{jobs: jobs, retryAfter: retryAfter, now: time.Now}
}

// Name implements Backend.
func (b *DatabaseBackend) Name() string {
	return BackendDatabase
}

// Push implements Backend.
func (b *DatabaseBackend) Push(ctx context.Context, queue string, payload []byte, delay time.Duration) (string, error) {
	id, err := b.jobs.Push(ctx, queue, payload, 0, b.now().Add(delay))
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(id, 10), nil
}

// Pop implements Backend.
func (b *DatabaseBackend) Pop(ctx context.Context, queue string) (*models.QueuedJob, error) {
	now := b.now()
	return b.jobs.Reserve(ctx, queue, now, b.retryAfter, LeaseGrace)
}

// Delete implements Backend.
func (b *DatabaseBackend) Delete(ctx context.Context, job *models.QueuedJob) error {
	id, err := parseJobID(job.ID)
	if err != nil {
		return err
	}
	if _, err := b.jobs.Delete(ctx, id); err != nil {
		return err
	}
	return nil
}

// Release implements Backend.
func (b *DatabaseBackend) Release(ctx context.Context, job *models.QueuedJob, delay time.Duration) error {
	id, err := parseJobID(job.ID)
	if err != nil {
		return err
	}
	return b.jobs.Release(ctx, id, b.now().Add(delay))
}

// Sizes implements Backend.
func (b *DatabaseBackend) Sizes(ctx context.Context) (map[string]int64, error) {
	return b.jobs.CountByQueue(ctx)
}

// List implements Backend.
func (b *DatabaseBackend) List(ctx context.Context, limit int) ([]*models.QueuedJob, error) {
	return b.jobs.List(ctx, limit)
}

// Get implements Backend.
func (b *DatabaseBackend) Get(ctx context.Context, id string) (*models.QueuedJob, error) {
	n, err := parseJobID(id)
	if err != nil {
		return nil, nil
	}
	return b.jobs.GetByID(ctx, n)
}

// Remove implements Backend.
func (b *DatabaseBackend) Remove(ctx context.Context, id string) (bool, error) {
	n, err := parseJobID(id)
	if err != nil {
		return false, nil
	}
	return b.jobs.Delete(ctx, n)
}

func parseJobID(id string) (int64, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid job id %q: %w", id, err)
	}
	return n, nil
}
