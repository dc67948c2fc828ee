package queue

import (
	"context"
	"time"

	"github.com/good-yellow-bee/hostdeck/internal/models"
)

// Backend names.
const (
	BackendDatabase = "database"
	BackendRedis    = "redis"
)

// LeaseGrace is added to a job's timeout before its reservation is treated
// as abandoned. It covers the worker's own bookkeeping after the deadline.
const LeaseGrace = 30 * time.Second

// Backend is the storage of pending and reserved jobs. Failed jobs are kept
// by the Queue itself, independent of the backend.
type Backend interface {
	// Name identifies the backend in failed job records.
	Name() string
	// Push appends payload to the named queue, available after delay.
	Push(ctx context.Context, queue string, payload []byte, delay time.Duration) (string, error)
	// Pop leases the earliest available job and increments its attempts.
	// It returns nil when nothing is available.
	Pop(ctx context.Context, queue string) (*models.QueuedJob, error)
	// Delete removes a leased job.
	Delete(ctx context.Context, job *models.QueuedJob) error
	// Release returns a leased job to its queue after delay.
	Release(ctx context.Context, job *models.QueuedJob, delay time.Duration) error
	// Sizes reports the number of pending jobs per queue.
	Sizes(ctx context.Context) (map[string]int64, error)
	// List returns up to limit pending jobs across queues.
	List(ctx context.Context, limit int) ([]*models.QueuedJob, error)
	// Get returns a pending job by id, or nil.
	Get(ctx context.Context, id string) (*models.QueuedJob, error)
	// Remove deletes a pending job by id and reports whether one was removed.
	Remove(ctx context.Context, id string) (bool, error)
}
