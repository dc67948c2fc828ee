//go:build integration

package queue

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/good-yellow-bee/hostdeck/internal/storage"
)

func setupRedisQueue(t *testing.T) (*Queue, *RedisBackend) {
	t.Helper()

	addr := os.Getenv("HOSTDECK_TEST_REDIS")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available at %s: %v", addr, err)
	}
	client.FlushDB(context.Background())
	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	store := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "queue.db"))
	if err := store.Open(); err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	backend := NewRedisBackend(client, 90*time.Second)
	q := New(backend, store.FailedJobs())
	q.SetBackoff(Backoff{Multiplier: 2.0})
	return q, backend
}

func TestRedisBackend_LeaseAck(t *testing.T) {
	q, _ := setupRedisQueue(t)
	ctx := context.Background()

	id := enqueueTest(t, q, "default", "first", 3)
	enqueueTest(t, q, "default", "second", 3)

	job, err := q.Lease(ctx, "default")
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	if job == nil || job.ID != id {
		t.Fatalf("leased %+v, want %s", job, id)
	}
	if job.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", job.Attempts)
	}

	if err := q.Ack(ctx, job); err != nil {
		t.Fatalf("ack: %v", err)
	}
	stats := q.Statistics(ctx)
	if stats.PendingJobs != 1 || stats.JobsByQueue["default"] != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestRedisBackend_FailAndRetry(t *testing.T) {
	q, _ := setupRedisQueue(t)
	ctx := context.Background()

	enqueueTest(t, q, "deployments", "deploy", 1)
	job, _ := q.Lease(ctx, "deployments")
	moved, err := q.Fail(ctx, job, errors.New("git failed"))
	if err != nil || !moved {
		t.Fatalf("fail = %v, %v", moved, err)
	}

	failed, _ := q.ListFailed(ctx, 10)
	if len(failed) != 1 || failed[0].Connection != BackendRedis {
		t.Fatalf("failed = %+v", failed)
	}

	ok, err := q.Retry(ctx, failed[0].UUID)
	if err != nil || !ok {
		t.Fatalf("retry = %v, %v", ok, err)
	}
	job, _ = q.Lease(ctx, "deployments")
	if job == nil || job.Attempts != 1 {
		t.Fatalf("retried job = %+v", job)
	}
}

func TestRedisBackend_ReleaseDelayed(t *testing.T) {
	q, backend := setupRedisQueue(t)
	ctx := context.Background()

	enqueueTest(t, q, "default", "flaky", 3)
	job, _ := q.Lease(ctx, "default")
	if err := backend.Release(ctx, job.QueuedJob, time.Hour); err != nil {
		t.Fatalf("release: %v", err)
	}

	again, err := q.Lease(ctx, "default")
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	if again != nil {
		t.Error("delayed job should not be leasable yet")
	}

	// Move the clock past the delay.
	backend.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	again, err = q.Lease(ctx, "default")
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	if again == nil || again.Attempts != 2 {
		t.Fatalf("job after delay = %+v", again)
	}
}

func TestRedisBackend_ReservationFollowsJobTimeout(t *testing.T) {
	q, backend := setupRedisQueue(t)
	ctx := context.Background()

	enqueueDeployLike(t, q, "deployments")
	start := time.Now()
	if job, err := q.Lease(ctx, "deployments"); err != nil || job == nil {
		t.Fatalf("lease = %+v, %v", job, err)
	}

	backend.now = func() time.Time { return start.Add(2 * time.Minute) }
	again, err := q.Lease(ctx, "deployments")
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	if again != nil {
		t.Fatal("job re-leased while its timeout had not elapsed")
	}

	backend.now = func() time.Time { return start.Add(11 * time.Minute) }
	again, err = q.Lease(ctx, "deployments")
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	if again == nil || again.Attempts != 2 {
		t.Fatalf("abandoned job = %+v, want attempts 2", again)
	}
}

func TestRedisBackend_RemoveUnsupported(t *testing.T) {
	q, _ := setupRedisQueue(t)
	id := enqueueTest(t, q, "default", "job", 3)

	ok, err := q.DeletePending(context.Background(), id)
	if err != nil || ok {
		t.Errorf("delete pending = %v, %v, want false", ok, err)
	}
	details, err := q.PendingDetails(context.Background(), id)
	if err != nil || details == nil {
		t.Errorf("details = %v, %v", details, err)
	}
}
