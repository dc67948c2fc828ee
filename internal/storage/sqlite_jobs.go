package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/good-yellow-bee/hostdeck/internal/models"
)

type sqliteJobRepo struct {
	db *sql.DB
}

const jobColumns = `id, queue, payload, attempts, reserved_at, available_at, created_at`

func (r *sqliteJobRepo) Push(ctx context.Context, queue string, payload []byte, attempts int, availableAt time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO jobs (queue, payload, attempts, reserved_at, available_at, created_at)
		VALUES (?, ?, ?, NULL, ?, ?)
	`, queue, string(payload), attempts, availableAt.Unix(), time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("insert job: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("job id: %w", err)
	}
	return id, nil
}

func (r *sqliteJobRepo) Reserve(ctx context.Context, queue string, now time.Time, minLease, grace time.Duration) (*models.QueuedJob, error) {
	// One statement so concurrent workers never lease the same row. A
	// reservation is abandoned once it outlives both minLease and the
	// payload's own timeout plus grace.
	row := r.db.QueryRowContext(ctx, `
		UPDATE jobs SET reserved_at = ?, attempts = attempts + 1
		WHERE id = (
			SELECT id FROM jobs
			WHERE queue = ?
				AND ((reserved_at IS NULL AND available_at <= ?)
					OR reserved_at <= ? - MAX(?, COALESCE(CASE WHEN json_valid(payload) THEN json_extract(payload, '$.timeout') END, 0) + ?))
			ORDER BY id
			LIMIT 1
		)
		RETURNING `+jobColumns,
		now.Unix(), queue, now.Unix(), now.Unix(), int64(minLease/time.Second), int64(grace/time.Second),
	)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return job, err
}

func (r *sqliteJobRepo) Release(ctx context.Context, id int64, availableAt time.Time) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE jobs SET reserved_at = NULL, available_at = ? WHERE id = ?",
		availableAt.Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("release job: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("job not found: %d", id)
	}
	return nil
}

func (r *sqliteJobRepo) Delete(ctx context.Context, id int64) (bool, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM jobs WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("delete job: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

func (r *sqliteJobRepo) GetByID(ctx context.Context, id int64) (*models.QueuedJob, error) {
	job, err := scanJob(r.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return job, err
}

func (r *sqliteJobRepo) List(ctx context.Context, limit int) ([]*models.QueuedJob, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+jobColumns+" FROM jobs ORDER BY id LIMIT ?", normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.QueuedJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *sqliteJobRepo) CountByQueue(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT queue, COUNT(*) FROM jobs GROUP BY queue")
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var queue string
		var n int64
		if err := rows.Scan(&queue, &n); err != nil {
			return nil, fmt.Errorf("scan job count: %w", err)
		}
		counts[queue] = n
	}
	return counts, rows.Err()
}

func scanJob(s scanner) (*models.QueuedJob, error) {
	job := &models.QueuedJob{}
	var id, availableAt, createdAt int64
	var reservedAt sql.NullInt64
	var payload string

	err := s.Scan(&id, &job.Queue, &payload, &job.Attempts, &reservedAt, &availableAt, &createdAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}

	job.ID = strconv.FormatInt(id, 10)
	job.Reservation = job.ID
	job.Payload = []byte(payload)
	job.AvailableAt = time.Unix(availableAt, 0)
	job.CreatedAt = time.Unix(createdAt, 0)
	if reservedAt.Valid {
		t := time.Unix(reservedAt.Int64, 0)
		job.ReservedAt = &t
	}
	return job, nil
}

type sqliteFailedJobRepo struct {
	db *sql.DB
}

const failedJobColumns = `id, uuid, connection, queue, payload, exception, failed_at`

func (r *sqliteFailedJobRepo) Create(ctx context.Context, job *models.FailedJob) error {
	if job.FailedAt.IsZero() {
		job.FailedAt = time.Now()
	}
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO failed_jobs (uuid, connection, queue, payload, exception, failed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, job.UUID, job.Connection, job.Queue, string(job.Payload), job.Exception, job.FailedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert failed job: %w", err)
	}
	job.ID, _ = result.LastInsertId()
	return nil
}

func (r *sqliteFailedJobRepo) GetByUUID(ctx context.Context, uuid string) (*models.FailedJob, error) {
	job, err := scanFailedJob(r.db.QueryRowContext(ctx,
		"SELECT "+failedJobColumns+" FROM failed_jobs WHERE uuid = ?", uuid))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return job, err
}

func (r *sqliteFailedJobRepo) List(ctx context.Context, limit int) ([]*models.FailedJob, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+failedJobColumns+" FROM failed_jobs ORDER BY failed_at DESC, id DESC LIMIT ?",
		normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query failed jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.FailedJob
	for rows.Next() {
		job, err := scanFailedJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *sqliteFailedJobRepo) UUIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT uuid FROM failed_jobs ORDER BY failed_at, id")
	if err != nil {
		return nil, fmt.Errorf("query failed job uuids: %w", err)
	}
	defer rows.Close()

	var uuids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan failed job uuid: %w", err)
		}
		uuids = append(uuids, id)
	}
	return uuids, rows.Err()
}

func (r *sqliteFailedJobRepo) Delete(ctx context.Context, uuid string) (bool, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM failed_jobs WHERE uuid = ?", uuid)
	if err != nil {
		return false, fmt.Errorf("delete failed job: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

func (r *sqliteFailedJobRepo) Clear(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM failed_jobs")
	if err != nil {
		return 0, fmt.Errorf("clear failed jobs: %w", err)
	}
	return result.RowsAffected()
}

func (r *sqliteFailedJobRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM failed_jobs").Scan(&count); err != nil {
		return 0, fmt.Errorf("count failed jobs: %w", err)
	}
	return count, nil
}

func (r *sqliteFailedJobRepo) CountSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM failed_jobs WHERE failed_at >= ?", since.UTC()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count recent failed jobs: %w", err)
	}
	return count, nil
}

func scanFailedJob(s scanner) (*models.FailedJob, error) {
	job := &models.FailedJob{}
	var payload string

	err := s.Scan(&job.ID, &job.UUID, &job.Connection, &job.Queue, &payload, &job.Exception, &job.FailedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan failed job: %w", err)
	}
	job.Payload = []byte(payload)
	return job, nil
}
