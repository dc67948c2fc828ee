package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/hostdeck/internal/models"
)

type sqliteDeploymentRepo struct {
	db *sql.DB
}

const deploymentColumns = `id, target_id, status, commit_hash, commit_message, author,
	output, error_message, started_at, completed_at, created_at`

func (r *sqliteDeploymentRepo) Create(ctx context.Context, run *models.DeploymentRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO deployments (`+deploymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID, run.TargetID, string(run.Status), nullStringPtr(run.CommitHash),
		nullStringPtr(run.CommitMessage), nullStringPtr(run.Author), run.Output,
		run.ErrorMessage, run.StartedAt.UTC(), nullTime(run.CompletedAt), run.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert deployment: %w", err)
	}
	return nil
}

func (r *sqliteDeploymentRepo) AttachOutput(ctx context.Context, id, output string) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE deployments SET output = ? WHERE id = ? AND status = 'processing'", output, id)
	if err != nil {
		return fmt.Errorf("attach deployment output: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("processing deployment not found: %s", id)
	}
	return nil
}

func (r *sqliteDeploymentRepo) Finalize(ctx context.Context, run *models.DeploymentRun) error {
	if !run.Status.IsTerminal() {
		return fmt.Errorf("finalize deployment %s: status %s is not terminal", run.ID, run.Status)
	}
	result, err := r.db.ExecContext(ctx, `
		UPDATE deployments SET status = ?, output = ?, error_message = ?, completed_at = ?,
			commit_hash = ?
		WHERE id = ? AND status = 'processing'
	`,
		string(run.Status), run.Output, run.ErrorMessage, nullTime(run.CompletedAt),
		nullStringPtr(run.CommitHash), run.ID,
	)
	if err != nil {
		return fmt.Errorf("finalize deployment: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("processing deployment not found: %s", run.ID)
	}
	return nil
}

func (r *sqliteDeploymentRepo) GetByID(ctx context.Context, id string) (*models.DeploymentRun, error) {
	run, err := scanDeployment(r.db.QueryRowContext(ctx,
		"SELECT "+deploymentColumns+" FROM deployments WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

func (r *sqliteDeploymentRepo) ListByTarget(ctx context.Context, targetID string, limit int) ([]*models.DeploymentRun, error) {
	return r.query(ctx,
		"SELECT "+deploymentColumns+" FROM deployments WHERE target_id = ? ORDER BY created_at DESC LIMIT ?",
		targetID, normalizeLimit(limit))
}

func (r *sqliteDeploymentRepo) List(ctx context.Context, limit int) ([]*models.DeploymentRun, error) {
	return r.query(ctx,
		"SELECT "+deploymentColumns+" FROM deployments ORDER BY created_at DESC LIMIT ?",
		normalizeLimit(limit))
}

func (r *sqliteDeploymentRepo) query(ctx context.Context, query string, args ...interface{}) ([]*models.DeploymentRun, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query deployments: %w", err)
	}
	defer rows.Close()

	var runs []*models.DeploymentRun
	for rows.Next() {
		run, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanDeployment(s scanner) (*models.DeploymentRun, error) {
	run := &models.DeploymentRun{}
	var status string
	var hash, message, author sql.NullString
	var completed sql.NullTime

	err := s.Scan(
		&run.ID, &run.TargetID, &status, &hash, &message, &author,
		&run.Output, &run.ErrorMessage, &run.StartedAt, &completed, &run.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan deployment: %w", err)
	}

	run.Status = models.ParseDeploymentStatus(status)
	run.CommitHash = stringPtr(hash)
	run.CommitMessage = stringPtr(message)
	run.Author = stringPtr(author)
	run.CompletedAt = timePtr(completed)
	return run, nil
}

// normalizeLimit clamps list sizes to 1..500, defaulting to 50.
func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 500 {
		return 500
	}
	return limit
}
