package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/hostdeck/internal/models"
)

type sqliteTargetRepo struct {
	db *sql.DB
}

const targetColumns = `id, name, domain, git_provider, repository_url, branch, local_path,
	deploy_user, secret_token, is_active, pre_deploy_script, post_deploy_script,
	last_deployed_at, created_at, updated_at`

func (r *sqliteTargetRepo) Create(ctx context.Context, t *models.Target) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	query := `
		INSERT INTO targets (` + targetColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		t.ID, t.Name, nullString(t.Domain), string(t.GitProvider), t.RepositoryURL, t.Branch,
		t.LocalPath, nullString(t.DeployUser), t.SecretToken, boolToInt(t.IsActive),
		nullString(t.PreDeployScript), nullString(t.PostDeployScript),
		nullTime(t.LastDeployedAt), t.CreatedAt.UTC(), t.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert target: %w", err)
	}
	return nil
}

func (r *sqliteTargetRepo) GetByID(ctx context.Context, id string) (*models.Target, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+targetColumns+" FROM targets WHERE id = ?", id)
	return scanTargetOrNil(row)
}

func (r *sqliteTargetRepo) GetByName(ctx context.Context, name string) (*models.Target, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+targetColumns+" FROM targets WHERE name = ?", name)
	return scanTargetOrNil(row)
}

func (r *sqliteTargetRepo) Update(ctx context.Context, t *models.Target) error {
	query := `
		UPDATE targets SET name = ?, domain = ?, git_provider = ?, repository_url = ?,
			branch = ?, local_path = ?, deploy_user = ?, secret_token = ?, is_active = ?,
			pre_deploy_script = ?, post_deploy_script = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		t.Name, nullString(t.Domain), string(t.GitProvider), t.RepositoryURL,
		t.Branch, t.LocalPath, nullString(t.DeployUser), t.SecretToken, boolToInt(t.IsActive),
		nullString(t.PreDeployScript), nullString(t.PostDeployScript), t.UpdatedAt.UTC(),
		t.ID,
	)
	if err != nil {
		return fmt.Errorf("update target: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("target not found: %s", t.ID)
	}
	return nil
}

func (r *sqliteTargetRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM targets WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete target: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("target not found: %s", id)
	}
	return nil
}

func (r *sqliteTargetRepo) List(ctx context.Context) ([]*models.Target, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+targetColumns+" FROM targets ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("query targets: %w", err)
	}
	defer rows.Close()

	var targets []*models.Target
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

func (r *sqliteTargetRepo) SetActive(ctx context.Context, id string, active bool) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE targets SET is_active = ?, updated_at = ? WHERE id = ?",
		boolToInt(active), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("set target active: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("target not found: %s", id)
	}
	return nil
}

func (r *sqliteTargetRepo) MarkDeployed(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE targets SET last_deployed_at = ? WHERE id = ?", at.UTC(), id)
	if err != nil {
		return fmt.Errorf("mark target deployed: %w", err)
	}
	return nil
}

func scanTargetOrNil(row *sql.Row) (*models.Target, error) {
	t, err := scanTarget(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

func scanTarget(s scanner) (*models.Target, error) {
	t := &models.Target{}
	var domain, deployUser, preScript, postScript sql.NullString
	var provider string
	var active int
	var lastDeployed sql.NullTime

	err := s.Scan(
		&t.ID, &t.Name, &domain, &provider, &t.RepositoryURL, &t.Branch, &t.LocalPath,
		&deployUser, &t.SecretToken, &active, &preScript, &postScript,
		&lastDeployed, &t.CreatedAt, &t.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan target: %w", err)
	}

	t.Domain = domain.String
	t.GitProvider = models.ParseGitProvider(provider)
	t.DeployUser = deployUser.String
	t.IsActive = active != 0
	t.PreDeployScript = preScript.String
	t.PostDeployScript = postScript.String
	t.LastDeployedAt = timePtr(lastDeployed)
	return t, nil
}
