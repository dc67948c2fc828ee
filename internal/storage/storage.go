// Package storage provides database storage interfaces and implementations.
package storage

import (
	"context"
	"time"

	"github.com/good-yellow-bee/hostdeck/internal/models"
)

// Storage is the main interface for database operations.
type Storage interface {
	// Open initializes the database connection.
	Open() error
	// Close closes the database connection.
	Close() error
	// Migrate runs database migrations.
	Migrate() error

	// Repository accessors
	Targets() TargetRepository
	Credentials() CredentialRepository
	Deployments() DeploymentRepository
	AlertRules() AlertRuleRepository
	Alerts() AlertRepository
	Metrics() MetricRepository
	Jobs() JobRepository
	FailedJobs() FailedJobRepository
}

// TargetRepository defines operations for deployment targets.
type TargetRepository interface {
	Create(ctx context.Context, target *models.Target) error
	GetByID(ctx context.Context, id string) (*models.Target, error)
	GetByName(ctx context.Context, name string) (*models.Target, error)
	Update(ctx context.Context, target *models.Target) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*models.Target, error)
	SetActive(ctx context.Context, id string, active bool) error
	MarkDeployed(ctx context.Context, id string, at time.Time) error
}

// CredentialRepository stores the single deploy key of each target.
type CredentialRepository interface {
	// Replace deletes any credential of the target and inserts cred atomically.
	Replace(ctx context.Context, cred *models.Credential) error
	GetByTarget(ctx context.Context, targetID string) (*models.Credential, error)
	DeleteByTarget(ctx context.Context, targetID string) error
}

// DeploymentRepository defines operations for deployment runs.
type DeploymentRepository interface {
	Create(ctx context.Context, run *models.DeploymentRun) error
	AttachOutput(ctx context.Context, id, output string) error
	// Finalize moves a processing run to a terminal state.
	Finalize(ctx context.Context, run *models.DeploymentRun) error
	GetByID(ctx context.Context, id string) (*models.DeploymentRun, error)
	ListByTarget(ctx context.Context, targetID string, limit int) ([]*models.DeploymentRun, error)
	List(ctx context.Context, limit int) ([]*models.DeploymentRun, error)
}

// AlertRuleRepository defines operations for alert rule management.
type AlertRuleRepository interface {
	Create(ctx context.Context, rule *models.AlertRule) error
	GetByID(ctx context.Context, id string) (*models.AlertRule, error)
	GetByName(ctx context.Context, name string) (*models.AlertRule, error)
	Update(ctx context.Context, rule *models.AlertRule) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*models.AlertRule, error)
	ListActive(ctx context.Context) ([]*models.AlertRule, error)
	SetActive(ctx context.Context, id string, active bool) error
	MarkTriggered(ctx context.Context, id string, at time.Time) error
}

// AlertRepository defines operations for fired alerts.
type AlertRepository interface {
	Create(ctx context.Context, alert *models.Alert) error
	GetByID(ctx context.Context, id string) (*models.Alert, error)
	List(ctx context.Context, limit int, unresolvedOnly bool) ([]*models.Alert, error)
	// HasUnresolvedSince reports whether the rule fired an unresolved alert at or after since.
	HasUnresolvedSince(ctx context.Context, ruleID string, since time.Time) (bool, error)
	Resolve(ctx context.Context, id string, at time.Time) error
	MarkNotified(ctx context.Context, id string, sent bool) error
}

// MetricRepository defines operations for metric samples.
type MetricRepository interface {
	Record(ctx context.Context, sample *models.MetricSample) error
	Latest(ctx context.Context) (*models.MetricSample, error)
	Recent(ctx context.Context, since time.Time) ([]*models.MetricSample, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// JobRepository is the ordered pending-job list of the database queue backend.
type JobRepository interface {
	Push(ctx context.Context, queue string, payload []byte, attempts int, availableAt time.Time) (int64, error)
	// Reserve leases the earliest available job. A reservation counts as
	// abandoned after max(minLease, payload timeout + grace).
	Reserve(ctx context.Context, queue string, now time.Time, minLease, grace time.Duration) (*models.QueuedJob, error)
	Release(ctx context.Context, id int64, availableAt time.Time) error
	Delete(ctx context.Context, id int64) (bool, error)
	GetByID(ctx context.Context, id int64) (*models.QueuedJob, error)
	List(ctx context.Context, limit int) ([]*models.QueuedJob, error)
	CountByQueue(ctx context.Context) (map[string]int64, error)
}

// FailedJobRepository stores jobs that exhausted their attempts.
type FailedJobRepository interface {
	Create(ctx context.Context, job *models.FailedJob) error
	GetByUUID(ctx context.Context, uuid string) (*models.FailedJob, error)
	List(ctx context.Context, limit int) ([]*models.FailedJob, error)
	// UUIDs returns the uuid of every failed job, oldest first, without a limit.
	UUIDs(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, uuid string) (bool, error)
	Clear(ctx context.Context) (int64, error)
	Count(ctx context.Context) (int64, error)
	CountSince(ctx context.Context, since time.Time) (int64, error)
}
