package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// Pure Go SQLite driver.
	_ "modernc.org/sqlite"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	path string
	db   *sql.DB

	targets     *sqliteTargetRepo
	credentials *sqliteCredentialRepo
	deployments *sqliteDeploymentRepo
	alertRules  *sqliteAlertRuleRepo
	alerts      *sqliteAlertRepo
	metrics     *sqliteMetricRepo
	jobs        *sqliteJobRepo
	failedJobs  *sqliteFailedJobRepo
}

// NewSQLiteStorage creates a new SQLite storage.
func NewSQLiteStorage(path string) *SQLiteStorage {
	return &SQLiteStorage{path: path}
}

// Open initializes the database connection.
func (s *SQLiteStorage) Open() error {
	ctx := context.Background()

	if dir := filepath.Dir(s.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_time_format=sqlite", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0) // Keep connection alive

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	s.db = db

	s.targets = &sqliteTargetRepo{db: db}
	s.credentials = &sqliteCredentialRepo{db: db}
	s.deployments = &sqliteDeploymentRepo{db: db}
	s.alertRules = &sqliteAlertRuleRepo{db: db}
	s.alerts = &sqliteAlertRepo{db: db}
	s.metrics = &sqliteMetricRepo{db: db}
	s.jobs = &sqliteJobRepo{db: db}
	s.failedJobs = &sqliteFailedJobRepo{db: db}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying database connection for health checks.
func (s *SQLiteStorage) DB() *sql.DB {
	return s.db
}

// Migrate runs database migrations.
func (s *SQLiteStorage) Migrate() error {
	return runMigrations(s.db)
}

// Targets returns the target repository.
func (s *SQLiteStorage) Targets() TargetRepository {
	return s.targets
}

// Credentials returns the credential repository.
func (s *SQLiteStorage) Credentials() CredentialRepository {
	return s.credentials
}

// Deployments returns the deployment run repository.
func (s *SQLiteStorage) Deployments() DeploymentRepository {
	return s.deployments
}

// AlertRules returns the alert rule repository.
func (s *SQLiteStorage) AlertRules() AlertRuleRepository {
	return s.alertRules
}

// Alerts returns the fired alert repository.
func (s *SQLiteStorage) Alerts() AlertRepository {
	return s.alerts
}

// Metrics returns the metric sample repository.
func (s *SQLiteStorage) Metrics() MetricRepository {
	return s.metrics
}

// Jobs returns the pending job repository.
func (s *SQLiteStorage) Jobs() JobRepository {
	return s.jobs
}

// FailedJobs returns the failed job repository.
func (s *SQLiteStorage) FailedJobs() FailedJobRepository {
	return s.failedJobs
}

// Helper functions

type scanner interface {
	Scan(dest ...interface{}) error
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	v := nt.Time
	return &v
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
