package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database migration.
type Migration struct {
	Version int
	Name    string
	Up      string
}

// migrations holds all database migrations in order.
var migrations = []Migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Up: `
			-- Deployment targets
			CREATE TABLE IF NOT EXISTS targets (
				id TEXT PRIMARY KEY,
				name TEXT UNIQUE NOT NULL,
				domain TEXT,
				git_provider TEXT NOT NULL DEFAULT 'github',
				repository_url TEXT NOT NULL,
				branch TEXT NOT NULL DEFAULT 'main',
				local_path TEXT NOT NULL,
				deploy_user TEXT,
				secret_token TEXT NOT NULL,
				is_active INTEGER NOT NULL DEFAULT 1,
				pre_deploy_script TEXT,
				post_deploy_script TEXT,
				last_deployed_at DATETIME,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			);

			-- Deploy keys, one per target
			CREATE TABLE IF NOT EXISTS credentials (
				id TEXT PRIMARY KEY,
				target_id TEXT UNIQUE NOT NULL,
				key_type TEXT NOT NULL,
				public_key TEXT NOT NULL,
				fingerprint TEXT NOT NULL,
				private_key_encrypted BLOB NOT NULL,
				created_at DATETIME NOT NULL,
				FOREIGN KEY (target_id) REFERENCES targets(id) ON DELETE CASCADE
			);

			-- Deployment runs
			CREATE TABLE IF NOT EXISTS deployments (
				id TEXT PRIMARY KEY,
				target_id TEXT NOT NULL,
				status TEXT NOT NULL,
				commit_hash TEXT,
				commit_message TEXT,
				author TEXT,
				output TEXT NOT NULL DEFAULT '',
				error_message TEXT NOT NULL DEFAULT '',
				started_at DATETIME NOT NULL,
				completed_at DATETIME,
				created_at DATETIME NOT NULL,
				FOREIGN KEY (target_id) REFERENCES targets(id) ON DELETE CASCADE
			);

			-- Indexes
			CREATE INDEX IF NOT EXISTS idx_deployments_target ON deployments(target_id, created_at);
		`,
	},
	{
		Version: 2,
		Name:    "monitoring",
		Up: `
			CREATE TABLE IF NOT EXISTS alert_rules (
				id TEXT PRIMARY KEY,
				name TEXT UNIQUE NOT NULL,
				metric TEXT NOT NULL,
				condition TEXT NOT NULL,
				threshold REAL NOT NULL,
				service_name TEXT,
				expression TEXT,
				duration INTEGER NOT NULL DEFAULT 5,
				channel TEXT NOT NULL DEFAULT 'email',
				email TEXT,
				slack_webhook TEXT,
				is_active INTEGER NOT NULL DEFAULT 1,
				last_triggered_at DATETIME,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			);

			CREATE TABLE IF NOT EXISTS alerts (
				id TEXT PRIMARY KEY,
				alert_rule_id TEXT NOT NULL,
				title TEXT NOT NULL,
				message TEXT NOT NULL,
				severity TEXT NOT NULL,
				value REAL NOT NULL,
				is_resolved INTEGER NOT NULL DEFAULT 0,
				resolved_at DATETIME,
				notification_sent INTEGER NOT NULL DEFAULT 0,
				created_at DATETIME NOT NULL,
				FOREIGN KEY (alert_rule_id) REFERENCES alert_rules(id) ON DELETE CASCADE
			);

			CREATE TABLE IF NOT EXISTS metrics (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				cpu_usage REAL NOT NULL,
				memory_usage REAL NOT NULL,
				disk_usage REAL NOT NULL,
				memory_total INTEGER NOT NULL,
				memory_used INTEGER NOT NULL,
				disk_total INTEGER NOT NULL,
				disk_used INTEGER NOT NULL,
				disk_read_bytes INTEGER NOT NULL DEFAULT 0,
				disk_write_bytes INTEGER NOT NULL DEFAULT 0,
				network_rx_bytes INTEGER NOT NULL DEFAULT 0,
				network_tx_bytes INTEGER NOT NULL DEFAULT 0,
				db_connections INTEGER NOT NULL DEFAULT 0,
				db_processes INTEGER NOT NULL DEFAULT 0,
				recorded_at DATETIME NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_alerts_rule ON alerts(alert_rule_id, is_resolved, created_at);
			CREATE INDEX IF NOT EXISTS idx_metrics_recorded ON metrics(recorded_at);
		`,
	},
	{
		Version: 3,
		Name:    "queue",
		Up: `
			-- Times are unix seconds
			CREATE TABLE IF NOT EXISTS jobs (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				queue TEXT NOT NULL,
				payload TEXT NOT NULL,
				attempts INTEGER NOT NULL DEFAULT 0,
				reserved_at INTEGER,
				available_at INTEGER NOT NULL,
				created_at INTEGER NOT NULL
			);

			CREATE TABLE IF NOT EXISTS failed_jobs (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				uuid TEXT UNIQUE NOT NULL,
				connection TEXT NOT NULL,
				queue TEXT NOT NULL,
				payload TEXT NOT NULL,
				exception TEXT NOT NULL,
				failed_at DATETIME NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_jobs_queue ON jobs(queue, reserved_at, available_at);
			CREATE INDEX IF NOT EXISTS idx_failed_jobs_failed_at ON failed_jobs(failed_at);
		`,
	},
}

// runMigrations applies all pending migrations.
func runMigrations(db *sql.DB) error {
	// Create migrations table if not exists
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var currentVersion int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction for migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d (%s): %w", m.Version, m.Name, err)
		}

		_, err = tx.Exec(
			"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Name, time.Now().UTC(),
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}
