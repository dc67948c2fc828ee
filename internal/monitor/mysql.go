package monitor

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

// MySQLProbe counts connections and server threads of a MySQL server.
type MySQLProbe struct {
	db *sql.DB
}

// NewMySQLProbe opens a small pool for the given DSN
// (user:pass@tcp(host:3306)/). The DSN is validated but not dialed.
func NewMySQLProbe(dsn string) (*MySQLProbe, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("create mysql connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &MySQLProbe{db: db}, nil
}

// Probe returns Threads_connected and the size of the process list.
func (p *MySQLProbe) Probe(ctx context.Context) (int, int, error) {
	var name string
	var connections int
	err := p.db.QueryRowContext(ctx,
		"SHOW STATUS WHERE Variable_name = 'Threads_connected'").Scan(&name, &connections)
	if err != nil {
		return 0, 0, fmt.Errorf("query threads connected: %w", err)
	}

	var processes int
	err = p.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM information_schema.PROCESSLIST").Scan(&processes)
	if err != nil {
		return 0, 0, fmt.Errorf("count processes: %w", err)
	}
	return connections, processes, nil
}

// Close closes the connection pool.
func (p *MySQLProbe) Close() error {
	return p.db.Close()
}
