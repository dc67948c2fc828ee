package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/good-yellow-bee/hostdeck/internal/models"
)

type sqliteMetricRepo struct {
	db *sql.DB
}

const metricColumns = `id, cpu_usage, memory_usage, disk_usage, memory_total, memory_used,
	disk_total, disk_used, disk_read_bytes, disk_write_bytes, network_rx_bytes,
	network_tx_bytes, db_connections, db_processes, recorded_at`

func (r *sqliteMetricRepo) Record(ctx context.Context, m *models.MetricSample) error {
	if m.RecordedAt.IsZero() {
		m.RecordedAt = time.Now()
	}
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO metrics (cpu_usage, memory_usage, disk_usage, memory_total, memory_used,
			disk_total, disk_used, disk_read_bytes, disk_write_bytes, network_rx_bytes,
			network_tx_bytes, db_connections, db_processes, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		m.CPUUsage, m.MemoryUsage, m.DiskUsage, int64(m.MemoryTotal), int64(m.MemoryUsed),
		int64(m.DiskTotal), int64(m.DiskUsed), int64(m.DiskReadBytes), int64(m.DiskWriteBytes),
		int64(m.NetworkRxBytes), int64(m.NetworkTxBytes), m.DBConnections, m.DBProcesses,
		m.RecordedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert metric: %w", err)
	}
	m.ID, _ = result.LastInsertId()
	return nil
}

func (r *sqliteMetricRepo) Latest(ctx context.Context) (*models.MetricSample, error) {
	m, err := scanMetric(r.db.QueryRowContext(ctx,
		"SELECT "+metricColumns+" FROM metrics ORDER BY recorded_at DESC, id DESC LIMIT 1"))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

func (r *sqliteMetricRepo) Recent(ctx context.Context, since time.Time) ([]*models.MetricSample, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+metricColumns+" FROM metrics WHERE recorded_at >= ? ORDER BY recorded_at",
		since.UTC())
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	defer rows.Close()

	var samples []*models.MetricSample
	for rows.Next() {
		m, err := scanMetric(rows)
		if err != nil {
			return nil, err
		}
		samples = append(samples, m)
	}
	return samples, rows.Err()
}

func (r *sqliteMetricRepo) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM metrics WHERE recorded_at < ?", before.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete old metrics: %w", err)
	}
	return result.RowsAffected()
}

func scanMetric(s scanner) (*models.MetricSample, error) {
	m := &models.MetricSample{}
	var memTotal, memUsed, diskTotal, diskUsed, diskRead, diskWrite, rx, tx int64

	err := s.Scan(
		&m.ID, &m.CPUUsage, &m.MemoryUsage, &m.DiskUsage, &memTotal, &memUsed,
		&diskTotal, &diskUsed, &diskRead, &diskWrite, &rx, &tx,
		&m.DBConnections, &m.DBProcesses, &m.RecordedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan metric: %w", err)
	}

	m.MemoryTotal = uint64(memTotal)
	m.MemoryUsed = uint64(memUsed)
	m.DiskTotal = uint64(diskTotal)
	m.DiskUsed = uint64(diskUsed)
	m.DiskReadBytes = uint64(diskRead)
	m.DiskWriteBytes = uint64(diskWrite)
	m.NetworkRxBytes = uint64(rx)
	m.NetworkTxBytes = uint64(tx)
	return m, nil
}
