package models

import "time"

// MetricSample is a flat snapshot of host counters.
type MetricSample struct {
	ID             int64     `json:"id"`
	CPUUsage       float64   `json:"cpu_usage"`
	MemoryUsage    float64   `json:"memory_usage"`
	DiskUsage      float64   `json:"disk_usage"`
	MemoryTotal    uint64    `json:"memory_total"`
	MemoryUsed     uint64    `json:"memory_used"`
	DiskTotal      uint64    `json:"disk_total"`
	DiskUsed       uint64    `json:"disk_used"`
	DiskReadBytes  uint64    `json:"disk_read_bytes"`
	DiskWriteBytes uint64    `json:"disk_write_bytes"`
	NetworkRxBytes uint64    `json:"network_rx_bytes"`
	NetworkTxBytes uint64    `json:"network_tx_bytes"`
	DBConnections  int       `json:"db_connections"`
	DBProcesses    int       `json:"db_processes"`
	RecordedAt     time.Time `json:"recorded_at"`
}

// Fields exposes the numeric fields by their column names.
func (m *MetricSample) Fields() map[string]float64 {
	return map[string]float64{
		"cpu_usage":        m.CPUUsage,
		"memory_usage":     m.MemoryUsage,
		"disk_usage":       m.DiskUsage,
		"memory_total":     float64(m.MemoryTotal),
		"memory_used":      float64(m.MemoryUsed),
		"disk_total":       float64(m.DiskTotal),
		"disk_used":        float64(m.DiskUsed),
		"disk_read_bytes":  float64(m.DiskReadBytes),
		"disk_write_bytes": float64(m.DiskWriteBytes),
		"network_rx_bytes": float64(m.NetworkRxBytes),
		"network_tx_bytes": float64(m.NetworkTxBytes),
		"db_connections":   float64(m.DBConnections),
		"db_processes":     float64(m.DBProcesses),
	}
}
