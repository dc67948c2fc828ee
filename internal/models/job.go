package models

import (
	"encoding/json"
	"time"
)

// QueuedJob is a pending or reserved job in a queue backend.
type QueuedJob struct {
	ID          string          `json:"id"`
	Queue       string          `json:"queue"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	ReservedAt  *time.Time      `json:"reserved_at,omitempty"`
	AvailableAt time.Time       `json:"available_at"`
	CreatedAt   time.Time       `json:"created_at"`
	DisplayName string          `json:"display_name"`

	// Reservation is the backend's handle for a leased job.
	Reservation string `json:"-"`
}

// FailedJob is a job that exhausted its attempt budget.
type FailedJob struct {
	ID          int64           `json:"id"`
	UUID        string          `json:"uuid"`
	Connection  string          `json:"connection"`
	Queue       string          `json:"queue"`
	Payload     json.RawMessage `json:"payload"`
	Exception   string          `json:"exception"`
	FailedAt    time.Time       `json:"failed_at"`
	DisplayName string          `json:"display_name"`
}
