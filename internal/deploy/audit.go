package deploy

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditLogger records deployment activity.
type AuditLogger interface {
	// LogStart logs the beginning of a run.
	LogStart(targetID, runID, user string)
	// LogCommand logs a command execution.
	LogCommand(targetID, runID, cmd string, success bool, duration time.Duration)
	// LogFinish logs the terminal state of a run.
	LogFinish(targetID, runID, status string, duration time.Duration, err error)
	// Close closes the logger.
	Close() error
}

// AuditEvent represents a single audit log entry.
type AuditEvent struct {
	Timestamp  string `json:"ts"`
	Event      string `json:"event"`
	TargetID   string `json:"target_id"`
	RunID      string `json:"run_id,omitempty"`
	User       string `json:"user,omitempty"`
	Command    string `json:"cmd,omitempty"`
	Success    *bool  `json:"success,omitempty"`
	Status     string `json:"status,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`
}

// JSONAuditLogger writes audit events as JSON lines.
type JSONAuditLogger struct {
	output io.WriteCloser
	mu     sync.Mutex
}

// NewJSONAuditLogger creates a JSON audit logger appending to path.
func NewJSONAuditLogger(path string) (*JSONAuditLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &JSONAuditLogger{output: file}, nil
}

// NewJSONAuditLoggerWriter creates a JSON audit logger with a custom writer.
func NewJSONAuditLoggerWriter(w io.WriteCloser) *JSONAuditLogger {
	return &JSONAuditLogger{output: w}
}

func (l *JSONAuditLogger) log(event *AuditEvent) {
	event.Timestamp = time.Now().UTC().Format(time.RFC3339)

	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.output.Write(append(data, '\n'))
}

// LogStart implements AuditLogger.
func (l *JSONAuditLogger) LogStart(targetID, runID, user string) {
	l.log(&AuditEvent{Event: "deploy_start", TargetID: targetID, RunID: runID, User: user})
}

// LogCommand implements AuditLogger.
func (l *JSONAuditLogger) LogCommand(targetID, runID, cmd string, success bool, duration time.Duration) {
	l.log(&AuditEvent{
		Event:      "command",
		TargetID:   targetID,
		RunID:      runID,
		Command:    cmd,
		Success:    &success,
		DurationMs: duration.Milliseconds(),
	})
}

// LogFinish implements AuditLogger.
func (l *JSONAuditLogger) LogFinish(targetID, runID, status string, duration time.Duration, err error) {
	event := &AuditEvent{
		Event:      "deploy_finish",
		TargetID:   targetID,
		RunID:      runID,
		Status:     status,
		DurationMs: duration.Milliseconds(),
	}
	if err != nil {
		event.Error = err.Error()
	}
	l.log(event)
}

// Close closes the underlying writer.
func (l *JSONAuditLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.output.Close()
}

// NopAuditLogger discards all events.
type NopAuditLogger struct{}

func (NopAuditLogger) LogStart(targetID, runID, user string) {}
func (NopAuditLogger) LogCommand(targetID, runID, cmd string, success bool, duration time.Duration) {
}
func (NopAuditLogger) LogFinish(targetID, runID, status string, duration time.Duration, err error) {
}
func (NopAuditLogger) Close() error { return nil }
