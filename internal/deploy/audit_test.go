package deploy

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type testWriteCloser struct {
	*bytes.Buffer
}

func (t *testWriteCloser) Close() error {
	return nil
}

func readEvents(t *testing.T, data []byte) []AuditEvent {
	t.Helper()
	var events []AuditEvent
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		var e AuditEvent
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("unmarshal %q: %v", sc.Text(), err)
		}
		events = append(events, e)
	}
	return events
}

func TestJSONAuditLogger_Events(t *testing.T) {
	buf := &testWriteCloser{Buffer: &bytes.Buffer{}}
	logger := NewJSONAuditLoggerWriter(buf)

	logger.LogStart("t1", "r1", "www-data")
	logger.LogCommand("t1", "r1", "git fetch origin main", true, 1500*time.Millisecond)
	logger.LogFinish("t1", "r1", "failed", 2*time.Second, errors.New("Git reset failed: x"))

	events := readEvents(t, buf.Bytes())
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}

	if events[0].Event != "deploy_start" || events[0].User != "www-data" {
		t.Errorf("start = %+v", events[0])
	}
	cmd := events[1]
	if cmd.Event != "command" || cmd.Command != "git fetch origin main" {
		t.Errorf("command = %+v", cmd)
	}
	if cmd.Success == nil || !*cmd.Success {
		t.Error("success should be true")
	}
	if cmd.DurationMs != 1500 {
		t.Errorf("duration = %d, want 1500", cmd.DurationMs)
	}
	finish := events[2]
	if finish.Status != "failed" || finish.Error != "Git reset failed: x" {
		t.Errorf("finish = %+v", finish)
	}
	for _, e := range events {
		if e.Timestamp == "" || e.TargetID != "t1" || e.RunID != "r1" {
			t.Errorf("event missing common fields: %+v", e)
		}
	}
}

func TestNewJSONAuditLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "deploy-audit.log")
	logger, err := NewJSONAuditLogger(path)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.LogStart("t1", "r1", "")
	if err := logger.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}
	data, _ := os.ReadFile(path)
	if events := readEvents(t, data); len(events) != 1 {
		t.Errorf("events = %d, want 1", len(events))
	}
}

func TestNopAuditLogger(t *testing.T) {
	var l AuditLogger = NopAuditLogger{}
	l.LogStart("t", "r", "u")
	l.LogCommand("t", "r", "c", false, 0)
	l.LogFinish("t", "r", "completed", 0, nil)
	if err := l.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
}
