package alerting

import (
	"testing"

	"github.com/good-yellow-bee/hostdeck/internal/models"
)

func TestExprMatcher_Compile(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		wantErr bool
	}{
		{"field", "cpu_usage", false},
		{"arithmetic", "disk_used / disk_total * 100", false},
		{"boolean", "cpu_usage > 90 && memory_usage > 90", false},
		{"db", "db_connections + db_processes", false},
		{"syntax error", "cpu_usage >", true},
		{"unknown field", "load_avg", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewExprMatcher(tt.expr)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewExprMatcher(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
			}
			if err == nil && m.Expression() != tt.expr {
				t.Errorf("Expression() = %q", m.Expression())
			}
		})
	}
}

func TestExprMatcher_Eval(t *testing.T) {
	sample := &models.MetricSample{
		CPUUsage:      95,
		MemoryUsage:   40,
		MemoryTotal:   8000,
		MemoryUsed:    2000,
		DiskTotal:     100,
		DiskUsed:      75,
		DBConnections: 12,
		DBProcesses:   3,
	}

	tests := []struct {
		expr string
		want float64
	}{
		{"cpu_usage", 95},
		{"memory_used / memory_total * 100", 25},
		{"disk_used / disk_total * 100", 75},
		{"db_connections - db_processes", 9},
		{"cpu_usage > 90", 1},
		{"memory_usage > 90", 0},
		{"cpu_usage > 90 ? 2 : 0", 2},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			m, err := NewExprMatcher(tt.expr)
			if err != nil {
				t.Fatalf("compile: %v", err)
			}
			got, err := m.Eval(sample)
			if err != nil {
				t.Fatalf("eval: %v", err)
			}
			if got != tt.want {
				t.Errorf("Eval = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExprMatcher_NonNumericResult(t *testing.T) {
	m, err := NewExprMatcher(`"cpu"`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if _, err := m.Eval(&models.MetricSample{}); err == nil {
		t.Error("expected error for string result")
	}
}

func TestExprCache(t *testing.T) {
	c := newExprCache()
	sample := &models.MetricSample{CPUUsage: 10}
	for i := 0; i < 3; i++ {
		v, err := c.eval("cpu_usage * 2", sample)
		if err != nil || v != 20 {
			t.Fatalf("eval = %v, %v", v, err)
		}
	}
	if len(c.matchers) != 1 {
		t.Errorf("cached = %d, want 1", len(c.matchers))
	}
	if _, err := c.eval("cpu_usage +", sample); err == nil {
		t.Error("expected compile error")
	}
}
