package alerting

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/good-yellow-bee/hostdeck/internal/models"
	"github.com/good-yellow-bee/hostdeck/internal/storage"
)

type fakeProber struct {
	active map[string]bool
	err    error
}

func (p *fakeProber) IsActive(ctx context.Context, name string) (bool, error) {
	if p.err != nil {
		return false, p.err
	}
	return p.active[name], nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []*models.Alert
	err  error
}

func (n *fakeNotifier) Notify(ctx context.Context, rule *models.AlertRule, alert *models.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, alert)
	return n.err
}

func setupStore(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	store := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "alerts.db"))
	if err := store.Open(); err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func createRule(t *testing.T, store *storage.SQLiteStorage, rule *models.AlertRule) *models.AlertRule {
	t.Helper()
	if err := store.AlertRules().Create(context.Background(), rule); err != nil {
		t.Fatalf("create rule: %v", err)
	}
	return rule
}

func TestCompareThreshold(t *testing.T) {
	tests := []struct {
		value, threshold float64
		op               string
		want             bool
	}{
		{81, 80, ">", true},
		{80, 80, ">", false},
		{79, 80, "<", true},
		{80.005, 80, "==", true},
		{80.02, 80, "==", false},
		{80.02, 80, "!=", true},
		{80, 80, "!=", false},
		{90, 80, ">=", false},
	}
	for _, tt := range tests {
		if got := compareThreshold(tt.value, tt.threshold, tt.op); got != tt.want {
			t.Errorf("compareThreshold(%v, %v, %q) = %v, want %v", tt.value, tt.threshold, tt.op, got, tt.want)
		}
	}
}

func TestSeverityFor(t *testing.T) {
	cpu := models.NewAlertRule("cpu", models.MetricCPU, ">", 80)
	svc := models.NewAlertRule("nginx", models.MetricService, "==", 0)
	svc.ServiceName = "nginx"

	tests := []struct {
		name  string
		rule  *models.AlertRule
		value float64
		want  models.Severity
	}{
		{"just over", cpu, 81, models.SeverityInfo},
		{"ten over", cpu, 90, models.SeverityInfo},
		{"eleven over", cpu, 91, models.SeverityWarning},
		{"twenty over", cpu, 100, models.SeverityWarning},
		{"twenty one over", cpu, 101, models.SeverityCritical},
		{"service down", svc, 0, models.SeverityCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := severityFor(tt.rule, tt.value); got != tt.want {
				t.Errorf("severity = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestFormatMessage(t *testing.T) {
	cpu := models.NewAlertRule("cpu", models.MetricCPU, ">", 80)
	if got := formatMessage(cpu, 91.5); got != "cpu is 91.5% (threshold: 80%)" {
		t.Errorf("message = %q", got)
	}

	svc := models.NewAlertRule("nginx", models.MetricService, "==", 0)
	svc.ServiceName = "nginx"
	if got := formatMessage(svc, 0); got != "nginx is down" {
		t.Errorf("message = %q", got)
	}
	if got := formatMessage(svc, 1); got != "nginx is running" {
		t.Errorf("message = %q", got)
	}
}

func TestMatcherValue(t *testing.T) {
	m := NewMatcher(&fakeProber{active: map[string]bool{"nginx": true}})
	sample := &models.MetricSample{CPUUsage: 12, MemoryUsage: 34, DiskUsage: 56, MemoryUsed: 1, MemoryTotal: 4}
	ctx := context.Background()

	tests := []struct {
		name string
		rule *models.AlertRule
		want *float64
	}{
		{"cpu", &models.AlertRule{Metric: models.MetricCPU}, ptr(12)},
		{"memory", &models.AlertRule{Metric: models.MetricMemory}, ptr(34)},
		{"disk", &models.AlertRule{Metric: models.MetricDisk}, ptr(56)},
		{"service up", &models.AlertRule{Metric: models.MetricService, ServiceName: "nginx"}, ptr(1)},
		{"service down", &models.AlertRule{Metric: models.MetricService, ServiceName: "mysql"}, ptr(0)},
		{"service without name", &models.AlertRule{Metric: models.MetricService}, nil},
		{"expr", &models.AlertRule{Metric: models.MetricExpr, Expression: "memory_used / memory_total * 100"}, ptr(25)},
		{"bad expr", &models.AlertRule{Metric: models.MetricExpr, Expression: "nope +"}, nil},
		{"unknown", &models.AlertRule{Metric: "load"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.Value(ctx, tt.rule, sample)
			switch {
			case tt.want == nil && got != nil:
				t.Errorf("value = %v, want nil", *got)
			case tt.want != nil && got == nil:
				t.Errorf("value = nil, want %v", *tt.want)
			case tt.want != nil && *got != *tt.want:
				t.Errorf("value = %v, want %v", *got, *tt.want)
			}
		})
	}
}

func TestMatcherValue_ProberError(t *testing.T) {
	m := NewMatcher(&fakeProber{err: errors.New("systemctl missing")})
	rule := &models.AlertRule{Metric: models.MetricService, ServiceName: "nginx"}
	if v := m.Value(context.Background(), rule, &models.MetricSample{}); v != nil {
		t.Errorf("value = %v, want nil", *v)
	}
	if v := NewMatcher(nil).Value(context.Background(), rule, &models.MetricSample{}); v != nil {
		t.Errorf("value without prober = %v, want nil", *v)
	}
}

func ptr(v float64) *float64 { return &v }

func TestEngine_DedupWithinDuration(t *testing.T) {
	store := setupStore(t)
	notifier := &fakeNotifier{}
	engine := NewEngine(store.AlertRules(), store.Alerts(), nil, notifier)
	ctx := context.Background()

	rule := createRule(t, store, models.NewAlertRule("High CPU", models.MetricCPU, ">", 80))
	sample := &models.MetricSample{CPUUsage: 95}
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	fired := engine.EvaluateAt(ctx, []*models.AlertRule{rule}, sample, t0)
	if len(fired) != 1 {
		t.Fatalf("first evaluation fired %d alerts, want 1", len(fired))
	}
	a := fired[0]
	if a.Title != "Alert: High CPU" || a.Severity != models.SeverityWarning || a.Value != 95 {
		t.Errorf("alert = %+v", a)
	}
	if !a.NotificationSent {
		t.Error("notification should be marked sent")
	}

	if fired := engine.EvaluateAt(ctx, []*models.AlertRule{rule}, sample, t0.Add(time.Minute)); len(fired) != 0 {
		t.Errorf("evaluation within duration fired %d alerts, want 0", len(fired))
	}
	if fired := engine.EvaluateAt(ctx, []*models.AlertRule{rule}, sample, t0.Add(10*time.Minute)); len(fired) != 1 {
		t.Errorf("evaluation after duration fired %d alerts, want 1", len(fired))
	}

	alerts, _ := store.Alerts().List(ctx, 10, false)
	if len(alerts) != 2 {
		t.Errorf("stored alerts = %d, want 2", len(alerts))
	}
	if len(notifier.sent) != 2 {
		t.Errorf("notifications = %d, want 2", len(notifier.sent))
	}

	stored, _ := store.AlertRules().GetByID(ctx, rule.ID)
	if stored.LastTriggeredAt == nil || !stored.LastTriggeredAt.Equal(t0.Add(10*time.Minute)) {
		t.Errorf("last triggered = %v", stored.LastTriggeredAt)
	}
}

func TestEngine_ResolvedAlertDoesNotSuppress(t *testing.T) {
	store := setupStore(t)
	engine := NewEngine(store.AlertRules(), store.Alerts(), nil, nil)
	ctx := context.Background()

	rule := createRule(t, store, models.NewAlertRule("Disk", models.MetricDisk, ">", 90))
	sample := &models.MetricSample{DiskUsage: 95}
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	fired := engine.EvaluateAt(ctx, []*models.AlertRule{rule}, sample, t0)
	if len(fired) != 1 {
		t.Fatalf("fired = %d, want 1", len(fired))
	}
	if fired[0].NotificationSent {
		t.Error("no notifier configured, alert should not be marked sent")
	}
	if err := store.Alerts().Resolve(ctx, fired[0].ID, t0); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if fired := engine.EvaluateAt(ctx, []*models.AlertRule{rule}, sample, t0.Add(time.Minute)); len(fired) != 1 {
		t.Errorf("fired after resolve = %d, want 1", len(fired))
	}
}

func TestEngine_NotificationFailure(t *testing.T) {
	store := setupStore(t)
	notifier := &fakeNotifier{err: errors.New("smtp down")}
	engine := NewEngine(store.AlertRules(), store.Alerts(), nil, notifier)
	ctx := context.Background()

	rule := createRule(t, store, models.NewAlertRule("Memory", models.MetricMemory, ">", 50))
	fired := engine.Evaluate(ctx, []*models.AlertRule{rule}, &models.MetricSample{MemoryUsage: 60})
	if len(fired) != 1 {
		t.Fatalf("fired = %d, want 1", len(fired))
	}

	stored, _ := store.Alerts().GetByID(ctx, fired[0].ID)
	if stored == nil || stored.NotificationSent {
		t.Errorf("stored alert = %+v, want notification_sent false", stored)
	}
}

func TestEngine_SkipsInactiveAndUnmatched(t *testing.T) {
	store := setupStore(t)
	engine := NewEngine(store.AlertRules(), store.Alerts(), &fakeProber{active: map[string]bool{"nginx": true}}, nil)
	ctx := context.Background()

	inactive := models.NewAlertRule("off", models.MetricCPU, ">", 10)
	inactive.IsActive = false
	createRule(t, store, inactive)
	low := createRule(t, store, models.NewAlertRule("low", models.MetricCPU, ">", 90))
	svc := models.NewAlertRule("nginx down", models.MetricService, "==", 0)
	svc.ServiceName = "nginx"
	createRule(t, store, svc)

	fired := engine.Evaluate(ctx, []*models.AlertRule{inactive, low, svc}, &models.MetricSample{CPUUsage: 50})
	if len(fired) != 0 {
		t.Errorf("fired = %d, want 0", len(fired))
	}
}

func TestEngine_Check(t *testing.T) {
	store := setupStore(t)
	engine := NewEngine(store.AlertRules(), store.Alerts(), nil, nil)
	ctx := context.Background()

	fired, err := engine.Check(ctx, store.Metrics())
	if err != nil || fired != nil {
		t.Fatalf("Check with no rules = %v, %v", fired, err)
	}

	createRule(t, store, models.NewAlertRule("cpu", models.MetricCPU, ">", 80))
	fired, err = engine.Check(ctx, store.Metrics())
	if err != nil || fired != nil {
		t.Fatalf("Check with no samples = %v, %v", fired, err)
	}

	if err := store.Metrics().Record(ctx, &models.MetricSample{CPUUsage: 85, RecordedAt: time.Now()}); err != nil {
		t.Fatalf("record: %v", err)
	}
	fired, err = engine.Check(ctx, store.Metrics())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(fired) != 1 || fired[0].Severity != models.SeverityInfo {
		t.Errorf("fired = %+v", fired)
	}
}

const rulesYAML = `
rules:
  - name: High CPU
    metric: cpu
    condition: ">"
    threshold: 80
    channel: both
    email: ops@example.com
    slack_webhook: https://hooks.slack.com/services/T/B/X
  - name: nginx
    metric: service
    condition: "=="
    threshold: 0
    service_name: nginx
    duration: 15
    enabled: false
  - name: Memory pressure
    metric: expr
    condition: ">"
    threshold: 90
    expression: memory_used / memory_total * 100
`

func TestLoadRulesFromBytes(t *testing.T) {
	rules, err := LoadRulesFromBytes([]byte(rulesYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(rules) != 3 {
		t.Fatalf("rules = %d, want 3", len(rules))
	}

	cpu := rules[0]
	if cpu.Channel != models.ChannelBoth || cpu.Duration != 5 || !cpu.IsActive {
		t.Errorf("cpu rule defaults = %+v", cpu)
	}
	if cpu.Email != "ops@example.com" || !strings.HasPrefix(cpu.SlackWebhookURL, "https://") {
		t.Errorf("cpu rule recipients = %+v", cpu)
	}
	if rules[1].Duration != 15 || rules[1].IsActive || rules[1].Channel != models.ChannelEmail {
		t.Errorf("service rule = %+v", rules[1])
	}
	if rules[2].Metric != models.MetricExpr {
		t.Errorf("expr rule metric = %s", rules[2].Metric)
	}
}

func TestLoadRules_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		yaml   string
		errMsg string
	}{
		{"missing name", "rules:\n  - metric: cpu\n    condition: '>'\n", "name is required"},
		{"bad metric", "rules:\n  - name: x\n    metric: load\n    condition: '>'\n", "invalid metric"},
		{"bad condition", "rules:\n  - name: x\n    metric: cpu\n    condition: '>='\n", "invalid condition"},
		{"service without name", "rules:\n  - name: x\n    metric: service\n    condition: '=='\n", "service_name is required"},
		{"bad expression", "rules:\n  - name: x\n    metric: expr\n    condition: '>'\n    expression: 'cpu_usage +'\n", "compile expression"},
		{"unknown field in expression", "rules:\n  - name: x\n    metric: expr\n    condition: '>'\n    expression: 'load_avg > 1'\n", "compile expression"},
		{"duplicate", "rules:\n  - {name: x, metric: cpu, condition: '>'}\n  - {name: x, metric: disk, condition: '>'}\n", "duplicate rule name"},
		{"bad yaml", "rules: [", "parse rules YAML"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadRules(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("error = %q, want containing %q", err, tt.errMsg)
			}
		})
	}
}

func TestLoadRules_Empty(t *testing.T) {
	rules, err := LoadRules(strings.NewReader(""))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(rules) != 0 {
		t.Errorf("rules = %d, want 0", len(rules))
	}
}

func TestRuleSync(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "alerts.yaml")
	if err := os.WriteFile(path, []byte(rulesYAML), 0644); err != nil {
		t.Fatalf("write rules: %v", err)
	}

	// A rule created over the API must survive syncs.
	createRule(t, store, models.NewAlertRule("manual", models.MetricDisk, ">", 95))

	rs := NewRuleSync(store.AlertRules(), path)
	res, err := rs.Sync(ctx)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.Created != 3 || res.Updated != 0 {
		t.Errorf("first sync = %+v", res)
	}

	before, _ := store.AlertRules().GetByName(ctx, "High CPU")

	res, err = rs.Sync(ctx)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if res.Created != 0 || res.Updated != 0 {
		t.Errorf("unchanged sync = %+v", res)
	}

	changed := strings.Replace(rulesYAML, "threshold: 80", "threshold: 85", 1)
	if err := os.WriteFile(path, []byte(changed), 0644); err != nil {
		t.Fatalf("rewrite rules: %v", err)
	}
	res, err = rs.Sync(ctx)
	if err != nil {
		t.Fatalf("third sync: %v", err)
	}
	if res.Updated != 1 {
		t.Errorf("changed sync = %+v", res)
	}

	after, _ := store.AlertRules().GetByName(ctx, "High CPU")
	if after.ID != before.ID || after.Threshold != 85 {
		t.Errorf("updated rule = %+v, want id %s threshold 85", after, before.ID)
	}

	all, _ := store.AlertRules().List(ctx)
	if len(all) != 4 {
		t.Errorf("rules = %d, want 4", len(all))
	}
}

func TestRuleSync_Watch(t *testing.T) {
	store := setupStore(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "alerts.yaml")
	if err := os.WriteFile(path, []byte("rules: []\n"), 0644); err != nil {
		t.Fatalf("write rules: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rs := NewRuleSync(store.AlertRules(), path)
	done := make(chan error, 1)
	go func() { done <- rs.Watch(ctx) }()

	// Give the watcher time to register.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte(rulesYAML), 0644); err != nil {
		t.Fatalf("rewrite rules: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		rules, _ := store.AlertRules().List(context.Background())
		if len(rules) == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("rules after watch = %d, want 3", len(rules))
		}
		time.Sleep(50 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("watch: %v", err)
		}
	case <-time.After(time.Second):
		t.Error("watch did not stop")
	}
}
