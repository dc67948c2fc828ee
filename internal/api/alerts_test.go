package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/good-yellow-bee/hostdeck/internal/models"
)

func TestAlertRules_CRUD(t *testing.T) {
	env := testServer(t)

	var rule models.AlertRule
	decode(t, env.do(t, "POST", "/api/v1/alert-rules", map[string]any{
		"name":      "High CPU",
		"metric":    "cpu",
		"condition": ">",
		"threshold": 80,
		"email":     "ops@example.com",
	}), http.StatusCreated, &rule)
	if rule.ID == "" || rule.Duration != 5 || rule.Channel != models.ChannelEmail || !rule.IsActive {
		t.Errorf("rule = %+v", rule)
	}

	var list ListResponse
	decode(t, env.do(t, "GET", "/api/v1/alert-rules", nil), http.StatusOK, &list)
	if list.Count != 1 {
		t.Errorf("rules = %d, want 1", list.Count)
	}

	var updated models.AlertRule
	decode(t, env.do(t, "PUT", "/api/v1/alert-rules/"+rule.ID, map[string]any{
		"threshold":     90,
		"channel":       "both",
		"slack_webhook": "https://hooks.slack.com/services/T/B/X",
	}), http.StatusOK, &updated)
	if updated.Threshold != 90 || updated.Channel != models.ChannelBoth || updated.Name != "High CPU" {
		t.Errorf("updated = %+v", updated)
	}

	var toggled models.AlertRule
	decode(t, env.do(t, "POST", "/api/v1/alert-rules/"+rule.ID+"/toggle", nil), http.StatusOK, &toggled)
	if toggled.IsActive {
		t.Error("toggle should deactivate")
	}
	active, _ := env.store.AlertRules().ListActive(context.Background())
	if len(active) != 0 {
		t.Errorf("active rules = %d, want 0", len(active))
	}

	decode(t, env.do(t, "DELETE", "/api/v1/alert-rules/"+rule.ID, nil), http.StatusNoContent, nil)
	decode(t, env.do(t, "GET", "/api/v1/alert-rules/"+rule.ID, nil), http.StatusNotFound, nil)
}

func TestAlertRules_Rejected(t *testing.T) {
	env := testServer(t)
	existing := models.NewAlertRule("Disk", models.MetricDisk, ">", 90)
	if err := env.store.AlertRules().Create(context.Background(), existing); err != nil {
		t.Fatalf("create: %v", err)
	}

	tests := []struct {
		name       string
		body       map[string]any
		wantStatus int
	}{
		{"bad metric", map[string]any{"name": "x", "metric": "load", "condition": ">"}, http.StatusBadRequest},
		{"bad condition", map[string]any{"name": "x", "metric": "cpu", "condition": ">="}, http.StatusBadRequest},
		{"service without name", map[string]any{"name": "x", "metric": "service", "condition": "=="}, http.StatusBadRequest},
		{"bad expression", map[string]any{"name": "x", "metric": "expr", "condition": ">", "expression": "cpu_usage +"}, http.StatusBadRequest},
		{"plain http slack", map[string]any{"name": "x", "metric": "cpu", "condition": ">", "slack_webhook": "http://hooks.slack.com/x"}, http.StatusBadRequest},
		{"duplicate", map[string]any{"name": "Disk", "metric": "disk", "condition": ">"}, http.StatusConflict},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, "POST", "/api/v1/alert-rules", tc.body)
			if rec.Code != tc.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tc.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestAlerts_ListAndResolve(t *testing.T) {
	env := testServer(t)
	ctx := context.Background()
	rule := models.NewAlertRule("High CPU", models.MetricCPU, ">", 80)
	env.store.AlertRules().Create(ctx, rule)

	alert := &models.Alert{
		RuleID:    rule.ID,
		Title:     "Alert: High CPU",
		Message:   "cpu is 95% (threshold: 80%)",
		Severity:  models.SeverityWarning,
		Value:     95,
		CreatedAt: time.Now(),
	}
	if err := env.store.Alerts().Create(ctx, alert); err != nil {
		t.Fatalf("create alert: %v", err)
	}

	var list ListResponse
	decode(t, env.do(t, "GET", "/api/v1/alerts?unresolved=true", nil), http.StatusOK, &list)
	if list.Count != 1 {
		t.Errorf("unresolved = %d, want 1", list.Count)
	}

	var resolved models.Alert
	decode(t, env.do(t, "POST", "/api/v1/alerts/"+alert.ID+"/resolve", nil), http.StatusOK, &resolved)
	if !resolved.IsResolved || resolved.ResolvedAt == nil {
		t.Errorf("resolved = %+v", resolved)
	}
	decode(t, env.do(t, "POST", "/api/v1/alerts/"+alert.ID+"/resolve", nil), http.StatusConflict, nil)
	decode(t, env.do(t, "POST", "/api/v1/alerts/missing/resolve", nil), http.StatusNotFound, nil)

	decode(t, env.do(t, "GET", "/api/v1/alerts?unresolved=true", nil), http.StatusOK, &list)
	if list.Count != 0 {
		t.Errorf("unresolved after resolve = %d, want 0", list.Count)
	}
	decode(t, env.do(t, "GET", "/api/v1/alerts", nil), http.StatusOK, &list)
	if list.Count != 1 {
		t.Errorf("all = %d, want 1", list.Count)
	}
}

func TestMetrics_LatestAndRecent(t *testing.T) {
	env := testServer(t)
	ctx := context.Background()

	decode(t, env.do(t, "GET", "/api/v1/metrics/latest", nil), http.StatusNotFound, nil)

	now := time.Now()
	for i, cpu := range []float64{10, 20, 30} {
		sample := &models.MetricSample{CPUUsage: cpu, RecordedAt: now.Add(time.Duration(i-2) * 20 * time.Minute)}
		if err := env.store.Metrics().Record(ctx, sample); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	var latest models.MetricSample
	decode(t, env.do(t, "GET", "/api/v1/metrics/latest", nil), http.StatusOK, &latest)
	if latest.CPUUsage != 30 {
		t.Errorf("latest cpu = %v, want 30", latest.CPUUsage)
	}

	var recent ListResponse
	decode(t, env.do(t, "GET", "/api/v1/metrics/recent?window=30m", nil), http.StatusOK, &recent)
	if recent.Count != 2 {
		t.Errorf("recent = %d, want 2", recent.Count)
	}
	decode(t, env.do(t, "GET", "/api/v1/metrics/recent", nil), http.StatusOK, &recent)
	if recent.Count != 3 {
		t.Errorf("recent default window = %d, want 3", recent.Count)
	}
	decode(t, env.do(t, "GET", "/api/v1/metrics/recent?window=soon", nil), http.StatusBadRequest, nil)
}
