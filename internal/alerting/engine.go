// Package alerting evaluates alert rules against host metric samples,
// suppresses duplicates and hands new alerts to the notification layer.
package alerting

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/good-yellow-bee/hostdeck/internal/metrics"
	"github.com/good-yellow-bee/hostdeck/internal/models"
	"github.com/good-yellow-bee/hostdeck/internal/storage"
)

// Notifier delivers a fired alert over the rule's channels. It returns an
// error if any attempted channel failed.
type Notifier interface {
	Notify(ctx context.Context, rule *models.AlertRule, alert *models.Alert) error
}

// Engine is the alert rules engine.
type Engine struct {
	rules    storage.AlertRuleRepository
	alerts   storage.AlertRepository
	matcher  *Matcher
	notifier Notifier
	now      func() time.Time
}

// NewEngine creates an alert engine. notifier may be nil to only record alerts.
func NewEngine(rules storage.AlertRuleRepository, alerts storage.AlertRepository, prober ServiceProber, notifier Notifier) *Engine {
	return &Engine{
		rules:    rules,
		alerts:   alerts,
		matcher:  NewMatcher(prober),
		notifier: notifier,
		now:      time.Now,
	}
}

// Check evaluates all active rules against the latest sample. It does
// nothing when there are no active rules or no samples yet.
func (e *Engine) Check(ctx context.Context, samples storage.MetricRepository) ([]*models.Alert, error) {
	rules, err := e.rules.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active rules: %w", err)
	}
	if len(rules) == 0 {
		return nil, nil
	}

	sample, err := samples.Latest(ctx)
	if err != nil {
		return nil, fmt.Errorf("get latest sample: %w", err)
	}
	if sample == nil {
		return nil, nil
	}

	return e.Evaluate(ctx, rules, sample), nil
}

// Evaluate evaluates rules against a sample and returns the alerts fired.
func (e *Engine) Evaluate(ctx context.Context, rules []*models.AlertRule, sample *models.MetricSample) []*models.Alert {
	return e.EvaluateAt(ctx, rules, sample, e.now())
}

// EvaluateAt evaluates rules at a specific time (useful for testing).
// A failing rule is logged and does not affect the others.
func (e *Engine) EvaluateAt(ctx context.Context, rules []*models.AlertRule, sample *models.MetricSample, now time.Time) []*models.Alert {
	var fired []*models.Alert
	for _, rule := range rules {
		if !rule.IsActive {
			continue
		}
		alert, err := e.evaluateRule(ctx, rule, sample, now)
		if err != nil {
			log.Printf("error: evaluate alert rule %s: %v", rule.Name, err)
			continue
		}
		if alert != nil {
			fired = append(fired, alert)
		}
	}
	return fired
}

func (e *Engine) evaluateRule(ctx context.Context, rule *models.AlertRule, sample *models.MetricSample, now time.Time) (*models.Alert, error) {
	value := e.matcher.Value(ctx, rule, sample)
	if value == nil {
		return nil, nil
	}
	if !compareThreshold(*value, rule.Threshold, rule.Operator) {
		return nil, nil
	}

	since := now.Add(-time.Duration(rule.Duration) * time.Minute)
	recent, err := e.alerts.HasUnresolvedSince(ctx, rule.ID, since)
	if err != nil {
		return nil, fmt.Errorf("check recent alerts: %w", err)
	}
	if recent {
		metrics.AlertsSuppressedTotal.Inc()
		return nil, nil
	}

	return e.trigger(ctx, rule, *value, now)
}

// trigger persists a new alert, stamps the rule and dispatches notifications.
func (e *Engine) trigger(ctx context.Context, rule *models.AlertRule, value float64, now time.Time) (*models.Alert, error) {
	alert := &models.Alert{
		RuleID:    rule.ID,
		Title:     "Alert: " + rule.Name,
		Message:   formatMessage(rule, value),
		Severity:  severityFor(rule, value),
		Value:     value,
		CreatedAt: now,
	}
	if err := e.alerts.Create(ctx, alert); err != nil {
		return nil, fmt.Errorf("create alert: %w", err)
	}
	metrics.AlertsFiredTotal.WithLabelValues(string(alert.Severity)).Inc()
	log.Printf("alert fired: %s (%s) %s", rule.Name, alert.Severity, alert.Message)

	if err := e.rules.MarkTriggered(ctx, rule.ID, now); err != nil {
		log.Printf("warning: stamp alert rule %s: %v", rule.Name, err)
	}
	rule.LastTriggeredAt = &now

	if e.notifier == nil {
		return alert, nil
	}
	if err := e.notifier.Notify(ctx, rule, alert); err != nil {
		log.Printf("error: send notifications for alert %s: %v", alert.ID, err)
		return alert, nil
	}
	if err := e.alerts.MarkNotified(ctx, alert.ID, true); err != nil {
		log.Printf("warning: mark alert %s notified: %v", alert.ID, err)
		return alert, nil
	}
	alert.NotificationSent = true
	return alert, nil
}
