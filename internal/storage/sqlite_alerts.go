package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/hostdeck/internal/models"
)

type sqliteAlertRuleRepo struct {
	db *sql.DB
}

const alertRuleColumns = `id, name, metric, condition, threshold, service_name, expression,
	duration, channel, email, slack_webhook, is_active, last_triggered_at, created_at, updated_at`

func (r *sqliteAlertRuleRepo) Create(ctx context.Context, rule *models.AlertRule) error {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO alert_rules (`+alertRuleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rule.ID, rule.Name, string(rule.Metric), rule.Operator, rule.Threshold,
		nullString(rule.ServiceName), nullString(rule.Expression), rule.Duration,
		string(rule.Channel), nullString(rule.Email), nullString(rule.SlackWebhookURL),
		boolToInt(rule.IsActive), nullTime(rule.LastTriggeredAt),
		rule.CreatedAt.UTC(), rule.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert alert rule: %w", err)
	}
	return nil
}

func (r *sqliteAlertRuleRepo) GetByID(ctx context.Context, id string) (*models.AlertRule, error) {
	return scanAlertRuleOrNil(r.db.QueryRowContext(ctx,
		"SELECT "+alertRuleColumns+" FROM alert_rules WHERE id = ?", id))
}

func (r *sqliteAlertRuleRepo) GetByName(ctx context.Context, name string) (*models.AlertRule, error) {
	return scanAlertRuleOrNil(r.db.QueryRowContext(ctx,
		"SELECT "+alertRuleColumns+" FROM alert_rules WHERE name = ?", name))
}

func (r *sqliteAlertRuleRepo) Update(ctx context.Context, rule *models.AlertRule) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE alert_rules SET name = ?, metric = ?, condition = ?, threshold = ?,
			service_name = ?, expression = ?, duration = ?, channel = ?, email = ?,
			slack_webhook = ?, is_active = ?, updated_at = ?
		WHERE id = ?
	`,
		rule.Name, string(rule.Metric), rule.Operator, rule.Threshold,
		nullString(rule.ServiceName), nullString(rule.Expression), rule.Duration,
		string(rule.Channel), nullString(rule.Email), nullString(rule.SlackWebhookURL),
		boolToInt(rule.IsActive), rule.UpdatedAt.UTC(),
		rule.ID,
	)
	if err != nil {
		return fmt.Errorf("update alert rule: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("alert rule not found: %s", rule.ID)
	}
	return nil
}

func (r *sqliteAlertRuleRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM alert_rules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete alert rule: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("alert rule not found: %s", id)
	}
	return nil
}

func (r *sqliteAlertRuleRepo) List(ctx context.Context) ([]*models.AlertRule, error) {
	return r.query(ctx, "SELECT "+alertRuleColumns+" FROM alert_rules ORDER BY name")
}

func (r *sqliteAlertRuleRepo) ListActive(ctx context.Context) ([]*models.AlertRule, error) {
	return r.query(ctx, "SELECT "+alertRuleColumns+" FROM alert_rules WHERE is_active = 1 ORDER BY name")
}

func (r *sqliteAlertRuleRepo) SetActive(ctx context.Context, id string, active bool) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE alert_rules SET is_active = ?, updated_at = ? WHERE id = ?",
		boolToInt(active), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("set alert rule active: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("alert rule not found: %s", id)
	}
	return nil
}

func (r *sqliteAlertRuleRepo) MarkTriggered(ctx context.Context, id string, at time.Time) error {
	if _, err := r.db.ExecContext(ctx,
		"UPDATE alert_rules SET last_triggered_at = ? WHERE id = ?", at.UTC(), id); err != nil {
		return fmt.Errorf("mark alert rule triggered: %w", err)
	}
	return nil
}

func (r *sqliteAlertRuleRepo) query(ctx context.Context, query string) ([]*models.AlertRule, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query alert rules: %w", err)
	}
	defer rows.Close()

	var rules []*models.AlertRule
	for rows.Next() {
		rule, err := scanAlertRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func scanAlertRuleOrNil(row *sql.Row) (*models.AlertRule, error) {
	rule, err := scanAlertRule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rule, err
}

func scanAlertRule(s scanner) (*models.AlertRule, error) {
	rule := &models.AlertRule{}
	var metric, channel string
	var serviceName, expression, email, slack sql.NullString
	var active int
	var lastTriggered sql.NullTime

	err := s.Scan(
		&rule.ID, &rule.Name, &metric, &rule.Operator, &rule.Threshold, &serviceName, &expression,
		&rule.Duration, &channel, &email, &slack, &active, &lastTriggered,
		&rule.CreatedAt, &rule.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan alert rule: %w", err)
	}

	rule.Metric = models.ParseMetric(metric)
	rule.Channel = models.ParseChannel(channel)
	rule.ServiceName = serviceName.String
	rule.Expression = expression.String
	rule.Email = email.String
	rule.SlackWebhookURL = slack.String
	rule.IsActive = active != 0
	rule.LastTriggeredAt = timePtr(lastTriggered)
	return rule, nil
}

type sqliteAlertRepo struct {
	db *sql.DB
}

const alertColumns = `id, alert_rule_id, title, message, severity, value, is_resolved,
	resolved_at, notification_sent, created_at`

func (r *sqliteAlertRepo) Create(ctx context.Context, alert *models.Alert) error {
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO alerts (`+alertColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		alert.ID, alert.RuleID, alert.Title, alert.Message, string(alert.Severity), alert.Value,
		boolToInt(alert.IsResolved), nullTime(alert.ResolvedAt), boolToInt(alert.NotificationSent),
		alert.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (r *sqliteAlertRepo) GetByID(ctx context.Context, id string) (*models.Alert, error) {
	alert, err := scanAlert(r.db.QueryRowContext(ctx,
		"SELECT "+alertColumns+" FROM alerts WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return alert, err
}

func (r *sqliteAlertRepo) List(ctx context.Context, limit int, unresolvedOnly bool) ([]*models.Alert, error) {
	query := "SELECT " + alertColumns + " FROM alerts"
	if unresolvedOnly {
		query += " WHERE is_resolved = 0"
	}
	query += " ORDER BY created_at DESC LIMIT ?"

	rows, err := r.db.QueryContext(ctx, query, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*models.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

func (r *sqliteAlertRepo) HasUnresolvedSince(ctx context.Context, ruleID string, since time.Time) (bool, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM alerts
		WHERE alert_rule_id = ? AND is_resolved = 0 AND created_at >= ?
	`, ruleID, since.UTC()).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("count recent alerts: %w", err)
	}
	return count > 0, nil
}

func (r *sqliteAlertRepo) Resolve(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE alerts SET is_resolved = 1, resolved_at = ? WHERE id = ? AND is_resolved = 0",
		at.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("resolve alert: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("unresolved alert not found: %s", id)
	}
	return nil
}

func (r *sqliteAlertRepo) MarkNotified(ctx context.Context, id string, sent bool) error {
	if _, err := r.db.ExecContext(ctx,
		"UPDATE alerts SET notification_sent = ? WHERE id = ?", boolToInt(sent), id); err != nil {
		return fmt.Errorf("mark alert notified: %w", err)
	}
	return nil
}

func scanAlert(s scanner) (*models.Alert, error) {
	alert := &models.Alert{}
	var severity string
	var resolved, notified int
	var resolvedAt sql.NullTime

	err := s.Scan(
		&alert.ID, &alert.RuleID, &alert.Title, &alert.Message, &severity, &alert.Value,
		&resolved, &resolvedAt, &notified, &alert.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan alert: %w", err)
	}

	alert.Severity = models.ParseSeverity(severity)
	alert.IsResolved = resolved != 0
	alert.ResolvedAt = timePtr(resolvedAt)
	alert.NotificationSent = notified != 0
	return alert, nil
}
