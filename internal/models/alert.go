package models

import (
	"fmt"
	"strings"
	"time"
)

// Metric names an alert rule's data source.
type Metric string

const (
	MetricCPU     Metric = "cpu"
	MetricMemory  Metric = "memory"
	MetricDisk    Metric = "disk"
	MetricService Metric = "service"
	MetricExpr    Metric = "expr"
)

// Channel selects where alert notifications go.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSlack Channel = "slack"
	ChannelBoth  Channel = "both"
)

// Severity represents alert severity level.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// AlertRule represents a persistent alert configuration.
type AlertRule struct {
	ID              string     `json:"id" yaml:"-"`
	Name            string     `json:"name" yaml:"name"`
	Metric          Metric     `json:"metric" yaml:"metric"`
	Operator        string     `json:"condition" yaml:"condition"`
	Threshold       float64    `json:"threshold" yaml:"threshold"`
	ServiceName     string     `json:"service_name,omitempty" yaml:"service_name,omitempty"`
	Expression      string     `json:"expression,omitempty" yaml:"expression,omitempty"`
	Duration        int        `json:"duration" yaml:"duration"` // minutes
	Channel         Channel    `json:"channel" yaml:"channel"`
	Email           string     `json:"email,omitempty" yaml:"email,omitempty"`
	SlackWebhookURL string     `json:"slack_webhook,omitempty" yaml:"slack_webhook,omitempty"`
	IsActive        bool       `json:"is_active" yaml:"is_active"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty" yaml:"-"`
	CreatedAt       time.Time  `json:"created_at" yaml:"-"`
	UpdatedAt       time.Time  `json:"updated_at" yaml:"-"`
}

// NewAlertRule creates a new active AlertRule with initialized timestamps.
func NewAlertRule(name string, metric Metric, operator string, threshold float64) *AlertRule {
	now := time.Now()
	return &AlertRule{
		Name:      name,
		Metric:    metric,
		Operator:  operator,
		Threshold: threshold,
		Duration:  5,
		Channel:   ChannelEmail,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate checks the rule definition.
func (r *AlertRule) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("rule name is required")
	}
	switch r.Metric {
	case MetricCPU, MetricMemory, MetricDisk:
	case MetricService:
		if r.ServiceName == "" {
			return fmt.Errorf("service_name is required for service rule %q", r.Name)
		}
	case MetricExpr:
		if r.Expression == "" {
			return fmt.Errorf("expression is required for expr rule %q", r.Name)
		}
	default:
		return fmt.Errorf("invalid metric %q for rule %q", r.Metric, r.Name)
	}
	switch r.Operator {
	case ">", "<", "==", "!=":
	default:
		return fmt.Errorf("invalid condition %q for rule %q", r.Operator, r.Name)
	}
	if r.Duration < 0 {
		return fmt.Errorf("duration must not be negative for rule %q", r.Name)
	}
	switch r.Channel {
	case ChannelEmail, ChannelSlack, ChannelBoth:
	default:
		return fmt.Errorf("invalid channel %q for rule %q", r.Channel, r.Name)
	}
	return nil
}

// WantsEmail reports whether email is one of the rule's channels.
func (r *AlertRule) WantsEmail() bool {
	return r.Channel == ChannelEmail || r.Channel == ChannelBoth
}

// WantsSlack reports whether Slack is one of the rule's channels.
func (r *AlertRule) WantsSlack() bool {
	return r.Channel == ChannelSlack || r.Channel == ChannelBoth
}

// Alert is a firing event raised for a rule.
type Alert struct {
	ID               string     `json:"id"`
	RuleID           string     `json:"alert_rule_id"`
	Title            string     `json:"title"`
	Message          string     `json:"message"`
	Severity         Severity   `json:"severity"`
	Value            float64    `json:"value"`
	IsResolved       bool       `json:"is_resolved"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty"`
	NotificationSent bool       `json:"notification_sent"`
	CreatedAt        time.Time  `json:"created_at"`
}

// ParseMetric converts a string to Metric.
func ParseMetric(s string) Metric {
	switch s {
	case "memory":
		return MetricMemory
	case "disk":
		return MetricDisk
	case "service":
		return MetricService
	case "expr":
		return MetricExpr
	default:
		return MetricCPU
	}
}

// ParseChannel converts a string to Channel.
func ParseChannel(s string) Channel {
	switch s {
	case "slack":
		return ChannelSlack
	case "both":
		return ChannelBoth
	default:
		return ChannelEmail
	}
}

// ParseSeverity converts a string to Severity.
func ParseSeverity(s string) Severity {
	switch s {
	case "warning":
		return SeverityWarning
	case "critical":
		return SeverityCritical
	default:
		return SeverityInfo
	}
}
