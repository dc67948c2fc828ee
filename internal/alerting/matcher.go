package alerting

import (
	"context"
	"fmt"
	"log"
	"math"
	"strconv"

	"github.com/good-yellow-bee/hostdeck/internal/models"
)

// equalityTolerance is the tolerance used by == and != on metric values.
const equalityTolerance = 0.01

// ServiceProber reports whether a system service is running.
type ServiceProber interface {
	IsActive(ctx context.Context, name string) (bool, error)
}

// Matcher resolves rule values from samples and compares them with thresholds.
type Matcher struct {
	prober ServiceProber
	exprs  *exprCache
}

// NewMatcher creates a Matcher. prober may be nil, in which case service
// rules are skipped.
func NewMatcher(prober ServiceProber) *Matcher {
	return &Matcher{prober: prober, exprs: newExprCache()}
}

// Value returns the rule's current value, or nil when it cannot be determined.
func (m *Matcher) Value(ctx context.Context, rule *models.AlertRule, sample *models.MetricSample) *float64 {
	switch rule.Metric {
	case models.MetricCPU:
		return &sample.CPUUsage
	case models.MetricMemory:
		return &sample.MemoryUsage
	case models.MetricDisk:
		return &sample.DiskUsage
	case models.MetricService:
		return m.serviceValue(ctx, rule.ServiceName)
	case models.MetricExpr:
		v, err := m.exprs.eval(rule.Expression, sample)
		if err != nil {
			log.Printf("warning: rule %s: %v", rule.Name, err)
			return nil
		}
		return &v
	default:
		return nil
	}
}

func (m *Matcher) serviceValue(ctx context.Context, name string) *float64 {
	if name == "" || m.prober == nil {
		return nil
	}
	active, err := m.prober.IsActive(ctx, name)
	if err != nil {
		log.Printf("error: check service status %s: %v", name, err)
		return nil
	}
	v := 0.0
	if active {
		v = 1.0
	}
	return &v
}

// compareThreshold compares a value against a threshold using the given operator.
func compareThreshold(value, threshold float64, operator string) bool {
	switch operator {
	case ">":
		return value > threshold
	case "<":
		return value < threshold
	case "==":
		return math.Abs(value-threshold) < equalityTolerance
	case "!=":
		return math.Abs(value-threshold) >= equalityTolerance
	default:
		return false
	}
}

// severityFor grades how far a value is past its threshold. A stopped
// service is always critical.
func severityFor(rule *models.AlertRule, value float64) models.Severity {
	if rule.Metric == models.MetricService && value == 0 {
		return models.SeverityCritical
	}

	diff := math.Abs(value - rule.Threshold)
	switch {
	case diff > 20:
		return models.SeverityCritical
	case diff > 10:
		return models.SeverityWarning
	default:
		return models.SeverityInfo
	}
}

// formatMessage describes the value that fired the rule.
func formatMessage(rule *models.AlertRule, value float64) string {
	if rule.Metric == models.MetricService {
		if value > 0 {
			return fmt.Sprintf("%s is running", rule.ServiceName)
		}
		return fmt.Sprintf("%s is down", rule.ServiceName)
	}
	return fmt.Sprintf("%s is %s%% (threshold: %s%%)", rule.Metric, formatNumber(value), formatNumber(rule.Threshold))
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
