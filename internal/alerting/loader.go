package alerting

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/good-yellow-bee/hostdeck/internal/models"
)

// RulesConfig is the YAML document holding alert rules.
type RulesConfig struct {
	Rules []RuleSpec `yaml:"rules"`
}

// RuleSpec is a single rule as written in a rules file.
type RuleSpec struct {
	Name         string  `yaml:"name"`
	Metric       string  `yaml:"metric"`
	Condition    string  `yaml:"condition"`
	Threshold    float64 `yaml:"threshold"`
	ServiceName  string  `yaml:"service_name,omitempty"`
	Expression   string  `yaml:"expression,omitempty"`
	Duration     *int    `yaml:"duration,omitempty"`
	Channel      string  `yaml:"channel,omitempty"`
	Email        string  `yaml:"email,omitempty"`
	SlackWebhook string  `yaml:"slack_webhook,omitempty"`
	Enabled      *bool   `yaml:"enabled,omitempty"`
}

// Rule converts the file entry into a model, applying defaults.
func (s RuleSpec) Rule() *models.AlertRule {
	rule := models.NewAlertRule(s.Name, models.Metric(s.Metric), s.Condition, s.Threshold)
	rule.ServiceName = s.ServiceName
	rule.Expression = s.Expression
	if s.Duration != nil {
		rule.Duration = *s.Duration
	}
	if s.Channel != "" {
		rule.Channel = models.Channel(s.Channel)
	}
	rule.Email = s.Email
	rule.SlackWebhookURL = s.SlackWebhook
	if s.Enabled != nil {
		rule.IsActive = *s.Enabled
	}
	return rule
}

// LoadRulesFromFile loads alert rules from a YAML file.
func LoadRulesFromFile(path string) ([]*models.AlertRule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open rules file: %w", err)
	}
	defer f.Close()

	return LoadRules(f)
}

// LoadRules loads alert rules from a reader.
func LoadRules(r io.Reader) ([]*models.AlertRule, error) {
	var config RulesConfig
	decoder := yaml.NewDecoder(r)
	if err := decoder.Decode(&config); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to parse rules YAML: %w", err)
	}
	return config.build()
}

// LoadRulesFromBytes loads alert rules from YAML bytes.
func LoadRulesFromBytes(data []byte) ([]*models.AlertRule, error) {
	var config RulesConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse rules YAML: %w", err)
	}
	return config.build()
}

func (c *RulesConfig) build() ([]*models.AlertRule, error) {
	rules := make([]*models.AlertRule, 0, len(c.Rules))
	seen := make(map[string]bool, len(c.Rules))
	for i, entry := range c.Rules {
		rule := entry.Rule()
		if err := ValidateRule(rule); err != nil {
			return nil, fmt.Errorf("invalid rule at index %d: %w", i, err)
		}
		if seen[rule.Name] {
			return nil, fmt.Errorf("duplicate rule name %q", rule.Name)
		}
		seen[rule.Name] = true
		rules = append(rules, rule)
	}
	return rules, nil
}

// ValidateRule checks a rule definition, compiling its expression if any.
func ValidateRule(rule *models.AlertRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	if rule.Metric == models.MetricExpr {
		if err := ValidateExpression(rule.Expression); err != nil {
			return fmt.Errorf("rule %q: %w", rule.Name, err)
		}
	}
	return nil
}
