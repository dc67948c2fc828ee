package alerting

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/good-yellow-bee/hostdeck/internal/models"
)

// ExprMatcher compiles and evaluates expr-lang expressions over metric samples.
// The sample's fields are exposed by column name, e.g.
// "memory_used / memory_total * 100".
type ExprMatcher struct {
	expression string
	program    *vm.Program
}

// NewExprMatcher creates a new ExprMatcher for the given expression.
func NewExprMatcher(expression string) (*ExprMatcher, error) {
	m := &ExprMatcher{expression: expression}
	if err := m.compile(); err != nil {
		return nil, err
	}
	return m, nil
}

// compile type checks the expression against a zero sample.
func (m *ExprMatcher) compile() error {
	program, err := expr.Compile(m.expression, expr.Env(buildEnv(&models.MetricSample{})))
	if err != nil {
		return fmt.Errorf("compile expression: %w", err)
	}
	m.program = program
	return nil
}

// Eval evaluates the expression against a sample. Boolean results map to 1 and 0.
func (m *ExprMatcher) Eval(sample *models.MetricSample) (float64, error) {
	result, err := expr.Run(m.program, buildEnv(sample))
	if err != nil {
		return 0, fmt.Errorf("evaluate expression: %w", err)
	}

	switch v := result.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("expression did not return a number: got %T", result)
	}
}

// Expression returns the original expression string.
func (m *ExprMatcher) Expression() string {
	return m.expression
}

// ValidateExpression reports whether expression compiles.
func ValidateExpression(expression string) error {
	_, err := NewExprMatcher(expression)
	return err
}

func buildEnv(sample *models.MetricSample) map[string]any {
	fields := sample.Fields()
	env := make(map[string]any, len(fields))
	for k, v := range fields {
		env[k] = v
	}
	return env
}

// exprCache keeps compiled programs keyed by expression text.
type exprCache struct {
	mu       sync.Mutex
	matchers map[string]*ExprMatcher
}

func newExprCache() *exprCache {
	return &exprCache{matchers: make(map[string]*ExprMatcher)}
}

func (c *exprCache) eval(expression string, sample *models.MetricSample) (float64, error) {
	c.mu.Lock()
	m, ok := c.matchers[expression]
	c.mu.Unlock()

	if !ok {
		var err error
		m, err = NewExprMatcher(expression)
		if err != nil {
			return 0, err
		}
		c.mu.Lock()
		c.matchers[expression] = m
		c.mu.Unlock()
	}
	return m.Eval(sample)
}
