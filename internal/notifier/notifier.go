// Package notifier delivers fired alerts over email and Slack.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/good-yellow-bee/hostdeck/internal/metrics"
	"github.com/good-yellow-bee/hostdeck/internal/models"
)

// Channel names used to register notifiers.
const (
	ChannelEmail = "email"
	ChannelSlack = "slack"
)

// Notification is an alert together with the rule that raised it.
type Notification struct {
	Rule  *models.AlertRule
	Alert *models.Alert
}

// Notifier is the interface for all notification channels.
type Notifier interface {
	// Name returns the channel name, "email" or "slack".
	Name() string
	// Send delivers a notification.
	Send(ctx context.Context, n *Notification) error
	// Close releases any resources.
	Close() error
}

var (
	// ErrRateLimited is returned when a notification is dropped due to rate limiting.
	ErrRateLimited = errors.New("notification rate limited")
	// ErrNotConfigured is returned when a rule routes to a channel with no notifier.
	ErrNotConfigured = errors.New("notification channel not configured")
)

// Dispatcher routes alerts to the channels their rule asks for.
type Dispatcher struct {
	mu          sync.RWMutex
	notifiers   map[string]Notifier
	rateLimiter *RateLimiter
}

// NewDispatcher creates a new notification dispatcher with default rate limiting.
func NewDispatcher() *Dispatcher {
	return NewDispatcherWithRateLimit(DefaultRateLimitConfig())
}

// NewDispatcherWithRateLimit creates a dispatcher with custom rate limit configuration.
func NewDispatcherWithRateLimit(config RateLimitConfig) *Dispatcher {
	return &Dispatcher{
		notifiers:   make(map[string]Notifier),
		rateLimiter: NewRateLimiter(config),
	}
}

// Register adds a notifier to the dispatcher.
func (d *Dispatcher) Register(n Notifier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notifiers[n.Name()] = n
}

// Get returns a notifier by name.
func (d *Dispatcher) Get(name string) (Notifier, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.notifiers[name]
	return n, ok
}

// Routes returns the channels a rule should notify. A channel is only
// routed when the rule also carries its recipient.
func Routes(rule *models.AlertRule) []string {
	var routes []string
	if rule.WantsEmail() && rule.Email != "" {
		routes = append(routes, ChannelEmail)
	}
	if rule.WantsSlack() && rule.SlackWebhookURL != "" {
		routes = append(routes, ChannelSlack)
	}
	return routes
}

// Notify sends the alert to every routed channel. Channels are attempted
// independently and the returned error joins every failure.
func (d *Dispatcher) Notify(ctx context.Context, rule *models.AlertRule, alert *models.Alert) error {
	routes := Routes(rule)
	if len(routes) == 0 {
		return nil
	}

	if d.rateLimiter != nil && !d.rateLimiter.Allow() {
		return ErrRateLimited
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	n := &Notification{Rule: rule, Alert: alert}
	var errs []error
	for _, name := range routes {
		notifier, ok := d.notifiers[name]
		if !ok {
			metrics.NotificationErrorsTotal.WithLabelValues(name).Inc()
			errs = append(errs, fmt.Errorf("%s: %w", name, ErrNotConfigured))
			continue
		}
		if err := notifier.Send(ctx, n); err != nil {
			metrics.NotificationErrorsTotal.WithLabelValues(name).Inc()
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// RateLimitStats returns the rate limiter statistics.
func (d *Dispatcher) RateLimitStats() RateLimitStats {
	if d.rateLimiter == nil {
		return RateLimitStats{}
	}
	return d.rateLimiter.Stats()
}

// Close closes all registered notifiers.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for name, n := range d.notifiers {
		if err := n.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	d.notifiers = make(map[string]Notifier)
	return errors.Join(errs...)
}
