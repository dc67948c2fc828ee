package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/good-yellow-bee/hostdeck/internal/alerting"
	"github.com/good-yellow-bee/hostdeck/internal/models"
	"github.com/good-yellow-bee/hostdeck/internal/notifier"
)

// maxRecentWindow bounds the metrics history endpoint.
const maxRecentWindow = 7 * 24 * time.Hour

// AlertRuleRequest creates or updates an alert rule. On update, nil fields are kept.
type AlertRuleRequest struct {
	Name         *string  `json:"name"`
	Metric       *string  `json:"metric"`
	Condition    *string  `json:"condition"`
	Threshold    *float64 `json:"threshold"`
	ServiceName  *string  `json:"service_name"`
	Expression   *string  `json:"expression"`
	Duration     *int     `json:"duration"`
	Channel      *string  `json:"channel"`
	Email        *string  `json:"email"`
	SlackWebhook *string  `json:"slack_webhook"`
	IsActive     *bool    `json:"is_active"`
}

func (req *AlertRuleRequest) apply(rule *models.AlertRule) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	set(&rule.Name, req.Name)
	set(&rule.Operator, req.Condition)
	set(&rule.ServiceName, req.ServiceName)
	set(&rule.Expression, req.Expression)
	set(&rule.Email, req.Email)
	set(&rule.SlackWebhookURL, req.SlackWebhook)
	if req.Metric != nil {
		rule.Metric = models.Metric(strings.TrimSpace(*req.Metric))
	}
	if req.Channel != nil {
		rule.Channel = models.Channel(strings.TrimSpace(*req.Channel))
	}
	if req.Threshold != nil {
		rule.Threshold = *req.Threshold
	}
	if req.Duration != nil {
		rule.Duration = *req.Duration
	}
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}
}

func validateAlertRule(rule *models.AlertRule) error {
	if err := alerting.ValidateRule(rule); err != nil {
		return err
	}
	if rule.SlackWebhookURL != "" {
		if err := notifier.ValidateWebhookURL(rule.SlackWebhookURL); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) loadAlertRule(w http.ResponseWriter, r *http.Request) *models.AlertRule {
	rule, err := s.storage.AlertRules().GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		internalError(w, "get alert rule", err)
		return nil
	}
	if rule == nil {
		JSONError(w, NewNotFound("alert rule not found"))
		return nil
	}
	return rule
}

func (s *Server) ruleNameTaken(r *http.Request, name, exceptID string) (bool, error) {
	existing, err := s.storage.AlertRules().GetByName(r.Context(), name)
	if err != nil {
		return false, err
	}
	return existing != nil && existing.ID != exceptID, nil
}

func (s *Server) listAlertRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.storage.AlertRules().List(r.Context())
	if err != nil {
		internalError(w, "list alert rules", err)
		return
	}
	OK(w, ListResponse{Items: rules, Count: len(rules)})
}

func (s *Server) createAlertRule(w http.ResponseWriter, r *http.Request) {
	var req AlertRuleRequest
	if err := decodeBody(r, &req); err != nil {
		JSONError(w, ErrInvalidBody)
		return
	}

	rule := models.NewAlertRule("", "", "", 0)
	req.apply(rule)
	if err := validateAlertRule(rule); err != nil {
		JSONError(w, NewValidationError(err.Error()))
		return
	}

	taken, err := s.ruleNameTaken(r, rule.Name, "")
	if err != nil {
		internalError(w, "create alert rule: check name", err)
		return
	}
	if taken {
		JSONError(w, NewConflict("alert rule name already exists"))
		return
	}

	if err := s.storage.AlertRules().Create(r.Context(), rule); err != nil {
		internalError(w, "create alert rule", err)
		return
	}
	logAdmin(r, "alert rule created: %s (%s)", rule.Name, rule.ID)
	Created(w, rule)
}

func (s *Server) getAlertRule(w http.ResponseWriter, r *http.Request) {
	if rule := s.loadAlertRule(w, r); rule != nil {
		OK(w, rule)
	}
}

func (s *Server) updateAlertRule(w http.ResponseWriter, r *http.Request) {
	rule := s.loadAlertRule(w, r)
	if rule == nil {
		return
	}

	var req AlertRuleRequest
	if err := decodeBody(r, &req); err != nil {
		JSONError(w, ErrInvalidBody)
		return
	}
	req.apply(rule)
	if err := validateAlertRule(rule); err != nil {
		JSONError(w, NewValidationError(err.Error()))
		return
	}

	taken, err := s.ruleNameTaken(r, rule.Name, rule.ID)
	if err != nil {
		internalError(w, "update alert rule: check name", err)
		return
	}
	if taken {
		JSONError(w, NewConflict("alert rule name already exists"))
		return
	}

	rule.UpdatedAt = s.now()
	if err := s.storage.AlertRules().Update(r.Context(), rule); err != nil {
		internalError(w, "update alert rule", err)
		return
	}
	logAdmin(r, "alert rule updated: %s (%s)", rule.Name, rule.ID)
	OK(w, rule)
}

func (s *Server) deleteAlertRule(w http.ResponseWriter, r *http.Request) {
	rule := s.loadAlertRule(w, r)
	if rule == nil {
		return
	}
	if err := s.storage.AlertRules().Delete(r.Context(), rule.ID); err != nil {
		internalError(w, "delete alert rule", err)
		return
	}
	logAdmin(r, "alert rule deleted: %s (%s)", rule.Name, rule.ID)
	NoContent(w)
}

func (s *Server) toggleAlertRule(w http.ResponseWriter, r *http.Request) {
	rule := s.loadAlertRule(w, r)
	if rule == nil {
		return
	}
	rule.IsActive = !rule.IsActive
	if err := s.storage.AlertRules().SetActive(r.Context(), rule.ID, rule.IsActive); err != nil {
		internalError(w, "toggle alert rule", err)
		return
	}
	logAdmin(r, "alert rule %s active=%t", rule.Name, rule.IsActive)
	OK(w, rule)
}

// listAlerts lists fired alerts, newest first. ?unresolved=true hides
// resolved ones.
func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	unresolved, _ := strconv.ParseBool(r.URL.Query().Get("unresolved"))
	alerts, err := s.storage.Alerts().List(r.Context(), limitParam(r), unresolved)
	if err != nil {
		internalError(w, "list alerts", err)
		return
	}
	OK(w, ListResponse{Items: alerts, Count: len(alerts)})
}

func (s *Server) resolveAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	alert, err := s.storage.Alerts().GetByID(ctx, chi.URLParam(r, "id"))
	if err != nil {
		internalError(w, "get alert", err)
		return
	}
	if alert == nil {
		JSONError(w, NewNotFound("alert not found"))
		return
	}
	if alert.IsResolved {
		JSONError(w, NewConflict("alert is already resolved"))
		return
	}

	now := s.now()
	if err := s.storage.Alerts().Resolve(ctx, alert.ID, now); err != nil {
		internalError(w, "resolve alert", err)
		return
	}
	alert.IsResolved = true
	alert.ResolvedAt = &now
	logAdmin(r, "alert %s resolved", alert.ID)
	OK(w, alert)
}

func (s *Server) latestMetrics(w http.ResponseWriter, r *http.Request) {
	sample, err := s.storage.Metrics().Latest(r.Context())
	if err != nil {
		internalError(w, "get latest sample", err)
		return
	}
	if sample == nil {
		JSONError(w, NewNotFound("no metric samples recorded yet"))
		return
	}
	OK(w, sample)
}

// recentMetrics returns samples from the last ?window= duration (default 1h).
func (s *Server) recentMetrics(w http.ResponseWriter, r *http.Request) {
	window := time.Hour
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			JSONError(w, NewBadRequest("invalid window duration"))
			return
		}
		window = min(d, maxRecentWindow)
	}

	samples, err := s.storage.Metrics().Recent(r.Context(), s.now().Add(-window))
	if err != nil {
		internalError(w, "list recent samples", err)
		return
	}
	OK(w, ListResponse{Items: samples, Count: len(samples)})
}
