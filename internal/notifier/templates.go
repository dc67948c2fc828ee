package notifier

import (
	"bytes"
	"embed"
	htmltemplate "html/template"
	"strconv"
	"strings"
	"text/template"

	"github.com/good-yellow-bee/hostdeck/internal/models"
)

//go:embed templates/*
var templateFS embed.FS

// Templates holds parsed email templates.
type Templates struct {
	html  *htmltemplate.Template
	plain *template.Template
}

// TemplateData contains data for template rendering.
type TemplateData struct {
	Title         string
	Message       string
	Severity      string
	SeverityColor string
	Emoji         string
	RuleName      string
	Metric        string
	Value         string
	Threshold     string
	Timestamp     string
}

// LoadTemplates loads embedded email templates.
func LoadTemplates() (*Templates, error) {
	htmlTmpl, err := htmltemplate.New("alert.html").
		Funcs(htmltemplate.FuncMap{"upper": strings.ToUpper}).
		ParseFS(templateFS, "templates/alert.html")
	if err != nil {
		return nil, err
	}

	plainTmpl, err := template.New("alert.txt").
		Funcs(template.FuncMap{"upper": strings.ToUpper}).
		ParseFS(templateFS, "templates/alert.txt")
	if err != nil {
		return nil, err
	}

	return &Templates{html: htmlTmpl, plain: plainTmpl}, nil
}

// RenderHTML renders the HTML email body.
func (t *Templates) RenderHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := t.html.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderPlain renders the plain text email body.
func (t *Templates) RenderPlain(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := t.plain.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// severityColor returns the HTML color for a severity level.
func severityColor(severity models.Severity) string {
	switch severity {
	case models.SeverityCritical:
		return "#d32f2f" // red
	case models.SeverityWarning:
		return "#f57c00" // orange
	case models.SeverityInfo:
		return "#1976d2" // blue
	default:
		return "#757575" // gray
	}
}

// severityEmoji returns the Slack emoji code for a severity level.
func severityEmoji(severity models.Severity) string {
	switch severity {
	case models.SeverityCritical:
		return ":rotating_light:"
	case models.SeverityWarning:
		return ":warning:"
	default:
		return ":information_source:"
	}
}

// NotificationToTemplateData converts a notification to template data.
func NotificationToTemplateData(n *Notification) TemplateData {
	data := TemplateData{
		Title:         n.Alert.Title,
		Message:       n.Alert.Message,
		Severity:      string(n.Alert.Severity),
		SeverityColor: severityColor(n.Alert.Severity),
		Emoji:         severityEmoji(n.Alert.Severity),
		Value:         strconv.FormatFloat(n.Alert.Value, 'f', -1, 64),
		Timestamp:     n.Alert.CreatedAt.Format("2006-01-02 15:04:05 MST"),
	}
	if n.Rule != nil {
		data.RuleName = n.Rule.Name
		data.Metric = string(n.Rule.Metric)
		if n.Rule.Metric == models.MetricService {
			data.Metric = "service " + n.Rule.ServiceName
		}
		data.Threshold = n.Rule.Operator + " " + strconv.FormatFloat(n.Rule.Threshold, 'f', -1, 64)
	}
	return data
}
