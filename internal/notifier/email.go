package notifier

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"mime"
	"mime/multipart"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const smtpDialTimeout = 30 * time.Second

// SMTP transport security modes.
const (
	TLSImplicit = "implicit"
	TLSStartTLS = "starttls"
	TLSNone     = "none"
)

// EmailConfig holds SMTP configuration. Recipients come from each alert rule.
type EmailConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"-"` // from HOSTDECK_SMTP_PASSWORD
	From     string `yaml:"from"`
	// TLS is implicit, starttls or none. Empty picks implicit on 465 and
	// opportunistic STARTTLS elsewhere.
	TLS string `yaml:"tls"`
}

// Validate validates the email configuration.
func (c *EmailConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("SMTP host is required")
	}
	if c.Port == 0 {
		return fmt.Errorf("SMTP port is required")
	}
	if c.From == "" {
		return fmt.Errorf("from address is required")
	}
	if _, err := mail.ParseAddress(c.From); err != nil {
		return fmt.Errorf("invalid from address %q: %w", c.From, err)
	}
	switch c.TLS {
	case "", TLSImplicit, TLSStartTLS, TLSNone:
	default:
		return fmt.Errorf("unknown SMTP tls mode %q", c.TLS)
	}
	return nil
}

func (c *EmailConfig) tlsMode() string {
	if c.TLS != "" {
		return c.TLS
	}
	if c.Port == 465 {
		return TLSImplicit
	}
	return TLSStartTLS
}

// EmailNotifier sends alerts via email.
type EmailNotifier struct {
	config    EmailConfig
	templates *Templates
	now       func() time.Time
}

// NewEmailNotifier creates a new email notifier.
func NewEmailNotifier(config EmailConfig) (*EmailNotifier, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid email config: %w", err)
	}

	templates, err := LoadTemplates()
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}

	return &EmailNotifier{config: config, templates: templates, now: time.Now}, nil
}

// Name returns "email".
func (e *EmailNotifier) Name() string {
	return ChannelEmail
}

// Send mails the alert to the addresses listed on its rule.
func (e *EmailNotifier) Send(ctx context.Context, n *Notification) error {
	recipients := parseRecipients(n.Rule.Email)
	if len(recipients) == 0 {
		return fmt.Errorf("rule %s has no email recipients", n.Rule.Name)
	}

	data := NotificationToTemplateData(n)
	htmlBody, err := e.templates.RenderHTML(data)
	if err != nil {
		return fmt.Errorf("render html body: %w", err)
	}
	plainBody, err := e.templates.RenderPlain(data)
	if err != nil {
		return fmt.Errorf("render plain body: %w", err)
	}

	msg, err := e.compose(outgoingMail{
		to:      recipients,
		subject: fmt.Sprintf("[%s] %s", strings.ToUpper(string(n.Alert.Severity)), n.Alert.Title),
		plain:   plainBody,
		html:    htmlBody,
		alertID: n.Alert.ID,
	})
	if err != nil {
		return err
	}
	return e.deliver(ctx, recipients, msg)
}

// Close is a no-op; every Send uses its own connection.
func (e *EmailNotifier) Close() error {
	return nil
}

type outgoingMail struct {
	to      []string
	subject string
	plain   string
	html    string
	alertID string
}

// compose renders a multipart/alternative message with a plain and an HTML part.
func (e *EmailNotifier) compose(m outgoingMail) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, part := range []struct{ ctype, content string }{
		{"text/plain; charset=UTF-8", m.plain},
		{"text/html; charset=UTF-8", m.html},
	} {
		w, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {part.ctype},
			"Content-Transfer-Encoding": {"8bit"},
		})
		if err != nil {
			return nil, fmt.Errorf("create mime part: %w", err)
		}
		if _, err := w.Write([]byte(part.content)); err != nil {
			return nil, fmt.Errorf("write mime part: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close mime body: %w", err)
	}

	domain := "localhost"
	if _, d, ok := strings.Cut(envelopeAddress(e.config.From), "@"); ok {
		domain = d
	}
	now := time.Now
	if e.now != nil {
		now = e.now
	}

	var msg bytes.Buffer
	header := func(k, v string) { fmt.Fprintf(&msg, "%s: %s\r\n", k, v) }
	header("From", e.config.From)
	header("To", strings.Join(m.to, ", "))
	header("Subject", mime.QEncoding.Encode("utf-8", m.subject))
	header("Date", now().Format(time.RFC1123Z))
	header("Message-ID", "<"+uuid.NewString()+"@"+domain+">")
	if m.alertID != "" {
		header("X-Hostdeck-Alert", m.alertID)
	}
	header("MIME-Version", "1.0")
	header("Content-Type", `multipart/alternative; boundary="`+mw.Boundary()+`"`)
	msg.WriteString("\r\n")
	msg.Write(body.Bytes())
	return msg.Bytes(), nil
}

// deliver runs one SMTP transaction.
func (e *EmailNotifier) deliver(ctx context.Context, recipients []string, msg []byte) error {
	client, err := e.dial(ctx)
	if err != nil {
		return fmt.Errorf("connect to SMTP server: %w", err)
	}
	defer client.Close()

	if e.config.Username != "" && e.config.Password != "" {
		if err := client.Auth(smtp.PlainAuth("", e.config.Username, e.config.Password, e.config.Host)); err != nil {
			return fmt.Errorf("SMTP authentication: %w", err)
		}
	}

	if err := client.Mail(envelopeAddress(e.config.From)); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("RCPT TO %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("end message: %w", err)
	}
	return client.Quit()
}

func (e *EmailNotifier) dial(ctx context.Context) (*smtp.Client, error) {
	addr := net.JoinHostPort(e.config.Host, strconv.Itoa(e.config.Port))
	tlsConfig := &tls.Config{ServerName: e.config.Host, MinVersion: tls.VersionTLS12}
	netDialer := &net.Dialer{Timeout: smtpDialTimeout}

	if e.config.tlsMode() == TLSImplicit {
		conn, err := (&tls.Dialer{NetDialer: netDialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		return smtp.NewClient(conn, e.config.Host)
	}

	conn, err := netDialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	client, err := smtp.NewClient(conn, e.config.Host)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if e.config.tlsMode() == TLSStartTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				client.Close()
				return nil, fmt.Errorf("STARTTLS: %w", err)
			}
		}
	}
	return client, nil
}

// envelopeAddress returns the bare address of "Name <addr>" forms.
func envelopeAddress(addr string) string {
	parsed, err := mail.ParseAddress(addr)
	if err != nil {
		return strings.TrimSpace(addr)
	}
	return parsed.Address
}

// parseRecipients splits a comma separated address list, dropping blanks
// and entries that do not parse.
func parseRecipients(list string) []string {
	var out []string
	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parsed, err := mail.ParseAddress(entry)
		if err != nil {
			log.Printf("warning: skipping invalid email recipient %q: %v", entry, err)
			continue
		}
		out = append(out, parsed.Address)
	}
	return out
}
