// Package email renders and delivers reviewer notifications. Delivery is
// fire-and-forget from the caller's perspective: a send failure is the
// caller's to log, never to propagate.
package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
	"sync"
	texttemplate "text/template"
	"time"

	"github.com/Virgo-Alpha/sentinel/internal/core"
)

// Message is the notification sink contract.
type Message struct {
	Recipients []string `json:"recipients"`
	Subject    string   `json:"subject"`
	TextBody   string   `json:"text_body"`
	HTMLBody   string   `json:"html_body"`
	Tags       []string `json:"tags,omitempty"`
}

// Sender delivers one rendered message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// PriorityLabel maps a priority score to the label used in notification
// subjects.
func PriorityLabel(score float64) string {
	switch {
	case score >= 0.8:
		return "CRITICAL"
	case score >= 0.6:
		return "HIGH"
	case score >= 0.4:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// EscalationData feeds the escalation templates.
type EscalationData struct {
	Label         string
	Title         string
	ArticleID     string
	URL           string
	Reason        string
	PriorityScore float64
	QueuePosition int
	EscalatedAt   string
}

const escalationTextTemplate = `[{{.Label}}] Article escalated for review

Title:    {{.Title}}
Article:  {{.ArticleID}}
URL:      {{.URL}}
Reason:   {{.Reason}}
Priority: {{printf "%.2f" .PriorityScore}} (queue position {{.QueuePosition}})
At:       {{.EscalatedAt}}
`

const escalationHTMLTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>[{{.Label}}] Review required</title>
</head>
<body style="font-family: system-ui, -apple-system, 'Segoe UI', Roboto, sans-serif; color: #1e293b;">
  <div style="max-width: 600px; margin: 0 auto; border: 1px solid #e2e8f0; border-radius: 8px; overflow: hidden;">
    <div style="background-color: #2563eb; color: #ffffff; padding: 16px 24px;">
      <h1 style="margin: 0; font-size: 20px;">[{{.Label}}] Article escalated for review</h1>
    </div>
    <div style="padding: 24px;">
      <h2 style="font-size: 18px; margin: 0 0 12px 0;">{{.Title}}</h2>
      <p style="margin: 0 0 8px 0;"><strong>Reason:</strong> {{.Reason}}</p>
      <p style="margin: 0 0 8px 0;"><strong>Priority:</strong> {{printf "%.2f" .PriorityScore}} (queue position {{.QueuePosition}})</p>
      <p style="margin: 0 0 16px 0;"><strong>Escalated:</strong> {{.EscalatedAt}}</p>
      <a href="{{.URL}}" style="display: inline-block; padding: 10px 20px; background-color: #2563eb; color: #ffffff; border-radius: 6px; text-decoration: none;">Open Article</a>
    </div>
  </div>
</body>
</html>`

var (
	escTextTmpl = texttemplate.Must(texttemplate.New("escalation_text").Parse(escalationTextTemplate))
	escHTMLTmpl = template.Must(template.New("escalation_html").Parse(escalationHTMLTemplate))
)

// RenderEscalation builds the notification message for one escalated article.
func RenderEscalation(article core.Article, rec core.EscalationRecord, queuePosition int, recipients []string) (Message, error) {
	data := EscalationData{
		Label:         PriorityLabel(rec.PriorityScore),
		Title:         article.Title,
		ArticleID:     article.ID,
		URL:           article.URL,
		Reason:        rec.Reason,
		PriorityScore: rec.PriorityScore,
		QueuePosition: queuePosition,
		EscalatedAt:   rec.EscalatedAt.UTC().Format(time.RFC3339),
	}

	var text bytes.Buffer
	if err := escTextTmpl.Execute(&text, data); err != nil {
		return Message{}, fmt.Errorf("failed to render escalation text: %w", err)
	}
	var html bytes.Buffer
	if err := escHTMLTmpl.Execute(&html, data); err != nil {
		return Message{}, fmt.Errorf("failed to render escalation HTML: %w", err)
	}

	return Message{
		Recipients: recipients,
		Subject:    fmt.Sprintf("[%s] Review required: %s", data.Label, article.Title),
		TextBody:   text.String(),
		HTMLBody:   html.String(),
		Tags:       []string{"escalation", strings.ToLower(data.Label)},
	}, nil
}

// SMTPSender delivers messages over plain SMTP with optional auth.
type SMTPSender struct {
	Host     string
	Port     int
	From     string
	Username string
	Password string
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if len(msg.Recipients) == 0 {
		return fmt.Errorf("no recipients configured")
	}

	var auth smtp.Auth
	if s.Username != "" {
		auth = smtp.PlainAuth("", s.Username, s.Password, s.Host)
	}

	var body bytes.Buffer
	boundary := "sentinel-alt-boundary"
	fmt.Fprintf(&body, "From: %s\r\n", s.From)
	fmt.Fprintf(&body, "To: %s\r\n", strings.Join(msg.Recipients, ", "))
	fmt.Fprintf(&body, "Subject: %s\r\n", msg.Subject)
	fmt.Fprintf(&body, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&body, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", boundary)
	fmt.Fprintf(&body, "--%s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n", boundary, msg.TextBody)
	fmt.Fprintf(&body, "--%s\r\nContent-Type: text/html; charset=utf-8\r\n\r\n%s\r\n", boundary, msg.HTMLBody)
	fmt.Fprintf(&body, "--%s--\r\n", boundary)

	addr := fmt.Sprintf("%s:%d", s.Host, s.Port)
	if err := smtp.SendMail(addr, auth, s.From, msg.Recipients, body.Bytes()); err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	return nil
}

// MemorySender captures messages for tests.
type MemorySender struct {
	mu       sync.Mutex
	messages []Message
	fail     error
}

func NewMemorySender() *MemorySender { return &MemorySender{} }

// FailWith makes every subsequent Send return err.
func (m *MemorySender) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

func (m *MemorySender) Send(ctx context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.messages = append(m.messages, msg)
	return nil
}

// Messages returns a copy of the captured messages.
func (m *MemorySender) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.messages))
	copy(out, m.messages)
	return out
}

var (
	_ Sender = (*SMTPSender)(nil)
	_ Sender = (*MemorySender)(nil)
)
