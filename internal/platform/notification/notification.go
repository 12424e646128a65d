// Package notification delivers transactional email for the portal. Delivery
// is best-effort: callers record the outcome and never fail a request because
// a message could not be sent.
package notification

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Notifier sends one HTML email.
type Notifier interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// ErrNoRecipient is returned when a message has no address to go to.
var ErrNoRecipient = errors.New("notification: empty recipient")

// ---------------------------------------------------------------------------
// Template Engine
// ---------------------------------------------------------------------------

// Template IDs for appointment mail.
const (
	TemplateConfirmation = "appointment-confirmation"
	TemplateReminder     = "appointment-reminder"
	TemplateCancellation = "appointment-cancellation"
)

// Template is an HTML message with {{key}} placeholders.
type Template struct {
	ID      string
	Subject string
	Body    string
}

// TemplateEngine renders registered templates. Values substituted into the
// body are HTML-escaped; the subject is plain text and is not.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the appointment templates
// registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]*Template)}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:      TemplateConfirmation,
			Subject: "Appointment Confirmation",
			Body: "<p>Dear {{patient_name}},</p>" +
				"<p>Your appointment with Dr. {{doctor_name}} is confirmed for {{when}}.</p>" +
				"<p>Appointment reference: {{appointment_id}}</p>",
		},
		{
			ID:      TemplateReminder,
			Subject: "Appointment Reminder",
			Body: "<p>Dear {{patient_name}},</p>" +
				"<p>This is a reminder of your appointment with Dr. {{doctor_name}} tomorrow, {{when}}.</p>" +
				"<p>Appointment reference: {{appointment_id}}</p>",
		},
		{
			ID:      TemplateCancellation,
			Subject: "Appointment Cancelled",
			Body: "<p>Dear {{patient_name}},</p>" +
				"<p>Your appointment with Dr. {{doctor_name}} on {{when}} has been cancelled.</p>" +
				"<p>Appointment reference: {{appointment_id}}</p>",
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render performs {{key}} replacement. Keys present in the template but absent
// from data are left as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject = t.Subject
	body = t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, html.EscapeString(v))
	}
	return subject, body, nil
}

// ---------------------------------------------------------------------------
// Log Notifier
// ---------------------------------------------------------------------------

// LogNotifier writes messages to the log instead of delivering them. It is the
// development default.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "notifier").Logger()}
}

func (n *LogNotifier) Send(_ context.Context, to, subject, htmlBody string) error {
	if to == "" {
		return ErrNoRecipient
	}
	n.logger.Info().
		Str("to", to).
		Str("subject", subject).
		Int("body_bytes", len(htmlBody)).
		Msg("email not delivered (log notifier)")
	return nil
}

// ---------------------------------------------------------------------------
// Mock Notifier (test double)
// ---------------------------------------------------------------------------

// EmailCall records a single call to Send.
type EmailCall struct {
	To      string
	Subject string
	Body    string
}

// MockNotifier is a test double for Notifier.
type MockNotifier struct {
	mu         sync.Mutex
	calls      []EmailCall
	ShouldFail bool
	FailError  string
}

// Send records the call and optionally returns an error.
func (m *MockNotifier) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, EmailCall{To: to, Subject: subject, Body: body})
	if m.ShouldFail {
		msg := m.FailError
		if msg == "" {
			msg = "mock send failure"
		}
		return errors.New(msg)
	}
	return nil
}

// Calls returns a copy of recorded calls.
func (m *MockNotifier) Calls() []EmailCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EmailCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// SetFailing switches failure mode for subsequent calls.
func (m *MockNotifier) SetFailing(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ShouldFail = fail
}
