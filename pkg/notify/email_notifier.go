package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/a-h/templ"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/dmitrymomot/billingkit/pkg/email"
	"github.com/dmitrymomot/billingkit/pkg/email/templates"
	"github.com/dmitrymomot/billingkit/pkg/tenant"
)

// Message is a rendered notification.
type Message struct {
	Subject string
	HTML    string
}

// EmailNotifier mails billing alerts to the tenant owner.
type EmailNotifier struct {
	directory tenant.Directory
	sender    email.EmailSender
	lang      language.Tag
	location  *time.Location
}

// EmailOption configures an EmailNotifier.
type EmailOption func(*EmailNotifier)

// WithLanguage sets the message language, e.g. "pt-BR" or "en".
func WithLanguage(lang string) EmailOption {
	return func(e *EmailNotifier) {
		if lang != "" {
			e.lang = resolveLanguage(lang)
		}
	}
}

// WithLocation sets the time zone dates are shown in.
func WithLocation(loc *time.Location) EmailOption {
	return func(e *EmailNotifier) {
		if loc != nil {
			e.location = loc
		}
	}
}

// NewEmailNotifier panics if directory or sender is nil.
func NewEmailNotifier(directory tenant.Directory, sender email.EmailSender, opts ...EmailOption) *EmailNotifier {
	if directory == nil {
		panic("notify: tenant.Directory is required")
	}
	if sender == nil {
		panic("notify: email.EmailSender is required")
	}
	e := &EmailNotifier{
		directory: directory,
		sender:    sender,
		lang:      language.BrazilianPortuguese,
		location:  time.UTC,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Notify looks up the owner contact, renders the alert and sends it.
func (e *EmailNotifier) Notify(ctx context.Context, n Notification) error {
	contact, err := e.directory.OwnerContact(ctx, n.TenantID)
	if err != nil {
		return fmt.Errorf("notify: owner contact of tenant %s: %w", n.TenantID, err)
	}

	msg, err := e.Compose(ctx, contact, n)
	if err != nil {
		return err
	}

	return e.sender.SendEmail(ctx, email.SendEmailParams{
		SendTo:   contact.Email,
		Subject:  msg.Subject,
		BodyHTML: msg.HTML,
		Tag:      string(n.Kind),
	})
}

// Compose renders n for contact without sending it.
func (e *EmailNotifier) Compose(ctx context.Context, contact tenant.Contact, n Notification) (Message, error) {
	p := newPrinter(e.lang)
	amount := FormatMoney(p, n.Amount, n.Currency)
	due := ""
	if !n.DueAt.IsZero() {
		due = formatDate(e.lang, n.DueAt.In(e.location))
	}

	var subject, body string
	switch n.Kind {
	case KindRenewalReminder:
		subject = p.Sprintf(subjectKey(n.Kind), n.PlanName, due)
		body = p.Sprintf(bodyKey(n.Kind), amount, n.PlanName, due)
	case KindTrialEnded, KindPaymentFailed:
		subject = p.Sprintf(subjectKey(n.Kind))
		body = p.Sprintf(bodyKey(n.Kind), amount, n.PlanName, due)
	case KindSuspended:
		subject = p.Sprintf(subjectKey(n.Kind))
		body = p.Sprintf(bodyKey(n.Kind), n.PlanName, amount)
	default:
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownKind, n.Kind)
	}

	parts := []templ.Component{
		templates.Heading(p.Sprintf(msgGreeting, contact.Name)),
		templates.Text(body),
	}
	if n.Kind == KindPaymentFailed && n.Reason != "" {
		parts = append(parts, templates.TextWarning(p.Sprintf(msgReason, n.Reason)))
	}
	parts = append(parts, templates.TextSecondary(p.Sprintf(msgFooter)))

	html, err := templates.Render(ctx, templates.Layout(subject, parts...))
	if err != nil {
		return Message{}, fmt.Errorf("notify: render %s: %w", n.Kind, err)
	}
	return Message{Subject: subject, HTML: html}, nil
}

var _ Notifier = (*EmailNotifier)(nil)

// NewPrinter returns a printer with the billing catalog for lang.
func NewPrinter(lang string) *message.Printer { return newPrinter(resolveLanguage(lang)) }
