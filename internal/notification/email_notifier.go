package notification

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/rs/zerolog"
	"github.com/stanstork/formvault-api/internal/config"
	"github.com/stanstork/formvault-api/internal/models"
)

const subjectPrefix = "[FormVault] "

type EmailNotifier struct {
	host       string
	port       int
	username   string
	password   string
	from       string
	recipients []string
	logger     zerolog.Logger
}

func NewEmailNotifier(cfg config.EmailConfig, logger zerolog.Logger) (*EmailNotifier, error) {
	recipients := sanitizeRecipients(cfg.AlertRecipients)
	host := strings.TrimSpace(cfg.SMTPHost)
	from := strings.TrimSpace(cfg.From)
	if host == "" {
		return nil, fmt.Errorf("smtp_host is required for email notifier")
	}
	if from == "" {
		return nil, fmt.Errorf("from is required for email notifier")
	}
	port := cfg.SMTPPort
	if port == 0 {
		port = 587
	}

	return &EmailNotifier{
		host:       host,
		port:       port,
		username:   strings.TrimSpace(cfg.Username),
		password:   cfg.Password,
		from:       from,
		recipients: recipients,
		logger:     logger.With().Str("notifier", "email").Logger(),
	}, nil
}

func (n *EmailNotifier) Notify(_ context.Context, notif models.Notification) error {
	if len(n.recipients) == 0 {
		return nil
	}

	subject := subjectPrefix + strings.TrimSpace(notif.Title)
	if strings.TrimSpace(notif.Title) == "" {
		subject = subjectPrefix + "Notification"
	}

	message := composeMessage(n.from, n.recipients, subject, notif)
	addr := fmt.Sprintf("%s:%d", n.host, n.port)

	var auth smtp.Auth
	if n.username != "" {
		auth = smtp.PlainAuth("", n.username, n.password, n.host)
	}

	err := smtp.SendMail(addr, auth, n.from, n.recipients, message)
	if err != nil {
		return err
	}

	n.logger.Info().
		Str("notification_id", notif.ID).
		Str("event_type", string(notif.EventType)).
		Strs("recipients", n.recipients).
		Msg("email notification sent")
	return nil
}

func (n *EmailNotifier) String() string {
	return "EmailNotifier"
}

// composeMessage renders notif as a plain-text RFC 822 message.
func composeMessage(from string, to []string, subject string, notif models.Notification) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ","))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=\"UTF-8\"\r\n\r\n")

	b.WriteString(strings.TrimSpace(notif.Message))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Event: %s\n", notif.EventType)
	fmt.Fprintf(&b, "Severity: %s\n", notif.Severity)
	fmt.Fprintf(&b, "Created: %s\n", notif.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	if len(notif.Metadata) > 0 {
		fmt.Fprintf(&b, "Details: %s\n", string(notif.Metadata))
	}
	return []byte(b.String())
}
