package notification

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"github.com/stanstork/formvault-api/internal/models"
)

// Notifier delivers a persisted notification over one channel. Delivery
// errors are logged and never fail the job that raised the notification.
type Notifier interface {
	Notify(ctx context.Context, notification models.Notification) error
}

// sanitizeRecipients trims the configured alert addresses, drops entries
// without an "@" and removes case-insensitive duplicates, keeping order.
func sanitizeRecipients(recipients []string) []string {
	seen := make(map[string]struct{}, len(recipients))
	var cleaned []string
	for _, recipient := range recipients {
		recipient = strings.TrimSpace(recipient)
		if !strings.Contains(recipient, "@") {
			continue
		}
		key := strings.ToLower(recipient)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		cleaned = append(cleaned, recipient)
	}
	return cleaned
}

func logNotifyError(logger zerolog.Logger, err error, channel string, notif models.Notification) {
	if err == nil {
		return
	}
	logger.Warn().
		Err(err).
		Str("notification_id", notif.ID).
		Str("event_type", string(notif.EventType)).
		Str("channel", channel).
		Str("severity", string(notif.Severity)).
		Msg("notification delivery failed")
}
