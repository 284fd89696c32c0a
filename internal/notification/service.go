package notification

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/stanstork/formvault-api/internal/models"
	"github.com/stanstork/formvault-api/internal/repository"
)

type Event struct {
	Event    models.NotificationEvent
	Severity models.NotificationSeverity
	Title    string
	Message  string
	Metadata map[string]interface{}
}

type Service interface {
	Publish(ctx context.Context, evt Event) (models.Notification, error)
	NotifyExportCompleted(ctx context.Context, jobID string, rows int64, fileURL string) error
	NotifyExportFailed(ctx context.Context, jobID, reason string) error
	NotifyMigrationCompleted(ctx context.Context, migrated, skipped int64) error
	NotifySyncFailed(ctx context.Context, entryID int64, reason string) error
	ListRecent(ctx context.Context, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, notificationID string) (models.Notification, error)
}

type service struct {
	repo      repository.NotificationRepository
	logger    zerolog.Logger
	notifiers []Notifier
}

func NewService(repo repository.NotificationRepository, logger zerolog.Logger, notifiers ...Notifier) Service {
	active := make([]Notifier, 0, len(notifiers))
	for _, notifier := range notifiers {
		if notifier != nil {
			active = append(active, notifier)
		}
	}
	return &service{
		repo:      repo,
		logger:    logger.With().Str("component", "notification_service").Logger(),
		notifiers: active,
	}
}

func (s *service) Publish(ctx context.Context, evt Event) (models.Notification, error) {
	if evt.Event == "" {
		return models.Notification{}, fmt.Errorf("event type is required")
	}
	if evt.Severity == "" {
		evt.Severity = models.NotificationSeverityInfo
	}
	title := strings.TrimSpace(evt.Title)
	if title == "" {
		title = string(evt.Event)
	}

	notif, err := s.repo.Create(ctx, repository.CreateNotificationParams{
		Event:    evt.Event,
		Severity: evt.Severity,
		Title:    title,
		Message:  strings.TrimSpace(evt.Message),
		Metadata: evt.Metadata,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("event_type", string(evt.Event)).Msg("failed to persist notification")
		return models.Notification{}, err
	}
	for _, notifier := range s.notifiers {
		if err := notifier.Notify(ctx, notif); err != nil {
			logNotifyError(s.logger, err, notifierChannelName(notifier), notif)
		}
	}
	return notif, nil
}

func (s *service) NotifyExportCompleted(ctx context.Context, jobID string, rows int64, fileURL string) error {
	_, err := s.Publish(ctx, Event{
		Event:    models.NotificationEventExportCompleted,
		Severity: models.NotificationSeverityInfo,
		Title:    "Export ready",
		Message:  fmt.Sprintf("Export %s finished with %d rows and is ready to download.", jobID, rows),
		Metadata: map[string]interface{}{
			"job_id":   jobID,
			"rows":     rows,
			"file_url": fileURL,
		},
	})
	return err
}

func (s *service) NotifyExportFailed(ctx context.Context, jobID, reason string) error {
	reason = fallbackReason(reason)
	_, err := s.Publish(ctx, Event{
		Event:    models.NotificationEventExportFailed,
		Severity: models.NotificationSeverityError,
		Title:    "Export failed",
		Message:  fmt.Sprintf("Export %s failed: %s", jobID, reason),
		Metadata: map[string]interface{}{
			"job_id": jobID,
			"reason": reason,
		},
	})
	return err
}

func (s *service) NotifyMigrationCompleted(ctx context.Context, migrated, skipped int64) error {
	severity := models.NotificationSeverityInfo
	if skipped > 0 {
		severity = models.NotificationSeverityWarning
	}
	_, err := s.Publish(ctx, Event{
		Event:    models.NotificationEventMigrationCompleted,
		Severity: severity,
		Title:    "Legacy migration complete",
		Message:  fmt.Sprintf("Migrated %d legacy entries, skipped %d malformed.", migrated, skipped),
		Metadata: map[string]interface{}{
			"migrated": migrated,
			"skipped":  skipped,
		},
	})
	return err
}

func (s *service) NotifySyncFailed(ctx context.Context, entryID int64, reason string) error {
	reason = fallbackReason(reason)
	_, err := s.Publish(ctx, Event{
		Event:    models.NotificationEventSyncFailed,
		Severity: models.NotificationSeverityWarning,
		Title:    fmt.Sprintf("Spreadsheet sync failed for entry %d", entryID),
		Message:  reason,
		Metadata: map[string]interface{}{
			"entry_id": entryID,
			"reason":   reason,
		},
	})
	return err
}

func (s *service) ListRecent(ctx context.Context, limit int) ([]models.Notification, error) {
	return s.repo.ListRecent(ctx, limit)
}

func (s *service) MarkRead(ctx context.Context, notificationID string) (models.Notification, error) {
	return s.repo.MarkRead(ctx, notificationID)
}

func fallbackReason(reason string) string {
	if trimmed := strings.TrimSpace(reason); trimmed != "" {
		return trimmed
	}
	return "Unknown error"
}

func notifierChannelName(n Notifier) string {
	type named interface {
		String() string
	}
	if v, ok := n.(named); ok {
		return v.String()
	}
	return fmt.Sprintf("%T", n)
}
