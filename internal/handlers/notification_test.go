package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stanstork/formvault-api/internal/models"
	"github.com/stanstork/formvault-api/internal/notification"
	"github.com/stanstork/formvault-api/internal/repository"
	"github.com/stretchr/testify/assert"
)

type stubNotifications struct {
	notification.Service
	lastLimit int
}

func (s *stubNotifications) ListRecent(_ context.Context, limit int) ([]models.Notification, error) {
	s.lastLimit = limit
	return []models.Notification{{ID: "n-1", EventType: models.NotificationEventExportCompleted, Title: "Export ready"}}, nil
}

func (s *stubNotifications) MarkRead(_ context.Context, id string) (models.Notification, error) {
	if id != "n-1" {
		return models.Notification{}, repository.ErrNotificationNotFound
	}
	return models.Notification{ID: id}, nil
}

func TestNotificationEndpoints(t *testing.T) {
	svc := &stubNotifications{}
	h := NewNotificationHandler(svc, zerolog.Nop())
	r := mux.NewRouter()
	r.HandleFunc("/notifications", h.List).Methods(http.MethodGet)
	r.HandleFunc("/notifications/{notificationID}/read", h.MarkRead).Methods(http.MethodPost)

	rec := serve(r, http.MethodGet, "/notifications", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"event_type":"export_completed"`)
	assert.Equal(t, 25, svc.lastLimit)

	serve(r, http.MethodGet, "/notifications?limit=500", "")
	assert.Equal(t, 100, svc.lastLimit)

	assert.Equal(t, http.StatusOK, serve(r, http.MethodPost, "/notifications/n-1/read", "").Code)
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodPost, "/notifications/n-2/read", "").Code)
}
