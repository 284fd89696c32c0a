package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/stanstork/formvault-api/internal/models"
	"github.com/stanstork/formvault-api/internal/repository"
	"github.com/stanstork/formvault-api/internal/sheetsync"
)

type SyncService interface {
	Enqueue(ctx context.Context, entryID int64) (models.EntrySync, error)
}

type SyncHandler struct {
	service SyncService
	logger  zerolog.Logger
}

func NewSyncHandler(service SyncService, logger zerolog.Logger) *SyncHandler {
	return &SyncHandler{
		service: service,
		logger:  logger.With().Str("handler", "sync").Logger(),
	}
}

func (h *SyncHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	entryID, ok := pathInt64(r, "entryID")
	if !ok {
		http.Error(w, "Invalid entry ID", http.StatusBadRequest)
		return
	}

	record, err := h.service.Enqueue(r.Context(), entryID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, record)
	case errors.Is(err, repository.ErrEntryNotFound):
		http.Error(w, "Entry not found", http.StatusNotFound)
	case errors.Is(err, sheetsync.ErrNotConfigured):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		h.logger.Error().Err(err).Int64("entry_id", entryID).Msg("failed to enqueue sync")
		http.Error(w, "Failed to enqueue sync", http.StatusInternalServerError)
	}
}
