package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/stanstork/formvault-api/internal/legacy"
	"github.com/stanstork/formvault-api/internal/models"
)

type MigrationService interface {
	Trigger(ctx context.Context, batchSize int) (*models.MigrationProgress, error)
	Progress(ctx context.Context) (*models.MigrationProgress, error)
}

type MigrationHandler struct {
	service MigrationService
	logger  zerolog.Logger
}

func NewMigrationHandler(service MigrationService, logger zerolog.Logger) *MigrationHandler {
	return &MigrationHandler{
		service: service,
		logger:  logger.With().Str("handler", "migration").Logger(),
	}
}

type triggerMigrationRequest struct {
	BatchSize int `json:"batch_size"`
}

// Trigger accepts an empty body; batch_size falls back to the configured default.
func (h *MigrationHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	var payload triggerMigrationRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	progress, err := h.service.Trigger(r.Context(), payload.BatchSize)
	if err != nil {
		if errors.Is(err, legacy.ErrMigrationRunning) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		h.logger.Error().Err(err).Msg("failed to trigger legacy migration")
		http.Error(w, "Failed to trigger migration", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, progress)
}

func (h *MigrationHandler) Progress(w http.ResponseWriter, r *http.Request) {
	progress, err := h.service.Progress(r.Context())
	if err != nil {
		if errors.Is(err, legacy.ErrMigrationNotStarted) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		h.logger.Error().Err(err).Msg("failed to load migration progress")
		http.Error(w, "Failed to load migration progress", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}
