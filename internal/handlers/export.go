package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stanstork/formvault-api/internal/export"
	"github.com/stanstork/formvault-api/internal/models"
)

// ExportService is the part of export.Service the HTTP layer drives.
type ExportService interface {
	Start(ctx context.Context, req export.StartRequest) (*export.StartResult, error)
	Progress(ctx context.Context, jobID string) (*models.ExportProgress, error)
	Open(ctx context.Context, jobID string) (*export.Download, error)
	Delete(ctx context.Context, jobID string) error
}

type ExportHandler struct {
	service ExportService
	logger  zerolog.Logger
}

func NewExportHandler(service ExportService, logger zerolog.Logger) *ExportHandler {
	return &ExportHandler{
		service: service,
		logger:  logger.With().Str("handler", "export").Logger(),
	}
}

type startExportRequest struct {
	FormID        int64    `json:"form_id"`
	From          string   `json:"from"`
	To            string   `json:"to"`
	Status        string   `json:"status"`
	ExcludeFields []string `json:"exclude_fields"`
	Format        string   `json:"format"`
	BatchSize     int      `json:"batch_size"`
}

func (req startExportRequest) toStart() (export.StartRequest, error) {
	format, ok := models.ParseExportFormat(req.Format)
	if !ok {
		return export.StartRequest{}, fmt.Errorf("unsupported format %q", req.Format)
	}
	from, err := parseDate(req.From, false)
	if err != nil {
		return export.StartRequest{}, fmt.Errorf("invalid from: %w", err)
	}
	to, err := parseDate(req.To, true)
	if err != nil {
		return export.StartRequest{}, fmt.Errorf("invalid to: %w", err)
	}
	return export.StartRequest{
		Selector: models.Selector{
			FormID:  req.FormID,
			From:    from,
			To:      to,
			Status:  req.Status,
			Exclude: req.ExcludeFields,
		},
		Format:    format,
		BatchSize: req.BatchSize,
	}, nil
}

// parseDate accepts RFC 3339 timestamps or bare dates. A bare upper bound
// covers the whole day.
func parseDate(raw string, endOfDay bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

func (h *ExportHandler) Start(w http.ResponseWriter, r *http.Request) {
	var payload startExportRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	req, err := payload.toStart()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := h.service.Start(r.Context(), req)
	if err != nil {
		h.writeError(w, err, "")
		return
	}

	if res.Inline != nil {
		attachment(w, res.Inline.Filename, res.Inline.ContentType)
		w.WriteHeader(http.StatusOK)
		if err := res.Inline.WriteTo(r.Context(), w); err != nil {
			// headers are gone; the truncated body is all the client gets
			h.logger.Error().Err(err).Int64("form_id", req.Selector.FormID).Msg("inline export aborted")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id": res.JobID,
		"status": models.JobStatusQueued,
		"total":  res.Total,
	})
}

func (h *ExportHandler) Progress(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobID"]
	progress, err := h.service.Progress(r.Context(), jobID)
	if err != nil {
		h.writeError(w, err, jobID)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func (h *ExportHandler) Download(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobID"]
	dl, err := h.service.Open(r.Context(), jobID)
	if err != nil {
		h.writeError(w, err, jobID)
		return
	}
	defer dl.File.Close()

	info, err := dl.File.Stat()
	if err != nil {
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("failed to stat export file")
		http.Error(w, "Failed to read export file", http.StatusInternalServerError)
		return
	}
	attachment(w, dl.Filename, dl.ContentType)
	http.ServeContent(w, r, dl.Filename, info.ModTime(), dl.File)
}

func (h *ExportHandler) Delete(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobID"]
	if err := h.service.Delete(r.Context(), jobID); err != nil {
		h.writeError(w, err, jobID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ExportHandler) writeError(w http.ResponseWriter, err error, jobID string) {
	switch {
	case errors.Is(err, export.ErrInvalidSelector), errors.Is(err, export.ErrInvalidJobID):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, export.ErrJobNotFound):
		http.Error(w, "Export job not found", http.StatusNotFound)
	case errors.Is(err, export.ErrExportInProgress):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, export.ErrNoMatchingRows), errors.Is(err, export.ErrJobNotComplete):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("export request failed")
		http.Error(w, "Export request failed", http.StatusInternalServerError)
	}
}
