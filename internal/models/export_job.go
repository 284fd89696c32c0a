package models

import (
	"strings"
	"time"
)

type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusComplete   JobStatus = "complete"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusComplete || s == JobStatusFailed
}

// CanTransition reports whether moving from s to next is a legal forward step.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobStatusQueued:
		return next == JobStatusInProgress || next == JobStatusFailed
	case JobStatusInProgress:
		return next == JobStatusInProgress || next == JobStatusComplete || next == JobStatusFailed
	default:
		return false
	}
}

type ExportFormat string

const (
	ExportFormatCSV  ExportFormat = "csv"
	ExportFormatXLSX ExportFormat = "xlsx"
)

func ParseExportFormat(raw string) (ExportFormat, bool) {
	switch ExportFormat(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ExportFormatCSV:
		return ExportFormatCSV, true
	case ExportFormatXLSX:
		return ExportFormatXLSX, true
	default:
		return "", false
	}
}

func (f ExportFormat) ContentType() string {
	if f == ExportFormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

func (f ExportFormat) Extension() string {
	if f == ExportFormatXLSX {
		return ".xlsx"
	}
	return ".csv"
}

// ExportJob is the durable descriptor of one export. It is created by the
// initiator, advanced by batch steps and closed by the finalizer.
type ExportJob struct {
	ID         string       `json:"job_id"`
	Status     JobStatus    `json:"status"`
	Selector   Selector     `json:"selector"`
	Format     ExportFormat `json:"format"`
	Total      int64        `json:"total"`
	Processed  int64        `json:"processed"`
	Cursor     int64        `json:"cursor"`
	UpperBound int64        `json:"upper_bound"`
	BatchSize  int          `json:"batch_size"`
	Page       int          `json:"page"`
	Header     []string     `json:"header,omitempty"`
	FilePath   string       `json:"file_path,omitempty"`
	FileURL    string       `json:"file_url,omitempty"`
	Error      string       `json:"error,omitempty"`
	StartedAt  time.Time    `json:"started_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
}

// CursorStart sits before the first row of any table keyed by a positive serial.
const CursorStart int64 = 0

type ExportProgress struct {
	JobID           string    `json:"job_id"`
	Status          JobStatus `json:"status"`
	ProgressPercent float64   `json:"progress_percent"`
	Total           int64     `json:"total"`
	Processed       int64     `json:"processed"`
	FileURL         string    `json:"file_url,omitempty"`
	Error           string    `json:"error,omitempty"`
	ETASeconds      *int64    `json:"eta_seconds,omitempty"`
}
