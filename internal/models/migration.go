package models

import "time"

type MigrationStatus string

const (
	MigrationStatusRunning  MigrationStatus = "running"
	MigrationStatusComplete MigrationStatus = "complete"
	MigrationStatusFailed   MigrationStatus = "failed"
)

// MigrationState is the persisted cursor of the legacy entries migration.
type MigrationState struct {
	Status   MigrationStatus `json:"status"`
	LastID   int64           `json:"last_id"`
	MaxID    int64           `json:"max_id"`
	Total    int64           `json:"total"`
	Scanned  int64           `json:"scanned"`
	Migrated int64           `json:"migrated"`
	Skipped  int64           `json:"skipped"`
	// BaseScanned is Scanned when the current run started; earlier runs do
	// not count towards its rate.
	BaseScanned int64      `json:"base_scanned"`
	BatchSize   int        `json:"batch_size"`
	Batches     int        `json:"batches"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

type MigrationProgress struct {
	Status          MigrationStatus `json:"status"`
	LastID          int64           `json:"last_id"`
	Total           int64           `json:"total"`
	Scanned         int64           `json:"scanned"`
	Migrated        int64           `json:"migrated"`
	Skipped         int64           `json:"skipped"`
	ProgressPercent float64         `json:"progress_percent"`
	ETASeconds      *int64          `json:"eta_seconds,omitempty"`
	Complete        bool            `json:"complete"`
	Error           string          `json:"error,omitempty"`
}
