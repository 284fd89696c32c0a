package models

import "time"

type SyncStatus string

const (
	SyncStatusPending SyncStatus = "pending"
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusFailed  SyncStatus = "failed"
)

// EntrySync tracks pushing one entry to the external spreadsheet.
type EntrySync struct {
	EntryID    int64      `json:"entry_id" db:"entry_id"`
	Status     SyncStatus `json:"status" db:"status"`
	RetryCount int        `json:"retry_count" db:"retry_count"`
	LastError  *string    `json:"last_error,omitempty" db:"last_error"`
	SyncedAt   *time.Time `json:"synced_at,omitempty" db:"synced_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
}
