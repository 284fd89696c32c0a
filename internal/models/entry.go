package models

import "time"

type Form struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Entry is one form submission as stored in the entries table.
type Entry struct {
	ID        int64     `json:"id" db:"id"`
	FormID    int64     `json:"form_id" db:"form_id"`
	Status    string    `json:"status" db:"status"`
	Identity  string    `json:"identity,omitempty" db:"identity"`
	SourceURL string    `json:"source_url,omitempty" db:"source_url"`
	Fields    Fields    `json:"fields" db:"fields"`
	LegacyID  *int64    `json:"legacy_id,omitempty" db:"legacy_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// LegacyEntry is a row of the pre-migration submissions table. Data holds the
// raw JSON payload as the old plugin stored it.
type LegacyEntry struct {
	ID        int64     `db:"id"`
	FormID    int64     `db:"form_id"`
	Data      []byte    `db:"data"`
	Status    string    `db:"status"`
	CreatedAt time.Time `db:"created_at"`
}
