package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/stanstork/formvault-api/internal/models"
)

type SyncRepository interface {
	// Get returns the sync record of an entry, creating a pending one if absent.
	Get(ctx context.Context, entryID int64) (models.EntrySync, error)
	MarkSynced(ctx context.Context, entryID int64) error
	// MarkRetry records a failed attempt and returns the new retry count.
	MarkRetry(ctx context.Context, entryID int64, reason string) (int, error)
	MarkFailed(ctx context.Context, entryID int64, reason string) error
}

type syncRepository struct {
	db *sql.DB
}

func NewSyncRepository(db *sql.DB) SyncRepository {
	return &syncRepository{db: db}
}

func (r *syncRepository) Get(ctx context.Context, entryID int64) (models.EntrySync, error) {
	const query = `
		INSERT INTO vault.entry_sync (entry_id, status, retry_count, updated_at)
		VALUES ($1, 'pending', 0, NOW())
		ON CONFLICT (entry_id) DO UPDATE SET entry_id = EXCLUDED.entry_id
		RETURNING entry_id, status, retry_count, last_error, synced_at, updated_at
	`
	var (
		s         models.EntrySync
		lastError sql.NullString
		syncedAt  sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, entryID).Scan(
		&s.EntryID, &s.Status, &s.RetryCount, &lastError, &syncedAt, &s.UpdatedAt,
	)
	if err != nil {
		return s, fmt.Errorf("load sync state of entry %d: %w", entryID, err)
	}
	if lastError.Valid {
		s.LastError = &lastError.String
	}
	if syncedAt.Valid {
		t := syncedAt.Time
		s.SyncedAt = &t
	}
	return s, nil
}

func (r *syncRepository) MarkSynced(ctx context.Context, entryID int64) error {
	const query = `
		UPDATE vault.entry_sync
		SET status = 'synced', synced_at = NOW(), last_error = NULL, updated_at = NOW()
		WHERE entry_id = $1
	`
	_, err := r.db.ExecContext(ctx, query, entryID)
	return err
}

func (r *syncRepository) MarkRetry(ctx context.Context, entryID int64, reason string) (int, error) {
	const query = `
		UPDATE vault.entry_sync
		SET retry_count = retry_count + 1, last_error = $2, status = 'pending', updated_at = NOW()
		WHERE entry_id = $1
		RETURNING retry_count
	`
	var count int
	if err := r.db.QueryRowContext(ctx, query, entryID, reason).Scan(&count); err != nil {
		return 0, fmt.Errorf("record sync retry of entry %d: %w", entryID, err)
	}
	return count, nil
}

func (r *syncRepository) MarkFailed(ctx context.Context, entryID int64, reason string) error {
	const query = `
		UPDATE vault.entry_sync
		SET status = 'failed', last_error = $2, updated_at = NOW()
		WHERE entry_id = $1
	`
	_, err := r.db.ExecContext(ctx, query, entryID, reason)
	return err
}
