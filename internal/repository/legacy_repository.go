package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/stanstork/formvault-api/internal/models"
)

type LegacyRepository interface {
	// Stats returns the row count and highest id of the legacy table.
	Stats(ctx context.Context) (total int64, maxID int64, err error)
	// FetchBatch returns up to limit legacy rows with id > afterID, ascending.
	FetchBatch(ctx context.Context, afterID int64, limit int) ([]models.LegacyEntry, error)
	// InsertMigrated inserts migrated entries. Rows whose legacy_id already
	// exists are skipped; the number of inserted rows is returned.
	InsertMigrated(ctx context.Context, entries []models.Entry) (int64, error)
}

type legacyRepository struct {
	db *sql.DB
}

func NewLegacyRepository(db *sql.DB) LegacyRepository {
	return &legacyRepository{db: db}
}

func (r *legacyRepository) Stats(ctx context.Context) (int64, int64, error) {
	const query = `SELECT COUNT(*), COALESCE(MAX(id), 0) FROM vault.legacy_entries`
	var total, maxID int64
	if err := r.db.QueryRowContext(ctx, query).Scan(&total, &maxID); err != nil {
		return 0, 0, fmt.Errorf("legacy stats: %w", err)
	}
	return total, maxID, nil
}

func (r *legacyRepository) FetchBatch(ctx context.Context, afterID int64, limit int) ([]models.LegacyEntry, error) {
	const query = `
		SELECT id, form_id, data, COALESCE(status, ''), created_at
		FROM vault.legacy_entries
		WHERE id > $1
		ORDER BY id ASC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch legacy entries after %d: %w", afterID, err)
	}
	defer rows.Close()

	out := make([]models.LegacyEntry, 0, limit)
	for rows.Next() {
		var le models.LegacyEntry
		if err := rows.Scan(&le.ID, &le.FormID, &le.Data, &le.Status, &le.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, le)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// InsertMigrated sends the whole batch as parallel arrays in one statement.
func (r *legacyRepository) InsertMigrated(ctx context.Context, entries []models.Entry) (int64, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	var (
		formIDs    = make([]int64, 0, len(entries))
		statuses   = make([]string, 0, len(entries))
		identities = make([]string, 0, len(entries))
		fields     = make([]string, 0, len(entries))
		legacyIDs  = make([]int64, 0, len(entries))
		createdAt  = make([]string, 0, len(entries))
	)
	for _, e := range entries {
		if e.LegacyID == nil {
			return 0, fmt.Errorf("entry for form %d has no legacy id", e.FormID)
		}
		raw, err := e.Fields.MarshalJSON()
		if err != nil {
			return 0, fmt.Errorf("marshal fields of legacy entry %d: %w", *e.LegacyID, err)
		}
		formIDs = append(formIDs, e.FormID)
		statuses = append(statuses, e.Status)
		identities = append(identities, e.Identity)
		fields = append(fields, string(raw))
		legacyIDs = append(legacyIDs, *e.LegacyID)
		createdAt = append(createdAt, e.CreatedAt.UTC().Format(time.RFC3339Nano))
	}

	const query = `
		INSERT INTO vault.entries (form_id, status, identity, fields, legacy_id, created_at)
		SELECT form_id, status, NULLIF(identity, ''), fields::json, legacy_id, created_at::timestamptz
		FROM unnest($1::bigint[], $2::text[], $3::text[], $4::text[], $5::bigint[], $6::text[])
		     AS t(form_id, status, identity, fields, legacy_id, created_at)
		ON CONFLICT (legacy_id) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query,
		pq.Array(formIDs),
		pq.Array(statuses),
		pq.Array(identities),
		pq.Array(fields),
		pq.Array(legacyIDs),
		pq.Array(createdAt),
	)
	if err != nil {
		return 0, fmt.Errorf("insert migrated entries: %w", err)
	}
	return res.RowsAffected()
}
