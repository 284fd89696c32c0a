package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/stanstork/formvault-api/internal/models"
)

var ErrEntryNotFound = errors.New("entry not found")

// Batch is one keyset page of entries. LastID is the ordering key of the last
// row, or the requested cursor when the page is empty.
type Batch struct {
	Entries []models.Entry
	LastID  int64
}

type EntryRepository interface {
	FormExists(ctx context.Context, formID int64) (bool, error)
	// CountMatching returns how many entries match sel and the highest
	// matching primary key, which freezes the population of a job.
	CountMatching(ctx context.Context, sel models.Selector) (total int64, maxID int64, err error)
	// FetchBatch returns up to limit entries with afterID < id <= upperID,
	// ascending by id. upperID <= 0 means unbounded.
	FetchBatch(ctx context.Context, sel models.Selector, afterID, upperID int64, limit int) (Batch, error)
	GetEntry(ctx context.Context, entryID int64) (models.Entry, error)
}

type entryRepository struct {
	db *sql.DB
}

func NewEntryRepository(db *sql.DB) EntryRepository {
	return &entryRepository{db: db}
}

func (r *entryRepository) FormExists(ctx context.Context, formID int64) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM vault.forms WHERE id = $1)`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, formID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check form %d: %w", formID, err)
	}
	return exists, nil
}

func (r *entryRepository) CountMatching(ctx context.Context, sel models.Selector) (int64, int64, error) {
	where, args := selectorFilter(sel, 0, 0)
	query := `SELECT COUNT(*), COALESCE(MAX(id), 0) FROM vault.entries WHERE ` + where

	var total, maxID int64
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&total, &maxID); err != nil {
		return 0, 0, fmt.Errorf("count entries: %w", err)
	}
	return total, maxID, nil
}

func (r *entryRepository) FetchBatch(ctx context.Context, sel models.Selector, afterID, upperID int64, limit int) (Batch, error) {
	query, args := batchQuery(sel, afterID, upperID, limit)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return Batch{}, fmt.Errorf("fetch entries after %d: %w", afterID, err)
	}
	defer rows.Close()

	batch := Batch{Entries: make([]models.Entry, 0, limit), LastID: afterID}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return Batch{}, err
		}
		batch.Entries = append(batch.Entries, e)
		batch.LastID = e.ID
	}
	if err := rows.Err(); err != nil {
		return Batch{}, err
	}
	return batch, nil
}

func (r *entryRepository) GetEntry(ctx context.Context, entryID int64) (models.Entry, error) {
	const query = `
		SELECT id, form_id, status, COALESCE(identity, ''), COALESCE(source_url, ''), fields, legacy_id, created_at
		FROM vault.entries
		WHERE id = $1
	`
	e, err := scanEntry(r.db.QueryRowContext(ctx, query, entryID))
	if errors.Is(err, sql.ErrNoRows) {
		return e, ErrEntryNotFound
	}
	if err != nil {
		return e, fmt.Errorf("get entry %d: %w", entryID, err)
	}
	return e, nil
}

// batchQuery builds the keyset page query. The ordering key is the primary
// key, so the cost is independent of how deep into the table the cursor is.
func batchQuery(sel models.Selector, afterID, upperID int64, limit int) (string, []interface{}) {
	where, args := selectorFilter(sel, afterID, upperID)
	args = append(args, limit)
	query := fmt.Sprintf(`
		SELECT id, form_id, status, COALESCE(identity, ''), COALESCE(source_url, ''), fields, legacy_id, created_at
		FROM vault.entries
		WHERE %s
		ORDER BY id ASC
		LIMIT $%d`, where, len(args))
	return query, args
}

// selectorFilter renders sel plus the keyset bounds as a WHERE clause.
// Bounds <= 0 are omitted.
func selectorFilter(sel models.Selector, afterID, upperID int64) (string, []interface{}) {
	clauses := []string{"form_id = $1"}
	args := []interface{}{sel.FormID}

	add := func(clause string, arg interface{}) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if afterID > 0 {
		add("id > $%d", afterID)
	}
	if upperID > 0 {
		add("id <= $%d", upperID)
	}
	if sel.From != nil {
		add("created_at >= $%d", *sel.From)
	}
	if sel.To != nil {
		add("created_at <= $%d", *sel.To)
	}
	if sel.Status != "" {
		add("status = $%d", sel.Status)
	}
	return strings.Join(clauses, " AND "), args
}

func scanEntry(scanner interface {
	Scan(dest ...interface{}) error
}) (models.Entry, error) {
	var (
		e        models.Entry
		legacyID sql.NullInt64
	)
	if err := scanner.Scan(
		&e.ID,
		&e.FormID,
		&e.Status,
		&e.Identity,
		&e.SourceURL,
		&e.Fields,
		&legacyID,
		&e.CreatedAt,
	); err != nil {
		return models.Entry{}, err
	}
	if legacyID.Valid {
		id := legacyID.Int64
		e.LegacyID = &id
	}
	return e, nil
}
