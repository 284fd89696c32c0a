package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/stanstork/formvault-api/internal/models"
)

// DefaultColumns lead every export, ahead of the form's own fields.
var DefaultColumns = []string{"id", "form_id", "status", "source_url", "created_at"}

// fieldColumnPrefix is prepended to form fields whose flattened name collides
// with a default column.
const fieldColumnPrefix = "field_"

// entryColumns renders an entry as ordered column/value pairs: default
// columns first, then flattened form fields.
func entryColumns(e models.Entry) models.Fields {
	cols := models.Fields{
		{Name: "id", Value: strconv.FormatInt(e.ID, 10)},
		{Name: "form_id", Value: strconv.FormatInt(e.FormID, 10)},
		{Name: "status", Value: e.Status},
		{Name: "source_url", Value: e.SourceURL},
		{Name: "created_at", Value: e.CreatedAt.UTC().Format(time.RFC3339)},
	}
	taken := make(map[string]struct{}, len(cols)+len(e.Fields))
	for _, c := range cols {
		taken[c.Name] = struct{}{}
	}
	for _, field := range e.Fields.Flatten() {
		name := field.Name
		if _, clash := taken[name]; clash {
			name = fieldColumnPrefix + name
		}
		if _, dup := taken[name]; dup {
			continue
		}
		taken[name] = struct{}{}
		cols = append(cols, models.Field{Name: name, Value: field.Value})
	}
	return cols
}

// DeriveHeader computes the header of a job from its first row: the default
// columns merged with the row's fields, minus excluded columns.
func DeriveHeader(first models.Entry, exclude []string) []string {
	excluded := make(map[string]struct{}, len(exclude))
	for _, name := range exclude {
		excluded[name] = struct{}{}
	}
	cols := entryColumns(first)
	header := make([]string, 0, len(cols))
	for _, c := range cols {
		if _, skip := excluded[c.Name]; skip {
			continue
		}
		header = append(header, c.Name)
	}
	return header
}

// Row projects an entry onto a frozen header. Columns the entry lacks are
// empty; fields the header lacks are dropped.
func Row(e models.Entry, header []string) []string {
	cols := entryColumns(e)
	values := make(map[string]string, len(cols))
	for _, c := range cols {
		values[c.Name], _ = c.Value.(string)
	}
	row := make([]string, len(header))
	for i, name := range header {
		row[i] = values[name]
	}
	return row
}

// WritePartial writes one batch (header plus rows) to the partial file of
// (jobID, page). The file is staged and renamed into place, so a retried page
// replaces its earlier attempt instead of duplicating rows.
func WritePartial(dir, jobID string, page int, header []string, entries []models.Entry) (string, error) {
	path := PartialPath(dir, jobID, page)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create partial for page %d: %w", page, err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(header); err != nil {
		tmp.Close()
		return "", err
	}
	for _, e := range entries {
		if err := w.Write(Row(e, header)); err != nil {
			tmp.Close()
			return "", fmt.Errorf("write entry %d: %w", e.ID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("publish partial for page %d: %w", page, err)
	}
	return path, nil
}
