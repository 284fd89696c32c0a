package export

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/stanstork/formvault-api/internal/models"
)

// PartialPath is the file holding page of jobID: {job_id}_batch_{page}.csv.
func PartialPath(dir, jobID string, page int) string {
	return filepath.Join(dir, fmt.Sprintf("%s_batch_%d.csv", jobID, page))
}

// FinalPath is the merged artifact of jobID: {job_id}.csv or {job_id}.xlsx.
func FinalPath(dir, jobID string, format models.ExportFormat) string {
	return filepath.Join(dir, jobID+format.Extension())
}

type partialFile struct {
	Page int
	Path string
}

// listPartials returns the partial files of jobID ordered by page number.
// Directory listing order is lexical ("_batch_10" before "_batch_2"), so the
// page is parsed out of each name.
func listPartials(dir, jobID string) ([]partialFile, error) {
	prefix := jobID + "_batch_"
	matches, err := filepath.Glob(filepath.Join(dir, prefix+"*.csv"))
	if err != nil {
		return nil, err
	}
	partials := make([]partialFile, 0, len(matches))
	for _, path := range matches {
		raw := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(path), prefix), ".csv")
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			continue
		}
		partials = append(partials, partialFile{Page: page, Path: path})
	}
	sort.Slice(partials, func(i, j int) bool {
		return partials[i].Page < partials[j].Page
	})
	return partials, nil
}

// removeIfExists deletes path, treating a missing file as success.
func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func removePartials(dir, jobID string) error {
	partials, err := listPartials(dir, jobID)
	if err != nil {
		return err
	}
	for _, p := range partials {
		if err := removeIfExists(p.Path); err != nil {
			return err
		}
	}
	return nil
}
