package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJobStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to JobStatus
		allowed  bool
	}{
		{JobStatusQueued, JobStatusInProgress, true},
		{JobStatusQueued, JobStatusFailed, true},
		{JobStatusQueued, JobStatusComplete, false},
		{JobStatusInProgress, JobStatusInProgress, true},
		{JobStatusInProgress, JobStatusComplete, true},
		{JobStatusInProgress, JobStatusQueued, false},
		{JobStatusComplete, JobStatusInProgress, false},
		{JobStatusComplete, JobStatusFailed, false},
		{JobStatusFailed, JobStatusInProgress, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransition(tt.to))
		})
	}
	assert.True(t, JobStatusComplete.IsTerminal())
	assert.True(t, JobStatusFailed.IsTerminal())
	assert.False(t, JobStatusInProgress.IsTerminal())
}

func TestParseExportFormat(t *testing.T) {
	f, ok := ParseExportFormat("")
	assert.True(t, ok)
	assert.Equal(t, ExportFormatCSV, f)

	f, ok = ParseExportFormat(" XLSX ")
	assert.True(t, ok)
	assert.Equal(t, ExportFormatXLSX, f)
	assert.Equal(t, ".xlsx", f.Extension())

	_, ok = ParseExportFormat("pdf")
	assert.False(t, ok)
}

func TestSelectorValidate(t *testing.T) {
	now := time.Now()
	earlier := now.Add(-time.Hour)

	assert.Error(t, Selector{}.Validate())
	assert.NoError(t, Selector{FormID: 3}.Validate())
	assert.NoError(t, Selector{FormID: 3, From: &earlier, To: &now}.Validate())
	assert.Error(t, Selector{FormID: 3, From: &now, To: &earlier}.Validate())
}

func TestSelectorFingerprintIgnoresExclusionOrder(t *testing.T) {
	a := Selector{FormID: 1, Exclude: []string{"b", " a", "b"}}
	b := Selector{FormID: 1, Exclude: []string{"a", "b"}}
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), Selector{FormID: 2}.Fingerprint())
	assert.Equal(t, []string{"a", "b"}, a.Normalize().Exclude)
}
