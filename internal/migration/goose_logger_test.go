package migration

import (
	"bytes"
	"encoding/json"
	"io/fs"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGooseAdapterPrintf(t *testing.T) {
	var buf bytes.Buffer
	NewGooseAdapter(zerolog.New(&buf)).Printf("OK   %s (%d ms)\n", "00001_init.sql", 12)

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "OK   00001_init.sql (12 ms)", line["message"])
	assert.Equal(t, "goose", line["component"])
	assert.Equal(t, "info", line["level"])
}

func TestMigrationsAreEmbedded(t *testing.T) {
	files, err := fs.Glob(embeddedMigrations, "migrations/*.sql")
	require.NoError(t, err)
	assert.NotEmpty(t, files)
	for _, f := range files {
		body, err := fs.ReadFile(embeddedMigrations, f)
		require.NoError(t, err)
		assert.Contains(t, string(body), "-- +goose Up", f)
		assert.Contains(t, string(body), "-- +goose Down", f)
	}
}
