package database

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrations(t *testing.T) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	require.NoError(t, err)

	files := migrationFiles(entries)
	require.NotEmpty(t, files)
	assert.Equal(t, "001_patient_hours.sql", files[0])

	content, err := fs.ReadFile(migrationsFS, "migrations/"+files[0])
	require.NoError(t, err)
	assert.Contains(t, string(content), "PRIMARY KEY (patient_id, hour)")
}
