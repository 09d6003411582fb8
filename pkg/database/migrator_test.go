package database

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationFiles_SortedSQLOnly(t *testing.T) {
	source := fstest.MapFS{
		"002_scaling_events.sql": {Data: []byte("SELECT 2")},
		"001_users.sql":          {Data: []byte("SELECT 1")},
		"README.md":              {Data: []byte("notes")},
		"old/003_x.sql":          {Data: []byte("SELECT 3")},
	}

	files, err := migrationFiles(source)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_users.sql", "002_scaling_events.sql"}, files)
}

func TestNewMigrator_EmbedsMigrations(t *testing.T) {
	m := NewMigrator(nil)

	files, err := migrationFiles(m.source)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_users.sql", "002_scaling_events.sql"}, files)
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{}.withDefaults()

	assert.Equal(t, 10, cfg.MaxConnections)
	assert.NotZero(t, cfg.ConnMaxLifetime)
	assert.NotZero(t, cfg.PingTimeout)
	assert.Contains(t, cfg.DSN(), "sslmode=disable")
}
