package main

import (
	"path/filepath"
	"testing"

	"github.com/dkortekaas/declair/internal/db"
	"github.com/dkortekaas/declair/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateAndSeedCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.db")
	t.Setenv("DEV", "true")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", path)
	t.Setenv("LOG_LEVEL", "error")

	for _, args := range [][]string{{"migrate"}, {"seed"}} {
		rootCmd.SetArgs(args)
		require.NoError(t, rootCmd.Execute(), args[0])
	}
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	conn, err := db.Connect(cfg.Database)
	require.NoError(t, err)
	var currencies int64
	require.NoError(t, conn.Model(&models.Currency{}).Count(&currencies).Error)
	assert.Positive(t, currencies)

	var owner models.Profile
	assert.NoError(t, conn.Where("name = ?", db.DefaultProfile).Take(&owner).Error)
}
