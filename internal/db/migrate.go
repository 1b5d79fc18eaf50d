package db

import (
	"embed"
	"errors"
	"fmt"

	"github.com/dkortekaas/declair/internal/logger"
	"github.com/dkortekaas/declair/internal/models"
	migrate "github.com/golang-migrate/migrate/v4"
	// Registers the postgres database driver for golang-migrate.
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrate creates the schema with AutoMigrate. On PostgreSQL the embedded
// SQL migrations then add what gorm tags cannot express: the append-only
// trigger on audit_logs and the money CHECK constraints.
func Migrate(conn *gorm.DB, postgresURL string) error {
	for _, m := range models.All() {
		if err := conn.AutoMigrate(m); err != nil {
			return fmt.Errorf("automigrate %T: %w", m, err)
		}
	}
	if conn.Dialector.Name() != "postgres" || postgresURL == "" {
		return nil
	}
	return runSQLMigrations(postgresURL)
}

func runSQLMigrations(url string) error {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, url)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("sql migrations failed: %w", err)
	}
	version, dirty, _ := m.Version()
	log := logger.WithComponent("db")
	log.Info().Uint("version", version).Bool("dirty", dirty).Msg("sql migrations applied")
	return nil
}
