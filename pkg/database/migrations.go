package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"

	"github.com/ekaya-inc/adpilot/migrations"
)

// RunMigrations applies pending migrations from the embedded migration files.
// It is idempotent and safe to call multiple times - only pending migrations will be executed.
func RunMigrations(db *sql.DB, logger *zap.Logger) error {
	m, err := newMigrator(db)
	if err != nil {
		return err
	}
	defer closeMigrator(m, logger)

	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info("No migrations to apply (database up-to-date)")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	newVersion, _, _ := m.Version()
	logger.Info("Applied migrations successfully", zap.Uint("version", newVersion))
	return nil
}

// MigrationVersion reports the current schema version and whether the last
// migration left the schema dirty. Version 0 means nothing was applied.
func MigrationVersion(db *sql.DB, logger *zap.Logger) (uint, bool, error) {
	m, err := newMigrator(db)
	if err != nil {
		return 0, false, err
	}
	defer closeMigrator(m, logger)

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read migration version: %w", err)
	}
	return version, dirty, nil
}

func newMigrator(db *sql.DB) (*migrate.Migrate, error) {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration instance: %w", err)
	}
	return m, nil
}

func closeMigrator(m *migrate.Migrate, logger *zap.Logger) {
	srcErr, dbErr := m.Close()
	if srcErr != nil {
		logger.Warn("Failed to close migration source", zap.Error(srcErr))
	}
	if dbErr != nil {
		logger.Warn("Failed to close migration database", zap.Error(dbErr))
	}
}
