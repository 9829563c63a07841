package db

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// RunMigrations applies every pending embedded migration.
func RunMigrations(config Config, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, migrationURL(config))
	if err != nil {
		return fmt.Errorf("failed to initialise migrations: %w", err)
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			logger.Warn("failed to close migrator", zap.NamedError("source", srcErr), zap.NamedError("database", dbErr))
		}
	}()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("database schema is up to date")
			return nil
		}
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	version, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("failed to read migration version: %w", err)
	}
	logger.Info("database migrated", zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}

// migrationURL rewrites the DSN for the pgx/v5 migrate driver.
func migrationURL(config Config) string {
	return "pgx5://" + strings.TrimPrefix(config.DSN(), "postgres://")
}
