// Package automigrate applies pending database migrations on startup.
package automigrate

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"
)

// Run applies all pending up migrations from migrationsDir against the
// database at databaseURL. A database that is already current is not an
// error.
func Run(databaseURL, migrationsDir string, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}

	dir, err := filepath.Abs(migrationsDir)
	if err != nil {
		return fmt.Errorf("failed to resolve migrations dir: %w", err)
	}

	m, err := migrate.New("file://"+dir, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open migrator: %w", err)
	}
	defer func() {
		sourceErr, dbErr := m.Close()
		if sourceErr != nil {
			log.Warn("migration source close failed", zap.Error(sourceErr))
		}
		if dbErr != nil {
			log.Warn("migration db close failed", zap.Error(dbErr))
		}
	}()

	before, _, _ := m.Version()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Debug("database schema is current", zap.Uint("version", before))
			return nil
		}
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	after, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("failed to read migration version: %w", err)
	}
	if dirty {
		return fmt.Errorf("database is dirty at version %d", after)
	}
	log.Info("applied migrations", zap.Uint("from", before), zap.Uint("to", after))
	return nil
}
