// Package database runs versioned schema migrations using golang-migrate.
// Postgres uses the SQL files under migrations/; SQLite (development and
// tests) falls back to GORM AutoMigrate since the schema there is throwaway.
package database

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"loom-build/internal/runs"
)

// Migrate brings the schema up to date for the given database type.
func Migrate(db *gorm.DB, databaseType, migrationsPath string, logger *zap.Logger) error {
	switch databaseType {
	case "postgres", "postgresql":
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("get sql.DB for migrations: %w", err)
		}
		return runPostgres(sqlDB, migrationsPath, logger)
	default:
		logger.Info("auto-migrating schema", zap.String("database", databaseType))
		return db.AutoMigrate(&runs.BackgroundRun{}, &runs.SupervisorEvent{})
	}
}

func runPostgres(sqlDB *sql.DB, migrationsPath string, logger *zap.Logger) error {
	absPath, err := filepath.Abs(migrationsPath)
	if err != nil {
		return fmt.Errorf("resolve migrations path: %w", err)
	}

	driver, err := migratepg.WithInstance(sqlDB, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("create postgres migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+absPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migration instance: %w", err)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("no migrations to apply")
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}

	version, dirty, _ := m.Version()
	logger.Info("migrations applied",
		zap.Uint("version", version),
		zap.Bool("dirty", dirty))
	return nil
}
