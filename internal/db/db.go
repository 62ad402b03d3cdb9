package db

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	// import db drivers
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB is a wrapper around the sqlx.DB connection pool.
type DB struct {
	*sqlx.DB
}

// NewDatabase opens the sqlite database at path, creating parent directories
// as needed, and applies pending migrations. It returns the connection and a
// cleanup function.
func NewDatabase(path string) (*DB, func(), error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, func() {}, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// WAL lets worker writes and query reads proceed concurrently; the busy
	// timeout covers the brief writer lock handoffs.
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	conn, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, func() {}, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{DB: conn}

	slog.Info("running database migrations", "path", path)
	if err := db.RunMigrations(); err != nil {
		_ = conn.Close()
		return nil, func() {}, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Info("database migrations completed successfully")

	return db, func() {
		if err := conn.Close(); err != nil {
			slog.Error("failed to close database connection", "error", err)
		}
	}, nil
}

// RunMigrations executes pending database migrations embedded in the binary.
// It also handles cases where a previous migration failed, leaving the
// database in a "dirty" state.
func (db *DB) RunMigrations() error {
	migrator, err := db.newMigrator()
	if err != nil {
		return err
	}

	_, dirty, err := migrator.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	if dirty {
		return fmt.Errorf("failed to apply migrations: database is in dirty state, fix it manually (e.g. 'migrate force <version>')")
	}

	err = migrator.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// newMigrator creates a new migrate instance using the embedded migration files.
func (db *DB) newMigrator() (*migrate.Migrate, error) {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	dbDriver, err := sqlitemigrate.WithInstance(db.DB.DB, &sqlitemigrate.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", dbDriver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	return migrator, nil
}
