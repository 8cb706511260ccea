package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/rankings/*.sql migrations/topplays/*.sql migrations/subscriptions/*.sql
var migrationsFS embed.FS

const (
	rankingsMigrationsPath      = "migrations/rankings"
	topPlaysMigrationsPath      = "migrations/topplays"
	subscriptionsMigrationsPath = "migrations/subscriptions"
)

// migrateDB applies the embedded migrations for one store database.
func migrateDB(db *sql.DB, fsPath string) error {
	if db == nil {
		return fmt.Errorf("store: migrate %s: nil db", fsPath)
	}

	sourceDriver, err := iofs.New(migrationsFS, fsPath)
	if err != nil {
		return fmt.Errorf("store: migrate %s: init source: %w", fsPath, err)
	}

	dbDriver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{
		MigrationsTable: "schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("store: migrate %s: init db driver: %w", fsPath, err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("store: migrate %s: init migrator: %w", fsPath, err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("store: migrate %s: up: %w", fsPath, err)
	}
	return nil
}
