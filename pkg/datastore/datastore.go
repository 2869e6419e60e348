// Package datastore opens the file-backed relational stores the SQL tool
// queries and bootstraps the demo telemetry schema.
package datastore

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	msqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib" // postgres driver
	_ "github.com/mattn/go-sqlite3"    // sqlite driver
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Open connects to the store identified by path: a postgres DSN when it
// carries a postgres scheme, a sqlite database file otherwise.
func Open(path string) (*sqlx.DB, error) {
	driver, dsn := driverFor(path)
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", driver, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s store: %w", driver, err)
	}
	return db, nil
}

func driverFor(path string) (driver, dsn string) {
	if strings.HasPrefix(path, "postgres://") || strings.HasPrefix(path, "postgresql://") {
		return "pgx", path
	}
	return "sqlite3", path
}

// MigrateDemo applies the embedded telemetry schema to a sqlite demo store.
// Used by the terminal entry point and the SQL tool tests; production
// postgres stores are managed externally.
func MigrateDemo(db *sqlx.DB) error {
	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	target, err := msqlite.WithInstance(db.DB, &msqlite.Config{})
	if err != nil {
		return fmt.Errorf("prepare migration target: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", target)
	if err != nil {
		return fmt.Errorf("build migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
