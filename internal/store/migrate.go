package store

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

//go:embed migrations/sqlite/*.sql
var sqliteMigrations embed.FS

// RunMigrations brings the schema up to date for the store's driver
func (s *Store) RunMigrations() error {
	var (
		files  embed.FS
		dir    string
		driver database.Driver
		err    error
	)

	switch s.driver {
	case DriverSQLite:
		files, dir = sqliteMigrations, "migrations/sqlite"
		driver, err = sqlite.WithInstance(s.db.DB, &sqlite.Config{})
	case DriverPostgres:
		files, dir = postgresMigrations, "migrations/postgres"
		driver, err = postgres.WithInstance(s.db.DB, &postgres.Config{})
	default:
		return fmt.Errorf("no migrations for driver %q", s.driver)
	}
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	source, err := iofs.New(files, dir)
	if err != nil {
		return fmt.Errorf("could not open migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, s.driver, driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}

	return nil
}
