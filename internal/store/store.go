package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Supported drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

var (
	// ErrNotFound is returned when a referenced row does not exist or is inactive
	ErrNotFound = errors.New("not found")
	// ErrStatusConflict is returned when an order is no longer in the expected status
	ErrStatusConflict = errors.New("order status changed concurrently")
	// ErrNegativeValue is returned when a change would drive a price or stock below zero
	ErrNegativeValue = errors.New("value would become negative")
)

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

type Store struct {
	db     *sqlx.DB
	driver string
}

// NewStore opens a database and verifies the connection
func NewStore(driver, databaseURL string) (*Store, error) {
	db, err := sqlx.Connect(driver, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	switch driver {
	case DriverSQLite:
		// one connection keeps :memory: databases alive and serializes writers
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
	default:
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db, driver: driver}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// Driver returns the database driver name
func (s *Store) Driver() string {
	return s.driver
}

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Tx exposes the statements that must share one transaction
type Tx struct {
	tx *sqlx.Tx
}

// WithTx runs fn inside a transaction. Any error returned by fn rolls back every write.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Tx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func notFound(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}
