package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // The database driver
)

//go:embed schema.sql
var schema string

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("db: not found")
	// ErrStatusConflict is returned when a conditional transition matched no row
	// because the current status was not one of the expected ones.
	ErrStatusConflict = errors.New("db: status conflict")
)

// Store wraps the database connection used by the pipeline.
type Store struct {
	db *sqlx.DB
}

// NewStore returns a Store over an open connection.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Connect opens and pings the postgres database at dbURL.
func Connect(dbURL string) (*sqlx.DB, error) {
	if dbURL == "" {
		return nil, errors.New("DATABASE_URL is not set")
	}

	conn, err := sqlx.Connect("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err = conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("Database connection established")
	return conn, nil
}

// EnsureSchema creates the pipeline tables when they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
