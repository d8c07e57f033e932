// Package warehouse provides PostgreSQL persistence for the ETL pipeline
// and the read API: dynamic-schema raw tables, fixed-contract formatted
// tables, and paginated reads over both.
package warehouse

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgUndefinedTable is the PostgreSQL error code for a missing relation.
const pgUndefinedTable = "42P01"

// Store wraps a PostgreSQL connection pool scoped to one schema.
// All tables this program touches live inside that schema.
type Store struct {
	pool   *pgxpool.Pool
	schema string
	logger *log.Logger
}

// New creates a Store, verifies connectivity with a single ping, and
// creates the schema if it does not exist. A failed ping here is the one
// fatal startup condition: callers are expected to abort the run.
func New(ctx context.Context, databaseURL, schema string, logger *log.Logger) (*Store, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	s := &Store{pool: pool, schema: schema, logger: logger}

	if _, err := pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+s.schemaIdent()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema %s: %w", schema, err)
	}

	return s, nil
}

// Close closes the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Pool returns the underlying connection pool for advanced operations.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// schemaIdent returns the quoted schema name.
func (s *Store) schemaIdent() string {
	return pgx.Identifier{s.schema}.Sanitize()
}

// tableIdent returns the quoted schema-qualified table name.
func (s *Store) tableIdent(name string) string {
	return pgx.Identifier{s.schema, name}.Sanitize()
}

// isUndefinedTable reports whether err is PostgreSQL's missing-relation error.
func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUndefinedTable
}
