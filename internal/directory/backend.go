package directory

import (
	"context"
	"fmt"
)

// Kind tags a backend variant. Dispatch happens once, at construction; no
// call site branches on the raw string.
type Kind string

const (
	// KindPostgres is a plain Postgres server.
	KindPostgres Kind = "postgres"
	// KindRedshift is the Postgres-family warehouse variant; it speaks the
	// same catalog but requires relaxed TLS verification.
	KindRedshift Kind = "redshift"
	// KindSnowflake is the columnar warehouse variant with its own catalog
	// dialect and upper-cased identifiers.
	KindSnowflake Kind = "snowflake"
)

// ConnectionConfig holds the credentials for one introspectable backend.
type ConnectionConfig struct {
	Name      string
	Kind      Kind
	Host      string
	Port      int
	User      string
	Password  string
	Database  string
	SSLMode   string
	Account   string
	Warehouse string
}

// Backend is the uniform capability every variant implements. Catalog query
// text, identifier casing and connection lifecycle differences stay behind
// it, so the enumeration algorithm is backend-agnostic.
type Backend interface {
	// Connect opens the underlying connection for the configured database.
	Connect(ctx context.Context) error
	// Close releases the connection.
	Close() error
	// Databases enumerates the databases visible to the connection.
	Databases(ctx context.Context) ([]string, error)
	// SchemasAndTables maps each non-system schema of the connected database
	// to its base table names, optionally restricted to one schema.
	SchemasAndTables(ctx context.Context, schema string) (map[string][]string, error)
}

// NewBackend constructs the backend variant for the configured kind.
func NewBackend(cfg ConnectionConfig) (Backend, error) {
	switch cfg.Kind {
	case KindPostgres, KindRedshift:
		return newPostgresBackend(cfg), nil
	case KindSnowflake:
		return newSnowflakeBackend(cfg), nil
	default:
		return nil, fmt.Errorf("directory: unknown backend kind %q", cfg.Kind)
	}
}
