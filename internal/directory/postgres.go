package directory

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// postgresBackend serves both Postgres and Redshift; the two share the
// pg_database and information_schema catalogs.
type postgresBackend struct {
	cfg ConnectionConfig
	db  *sql.DB
}

func newPostgresBackend(cfg ConnectionConfig) *postgresBackend {
	return &postgresBackend{cfg: cfg}
}

func (b *postgresBackend) Connect(ctx context.Context) error {
	db, err := sql.Open("postgres", b.dsn())
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return err
	}
	b.db = db
	return nil
}

func (b *postgresBackend) Close() error {
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}

func (b *postgresBackend) Databases(ctx context.Context) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, "SELECT datname FROM pg_database ORDER BY oid")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var databases []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		databases = append(databases, name)
	}
	return databases, rows.Err()
}

func (b *postgresBackend) SchemasAndTables(ctx context.Context, schema string) (map[string][]string, error) {
	const query = `SELECT table_schema, table_name
		FROM information_schema.tables
		WHERE ($1 = '' OR table_schema = $1)
		  AND table_type = 'BASE TABLE'
		  AND table_schema NOT IN ('pg_catalog', 'information_schema')
		ORDER BY table_schema, table_name`

	rows, err := b.db.QueryContext(ctx, query, schema)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	directory := make(map[string][]string)
	for rows.Next() {
		var tableSchema, tableName string
		if err := rows.Scan(&tableSchema, &tableName); err != nil {
			return nil, err
		}
		directory[tableSchema] = append(directory[tableSchema], tableName)
	}
	return directory, rows.Err()
}

func (b *postgresBackend) dsn() string {
	sslMode := b.cfg.SSLMode
	if sslMode == "" {
		// Redshift endpoints enforce TLS but present certificates that do
		// not verify against the default roots.
		if b.cfg.Kind == KindRedshift {
			sslMode = "require"
		} else {
			sslMode = "disable"
		}
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		b.cfg.Host, b.cfg.Port, b.cfg.User, b.cfg.Password, b.cfg.Database, sslMode)
}
