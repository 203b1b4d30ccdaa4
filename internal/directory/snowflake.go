package directory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/snowflakedb/gosnowflake"
)

type snowflakeBackend struct {
	cfg ConnectionConfig
	db  *sql.DB
}

func newSnowflakeBackend(cfg ConnectionConfig) *snowflakeBackend {
	return &snowflakeBackend{cfg: cfg}
}

func (b *snowflakeBackend) Connect(ctx context.Context) error {
	dsn, err := gosnowflake.DSN(&gosnowflake.Config{
		Account:   b.cfg.Account,
		User:      b.cfg.User,
		Password:  b.cfg.Password,
		Database:  b.cfg.Database,
		Warehouse: b.cfg.Warehouse,
	})
	if err != nil {
		return err
	}
	db, err := sql.Open("snowflake", dsn)
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

func (b *snowflakeBackend) Close() error {
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}

// Databases shells out to SHOW DATABASES; the result set carries several
// metadata columns, only "name" matters here.
func (b *snowflakeBackend) Databases(ctx context.Context) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, "SHOW DATABASES")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	nameIndex := -1
	for i, column := range columns {
		if strings.EqualFold(column, "name") {
			nameIndex = i
			break
		}
	}
	if nameIndex < 0 {
		return nil, fmt.Errorf("directory: SHOW DATABASES returned no name column")
	}

	values := make([]sql.NullString, len(columns))
	scanTargets := make([]interface{}, len(columns))
	for i := range values {
		scanTargets[i] = &values[i]
	}

	var databases []string
	for rows.Next() {
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, err
		}
		databases = append(databases, values[nameIndex].String)
	}
	return databases, rows.Err()
}

func (b *snowflakeBackend) SchemasAndTables(ctx context.Context, schema string) (map[string][]string, error) {
	// The database name comes from the backend's own SHOW DATABASES output;
	// it is quoted, not interpolated from caller input.
	query := fmt.Sprintf(`SELECT table_schema, table_name
		FROM %q.information_schema.tables
		WHERE (? = '' OR table_schema = ?)
		  AND table_type = 'BASE TABLE'
		  AND table_schema NOT IN ('INFORMATION_SCHEMA')
		ORDER BY table_schema, table_name`, b.cfg.Database)

	// Snowflake folds unquoted identifiers to upper case.
	schemaFilter := strings.ToUpper(schema)
	rows, err := b.db.QueryContext(ctx, query, schemaFilter, schemaFilter)
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
