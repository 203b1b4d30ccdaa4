package directory

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var errMissingConnections = errors.New("directory: at least one connection is required")

// SchemaTables maps a schema name to its base table names.
type SchemaTables map[string][]string

// DatabaseDirectory maps a database name to its schemas.
type DatabaseDirectory map[string]SchemaTables

// ConnectionDirectory is one connection's slice of the result. A connection
// that could not be enumerated at all carries only its error.
type ConnectionDirectory struct {
	Error     string            `json:"error,omitempty"`
	Databases DatabaseDirectory `json:"databases,omitempty"`
}

// Result nests connection -> database -> schema -> table names.
type Result map[string]ConnectionDirectory

// Filter optionally narrows the enumeration to one database and/or schema.
type Filter struct {
	Database string `json:"database"`
	Schema   string `json:"schema"`
}

// ExplorerConfig describes the dependencies of the directory explorer.
type ExplorerConfig struct {
	Connections []ConnectionConfig
	Factory     func(ConnectionConfig) (Backend, error)
	Logger      *zap.Logger
}

// Explorer enumerates databases, schemas and tables across the configured
// backends for administrative discovery. Connections are opened and closed
// per enumeration step; nothing is pooled across calls.
type Explorer struct {
	connections []ConnectionConfig
	factory     func(ConnectionConfig) (Backend, error)
	logger      *zap.Logger
}

// NewExplorer constructs the explorer. The factory defaults to NewBackend.
func NewExplorer(cfg ExplorerConfig) (*Explorer, error) {
	if len(cfg.Connections) == 0 {
		return nil, errMissingConnections
	}
	factory := cfg.Factory
	if factory == nil {
		factory = NewBackend
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Explorer{connections: cfg.Connections, factory: factory, logger: logger}, nil
}

// Directory enumerates every configured connection. A database that fails to
// enumerate is recorded as an indexed error entry; a connection that fails
// outright has its whole result replaced by the error.
func (e *Explorer) Directory(ctx context.Context, filter Filter) Result {
	result := make(Result, len(e.connections))

	for _, connection := range e.connections {
		databases, err := e.listDatabases(ctx, connection, filter.Database)
		if err != nil {
			e.logger.Error("database enumeration failed",
				zap.Error(err), zap.String("connection", connection.Name))
			result[connection.Name] = ConnectionDirectory{Error: err.Error()}
			continue
		}

		entry := ConnectionDirectory{Databases: make(DatabaseDirectory, len(databases))}
		for i, databaseName := range databases {
			tables, err := e.schemasAndTables(ctx, connection, databaseName, filter.Schema)
			if err != nil {
				e.logger.Error("table enumeration failed",
					zap.Error(err),
					zap.String("connection", connection.Name),
					zap.String("database", databaseName))
				entry.Databases[databaseName] = SchemaTables{fmt.Sprintf("error%d", i): {}}
				continue
			}
			entry.Databases[databaseName] = tables
		}
		result[connection.Name] = entry
	}

	return result
}

func (e *Explorer) listDatabases(ctx context.Context, connection ConnectionConfig, only string) ([]string, error) {
	if only != "" {
		return []string{only}, nil
	}

	backend, err := e.factory(connection)
	if err != nil {
		return nil, err
	}
	if err := backend.Connect(ctx); err != nil {
		return nil, err
	}
	defer backend.Close()

	return backend.Databases(ctx)
}

func (e *Explorer) schemasAndTables(ctx context.Context, connection ConnectionConfig, databaseName, schema string) (SchemaTables, error) {
	scoped := connection
	scoped.Database = databaseName

	backend, err := e.factory(scoped)
	if err != nil {
		return nil, err
	}
	if err := backend.Connect(ctx); err != nil {
		return nil, err
	}
	defer backend.Close()

	tables, err := backend.SchemasAndTables(ctx, schema)
	if err != nil {
		return nil, err
	}
	return tables, nil
}
