package directory

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type fakeBackend struct {
	databases   []string
	tables      map[string]map[string][]string
	connectErr  error
	tablesErr   map[string]error
	onDatabases func()
}

func (b *fakeBackend) Connect(ctx context.Context) error { return b.connectErr }
func (b *fakeBackend) Close() error                      { return nil }

func (b *fakeBackend) Databases(ctx context.Context) ([]string, error) {
	if b.onDatabases != nil {
		b.onDatabases()
	}
	return b.databases, nil
}

func (b *fakeBackend) SchemasAndTables(ctx context.Context, schema string) (map[string][]string, error) {
	return nil, errors.New("not configured")
}

// scopedBackend serves SchemasAndTables for the database the factory scoped it
// to, mirroring how real backends reconnect per database.
type scopedBackend struct {
	*fakeBackend
	database string
	schema   string
	mu       *sync.Mutex
	schemas  *[]string
}

func (b *scopedBackend) SchemasAndTables(ctx context.Context, schema string) (map[string][]string, error) {
	if b.schemas != nil {
		b.mu.Lock()
		*b.schemas = append(*b.schemas, schema)
		b.mu.Unlock()
	}
	if err, ok := b.tablesErr[b.database]; ok {
		return nil, err
	}
	tables, ok := b.tables[b.database]
	if !ok {
		return map[string][]string{}, nil
	}
	return tables, nil
}

func newFakeFactory(backend *fakeBackend, requestedSchemas *[]string) func(ConnectionConfig) (Backend, error) {
	var mu sync.Mutex
	return func(cfg ConnectionConfig) (Backend, error) {
		if cfg.Database == "" {
			return backend, nil
		}
		return &scopedBackend{
			fakeBackend: backend,
			database:    cfg.Database,
			mu:          &mu,
			schemas:     requestedSchemas,
		}, nil
	}
}

func TestDirectoryNestsConnectionsDatabasesSchemasTables(t *testing.T) {
	backend := &fakeBackend{
		databases: []string{"app", "analytics"},
		tables: map[string]map[string][]string{
			"app":       {"public": {"property_viewings", "property_leads"}},
			"analytics": {"reporting": {"facts"}},
		},
	}
	var schemas []string
	explorer, err := NewExplorer(ExplorerConfig{
		Connections: []ConnectionConfig{{Name: "warehouse", Kind: KindPostgres}},
		Factory:     newFakeFactory(backend, &schemas),
	})
	if err != nil {
		t.Fatalf("failed to create explorer: %v", err)
	}

	result := explorer.Directory(context.Background(), Filter{})
	entry, ok := result["warehouse"]
	if !ok {
		t.Fatalf("missing connection entry: %+v", result)
	}
	if entry.Error != "" {
		t.Fatalf("unexpected connection error %q", entry.Error)
	}
	if len(entry.Databases) != 2 {
		t.Fatalf("expected 2 databases, got %+v", entry.Databases)
	}
	appTables := entry.Databases["app"]["public"]
	if len(appTables) != 2 || appTables[0] != "property_viewings" {
		t.Fatalf("unexpected tables for app.public: %+v", appTables)
	}
	if got := entry.Databases["analytics"]["reporting"]; len(got) != 1 || got[0] != "facts" {
		t.Fatalf("unexpected tables for analytics.reporting: %+v", got)
	}
}

func TestDirectoryRecordsIndexedErrorPerFailedDatabase(t *testing.T) {
	backend := &fakeBackend{
		databases: []string{"good", "broken"},
		tables: map[string]map[string][]string{
			"good": {"public": {"property_leads"}},
		},
		tablesErr: map[string]error{"broken": errors.New("permission denied")},
	}
	explorer, err := NewExplorer(ExplorerConfig{
		Connections: []ConnectionConfig{{Name: "warehouse", Kind: KindPostgres}},
		Factory:     newFakeFactory(backend, nil),
	})
	if err != nil {
		t.Fatalf("failed to create explorer: %v", err)
	}

	result := explorer.Directory(context.Background(), Filter{})
	entry := result["warehouse"]
	if entry.Error != "" {
		t.Fatalf("per-database failure must not fail the connection: %q", entry.Error)
	}
	if _, ok := entry.Databases["good"]["public"]; !ok {
		t.Fatalf("healthy database must still be listed: %+v", entry.Databases)
	}
	if _, ok := entry.Databases["broken"]["error1"]; !ok {
		t.Fatalf("expected indexed error entry for broken database: %+v", entry.Databases["broken"])
	}
}

func TestDirectoryReplacesConnectionEntryOnConnectFailure(t *testing.T) {
	backend := &fakeBackend{connectErr: errors.New("connection refused")}
	explorer, err := NewExplorer(ExplorerConfig{
		Connections: []ConnectionConfig{{Name: "warehouse", Kind: KindPostgres}},
		Factory:     newFakeFactory(backend, nil),
	})
	if err != nil {
		t.Fatalf("failed to create explorer: %v", err)
	}

	result := explorer.Directory(context.Background(), Filter{})
	entry := result["warehouse"]
	if entry.Error != "connection refused" {
		t.Fatalf("expected connection error, got %+v", entry)
	}
	if entry.Databases != nil {
		t.Fatalf("failed connection must carry no databases: %+v", entry.Databases)
	}
}

func TestDirectoryFilterSkipsDatabaseEnumeration(t *testing.T) {
	enumerated := false
	backend := &fakeBackend{
		databases:   []string{"app"},
		tables:      map[string]map[string][]string{"app": {"public": {"property_invites"}}},
		onDatabases: func() { enumerated = true },
	}
	var schemas []string
	explorer, err := NewExplorer(ExplorerConfig{
		Connections: []ConnectionConfig{{Name: "warehouse", Kind: KindPostgres}},
		Factory:     newFakeFactory(backend, &schemas),
	})
	if err != nil {
		t.Fatalf("failed to create explorer: %v", err)
	}

	result := explorer.Directory(context.Background(), Filter{Database: "app", Schema: "public"})
	if enumerated {
		t.Fatalf("database filter must short-circuit enumeration")
	}
	entry := result["warehouse"]
	if len(entry.Databases) != 1 {
		t.Fatalf("expected only the filtered database: %+v", entry.Databases)
	}
	if len(schemas) != 1 || schemas[0] != "public" {
		t.Fatalf("schema filter must be forwarded, got %v", schemas)
	}
}

func TestNewBackendRejectsUnknownKind(t *testing.T) {
	if _, err := NewBackend(ConnectionConfig{Kind: "mysql"}); err == nil {
		t.Fatalf("expected error for unsupported kind")
	}
}

func TestNewExplorerRequiresConnections(t *testing.T) {
	if _, err := NewExplorer(ExplorerConfig{}); err == nil {
		t.Fatalf("expected error without connections")
	}
}
