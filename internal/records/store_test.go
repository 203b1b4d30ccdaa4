package records

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type sequenceIDProvider struct {
	ids  []string
	next int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	if p.next >= len(p.ids) {
		return "", errors.New("sequence exhausted")
	}
	id := p.ids[p.next]
	p.next++
	return id, nil
}

func newTestStore(t *testing.T, provider IDProvider) *Store {
	t.Helper()
	databasePath := filepath.Join(t.TempDir(), "records.db")
	db, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Viewing{}, &Lead{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	if provider == nil {
		provider = NewBase36Provider(0)
	}
	store, err := NewStore(StoreConfig{Database: db, IDProvider: provider})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func TestCreateViewingGeneratesID(t *testing.T) {
	store := newTestStore(t, nil)

	id, err := store.CreateViewing(context.Background(), Viewing{
		Name:         "Open house",
		Location:     "12 Elm Street",
		DateAndTime:  time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC),
		MaxAttendees: 10,
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if id == "" {
		t.Fatalf("expected a generated id")
	}

	viewings, err := store.ListViewings(context.Background())
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(viewings) != 1 {
		t.Fatalf("expected one viewing, got %d", len(viewings))
	}
	if viewings[0].ID != id {
		t.Fatalf("expected stored id %q, got %q", id, viewings[0].ID)
	}
	if viewings[0].Attending != 0 {
		t.Fatalf("attending must start at zero, got %d", viewings[0].Attending)
	}
}

func TestCreateViewingKeepsSuppliedID(t *testing.T) {
	store := newTestStore(t, nil)

	id, err := store.CreateViewing(context.Background(), Viewing{
		ID:           "viewing-1",
		Name:         "Open house",
		MaxAttendees: 5,
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if id != "viewing-1" {
		t.Fatalf("expected supplied id to survive, got %q", id)
	}
}

func TestCreateViewingRejectsNonPositiveCapacity(t *testing.T) {
	store := newTestStore(t, nil)

	_, err := store.CreateViewing(context.Background(), Viewing{Name: "Open house"})
	if !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("expected ErrInvalidRecord, got %v", err)
	}
}

func TestCreateLeadRetriesOnGeneratedIDCollision(t *testing.T) {
	provider := &sequenceIDProvider{ids: []string{"seed", "dup", "fresh"}}
	store := newTestStore(t, provider)

	seeded, err := store.CreateLead(context.Background(), Lead{FirstName: "Ada", Email: "ada@example.com"})
	if err != nil {
		t.Fatalf("seed create failed: %v", err)
	}
	if seeded != "seed" {
		t.Fatalf("expected first generated id, got %q", seeded)
	}

	// Force the next generated id to collide with an existing row.
	provider.ids[1] = "seed"
	id, err := store.CreateLead(context.Background(), Lead{FirstName: "Grace", Email: "grace@example.com"})
	if err != nil {
		t.Fatalf("expected collision retry to succeed, got %v", err)
	}
	if id != "fresh" {
		t.Fatalf("expected retried id, got %q", id)
	}
}

func TestCreateLeadDoesNotRetrySuppliedID(t *testing.T) {
	store := newTestStore(t, nil)

	if _, err := store.CreateLead(context.Background(), Lead{ID: "lead-1", FirstName: "Ada"}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	_, err := store.CreateLead(context.Background(), Lead{ID: "lead-1", FirstName: "Ada"})
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		t.Fatalf("expected duplicate key error, got %v", err)
	}
}

func TestUpdateViewingRewritesEditableColumns(t *testing.T) {
	store := newTestStore(t, nil)

	id, err := store.CreateViewing(context.Background(), Viewing{Name: "Before", Location: "Old", MaxAttendees: 5})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	updated, err := store.UpdateViewing(context.Background(), Viewing{
		ID:           id,
		Name:         "After",
		Location:     "New",
		DateAndTime:  time.Date(2026, 5, 1, 18, 30, 0, 0, time.UTC),
		MaxAttendees: 8,
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Name != "After" || updated.Location != "New" || updated.MaxAttendees != 8 {
		t.Fatalf("unexpected updated row: %+v", updated)
	}
}

func TestUpdateViewingReportsMissingRow(t *testing.T) {
	store := newTestStore(t, nil)

	_, err := store.UpdateViewing(context.Background(), Viewing{ID: "absent", MaxAttendees: 3})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteLeadReportsMissingRow(t *testing.T) {
	store := newTestStore(t, nil)

	if err := store.DeleteLead(context.Background(), "absent"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateLeadRoundTrip(t *testing.T) {
	store := newTestStore(t, nil)

	id, err := store.CreateLead(context.Background(), Lead{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	updated, err := store.UpdateLead(context.Background(), Lead{ID: id, FirstName: "Ada", LastName: "King", Email: "ada@king.example"})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.LastName != "King" || updated.Email != "ada@king.example" {
		t.Fatalf("unexpected updated row: %+v", updated)
	}

	if err := store.DeleteLead(context.Background(), id); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	leads, err := store.ListLeads(context.Background())
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(leads) != 0 {
		t.Fatalf("expected no leads after delete, got %d", len(leads))
	}
}
