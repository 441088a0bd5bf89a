package identity

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	schema := `
		CREATE TABLE identities (
			id            TEXT PRIMARY KEY,
			kind          TEXT NOT NULL,
			operator      TEXT NOT NULL DEFAULT '',
			place         TEXT NOT NULL DEFAULT '',
			icon          TEXT NOT NULL DEFAULT '',
			role          TEXT NOT NULL DEFAULT '',
			auth_key      TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL DEFAULT '',
			created_at    TEXT NOT NULL,
			updated_at    TEXT NOT NULL
		);
		CREATE UNIQUE INDEX idx_identities_operator
			ON identities (operator) WHERE kind = 'web-user';
	`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("creating test schema: %v", err)
	}
	return db
}

func TestSQLiteRepositoryRoundTrip(t *testing.T) {
	repo := NewSQLiteRepository(openTestDB(t))
	ctx := context.Background()

	ident := &Identity{
		ID:       "dev-abc123",
		Kind:     KindDevice,
		Operator: "alice",
		Place:    "bridge",
		Icon:     "anchor",
		Role:     RoleAdmin,
		AuthKey:  "deadbeef",
	}

	if err := repo.Create(ctx, ident); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := repo.GetByID(ctx, "dev-abc123")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Operator != "alice" || got.Role != RoleAdmin || got.AuthKey != "deadbeef" {
		t.Errorf("GetByID() = %+v, fields do not round-trip", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt not persisted")
	}
}

func TestSQLiteRepositoryNotFound(t *testing.T) {
	repo := NewSQLiteRepository(openTestDB(t))

	_, err := repo.GetByID(context.Background(), "dev-nope")
	if !errors.Is(err, ErrIdentityNotFound) {
		t.Errorf("GetByID() error = %v, want ErrIdentityNotFound", err)
	}
}

func TestSQLiteRepositoryDuplicateID(t *testing.T) {
	repo := NewSQLiteRepository(openTestDB(t))
	ctx := context.Background()

	ident := &Identity{ID: "dev-abc123", Kind: KindDevice}
	if err := repo.Create(ctx, ident); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	err := repo.Create(ctx, &Identity{ID: "dev-abc123", Kind: KindDevice})
	if !errors.Is(err, ErrDuplicateIdentity) {
		t.Errorf("Create() duplicate error = %v, want ErrDuplicateIdentity", err)
	}
}

func TestSQLiteRepositoryDuplicateOperator(t *testing.T) {
	repo := NewSQLiteRepository(openTestDB(t))
	ctx := context.Background()

	first := &Identity{ID: "web-aaa111", Kind: KindWebUser, Operator: "carol"}
	if err := repo.Create(ctx, first); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	err := repo.Create(ctx, &Identity{ID: "web-bbb222", Kind: KindWebUser, Operator: "carol"})
	if !errors.Is(err, ErrDuplicateIdentity) {
		t.Errorf("Create() duplicate operator error = %v, want ErrDuplicateIdentity", err)
	}

	// Devices may share operator names freely.
	if err := repo.Create(ctx, &Identity{ID: "dev-ccc333", Kind: KindDevice, Operator: "carol"}); err != nil {
		t.Errorf("Create() device with shared operator error = %v", err)
	}
}

func TestSQLiteRepositoryGetByOperator(t *testing.T) {
	repo := NewSQLiteRepository(openTestDB(t))
	ctx := context.Background()

	web := &Identity{ID: "web-aaa111", Kind: KindWebUser, Operator: "carol", PasswordHash: "hash"}
	dev := &Identity{ID: "dev-bbb222", Kind: KindDevice, Operator: "carol"}
	for _, ident := range []*Identity{web, dev} {
		if err := repo.Create(ctx, ident); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	got, err := repo.GetByOperator(ctx, "carol")
	if err != nil {
		t.Fatalf("GetByOperator() error = %v", err)
	}
	// Only the web operator matches, never the device.
	if got.ID != "web-aaa111" {
		t.Errorf("GetByOperator() id = %q, want web-aaa111", got.ID)
	}
	if got.PasswordHash != "hash" {
		t.Error("GetByOperator() did not load password hash")
	}
}

func TestSQLiteRepositoryUpdate(t *testing.T) {
	repo := NewSQLiteRepository(openTestDB(t))
	ctx := context.Background()

	ident := &Identity{ID: "dev-abc123", Kind: KindDevice, Operator: "alice", AuthKey: "key1"}
	if err := repo.Create(ctx, ident); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	ident.Operator = "bob"
	ident.Place = "galley"
	if err := repo.Update(ctx, ident); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, err := repo.GetByID(ctx, "dev-abc123")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Operator != "bob" || got.Place != "galley" || got.AuthKey != "key1" {
		t.Errorf("Update() round-trip = %+v", got)
	}

	missing := &Identity{ID: "dev-nope"}
	if err := repo.Update(ctx, missing); !errors.Is(err, ErrIdentityNotFound) {
		t.Errorf("Update() missing error = %v, want ErrIdentityNotFound", err)
	}
}

func TestSQLiteRepositoryDelete(t *testing.T) {
	repo := NewSQLiteRepository(openTestDB(t))
	ctx := context.Background()

	if err := repo.Create(ctx, &Identity{ID: "dev-abc123", Kind: KindDevice}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	removed, err := repo.Delete(ctx, "dev-abc123")
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if !removed {
		t.Error("Delete() = false, want true")
	}

	removed, err = repo.Delete(ctx, "dev-abc123")
	if err != nil {
		t.Fatalf("Delete() second call error = %v", err)
	}
	if removed {
		t.Error("Delete() of missing row = true, want false")
	}
}

func TestSQLiteRepositoryList(t *testing.T) {
	repo := NewSQLiteRepository(openTestDB(t))
	ctx := context.Background()

	for _, id := range []string{"dev-ccc333", "dev-aaa111", "web-bbb222"} {
		if err := repo.Create(ctx, &Identity{ID: id, Kind: KindOf(id)}); err != nil {
			t.Fatalf("Create(%s) error = %v", id, err)
		}
	}

	list, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("List() length = %d, want 3", len(list))
	}
	// Ordered by id.
	if list[0].ID != "dev-aaa111" {
		t.Errorf("List()[0].ID = %q, want dev-aaa111", list[0].ID)
	}
}
