package identity

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// MockRepository is a test implementation of Repository.
type MockRepository struct {
	mu         sync.Mutex
	identities map[string]*Identity
	// For testing error paths
	createErr error
	updateErr error
	deleteErr error
}

func NewMockRepository() *MockRepository {
	return &MockRepository{
		identities: make(map[string]*Identity),
	}
}

func (m *MockRepository) GetByID(_ context.Context, id string) (*Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ident, ok := m.identities[id]; ok {
		copy := *ident
		return &copy, nil
	}
	return nil, ErrIdentityNotFound
}

func (m *MockRepository) GetByOperator(_ context.Context, operator string) (*Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ident := range m.identities {
		if ident.Kind == KindWebUser && ident.Operator == operator {
			copy := *ident
			return &copy, nil
		}
	}
	return nil, ErrIdentityNotFound
}

func (m *MockRepository) List(_ context.Context) ([]Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	identities := make([]Identity, 0, len(m.identities))
	for _, ident := range m.identities {
		identities = append(identities, *ident)
	}
	return identities, nil
}

func (m *MockRepository) Create(_ context.Context, ident *Identity) error {
	if m.createErr != nil {
		return m.createErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.identities[ident.ID]; exists {
		return ErrDuplicateIdentity
	}

	copy := *ident
	m.identities[ident.ID] = &copy
	return nil
}

func (m *MockRepository) Update(_ context.Context, ident *Identity) error {
	if m.updateErr != nil {
		return m.updateErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.identities[ident.ID]; !exists {
		return ErrIdentityNotFound
	}

	copy := *ident
	m.identities[ident.ID] = &copy
	return nil
}

func (m *MockRepository) Delete(_ context.Context, id string) (bool, error) {
	if m.deleteErr != nil {
		return false, m.deleteErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.identities[id]; !exists {
		return false, nil
	}
	delete(m.identities, id)
	return true, nil
}

func testDevice(id string) *Identity {
	return &Identity{
		ID:       id,
		Kind:     KindDevice,
		Operator: "alice",
		Place:    "bridge",
		Icon:     "anchor",
		Role:     RoleMember,
		AuthKey:  NewAuthKey(),
	}
}

func TestStoreInsertAndFind(t *testing.T) {
	store := NewStore(NewMockRepository())
	ctx := context.Background()

	ident := testDevice("dev-abc123")
	if err := store.Insert(ctx, ident); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	got, err := store.FindByID(ctx, "dev-abc123")
	if err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	if got.Operator != "alice" {
		t.Errorf("Operator = %q, want alice", got.Operator)
	}
	if got.Kind != KindDevice {
		t.Errorf("Kind = %q, want %q", got.Kind, KindDevice)
	}
}

func TestStoreFindMissing(t *testing.T) {
	store := NewStore(NewMockRepository())

	_, err := store.FindByID(context.Background(), "dev-nope")
	if !errors.Is(err, ErrIdentityNotFound) {
		t.Errorf("FindByID() error = %v, want ErrIdentityNotFound", err)
	}
}

func TestStoreInsertDuplicate(t *testing.T) {
	store := NewStore(NewMockRepository())
	ctx := context.Background()

	if err := store.Insert(ctx, testDevice("dev-abc123")); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	err := store.Insert(ctx, testDevice("dev-abc123"))
	if !errors.Is(err, ErrDuplicateIdentity) {
		t.Errorf("Insert() duplicate error = %v, want ErrDuplicateIdentity", err)
	}
}

func TestStoreUpdatePreservesCredentials(t *testing.T) {
	store := NewStore(NewMockRepository())
	ctx := context.Background()

	ident := testDevice("dev-abc123")
	key := ident.AuthKey
	if err := store.Insert(ctx, ident); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	updated, err := store.Update(ctx, "dev-abc123", Patch{
		Operator: "bob",
		Place:    "engine room",
		Icon:     "gear",
		Role:     RoleAdmin,
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	if updated.Operator != "bob" {
		t.Errorf("Operator = %q, want bob", updated.Operator)
	}
	if updated.AuthKey != key {
		t.Error("Update() should preserve auth key")
	}

	got, err := store.FindByID(ctx, "dev-abc123")
	if err != nil {
		t.Fatalf("FindByID() after update error = %v", err)
	}
	if got.Place != "engine room" {
		t.Errorf("Place = %q, want engine room", got.Place)
	}
}

func TestStoreUpdateMissing(t *testing.T) {
	store := NewStore(NewMockRepository())

	_, err := store.Update(context.Background(), "dev-nope", Patch{Operator: "x"})
	if !errors.Is(err, ErrIdentityNotFound) {
		t.Errorf("Update() error = %v, want ErrIdentityNotFound", err)
	}
}

func TestStoreRemove(t *testing.T) {
	store := NewStore(NewMockRepository())
	ctx := context.Background()

	if err := store.Insert(ctx, testDevice("dev-abc123")); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	removed, err := store.Remove(ctx, "dev-abc123")
	if err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if !removed {
		t.Error("Remove() = false, want true")
	}

	removed, err = store.Remove(ctx, "dev-abc123")
	if err != nil {
		t.Fatalf("Remove() second call error = %v", err)
	}
	if removed {
		t.Error("Remove() of missing identity = true, want false")
	}
}

func TestStoreAuthenticate(t *testing.T) {
	store := NewStore(NewMockRepository())
	ctx := context.Background()

	ident := testDevice("dev-abc123")
	key := ident.AuthKey
	if err := store.Insert(ctx, ident); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	if !store.Authenticate(ctx, "dev-abc123", key) {
		t.Error("Authenticate() with correct key = false, want true")
	}
	if store.Authenticate(ctx, "dev-abc123", "wrong") {
		t.Error("Authenticate() with wrong key = true, want false")
	}
	if store.Authenticate(ctx, "dev-missing", key) {
		t.Error("Authenticate() with unknown id = true, want false")
	}
	if store.Authenticate(ctx, "dev-abc123", "") {
		t.Error("Authenticate() with empty key = true, want false")
	}
}

func TestStoreIsAdmin(t *testing.T) {
	store := NewStore(NewMockRepository())
	ctx := context.Background()

	admin := testDevice("dev-admin1")
	admin.Role = RoleAdmin
	member := testDevice("dev-membr1")

	if err := store.Insert(ctx, admin); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := store.Insert(ctx, member); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	if !store.IsAdmin(ctx, "dev-admin1") {
		t.Error("IsAdmin(admin) = false, want true")
	}
	if store.IsAdmin(ctx, "dev-membr1") {
		t.Error("IsAdmin(member) = true, want false")
	}
	if store.IsAdmin(ctx, "dev-ghost1") {
		t.Error("IsAdmin(missing) = true, want false")
	}
}

func TestStoreRefreshCache(t *testing.T) {
	repo := NewMockRepository()
	store := NewStore(repo)
	ctx := context.Background()

	repo.identities["dev-aaa111"] = testDevice("dev-aaa111")
	repo.identities["web-bbb222"] = &Identity{ID: "web-bbb222", Kind: KindWebUser, Operator: "carol", Role: RoleWebUser}

	if err := store.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}
	if store.Count() != 2 {
		t.Errorf("Count() = %d, want 2", store.Count())
	}

	got, err := store.FindByOperator(ctx, "carol")
	if err != nil {
		t.Fatalf("FindByOperator() error = %v", err)
	}
	if got.ID != "web-bbb222" {
		t.Errorf("FindByOperator() id = %q, want web-bbb222", got.ID)
	}
}
