package identity

import (
	"context"
	"crypto/subtle"
	"fmt"
	"sync"
)

// Logger defines the logging interface used by the Store.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Store provides identity management with caching and thread safety.
// It wraps a Repository and adds an in-memory cache for fast lookups.
//
// The cache is authoritative once populated via RefreshCache(); writes
// go to the repository first and the cache is updated on success.
//
// All public methods are thread-safe.
type Store struct {
	repo    Repository
	cache   map[string]*Identity // Cached identities by id
	cacheMu sync.RWMutex         // Protects cache
	logger  Logger
}

// NewStore creates a new identity store.
// The repository is used for persistence; the store adds caching.
func NewStore(repo Repository) *Store {
	return &Store{
		repo:   repo,
		cache:  make(map[string]*Identity),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// RefreshCache reloads all identities from the repository into the cache.
// This should be called on application startup.
func (s *Store) RefreshCache(ctx context.Context) error {
	identities, err := s.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading identities: %w", err)
	}

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	s.cache = make(map[string]*Identity, len(identities))
	for i := range identities {
		ident := identities[i]
		s.cache[ident.ID] = &ident
	}

	s.logger.Info("identity cache refreshed", "count", len(identities))
	return nil
}

// FindByID retrieves an identity by id.
// Returns ErrIdentityNotFound if the identity does not exist.
// The returned identity is a copy; callers can safely modify it.
func (s *Store) FindByID(ctx context.Context, id string) (*Identity, error) {
	s.cacheMu.RLock()
	cached, ok := s.cache[id]
	s.cacheMu.RUnlock()

	if ok {
		out := *cached
		return &out, nil
	}

	// Fall back to repository (might be a new identity not yet cached)
	ident, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheMu.Lock()
	copied := *ident
	s.cache[id] = &copied
	s.cacheMu.Unlock()

	return ident, nil
}

// FindByOperator retrieves a web operator by name.
// Returns ErrIdentityNotFound if no web operator has that name.
func (s *Store) FindByOperator(ctx context.Context, operator string) (*Identity, error) {
	s.cacheMu.RLock()
	for _, ident := range s.cache {
		if ident.Kind == KindWebUser && ident.Operator == operator {
			out := *ident
			s.cacheMu.RUnlock()
			return &out, nil
		}
	}
	s.cacheMu.RUnlock()

	return s.repo.GetByOperator(ctx, operator)
}

// List retrieves all identities.
// The returned identities are copies; callers can safely modify them.
func (s *Store) List(ctx context.Context) ([]Identity, error) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()

	if len(s.cache) > 0 {
		identities := make([]Identity, 0, len(s.cache))
		for _, ident := range s.cache {
			identities = append(identities, *ident)
		}
		return identities, nil
	}

	return s.repo.List(ctx)
}

// Insert persists a new identity and caches it.
// Returns ErrDuplicateIdentity on an id or operator-name collision.
func (s *Store) Insert(ctx context.Context, ident *Identity) error {
	if ident.Kind == "" || ident.Kind == KindUnknown {
		ident.Kind = KindOf(ident.ID)
	}

	if err := s.repo.Create(ctx, ident); err != nil {
		return err
	}

	s.cacheMu.Lock()
	copied := *ident
	s.cache[ident.ID] = &copied
	s.cacheMu.Unlock()

	s.logger.Info("identity created", "id", ident.ID, "kind", ident.Kind)
	return nil
}

// Update applies a profile patch to an existing identity.
// The id, kind and credential fields are preserved; only the profile
// fields from the patch are replaced. Empty patch fields clear the
// corresponding profile field.
// Returns the updated identity.
func (s *Store) Update(ctx context.Context, id string, patch Patch) (*Identity, error) {
	existing, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	updated := *existing
	updated.Operator = patch.Operator
	updated.Place = patch.Place
	updated.Icon = patch.Icon
	updated.Role = patch.Role

	if err := s.repo.Update(ctx, &updated); err != nil {
		return nil, err
	}

	s.cacheMu.Lock()
	copied := updated
	s.cache[id] = &copied
	s.cacheMu.Unlock()

	s.logger.Info("identity updated", "id", id)
	return &updated, nil
}

// Remove deletes an identity.
// Reports whether an identity was actually removed.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	removed, err := s.repo.Delete(ctx, id)
	if err != nil {
		return false, err
	}

	s.cacheMu.Lock()
	delete(s.cache, id)
	s.cacheMu.Unlock()

	if removed {
		s.logger.Info("identity removed", "id", id)
	}
	return removed, nil
}

// Authenticate checks an id/key pair against the stored auth key.
// The comparison is constant-time. Identities without an auth key
// never match.
func (s *Store) Authenticate(ctx context.Context, id, key string) bool {
	ident, err := s.FindByID(ctx, id)
	if err != nil {
		return false
	}
	if ident.AuthKey == "" || key == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(ident.AuthKey), []byte(key)) == 1
}

// IsAdmin reports whether the identity exists and holds the admin role.
func (s *Store) IsAdmin(ctx context.Context, id string) bool {
	ident, err := s.FindByID(ctx, id)
	if err != nil {
		return false
	}
	return ident.Role.IsAdmin()
}

// Count returns the number of cached identities.
func (s *Store) Count() int {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return len(s.cache)
}
