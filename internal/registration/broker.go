// Package registration handles admission of unknown devices.
//
// An unknown connection is parked behind a single-use token until an
// admin approves it. Approval mints a durable device identity whose id
// is the id the pending connection already speaks with, so the device
// needs no reconnect after admission.
package registration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"crewlink/internal/identity"
)

// Domain errors for the registration package.
var (
	// ErrTokenNotFound is returned when a token is unknown, expired,
	// or already consumed.
	ErrTokenNotFound = errors.New("registration: token not found")

	// ErrUnauthorized is returned when the approver does not hold the
	// admin role at the time of approval.
	ErrUnauthorized = errors.New("registration: approver is not admin")
)

// sweepInterval is how often expired tokens are pruned.
const sweepInterval = 30 * time.Second

// Session is the live connection a pending registration is parked on.
// The broker only needs its id; the hub supplies the concrete type.
type Session interface {
	IdentityID() string
}

// Logger is the logging interface used by the Broker.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// pendingEntry is one parked registration awaiting approval.
type pendingEntry struct {
	session   Session
	createdAt time.Time
}

// IdentityStore is the slice of the identity store the broker needs.
type IdentityStore interface {
	Insert(ctx context.Context, ident *identity.Identity) error
	IsAdmin(ctx context.Context, id string) bool
}

// Broker tracks pending registrations and turns approvals into durable
// device identities.
//
// All public methods are thread-safe.
type Broker struct {
	identities IdentityStore
	ttl        time.Duration
	logger     Logger

	mu      sync.Mutex
	pending map[string]pendingEntry // keyed by token
}

// NewBroker creates a registration broker.
// Tokens not approved within ttl are discarded by Run's sweep loop.
func NewBroker(identities IdentityStore, ttl time.Duration) *Broker {
	return &Broker{
		identities: identities,
		ttl:        ttl,
		logger:     noopLogger{},
		pending:    make(map[string]pendingEntry),
	}
}

// SetLogger sets the logger for the broker.
func (b *Broker) SetLogger(logger Logger) {
	b.logger = logger
}

// Begin parks a session behind a fresh single-use token and returns the
// token. The session keeps speaking under the token as its id until an
// admin approves or the token expires.
func (b *Broker) Begin(session Session) string {
	token := identity.NewRegistrationToken()

	b.mu.Lock()
	b.pending[token] = pendingEntry{session: session, createdAt: time.Now()}
	b.mu.Unlock()

	b.logger.Info("registration started", "pending", len(b.Pending()))
	return token
}

// Approve consumes a token and mints a device identity from the patch.
//
// The approver must hold the admin role at the time of the call; any
// other approver gets ErrUnauthorized and the token survives. The new
// identity's id is always the pending session's own id, regardless of
// what the patch might carry, so the approved connection keeps its
// address. The token is consumed only if the insert succeeds.
//
// Returns the minted identity and the parked session it belongs to.
func (b *Broker) Approve(ctx context.Context, token string, patch identity.Patch, approverID string) (*identity.Identity, Session, error) {
	if !b.identities.IsAdmin(ctx, approverID) {
		return nil, nil, ErrUnauthorized
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.pending[token]
	if !ok || time.Since(entry.createdAt) > b.ttl {
		return nil, nil, ErrTokenNotFound
	}

	ident := &identity.Identity{
		ID:       entry.session.IdentityID(),
		Kind:     identity.KindDevice,
		Operator: patch.Operator,
		Place:    patch.Place,
		Icon:     patch.Icon,
		Role:     patch.Role,
		AuthKey:  identity.NewAuthKey(),
	}

	if err := b.identities.Insert(ctx, ident); err != nil {
		return nil, nil, fmt.Errorf("minting identity: %w", err)
	}

	delete(b.pending, token)

	b.logger.Info("registration approved",
		"id", ident.ID,
		"approver", approverID,
	)
	return ident, entry.session, nil
}

// AddPrivileged mints an identity directly, bypassing the token flow.
// Used by the seeding CLI to create the first admin and by the REST
// surface for operator-driven provisioning. The identity's id and auth
// key are generated if absent.
func (b *Broker) AddPrivileged(ctx context.Context, ident *identity.Identity) (string, error) {
	if ident.ID == "" {
		ident.ID = identity.NewDeviceID()
	}
	if ident.AuthKey == "" && identity.KindOf(ident.ID) == identity.KindDevice {
		ident.AuthKey = identity.NewAuthKey()
	}

	if err := b.identities.Insert(ctx, ident); err != nil {
		return "", err
	}
	return ident.AuthKey, nil
}

// Forget drops any pending registrations parked on the given session.
// Called when a connection closes before approval.
func (b *Broker) Forget(session Session) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for token, entry := range b.pending {
		if entry.session == session {
			delete(b.pending, token)
		}
	}
}

// Pending returns the tokens currently awaiting approval.
func (b *Broker) Pending() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	tokens := make([]string, 0, len(b.pending))
	for token := range b.pending {
		tokens = append(tokens, token)
	}
	return tokens
}

// Run sweeps expired tokens until the context is cancelled.
func (b *Broker) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.sweep()
		}
	}
}

// sweep removes tokens older than the configured ttl.
func (b *Broker) sweep() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	for token, entry := range b.pending {
		if now.Sub(entry.createdAt) > b.ttl {
			delete(b.pending, token)
			b.logger.Debug("registration token expired")
		}
	}
}
