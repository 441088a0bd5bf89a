// Package presence maintains the live set of connected identities and
// fans out change notifications to interested subsystems.
package presence

import (
	"context"
	"sync"

	"crewlink/internal/identity"
)

// Resolver turns a connected id into its identity profile.
// Pending ids resolve to nothing and are simply skipped in listings.
type Resolver interface {
	FindByID(ctx context.Context, id string) (*identity.Identity, error)
}

// Listener is notified after every change to the connected set.
// Callbacks run outside the tracker's lock but on the mutating
// goroutine, so they must not block.
type Listener func(id string, connected bool)

// Tracker is the authoritative in-memory set of connected identities.
//
// All methods are safe for concurrent use.
type Tracker struct {
	resolver Resolver

	mu        sync.RWMutex
	connected map[string]struct{}
	listeners []Listener
}

// NewTracker creates an empty presence tracker.
func NewTracker(resolver Resolver) *Tracker {
	return &Tracker{
		resolver:  resolver,
		connected: make(map[string]struct{}),
	}
}

// Subscribe registers a listener for presence changes.
// Listeners cannot be removed; subscribe for the process lifetime.
func (t *Tracker) Subscribe(l Listener) {
	t.mu.Lock()
	t.listeners = append(t.listeners, l)
	t.mu.Unlock()
}

// Connect marks an id as present.
// Reports whether the id was newly added; listeners only fire on an
// actual transition.
func (t *Tracker) Connect(id string) bool {
	t.mu.Lock()
	if _, ok := t.connected[id]; ok {
		t.mu.Unlock()
		return false
	}
	t.connected[id] = struct{}{}
	listeners := append([]Listener(nil), t.listeners...)
	t.mu.Unlock()

	for _, l := range listeners {
		l(id, true)
	}
	return true
}

// Disconnect removes an id from the connected set.
// Listeners fire even when the id was already absent, so downstream
// consumers always observe a disconnect for every closed session.
func (t *Tracker) Disconnect(id string) {
	t.mu.Lock()
	delete(t.connected, id)
	listeners := append([]Listener(nil), t.listeners...)
	t.mu.Unlock()

	for _, l := range listeners {
		l(id, false)
	}
}

// IsConnected reports whether the id is currently present.
func (t *Tracker) IsConnected(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.connected[id]
	return ok
}

// ConnectedCount returns the size of the connected set.
func (t *Tracker) ConnectedCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.connected)
}

// ConnectedIDs returns a snapshot of the connected ids.
func (t *Tracker) ConnectedIDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]string, 0, len(t.connected))
	for id := range t.connected {
		ids = append(ids, id)
	}
	return ids
}

// ListConnected resolves the connected set into credential-free
// identity profiles. Ids the resolver cannot find — pending
// registrations, or identities deleted while still connected — are
// skipped rather than surfaced as errors.
func (t *Tracker) ListConnected(ctx context.Context) []identity.Identity {
	ids := t.ConnectedIDs()

	out := make([]identity.Identity, 0, len(ids))
	for _, id := range ids {
		ident, err := t.resolver.FindByID(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, ident.SafeExport())
	}
	return out
}
