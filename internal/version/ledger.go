package version

import (
	"context"
	"fmt"
	"sync"
)

// Logger is the logging interface used by the Ledger.
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

// Ledger is the in-memory authority for collection version counters,
// backed by a Repository for durability.
//
// Counters never decrease through Bump; the in-memory value is bumped
// first and persistence failures are surfaced to the caller while the
// memory value stands, so concurrent readers never observe a rollback.
//
// All methods are safe for concurrent use.
type Ledger struct {
	repo   Repository
	logger Logger

	mu       sync.RWMutex
	versions map[string]int64
}

// NewLedger creates a ledger over the given repository.
func NewLedger(repo Repository) *Ledger {
	return &Ledger{
		repo:     repo,
		logger:   noopLogger{},
		versions: make(map[string]int64),
	}
}

// SetLogger sets the logger for the ledger.
func (l *Ledger) SetLogger(logger Logger) {
	l.logger = logger
}

// RefreshCache loads all persisted counters into memory.
// This should be called on application startup.
func (l *Ledger) RefreshCache(ctx context.Context) error {
	versions, err := l.repo.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("loading collection versions: %w", err)
	}

	l.mu.Lock()
	l.versions = versions
	l.mu.Unlock()

	l.logger.Info("version ledger refreshed", "collections", len(versions))
	return nil
}

// Get returns the current counter for a collection.
// Unknown collections are at version 0.
func (l *Ledger) Get(collection string) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.versions[collection]
}

// All returns a snapshot of every known counter.
func (l *Ledger) All() map[string]int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]int64, len(l.versions))
	for k, v := range l.versions {
		out[k] = v
	}
	return out
}

// Bump increments a collection's counter and persists the new value.
// The returned counter is the post-increment value. A persistence
// failure is returned alongside the already-bumped value; memory is
// authoritative and is not rolled back.
func (l *Ledger) Bump(ctx context.Context, collection string) (int64, error) {
	l.mu.Lock()
	l.versions[collection]++
	next := l.versions[collection]
	l.mu.Unlock()

	if err := l.repo.Set(ctx, collection, next); err != nil {
		l.logger.Error("persisting version bump", "collection", collection, "version", next, "error", err)
		return next, fmt.Errorf("persisting version for %s: %w", collection, err)
	}

	l.logger.Debug("version bumped", "collection", collection, "version", next)
	return next, nil
}

// Set forces a collection's counter to an explicit value and persists it.
// Used by the REST surface when a client supplies its own version header.
func (l *Ledger) Set(ctx context.Context, collection string, version int64) error {
	l.mu.Lock()
	l.versions[collection] = version
	l.mu.Unlock()

	if err := l.repo.Set(ctx, collection, version); err != nil {
		l.logger.Error("persisting version set", "collection", collection, "version", version, "error", err)
		return fmt.Errorf("persisting version for %s: %w", collection, err)
	}
	return nil
}
