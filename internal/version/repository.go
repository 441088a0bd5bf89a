// Package version maintains monotonic per-collection change counters.
// Clients compare these counters against their local state to decide
// when to refetch a collection.
package version

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Repository defines the persistence interface for collection versions.
type Repository interface {
	// LoadAll returns every persisted collection counter.
	LoadAll(ctx context.Context) (map[string]int64, error)

	// Set upserts the counter for a collection.
	Set(ctx context.Context, collection string, version int64) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// LoadAll returns every persisted collection counter.
func (r *SQLiteRepository) LoadAll(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT collection, version FROM collection_versions`)
	if err != nil {
		return nil, fmt.Errorf("querying collection versions: %w", err)
	}
	defer rows.Close()

	versions := make(map[string]int64)
	for rows.Next() {
		var (
			collection string
			version    int64
		)
		if err := rows.Scan(&collection, &version); err != nil {
			return nil, fmt.Errorf("scanning version row: %w", err)
		}
		versions[collection] = version
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating version rows: %w", err)
	}
	return versions, nil
}

// Set upserts the counter for a collection.
func (r *SQLiteRepository) Set(ctx context.Context, collection string, version int64) error {
	query := `
		INSERT INTO collection_versions (collection, version, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (collection) DO UPDATE
		SET version = excluded.version, updated_at = excluded.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		collection,
		version,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting collection version: %w", err)
	}
	return nil
}
