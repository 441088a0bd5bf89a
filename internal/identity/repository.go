package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for identity persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByID retrieves an identity by its unique identifier.
	// Returns ErrIdentityNotFound if the identity does not exist.
	GetByID(ctx context.Context, id string) (*Identity, error)

	// GetByOperator retrieves a web operator by name.
	// Returns ErrIdentityNotFound if no web operator has that name.
	GetByOperator(ctx context.Context, operator string) (*Identity, error)

	// List retrieves all identities.
	List(ctx context.Context) ([]Identity, error)

	// Create inserts a new identity.
	// Returns ErrDuplicateIdentity on an id or operator-name collision.
	Create(ctx context.Context, ident *Identity) error

	// Update modifies the profile fields of an existing identity.
	// Returns ErrIdentityNotFound if the identity does not exist.
	Update(ctx context.Context, ident *Identity) error

	// Delete removes an identity by id.
	// Reports whether a row was actually removed.
	Delete(ctx context.Context, id string) (bool, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection with the
// identities table migrated.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const identityColumns = `id, kind, operator, place, icon, role, auth_key, password_hash, created_at, updated_at`

// GetByID retrieves an identity by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE id = ?`

	ident, err := scanIdentity(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrIdentityNotFound
		}
		return nil, fmt.Errorf("querying identity by id: %w", err)
	}
	return ident, nil
}

// GetByOperator retrieves a web operator by name.
func (r *SQLiteRepository) GetByOperator(ctx context.Context, operator string) (*Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE kind = ? AND operator = ?`

	ident, err := scanIdentity(r.db.QueryRowContext(ctx, query, string(KindWebUser), operator))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrIdentityNotFound
		}
		return nil, fmt.Errorf("querying identity by operator: %w", err)
	}
	return ident, nil
}

// List retrieves all identities ordered by id.
func (r *SQLiteRepository) List(ctx context.Context) ([]Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying identities: %w", err)
	}
	defer rows.Close()

	var identities []Identity
	for rows.Next() {
		ident, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning identity row: %w", err)
		}
		identities = append(identities, *ident)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating identities: %w", err)
	}
	return identities, nil
}

// Create inserts a new identity.
func (r *SQLiteRepository) Create(ctx context.Context, ident *Identity) error {
	now := time.Now().UTC()
	ident.CreatedAt = now
	ident.UpdatedAt = now

	query := `
		INSERT INTO identities (` + identityColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		ident.ID,
		string(ident.Kind),
		ident.Operator,
		ident.Place,
		ident.Icon,
		string(ident.Role),
		ident.AuthKey,
		ident.PasswordHash,
		now.Format(time.RFC3339),
		now.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateIdentity
		}
		return fmt.Errorf("inserting identity: %w", err)
	}
	return nil
}

// Update modifies the profile fields of an existing identity.
// Credentials (auth_key, password_hash) are updated too, so callers must
// carry them over from the existing record when patching profile fields.
func (r *SQLiteRepository) Update(ctx context.Context, ident *Identity) error {
	ident.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE identities
		SET operator = ?, place = ?, icon = ?, role = ?,
			auth_key = ?, password_hash = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		ident.Operator,
		ident.Place,
		ident.Icon,
		string(ident.Role),
		ident.AuthKey,
		ident.PasswordHash,
		ident.UpdatedAt.Format(time.RFC3339),
		ident.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateIdentity
		}
		return fmt.Errorf("updating identity: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if rows == 0 {
		return ErrIdentityNotFound
	}
	return nil
}

// Delete removes an identity by id.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM identities WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("deleting identity: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking delete result: %w", err)
	}
	return rows > 0, nil
}

// scanner abstracts sql.Row and sql.Rows for shared scanning.
type scanner interface {
	Scan(dest ...any) error
}

// scanIdentity scans a single identity row.
func scanIdentity(s scanner) (*Identity, error) {
	var (
		ident     Identity
		kind      string
		role      string
		createdAt string
		updatedAt string
	)

	err := s.Scan(
		&ident.ID,
		&kind,
		&ident.Operator,
		&ident.Place,
		&ident.Icon,
		&role,
		&ident.AuthKey,
		&ident.PasswordHash,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	ident.Kind = Kind(kind)
	ident.Role = Role(role)
	ident.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // Format is controlled
	ident.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // Format is controlled

	return &ident, nil
}

// isUniqueViolation reports whether err is a SQLite unique constraint failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
