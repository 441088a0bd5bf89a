// Package collection is a small schemaless document store. Each named
// collection holds JSON documents addressed by an "_id" field, mirroring
// the shape the REST surface exposes to clients.
package collection

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Domain errors for the collection package.
var (
	// ErrDocumentNotFound is returned when a document id does not exist
	// in the collection.
	ErrDocumentNotFound = errors.New("collection: document not found")
)

// IDField is the document field holding the document's id.
const IDField = "_id"

// Document is a schemaless JSON object. Every stored document carries
// its id in the IDField key.
type Document map[string]any

// ID returns the document's id, or "" if unset.
func (d Document) ID() string {
	id, _ := d[IDField].(string)
	return id
}

// Store persists documents in the documents table, one row per
// (collection, id) pair.
type Store struct {
	db *sql.DB
}

// NewStore creates a document store over an open database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Find returns all documents in a collection, oldest first.
func (s *Store) Find(ctx context.Context, collection string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM documents WHERE collection = ? ORDER BY created_at, id`,
		collection,
	)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	docs := make([]Document, 0)
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scanning document row: %w", err)
		}

		var doc Document
		if err := json.Unmarshal([]byte(body), &doc); err != nil {
			return nil, fmt.Errorf("decoding document: %w", err)
		}
		docs = append(docs, doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}
	return docs, nil
}

// Get returns a single document by id.
// Returns ErrDocumentNotFound if absent.
func (s *Store) Get(ctx context.Context, collection, id string) (Document, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM documents WHERE collection = ? AND id = ?`,
		collection, id,
	).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDocumentNotFound
		}
		return nil, fmt.Errorf("querying document: %w", err)
	}

	var doc Document
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("decoding document: %w", err)
	}
	return doc, nil
}

// Insert stores a new document. A missing id is generated.
// Returns the stored document including its id.
func (s *Store) Insert(ctx context.Context, collection string, doc Document) (Document, error) {
	if doc == nil {
		doc = Document{}
	}
	if doc.ID() == "" {
		doc[IDField] = uuid.NewString()
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encoding document: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, body, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		collection, doc.ID(), string(body), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting document: %w", err)
	}
	return doc, nil
}

// Update merges the given fields into an existing document.
// Returns ErrDocumentNotFound if the document does not exist.
func (s *Store) Update(ctx context.Context, collection, id string, fields Document) (Document, error) {
	existing, err := s.Get(ctx, collection, id)
	if err != nil {
		return nil, err
	}

	for k, v := range fields {
		if k == IDField {
			continue // the id is immutable
		}
		existing[k] = v
	}

	body, err := json.Marshal(existing)
	if err != nil {
		return nil, fmt.Errorf("encoding document: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	result, err := s.db.ExecContext(ctx,
		`UPDATE documents SET body = ?, updated_at = ? WHERE collection = ? AND id = ?`,
		string(body), now, collection, id,
	)
	if err != nil {
		return nil, fmt.Errorf("updating document: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking update result: %w", err)
	}
	if rows == 0 {
		return nil, ErrDocumentNotFound
	}
	return existing, nil
}

// Replace overwrites a document wholesale, keeping its id.
// Returns ErrDocumentNotFound if the document does not exist.
func (s *Store) Replace(ctx context.Context, collection, id string, doc Document) (Document, error) {
	if doc == nil {
		doc = Document{}
	}
	doc[IDField] = id

	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encoding document: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	result, err := s.db.ExecContext(ctx,
		`UPDATE documents SET body = ?, updated_at = ? WHERE collection = ? AND id = ?`,
		string(body), now, collection, id,
	)
	if err != nil {
		return nil, fmt.Errorf("replacing document: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking replace result: %w", err)
	}
	if rows == 0 {
		return nil, ErrDocumentNotFound
	}
	return doc, nil
}

// SetAll replaces a collection's entire contents in one transaction.
// Existing documents are discarded; missing ids on the incoming
// documents are generated. Returns the stored documents.
func (s *Store) SetAll(ctx context.Context, collection string, docs []Document) ([]Document, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = ?`, collection,
	); err != nil {
		return nil, fmt.Errorf("clearing collection: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	out := make([]Document, 0, len(docs))
	for _, doc := range docs {
		if doc == nil {
			doc = Document{}
		}
		if doc.ID() == "" {
			doc[IDField] = uuid.NewString()
		}

		body, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("encoding document: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO documents (collection, id, body, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?)`,
			collection, doc.ID(), string(body), now, now,
		); err != nil {
			return nil, fmt.Errorf("inserting document: %w", err)
		}
		out = append(out, doc)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing replace: %w", err)
	}
	return out, nil
}

// Remove deletes a document by id.
// Reports whether a document was actually removed.
func (s *Store) Remove(ctx context.Context, collection, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = ? AND id = ?`,
		collection, id,
	)
	if err != nil {
		return false, fmt.Errorf("deleting document: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking delete result: %w", err)
	}
	return rows > 0, nil
}
