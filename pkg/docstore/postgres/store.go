// Package postgres backs the document store contract with PostgreSQL.
// Documents live as jsonb payloads in a single table, one row per
// document, keyed by collection and identity.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"

	"docmap/pkg/docstore"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS documents (
	collection text  NOT NULL,
	name       text  NOT NULL,
	doc        jsonb NOT NULL
);
CREATE INDEX IF NOT EXISTS documents_collection_name_idx
	ON documents (collection, name);
`

// Store is a PostgreSQL-backed document store. Identity uniqueness is
// deliberately not enforced: the mapping layer treats duplicates as
// corruption on lookup, and index strategy beyond the access path is out
// of scope here.
type Store struct {
	db *sql.DB
}

// New wraps an existing database handle. Callers run EnsureSchema once
// before first use.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to the given DSN, verifies the connection and applies the
// schema. Convenience for callers that do not manage the handle
// themselves.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := New(db)
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates the documents table if missing. Idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply document schema: %w", err)
	}
	return nil
}

// Close closes the underlying handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) InsertOne(ctx context.Context, collection string, doc docstore.Document) error {
	name, ok := doc.Name()
	if !ok {
		return fmt.Errorf("insert into %s: document carries no identity", collection)
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document %s: %w", name, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (collection, name, doc) VALUES ($1, $2, $3)`,
		collection, string(name), payload)
	if err != nil {
		return fmt.Errorf("insert %s into %s: %w", name, collection, err)
	}
	return nil
}

func (s *Store) FindMany(ctx context.Context, collection string, filter docstore.Filter) (docstore.Cursor, error) {
	match, err := json.Marshal(docstore.Document(filter))
	if err != nil {
		return nil, fmt.Errorf("encode filter: %w", err)
	}
	// jsonb containment matches every filter field by equality.
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM documents WHERE collection = $1 AND doc @> $2`,
		collection, match)
	if err != nil {
		return nil, fmt.Errorf("find in %s: %w", collection, err)
	}
	return &rowsCursor{rows: rows}, nil
}

func (s *Store) UpdateFields(ctx context.Context, collection string, name docstore.ID, fields docstore.Document) error {
	patch, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode update for %s: %w", name, err)
	}
	// ctid restricts the update to a single physical row, mirroring the
	// exactly-one-record contract even if the store is corrupt.
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET doc = doc || $3
		WHERE ctid IN (
			SELECT ctid FROM documents
			WHERE collection = $1 AND name = $2
			LIMIT 1
		)`,
		collection, string(name), patch)
	if err != nil {
		return fmt.Errorf("update %s in %s: %w", name, collection, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s in %s: %w", name, collection, err)
	}
	if affected == 0 {
		return fmt.Errorf("update %s in %s: %w", name, collection, docstore.ErrNotFound)
	}
	return nil
}

type rowsCursor struct {
	rows *sql.Rows
	cur  docstore.Document
	err  error
}

func (c *rowsCursor) Next(ctx context.Context) bool {
	if c.err != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		c.err = err
		return false
	}
	if !c.rows.Next() {
		return false
	}
	var payload []byte
	if err := c.rows.Scan(&payload); err != nil {
		c.err = err
		return false
	}
	var doc docstore.Document
	if err := json.Unmarshal(payload, &doc); err != nil {
		c.err = fmt.Errorf("decode document: %w", err)
		return false
	}
	c.cur = doc
	return true
}

func (c *rowsCursor) Document() docstore.Document { return c.cur }

func (c *rowsCursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.rows.Err()
}

func (c *rowsCursor) Close() error { return c.rows.Close() }
