// Package docstore defines the contract between the record-mapping layer
// and a schemaless document store.
//
// A store holds documents grouped into named collections. Every document
// carries a reserved identity field (NameField) whose value is a unique
// token generated client-side. The store itself is an opaque collaborator:
// it only needs to insert a document, find documents by field equality, and
// atomically set a subset of fields on a single matched document. Connection
// setup, retries and timeouts all live behind the implementations.
package docstore

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// NameField is the reserved identity field present on every stored
// document. It is never part of a declared record schema.
const NameField = "_name_"

// ID is the unique token identifying one document across all collections.
type ID string

// NewID generates a fresh identity token. IDs are created client-side at
// record construction time and never regenerated.
func NewID() ID {
	return ID(uuid.NewString())
}

func (id ID) String() string { return string(id) }

// Document is one raw stored record: field name to stored value, including
// the reserved NameField.
type Document map[string]Value

// Clone returns an independent copy of the document.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Name extracts the document's identity. The second return is false when
// the identity field is absent or not a string.
func (d Document) Name() (ID, bool) {
	v, ok := d[NameField]
	if !ok {
		return "", false
	}
	s, ok := v.AsString()
	if !ok {
		return "", false
	}
	return ID(s), true
}

// Filter selects documents by field equality: a document matches when every
// filter field is present with an equal value. An empty filter matches all
// documents in the collection.
type Filter map[string]Value

// Matches reports whether doc satisfies the filter. Implementations that
// cannot push filtering into the backend use this for client-side matching.
// References are stored on the wire as plain identity strings, so matching
// folds the reference tag and compares payloads.
func (f Filter) Matches(doc Document) bool {
	for k, want := range f {
		got, ok := doc[k]
		if !ok || !foldRef(got).Equal(foldRef(want)) {
			return false
		}
	}
	return true
}

func foldRef(v Value) Value {
	if id, ok := v.AsRef(); ok {
		return String(string(id))
	}
	return v
}

// Sentinel errors returned by store implementations. Stores return these
// (optionally wrapped) so callers can match with errors.Is without knowing
// the backend.
var (
	// ErrNotFound is returned by UpdateFields when no document in the
	// collection carries the given identity.
	ErrNotFound = errors.New("document not found")
)

// Cursor walks a finite sequence of documents produced by FindMany. It is
// not restartable; a fresh query produces a fresh cursor.
type Cursor interface {
	// Next advances to the next document. It returns false when the
	// sequence is exhausted or an error occurred; check Err afterwards.
	Next(ctx context.Context) bool

	// Document returns the current document. Only valid after a true Next.
	Document() Document

	// Err returns the first error encountered while iterating.
	Err() error

	// Close releases resources held by the cursor. Safe to call more
	// than once.
	Close() error
}

//go:generate mockgen -source=docstore.go -destination=mocks/mocks.go -package=mocks Store,Cursor

// Store is the document store collaborator. Every call is a fresh,
// blocking request; the mapping layer performs no retries and defines no
// timeout semantics of its own.
type Store interface {
	// InsertOne stores a new document in the collection. The document
	// must carry NameField. Implementations do not enforce identity
	// uniqueness; duplicate identities are treated as corruption by the
	// mapping layer on lookup.
	InsertOne(ctx context.Context, collection string, doc Document) error

	// FindMany returns a cursor over all documents in the collection
	// matching the filter.
	FindMany(ctx context.Context, collection string, filter Filter) (Cursor, error)

	// UpdateFields atomically sets the given fields on the single
	// document in the collection carrying the identity. The update is
	// all-or-nothing with respect to that document. Returns ErrNotFound
	// (possibly wrapped) when no document matches.
	UpdateFields(ctx context.Context, collection string, name ID, fields Document) error
}

// sliceCursor adapts an in-memory slice of documents to the Cursor
// interface for backends that materialize results eagerly.
type sliceCursor struct {
	docs []Document
	cur  Document
	err  error
}

// NewSliceCursor wraps already-fetched documents in a Cursor.
func NewSliceCursor(docs []Document) Cursor {
	return &sliceCursor{docs: docs}
}

func (c *sliceCursor) Next(ctx context.Context) bool {
	if c.err != nil || len(c.docs) == 0 {
		return false
	}
	if err := ctx.Err(); err != nil {
		c.err = err
		return false
	}
	c.cur = c.docs[0]
	c.docs = c.docs[1:]
	return true
}

func (c *sliceCursor) Document() Document { return c.cur }

func (c *sliceCursor) Err() error { return c.err }

func (c *sliceCursor) Close() error { return nil }
