package odm

import (
	"context"
	"fmt"
	"iter"
	"sync"

	"docmap/pkg/docstore"
)

// Fields carries caller-supplied construction or update values. Plain
// attributes take a docstore.Value; reference attributes take the live
// *Record being referenced. Anything else fails with ErrWrongType.
type Fields map[string]any

// Record is one live, identity-bearing instance of a record type. It holds
// the raw stored values (reference fields hold the referenced identity,
// not the object) and a back-pointer to the owning Context, which mediates
// every lookup and persistence operation.
//
// Within one Context at most one Record exists per identity; instances are
// obtained through the Context, never constructed directly.
type Record struct {
	schema *Schema
	name   docstore.ID
	owner  *Context

	mu     sync.RWMutex
	fields map[string]docstore.Value
}

// newRecord builds local record state without contacting the store.
// Fields are processed in schema declaration order: caller value first,
// then the attribute default, otherwise ErrMissingField. Leftover caller
// keys fail with ErrUnexpectedField.
func newRecord(owner *Context, schema *Schema, name docstore.ID, fields Fields) (*Record, error) {
	rest := make(Fields, len(fields))
	for k, v := range fields {
		rest[k] = v
	}

	raw := make(map[string]docstore.Value, len(schema.order))
	for _, field := range schema.order {
		attr := schema.attrs[field]
		value, supplied := rest[field]
		delete(rest, field)
		switch {
		case supplied:
			rv, err := rawValue(field, attr, value)
			if err != nil {
				return nil, err
			}
			raw[field] = rv
		case attr.HasDefault:
			raw[field] = attr.Default
		default:
			return nil, fmt.Errorf("%w: %q has no default and was not supplied", ErrMissingField, field)
		}
	}
	for field := range rest {
		return nil, fmt.Errorf("%w: %q is not declared by %q", ErrUnexpectedField, field, schema.collection)
	}

	return &Record{schema: schema, name: name, owner: owner, fields: raw}, nil
}

// materialize rebuilds a record from a raw stored document. Reference
// fields come back from the wire as plain identity strings and are
// re-tagged from the schema. Stored fields the schema does not declare are
// ignored; a declared field absent from the document with no default marks
// the document as corrupt.
func materialize(owner *Context, schema *Schema, doc docstore.Document) (*Record, error) {
	name, ok := doc.Name()
	if !ok {
		return nil, fmt.Errorf("%w: stored document in %q carries no identity", ErrIntegrity, schema.collection)
	}
	raw := make(map[string]docstore.Value, len(schema.order))
	for _, field := range schema.order {
		attr := schema.attrs[field]
		v, ok := doc[field]
		if !ok {
			if attr.HasDefault {
				raw[field] = attr.Default
				continue
			}
			return nil, fmt.Errorf("%w: document %s in %q misses field %q", ErrIntegrity, name, schema.collection, field)
		}
		if attr.Reference {
			if s, isStr := v.AsString(); isStr {
				v = docstore.Ref(docstore.ID(s))
			} else if _, isRef := v.AsRef(); !isRef {
				return nil, fmt.Errorf("%w: document %s in %q holds a non-identity value in reference field %q", ErrIntegrity, name, schema.collection, field)
			}
		}
		raw[field] = v
	}
	return &Record{schema: schema, name: name, owner: owner, fields: raw}, nil
}

// Schema returns the record's type declaration.
func (r *Record) Schema() *Schema { return r.schema }

// Name returns the record's identity.
func (r *Record) Name() docstore.ID { return r.name }

// Get returns the raw stored value of a field. Reference fields yield the
// referenced identity; use Resolve to obtain the live record.
func (r *Record) Get(field string) (docstore.Value, error) {
	if _, ok := r.schema.attrs[field]; !ok {
		return docstore.Value{}, fmt.Errorf("%w: %q on %q", ErrUnknownAttribute, field, r.schema.collection)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fields[field], nil
}

// Resolve reads a reference field and returns the live record it points
// at, going through the owning Context's identity map. It may contact the
// store and can fail with ErrNotFound or ErrIntegrity.
func (r *Record) Resolve(ctx context.Context, field string) (*Record, error) {
	attr, ok := r.schema.attrs[field]
	if !ok {
		return nil, fmt.Errorf("%w: %q on %q", ErrUnknownAttribute, field, r.schema.collection)
	}
	if !attr.Reference {
		return nil, fmt.Errorf("%w: %q on %q is not a reference", ErrWrongType, field, r.schema.collection)
	}
	r.mu.RLock()
	raw := r.fields[field]
	r.mu.RUnlock()
	name, ok := raw.AsRef()
	if !ok {
		return nil, fmt.Errorf("%w: reference field %q holds no identity", ErrIntegrity, field)
	}
	return r.owner.FindOne(ctx, attr.Target, name)
}

// Set writes one field. The new value is validated, committed to the store
// first, and only on success copied into local state: after a store
// failure the in-memory record still mirrors the last durable state.
func (r *Record) Set(ctx context.Context, field string, value any) error {
	raw, err := r.validateWrite(field, value)
	if err != nil {
		return err
	}
	update := docstore.Document{field: raw}
	if err := r.owner.updateFields(ctx, r, update); err != nil {
		return err
	}
	r.mu.Lock()
	r.fields[field] = raw
	r.mu.Unlock()
	return nil
}

// SetMany writes several fields as one atomic store update. Every field is
// validated before the store is contacted; either all fields commit
// together or the call fails with no local change.
func (r *Record) SetMany(ctx context.Context, fields Fields) error {
	if len(fields) == 0 {
		return nil
	}
	update := make(docstore.Document, len(fields))
	for field, value := range fields {
		raw, err := r.validateWrite(field, value)
		if err != nil {
			return err
		}
		update[field] = raw
	}
	if err := r.owner.updateFields(ctx, r, update); err != nil {
		return err
	}
	r.mu.Lock()
	for field, raw := range update {
		r.fields[field] = raw
	}
	r.mu.Unlock()
	return nil
}

func (r *Record) validateWrite(field string, value any) (docstore.Value, error) {
	attr, ok := r.schema.attrs[field]
	if !ok {
		return docstore.Value{}, fmt.Errorf("%w: %q on %q", ErrUnknownAttribute, field, r.schema.collection)
	}
	if !attr.Mutable {
		return docstore.Value{}, fmt.Errorf("%w: %q on %q", ErrReadOnly, field, r.schema.collection)
	}
	return rawValue(field, attr, value)
}

// FindOne looks up another record of this record's type by identity.
func (r *Record) FindOne(ctx context.Context, name docstore.ID) (*Record, error) {
	return r.owner.FindOne(ctx, r.schema, name)
}

// FindAll queries records of this record's type.
func (r *Record) FindAll(ctx context.Context, filter docstore.Filter) iter.Seq2[*Record, error] {
	return r.owner.FindAll(ctx, r.schema, filter)
}

// NewLike creates and persists a new record of this record's type.
func (r *Record) NewLike(ctx context.Context, fields Fields) (*Record, error) {
	return r.owner.Create(ctx, r.schema, fields)
}

// document assembles the full raw document, identity included, for insert.
func (r *Record) document() docstore.Document {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc := make(docstore.Document, len(r.fields)+1)
	doc[docstore.NameField] = docstore.String(string(r.name))
	for k, v := range r.fields {
		doc[k] = v
	}
	return doc
}
