package odm

import (
	"context"
	"fmt"
	"iter"
	"runtime"
	"sync"
	"time"
	"weak"

	"golang.org/x/sync/singleflight"

	"docmap/pkg/changefeed"
	"docmap/pkg/docstore"
	"docmap/pkg/odm/metrics"
)

// Context owns the store handle and the identity map. It mediates every
// record creation, lookup and persistence operation, and guarantees that
// within one Context at most one live Record exists per identity.
//
// The cache holds weak references only: the Context never keeps an
// otherwise-unreferenced record alive. Once the last strong holder drops a
// record it may be reclaimed, and the next lookup re-materializes it from
// the store. That is safe because every write is synchronously persisted
// before local state changes.
type Context struct {
	store   docstore.Store
	metrics *metrics.Metrics
	feed    *changefeed.Recorder

	cache  cache
	flight singleflight.Group
}

// Option configures a Context.
type Option func(*Context)

// WithMetrics wires prometheus metrics into the Context.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Context) { c.metrics = m }
}

// WithChangefeed emits a change event after every successful insert and
// update. Recording is non-blocking; a full recorder drops events.
func WithChangefeed(rec *changefeed.Recorder) Option {
	return func(c *Context) { c.feed = rec }
}

// New constructs a Context over the given store.
func New(store docstore.Store, opts ...Option) *Context {
	c := &Context{store: store}
	c.cache.init()
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// FindOne returns the live record of the given type carrying the identity.
// A cache hit returns the cached instance without store contact. On a miss
// the collection is queried: zero matches fail with ErrNotFound, more than
// one with ErrIntegrity (duplicate identities signal corruption and are
// not retried). Concurrent misses on one identity are collapsed so only a
// single instance is ever materialized and registered.
func (c *Context) FindOne(ctx context.Context, schema *Schema, name docstore.ID) (*Record, error) {
	if rec, ok := c.cache.get(name); ok {
		c.metrics.IncCacheHit()
		return c.checkedType(rec, schema, name)
	}
	c.metrics.IncCacheMiss()

	v, err, _ := c.flight.Do(string(name), func() (any, error) {
		if rec, ok := c.cache.get(name); ok {
			return rec, nil
		}
		doc, err := c.fetchOne(ctx, schema, name)
		if err != nil {
			return nil, err
		}
		rec, err := materialize(c, schema, doc)
		if err != nil {
			return nil, err
		}
		c.metrics.IncMaterialization()
		return c.cache.intern(rec), nil
	})
	if err != nil {
		return nil, err
	}
	return c.checkedType(v.(*Record), schema, name)
}

// FindAll returns a lazy, non-restartable sequence of records matching the
// filter, driven by the store's cursor. Identities already live in the
// cache yield the cached instance; everything else is materialized and
// registered as the sequence advances.
func (c *Context) FindAll(ctx context.Context, schema *Schema, filter docstore.Filter) iter.Seq2[*Record, error] {
	return func(yield func(*Record, error) bool) {
		start := time.Now()
		cur, err := c.store.FindMany(ctx, schema.collection, filter)
		c.metrics.ObserveStoreOp("find", time.Since(start))
		if err != nil {
			yield(nil, fmt.Errorf("find in %q: %w", schema.collection, err))
			return
		}
		defer cur.Close()

		for cur.Next(ctx) {
			doc := cur.Document()
			name, ok := doc.Name()
			if !ok {
				yield(nil, fmt.Errorf("%w: stored document in %q carries no identity", ErrIntegrity, schema.collection))
				return
			}
			rec, ok := c.cache.get(name)
			if !ok {
				rec, err = materialize(c, schema, doc)
				if err != nil {
					yield(nil, err)
					return
				}
				c.metrics.IncMaterialization()
				rec = c.cache.intern(rec)
			}
			rec, err := c.checkedType(rec, schema, name)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
		if err := cur.Err(); err != nil {
			yield(nil, fmt.Errorf("find in %q: %w", schema.collection, err))
		}
	}
}

// Create builds a new record with a fresh identity, registers it in the
// identity map and synchronously persists it. The constructor itself never
// contacts the store; persistence is the separate insert that follows. If
// the insert fails the cache entry is rolled back so no phantom instance
// stays observable, and the error propagates.
func (c *Context) Create(ctx context.Context, schema *Schema, fields Fields) (*Record, error) {
	return c.create(ctx, schema, docstore.NewID(), fields)
}

// CreateWithName is Create with a caller-supplied identity. The identity
// must not already be live in this Context.
func (c *Context) CreateWithName(ctx context.Context, schema *Schema, name docstore.ID, fields Fields) (*Record, error) {
	if _, ok := c.cache.get(name); ok {
		return nil, fmt.Errorf("%w: identity %s is already live", ErrIntegrity, name)
	}
	return c.create(ctx, schema, name, fields)
}

func (c *Context) create(ctx context.Context, schema *Schema, name docstore.ID, fields Fields) (*Record, error) {
	rec, err := newRecord(c, schema, name, fields)
	if err != nil {
		return nil, err
	}
	rec = c.cache.intern(rec)

	doc := rec.document()
	start := time.Now()
	err = c.store.InsertOne(ctx, schema.collection, doc)
	c.metrics.ObserveStoreOp("insert", time.Since(start))
	if err != nil {
		c.cache.drop(rec)
		c.metrics.IncCreateRollback()
		return nil, fmt.Errorf("insert into %q: %w", schema.collection, err)
	}

	c.feed.Record(ctx, changefeed.Event{
		Op:         changefeed.OpInsert,
		Collection: schema.collection,
		Name:       rec.name,
		Fields:     doc,
		At:         time.Now(),
	})
	return rec, nil
}

// updateFields commits a validated field update for the record, store
// first. Called by Record.Set and Record.SetMany.
func (c *Context) updateFields(ctx context.Context, rec *Record, fields docstore.Document) error {
	start := time.Now()
	err := c.store.UpdateFields(ctx, rec.schema.collection, rec.name, fields)
	c.metrics.ObserveStoreOp("update", time.Since(start))
	if err != nil {
		return fmt.Errorf("update %s in %q: %w", rec.name, rec.schema.collection, err)
	}
	c.feed.Record(ctx, changefeed.Event{
		Op:         changefeed.OpUpdate,
		Collection: rec.schema.collection,
		Name:       rec.name,
		Fields:     fields,
		At:         time.Now(),
	})
	return nil
}

// fetchOne queries the collection by identity and demands exactly one
// match.
func (c *Context) fetchOne(ctx context.Context, schema *Schema, name docstore.ID) (docstore.Document, error) {
	filter := docstore.Filter{docstore.NameField: docstore.String(string(name))}
	start := time.Now()
	cur, err := c.store.FindMany(ctx, schema.collection, filter)
	c.metrics.ObserveStoreOp("find", time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("find %s in %q: %w", name, schema.collection, err)
	}
	defer cur.Close()

	var doc docstore.Document
	matches := 0
	for cur.Next(ctx) && matches < 2 {
		doc = cur.Document()
		matches++
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("find %s in %q: %w", name, schema.collection, err)
	}
	switch matches {
	case 0:
		return nil, fmt.Errorf("%w: %s in %q", ErrNotFound, name, schema.collection)
	case 1:
		return doc, nil
	default:
		return nil, fmt.Errorf("%w: identity %s appears more than once in %q", ErrIntegrity, name, schema.collection)
	}
}

// checkedType guards against an identity cached under a different record
// type: identities are globally unique, so a hit of the wrong type means
// the caller mixed up schemas.
func (c *Context) checkedType(rec *Record, schema *Schema, name docstore.ID) (*Record, error) {
	if rec.schema != schema {
		return nil, fmt.Errorf("%w: identity %s belongs to %q, not %q", ErrWrongType, name, rec.schema.collection, schema.collection)
	}
	return rec, nil
}

// cache is the weak identity map. The critical sections around its map
// never perform I/O; store calls happen outside the lock.
type cache struct {
	mu      sync.Mutex
	entries map[docstore.ID]weak.Pointer[Record]
}

func (m *cache) init() {
	m.entries = make(map[docstore.ID]weak.Pointer[Record])
}

// get returns the live record for the identity, pruning a dead entry.
func (m *cache) get(name docstore.ID) (*Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.entries[name]
	if !ok {
		return nil, false
	}
	if rec := p.Value(); rec != nil {
		return rec, true
	}
	delete(m.entries, name)
	return nil, false
}

// intern registers the record under its identity unless a live instance
// already holds it, in which case the existing instance wins and the
// candidate is discarded. This is the single-instance-per-identity
// critical section: check and insert happen under one lock with no I/O.
func (m *cache) intern(rec *Record) *Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.entries[rec.name]; ok {
		if live := p.Value(); live != nil {
			return live
		}
	}
	p := weak.Make(rec)
	m.entries[rec.name] = p
	// Reclaim the slot once the instance is collected. The pointer
	// comparison keeps a stale cleanup from evicting a newer entry
	// registered under the same identity.
	runtime.AddCleanup(rec, func(name docstore.ID) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if cur, ok := m.entries[name]; ok && cur == p {
			delete(m.entries, name)
		}
	}, rec.name)
	return rec
}

// drop removes the record's entry if it still owns the slot. Used to roll
// back a registration after a failed insert.
func (m *cache) drop(rec *Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.entries[rec.name]; ok && cur == weak.Make(rec) {
		delete(m.entries, rec.name)
	}
}
