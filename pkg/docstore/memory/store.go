// Package memory provides an in-memory document store for tests and
// single-process embedding.
package memory

import (
	"context"
	"fmt"
	"sync"

	"docmap/pkg/docstore"
)

// Store keeps documents in per-collection slices guarded by a RWMutex.
// Like the real backends it does not enforce identity uniqueness, so tests
// can stage duplicate-identity corruption.
type Store struct {
	mu          sync.RWMutex
	collections map[string][]docstore.Document
}

// New constructs an empty in-memory store.
func New() *Store {
	return &Store{collections: make(map[string][]docstore.Document)}
}

func (s *Store) InsertOne(_ context.Context, collection string, doc docstore.Document) error {
	if _, ok := doc.Name(); !ok {
		return fmt.Errorf("insert into %s: document carries no identity", collection)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections[collection] = append(s.collections[collection], doc.Clone())
	return nil
}

func (s *Store) FindMany(_ context.Context, collection string, filter docstore.Filter) (docstore.Cursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matches []docstore.Document
	for _, doc := range s.collections[collection] {
		if filter.Matches(doc) {
			matches = append(matches, doc.Clone())
		}
	}
	return docstore.NewSliceCursor(matches), nil
}

func (s *Store) UpdateFields(_ context.Context, collection string, name docstore.ID, fields docstore.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, doc := range s.collections[collection] {
		got, ok := doc.Name()
		if !ok || got != name {
			continue
		}
		for k, v := range fields {
			doc[k] = v
		}
		return nil
	}
	return fmt.Errorf("update %s in %s: %w", name, collection, docstore.ErrNotFound)
}

// Len reports how many documents the collection holds. Test helper.
func (s *Store) Len(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.collections[collection])
}
