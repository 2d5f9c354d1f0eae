// Package redis backs the document store contract with Redis. Each
// document is one hash (field name to JSON-encoded value); a set per
// collection tracks which identities it holds.
//
// Hash-keyed storage cannot hold two documents with one identity, so the
// duplicate-identity corruption the mapping layer guards against cannot
// arise here; an insert over an existing identity overwrites it.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"docmap/pkg/docstore"
)

const defaultPrefix = "docmap:"

// Store is a Redis-backed document store.
type Store struct {
	client *redis.Client
	prefix string
}

// Option configures a Store.
type Option func(*Store)

// WithKeyPrefix overrides the key namespace, default "docmap:".
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// New wraps an existing Redis client. Connection setup stays with the
// caller.
func New(client *redis.Client, opts ...Option) *Store {
	s := &Store{client: client, prefix: defaultPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *Store) docKey(collection string, name docstore.ID) string {
	return s.prefix + "doc:" + collection + ":" + string(name)
}

func (s *Store) colKey(collection string) string {
	return s.prefix + "col:" + collection
}

func (s *Store) InsertOne(ctx context.Context, collection string, doc docstore.Document) error {
	name, ok := doc.Name()
	if !ok {
		return fmt.Errorf("insert into %s: document carries no identity", collection)
	}
	encoded, err := encodeFields(doc)
	if err != nil {
		return fmt.Errorf("encode document %s: %w", name, err)
	}
	// Pipeline the hash write and the collection index together.
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.docKey(collection, name), encoded)
		pipe.SAdd(ctx, s.colKey(collection), string(name))
		return nil
	})
	if err != nil {
		return fmt.Errorf("insert %s into %s: %w", name, collection, err)
	}
	return nil
}

func (s *Store) FindMany(ctx context.Context, collection string, filter docstore.Filter) (docstore.Cursor, error) {
	names, err := s.client.SMembers(ctx, s.colKey(collection)).Result()
	if err != nil {
		return nil, fmt.Errorf("find in %s: %w", collection, err)
	}
	sort.Strings(names) // deterministic iteration order

	var matches []docstore.Document
	for _, name := range names {
		raw, err := s.client.HGetAll(ctx, s.docKey(collection, docstore.ID(name))).Result()
		if err != nil {
			return nil, fmt.Errorf("find in %s: %w", collection, err)
		}
		if len(raw) == 0 {
			continue // index entry for an expired or deleted hash
		}
		doc, err := decodeFields(raw)
		if err != nil {
			return nil, fmt.Errorf("decode document %s: %w", name, err)
		}
		if filter.Matches(doc) {
			matches = append(matches, doc)
		}
	}
	return docstore.NewSliceCursor(matches), nil
}

func (s *Store) UpdateFields(ctx context.Context, collection string, name docstore.ID, fields docstore.Document) error {
	encoded, err := encodeFields(fields)
	if err != nil {
		return fmt.Errorf("encode update for %s: %w", name, err)
	}
	key := s.docKey(collection, name)
	// Watch the document key so existence check and write are one
	// atomic step; HSET alone would silently create a missing document.
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return docstore.ErrNotFound
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, encoded)
			return nil
		})
		return err
	}, key)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return fmt.Errorf("update %s in %s: %w", name, collection, docstore.ErrNotFound)
		}
		return fmt.Errorf("update %s in %s: %w", name, collection, err)
	}
	return nil
}

func encodeFields(doc docstore.Document) (map[string]string, error) {
	out := make(map[string]string, len(doc))
	for field, value := range doc {
		payload, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		out[field] = string(payload)
	}
	return out, nil
}

func decodeFields(raw map[string]string) (docstore.Document, error) {
	doc := make(docstore.Document, len(raw))
	for field, payload := range raw {
		var value docstore.Value
		if err := json.Unmarshal([]byte(payload), &value); err != nil {
			return nil, err
		}
		doc[field] = value
	}
	return doc, nil
}
