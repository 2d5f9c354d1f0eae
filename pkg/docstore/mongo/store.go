// Package mongo backs the document store contract with MongoDB. Documents
// are indexed by the reserved identity field, never by Mongo's own _id.
package mongo

import (
	"context"
	"fmt"
	"math"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"docmap/pkg/docstore"
)

// Store is a MongoDB-backed document store.
type Store struct {
	db *mongo.Database
}

// New wraps an existing database handle. Connection setup stays with the
// caller.
func New(db *mongo.Database) *Store {
	return &Store{db: db}
}

// Open connects to the given URI and database. Convenience for callers
// that do not manage the client themselves.
func Open(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return New(client.Database(database)), nil
}

// Close disconnects the underlying client.
func (s *Store) Close(ctx context.Context) error {
	return s.db.Client().Disconnect(ctx)
}

func (s *Store) InsertOne(ctx context.Context, collection string, doc docstore.Document) error {
	name, ok := doc.Name()
	if !ok {
		return fmt.Errorf("insert into %s: document carries no identity", collection)
	}
	payload, err := toBSON(doc)
	if err != nil {
		return fmt.Errorf("encode document %s: %w", name, err)
	}
	if _, err := s.db.Collection(collection).InsertOne(ctx, payload); err != nil {
		return fmt.Errorf("insert %s into %s: %w", name, collection, err)
	}
	return nil
}

func (s *Store) FindMany(ctx context.Context, collection string, filter docstore.Filter) (docstore.Cursor, error) {
	match, err := toBSON(docstore.Document(filter))
	if err != nil {
		return nil, fmt.Errorf("encode filter: %w", err)
	}
	cur, err := s.db.Collection(collection).Find(ctx, match)
	if err != nil {
		return nil, fmt.Errorf("find in %s: %w", collection, err)
	}
	return &mongoCursor{cur: cur}, nil
}

func (s *Store) UpdateFields(ctx context.Context, collection string, name docstore.ID, fields docstore.Document) error {
	set, err := toBSON(fields)
	if err != nil {
		return fmt.Errorf("encode update for %s: %w", name, err)
	}
	res, err := s.db.Collection(collection).UpdateOne(ctx,
		bson.D{{Key: docstore.NameField, Value: string(name)}},
		bson.D{{Key: "$set", Value: set}})
	if err != nil {
		return fmt.Errorf("update %s in %s: %w", name, collection, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("update %s in %s: %w", name, collection, docstore.ErrNotFound)
	}
	return nil
}

type mongoCursor struct {
	cur *mongo.Cursor
	doc docstore.Document
	err error
}

func (c *mongoCursor) Next(ctx context.Context) bool {
	if c.err != nil {
		return false
	}
	if !c.cur.Next(ctx) {
		return false
	}
	var raw bson.M
	if err := c.cur.Decode(&raw); err != nil {
		c.err = fmt.Errorf("decode document: %w", err)
		return false
	}
	doc, err := fromBSON(raw)
	if err != nil {
		c.err = err
		return false
	}
	c.doc = doc
	return true
}

func (c *mongoCursor) Document() docstore.Document { return c.doc }

func (c *mongoCursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.cur.Err()
}

func (c *mongoCursor) Close() error {
	return c.cur.Close(context.Background())
}

// toBSON flattens store values into BSON-native scalars. References travel
// as their plain identity string, same as the JSON backends.
func toBSON(doc docstore.Document) (bson.D, error) {
	out := make(bson.D, 0, len(doc))
	for field, value := range doc {
		switch value.Kind() {
		case docstore.KindNull:
			out = append(out, bson.E{Key: field, Value: nil})
		case docstore.KindBool:
			b, _ := value.AsBool()
			out = append(out, bson.E{Key: field, Value: b})
		case docstore.KindInt:
			i, _ := value.AsInt()
			out = append(out, bson.E{Key: field, Value: i})
		case docstore.KindFloat:
			f, _ := value.AsFloat()
			out = append(out, bson.E{Key: field, Value: f})
		case docstore.KindString:
			s, _ := value.AsString()
			out = append(out, bson.E{Key: field, Value: s})
		case docstore.KindRef:
			id, _ := value.AsRef()
			out = append(out, bson.E{Key: field, Value: string(id)})
		default:
			return nil, fmt.Errorf("field %q: unsupported value kind %s", field, value.Kind())
		}
	}
	return out, nil
}

// fromBSON rebuilds store values from decoded BSON, dropping Mongo's own
// _id field. Integral doubles come back as ints, matching the JSON
// backends' number handling.
func fromBSON(raw bson.M) (docstore.Document, error) {
	doc := make(docstore.Document, len(raw))
	for field, value := range raw {
		if field == "_id" {
			continue
		}
		switch v := value.(type) {
		case nil:
			doc[field] = docstore.Null()
		case bool:
			doc[field] = docstore.Bool(v)
		case int32:
			doc[field] = docstore.Int(int64(v))
		case int64:
			doc[field] = docstore.Int(v)
		case float64:
			if v == math.Trunc(v) && !math.IsInf(v, 0) {
				doc[field] = docstore.Int(int64(v))
			} else {
				doc[field] = docstore.Float(v)
			}
		case string:
			doc[field] = docstore.String(v)
		default:
			return nil, fmt.Errorf("field %q: unsupported stored type %T", field, value)
		}
	}
	return doc, nil
}
