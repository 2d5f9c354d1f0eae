//go:build integration

package redis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"docmap/pkg/docstore"
	"docmap/pkg/odm"
	"docmap/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	ctx       context.Context
	container *containers.RedisContainer
	store     *Store
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.ctx = context.Background()
	s.container = containers.GetManager().GetRedis(s.T())
	s.store = New(s.container.Client)
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.container.FlushAll(s.ctx))
}

func (s *RedisStoreSuite) collect(cur docstore.Cursor) []docstore.Document {
	defer cur.Close()
	var docs []docstore.Document
	for cur.Next(s.ctx) {
		docs = append(docs, cur.Document())
	}
	s.Require().NoError(cur.Err())
	return docs
}

func (s *RedisStoreSuite) TestInsertAndFindRoundTrip() {
	doc := docstore.Document{
		docstore.NameField: docstore.String("c1"),
		"name":             docstore.String("Rome"),
		"population":       docstore.Int(2873000),
		"area":             docstore.Float(1285.3),
		"ancient":          docstore.Bool(true),
		"motto":            docstore.Null(),
	}
	s.Require().NoError(s.store.InsertOne(s.ctx, "cities", doc))

	cur, err := s.store.FindMany(s.ctx, "cities", docstore.Filter{docstore.NameField: docstore.String("c1")})
	s.Require().NoError(err)
	docs := s.collect(cur)
	s.Require().Len(docs, 1)
	s.Equal(doc, docs[0], "every value kind survives the hash round trip")
}

func (s *RedisStoreSuite) TestReferencesTravelAsIdentityStrings() {
	doc := docstore.Document{
		docstore.NameField: docstore.String("p1"),
		"name":             docstore.String("Romulus"),
		"city":             docstore.Ref("c1"),
	}
	s.Require().NoError(s.store.InsertOne(s.ctx, "people", doc))

	cur, err := s.store.FindMany(s.ctx, "people", docstore.Filter{"city": docstore.Ref("c1")})
	s.Require().NoError(err)
	docs := s.collect(cur)
	s.Require().Len(docs, 1)
	s.Equal(docstore.String("c1"), docs[0]["city"])
}

func (s *RedisStoreSuite) TestFindFiltersByEquality() {
	for _, name := range []string{"Rome", "Alba Longa", "Veii"} {
		ancient := name != "Rome"
		s.Require().NoError(s.store.InsertOne(s.ctx, "cities", docstore.Document{
			docstore.NameField: docstore.String(docstore.NewID()),
			"name":             docstore.String(name),
			"ancient":          docstore.Bool(ancient),
		}))
	}

	cur, err := s.store.FindMany(s.ctx, "cities", docstore.Filter{"ancient": docstore.Bool(true)})
	s.Require().NoError(err)
	s.Len(s.collect(cur), 2)

	cur, err = s.store.FindMany(s.ctx, "cities", docstore.Filter{})
	s.Require().NoError(err)
	s.Len(s.collect(cur), 3, "an empty filter matches the whole collection")
}

func (s *RedisStoreSuite) TestUpdateFieldsMergesPatch() {
	s.Require().NoError(s.store.InsertOne(s.ctx, "cities", docstore.Document{
		docstore.NameField: docstore.String("c1"),
		"population":       docstore.Int(1),
		"ancient":          docstore.Bool(false),
	}))

	err := s.store.UpdateFields(s.ctx, "cities", "c1", docstore.Document{"population": docstore.Int(5)})
	s.Require().NoError(err)

	cur, err := s.store.FindMany(s.ctx, "cities", docstore.Filter{docstore.NameField: docstore.String("c1")})
	s.Require().NoError(err)
	docs := s.collect(cur)
	s.Require().Len(docs, 1)
	s.Equal(docstore.Int(5), docs[0]["population"])
	s.Equal(docstore.Bool(false), docs[0]["ancient"], "untouched fields survive")
}

func (s *RedisStoreSuite) TestUpdateMissingDocument() {
	err := s.store.UpdateFields(s.ctx, "cities", "nope", docstore.Document{"population": docstore.Int(5)})
	s.Require().ErrorIs(err, docstore.ErrNotFound)
}

func (s *RedisStoreSuite) TestKeyPrefixIsolation() {
	a := New(s.container.Client, WithKeyPrefix("a:"))
	b := New(s.container.Client, WithKeyPrefix("b:"))

	s.Require().NoError(a.InsertOne(s.ctx, "cities", docstore.Document{
		docstore.NameField: docstore.String("c1"),
	}))

	cur, err := b.FindMany(s.ctx, "cities", docstore.Filter{})
	s.Require().NoError(err)
	s.Empty(s.collect(cur), "prefixes namespace the stores apart")
}

// TestMappingOverRedis runs the record layer end to end against the real
// backend.
func (s *RedisStoreSuite) TestMappingOverRedis() {
	city, err := odm.NewSchema("cities", []odm.FieldDef{
		{Name: "name", Attr: odm.Attr{}},
		{Name: "population", Attr: odm.Attr{Mutable: true}},
	})
	s.Require().NoError(err)

	writer := odm.New(s.store)
	rome, err := writer.Create(s.ctx, city, odm.Fields{
		"name":       docstore.String("Rome"),
		"population": docstore.Int(1),
	})
	s.Require().NoError(err)
	s.Require().NoError(rome.Set(s.ctx, "population", docstore.Int(5)))

	reader := odm.New(s.store)
	again, err := reader.FindOne(s.ctx, city, rome.Name())
	s.Require().NoError(err)
	population, err := again.Get("population")
	s.Require().NoError(err)
	s.Equal(docstore.Int(5), population, "the durable write is visible to a fresh Context")
}
