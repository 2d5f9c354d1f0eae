package odm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"docmap/pkg/docstore"
	"docmap/pkg/docstore/memory"
	"docmap/pkg/docstore/mocks"
)

type RecordSuite struct {
	suite.Suite
	ctx    context.Context
	store  *memory.Store
	odm    *Context
	city   *Schema
	person *Schema
}

func TestRecordSuite(t *testing.T) {
	suite.Run(t, new(RecordSuite))
}

func (s *RecordSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memory.New()
	s.odm = New(s.store)
	s.city = citySchema(s.T())
	s.person = personSchema(s.T(), s.city)
}

func (s *RecordSuite) rome() *Record {
	rec, err := s.odm.Create(s.ctx, s.city, Fields{
		"name":       docstore.String("Rome"),
		"population": docstore.Int(1),
	})
	s.Require().NoError(err)
	return rec
}

func (s *RecordSuite) TestConstructionAppliesDefaults() {
	rome := s.rome()

	ancient, err := rome.Get("ancient")
	s.Require().NoError(err)
	s.Equal(docstore.Bool(false), ancient, "omitted field takes its default")

	name, err := rome.Get("name")
	s.Require().NoError(err)
	s.Equal(docstore.String("Rome"), name)
}

func (s *RecordSuite) TestConstructionRejectsMissingField() {
	_, err := s.odm.Create(s.ctx, s.city, Fields{"name": docstore.String("Rome")})
	s.Require().ErrorIs(err, ErrMissingField, "population has no default")
	s.Equal(0, s.store.Len("cities"), "nothing was persisted")
}

func (s *RecordSuite) TestConstructionRejectsUnexpectedField() {
	_, err := s.odm.Create(s.ctx, s.city, Fields{
		"name":       docstore.String("Rome"),
		"population": docstore.Int(1),
		"climate":    docstore.String("mild"),
	})
	s.Require().ErrorIs(err, ErrUnexpectedField)
}

func (s *RecordSuite) TestConstructionRejectsWrongTypes() {
	rome := s.rome()

	s.Run("plain field given a raw Go value", func() {
		_, err := s.odm.Create(s.ctx, s.city, Fields{
			"name":       "Rome", // must be docstore.String("Rome")
			"population": docstore.Int(1),
		})
		s.Require().ErrorIs(err, ErrWrongType)
	})

	s.Run("plain field given a reference value", func() {
		_, err := s.odm.Create(s.ctx, s.city, Fields{
			"name":       docstore.Ref(rome.Name()),
			"population": docstore.Int(1),
		})
		s.Require().ErrorIs(err, ErrWrongType)
	})

	s.Run("reference field given a plain value", func() {
		_, err := s.odm.Create(s.ctx, s.person, Fields{
			"name": docstore.String("Romulus"),
			"age":  docstore.Int(30),
			"city": docstore.String(string(rome.Name())),
		})
		s.Require().ErrorIs(err, ErrWrongType)
	})

	s.Run("reference field given a record of the wrong type", func() {
		romulus, err := s.odm.Create(s.ctx, s.person, Fields{
			"name": docstore.String("Romulus"),
			"age":  docstore.Int(30),
			"city": rome,
		})
		s.Require().NoError(err)

		_, err = s.odm.Create(s.ctx, s.person, Fields{
			"name": docstore.String("Remus"),
			"age":  docstore.Int(30),
			"city": romulus, // a person, not a city
		})
		s.Require().ErrorIs(err, ErrWrongType)
	})
}

func (s *RecordSuite) TestGetUnknownAttribute() {
	rome := s.rome()
	_, err := rome.Get("altitude")
	s.Require().ErrorIs(err, ErrUnknownAttribute)
}

func (s *RecordSuite) TestSetPersistsBeforeLocalState() {
	rome := s.rome()
	s.Require().NoError(rome.Set(s.ctx, "population", docstore.Int(5)))

	got, err := rome.Get("population")
	s.Require().NoError(err)
	s.Equal(docstore.Int(5), got)

	// A fresh Context reads the durable state back from the store.
	other := New(s.store)
	again, err := other.FindOne(s.ctx, s.city, rome.Name())
	s.Require().NoError(err)
	got, err = again.Get("population")
	s.Require().NoError(err)
	s.Equal(docstore.Int(5), got)
}

func (s *RecordSuite) TestSetReadOnlyField() {
	rome := s.rome()
	err := rome.Set(s.ctx, "name", docstore.String("X"))
	s.Require().ErrorIs(err, ErrReadOnly)

	name, err := rome.Get("name")
	s.Require().NoError(err)
	s.Equal(docstore.String("Rome"), name, "value is untouched")
}

func (s *RecordSuite) TestSetUnknownAttribute() {
	rome := s.rome()
	err := rome.Set(s.ctx, "altitude", docstore.Int(21))
	s.Require().ErrorIs(err, ErrUnknownAttribute)
}

func (s *RecordSuite) TestFailedStoreWriteLeavesStateUntouched() {
	ctrl := gomock.NewController(s.T())
	store := mocks.NewMockStore(ctrl)
	odm := New(store)

	store.EXPECT().InsertOne(gomock.Any(), "cities", gomock.Any()).Return(nil)
	rome, err := odm.Create(s.ctx, s.city, Fields{
		"name":       docstore.String("Rome"),
		"population": docstore.Int(1),
	})
	s.Require().NoError(err)

	storeErr := errors.New("connection reset")
	store.EXPECT().
		UpdateFields(gomock.Any(), "cities", rome.Name(), docstore.Document{"population": docstore.Int(5)}).
		Return(storeErr)

	err = rome.Set(s.ctx, "population", docstore.Int(5))
	s.Require().ErrorIs(err, storeErr, "the store failure propagates unchanged")

	got, err := rome.Get("population")
	s.Require().NoError(err)
	s.Equal(docstore.Int(1), got, "local state still mirrors the last durable state")
}

func (s *RecordSuite) TestSetManyCommitsAtomically() {
	rome := s.rome()
	s.Require().NoError(rome.SetMany(s.ctx, Fields{
		"population": docstore.Int(9),
		"ancient":    docstore.Bool(true),
	}))

	population, err := rome.Get("population")
	s.Require().NoError(err)
	s.Equal(docstore.Int(9), population)
	ancient, err := rome.Get("ancient")
	s.Require().NoError(err)
	s.Equal(docstore.Bool(true), ancient)
}

func (s *RecordSuite) TestSetManyValidatesBeforeAnyStoreContact() {
	ctrl := gomock.NewController(s.T())
	store := mocks.NewMockStore(ctrl)
	odm := New(store)

	store.EXPECT().InsertOne(gomock.Any(), "cities", gomock.Any()).Return(nil)
	rome, err := odm.Create(s.ctx, s.city, Fields{
		"name":       docstore.String("Rome"),
		"population": docstore.Int(1),
	})
	s.Require().NoError(err)

	// "name" is read-only, so the whole batch fails with no store call:
	// the mock has no UpdateFields expectation.
	err = rome.SetMany(s.ctx, Fields{
		"population": docstore.Int(5),
		"name":       docstore.String("X"),
	})
	s.Require().ErrorIs(err, ErrReadOnly)

	population, err := rome.Get("population")
	s.Require().NoError(err)
	s.Equal(docstore.Int(1), population, "no field of the batch was applied")
}

func (s *RecordSuite) TestSetManyEmptyBatchIsANoOp() {
	ctrl := gomock.NewController(s.T())
	store := mocks.NewMockStore(ctrl)
	odm := New(store)

	store.EXPECT().InsertOne(gomock.Any(), "cities", gomock.Any()).Return(nil)
	rome, err := odm.Create(s.ctx, s.city, Fields{
		"name":       docstore.String("Rome"),
		"population": docstore.Int(1),
	})
	s.Require().NoError(err)

	s.Require().NoError(rome.SetMany(s.ctx, nil))
}

func (s *RecordSuite) TestReferenceRoundTrip() {
	rome := s.rome()
	romulus, err := s.odm.Create(s.ctx, s.person, Fields{
		"name": docstore.String("Romulus"),
		"age":  docstore.Int(18),
		"city": rome,
	})
	s.Require().NoError(err)

	raw, err := romulus.Get("city")
	s.Require().NoError(err)
	s.Equal(docstore.Ref(rome.Name()), raw, "the raw value is the identity, not the object")

	city, err := romulus.Resolve(s.ctx, "city")
	s.Require().NoError(err)
	s.Same(rome, city, "within one Context the reference resolves to the live instance")

	name, err := city.Get("name")
	s.Require().NoError(err)
	s.Equal(docstore.String("Rome"), name)
}

func (s *RecordSuite) TestResolveAcrossContexts() {
	rome := s.rome()
	romulus, err := s.odm.Create(s.ctx, s.person, Fields{
		"name": docstore.String("Romulus"),
		"age":  docstore.Int(18),
		"city": rome,
	})
	s.Require().NoError(err)

	other := New(s.store)
	p, err := other.FindOne(s.ctx, s.person, romulus.Name())
	s.Require().NoError(err)
	city, err := p.Resolve(s.ctx, "city")
	s.Require().NoError(err)
	s.Equal(rome.Name(), city.Name(), "same identity across Contexts")
	s.NotSame(rome, city, "distinct Contexts hold distinct instances")
}

func (s *RecordSuite) TestResolveNonReference() {
	rome := s.rome()
	_, err := rome.Resolve(s.ctx, "population")
	s.Require().ErrorIs(err, ErrWrongType)
	_, err = rome.Resolve(s.ctx, "altitude")
	s.Require().ErrorIs(err, ErrUnknownAttribute)
}

func (s *RecordSuite) TestSetReference() {
	rome := s.rome()
	alba, err := s.odm.Create(s.ctx, s.city, Fields{
		"name":       docstore.String("Alba Longa"),
		"population": docstore.Int(1),
	})
	s.Require().NoError(err)

	romulus, err := s.odm.Create(s.ctx, s.person, Fields{
		"name": docstore.String("Romulus"),
		"age":  docstore.Int(18),
		"city": alba,
	})
	s.Require().NoError(err)

	s.Require().NoError(romulus.Set(s.ctx, "city", rome))
	city, err := romulus.Resolve(s.ctx, "city")
	s.Require().NoError(err)
	s.Same(rome, city)

	err = romulus.Set(s.ctx, "city", docstore.String("not a record"))
	s.Require().ErrorIs(err, ErrWrongType)
}

func (s *RecordSuite) TestRecordLevelConveniences() {
	rome := s.rome()

	alba, err := rome.NewLike(s.ctx, Fields{
		"name":       docstore.String("Alba Longa"),
		"population": docstore.Int(1),
	})
	s.Require().NoError(err)
	s.Same(s.city, alba.Schema())

	found, err := rome.FindOne(s.ctx, alba.Name())
	s.Require().NoError(err)
	s.Same(alba, found)

	var names []docstore.ID
	for rec, err := range rome.FindAll(s.ctx, docstore.Filter{}) {
		s.Require().NoError(err)
		names = append(names, rec.Name())
	}
	s.ElementsMatch(names, []docstore.ID{rome.Name(), alba.Name()})
}
