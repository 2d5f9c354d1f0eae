package odm

import (
	"fmt"

	"docmap/pkg/docstore"
)

// Attr declares one field of a record schema: whether it may be modified
// after construction, whether it references another record type, and an
// optional default used when construction omits the field.
//
// A reference attribute must name its target schema and never carries a
// default: the referenced identity is supplied explicitly at construction.
// A non-mutable, non-reference attribute without a default is legal; it
// must be supplied at every construction call and never changes afterwards.
type Attr struct {
	Mutable    bool
	Reference  bool
	Target     *Schema
	Default    docstore.Value
	HasDefault bool
}

// RefAttr declares a reference attribute pointing at target.
func RefAttr(target *Schema, mutable bool) Attr {
	return Attr{Mutable: mutable, Reference: true, Target: target}
}

// DefaultAttr declares a plain attribute with a construction default.
func DefaultAttr(mutable bool, def docstore.Value) Attr {
	return Attr{Mutable: mutable, Default: def, HasDefault: true}
}

// FieldDef pairs a field name with its attribute declaration. Schemas keep
// fields in declaration order.
type FieldDef struct {
	Name string
	Attr Attr
}

// Schema is the static declaration of a record type: the backing
// collection plus an ordered set of attribute declarations. Schemas are
// immutable once built and shared by every instance of the type.
type Schema struct {
	collection string
	order      []string
	attrs      map[string]Attr
}

// NewSchema builds and validates a record schema. Malformed declarations
// fail with ErrSchema.
func NewSchema(collection string, fields []FieldDef) (*Schema, error) {
	s := &Schema{
		collection: collection,
		order:      make([]string, 0, len(fields)),
		attrs:      make(map[string]Attr, len(fields)),
	}
	for _, f := range fields {
		if _, dup := s.attrs[f.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate field %q in %q", ErrSchema, f.Name, collection)
		}
		s.order = append(s.order, f.Name)
		s.attrs[f.Name] = f.Attr
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// MustSchema is NewSchema for package-level schema declarations; it panics
// on a malformed schema.
func MustSchema(collection string, fields []FieldDef) *Schema {
	s, err := NewSchema(collection, fields)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Schema) validate() error {
	if s.collection == "" {
		return fmt.Errorf("%w: empty collection name", ErrSchema)
	}
	for _, name := range s.order {
		attr := s.attrs[name]
		if name == "" {
			return fmt.Errorf("%w: empty field name in %q", ErrSchema, s.collection)
		}
		if name == docstore.NameField {
			return fmt.Errorf("%w: field %q collides with the reserved identity field", ErrSchema, name)
		}
		if attr.Reference {
			if attr.Target == nil {
				return fmt.Errorf("%w: reference field %q has no target schema", ErrSchema, name)
			}
			if attr.HasDefault {
				return fmt.Errorf("%w: reference field %q cannot carry a default", ErrSchema, name)
			}
		} else if attr.Target != nil {
			return fmt.Errorf("%w: field %q has a target schema but is not a reference", ErrSchema, name)
		}
		if attr.HasDefault && attr.Default.Kind() == docstore.KindRef {
			return fmt.Errorf("%w: field %q default cannot be a reference value", ErrSchema, name)
		}
	}
	return nil
}

// Collection returns the backing collection name.
func (s *Schema) Collection() string { return s.collection }

// Fields returns the field names in declaration order.
func (s *Schema) Fields() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Attr looks up one field's declaration.
func (s *Schema) Attr(name string) (Attr, bool) {
	a, ok := s.attrs[name]
	return a, ok
}

// rawValue validates a caller-supplied value against the attribute and
// translates it to the raw stored form. Reference attributes accept only a
// live *Record of the declared target type and store its identity; plain
// attributes accept a docstore.Value of any non-reference kind.
func rawValue(field string, attr Attr, value any) (docstore.Value, error) {
	if attr.Reference {
		rec, ok := value.(*Record)
		if !ok || rec == nil {
			return docstore.Value{}, fmt.Errorf("%w: field %q expects a record of %q", ErrWrongType, field, attr.Target.Collection())
		}
		if rec.schema != attr.Target {
			return docstore.Value{}, fmt.Errorf("%w: field %q expects a record of %q, got %q", ErrWrongType, field, attr.Target.Collection(), rec.schema.Collection())
		}
		return docstore.Ref(rec.name), nil
	}
	v, ok := value.(docstore.Value)
	if !ok {
		return docstore.Value{}, fmt.Errorf("%w: field %q expects a store value, got %T", ErrWrongType, field, value)
	}
	if v.Kind() == docstore.KindRef {
		return docstore.Value{}, fmt.Errorf("%w: field %q is not a reference", ErrWrongType, field)
	}
	return v, nil
}
