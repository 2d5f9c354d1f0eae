package odm

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"docmap/pkg/docstore"
)

// Schema files declare record types without code:
//
//	schemas:
//	  city:
//	    collection: cities
//	    fields:
//	      - name: name
//	      - name: population
//	        mutable: true
//	      - name: ancient
//	        default: false
//	  person:
//	    collection: people
//	    fields:
//	      - name: name
//	      - name: city
//	        mutable: true
//	        ref: city
//
// References name other schemas in the same file, forward and cyclic
// declarations included.

type schemaFile struct {
	Schemas map[string]schemaDef `yaml:"schemas"`
}

type schemaDef struct {
	Collection string     `yaml:"collection"`
	Fields     []fieldDef `yaml:"fields"`
}

type fieldDef struct {
	Name    string     `yaml:"name"`
	Mutable bool       `yaml:"mutable"`
	Ref     string     `yaml:"ref"`
	Default *yaml.Node `yaml:"default"`
}

// LoadSchemas parses a YAML schema file and returns the built schemas
// keyed by their declared name. Malformed declarations, unknown reference
// targets and invalid defaults fail with ErrSchema.
func LoadSchemas(r io.Reader) (map[string]*Schema, error) {
	var file schemaFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	if len(file.Schemas) == 0 {
		return nil, fmt.Errorf("%w: no schemas declared", ErrSchema)
	}

	// References may point forward or form cycles, so build shells first
	// and fill attributes once every target exists.
	schemas := make(map[string]*Schema, len(file.Schemas))
	for name := range file.Schemas {
		schemas[name] = &Schema{attrs: make(map[string]Attr)}
	}
	for name, def := range file.Schemas {
		s := schemas[name]
		s.collection = def.Collection
		for _, f := range def.Fields {
			if _, dup := s.attrs[f.Name]; dup {
				return nil, fmt.Errorf("%w: duplicate field %q in %q", ErrSchema, f.Name, name)
			}
			attr := Attr{Mutable: f.Mutable}
			if f.Ref != "" {
				target, ok := schemas[f.Ref]
				if !ok {
					return nil, fmt.Errorf("%w: field %q of %q references unknown schema %q", ErrSchema, f.Name, name, f.Ref)
				}
				attr.Reference = true
				attr.Target = target
			}
			if f.Default != nil {
				dv, err := scalarValue(f.Default)
				if err != nil {
					return nil, fmt.Errorf("%w: field %q of %q: %v", ErrSchema, f.Name, name, err)
				}
				attr.Default = dv
				attr.HasDefault = true
			}
			s.order = append(s.order, f.Name)
			s.attrs[f.Name] = attr
		}
	}
	for name, s := range schemas {
		if err := s.validate(); err != nil {
			return nil, fmt.Errorf("schema %q: %w", name, err)
		}
	}
	return schemas, nil
}

// scalarValue converts a YAML scalar node into a store value.
func scalarValue(node *yaml.Node) (docstore.Value, error) {
	if node.Kind != yaml.ScalarNode {
		return docstore.Value{}, fmt.Errorf("default must be a scalar")
	}
	switch node.Tag {
	case "!!null":
		return docstore.Null(), nil
	case "!!bool":
		var b bool
		if err := node.Decode(&b); err != nil {
			return docstore.Value{}, err
		}
		return docstore.Bool(b), nil
	case "!!int":
		var i int64
		if err := node.Decode(&i); err != nil {
			return docstore.Value{}, err
		}
		return docstore.Int(i), nil
	case "!!float":
		var f float64
		if err := node.Decode(&f); err != nil {
			return docstore.Value{}, err
		}
		return docstore.Float(f), nil
	case "!!str":
		return docstore.String(node.Value), nil
	default:
		return docstore.Value{}, fmt.Errorf("unsupported default tag %s", node.Tag)
	}
}
