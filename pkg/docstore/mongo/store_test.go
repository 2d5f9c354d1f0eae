package mongo

import (
	"testing"

	"github.com/stretchr/testify/require"

	"docmap/pkg/docstore"
)

func TestBSONRoundTrip(t *testing.T) {
	doc := docstore.Document{
		docstore.NameField: docstore.String("c1"),
		"ref":              docstore.Ref("c2"),
		"count":            docstore.Int(3),
		"whole":            docstore.Float(3),
		"ratio":            docstore.Float(1.5),
		"flag":             docstore.Bool(true),
		"none":             docstore.Null(),
	}
	payload, err := toBSON(doc)
	require.NoError(t, err)

	raw := make(map[string]any, len(payload)+1)
	for _, e := range payload {
		raw[e.Key] = e.Value
	}
	raw["_id"] = "mongo-internal" // dropped on decode

	back, err := fromBSON(raw)
	require.NoError(t, err)
	require.Equal(t, docstore.Document{
		docstore.NameField: docstore.String("c1"),
		"ref":              docstore.String("c2"), // references travel as identity strings
		"count":            docstore.Int(3),
		"whole":            docstore.Int(3), // integral doubles fold back to ints
		"ratio":            docstore.Float(1.5),
		"flag":             docstore.Bool(true),
		"none":             docstore.Null(),
	}, back)
}

func TestBSONInt32(t *testing.T) {
	back, err := fromBSON(map[string]any{"count": int32(7)})
	require.NoError(t, err)
	require.Equal(t, docstore.Int(7), back["count"])
}

func TestBSONRejectsUnsupportedStoredType(t *testing.T) {
	_, err := fromBSON(map[string]any{"tags": []any{"a"}})
	require.Error(t, err)
}
