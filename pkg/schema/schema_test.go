package schema_test

import (
	"encoding/json"
	"errors"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fraser-isbester/cdfwd/pkg/schema"
)

var testFS = fstest.MapFS{
	"schemas/defs.json": {Data: []byte(`{
		"$defs": {"name": {"type": "string", "minLength": 1}}
	}`)},
	"schemas/person.json": {Data: []byte(`{
		"type": "object",
		"properties": {
			"name": {"$ref": "defs.json#/$defs/name"},
			"age": {"type": "integer", "minimum": 0},
			"email": {"type": "string", "format": "email"}
		},
		"required": ["name"]
	}`)},
	"schemas/README.md": {Data: []byte("ignored")},
}

func TestLoad(t *testing.T) {
	r, err := schema.Load("https://example.test/schemas", testFS, "schemas")
	require.NoError(t, err)

	assert.Equal(t, []string{"defs", "person"}, r.Names())

	s, ok := r.Get("person")
	require.True(t, ok)
	assert.Equal(t, "https://example.test/schemas/person.json", s.URL)

	_, ok = r.Get("README")
	assert.False(t, ok)
}

func TestValidate(t *testing.T) {
	r := schema.MustLoad("https://example.test/schemas", testFS, "schemas")
	s, _ := r.Get("person")

	require.NoError(t, s.Validate([]byte(`{"name": "Ada", "age": 36}`)))

	tests := []struct {
		name string
		doc  string
	}{
		{"missing required", `{"age": 1}`},
		{"referenced constraint", `{"name": ""}`},
		{"wrong type", `{"name": "Ada", "age": "old"}`},
		{"format asserted", `{"name": "Ada", "email": "not-an-email"}`},
		{"not json", `{"name":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Validate([]byte(tt.doc))
			require.Error(t, err)
			assert.ErrorIs(t, err, schema.ErrInvalid)

			var verr *schema.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, "person", verr.Schema)
			assert.NotEmpty(t, verr.Causes)
		})
	}
}

func TestSchemaMarshalsDocument(t *testing.T) {
	r := schema.MustLoad("https://example.test/schemas", testFS, "schemas")
	s, _ := r.Get("person")

	raw, err := json.Marshal(s)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "object", doc["type"])
}

func TestLoadMissingDir(t *testing.T) {
	_, err := schema.Load("https://example.test", testFS, "nope")
	assert.Error(t, err)
}
