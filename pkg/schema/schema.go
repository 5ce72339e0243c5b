// Package schema compiles embedded JSON Schema documents and validates JSON
// documents against them.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Schema is a compiled JSON Schema document.
type Schema struct {
	Name     string
	URL      string
	doc      json.RawMessage
	compiled *jsonschema.Schema
}

// Document returns the raw JSON Schema document.
func (s *Schema) Document() json.RawMessage {
	return s.doc
}

func (s *Schema) MarshalJSON() ([]byte, error) {
	return s.doc, nil
}

// Validate checks raw JSON against the schema.
func (s *Schema) Validate(raw []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return &ValidationError{Schema: s.Name, Causes: []string{"invalid JSON: " + err.Error()}, err: err}
	}
	return s.ValidateInstance(inst)
}

// ValidateInstance checks a decoded JSON value. Numbers should be json.Number
// or Go numeric types.
func (s *Schema) ValidateInstance(inst any) error {
	if err := s.compiled.Validate(inst); err != nil {
		return newValidationError(s.Name, err)
	}
	return nil
}

// Registry holds the schemas compiled from a directory of *.json files.
// Documents may reference each other by file name.
type Registry struct {
	mu      sync.RWMutex
	base    string
	schemas map[string]*Schema
}

// Load compiles every *.json file in dir. Schemas are named after the file
// without its extension.
func Load(base string, fsys fs.FS, dir string) (*Registry, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read schema dir: %w", err)
	}

	base = strings.TrimSuffix(base, "/") + "/"
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	docs := make(map[string]json.RawMessage)
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".json" {
			continue
		}
		raw, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", entry.Name(), err)
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("parse schema %s: %w", entry.Name(), err)
		}
		if err := c.AddResource(base+entry.Name(), doc); err != nil {
			return nil, fmt.Errorf("add schema resource %s: %w", entry.Name(), err)
		}
		docs[entry.Name()] = raw
	}

	r := &Registry{
		base:    base,
		schemas: make(map[string]*Schema, len(docs)),
	}
	for file, raw := range docs {
		url := base + file
		compiled, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", file, err)
		}
		name := strings.TrimSuffix(file, ".json")
		r.schemas[name] = &Schema{Name: name, URL: url, doc: raw, compiled: compiled}
	}
	return r, nil
}

// MustLoad is like Load but panics on error. It is meant for embedded
// schema sets compiled at package initialization.
func MustLoad(base string, fsys fs.FS, dir string) *Registry {
	r, err := Load(base, fsys, dir)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Registry) Get(name string) (*Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[name]
	return s, ok
}

// Names returns the schema names in lexical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
