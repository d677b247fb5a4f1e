// Package entityschema loads the entity type registry: which child
// entity types hang under each parent type and whether they are owned.
package entityschema

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"accessmatrix.org/internal/permission"
)

var ErrInvalidSchema = errors.New("entityschema: invalid schema")

// Entity is one entity type with its children.
type Entity struct {
	Code     string                         `yaml:"code" json:"code"`
	Label    string                         `yaml:"label" json:"label,omitempty"`
	Children []permission.ChildEntityConfig `yaml:"children" json:"children"`
}

type document struct {
	Entities []Entity `yaml:"entities"`
}

// Registry is a read-only lookup table of entity types.
type Registry struct {
	entities []Entity
	byCode   map[string]Entity
	schema   permission.Schema
}

// Load parses the YAML registry at path.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML registry document.
func Parse(data []byte) (*Registry, error) {
	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	return New(doc.Entities)
}

// New validates entities and builds a registry.
func New(entities []Entity) (*Registry, error) {
	r := &Registry{
		byCode: make(map[string]Entity, len(entities)),
		schema: make(permission.Schema, len(entities)),
	}
	for _, e := range entities {
		e.Code = strings.TrimSpace(e.Code)
		if e.Code == "" {
			return nil, fmt.Errorf("%w: entity code is required", ErrInvalidSchema)
		}
		if _, dup := r.byCode[e.Code]; dup {
			return nil, fmt.Errorf("%w: duplicate entity %q", ErrInvalidSchema, e.Code)
		}
		seen := make(map[string]struct{}, len(e.Children))
		children := make([]permission.ChildEntityConfig, 0, len(e.Children))
		for _, c := range e.Children {
			c.ChildEntityCode = strings.TrimSpace(c.ChildEntityCode)
			switch {
			case c.ChildEntityCode == "":
				return nil, fmt.Errorf("%w: entity %q has a child without code", ErrInvalidSchema, e.Code)
			case c.ChildEntityCode == e.Code:
				return nil, fmt.Errorf("%w: entity %q lists itself as a child", ErrInvalidSchema, e.Code)
			}
			if _, dup := seen[c.ChildEntityCode]; dup {
				return nil, fmt.Errorf("%w: entity %q lists child %q twice", ErrInvalidSchema, e.Code, c.ChildEntityCode)
			}
			seen[c.ChildEntityCode] = struct{}{}
			children = append(children, c)
		}
		e.Children = children
		r.entities = append(r.entities, e)
		r.byCode[e.Code] = e
		r.schema[e.Code] = children
	}
	return r, nil
}

// Schema exposes the registry as a parent -> children lookup for the engine.
func (r *Registry) Schema() permission.Schema {
	return r.schema
}

// Children returns the child configs of code.
func (r *Registry) Children(code string) []permission.ChildEntityConfig {
	return r.schema.Children(code)
}

// Has reports whether code is a known entity type, either as a parent or as a child.
func (r *Registry) Has(code string) bool {
	if _, ok := r.byCode[code]; ok {
		return true
	}
	for _, e := range r.entities {
		for _, c := range e.Children {
			if c.ChildEntityCode == code {
				return true
			}
		}
	}
	return false
}

// Entities returns the entity types in declaration order.
func (r *Registry) Entities() []Entity {
	out := make([]Entity, len(r.entities))
	copy(out, r.entities)
	return out
}

// Codes returns every known entity code, sorted.
func (r *Registry) Codes() []string {
	set := make(map[string]struct{})
	for _, e := range r.entities {
		set[e.Code] = struct{}{}
		for _, c := range e.Children {
			set[c.ChildEntityCode] = struct{}{}
		}
	}
	codes := make([]string, 0, len(set))
	for c := range set {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}
