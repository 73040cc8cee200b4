// Package schema checks CBOR payloads against named rules of a JSON Schema
// document. Rules are the entries of the document's $defs; a check wraps the
// rule in a synthetic, unnamed root that references it.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

const (
	documentURL  = "spec://schema/document.json"
	syntheticURL = "spec://schema/root.json"
)

// Source is a schema document that is parsed and compiled at most once.
// It is safe for concurrent use.
type Source struct {
	name string
	data []byte

	once  sync.Once
	defs  map[string]json.RawMessage
	rules []string
	err   error
}

// NewSource wraps a JSON or YAML schema document. name is used in error
// messages; a .yaml or .yml suffix selects YAML.
func NewSource(name string, data []byte) *Source {
	return &Source{name: name, data: data}
}

// LoadSource reads a schema document from disk.
func LoadSource(path string) (*Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schema: read %s: %w", path, err)
	}
	return NewSource(filepath.Base(path), data), nil
}

func (s *Source) Name() string { return s.name }

// load parses the document, checks that it compiles as a whole and caches
// its rule definitions.
func (s *Source) load() (map[string]json.RawMessage, error) {
	s.once.Do(func() {
		s.defs, s.err = s.compile()
		if s.err == nil {
			for k := range s.defs {
				s.rules = append(s.rules, k)
			}
			sort.Strings(s.rules)
		}
	})
	return s.defs, s.err
}

func (s *Source) compile() (map[string]json.RawMessage, error) {
	doc, err := normalize(s.name, s.data)
	if err != nil {
		return nil, err
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(doc, &top); err != nil {
		return nil, fmt.Errorf("schema: %s: document must be an object: %w", s.name, err)
	}
	raw, ok := top["$defs"]
	if !ok {
		return nil, fmt.Errorf("schema: %s: document has no $defs", s.name)
	}
	var defs map[string]json.RawMessage
	if err := json.Unmarshal(raw, &defs); err != nil {
		return nil, fmt.Errorf("schema: %s: $defs must be an object: %w", s.name, err)
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(documentURL, bytes.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("schema: %s: %w", s.name, err)
	}
	if _, err := c.Compile(documentURL); err != nil {
		return nil, fmt.Errorf("schema: %s: compile: %w", s.name, err)
	}
	return defs, nil
}

// normalize returns the document as JSON.
func normalize(name string, data []byte) ([]byte, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if ext != ".yaml" && ext != ".yml" {
		if !json.Valid(data) {
			return nil, fmt.Errorf("schema: %s: invalid JSON", name)
		}
		return data, nil
	}
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("schema: %s: invalid YAML: %w", name, err)
	}
	v, err := stringKeys(v)
	if err != nil {
		return nil, fmt.Errorf("schema: %s: %w", name, err)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("schema: %s: YAML is not representable as JSON: %w", name, err)
	}
	return out, nil
}

// stringKeys rewrites maps with non-string keys, which YAML produces for
// unquoted keys such as 0, into JSON objects. Integer keys keep their
// decimal form so they name the same properties as CBOR integer keys.
func stringKeys(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		for k, item := range t {
			c, err := stringKeys(item)
			if err != nil {
				return nil, err
			}
			t[k] = c
		}
		return t, nil
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			var key string
			switch kk := k.(type) {
			case string:
				key = kk
			case int, int64, uint64, float64, bool:
				key = fmt.Sprint(kk)
			default:
				return nil, fmt.Errorf("unsupported map key %v (%T)", k, k)
			}
			if _, dup := out[key]; dup {
				return nil, fmt.Errorf("map key %q appears twice", key)
			}
			c, err := stringKeys(item)
			if err != nil {
				return nil, err
			}
			out[key] = c
		}
		return out, nil
	case []any:
		for i, item := range t {
			c, err := stringKeys(item)
			if err != nil {
				return nil, err
			}
			t[i] = c
		}
		return t, nil
	default:
		return v, nil
	}
}

// Rules lists the rule names defined by the document.
func (s *Source) Rules() ([]string, error) {
	if _, err := s.load(); err != nil {
		return nil, err
	}
	return append([]string(nil), s.rules...), nil
}

// synthetic builds the document used for one check: an unnamed root that
// refers to rule, followed by every definition.
func synthetic(rule string, defs map[string]json.RawMessage) ([]byte, error) {
	return json.Marshal(map[string]any{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"$ref":    "#/$defs/" + escapePointer(rule),
		"$defs":   defs,
	})
}

func escapePointer(s string) string {
	return strings.NewReplacer("~", "~0", "/", "~1").Replace(s)
}
