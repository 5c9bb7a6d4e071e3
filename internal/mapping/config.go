// Package mapping turns the declarative resource mapping document into
// compiled selectors and entity mappers.
package mapping

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/newrelic/nr-catalog-sync/pkg/query"
	"gopkg.in/yaml.v3"
)

type rawConfig struct {
	Resources []rawResource `yaml:"resources"`
}

type rawResource struct {
	Kind     string `yaml:"kind"`
	Strict   bool   `yaml:"strict"`
	Selector struct {
		Query string `yaml:"query"`
	} `yaml:"selector"`
	Port struct {
		Entity struct {
			Mappings rawMappings `yaml:"mappings"`
		} `yaml:"entity"`
	} `yaml:"port"`
}

type rawMappings struct {
	Identifier string            `yaml:"identifier"`
	Title      string            `yaml:"title"`
	Blueprint  string            `yaml:"blueprint"`
	Properties map[string]string `yaml:"properties"`
	Relations  map[string]string `yaml:"relations"`
}

// Resource is one compiled entry of the mapping document.
type Resource struct {
	Index    int
	Kind     string
	Selector *Selector
	Mapping  *FieldMapping
}

// Config is an immutable compiled mapping document. Resources that failed
// to compile are left out and reported in Invalid.
type Config struct {
	resources []*Resource
	kinds     []string
	Invalid   []*ConfigError
}

// ConfigError reports a resource whose definition cannot be used.
type ConfigError struct {
	Resource int
	Kind     string
	Field    string
	Err      error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("resource #%d (kind %q): %s", e.Resource, e.Kind, e.Err)
	}
	return fmt.Sprintf(
		"resource #%d (kind %q): %s: %s",
		e.Resource,
		e.Kind,
		e.Field,
		e.Err,
	)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Load reads and compiles a mapping document in YAML or JSON.
func Load(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Parse(data, nil)
}

func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data, nil)
}

// Parse compiles a mapping document. Only a document that cannot be decoded
// at all is an error; problems with single resources end up in
// Config.Invalid.
func Parse(data []byte, compiler *query.Compiler) (*Config, error) {
	raw := rawConfig{}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("invalid mapping document: %w", err)
	}

	config := &Config{}
	seen := map[string]bool{}

	for index, r := range raw.Resources {
		if r.Kind != "" && !seen[r.Kind] {
			seen[r.Kind] = true
			config.kinds = append(config.kinds, r.Kind)
		}

		resource, err := compileResource(index, &r, compiler)
		if err != nil {
			config.Invalid = append(config.Invalid, err)
			continue
		}

		config.resources = append(config.resources, resource)
	}

	return config, nil
}

func compileResource(
	index int,
	r *rawResource,
	compiler *query.Compiler,
) (*Resource, *ConfigError) {
	fail := func(field string, err error) *ConfigError {
		return &ConfigError{Resource: index, Kind: r.Kind, Field: field, Err: err}
	}

	if r.Kind == "" {
		return nil, fail("kind", fmt.Errorf("missing kind"))
	}

	compile := func(field, src string, required bool) (*query.Expr, *ConfigError) {
		if src == "" {
			if required {
				return nil, fail(field, fmt.Errorf("missing query"))
			}
			return nil, nil
		}

		e, err := compiler.Compile(src)
		if err != nil {
			return nil, fail(field, err)
		}
		return e, nil
	}

	selectorSrc := r.Selector.Query
	if selectorSrc == "" {
		selectorSrc = "true"
	}

	selector, cerr := compile("selector.query", selectorSrc, true)
	if cerr != nil {
		return nil, cerr
	}

	m := &r.Port.Entity.Mappings
	mapping := &FieldMapping{Strict: r.Strict}

	if mapping.Identifier, cerr = compile("identifier", m.Identifier, true); cerr != nil {
		return nil, cerr
	}
	if mapping.Blueprint, cerr = compile("blueprint", m.Blueprint, true); cerr != nil {
		return nil, cerr
	}
	if mapping.Title, cerr = compile("title", m.Title, false); cerr != nil {
		return nil, cerr
	}

	for _, name := range sortedKeys(m.Properties) {
		e, cerr := compile("properties."+name, m.Properties[name], true)
		if cerr != nil {
			return nil, cerr
		}
		mapping.Properties = append(mapping.Properties, Field{Name: name, Expr: e})
	}

	for _, name := range sortedKeys(m.Relations) {
		e, cerr := compile("relations."+name, m.Relations[name], true)
		if cerr != nil {
			return nil, cerr
		}
		mapping.Relations = append(mapping.Relations, Field{Name: name, Expr: e})
	}

	return &Resource{
		Index:    index,
		Kind:     r.Kind,
		Selector: &Selector{Query: selector},
		Mapping:  mapping,
	}, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Kinds returns every kind named by the document in first-seen order,
// including kinds whose resources are invalid.
func (c *Config) Kinds() []string {
	return append([]string{}, c.kinds...)
}

// Resources returns the valid resources of kind in document order.
func (c *Config) Resources(kind string) []*Resource {
	var out []*Resource
	for _, r := range c.resources {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

// KindError returns the configuration errors that block kind, or nil.
func (c *Config) KindError(kind string) error {
	var errs []error
	for _, e := range c.Invalid {
		if e.Kind == kind {
			errs = append(errs, e)
		}
	}
	return errors.Join(errs...)
}

// Blueprints returns the blueprints the resources of kind can produce when
// their blueprint expression is a string literal.
func (c *Config) Blueprints(kind string) []string {
	var out []string
	seen := map[string]bool{}

	for _, r := range c.Resources(kind) {
		v, ok := r.Mapping.Blueprint.Constant()
		if !ok {
			continue
		}

		s, ok := v.(query.String)
		if !ok || s == "" || seen[string(s)] {
			continue
		}

		seen[string(s)] = true
		out = append(out, string(s))
	}

	return out
}
