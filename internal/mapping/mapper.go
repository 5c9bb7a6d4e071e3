package mapping

import (
	"fmt"

	"github.com/newrelic/nr-catalog-sync/pkg/catalog"
	"github.com/newrelic/nr-catalog-sync/pkg/query"
	"github.com/spf13/cast"
)

// Selector decides whether a raw object takes part in a sync.
type Selector struct {
	Query *query.Expr
}

// Includes reports true only when the query yields the boolean true. An
// evaluation error is returned so the caller can count and log it; the
// object is excluded either way.
func (s *Selector) Includes(obj query.Value) (bool, error) {
	v, err := s.Query.Evaluate(obj)
	if err != nil {
		return false, err
	}

	b, ok := v.(query.Bool)
	return ok && bool(b), nil
}

type Field struct {
	Name string
	Expr *query.Expr
}

// FieldMapping holds the compiled per-field queries of a resource.
type FieldMapping struct {
	Identifier *query.Expr
	Title      *query.Expr
	Blueprint  *query.Expr
	Properties []Field
	Relations  []Field
	Strict     bool
}

type MappingErrorKind int

const (
	MISSING_REQUIRED_FIELD MappingErrorKind = iota
	STRICT_PROPERTY_FAILURE
)

func (k MappingErrorKind) String() string {
	switch k {
	case MISSING_REQUIRED_FIELD:
		return "missing required field"
	case STRICT_PROPERTY_FAILURE:
		return "strict property failure"
	}
	return "unknown"
}

// MappingError means a raw object produced no entity.
type MappingError struct {
	Kind  MappingErrorKind
	Field string
	Err   error
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Kind, e.Field, e.Err)
}

func (e *MappingError) Unwrap() error {
	return e.Err
}

// FieldError is a property or relation that was dropped from an entity.
type FieldError struct {
	Field string
	Err   error
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Err)
}

// Schema holds the catalog blueprints known to a sync pass, by identifier.
type Schema map[string]*catalog.Blueprint

// Map applies the mapping to one raw object. A returned error is always a
// *MappingError. Field errors describe properties and relations left out
// of the returned entity.
func (m *FieldMapping) Map(
	obj query.Value,
	schema Schema,
) (*catalog.Entity, []FieldError, error) {
	identifier, err := requiredString(m.Identifier, obj)
	if err != nil {
		return nil, nil, &MappingError{Kind: MISSING_REQUIRED_FIELD, Field: "identifier", Err: err}
	}

	blueprint, err := requiredString(m.Blueprint, obj)
	if err != nil {
		return nil, nil, &MappingError{Kind: MISSING_REQUIRED_FIELD, Field: "blueprint", Err: err}
	}

	entity := &catalog.Entity{
		Identifier: identifier,
		Blueprint:  blueprint,
		Properties: map[string]interface{}{},
		Relations:  map[string]catalog.RelationValue{},
	}

	var fieldErrors []FieldError

	fail := func(field string, err error) error {
		if m.Strict {
			return &MappingError{Kind: STRICT_PROPERTY_FAILURE, Field: field, Err: err}
		}
		fieldErrors = append(fieldErrors, FieldError{Field: field, Err: err})
		return nil
	}

	// a bad title leaves the entity untitled, strict or not
	if m.Title != nil {
		title, err := titleOf(m.Title, obj)
		if err != nil {
			fieldErrors = append(fieldErrors, FieldError{Field: "title", Err: err})
		}
		entity.Title = title
	}

	for _, p := range m.Properties {
		v, err := p.Expr.Evaluate(obj)
		if err != nil {
			if err := fail("properties."+p.Name, err); err != nil {
				return nil, nil, err
			}
			continue
		}

		if _, ok := v.(query.Null); ok {
			continue
		}
		entity.Properties[p.Name] = v.Native()
	}

	bp := schema[blueprint]

	for _, r := range m.Relations {
		field := "relations." + r.Name

		v, err := r.Expr.Evaluate(obj)
		if err != nil {
			if err := fail(field, err); err != nil {
				return nil, nil, err
			}
			continue
		}

		rel, set, err := coerceRelation(v, bp, r.Name)
		if err != nil {
			if err := fail(field, err); err != nil {
				return nil, nil, err
			}
			continue
		}

		if set {
			entity.Relations[r.Name] = rel
		}
	}

	return entity, fieldErrors, nil
}

func requiredString(e *query.Expr, obj query.Value) (string, error) {
	v, err := e.Evaluate(obj)
	if err != nil {
		return "", err
	}

	s, ok := v.(query.String)
	if !ok {
		return "", fmt.Errorf("expected a string, got %s", v.Type())
	}
	if s == "" {
		return "", fmt.Errorf("empty string")
	}
	return string(s), nil
}

func titleOf(e *query.Expr, obj query.Value) (string, error) {
	v, err := e.Evaluate(obj)
	if err != nil {
		return "", err
	}

	switch u := v.(type) {
	case query.Null:
		return "", nil
	case query.String:
		return string(u), nil
	case query.Bool, query.Number:
		return cast.ToStringE(u.Native())
	}

	return "", fmt.Errorf("title must be a scalar, got %s", v.Type())
}

// coerceRelation turns a query result into a relation value using the
// cardinality the blueprint declares. Without a blueprint schema the shape
// of the result decides. set is false when the result names no target.
func coerceRelation(
	v query.Value,
	bp *catalog.Blueprint,
	name string,
) (rel catalog.RelationValue, set bool, err error) {
	many := false
	known := false

	if bp != nil {
		r, ok := bp.Relations[name]
		if !ok {
			return rel, false, fmt.Errorf(
				"blueprint %s has no relation %s",
				bp.Identifier,
				name,
			)
		}
		many = r.Many
		known = true
	}

	var targets []string

	switch u := v.(type) {
	case query.Null:
		return rel, false, nil

	case query.String, query.Number:
		s := query.ToString(u)
		if s == "" {
			return rel, false, nil
		}
		targets = []string{s}

	case query.List:
		if !known {
			many = true
		}
		for _, item := range u {
			switch t := item.(type) {
			case query.Null:
			case query.String, query.Number:
				if s := query.ToString(t); s != "" {
					targets = append(targets, s)
				}
			default:
				return rel, false, fmt.Errorf("relation target must be a string, got %s", t.Type())
			}
		}

	default:
		return rel, false, fmt.Errorf("relation must be a string or list, got %s", v.Type())
	}

	if len(targets) == 0 {
		return rel, false, nil
	}

	if many {
		return catalog.Many(targets...), true, nil
	}

	if len(targets) > 1 {
		return rel, false, fmt.Errorf(
			"relation %s is single but the query produced %d targets",
			name,
			len(targets),
		)
	}

	return catalog.Single(targets[0]), true, nil
}
