package catalog

import (
	"encoding/json"
	"fmt"
)

// Entity is one instance of a blueprint in the catalog. Owner is the tag of
// the integration instance (and resource kind) that wrote it.
type Entity struct {
	Identifier string                   `json:"identifier"`
	Blueprint  string                   `json:"blueprint"`
	Title      string                   `json:"title,omitempty"`
	Properties map[string]interface{}   `json:"properties,omitempty"`
	Relations  map[string]RelationValue `json:"relations,omitempty"`
	Owner      string                   `json:"owner,omitempty"`
}

// Key identifies an entity within a sync pass.
type Key struct {
	Blueprint  string
	Identifier string
}

func (k Key) String() string {
	return k.Blueprint + "/" + k.Identifier
}

func (e *Entity) Key() Key {
	return Key{Blueprint: e.Blueprint, Identifier: e.Identifier}
}

// Clone returns a copy that shares no maps with e. Property values are
// treated as immutable.
func (e *Entity) Clone() *Entity {
	c := *e

	if e.Properties != nil {
		c.Properties = make(map[string]interface{}, len(e.Properties))
		for k, v := range e.Properties {
			c.Properties[k] = v
		}
	}

	if e.Relations != nil {
		c.Relations = make(map[string]RelationValue, len(e.Relations))
		for k, v := range e.Relations {
			c.Relations[k] = v.clone()
		}
	}

	return &c
}

// RelationValue is either a single target identifier or an ordered list of
// target identifiers, depending on the cardinality the blueprint declares.
type RelationValue struct {
	Many    bool
	Targets []string
}

func Single(target string) RelationValue {
	return RelationValue{Targets: []string{target}}
}

func Many(targets ...string) RelationValue {
	if targets == nil {
		targets = []string{}
	}
	return RelationValue{Many: true, Targets: targets}
}

// Target returns the target of a single relation.
func (r RelationValue) Target() string {
	if len(r.Targets) == 0 {
		return ""
	}
	return r.Targets[0]
}

func (r RelationValue) IsEmpty() bool {
	return len(r.Targets) == 0
}

func (r RelationValue) clone() RelationValue {
	c := RelationValue{Many: r.Many}
	if r.Targets != nil {
		c.Targets = append([]string{}, r.Targets...)
	}
	return c
}

func (r RelationValue) MarshalJSON() ([]byte, error) {
	if r.Many {
		targets := r.Targets
		if targets == nil {
			targets = []string{}
		}
		return json.Marshal(targets)
	}
	if len(r.Targets) == 0 {
		return []byte("null"), nil
	}
	return json.Marshal(r.Targets[0])
}

func (r *RelationValue) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	switch u := v.(type) {
	case nil:
		*r = RelationValue{}
	case string:
		*r = Single(u)
	case []interface{}:
		targets := make([]string, 0, len(u))
		for _, t := range u {
			s, ok := t.(string)
			if !ok {
				return fmt.Errorf("relation target must be a string, got %T", t)
			}
			targets = append(targets, s)
		}
		*r = Many(targets...)
	default:
		return fmt.Errorf("relation must be a string or a list of strings, got %T", v)
	}

	return nil
}

// Relation is a relation declared by a blueprint.
type Relation struct {
	Target   string `json:"target"`
	Many     bool   `json:"many"`
	Required bool   `json:"required"`
}

// Blueprint is the part of a blueprint schema the sync engine needs.
type Blueprint struct {
	Identifier string              `json:"identifier"`
	Title      string              `json:"title,omitempty"`
	Relations  map[string]Relation `json:"relations,omitempty"`
}
