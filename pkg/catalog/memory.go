package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Op is one write recorded by Memory.
type Op struct {
	Name string
	Key  Key
}

func (o Op) String() string {
	return o.Name + " " + o.Key.String()
}

// Memory is an in-process catalog. With CheckRelations set, writes that
// reference a missing target entity are rejected the way the remote
// catalog rejects them.
type Memory struct {
	CheckRelations bool

	lock       sync.Mutex
	entities   map[Key]*Entity
	blueprints map[string]*Blueprint
	failures   map[string]error
	ops        []Op
}

func NewMemory() *Memory {
	return &Memory{
		entities:   map[Key]*Entity{},
		blueprints: map[string]*Blueprint{},
		failures:   map[string]error{},
	}
}

// AddBlueprint registers a blueprint schema.
func (m *Memory) AddBlueprint(b *Blueprint) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.blueprints[b.Identifier] = b
}

// Seed stores entities without recording operations.
func (m *Memory) Seed(entities ...*Entity) {
	m.lock.Lock()
	defer m.lock.Unlock()

	for _, e := range entities {
		m.entities[e.Key()] = e.Clone()
	}
}

// FailOn makes the named operation ("create", "update", "delete") on key
// fail with err.
func (m *Memory) FailOn(op string, key Key, err error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.failures[op+" "+key.String()] = err
}

// Ops returns the writes applied so far, in order.
func (m *Memory) Ops() []Op {
	m.lock.Lock()
	defer m.lock.Unlock()

	return append([]Op{}, m.ops...)
}

func (m *Memory) ResetOps() {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.ops = nil
}

// Get returns a copy of the stored entity.
func (m *Memory) Get(key Key) (*Entity, bool) {
	m.lock.Lock()
	defer m.lock.Unlock()

	e, ok := m.entities[key]
	if !ok {
		return nil, false
	}
	return e.Clone(), true
}

func (m *Memory) Len() int {
	m.lock.Lock()
	defer m.lock.Unlock()

	return len(m.entities)
}

func (m *Memory) GetBlueprint(ctx context.Context, name string) (*Blueprint, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	b, ok := m.blueprints[name]
	if !ok {
		return nil, &CatalogError{
			Kind:    ERROR_NOT_FOUND,
			Op:      "get blueprint",
			Key:     Key{Blueprint: name},
			Message: "blueprint not found",
		}
	}
	return b, nil
}

func (m *Memory) ListEntities(
	ctx context.Context,
	blueprint string,
	owner string,
) ([]*Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	var out []*Entity
	for _, e := range m.entities {
		if e.Owner != owner {
			continue
		}
		if blueprint != "" && e.Blueprint != blueprint {
			continue
		}
		out = append(out, e.Clone())
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Key().String() < out[j].Key().String()
	})

	return out, nil
}

func (m *Memory) CreateEntity(ctx context.Context, entity *Entity) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	key := entity.Key()
	if err := m.failure("create", key); err != nil {
		return err
	}

	if _, ok := m.entities[key]; ok {
		return &CatalogError{Kind: ERROR_CONFLICT, Op: "create entity", Key: key, Message: "entity already exists"}
	}

	if err := m.checkRelations("create entity", entity); err != nil {
		return err
	}

	m.entities[key] = entity.Clone()
	m.ops = append(m.ops, Op{Name: "create", Key: key})
	return nil
}

func (m *Memory) UpdateEntity(ctx context.Context, entity *Entity) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	key := entity.Key()
	if err := m.failure("update", key); err != nil {
		return err
	}

	if _, ok := m.entities[key]; !ok {
		return &CatalogError{Kind: ERROR_NOT_FOUND, Op: "update entity", Key: key, Message: "entity not found"}
	}

	if err := m.checkRelations("update entity", entity); err != nil {
		return err
	}

	m.entities[key] = entity.Clone()
	m.ops = append(m.ops, Op{Name: "update", Key: key})
	return nil
}

func (m *Memory) DeleteEntity(ctx context.Context, key Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	if err := m.failure("delete", key); err != nil {
		return err
	}

	if _, ok := m.entities[key]; !ok {
		return &CatalogError{Kind: ERROR_NOT_FOUND, Op: "delete entity", Key: key, Message: "entity not found"}
	}

	delete(m.entities, key)
	m.ops = append(m.ops, Op{Name: "delete", Key: key})
	return nil
}

func (m *Memory) failure(op string, key Key) error {
	return m.failures[op+" "+key.String()]
}

func (m *Memory) checkRelations(op string, entity *Entity) error {
	if !m.CheckRelations {
		return nil
	}

	for name, rel := range entity.Relations {
		target := entity.Blueprint
		if b, ok := m.blueprints[entity.Blueprint]; ok {
			if r, ok := b.Relations[name]; ok && r.Target != "" {
				target = r.Target
			}
		}

		for _, id := range rel.Targets {
			if _, ok := m.entities[Key{Blueprint: target, Identifier: id}]; !ok {
				return &CatalogError{
					Kind:    ERROR_VALIDATION,
					Op:      op,
					Key:     entity.Key(),
					Message: fmt.Sprintf("relation %s targets missing entity %s/%s", name, target, id),
				}
			}
		}
	}

	return nil
}
