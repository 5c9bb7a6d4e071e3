package catalog

import "context"

// Reader is the read side of the catalog.
type Reader interface {
	GetBlueprint(ctx context.Context, name string) (*Blueprint, error)
	ListEntities(ctx context.Context, blueprint string, owner string) ([]*Entity, error)
}

// DryRun reads from a live catalog and applies writes to an in-memory copy
// of what it has read, so a sync can be previewed without changing anything.
type DryRun struct {
	live Reader
	mem  *Memory
}

func NewDryRun(live Reader) *DryRun {
	return &DryRun{live: live, mem: NewMemory()}
}

func (d *DryRun) GetBlueprint(ctx context.Context, name string) (*Blueprint, error) {
	return d.live.GetBlueprint(ctx, name)
}

func (d *DryRun) ListEntities(
	ctx context.Context,
	blueprint string,
	owner string,
) ([]*Entity, error) {
	entities, err := d.live.ListEntities(ctx, blueprint, owner)
	if err != nil {
		return nil, err
	}

	d.mem.Seed(entities...)
	return entities, nil
}

func (d *DryRun) CreateEntity(ctx context.Context, entity *Entity) error {
	return d.mem.CreateEntity(ctx, entity)
}

func (d *DryRun) UpdateEntity(ctx context.Context, entity *Entity) error {
	return d.mem.UpdateEntity(ctx, entity)
}

func (d *DryRun) DeleteEntity(ctx context.Context, key Key) error {
	return d.mem.DeleteEntity(ctx, key)
}

// Ops returns the writes a real sync would have issued.
func (d *DryRun) Ops() []Op {
	return d.mem.Ops()
}
