package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_WritesAndOps(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	a := &Entity{Identifier: "a", Blueprint: "project", Owner: "gl/project"}
	require.NoError(t, m.CreateEntity(ctx, a))
	assert.True(t, IsKind(m.CreateEntity(ctx, a), ERROR_CONFLICT))

	a.Title = "changed"
	require.NoError(t, m.UpdateEntity(ctx, a))

	got, ok := m.Get(a.Key())
	require.True(t, ok)
	assert.Equal(t, "changed", got.Title)

	require.NoError(t, m.DeleteEntity(ctx, a.Key()))
	assert.True(t, IsKind(m.DeleteEntity(ctx, a.Key()), ERROR_NOT_FOUND))
	assert.True(t, IsKind(m.UpdateEntity(ctx, a), ERROR_NOT_FOUND))

	var names []string
	for _, op := range m.Ops() {
		names = append(names, op.String())
	}
	assert.Equal(t, []string{"create project/a", "update project/a", "delete project/a"}, names)
}

func TestMemory_ListEntitiesFiltersByOwner(t *testing.T) {
	m := NewMemory()
	m.Seed(
		&Entity{Identifier: "b", Blueprint: "project", Owner: "gl/project"},
		&Entity{Identifier: "a", Blueprint: "project", Owner: "gl/project"},
		&Entity{Identifier: "c", Blueprint: "project", Owner: "manual"},
		&Entity{Identifier: "g", Blueprint: "group", Owner: "gl/project"},
	)

	all, err := m.ListEntities(context.Background(), "", "gl/project")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "g", all[0].Identifier)
	assert.Equal(t, "a", all[1].Identifier)
	assert.Equal(t, "b", all[2].Identifier)

	projects, err := m.ListEntities(context.Background(), "project", "gl/project")
	require.NoError(t, err)
	assert.Len(t, projects, 2)

	assert.Empty(t, m.Ops())
}

func TestMemory_CheckRelations(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.CheckRelations = true
	m.AddBlueprint(&Blueprint{
		Identifier: "project",
		Relations:  map[string]Relation{"group": {Target: "group"}},
	})

	p := &Entity{
		Identifier: "team/repo",
		Blueprint:  "project",
		Relations:  map[string]RelationValue{"group": Single("team")},
	}

	err := m.CreateEntity(ctx, p)
	assert.True(t, IsKind(err, ERROR_VALIDATION))

	require.NoError(t, m.CreateEntity(ctx, &Entity{Identifier: "team", Blueprint: "group"}))
	require.NoError(t, m.CreateEntity(ctx, p))
}

func TestMemory_FailOnAndCancellation(t *testing.T) {
	m := NewMemory()
	boom := errors.New("boom")
	key := Key{Blueprint: "project", Identifier: "a"}
	m.FailOn("create", key, boom)

	err := m.CreateEntity(context.Background(), &Entity{Identifier: "a", Blueprint: "project"})
	assert.ErrorIs(t, err, boom)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = m.CreateEntity(ctx, &Entity{Identifier: "b", Blueprint: "project"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, m.Len())
}

func TestDryRun_WritesStayLocal(t *testing.T) {
	ctx := context.Background()
	live := NewMemory()
	live.Seed(&Entity{Identifier: "old", Blueprint: "project", Owner: "gl/project"})

	d := NewDryRun(live)
	existing, err := d.ListEntities(ctx, "", "gl/project")
	require.NoError(t, err)
	require.Len(t, existing, 1)

	require.NoError(t, d.CreateEntity(ctx, &Entity{Identifier: "new", Blueprint: "project", Owner: "gl/project"}))
	require.NoError(t, d.DeleteEntity(ctx, existing[0].Key()))

	assert.Equal(t, []Op{
		{Name: "create", Key: Key{Blueprint: "project", Identifier: "new"}},
		{Name: "delete", Key: Key{Blueprint: "project", Identifier: "old"}},
	}, d.Ops())

	assert.Empty(t, live.Ops())
	assert.Equal(t, 1, live.Len())
}
