package sync

import (
	"context"
	"testing"

	"github.com/newrelic/nr-catalog-sync/internal/provider"
	"github.com/newrelic/nr-catalog-sync/pkg/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawProjects(items ...map[string]interface{}) []provider.RawObject {
	out := make([]provider.RawObject, 0, len(items))
	for _, item := range items {
		out = append(out, provider.RawObject{Kind: "project", Data: item})
	}
	return out
}

func seedProjects(t *testing.T, f *fixture, items ...map[string]interface{}) {
	t.Helper()

	f.provider.Objects["project"] = items
	require.True(t, f.syncer.RunSync(context.Background(), "project").Success())
	f.catalog.ResetOps()
}

func TestRegisterRaw_UpsertsWithoutDeletingOthers(t *testing.T) {
	f := newFixture(t, projectMapping, Config{})
	seedProjects(t, f, gitlabProject("team/a", 1), gitlabProject("team/b", 2))

	result := f.syncer.RegisterRaw(
		context.Background(),
		"project",
		rawProjects(gitlabProject("team/a", 5), gitlabProject("team/c", 0)),
	)
	require.NoError(t, result.Err)
	assert.True(t, result.Success())

	assert.Equal(t, 2, result.ObjectsSeen)
	assert.Equal(t, []catalog.Key{key("project", "team/c")}, result.Outcome.Created)
	assert.Equal(t, []catalog.Key{key("project", "team/a")}, result.Outcome.Updated)
	assert.Empty(t, result.Outcome.Deleted)
	assert.Len(t, listOwned(t, f.catalog), 3)

	a, ok := f.catalog.Get(key("project", "team/a"))
	require.True(t, ok)
	assert.Equal(t, float64(5), a.Properties["stars"])
	assert.Equal(t, testOwner, a.Owner)
}

func TestRegisterRaw_UnchangedObjectWritesNothing(t *testing.T) {
	f := newFixture(t, projectMapping, Config{})
	seedProjects(t, f, gitlabProject("team/a", 1))

	result := f.syncer.RegisterRaw(context.Background(), "project", rawProjects(gitlabProject("team/a", 1)))
	require.True(t, result.Success())
	assert.Empty(t, f.catalog.Ops())
	assert.Equal(t, []catalog.Key{key("project", "team/a")}, result.Outcome.Unchanged)
}

func TestUnregisterRaw_DeletesOnlyOwnedMappedEntities(t *testing.T) {
	f := newFixture(t, projectMapping, Config{})
	seedProjects(t, f, gitlabProject("team/a", 1), gitlabProject("team/b", 2))

	f.catalog.Seed(&catalog.Entity{Identifier: "team/x", Blueprint: "project", Owner: "someone-else"})

	result := f.syncer.UnregisterRaw(
		context.Background(),
		"project",
		rawProjects(gitlabProject("team/a", 1), gitlabProject("team/x", 0), gitlabProject("team/gone", 0)),
	)
	require.NoError(t, result.Err)
	assert.True(t, result.Success())

	assert.Equal(t, []string{"delete project/team/a"}, opNames(f.catalog.Ops()))

	_, ok := f.catalog.Get(key("project", "team/b"))
	assert.True(t, ok)

	foreign, ok := f.catalog.Get(key("project", "team/x"))
	require.True(t, ok)
	assert.Equal(t, "someone-else", foreign.Owner)
}

func TestUpdateRawDiff_RenameReplacesEntity(t *testing.T) {
	f := newFixture(t, projectMapping, Config{})
	seedProjects(t, f, gitlabProject("team/a", 1), gitlabProject("team/b", 2), gitlabProject("team/keep", 3))

	result := f.syncer.UpdateRawDiff(context.Background(), "project", RawDiff{
		Before: rawProjects(gitlabProject("team/a", 1), gitlabProject("team/b", 2)),
		After:  rawProjects(gitlabProject("team/renamed", 1), gitlabProject("team/b", 4)),
	})
	require.NoError(t, result.Err)
	assert.True(t, result.Success())

	assert.Equal(t, []catalog.Key{key("project", "team/renamed")}, result.Outcome.Created)
	assert.Equal(t, []catalog.Key{key("project", "team/b")}, result.Outcome.Updated)
	assert.Equal(t, []catalog.Key{key("project", "team/a")}, result.Outcome.Deleted)

	_, ok := f.catalog.Get(key("project", "team/keep"))
	assert.True(t, ok)
	assert.Len(t, listOwned(t, f.catalog), 3)
}

func TestUpdateRawDiff_MappingFailureKeepsPreviousEntity(t *testing.T) {
	f := newFixture(t, projectMapping, Config{PreserveOnMappingFailure: true})
	seedProjects(t, f, gitlabProject("team/a", 1))

	broken := gitlabProject("team/a", 1)
	delete(broken, "path_with_namespace")

	result := f.syncer.UpdateRawDiff(context.Background(), "project", RawDiff{
		Before: rawProjects(gitlabProject("team/a", 1)),
		After:  rawProjects(broken),
	})
	require.NoError(t, result.Err)
	require.Len(t, result.MappingFailures, 1)
	assert.True(t, result.Outcome.DeletesSkipped)
	assert.Empty(t, f.catalog.Ops())
}

func TestRegisterRaw_InvalidKindWritesNothing(t *testing.T) {
	f := newFixture(t, projectMapping, Config{})

	result := f.syncer.RegisterRaw(context.Background(), "pipeline", rawProjects(gitlabProject("team/a", 1)))
	assert.EqualError(t, result.Err, "no mapping for kind pipeline")
	assert.Nil(t, result.Outcome)
	assert.Empty(t, f.catalog.Ops())
	require.Len(t, f.recorder.results, 1)
}

func TestReconcileChange_IgnoresAbsentAndForeignEntities(t *testing.T) {
	mem := catalog.NewMemory()

	owned := project("owned", nil, nil)
	owned.Owner = testOwner
	untouched := project("untouched", nil, nil)
	untouched.Owner = testOwner
	foreign := &catalog.Entity{Identifier: "manual", Blueprint: "project", Owner: "someone-else"}
	mem.Seed(owned, untouched, foreign)

	outcome := newReconciler(mem, nil).ReconcileChange(
		context.Background(),
		"project",
		[]*catalog.Entity{project("new", nil, nil)},
		[]catalog.Key{key("project", "owned"), key("project", "manual"), key("project", "owned")},
		[]*catalog.Entity{owned, untouched, foreign},
	)

	assert.True(t, outcome.Success())
	assert.Equal(t, []string{"create project/new", "delete project/owned"}, opNames(mem.Ops()))
	assert.Equal(t, 3, mem.Len())
}
