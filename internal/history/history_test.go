package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/newrelic/nr-catalog-sync/internal/sync"
	"github.com/newrelic/nr-catalog-sync/pkg/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T) *Store {
	t.Helper()

	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func pass(runID, kind string, start time.Time) *sync.SyncPassResult {
	return &sync.SyncPassResult{
		Kind:             kind,
		RunID:            runID,
		Start:            start,
		End:              start.Add(2 * time.Second),
		ObjectsSeen:      3,
		EntitiesProduced: 2,
		Outcome: &sync.ReconciliationOutcome{
			Created:   []catalog.Key{{Blueprint: "project", Identifier: "a"}},
			Unchanged: []catalog.Key{{Blueprint: "project", Identifier: "b"}},
		},
	}
}

func TestRecordAndRecent(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)

	base := time.UnixMilli(1_700_000_000_000)

	failed := pass("run-2", "project", base.Add(time.Minute))
	failed.MappingFailures = []sync.MappingFailure{
		{Ref: "#1 (id=7)", Resource: 0, Err: errors.New("identifier: empty string")},
	}
	failed.Outcome.Failures = []sync.OperationFailure{
		{Op: sync.OP_CREATE, Blueprint: "project", Identifier: "a", Err: errors.New("conflict")},
	}

	require.NoError(t, s.Record(ctx, pass("run-1", "project", base)))
	require.NoError(t, s.Record(ctx, failed))
	require.NoError(t, s.Record(ctx, pass("run-3", "group", base.Add(2*time.Minute))))

	passes, err := s.Recent(ctx, "project", 10)
	require.NoError(t, err)
	require.Len(t, passes, 2)

	latest := passes[0]
	assert.Equal(t, "run-2", latest.RunID)
	assert.False(t, latest.Success)
	assert.True(t, latest.Start.Equal(base.Add(time.Minute)))
	assert.Equal(t, 1, latest.Created)
	assert.Equal(t, 1, latest.Unchanged)
	assert.Equal(t, []Failure{
		{Stage: "mapping", Ref: "#1 (id=7)", Message: "identifier: empty string"},
		{Stage: "operation", Ref: "project/a", Field: "create", Message: "conflict"},
	}, latest.Failures)

	assert.Equal(t, "run-1", passes[1].RunID)
	assert.True(t, passes[1].Success)
	assert.Empty(t, passes[1].Failures)

	all, err := s.Recent(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "run-3", all[0].RunID)
}

func TestRecordReplacesSameRun(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)

	result := pass("run-1", "project", time.UnixMilli(1_700_000_000_000))
	result.FieldFailures = []sync.FieldFailure{{Ref: "#1", Field: "properties.x", Err: errors.New("bad")}}
	require.NoError(t, s.Record(ctx, result))

	result.FieldFailures = nil
	result.Err = errors.New("provider down")
	require.NoError(t, s.Record(ctx, result))

	passes, err := s.Recent(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, passes, 1)
	assert.Equal(t, "provider down", passes[0].Error)
	assert.Empty(t, passes[0].Failures)
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Record(context.Background(), pass("run-1", "project", time.Now())))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	passes, err := s.Recent(context.Background(), "project", 5)
	require.NoError(t, err)
	assert.Len(t, passes, 1)
}
