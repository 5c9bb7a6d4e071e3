package sync

import (
	"context"
	"fmt"

	"github.com/newrelic/nr-catalog-sync/internal/provider"
	"github.com/newrelic/nr-catalog-sync/pkg/catalog"
)

// RawDiff is a change to a set of raw objects of one kind, as a webhook or
// an event stream reports it.
type RawDiff struct {
	Before []provider.RawObject
	After  []provider.RawObject
}

// RegisterRaw maps objects through every resource of kind and creates or
// updates the entities they produce. Nothing is fetched and nothing is
// deleted.
func (s *Syncer) RegisterRaw(
	ctx context.Context,
	kind string,
	objects []provider.RawObject,
) *SyncPassResult {
	return s.UpdateRawDiff(ctx, kind, RawDiff{After: objects})
}

// UnregisterRaw maps objects through every resource of kind and deletes the
// entities they produce, when this integration owns them.
func (s *Syncer) UnregisterRaw(
	ctx context.Context,
	kind string,
	objects []provider.RawObject,
) *SyncPassResult {
	return s.UpdateRawDiff(ctx, kind, RawDiff{Before: objects})
}

// UpdateRawDiff applies a change to raw objects of kind: the entities of
// diff.After are created or updated, and the entities of diff.Before that
// diff.After no longer produces are deleted. Entities outside the diff are
// left alone.
func (s *Syncer) UpdateRawDiff(ctx context.Context, kind string, diff RawDiff) *SyncPassResult {
	ctx, result, end := s.begin(ctx, "raw", kind)
	defer end()

	resources, schema, err := s.prepare(ctx, kind)
	if err != nil {
		result.Err = err
		return result
	}

	// failures mapping the previous state are logged, not reported
	before := newPipeline(kind, resources, schema, s.config.Workers, s.log, &SyncPassResult{Kind: kind})
	after := newPipeline(kind, resources, schema, s.config.Workers, s.log, result)

	if err := before.processPage(ctx, diff.Before); err != nil {
		result.Err = err
		return result
	}

	if err := after.processPage(ctx, diff.After); err != nil {
		result.Err = err
		return result
	}

	removed := make([]catalog.Key, 0, len(before.candidates))
	for _, e := range before.candidates {
		removed = append(removed, e.Key())
	}

	s.log.Debugf(
		"%s change: %d entities before, %d after, %d mapping failures",
		kind,
		len(removed),
		len(after.candidates),
		len(result.MappingFailures),
	)

	owner := s.Owner(kind)

	previous, err := s.catalog.ListEntities(ctx, "", owner)
	if err != nil {
		result.Err = fmt.Errorf("failed to list catalog entities for %s: %w", owner, err)
		return result
	}

	reconciler := &Reconciler{
		Catalog:     s.catalog,
		Logger:      s.log,
		Owner:       owner,
		Schema:      schema,
		SkipDeletes: s.config.PreserveOnMappingFailure && len(result.MappingFailures) > 0,
	}

	result.Outcome = reconciler.ReconcileChange(ctx, kind, after.candidates, removed, previous)
	if result.Outcome.Cancelled {
		result.Err = ctx.Err()
	}

	return result
}
