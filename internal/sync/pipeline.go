package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/newrelic/nr-catalog-sync/internal/mapping"
	"github.com/newrelic/nr-catalog-sync/internal/provider"
	"github.com/newrelic/nr-catalog-sync/pkg/catalog"
	"github.com/newrelic/nr-catalog-sync/pkg/query"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cast"
	"golang.org/x/sync/errgroup"
)

// refFields are tried in order to give a raw object a readable reference.
var refFields = []string{"id", "identifier", "key", "iid", "name", "path"}

type objectResult int

const (
	OBJECT_SKIPPED objectResult = iota
	OBJECT_MAPPED
	OBJECT_FAILED
)

type mappedEntity struct {
	entity   *catalog.Entity
	resource int
}

// objectOutput is everything one raw object contributed to a pass.
type objectOutput struct {
	ref            string
	result         objectResult
	selectorErrors int
	entities       []mappedEntity
	failures       []MappingFailure
	fieldFailures  []FieldFailure
}

// pipeline maps the pages of one kind into an ordered, deduplicated
// candidate set.
type pipeline struct {
	kind      string
	resources []*mapping.Resource
	schema    mapping.Schema
	workers   int
	logger    *log.Logger
	result    *SyncPassResult

	seq        int
	candidates []*catalog.Entity
	position   map[catalog.Key]int
	refs       map[catalog.Key]string
}

func newPipeline(
	kind string,
	resources []*mapping.Resource,
	schema mapping.Schema,
	workers int,
	logger *log.Logger,
	result *SyncPassResult,
) *pipeline {
	if workers <= 0 {
		workers = 1
	}

	return &pipeline{
		kind:      kind,
		resources: resources,
		schema:    schema,
		workers:   workers,
		logger:    logger,
		result:    result,
		position:  map[catalog.Key]int{},
		refs:      map[catalog.Key]string{},
	}
}

// processPage maps a page with a bounded pool of workers and merges the
// results in input order, so the candidate order does not depend on
// scheduling.
func (p *pipeline) processPage(ctx context.Context, page []provider.RawObject) error {
	outputs := make([]objectOutput, len(page))
	base := p.seq
	p.seq += len(page)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for n := range page {
		if gctx.Err() != nil {
			break
		}

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outputs[n] = p.processObject(base+n+1, &page[n])
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for n := range outputs {
		p.merge(&outputs[n])
	}

	return nil
}

// processObject runs every resource of the kind over one object. A panic
// while selecting or mapping fails only this object.
func (p *pipeline) processObject(seq int, obj *provider.RawObject) (out objectOutput) {
	out = objectOutput{ref: objectRef(seq, obj.Data), result: OBJECT_SKIPPED}
	current := -1

	defer func() {
		r := recover()
		if r == nil {
			return
		}

		err := &query.EvalError{Kind: query.ErrRuntime, Msg: fmt.Sprintf("mapping panicked: %v", r)}
		p.logger.Errorf("mapping %s %s with resource #%d panicked: %v", p.kind, out.ref, current, r)

		out.result = OBJECT_FAILED
		out.entities = nil
		out.failures = append(out.failures, MappingFailure{
			Ref:      out.ref,
			Resource: current,
			Err:      err,
		})
	}()

	value := query.FromNative(obj.Data)

	for _, r := range p.resources {
		current = r.Index
		ok, err := r.Selector.Includes(value)
		if err != nil {
			out.selectorErrors += 1
			p.logger.Warnf(
				"selector of resource #%d failed on %s %s, excluding it: %s",
				r.Index,
				p.kind,
				out.ref,
				err,
			)
			continue
		}

		if !ok {
			continue
		}

		entity, fieldErrors, err := r.Mapping.Map(value, p.schema)
		if err != nil {
			out.result = OBJECT_FAILED
			out.failures = append(out.failures, MappingFailure{
				Ref:      out.ref,
				Resource: r.Index,
				Err:      err,
			})
			p.logger.Warnf(
				"mapping %s %s with resource #%d failed: %s",
				p.kind,
				out.ref,
				r.Index,
				err,
			)
			continue
		}

		for _, fe := range fieldErrors {
			out.fieldFailures = append(out.fieldFailures, FieldFailure{
				Ref:      out.ref,
				Resource: r.Index,
				Field:    fe.Field,
				Err:      fe.Err,
			})
			p.logger.Warnf(
				"dropped %s of %s %s (resource #%d): %s",
				fe.Field,
				p.kind,
				out.ref,
				r.Index,
				fe.Err,
			)
		}

		if out.result == OBJECT_SKIPPED {
			out.result = OBJECT_MAPPED
		}
		out.entities = append(out.entities, mappedEntity{entity: entity, resource: r.Index})
	}

	return out
}

func (p *pipeline) merge(out *objectOutput) {
	p.result.ObjectsSeen += 1
	p.result.SelectorErrors += out.selectorErrors
	p.result.MappingFailures = append(p.result.MappingFailures, out.failures...)
	p.result.FieldFailures = append(p.result.FieldFailures, out.fieldFailures...)

	if out.result == OBJECT_SKIPPED && len(out.entities) == 0 {
		p.result.ObjectsSkippedBySelector += 1
		return
	}

	for _, m := range out.entities {
		key := m.entity.Key()

		if n, ok := p.position[key]; ok {
			p.logger.Warnf(
				"%s from %s replaces the one produced by %s",
				key,
				out.ref,
				p.refs[key],
			)
			p.result.Conflicts = append(p.result.Conflicts, Conflict{
				Key:      key,
				Previous: p.refs[key],
				Ref:      out.ref,
			})
			p.candidates[n] = m.entity
			p.refs[key] = out.ref
			continue
		}

		p.position[key] = len(p.candidates)
		p.refs[key] = out.ref
		p.candidates = append(p.candidates, m.entity)
	}

	p.result.EntitiesProduced = len(p.candidates)
}

// objectRef names a raw object by its position in the pass and the first
// identifying field it has.
func objectRef(seq int, data map[string]interface{}) string {
	for _, f := range refFields {
		v, ok := data[f]
		if !ok || v == nil {
			continue
		}

		s, err := cast.ToStringE(v)
		if err != nil || s == "" {
			continue
		}

		return fmt.Sprintf("#%d (%s=%s)", seq, f, s)
	}

	return fmt.Sprintf("#%d", seq)
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
