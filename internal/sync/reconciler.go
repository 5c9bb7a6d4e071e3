package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"

	"github.com/newrelic/nr-catalog-sync/internal/mapping"
	"github.com/newrelic/nr-catalog-sync/pkg/catalog"
	log "github.com/sirupsen/logrus"
)

// CatalogWriter is the part of the catalog the reconciler writes to.
type CatalogWriter interface {
	CreateEntity(ctx context.Context, entity *catalog.Entity) error
	UpdateEntity(ctx context.Context, entity *catalog.Entity) error
	DeleteEntity(ctx context.Context, key catalog.Key) error
}

// Catalog is everything a sync pass needs from the catalog.
type Catalog interface {
	catalog.Reader
	CatalogWriter
}

// Reconciler turns the difference between the candidates of a pass and the
// entities the catalog holds for the same owner into catalog writes.
type Reconciler struct {
	Catalog CatalogWriter
	Logger  *log.Logger
	// Owner tags every written entity. Previous entities with another
	// owner are never touched.
	Owner string
	// Schema resolves relation targets to blueprints. A relation missing
	// from it may target an entity of any blueprint.
	Schema      mapping.Schema
	SkipDeletes bool
}

type write struct {
	entity *catalog.Entity
	op     operation
}

func (r *Reconciler) Reconcile(
	ctx context.Context,
	kind string,
	candidates []*catalog.Entity,
	previous []*catalog.Entity,
) *ReconciliationOutcome {
	outcome := &ReconciliationOutcome{}

	known := r.owned(previous)
	writes, wanted := r.partition(candidates, known, outcome)

	var deletes []*catalog.Entity
	for _, e := range previous {
		if _, ok := known[e.Key()]; ok && !wanted[e.Key()] {
			deletes = append(deletes, e)
		}
	}

	return r.execute(ctx, kind, writes, deletes, outcome)
}

// ReconcileChange writes candidates the way Reconcile does but deletes only
// the owned entities named by removed. An entity is never deleted because a
// candidate for it is missing.
func (r *Reconciler) ReconcileChange(
	ctx context.Context,
	kind string,
	candidates []*catalog.Entity,
	removed []catalog.Key,
	previous []*catalog.Entity,
) *ReconciliationOutcome {
	outcome := &ReconciliationOutcome{}

	known := r.owned(previous)
	writes, wanted := r.partition(candidates, known, outcome)

	var deletes []*catalog.Entity
	seen := map[catalog.Key]bool{}

	for _, k := range removed {
		if wanted[k] || seen[k] {
			continue
		}
		seen[k] = true

		e, ok := known[k]
		if !ok {
			r.Logger.Tracef("%s is not owned by %s, nothing to delete", k, r.Owner)
			continue
		}
		deletes = append(deletes, e)
	}

	return r.execute(ctx, kind, writes, deletes, outcome)
}

func (r *Reconciler) owned(previous []*catalog.Entity) map[catalog.Key]*catalog.Entity {
	known := map[catalog.Key]*catalog.Entity{}
	for _, e := range previous {
		if e.Owner != r.Owner {
			r.Logger.Tracef("ignoring %s owned by %q", e.Key(), e.Owner)
			continue
		}
		known[e.Key()] = e
	}
	return known
}

// partition splits candidates into creates and updates, recording the
// unchanged ones in outcome. wanted holds every candidate key.
func (r *Reconciler) partition(
	candidates []*catalog.Entity,
	known map[catalog.Key]*catalog.Entity,
	outcome *ReconciliationOutcome,
) (writes []write, wanted map[catalog.Key]bool) {
	wanted = map[catalog.Key]bool{}

	for _, c := range candidates {
		e := c.Clone()
		e.Owner = r.Owner
		wanted[e.Key()] = true

		prev, ok := known[e.Key()]
		if !ok {
			writes = append(writes, write{entity: e, op: OP_CREATE})
			continue
		}

		if equivalent(prev, e) {
			outcome.Unchanged = append(outcome.Unchanged, e.Key())
			continue
		}

		writes = append(writes, write{entity: e, op: OP_UPDATE})
	}

	return writes, wanted
}

// execute applies writes, then deletes unless SkipDeletes is set.
func (r *Reconciler) execute(
	ctx context.Context,
	kind string,
	writes []write,
	deletes []*catalog.Entity,
	outcome *ReconciliationOutcome,
) *ReconciliationOutcome {
	sort.Slice(deletes, func(i, j int) bool {
		return deletes[i].Key().String() < deletes[j].Key().String()
	})

	r.Logger.Debugf(
		"reconciling %s: %d writes, %d unchanged, %d deletes",
		kind,
		len(writes),
		len(outcome.Unchanged),
		len(deletes),
	)

	if !r.applyWrites(ctx, writes, outcome) {
		return outcome
	}

	if r.SkipDeletes {
		if len(deletes) > 0 {
			r.Logger.Warnf(
				"skipping %d deletes for %s because the candidate set is incomplete",
				len(deletes),
				kind,
			)
		}
		outcome.DeletesSkipped = true
		return outcome
	}

	r.applyDeletes(ctx, deletes, outcome)

	return outcome
}

// applyWrites creates and updates entities so that an entity created in
// this pass exists before anything that relates to it is written. It
// returns false when ctx ended first.
func (r *Reconciler) applyWrites(
	ctx context.Context,
	writes []write,
	outcome *ReconciliationOutcome,
) bool {
	byKey := map[catalog.Key]int{}
	byIdentifier := map[string][]int{}

	for n, w := range writes {
		byKey[w.entity.Key()] = n
		if w.op == OP_CREATE {
			byIdentifier[w.entity.Identifier] = append(byIdentifier[w.entity.Identifier], n)
		}
	}

	// target -> referrer, only for targets created in this pass
	succ := make([][]int, len(writes))
	for n, w := range writes {
		for name, rel := range w.entity.Relations {
			for _, t := range r.relationTargets(w.entity, name, rel, byKey, byIdentifier) {
				if writes[t].op == OP_CREATE {
					succ[t] = append(succ[t], n)
				}
			}
		}
	}

	for _, comp := range orderComponents(len(writes), succ) {
		if !comp.cyclic {
			w := writes[comp.members[0]]
			if !r.apply(ctx, w.op, w.entity, outcome) {
				return false
			}
			continue
		}

		members := map[int]bool{}
		for _, n := range comp.members {
			members[n] = true
		}

		var written []int

		for _, n := range comp.members {
			w := writes[n]
			partial := w.entity.Clone()

			for name, rel := range w.entity.Relations {
				kept := rel
				kept.Targets = nil

				for _, id := range rel.Targets {
					inCycle := false
					for _, t := range r.relationTargets(w.entity, name, catalog.Single(id), byKey, byIdentifier) {
						if members[t] {
							inCycle = true
						}
					}
					if !inCycle {
						kept.Targets = append(kept.Targets, id)
					}
				}

				if kept.IsEmpty() && !kept.Many {
					delete(partial.Relations, name)
				} else {
					partial.Relations[name] = kept
				}
			}

			r.Logger.Debugf(
				"%s is part of a relation cycle, writing it without cycle relations first",
				w.entity.Key(),
			)

			failures := len(outcome.Failures)
			if !r.apply(ctx, w.op, partial, outcome) {
				return false
			}
			if len(outcome.Failures) == failures {
				written = append(written, n)
			}
		}

		for _, n := range written {
			if err := ctx.Err(); err != nil {
				outcome.Cancelled = true
				return false
			}

			e := writes[n].entity
			if err := r.Catalog.UpdateEntity(ctx, e); err != nil {
				r.fail(OP_PATCH, e.Key(), err, outcome)
				continue
			}

			r.Logger.Tracef("patched relations of %s", e.Key())
			outcome.Patched = append(outcome.Patched, e.Key())
		}
	}

	return true
}

// relationTargets returns the writes a relation points at. With a schema
// entry the target blueprint is exact, otherwise any entity created in this
// pass with a matching identifier counts.
func (r *Reconciler) relationTargets(
	e *catalog.Entity,
	name string,
	rel catalog.RelationValue,
	byKey map[catalog.Key]int,
	byIdentifier map[string][]int,
) []int {
	target := ""
	if bp, ok := r.Schema[e.Blueprint]; ok {
		if def, ok := bp.Relations[name]; ok && def.Target != "" {
			target = def.Target
		}
	}

	var out []int
	for _, id := range rel.Targets {
		if target != "" {
			if n, ok := byKey[catalog.Key{Blueprint: target, Identifier: id}]; ok {
				out = append(out, n)
			}
			continue
		}
		out = append(out, byIdentifier[id]...)
	}
	return out
}

// applyDeletes deletes entities that relate to others before the entities
// they relate to.
func (r *Reconciler) applyDeletes(
	ctx context.Context,
	deletes []*catalog.Entity,
	outcome *ReconciliationOutcome,
) {
	byKey := map[catalog.Key]int{}
	byIdentifier := map[string][]int{}

	for n, e := range deletes {
		byKey[e.Key()] = n
		byIdentifier[e.Identifier] = append(byIdentifier[e.Identifier], n)
	}

	// referrer -> target
	succ := make([][]int, len(deletes))
	for n, e := range deletes {
		for name, rel := range e.Relations {
			for _, t := range r.relationTargets(e, name, rel, byKey, byIdentifier) {
				if t != n {
					succ[n] = append(succ[n], t)
				}
			}
		}
	}

	for _, comp := range orderComponents(len(deletes), succ) {
		for _, n := range comp.members {
			if !r.apply(ctx, OP_DELETE, deletes[n], outcome) {
				return
			}
		}
	}
}

// apply issues one operation and records its result. It returns false,
// without issuing anything, when ctx has ended.
func (r *Reconciler) apply(
	ctx context.Context,
	op operation,
	e *catalog.Entity,
	outcome *ReconciliationOutcome,
) bool {
	if err := ctx.Err(); err != nil {
		r.Logger.Debugf("reconciliation cancelled before %s %s", op, e.Key())
		outcome.Cancelled = true
		return false
	}

	var err error

	switch op {
	case OP_CREATE:
		err = r.Catalog.CreateEntity(ctx, e)
	case OP_UPDATE:
		err = r.Catalog.UpdateEntity(ctx, e)
	case OP_DELETE:
		err = r.Catalog.DeleteEntity(ctx, e.Key())
	}

	if err != nil {
		r.fail(op, e.Key(), err, outcome)
		return true
	}

	r.Logger.Tracef("%s %s", op, e.Key())

	switch op {
	case OP_CREATE:
		outcome.Created = append(outcome.Created, e.Key())
	case OP_UPDATE:
		outcome.Updated = append(outcome.Updated, e.Key())
	case OP_DELETE:
		outcome.Deleted = append(outcome.Deleted, e.Key())
	}

	return true
}

func (r *Reconciler) fail(
	op operation,
	key catalog.Key,
	err error,
	outcome *ReconciliationOutcome,
) {
	r.Logger.Warnf("%s %s failed: %s", op, key, err)

	outcome.Failures = append(outcome.Failures, OperationFailure{
		Op:         op,
		Blueprint:  key.Blueprint,
		Identifier: key.Identifier,
		Err:        err,
	})
}

// ownedFields is the part of an entity a sync owns, normalized so that
// absent and empty maps compare equal.
type ownedFields struct {
	Title      string                           `json:"title"`
	Properties map[string]interface{}           `json:"properties"`
	Relations  map[string]catalog.RelationValue `json:"relations"`
}

func normalize(e *catalog.Entity) ownedFields {
	c := ownedFields{
		Title:      e.Title,
		Properties: map[string]interface{}{},
		Relations:  map[string]catalog.RelationValue{},
	}

	for k, v := range e.Properties {
		if v != nil {
			c.Properties[k] = v
		}
	}

	for k, v := range e.Relations {
		if !v.IsEmpty() {
			c.Relations[k] = v
		}
	}

	return c
}

// equivalent compares the canonical JSON encodings of two entities.
// encoding/json writes map keys sorted, so equal content gives equal bytes.
func equivalent(a, b *catalog.Entity) bool {
	ja, err := json.Marshal(normalize(a))
	if err != nil {
		return false
	}

	jb, err := json.Marshal(normalize(b))
	if err != nil {
		return false
	}

	return bytes.Equal(ja, jb)
}
