package sync

import (
	"time"

	"github.com/newrelic/nr-catalog-sync/pkg/catalog"
)

// SyncPassResult reports one sync pass of one resource kind.
type SyncPassResult struct {
	Kind                     string
	RunID                    string
	Start                    time.Time
	End                      time.Time
	ObjectsSeen              int
	EntitiesProduced         int
	ObjectsSkippedBySelector int
	SelectorErrors           int
	MappingFailures          []MappingFailure
	FieldFailures            []FieldFailure
	Conflicts                []Conflict
	Outcome                  *ReconciliationOutcome

	// Err is set when the pass itself failed: the mapping for the kind is
	// invalid, the provider failed or the pass was cancelled. No catalog
	// write was issued by a pass that failed before reconciliation.
	Err error
}

// Success reports whether the pass ran and every catalog operation
// succeeded.
func (r *SyncPassResult) Success() bool {
	return r.Err == nil && (r.Outcome == nil || r.Outcome.Success())
}

// MappingFailure is a raw object that produced no entity.
type MappingFailure struct {
	Ref      string
	Resource int
	Err      error
}

// FieldFailure is a property or relation dropped from an entity.
type FieldFailure struct {
	Ref      string
	Resource int
	Field    string
	Err      error
}

// Conflict records a candidate replaced by a later object with the same
// key in the same pass.
type Conflict struct {
	Key      catalog.Key
	Previous string
	Ref      string
}

type operation string

const (
	OP_CREATE operation = "create"
	OP_UPDATE operation = "update"
	OP_PATCH  operation = "patch"
	OP_DELETE operation = "delete"
)

// OperationFailure is a catalog write that failed.
type OperationFailure struct {
	Op         operation
	Blueprint  string
	Identifier string
	Err        error
}

// ReconciliationOutcome lists what a reconciliation did, by entity key.
type ReconciliationOutcome struct {
	Created   []catalog.Key
	Updated   []catalog.Key
	Deleted   []catalog.Key
	Unchanged []catalog.Key
	// Patched lists entities written without their relations to other
	// members of a relation cycle and completed in a second write.
	Patched        []catalog.Key
	Failures       []OperationFailure
	DeletesSkipped bool
	// Cancelled is set when the context ended before every operation was
	// issued. Writes issued before that stay in place.
	Cancelled bool
}

func (o *ReconciliationOutcome) Success() bool {
	return len(o.Failures) == 0 && !o.Cancelled
}
