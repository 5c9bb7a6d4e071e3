package sync

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/gofrs/uuid"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/newrelic/nr-catalog-sync/internal/mapping"
	"github.com/newrelic/nr-catalog-sync/internal/provider"
	"github.com/newrelic/nr-catalog-sync/pkg/catalog"
	"github.com/newrelic/nr-catalog-sync/pkg/interop"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

const DEFAULT_MAPPING_FILE = "configs/mapping.yaml"

// Recorder keeps finished pass results.
type Recorder interface {
	Record(ctx context.Context, result *SyncPassResult) error
}

type Config struct {
	Integration              string
	Workers                  int
	KindConcurrency          int
	PreserveOnMappingFailure bool
	Events                   EventsConfig
}

// ConfigFromViper reads the integration, sync and events settings.
func ConfigFromViper(v *viper.Viper) (Config, error) {
	config := Config{
		Integration:              v.GetString("integration.identifier"),
		Workers:                  v.GetInt("sync.workers"),
		KindConcurrency:          v.GetInt("sync.kindConcurrency"),
		PreserveOnMappingFailure: v.GetBool("sync.preserveOnMappingFailure"),
	}

	if config.Integration == "" {
		return config, fmt.Errorf("missing integration identifier")
	}

	err := v.UnmarshalKey("events", &config.Events)
	if err != nil {
		return config, fmt.Errorf("invalid events config: %w", err)
	}

	if config.Events.Enabled {
		if config.Events.AccountId == 0 {
			return config, fmt.Errorf("missing events account id")
		}
		if config.Events.EventType == "" {
			config.Events.EventType = "CatalogSyncAudit"
		}
	}

	return config, nil
}

// Syncer runs sync passes for the kinds of a mapping document.
type Syncer struct {
	i            *interop.Interop
	log          *log.Logger
	config       Config
	mappings     *mapping.Store
	provider     provider.Provider
	catalog      Catalog
	eventsConfig EventsConfig

	Recorder Recorder
}

func New(
	i *interop.Interop,
	config Config,
	mappings *mapping.Store,
	p provider.Provider,
	c Catalog,
) *Syncer {
	if config.Workers <= 0 {
		config.Workers = runtime.NumCPU()
	}
	if config.KindConcurrency <= 0 {
		config.KindConcurrency = 4
	}

	return &Syncer{
		i:            i,
		log:          i.Logger,
		config:       config,
		mappings:     mappings,
		provider:     p,
		catalog:      c,
		eventsConfig: config.Events,
	}
}

// FromInterop builds a Syncer from the shared configuration: the sync
// settings, the mapping file named by mappingFile and the configured
// provider. c is the catalog writes go to.
func FromInterop(i *interop.Interop, c Catalog) (*Syncer, error) {
	v := i.Config
	if v == nil {
		v = viper.GetViper()
	}

	config, err := ConfigFromViper(v)
	if err != nil {
		return nil, err
	}

	mappingFile := v.GetString("mappingFile")
	if mappingFile == "" {
		mappingFile = DEFAULT_MAPPING_FILE
	}

	mappings, err := mapping.NewStore(mappingFile, i.Logger)
	if err != nil {
		return nil, err
	}

	p, err := provider.GetProvider(i)
	if err != nil {
		return nil, err
	}

	return New(i, config, mappings, p, c), nil
}

// WithCatalog returns a Syncer sharing everything with s but writing to c.
func (s *Syncer) WithCatalog(c Catalog) *Syncer {
	clone := *s
	clone.catalog = c
	return &clone
}

// Mappings returns the store the mapping snapshot of each pass is read from.
func (s *Syncer) Mappings() *mapping.Store {
	return s.mappings
}

// Owner returns the tag marking entities written for kind.
func (s *Syncer) Owner(kind string) string {
	return s.config.Integration + "/" + kind
}

// RunSync runs one pass for kind: fetch, select, map, then reconcile
// against a fresh catalog snapshot. Failures are reported in the result.
func (s *Syncer) RunSync(ctx context.Context, kind string) *SyncPassResult {
	ctx, result, end := s.begin(ctx, "sync", kind)
	defer end()

	resources, schema, err := s.prepare(ctx, kind)
	if err != nil {
		result.Err = err
		return result
	}

	p := newPipeline(kind, resources, schema, s.config.Workers, s.log, result)

	s.log.Debugf("fetching %s objects from provider", kind)

	err = s.provider.Fetch(ctx, kind, func(page []provider.RawObject) error {
		return p.processPage(ctx, page)
	})
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		result.Err = err
		return result
	}

	s.log.Debugf(
		"%s: %d objects seen, %d entities produced, %d skipped, %d mapping failures",
		kind,
		result.ObjectsSeen,
		result.EntitiesProduced,
		result.ObjectsSkippedBySelector,
		len(result.MappingFailures),
	)

	owner := s.Owner(kind)

	previous, err := s.catalog.ListEntities(ctx, "", owner)
	if err != nil {
		result.Err = fmt.Errorf("failed to list catalog entities for %s: %w", owner, err)
		return result
	}

	s.log.Debugf("found %d catalog entities owned by %s", len(previous), owner)

	reconciler := &Reconciler{
		Catalog:     s.catalog,
		Logger:      s.log,
		Owner:       owner,
		Schema:      schema,
		SkipDeletes: s.config.PreserveOnMappingFailure && len(result.MappingFailures) > 0,
	}

	result.Outcome = reconciler.Reconcile(ctx, kind, p.candidates, previous)
	if result.Outcome.Cancelled {
		result.Err = ctx.Err()
	}

	return result
}

// begin starts the transaction and audit trail of one operation on kind.
// The returned func ends both and must be deferred.
func (s *Syncer) begin(
	ctx context.Context,
	name string,
	kind string,
) (context.Context, *SyncPassResult, func()) {
	result := &SyncPassResult{Kind: kind, Start: time.Now()}

	id, err := uuid.NewV4()
	if err != nil {
		s.log.Warnf("failed to generate run id: %s", err)
	}
	result.RunID = id.String()

	txn := s.i.App.StartTransaction(name + "/" + kind)
	ctx = newrelic.NewContext(ctx, txn)

	s.pushEvent(ctx, s.newAuditEvent(id, kind, "sync_start", nil))

	return ctx, result, func() {
		result.End = time.Now()
		s.finish(ctx, txn, id, result)
		txn.End()
	}
}

// prepare snapshots the resources of kind and the blueprints they produce.
func (s *Syncer) prepare(
	ctx context.Context,
	kind string,
) ([]*mapping.Resource, mapping.Schema, error) {
	config := s.mappings.Current()
	if config == nil {
		return nil, nil, fmt.Errorf("no mapping configuration loaded")
	}

	if err := config.KindError(kind); err != nil {
		return nil, nil, fmt.Errorf("mapping for kind %s is invalid: %w", kind, err)
	}

	resources := config.Resources(kind)
	if len(resources) == 0 {
		return nil, nil, fmt.Errorf("no mapping for kind %s", kind)
	}

	return resources, s.loadSchema(ctx, config.Blueprints(kind)), nil
}

// loadSchema fetches the blueprints a kind can produce. A blueprint that
// cannot be read is left out, and relations to it fall back to the shape
// of the mapped value.
func (s *Syncer) loadSchema(ctx context.Context, blueprints []string) mapping.Schema {
	schema := mapping.Schema{}

	for _, name := range blueprints {
		bp, err := s.catalog.GetBlueprint(ctx, name)
		if err != nil {
			if catalog.IsKind(err, catalog.ERROR_NOT_FOUND) {
				s.log.Warnf("blueprint %s does not exist in the catalog", name)
			} else {
				s.log.Warnf("failed to read blueprint %s: %s", name, err)
			}
			continue
		}
		schema[name] = bp
	}

	return schema
}

func (s *Syncer) finish(
	ctx context.Context,
	txn *newrelic.Transaction,
	id uuid.UUID,
	result *SyncPassResult,
) {
	// the pass may have ended because ctx did
	ctx = context.WithoutCancel(ctx)

	txn.AddAttribute("kind", result.Kind)
	txn.AddAttribute("runId", result.RunID)
	txn.AddAttribute("objectsSeen", result.ObjectsSeen)
	txn.AddAttribute("entitiesProduced", result.EntitiesProduced)
	txn.AddAttribute("objectsSkipped", result.ObjectsSkippedBySelector)
	txn.AddAttribute("mappingFailures", len(result.MappingFailures))

	if o := result.Outcome; o != nil {
		txn.AddAttribute("created", len(o.Created))
		txn.AddAttribute("updated", len(o.Updated))
		txn.AddAttribute("deleted", len(o.Deleted))
		txn.AddAttribute("unchanged", len(o.Unchanged))
		txn.AddAttribute("operationFailures", len(o.Failures))
	}

	if result.Err != nil {
		txn.NoticeError(result.Err)

		if isCancellation(result.Err) {
			s.log.WithContext(ctx).Warnf("sync of %s cancelled", result.Kind)
		} else {
			s.log.WithContext(ctx).Errorf("sync of %s failed: %s", result.Kind, result.Err)
		}
	}

	s.pushEvent(ctx, s.newAuditEvent(id, result.Kind, "sync_end", result))

	if s.Recorder != nil {
		if err := s.Recorder.Record(ctx, result); err != nil {
			s.log.Warnf("failed to record sync result: %s", err)
		}
	}
}

// SyncAll runs the passes of kinds concurrently, or of every kind in the
// mapping document when none are given. One kind's failure never stops
// another; results come back in the order of kinds.
func (s *Syncer) SyncAll(ctx context.Context, kinds ...string) []*SyncPassResult {
	if len(kinds) == 0 {
		if config := s.mappings.Current(); config != nil {
			kinds = config.Kinds()
		}
	}

	results := make([]*SyncPassResult, len(kinds))

	g := errgroup.Group{}
	g.SetLimit(s.config.KindConcurrency)

	for n, kind := range kinds {
		g.Go(func() error {
			results[n] = s.RunSync(ctx, kind)
			return nil
		})
	}

	g.Wait()

	return results
}
