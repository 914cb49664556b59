package world

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/aleksaelezovic/worlds/internal/opentelemetry"
	"github.com/aleksaelezovic/worlds/pkg/blob"
	"github.com/aleksaelezovic/worlds/pkg/codec"
	"github.com/aleksaelezovic/worlds/pkg/ratelimit"
	"github.com/aleksaelezovic/worlds/pkg/rdf"
	"github.com/aleksaelezovic/worlds/pkg/search"
	"github.com/aleksaelezovic/worlds/pkg/sparql"
	"github.com/aleksaelezovic/worlds/pkg/store"
	"github.com/aleksaelezovic/worlds/pkg/usage"
)

// Execute runs a SPARQL query or update against a world.
//
// Updates hold the world's write lock while they load the blob, evaluate,
// sync the search index and commit the new blob; a failure at any step
// before the commit leaves blob and index as they were. Queries hold the
// read lock and share the decoded blob with concurrent readers.
func (s *Service) Execute(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	span, ctx := opentelemetry.SubSpanFromCtxWithName(ctx, "world.Execute",
		attribute.String("tenant", req.TenantID), attribute.String("world", req.WorldID))
	defer span.End()

	resp, err := s.execute(ctx, req)
	opentelemetry.RecordError(span, err)
	s.deps.Metrics.observeRequest("sparql", start, err)
	return resp, err
}

func (s *Service) execute(ctx context.Context, req Request) (*Response, error) {
	if err := authorize(req.TenantID, req.WorldID); err != nil {
		return nil, err
	}
	isUpdate, err := sparql.IsUpdate(req.Query)
	if err != nil {
		return nil, Classify(err)
	}

	resource := ratelimit.ResourceSparqlQuery
	if isUpdate {
		resource = ratelimit.ResourceSparqlUpdate
	}
	limit, err := s.consume(ctx, req.TenantID, req.Plan, req.WorldID, resource)
	if err != nil {
		return nil, err
	}

	var result *sparql.Result
	if isUpdate {
		result, err = runLocked(ctx, s, req.WorldID, true, func(ctx context.Context, r *run) (*sparql.Result, error) {
			return s.update(ctx, r, req)
		})
	} else {
		result, err = runLocked(ctx, s, req.WorldID, false, func(ctx context.Context, _ *run) (*sparql.Result, error) {
			return s.query(ctx, req)
		})
	}
	if err != nil {
		return nil, Classify(err)
	}
	return &Response{Result: result, RateLimit: limit}, nil
}

func (s *Service) query(ctx context.Context, req Request) (*sparql.Result, error) {
	current, err := s.loadShared(ctx, req.TenantID, req.WorldID)
	if err != nil {
		return nil, err
	}

	span, ctx := opentelemetry.SubSpanFromCtxWithName(ctx, "world.evaluate")
	result, err := s.deps.Engine.Execute(ctx, store.NewMemoryStore(current.quads...), req.Query)
	opentelemetry.RecordError(span, err)
	span.End()
	if err != nil {
		return nil, Classify(err)
	}

	units := len(result.Rows) + len(result.Quads)
	s.record(ctx, usage.Event{TenantID: req.TenantID, WorldID: req.WorldID, Kind: usage.KindQuery, Units: int64(units)})
	return result, nil
}

func (s *Service) update(ctx context.Context, r *run, req Request) (*sparql.Result, error) {
	current, err := s.load(ctx, req.TenantID, req.WorldID, true)
	if err != nil {
		return nil, err
	}

	base := store.NewMemoryStore(current.quads...)
	intercepted := store.NewInterceptor(base, store.NewPatchQueue())

	span, evalCtx := opentelemetry.SubSpanFromCtxWithName(ctx, "world.evaluate")
	result, err := s.deps.Engine.Execute(evalCtx, intercepted, req.Query)
	opentelemetry.RecordError(span, err)
	span.End()
	if err != nil {
		return nil, Classify(err)
	}

	patches := intercepted.Queue().Flush()
	if err := s.checkPlan(req.Plan, base.Size()); err != nil {
		return nil, err
	}

	changed := countChanges(patches)
	if changed > 0 || current.blob == nil {
		if _, err := s.commit(ctx, r, req.TenantID, req.WorldID, current.quads, base.Quads(), patches); err != nil {
			return nil, err
		}
	}

	s.log.WithFields(log.Fields{"tenant": req.TenantID, "world": req.WorldID, "changed": changed}).Debug("update committed")
	s.record(ctx, usage.Event{TenantID: req.TenantID, WorldID: req.WorldID, Kind: usage.KindUpdate, Units: int64(changed)})
	return result, nil
}

func countChanges(patches []store.Patch) int {
	n := 0
	for _, p := range patches {
		n += len(p.Insertions) + len(p.Deletions)
	}
	return n
}

func (s *Service) checkPlan(planName string, size int) error {
	plan := s.deps.Plans.Lookup(planName)
	if plan.MaxQuadsPerWorld > 0 && size > plan.MaxQuadsPerWorld {
		return &QuotaExceededError{Reason: ReasonPlan, Limit: plan.MaxQuadsPerWorld}
	}
	return nil
}

func (s *Service) encode(tenant, world string, quads []*rdf.Quad) (*blob.WorldBlob, error) {
	data, err := codec.Encode(quads, s.deps.Format, s.deps.Compression)
	if err != nil {
		return nil, &StorageError{Op: "encode", Err: err}
	}
	return &blob.WorldBlob{
		WorldID:     world,
		TenantID:    tenant,
		Data:        data,
		Format:      s.deps.Format,
		Compression: s.deps.Compression,
		UpdatedAt:   s.now().UTC(),
	}, nil
}

// commit syncs the world's index with patches and persists quads as the
// new blob. prior is what the world held before patches, used when the
// index still has to be bootstrapped. The index is reverted when a later
// step fails.
func (s *Service) commit(ctx context.Context, r *run, tenant, world string, prior, quads []*rdf.Quad, patches []store.Patch) (*blob.WorldBlob, error) {
	if !r.enterCommit() {
		return nil, &TimeoutError{}
	}

	span, ctx := opentelemetry.SubSpanFromCtxWithName(ctx, "world.commit", attribute.Int("quads", len(quads)))
	defer span.End()

	index, err := s.writableIndex(ctx, world, prior)
	if err != nil {
		opentelemetry.RecordError(span, err)
		return nil, err
	}
	syncer := search.NewSynchronizer(index)
	if err := syncer.Sync(ctx, patches); err != nil {
		s.deps.Metrics.observeSync(err)
		s.compensate(ctx, world, syncer, patches)
		opentelemetry.RecordError(span, err)
		return nil, &SyncError{Err: err}
	}
	s.deps.Metrics.observeSync(nil)

	b, err := s.encode(tenant, world, quads)
	if err != nil {
		s.compensate(ctx, world, syncer, patches)
		opentelemetry.RecordError(span, err)
		return nil, err
	}
	if err := s.deps.Blobs.Put(ctx, b); err != nil {
		s.deps.Metrics.observeCommit(0, err)
		s.compensate(ctx, world, syncer, patches)
		opentelemetry.RecordError(span, err)
		return nil, &StorageError{Op: "write", Err: err}
	}
	s.deps.Metrics.observeCommit(len(b.Data), nil)
	s.rememberOwner(world, tenant)
	return b, nil
}

// writableIndex returns the world's index, bootstrapping it from prior when
// it was never loaded. Callers hold the write lock.
func (s *Service) writableIndex(ctx context.Context, world string, prior []*rdf.Quad) (search.Index, error) {
	if s.deps.Indexes.Loaded(world) {
		return s.deps.Indexes.Get(world), nil
	}
	s.deps.Indexes.Drop(world)
	index := s.deps.Indexes.Get(world)
	if err := search.NewSynchronizer(index).InsertAll(ctx, store.NewMemoryStore(prior...)); err != nil {
		s.deps.Indexes.Drop(world)
		s.deps.Metrics.observeSync(err)
		return nil, &SyncError{Err: err}
	}
	s.deps.Indexes.MarkLoaded(world)
	return index, nil
}

// compensate undoes an applied sync. An index that cannot be reverted is
// dropped and bootstrapped again from the blob on next use.
func (s *Service) compensate(ctx context.Context, world string, syncer *search.Synchronizer, patches []store.Patch) {
	if err := syncer.Revert(ctx, patches); err != nil {
		s.log.WithError(err).WithField("world", world).Warn("search index revert failed, dropping index")
		s.deps.Indexes.Drop(world)
	}
}
