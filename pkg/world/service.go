// Package world is the composition root of the storage service. It keeps a
// world's blob, its search index and the quads a SPARQL request sees
// consistent: a write either reaches both blob and index or neither.
package world

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/aleksaelezovic/worlds/pkg/blob"
	"github.com/aleksaelezovic/worlds/pkg/codec"
	"github.com/aleksaelezovic/worlds/pkg/ratelimit"
	"github.com/aleksaelezovic/worlds/pkg/rdf"
	"github.com/aleksaelezovic/worlds/pkg/search"
	"github.com/aleksaelezovic/worlds/pkg/sparql"
	"github.com/aleksaelezovic/worlds/pkg/usage"
)

// Deps are the collaborators of a Service. Blobs and Buckets are required;
// everything else has a default.
type Deps struct {
	Blobs   blob.Store
	Buckets ratelimit.BucketStore
	Meter   usage.Meter
	Indexes *search.Registry
	Engine  *sparql.Engine

	Policies ratelimit.Policies
	Plans    Plans
	Clock    ratelimit.Clock

	// Timeout bounds every operation in addition to the caller's deadline
	Timeout time.Duration

	// Format and Compression are used for newly committed blobs
	Format      codec.Format
	Compression codec.Compression

	// RebuildConcurrency and RebuildRate pace RebuildIndexes
	RebuildConcurrency int
	RebuildRate        rate.Limit

	Metrics *Metrics
	Logger  *log.Entry
}

// Service executes tenant requests against worlds
type Service struct {
	deps    Deps
	limiter *ratelimit.Limiter
	locks   *lockTable
	reads   singleflight.Group
	indexes singleflight.Group
	log     *log.Entry

	ownersMu sync.RWMutex
	owners   map[string]string
}

// NewService validates deps and fills in defaults
func NewService(deps Deps) (*Service, error) {
	if deps.Blobs == nil {
		return nil, errors.New("world service needs a blob store")
	}
	if deps.Buckets == nil {
		return nil, errors.New("world service needs a rate limit bucket store")
	}
	if deps.Meter == nil {
		deps.Meter = usage.Nop{}
	}
	if deps.Indexes == nil {
		deps.Indexes = search.NewRegistry(nil)
	}
	if deps.Engine == nil {
		deps.Engine = sparql.NewEngine()
	}
	if deps.Policies == nil {
		deps.Policies = ratelimit.DefaultPolicies()
	}
	if deps.Plans == nil {
		deps.Plans = DefaultPlans()
	}
	if deps.Clock == nil {
		deps.Clock = ratelimit.SystemClock
	}
	if deps.Format == "" {
		deps.Format = codec.FormatNQuads
	}
	if !deps.Format.Storable() {
		return nil, fmt.Errorf("storage format %q does not round-trip blank node labels", deps.Format)
	}
	if deps.Compression == "" {
		deps.Compression = codec.CompressionGzip
	}
	if deps.RebuildConcurrency <= 0 {
		deps.RebuildConcurrency = 4
	}
	if deps.RebuildRate <= 0 {
		deps.RebuildRate = rate.Inf
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics(nil)
	}
	if deps.Logger == nil {
		deps.Logger = log.NewEntry(log.StandardLogger())
	}

	return &Service{
		deps:    deps,
		limiter: ratelimit.NewLimiter(deps.Buckets, ratelimit.WithClock(deps.Clock)),
		locks:   newLockTable(),
		log:     deps.Logger.WithField("component", "world"),
		owners:  make(map[string]string),
	}, nil
}

// Request is one SPARQL query or update against a world
type Request struct {
	TenantID string
	Plan     string
	WorldID  string
	Query    string
}

// Response carries the result and the rate limit state after the request
type Response struct {
	Result    *sparql.Result
	RateLimit ratelimit.Result
}

// loaded is a decoded world. Blob is nil for a world that does not exist yet.
type loaded struct {
	blob  *blob.WorldBlob
	quads []*rdf.Quad
}

func (s *Service) now() time.Time {
	return s.deps.Clock.Now()
}

// consume charges one unit of resource to the tenant
func (s *Service) consume(ctx context.Context, tenant, plan, world string, resource ratelimit.ResourceType) (ratelimit.Result, error) {
	policy, ok := s.deps.Policies.Lookup(plan, resource)
	if !ok {
		policy, ok = s.deps.Policies.Lookup("free", resource)
	}
	if !ok {
		return ratelimit.Result{}, fmt.Errorf("no rate limit policy for plan %q and %s", plan, resource)
	}

	key := ratelimit.Key{TenantID: tenant, Scope: tenant, ResourceType: resource}
	result, err := s.limiter.Consume(ctx, key, 1, policy)
	if err != nil {
		var cas *ratelimit.ConflictError
		if errors.As(err, &cas) {
			return result, &ConflictError{Err: err}
		}
		return result, &StorageError{Op: "rate limit", Err: err}
	}
	s.deps.Metrics.observeRateLimit(string(resource), result.Allowed)
	if !result.Allowed {
		s.log.WithFields(log.Fields{"tenant": tenant, "world": world, "resource": resource}).Info("rate limited")
		return result, &QuotaExceededError{
			Reason:         ReasonRateLimit,
			Remaining:      result.Remaining,
			ResetAtEpochMs: result.ResetAtEpochMs,
			Limit:          result.Limit,
			RetryAfter:     result.RetryAfter,
		}
	}
	return result, nil
}

func authorize(tenant, world string) error {
	if tenant == "" || world == "" {
		return &NotFoundError{WorldID: world}
	}
	return nil
}

func (s *Service) rememberOwner(world, tenant string) {
	s.ownersMu.Lock()
	defer s.ownersMu.Unlock()
	if tenant == "" {
		delete(s.owners, world)
		return
	}
	s.owners[world] = tenant
}

func (s *Service) knownOwner(world string) (string, bool) {
	s.ownersMu.RLock()
	defer s.ownersMu.RUnlock()
	tenant, ok := s.owners[world]
	return tenant, ok
}

// load reads and decodes a world. A missing world is NotFound unless
// allowMissing; a world of another tenant is always NotFound.
func (s *Service) load(ctx context.Context, tenant, world string, allowMissing bool) (*loaded, error) {
	b, err := s.deps.Blobs.Get(ctx, world)
	switch {
	case errors.Is(err, blob.ErrNotFound):
		if allowMissing {
			return &loaded{}, nil
		}
		return nil, &NotFoundError{WorldID: world}
	case err != nil:
		return nil, &StorageError{Op: "read", Err: err}
	}
	s.rememberOwner(world, b.TenantID)
	if b.TenantID != tenant {
		return nil, &NotFoundError{WorldID: world}
	}

	quads, err := codec.Decode(b.Data, b.Format, b.Compression)
	if err != nil {
		return nil, &StorageError{Op: "decode", Err: err}
	}
	return &loaded{blob: b, quads: quads}, nil
}

// readShared reads and decodes a world for any tenant; concurrent callers
// share one read and decode. Callers hold the world's lock.
func (s *Service) readShared(ctx context.Context, world string) (*loaded, error) {
	v, err, _ := s.reads.Do(world, func() (any, error) {
		b, err := s.deps.Blobs.Get(ctx, world)
		if err != nil {
			return nil, err
		}
		quads, err := codec.Decode(b.Data, b.Format, b.Compression)
		if err != nil {
			return nil, &StorageError{Op: "decode", Err: err}
		}
		return &loaded{blob: b, quads: quads}, nil
	})
	var se *StorageError
	switch {
	case errors.Is(err, blob.ErrNotFound):
		return nil, &NotFoundError{WorldID: world}
	case errors.As(err, &se):
		return nil, err
	case err != nil:
		return nil, &StorageError{Op: "read", Err: err}
	}
	l := v.(*loaded)
	s.rememberOwner(world, l.blob.TenantID)
	return l, nil
}

// loadShared is load for readers of an existing world
func (s *Service) loadShared(ctx context.Context, tenant, world string) (*loaded, error) {
	l, err := s.readShared(ctx, world)
	if err != nil {
		return nil, err
	}
	if l.blob.TenantID != tenant {
		return nil, &NotFoundError{WorldID: world}
	}
	return l, nil
}

// record meters e; failures are only logged
func (s *Service) record(ctx context.Context, e usage.Event) {
	e.At = s.now()
	if err := s.deps.Meter.Record(context.WithoutCancel(ctx), e); err != nil {
		s.log.WithError(err).WithFields(log.Fields{"tenant": e.TenantID, "world": e.WorldID, "kind": e.Kind}).Warn("failed to record usage")
	}
}

// CreateWorld creates an empty world. An empty worldID gets a generated
// one. Creating a world the tenant already owns is a no-op.
func (s *Service) CreateWorld(ctx context.Context, tenant, plan, worldID string) (blob.Info, error) {
	start := time.Now()
	if worldID == "" {
		worldID = uuid.NewString()
	}
	info, err := s.createWorld(ctx, tenant, plan, worldID)
	s.deps.Metrics.observeRequest("create", start, err)
	return info, err
}

func (s *Service) createWorld(ctx context.Context, tenant, plan, worldID string) (blob.Info, error) {
	if err := authorize(tenant, worldID); err != nil {
		return blob.Info{}, err
	}
	if _, err := s.consume(ctx, tenant, plan, worldID, ratelimit.ResourceBlobWrite); err != nil {
		return blob.Info{}, err
	}

	return runLocked(ctx, s, worldID, true, func(ctx context.Context, r *run) (blob.Info, error) {
		existing, err := s.deps.Blobs.Get(ctx, worldID)
		switch {
		case err == nil && existing.TenantID == tenant:
			return existing.Info(), nil
		case err == nil:
			return blob.Info{}, &ExecutionError{Msg: fmt.Sprintf("world id %q is not available", worldID)}
		case !errors.Is(err, blob.ErrNotFound):
			return blob.Info{}, &StorageError{Op: "read", Err: err}
		}

		if !r.enterCommit() {
			return blob.Info{}, &TimeoutError{}
		}
		b, err := s.encode(tenant, worldID, nil)
		if err != nil {
			return blob.Info{}, err
		}
		if err := s.deps.Blobs.Put(ctx, b); err != nil {
			s.deps.Metrics.observeCommit(0, err)
			return blob.Info{}, &StorageError{Op: "write", Err: err}
		}
		s.deps.Metrics.observeCommit(len(b.Data), nil)
		s.rememberOwner(worldID, tenant)
		s.deps.Indexes.Drop(worldID)
		s.deps.Indexes.MarkLoaded(worldID)
		s.log.WithFields(log.Fields{"tenant": tenant, "world": worldID}).Info("world created")
		return b.Info(), nil
	})
}

// DeleteWorld removes a world's blob and its search index
func (s *Service) DeleteWorld(ctx context.Context, tenant, plan, worldID string) error {
	start := time.Now()
	err := s.deleteWorld(ctx, tenant, plan, worldID)
	s.deps.Metrics.observeRequest("delete", start, err)
	return err
}

func (s *Service) deleteWorld(ctx context.Context, tenant, plan, worldID string) error {
	if err := authorize(tenant, worldID); err != nil {
		return err
	}
	if _, err := s.consume(ctx, tenant, plan, worldID, ratelimit.ResourceBlobWrite); err != nil {
		return err
	}

	_, err := runLocked(ctx, s, worldID, true, func(ctx context.Context, r *run) (struct{}, error) {
		existing, err := s.deps.Blobs.Get(ctx, worldID)
		switch {
		case errors.Is(err, blob.ErrNotFound):
			return struct{}{}, &NotFoundError{WorldID: worldID}
		case err != nil:
			return struct{}{}, &StorageError{Op: "read", Err: err}
		case existing.TenantID != tenant:
			return struct{}{}, &NotFoundError{WorldID: worldID}
		}

		if !r.enterCommit() {
			return struct{}{}, &TimeoutError{}
		}
		if err := s.deps.Blobs.Delete(ctx, worldID); err != nil && !errors.Is(err, blob.ErrNotFound) {
			return struct{}{}, &StorageError{Op: "delete", Err: err}
		}
		s.deps.Indexes.Drop(worldID)
		s.rememberOwner(worldID, "")
		s.log.WithFields(log.Fields{"tenant": tenant, "world": worldID}).Info("world deleted")
		return struct{}{}, nil
	})
	return err
}

// ListWorlds returns the worlds a tenant owns
func (s *Service) ListWorlds(ctx context.Context, tenant string) ([]blob.Info, error) {
	if tenant == "" {
		return nil, nil
	}
	infos, err := s.deps.Blobs.List(ctx, tenant)
	if err != nil {
		return nil, &StorageError{Op: "list", Err: err}
	}
	return infos, nil
}

// Usage summarizes what a tenant did since a point in time. It is empty
// when the meter does not keep a ledger.
func (s *Service) Usage(ctx context.Context, tenant string, since time.Time) ([]usage.Summary, error) {
	reporter, ok := s.deps.Meter.(usage.Reporter)
	if !ok || tenant == "" {
		return nil, nil
	}
	summaries, err := reporter.Summarize(ctx, tenant, since)
	if err != nil {
		return nil, &StorageError{Op: "usage", Err: err}
	}
	return summaries, nil
}
