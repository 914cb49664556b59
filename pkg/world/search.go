package world

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/aleksaelezovic/worlds/internal/opentelemetry"
	"github.com/aleksaelezovic/worlds/pkg/ratelimit"
	"github.com/aleksaelezovic/worlds/pkg/search"
	"github.com/aleksaelezovic/worlds/pkg/store"
	"github.com/aleksaelezovic/worlds/pkg/usage"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 100
)

// SearchRequest is a full-text lookup in one world
type SearchRequest struct {
	TenantID string
	Plan     string
	WorldID  string
	Query    string
	Limit    int
}

// SearchResponse holds ranked hits and the rate limit state
type SearchResponse struct {
	Hits      []search.Hit
	RateLimit ratelimit.Result
}

// Search ranks the quads of a world against a text query. The world's
// index is bootstrapped from its blob on first use.
func (s *Service) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	start := time.Now()
	span, ctx := opentelemetry.SubSpanFromCtxWithName(ctx, "world.Search", attribute.String("world", req.WorldID))
	defer span.End()

	resp, err := s.search(ctx, req)
	opentelemetry.RecordError(span, err)
	s.deps.Metrics.observeRequest("search", start, err)
	return resp, err
}

func (s *Service) search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	if err := authorize(req.TenantID, req.WorldID); err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	limit = min(limit, maxSearchLimit)

	rl, err := s.consume(ctx, req.TenantID, req.Plan, req.WorldID, ratelimit.ResourceSearch)
	if err != nil {
		return nil, err
	}

	hits, err := runLocked(ctx, s, req.WorldID, false, func(ctx context.Context, _ *run) ([]search.Hit, error) {
		index, err := s.searchIndex(ctx, req.TenantID, req.WorldID)
		if err != nil {
			return nil, err
		}
		return index.Search(ctx, req.Query, limit)
	})
	if err != nil {
		return nil, Classify(err)
	}

	s.record(ctx, usage.Event{TenantID: req.TenantID, WorldID: req.WorldID, Kind: usage.KindSearch, Units: int64(len(hits))})
	return &SearchResponse{Hits: hits, RateLimit: rl}, nil
}

// searchIndex returns the loaded index of a world the tenant owns. Callers
// hold at least the read lock.
func (s *Service) searchIndex(ctx context.Context, tenant, world string) (search.Index, error) {
	if _, known := s.knownOwner(world); !known || !s.deps.Indexes.Loaded(world) {
		_, err, _ := s.indexes.Do(world, func() (any, error) {
			return nil, s.bootstrapIndex(ctx, world)
		})
		if err != nil {
			return nil, err
		}
	}
	if owner, _ := s.knownOwner(world); owner != tenant {
		return nil, &NotFoundError{WorldID: world}
	}
	return s.deps.Indexes.Get(world), nil
}

// bootstrapIndex fills an unloaded index from the world's blob
func (s *Service) bootstrapIndex(ctx context.Context, world string) error {
	l, err := s.readShared(ctx, world)
	if err != nil {
		return err
	}
	if s.deps.Indexes.Loaded(world) {
		return nil
	}

	s.deps.Indexes.Drop(world)
	index := s.deps.Indexes.Get(world)
	if err := search.NewSynchronizer(index).InsertAll(ctx, store.NewMemoryStore(l.quads...)); err != nil {
		s.deps.Indexes.Drop(world)
		s.deps.Metrics.observeSync(err)
		return &SyncError{Err: err}
	}
	s.deps.Indexes.MarkLoaded(world)
	s.log.WithFields(log.Fields{"world": world, "documents": index.Len()}).Debug("search index bootstrapped")
	return nil
}

// RebuildReport summarizes a RebuildIndexes run
type RebuildReport struct {
	Rebuilt int
	Failed  map[string]error
}

// RebuildIndexes rebuilds the search index of every stored world from its
// blob, a few worlds at a time and paced by the configured rate. A world
// that fails is reported and does not stop the others.
func (s *Service) RebuildIndexes(ctx context.Context) (RebuildReport, error) {
	report := RebuildReport{Failed: make(map[string]error)}
	infos, err := s.deps.Blobs.List(ctx, "")
	if err != nil {
		return report, &StorageError{Op: "list", Err: err}
	}

	pace := rate.NewLimiter(s.deps.RebuildRate, 1)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.deps.RebuildConcurrency)

	var mu sync.Mutex
	for _, info := range infos {
		if err := pace.Wait(gctx); err != nil {
			_ = g.Wait()
			return report, err
		}
		g.Go(func() error {
			_, err := runLocked(gctx, s, info.WorldID, true, func(ctx context.Context, _ *run) (struct{}, error) {
				s.deps.Indexes.Drop(info.WorldID)
				return struct{}{}, s.bootstrapIndex(ctx, info.WorldID)
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed[info.WorldID] = err
				s.log.WithError(err).WithField("world", info.WorldID).Warn("index rebuild failed")
				return nil
			}
			report.Rebuilt++
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	s.log.WithFields(log.Fields{"rebuilt": report.Rebuilt, "failed": len(report.Failed)}).Info("search indexes rebuilt")
	return report, nil
}
