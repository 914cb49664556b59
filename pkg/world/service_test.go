package world

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aleksaelezovic/worlds/internal/storage"
	"github.com/aleksaelezovic/worlds/pkg/blob"
	"github.com/aleksaelezovic/worlds/pkg/codec"
	"github.com/aleksaelezovic/worlds/pkg/ratelimit"
	"github.com/aleksaelezovic/worlds/pkg/rdf"
	"github.com/aleksaelezovic/worlds/pkg/search"
	"github.com/aleksaelezovic/worlds/pkg/sparql"
	"github.com/aleksaelezovic/worlds/pkg/usage"
)

const (
	tenant = "acme"
	world  = "people"
)

// flakyIndex is a MemoryIndex whose writes fail on demand
type flakyIndex struct {
	*search.MemoryIndex
	fail atomic.Bool
}

var errIndexDown = errors.New("index unreachable")

func (f *flakyIndex) Upsert(ctx context.Context, docs []search.Document) error {
	if f.fail.Load() {
		return errIndexDown
	}
	return f.MemoryIndex.Upsert(ctx, docs)
}

func (f *flakyIndex) Remove(ctx context.Context, ids []string) error {
	if f.fail.Load() {
		return errIndexDown
	}
	return f.MemoryIndex.Remove(ctx, ids)
}

type fixture struct {
	svc   *Service
	blobs blob.Store
	meter *usage.BadgerMeter
}

func newFixture(t *testing.T, mutate ...func(*Deps)) *fixture {
	t.Helper()
	kv, err := storage.NewInMemoryStorage()
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	f := &fixture{
		blobs: blob.NewBadgerStore(kv),
		meter: usage.NewBadgerMeter(kv),
	}
	deps := Deps{
		Blobs:   f.blobs,
		Buckets: ratelimit.NewBadgerBucketStore(kv),
		Meter:   f.meter,
		Indexes: search.NewRegistry(func() search.Index {
			return &flakyIndex{MemoryIndex: search.NewMemoryIndex()}
		}),
		Policies: ratelimit.DefaultPolicies(),
		Metrics:  NewMetrics(prometheus.NewRegistry()),
	}
	deps.Policies["enterprise"][ratelimit.ResourceSparqlUpdate] = ratelimit.Policy{Capacity: 1000, RefillRate: 1000, IntervalMs: 1000}
	for _, m := range mutate {
		m(&deps)
	}
	f.svc, err = NewService(deps)
	require.NoError(t, err)
	return f
}

func (f *fixture) exec(t *testing.T, query string) *sparql.Result {
	t.Helper()
	resp, err := f.svc.Execute(context.Background(), Request{TenantID: tenant, Plan: "enterprise", WorldID: world, Query: query})
	require.NoError(t, err)
	return resp.Result
}

func (f *fixture) index(t *testing.T) *flakyIndex {
	t.Helper()
	idx, ok := f.svc.deps.Indexes.Get(world).(*flakyIndex)
	require.True(t, ok)
	return idx
}

func TestService_AliceScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.exec(t, `PREFIX ex: <http://example.org/> INSERT DATA { ex:alice ex:name "Alice" }`)

	result := f.exec(t, `SELECT * WHERE { ?s ?p ?o }`)
	require.Len(t, result.Rows, 1)
	s, _ := result.Rows[0].Get("s")
	p, _ := result.Rows[0].Get("p")
	o, _ := result.Rows[0].Get("o")
	assert.True(t, s.Equals(rdf.NewNamedNode("http://example.org/alice")))
	assert.True(t, p.Equals(rdf.NewNamedNode("http://example.org/name")))
	assert.True(t, o.Equals(rdf.NewLiteral("Alice")))

	found, err := f.svc.Search(ctx, SearchRequest{TenantID: tenant, Plan: "enterprise", WorldID: world, Query: "Alice"})
	require.NoError(t, err)
	require.Len(t, found.Hits, 1)
	q, err := found.Hits[0].Document.Quad()
	require.NoError(t, err)
	assert.Equal(t, `<http://example.org/alice> <http://example.org/name> "Alice" .`, strings.TrimSpace(rdf.SerializeQuadCanonical(q)))

	f.exec(t, `DELETE WHERE { ?s ?p ?o }`)

	result = f.exec(t, `SELECT * WHERE { ?s ?p ?o }`)
	assert.Empty(t, result.Rows)
	found, err = f.svc.Search(ctx, SearchRequest{TenantID: tenant, Plan: "enterprise", WorldID: world, Query: "Alice"})
	require.NoError(t, err)
	assert.Empty(t, found.Hits)

	summaries, err := f.svc.Usage(ctx, tenant, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	kinds := map[usage.Kind]int64{}
	for _, s := range summaries {
		kinds[s.Kind] += s.Count
	}
	assert.Equal(t, int64(2), kinds[usage.KindUpdate])
	assert.Equal(t, int64(2), kinds[usage.KindQuery])
	assert.Equal(t, int64(2), kinds[usage.KindSearch])
}

func TestService_SameRequestInsertAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lookup := func(text string) []search.Hit {
		found, err := f.svc.Search(ctx, SearchRequest{TenantID: tenant, Plan: "enterprise", WorldID: world, Query: text})
		require.NoError(t, err)
		return found.Hits
	}

	f.exec(t, `INSERT DATA { <http://example.org/k> <http://example.org/p> "kept" }`)
	f.exec(t, `INSERT DATA { <http://example.org/x> <http://example.org/p> "ephemeral" } ;
		DELETE DATA { <http://example.org/x> <http://example.org/p> "ephemeral" }`)

	result := f.exec(t, `SELECT * WHERE { <http://example.org/x> ?p ?o }`)
	assert.Empty(t, result.Rows)
	assert.Empty(t, lookup("ephemeral"))
	assert.Equal(t, 1, f.index(t).Len())

	f.exec(t, `DELETE DATA { <http://example.org/k> <http://example.org/p> "kept" } ;
		INSERT DATA { <http://example.org/k> <http://example.org/p> "kept" }`)

	result = f.exec(t, `SELECT * WHERE { <http://example.org/k> ?p ?o }`)
	assert.Len(t, result.Rows, 1)
	assert.Len(t, lookup("kept"), 1)
}

func TestService_CommitAtomicityOnSyncFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.exec(t, `INSERT DATA { <http://example.org/a> <http://example.org/p> "before" }`)

	before, err := f.blobs.Get(ctx, world)
	require.NoError(t, err)

	idx := f.index(t)
	docs := idx.Len()
	idx.fail.Store(true)

	_, err = f.svc.Execute(ctx, Request{TenantID: tenant, Plan: "enterprise", WorldID: world,
		Query: `DELETE DATA { <http://example.org/a> <http://example.org/p> "before" } ; INSERT DATA { <http://example.org/a> <http://example.org/p> "after" }`})
	var serr *SyncError
	require.ErrorAs(t, err, &serr)
	assert.ErrorIs(t, err, errIndexDown)
	assert.Equal(t, genericFailure, PublicMessage(err))

	after, err := f.blobs.Get(ctx, world)
	require.NoError(t, err)
	assert.Equal(t, before.Data, after.Data)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)

	// the revert failed too, so the index was dropped and rebuilt from the blob
	idx.fail.Store(false)
	found, err := f.svc.Search(ctx, SearchRequest{TenantID: tenant, Plan: "enterprise", WorldID: world, Query: "before"})
	require.NoError(t, err)
	assert.Len(t, found.Hits, 1)
	assert.Equal(t, docs, f.svc.deps.Indexes.Get(world).Len())
}

// failingBlobs fails every Put after the first
type failingBlobs struct {
	blob.Store
	puts atomic.Int32
}

func (b *failingBlobs) Put(ctx context.Context, wb *blob.WorldBlob) error {
	if b.puts.Add(1) > 1 {
		return errors.New("disk full")
	}
	return b.Store.Put(ctx, wb)
}

func TestService_StorageFailureRevertsIndex(t *testing.T) {
	blobs := &failingBlobs{Store: blob.NewMemoryStore()}
	f := newFixture(t, func(d *Deps) { d.Blobs = blobs })
	ctx := context.Background()
	f.exec(t, `INSERT DATA { <http://example.org/a> <http://example.org/p> "kept" }`)

	_, err := f.svc.Execute(ctx, Request{TenantID: tenant, Plan: "enterprise", WorldID: world,
		Query: `INSERT DATA { <http://example.org/b> <http://example.org/p> "lost" }`})
	var serr *StorageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "write", serr.Op)
	assert.NotContains(t, PublicMessage(err), "disk full")

	found, err := f.svc.Search(ctx, SearchRequest{TenantID: tenant, Plan: "enterprise", WorldID: world, Query: "lost"})
	require.NoError(t, err)
	assert.Empty(t, found.Hits)
	assert.Equal(t, 1, f.svc.deps.Indexes.Get(world).Len())
}

func TestService_ConcurrentUpdatesAllApply(t *testing.T) {
	f := newFixture(t)
	const writers = 12

	var wg sync.WaitGroup
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Execute(context.Background(), Request{TenantID: tenant, Plan: "enterprise", WorldID: world,
				Query: fmt.Sprintf(`INSERT DATA { <http://example.org/s%d> <http://example.org/p> %d }`, i, i)})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	result := f.exec(t, `SELECT (COUNT(*) AS ?n) WHERE { ?s ?p ?o }`)
	require.Len(t, result.Rows, 1)
	n, _ := result.Rows[0].Get("n")
	assert.Equal(t, fmt.Sprint(writers), n.(*rdf.Literal).Value)
	assert.Equal(t, writers, f.svc.deps.Indexes.Get(world).Len())
	assert.Zero(t, f.svc.locks.size())
}

func TestService_TenantIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.exec(t, `INSERT DATA { <http://example.org/a> <http://example.org/p> "secret" }`)

	_, err := f.svc.Execute(ctx, Request{TenantID: "intruder", WorldID: world, Query: `SELECT * WHERE { ?s ?p ?o }`})
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)

	_, err = f.svc.Execute(ctx, Request{TenantID: "intruder", WorldID: world, Query: `INSERT DATA { <http://example.org/x> <http://example.org/p> 1 }`})
	require.ErrorAs(t, err, &nf)

	_, err = f.svc.Search(ctx, SearchRequest{TenantID: "intruder", WorldID: world, Query: "secret"})
	require.ErrorAs(t, err, &nf)

	err = f.svc.DeleteWorld(ctx, "intruder", "free", world)
	require.ErrorAs(t, err, &nf)

	_, err = f.svc.Execute(ctx, Request{TenantID: tenant, WorldID: "missing", Query: `ASK { ?s ?p ?o }`})
	require.ErrorAs(t, err, &nf)
}

func TestService_RateLimited(t *testing.T) {
	f := newFixture(t, func(d *Deps) {
		d.Policies["free"][ratelimit.ResourceSparqlQuery] = ratelimit.Policy{Capacity: 2, RefillRate: 2, IntervalMs: 60_000}
	})
	ctx := context.Background()
	f.exec(t, `INSERT DATA { <http://example.org/a> <http://example.org/p> 1 }`)

	req := Request{TenantID: tenant, Plan: "free", WorldID: world, Query: `ASK { ?s ?p ?o }`}
	for range 2 {
		resp, err := f.svc.Execute(ctx, req)
		require.NoError(t, err)
		assert.True(t, resp.Result.Value)
	}
	_, err := f.svc.Execute(ctx, req)
	var qe *QuotaExceededError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, ReasonRateLimit, qe.Reason)
	assert.Equal(t, 0, qe.Remaining)
	assert.Equal(t, 2, qe.Limit)
	assert.Positive(t, qe.ResetAtEpochMs)
}

func TestService_PlanLimit(t *testing.T) {
	f := newFixture(t, func(d *Deps) {
		d.Plans = Plans{"free": {Name: "free", MaxQuadsPerWorld: 2}}
	})
	ctx := context.Background()
	req := Request{TenantID: tenant, Plan: "free", WorldID: world,
		Query: `INSERT DATA { <http://example.org/a> <http://example.org/p> 1, 2, 3 }`}

	_, err := f.svc.Execute(ctx, req)
	var qe *QuotaExceededError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, ReasonPlan, qe.Reason)
	assert.Equal(t, 2, qe.Limit)

	_, err = f.blobs.Get(ctx, world)
	assert.ErrorIs(t, err, blob.ErrNotFound)
}

func TestService_ErrorsAreClassified(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Execute(ctx, Request{TenantID: tenant, WorldID: world, Query: `SELECT ?s WHERE { ?s ?p }`})
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.NotEmpty(t, pe.Msg)

	_, err = f.svc.Execute(ctx, Request{TenantID: tenant, WorldID: world, Query: `LOAD <http://example.org/remote.ttl>`})
	var ue *UnsupportedError
	require.ErrorAs(t, err, &ue)

	_, err = f.svc.Execute(ctx, Request{TenantID: tenant, WorldID: world, Query: `CLEAR GRAPH <http://example.org/none>`})
	var ee *ExecutionError
	require.ErrorAs(t, err, &ee)
}

// blockingBlobs holds every Get until release is closed
type blockingBlobs struct {
	blob.Store
	release chan struct{}
}

func (b *blockingBlobs) Get(ctx context.Context, id string) (*blob.WorldBlob, error) {
	<-b.release
	return b.Store.Get(ctx, id)
}

func TestService_TimeoutAbandonsWrite(t *testing.T) {
	inner := blob.NewMemoryStore()
	blobs := &blockingBlobs{Store: inner, release: make(chan struct{})}
	f := newFixture(t, func(d *Deps) {
		d.Blobs = blobs
		d.Timeout = 20 * time.Millisecond
	})
	ctx := context.Background()

	_, err := f.svc.Execute(ctx, Request{TenantID: tenant, Plan: "enterprise", WorldID: world,
		Query: `INSERT DATA { <http://example.org/a> <http://example.org/p> "late" }`})
	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(blobs.release)
	require.Eventually(t, func() bool { return f.svc.locks.size() == 0 }, time.Second, 5*time.Millisecond)

	_, err = inner.Get(ctx, world)
	assert.ErrorIs(t, err, blob.ErrNotFound, "abandoned write must not commit")
}

func TestService_ImportExport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	data := `<http://example.org/a> <http://example.org/p> _:b1 .
_:b1 <http://example.org/name> "Zebra" <http://example.org/g> .
`
	res, err := f.svc.Import(ctx, ImportRequest{TenantID: tenant, Plan: "enterprise", WorldID: world,
		Body: strings.NewReader(data), Format: codec.FormatNQuads})
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, 2, res.Quads)

	// same graph, different blank node labels
	res, err = f.svc.Import(ctx, ImportRequest{TenantID: tenant, Plan: "enterprise", WorldID: world,
		Body: strings.NewReader(strings.ReplaceAll(data, "_:b1", "_:other")), Format: codec.FormatNQuads})
	require.NoError(t, err)
	assert.False(t, res.Changed)

	out, err := f.svc.Export(ctx, ExportRequest{TenantID: tenant, Plan: "enterprise", WorldID: world, Format: codec.FormatTriG})
	require.NoError(t, err)
	quads, err := codec.Decode(out.Data, codec.FormatTriG, codec.CompressionNone)
	require.NoError(t, err)
	original, err := codec.Decode([]byte(data), codec.FormatNQuads, codec.CompressionNone)
	require.NoError(t, err)
	assert.True(t, rdf.AreQuadsIsomorphic(original, quads))

	stored, err := f.blobs.Get(ctx, world)
	require.NoError(t, err)
	raw, err := f.svc.Export(ctx, ExportRequest{TenantID: tenant, Plan: "enterprise", WorldID: world,
		Format: stored.Format, Compression: stored.Compression})
	require.NoError(t, err)
	assert.True(t, bytes.Equal(stored.Data, raw.Data))

	_, err = f.svc.Import(ctx, ImportRequest{TenantID: tenant, Plan: "enterprise", WorldID: world,
		Body: strings.NewReader("<http://example.org/a> <broken"), Format: codec.FormatNQuads})
	var pe *ParseError
	require.ErrorAs(t, err, &pe)

	found, err := f.svc.Search(ctx, SearchRequest{TenantID: tenant, Plan: "enterprise", WorldID: world, Query: "zebra"})
	require.NoError(t, err)
	assert.Len(t, found.Hits, 1)
}

func TestService_StorageFormatMustKeepBlankNodeLabels(t *testing.T) {
	_, err := NewService(Deps{Blobs: blob.NewMemoryStore(), Buckets: ratelimit.NewMemoryBucketStore(), Format: codec.FormatJSONLD})
	require.ErrorContains(t, err, "blank node labels")

	f := newFixture(t, func(d *Deps) { d.Format = codec.FormatTriG })
	ctx := context.Background()
	f.exec(t, `INSERT DATA { _:x <http://example.org/p> "velvet" }`)
	assert.Equal(t, 1, f.index(t).Len())

	f.exec(t, `DELETE WHERE { ?s <http://example.org/p> "velvet" }`)
	found, err := f.svc.Search(ctx, SearchRequest{TenantID: tenant, Plan: "enterprise", WorldID: world, Query: "velvet"})
	require.NoError(t, err)
	assert.Empty(t, found.Hits)
	assert.Equal(t, 0, f.index(t).Len())
}

func TestService_WorldLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	info, err := f.svc.CreateWorld(ctx, tenant, "enterprise", "")
	require.NoError(t, err)
	assert.NotEmpty(t, info.WorldID)

	again, err := f.svc.CreateWorld(ctx, tenant, "enterprise", info.WorldID)
	require.NoError(t, err)
	assert.Equal(t, info.WorldID, again.WorldID)

	_, err = f.svc.CreateWorld(ctx, "other", "enterprise", info.WorldID)
	var ee *ExecutionError
	require.ErrorAs(t, err, &ee)

	worlds, err := f.svc.ListWorlds(ctx, tenant)
	require.NoError(t, err)
	require.Len(t, worlds, 1)

	resp, err := f.svc.Execute(ctx, Request{TenantID: tenant, Plan: "enterprise", WorldID: info.WorldID, Query: `ASK { ?s ?p ?o }`})
	require.NoError(t, err)
	assert.False(t, resp.Result.Value)

	require.NoError(t, f.svc.DeleteWorld(ctx, tenant, "enterprise", info.WorldID))
	worlds, err = f.svc.ListWorlds(ctx, tenant)
	require.NoError(t, err)
	assert.Empty(t, worlds)
	assert.False(t, f.svc.deps.Indexes.Loaded(info.WorldID))

	var nf *NotFoundError
	require.ErrorAs(t, f.svc.DeleteWorld(ctx, tenant, "enterprise", info.WorldID), &nf)
}

func TestService_RebuildIndexes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := range 3 {
		_, err := f.svc.Execute(ctx, Request{TenantID: tenant, Plan: "enterprise", WorldID: fmt.Sprintf("w%d", i),
			Query: `INSERT DATA { <http://example.org/a> <http://example.org/p> "x" }`})
		require.NoError(t, err)
	}

	restarted, err := NewService(Deps{Blobs: f.blobs, Buckets: ratelimit.NewMemoryBucketStore(), RebuildConcurrency: 2})
	require.NoError(t, err)
	report, err := restarted.RebuildIndexes(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Rebuilt)
	assert.Empty(t, report.Failed)
	for i := range 3 {
		assert.True(t, restarted.deps.Indexes.Loaded(fmt.Sprintf("w%d", i)))
		assert.Equal(t, 1, restarted.deps.Indexes.Get(fmt.Sprintf("w%d", i)).Len())
	}
}

func TestClassify(t *testing.T) {
	assert.Nil(t, Classify(nil))

	var nf *NotFoundError
	assert.ErrorAs(t, Classify(fmt.Errorf("read: %w", blob.ErrNotFound)), &nf)

	var ce *ConflictError
	assert.ErrorAs(t, Classify(&ratelimit.ConflictError{Key: ratelimit.Key{TenantID: "t"}, Attempts: 3}), &ce)

	var se *SyncError
	assert.ErrorAs(t, Classify(&search.SyncError{Op: "upsert", Err: errIndexDown}), &se)

	var ue *UnsupportedError
	assert.ErrorAs(t, Classify(&codec.UnsupportedFormatError{Format: "x", Operation: codec.OperationDecode}), &ue)

	var te *TimeoutError
	assert.ErrorAs(t, Classify(context.DeadlineExceeded), &te)

	plain := errors.New("plain")
	assert.Equal(t, plain, Classify(plain))
	assert.Equal(t, genericFailure, PublicMessage(plain))

	quota := &QuotaExceededError{Reason: ReasonPlan, Limit: 5}
	assert.Same(t, quota, Classify(quota))
	assert.Contains(t, PublicMessage(quota), "plan")
}

func TestLockTable(t *testing.T) {
	locks := newLockTable()
	unlockA := locks.RLock("a")
	unlockB := locks.RLock("a")
	assert.Equal(t, 1, locks.size())

	acquired := make(chan struct{})
	go func() {
		unlock := locks.Lock("a")
		close(acquired)
		unlock()
	}()

	select {
	case <-acquired:
		t.Fatal("writer acquired the lock while readers held it")
	case <-time.After(20 * time.Millisecond):
	}
	unlockA()
	unlockB()
	<-acquired
	require.Eventually(t, func() bool { return locks.size() == 0 }, time.Second, time.Millisecond)
}
