package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aleksaelezovic/worlds/internal/storage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var (
	updateKey    = Key{TenantID: "t1", Scope: "world-1", ResourceType: ResourceSparqlUpdate}
	updatePolicy = Policy{Capacity: 3, RefillRate: 3, IntervalMs: 60_000}
)

func TestLimiter_ExhaustAndRefill(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryBucketStore()
	limiter := NewLimiter(store, WithClock(clock))
	ctx := context.Background()

	for i := range 3 {
		r, err := limiter.Consume(ctx, updateKey, 1, updatePolicy)
		require.NoError(t, err)
		assert.True(t, r.Allowed, "request %d", i+1)
		assert.Equal(t, 2-i, r.Remaining)
		assert.Equal(t, 3, r.Limit)
	}

	denied, err := limiter.Consume(ctx, updateKey, 1, updatePolicy)
	require.NoError(t, err)
	assert.False(t, denied.Allowed)
	assert.Equal(t, 0, denied.Remaining)
	assert.Equal(t, 20*time.Second, denied.RetryAfter)
	assert.Equal(t, clock.Now().UnixMilli()+60_000, denied.ResetAtEpochMs)

	st, ok := store.Get(updateKey)
	require.True(t, ok)
	assert.Equal(t, uint64(3), st.Version, "denied consumption writes nothing")

	clock.Advance(60 * time.Second)
	r, err := limiter.Consume(ctx, updateKey, 1, updatePolicy)
	require.NoError(t, err)
	assert.True(t, r.Allowed)
	assert.Equal(t, 2, r.Remaining)
}

func TestLimiter_PartialRefill(t *testing.T) {
	clock := newFakeClock()
	limiter := NewLimiter(NewMemoryBucketStore(), WithClock(clock))
	ctx := context.Background()

	r, err := limiter.Consume(ctx, updateKey, 3, updatePolicy)
	require.NoError(t, err)
	require.True(t, r.Allowed)

	clock.Advance(20 * time.Second)
	r, err = limiter.Consume(ctx, updateKey, 1, updatePolicy)
	require.NoError(t, err)
	assert.True(t, r.Allowed)

	r, err = limiter.Consume(ctx, updateKey, 1, updatePolicy)
	require.NoError(t, err)
	assert.False(t, r.Allowed)
}

func TestLimiter_ClockGoingBackwards(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryBucketStore()
	limiter := NewLimiter(store, WithClock(clock))
	ctx := context.Background()

	_, err := limiter.Consume(ctx, updateKey, 1, updatePolicy)
	require.NoError(t, err)
	before, _ := store.Get(updateKey)

	clock.Advance(-time.Minute)
	r, err := limiter.Consume(ctx, updateKey, 1, updatePolicy)
	require.NoError(t, err)
	assert.True(t, r.Allowed)

	after, _ := store.Get(updateKey)
	assert.Equal(t, before.LastRefillAt, after.LastRefillAt)
	assert.InDelta(t, 1.0, after.Tokens, 1e-9)
}

func TestLimiter_RejectsInvalidInput(t *testing.T) {
	limiter := NewLimiter(NewMemoryBucketStore())
	_, err := limiter.Consume(context.Background(), updateKey, 1, Policy{Capacity: 1})
	assert.Error(t, err)
	_, err = limiter.Consume(context.Background(), updateKey, -1, updatePolicy)
	assert.Error(t, err)
}

type conflictingStore struct{ calls atomic.Int32 }

func (c *conflictingStore) Update(ctx context.Context, key Key, fn func(*State) (*State, error)) error {
	c.calls.Add(1)
	if _, err := fn(nil); err != nil {
		return err
	}
	return ErrConflict
}

func TestLimiter_GivesUpAfterRetries(t *testing.T) {
	store := &conflictingStore{}
	limiter := NewLimiter(store, WithRetries(2, 0))

	_, err := limiter.Consume(context.Background(), updateKey, 1, updatePolicy)
	var cerr *ConflictError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, 3, cerr.Attempts)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, int32(3), store.calls.Load())
}

// mockDynamo emulates the conditional writes the bucket store relies on
type mockDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
}

func newMockDynamo() *mockDynamo {
	return &mockDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func (m *mockDynamo) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pk := params.Key["pk"].(*types.AttributeValueMemberS).Value
	return &dynamodb.GetItemOutput{Item: m.items[pk]}, nil
}

func (m *mockDynamo) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pk := params.Item["pk"].(*types.AttributeValueMemberS).Value
	existing, exists := m.items[pk]

	failed := &types.ConditionalCheckFailedException{Message: aws.String("conditional check failed")}
	switch aws.ToString(params.ConditionExpression) {
	case "attribute_not_exists(pk)":
		if exists {
			return nil, failed
		}
	case "version = :v":
		want := params.ExpressionAttributeValues[":v"].(*types.AttributeValueMemberN).Value
		if !exists || existing["version"].(*types.AttributeValueMemberN).Value != want {
			return nil, failed
		}
	}
	m.items[pk] = params.Item
	return &dynamodb.PutItemOutput{}, nil
}

func TestDynamoBucketStore_RoundTrip(t *testing.T) {
	client := newMockDynamo()
	store := NewDynamoBucketStore(client, "buckets")
	clock := newFakeClock()
	limiter := NewLimiter(store, WithClock(clock))

	r, err := limiter.Consume(context.Background(), updateKey, 1, updatePolicy)
	require.NoError(t, err)
	assert.True(t, r.Allowed)

	item := client.items[partitionKey(updateKey)]
	require.NotNil(t, item)
	st, err := stateFromItem(item)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), st.Version)
	assert.InDelta(t, 2.0, st.Tokens, 1e-9)
	assert.Equal(t, clock.Now().UnixMilli(), st.LastRefillAt)
}

func TestDynamoBucketStore_StaleWriteConflicts(t *testing.T) {
	client := newMockDynamo()
	store := NewDynamoBucketStore(client, "buckets")
	ctx := context.Background()
	set := func(*State) (*State, error) { return &State{Tokens: 1}, nil }

	require.NoError(t, store.Update(ctx, updateKey, set))

	err := store.Update(ctx, updateKey, func(current *State) (*State, error) {
		// another writer wins in between
		require.NoError(t, store.Update(ctx, updateKey, set))
		return &State{Tokens: 0}, nil
	})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestBucketStores_NoDoubleSpend(t *testing.T) {
	badgerStorage, err := storage.NewInMemoryStorage()
	require.NoError(t, err)
	t.Cleanup(func() { _ = badgerStorage.Close() })

	stores := map[string]BucketStore{
		"memory": NewMemoryBucketStore(),
		"badger": NewBadgerBucketStore(badgerStorage),
		"dynamo": NewDynamoBucketStore(newMockDynamo(), "buckets"),
	}

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			limiter := NewLimiter(store, WithClock(newFakeClock()), WithRetries(1000, 0))
			policy := Policy{Capacity: 10, RefillRate: 1, IntervalMs: 3_600_000}
			key := Key{TenantID: "t1", Scope: name, ResourceType: ResourceSearch}

			var allowed atomic.Int32
			var wg sync.WaitGroup
			for range 50 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					r, err := limiter.Consume(context.Background(), key, 1, policy)
					if !assert.NoError(t, err) {
						return
					}
					if r.Allowed {
						allowed.Add(1)
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, int32(10), allowed.Load())
		})
	}
}

func TestBadgerBucketStore_Persists(t *testing.T) {
	s, err := storage.NewInMemoryStorage()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	store := NewBadgerBucketStore(s)
	clock := newFakeClock()
	_, err = NewLimiter(store, WithClock(clock)).Consume(context.Background(), updateKey, 2, updatePolicy)
	require.NoError(t, err)

	st, found, err := store.Get(updateKey)
	require.NoError(t, err)
	require.True(t, found)
	assert.InDelta(t, 1.0, st.Tokens, 1e-9)
	assert.Equal(t, 3, st.Capacity)
	assert.Equal(t, uint64(1), st.Version)

	_, found, err = store.Get(Key{TenantID: "other"})
	require.NoError(t, err)
	assert.False(t, found)
}

func TestHeaders(t *testing.T) {
	h := Headers(Result{Allowed: true, Remaining: 2, Limit: 3, ResetAtEpochMs: 1_700_000_020_001})
	assert.Equal(t, "3", h.Get("X-RateLimit-Limit"))
	assert.Equal(t, "2", h.Get("X-RateLimit-Remaining"))
	assert.Equal(t, "1700000021", h.Get("X-RateLimit-Reset"))
	assert.Empty(t, h.Get("Retry-After"))

	h = Headers(Result{Limit: 3, RetryAfter: 19_500 * time.Millisecond})
	assert.Equal(t, "20", h.Get("Retry-After"))
	h = Headers(Result{Limit: 3})
	assert.Equal(t, "1", h.Get("Retry-After"))
}

func TestParsePolicies(t *testing.T) {
	policies, err := ParsePolicies([]byte(`{
		"free": {"sparql_update": {"capacity": 3, "refillRate": 3, "intervalMs": 60000}},
		"trial": {"search": {"capacity": 5, "refillRate": 1, "intervalMs": 1000}}
	}`))
	require.NoError(t, err)

	p, ok := policies.Lookup("free", ResourceSparqlUpdate)
	require.True(t, ok)
	assert.Equal(t, updatePolicy, p)

	p, ok = policies.Lookup("free", ResourceSparqlQuery)
	require.True(t, ok)
	assert.Equal(t, 60, p.Capacity, "untouched resources keep defaults")

	_, ok = policies.Lookup("trial", ResourceSearch)
	assert.True(t, ok)
	_, ok = policies.Lookup("trial", ResourceBlobRead)
	assert.False(t, ok)

	_, err = ParsePolicies([]byte(`{"free": {"search": {"capacity": 0}}}`))
	assert.Error(t, err)
	_, err = ParsePolicies([]byte(`[1,2]`))
	assert.Error(t, err)
	_, err = ParsePolicies([]byte(`{`))
	assert.True(t, err != nil && !errors.Is(err, ErrConflict))
}
