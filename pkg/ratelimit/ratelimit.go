// Package ratelimit implements a persisted token bucket rate limiter.
//
// Every bucket lives in a BucketStore and is updated with an optimistic
// read-refill-consume-write transaction, so any number of limiter instances
// can share one store without spending the same token twice.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// ErrConflict is returned by a BucketStore when the bucket changed between
// the read and the write of an update
var ErrConflict = errors.New("bucket state changed concurrently")

// ConflictError is returned when every retry of a consumption lost its race
type ConflictError struct {
	Key      Key
	Attempts int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("rate limit bucket %s: gave up after %d conflicting attempts", e.Key, e.Attempts)
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// Key identifies one bucket
type Key struct {
	TenantID     string
	Scope        string
	ResourceType ResourceType
}

func (k Key) String() string {
	return strings.Join([]string{k.TenantID, k.Scope, string(k.ResourceType)}, "/")
}

// State is the persisted form of a bucket. Version increases with every
// write and is what stores compare on.
type State struct {
	Tokens       float64 `json:"tokens"`
	Capacity     int     `json:"capacity"`
	RefillRate   int     `json:"refillRate"`
	IntervalMs   int64   `json:"intervalMs"`
	LastRefillAt int64   `json:"lastRefillAt"`
	Version      uint64  `json:"version"`
}

// BucketStore persists bucket states. Update reads the state of key (nil
// when the bucket does not exist yet) and passes it to fn; when fn returns a
// state, Update writes it only if the stored state is still the one fn saw
// and fails with ErrConflict otherwise. A nil state from fn writes nothing.
type BucketStore interface {
	Update(ctx context.Context, key Key, fn func(current *State) (*State, error)) error
}

// Result is the outcome of one consumption
type Result struct {
	Allowed        bool
	Remaining      int
	ResetAtEpochMs int64
	Limit          int
	RetryAfter     time.Duration
}

// Clock supplies the current time
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock
var SystemClock Clock = systemClock{}

// Limiter consumes tokens from buckets in a BucketStore
type Limiter struct {
	store      BucketStore
	clock      Clock
	maxRetries int
	backoff    time.Duration
}

// Option configures a Limiter
type Option func(*Limiter)

// WithClock replaces the wall clock
func WithClock(c Clock) Option {
	return func(l *Limiter) { l.clock = c }
}

// WithRetries sets how often a conflicting consumption is retried and the
// base backoff between attempts
func WithRetries(n int, backoff time.Duration) Option {
	return func(l *Limiter) {
		l.maxRetries = n
		l.backoff = backoff
	}
}

// NewLimiter creates a limiter over store
func NewLimiter(store BucketStore, opts ...Option) *Limiter {
	l := &Limiter{
		store:      store,
		clock:      SystemClock,
		maxRetries: 8,
		backoff:    2 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Consume takes cost tokens from the bucket of key, creating it full when it
// does not exist. A denied consumption leaves the stored bucket untouched.
func (l *Limiter) Consume(ctx context.Context, key Key, cost int, policy Policy) (Result, error) {
	if err := policy.Validate(); err != nil {
		return Result{}, err
	}
	if cost < 0 {
		return Result{}, fmt.Errorf("negative cost %d", cost)
	}

	attempts := 0
	for {
		attempts++
		now := l.clock.Now().UnixMilli()

		var result Result
		err := l.store.Update(ctx, key, func(current *State) (*State, error) {
			next, r := consume(current, policy, cost, now)
			result = r
			return next, nil
		})
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, ErrConflict) {
			return Result{}, fmt.Errorf("rate limit bucket %s: %w", key, err)
		}
		if attempts > l.maxRetries {
			return Result{}, &ConflictError{Key: key, Attempts: attempts}
		}

		log.WithFields(log.Fields{"bucket": key.String(), "attempt": attempts}).Debug("rate limit conflict, retrying")
		if err := l.sleep(ctx, attempts); err != nil {
			return Result{}, err
		}
	}
}

// sleep waits a jittered, exponentially growing backoff
func (l *Limiter) sleep(ctx context.Context, attempt int) error {
	if l.backoff <= 0 {
		return ctx.Err()
	}
	d := l.backoff << min(attempt-1, 6)
	d = d/2 + rand.N(d/2+1)

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// consume applies refill and consumption to a bucket at time now. The
// returned state is nil when nothing must be written.
func consume(current *State, policy Policy, cost int, now int64) (*State, Result) {
	capacity := float64(policy.Capacity)

	st := State{Tokens: capacity, LastRefillAt: now}
	if current != nil {
		st = *current
		if elapsed := now - st.LastRefillAt; elapsed > 0 {
			st.Tokens += float64(elapsed) / float64(policy.IntervalMs) * float64(policy.RefillRate)
		}
		st.LastRefillAt = max(st.LastRefillAt, now)
	}
	st.Tokens = math.Max(0, math.Min(capacity, st.Tokens))
	st.Capacity = policy.Capacity
	st.RefillRate = policy.RefillRate
	st.IntervalMs = policy.IntervalMs

	result := Result{Limit: policy.Capacity}
	allowed := st.Tokens >= float64(cost)
	if allowed {
		st.Tokens -= float64(cost)
		result.Allowed = true
	} else {
		result.RetryAfter = policy.durationFor(float64(cost) - st.Tokens)
	}
	result.Remaining = int(math.Floor(st.Tokens))
	result.ResetAtEpochMs = now + policy.durationFor(capacity-st.Tokens).Milliseconds()

	if !allowed {
		return nil, result
	}
	return &st, result
}
