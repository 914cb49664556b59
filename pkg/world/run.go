package world

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// run tracks one locked execution racing its caller's deadline. Whichever
// side moves first wins: the worker by entering the commit phase, the
// caller by abandoning the run.
type run struct {
	mu         sync.Mutex
	abandoned  bool
	committing bool
}

// enterCommit reports whether the worker may start mutating durable state
func (r *run) enterCommit() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.abandoned {
		return false
	}
	r.committing = true
	return true
}

// abandon reports whether the caller gave up before the commit phase
func (r *run) abandon() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.committing {
		return false
	}
	r.abandoned = true
	return true
}

func (r *run) isAbandoned() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.abandoned
}

type outcome[T any] struct {
	value T
	err   error
}

// runLocked runs work in its own goroutine holding the world's write or read
// lock, bounded by the caller's deadline and the service timeout. On expiry
// the caller returns a TimeoutError unless work already started committing,
// in which case it waits for the real outcome. An abandoned work keeps the
// lock until it returns; it is never interrupted.
func runLocked[T any](ctx context.Context, s *Service, world string, write bool, work func(ctx context.Context, r *run) (T, error)) (T, error) {
	r := &run{}
	done := make(chan outcome[T], 1)
	workCtx := context.WithoutCancel(ctx)

	go func() {
		var unlock func()
		if write {
			unlock = s.locks.Lock(world)
		} else {
			unlock = s.locks.RLock(world)
		}
		defer unlock()

		if r.isAbandoned() {
			var zero T
			done <- outcome[T]{zero, &TimeoutError{}}
			return
		}
		v, err := work(workCtx, r)
		done <- outcome[T]{v, err}
	}()

	var expired <-chan time.Time
	if s.deps.Timeout > 0 {
		timer := time.NewTimer(s.deps.Timeout)
		defer timer.Stop()
		expired = timer.C
	}

	start := time.Now()
	var cause error
	select {
	case o := <-done:
		return o.value, o.err
	case <-expired:
		cause = context.DeadlineExceeded
	case <-ctx.Done():
		cause = ctx.Err()
	}

	if !r.abandon() {
		o := <-done
		return o.value, o.err
	}
	s.log.WithFields(log.Fields{"world": world, "after": time.Since(start)}).Warn("abandoned run")
	var zero T
	if errors.Is(cause, context.DeadlineExceeded) {
		return zero, &TimeoutError{After: time.Since(start)}
	}
	return zero, cause
}
