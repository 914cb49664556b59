package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aleksaelezovic/worlds/pkg/store"
)

// BadgerBucketStore keeps buckets in the key-value storage. Each update is
// one read-write transaction; the storage's optimistic conflict detection
// turns a concurrent write of the same bucket into ErrConflict.
type BadgerBucketStore struct {
	storage store.Storage
}

// NewBadgerBucketStore creates a bucket store over storage
func NewBadgerBucketStore(storage store.Storage) *BadgerBucketStore {
	return &BadgerBucketStore{storage: storage}
}

func bucketKey(key Key) []byte {
	return store.CompositeKey(key.TenantID, key.Scope, string(key.ResourceType))
}

func (b *BadgerBucketStore) Update(ctx context.Context, key Key, fn func(current *State) (*State, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := store.Update(b.storage, func(txn store.Transaction) error {
		var current *State
		data, err := txn.Get(store.TableBuckets, bucketKey(key))
		switch {
		case err == nil:
			current = new(State)
			if err := json.Unmarshal(data, current); err != nil {
				return fmt.Errorf("corrupt bucket state: %w", err)
			}
		case !errors.Is(err, store.ErrNotFound):
			return err
		}

		next, err := fn(current)
		if err != nil || next == nil {
			return err
		}
		written := *next
		if current != nil {
			written.Version = current.Version + 1
		} else {
			written.Version = 1
		}
		data, err = json.Marshal(written)
		if err != nil {
			return err
		}
		return txn.Set(store.TableBuckets, bucketKey(key), data)
	})
	if errors.Is(err, store.ErrConflict) {
		return ErrConflict
	}
	return err
}

// Get returns the stored state of key
func (b *BadgerBucketStore) Get(key Key) (State, bool, error) {
	var st State
	found := false
	err := store.View(b.storage, func(txn store.Transaction) error {
		data, err := txn.Get(store.TableBuckets, bucketKey(key))
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return json.Unmarshal(data, &st)
	})
	return st, found, err
}
