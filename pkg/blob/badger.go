package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aleksaelezovic/worlds/pkg/store"
)

// BadgerStore keeps blobs in the key-value storage. The blob record and the
// tenant listing entry are written in one transaction.
type BadgerStore struct {
	storage store.Storage
}

// NewBadgerStore creates a blob store over storage
func NewBadgerStore(storage store.Storage) *BadgerStore {
	return &BadgerStore{storage: storage}
}

func readRecord(txn store.Transaction, worldID string) (*WorldBlob, error) {
	data, err := txn.Get(store.TableBlobs, []byte(worldID))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var b WorldBlob
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("corrupt blob record for world %s: %w", worldID, err)
	}
	return &b, nil
}

func (s *BadgerStore) Get(ctx context.Context, worldID string) (*WorldBlob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var b *WorldBlob
	err := store.View(s.storage, func(txn store.Transaction) error {
		var err error
		b, err = readRecord(txn, worldID)
		return err
	})
	return b, err
}

func (s *BadgerStore) Put(ctx context.Context, b *WorldBlob) error {
	if err := validate(b); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	return store.Update(s.storage, func(txn store.Transaction) error {
		previous, err := readRecord(txn, b.WorldID)
		switch {
		case err == nil && previous.TenantID != b.TenantID:
			if err := txn.Delete(store.TableTenantWorlds, store.CompositeKey(previous.TenantID, b.WorldID)); err != nil {
				return err
			}
		case err != nil && !errors.Is(err, ErrNotFound):
			return err
		}
		if err := txn.Set(store.TableBlobs, []byte(b.WorldID), data); err != nil {
			return err
		}
		return txn.Set(store.TableTenantWorlds, store.CompositeKey(b.TenantID, b.WorldID), nil)
	})
}

func (s *BadgerStore) Delete(ctx context.Context, worldID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return store.Update(s.storage, func(txn store.Transaction) error {
		previous, err := readRecord(txn, worldID)
		if err != nil {
			return err
		}
		if err := txn.Delete(store.TableBlobs, []byte(worldID)); err != nil {
			return err
		}
		return txn.Delete(store.TableTenantWorlds, store.CompositeKey(previous.TenantID, worldID))
	})
}

func (s *BadgerStore) List(ctx context.Context, tenantID string) ([]Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var infos []Info
	err := store.View(s.storage, func(txn store.Transaction) error {
		var prefix []byte
		if tenantID != "" {
			prefix = store.CompositeKey(tenantID, "")
		}
		it, err := txn.Scan(store.TableTenantWorlds, prefix, nil)
		if err != nil {
			return err
		}
		defer func() { _ = it.Close() }()

		for it.Next() {
			key := it.Key()
			worldID := string(key[bytes.IndexByte(key, 0)+1:])
			b, err := readRecord(txn, worldID)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			infos = append(infos, b.Info())
		}
		return nil
	})
	return infos, err
}
