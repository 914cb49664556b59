package storage

import (
	"bytes"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/aleksaelezovic/worlds/pkg/store"
)

// BadgerStorage implements Storage using BadgerDB
type BadgerStorage struct {
	db *badger.DB
}

// Option customizes the Badger options before the database is opened
type Option func(*badger.Options)

// WithInMemory keeps all data in memory; the path is ignored
func WithInMemory() Option {
	return func(o *badger.Options) {
		o.Dir = ""
		o.ValueDir = ""
		o.InMemory = true
	}
}

// WithSyncWrites fsyncs every commit
func WithSyncWrites(sync bool) Option {
	return func(o *badger.Options) {
		o.SyncWrites = sync
	}
}

// NewBadgerStorage creates a new BadgerDB-backed storage
func NewBadgerStorage(path string, options ...Option) (*BadgerStorage, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Disable default logger
	for _, apply := range options {
		apply(&opts)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	return &BadgerStorage{db: db}, nil
}

// NewInMemoryStorage opens a BadgerDB that never touches disk
func NewInMemoryStorage() (*BadgerStorage, error) {
	return NewBadgerStorage("", WithInMemory())
}

// Begin starts a new transaction
func (s *BadgerStorage) Begin(writable bool) (store.Transaction, error) {
	txn := s.db.NewTransaction(writable)
	return &BadgerTransaction{
		txn:      txn,
		writable: writable,
	}, nil
}

// Close closes the storage
func (s *BadgerStorage) Close() error {
	return s.db.Close()
}

// Sync flushes writes to disk
func (s *BadgerStorage) Sync() error {
	return s.db.Sync()
}

// BadgerTransaction implements Transaction using BadgerDB
type BadgerTransaction struct {
	txn      *badger.Txn
	writable bool
}

// Get retrieves a value by key
func (t *BadgerTransaction) Get(table store.Table, key []byte) ([]byte, error) {
	item, err := t.txn.Get(store.PrefixKey(table, key))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return item.ValueCopy(nil)
}

// Set stores a key-value pair
func (t *BadgerTransaction) Set(table store.Table, key, value []byte) error {
	if !t.writable {
		return store.ErrTransactionRO
	}
	return t.txn.Set(store.PrefixKey(table, key), value)
}

// Delete removes a key
func (t *BadgerTransaction) Delete(table store.Table, key []byte) error {
	if !t.writable {
		return store.ErrTransactionRO
	}
	return t.txn.Delete(store.PrefixKey(table, key))
}

// Scan iterates over keys starting with start, stopping before end
func (t *BadgerTransaction) Scan(table store.Table, start, end []byte) (store.Iterator, error) {
	opts := badger.DefaultIteratorOptions
	tablePrefix := store.TablePrefix(table)

	seekKey := tablePrefix
	if start != nil {
		seekKey = store.PrefixKey(table, start)
	}
	opts.Prefix = seekKey

	var endKey []byte
	if end != nil {
		endKey = store.PrefixKey(table, end)
	}

	return &BadgerIterator{
		it:      t.txn.NewIterator(opts),
		prefix:  tablePrefix,
		endKey:  endKey,
		seekKey: seekKey,
	}, nil
}

// Commit commits the transaction
func (t *BadgerTransaction) Commit() error {
	err := t.txn.Commit()
	if errors.Is(err, badger.ErrConflict) {
		return store.ErrConflict
	}
	return err
}

// Rollback rolls back the transaction
func (t *BadgerTransaction) Rollback() error {
	t.txn.Discard()
	return nil
}

// BadgerIterator implements Iterator using BadgerDB
type BadgerIterator struct {
	it       *badger.Iterator
	prefix   []byte // Table prefix for stripping from keys
	endKey   []byte
	seekKey  []byte
	started  bool
	hasValue bool
}

// Next advances to the next item
func (i *BadgerIterator) Next() bool {
	if !i.started {
		i.it.Seek(i.seekKey)
		i.started = true
	} else {
		i.it.Next()
	}

	if !i.it.Valid() {
		i.hasValue = false
		return false
	}
	if i.endKey != nil && bytes.Compare(i.it.Item().Key(), i.endKey) >= 0 {
		i.hasValue = false
		return false
	}

	i.hasValue = true
	return true
}

// Key returns a copy of the current key without the table prefix
func (i *BadgerIterator) Key() []byte {
	if !i.hasValue {
		return nil
	}
	key := i.it.Item().KeyCopy(nil)
	return key[len(i.prefix):]
}

// Value returns the current value
func (i *BadgerIterator) Value() ([]byte, error) {
	if !i.hasValue {
		return nil, store.ErrNotFound
	}
	return i.it.Item().ValueCopy(nil)
}

// Close closes the iterator
func (i *BadgerIterator) Close() error {
	i.it.Close()
	return nil
}
