package store

import (
	"errors"
)

var (
	ErrNotFound      = errors.New("key not found")
	ErrTransactionRO = errors.New("transaction is read-only")
	// ErrConflict is returned by Commit when a concurrent transaction wrote a key this one read
	ErrConflict = errors.New("transaction conflict")
)

// Storage is the interface for the underlying key-value store
type Storage interface {
	// Begin starts a new transaction
	Begin(writable bool) (Transaction, error)

	// Close closes the storage
	Close() error

	// Sync flushes writes to disk
	Sync() error
}

// Transaction represents a database transaction with snapshot isolation
type Transaction interface {
	// Get retrieves a value by key
	Get(table Table, key []byte) ([]byte, error)

	// Set stores a key-value pair
	Set(table Table, key, value []byte) error

	// Delete removes a key
	Delete(table Table, key []byte) error

	// Scan iterates over a key range [start, end)
	// If start is nil, begins from the first key
	// If end is nil, scans until the last key
	Scan(table Table, start, end []byte) (Iterator, error)

	// Commit commits the transaction, returning ErrConflict on a lost optimistic race
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error
}

// Iterator iterates over key-value pairs
type Iterator interface {
	// Next advances to the next item
	Next() bool

	// Key returns the current key
	Key() []byte

	// Value returns the current value
	Value() ([]byte, error)

	// Close closes the iterator
	Close() error
}

// Table represents a logical table/column family in the storage
type Table byte

const (
	// World blobs: world id -> encoded blob record
	TableBlobs Table = iota

	// Tenant listing: tenant id 0x00 world id -> empty
	TableTenantWorlds

	// Rate limit buckets: bucket key -> bucket state
	TableBuckets

	// Usage counters: tenant 0x00 world 0x00 kind 0x00 day -> counter
	TableUsage

	// Total number of tables
	TableCount
)

func (t Table) String() string {
	switch t {
	case TableBlobs:
		return "blobs"
	case TableTenantWorlds:
		return "tenant_worlds"
	case TableBuckets:
		return "buckets"
	case TableUsage:
		return "usage"
	default:
		return "unknown"
	}
}

// TablePrefix returns a byte prefix for a table to namespace keys
func TablePrefix(table Table) []byte {
	return []byte{byte(table)}
}

// PrefixKey adds a table prefix to a key
func PrefixKey(table Table, key []byte) []byte {
	prefix := TablePrefix(table)
	result := make([]byte, len(prefix)+len(key))
	copy(result, prefix)
	copy(result[len(prefix):], key)
	return result
}

// CompositeKey joins key parts with a zero byte separator
func CompositeKey(parts ...string) []byte {
	size := len(parts)
	for _, p := range parts {
		size += len(p)
	}
	key := make([]byte, 0, size)
	for i, p := range parts {
		if i > 0 {
			key = append(key, 0)
		}
		key = append(key, p...)
	}
	return key
}

// Update runs fn in a writable transaction and commits it; fn's error rolls back
func Update(s Storage, fn func(txn Transaction) error) error {
	txn, err := s.Begin(true)
	if err != nil {
		return err
	}
	if err := fn(txn); err != nil {
		_ = txn.Rollback() // #nosec G104 - rollback error less important than original error
		return err
	}
	return txn.Commit()
}

// View runs fn in a read-only transaction
func View(s Storage, fn func(txn Transaction) error) error {
	txn, err := s.Begin(false)
	if err != nil {
		return err
	}
	defer txn.Rollback() // #nosec G104
	return fn(txn)
}
