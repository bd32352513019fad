// storage/badger.go

// Low-level BadgerDB v3 key-value store for the settlement audit log
// One instance per data directory; iterator support for prefix scans

package storage

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/dgraph-io/badger/v3"
)

// ErrKeyNotFound is returned when a key does not exist
var ErrKeyNotFound = errors.New("key not found")

// BadgerStorage wraps a BadgerDB instance
type BadgerStorage struct {
	db *badger.DB
	mu sync.RWMutex
}

// NewBadgerStorage opens (creating if needed) a BadgerDB at dataDir
func NewBadgerStorage(dataDir string) (*BadgerStorage, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %v", err)
	}

	opts := badger.DefaultOptions(dataDir).
		WithLogger(nil).
		WithNumVersionsToKeep(1)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %v", err)
	}

	return &BadgerStorage{db: db}, nil
}

// Close shuts the database down
func (bs *BadgerStorage) Close() error {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if bs.db == nil {
		return nil
	}

	err := bs.db.Close()
	bs.db = nil
	return err
}

// Get retrieves a value by key
func (bs *BadgerStorage) Get(key []byte) ([]byte, error) {
	bs.mu.RLock()
	defer bs.mu.RUnlock()

	var value []byte
	err := bs.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}

		value, err = item.ValueCopy(nil)
		return err
	})

	if err == badger.ErrKeyNotFound {
		return nil, ErrKeyNotFound
	}

	return value, err
}

// Set stores a key-value pair
func (bs *BadgerStorage) Set(key, value []byte) error {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	return bs.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

// Has checks whether a key exists
func (bs *BadgerStorage) Has(key []byte) (bool, error) {
	bs.mu.RLock()
	defer bs.mu.RUnlock()

	err := bs.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		return err
	})

	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// IteratePrefix calls fn for every key-value pair under prefix. Returning a
// non-nil error from fn aborts the scan.
func (bs *BadgerStorage) IteratePrefix(prefix []byte, fn func(key, value []byte) error) error {
	bs.mu.RLock()
	defer bs.mu.RUnlock()

	return bs.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := fn(item.KeyCopy(nil), value); err != nil {
				return err
			}
		}
		return nil
	})
}
