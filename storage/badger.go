package storage

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/dgraph-io/badger/v3"
)

// Store is a thin BadgerDB wrapper used by the audit repository. The
// consensus engine never touches it; everything here is collaborator-side
// persistence of emitted events.
type Store struct {
	db *badger.DB
}

// OpenStore opens (or creates) a BadgerDB database at dir. An empty dir
// opens an in-memory database, which the tests use.
func OpenStore(dir string) (*Store, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(dir)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %q: %w", dir, err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// PutObject marshals and stores an object under key.
func (s *Store) PutObject(key string, obj interface{}) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("failed to marshal %q: %w", key, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

// GetObject loads and unmarshals the object stored under key.
func (s *Store) GetObject(key string, obj interface{}) error {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return fmt.Errorf("key not found: %s", key)
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, obj)
}

// GetByPrefix returns all values stored under keys with the given prefix.
func (s *Store) GetByPrefix(prefix string) ([][]byte, error) {
	var values [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefixBytes := []byte(prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			value, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			values = append(values, value)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("prefix scan %q failed: %w", prefix, err)
	}
	return values, nil
}

// StartGC runs value-log garbage collection on a fixed interval until the
// store is closed. Safe to skip for in-memory stores.
func (s *Store) StartGC(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for range ticker.C {
			err := s.db.RunValueLogGC(0.5)
			if err != nil && err != badger.ErrNoRewrite && err != badger.ErrRejected {
				log.Printf("badger GC failed: %v", err)
				return
			}
		}
	}()
}
