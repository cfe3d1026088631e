// Package transform — store.go
//
// StateStore is the interface for cross-run subject state: pseudonym codes
// and per-subject date-shift offsets. Persisting them is what makes the
// same patient map to the same surrogate across documents processed in
// different runs.
//
// Two implementations are provided:
//   - memoryStore — in-memory only, used in tests and when no path is configured.
//   - bboltStore  — embedded key-value store (bbolt), used in production.
//
// The interface is intentionally minimal. The engine writes entries one at
// a time on pseudonym-cache misses; reads are per-key lookups. Batch
// operations and iteration are not needed.
package transform

import (
	"fmt"
	"sync"

	bolt "go.etcd.io/bbolt"

	"phi-deidentify/internal/logger"
)

// StateStore is the cross-run subject state store interface.
// All implementations must be safe for concurrent use.
type StateStore interface {
	// Get returns the stored value for key, if present.
	Get(key string) (value string, ok bool)

	// Set stores key → value. Overwrites any existing entry silently.
	Set(key, value string)

	// Close releases any resources held by the store (e.g. file handles).
	Close() error
}

// --- memoryStore ---------------------------------------------------------

// memoryStore is a thread-safe in-memory StateStore.
// Used in tests and as a fallback when no bbolt path is configured.
type memoryStore struct {
	mu    sync.RWMutex
	store map[string]string
}

// NewMemoryStore returns an in-memory StateStore.
func NewMemoryStore() StateStore {
	return &memoryStore{store: make(map[string]string)}
}

func (s *memoryStore) Get(key string) (string, bool) {
	s.mu.RLock()
	v, ok := s.store[key]
	s.mu.RUnlock()
	return v, ok
}

func (s *memoryStore) Set(key, value string) {
	s.mu.Lock()
	s.store[key] = value
	s.mu.Unlock()
}

func (s *memoryStore) Close() error { return nil }

// --- bboltStore ----------------------------------------------------------

const bboltBucket = "subject_state"

// bboltStore is a StateStore backed by an embedded bbolt database.
// Entries survive process restarts. The database file is created at the
// given path if it does not exist.
type bboltStore struct {
	db  *bolt.DB
	log *logger.Logger
}

// NewBoltStore opens (or creates) the bbolt database at path and ensures
// the bucket exists. Returns an error if the file cannot be opened.
func NewBoltStore(path string, log *logger.Logger) (StateStore, error) {
	if log == nil {
		log = logger.New("TRANSFORM", "error")
	}
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open subject state store %q: %w", path, err)
	}

	// Ensure the bucket exists.
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bboltBucket))
		return err
	}); err != nil {
		db.Close() //nolint:errcheck // best-effort close on init failure
		return nil, fmt.Errorf("create subject state bucket: %w", err)
	}

	log.Infof("store_open", "subject state store opened at %s", path)
	return &bboltStore{db: db, log: log}, nil
}

func (s *bboltStore) Get(key string) (string, bool) {
	var value string
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bboltBucket))
		if b == nil {
			return nil
		}
		// Seek rather than Get: key presence must be reported even for
		// an empty stored value.
		k, v := b.Cursor().Seek([]byte(key))
		if k != nil && string(k) == key {
			value = string(v)
			found = true
		}
		return nil
	})
	if err != nil {
		s.log.Errorf("store_get", "bbolt Get error: %v", err)
		return "", false
	}
	return value, found
}

func (s *bboltStore) Set(key, value string) {
	if err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bboltBucket))
		if b == nil {
			return fmt.Errorf("bucket %q not found", bboltBucket)
		}
		return b.Put([]byte(key), []byte(value))
	}); err != nil {
		s.log.Errorf("store_set", "bbolt Set error: %v", err)
	}
}

func (s *bboltStore) Close() error {
	return s.db.Close()
}
