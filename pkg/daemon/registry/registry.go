// Package registry provides Badger DB-backed storage for per-run outcomes.
// The monitor records every finished session here; the CLI reads it back for
// `runvault runs`.
package registry

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Key prefix for run records.
const prefixRun = "r:"

// Run statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Record is the stored outcome of one run session.
type Record struct {
	RunID          string `json:"run_id"`
	Path           string `json:"path"`
	Status         string `json:"status"`
	FilesSeen      int    `json:"files_seen"`
	FilesPublished int    `json:"files_published"`
	FilesErrored   int    `json:"files_errored"`
	Containers     int    `json:"containers"`
	UpdatedAt      int64  `json:"updated_at"`
}

// Registry is the run outcome store backed by Badger DB.
type Registry struct {
	db *badger.DB
}

// Open opens or creates a registry at the given path.
func Open(path string) (*Registry, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Disable logging

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &Registry{db: db}, nil
}

// Close closes the registry.
func (r *Registry) Close() error {
	return r.db.Close()
}

// Put stores a record, stamping its update time.
func (r *Registry) Put(rec *Record) error {
	rec.UpdatedAt = time.Now().Unix()

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(prefixRun+rec.Path), data)
	})
}

// Get retrieves the record for a run path.
func (r *Registry) Get(path string) (*Record, error) {
	var rec Record

	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixRun + path))
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})

	if err != nil {
		return nil, err
	}

	return &rec, nil
}

// List returns all records, most recently updated first.
func (r *Registry) List() ([]*Record, error) {
	var results []*Record

	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixRun)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var rec Record
				if err := json.Unmarshal(val, &rec); err != nil {
					return nil // Skip invalid entries
				}
				results = append(results, &rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].UpdatedAt > results[j].UpdatedAt
	})

	return results, nil
}

// Delete removes the record for a run path.
func (r *Registry) Delete(path string) error {
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(prefixRun + path))
	})
}
