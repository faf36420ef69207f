// Package storage archives the results of self-training runs.
// It uses BoltDB as the underlying storage engine to keep base-model attempts
// and per-iteration records so runs can be compared after the fact.
//
// Records are JSON values under keys that sort by run and step, which keeps
// prefix scans over a single run or scheme cheap.
package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"lsfts/internal/common"

	"go.etcd.io/bbolt"
)

const (
	baseRunsBucket   = "base_runs"  // Base model attempts
	iterationsBucket = "iterations" // Self-training iterations
)

// Store provides persistent storage for training results using BoltDB.
type Store struct {
	db *bbolt.DB // BoltDB database instance
}

// New opens (or creates) the results database in dataPath and makes sure the
// buckets exist.
func New(dataPath string) (*Store, error) {
	dbPath := filepath.Join(dataPath, common.ResultsDBName)

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(baseRunsBucket)); err != nil {
			return fmt.Errorf("create base runs bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(iterationsBucket)); err != nil {
			return fmt.Errorf("create iterations bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database. Closing twice is not an error.
func (s *Store) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}

func (s *Store) put(bucket, key string, v any) error {
	if s.db == nil {
		return fmt.Errorf("store is closed")
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal %s record: %w", bucket, err)
		}
		return tx.Bucket([]byte(bucket)).Put([]byte(key), data)
	})
}

// scan calls fn with every value whose key starts with prefix, in key order.
// Malformed records are skipped by the callers' unmarshal step.
func (s *Store) scan(bucket, prefix string, fn func(v []byte)) error {
	if s.db == nil {
		return fmt.Errorf("store is closed")
	}
	return s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(bucket)).Cursor()
		p := []byte(prefix)
		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			fn(v)
		}
		return nil
	})
}
