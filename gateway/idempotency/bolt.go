package idempotency

import (
	"context"
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketResponses = []byte("responses")

// BoltStore keeps records in a single-node BoltDB file.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens (and migrates) the store at path.
func OpenBolt(path string, options *bolt.Options) (*BoltStore, error) {
	if options == nil {
		options = &bolt.Options{Timeout: time.Second}
	} else if options.Timeout == 0 {
		options.Timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, options)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketResponses)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Get(_ context.Context, key string, now time.Time) (*Record, error) {
	var record *Record
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketResponses)
		raw := bucket.Get([]byte(key))
		if raw == nil {
			return nil
		}
		var decoded Record
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return err
		}
		if decoded.Expired(now) {
			return bucket.Delete([]byte(key))
		}
		record = &decoded
		return nil
	})
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrNotFound
	}
	return record, nil
}

// Put stores record unless a live record already holds the key.
func (s *BoltStore) Put(_ context.Context, record *Record) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketResponses)
		if raw := bucket.Get([]byte(record.Key)); raw != nil {
			var existing Record
			if err := json.Unmarshal(raw, &existing); err == nil && !existing.Expired(record.CreatedAt) {
				return nil
			}
		}
		payload, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(record.Key), payload)
	})
}

// Purge removes every expired record and reports how many were dropped.
func (s *BoltStore) Purge(_ context.Context, now time.Time) (int64, error) {
	var removed int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketResponses)
		var stale [][]byte
		err := bucket.ForEach(func(k, v []byte) error {
			var record Record
			if err := json.Unmarshal(v, &record); err != nil || record.Expired(now) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, key := range stale {
			if err := bucket.Delete(key); err != nil {
				return err
			}
		}
		removed = int64(len(stale))
		return nil
	})
	return removed, err
}

func (s *BoltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
