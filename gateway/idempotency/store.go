package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// ErrNotFound is returned when no live record exists for a key.
var ErrNotFound = errors.New("idempotency: record not found")

// Record is a captured response replayed for a repeated Idempotency-Key.
type Record struct {
	Key         string
	RequestID   string
	Fingerprint string
	Method      string
	Path        string
	Status      int
	ContentType string
	Body        []byte
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Expired reports whether the record should no longer be replayed.
func (r *Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

// Store persists captured responses.
type Store interface {
	Get(ctx context.Context, key string, now time.Time) (*Record, error)
	Put(ctx context.Context, record *Record) error
	Close() error
}

// Purger is implemented by stores that can drop expired records in bulk.
type Purger interface {
	Purge(ctx context.Context, now time.Time) (int64, error)
}

// Fingerprint hashes the parts of a request that must match for a replay.
func Fingerprint(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
