package idempotency

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newGormStore(t *testing.T) *GormStore {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	store, err := NewGormStore(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newBoltStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := OpenBolt(filepath.Join(t.TempDir(), "idempotency.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleRecord(key string, now time.Time) *Record {
	return &Record{
		Key:         key,
		RequestID:   uuid.NewString(),
		Fingerprint: Fingerprint("POST", "/v1/orders", []byte(`{"seller":"x"}`)),
		Method:      "POST",
		Path:        "/v1/orders",
		Status:      201,
		ContentType: "application/json",
		Body:        []byte(`{"id":1}`),
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Hour),
	}
}

func TestStores(t *testing.T) {
	stores := map[string]func(*testing.T) Store{
		"gorm": func(t *testing.T) Store { return newGormStore(t) },
		"bolt": func(t *testing.T) Store { return newBoltStore(t) },
	}
	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			store := open(t)
			ctx := context.Background()
			now := time.Unix(1_700_000_000, 0).UTC()

			_, err := store.Get(ctx, "caller:k1", now)
			require.True(t, errors.Is(err, ErrNotFound))

			first := sampleRecord("caller:k1", now)
			require.NoError(t, store.Put(ctx, first))

			got, err := store.Get(ctx, "caller:k1", now.Add(time.Minute))
			require.NoError(t, err)
			require.Equal(t, 201, got.Status)
			require.Equal(t, []byte(`{"id":1}`), got.Body)
			require.Equal(t, first.Fingerprint, got.Fingerprint)

			second := sampleRecord("caller:k1", now.Add(time.Second))
			second.Body = []byte(`{"id":2}`)
			require.NoError(t, store.Put(ctx, second))
			got, err = store.Get(ctx, "caller:k1", now.Add(time.Minute))
			require.NoError(t, err)
			require.Equal(t, []byte(`{"id":1}`), got.Body, "first writer wins")

			_, err = store.Get(ctx, "caller:k1", now.Add(2*time.Hour))
			require.True(t, errors.Is(err, ErrNotFound))
			_, err = store.Get(ctx, "caller:k1", now)
			require.True(t, errors.Is(err, ErrNotFound), "expired record is removed")
		})
	}
}

func TestGormPurge(t *testing.T) {
	store := newGormStore(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0).UTC()
	require.NoError(t, store.Put(ctx, sampleRecord("a", now)))
	require.NoError(t, store.Put(ctx, sampleRecord("b", now.Add(2*time.Hour))))
	removed, err := store.Purge(ctx, now.Add(90*time.Minute))
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)
}

func TestBoltPurge(t *testing.T) {
	store, err := OpenBolt(filepath.Join(t.TempDir(), "idem.db"), nil)
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0).UTC()
	require.NoError(t, store.Put(ctx, sampleRecord("a", now)))
	require.NoError(t, store.Put(ctx, sampleRecord("b", now.Add(2*time.Hour))))
	var purger Purger = store
	removed, err := purger.Purge(ctx, now.Add(90*time.Minute))
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)
	_, err = store.Get(ctx, "b", now.Add(90*time.Minute))
	require.NoError(t, err)
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("POST", "/v1/orders", []byte("x"))
	require.Equal(t, a, Fingerprint("POST", "/v1/orders", []byte("x")))
	require.NotEqual(t, a, Fingerprint("POST", "/v1/orders", []byte("y")))
	require.NotEqual(t, a, Fingerprint("POST", "/v1/order", []byte("sx")))
}
