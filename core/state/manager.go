package state

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"janus/storage"
)

// Manager provides RLP-encoded key/value access on top of a storage database.
// Writes are staged in a transaction overlay and flushed in one batch.
type Manager struct {
	mu sync.RWMutex
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// Tx is a unit of work against the manager. Reads observe the writes staged
// earlier in the same transaction.
type Tx struct {
	db       storage.Database
	writable bool
	writes   map[string][]byte
	deletes  map[string]struct{}
}

var (
	errReadOnly      = errors.New("state: write in read-only transaction")
	errNotConfigured = errors.New("state: manager not configured")
)

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

// Update runs fn in a writable transaction. The staged writes are committed
// in a single batch when fn returns nil and discarded otherwise.
func (m *Manager) Update(fn func(*Tx) error) error {
	if m == nil || m.db == nil {
		return errNotConfigured
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &Tx{
		db:       m.db,
		writable: true,
		writes:   make(map[string][]byte),
		deletes:  make(map[string]struct{}),
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

// View runs fn in a read-only transaction.
func (m *Manager) View(fn func(*Tx) error) error {
	if m == nil || m.db == nil {
		return errNotConfigured
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&Tx{db: m.db})
}

func (tx *Tx) commit() error {
	if len(tx.writes) == 0 && len(tx.deletes) == 0 {
		return nil
	}
	batch := tx.db.NewBatch()
	keys := make([]string, 0, len(tx.writes))
	for k := range tx.writes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		batch.Put([]byte(k), tx.writes[k])
	}
	for k := range tx.deletes {
		batch.Delete([]byte(k))
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	return nil
}

func (tx *Tx) get(hashed []byte) ([]byte, error) {
	k := string(hashed)
	if v, ok := tx.writes[k]; ok {
		return v, nil
	}
	if _, ok := tx.deletes[k]; ok {
		return nil, nil
	}
	v, err := tx.db.Get(hashed)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return v, err
}

// KVPut stores the provided value under the supplied key using RLP encoding.
// The key is hashed with keccak256 before it reaches the database.
func (tx *Tx) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	if !tx.writable {
		return errReadOnly
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	k := string(kvKey(key))
	delete(tx.deletes, k)
	tx.writes[k] = encoded
	return nil
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (tx *Tx) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := tx.get(kvKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes the key.
func (tx *Tx) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	if !tx.writable {
		return errReadOnly
	}
	k := string(kvKey(key))
	delete(tx.writes, k)
	tx.deletes[k] = struct{}{}
	return nil
}
