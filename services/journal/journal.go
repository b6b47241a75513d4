package journal

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"lukechampine.com/blake3"
	_ "modernc.org/sqlite"

	"janus/core/events"
	"janus/core/types"
	"janus/observability"
)

// MaxListLimit bounds a single List call.
const MaxListLimit = 1000

// ErrChainBroken is returned by Verify when an entry does not hash to the
// recorded value or does not link to its predecessor.
var ErrChainBroken = errors.New("journal: hash chain broken")

// Entry is one committed ledger event.
type Entry struct {
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	Timestamp  int64             `json:"timestamp"`
	PrevHash   string            `json:"prevHash"`
	Hash       string            `json:"hash"`
}

// Journal is an append-only SQLite log of ledger events linked by a BLAKE3
// hash chain. It implements events.Emitter.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	lastSeq  uint64
	lastHash [32]byte
}

// Option customises a Journal.
type Option func(*Journal)

// WithLogger sets the logger used for Emit failures.
func WithLogger(logger *slog.Logger) Option {
	return func(j *Journal) {
		if logger != nil {
			j.logger = logger
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(j *Journal) {
		if now != nil {
			j.now = now
		}
	}
}

// Open creates or reopens the journal stored at path.
func Open(path string, opts ...Option) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	j := &Journal{db: db, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(j)
	}
	if err := j.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) init() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS journal_entries (
            sequence INTEGER PRIMARY KEY,
            type TEXT NOT NULL,
            attributes TEXT NOT NULL,
            timestamp INTEGER NOT NULL,
            prev_hash TEXT NOT NULL,
            hash TEXT NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS journal_entries_type ON journal_entries(type);`,
		`CREATE TABLE IF NOT EXISTS journal_cursors (
            name TEXT PRIMARY KEY,
            value INTEGER NOT NULL
        );`,
	}
	for _, stmt := range schema {
		if _, err := j.db.Exec(stmt); err != nil {
			return err
		}
	}
	var (
		seq  sql.NullInt64
		hash sql.NullString
	)
	row := j.db.QueryRow(`SELECT sequence, hash FROM journal_entries ORDER BY sequence DESC LIMIT 1`)
	if err := row.Scan(&seq, &hash); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if seq.Valid {
		decoded, err := decodeHash(hash.String)
		if err != nil {
			return err
		}
		j.lastSeq = uint64(seq.Int64)
		j.lastHash = decoded
	}
	return nil
}

// Close releases the database handle.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Head returns the sequence and hash of the newest entry.
func (j *Journal) Head() (uint64, string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastSeq, hex.EncodeToString(j.lastHash[:])
}

// Emit implements events.Emitter. Events without a typed payload are ignored.
func (j *Journal) Emit(evt events.Event) {
	payload, ok := events.PayloadOf(evt)
	if !ok {
		return
	}
	if _, err := j.Append(context.Background(), payload); err != nil {
		observability.Journal().RecordFailure("append")
		j.logger.Error("journal append failed", "type", payload.Type, "error", err)
	}
}

// Append stores evt as the next entry of the chain.
func (j *Journal) Append(ctx context.Context, evt *types.Event) (*Entry, error) {
	if evt == nil || evt.Type == "" {
		return nil, fmt.Errorf("journal: event type required")
	}
	attrs := evt.Clone().Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	encoded, err := json.Marshal(attrs)
	if err != nil {
		return nil, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	entry := &Entry{
		Sequence:   j.lastSeq + 1,
		Type:       evt.Type,
		Attributes: attrs,
		Timestamp:  j.now().Unix(),
		PrevHash:   hex.EncodeToString(j.lastHash[:]),
	}
	sum := chainHash(j.lastHash, entry.Sequence, entry.Type, encoded, entry.Timestamp)
	entry.Hash = hex.EncodeToString(sum[:])

	const stmt = `INSERT INTO journal_entries(sequence, type, attributes, timestamp, prev_hash, hash) VALUES(?, ?, ?, ?, ?, ?)`
	if _, err := j.db.ExecContext(ctx, stmt, int64(entry.Sequence), entry.Type, string(encoded), entry.Timestamp, entry.PrevHash, entry.Hash); err != nil {
		return nil, err
	}
	j.lastSeq = entry.Sequence
	j.lastHash = sum
	observability.Journal().RecordAppend(entry.Sequence)
	return entry, nil
}

// List returns up to limit entries with a sequence greater than after.
func (j *Journal) List(ctx context.Context, after uint64, limit int) ([]Entry, error) {
	if limit <= 0 || limit > MaxListLimit {
		limit = MaxListLimit
	}
	const query = `SELECT sequence, type, attributes, timestamp, prev_hash, hash FROM journal_entries WHERE sequence > ? ORDER BY sequence ASC LIMIT ?`
	rows, err := j.db.QueryContext(ctx, query, int64(after), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := make([]Entry, 0)
	for rows.Next() {
		entry, _, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Verify recomputes the whole chain and returns the number of entries checked.
func (j *Journal) Verify(ctx context.Context) (uint64, error) {
	const query = `SELECT sequence, type, attributes, timestamp, prev_hash, hash FROM journal_entries ORDER BY sequence ASC`
	rows, err := j.db.QueryContext(ctx, query)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	var (
		prev     [32]byte
		expected uint64 = 1
		checked  uint64
	)
	for rows.Next() {
		entry, rawAttrs, err := scanEntry(rows)
		if err != nil {
			return checked, err
		}
		if entry.Sequence != expected {
			observability.Journal().RecordFailure("verify")
			return checked, fmt.Errorf("%w: expected sequence %d, found %d", ErrChainBroken, expected, entry.Sequence)
		}
		if entry.PrevHash != hex.EncodeToString(prev[:]) {
			observability.Journal().RecordFailure("verify")
			return checked, fmt.Errorf("%w: entry %d does not link to its predecessor", ErrChainBroken, entry.Sequence)
		}
		sum := chainHash(prev, entry.Sequence, entry.Type, rawAttrs, entry.Timestamp)
		if hex.EncodeToString(sum[:]) != entry.Hash {
			observability.Journal().RecordFailure("verify")
			return checked, fmt.Errorf("%w: entry %d hash mismatch", ErrChainBroken, entry.Sequence)
		}
		prev = sum
		expected++
		checked++
	}
	return checked, rows.Err()
}

// Cursor returns the last sequence processed by the named consumer.
func (j *Journal) Cursor(ctx context.Context, name string) (uint64, error) {
	var value int64
	err := j.db.QueryRowContext(ctx, `SELECT value FROM journal_cursors WHERE name = ?`, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return uint64(value), nil
}

// SaveCursor records the last sequence processed by the named consumer.
func (j *Journal) SaveCursor(ctx context.Context, name string, sequence uint64) error {
	if name == "" {
		return fmt.Errorf("journal: cursor name required")
	}
	const stmt = `INSERT INTO journal_cursors(name, value) VALUES(?, ?) ON CONFLICT(name) DO UPDATE SET value = excluded.value`
	_, err := j.db.ExecContext(ctx, stmt, name, int64(sequence))
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, []byte, error) {
	var (
		entry Entry
		seq   int64
		attrs string
	)
	if err := row.Scan(&seq, &entry.Type, &attrs, &entry.Timestamp, &entry.PrevHash, &entry.Hash); err != nil {
		return Entry{}, nil, err
	}
	entry.Sequence = uint64(seq)
	if err := json.Unmarshal([]byte(attrs), &entry.Attributes); err != nil {
		return Entry{}, nil, fmt.Errorf("journal: decode entry %d: %w", seq, err)
	}
	return entry, []byte(attrs), nil
}

func chainHash(prev [32]byte, seq uint64, eventType string, attrs []byte, timestamp int64) [32]byte {
	buf := make([]byte, 0, len(prev)+8+len(eventType)+1+len(attrs)+8)
	buf = append(buf, prev[:]...)
	buf = binary.BigEndian.AppendUint64(buf, seq)
	buf = append(buf, eventType...)
	buf = append(buf, 0)
	buf = append(buf, attrs...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(timestamp))
	return blake3.Sum256(buf)
}

func decodeHash(s string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != len(out) {
		return out, fmt.Errorf("journal: malformed stored hash %q", s)
	}
	copy(out[:], raw)
	return out, nil
}
