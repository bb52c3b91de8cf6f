package syncagent

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/roach88/napper/internal/ir"
	"github.com/roach88/napper/internal/snapshot"
)

const localSchemaVersion = 1

var builder = sq.StatementBuilder.PlaceholderFormat(sq.Question)

// LocalStore is the device's durable state: the outbound queue, the device
// id and the last snapshot seen.
type LocalStore struct {
	db *sql.DB
}

// Pending is one queued event. LocalSeq doubles as the clientSeq sent to the
// server, so it is never reused, even after the row is flushed.
type Pending struct {
	LocalSeq   int64           `json:"localSeq"`
	Type       ir.EventType    `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
}

type pendingRow struct {
	LocalSeq   int64  `db:"local_seq"`
	Type       string `db:"type"`
	Payload    string `db:"payload"`
	EnqueuedAt string `db:"enqueued_at"`
}

// OpenLocal opens (or creates) the local database at path.
func OpenLocal(path string) (*LocalStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open local database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, p := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=FULL",
	} {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec pragma %q: %w", p, err)
		}
	}

	s := &LocalStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *LocalStore) Close() error {
	return s.db.Close()
}

func (s *LocalStore) migrate() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	if version >= localSchemaVersion {
		return nil
	}

	// AUTOINCREMENT keeps local_seq monotonic across deletes.
	const ddl = `
	CREATE TABLE IF NOT EXISTS queue (
		local_seq   INTEGER PRIMARY KEY AUTOINCREMENT,
		type        TEXT NOT NULL,
		payload     TEXT NOT NULL,
		enqueued_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS cached_state (
		id       INTEGER PRIMARY KEY CHECK (id = 1),
		seq      INTEGER NOT NULL,
		state    TEXT NOT NULL,
		saved_at TEXT NOT NULL
	);`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	_, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", localSchemaVersion))
	return err
}

// DeviceID returns the device's id, generating a UUIDv7 on first use.
func (s *LocalStore) DeviceID(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'device_id'`).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("read device id: %w", err)
	}

	v7, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate device id: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES ('device_id', ?) ON CONFLICT(key) DO NOTHING`, v7.String()); err != nil {
		return "", fmt.Errorf("write device id: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'device_id'`).Scan(&id); err != nil {
		return "", fmt.Errorf("read device id: %w", err)
	}
	return id, nil
}

// Enqueue appends one event to the queue.
func (s *LocalStore) Enqueue(ctx context.Context, typ ir.EventType, payload json.RawMessage, at time.Time) (Pending, error) {
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	if !json.Valid(payload) {
		return Pending{}, fmt.Errorf("enqueue %s: payload is not valid JSON", typ)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO queue (type, payload, enqueued_at) VALUES (?, ?, ?)`,
		string(typ), string(payload), at.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return Pending{}, fmt.Errorf("enqueue %s: %w", typ, err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return Pending{}, fmt.Errorf("enqueue %s: %w", typ, err)
	}
	return Pending{LocalSeq: seq, Type: typ, Payload: payload, EnqueuedAt: at.UTC()}, nil
}

// Pending returns the queue in enqueue order.
func (s *LocalStore) Pending(ctx context.Context) ([]Pending, error) {
	query, args, err := builder.Select("local_seq", "type", "payload", "enqueued_at").
		From("queue").OrderBy("local_seq ASC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var rows []pendingRow
	if err := sqlscan.Select(ctx, s.db, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("read queue: %w", err)
	}

	out := make([]Pending, 0, len(rows))
	for _, r := range rows {
		at, err := time.Parse(time.RFC3339Nano, r.EnqueuedAt)
		if err != nil {
			return nil, fmt.Errorf("queue row %d: %w", r.LocalSeq, err)
		}
		out = append(out, Pending{
			LocalSeq:   r.LocalSeq,
			Type:       ir.EventType(r.Type),
			Payload:    json.RawMessage(r.Payload),
			EnqueuedAt: at,
		})
	}
	return out, nil
}

// PendingCount is the queue length.
func (s *LocalStore) PendingCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count queue: %w", err)
	}
	return n, nil
}

// Remove deletes exactly the given rows. Rows enqueued since they were read
// are untouched.
func (s *LocalStore) Remove(ctx context.Context, seqs []int64) error {
	if len(seqs) == 0 {
		return nil
	}
	query, args, err := builder.Delete("queue").Where(sq.Eq{"local_seq": seqs}).ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("remove flushed: %w", err)
	}
	return nil
}

// SaveState caches snap unless a newer one is already cached.
func (s *LocalStore) SaveState(ctx context.Context, snap snapshot.Snapshot, seq int64, at time.Time) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cached_state (id, seq, state, saved_at) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET seq = excluded.seq, state = excluded.state, saved_at = excluded.saved_at
		WHERE excluded.seq >= cached_state.seq`,
		seq, string(data), at.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// CachedState returns the last cached snapshot and its seq. ok is false
// when nothing was ever cached.
func (s *LocalStore) CachedState(ctx context.Context) (snap snapshot.Snapshot, seq int64, ok bool, err error) {
	var data string
	err = s.db.QueryRowContext(ctx, `SELECT seq, state FROM cached_state WHERE id = 1`).Scan(&seq, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return snapshot.Snapshot{}, 0, false, nil
	}
	if err != nil {
		return snapshot.Snapshot{}, 0, false, fmt.Errorf("read cached state: %w", err)
	}
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return snapshot.Snapshot{}, 0, false, fmt.Errorf("decode cached state: %w", err)
	}
	return snap, seq, true, nil
}
