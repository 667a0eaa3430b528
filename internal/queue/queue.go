// Package queue is the durable offline write queue: mirror writes that could
// not reach the document store are parked here and replayed later.
//
// Only this package may open or query the queue database. All other packages
// receive a [*Queue] and call its methods.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS pending_writes (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    collection_path TEXT    NOT NULL,
    document_id     TEXT    NOT NULL,
    data_json       TEXT    NOT NULL,
    queued_at       TEXT    NOT NULL DEFAULT '',
    UNIQUE(collection_path, document_id)
);
`

// PendingWrite is one parked mirror write.
type PendingWrite struct {
	ID         int64
	Collection string
	DocumentID string
	Payload    map[string]any
	QueuedAt   time.Time
	// DecodeErr is set when the stored payload could not be decoded. Such a
	// row can never be replayed successfully but is kept for inspection.
	DecodeErr error
}

// Queue is the SQLite-backed offline write queue.
type Queue struct {
	db  *sql.DB
	now func() time.Time
}

// DefaultDBPath returns the default path for the queue database:
// ~/.local/share/omadamirror/offline_queue.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "omadamirror", "offline_queue.db"), nil
}

// Open opens (or creates) the queue database at path and applies the schema.
func Open(path string) (*Queue, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating queue directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}

	// Single writer to avoid SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Queue{db: db, now: time.Now}, nil
}

// Close releases the underlying database connection.
func (q *Queue) Close() error {
	return q.db.Close()
}

// migrate applies the schema DDL idempotently (CREATE IF NOT EXISTS). Older
// databases without queued_at get the column added.
func migrate(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return err
	}
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('pending_writes') WHERE name = 'queued_at'`).Scan(&n)
	if err != nil {
		return err
	}
	if n == 0 {
		_, err = db.Exec(`ALTER TABLE pending_writes ADD COLUMN queued_at TEXT NOT NULL DEFAULT ''`)
	}
	return err
}

// Enqueue parks a write for (collection, id), replacing any write already
// queued for the same key. The replacement is a single statement, so
// concurrent enqueues for one key never produce duplicate rows.
func (q *Queue) Enqueue(ctx context.Context, collection, id string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding payload for %s/%s: %w", collection, id, err)
	}

	const stmt = `
		INSERT OR REPLACE INTO pending_writes
		    (collection_path, document_id, data_json, queued_at)
		VALUES (?, ?, ?, ?)`
	if _, err := q.db.ExecContext(ctx, stmt, collection, id, string(data), formatTime(q.now())); err != nil {
		return fmt.Errorf("queueing %s/%s: %w", collection, id, err)
	}
	return nil
}

// Drain returns every queued write in insertion order without removing any.
func (q *Queue) Drain(ctx context.Context) ([]PendingWrite, error) {
	const stmt = `
		SELECT id, collection_path, document_id, data_json, queued_at
		FROM pending_writes ORDER BY id`
	rows, err := q.db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("querying pending writes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []PendingWrite
	for rows.Next() {
		pw, err := scanPendingWrite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pw)
	}
	return out, rows.Err()
}

// Remove deletes exactly the given rows in one transaction and returns how
// many were deleted. Ids that no longer exist are ignored.
func (q *Queue) Remove(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning remove: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// SQLite caps bound parameters per statement; delete in chunks.
	const chunk = 500
	var removed int64
	for start := 0; start < len(ids); start += chunk {
		part := ids[start:min(start+chunk, len(ids))]
		args := make([]any, len(part))
		for i, id := range part {
			args[i] = id
		}
		stmt := `DELETE FROM pending_writes WHERE id IN (?` + strings.Repeat(",?", len(part)-1) + `)`
		res, err := tx.ExecContext(ctx, stmt, args...)
		if err != nil {
			return 0, fmt.Errorf("removing pending writes: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("removing pending writes: %w", err)
		}
		removed += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing remove: %w", err)
	}
	return removed, nil
}

// Len returns the number of queued writes.
func (q *Queue) Len(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_writes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting pending writes: %w", err)
	}
	return n, nil
}

// --- helpers -----------------------------------------------------------------

// scanner matches both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanPendingWrite(s scanner) (PendingWrite, error) {
	var pw PendingWrite
	var data, queuedAt string
	if err := s.Scan(&pw.ID, &pw.Collection, &pw.DocumentID, &data, &queuedAt); err != nil {
		return PendingWrite{}, fmt.Errorf("scanning pending write row: %w", err)
	}
	pw.QueuedAt, _ = parseTime(queuedAt)

	if err := json.Unmarshal([]byte(data), &pw.Payload); err != nil {
		pw.DecodeErr = fmt.Errorf("decoding payload: %w", err)
	} else if pw.Payload == nil {
		pw.DecodeErr = errors.New("decoding payload: not a JSON object")
	}
	return pw, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
