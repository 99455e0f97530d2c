// Package sqlitestore provides a local SQLite implementation of
// triage.Journal, the default when no PostgreSQL URL is configured.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/linnemanlabs/ambient/internal/triage"
)

// schemaVersion is the latest schema version. Bump it when adding migrations.
const schemaVersion = 1

// Store persists the capture journal in a single SQLite file.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the journal database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	// best-effort, the file exists after the first migration
	_ = os.Chmod(path, 0o600)

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func migrate(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version;").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}

	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS capture_journal (
		  id            TEXT PRIMARY KEY,
		  source        TEXT NOT NULL,
		  app_name      TEXT NOT NULL DEFAULT '',
		  status        TEXT NOT NULL,
		  remote_id     TEXT NOT NULL DEFAULT '',
		  error         TEXT NOT NULL DEFAULT '',
		  chars         INTEGER NOT NULL DEFAULT 0,
		  created_at    INTEGER NOT NULL,
		  completed_at  INTEGER,
		  duration_s    REAL NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_capture_journal_created
		ON capture_journal(created_at DESC);
		`
		if _, err := db.ExecContext(ctx, schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
	}

	if version < schemaVersion {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version=%d", schemaVersion)); err != nil {
			return fmt.Errorf("set user_version: %w", err)
		}
	}
	return nil
}

const entryColumns = `id, source, app_name, status, remote_id, error, chars, created_at, completed_at, duration_s`

// Get retrieves a journal entry by capture ID.
func (s *Store) Get(ctx context.Context, id string) (*triage.Entry, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM capture_journal WHERE id = ?`, id)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return e, true, nil
}

// Put inserts or updates a journal entry.
func (s *Store) Put(ctx context.Context, e *triage.Entry) error {
	var completedAt sql.NullInt64
	if !e.CompletedAt.IsZero() {
		completedAt = sql.NullInt64{Int64: e.CompletedAt.UnixMilli(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO capture_journal (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		  status       = excluded.status,
		  remote_id    = excluded.remote_id,
		  error        = excluded.error,
		  completed_at = excluded.completed_at,
		  duration_s   = excluded.duration_s`,
		e.ID, string(e.Source), e.App, string(e.Status), e.RemoteID, e.Error,
		e.Chars, e.CreatedAt.UnixMilli(), completedAt, e.Duration,
	)
	if err != nil {
		return fmt.Errorf("upsert entry: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]*triage.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM capture_journal ORDER BY created_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	defer rows.Close()

	var out []*triage.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*triage.Entry, error) {
	var (
		e           triage.Entry
		source      string
		status      string
		createdAt   int64
		completedAt sql.NullInt64
	)
	err := row.Scan(
		&e.ID, &source, &e.App, &status, &e.RemoteID, &e.Error,
		&e.Chars, &createdAt, &completedAt, &e.Duration,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan: %w", err)
	}
	e.Source = triage.SourceKind(source)
	e.Status = triage.EntryStatus(status)
	e.CreatedAt = time.UnixMilli(createdAt)
	if completedAt.Valid {
		e.CompletedAt = time.UnixMilli(completedAt.Int64)
	}
	return &e, nil
}
