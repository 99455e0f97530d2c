// Package pgstore provides a PostgreSQL implementation of triage.Journal.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/ambient/internal/postgres"
	"github.com/linnemanlabs/ambient/internal/triage"
)

var tracer = otel.Tracer("github.com/linnemanlabs/ambient/internal/triage/pgstore")

//go:embed schema.sql
var schema string

// Store persists the capture journal in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to PostgreSQL, applies the schema, and returns a ready Store.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

const entryColumns = `id, source, app_name, status, remote_id, error, chars, created_at, completed_at, duration_s`

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Get retrieves a journal entry by capture ID.
func (s *Store) Get(ctx context.Context, id string) (*triage.Entry, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Get", "SELECT")
	defer span.End()

	query := `SELECT ` + entryColumns + ` FROM capture_journal WHERE id = $1`
	e, err := scanEntry(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		fail(span, err)
		return nil, false, err
	}
	if e == nil {
		return nil, false, nil
	}
	return e, true, nil
}

// Put inserts or updates a journal entry.
func (s *Store) Put(ctx context.Context, e *triage.Entry) error {
	ctx, span := startSpan(ctx, "pgstore.Put", "UPSERT")
	defer span.End()

	var completedAt *time.Time
	if !e.CompletedAt.IsZero() {
		completedAt = &e.CompletedAt
	}

	query := `INSERT INTO capture_journal (` + entryColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	ON CONFLICT (id) DO UPDATE SET
		status       = EXCLUDED.status,
		remote_id    = EXCLUDED.remote_id,
		error        = EXCLUDED.error,
		completed_at = EXCLUDED.completed_at,
		duration_s   = EXCLUDED.duration_s`

	_, err := s.pool.Exec(ctx, query,
		e.ID, string(e.Source), e.App, string(e.Status), e.RemoteID, e.Error,
		e.Chars, e.CreatedAt, completedAt, e.Duration,
	)
	if err != nil {
		err = fmt.Errorf("upsert entry: %w", err)
		fail(span, err)
		return err
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]*triage.Entry, error) {
	ctx, span := startSpan(ctx, "pgstore.Recent", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM capture_journal ORDER BY created_at DESC, id DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		err = fmt.Errorf("query recent: %w", err)
		fail(span, err)
		return nil, err
	}
	defer rows.Close()

	var out []*triage.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			fail(span, err)
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		err = fmt.Errorf("iterate entries: %w", err)
		fail(span, err)
		return nil, err
	}
	return out, nil
}

// scanEntry scans a single row. Returns (nil, nil) when no row is found.
func scanEntry(row pgx.Row) (*triage.Entry, error) {
	var (
		e           triage.Entry
		source      string
		status      string
		completedAt *time.Time
	)
	err := row.Scan(
		&e.ID, &source, &e.App, &status, &e.RemoteID, &e.Error,
		&e.Chars, &e.CreatedAt, &completedAt, &e.Duration,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan: %w", err)
	}
	e.Source = triage.SourceKind(source)
	e.Status = triage.EntryStatus(status)
	if completedAt != nil {
		e.CompletedAt = *completedAt
	}
	return &e, nil
}
